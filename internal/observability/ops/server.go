// Package ops serves the optional operator HTTP endpoint: liveness, scheduler
// and notifier counters, pending reminders, recent sends, recent audit
// entries and pprof.
//
// Security:
//   - Binds to localhost by default.
//   - A non-loopback address needs Token or AllowInsecure.
package ops

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"remindbot/internal/notifier"
	"remindbot/internal/reminder"
	rtsup "remindbot/internal/runtime/supervisor"
	"remindbot/internal/storage"
	"remindbot/pkg/logx"
)

const DefaultAddr = "127.0.0.1:6060"

type Config struct {
	Enabled       bool
	Addr          string
	Token         string
	AllowInsecure bool
	Pprof         bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Sources are the read-only views the endpoints render. Nil members are skipped.
type Sources struct {
	Registry    *reminder.Registry
	Ticker      interface{ Stats() reminder.Stats }
	Notifier    interface{ Stats() notifier.Stats }
	Deliveries  func() []notifier.HistoryItem
	Audit       storage.Store
	Supervisors func() map[string]rtsup.Counters
	Started     time.Time
}

type Status struct {
	Uptime      string                    `json:"uptime"`
	Pending     int                       `json:"pending"`
	Ticker      *reminder.Stats           `json:"ticker,omitempty"`
	Notifier    *notifier.Stats           `json:"notifier,omitempty"`
	Supervisors map[string]rtsup.Counters `json:"supervisors,omitempty"`
}

// ReminderView is the public shape of a pending reminder.
type ReminderView struct {
	ID        string `json:"id"`
	Platform  string `json:"platform"`
	ChatID    string `json:"chat_id"`
	OwnerID   string `json:"owner_id"`
	Message   string `json:"message"`
	Remaining int    `json:"remaining"`
	Period    int    `json:"period"`
	Repeat    bool   `json:"repeat"`
	Accent    string `json:"accent"`
}

// NewHandler builds the router. It is separate from Service so tests can use httptest.
func NewHandler(cfg Config, src Sources, log logx.Logger) http.Handler {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, requestLog(log), middleware.Recoverer)
	r.Use(bearerAuth(cfg.Token))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, src.status(time.Now()))
	})
	r.Get("/reminders", func(w http.ResponseWriter, req *http.Request) {
		if src.Registry == nil {
			writeJSON(w, http.StatusOK, []ReminderView{})
			return
		}
		chat := req.URL.Query().Get("chat")
		var keep func(reminder.Task) bool
		if chat != "" {
			keep = func(t reminder.Task) bool { return t.Destination.ChatID == chat }
		}
		list := src.Registry.List(keep)
		out := make([]ReminderView, 0, len(list))
		for _, e := range list {
			out = append(out, ReminderView{
				ID:        e.ID.String(),
				Platform:  e.Task.Platform,
				ChatID:    e.Task.Destination.ChatID,
				OwnerID:   e.Task.Owner.ID,
				Message:   e.Task.Message,
				Remaining: e.Task.Remaining,
				Period:    e.Task.Period,
				Repeat:    e.Task.Repeat,
				Accent:    e.Task.Accent.String(),
			})
		}
		writeJSON(w, http.StatusOK, out)
	})
	r.Get("/deliveries", func(w http.ResponseWriter, req *http.Request) {
		limit, ok := queryLimit(w, req)
		if !ok {
			return
		}
		out := []notifier.HistoryItem{}
		if src.Deliveries != nil {
			h := src.Deliveries()
			// newest first
			for i := len(h) - 1; i >= 0 && len(out) < limit; i-- {
				out = append(out, h[i])
			}
		}
		writeJSON(w, http.StatusOK, out)
	})
	r.Get("/audit", func(w http.ResponseWriter, req *http.Request) {
		if src.Audit == nil {
			http.Error(w, "storage disabled", http.StatusNotFound)
			return
		}
		limit, ok := queryLimit(w, req)
		if !ok {
			return
		}
		entries, err := src.Audit.RecentAudit(req.Context(), limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, entries)
	})
	if cfg.Pprof {
		r.Mount("/debug", middleware.Profiler())
	}
	return r
}

// queryLimit reads ?limit= (default 50, capped at 1000). It writes a 400 and
// reports false on a bad value.
func queryLimit(w http.ResponseWriter, req *http.Request) (int, bool) {
	s := req.URL.Query().Get("limit")
	if s == "" {
		return 50, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		http.Error(w, "bad limit", http.StatusBadRequest)
		return 0, false
	}
	return min(n, 1000), true
}

func (src Sources) status(now time.Time) Status {
	st := Status{}
	if !src.Started.IsZero() {
		st.Uptime = now.Sub(src.Started).Truncate(time.Second).String()
	}
	if src.Registry != nil {
		st.Pending = src.Registry.Len()
	}
	if src.Ticker != nil {
		ts := src.Ticker.Stats()
		st.Ticker = &ts
	}
	if src.Notifier != nil {
		ns := src.Notifier.Stats()
		st.Notifier = &ns
	}
	if src.Supervisors != nil {
		st.Supervisors = src.Supervisors()
	}
	return st
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func requestLog(log logx.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("ops request",
				logx.String("rid", middleware.GetReqID(r.Context())),
				logx.String("method", r.Method),
				logx.String("path", r.URL.Path),
				logx.Int("status", ww.Status()),
				logx.Duration("took", time.Since(start)),
			)
		})
	}
}

// bearerAuth accepts "Authorization: Bearer <token>" or ?token=<token>.
func bearerAuth(token string) func(http.Handler) http.Handler {
	tok := strings.TrimSpace(token)
	return func(next http.Handler) http.Handler {
		if tok == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if got := r.URL.Query().Get("token"); got != "" {
				if tokenEqual(got, tok) {
					next.ServeHTTP(w, r)
					return
				}
				unauthorized(w)
				return
			}
			const p = "Bearer "
			if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, p) && tokenEqual(strings.TrimSpace(strings.TrimPrefix(ah, p)), tok) {
				next.ServeHTTP(w, r)
				return
			}
			unauthorized(w)
		})
	}
}

func tokenEqual(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

// Service runs the handler under a supervisor so the listener self-heals.
type Service struct {
	mu  sync.Mutex
	cfg Config
	src Sources
	log logx.Logger

	srv  *http.Server
	addr string
	sup  *rtsup.Supervisor
}

func New(cfg Config, src Sources, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, src: src, log: log.With(logx.String("comp", "ops"))}
}

// Addr returns the bound address while serving.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

// Start is idempotent and a no-op when the endpoint is disabled.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil || !s.cfg.Enabled {
		return
	}
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log),
		// optional observability; never take the bot down.
		rtsup.WithCancelOnError(false),
	)
	s.sup.GoRestart("http.serve", s.serveOnce, rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	sup, srv := s.sup, s.srv
	s.sup, s.srv = nil, nil
	s.mu.Unlock()
	if sup == nil {
		return
	}
	sup.Cancel()
	if srv != nil {
		_ = srv.Shutdown(ctx)
	}
	if err := sup.Wait(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn("ops stop timed out", logx.String("error", err.Error()))
	}
	s.log.Info("ops stopped")
}

func (s *Service) serveOnce(ctx context.Context) error {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		addr = DefaultAddr
	}
	if !cfg.AllowInsecure && cfg.Token == "" && !IsLoopbackAddr(addr) {
		s.log.Error("ops refused to start: non-loopback addr requires token or allow_insecure", logx.String("addr", addr))
		<-ctx.Done()
		return nil
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	srv := &http.Server{
		Handler:      NewHandler(cfg, s.src, s.log),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	s.mu.Lock()
	s.srv = srv
	s.addr = ln.Addr().String()
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(cctx)
		cancel()
	}()

	s.log.Info("ops started", logx.String("addr", ln.Addr().String()), logx.Bool("token_set", cfg.Token != ""), logx.Bool("pprof", cfg.Pprof))
	err = srv.Serve(ln)

	s.mu.Lock()
	if s.srv == srv {
		s.srv = nil
	}
	s.addr = ""
	s.mu.Unlock()

	if ctx.Err() != nil {
		return nil
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("ops server exited unexpectedly")
	}
	return err
}

// IsLoopbackAddr reports whether host:port binds only to loopback.
func IsLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
