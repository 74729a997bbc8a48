package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	rtsup "remindbot/internal/runtime/supervisor"
	"remindbot/internal/transport"
	"remindbot/pkg/logx"
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	// BoolFlags never consume the following token ("--repeat").
	BoolFlags []string
	Timeout   time.Duration // optional per-command override
	Hidden    bool          // kept out of menus and /help
	Handle    HandlerFunc
}

// Request is one routed interaction.
type Request struct {
	Interaction transport.Interaction
	Command     string

	// Parsed text arguments (empty for option-based platforms).
	Args      []string
	RawArgs   []string
	Flags     map[string]string
	BoolFlags map[string]bool

	ReqID  string
	Logger logx.Logger

	replied atomic.Bool
}

// Reply answers the interaction. It is safe to call more than once.
func (r *Request) Reply(ctx context.Context, text string) error {
	r.replied.Store(true)
	if r.Interaction.Reply == nil {
		return nil
	}
	return r.Interaction.Reply(ctx, text)
}

// Option returns a typed slash-command option, or the zero value.
func Option[T any](r *Request, name string) (T, bool) {
	var zero T
	v, ok := r.Interaction.Options[name]
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

func (r *Request) logger(fallback logx.Logger) logx.Logger {
	if r != nil && !r.Logger.IsZero() {
		return r.Logger
	}
	return fallback
}

type Options struct {
	Workers        int
	QueueSize      int
	DefaultTimeout time.Duration
}

// Router maps interactions to commands and runs them on a bounded worker pool.
type Router struct {
	mu    sync.RWMutex
	cmds  map[string]*Command
	alias map[string]*Command

	log  logx.Logger
	opts Options

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor
	jobs    chan func()
}

func New(log logx.Logger, opts Options) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opts.Workers <= 0 {
		opts.Workers = max(2, runtime.NumCPU())
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 15 * time.Second
	}
	return &Router{
		cmds:  map[string]*Command{},
		alias: map[string]*Command{},
		log:   log,
		opts:  opts,
		jobs:  make(chan func(), opts.QueueSize),
	}
}

// Register adds commands. A later command with the same name replaces the earlier one.
func (m *Router) Register(cmds ...Command) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range cmds {
		name := normalizeName(c.Name)
		if name == "" || c.Handle == nil {
			continue
		}
		cc := c
		cc.Name = name
		m.cmds[name] = &cc
		for _, a := range c.Aliases {
			if a = normalizeName(a); a != "" {
				m.alias[a] = &cc
			}
		}
	}
}

func normalizeName(s string) string {
	s = strings.TrimPrefix(strings.TrimSpace(s), "/")
	// Telegram appends @botname in groups.
	if i := strings.IndexByte(s, '@'); i >= 0 {
		s = s[:i]
	}
	return strings.ToLower(s)
}

func (m *Router) lookup(name string) (Command, bool) {
	name = normalizeName(name)
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.cmds[name]; ok {
		return *c, true
	}
	if c, ok := m.alias[name]; ok {
		return *c, true
	}
	return Command{}, false
}

// Commands returns the visible commands sorted by name.
func (m *Router) Commands() []Command {
	m.mu.RLock()
	out := make([]Command, 0, len(m.cmds))
	for _, c := range m.cmds {
		if !c.Hidden {
			out = append(out, *c)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// MenuCommands converts the visible commands for platform menus.
func (m *Router) MenuCommands() []transport.BotCommand {
	cmds := m.Commands()
	out := make([]transport.BotCommand, 0, len(cmds))
	for _, c := range cmds {
		out = append(out, transport.BotCommand{Command: c.Name, Description: c.Description})
	}
	return out
}

// Supervisor returns the worker supervisor (nil if not running).
func (m *Router) Supervisor() *rtsup.Supervisor {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if !m.running {
		return nil
	}
	return m.sup
}

// tryEnqueue is panic-safe against the jobs channel being closed.
func (m *Router) tryEnqueue(fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	select {
	case m.jobs <- fn:
		return true
	default:
		return false
	}
}

// DispatchLoop routes interactions until ctx is cancelled or in is closed.
func (m *Router) DispatchLoop(ctx context.Context, in <-chan transport.Interaction) error {
	sup := rtsup.New(ctx,
		rtsup.WithLogger(m.log.With(logx.String("comp", "router"))),
		rtsup.WithCancelOnError(false),
	)
	m.runMu.Lock()
	m.sup, m.running = sup, true
	m.runMu.Unlock()

	m.log.Info("command dispatcher started", logx.Int("workers", m.opts.Workers), logx.Int("job_queue_cap", cap(m.jobs)))

	for i := 0; i < m.opts.Workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			return m.worker(c, idx)
		}, rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}

	defer func() {
		m.runMu.Lock()
		m.running = false
		m.runMu.Unlock()
		close(m.jobs)
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case it, ok := <-in:
			if !ok {
				return nil
			}
			m.Dispatch(ctx, it)
		}
	}
}

func (m *Router) worker(ctx context.Context, idx int) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case job, ok := <-m.jobs:
			if !ok {
				return nil
			}
			// middleware already recovers; this keeps the worker alive regardless.
			func() {
				defer func() {
					if r := recover(); r != nil {
						m.log.Error("panic in command job", logx.Int("worker", idx), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
					}
				}()
				job()
			}()
		}
	}
}

// Dispatch resolves the command and enqueues it. Unknown commands get a hint.
func (m *Router) Dispatch(ctx context.Context, it transport.Interaction) {
	cmd, ok := m.lookup(it.Command)
	if !ok {
		if it.Reply != nil {
			_ = it.Reply(ctx, "Unknown command. Try /help")
		}
		return
	}
	req := m.newRequest(it, cmd)
	final := m.wrap(cmd)
	if !m.tryEnqueue(func() { _ = final(ctx, req) }) {
		_ = req.Reply(ctx, "Busy, try again in a moment.")
	}
}

// Handle runs the interaction synchronously on the caller's goroutine.
func (m *Router) Handle(ctx context.Context, it transport.Interaction) error {
	cmd, ok := m.lookup(it.Command)
	if !ok {
		if it.Reply != nil {
			_ = it.Reply(ctx, "Unknown command. Try /help")
		}
		return nil
	}
	return m.wrap(cmd)(ctx, m.newRequest(it, cmd))
}

func (m *Router) wrap(cmd Command) HandlerFunc {
	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = m.opts.DefaultTimeout
	}
	return Chain(
		cmd.Handle,
		MWRequestLog(m.log),
		MWReplyOnError(),
		MWPanicRecover(m.log),
		MWTimeout(timeout),
	)
}

func (m *Router) newRequest(it transport.Interaction, cmd Command) *Request {
	pos, flags, bools := ParseFlags(it.Args, cmd.BoolFlags...)
	rid := newReqID()
	return &Request{
		Interaction: it,
		Command:     cmd.Name,
		Args:        pos,
		RawArgs:     it.Args,
		Flags:       flags,
		BoolFlags:   bools,
		ReqID:       rid,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.String("platform", it.Platform),
			logx.String("chat_id", it.Chat.ChatID),
			logx.String("from_id", it.From.ID),
			logx.String("cmd", cmd.Name),
		),
	}
}
