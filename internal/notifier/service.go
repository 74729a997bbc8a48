package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"remindbot/internal/eventbus"
	"remindbot/internal/reminder"
	rtsup "remindbot/internal/runtime/supervisor"
	"remindbot/internal/transport"
	"remindbot/pkg/logx"
)

var (
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
	ErrNoAdapter = errors.New("notifier has no adapter")
)

const (
	defaultWorkers     = 2
	defaultQueueSize   = 512
	defaultRatePerSec  = 5
	DefaultSendTimeout = 10 * time.Second
	defaultHistorySize = 200
)

type job struct {
	id       string
	platform string
	period   int
	repeat   bool

	d transport.Delivery
}

// Service implements the async delivery pipeline: queue + worker pool + rate limit.
//
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log     logx.Logger
	adapter transport.Adapter
	bus     eventbus.Bus

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup
	queue     chan job
	sup       *rtsup.Supervisor

	queued  atomic.Uint64
	sent    atomic.Uint64
	failed  atomic.Uint64
	dropped atomic.Uint64

	hmu     sync.Mutex
	history []HistoryItem
}

var _ reminder.Deliverer = (*Service)(nil)

func New(cfg Config, adapter transport.Adapter, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{adapter: adapter, log: log, bus: bus}
	s.applyLocked(cfg)
	return s
}

// Apply updates the rate limit and history size immediately. Worker count and
// queue size take effect on the next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = defaultRatePerSec
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = defaultHistorySize
	}
	s.cfg = cfg
	// Burst = rate per sec so short spikes don't block too hard.
	if s.limiter == nil {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
		return
	}
	s.limiter.SetLimit(rate.Limit(cfg.RatePerSec))
	s.limiter.SetBurst(cfg.RatePerSec)
}

// Start is idempotent.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.queue != nil {
		s.mu.Unlock()
		return
	}
	s.queue = make(chan job, s.cfg.QueueSize)
	s.accepting = true
	// Workers outlive the run context so Stop can drain what the last sweep queued.
	s.sup = rtsup.New(context.WithoutCancel(ctx),
		rtsup.WithLogger(s.log.With(logx.String("comp", "notifier"))),
		// send failures are per-message; they must not take down the app.
		rtsup.WithCancelOnError(false),
	)
	q, sup, workers := s.queue, s.sup, s.cfg.Workers
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			return s.workerLoop(c, q)
		})
	}
	s.log.Info("notifier started", logx.Int("workers", workers))
}

// Stop stops intake and drains the queue until ctx expires. Jobs still
// queued after that are counted as dropped and reported as failed.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	q, sup := s.queue, s.sup
	if q == nil || !s.accepting {
		s.mu.Unlock()
		return nil
	}
	s.accepting = false
	s.mu.Unlock()

	s.sendWG.Wait()
	close(q)
	err := sup.Wait(ctx)
	if err != nil {
		s.log.Warn("notifier stop timed out", logx.Int("pending", len(q)), logx.Err(err))
		sup.Cancel()
		for j := range q {
			s.dropped.Add(1)
			s.log.Warn("delivery dropped at shutdown",
				logx.String("reminder_id", j.id),
				logx.String("chat_id", j.d.To.ChatID),
			)
			s.appendHistory(j, ErrStopped)
			s.publish(eventbus.NotifierFailed, j, 0, ErrStopped)
		}
		wctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = sup.Wait(wctx)
		cancel()
	}

	s.mu.Lock()
	s.queue = nil
	s.sup = nil
	s.mu.Unlock()
	return err
}

// Supervisor returns the worker supervisor (nil if not started).
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

// Render turns a due task into the platform-neutral message.
func Render(t reminder.Task) transport.Delivery {
	return transport.Delivery{
		To:      t.Destination,
		ReplyTo: t.Origin,
		Mention: t.Owner,
		Title:   "Reminder",
		Text:    t.Message,
		Footer:  fmt.Sprintf("after %ds", t.Period),
		Accent:  t.Accent.Int(),
	}
}

// Deliver enqueues a due reminder without waiting for the send.
func (s *Service) Deliver(ctx context.Context, id reminder.Handle, t reminder.Task) error {
	return s.enqueue(ctx, job{
		id:       id.String(),
		platform: t.Platform,
		period:   t.Period,
		repeat:   t.Repeat,
		d:        Render(t),
	})
}

func (s *Service) enqueue(ctx context.Context, j job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	select {
	case q <- j:
		s.queued.Add(1)
		return nil
	default:
		s.dropped.Add(1)
		s.publish(eventbus.NotifierFailed, j, 0, ErrQueueFull)
		return ErrQueueFull
	}
}

func (s *Service) workerLoop(ctx context.Context, q <-chan job) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case j, ok := <-q:
			if !ok {
				return nil
			}
			s.send(ctx, j)
		}
	}
}

func (s *Service) send(runCtx context.Context, j job) {
	s.mu.Lock()
	lim, ad, timeout := s.limiter, s.adapter, s.cfg.SendTimeout
	s.mu.Unlock()

	start := time.Now()
	err := lim.Wait(runCtx)
	switch {
	case err != nil:
		err = fmt.Errorf("rate limit wait: %w", err)
	case ad == nil:
		err = ErrNoAdapter
	default:
		callCtx, cancel := context.WithTimeout(runCtx, timeout)
		_, err = ad.Deliver(callCtx, j.d)
		cancel()
	}
	took := time.Since(start)
	s.appendHistory(j, err)

	if err != nil {
		s.failed.Add(1)
		s.log.Warn("send failed",
			logx.String("reminder_id", j.id),
			logx.String("chat_id", j.d.To.ChatID),
			logx.String("error", err.Error()),
		)
		s.publish(eventbus.NotifierFailed, j, took, err)
		return
	}
	s.sent.Add(1)
	s.log.Debug("sent", logx.String("reminder_id", j.id), logx.String("chat_id", j.d.To.ChatID), logx.Duration("took", took))
	s.publish(eventbus.NotifierSent, j, took, nil)
}

func (s *Service) publish(typ string, j job, took time.Duration, err error) {
	if s.bus == nil {
		return
	}
	ev := SendEvent{
		ReminderID: j.id,
		Platform:   j.platform,
		ChatID:     j.d.To.ChatID,
		ThreadID:   j.d.To.ThreadID,
		UserID:     j.d.Mention.ID,
		Period:     j.period,
		Repeat:     j.repeat,
		Took:       took,
		At:         time.Now(),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	eventbus.Publish(s.bus, typ, ev)
}

func (s *Service) appendHistory(j job, err error) {
	item := HistoryItem{At: time.Now(), ReminderID: j.id, ChatID: j.d.To.ChatID, Text: j.d.Text}
	if err != nil {
		item.Error = err.Error()
	}
	s.mu.Lock()
	limit := s.cfg.HistorySize
	s.mu.Unlock()

	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > limit {
		s.history = s.history[len(s.history)-limit:]
	}
	s.hmu.Unlock()
}

// History returns recent sends, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) Stats() Stats {
	st := Stats{
		Queued:  s.queued.Load(),
		Sent:    s.sent.Load(),
		Failed:  s.failed.Load(),
		Dropped: s.dropped.Load(),
	}
	s.mu.Lock()
	if s.queue != nil {
		st.Pending = len(s.queue)
	}
	s.mu.Unlock()
	return st
}
