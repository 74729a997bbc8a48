package reminder

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"remindbot/internal/eventbus"
	"remindbot/pkg/logx"
)

// DefaultInterval is one tick. Task countdowns are expressed in ticks.
const DefaultInterval = time.Second

// Deliverer hands a due task to the outside world. Errors are logged and
// counted; they never affect the schedule.
type Deliverer interface {
	Deliver(ctx context.Context, id Handle, t Task) error
}

// DelivererFunc adapts a function to Deliverer.
type DelivererFunc func(ctx context.Context, id Handle, t Task) error

func (f DelivererFunc) Deliver(ctx context.Context, id Handle, t Task) error { return f(ctx, id, t) }

// SweepResult summarises one sweep.
type SweepResult struct {
	Visited   int
	Delivered int
	Failed    int
	Removed   int
	Elapsed   time.Duration
}

// Stats are cumulative ticker counters.
type Stats struct {
	Ticks          uint64        `json:"ticks"`
	Deliveries     uint64        `json:"deliveries"`
	DeliveryErrors uint64        `json:"delivery_errors"`
	Overruns       uint64        `json:"overruns"`
	LastSweep      time.Duration `json:"last_sweep"`
	LastTick       time.Time     `json:"last_tick"`
	Running        bool          `json:"running"`
}

type TickerOption func(*Ticker)

func WithInterval(d time.Duration) TickerOption {
	return func(t *Ticker) {
		if d > 0 {
			t.interval = d
		}
	}
}

func WithLogger(log logx.Logger) TickerOption {
	return func(t *Ticker) {
		if !log.IsZero() {
			t.log = log
		}
	}
}

func WithBus(bus eventbus.Bus) TickerOption {
	return func(t *Ticker) { t.bus = bus }
}

// WithClock replaces the wall clock and the inter-tick sleep, for tests.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration)) TickerOption {
	return func(t *Ticker) {
		if now != nil {
			t.now = now
		}
		if sleep != nil {
			t.sleep = sleep
		}
	}
}

// Ticker is the single consumer of the registry's countdowns.
type Ticker struct {
	reg      *Registry
	out      Deliverer
	interval time.Duration
	log      logx.Logger
	bus      eventbus.Bus
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration)

	sweepMu sync.Mutex

	running    atomic.Bool
	ticks      atomic.Uint64
	deliveries atomic.Uint64
	errors     atomic.Uint64
	overruns   atomic.Uint64
	lastSweep  atomic.Int64
	lastTick   atomic.Int64
}

func NewTicker(reg *Registry, out Deliverer, opts ...TickerOption) *Ticker {
	t := &Ticker{
		reg:      reg,
		out:      out,
		interval: DefaultInterval,
		log:      logx.Nop(),
		now:      time.Now,
		sleep:    sleepCtx,
	}
	for _, o := range opts {
		if o != nil {
			o(t)
		}
	}
	return t
}

func sleepCtx(ctx context.Context, d time.Duration) {
	tm := time.NewTimer(d)
	defer tm.Stop()
	select {
	case <-ctx.Done():
	case <-tm.C:
	}
}

func (t *Ticker) Interval() time.Duration { return t.interval }

// Run ticks until ctx is cancelled. Cancellation is observed between ticks;
// a sweep that has started always completes.
func (t *Ticker) Run(ctx context.Context) error {
	if !t.running.CompareAndSwap(false, true) {
		return fmt.Errorf("reminder: ticker already running")
	}
	defer t.running.Store(false)

	t.log.Info("ticker started", logx.Duration("interval", t.interval))
	defer t.log.Info("ticker stopped", logx.Uint64("ticks", t.ticks.Load()))

	sweepCtx := context.WithoutCancel(ctx)
	for {
		if ctx.Err() != nil {
			return nil
		}
		res := t.Sweep(sweepCtx)
		if res.Elapsed >= t.interval {
			n := t.overruns.Add(1)
			behind := res.Elapsed - t.interval
			t.log.Warn("can't keep up, skipping the wait",
				logx.Duration("elapsed", res.Elapsed),
				logx.Duration("behind", behind),
				logx.Uint64("overruns", n),
			)
			eventbus.Publish(t.bus, eventbus.ReminderOverrun, Event{Elapsed: res.Elapsed})
			continue
		}
		t.sleep(ctx, t.interval-res.Elapsed)
	}
}

// Sweep runs exactly one tick over a snapshot of the registry.
//
// Each task's countdown is decremented. A task reaching zero is delivered;
// repeating tasks are re-armed to their period and one-shot tasks are
// removed after every task has been visited.
func (t *Ticker) Sweep(ctx context.Context) SweepResult {
	t.sweepMu.Lock()
	defer t.sweepMu.Unlock()

	start := t.now()
	var res SweepResult
	var retire []Handle

	for _, h := range t.reg.Snapshot() {
		due := false
		task, ok := t.reg.Mutate(h, func(task *Task) {
			if task.Remaining > 0 {
				task.Remaining--
			}
			if task.Remaining == 0 {
				due = true
				if task.Repeat {
					task.Remaining = task.Period
				}
			}
		})
		if !ok {
			continue
		}
		res.Visited++
		if !due {
			continue
		}
		if !task.Repeat {
			retire = append(retire, h)
		}
		if err := t.deliver(ctx, h, task); err != nil {
			res.Failed++
			continue
		}
		res.Delivered++
	}

	if len(retire) > 0 {
		res.Removed = t.reg.Remove(retire...)
		for _, h := range retire {
			eventbus.Publish(t.bus, eventbus.ReminderRemoved, Event{ID: h})
		}
	}

	res.Elapsed = t.now().Sub(start)
	t.ticks.Add(1)
	t.lastSweep.Store(int64(res.Elapsed))
	t.lastTick.Store(start.UnixNano())
	if res.Delivered > 0 || res.Failed > 0 {
		t.log.Debug("sweep",
			logx.Int("visited", res.Visited),
			logx.Int("delivered", res.Delivered),
			logx.Int("failed", res.Failed),
			logx.Int("removed", res.Removed),
			logx.Duration("elapsed", res.Elapsed),
		)
	}
	return res
}

func (t *Ticker) deliver(ctx context.Context, h Handle, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("deliver panic: %v", r)
		}
		if err != nil {
			t.errors.Add(1)
			t.log.Warn("reminder delivery failed",
				logx.String("id", h.String()),
				logx.String("chat_id", task.Destination.ChatID),
				logx.String("error", err.Error()),
			)
			eventbus.Publish(t.bus, eventbus.ReminderDelivered, Event{ID: h, Task: task, Error: err.Error()})
			return
		}
		t.deliveries.Add(1)
		eventbus.Publish(t.bus, eventbus.ReminderDelivered, Event{ID: h, Task: task})
	}()
	if t.out == nil {
		return fmt.Errorf("reminder: no deliverer")
	}
	return t.out.Deliver(ctx, h, task)
}

func (t *Ticker) Stats() Stats {
	s := Stats{
		Ticks:          t.ticks.Load(),
		Deliveries:     t.deliveries.Load(),
		DeliveryErrors: t.errors.Load(),
		Overruns:       t.overruns.Load(),
		LastSweep:      time.Duration(t.lastSweep.Load()),
		Running:        t.running.Load(),
	}
	if ns := t.lastTick.Load(); ns != 0 {
		s.LastTick = time.Unix(0, ns)
	}
	return s
}
