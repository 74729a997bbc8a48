package reminder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"remindbot/internal/eventbus"
	"remindbot/pkg/logx"
)

type recorder struct {
	mu    sync.Mutex
	calls []Task
	fail  map[string]error
}

func (r *recorder) Deliver(_ context.Context, _ Handle, t Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, t)
	if err := r.fail[t.Message]; err != nil {
		return err
	}
	return nil
}

func (r *recorder) count(msg string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.Message == msg {
			n++
		}
	}
	return n
}

func sweepN(tk *Ticker, n int) {
	for i := 0; i < n; i++ {
		tk.Sweep(context.Background())
	}
}

func TestOneShotFiresOnceAfterPeriod(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	rec := &recorder{}
	tk := NewTicker(reg, rec)
	h := reg.Add(testTask(20, false))

	sweepN(tk, 19)
	require.Equal(t, 0, rec.count("tea"))
	got, ok := reg.Get(h)
	require.True(t, ok)
	require.Equal(t, 1, got.Remaining)

	res := tk.Sweep(context.Background())
	require.Equal(t, 1, res.Delivered)
	require.Equal(t, 1, res.Removed)
	require.Equal(t, 1, rec.count("tea"))
	_, ok = reg.Get(h)
	require.False(t, ok)

	sweepN(tk, 40)
	require.Equal(t, 1, rec.count("tea"))
}

func TestRepeatingFiresEveryPeriod(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	rec := &recorder{}
	tk := NewTicker(reg, rec)
	h := reg.Add(testTask(20, true))

	var firedAt []int
	for i := 1; i <= 60; i++ {
		if tk.Sweep(context.Background()).Delivered > 0 {
			firedAt = append(firedAt, i)
		}
		got, ok := reg.Get(h)
		require.True(t, ok)
		require.Greater(t, got.Remaining, 0)
		require.LessOrEqual(t, got.Remaining, 20)
	}
	require.Equal(t, []int{20, 40, 60}, firedAt)
	require.EqualValues(t, 3, tk.Stats().Deliveries)
	require.EqualValues(t, 60, tk.Stats().Ticks)
}

func TestFailingDeliveryDoesNotAffectOthers(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	rec := &recorder{fail: map[string]error{"bad": errors.New("missing permissions")}}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()
	tk := NewTicker(reg, rec, WithBus(bus), WithLogger(logx.Nop()))

	bad := testTask(20, false)
	bad.Message = "bad"
	reg.Add(bad)
	reg.Add(testTask(20, false))

	sweepN(tk, 20)
	require.Equal(t, 1, rec.count("bad"))
	require.Equal(t, 1, rec.count("tea"))
	require.Equal(t, 0, reg.Len())

	st := tk.Stats()
	require.EqualValues(t, 1, st.Deliveries)
	require.EqualValues(t, 1, st.DeliveryErrors)

	var failed int
	for len(events) > 0 {
		e := <-events
		if ev, ok := e.Data.(Event); ok && e.Type == eventbus.ReminderDelivered && ev.Error != "" {
			require.Equal(t, "missing permissions", ev.Error)
			failed++
		}
	}
	require.Equal(t, 1, failed)
}

func TestPanickingDelivererIsContained(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	var delivered []string
	tk := NewTicker(reg, DelivererFunc(func(_ context.Context, _ Handle, task Task) error {
		if task.Message == "boom" {
			panic("adapter exploded")
		}
		delivered = append(delivered, task.Message)
		return nil
	}))
	boom := testTask(20, true)
	boom.Message = "boom"
	reg.Add(boom)
	reg.Add(testTask(20, true))

	sweepN(tk, 20)
	require.Equal(t, []string{"tea"}, delivered)
	require.Equal(t, 2, reg.Len())
	require.EqualValues(t, 1, tk.Stats().DeliveryErrors)
}

func TestTaskAddedDuringSweepWaitsForNextTick(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	var late Handle
	first := true
	tk := NewTicker(reg, DelivererFunc(func(context.Context, Handle, Task) error {
		if first {
			first = false
			late = reg.Add(testTask(20, false))
		}
		return nil
	}))
	h := reg.Add(testTask(20, false))
	reg.Mutate(h, func(t *Task) { t.Remaining = 1 })

	tk.Sweep(context.Background())
	got, ok := reg.Get(late)
	require.True(t, ok)
	require.Equal(t, 20, got.Remaining)

	tk.Sweep(context.Background())
	got, _ = reg.Get(late)
	require.Equal(t, 19, got.Remaining)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestRunSleepsRemainderAndStopsBetweenTicks(t *testing.T) {
	t.Parallel()
	clk := &fakeClock{now: time.Unix(1000, 0)}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var sleeps []time.Duration
	sleep := func(_ context.Context, d time.Duration) {
		sleeps = append(sleeps, d)
		clk.Advance(d)
		if len(sleeps) == 5 {
			cancel()
		}
	}
	reg := NewRegistry()
	tk := NewTicker(reg, DelivererFunc(func(context.Context, Handle, Task) error {
		clk.Advance(300 * time.Millisecond)
		return nil
	}), WithClock(clk.Now, sleep))
	reg.Add(testTask(20, true))
	reg.Mutate(reg.Snapshot()[0], func(t *Task) { t.Remaining = 1 })

	require.NoError(t, tk.Run(ctx))
	require.Len(t, sleeps, 5)
	require.Equal(t, 700*time.Millisecond, sleeps[0])
	require.Equal(t, time.Second, sleeps[1])
	require.EqualValues(t, 5, tk.Stats().Ticks)
	require.False(t, tk.Stats().Running)
}

func TestRunOverrunSkipsWaitWithoutCatchUp(t *testing.T) {
	t.Parallel()
	clk := &fakeClock{now: time.Unix(1000, 0)}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()

	calls := 0
	reg := NewRegistry()
	tk := NewTicker(reg, DelivererFunc(func(context.Context, Handle, Task) error {
		clk.Advance(2500 * time.Millisecond)
		calls++
		if calls == 3 {
			cancel()
		}
		return nil
	}), WithBus(bus), WithClock(clk.Now, func(context.Context, time.Duration) {
		t.Error("ticker slept after an overrun")
	}))
	reg.Add(testTask(1, true))

	require.NoError(t, tk.Run(ctx))
	require.Equal(t, 3, calls)
	require.EqualValues(t, 3, tk.Stats().Ticks)
	require.EqualValues(t, 3, tk.Stats().Overruns)

	var overruns int
	for len(events) > 0 {
		if e := <-events; e.Type == eventbus.ReminderOverrun {
			overruns++
		}
	}
	require.Equal(t, 3, overruns)
}

func TestRunRejectsSecondLoop(t *testing.T) {
	t.Parallel()
	tk := NewTicker(NewRegistry(), DelivererFunc(func(context.Context, Handle, Task) error { return nil }))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tk.Run(ctx) }()

	require.Eventually(t, func() bool { return tk.Stats().Running }, time.Second, time.Millisecond)
	require.Error(t, tk.Run(context.Background()))
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("ticker did not stop")
	}
}
