package sdnotify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"remindbot/pkg/logx"
)

type recorder struct {
	mu     sync.Mutex
	states []string
}

func (r *recorder) notify(state string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
	return true, nil
}

func (r *recorder) count(state string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.states {
		if s == state {
			n++
		}
	}
	return n
}

func testNotifier(rec *recorder, wd time.Duration, wdErr error) *Notifier {
	n := New(logx.Nop())
	n.notify = rec.notify
	n.watchdog = func() (time.Duration, error) { return wd, wdErr }
	return n
}

func TestStates(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	n := testNotifier(rec, 0, nil)
	require.True(t, n.Ready())
	require.True(t, n.Status("3 pending"))
	require.True(t, n.Stopping())
	require.Equal(t, []string{"READY=1", "STATUS=3 pending", "STOPPING=1"}, rec.states)

	failing := New(logx.Nop())
	failing.notify = func(string) (bool, error) { return false, errors.New("socket gone") }
	require.False(t, failing.Ready())
}

func TestWatchdogDisabledReturns(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	require.NoError(t, testNotifier(rec, 0, nil).RunWatchdog(context.Background(), nil, nil))
	require.NoError(t, testNotifier(rec, 0, errors.New("bad WATCHDOG_USEC")).RunWatchdog(context.Background(), nil, nil))
	require.Empty(t, rec.states)
}

func TestWatchdogPingsOnlyWhileHealthy(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	n := testNotifier(rec, 20*time.Millisecond, nil)

	var mu sync.Mutex
	healthy := true
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = n.RunWatchdog(ctx, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return healthy
		}, nil)
	}()

	require.Eventually(t, func() bool { return rec.count("WATCHDOG=1") >= 2 }, 2*time.Second, 5*time.Millisecond)
	mu.Lock()
	healthy = false
	mu.Unlock()
	time.Sleep(30 * time.Millisecond)
	before := rec.count("WATCHDOG=1")
	time.Sleep(60 * time.Millisecond)
	require.Equal(t, before, rec.count("WATCHDOG=1"))

	cancel()
	<-done
}

func TestFreshWithin(t *testing.T) {
	t.Parallel()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := base
	var last time.Time
	ok := FreshWithin(func() time.Time { return last }, 5*time.Second, 30*time.Second, func() time.Time { return now })

	require.True(t, ok())
	now = base.Add(31 * time.Second)
	require.False(t, ok())

	last = now.Add(-time.Second)
	require.True(t, ok())
	now = now.Add(10 * time.Second)
	require.False(t, ok())
}

func TestWatchdogRefreshesStatusOnChange(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	n := testNotifier(rec, 20*time.Millisecond, nil)

	var mu sync.Mutex
	line := "0 pending"
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = n.RunWatchdog(ctx, nil, func() string {
			mu.Lock()
			defer mu.Unlock()
			return line
		})
	}()

	require.Eventually(t, func() bool { return rec.count("WATCHDOG=1") >= 3 }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, 1, rec.count("STATUS=0 pending"))
	mu.Lock()
	line = "2 pending"
	mu.Unlock()
	require.Eventually(t, func() bool { return rec.count("STATUS=2 pending") == 1 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	<-done
	require.Equal(t, 1, rec.count("STATUS=2 pending"))
}
