package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"remindbot/internal/config"
	"remindbot/internal/eventbus"
	"remindbot/internal/reminder"
	"remindbot/internal/storage"
	"remindbot/internal/transport"
	"remindbot/pkg/logx"
)

type fakeAdapter struct {
	mu         sync.Mutex
	out        chan<- transport.Interaction
	deliveries []transport.Delivery
	texts      []string
	menu       []transport.BotCommand
	stopped    bool
}

func (f *fakeAdapter) Name() string { return "fake" }

func (f *fakeAdapter) Start(_ context.Context, out chan<- transport.Interaction) error {
	f.mu.Lock()
	f.out = out
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) Stop(context.Context) error {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) SendText(_ context.Context, to transport.ChatTarget, text string) (transport.MessageRef, error) {
	f.mu.Lock()
	f.texts = append(f.texts, text)
	f.mu.Unlock()
	return transport.MessageRef{Target: to}, nil
}

func (f *fakeAdapter) Deliver(_ context.Context, d transport.Delivery) (transport.MessageRef, error) {
	f.mu.Lock()
	f.deliveries = append(f.deliveries, d)
	f.mu.Unlock()
	return transport.MessageRef{Target: d.To, MessageID: "m1"}, nil
}

func (f *fakeAdapter) UpdateMenuCommands(_ context.Context, cmds []transport.BotCommand) error {
	f.mu.Lock()
	f.menu = append([]transport.BotCommand(nil), cmds...)
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) send(it transport.Interaction) {
	f.mu.Lock()
	out := f.out
	f.mu.Unlock()
	out <- it
}

func (f *fakeAdapter) snapshot() ([]transport.Delivery, []transport.BotCommand, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]transport.Delivery(nil), f.deliveries...), append([]transport.BotCommand(nil), f.menu...), f.stopped
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	p := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestAppRemindEndToEnd(t *testing.T) {
	dir := t.TempDir()
	auditPath := filepath.Join(dir, "audit.jsonl")
	cfgPath := writeConfig(t, dir, `{
  "transport": {"driver": "discord", "token": "test-token"},
  "logging": {"level": "error"},
  "reminders": {"min_seconds": 1, "tick_interval": "10ms"},
  "storage": {"driver": "file", "path": "`+filepath.ToSlash(auditPath)+`"}
}`)

	fake := &fakeAdapter{}
	a, err := New(config.NewManager(cfgPath), Options{
		NewAdapter: func(*config.Config, logx.Logger) (transport.Adapter, error) { return fake, nil },
		Accents:    reminder.FixedAccent(0x336699),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))

	require.Eventually(t, func() bool {
		_, menu, _ := fake.snapshot()
		return len(menu) > 0
	}, 2*time.Second, 5*time.Millisecond)

	replies := make(chan string, 1)
	fake.send(transport.Interaction{
		Platform: "discord",
		Command:  "remind",
		Options:  map[string]any{"seconds": float64(1), "message": "stretch"},
		Chat:     transport.ChatTarget{ChatID: "c1"},
		From:     transport.User{ID: "u1", Username: "ana"},
		Reply: func(_ context.Context, text string) error {
			replies <- text
			return nil
		},
	})

	select {
	case <-replies:
	case <-time.After(2 * time.Second):
		t.Fatal("no acknowledgement")
	}

	require.Eventually(t, func() bool {
		d, _, _ := fake.snapshot()
		return len(d) == 1
	}, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return a.Registry().Len() == 0 }, 2*time.Second, 5*time.Millisecond)

	d, _, _ := fake.snapshot()
	require.Equal(t, "c1", d[0].To.ChatID)
	require.Equal(t, "u1", d[0].Mention.ID)
	require.Contains(t, d[0].Text, "stretch")
	require.Equal(t, 0x336699, d[0].Accent)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	require.NoError(t, a.Stop(stopCtx, StopSignal))
	_, _, stopped := fake.snapshot()
	require.True(t, stopped)

	store, err := storage.Open(storage.Config{Driver: "file", Path: auditPath}, logx.Nop())
	require.NoError(t, err)
	defer store.Close()
	entries, err := store.RecentAudit(context.Background(), 50)
	require.NoError(t, err)
	seen := map[string]bool{}
	for _, e := range entries {
		seen[e.Event] = true
	}
	require.True(t, seen[eventbus.ReminderAdded])
	require.True(t, seen[eventbus.ReminderDelivered])
}

func TestNewRejectsBadConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, `{
  "transport": {"driver": "discord", "token": "x"},
  "storage": {"driver": "file", "path": "a.jsonl", "prune_schedule": "whenever"}
}`)
	called := false
	_, err := New(config.NewManager(cfgPath), Options{
		NewAdapter: func(*config.Config, logx.Logger) (transport.Adapter, error) {
			called = true
			return &fakeAdapter{}, nil
		},
	})
	require.Error(t, err)
	require.False(t, called)
}

func TestNewAdapterFailure(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, `{"transport": {"driver": "telegram", "token": "x"}, "logging": {"level": "error"}}`)
	_, err := New(config.NewManager(cfgPath), Options{
		NewAdapter: func(*config.Config, logx.Logger) (transport.Adapter, error) {
			return nil, errors.New("unauthorized")
		},
	})
	require.EqualError(t, err, "unauthorized")
}

func TestStopBeforeStart(t *testing.T) {
	a := &App{}
	require.NoError(t, a.Stop(context.Background(), StopSignal))
	select {
	case <-a.Done():
	default:
		t.Fatal("Done should be closed before Start")
	}
}

func TestRunStepBoundsSlowStep(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	defer close(release)

	start := time.Now()
	runStep(context.Background(), logx.Nop(), "slow", 20*time.Millisecond, func(c context.Context) error {
		<-release
		return nil
	})
	require.Less(t, time.Since(start), time.Second)

	ran := false
	runStep(context.Background(), logx.Nop(), "quick", time.Second, func(context.Context) error {
		ran = true
		return nil
	})
	require.True(t, ran)
}
