package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"remindbot/internal/eventbus"
	"remindbot/internal/notifier"
	"remindbot/internal/reminder"
	"remindbot/internal/storage"
	"remindbot/internal/transport"
	"remindbot/pkg/logx"
)

func TestAuditEntry(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	got, ok := auditEntry(eventbus.Event{Type: eventbus.ReminderAdded, Time: at, Data: reminder.Event{
		ID: id,
		Task: reminder.Task{
			Destination: transport.ChatTarget{ChatID: "c1"},
			Owner:       transport.User{ID: "u1"},
			Period:      30,
			Repeat:      true,
			Platform:    "discord",
		},
	}})
	require.True(t, ok)
	require.Equal(t, storage.AuditEntry{
		At: at, Event: eventbus.ReminderAdded, ReminderID: id.String(),
		Platform: "discord", ChatID: "c1", UserID: "u1", Period: 30, Repeat: true,
	}, got)

	// overrun events carry no task
	got, ok = auditEntry(eventbus.Event{Type: eventbus.ReminderOverrun, Data: reminder.Event{Elapsed: time.Second}})
	require.True(t, ok)
	require.Empty(t, got.ReminderID)
	require.False(t, got.At.IsZero())

	got, ok = auditEntry(eventbus.Event{Type: eventbus.NotifierFailed, Time: at, Data: notifier.SendEvent{
		ReminderID: "r1", Platform: "telegram", ChatID: "42", Error: "forbidden",
	}})
	require.True(t, ok)
	require.Equal(t, "forbidden", got.Error)
	require.Equal(t, "42", got.ChatID)

	_, ok = auditEntry(eventbus.Event{Type: "other", Data: "x"})
	require.False(t, ok)
}

func TestRecordAuditWritesStore(t *testing.T) {
	t.Parallel()

	store, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "audit.jsonl")}, logx.Nop())
	require.NoError(t, err)
	defer store.Close()

	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		recordAudit(context.Background(), events, store, logx.Nop())
	}()

	eventbus.Publish(bus, eventbus.ReminderAdded, reminder.Event{ID: uuid.New(), Task: reminder.Task{Period: 20}})
	eventbus.Publish(bus, "config.reloaded", nil)
	eventbus.Publish(bus, eventbus.NotifierSent, notifier.SendEvent{ChatID: "c1"})
	unsub()
	<-done

	got, err := store.RecentAudit(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, eventbus.NotifierSent, got[0].Event)
	require.Equal(t, eventbus.ReminderAdded, got[1].Event)
}
