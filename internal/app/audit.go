package app

import (
	"context"
	"time"

	"remindbot/internal/eventbus"
	"remindbot/internal/notifier"
	"remindbot/internal/reminder"
	"remindbot/internal/storage"
	"remindbot/pkg/logx"
)

// auditEntry maps a bus event to its audit row. ok is false for events that
// are not audited.
func auditEntry(e eventbus.Event) (storage.AuditEntry, bool) {
	out := storage.AuditEntry{At: e.Time, Event: e.Type}
	switch d := e.Data.(type) {
	case reminder.Event:
		if d.ID != (reminder.Handle{}) {
			out.ReminderID = d.ID.String()
		}
		out.Platform = d.Task.Platform
		out.ChatID = d.Task.Destination.ChatID
		out.UserID = d.Task.Owner.ID
		out.Period = d.Task.Period
		out.Repeat = d.Task.Repeat
		out.Error = d.Error
	case notifier.SendEvent:
		out.ReminderID = d.ReminderID
		out.Platform = d.Platform
		out.ChatID = d.ChatID
		out.UserID = d.UserID
		out.Period = d.Period
		out.Repeat = d.Repeat
		out.Error = d.Error
	default:
		return storage.AuditEntry{}, false
	}
	if out.At.IsZero() {
		out.At = time.Now()
	}
	return out, true
}

// recordAudit persists bus events until ctx is done or the subscription closes.
func recordAudit(ctx context.Context, events <-chan eventbus.Event, store storage.Store, log logx.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			entry, ok := auditEntry(e)
			if !ok {
				continue
			}
			// the store must outlive a cancelled run context for the final events.
			wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			err := store.AppendAudit(wctx, entry)
			cancel()
			if err != nil {
				log.Warn("audit append failed", logx.String("event", e.Type), logx.String("error", err.Error()))
			}
		}
	}
}
