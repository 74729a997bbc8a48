package storage

import (
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free JSON Lines file
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default

	// Retention drops audit rows older than this; 0 keeps everything.
	Retention time.Duration
	// PruneSchedule is a cron spec (robfig/cron syntax, descriptors allowed).
	PruneSchedule string
}

// AuditEntry records one reminder lifecycle event.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At         time.Time `json:"at"`
	Event      string    `json:"event"`
	ReminderID string    `json:"reminder_id,omitempty"`
	Platform   string    `json:"platform,omitempty"`
	ChatID     string    `json:"chat_id,omitempty"`
	UserID     string    `json:"user_id,omitempty"`
	Period     int       `json:"period,omitempty"`
	Repeat     bool      `json:"repeat,omitempty"`
	Error      string    `json:"error,omitempty"`
}
