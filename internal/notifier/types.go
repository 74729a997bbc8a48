package notifier

import "time"

// Config controls the async delivery pipeline.
type Config struct {
	Workers     int
	QueueSize   int
	RatePerSec  int
	SendTimeout time.Duration
	HistorySize int
}

type HistoryItem struct {
	At         time.Time `json:"at"`
	ReminderID string    `json:"reminder_id,omitempty"`
	ChatID     string    `json:"chat_id"`
	Text       string    `json:"text"`
	Error      string    `json:"error,omitempty"`
}

// SendEvent is published as notifier.sent / notifier.failed.
type SendEvent struct {
	ReminderID string        `json:"reminder_id,omitempty"`
	Platform   string        `json:"platform,omitempty"`
	ChatID     string        `json:"chat_id"`
	ThreadID   string        `json:"thread_id,omitempty"`
	UserID     string        `json:"user_id,omitempty"`
	Period     int           `json:"period,omitempty"`
	Repeat     bool          `json:"repeat,omitempty"`
	Took       time.Duration `json:"took"`
	At         time.Time     `json:"at"`
	Error      string        `json:"error,omitempty"`
}

// Stats are cumulative counters.
type Stats struct {
	Queued  uint64 `json:"queued"`
	Sent    uint64 `json:"sent"`
	Failed  uint64 `json:"failed"`
	Dropped uint64 `json:"dropped"`
	Pending int    `json:"pending"`
}
