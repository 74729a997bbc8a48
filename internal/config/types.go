package config

// Config is the on-disk configuration (JSON or YAML).
//
// Durations are Go duration strings ("500ms", "10s", "1h").
type Config struct {
	Transport TransportConfig `json:"transport"`
	Logging   LoggingConfig   `json:"logging"`
	Reminders RemindersConfig `json:"reminders"`
	Notifier  NotifierConfig  `json:"notifier"`
	Storage   StorageConfig   `json:"storage"`
	Ops       OpsConfig       `json:"ops"`
}

// TransportConfig selects the chat platform.
//
// Token may be left empty and supplied through the environment instead
// (REMINDBOT_TOKEN, then DISCORD_BOT_TOKEN or TELEGRAM_BOT_TOKEN).
type TransportConfig struct {
	Driver string `json:"driver"` // "discord" (default) or "telegram"
	Token  string `json:"token,omitempty"`

	// LogChat receives warn+ log lines when logging.chat.enabled is set.
	LogChat   string `json:"log_chat,omitempty"`
	LogThread string `json:"log_thread,omitempty"`

	// Telegram long-poll timeout.
	PollTimeout string `json:"poll_timeout,omitempty"`

	// Discord: presence text and optional guild allowlist for command registration.
	Presence string   `json:"presence,omitempty"`
	GuildIDs []string `json:"guild_ids,omitempty"`

	// Router worker pool.
	Workers        int    `json:"workers,omitempty"`
	CommandTimeout string `json:"command_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Chat    LoggingChat `json:"chat"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingChat struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// RemindersConfig tunes the scheduler.
//
// Defaults: min_seconds 20, tick_interval "1s".
type RemindersConfig struct {
	MinSeconds   int    `json:"min_seconds,omitempty"`
	TickInterval string `json:"tick_interval,omitempty"`
}

// NotifierConfig controls the async delivery pipeline.
type NotifierConfig struct {
	Workers     int    `json:"workers,omitempty"`
	QueueSize   int    `json:"queue_size,omitempty"`
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
	SendTimeout string `json:"send_timeout,omitempty"`
	HistorySize int    `json:"history_size,omitempty"`
}

// StorageConfig controls the optional audit log.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./remindbot.db", "retention": "720h" }
type StorageConfig struct {
	Driver        string `json:"driver,omitempty"`
	Path          string `json:"path,omitempty"`
	BusyTimeout   string `json:"busy_timeout,omitempty"`
	Retention     string `json:"retention,omitempty"`
	PruneSchedule string `json:"prune_schedule,omitempty"`
}

// OpsConfig controls the optional HTTP ops server (health, status, pprof).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:6060"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}
