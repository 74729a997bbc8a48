package config

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"remindbot/pkg/logx"
)

const (
	DriverDiscord  = "discord"
	DriverTelegram = "telegram"
)

// Normalize trims strings and fills the defaults that callers rely on.
func (c *Config) Normalize() {
	c.Transport.Driver = strings.ToLower(strings.TrimSpace(c.Transport.Driver))
	if c.Transport.Driver == "" {
		c.Transport.Driver = DriverDiscord
	}
	c.Transport.Token = strings.TrimSpace(c.Transport.Token)
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	if c.Ops.Enabled && strings.TrimSpace(c.Ops.Addr) == "" {
		c.Ops.Addr = "127.0.0.1:6060"
	}
}

// Validate reports every problem it finds, joined.
func Validate(c *Config) error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	switch c.Transport.Driver {
	case DriverDiscord, DriverTelegram:
	default:
		add("transport.driver: unknown driver %q", c.Transport.Driver)
	}
	if c.Transport.Token == "" {
		add("transport.token: missing (set it in the file or via %s)", EnvToken)
	}
	if c.Transport.Workers < 0 {
		add("transport.workers must be >= 0")
	}
	if c.Logging.Chat.Enabled && strings.TrimSpace(c.Transport.LogChat) == "" {
		add("logging.chat.enabled requires transport.log_chat")
	}
	if !logx.ValidLevel(c.Logging.Level) {
		add("logging.level: unknown level %q", c.Logging.Level)
	}
	if lvl := strings.TrimSpace(c.Logging.Chat.MinLevel); lvl != "" && !logx.ValidLevel(lvl) {
		add("logging.chat.min_level: unknown level %q", lvl)
	}
	if c.Reminders.MinSeconds < 0 {
		add("reminders.min_seconds must be >= 0")
	}
	if c.Notifier.Workers < 0 || c.Notifier.QueueSize < 0 || c.Notifier.RatePerSec < 0 {
		add("notifier: workers, queue_size and rate_per_sec must be >= 0")
	}

	for path, raw := range map[string]string{
		"transport.poll_timeout":    c.Transport.PollTimeout,
		"transport.command_timeout": c.Transport.CommandTimeout,
		"reminders.tick_interval":   c.Reminders.TickInterval,
		"notifier.send_timeout":     c.Notifier.SendTimeout,
		"storage.busy_timeout":      c.Storage.BusyTimeout,
		"storage.retention":         c.Storage.Retention,
		"ops.read_timeout":          c.Ops.ReadTimeout,
		"ops.write_timeout":         c.Ops.WriteTimeout,
		"ops.idle_timeout":          c.Ops.IdleTimeout,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	switch c.Storage.Driver {
	case "", "none", "file":
	case "sqlite", "sqlite3":
		if strings.TrimSpace(c.Storage.Path) == "" {
			add("storage.path is required when storage.driver=sqlite")
		}
	default:
		add("storage.driver: unknown driver %q", c.Storage.Driver)
	}

	if c.Ops.Enabled {
		host, _, err := net.SplitHostPort(c.Ops.Addr)
		switch {
		case err != nil:
			add("ops.addr: %v", err)
		case !isLoopback(host) && strings.TrimSpace(c.Ops.Token) == "" && !c.Ops.AllowInsecure:
			add("ops.addr %q is not loopback; set ops.token or ops.allow_insecure", c.Ops.Addr)
		}
	}
	return errors.Join(errs...)
}

func isLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
