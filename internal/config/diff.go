package config

import (
	"reflect"
	"strings"

	"remindbot/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections and safe
// structured attrs for logging. Secrets (tokens) are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 12)

	ot, nt := oldCfg.Transport, newCfg.Transport
	if ot.Driver != nt.Driver || ot.Token != nt.Token || ot.LogChat != nt.LogChat || ot.LogThread != nt.LogThread ||
		ot.PollTimeout != nt.PollTimeout || ot.Presence != nt.Presence || !reflect.DeepEqual(ot.GuildIDs, nt.GuildIDs) ||
		ot.Workers != nt.Workers || ot.CommandTimeout != nt.CommandTimeout {
		changed = append(changed, "transport")
		attrs = append(attrs,
			logx.String("transport.driver", nt.Driver),
			logx.Bool("transport.token_changed", ot.Token != nt.Token),
			logx.Bool("transport.log_chat_set", strings.TrimSpace(nt.LogChat) != ""),
		)
	}
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.chat_enabled", newCfg.Logging.Chat.Enabled),
		)
	}
	if oldCfg.Reminders != newCfg.Reminders {
		changed = append(changed, "reminders")
		attrs = append(attrs,
			logx.Int("reminders.min_seconds", newCfg.Reminders.MinSeconds),
			logx.String("reminders.tick_interval", newCfg.Reminders.TickInterval),
		)
	}
	if oldCfg.Notifier != newCfg.Notifier {
		changed = append(changed, "notifier")
		attrs = append(attrs, logx.Int("notifier.rate_per_sec", newCfg.Notifier.RatePerSec))
	}
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
	}
	oo, no := oldCfg.Ops, newCfg.Ops
	oo.Token, no.Token = "", ""
	if oo != no || (oldCfg.Ops.Token != "") != (newCfg.Ops.Token != "") {
		changed = append(changed, "ops")
		attrs = append(attrs,
			logx.Bool("ops.enabled", newCfg.Ops.Enabled),
			logx.String("ops.addr", newCfg.Ops.Addr),
			logx.Bool("ops.token_set", newCfg.Ops.Token != ""),
		)
	}
	return changed, attrs
}

// RestartRequired reports sections whose changes only take effect after a restart.
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		switch s {
		case "transport", "storage", "ops":
			out = append(out, s)
		}
	}
	return out
}
