package app

import (
	"strings"
	"time"

	"remindbot/internal/config"
	"remindbot/internal/notifier"
	"remindbot/internal/observability/ops"
	"remindbot/internal/reminder"
	"remindbot/internal/router"
	"remindbot/internal/storage"
	"remindbot/internal/transport"
	"remindbot/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Chat: logx.ChatConfig{
			Enabled:    l.Chat.Enabled,
			MinLevel:   l.Chat.MinLevel,
			RatePerSec: l.Chat.RatePerSec,
		},
	}
}

func logTarget(cfg *config.Config) transport.ChatTarget {
	return transport.ChatTarget{
		ChatID:   strings.TrimSpace(cfg.Transport.LogChat),
		ThreadID: strings.TrimSpace(cfg.Transport.LogThread),
	}
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	n := cfg.Notifier
	timeout, err := config.ParseDurationOrDefault("notifier.send_timeout", n.SendTimeout, notifier.DefaultSendTimeout)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Workers:     n.Workers,
		QueueSize:   n.QueueSize,
		RatePerSec:  n.RatePerSec,
		SendTimeout: timeout,
		HistorySize: n.HistorySize,
	}, nil
}

// mapStorageConfig returns enabled=false when no driver is configured.
func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, false, err
	}
	retention, err := config.ParseDurationField("storage.retention", sc.Retention)
	if err != nil {
		return storage.Config{}, false, err
	}
	if err := storage.ValidatePruneSchedule(sc.PruneSchedule); err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{
		Driver:        driver,
		Path:          strings.TrimSpace(sc.Path),
		BusyTimeout:   busy,
		Retention:     retention,
		PruneSchedule: sc.PruneSchedule,
	}, true, nil
}

func mapOpsConfig(cfg *config.Config) (ops.Config, error) {
	o := cfg.Ops
	read, err := config.ParseDurationOrDefault("ops.read_timeout", o.ReadTimeout, 10*time.Second)
	if err != nil {
		return ops.Config{}, err
	}
	// pprof profile/trace endpoints stream for up to 30s by default.
	write, err := config.ParseDurationOrDefault("ops.write_timeout", o.WriteTimeout, 40*time.Second)
	if err != nil {
		return ops.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("ops.idle_timeout", o.IdleTimeout, time.Minute)
	if err != nil {
		return ops.Config{}, err
	}
	return ops.Config{
		Enabled:       o.Enabled,
		Addr:          o.Addr,
		Token:         o.Token,
		AllowInsecure: o.AllowInsecure,
		Pprof:         o.Pprof,
		ReadTimeout:   read,
		WriteTimeout:  write,
		IdleTimeout:   idle,
	}, nil
}

func mapRouterOptions(cfg *config.Config) (router.Options, error) {
	timeout, err := config.ParseDurationField("transport.command_timeout", cfg.Transport.CommandTimeout)
	if err != nil {
		return router.Options{}, err
	}
	return router.Options{Workers: cfg.Transport.Workers, DefaultTimeout: timeout}, nil
}

func tickInterval(cfg *config.Config) (time.Duration, error) {
	return config.ParseDurationOrDefault("reminders.tick_interval", cfg.Reminders.TickInterval, reminder.DefaultInterval)
}

func minSeconds(cfg *config.Config) int {
	if cfg.Reminders.MinSeconds > 0 {
		return cfg.Reminders.MinSeconds
	}
	return reminder.DefaultMinSeconds
}

// validateReload rejects a hot-reloaded config whose live sections cannot be mapped.
func validateReload(cfg *config.Config) error {
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapOpsConfig(cfg); err != nil {
		return err
	}
	_, err := tickInterval(cfg)
	return err
}
