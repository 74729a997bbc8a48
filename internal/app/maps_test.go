package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"remindbot/internal/config"
	"remindbot/internal/notifier"
	"remindbot/internal/reminder"
)

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()

	_, on, err := mapStorageConfig(&config.Config{})
	require.NoError(t, err)
	require.False(t, on)

	_, on, err = mapStorageConfig(&config.Config{Storage: config.StorageConfig{Driver: " None "}})
	require.NoError(t, err)
	require.False(t, on)

	sc, on, err := mapStorageConfig(&config.Config{Storage: config.StorageConfig{
		Driver:        "SQLite",
		Path:          " ./audit.db ",
		Retention:     "720h",
		PruneSchedule: "@daily",
	}})
	require.NoError(t, err)
	require.True(t, on)
	require.Equal(t, "sqlite", sc.Driver)
	require.Equal(t, "./audit.db", sc.Path)
	require.Equal(t, time.Second, sc.BusyTimeout)
	require.Equal(t, 720*time.Hour, sc.Retention)

	_, _, err = mapStorageConfig(&config.Config{Storage: config.StorageConfig{Driver: "file", Path: "x", PruneSchedule: "every tuesday"}})
	require.Error(t, err)

	_, _, err = mapStorageConfig(&config.Config{Storage: config.StorageConfig{Driver: "file", Path: "x", Retention: "soon"}})
	require.Error(t, err)
}

func TestMapOpsConfigDefaults(t *testing.T) {
	t.Parallel()

	oc, err := mapOpsConfig(&config.Config{Ops: config.OpsConfig{Enabled: true, Addr: "127.0.0.1:0", Pprof: true}})
	require.NoError(t, err)
	require.True(t, oc.Enabled)
	require.True(t, oc.Pprof)
	require.Equal(t, 10*time.Second, oc.ReadTimeout)
	require.Equal(t, 40*time.Second, oc.WriteTimeout)
	require.Equal(t, time.Minute, oc.IdleTimeout)

	_, err = mapOpsConfig(&config.Config{Ops: config.OpsConfig{IdleTimeout: "forever"}})
	require.Error(t, err)
}

func TestMapNotifierAndReminders(t *testing.T) {
	t.Parallel()

	nc, err := mapNotifierConfig(&config.Config{Notifier: config.NotifierConfig{Workers: 2, RatePerSec: 5}})
	require.NoError(t, err)
	require.Equal(t, notifier.DefaultSendTimeout, nc.SendTimeout)
	require.Equal(t, 2, nc.Workers)

	cfg := &config.Config{}
	d, err := tickInterval(cfg)
	require.NoError(t, err)
	require.Equal(t, reminder.DefaultInterval, d)
	require.Equal(t, reminder.DefaultMinSeconds, minSeconds(cfg))

	cfg.Reminders = config.RemindersConfig{MinSeconds: 5, TickInterval: "250ms"}
	d, err = tickInterval(cfg)
	require.NoError(t, err)
	require.Equal(t, 250*time.Millisecond, d)
	require.Equal(t, 5, minSeconds(cfg))

	cfg.Reminders.TickInterval = "fast"
	require.Error(t, validateReload(cfg))
}

func TestLogTargetTrims(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{Transport: config.TransportConfig{LogChat: " -100 ", LogThread: " 7"}}
	got := logTarget(cfg)
	require.Equal(t, "-100", got.ChatID)
	require.Equal(t, "7", got.ThreadID)
}
