// Package sdnotify reports readiness and liveness to systemd (Type=notify units).
// Outside systemd every call is a no-op.
package sdnotify

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"remindbot/pkg/logx"
)

type Notifier struct {
	log      logx.Logger
	notify   func(state string) (bool, error)
	watchdog func() (time.Duration, error)
}

func New(log logx.Logger) *Notifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Notifier{
		log:      log.With(logx.String("comp", "sdnotify")),
		notify:   func(state string) (bool, error) { return daemon.SdNotify(false, state) },
		watchdog: func() (time.Duration, error) { return daemon.SdWatchdogEnabled(false) },
	}
}

func (n *Notifier) send(state string) bool {
	ok, err := n.notify(state)
	if err != nil {
		n.log.Warn("sd_notify failed", logx.String("state", state), logx.String("error", err.Error()))
		return false
	}
	return ok
}

func (n *Notifier) Ready() bool    { return n.send(daemon.SdNotifyReady) }
func (n *Notifier) Stopping() bool { return n.send(daemon.SdNotifyStopping) }

// Status sets the free-form status line shown by systemctl.
func (n *Notifier) Status(msg string) bool { return n.send("STATUS=" + msg) }

// RunWatchdog pings WATCHDOG=1 at half the configured WatchdogSec while
// healthy reports true, and refreshes the STATUS line from status (if set)
// whenever it changes. It returns immediately when the watchdog is off.
func (n *Notifier) RunWatchdog(ctx context.Context, healthy func() bool, status func() string) error {
	interval, err := n.watchdog()
	if err != nil {
		n.log.Warn("watchdog config invalid", logx.String("error", err.Error()))
		return nil
	}
	if interval <= 0 {
		return nil
	}
	every := interval / 2
	n.log.Info("watchdog enabled", logx.Duration("interval", interval))

	var last string
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if status != nil {
				if msg := status(); msg != last && n.Status(msg) {
					last = msg
				}
			}
			if healthy != nil && !healthy() {
				// Missing pings lets systemd restart the unit.
				n.log.Warn("skipping watchdog ping: tick loop stalled")
				continue
			}
			n.send(daemon.SdNotifyWatchdog)
		}
	}
}

// FreshWithin reports healthy while last() is no older than maxAge. A zero
// time counts as healthy until grace has passed since start.
func FreshWithin(last func() time.Time, maxAge, grace time.Duration, now func() time.Time) func() bool {
	if now == nil {
		now = time.Now
	}
	start := now()
	return func() bool {
		at := last()
		if at.IsZero() {
			return now().Sub(start) <= grace
		}
		return now().Sub(at) <= maxAge
	}
}
