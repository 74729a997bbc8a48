// Package app wires the reminder core to a chat transport and runs it.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"remindbot/internal/config"
	"remindbot/internal/eventbus"
	"remindbot/internal/notifier"
	"remindbot/internal/observability/ops"
	"remindbot/internal/reminder"
	"remindbot/internal/router"
	rtsup "remindbot/internal/runtime/supervisor"
	"remindbot/internal/runtime/sdnotify"
	"remindbot/internal/storage"
	"remindbot/internal/transport"
	"remindbot/internal/transport/discord"
	"remindbot/internal/transport/telegram"
	"remindbot/pkg/logx"
)

// AdapterFactory builds the transport for cfg.Transport.Driver.
type AdapterFactory func(cfg *config.Config, log logx.Logger) (transport.Adapter, error)

type Options struct {
	NewAdapter AdapterFactory      // default: NewAdapter
	Accents    reminder.AccentSource // default: random
}

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store  storage.Store
	pruner *storage.Pruner

	adapter   transport.Adapter
	reg       *reminder.Registry
	validator *reminder.Validator
	ticker    *reminder.Ticker
	notif     *notifier.Service
	router    *router.Router
	ops       *ops.Service
	sd        *sdnotify.Notifier

	interactions chan transport.Interaction
	tickerDone   chan struct{}
	auditUnsub   func()
	auditDone    chan struct{}
}

// NewAdapter is the production AdapterFactory.
func NewAdapter(cfg *config.Config, log logx.Logger) (transport.Adapter, error) {
	t := cfg.Transport
	switch t.Driver {
	case config.DriverTelegram:
		poll, err := config.ParseDurationField("transport.poll_timeout", t.PollTimeout)
		if err != nil {
			return nil, err
		}
		return telegram.New(telegram.Config{Token: t.Token, PollTimeout: poll}, log)
	case config.DriverDiscord:
		return discord.New(discord.Config{Token: t.Token, GuildIDs: t.GuildIDs, Presence: t.Presence}, log)
	default:
		return nil, fmt.Errorf("unknown transport driver %q", t.Driver)
	}
}

func New(cfgm *config.Manager, opts Options) (*App, error) {
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if opts.NewAdapter == nil {
		opts.NewAdapter = NewAdapter
	}
	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	interval, err := tickInterval(cfg)
	if err != nil {
		return nil, err
	}
	ropts, err := mapRouterOptions(cfg)
	if err != nil {
		return nil, err
	}
	ocfg, err := mapOpsConfig(cfg)
	if err != nil {
		return nil, err
	}
	sc, storageOn, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}

	// The chat sink needs the adapter, which needs a logger: start with the
	// sink off, then enable it once the target is known.
	logCfg := mapLoggingConfig(cfg)
	bootCfg := logCfg
	bootCfg.Chat.Enabled = false
	logSvc, root := logx.New(bootCfg)
	log := root.With(logx.String("comp", "app"))

	ad, err := opts.NewAdapter(cfg, root.With(logx.String("comp", cfg.Transport.Driver)))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	logSvc.SetChatSink(ad, logTarget(cfg))
	logSvc.Apply(logCfg)

	bus := eventbus.New()

	var store storage.Store
	if storageOn {
		if store, err = storage.Open(sc, root.With(logx.String("comp", "storage"))); err != nil {
			_ = logSvc.Close()
			return nil, err
		}
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	reg := reminder.NewRegistry()
	validator := reminder.NewValidator(reg, opts.Accents, minSeconds(cfg), root.With(logx.String("comp", "reminder")), bus)
	notif := notifier.New(ncfg, ad, root.With(logx.String("comp", "notifier")), bus)
	ticker := reminder.NewTicker(reg, notif,
		reminder.WithInterval(interval),
		reminder.WithLogger(root.With(logx.String("comp", "ticker"))),
		reminder.WithBus(bus),
	)
	rt := router.New(root.With(logx.String("comp", "router")), ropts)
	rt.Register(rt.Builtins(router.Deps{Validator: validator, Registry: reg})...)

	a := &App{
		cfgm:         cfgm,
		log:          log,
		logs:         logSvc,
		bus:          bus,
		store:        store,
		pruner:       storage.NewPruner(store, sc, root.With(logx.String("comp", "storage"))),
		adapter:      ad,
		reg:          reg,
		validator:    validator,
		ticker:       ticker,
		notif:        notif,
		router:       rt,
		sd:           sdnotify.New(root),
		interactions: make(chan transport.Interaction, 256),
	}
	a.ops = ops.New(ocfg, ops.Sources{
		Registry:    reg,
		Ticker:      ticker,
		Notifier:    notif,
		Deliveries:  notif.History,
		Audit:       store,
		Supervisors: a.supervisorCounters,
		Started:     time.Now(),
	}, root)
	return a, nil
}

// Registry exposes the pending reminders (tests, ops).
func (a *App) Registry() *reminder.Registry { return a.reg }

// Done is closed when the app context is cancelled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) supervisorCounters() map[string]rtsup.Counters {
	out := map[string]rtsup.Counters{}
	add := func(name string, s *rtsup.Supervisor) {
		if s != nil {
			out[name] = s.Counters()
		}
	}
	add("app", a.sup)
	add("router", a.router.Supervisor())
	add("notifier", a.notif.Supervisor())
	add("ops", a.ops.Supervisor())
	if sp, ok := a.adapter.(interface{ Supervisor() *rtsup.Supervisor }); ok {
		add("adapter", sp.Supervisor())
	}
	return out
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	run := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validateReload(cfg) })

	a.notif.Start(run)
	if err := a.adapter.Start(run, a.interactions); err != nil {
		a.sup.Cancel()
		return fmt.Errorf("start %s: %w", a.adapter.Name(), err)
	}

	a.sup.Go("router.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.interactions)
	})
	if mu, ok := a.adapter.(transport.CommandMenuUpdater); ok {
		a.sup.Go0("menu.update", func(c context.Context) {
			mctx, cancel := context.WithTimeout(c, 15*time.Second)
			defer cancel()
			if err := mu.UpdateMenuCommands(mctx, a.router.MenuCommands()); err != nil {
				a.log.Warn("menu update failed", logx.String("error", err.Error()))
			}
		})
	}

	a.tickerDone = make(chan struct{})
	a.sup.Go("reminder.ticker", func(c context.Context) error {
		defer close(a.tickerDone)
		return a.ticker.Run(c)
	})

	if a.store != nil {
		events, unsub := a.bus.Subscribe(256)
		a.auditUnsub = unsub
		a.auditDone = make(chan struct{})
		// Runs past the app context so events published during shutdown
		// are still recorded; Stop closes the subscription.
		go func() {
			defer close(a.auditDone)
			recordAudit(context.Background(), events, a.store, a.log.With(logx.String("comp", "audit")))
		}()
		if err := a.pruner.Start(run); err != nil {
			a.log.Warn("audit retention disabled", logx.String("error", err.Error()))
		}
	}

	a.ops.Start(run)

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(last, next)
				last = next
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	interval := a.ticker.Interval()
	healthy := sdnotify.FreshWithin(func() time.Time { return a.ticker.Stats().LastTick }, 5*interval+5*time.Second, 30*time.Second, nil)
	a.sup.Go("sd.watchdog", func(c context.Context) error { return a.sd.RunWatchdog(c, healthy, a.statusLine) })
	a.sd.Ready()
	a.sd.Status(a.statusLine())

	a.log.Info("app started", logx.String("transport", a.adapter.Name()), logx.Duration("tick", interval))
	return nil
}

// statusLine is the one-line summary shown by systemctl status.
func (a *App) statusLine() string {
	ns := a.notif.Stats()
	return fmt.Sprintf("%d pending, %d sent, %d failed", a.reg.Len(), ns.Sent, ns.Failed+ns.Dropped)
}

// applyConfig applies the hot-reloadable sections: logging, minimum interval
// and notifier rate. Everything else is logged as restart-required.
func (a *App) applyConfig(prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}

	a.logs.SetChatSink(a.adapter, logTarget(next))
	a.logs.Apply(mapLoggingConfig(next))
	a.validator.SetMinSeconds(minSeconds(next))
	if ncfg, err := mapNotifierConfig(next); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.String("error", err.Error()))
	} else {
		a.notif.Apply(ncfg)
	}
	restart := config.RestartRequired(sections)
	if prev != nil && prev.Reminders.TickInterval != next.Reminders.TickInterval {
		restart = append(restart, "reminders.tick_interval")
	}
	if len(restart) > 0 {
		a.log.Warn("config changed; restart required for these sections", logx.String("sections", strings.Join(restart, ",")))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config applied", fields...)
}

// Stop shuts down in dependency order: inbound first, then the tick loop
// (its in-flight sweep completes), then delivery, audit and storage.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.Stopping()
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		runStep(ctx, a.log, name, max, fn)
	}

	step("adapter", 3*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("ticker", 3*time.Second, func(c context.Context) error {
		if a.tickerDone == nil {
			return nil
		}
		select {
		case <-a.tickerDone:
			return nil
		case <-c.Done():
			return c.Err()
		}
	})
	a.log.Info("terminating gracefully", logx.Int("pending", a.reg.Len()))

	step("ops", time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	step("pruner", time.Second, func(c context.Context) error { a.pruner.Stop(c); return nil })
	step("notifier", 3*time.Second, func(c context.Context) error { return a.notif.Stop(c) })
	step("audit", time.Second, func(c context.Context) error {
		if a.auditUnsub == nil {
			return nil
		}
		a.auditUnsub()
		select {
		case <-a.auditDone:
			return nil
		case <-c.Done():
			return c.Err()
		}
	})
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	step("supervisor", 2*time.Second, func(c context.Context) error {
		if err := a.sup.Wait(c); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	a.log.Info("stopped")
	return a.logs.Close()
}
