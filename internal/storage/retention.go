package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"remindbot/pkg/logx"
)

// DefaultPruneSchedule runs retention once an hour.
const DefaultPruneSchedule = "@hourly"

var pruneParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidatePruneSchedule reports whether spec is a usable cron spec ("" means default).
func ValidatePruneSchedule(spec string) error {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil
	}
	if _, err := pruneParser.Parse(spec); err != nil {
		return fmt.Errorf("invalid prune schedule %q: %w", spec, err)
	}
	return nil
}

// Pruner periodically drops audit entries older than the retention window.
type Pruner struct {
	store     Store
	retention time.Duration
	spec      string
	log       logx.Logger
	now       func() time.Time

	mu sync.Mutex
	c  *cron.Cron
}

func NewPruner(store Store, cfg Config, log logx.Logger) *Pruner {
	if log.IsZero() {
		log = logx.Nop()
	}
	spec := strings.TrimSpace(cfg.PruneSchedule)
	if spec == "" {
		spec = DefaultPruneSchedule
	}
	return &Pruner{store: store, retention: cfg.Retention, spec: spec, log: log, now: time.Now}
}

// Enabled reports whether there is anything to prune.
func (p *Pruner) Enabled() bool { return p != nil && p.store != nil && p.retention > 0 }

// Start registers the cron job. It is a no-op when retention is disabled.
func (p *Pruner) Start(ctx context.Context) error {
	if !p.Enabled() {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.c != nil {
		return nil
	}
	c := cron.New(cron.WithParser(pruneParser))
	if _, err := c.AddFunc(p.spec, func() { p.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("storage prune schedule: %w", err)
	}
	c.Start()
	p.c = c
	p.log.Info("audit retention scheduled", logx.String("spec", p.spec), logx.Duration("retention", p.retention))
	return nil
}

// RunOnce prunes immediately.
func (p *Pruner) RunOnce(ctx context.Context) {
	if !p.Enabled() || ctx.Err() != nil {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	n, err := p.store.PruneAudit(cctx, p.now().Add(-p.retention))
	if err != nil {
		p.log.Warn("audit prune failed", logx.Err(err))
		return
	}
	if n > 0 {
		p.log.Info("audit pruned", logx.Int64("removed", n))
	}
}

func (p *Pruner) Stop(ctx context.Context) {
	p.mu.Lock()
	c := p.c
	p.c = nil
	p.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}
