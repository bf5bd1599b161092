package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cr0mbly/esbinder/domain/entity"
	"github.com/cr0mbly/esbinder/internal/config"
)

// Rebuilder runs a full rebuild of one entity type.
type Rebuilder interface {
	Rebuild(ctx context.Context, source entity.Source, options ...RebuildOption) (RebuildResult, error)
}

// PeriodicRebuild rebuilds every registered entity type on a timer.
type PeriodicRebuild struct {
	rebuilder Rebuilder
	sources   func() []entity.Source
	logger    *slog.Logger
	interval  time.Duration
	enabled   bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewPeriodicRebuild creates a PeriodicRebuild. sources is called on every
// tick so entity types registered after Start are picked up.
func NewPeriodicRebuild(
	cfg config.PeriodicRebuildConfig,
	rebuilder Rebuilder,
	sources func() []entity.Source,
	logger *slog.Logger,
) *PeriodicRebuild {
	if logger == nil {
		logger = slog.Default()
	}
	return &PeriodicRebuild{
		rebuilder: rebuilder,
		sources:   sources,
		logger:    logger,
		interval:  cfg.Interval(),
		enabled:   cfg.Enabled(),
	}
}

// Start runs rebuilds in a background goroutine. The first round runs
// after one interval. A disabled PeriodicRebuild does nothing.
func (p *PeriodicRebuild) Start(ctx context.Context) {
	if !p.enabled {
		p.logger.Info("periodic rebuild disabled")
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}

	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Go(func() {
		p.run(ctx)
	})

	p.logger.Info("periodic rebuild started", slog.Duration("interval", p.interval))
}

// Stop cancels the background goroutine and waits for the running round.
func (p *PeriodicRebuild) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	p.wg.Wait()
	p.logger.Info("periodic rebuild stopped")
}

func (p *PeriodicRebuild) run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.rebuildAll(ctx)
		}
	}
}

// rebuildAll rebuilds the entity types one after another. A failed type is
// logged and does not stop the round.
func (p *PeriodicRebuild) rebuildAll(ctx context.Context) {
	sources := p.sources()
	done := 0
	for _, src := range sources {
		if ctx.Err() != nil {
			return
		}
		res, err := p.rebuilder.Rebuild(ctx, src)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn("periodic rebuild failed",
				slog.String("entity", src.Schema().Name()),
				slog.String("error", err.Error()),
			)
			continue
		}
		done++
		p.logger.Debug("periodic rebuild finished",
			slog.String("entity", res.EntityType),
			slog.String("index", res.Index),
			slog.Int("documents", res.Documents),
		)
	}
	p.logger.Debug("periodic rebuild round complete",
		slog.Int("rebuilt", done),
		slog.Int("total", len(sources)),
	)
}
