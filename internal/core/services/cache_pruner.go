package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/reviewd/backend/internal/infrastructure/logger"
	"github.com/robfig/cron/v3"
)

// Pruner deletes expired entries from the shared cache tier.
type Pruner interface {
	Prune(ctx context.Context) (int64, error)
}

// CachePruner runs Prune on a cron schedule. Overlapping runs are skipped.
type CachePruner struct {
	cron     *cron.Cron
	target   Pruner
	schedule string
	timeout  time.Duration
	logger   *logger.Logger
	stopOnce sync.Once
}

func NewCachePruner(target Pruner, schedule string, log *logger.Logger) *CachePruner {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &CachePruner{
		cron:     cron.New(cron.WithParser(parser), cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger))),
		target:   target,
		schedule: schedule,
		timeout:  time.Minute,
		logger:   log,
	}
}

func (p *CachePruner) Start() error {
	if _, err := p.cron.AddFunc(p.schedule, p.RunOnce); err != nil {
		return fmt.Errorf("registering cache prune schedule %q: %w", p.schedule, err)
	}
	p.cron.Start()
	p.logger.Infow("cache_pruner_started", "schedule", p.schedule)
	return nil
}

// RunOnce prunes immediately.
func (p *CachePruner) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	deleted, err := p.target.Prune(ctx)
	if err != nil {
		p.logger.Errorw("cache_prune_failed", "error", err)
		return
	}
	p.logger.Infow("cache_prune_ok", "deleted", deleted)
}

// Stop waits for a running prune to finish.
func (p *CachePruner) Stop() {
	p.stopOnce.Do(func() {
		<-p.cron.Stop().Done()
	})
}
