package cache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/reviewd/backend/internal/core/ports"
	"github.com/reviewd/backend/internal/domain"
	"github.com/reviewd/backend/internal/infrastructure/logger"
	"github.com/reviewd/backend/internal/infrastructure/metrics"
)

type Config struct {
	MaxEntries int
	TTL        time.Duration
}

// ResultCache is a two-tier fingerprint cache. The local tier is a bounded
// LRU with per-entry expiry; the optional shared tier is a database table
// other processes read and write. Writes are insert-only and never take a
// lock across get and put: racing writers store equal values.
type ResultCache struct {
	local   *expirable.LRU[string, domain.FindingSet]
	shared  ports.CacheEntryRepository
	ttl     time.Duration
	max     int
	log     *logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	hits   atomic.Uint64
	misses atomic.Uint64
}

// New builds a cache. shared may be nil for a process-local cache.
func New(cfg Config, shared ports.CacheEntryRepository, log *logger.Logger, m *metrics.Metrics) *ResultCache {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 4096
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	return &ResultCache{
		local:   expirable.NewLRU[string, domain.FindingSet](cfg.MaxEntries, nil, cfg.TTL),
		shared:  shared,
		ttl:     cfg.TTL,
		max:     cfg.MaxEntries,
		log:     log,
		metrics: m,
		now:     time.Now,
	}
}

var _ ports.ResultCache = (*ResultCache)(nil)

func (c *ResultCache) Get(ctx context.Context, fingerprint string) (domain.FindingSet, bool) {
	if fs, ok := c.local.Get(fingerprint); ok {
		c.hits.Add(1)
		c.metrics.CacheLookup("local", true)
		return fs.Clone(), true
	}
	c.metrics.CacheLookup("local", false)

	if c.shared != nil {
		entry, err := c.shared.Get(ctx, fingerprint)
		if err != nil {
			c.log.Warnw("cache_shared_get_failed", "fingerprint", fingerprint, "error", err)
		} else if entry != nil && c.now().Sub(entry.CreatedAt) < c.ttl {
			c.hits.Add(1)
			c.metrics.CacheLookup("shared", true)
			c.local.Add(fingerprint, entry.Payload)
			return entry.Payload.Clone(), true
		}
		c.metrics.CacheLookup("shared", false)
	}

	c.misses.Add(1)
	return domain.FindingSet{}, false
}

// Put stores fs under fingerprint. Shared tier failures are logged and
// swallowed; the cache only saves cost.
func (c *ResultCache) Put(ctx context.Context, fingerprint, path string, fs domain.FindingSet) {
	c.local.Add(fingerprint, fs.Clone())
	if c.shared == nil {
		return
	}
	entry := &domain.CacheEntry{
		Fingerprint:  fingerprint,
		Agent:        fs.Agent,
		AgentVersion: fs.AgentVersion,
		Path:         path,
		Payload:      fs,
		CreatedAt:    c.now().UTC(),
	}
	if err := c.shared.Insert(ctx, entry); err != nil {
		c.log.Warnw("cache_shared_put_failed", "fingerprint", fingerprint, "agent", fs.Agent, "error", err)
	}
}

func (c *ResultCache) Stats(ctx context.Context) ports.CacheStats {
	hits, misses := c.hits.Load(), c.misses.Load()
	st := ports.CacheStats{
		Hits:       hits,
		Misses:     misses,
		LocalSize:  c.local.Len(),
		SharedTier: c.shared != nil,
		TTLSeconds: c.ttl.Seconds(),
		MaxEntries: c.max,
	}
	if total := hits + misses; total > 0 {
		st.HitRate = float64(hits) / float64(total)
	}
	if c.shared != nil {
		if n, err := c.shared.Count(ctx); err == nil {
			st.SharedSize = n
		}
	}
	return st
}

// Prune removes expired shared entries. Local entries expire on their own.
func (c *ResultCache) Prune(ctx context.Context) (int64, error) {
	if c.shared == nil {
		return 0, nil
	}
	return c.shared.DeleteOlderThan(ctx, c.now().Add(-c.ttl))
}

// Ping checks the shared tier.
func (c *ResultCache) Ping(ctx context.Context) error {
	if c.shared == nil {
		return nil
	}
	_, err := c.shared.Count(ctx)
	return err
}

func (c *ResultCache) Purge() {
	c.local.Purge()
}
