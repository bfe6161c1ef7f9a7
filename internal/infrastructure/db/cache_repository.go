package db

import (
	"context"
	"errors"
	"time"

	"github.com/reviewd/backend/internal/core/ports"
	"github.com/reviewd/backend/internal/domain"
	"github.com/reviewd/backend/internal/infrastructure/logger"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type cacheEntryRepository struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCacheEntryRepository(db *gorm.DB, log *logger.Logger) ports.CacheEntryRepository {
	return &cacheEntryRepository{db: db, log: log}
}

func (r *cacheEntryRepository) Get(ctx context.Context, fingerprint string) (*domain.CacheEntry, error) {
	var entry domain.CacheEntry
	if err := r.db.WithContext(ctx).Where("fingerprint = ?", fingerprint).First(&entry).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		r.log.Errorw("cache_repo_get_failed", "fingerprint", fingerprint, "error", err)
		return nil, err
	}
	return &entry, nil
}

// Insert races with other writers of the same fingerprint. Equal payloads
// make the loser's write redundant, so conflicts are ignored.
func (r *cacheEntryRepository) Insert(ctx context.Context, entry *domain.CacheEntry) error {
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(entry).Error; err != nil {
		r.log.Errorw("cache_repo_insert_failed", "fingerprint", entry.Fingerprint, "agent", entry.Agent, "error", err)
		return err
	}
	return nil
}

func (r *cacheEntryRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&domain.CacheEntry{})
	if res.Error != nil {
		r.log.Errorw("cache_repo_prune_failed", "cutoff", cutoff, "error", res.Error)
		return 0, res.Error
	}
	r.log.Infow("cache_repo_prune_ok", "cutoff", cutoff, "deleted", res.RowsAffected)
	return res.RowsAffected, nil
}

func (r *cacheEntryRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&domain.CacheEntry{}).Count(&n).Error; err != nil {
		r.log.Errorw("cache_repo_count_failed", "error", err)
		return 0, err
	}
	return n, nil
}
