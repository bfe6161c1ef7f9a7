package ports

import (
	"context"
	"time"

	"github.com/reviewd/backend/internal/domain"
)

// TaskMutation computes the next task state from the current one. Returning
// cur itself means nothing changed and nothing is written.
type TaskMutation func(cur *domain.Task) (*domain.Task, error)

type TaskRepository interface {
	Create(ctx context.Context, task *domain.Task) error
	// GetByID returns nil, nil when the task does not exist.
	GetByID(ctx context.Context, id string) (*domain.Task, error)
	// Update applies fn to the current record inside a per-record
	// transaction and returns the stored result.
	Update(ctx context.Context, id string, fn TaskMutation) (*domain.Task, error)
	ListByStatus(ctx context.Context, status domain.TaskStatus, limit int) ([]domain.Task, error)
	CountByStatus(ctx context.Context) (map[domain.TaskStatus]int64, error)
	Ping(ctx context.Context) error
}

type CacheEntryRepository interface {
	// Get returns nil, nil on a miss.
	Get(ctx context.Context, fingerprint string) (*domain.CacheEntry, error)
	// Insert keeps the existing row when the fingerprint is already present.
	Insert(ctx context.Context, entry *domain.CacheEntry) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	Count(ctx context.Context) (int64, error)
}
