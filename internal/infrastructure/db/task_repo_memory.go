package db

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/reviewd/backend/internal/core/ports"
	"github.com/reviewd/backend/internal/domain"
	"github.com/reviewd/backend/internal/infrastructure/logger"
)

// memoryTaskRepository keeps tasks in process. Each live record has its own
// mutex so merges on different tasks never contend; the mutex is dropped
// once the task is terminal.
type memoryTaskRepository struct {
	mu    sync.RWMutex
	tasks map[string]*domain.Task
	locks map[string]*sync.Mutex
	log   *logger.Logger
}

func NewMemoryTaskRepository(log *logger.Logger) ports.TaskRepository {
	return &memoryTaskRepository{
		tasks: make(map[string]*domain.Task),
		locks: make(map[string]*sync.Mutex),
		log:   log,
	}
}

func (r *memoryTaskRepository) lockKey(id string) func() {
	r.mu.Lock()
	m := r.locks[id]
	if m == nil {
		m = &sync.Mutex{}
		r.locks[id] = m
	}
	r.mu.Unlock()
	m.Lock()
	return m.Unlock
}

func (r *memoryTaskRepository) Create(_ context.Context, task *domain.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tasks[task.ID]; exists {
		r.log.Errorw("task_repo_create_failed", "task_id", task.ID, "error", "duplicate id")
		return domain.ErrConcurrentUpdate
	}
	now := time.Now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now
	r.tasks[task.ID] = task.Clone()
	r.log.Infow("task_repo_create_ok", "task_id", task.ID, "repo_url", task.RepoURL, "pr_number", task.PRNumber)
	return nil
}

func (r *memoryTaskRepository) GetByID(_ context.Context, id string) (*domain.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	task, ok := r.tasks[id]
	if !ok {
		return nil, nil
	}
	return task.Clone(), nil
}

func (r *memoryTaskRepository) Update(ctx context.Context, id string, fn ports.TaskMutation) (*domain.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	unlock := r.lockKey(id)
	defer unlock()

	r.mu.RLock()
	stored, ok := r.tasks[id]
	r.mu.RUnlock()
	if !ok {
		r.forgetLock(id)
		return nil, domain.ErrTaskNotFound
	}

	cur := stored.Clone()
	next, err := fn(cur)
	if err != nil || next == cur {
		if cur.Status.IsTerminal() {
			r.forgetLock(id)
		}
		if err != nil {
			return nil, err
		}
		return cur, nil
	}

	next.UpdatedAt = time.Now().UTC()
	r.mu.Lock()
	r.tasks[id] = next.Clone()
	if next.Status.IsTerminal() {
		delete(r.locks, id)
	}
	r.mu.Unlock()
	r.log.Debugw("task_repo_update_ok", "task_id", id, "status", next.Status, "revision", next.Revision)
	return next, nil
}

// forgetLock drops the per-key mutex of a task that no longer takes writes.
// Terminal tasks reject every transition, so a caller still queued on the
// old mutex and one holding a fresh mutex can only read.
func (r *memoryTaskRepository) forgetLock(id string) {
	r.mu.Lock()
	delete(r.locks, id)
	r.mu.Unlock()
}

func (r *memoryTaskRepository) ListByStatus(_ context.Context, status domain.TaskStatus, limit int) ([]domain.Task, error) {
	r.mu.RLock()
	out := make([]domain.Task, 0)
	for _, t := range r.tasks {
		if t.Status == status {
			out = append(out, *t.Clone())
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryTaskRepository) CountByStatus(_ context.Context) (map[domain.TaskStatus]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[domain.TaskStatus]int64)
	for _, t := range r.tasks {
		out[t.Status]++
	}
	return out, nil
}

func (r *memoryTaskRepository) Ping(context.Context) error {
	return nil
}
