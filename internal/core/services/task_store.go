package services

import (
	"context"
	"errors"
	"time"

	"github.com/reviewd/backend/internal/core/ports"
	"github.com/reviewd/backend/internal/domain"
	"github.com/reviewd/backend/internal/infrastructure/logger"
	"github.com/reviewd/backend/internal/infrastructure/metrics"
	"github.com/reviewd/backend/pkg/utils/retry"
)

// TaskStore applies task transitions through the repository. Transient
// storage failures are retried; a failure that survives every retry is
// returned as *StoreError. Transition errors are returned unchanged.
type TaskStore struct {
	repo    ports.TaskRepository
	policy  retry.Policy
	logger  *logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewTaskStore(repo ports.TaskRepository, policy retry.Policy, log *logger.Logger, m *metrics.Metrics) *TaskStore {
	return &TaskStore{
		repo:    repo,
		policy:  policy,
		logger:  log,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *TaskStore) Create(ctx context.Context, task *domain.Task) error {
	_, err := s.run(ctx, "create", task.ID, func(ctx context.Context) (*domain.Task, error) {
		return task, s.repo.Create(ctx, task)
	})
	return err
}

// Get returns ErrTaskNotFound for unknown ids.
func (s *TaskStore) Get(ctx context.Context, id string) (*domain.Task, error) {
	task, err := s.run(ctx, "get", id, func(ctx context.Context) (*domain.Task, error) {
		return s.repo.GetByID(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, ErrTaskNotFound
	}
	return task, nil
}

func (s *TaskStore) Claim(ctx context.Context, id string) (*domain.Task, error) {
	return s.update(ctx, "claim", id, func(cur *domain.Task) (*domain.Task, error) {
		return domain.Claim(cur, s.now())
	})
}

func (s *TaskStore) Plan(ctx context.Context, id string, units []domain.UnitKey, skipped []domain.UnitOutcome, pr *domain.PullRequestInfo) (*domain.Task, error) {
	return s.update(ctx, "plan", id, func(cur *domain.Task) (*domain.Task, error) {
		return domain.Plan(cur, units, skipped, pr, s.now())
	})
}

func (s *TaskStore) Apply(ctx context.Context, id string, o domain.UnitOutcome) (*domain.Task, error) {
	return s.update(ctx, "apply", id, func(cur *domain.Task) (*domain.Task, error) {
		return domain.ApplyOutcome(cur, o, s.now())
	})
}

func (s *TaskStore) RequestCancel(ctx context.Context, id string) (*domain.Task, error) {
	return s.update(ctx, "cancel", id, func(cur *domain.Task) (*domain.Task, error) {
		return domain.RequestCancel(cur, s.now())
	})
}

func (s *TaskStore) Finalize(ctx context.Context, id string) (*domain.Task, error) {
	return s.update(ctx, "finalize", id, func(cur *domain.Task) (*domain.Task, error) {
		return domain.Finalize(cur, s.now())
	})
}

func (s *TaskStore) Fail(ctx context.Context, id string, kind domain.ErrorKind, msg string) (*domain.Task, error) {
	return s.update(ctx, "fail", id, func(cur *domain.Task) (*domain.Task, error) {
		return domain.Fail(cur, kind, msg, s.now())
	})
}

func (s *TaskStore) ListByStatus(ctx context.Context, status domain.TaskStatus, limit int) ([]domain.Task, error) {
	var out []domain.Task
	_, err := s.run(ctx, "list", "", func(ctx context.Context) (*domain.Task, error) {
		tasks, err := s.repo.ListByStatus(ctx, status, limit)
		out = tasks
		return nil, err
	})
	return out, err
}

func (s *TaskStore) update(ctx context.Context, op, id string, fn ports.TaskMutation) (*domain.Task, error) {
	return s.run(ctx, op, id, func(ctx context.Context) (*domain.Task, error) {
		return s.repo.Update(ctx, id, fn)
	})
}

func (s *TaskStore) run(ctx context.Context, op, id string, call func(context.Context) (*domain.Task, error)) (*domain.Task, error) {
	task, attempts, err := retry.Do(ctx, s.policy, func(ctx context.Context, attempt int) retry.Result[*domain.Task] {
		task, err := call(ctx)
		switch {
		case err == nil:
			return retry.Ok(task)
		case isTransitionError(err), ctx.Err() != nil:
			return retry.Fatal[*domain.Task](err)
		default:
			return retry.Retryable[*domain.Task](err)
		}
	}, func(attempt int, reason error, wait time.Duration) {
		s.metrics.StoreRetried()
		s.logger.Warnw("task_store_retry", "op", op, "task_id", id, "attempt", attempt, "wait", wait, "error", reason)
	})
	if err == nil {
		return task, nil
	}
	if isTransitionError(err) || ctx.Err() != nil {
		return nil, err
	}
	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		err = exhausted.Last
	}
	s.logger.Errorw("task_store_failed", "op", op, "task_id", id, "attempts", attempts, "error", err)
	return nil, &StoreError{Op: op, TaskID: id, Attempts: attempts, Err: err}
}

func isTransitionError(err error) bool {
	return errors.Is(err, domain.ErrTaskNotFound) ||
		errors.Is(err, domain.ErrInvalidTransition) ||
		errors.Is(err, domain.ErrUnknownUnit) ||
		errors.Is(err, domain.ErrUnitsPending)
}
