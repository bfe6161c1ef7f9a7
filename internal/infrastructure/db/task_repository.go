package db

import (
	"context"
	"errors"

	"github.com/reviewd/backend/internal/core/ports"
	"github.com/reviewd/backend/internal/domain"
	"github.com/reviewd/backend/internal/infrastructure/logger"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type taskRepository struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTaskRepository(db *gorm.DB, log *logger.Logger) ports.TaskRepository {
	return &taskRepository{db: db, log: log}
}

func (r *taskRepository) Create(ctx context.Context, task *domain.Task) error {
	if err := r.db.WithContext(ctx).Create(task).Error; err != nil {
		r.log.Errorw("task_repo_create_failed", "task_id", task.ID, "error", err)
		return err
	}
	r.log.Infow("task_repo_create_ok", "task_id", task.ID, "repo_url", task.RepoURL, "pr_number", task.PRNumber)
	return nil
}

func (r *taskRepository) GetByID(ctx context.Context, id string) (*domain.Task, error) {
	var task domain.Task
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&task).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		r.log.Errorw("task_repo_get_failed", "task_id", id, "error", err)
		return nil, err
	}
	return &task, nil
}

// Update locks the row for the duration of fn. The revision guard rejects
// writers on backends without row locks.
func (r *taskRepository) Update(ctx context.Context, id string, fn ports.TaskMutation) (*domain.Task, error) {
	var out *domain.Task
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cur domain.Task
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&cur).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrTaskNotFound
			}
			return err
		}

		next, err := fn(&cur)
		if err != nil {
			return err
		}
		if next == &cur {
			out = &cur
			return nil
		}

		res := tx.Model(next).Where("revision = ?", cur.Revision).Select("*").Updates(next)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrConcurrentUpdate
		}
		out = next
		return nil
	})
	if err != nil {
		if !errors.Is(err, domain.ErrTaskNotFound) && !errors.Is(err, domain.ErrInvalidTransition) {
			r.log.Errorw("task_repo_update_failed", "task_id", id, "error", err)
		}
		return nil, err
	}
	r.log.Debugw("task_repo_update_ok", "task_id", id, "status", out.Status, "revision", out.Revision)
	return out, nil
}

func (r *taskRepository) ListByStatus(ctx context.Context, status domain.TaskStatus, limit int) ([]domain.Task, error) {
	var tasks []domain.Task
	q := r.db.WithContext(ctx).Where("status = ?", status).Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&tasks).Error; err != nil {
		r.log.Errorw("task_repo_list_failed", "status", status, "error", err)
		return nil, err
	}
	return tasks, nil
}

func (r *taskRepository) CountByStatus(ctx context.Context) (map[domain.TaskStatus]int64, error) {
	var rows []struct {
		Status domain.TaskStatus
		Count  int64
	}
	if err := r.db.WithContext(ctx).Model(&domain.Task{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error; err != nil {
		r.log.Errorw("task_repo_count_failed", "error", err)
		return nil, err
	}
	out := make(map[domain.TaskStatus]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.Count
	}
	return out, nil
}

func (r *taskRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
