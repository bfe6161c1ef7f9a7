package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/reviewd/backend/internal/core/ports"
	"github.com/reviewd/backend/internal/domain"
	"github.com/reviewd/backend/internal/infrastructure/logger"
	"github.com/reviewd/backend/internal/infrastructure/metrics"
	"github.com/reviewd/backend/pkg/utils/keygen"
)

// TokenSealer encrypts a per-task GitHub token before it is stored.
type TokenSealer interface {
	Seal(plainText string) (string, error)
}

type AgentResolver interface {
	Resolve(types []string) ([]domain.AgentName, error)
}

type Enqueuer interface {
	Enqueue(taskID string) error
}

type CancelSignaler interface {
	Signal(taskID string)
}

type AnalysisServiceConfig struct {
	Store               *TaskStore
	Queue               Enqueuer
	Agents              AgentResolver
	Signaler            CancelSignaler
	Tokens              TokenSealer
	Logger              *logger.Logger
	Metrics             *metrics.Metrics
	DefaultTypes        []string
	FailOrphanedOnStart bool
	RecoveryBatchSize   int
}

// AnalysisService is the submission and polling gateway behind the HTTP
// handlers.
type AnalysisService struct {
	store        *TaskStore
	queue        Enqueuer
	agents       AgentResolver
	signaler     CancelSignaler
	tokens       TokenSealer
	logger       *logger.Logger
	metrics      *metrics.Metrics
	defaultTypes []string
	failOrphaned bool
	batchSize    int
}

func NewAnalysisService(cfg AnalysisServiceConfig) *AnalysisService {
	return &AnalysisService{
		store:        cfg.Store,
		queue:        cfg.Queue,
		agents:       cfg.Agents,
		signaler:     cfg.Signaler,
		tokens:       cfg.Tokens,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
		defaultTypes: cfg.DefaultTypes,
		failOrphaned: cfg.FailOrphanedOnStart,
		batchSize:    max(cfg.RecoveryBatchSize, 1),
	}
}

var _ ports.AnalysisService = (*AnalysisService)(nil)

var validPriorities = map[string]bool{"low": true, "normal": true, "high": true}

// Submit validates the request, stores a pending task and queues it. A
// task that cannot be queued is failed immediately so it never lingers.
func (s *AnalysisService) Submit(ctx context.Context, in ports.SubmitInput) (*domain.Task, error) {
	agents, priority, err := s.validate(in)
	if err != nil {
		s.logger.Infow("analysis_submit_rejected", "repo_url", in.RepoURL, "pr_number", in.PRNumber, "error", err)
		return nil, err
	}

	task := domain.NewTask(keygen.NewTaskID(), strings.TrimSpace(in.RepoURL), in.PRNumber, agents, priority, time.Now().UTC())
	if in.GitHubToken != "" {
		if s.tokens == nil {
			s.logger.Warnw("github token ignored: no encryption key configured", "task_id", task.ID)
		} else {
			sealed, err := s.tokens.Seal(in.GitHubToken)
			if err != nil {
				s.logger.Errorw("analysis_token_seal_failed", "task_id", task.ID, "error", err)
				return nil, ErrTokenSealFail
			}
			task.GitHubToken = sealed
		}
	}

	if err := s.store.Create(ctx, task); err != nil {
		return nil, err
	}
	s.metrics.TaskSubmitted()

	if err := s.queue.Enqueue(task.ID); err != nil {
		s.logger.Warnw("analysis_enqueue_failed", "task_id", task.ID, "error", err)
		if _, ferr := s.store.Fail(ctx, task.ID, domain.ErrorKindScheduling, "Analysis could not be scheduled: "+err.Error()); ferr != nil {
			s.logger.Errorw("analysis_enqueue_fail_write_failed", "task_id", task.ID, "error", ferr)
		}
		s.metrics.TaskFinished(string(domain.TaskStatusFailed))
		return nil, err
	}

	s.logger.Infow("analysis_submitted",
		"task_id", task.ID,
		"repo_url", task.RepoURL,
		"pr_number", task.PRNumber,
		"analysis_types", agents,
		"priority", priority,
	)
	return task, nil
}

func (s *AnalysisService) validate(in ports.SubmitInput) ([]domain.AgentName, string, error) {
	var details []string
	if strings.TrimSpace(in.RepoURL) == "" {
		details = append(details, "repo_url is required")
	} else if _, _, err := domain.ParseRepoURL(in.RepoURL); err != nil {
		details = append(details, fmt.Sprintf("repo_url: %v", err))
	}
	if in.PRNumber <= 0 {
		details = append(details, "pr_number must be a positive integer")
	}

	types := in.AnalysisTypes
	if len(types) == 0 {
		types = s.defaultTypes
	}
	agents, err := s.agents.Resolve(types)
	if err != nil {
		details = append(details, fmt.Sprintf("analysis_types: %v", err))
	} else if len(agents) == 0 {
		details = append(details, "analysis_types: "+ErrNoAgents.Error())
	}

	priority := strings.ToLower(strings.TrimSpace(in.Priority))
	if priority == "" {
		priority = "normal"
	}
	if !validPriorities[priority] {
		details = append(details, fmt.Sprintf("priority must be one of low, normal, high; got %q", in.Priority))
	}

	if len(details) > 0 {
		return nil, "", &ValidationError{Details: details}
	}
	return agents, priority, nil
}

func (s *AnalysisService) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	if !keygen.IsTaskID(id) {
		return nil, ErrTaskNotFound
	}
	return s.store.Get(ctx, id)
}

// CancelTask fails a pending task at once; a processing task stops
// dispatching and fails once in-flight units have merged.
func (s *AnalysisService) CancelTask(ctx context.Context, id string) (*domain.Task, error) {
	if !keygen.IsTaskID(id) {
		return nil, ErrTaskNotFound
	}
	task, err := s.store.RequestCancel(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			return nil, ErrTaskAlreadyTerminal
		}
		return nil, err
	}
	if task.Status == domain.TaskStatusFailed {
		s.metrics.TaskFinished(string(task.Status))
	}
	if s.signaler != nil {
		s.signaler.Signal(id)
	}
	s.logger.Infow("analysis_cancel_requested", "task_id", id, "status", task.Status)
	return task, nil
}

// Recover resumes work left behind by a previous process. Pending tasks
// are queued again. Processing tasks are failed as interrupted when
// configured to; otherwise they are left to whichever instance owns them.
func (s *AnalysisService) Recover(ctx context.Context) error {
	if s.failOrphaned {
		orphaned, err := s.store.ListByStatus(ctx, domain.TaskStatusProcessing, s.batchSize)
		if err != nil {
			return fmt.Errorf("listing processing tasks: %w", err)
		}
		for _, t := range orphaned {
			if _, err := s.store.Fail(ctx, t.ID, domain.ErrorKindInterrupted, "Analysis interrupted by a service restart"); err != nil {
				s.logger.Errorw("analysis_recover_fail_failed", "task_id", t.ID, "error", err)
				continue
			}
			s.metrics.TaskFinished(string(domain.TaskStatusFailed))
		}
		if len(orphaned) > 0 {
			s.logger.Warnw("analysis_recover_orphaned", "count", len(orphaned))
		}
	}

	pending, err := s.store.ListByStatus(ctx, domain.TaskStatusPending, s.batchSize)
	if err != nil {
		return fmt.Errorf("listing pending tasks: %w", err)
	}
	requeued := 0
	for _, t := range pending {
		if err := s.queue.Enqueue(t.ID); err != nil {
			s.logger.Warnw("analysis_recover_enqueue_stopped", "task_id", t.ID, "error", err)
			break
		}
		requeued++
	}
	s.logger.Infow("analysis_recover_ok", "requeued", requeued, "pending", len(pending))
	return nil
}
