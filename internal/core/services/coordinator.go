package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/reviewd/backend/internal/core/ports"
	"github.com/reviewd/backend/internal/domain"
	"github.com/reviewd/backend/internal/infrastructure/logger"
	"github.com/reviewd/backend/internal/infrastructure/metrics"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// TokenOpener decrypts a per-task GitHub token.
type TokenOpener interface {
	Open(cipherText string) (string, error)
}

type CoordinatorConfig struct {
	Store            *TaskStore
	Fetcher          ports.PullRequestFetcher
	Invoker          *AgentInvoker
	Tokens           TokenOpener
	Logger           *logger.Logger
	Metrics          *metrics.Metrics
	MaxParallelUnits int // in-flight units of one task
	GlobalMaxUnits   int // in-flight units across all tasks
}

// Coordinator drives one task from pending to a terminal state: fetch the
// pull request, plan units, fan them out and merge each outcome as it
// arrives.
type Coordinator struct {
	store    *TaskStore
	fetcher  ports.PullRequestFetcher
	invoker  *AgentInvoker
	tokens   TokenOpener
	logger   *logger.Logger
	metrics  *metrics.Metrics
	parallel int64
	global   *semaphore.Weighted

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	parallel := max(cfg.MaxParallelUnits, 1)
	global := max(cfg.GlobalMaxUnits, parallel)
	return &Coordinator{
		store:    cfg.Store,
		fetcher:  cfg.Fetcher,
		invoker:  cfg.Invoker,
		tokens:   cfg.Tokens,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		parallel: int64(parallel),
		global:   semaphore.NewWeighted(int64(global)),
		running:  make(map[string]context.CancelFunc),
	}
}

// Signal stops dispatching new units of a running task. The stored cancel
// flag stays authoritative; this only shortens the reaction time.
func (c *Coordinator) Signal(taskID string) {
	c.mu.Lock()
	stop, ok := c.running[taskID]
	c.mu.Unlock()
	if ok {
		stop()
	}
}

func (c *Coordinator) register(taskID string, stop context.CancelFunc) func() {
	c.mu.Lock()
	c.running[taskID] = stop
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.running, taskID)
		c.mu.Unlock()
		stop()
	}
}

// Run processes one task. A task that is no longer pending is left alone.
// The returned error is informational: every failure is also recorded on
// the task.
func (c *Coordinator) Run(ctx context.Context, taskID string) error {
	task, err := c.store.Claim(ctx, taskID)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) || errors.Is(err, domain.ErrTaskNotFound) {
			c.logger.Infow("analysis_claim_skipped", "task_id", taskID, "reason", err)
			return nil
		}
		return err
	}
	done := c.metrics.TaskStarted()
	defer done()

	dispatchCtx, stop := context.WithCancel(ctx)
	defer c.register(taskID, stop)()

	c.logger.Infow("analysis_started", "task_id", taskID, "repo_url", task.RepoURL, "pr_number", task.PRNumber)

	token := ""
	if task.GitHubToken != "" && c.tokens != nil {
		token, err = c.tokens.Open(task.GitHubToken)
		if err != nil {
			return c.fail(ctx, taskID, domain.ErrorKindFetch, "Failed to read GitHub token: "+err.Error())
		}
	}

	pr, err := c.fetcher.FetchPullRequest(ctx, task.RepoURL, task.PRNumber, token)
	if err != nil {
		if ctx.Err() != nil {
			return c.fail(ctx, taskID, domain.ErrorKindInterrupted, "Analysis interrupted during fetch")
		}
		return c.fail(ctx, taskID, KindOf(err), "Failed to fetch pull request: "+err.Error())
	}

	units, skipped, files := c.plan(pr, task.AnalysisTypes)
	task, err = c.store.Plan(ctx, taskID, units, skipped, &pr.Info)
	if err != nil {
		return c.abort(ctx, taskID, err)
	}
	for _, o := range skipped {
		c.metrics.UnitFinished(string(o.Unit.Agent), string(o.State))
	}
	if task.CancelRequested {
		stop()
	}
	c.logger.Infow("analysis_planned",
		"task_id", taskID,
		"files", len(pr.Files),
		"units", len(units),
		"skipped", len(skipped),
	)

	undispatched, err := c.dispatch(ctx, dispatchCtx, stop, task, pr, units, files)
	if err != nil {
		return c.abort(ctx, taskID, err)
	}
	for _, u := range undispatched {
		if _, err := c.store.Apply(ctx, taskID, domain.Skipped(u, string(domain.ErrorKindCancelled))); err != nil {
			return c.abort(ctx, taskID, err)
		}
		c.metrics.UnitFinished(string(u.Agent), string(domain.UnitStateSkipped))
	}

	final, err := c.store.Finalize(ctx, taskID)
	if err != nil {
		return c.abort(ctx, taskID, err)
	}
	c.metrics.TaskFinished(string(final.Status))
	c.logger.Infow("analysis_finished",
		"task_id", taskID,
		"status", final.Status,
		"message", final.Message,
		"agent_calls", final.AgentCalls,
		"cache_hits", final.CacheHits,
	)
	if final.CancelRequested {
		return &CancellationError{TaskID: taskID}
	}
	return nil
}

// plan splits the unit set into units to run and units skipped up front.
func (c *Coordinator) plan(pr *domain.PullRequest, agents []domain.AgentName) ([]domain.UnitKey, []domain.UnitOutcome, map[string]domain.FileChange) {
	files := make(map[string]domain.FileChange, len(pr.Files))
	var runnable []string
	var skipped []domain.UnitOutcome
	for _, f := range pr.Files {
		if _, dup := files[f.Path]; dup {
			continue
		}
		files[f.Path] = f
		if reason := c.invoker.Screen(f); reason != "" {
			for _, u := range domain.PlanUnits([]string{f.Path}, agents) {
				skipped = append(skipped, domain.Skipped(u, reason))
			}
			continue
		}
		runnable = append(runnable, f.Path)
	}
	return domain.PlanUnits(runnable, agents), skipped, files
}

// dispatch fans units out and merges outcomes as they complete. It returns
// the units never started because cancellation was requested. Units run on
// ctx so that in-flight work survives a cancel request; only dispatchCtx is
// stopped by one.
func (c *Coordinator) dispatch(ctx, dispatchCtx context.Context, stop context.CancelFunc, task *domain.Task, pr *domain.PullRequest, units []domain.UnitKey, files map[string]domain.FileChange) ([]domain.UnitKey, error) {
	local := semaphore.NewWeighted(c.parallel)
	var g errgroup.Group

	var mu sync.Mutex
	var storeErr error
	setErr := func(err error) {
		mu.Lock()
		if storeErr == nil {
			storeErr = err
		}
		mu.Unlock()
		stop()
	}

	var undispatched []domain.UnitKey
	for i, u := range units {
		if dispatchCtx.Err() != nil {
			undispatched = units[i:]
			break
		}
		if err := local.Acquire(dispatchCtx, 1); err != nil {
			undispatched = units[i:]
			break
		}
		if err := c.global.Acquire(dispatchCtx, 1); err != nil {
			local.Release(1)
			undispatched = units[i:]
			break
		}
		in := UnitInput{
			Unit:     u,
			File:     files[u.File],
			RepoURL:  task.RepoURL,
			PRNumber: task.PRNumber,
			PRTitle:  pr.Info.Title,
		}
		g.Go(func() error {
			defer local.Release(1)
			defer c.global.Release(1)

			out := c.invoker.Invoke(ctx, in)
			c.metrics.UnitFinished(string(u.Agent), string(out.State))
			merged, err := c.store.Apply(ctx, task.ID, out)
			if err != nil {
				setErr(err)
				return nil
			}
			if merged.CancelRequested {
				stop()
			}
			return nil
		})
	}
	_ = g.Wait()

	if storeErr != nil {
		return nil, storeErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return undispatched, nil
}

// abort records a failure that interrupted the normal flow.
func (c *Coordinator) abort(ctx context.Context, taskID string, err error) error {
	var serr *StoreError
	switch {
	case ctx.Err() != nil:
		return c.fail(ctx, taskID, domain.ErrorKindInterrupted, "Analysis interrupted by shutdown")
	case errors.As(err, &serr):
		return c.fail(ctx, taskID, domain.ErrorKindStore, "Task store unavailable: "+serr.Err.Error())
	default:
		return c.fail(ctx, taskID, KindOf(err), fmt.Sprintf("Analysis aborted: %v", err))
	}
}

// fail writes the terminal failure even when ctx is already done.
func (c *Coordinator) fail(ctx context.Context, taskID string, kind domain.ErrorKind, msg string) error {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	c.logger.Warnw("analysis_failed", "task_id", taskID, "kind", kind, "message", msg)
	task, err := c.store.Fail(wctx, taskID, kind, msg)
	if err != nil {
		c.logger.Errorw("analysis_fail_write_failed", "task_id", taskID, "error", err)
		return err
	}
	c.metrics.TaskFinished(string(task.Status))
	return errors.New(msg)
}
