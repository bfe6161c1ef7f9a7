package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/reviewd/backend/internal/core/agents"
	"github.com/reviewd/backend/internal/core/ports"
	"github.com/reviewd/backend/internal/domain"
	"github.com/reviewd/backend/internal/infrastructure/cache"
	"github.com/reviewd/backend/internal/infrastructure/db"
	"github.com/reviewd/backend/internal/infrastructure/logger"
	"github.com/reviewd/backend/pkg/utils/retry"
	"github.com/stretchr/testify/require"
)

var fastRetry = retry.Policy{MaxRetries: 2, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}

// scriptedAgent answers from a function and recovers findings like the
// real agent of the same name.
type scriptedAgent struct {
	ports.Agent
	version string
	calls   atomic.Int32
	respond func(ctx context.Context, req ports.AgentRequest, call int) (string, error)
}

func newScriptedAgent(name domain.AgentName, respond func(ctx context.Context, req ports.AgentRequest, call int) (string, error)) *scriptedAgent {
	var real ports.Agent
	switch name {
	case domain.AgentStyle:
		real = agents.NewStyleAgent(nil, "v1")
	case domain.AgentBug:
		real = agents.NewBugAgent(nil, "v1")
	case domain.AgentSecurity:
		real = agents.NewSecurityAgent(nil, "v1")
	default:
		real = agents.NewPerformanceAgent(nil, "v1")
	}
	return &scriptedAgent{Agent: real, version: "v1", respond: respond}
}

func (a *scriptedAgent) Version() string { return a.version }

func (a *scriptedAgent) Analyze(ctx context.Context, req ports.AgentRequest) (ports.AgentResponse, error) {
	n := int(a.calls.Add(1))
	raw, err := a.respond(ctx, req, n)
	if err != nil {
		return ports.AgentResponse{}, err
	}
	return ports.AgentResponse{Raw: raw}, nil
}

func reply(raw string) func(context.Context, ports.AgentRequest, int) (string, error) {
	return func(context.Context, ports.AgentRequest, int) (string, error) { return raw, nil }
}

func failWith(err error) func(context.Context, ports.AgentRequest, int) (string, error) {
	return func(context.Context, ports.AgentRequest, int) (string, error) { return "", err }
}

const oneIssue = `{"issues":[{"type":"naming","line":3,"severity":"low","description":"unclear name","confidence_score":0.9}]}`

type fakeFetcher struct {
	mu    sync.Mutex
	pr    *domain.PullRequest
	err   error
	token string
	calls int
}

func (f *fakeFetcher) FetchPullRequest(_ context.Context, _ string, _ int, token string) (*domain.PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.token = token
	if f.err != nil {
		return nil, f.err
	}
	return f.pr, nil
}

func (f *fakeFetcher) Ping(context.Context) error { return f.err }

func sourceFile(path, content string) domain.FileChange {
	return domain.FileChange{Path: path, Status: "modified", Content: []byte(content), Size: int64(len(content))}
}

func pullRequest(files ...domain.FileChange) *domain.PullRequest {
	return &domain.PullRequest{Info: domain.PullRequestInfo{Title: "Add widget", HeadSHA: "abc123"}, Files: files}
}

// recordingQueue stores ids instead of running them.
type recordingQueue struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (q *recordingQueue) Enqueue(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.ids = append(q.ids, id)
	return nil
}

// flakyRepo fails the Update calls whose 1-based index is listed.
type flakyRepo struct {
	ports.TaskRepository
	mu      sync.Mutex
	updates int
	failOn  map[int]bool
}

func (r *flakyRepo) Update(ctx context.Context, id string, fn ports.TaskMutation) (*domain.Task, error) {
	r.mu.Lock()
	r.updates++
	fail := r.failOn[r.updates]
	r.mu.Unlock()
	if fail {
		return nil, errors.New("connection reset by peer")
	}
	return r.TaskRepository.Update(ctx, id, fn)
}

type harness struct {
	repo    ports.TaskRepository
	store   *TaskStore
	cache   *cache.ResultCache
	fetcher *fakeFetcher
	invoker *AgentInvoker
	coord   *Coordinator
	svc     *AnalysisService
	queue   *recordingQueue
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	repo         ports.TaskRepository
	parallel     int
	maxFileBytes int64
	tokens       interface {
		TokenSealer
		TokenOpener
	}
}

func withRepo(repo ports.TaskRepository) harnessOption {
	return func(c *harnessConfig) { c.repo = repo }
}

func withParallel(n int) harnessOption {
	return func(c *harnessConfig) { c.parallel = n }
}

func withTokens(t interface {
	TokenSealer
	TokenOpener
}) harnessOption {
	return func(c *harnessConfig) { c.tokens = t }
}

func newHarness(t *testing.T, fetcher *fakeFetcher, agentSet []ports.Agent, opts ...harnessOption) *harness {
	t.Helper()
	log := logger.NewNop()
	cfg := harnessConfig{
		repo:         db.NewMemoryTaskRepository(log),
		parallel:     4,
		maxFileBytes: 1 << 20,
	}
	for _, o := range opts {
		o(&cfg)
	}

	registry := agents.NewRegistryOf(agentSet...)
	store := NewTaskStore(cfg.repo, retry.Policy{MaxRetries: 1, InitialInterval: time.Millisecond}, log, nil)
	resultCache := cache.New(cache.Config{MaxEntries: 64, TTL: time.Hour}, nil, log, nil)
	invoker := NewAgentInvoker(registry, resultCache, InvokerConfig{
		CallTimeout:  time.Second,
		Retry:        fastRetry,
		MaxFileBytes: cfg.maxFileBytes,
	}, log, nil)

	h := &harness{
		repo:    cfg.repo,
		store:   store,
		cache:   resultCache,
		fetcher: fetcher,
		invoker: invoker,
		queue:   &recordingQueue{},
	}
	coordCfg := CoordinatorConfig{
		Store:            store,
		Fetcher:          fetcher,
		Invoker:          invoker,
		Logger:           log,
		MaxParallelUnits: cfg.parallel,
		GlobalMaxUnits:   cfg.parallel,
	}
	svcCfg := AnalysisServiceConfig{
		Store:             store,
		Queue:             h.queue,
		Agents:            registry,
		Logger:            log,
		RecoveryBatchSize: 100,
	}
	if cfg.tokens != nil {
		coordCfg.Tokens = cfg.tokens
		svcCfg.Tokens = cfg.tokens
	}
	h.coord = NewCoordinator(coordCfg)
	svcCfg.Signaler = h.coord
	h.svc = NewAnalysisService(svcCfg)
	return h
}

func (h *harness) submit(t *testing.T, types ...string) *domain.Task {
	t.Helper()
	task, err := h.svc.Submit(context.Background(), ports.SubmitInput{
		RepoURL:       "https://github.com/acme/widgets",
		PRNumber:      42,
		AnalysisTypes: types,
	})
	require.NoError(t, err)
	return task
}

func (h *harness) get(t *testing.T, id string) *domain.Task {
	t.Helper()
	task, err := h.svc.GetTask(context.Background(), id)
	require.NoError(t, err)
	return task
}
