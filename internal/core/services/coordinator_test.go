package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/reviewd/backend/internal/core/ports"
	"github.com/reviewd/backend/internal/domain"
	"github.com/reviewd/backend/internal/infrastructure/db"
	"github.com/reviewd/backend/internal/infrastructure/llm"
	"github.com/reviewd/backend/internal/infrastructure/logger"
	"github.com/reviewd/backend/pkg/utils/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_CompletesSingleFileWithTwoAgents(t *testing.T) {
	fetcher := &fakeFetcher{pr: pullRequest(sourceFile("src/app.py", "def main():\n    return 1\n"))}
	h := newHarness(t, fetcher, []ports.Agent{
		newScriptedAgent(domain.AgentStyle, reply(oneIssue)),
		newScriptedAgent(domain.AgentBug, reply(`{"issues":[]}`)),
	})
	task := h.submit(t, "style", "bug")
	assert.Equal(t, domain.TaskStatusPending, task.Status)
	assert.Equal(t, []string{task.ID}, h.queue.ids)

	require.NoError(t, h.coord.Run(context.Background(), task.ID))

	got := h.get(t, task.ID)
	assert.Equal(t, domain.TaskStatusCompleted, got.Status)
	require.Len(t, got.Results, 1)
	require.Contains(t, got.Results, "src/app.py")
	assert.Len(t, got.Results["src/app.py"], 2)
	assert.Len(t, got.Results["src/app.py"][domain.AgentStyle].Findings, 1)
	assert.Empty(t, got.Errors)
	assert.Equal(t, 2, got.ProgressCompleted)
	assert.Equal(t, 2, got.ProgressTotal)
	assert.Equal(t, 100, got.Percentage())
	assert.Equal(t, "Analysis completed: 1 issues found", got.Message)
	assert.Equal(t, 2, got.AgentCalls)
	require.NotNil(t, got.PullRequest)
	assert.Equal(t, "Add widget", got.PullRequest.Title)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.CompletedAt)
}

func TestRun_RateLimitedFetchFailsTask(t *testing.T) {
	fetcher := &fakeFetcher{err: domain.NewFetchError(domain.FetchRateLimited, http.StatusForbidden, "GitHub API rate limit exceeded")}
	agent := newScriptedAgent(domain.AgentStyle, reply(oneIssue))
	h := newHarness(t, fetcher, []ports.Agent{agent})
	task := h.submit(t)

	err := h.coord.Run(context.Background(), task.ID)
	require.Error(t, err)

	got := h.get(t, task.ID)
	assert.Equal(t, domain.TaskStatusFailed, got.Status)
	assert.Contains(t, got.Message, "rate_limited")
	assert.Empty(t, got.Results)
	require.Len(t, got.Errors, 1)
	assert.Equal(t, domain.ErrorKindFetch, got.Errors[0].Kind)
	assert.Zero(t, agent.calls.Load())
}

func TestRun_OversizedBinaryIsSkipped(t *testing.T) {
	huge := make([]byte, 1<<20+1)
	fetcher := &fakeFetcher{pr: pullRequest(
		domain.FileChange{Path: "vendor/model.js", Content: huge, Size: 50 << 20},
		sourceFile("main.go", "package main\n"),
	)}
	agent := newScriptedAgent(domain.AgentStyle, reply(oneIssue))
	h := newHarness(t, fetcher, []ports.Agent{agent})
	task := h.submit(t)

	require.NoError(t, h.coord.Run(context.Background(), task.ID))

	got := h.get(t, task.ID)
	assert.Equal(t, domain.TaskStatusCompleted, got.Status)
	assert.Equal(t, 2, got.ProgressTotal)
	assert.Equal(t, 2, got.ProgressCompleted)
	assert.Contains(t, got.Results, "main.go")
	assert.NotContains(t, got.Results, "vendor/model.js")
	assert.Equal(t, int32(1), agent.calls.Load())

	skipped := got.SkippedUnits()
	require.Len(t, skipped, 1)
	assert.Equal(t, "vendor/model.js", skipped[0].File)
	assert.Contains(t, skipped[0].Reason, "exceeds")
	assert.Equal(t, 1, got.Summary().SkippedUnits)
}

func TestRun_NoAnalyzableFilesCompletes(t *testing.T) {
	fetcher := &fakeFetcher{pr: pullRequest()}
	h := newHarness(t, fetcher, []ports.Agent{newScriptedAgent(domain.AgentStyle, reply(oneIssue))})
	task := h.submit(t)

	require.NoError(t, h.coord.Run(context.Background(), task.ID))

	got := h.get(t, task.ID)
	assert.Equal(t, domain.TaskStatusCompleted, got.Status)
	assert.Equal(t, "No analyzable files found", got.Message)
	assert.Equal(t, 100, got.Percentage())
}

func TestRun_PartialFailureStillCompletes(t *testing.T) {
	fetcher := &fakeFetcher{pr: pullRequest(sourceFile("a.go", "package a\n"), sourceFile("b.go", "package b\n"))}
	h := newHarness(t, fetcher, []ports.Agent{
		newScriptedAgent(domain.AgentStyle, reply(oneIssue)),
		newScriptedAgent(domain.AgentBug, failWith(&llm.APIError{Status: http.StatusBadRequest, Message: "prompt too long"})),
	})
	task := h.submit(t, "style", "bug")

	require.NoError(t, h.coord.Run(context.Background(), task.ID))

	got := h.get(t, task.ID)
	assert.Equal(t, domain.TaskStatusCompleted, got.Status)
	assert.Equal(t, "Analysis completed with 2 of 4 units failed", got.Message)
	require.Len(t, got.Errors, 2)
	assert.Equal(t, "a.go", got.Errors[0].File)
	assert.Equal(t, "b.go", got.Errors[1].File)
	for _, e := range got.Errors {
		assert.Equal(t, domain.ErrorKindAgent, e.Kind)
		assert.Equal(t, domain.AgentBug, e.Agent)
	}
	assert.Len(t, got.Results, 2)
	assert.NotContains(t, got.Results["a.go"], domain.AgentBug)
	assert.Equal(t, 2, got.Summary().FailedUnits)
}

func TestRun_AllUnitsFailedFailsTask(t *testing.T) {
	fetcher := &fakeFetcher{pr: pullRequest(sourceFile("a.go", "package a\n"))}
	h := newHarness(t, fetcher, []ports.Agent{
		newScriptedAgent(domain.AgentStyle, failWith(errors.New("boom"))),
	})
	task := h.submit(t)

	require.NoError(t, h.coord.Run(context.Background(), task.ID))

	got := h.get(t, task.ID)
	assert.Equal(t, domain.TaskStatusFailed, got.Status)
	assert.Equal(t, "All 1 analysis units failed", got.Message)
	assert.Equal(t, 1, got.ProgressCompleted)
}

func TestRun_SecondRunIsANoop(t *testing.T) {
	fetcher := &fakeFetcher{pr: pullRequest(sourceFile("a.go", "package a\n"))}
	h := newHarness(t, fetcher, []ports.Agent{newScriptedAgent(domain.AgentStyle, reply(oneIssue))})
	task := h.submit(t)

	require.NoError(t, h.coord.Run(context.Background(), task.ID))
	before := h.get(t, task.ID)
	require.NoError(t, h.coord.Run(context.Background(), task.ID))
	after := h.get(t, task.ID)

	assert.Equal(t, before.Revision, after.Revision)
	assert.Equal(t, 1, fetcher.calls)
}

func TestRun_CancelStopsDispatchAndKeepsInFlightResults(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	agent := newScriptedAgent(domain.AgentStyle, func(context.Context, ports.AgentRequest, int) (string, error) {
		once.Do(func() { close(started) })
		<-release
		return oneIssue, nil
	})
	fetcher := &fakeFetcher{pr: pullRequest(
		sourceFile("a.go", "package a\n"),
		sourceFile("b.go", "package b\n"),
		sourceFile("c.go", "package c\n"),
	)}
	h := newHarness(t, fetcher, []ports.Agent{agent}, withParallel(1))
	task := h.submit(t)

	done := make(chan error, 1)
	go func() { done <- h.coord.Run(context.Background(), task.ID) }()

	<-started
	cancelled, err := h.svc.CancelTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.True(t, cancelled.CancelRequested)
	assert.Equal(t, domain.TaskStatusProcessing, cancelled.Status)
	close(release)

	select {
	case err := <-done:
		var cerr *CancellationError
		assert.ErrorAs(t, err, &cerr)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancellation")
	}

	got := h.get(t, task.ID)
	assert.Equal(t, domain.TaskStatusFailed, got.Status)
	assert.Equal(t, "Task cancelled", got.Message)
	assert.Equal(t, 3, got.ProgressCompleted)
	assert.Contains(t, got.Results, "a.go", "in-flight unit is merged")
	assert.Len(t, got.Results, 1)
	assert.Equal(t, int32(1), agent.calls.Load())

	skipped := got.SkippedUnits()
	require.Len(t, skipped, 2)
	for _, u := range skipped {
		assert.Equal(t, string(domain.ErrorKindCancelled), u.Reason)
	}
	require.NotEmpty(t, got.Errors)
	assert.Equal(t, domain.ErrorKindCancelled, got.Errors[len(got.Errors)-1].Kind)
}

func TestRun_CancelledBeforeClaimIsLeftAlone(t *testing.T) {
	fetcher := &fakeFetcher{pr: pullRequest(sourceFile("a.go", "package a\n"))}
	h := newHarness(t, fetcher, []ports.Agent{newScriptedAgent(domain.AgentStyle, reply(oneIssue))})
	task := h.submit(t)

	cancelled, err := h.svc.CancelTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, cancelled.Status)

	require.NoError(t, h.coord.Run(context.Background(), task.ID))
	assert.Zero(t, fetcher.calls)

	_, err = h.svc.CancelTask(context.Background(), task.ID)
	assert.ErrorIs(t, err, ErrTaskAlreadyTerminal)
}

func TestRun_RespectsParallelismBound(t *testing.T) {
	var inFlight, peak atomic.Int32
	agent := newScriptedAgent(domain.AgentStyle, func(context.Context, ports.AgentRequest, int) (string, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return `{"issues":[]}`, nil
	})
	var files []domain.FileChange
	for i := 0; i < 8; i++ {
		files = append(files, sourceFile(fmt.Sprintf("f%d.go", i), fmt.Sprintf("package f%d\n", i)))
	}
	h := newHarness(t, &fakeFetcher{pr: pullRequest(files...)}, []ports.Agent{agent}, withParallel(2))
	task := h.submit(t)

	require.NoError(t, h.coord.Run(context.Background(), task.ID))

	got := h.get(t, task.ID)
	assert.Equal(t, domain.TaskStatusCompleted, got.Status)
	assert.Equal(t, 8, got.ProgressCompleted)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestRun_SharedFileContentHitsCache(t *testing.T) {
	agent := newScriptedAgent(domain.AgentStyle, reply(oneIssue))
	fetcher := &fakeFetcher{pr: pullRequest(sourceFile("a.go", "package a\n"))}
	h := newHarness(t, fetcher, []ports.Agent{agent})

	first := h.submit(t)
	require.NoError(t, h.coord.Run(context.Background(), first.ID))
	second := h.submit(t)
	require.NoError(t, h.coord.Run(context.Background(), second.ID))

	got := h.get(t, second.ID)
	assert.Equal(t, domain.TaskStatusCompleted, got.Status)
	assert.Equal(t, 1, got.CacheHits)
	assert.Zero(t, got.AgentCalls)
	assert.Equal(t, "100.0%", got.Summary().CacheHitRate)
	assert.Equal(t, int32(1), agent.calls.Load())
}

func TestRun_StoreFailureEscalates(t *testing.T) {
	// Updates: 1 claim, 2 plan, 3 and 4 apply (both fail), 5 fail.
	repo := &flakyRepo{TaskRepository: db.NewMemoryTaskRepository(logger.NewNop()), failOn: map[int]bool{3: true, 4: true}}
	fetcher := &fakeFetcher{pr: pullRequest(sourceFile("a.go", "package a\n"))}
	h := newHarness(t, fetcher, []ports.Agent{newScriptedAgent(domain.AgentStyle, reply(oneIssue))}, withRepo(repo))
	task := h.submit(t)

	err := h.coord.Run(context.Background(), task.ID)
	require.Error(t, err)

	got := h.get(t, task.ID)
	assert.Equal(t, domain.TaskStatusFailed, got.Status)
	require.NotEmpty(t, got.Errors)
	assert.Equal(t, domain.ErrorKindStore, got.Errors[len(got.Errors)-1].Kind)
	assert.Equal(t, got.ProgressTotal, got.ProgressCompleted)
}

func TestRun_UsesDecryptedSubmissionToken(t *testing.T) {
	cipher, err := crypto.NewTokenCipher("a-test-secret-that-is-long-enough")
	require.NoError(t, err)
	fetcher := &fakeFetcher{pr: pullRequest(sourceFile("a.go", "package a\n"))}
	h := newHarness(t, fetcher, []ports.Agent{newScriptedAgent(domain.AgentStyle, reply(oneIssue))}, withTokens(cipher))

	task, err := h.svc.Submit(context.Background(), ports.SubmitInput{
		RepoURL:     "https://github.com/acme/widgets",
		PRNumber:    42,
		GitHubToken: "ghp_user_token",
	})
	require.NoError(t, err)

	stored, err := h.repo.GetByID(context.Background(), task.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, stored.GitHubToken)
	assert.False(t, strings.Contains(stored.GitHubToken, "ghp_user_token"))

	require.NoError(t, h.coord.Run(context.Background(), task.ID))
	assert.Equal(t, "ghp_user_token", fetcher.token)
}
