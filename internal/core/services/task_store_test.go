package services

import (
	"context"
	"testing"
	"time"

	"github.com/reviewd/backend/internal/domain"
	"github.com/reviewd/backend/internal/infrastructure/db"
	"github.com/reviewd/backend/internal/infrastructure/logger"
	"github.com/reviewd/backend/pkg/utils/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStoreWithFailures(t *testing.T, maxRetries int, failOn ...int) (*TaskStore, *flakyRepo, *domain.Task) {
	t.Helper()
	repo := &flakyRepo{TaskRepository: db.NewMemoryTaskRepository(logger.NewNop()), failOn: map[int]bool{}}
	for _, n := range failOn {
		repo.failOn[n] = true
	}
	store := NewTaskStore(repo, retry.Policy{MaxRetries: maxRetries, InitialInterval: time.Millisecond}, logger.NewNop(), nil)
	task := domain.NewTask("1b4e28ba-2fa1-11d2-883f-0016d3cca427", "https://github.com/acme/widgets", 1, []domain.AgentName{domain.AgentStyle}, "normal", time.Now())
	require.NoError(t, store.Create(context.Background(), task))
	return store, repo, task
}

func TestTaskStore_RetriesTransientFailure(t *testing.T) {
	store, repo, task := newStoreWithFailures(t, 2, 1)

	claimed, err := store.Claim(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusProcessing, claimed.Status)
	assert.Equal(t, 2, repo.updates)
}

func TestTaskStore_ExhaustionReturnsStoreError(t *testing.T) {
	store, repo, task := newStoreWithFailures(t, 1, 1, 2)

	_, err := store.Claim(context.Background(), task.ID)
	var serr *StoreError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "claim", serr.Op)
	assert.Equal(t, 2, serr.Attempts)
	assert.Equal(t, domain.ErrorKindStore, KindOf(err))
	assert.Equal(t, 2, repo.updates)
}

func TestTaskStore_TransitionErrorsAreNotRetried(t *testing.T) {
	store, repo, task := newStoreWithFailures(t, 3)

	_, err := store.Finalize(context.Background(), task.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Equal(t, 1, repo.updates)

	_, err = store.Get(context.Background(), "6fa459ea-ee8a-3ca4-894e-db77e160355e")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestTaskStore_ReappliedOutcomeIsIdempotent(t *testing.T) {
	store, _, task := newStoreWithFailures(t, 1)
	ctx := context.Background()
	unit := domain.UnitKey{File: "a.go", Agent: domain.AgentStyle}

	_, err := store.Claim(ctx, task.ID)
	require.NoError(t, err)
	_, err = store.Plan(ctx, task.ID, []domain.UnitKey{unit}, nil, nil)
	require.NoError(t, err)

	first, err := store.Apply(ctx, task.ID, domain.Succeeded(unit, domain.FindingSet{Agent: domain.AgentStyle}, false))
	require.NoError(t, err)
	again, err := store.Apply(ctx, task.ID, domain.Failed(unit, domain.ErrorKindAgent, "late duplicate"))
	require.NoError(t, err)

	assert.Equal(t, first.Revision, again.Revision)
	assert.Empty(t, again.Errors)
	assert.Equal(t, 1, again.ProgressCompleted)
}
