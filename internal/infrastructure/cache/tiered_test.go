package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/reviewd/backend/internal/domain"
	"github.com/reviewd/backend/internal/infrastructure/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeShared struct {
	mu      sync.Mutex
	entries map[string]domain.CacheEntry
	inserts int
	failGet bool
}

func newFakeShared() *fakeShared {
	return &fakeShared{entries: map[string]domain.CacheEntry{}}
}

func (f *fakeShared) Get(_ context.Context, fp string) (*domain.CacheEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failGet {
		return nil, errors.New("connection refused")
	}
	e, ok := f.entries[fp]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (f *fakeShared) Insert(_ context.Context, e *domain.CacheEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserts++
	if _, ok := f.entries[e.Fingerprint]; !ok {
		f.entries[e.Fingerprint] = *e
	}
	return nil
}

func (f *fakeShared) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for k, e := range f.entries {
		if e.CreatedAt.Before(cutoff) {
			delete(f.entries, k)
			n++
		}
	}
	return n, nil
}

func (f *fakeShared) Count(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.entries)), nil
}

func sampleSet() domain.FindingSet {
	return domain.FindingSet{
		Agent:        domain.AgentStyle,
		AgentVersion: "v1",
		Confidence:   0.8,
		Findings:     []domain.Finding{{Type: "line_length", Line: 12, Severity: domain.SeverityLow, Description: "line too long"}},
	}
}

func TestResultCache_PutThenGet(t *testing.T) {
	c := New(Config{MaxEntries: 8, TTL: time.Hour}, nil, logger.NewNop(), nil)
	ctx := context.Background()

	_, ok := c.Get(ctx, "fp")
	assert.False(t, ok)

	c.Put(ctx, "fp", "a.go", sampleSet())
	got, ok := c.Get(ctx, "fp")
	require.True(t, ok)
	assert.Equal(t, sampleSet(), got)

	st := c.Stats(ctx)
	assert.Equal(t, uint64(1), st.Hits)
	assert.Equal(t, uint64(1), st.Misses)
	assert.Equal(t, 1, st.LocalSize)
	assert.InDelta(t, 0.5, st.HitRate, 1e-9)
}

func TestResultCache_ReturnedValueIsACopy(t *testing.T) {
	c := New(Config{MaxEntries: 8, TTL: time.Hour}, nil, logger.NewNop(), nil)
	ctx := context.Background()
	c.Put(ctx, "fp", "a.go", sampleSet())

	got, _ := c.Get(ctx, "fp")
	got.Findings[0].Description = "mutated"

	again, _ := c.Get(ctx, "fp")
	assert.Equal(t, "line too long", again.Findings[0].Description)
}

func TestResultCache_ConcurrentPutsConverge(t *testing.T) {
	shared := newFakeShared()
	c := New(Config{MaxEntries: 8, TTL: time.Hour}, shared, logger.NewNop(), nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Put(ctx, "fp", "a.go", sampleSet())
		}()
	}
	wg.Wait()

	got, ok := c.Get(ctx, "fp")
	require.True(t, ok)
	assert.Equal(t, sampleSet(), got)
	n, _ := shared.Count(ctx)
	assert.Equal(t, int64(1), n)
}

func TestResultCache_SharedTierServesOtherProcesses(t *testing.T) {
	shared := newFakeShared()
	writer := New(Config{MaxEntries: 8, TTL: time.Hour}, shared, logger.NewNop(), nil)
	reader := New(Config{MaxEntries: 8, TTL: time.Hour}, shared, logger.NewNop(), nil)
	ctx := context.Background()

	writer.Put(ctx, "fp", "a.go", sampleSet())
	got, ok := reader.Get(ctx, "fp")
	require.True(t, ok)
	assert.Equal(t, sampleSet(), got)
	assert.Equal(t, 1, reader.Stats(ctx).LocalSize, "shared hit is promoted to the local tier")
}

func TestResultCache_ExpiredSharedEntryIsAMiss(t *testing.T) {
	shared := newFakeShared()
	shared.entries["old"] = domain.CacheEntry{Fingerprint: "old", Payload: sampleSet(), CreatedAt: time.Now().Add(-2 * time.Hour)}
	c := New(Config{MaxEntries: 8, TTL: time.Hour}, shared, logger.NewNop(), nil)
	ctx := context.Background()

	_, ok := c.Get(ctx, "old")
	assert.False(t, ok)

	deleted, err := c.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}

func TestResultCache_SharedFailureDegradesToMiss(t *testing.T) {
	shared := newFakeShared()
	shared.failGet = true
	c := New(Config{MaxEntries: 8, TTL: time.Hour}, shared, logger.NewNop(), nil)

	_, ok := c.Get(context.Background(), "fp")
	assert.False(t, ok)
}
