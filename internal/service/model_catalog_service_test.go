package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"openrecords-be/internal/pkg/apperror"
	"openrecords-be/internal/repository/memory"
	"openrecords-be/pkg/llm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLister struct {
	mu     sync.Mutex
	calls  int
	models []llm.ModelInfo
	err    error
}

func (f *fakeLister) ListModels(context.Context) ([]llm.ModelInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]llm.ModelInfo, len(f.models))
	copy(out, f.models)
	return out, nil
}

func catalogModels() []llm.ModelInfo {
	return []llm.ModelInfo{
		{ID: "z-ai/glm", Provider: "openrouter", Name: "GLM", ContextLength: 128000},
		{ID: "anthropic/claude", Provider: "openrouter", Name: "Claude", ContextLength: 200000},
	}
}

func TestModelCatalogCachesList(t *testing.T) {
	h := newHarness(t)
	lister := &fakeLister{models: catalogModels()}
	svc := NewModelCatalogService("openrouter", lister, memory.NewModelSnapshotRepository(), h.cache, h.log)
	ctx := context.Background()

	first, err := svc.List(ctx, false)
	require.NoError(t, err)
	assert.False(t, first.Cached)
	require.Len(t, first.Models, 2)
	assert.Equal(t, "anthropic/claude", first.Models[0].ID, "sorted by id")

	second, err := svc.List(ctx, false)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Models, second.Models)
	assert.Equal(t, 1, lister.calls)

	_, err = svc.List(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 2, lister.calls, "refresh bypasses the cache")
}

func TestModelCatalogServesStaleList(t *testing.T) {
	h := newHarness(t)
	snapshots := memory.NewModelSnapshotRepository()
	lister := &fakeLister{models: catalogModels()}
	svc := NewModelCatalogService("openrouter", lister, snapshots, h.cache, h.log)
	ctx := context.Background()

	_, err := svc.List(ctx, false)
	require.NoError(t, err)

	lister.err = &llm.StatusError{Provider: "openrouter", StatusCode: 502}
	stale, err := svc.List(ctx, true)
	require.NoError(t, err)
	assert.True(t, stale.Stale)
	assert.Len(t, stale.Models, 2)
}

func TestModelCatalogWithoutSnapshot(t *testing.T) {
	h := newHarness(t)
	lister := &fakeLister{err: errors.New("dial tcp: connection refused")}
	svc := NewModelCatalogService("ollama", lister, memory.NewModelSnapshotRepository(), h.cache, h.log)

	_, err := svc.List(context.Background(), false)
	assert.ErrorIs(t, err, apperror.ErrProviderUnavailable)
	assert.Equal(t, "provider unavailable", apperror.PublicMessage(err))
}
