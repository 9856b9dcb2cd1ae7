package memory

import (
	"context"

	"openrecords-be/internal/repository/contract"
	"openrecords-be/pkg/llm"

	"github.com/patrickmn/go-cache"
)

// ModelSnapshotRepository is the single-node fallback used when Redis is not
// configured. Snapshots never expire; they are replaced on the next success.
type ModelSnapshotRepository struct {
	cache *cache.Cache
}

func NewModelSnapshotRepository() contract.ModelSnapshotRepository {
	return &ModelSnapshotRepository{
		cache: cache.New(cache.NoExpiration, 0),
	}
}

func (r *ModelSnapshotRepository) Save(_ context.Context, provider string, models []llm.ModelInfo) error {
	snapshot := make([]llm.ModelInfo, len(models))
	copy(snapshot, models)
	r.cache.Set(provider, snapshot, cache.NoExpiration)
	return nil
}

func (r *ModelSnapshotRepository) Load(_ context.Context, provider string) ([]llm.ModelInfo, error) {
	if x, found := r.cache.Get(provider); found {
		return x.([]llm.ModelInfo), nil
	}
	return nil, nil
}
