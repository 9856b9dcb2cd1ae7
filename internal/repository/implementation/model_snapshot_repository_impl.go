package implementation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"openrecords-be/internal/repository/contract"
	"openrecords-be/pkg/llm"

	"github.com/redis/go-redis/v9"
)

const modelSnapshotPrefix = "openrecords:provider_models:"

// ModelSnapshotRepositoryImpl stores model metadata in Redis so every
// instance can fall back to the same list. No document data goes here.
type ModelSnapshotRepositoryImpl struct {
	rdb *redis.Client
}

func NewModelSnapshotRepository(rdb *redis.Client) contract.ModelSnapshotRepository {
	return &ModelSnapshotRepositoryImpl{rdb: rdb}
}

func (r *ModelSnapshotRepositoryImpl) Save(ctx context.Context, provider string, models []llm.ModelInfo) error {
	payload, err := json.Marshal(models)
	if err != nil {
		return err
	}
	if err := r.rdb.Set(ctx, modelSnapshotPrefix+provider, payload, 0).Err(); err != nil {
		return fmt.Errorf("save model snapshot: %w", err)
	}
	return nil
}

func (r *ModelSnapshotRepositoryImpl) Load(ctx context.Context, provider string) ([]llm.ModelInfo, error) {
	payload, err := r.rdb.Get(ctx, modelSnapshotPrefix+provider).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load model snapshot: %w", err)
	}

	var models []llm.ModelInfo
	if err := json.Unmarshal(payload, &models); err != nil {
		return nil, fmt.Errorf("decode model snapshot: %w", err)
	}
	return models, nil
}
