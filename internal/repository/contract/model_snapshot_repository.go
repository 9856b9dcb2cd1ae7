package contract

import (
	"context"

	"openrecords-be/pkg/llm"
)

// ModelSnapshotRepository keeps the last model list a provider returned.
// Load returns nil, nil when nothing was saved yet.
type ModelSnapshotRepository interface {
	Save(ctx context.Context, provider string, models []llm.ModelInfo) error
	Load(ctx context.Context, provider string) ([]llm.ModelInfo, error)
}
