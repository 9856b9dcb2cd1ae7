package contract

import (
	"context"
	"time"

	"openrecords-be/internal/entity"
	"openrecords-be/internal/repository/specification"

	"github.com/google/uuid"
)

type DocumentRepository interface {
	Create(ctx context.Context, document *entity.Document) error
	Delete(ctx context.Context, id uuid.UUID) error
	FindOne(ctx context.Context, specs ...specification.Specification) (*entity.Document, error)
	FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.Document, error)
	Count(ctx context.Context, specs ...specification.Specification) (int64, error)

	// State transitions touch a single row keyed by id.
	UpdateStatus(ctx context.Context, id uuid.UUID, status entity.DocumentStatus, failedStage, reason string) error
	UpdateBlobKey(ctx context.Context, id uuid.UUID, blobKey string) error
	UpdateCounters(ctx context.Context, id uuid.UUID, pages, chunks, tokens int) error
	IncrementAttempts(ctx context.Context, id uuid.UUID) error
	MarkComplete(ctx context.Context, id uuid.UUID, embeddingModel string, at time.Time) error
}
