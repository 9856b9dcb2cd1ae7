package contract

import (
	"context"

	"openrecords-be/internal/entity"
	"openrecords-be/internal/repository/specification"

	"github.com/google/uuid"
)

type ChatMessageRepository interface {
	CreateBatch(ctx context.Context, messages []*entity.ChatMessage) error
	FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.ChatMessage, error)
	Count(ctx context.Context, specs ...specification.Specification) (int64, error)
	DeleteByRecordId(ctx context.Context, recordId uuid.UUID) error
}
