package contract

import (
	"context"

	"openrecords-be/internal/entity"
	"openrecords-be/internal/repository/specification"

	"github.com/google/uuid"
)

type RecordRepository interface {
	Create(ctx context.Context, record *entity.Record) error
	Update(ctx context.Context, record *entity.Record) error
	Delete(ctx context.Context, id uuid.UUID) error
	FindOne(ctx context.Context, specs ...specification.Specification) (*entity.Record, error)
	FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.Record, error)
	Count(ctx context.Context, specs ...specification.Specification) (int64, error)
}
