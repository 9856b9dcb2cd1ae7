package contract

import (
	"context"

	"openrecords-be/internal/entity"
	"openrecords-be/internal/repository/specification"

	"github.com/google/uuid"
)

type ReferenceRepository interface {
	Create(ctx context.Context, reference *entity.Reference) error
	Update(ctx context.Context, reference *entity.Reference) error
	Delete(ctx context.Context, id uuid.UUID) error
	FindOne(ctx context.Context, specs ...specification.Specification) (*entity.Reference, error)
	FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.Reference, error)
	DeleteByRecordId(ctx context.Context, recordId uuid.UUID) error
}
