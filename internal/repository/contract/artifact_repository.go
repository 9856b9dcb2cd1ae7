package contract

import (
	"context"

	"openrecords-be/internal/entity"
	"openrecords-be/internal/repository/specification"

	"github.com/google/uuid"
)

type ArtifactRepository interface {
	Create(ctx context.Context, artifact *entity.GeneratedArtifact) error
	Update(ctx context.Context, artifact *entity.GeneratedArtifact) error
	Delete(ctx context.Context, id uuid.UUID) error
	FindOne(ctx context.Context, specs ...specification.Specification) (*entity.GeneratedArtifact, error)
	FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.GeneratedArtifact, error)
}
