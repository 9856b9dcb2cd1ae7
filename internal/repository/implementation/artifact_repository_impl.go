package implementation

import (
	"context"
	"errors"

	"openrecords-be/internal/entity"
	"openrecords-be/internal/mapper"
	"openrecords-be/internal/model"
	"openrecords-be/internal/repository/contract"
	"openrecords-be/internal/repository/specification"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ArtifactRepositoryImpl struct {
	db     *gorm.DB
	mapper *mapper.ArtifactMapper
}

func NewArtifactRepository(db *gorm.DB) contract.ArtifactRepository {
	return &ArtifactRepositoryImpl{
		db:     db,
		mapper: mapper.NewArtifactMapper(),
	}
}

func (r *ArtifactRepositoryImpl) applySpecifications(db *gorm.DB, specs ...specification.Specification) *gorm.DB {
	for _, spec := range specs {
		db = spec.Apply(db)
	}
	return db
}

func (r *ArtifactRepositoryImpl) Create(ctx context.Context, artifact *entity.GeneratedArtifact) error {
	m := r.mapper.ToModel(artifact)
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return err
	}
	*artifact = *r.mapper.ToEntity(m)
	return nil
}

func (r *ArtifactRepositoryImpl) Update(ctx context.Context, artifact *entity.GeneratedArtifact) error {
	m := r.mapper.ToModel(artifact)
	if err := r.db.WithContext(ctx).Save(m).Error; err != nil {
		return err
	}
	*artifact = *r.mapper.ToEntity(m)
	return nil
}

func (r *ArtifactRepositoryImpl) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Delete(&model.GeneratedArtifact{}, "id = ?", id).Error
}

func (r *ArtifactRepositoryImpl) FindOne(ctx context.Context, specs ...specification.Specification) (*entity.GeneratedArtifact, error) {
	var m model.GeneratedArtifact
	query := r.applySpecifications(r.db.WithContext(ctx), specs...)
	if err := query.First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return r.mapper.ToEntity(&m), nil
}

func (r *ArtifactRepositoryImpl) FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.GeneratedArtifact, error) {
	var models []*model.GeneratedArtifact
	query := r.applySpecifications(r.db.WithContext(ctx), specs...)
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	return r.mapper.ToEntities(models), nil
}
