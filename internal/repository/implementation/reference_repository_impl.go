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

type ReferenceRepositoryImpl struct {
	db     *gorm.DB
	mapper *mapper.ReferenceMapper
}

func NewReferenceRepository(db *gorm.DB) contract.ReferenceRepository {
	return &ReferenceRepositoryImpl{
		db:     db,
		mapper: mapper.NewReferenceMapper(),
	}
}

func (r *ReferenceRepositoryImpl) applySpecifications(db *gorm.DB, specs ...specification.Specification) *gorm.DB {
	for _, spec := range specs {
		db = spec.Apply(db)
	}
	return db
}

func (r *ReferenceRepositoryImpl) Create(ctx context.Context, reference *entity.Reference) error {
	m := r.mapper.ToModel(reference)
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return err
	}
	*reference = *r.mapper.ToEntity(m)
	return nil
}

func (r *ReferenceRepositoryImpl) Update(ctx context.Context, reference *entity.Reference) error {
	m := r.mapper.ToModel(reference)
	if err := r.db.WithContext(ctx).Save(m).Error; err != nil {
		return err
	}
	*reference = *r.mapper.ToEntity(m)
	return nil
}

func (r *ReferenceRepositoryImpl) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Delete(&model.Reference{}, "id = ?", id).Error
}

func (r *ReferenceRepositoryImpl) FindOne(ctx context.Context, specs ...specification.Specification) (*entity.Reference, error) {
	var m model.Reference
	query := r.applySpecifications(r.db.WithContext(ctx), specs...)
	if err := query.First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return r.mapper.ToEntity(&m), nil
}

func (r *ReferenceRepositoryImpl) FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.Reference, error) {
	var models []*model.Reference
	query := r.applySpecifications(r.db.WithContext(ctx), specs...)
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	return r.mapper.ToEntities(models), nil
}

func (r *ReferenceRepositoryImpl) DeleteByRecordId(ctx context.Context, recordId uuid.UUID) error {
	return r.db.WithContext(ctx).Where("record_id = ?", recordId).Delete(&model.Reference{}).Error
}
