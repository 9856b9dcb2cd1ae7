package implementation

import (
	"context"
	"errors"

	"openrecords-be/internal/entity"
	"openrecords-be/internal/mapper"
	"openrecords-be/internal/model"
	"openrecords-be/internal/repository/contract"
	"openrecords-be/internal/repository/scope"
	"openrecords-be/internal/repository/specification"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ChunkRepositoryImpl struct {
	db     *gorm.DB
	mapper *mapper.ChunkMapper
}

func NewChunkRepository(db *gorm.DB) contract.ChunkRepository {
	return &ChunkRepositoryImpl{
		db:     db,
		mapper: mapper.NewChunkMapper(),
	}
}

func (r *ChunkRepositoryImpl) applySpecifications(db *gorm.DB, specs ...specification.Specification) *gorm.DB {
	for _, spec := range specs {
		db = spec.Apply(db)
	}
	return db
}

func (r *ChunkRepositoryImpl) CreateIfAbsent(ctx context.Context, chunk *entity.Chunk) (bool, error) {
	m := r.mapper.ToModel(chunk)
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "document_id"}, {Name: "ordinal"}},
			DoNothing: true,
		}).
		Create(m)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *ChunkRepositoryImpl) FindOne(ctx context.Context, specs ...specification.Specification) (*entity.Chunk, error) {
	var m model.Chunk
	query := r.applySpecifications(r.db.WithContext(ctx), specs...)
	if err := query.First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return r.mapper.ToEntity(&m), nil
}

func (r *ChunkRepositoryImpl) FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.Chunk, error) {
	var models []*model.Chunk
	query := r.applySpecifications(r.db.WithContext(ctx), specs...)
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	return r.mapper.ToEntities(models), nil
}

func (r *ChunkRepositoryImpl) Count(ctx context.Context, specs ...specification.Specification) (int64, error) {
	var count int64
	query := r.applySpecifications(r.db.WithContext(ctx).Model(&model.Chunk{}), specs...)
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *ChunkRepositoryImpl) DeleteByDocumentId(ctx context.Context, documentId uuid.UUID) error {
	return r.db.WithContext(ctx).Where("document_id = ?", documentId).Delete(&model.Chunk{}).Error
}

func (r *ChunkRepositoryImpl) FindRecordChunks(ctx context.Context, recordId uuid.UUID) ([]*contract.DocumentChunk, error) {
	type row struct {
		model.Chunk
		Filename string
	}
	var rows []row

	err := r.db.WithContext(ctx).
		Table("chunks").
		Select("chunks.*, documents.filename").
		Joins("JOIN documents ON documents.id = chunks.document_id").
		Where("documents.record_id = ?", recordId).
		Where("documents.status = ?", string(entity.DocumentStatusComplete)).
		Scopes(scope.DocumentOrder).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	result := make([]*contract.DocumentChunk, len(rows))
	for i := range rows {
		result[i] = &contract.DocumentChunk{
			Chunk:    r.mapper.ToEntity(&rows[i].Chunk),
			Filename: rows[i].Filename,
		}
	}
	return result, nil
}
