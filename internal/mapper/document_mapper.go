package mapper

import (
	"time"

	"openrecords-be/internal/entity"
	"openrecords-be/internal/model"
)

type DocumentMapper struct{}

func NewDocumentMapper() *DocumentMapper {
	return &DocumentMapper{}
}

func (m *DocumentMapper) ToEntity(d *model.Document) *entity.Document {
	if d == nil {
		return nil
	}

	var updatedAt *time.Time
	if !d.UpdatedAt.IsZero() {
		t := d.UpdatedAt
		updatedAt = &t
	}

	return &entity.Document{
		Id:             d.Id,
		RecordId:       d.RecordId,
		Filename:       d.Filename,
		MimeType:       d.MimeType,
		SizeBytes:      d.SizeBytes,
		ContentHash:    d.ContentHash,
		BlobKey:        d.BlobKey,
		Status:         entity.DocumentStatus(d.Status),
		FailedStage:    d.FailedStage,
		FailureReason:  d.FailureReason,
		Attempts:       d.Attempts,
		PageCount:      d.PageCount,
		ChunkCount:     d.ChunkCount,
		TokenCount:     d.TokenCount,
		EmbeddingModel: d.EmbeddingModel,
		IndexedAt:      d.IndexedAt,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      updatedAt,
	}
}

func (m *DocumentMapper) ToModel(d *entity.Document) *model.Document {
	if d == nil {
		return nil
	}

	var updatedAt time.Time
	if d.UpdatedAt != nil {
		updatedAt = *d.UpdatedAt
	}

	return &model.Document{
		Id:             d.Id,
		RecordId:       d.RecordId,
		Filename:       d.Filename,
		MimeType:       d.MimeType,
		SizeBytes:      d.SizeBytes,
		ContentHash:    d.ContentHash,
		BlobKey:        d.BlobKey,
		Status:         string(d.Status),
		FailedStage:    d.FailedStage,
		FailureReason:  d.FailureReason,
		Attempts:       d.Attempts,
		PageCount:      d.PageCount,
		ChunkCount:     d.ChunkCount,
		TokenCount:     d.TokenCount,
		EmbeddingModel: d.EmbeddingModel,
		IndexedAt:      d.IndexedAt,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      updatedAt,
	}
}

func (m *DocumentMapper) ToEntities(documents []*model.Document) []*entity.Document {
	entities := make([]*entity.Document, len(documents))
	for i, d := range documents {
		entities[i] = m.ToEntity(d)
	}
	return entities
}
