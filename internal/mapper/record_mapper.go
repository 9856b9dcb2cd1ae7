package mapper

import (
	"time"

	"openrecords-be/internal/entity"
	"openrecords-be/internal/model"
)

type RecordMapper struct{}

func NewRecordMapper() *RecordMapper {
	return &RecordMapper{}
}

func (m *RecordMapper) ToEntity(r *model.Record) *entity.Record {
	if r == nil {
		return nil
	}

	var updatedAt *time.Time
	if !r.UpdatedAt.IsZero() {
		t := r.UpdatedAt
		updatedAt = &t
	}

	return &entity.Record{
		Id:             r.Id,
		UserId:         r.UserId,
		Name:           r.Name,
		Description:    r.Description,
		ChatModel:      r.ChatModel,
		EmbeddingModel: r.EmbeddingModel,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      updatedAt,
	}
}

func (m *RecordMapper) ToModel(r *entity.Record) *model.Record {
	if r == nil {
		return nil
	}

	var updatedAt time.Time
	if r.UpdatedAt != nil {
		updatedAt = *r.UpdatedAt
	}

	return &model.Record{
		Id:             r.Id,
		UserId:         r.UserId,
		Name:           r.Name,
		Description:    r.Description,
		ChatModel:      r.ChatModel,
		EmbeddingModel: r.EmbeddingModel,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      updatedAt,
	}
}

func (m *RecordMapper) ToEntities(records []*model.Record) []*entity.Record {
	entities := make([]*entity.Record, len(records))
	for i, r := range records {
		entities[i] = m.ToEntity(r)
	}
	return entities
}
