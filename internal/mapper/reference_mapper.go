package mapper

import (
	"time"

	"openrecords-be/internal/entity"
	"openrecords-be/internal/model"
)

type ReferenceMapper struct{}

func NewReferenceMapper() *ReferenceMapper {
	return &ReferenceMapper{}
}

func (m *ReferenceMapper) ToEntity(r *model.Reference) *entity.Reference {
	if r == nil {
		return nil
	}

	var updatedAt *time.Time
	if !r.UpdatedAt.IsZero() {
		t := r.UpdatedAt
		updatedAt = &t
	}

	return &entity.Reference{
		Id:           r.Id,
		RecordId:     r.RecordId,
		UrlHash:      r.UrlHash,
		Ciphertext:   r.Ciphertext,
		Status:       entity.ReferenceStatus(r.Status),
		DocumentId:   r.DocumentId,
		ErrorMessage: r.ErrorMessage,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    updatedAt,
	}
}

func (m *ReferenceMapper) ToModel(r *entity.Reference) *model.Reference {
	if r == nil {
		return nil
	}

	var updatedAt time.Time
	if r.UpdatedAt != nil {
		updatedAt = *r.UpdatedAt
	}

	return &model.Reference{
		Id:           r.Id,
		RecordId:     r.RecordId,
		UrlHash:      r.UrlHash,
		Ciphertext:   r.Ciphertext,
		Status:       string(r.Status),
		DocumentId:   r.DocumentId,
		ErrorMessage: r.ErrorMessage,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    updatedAt,
	}
}

func (m *ReferenceMapper) ToEntities(refs []*model.Reference) []*entity.Reference {
	entities := make([]*entity.Reference, len(refs))
	for i, r := range refs {
		entities[i] = m.ToEntity(r)
	}
	return entities
}
