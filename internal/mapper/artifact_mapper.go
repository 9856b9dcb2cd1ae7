package mapper

import (
	"encoding/json"
	"time"

	"openrecords-be/internal/entity"
	"openrecords-be/internal/model"

	"gorm.io/datatypes"
)

type ArtifactMapper struct{}

func NewArtifactMapper() *ArtifactMapper {
	return &ArtifactMapper{}
}

func (m *ArtifactMapper) ToEntity(a *model.GeneratedArtifact) *entity.GeneratedArtifact {
	if a == nil {
		return nil
	}

	var updatedAt *time.Time
	if !a.UpdatedAt.IsZero() {
		t := a.UpdatedAt
		updatedAt = &t
	}

	pages := make([]entity.PageRef, 0)
	if len(a.Pages) > 0 {
		_ = json.Unmarshal(a.Pages, &pages)
	}
	params := make(map[string]string)
	if len(a.Params) > 0 {
		_ = json.Unmarshal(a.Params, &params)
	}

	return &entity.GeneratedArtifact{
		Id:             a.Id,
		RecordId:       a.RecordId,
		UserId:         a.UserId,
		Kind:           a.Kind,
		Status:         entity.ArtifactStatus(a.Status),
		ModelId:        a.ModelId,
		Pages:          pages,
		OutputBlobKey:  a.OutputBlobKey,
		SucceededPages: a.SucceededPages,
		FailedPages:    a.FailedPages,
		ChunkCount:     a.ChunkCount,
		Params:         params,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      updatedAt,
	}
}

func (m *ArtifactMapper) ToModel(a *entity.GeneratedArtifact) *model.GeneratedArtifact {
	if a == nil {
		return nil
	}

	var updatedAt time.Time
	if a.UpdatedAt != nil {
		updatedAt = *a.UpdatedAt
	}

	pages, _ := json.Marshal(a.Pages)
	params, _ := json.Marshal(a.Params)

	return &model.GeneratedArtifact{
		Id:             a.Id,
		RecordId:       a.RecordId,
		UserId:         a.UserId,
		Kind:           a.Kind,
		Status:         string(a.Status),
		ModelId:        a.ModelId,
		Pages:          datatypes.JSON(pages),
		OutputBlobKey:  a.OutputBlobKey,
		SucceededPages: a.SucceededPages,
		FailedPages:    a.FailedPages,
		ChunkCount:     a.ChunkCount,
		Params:         datatypes.JSON(params),
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      updatedAt,
	}
}

func (m *ArtifactMapper) ToEntities(artifacts []*model.GeneratedArtifact) []*entity.GeneratedArtifact {
	entities := make([]*entity.GeneratedArtifact, len(artifacts))
	for i, a := range artifacts {
		entities[i] = m.ToEntity(a)
	}
	return entities
}
