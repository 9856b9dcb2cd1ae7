package mapper

import (
	"openrecords-be/internal/entity"
	"openrecords-be/internal/model"

	"github.com/pgvector/pgvector-go"
)

type ChunkMapper struct{}

func NewChunkMapper() *ChunkMapper {
	return &ChunkMapper{}
}

func (m *ChunkMapper) ToEntity(c *model.Chunk) *entity.Chunk {
	if c == nil {
		return nil
	}
	return &entity.Chunk{
		Id:           c.Id,
		DocumentId:   c.DocumentId,
		Ordinal:      c.Ordinal,
		Ciphertext:   c.Ciphertext,
		TokenCount:   c.TokenCount,
		OverlapBytes: c.OverlapBytes,
		PageNumber:   c.PageNumber,
		CreatedAt:    c.CreatedAt,
	}
}

func (m *ChunkMapper) ToModel(c *entity.Chunk) *model.Chunk {
	if c == nil {
		return nil
	}
	return &model.Chunk{
		Id:           c.Id,
		DocumentId:   c.DocumentId,
		Ordinal:      c.Ordinal,
		Ciphertext:   c.Ciphertext,
		TokenCount:   c.TokenCount,
		OverlapBytes: c.OverlapBytes,
		PageNumber:   c.PageNumber,
		CreatedAt:    c.CreatedAt,
	}
}

func (m *ChunkMapper) ToEntities(chunks []*model.Chunk) []*entity.Chunk {
	entities := make([]*entity.Chunk, len(chunks))
	for i, c := range chunks {
		entities[i] = m.ToEntity(c)
	}
	return entities
}

type ChunkEmbeddingMapper struct{}

func NewChunkEmbeddingMapper() *ChunkEmbeddingMapper {
	return &ChunkEmbeddingMapper{}
}

func (m *ChunkEmbeddingMapper) ToEntity(e *model.ChunkEmbedding) *entity.ChunkEmbedding {
	if e == nil {
		return nil
	}
	return &entity.ChunkEmbedding{
		ChunkId:    e.ChunkId,
		ModelId:    e.ModelId,
		Dimensions: e.Dimensions,
		Vector:     e.Vector.Slice(),
		CreatedAt:  e.CreatedAt,
	}
}

func (m *ChunkEmbeddingMapper) ToModel(e *entity.ChunkEmbedding) *model.ChunkEmbedding {
	if e == nil {
		return nil
	}
	return &model.ChunkEmbedding{
		ChunkId:    e.ChunkId,
		ModelId:    e.ModelId,
		Dimensions: len(e.Vector),
		Vector:     pgvector.NewVector(e.Vector),
		CreatedAt:  e.CreatedAt,
	}
}
