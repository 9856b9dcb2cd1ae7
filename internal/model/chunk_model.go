package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

type Chunk struct {
	Id           uuid.UUID `gorm:"type:uuid;primaryKey"`
	DocumentId   uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_chunks_document_ordinal,priority:1"`
	Ordinal      int       `gorm:"not null;uniqueIndex:idx_chunks_document_ordinal,priority:2"`
	Ciphertext   []byte    `gorm:"not null"`
	TokenCount   int       `gorm:"default:0"`
	OverlapBytes int       `gorm:"default:0"`
	PageNumber   *int
	CreatedAt    time.Time `gorm:"autoCreateTime"`

	Document *Document `gorm:"foreignKey:DocumentId;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
}

func (Chunk) TableName() string {
	return "chunks"
}

// ChunkEmbedding keeps the vector column untyped so models of any dimension
// can share the table; searches filter on model_id. The foreign key rejects
// a vector whose chunk was deleted by a concurrent document delete.
type ChunkEmbedding struct {
	ChunkId    uuid.UUID       `gorm:"type:uuid;primaryKey"`
	ModelId    string          `gorm:"type:varchar(255);not null;index"`
	Dimensions int             `gorm:"not null"`
	Vector     pgvector.Vector `gorm:"type:vector;not null"`
	CreatedAt  time.Time       `gorm:"autoCreateTime"`

	Chunk *Chunk `gorm:"foreignKey:ChunkId;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
}

func (ChunkEmbedding) TableName() string {
	return "chunk_embeddings"
}
