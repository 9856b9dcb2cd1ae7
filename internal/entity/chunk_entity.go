package entity

import (
	"time"

	"github.com/google/uuid"
)

type Chunk struct {
	Id         uuid.UUID
	DocumentId uuid.UUID
	Ordinal    int
	Ciphertext []byte
	TokenCount int
	// OverlapBytes is the length of the leading text repeated from the previous chunk.
	OverlapBytes int
	PageNumber   *int
	CreatedAt    time.Time
}

type ChunkEmbedding struct {
	ChunkId    uuid.UUID
	ModelId    string
	Dimensions int
	Vector     []float32
	CreatedAt  time.Time
}
