package contract

import (
	"context"
	"time"

	"openrecords-be/internal/entity"

	"github.com/google/uuid"
)

// ScoredChunk is a search hit with the fields used for ranking and citation.
type ScoredChunk struct {
	ChunkId           uuid.UUID
	DocumentId        uuid.UUID
	Ordinal           int
	Filename          string
	PageNumber        *int
	DocumentCreatedAt time.Time
	Similarity        float64
}

type ChunkEmbeddingRepository interface {
	Upsert(ctx context.Context, embedding *entity.ChunkEmbedding) error
	DeleteByDocumentId(ctx context.Context, documentId uuid.UUID) error
	CountForDocument(ctx context.Context, documentId uuid.UUID, modelId string) (int64, error)
	EmbeddedChunkIds(ctx context.Context, documentId uuid.UUID, modelId string) ([]uuid.UUID, error)

	// SearchSimilar ranks the record's searchable chunks embedded with modelId
	// by cosine similarity, best first, ties broken by ordinal.
	SearchSimilar(ctx context.Context, recordId uuid.UUID, vector []float32, modelId string, limit int) ([]*ScoredChunk, error)
}
