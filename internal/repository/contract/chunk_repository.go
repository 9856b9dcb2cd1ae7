package contract

import (
	"context"

	"openrecords-be/internal/entity"
	"openrecords-be/internal/repository/specification"

	"github.com/google/uuid"
)

// DocumentChunk is a chunk row together with the document fields needed
// to cite or order it.
type DocumentChunk struct {
	Chunk    *entity.Chunk
	Filename string
}

type ChunkRepository interface {
	// CreateIfAbsent inserts the chunk unless (document_id, ordinal) exists.
	// It reports whether a row was written.
	CreateIfAbsent(ctx context.Context, chunk *entity.Chunk) (bool, error)
	FindOne(ctx context.Context, specs ...specification.Specification) (*entity.Chunk, error)
	FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.Chunk, error)
	Count(ctx context.Context, specs ...specification.Specification) (int64, error)
	DeleteByDocumentId(ctx context.Context, documentId uuid.UUID) error

	// FindRecordChunks returns chunks of complete documents in reading order:
	// filename, then document creation, then ordinal.
	FindRecordChunks(ctx context.Context, recordId uuid.UUID) ([]*DocumentChunk, error)
}
