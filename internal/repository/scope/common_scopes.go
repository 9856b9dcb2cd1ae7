package scope

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SearchableChunks joins chunks to their document and keeps only chunks of
// complete documents in the record. Callers select from chunk_embeddings.
func SearchableChunks(recordID uuid.UUID) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.
			Joins("JOIN chunks ON chunks.id = chunk_embeddings.chunk_id").
			Joins("JOIN documents ON documents.id = chunks.document_id").
			Where("documents.record_id = ?", recordID).
			Where("documents.status = ?", "complete")
	}
}

// DocumentOrder is the reading order used by the generation tools.
func DocumentOrder(db *gorm.DB) *gorm.DB {
	return db.Order("documents.filename ASC").Order("documents.created_at ASC").Order("chunks.ordinal ASC")
}
