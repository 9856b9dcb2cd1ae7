package model

import (
	"fmt"

	"gorm.io/gorm"
)

// All lists every table in dependency order.
func All() []interface{} {
	return []interface{}{
		&User{},
		&Record{},
		&Document{},
		&Chunk{},
		&ChunkEmbedding{},
		&GeneratedArtifact{},
		&ChatMessage{},
		&Reference{},
	}
}

// Migrate creates the schema. On PostgreSQL the vector extension is
// installed first.
func Migrate(db *gorm.DB) error {
	postgres := db.Dialector.Name() == "postgres"
	if postgres {
		if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS vector`).Error; err != nil {
			return fmt.Errorf("create vector extension: %w", err)
		}
	}

	if err := db.AutoMigrate(All()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
