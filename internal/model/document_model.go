package model

import (
	"time"

	"github.com/google/uuid"
)

type Document struct {
	Id             uuid.UUID `gorm:"type:uuid;primaryKey"`
	RecordId       uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_documents_record_hash,priority:1"`
	ContentHash    string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_documents_record_hash,priority:2"`
	Filename       string    `gorm:"type:varchar(512);not null"`
	MimeType       string    `gorm:"type:varchar(255)"`
	SizeBytes      int64
	BlobKey        string `gorm:"type:varchar(1024)"`
	Status         string `gorm:"type:varchar(32);not null;index"`
	FailedStage    string `gorm:"type:varchar(32)"`
	FailureReason  string `gorm:"type:text"`
	Attempts       int    `gorm:"default:0"`
	PageCount      int    `gorm:"default:0"`
	ChunkCount     int    `gorm:"default:0"`
	TokenCount     int    `gorm:"default:0"`
	EmbeddingModel string `gorm:"type:varchar(255)"`
	IndexedAt      *time.Time
	CreatedAt      time.Time `gorm:"autoCreateTime"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime"`

	Record *Record `gorm:"foreignKey:RecordId;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
}

func (Document) TableName() string {
	return "documents"
}
