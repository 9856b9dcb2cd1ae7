package model

import (
	"time"

	"github.com/google/uuid"
)

// Reference is a web page added to a record. The URL and page title are
// sealed in Ciphertext; UrlHash only detects repeats within the record.
type Reference struct {
	Id           uuid.UUID  `gorm:"type:uuid;primaryKey"`
	RecordId     uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_record_references_url,priority:1"`
	UrlHash      string     `gorm:"type:varchar(64);not null;uniqueIndex:idx_record_references_url,priority:2"`
	Ciphertext   []byte     `gorm:"not null"`
	Status       string     `gorm:"type:varchar(16);not null"`
	DocumentId   *uuid.UUID `gorm:"type:uuid;index"`
	ErrorMessage string     `gorm:"type:text"`
	CreatedAt    time.Time  `gorm:"autoCreateTime"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime"`

	Record   *Record   `gorm:"foreignKey:RecordId;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	Document *Document `gorm:"foreignKey:DocumentId;constraint:OnUpdate:CASCADE,OnDelete:SET NULL;"`
}

func (Reference) TableName() string {
	return "record_references"
}
