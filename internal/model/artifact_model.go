package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type GeneratedArtifact struct {
	Id             uuid.UUID      `gorm:"type:uuid;primaryKey"`
	RecordId       uuid.UUID      `gorm:"type:uuid;not null;index"`
	UserId         uuid.UUID      `gorm:"type:uuid;not null;index"`
	Kind           string         `gorm:"type:varchar(32);not null"`
	Status         string         `gorm:"type:varchar(32);not null"`
	ModelId        string         `gorm:"type:varchar(255)"`
	Pages          datatypes.JSON `gorm:"type:json"`
	OutputBlobKey  string         `gorm:"type:varchar(1024)"`
	SucceededPages int            `gorm:"default:0"`
	FailedPages    int            `gorm:"default:0"`
	ChunkCount     int            `gorm:"default:0"`
	Params         datatypes.JSON `gorm:"type:json"`
	CreatedAt      time.Time      `gorm:"autoCreateTime"`
	UpdatedAt      time.Time      `gorm:"autoUpdateTime"`

	Record *Record `gorm:"foreignKey:RecordId;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
}

func (GeneratedArtifact) TableName() string {
	return "generated_artifacts"
}
