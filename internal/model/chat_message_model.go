package model

import (
	"time"

	"github.com/google/uuid"
)

// ChatMessage is one turn of a record's chat history. Content and sources
// are sealed together in Ciphertext.
type ChatMessage struct {
	Id         uuid.UUID `gorm:"type:uuid;primaryKey"`
	RecordId   uuid.UUID `gorm:"type:uuid;not null;index:idx_chat_messages_record_position,priority:1"`
	Position   int       `gorm:"not null;index:idx_chat_messages_record_position,priority:2"`
	MessageId  string    `gorm:"type:varchar(128);not null"`
	Role       string    `gorm:"type:varchar(16);not null"`
	Model      string    `gorm:"type:varchar(255)"`
	Ciphertext []byte    `gorm:"not null"`
	SentAt     time.Time
	CreatedAt  time.Time `gorm:"autoCreateTime"`

	Record *Record `gorm:"foreignKey:RecordId;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
}

func (ChatMessage) TableName() string {
	return "chat_messages"
}
