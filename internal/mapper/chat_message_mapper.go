package mapper

import (
	"openrecords-be/internal/entity"
	"openrecords-be/internal/model"
)

type ChatMessageMapper struct{}

func NewChatMessageMapper() *ChatMessageMapper {
	return &ChatMessageMapper{}
}

func (m *ChatMessageMapper) ToEntity(c *model.ChatMessage) *entity.ChatMessage {
	if c == nil {
		return nil
	}
	return &entity.ChatMessage{
		Id:         c.Id,
		RecordId:   c.RecordId,
		Position:   c.Position,
		MessageId:  c.MessageId,
		Role:       c.Role,
		Model:      c.Model,
		Ciphertext: c.Ciphertext,
		SentAt:     c.SentAt,
		CreatedAt:  c.CreatedAt,
	}
}

func (m *ChatMessageMapper) ToModel(c *entity.ChatMessage) *model.ChatMessage {
	if c == nil {
		return nil
	}
	return &model.ChatMessage{
		Id:         c.Id,
		RecordId:   c.RecordId,
		Position:   c.Position,
		MessageId:  c.MessageId,
		Role:       c.Role,
		Model:      c.Model,
		Ciphertext: c.Ciphertext,
		SentAt:     c.SentAt,
		CreatedAt:  c.CreatedAt,
	}
}

func (m *ChatMessageMapper) ToEntities(messages []*model.ChatMessage) []*entity.ChatMessage {
	entities := make([]*entity.ChatMessage, len(messages))
	for i, c := range messages {
		entities[i] = m.ToEntity(c)
	}
	return entities
}
