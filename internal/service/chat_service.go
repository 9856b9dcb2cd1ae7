package service

import (
	"context"
	"encoding/json"
	"fmt"

	"openrecords-be/internal/dto"
	"openrecords-be/internal/entity"
	"openrecords-be/internal/keyvault"
	"openrecords-be/internal/pkg/apperror"
	"openrecords-be/internal/pkg/logger"
	"openrecords-be/internal/repository/specification"
	"openrecords-be/internal/repository/unitofwork"
	"openrecords-be/pkg/cipher"

	"github.com/google/uuid"
)

// IChatService keeps the chat history of a record. Saving replaces the
// whole history; message content and sources are sealed per message.
type IChatService interface {
	List(ctx context.Context, userId, recordId uuid.UUID) (*dto.ChatHistoryResponse, error)
	Save(ctx context.Context, userId uuid.UUID, req *dto.SaveChatRequest) (*dto.ChatHistoryResponse, error)
	Clear(ctx context.Context, userId, recordId uuid.UUID) error
}

type chatService struct {
	uowFactory unitofwork.RepositoryFactory
	vault      *keyvault.Vault
	logger     logger.ILogger
}

func NewChatService(uowFactory unitofwork.RepositoryFactory, vault *keyvault.Vault, log logger.ILogger) IChatService {
	return &chatService{
		uowFactory: uowFactory,
		vault:      vault,
		logger:     log,
	}
}

var chatRoles = map[string]bool{"user": true, "assistant": true, "system": true}

type sealedChatMessage struct {
	Content string          `json:"content"`
	Sources json.RawMessage `json:"sources,omitempty"`
}

func (c *chatService) List(ctx context.Context, userId, recordId uuid.UUID) (*dto.ChatHistoryResponse, error) {
	uow := c.uowFactory.NewUnitOfWork(ctx)
	if _, err := ownedRecord(ctx, uow, userId, recordId); err != nil {
		return nil, err
	}

	messages, err := uow.ChatMessageRepository().FindAll(ctx,
		specification.ByRecordID{RecordID: recordId},
		specification.OrderBy{Field: "position"},
	)
	if err != nil {
		return nil, err
	}

	res := &dto.ChatHistoryResponse{RecordId: recordId, Messages: make([]dto.ChatMessageResponse, 0, len(messages))}
	err = c.vault.WithMasterKey(ctx, userId, func(key []byte) error {
		for _, m := range messages {
			plain, err := cipher.Decrypt(key, m.Ciphertext, cipher.ChatAAD(recordId.String(), m.Position))
			if err != nil {
				return apperror.DecryptionFailed(err)
			}
			var sealed sealedChatMessage
			if err := json.Unmarshal(plain, &sealed); err != nil {
				return apperror.DecryptionFailed(err)
			}
			res.Messages = append(res.Messages, dto.ChatMessageResponse{
				Id:        m.MessageId,
				Role:      m.Role,
				Content:   sealed.Content,
				Sources:   sealed.Sources,
				Model:     m.Model,
				Timestamp: m.SentAt,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func validateChat(req *dto.SaveChatRequest) error {
	seen := make(map[string]bool, len(req.Messages))
	for i, m := range req.Messages {
		if m.Id == "" {
			return apperror.Validation(fmt.Sprintf("message %d has no id", i))
		}
		if seen[m.Id] {
			return apperror.Validation(fmt.Sprintf("duplicate message id %q", m.Id))
		}
		seen[m.Id] = true
		if !chatRoles[m.Role] {
			return apperror.Validation(fmt.Sprintf("message %d has unknown role %q", i, m.Role))
		}
		if len(m.Sources) > 0 && !json.Valid(m.Sources) {
			return apperror.Validation(fmt.Sprintf("message %d has malformed sources", i))
		}
	}
	return nil
}

func (c *chatService) Save(ctx context.Context, userId uuid.UUID, req *dto.SaveChatRequest) (*dto.ChatHistoryResponse, error) {
	if err := validateChat(req); err != nil {
		return nil, err
	}

	uow := c.uowFactory.NewUnitOfWork(ctx)
	if _, err := ownedRecord(ctx, uow, userId, req.RecordId); err != nil {
		return nil, err
	}

	messages := make([]*entity.ChatMessage, 0, len(req.Messages))
	err := c.vault.WithMasterKey(ctx, userId, func(key []byte) error {
		for i, m := range req.Messages {
			plain, err := json.Marshal(sealedChatMessage{Content: m.Content, Sources: m.Sources})
			if err != nil {
				return err
			}
			sealed, err := cipher.Encrypt(key, plain, cipher.ChatAAD(req.RecordId.String(), i))
			if err != nil {
				return err
			}
			messages = append(messages, &entity.ChatMessage{
				Id:         uuid.New(),
				RecordId:   req.RecordId,
				Position:   i,
				MessageId:  m.Id,
				Role:       m.Role,
				Model:      m.Model,
				Ciphertext: sealed,
				SentAt:     m.Timestamp.UTC(),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := uow.Begin(ctx); err != nil {
		return nil, err
	}
	defer uow.Rollback()

	if err := uow.ChatMessageRepository().DeleteByRecordId(ctx, req.RecordId); err != nil {
		return nil, err
	}
	if len(messages) > 0 {
		if err := uow.ChatMessageRepository().CreateBatch(ctx, messages); err != nil {
			return nil, err
		}
	}
	if err := uow.Commit(); err != nil {
		return nil, err
	}

	c.logger.Info("ChatService", "Chat history saved", map[string]interface{}{
		"record_id": req.RecordId,
		"messages":  len(messages),
	})

	res := &dto.ChatHistoryResponse{RecordId: req.RecordId, Messages: make([]dto.ChatMessageResponse, 0, len(req.Messages))}
	for _, m := range req.Messages {
		res.Messages = append(res.Messages, dto.ChatMessageResponse{
			Id:        m.Id,
			Role:      m.Role,
			Content:   m.Content,
			Sources:   m.Sources,
			Model:     m.Model,
			Timestamp: m.Timestamp.UTC(),
		})
	}
	return res, nil
}

func (c *chatService) Clear(ctx context.Context, userId, recordId uuid.UUID) error {
	uow := c.uowFactory.NewUnitOfWork(ctx)
	if _, err := ownedRecord(ctx, uow, userId, recordId); err != nil {
		return err
	}
	if err := uow.ChatMessageRepository().DeleteByRecordId(ctx, recordId); err != nil {
		return err
	}

	c.logger.Info("ChatService", "Chat history cleared", map[string]interface{}{
		"record_id": recordId,
	})
	return nil
}
