package service

import (
	"context"
	"encoding/json"
	"errors"

	"openrecords-be/internal/dto"
	"openrecords-be/internal/pkg/apperror"
	"openrecords-be/internal/pkg/logger"

	"github.com/ThreeDotsLabs/watermill/message"
)

type IConsumerService interface {
	Consume(ctx context.Context) error
}

type consumerService struct {
	subscriber message.Subscriber
	topicName  string
	ingestion  IIngestionService
	logger     logger.ILogger
}

func NewConsumerService(
	subscriber message.Subscriber,
	topicName string,
	ingestion IIngestionService,
	log logger.ILogger,
) IConsumerService {
	return &consumerService{
		subscriber: subscriber,
		topicName:  topicName,
		ingestion:  ingestion,
		logger:     log,
	}
}

// Consume subscribes and processes jobs until ctx is done.
func (cs *consumerService) Consume(ctx context.Context) error {
	messages, err := cs.subscriber.Subscribe(ctx, cs.topicName)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			cs.processMessage(ctx, msg)
		}
	}()

	return nil
}

func (cs *consumerService) processMessage(ctx context.Context, msg *message.Message) {
	var payload dto.PublishIngestionMessage
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		cs.logger.Error("Consumer", "Dropping malformed job", map[string]interface{}{
			"message_id": msg.UUID,
			"error":      err.Error(),
		})
		msg.Ack()
		return
	}

	result, err := cs.ingestion.Process(ctx, payload.UserId, payload.DocumentId)
	switch {
	case err == nil && result.Deleted:
		cs.logger.Info("Consumer", "Ingestion job stopped; document deleted", map[string]interface{}{
			"document_id": payload.DocumentId,
		})
		msg.Ack()
	case err == nil:
		cs.logger.Info("Consumer", "Ingestion job finished", map[string]interface{}{
			"document_id": payload.DocumentId,
			"status":      result.Status,
		})
		msg.Ack()
	case errors.Is(err, apperror.ErrNotFound):
		// deleted before the job ran
		msg.Ack()
	case ctx.Err() != nil:
		// shutting down; the document stays resumable
		msg.Nack()
	default:
		cs.logger.Error("Consumer", "Ingestion job failed", map[string]interface{}{
			"document_id": payload.DocumentId,
			"kind":        apperror.KindOf(err),
			"error":       err.Error(),
		})
		// stage failures are already on the document; redelivery would not help
		msg.Ack()
	}
}
