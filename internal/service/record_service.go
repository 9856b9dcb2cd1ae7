package service

import (
	"context"
	"strings"
	"time"

	"openrecords-be/internal/dto"
	"openrecords-be/internal/entity"
	"openrecords-be/internal/pkg/apperror"
	"openrecords-be/internal/pkg/logger"
	"openrecords-be/internal/repository/specification"
	"openrecords-be/internal/repository/unitofwork"
	"openrecords-be/pkg/blobstore"

	"github.com/google/uuid"
)

type IRecordService interface {
	GetAll(ctx context.Context, userId uuid.UUID) ([]*dto.RecordResponse, error)
	Create(ctx context.Context, userId uuid.UUID, req *dto.CreateRecordRequest) (*dto.CreateRecordResponse, error)
	Show(ctx context.Context, userId uuid.UUID, id uuid.UUID) (*dto.RecordResponse, error)
	Update(ctx context.Context, userId uuid.UUID, req *dto.UpdateRecordRequest) (*dto.RecordResponse, error)
	Delete(ctx context.Context, userId uuid.UUID, id uuid.UUID) error
	ListDocuments(ctx context.Context, userId uuid.UUID, recordId uuid.UUID) ([]*dto.DocumentResponse, error)
	GetDocument(ctx context.Context, userId uuid.UUID, documentId uuid.UUID) (*dto.DocumentResponse, error)
	DeleteDocument(ctx context.Context, userId uuid.UUID, documentId uuid.UUID) error
}

type recordService struct {
	uowFactory     unitofwork.RepositoryFactory
	chunkStore     IChunkStore
	blobs          blobstore.BlobStore
	events         *EventSink
	logger         logger.ILogger
	chatModel      string
	embeddingModel string
}

func NewRecordService(
	uowFactory unitofwork.RepositoryFactory,
	chunkStore IChunkStore,
	blobs blobstore.BlobStore,
	events *EventSink,
	log logger.ILogger,
	chatModel, embeddingModel string,
) IRecordService {
	return &recordService{
		uowFactory:     uowFactory,
		chunkStore:     chunkStore,
		blobs:          blobs,
		events:         events,
		logger:         log,
		chatModel:      chatModel,
		embeddingModel: embeddingModel,
	}
}

// ownedRecord loads a record of userId. Records of other users are reported
// as missing.
func ownedRecord(ctx context.Context, uow unitofwork.UnitOfWork, userId, recordId uuid.UUID) (*entity.Record, error) {
	record, err := uow.RecordRepository().FindOne(ctx,
		specification.ByID{ID: recordId},
		specification.UserOwnedBy{UserID: userId},
	)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, apperror.NotFound("record")
	}
	return record, nil
}

// ownedDocument loads a document whose record belongs to userId.
func ownedDocument(ctx context.Context, uow unitofwork.UnitOfWork, userId, documentId uuid.UUID) (*entity.Document, *entity.Record, error) {
	doc, err := uow.DocumentRepository().FindOne(ctx, specification.ByID{ID: documentId})
	if err != nil {
		return nil, nil, err
	}
	if doc == nil {
		return nil, nil, apperror.NotFound("document")
	}
	record, err := ownedRecord(ctx, uow, userId, doc.RecordId)
	if err != nil {
		if apperror.KindOf(err) == apperror.KindNotFound {
			return nil, nil, apperror.NotFound("document")
		}
		return nil, nil, err
	}
	return doc, record, nil
}

func toRecordResponse(r *entity.Record, documents int64) *dto.RecordResponse {
	return &dto.RecordResponse{
		Id:             r.Id,
		Name:           r.Name,
		Description:    r.Description,
		ChatModel:      r.ChatModel,
		EmbeddingModel: r.EmbeddingModel,
		DocumentCount:  documents,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

func toDocumentResponse(d *entity.Document) *dto.DocumentResponse {
	return &dto.DocumentResponse{
		Id:             d.Id,
		RecordId:       d.RecordId,
		Filename:       d.Filename,
		MimeType:       d.MimeType,
		SizeBytes:      d.SizeBytes,
		Status:         string(d.Status),
		FailedStage:    d.FailedStage,
		FailureReason:  d.FailureReason,
		Attempts:       d.Attempts,
		PageCount:      d.PageCount,
		ChunkCount:     d.ChunkCount,
		TokenCount:     d.TokenCount,
		EmbeddingModel: d.EmbeddingModel,
		IndexedAt:      d.IndexedAt,
		CreatedAt:      d.CreatedAt,
	}
}

func (c *recordService) GetAll(ctx context.Context, userId uuid.UUID) ([]*dto.RecordResponse, error) {
	uow := c.uowFactory.NewUnitOfWork(ctx)

	records, err := uow.RecordRepository().FindAll(ctx,
		specification.UserOwnedBy{UserID: userId},
		specification.OrderBy{Field: "created_at", Desc: true},
	)
	if err != nil {
		return nil, err
	}

	result := make([]*dto.RecordResponse, 0, len(records))
	for _, r := range records {
		count, err := uow.DocumentRepository().Count(ctx, specification.ByRecordID{RecordID: r.Id})
		if err != nil {
			return nil, err
		}
		result = append(result, toRecordResponse(r, count))
	}
	return result, nil
}

func (c *recordService) Create(ctx context.Context, userId uuid.UUID, req *dto.CreateRecordRequest) (*dto.CreateRecordResponse, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, apperror.Validation("name is required")
	}

	record := entity.Record{
		Id:             uuid.New(),
		UserId:         userId,
		Name:           strings.TrimSpace(req.Name),
		Description:    req.Description,
		ChatModel:      firstNonEmpty(req.ChatModel, c.chatModel),
		EmbeddingModel: firstNonEmpty(req.EmbeddingModel, c.embeddingModel),
		CreatedAt:      time.Now(),
	}

	uow := c.uowFactory.NewUnitOfWork(ctx)
	if err := uow.RecordRepository().Create(ctx, &record); err != nil {
		return nil, err
	}

	return &dto.CreateRecordResponse{Id: record.Id}, nil
}

func (c *recordService) Show(ctx context.Context, userId uuid.UUID, id uuid.UUID) (*dto.RecordResponse, error) {
	uow := c.uowFactory.NewUnitOfWork(ctx)
	record, err := ownedRecord(ctx, uow, userId, id)
	if err != nil {
		return nil, err
	}
	count, err := uow.DocumentRepository().Count(ctx, specification.ByRecordID{RecordID: id})
	if err != nil {
		return nil, err
	}
	return toRecordResponse(record, count), nil
}

// Update changes name, description and chat model. The embedding model is
// fixed once documents are indexed with it.
func (c *recordService) Update(ctx context.Context, userId uuid.UUID, req *dto.UpdateRecordRequest) (*dto.RecordResponse, error) {
	uow := c.uowFactory.NewUnitOfWork(ctx)
	record, err := ownedRecord(ctx, uow, userId, req.Id)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	record.Name = strings.TrimSpace(req.Name)
	record.Description = req.Description
	if req.ChatModel != "" {
		record.ChatModel = req.ChatModel
	}
	record.UpdatedAt = &now

	if err := uow.RecordRepository().Update(ctx, record); err != nil {
		return nil, err
	}
	return c.Show(ctx, userId, record.Id)
}

// Delete removes every document (each in its own transaction), the
// record's artifacts and then the record.
func (c *recordService) Delete(ctx context.Context, userId uuid.UUID, id uuid.UUID) error {
	uow := c.uowFactory.NewUnitOfWork(ctx)
	record, err := ownedRecord(ctx, uow, userId, id)
	if err != nil {
		return err
	}

	docs, err := uow.DocumentRepository().FindAll(ctx, specification.ByRecordID{RecordID: id})
	if err != nil {
		return err
	}
	for _, d := range docs {
		if _, err := c.chunkStore.DeleteDocument(ctx, d.Id); err != nil {
			return err
		}
		c.events.documentDeleted(ctx, record.Id, d.Id)
	}

	artifacts, err := uow.ArtifactRepository().FindAll(ctx, specification.ByRecordID{RecordID: id})
	if err != nil {
		return err
	}
	for _, a := range artifacts {
		if err := uow.ArtifactRepository().Delete(ctx, a.Id); err != nil {
			return err
		}
		for _, key := range artifactBlobKeys(a) {
			if err := c.blobs.Delete(ctx, key); err != nil {
				c.logger.Warn("RecordService", "Failed to remove artifact blob", map[string]interface{}{
					"artifact_id": a.Id,
					"error":       err.Error(),
				})
			}
		}
	}

	if err := uow.ChatMessageRepository().DeleteByRecordId(ctx, id); err != nil {
		return err
	}
	if err := uow.ReferenceRepository().DeleteByRecordId(ctx, id); err != nil {
		return err
	}
	if err := uow.RecordRepository().Delete(ctx, id); err != nil {
		return err
	}

	c.logger.Info("RecordService", "Record deleted", map[string]interface{}{
		"record_id": id,
		"documents": len(docs),
		"artifacts": len(artifacts),
	})
	return nil
}

func (c *recordService) ListDocuments(ctx context.Context, userId uuid.UUID, recordId uuid.UUID) ([]*dto.DocumentResponse, error) {
	uow := c.uowFactory.NewUnitOfWork(ctx)
	if _, err := ownedRecord(ctx, uow, userId, recordId); err != nil {
		return nil, err
	}

	docs, err := uow.DocumentRepository().FindAll(ctx,
		specification.ByRecordID{RecordID: recordId},
		specification.OrderBy{Field: "created_at"},
	)
	if err != nil {
		return nil, err
	}

	result := make([]*dto.DocumentResponse, 0, len(docs))
	for _, d := range docs {
		result = append(result, toDocumentResponse(d))
	}
	return result, nil
}

func (c *recordService) GetDocument(ctx context.Context, userId uuid.UUID, documentId uuid.UUID) (*dto.DocumentResponse, error) {
	uow := c.uowFactory.NewUnitOfWork(ctx)
	doc, _, err := ownedDocument(ctx, uow, userId, documentId)
	if err != nil {
		return nil, err
	}
	return toDocumentResponse(doc), nil
}

func (c *recordService) DeleteDocument(ctx context.Context, userId uuid.UUID, documentId uuid.UUID) error {
	uow := c.uowFactory.NewUnitOfWork(ctx)
	doc, _, err := ownedDocument(ctx, uow, userId, documentId)
	if err != nil {
		return err
	}
	if _, err := c.chunkStore.DeleteDocument(ctx, doc.Id); err != nil {
		return err
	}
	c.events.documentDeleted(ctx, doc.RecordId, doc.Id)
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// embeddingModelOf is the model a record's vectors are written and searched
// under: the record's own choice, else the server default.
func embeddingModelOf(record *entity.Record, fallback string) string {
	return firstNonEmpty(record.EmbeddingModel, fallback)
}
