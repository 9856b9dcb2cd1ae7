package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"openrecords-be/internal/cache"
	"openrecords-be/internal/entity"
	"openrecords-be/internal/pkg/apperror"
	"openrecords-be/internal/pkg/logger"
	"openrecords-be/internal/repository/specification"
	"openrecords-be/internal/repository/unitofwork"
	"openrecords-be/pkg/blobstore"
	"openrecords-be/pkg/cipher"
	"openrecords-be/pkg/utils"

	"github.com/google/uuid"
)

type ChunkInput struct {
	Text         string
	TokenCount   int
	OverlapBytes int
	PageNumber   *int
}

// ChunkText is a decrypted chunk with what is needed to cite it.
type ChunkText struct {
	ChunkId      uuid.UUID
	DocumentId   uuid.UUID
	Filename     string
	Ordinal      int
	PageNumber   *int
	OverlapBytes int
	Text         string
}

type DocumentText struct {
	DocumentId uuid.UUID
	Filename   string
	Text       string
	Chunks     []ChunkText
}

type IChunkStore interface {
	PutDocument(ctx context.Context, recordID uuid.UUID, filename, mimeType string, plaintext []byte) (*entity.Document, bool, error)
	StoreBlob(ctx context.Context, documentID uuid.UUID, key, plaintext []byte) error
	ReadBlob(ctx context.Context, documentID uuid.UUID, key []byte) ([]byte, error)
	PutChunks(ctx context.Context, documentID uuid.UUID, chunks []ChunkInput, key []byte) ([]uuid.UUID, error)
	GetChunkText(ctx context.Context, chunkID uuid.UUID, key []byte) (string, error)
	ListChunks(ctx context.Context, documentID uuid.UUID) ([]*entity.Chunk, error)
	ReadRecordText(ctx context.Context, recordID uuid.UUID, key []byte) ([]DocumentText, error)
	ReadChunks(ctx context.Context, recordID uuid.UUID, chunkIDs []uuid.UUID, key []byte) ([]ChunkText, error)
	DeleteDocument(ctx context.Context, documentID uuid.UUID) (*entity.Document, error)
}

type chunkStore struct {
	uowFactory unitofwork.RepositoryFactory
	blobs      blobstore.BlobStore
	cache      *cache.Layer
	logger     logger.ILogger
}

func NewChunkStore(
	uowFactory unitofwork.RepositoryFactory,
	blobs blobstore.BlobStore,
	cacheLayer *cache.Layer,
	log logger.ILogger,
) IChunkStore {
	return &chunkStore{
		uowFactory: uowFactory,
		blobs:      blobs,
		cache:      cacheLayer,
		logger:     log,
	}
}

func contentHash(plaintext []byte) string {
	sum := sha256.Sum256(plaintext)
	return hex.EncodeToString(sum[:])
}

func documentBlobKey(recordID, documentID uuid.UUID) string {
	return fmt.Sprintf("records/%s/%s.bin", recordID, documentID)
}

func (s *chunkStore) PutDocument(ctx context.Context, recordID uuid.UUID, filename, mimeType string, plaintext []byte) (*entity.Document, bool, error) {
	uow := s.uowFactory.NewUnitOfWork(ctx)
	hash := contentHash(plaintext)

	existing, err := uow.DocumentRepository().FindOne(ctx,
		specification.ByRecordID{RecordID: recordID},
		specification.ByContentHash{Hash: hash},
	)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	doc := &entity.Document{
		Id:          uuid.New(),
		RecordId:    recordID,
		Filename:    filename,
		MimeType:    mimeType,
		SizeBytes:   int64(len(plaintext)),
		ContentHash: hash,
		Status:      entity.DocumentStatusHashed,
		CreatedAt:   time.Now(),
	}
	if err := uow.DocumentRepository().Create(ctx, doc); err != nil {
		// Lost a race on (record_id, content_hash).
		existing, findErr := uow.DocumentRepository().FindOne(ctx,
			specification.ByRecordID{RecordID: recordID},
			specification.ByContentHash{Hash: hash},
		)
		if findErr == nil && existing != nil {
			return existing, false, nil
		}
		return nil, false, err
	}
	return doc, true, nil
}

func (s *chunkStore) findDocument(ctx context.Context, uow unitofwork.UnitOfWork, documentID uuid.UUID) (*entity.Document, error) {
	doc, err := uow.DocumentRepository().FindOne(ctx, specification.ByID{ID: documentID})
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, apperror.NotFound("document")
	}
	return doc, nil
}

func (s *chunkStore) StoreBlob(ctx context.Context, documentID uuid.UUID, key, plaintext []byte) error {
	uow := s.uowFactory.NewUnitOfWork(ctx)
	doc, err := s.findDocument(ctx, uow, documentID)
	if err != nil {
		return err
	}

	sealed, err := cipher.Encrypt(key, plaintext, cipher.DocumentAAD(documentID.String()))
	if err != nil {
		return err
	}

	blobKey := documentBlobKey(doc.RecordId, doc.Id)
	if err := s.blobs.Put(ctx, blobKey, sealed); err != nil {
		return fmt.Errorf("write blob: %w", err)
	}
	return uow.DocumentRepository().UpdateBlobKey(ctx, doc.Id, blobKey)
}

func (s *chunkStore) ReadBlob(ctx context.Context, documentID uuid.UUID, key []byte) ([]byte, error) {
	uow := s.uowFactory.NewUnitOfWork(ctx)
	doc, err := s.findDocument(ctx, uow, documentID)
	if err != nil {
		return nil, err
	}
	if doc.BlobKey == "" {
		return nil, apperror.NotFound("document blob")
	}

	sealed, err := s.blobs.Get(ctx, doc.BlobKey)
	if errors.Is(err, blobstore.ErrNotFound) {
		return nil, apperror.NotFound("document blob")
	}
	if err != nil {
		return nil, fmt.Errorf("read blob: %w", err)
	}

	plaintext, err := cipher.Decrypt(key, sealed, cipher.DocumentAAD(documentID.String()))
	if err != nil {
		return nil, apperror.DecryptionFailed(err)
	}
	return plaintext, nil
}

func (s *chunkStore) PutChunks(ctx context.Context, documentID uuid.UUID, chunks []ChunkInput, key []byte) ([]uuid.UUID, error) {
	uow := s.uowFactory.NewUnitOfWork(ctx)
	repo := uow.ChunkRepository()

	written := 0
	for ordinal, in := range chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		sealed, err := cipher.Encrypt(key, []byte(in.Text), cipher.ChunkAAD(documentID.String(), ordinal))
		if err != nil {
			return nil, err
		}

		// One row per statement; a crash leaves a valid prefix to resume from.
		created, err := repo.CreateIfAbsent(ctx, &entity.Chunk{
			Id:           uuid.New(),
			DocumentId:   documentID,
			Ordinal:      ordinal,
			Ciphertext:   sealed,
			TokenCount:   in.TokenCount,
			OverlapBytes: in.OverlapBytes,
			PageNumber:   in.PageNumber,
			CreatedAt:    time.Now(),
		})
		if err != nil {
			return nil, fmt.Errorf("write chunk %d: %w", ordinal, err)
		}
		if created {
			written++
		}
	}

	stored, err := s.ListChunks(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if len(stored) < len(chunks) {
		return nil, fmt.Errorf("expected %d chunks, found %d", len(chunks), len(stored))
	}

	ids := make([]uuid.UUID, len(chunks))
	for i := range chunks {
		ids[i] = stored[i].Id
	}

	s.logger.Debug("ChunkStore", "Chunks stored", map[string]interface{}{
		"document_id": documentID,
		"total":       len(chunks),
		"written":     written,
	})
	return ids, nil
}

func (s *chunkStore) decrypt(chunk *entity.Chunk, key []byte) (string, error) {
	plaintext, err := cipher.Decrypt(key, chunk.Ciphertext, cipher.ChunkAAD(chunk.DocumentId.String(), chunk.Ordinal))
	if err != nil {
		return "", apperror.DecryptionFailed(err)
	}
	return string(plaintext), nil
}

func (s *chunkStore) GetChunkText(ctx context.Context, chunkID uuid.UUID, key []byte) (string, error) {
	uow := s.uowFactory.NewUnitOfWork(ctx)
	chunk, err := uow.ChunkRepository().FindOne(ctx, specification.ByID{ID: chunkID})
	if err != nil {
		return "", err
	}
	if chunk == nil {
		return "", apperror.NotFound("chunk")
	}
	return s.decrypt(chunk, key)
}

func (s *chunkStore) ListChunks(ctx context.Context, documentID uuid.UUID) ([]*entity.Chunk, error) {
	uow := s.uowFactory.NewUnitOfWork(ctx)
	return uow.ChunkRepository().FindAll(ctx,
		specification.ByDocumentID{DocumentID: documentID},
		specification.OrderBy{Field: "ordinal"},
	)
}

func (s *chunkStore) recordChunks(ctx context.Context, recordID uuid.UUID, key []byte, keep func(*entity.Chunk) bool) ([]ChunkText, error) {
	uow := s.uowFactory.NewUnitOfWork(ctx)
	rows, err := uow.ChunkRepository().FindRecordChunks(ctx, recordID)
	if err != nil {
		return nil, err
	}

	out := make([]ChunkText, 0, len(rows))
	for _, row := range rows {
		if keep != nil && !keep(row.Chunk) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text, err := s.decrypt(row.Chunk, key)
		if err != nil {
			return nil, err
		}
		out = append(out, ChunkText{
			ChunkId:      row.Chunk.Id,
			DocumentId:   row.Chunk.DocumentId,
			Filename:     row.Filename,
			Ordinal:      row.Chunk.Ordinal,
			PageNumber:   row.Chunk.PageNumber,
			OverlapBytes: row.Chunk.OverlapBytes,
			Text:         text,
		})
	}
	return out, nil
}

func (s *chunkStore) ReadRecordText(ctx context.Context, recordID uuid.UUID, key []byte) ([]DocumentText, error) {
	chunks, err := s.recordChunks(ctx, recordID, key, nil)
	if err != nil {
		return nil, err
	}

	var docs []DocumentText
	for _, c := range chunks {
		if len(docs) == 0 || docs[len(docs)-1].DocumentId != c.DocumentId {
			docs = append(docs, DocumentText{DocumentId: c.DocumentId, Filename: c.Filename})
		}
		docs[len(docs)-1].Chunks = append(docs[len(docs)-1].Chunks, c)
	}

	for i := range docs {
		parts := make([]utils.TextChunk, len(docs[i].Chunks))
		for j, c := range docs[i].Chunks {
			parts[j] = utils.TextChunk{Text: c.Text, OverlapBytes: c.OverlapBytes}
		}
		docs[i].Text = utils.JoinChunks(parts)
	}
	return docs, nil
}

// ReadChunks decrypts the given chunks of a record in reading order. Ids that
// no longer belong to a complete document are skipped.
func (s *chunkStore) ReadChunks(ctx context.Context, recordID uuid.UUID, chunkIDs []uuid.UUID, key []byte) ([]ChunkText, error) {
	wanted := make(map[uuid.UUID]struct{}, len(chunkIDs))
	for _, id := range chunkIDs {
		wanted[id] = struct{}{}
	}
	return s.recordChunks(ctx, recordID, key, func(c *entity.Chunk) bool {
		_, ok := wanted[c.Id]
		return ok
	})
}

func (s *chunkStore) DeleteDocument(ctx context.Context, documentID uuid.UUID) (*entity.Document, error) {
	uow := s.uowFactory.NewUnitOfWork(ctx)
	if err := uow.Begin(ctx); err != nil {
		return nil, err
	}
	defer uow.Rollback()

	doc, err := s.findDocument(ctx, uow, documentID)
	if err != nil {
		return nil, err
	}

	if err := uow.ChunkEmbeddingRepository().DeleteByDocumentId(ctx, documentID); err != nil {
		return nil, err
	}
	if err := uow.ChunkRepository().DeleteByDocumentId(ctx, documentID); err != nil {
		return nil, err
	}
	if err := uow.DocumentRepository().Delete(ctx, documentID); err != nil {
		return nil, err
	}
	if err := uow.Commit(); err != nil {
		return nil, err
	}

	if doc.BlobKey != "" {
		if err := s.blobs.Delete(ctx, doc.BlobKey); err != nil {
			s.logger.Warn("ChunkStore", "Failed to remove document blob", map[string]interface{}{
				"document_id": documentID,
				"error":       err.Error(),
			})
		}
	}

	s.cache.InvalidatePrefix(cache.KindChunkText, doc.RecordId.String())
	s.cache.InvalidatePrefix(cache.KindAnswer, doc.RecordId.String())

	s.logger.Info("ChunkStore", "Document deleted", map[string]interface{}{
		"document_id": documentID,
		"record_id":   doc.RecordId,
	})
	return doc, nil
}
