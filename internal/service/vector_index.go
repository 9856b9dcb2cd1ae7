package service

import (
	"context"
	"errors"
	"time"

	"openrecords-be/internal/entity"
	"openrecords-be/internal/repository/contract"
	"openrecords-be/internal/repository/specification"
	"openrecords-be/internal/repository/unitofwork"

	"github.com/google/uuid"
)

type IVectorIndex interface {
	Upsert(ctx context.Context, chunkID uuid.UUID, vector []float32, modelID string) error
	Search(ctx context.Context, recordID uuid.UUID, query []float32, modelID string, topK int) ([]*contract.ScoredChunk, error)
	CountForDocument(ctx context.Context, documentID uuid.UUID, modelID string) (int64, error)
	// MissingOrdinals lists chunk ordinals of the document with no vector for modelID.
	MissingOrdinals(ctx context.Context, documentID uuid.UUID, modelID string) ([]int, error)
}

type vectorIndex struct {
	uowFactory unitofwork.RepositoryFactory
}

func NewVectorIndex(uowFactory unitofwork.RepositoryFactory) IVectorIndex {
	return &vectorIndex{uowFactory: uowFactory}
}

func (v *vectorIndex) Upsert(ctx context.Context, chunkID uuid.UUID, vector []float32, modelID string) error {
	if len(vector) == 0 {
		return errors.New("empty vector")
	}
	uow := v.uowFactory.NewUnitOfWork(ctx)
	return uow.ChunkEmbeddingRepository().Upsert(ctx, &entity.ChunkEmbedding{
		ChunkId:    chunkID,
		ModelId:    modelID,
		Dimensions: len(vector),
		Vector:     vector,
		CreatedAt:  time.Now(),
	})
}

func (v *vectorIndex) Search(ctx context.Context, recordID uuid.UUID, query []float32, modelID string, topK int) ([]*contract.ScoredChunk, error) {
	if topK <= 0 || len(query) == 0 {
		return []*contract.ScoredChunk{}, nil
	}
	uow := v.uowFactory.NewUnitOfWork(ctx)
	hits, err := uow.ChunkEmbeddingRepository().SearchSimilar(ctx, recordID, query, modelID, topK)
	if err != nil {
		return nil, err
	}
	if hits == nil {
		hits = []*contract.ScoredChunk{}
	}
	return hits, nil
}

func (v *vectorIndex) CountForDocument(ctx context.Context, documentID uuid.UUID, modelID string) (int64, error) {
	uow := v.uowFactory.NewUnitOfWork(ctx)
	return uow.ChunkEmbeddingRepository().CountForDocument(ctx, documentID, modelID)
}

func (v *vectorIndex) MissingOrdinals(ctx context.Context, documentID uuid.UUID, modelID string) ([]int, error) {
	uow := v.uowFactory.NewUnitOfWork(ctx)

	embedded, err := uow.ChunkEmbeddingRepository().EmbeddedChunkIds(ctx, documentID, modelID)
	if err != nil {
		return nil, err
	}
	done := make(map[uuid.UUID]struct{}, len(embedded))
	for _, id := range embedded {
		done[id] = struct{}{}
	}

	chunks, err := uow.ChunkRepository().FindAll(ctx,
		specification.ByDocumentID{DocumentID: documentID},
		specification.OrderBy{Field: "ordinal"},
	)
	if err != nil {
		return nil, err
	}

	missing := []int{}
	for _, c := range chunks {
		if _, ok := done[c.Id]; !ok {
			missing = append(missing, c.Ordinal)
		}
	}
	return missing, nil
}
