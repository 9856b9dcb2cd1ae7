package implementation

import (
	"context"
	"sort"
	"time"

	"openrecords-be/internal/entity"
	"openrecords-be/internal/mapper"
	"openrecords-be/internal/model"
	"openrecords-be/internal/repository/contract"
	"openrecords-be/internal/repository/scope"
	"openrecords-be/pkg/utils"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ChunkEmbeddingRepositoryImpl struct {
	db     *gorm.DB
	mapper *mapper.ChunkEmbeddingMapper
}

func NewChunkEmbeddingRepository(db *gorm.DB) contract.ChunkEmbeddingRepository {
	return &ChunkEmbeddingRepositoryImpl{
		db:     db,
		mapper: mapper.NewChunkEmbeddingMapper(),
	}
}

func (r *ChunkEmbeddingRepositoryImpl) Upsert(ctx context.Context, embedding *entity.ChunkEmbedding) error {
	m := r.mapper.ToModel(embedding)
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "chunk_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"model_id", "dimensions", "vector", "created_at"}),
		}).
		Create(m).Error
}

func (r *ChunkEmbeddingRepositoryImpl) DeleteByDocumentId(ctx context.Context, documentId uuid.UUID) error {
	subQuery := r.db.Table("chunks").Select("id").Where("document_id = ?", documentId)
	return r.db.WithContext(ctx).Where("chunk_id IN (?)", subQuery).Delete(&model.ChunkEmbedding{}).Error
}

func (r *ChunkEmbeddingRepositoryImpl) CountForDocument(ctx context.Context, documentId uuid.UUID, modelId string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.ChunkEmbedding{}).
		Joins("JOIN chunks ON chunks.id = chunk_embeddings.chunk_id").
		Where("chunks.document_id = ?", documentId).
		Where("chunk_embeddings.model_id = ?", modelId).
		Count(&count).Error
	return count, err
}

func (r *ChunkEmbeddingRepositoryImpl) EmbeddedChunkIds(ctx context.Context, documentId uuid.UUID, modelId string) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).Model(&model.ChunkEmbedding{}).
		Joins("JOIN chunks ON chunks.id = chunk_embeddings.chunk_id").
		Where("chunks.document_id = ?", documentId).
		Where("chunk_embeddings.model_id = ?", modelId).
		Pluck("chunk_embeddings.chunk_id", &ids).Error
	return ids, err
}

const searchColumns = "chunk_embeddings.chunk_id, chunks.document_id, chunks.ordinal, chunks.page_number, " +
	"documents.filename, documents.created_at AS document_created_at"

func (r *ChunkEmbeddingRepositoryImpl) SearchSimilar(ctx context.Context, recordId uuid.UUID, vector []float32, modelId string, limit int) ([]*contract.ScoredChunk, error) {
	if limit <= 0 {
		limit = 5
	}
	if r.db.Dialector.Name() == "postgres" {
		return r.searchPgvector(ctx, recordId, vector, modelId, limit)
	}
	return r.searchInMemory(ctx, recordId, vector, modelId, limit)
}

// searchPgvector lets pgvector order by cosine distance: 1 - (a <=> b) is the similarity.
func (r *ChunkEmbeddingRepositoryImpl) searchPgvector(ctx context.Context, recordId uuid.UUID, vector []float32, modelId string, limit int) ([]*contract.ScoredChunk, error) {
	var results []*contract.ScoredChunk
	queryVector := pgvector.NewVector(vector)

	err := r.db.WithContext(ctx).
		Table("chunk_embeddings").
		Select(searchColumns+", 1 - (chunk_embeddings.vector <=> ?) AS similarity", queryVector).
		Scopes(scope.SearchableChunks(recordId)).
		Where("chunk_embeddings.model_id = ?", modelId).
		Where("vector_dims(chunk_embeddings.vector) = ?", len(vector)).
		Order(gorm.Expr("chunk_embeddings.vector <=> ?", queryVector)).
		Order("chunks.ordinal ASC").
		Order("documents.created_at ASC").
		Order("chunk_embeddings.chunk_id ASC").
		Limit(limit).
		Scan(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

// searchInMemory serves dialects without a vector operator. Candidates are
// already narrowed to one record and one model.
func (r *ChunkEmbeddingRepositoryImpl) searchInMemory(ctx context.Context, recordId uuid.UUID, vector []float32, modelId string, limit int) ([]*contract.ScoredChunk, error) {
	type candidate struct {
		contract.ScoredChunk
		Vector pgvector.Vector
	}
	var candidates []candidate

	err := r.db.WithContext(ctx).
		Table("chunk_embeddings").
		Select(searchColumns+", chunk_embeddings.vector").
		Scopes(scope.SearchableChunks(recordId)).
		Where("chunk_embeddings.model_id = ?", modelId).
		Scan(&candidates).Error
	if err != nil {
		return nil, err
	}

	results := make([]*contract.ScoredChunk, 0, len(candidates))
	for i := range candidates {
		v := candidates[i].Vector.Slice()
		if len(v) != len(vector) {
			continue
		}
		hit := candidates[i].ScoredChunk
		hit.Similarity = utils.CosineSimilarity(vector, v)
		results = append(results, &hit)
	}

	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		if a.Ordinal != b.Ordinal {
			return a.Ordinal < b.Ordinal
		}
		if !a.DocumentCreatedAt.Equal(b.DocumentCreatedAt) {
			return a.DocumentCreatedAt.Before(b.DocumentCreatedAt)
		}
		return a.ChunkId.String() < b.ChunkId.String()
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}
