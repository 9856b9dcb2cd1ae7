package unitofwork

import (
	"context"

	"openrecords-be/internal/repository/contract"
)

type UnitOfWork interface {
	Begin(ctx context.Context) error
	Commit() error
	Rollback() error

	UserRepository() contract.UserRepository
	RecordRepository() contract.RecordRepository
	DocumentRepository() contract.DocumentRepository
	ChunkRepository() contract.ChunkRepository
	ChunkEmbeddingRepository() contract.ChunkEmbeddingRepository
	ArtifactRepository() contract.ArtifactRepository
	ChatMessageRepository() contract.ChatMessageRepository
	ReferenceRepository() contract.ReferenceRepository
}
