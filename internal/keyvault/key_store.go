package keyvault

import (
	"context"

	"openrecords-be/internal/repository/specification"
	"openrecords-be/internal/repository/unitofwork"

	"github.com/google/uuid"
)

type repositoryKeyStore struct {
	uowFactory unitofwork.RepositoryFactory
}

// NewRepositoryKeyStore reads wrapped keys from the users table.
func NewRepositoryKeyStore(uowFactory unitofwork.RepositoryFactory) WrappedKeyStore {
	return &repositoryKeyStore{uowFactory: uowFactory}
}

func (s *repositoryKeyStore) LoadWrappedKey(ctx context.Context, userID uuid.UUID) ([]byte, error) {
	uow := s.uowFactory.NewUnitOfWork(ctx)
	user, err := uow.UserRepository().FindOne(ctx, specification.ByID{ID: userID})
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, nil
	}
	return user.WrappedMasterKey, nil
}
