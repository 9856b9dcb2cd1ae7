package service

import (
	"context"

	"openrecords-be/internal/dto"
	"openrecords-be/internal/pkg/apperror"
	"openrecords-be/internal/pkg/logger"
	"openrecords-be/internal/repository/specification"
	"openrecords-be/internal/repository/unitofwork"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

type IUserService interface {
	Me(ctx context.Context, userId uuid.UUID) (*dto.UserResponse, error)
	// DeleteAccount removes every record of the user with its documents,
	// blobs and artifacts, then the user and the wrapped master key.
	DeleteAccount(ctx context.Context, userId uuid.UUID, req *dto.DeleteAccountRequest) error
}

type userService struct {
	uowFactory unitofwork.RepositoryFactory
	records    IRecordService
	logger     logger.ILogger
}

func NewUserService(uowFactory unitofwork.RepositoryFactory, records IRecordService, log logger.ILogger) IUserService {
	return &userService{
		uowFactory: uowFactory,
		records:    records,
		logger:     log,
	}
}

func (s *userService) Me(ctx context.Context, userId uuid.UUID) (*dto.UserResponse, error) {
	uow := s.uowFactory.NewUnitOfWork(ctx)
	user, err := uow.UserRepository().FindOne(ctx, specification.ByID{ID: userId})
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperror.NotFound("user")
	}
	records, err := uow.RecordRepository().Count(ctx, specification.UserOwnedBy{UserID: userId})
	if err != nil {
		return nil, err
	}
	return &dto.UserResponse{
		Id:        user.Id,
		Username:  user.Username,
		Email:     user.Email,
		Records:   records,
		CreatedAt: user.CreatedAt,
	}, nil
}

func (s *userService) DeleteAccount(ctx context.Context, userId uuid.UUID, req *dto.DeleteAccountRequest) error {
	uow := s.uowFactory.NewUnitOfWork(ctx)
	user, err := uow.UserRepository().FindOne(ctx, specification.ByID{ID: userId})
	if err != nil {
		return err
	}
	if user == nil {
		return apperror.NotFound("user")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		s.logger.Warn("AUTH", "Account deletion rejected", map[string]interface{}{
			"user_id": userId,
		})
		return apperror.Unauthorized("invalid credentials")
	}

	records, err := uow.RecordRepository().FindAll(ctx, specification.UserOwnedBy{UserID: userId})
	if err != nil {
		return err
	}
	// Records go one by one so their blobs leave the vault too. A failure
	// leaves the account in place and the call can be repeated.
	for _, r := range records {
		if err := s.records.Delete(ctx, userId, r.Id); err != nil {
			return err
		}
	}

	if err := uow.UserRepository().Delete(ctx, userId); err != nil {
		return err
	}

	s.logger.Info("AUTH", "Account deleted", map[string]interface{}{
		"user_id": userId,
		"records": len(records),
	})
	return nil
}
