package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"openrecords-be/internal/dto"
	"openrecords-be/internal/entity"
	"openrecords-be/internal/keyvault"
	"openrecords-be/internal/pkg/apperror"
	"openrecords-be/internal/pkg/logger"
	"openrecords-be/internal/pkg/serverutils"
	"openrecords-be/internal/repository/specification"
	"openrecords-be/internal/repository/unitofwork"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

type IAuthService interface {
	Register(ctx context.Context, req *dto.RegisterRequest) (*dto.RegisterResponse, error)
	Login(ctx context.Context, req *dto.LoginRequest) (*dto.LoginResponse, error)
	// RotateServerSecret rewraps every user key from the current server
	// secret to next. Either every user is moved or none is.
	RotateServerSecret(ctx context.Context, next *keyvault.Vault) (int, error)
}

type authService struct {
	uowFactory unitofwork.RepositoryFactory
	vault      *keyvault.Vault
	logger     logger.ILogger
	jwtSecret  string
	tokenTTL   time.Duration
}

func NewAuthService(uowFactory unitofwork.RepositoryFactory, vault *keyvault.Vault, log logger.ILogger, jwtSecret string, tokenTTL time.Duration) IAuthService {
	return &authService{
		uowFactory: uowFactory,
		vault:      vault,
		logger:     log,
		jwtSecret:  jwtSecret,
		tokenTTL:   tokenTTL,
	}
}

func (s *authService) Register(ctx context.Context, req *dto.RegisterRequest) (*dto.RegisterResponse, error) {
	username := strings.TrimSpace(req.Username)
	email := strings.ToLower(strings.TrimSpace(req.Email))

	uow := s.uowFactory.NewUnitOfWork(ctx)
	if err := uow.Begin(ctx); err != nil {
		return nil, err
	}
	defer uow.Rollback()

	existing, err := uow.UserRepository().FindOne(ctx, specification.ByUsername{Username: username})
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apperror.Conflict("username already taken")
	}
	existing, err = uow.UserRepository().FindOne(ctx, specification.ByEmail{Email: email})
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apperror.Conflict("email already registered")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	id := uuid.New()
	wrapped, err := s.vault.NewWrappedKey(id)
	if err != nil {
		return nil, fmt.Errorf("create master key: %w", err)
	}

	user := &entity.User{
		Id:               id,
		Username:         username,
		Email:            email,
		PasswordHash:     string(hash),
		WrappedMasterKey: wrapped,
		CreatedAt:        time.Now(),
	}
	if err := uow.UserRepository().Create(ctx, user); err != nil {
		return nil, err
	}
	if err := uow.Commit(); err != nil {
		return nil, err
	}

	s.logger.Info("AUTH", "User registered", map[string]interface{}{
		"user_id": id,
	})
	return &dto.RegisterResponse{Id: id}, nil
}

func (s *authService) Login(ctx context.Context, req *dto.LoginRequest) (*dto.LoginResponse, error) {
	login := strings.TrimSpace(req.Login)
	if strings.Contains(login, "@") {
		login = strings.ToLower(login)
	}

	uow := s.uowFactory.NewUnitOfWork(ctx)
	user, err := uow.UserRepository().FindOne(ctx, specification.ByLogin{Login: login})
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperror.Unauthorized("invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		s.logger.Warn("AUTH", "Login rejected", map[string]interface{}{
			"user_id": user.Id,
		})
		return nil, apperror.Unauthorized("invalid credentials")
	}

	token, err := serverutils.IssueToken(s.jwtSecret, user.Id, s.tokenTTL)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}

	return &dto.LoginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.tokenTTL.Seconds()),
		UserId:      user.Id,
	}, nil
}

func (s *authService) RotateServerSecret(ctx context.Context, next *keyvault.Vault) (int, error) {
	uow := s.uowFactory.NewUnitOfWork(ctx)
	if err := uow.Begin(ctx); err != nil {
		return 0, err
	}
	defer uow.Rollback()

	users, err := uow.UserRepository().FindAll(ctx)
	if err != nil {
		return 0, err
	}
	for _, user := range users {
		rewrapped, err := s.vault.Rewrap(user.Id, user.WrappedMasterKey, next)
		if err != nil {
			return 0, fmt.Errorf("rewrap user %s: %w", user.Id, err)
		}
		if err := uow.UserRepository().UpdateWrappedKey(ctx, user.Id, rewrapped); err != nil {
			return 0, err
		}
	}
	if err := uow.Commit(); err != nil {
		return 0, err
	}

	s.logger.Info("AUTH", "Server secret rotated", map[string]interface{}{
		"users": len(users),
	})
	return len(users), nil
}
