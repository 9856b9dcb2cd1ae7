// Package keyvault derives the server key-encryption key and unwraps
// per-user master keys for the duration of one operation.
package keyvault

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"openrecords-be/internal/pkg/apperror"
	"openrecords-be/internal/pkg/logger"
	"openrecords-be/pkg/cipher"

	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"
)

var (
	kekSalt = []byte("openrecords/kek/v1")
	kekInfo = []byte("wrap user master key")
)

// WrappedKeyStore loads a user's wrapped key. A missing user returns nil, nil.
type WrappedKeyStore interface {
	LoadWrappedKey(ctx context.Context, userID uuid.UUID) ([]byte, error)
}

type Vault struct {
	kek    []byte
	store  WrappedKeyStore
	logger logger.ILogger
	live   atomic.Int64
}

// KeyFunc runs fn with a freshly unwrapped master key that is zeroed when fn
// returns.
type KeyFunc func(fn func(key []byte) error) error

func New(serverSecret string, store WrappedKeyStore, log logger.ILogger) (*Vault, error) {
	if serverSecret == "" {
		return nil, errors.New("keyvault: server secret is empty")
	}
	kek, err := deriveKEK(serverSecret)
	if err != nil {
		return nil, err
	}
	return &Vault{kek: kek, store: store, logger: log}, nil
}

func deriveKEK(secret string) ([]byte, error) {
	kek := make([]byte, cipher.KeySize)
	r := hkdf.New(sha256.New, []byte(secret), kekSalt, kekInfo)
	if _, err := io.ReadFull(r, kek); err != nil {
		return nil, fmt.Errorf("derive kek: %w", err)
	}
	return kek, nil
}

func wrapAAD(userID uuid.UUID) []byte {
	return []byte("user-key:" + userID.String())
}

// NewWrappedKey generates a master key for userID and returns only its wrapped form.
func (v *Vault) NewWrappedKey(userID uuid.UUID) ([]byte, error) {
	key, err := cipher.NewKey()
	if err != nil {
		return nil, err
	}
	defer cipher.Zero(key)

	return cipher.Encrypt(v.kek, key, wrapAAD(userID))
}

func (v *Vault) unwrap(userID uuid.UUID, wrapped []byte) ([]byte, error) {
	if len(wrapped) == 0 {
		return nil, apperror.KeyUnavailable(errors.New("no wrapped key"))
	}
	key, err := cipher.Decrypt(v.kek, wrapped, wrapAAD(userID))
	if err != nil {
		return nil, apperror.KeyUnavailable(err)
	}
	if len(key) != cipher.KeySize {
		cipher.Zero(key)
		return nil, apperror.KeyUnavailable(errors.New("unexpected key length"))
	}
	return key, nil
}

// WithMasterKey unwraps the user's key, calls fn, and zeroes the key when fn
// returns or panics. The key is never cached between calls.
func (v *Vault) WithMasterKey(ctx context.Context, userID uuid.UUID, fn func(key []byte) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	wrapped, err := v.store.LoadWrappedKey(ctx, userID)
	if err != nil {
		return fmt.Errorf("load wrapped key: %w", err)
	}

	key, err := v.unwrap(userID, wrapped)
	if err != nil {
		v.logger.Warn("KeyVault", "Master key unavailable", map[string]interface{}{
			"user_id": userID,
		})
		return err
	}
	v.live.Add(1)
	defer func() {
		cipher.Zero(key)
		v.live.Add(-1)
	}()

	return fn(key)
}

// For binds a user so that a long operation can unwrap the key once per
// step and hold nothing between steps.
func (v *Vault) For(ctx context.Context, userID uuid.UUID) KeyFunc {
	return func(fn func(key []byte) error) error {
		return v.WithMasterKey(ctx, userID, fn)
	}
}

// Live is the number of master keys unwrapped right now.
func (v *Vault) Live() int64 {
	return v.live.Load()
}

// Rewrap moves a wrapped key from this vault's KEK to next's KEK.
func (v *Vault) Rewrap(userID uuid.UUID, wrapped []byte, next *Vault) ([]byte, error) {
	key, err := v.unwrap(userID, wrapped)
	if err != nil {
		return nil, err
	}
	defer cipher.Zero(key)

	return cipher.Encrypt(next.kek, key, wrapAAD(userID))
}
