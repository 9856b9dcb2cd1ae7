package keyvault

import (
	"context"
	"errors"
	"testing"

	"openrecords-be/internal/pkg/apperror"
	"openrecords-be/internal/pkg/logger"
	"openrecords-be/pkg/cipher"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapKeyStore map[uuid.UUID][]byte

func (m mapKeyStore) LoadWrappedKey(_ context.Context, userID uuid.UUID) ([]byte, error) {
	return m[userID], nil
}

func newTestVault(t *testing.T, secret string, store WrappedKeyStore) *Vault {
	t.Helper()
	v, err := New(secret, store, logger.NewNopLogger())
	require.NoError(t, err)
	return v
}

func TestNewRejectsEmptySecret(t *testing.T) {
	_, err := New("", mapKeyStore{}, logger.NewNopLogger())
	assert.Error(t, err)
}

func TestWithMasterKeyIsDeterministic(t *testing.T) {
	store := mapKeyStore{}
	v := newTestVault(t, "server-secret", store)
	userID := uuid.New()

	wrapped, err := v.NewWrappedKey(userID)
	require.NoError(t, err)
	store[userID] = wrapped

	var first, second []byte
	require.NoError(t, v.WithMasterKey(context.Background(), userID, func(key []byte) error {
		first = append([]byte(nil), key...)
		return nil
	}))
	require.NoError(t, v.WithMasterKey(context.Background(), userID, func(key []byte) error {
		second = append([]byte(nil), key...)
		return nil
	}))

	assert.Len(t, first, cipher.KeySize)
	assert.Equal(t, first, second)
}

func TestWithMasterKeyZeroesKey(t *testing.T) {
	store := mapKeyStore{}
	v := newTestVault(t, "server-secret", store)
	userID := uuid.New()
	wrapped, _ := v.NewWrappedKey(userID)
	store[userID] = wrapped
	zero := make([]byte, cipher.KeySize)

	t.Run("after success", func(t *testing.T) {
		var held []byte
		err := v.WithMasterKey(context.Background(), userID, func(key []byte) error {
			held = key
			assert.NotEqual(t, zero, key)
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, zero, held)
	})

	t.Run("after callback error", func(t *testing.T) {
		var held []byte
		boom := errors.New("boom")
		err := v.WithMasterKey(context.Background(), userID, func(key []byte) error {
			held = key
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, zero, held)
	})

	t.Run("after panic", func(t *testing.T) {
		var held []byte
		assert.Panics(t, func() {
			_ = v.WithMasterKey(context.Background(), userID, func(key []byte) error {
				held = key
				panic("callback panic")
			})
		})
		assert.Equal(t, zero, held)
	})
}

func TestForUnwrapsPerStep(t *testing.T) {
	store := mapKeyStore{}
	v := newTestVault(t, "server-secret", store)
	userID := uuid.New()
	wrapped, _ := v.NewWrappedKey(userID)
	store[userID] = wrapped
	zero := make([]byte, cipher.KeySize)

	withKey := v.For(context.Background(), userID)
	var first []byte
	require.NoError(t, withKey(func(key []byte) error {
		first = key
		assert.Equal(t, int64(1), v.Live())
		return nil
	}))
	assert.Equal(t, zero, first, "zeroed between steps")
	assert.Equal(t, int64(0), v.Live())

	require.NoError(t, withKey(func(key []byte) error {
		assert.NotEqual(t, zero, key)
		return nil
	}))

	assert.Panics(t, func() {
		_ = withKey(func(key []byte) error { panic("step panic") })
	})
	assert.Equal(t, int64(0), v.Live())
}

func TestWithMasterKeyUnavailable(t *testing.T) {
	store := mapKeyStore{}
	v := newTestVault(t, "server-secret", store)
	other := newTestVault(t, "another-secret", store)

	missing := uuid.New()
	corrupt := uuid.New()
	store[corrupt] = []byte("not a wrapped key")
	foreign := uuid.New()
	store[foreign], _ = other.NewWrappedKey(foreign)
	swapped := uuid.New()
	store[swapped], _ = v.NewWrappedKey(uuid.New())

	tests := []struct {
		name   string
		userID uuid.UUID
	}{
		{"missing user", missing},
		{"corrupt wrapped key", corrupt},
		{"wrapped under another secret", foreign},
		{"wrapped for another user", swapped},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			err := v.WithMasterKey(context.Background(), tt.userID, func(key []byte) error {
				called = true
				return nil
			})
			assert.ErrorIs(t, err, apperror.ErrKeyUnavailable)
			assert.False(t, called)
		})
	}
}

func TestWithMasterKeyHonoursCancellation(t *testing.T) {
	v := newTestVault(t, "server-secret", mapKeyStore{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := v.WithMasterKey(ctx, uuid.New(), func(key []byte) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRewrap(t *testing.T) {
	store := mapKeyStore{}
	oldVault := newTestVault(t, "old-secret", store)
	newVault := newTestVault(t, "new-secret", store)
	userID := uuid.New()

	wrapped, err := oldVault.NewWrappedKey(userID)
	require.NoError(t, err)
	store[userID] = wrapped

	var before []byte
	require.NoError(t, oldVault.WithMasterKey(context.Background(), userID, func(key []byte) error {
		before = append([]byte(nil), key...)
		return nil
	}))

	rewrapped, err := oldVault.Rewrap(userID, wrapped, newVault)
	require.NoError(t, err)
	store[userID] = rewrapped

	var after []byte
	require.NoError(t, newVault.WithMasterKey(context.Background(), userID, func(key []byte) error {
		after = append([]byte(nil), key...)
		return nil
	}))
	assert.Equal(t, before, after)

	err = oldVault.WithMasterKey(context.Background(), userID, func(key []byte) error { return nil })
	assert.ErrorIs(t, err, apperror.ErrKeyUnavailable)
}
