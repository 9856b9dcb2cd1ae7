package apperror

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindMatching(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
		want     Kind
	}{
		{"validation", Validation("bad file type"), ErrValidation, KindValidation},
		{"not found", NotFound("record"), ErrNotFound, KindNotFound},
		{"key unavailable wrapped", fmt.Errorf("unwrap: %w", KeyUnavailable(errors.New("gcm"))), ErrKeyUnavailable, KindKeyUnavailable},
		{"decryption failed", DecryptionFailed(nil), ErrDecryptionFailed, KindDecryptionFailed},
		{"retrieval", RetrievalUnavailable(errors.New("timeout")), ErrRetrievalUnavailable, KindRetrievalUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, errors.Is(tt.err, tt.sentinel))
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestDifferentKindsDoNotMatch(t *testing.T) {
	assert.False(t, errors.Is(KeyUnavailable(nil), ErrDecryptionFailed))
	assert.False(t, errors.Is(errors.New("plain"), ErrNotFound))
}

func TestPublicMessageHidesCause(t *testing.T) {
	err := DecryptionFailed(errors.New("cipher: message authentication failed"))
	assert.Equal(t, "access denied", PublicMessage(err))
	assert.Equal(t, "internal error", PublicMessage(errors.New("pq: relation missing")))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
}
