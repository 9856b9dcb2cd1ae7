package cipher

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key, err := NewKey()
	require.NoError(t, err)

	tests := []struct {
		name      string
		plaintext []byte
		aad       []byte
	}{
		{"empty", []byte{}, nil},
		{"short text", []byte("hello"), nil},
		{"chunk with aad", []byte("The quick brown fox jumps over the lazy dog."), ChunkAAD("doc-1", 3)},
		{"binary", bytes.Repeat([]byte{0x00, 0xff, 0x10}, 4096), DocumentAAD("doc-2")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ct, err := Encrypt(key, tt.plaintext, tt.aad)
			require.NoError(t, err)
			assert.NotEqual(t, tt.plaintext, ct)

			pt, err := Decrypt(key, ct, tt.aad)
			require.NoError(t, err)
			assert.Equal(t, len(tt.plaintext), len(pt))
			assert.True(t, bytes.Equal(tt.plaintext, pt))
		})
	}
}

func TestEncryptUsesFreshNonce(t *testing.T) {
	key, _ := NewKey()
	a, err := Encrypt(key, []byte("same"), nil)
	require.NoError(t, err)
	b, err := Encrypt(key, []byte("same"), nil)
	require.NoError(t, err)
	assert.NotEqual(t, a[:NonceSize], b[:NonceSize])
}

func TestDecryptDetectsEverySingleByteTamper(t *testing.T) {
	key, _ := NewKey()
	ct, err := Encrypt(key, []byte("confidential paragraph"), ChunkAAD("d", 0))
	require.NoError(t, err)

	for i := range ct {
		tampered := append([]byte(nil), ct...)
		tampered[i] ^= 0x01
		_, err := Decrypt(key, tampered, ChunkAAD("d", 0))
		assert.ErrorIs(t, err, ErrIntegrity, "byte %d", i)
	}
}

func TestDecryptFailures(t *testing.T) {
	key, _ := NewKey()
	other, _ := NewKey()
	ct, err := Encrypt(key, []byte("payload"), ChunkAAD("d", 1))
	require.NoError(t, err)

	tests := []struct {
		name string
		key  []byte
		data []byte
		aad  []byte
	}{
		{"wrong key", other, ct, ChunkAAD("d", 1)},
		{"wrong aad", key, ct, ChunkAAD("d", 2)},
		{"truncated", key, ct[:NonceSize+3], ChunkAAD("d", 1)},
		{"empty", key, nil, nil},
		{"bad key length", key[:16], ct, ChunkAAD("d", 1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decrypt(tt.key, tt.data, tt.aad)
			assert.ErrorIs(t, err, ErrIntegrity)
		})
	}
}

func TestZero(t *testing.T) {
	key, _ := NewKey()
	Zero(key)
	assert.Equal(t, make([]byte, KeySize), key)
}

func TestFingerprintDependsOnKey(t *testing.T) {
	k1, err := NewKey()
	require.NoError(t, err)
	k2, err := NewKey()
	require.NoError(t, err)

	a := Fingerprint(k1, []byte("https://example.com"))
	assert.Len(t, a, 64)
	assert.Equal(t, a, Fingerprint(k1, []byte("https://example.com")))
	assert.NotEqual(t, a, Fingerprint(k2, []byte("https://example.com")))
	assert.NotEqual(t, a, Fingerprint(k1, []byte("https://example.org")))
}
