// Package cipher provides the authenticated encryption used for everything
// stored at rest: document blobs, chunk text and generated artifacts.
package cipher

import (
	"crypto/aes"
	gocipher "crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

const (
	KeySize   = 32
	NonceSize = 12
)

// ErrIntegrity covers every decrypt failure. Wrong key and tampered input
// are reported the same way.
var ErrIntegrity = errors.New("cipher: integrity check failed")

// NewKey returns a fresh random AES-256 key.
func NewKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return key, nil
}

func newGCM(key []byte) (gocipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("cipher: invalid key length %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return gocipher.NewGCM(block)
}

// Encrypt seals plaintext with a random nonce. Output layout: nonce || sealed.
// aad binds the ciphertext to where it is stored and may be nil.
func Encrypt(key, plaintext, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	out := make([]byte, 0, NonceSize+len(plaintext)+gcm.Overhead())
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, plaintext, aad), nil
}

// Decrypt opens data produced by Encrypt with the same key and aad.
func Decrypt(key, data, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, ErrIntegrity
	}
	if len(data) < NonceSize+gcm.Overhead() {
		return nil, ErrIntegrity
	}

	plaintext, err := gcm.Open(nil, data[:NonceSize], data[NonceSize:], aad)
	if err != nil {
		return nil, ErrIntegrity
	}
	return plaintext, nil
}

// Zero overwrites b in place.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func DocumentAAD(documentID string) []byte {
	return []byte("document:" + documentID)
}

func ChunkAAD(documentID string, ordinal int) []byte {
	return []byte(fmt.Sprintf("chunk:%s:%d", documentID, ordinal))
}

func ArtifactAAD(artifactID, part string) []byte {
	return []byte("artifact:" + artifactID + ":" + part)
}

// ChatAAD binds a chat message to its record and position.
func ChatAAD(recordID string, position int) []byte {
	return []byte(fmt.Sprintf("chat:%s:%d", recordID, position))
}

func ReferenceAAD(referenceID string) []byte {
	return []byte("reference:" + referenceID)
}

// Fingerprint is a keyed hash of data. Equal inputs match only under the
// same key, so the result can be stored next to ciphertext.
func Fingerprint(key, data []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}
