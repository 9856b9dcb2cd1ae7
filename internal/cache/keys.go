package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const (
	KindChunkText      = "chunk_text"
	KindAnswer         = "answer"
	KindProviderModels = "provider_models"
)

func ChunkTextKey(recordID, chunkID uuid.UUID) string {
	return KindChunkText + ":" + recordID.String() + ":" + chunkID.String()
}

func AnswerKey(recordID uuid.UUID, fingerprint string) string {
	return KindAnswer + ":" + recordID.String() + ":" + fingerprint
}

func ProviderModelsKey(provider string) string {
	return KindProviderModels + ":" + provider
}

// Fingerprint hashes the parts of a query that change its answer.
func Fingerprint(query string, topK int, chatModel, embeddingModel string) string {
	h := sha256.New()
	for _, part := range []string{strings.TrimSpace(query), strconv.Itoa(topK), chatModel, embeddingModel} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func kindOf(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return "other"
}
