package dto

import (
	"github.com/google/uuid"
)

type QueryRequest struct {
	RecordId uuid.UUID `json:"record_id" validate:"required"`
	Query    string    `json:"query" validate:"required,max=4000"`
	TopK     int       `json:"top_k" validate:"omitempty,min=1,max=20"`
	Model    string    `json:"model" validate:"max=255"`
}

type CitationResponse struct {
	DocumentId uuid.UUID `json:"document_id"`
	Filename   string    `json:"filename"`
	ChunkId    uuid.UUID `json:"chunk_id"`
	Ordinal    int       `json:"ordinal"`
	Page       *int      `json:"page,omitempty"`
	Score      float64   `json:"score"`
	Snippet    string    `json:"snippet"`
}

type QueryResponse struct {
	Answer    string             `json:"answer"`
	Citations []CitationResponse `json:"citations"`
	NoSources bool               `json:"no_sources"`
	Cached    bool               `json:"cached"`
	Model     string             `json:"model"`
}

type GenerateRequest struct {
	RecordId uuid.UUID         `json:"record_id" validate:"required"`
	Tool     string            `json:"tool" validate:"required"`
	Params   map[string]string `json:"params"`
}

type ArtifactPageResponse struct {
	Index    int    `json:"index"`
	Status   string `json:"status"`
	Chunks   int    `json:"chunks"`
	Reason   string `json:"reason,omitempty"`
	Attempts int    `json:"attempts"`
}

type ArtifactResponse struct {
	Id             uuid.UUID              `json:"id"`
	RecordId       uuid.UUID              `json:"record_id"`
	Kind           string                 `json:"kind"`
	Status         string                 `json:"status"`
	ModelId        string                 `json:"model_id"`
	SucceededPages int                    `json:"succeeded_pages"`
	FailedPages    int                    `json:"failed_pages"`
	ChunkCount     int                    `json:"chunk_count"`
	Pages          []ArtifactPageResponse `json:"pages,omitempty"`
	Params         map[string]string      `json:"params,omitempty"`
	CreatedAt      string                 `json:"created_at"`
}

type GenerateResponse struct {
	Artifact ArtifactResponse `json:"artifact"`
	// Text is set for the text tools.
	Text string `json:"text,omitempty"`
	// ContentPath is set when the artifact has content to download.
	ContentPath string `json:"content_path,omitempty"`
}

type ModelListResponse struct {
	Models []ModelResponse `json:"models"`
	Stale  bool            `json:"stale"`
}

type ModelResponse struct {
	Id                string   `json:"id"`
	Provider          string   `json:"provider"`
	Name              string   `json:"name"`
	ContextLength     int      `json:"context_length"`
	PricingPrompt     string   `json:"pricing_prompt"`
	PricingCompletion string   `json:"pricing_completion"`
	Categories        []string `json:"categories"`
	SupportsStreaming bool     `json:"supports_streaming"`
}
