package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"openrecords-be/internal/entity"
	"openrecords-be/internal/keyvault"
	"openrecords-be/internal/pkg/apperror"
	"openrecords-be/internal/pkg/logger"
	"openrecords-be/internal/repository/specification"
	"openrecords-be/internal/repository/unitofwork"
	"openrecords-be/pkg/blobstore"
	"openrecords-be/pkg/cipher"
	"openrecords-be/pkg/llm"
	"openrecords-be/pkg/rag/prompt"

	"github.com/google/uuid"
)

type ToolKind string

const (
	ToolSummary     ToolKind = "summary"
	ToolOutline     ToolKind = "outline"
	ToolInsights    ToolKind = "insights"
	ToolInfographic ToolKind = "infographic"
	ToolPdfExport   ToolKind = "pdf_export"
)

func ParseToolKind(s string) (ToolKind, error) {
	switch k := ToolKind(strings.ToLower(strings.TrimSpace(s))); k {
	case ToolSummary, ToolOutline, ToolInsights, ToolInfographic, ToolPdfExport:
		return k, nil
	}
	return "", apperror.Validation(fmt.Sprintf("unknown tool %q; allowed: summary, outline, insights, infographic, pdf_export", s))
}

const (
	contentTypeMarkdown = "text/markdown; charset=utf-8"
	contentTypeJPEG     = "image/jpeg"
	contentTypePDF      = "application/pdf"

	textMaxTokens    = 4096
	outlineMaxTokens = 2048
	insightMaxTokens = 8192

	infographicDocChars     = 2000
	infographicChunksPerDoc = 20
	infographicSnippetChars = 300
	infographicMaxSnippets  = 50
	infographicMaxChars     = 4000
)

// Params understood by the tools.
const (
	ParamModel  = "model"
	ParamPrompt = "prompt"
	ParamDepth  = "depth"
)

type GenerateInput struct {
	Tool   ToolKind
	Params map[string]string
}

type GenerateResult struct {
	Artifact *entity.GeneratedArtifact
	// Text is set for summary, outline and insights.
	Text string
	// Export is set for pdf_export.
	Export *ExportResult
}

type ArtifactContent struct {
	Data        []byte
	ContentType string
	Filename    string
}

type GenerationOptions struct {
	ChatModel       string
	ImageModel      string
	ExportGroupSize int
}

type IGenerationService interface {
	Generate(ctx context.Context, userId, recordId uuid.UUID, input GenerateInput) (*GenerateResult, error)
	RetryExport(ctx context.Context, userId, artifactId uuid.UUID) (*ExportResult, error)
	GetArtifact(ctx context.Context, userId, artifactId uuid.UUID) (*entity.GeneratedArtifact, error)
	ListArtifacts(ctx context.Context, userId, recordId uuid.UUID) ([]*entity.GeneratedArtifact, error)
	OpenArtifact(ctx context.Context, userId, artifactId uuid.UUID) (*ArtifactContent, error)
}

type generationService struct {
	uowFactory unitofwork.RepositoryFactory
	chunkStore IChunkStore
	blobs      blobstore.BlobStore
	vault      *keyvault.Vault
	chat       llm.LLMProvider
	images     llm.ImageProvider
	logger     logger.ILogger
	opts       GenerationOptions
	export     *exportPipeline
}

func NewGenerationService(
	uowFactory unitofwork.RepositoryFactory,
	chunkStore IChunkStore,
	blobs blobstore.BlobStore,
	vault *keyvault.Vault,
	chat llm.LLMProvider,
	images llm.ImageProvider,
	events *EventSink,
	log logger.ILogger,
	opts GenerationOptions,
) IGenerationService {
	if opts.ExportGroupSize <= 0 {
		opts.ExportGroupSize = 5
	}
	return &generationService{
		uowFactory: uowFactory,
		chunkStore: chunkStore,
		blobs:      blobs,
		vault:      vault,
		chat:       chat,
		images:     images,
		logger:     log,
		opts:       opts,
		export: &exportPipeline{
			uowFactory: uowFactory,
			chunkStore: chunkStore,
			blobs:      blobs,
			images:     images,
			events:     events,
			logger:     log,
		},
	}
}

func (c *generationService) Generate(ctx context.Context, userId, recordId uuid.UUID, input GenerateInput) (*GenerateResult, error) {
	uow := c.uowFactory.NewUnitOfWork(ctx)
	record, err := ownedRecord(ctx, uow, userId, recordId)
	if err != nil {
		return nil, err
	}
	if input.Params == nil {
		input.Params = map[string]string{}
	}
	if c.images == nil && (input.Tool == ToolInfographic || input.Tool == ToolPdfExport) {
		return nil, apperror.Validation(fmt.Sprintf("%s needs an image-capable provider", input.Tool))
	}

	c.logger.Info("GenerationService", "Generating", map[string]interface{}{
		"record_id": recordId,
		"tool":      input.Tool,
	})

	// Each tool unwraps the key only around its decrypt and encrypt steps;
	// provider calls run without it.
	withKey := c.vault.For(ctx, userId)
	switch input.Tool {
	case ToolSummary:
		return c.summary(ctx, record, input.Params, withKey)
	case ToolOutline:
		return c.outline(ctx, record, input.Params, withKey)
	case ToolInsights:
		return c.insights(ctx, record, input.Params, withKey)
	case ToolInfographic:
		return c.infographic(ctx, record, input.Params, withKey)
	case ToolPdfExport:
		return c.pdfExport(ctx, record, input.Params, withKey)
	}
	return nil, apperror.Validation(fmt.Sprintf("unknown tool %q", input.Tool))
}

// corpus returns the full text of the record's complete documents in
// filename order.
func (c *generationService) corpus(ctx context.Context, recordId uuid.UUID, withKey keyvault.KeyFunc) ([]DocumentText, int, error) {
	var docs []DocumentText
	err := withKey(func(key []byte) error {
		var readErr error
		docs, readErr = c.chunkStore.ReadRecordText(ctx, recordId, key)
		return readErr
	})
	if err != nil {
		return nil, 0, err
	}
	if len(docs) == 0 {
		return nil, 0, apperror.Validation("no indexed documents in this record; upload sources first")
	}
	chunks := 0
	for _, d := range docs {
		chunks += len(d.Chunks)
	}
	return docs, chunks, nil
}

func corpusBlocks(docs []DocumentText) string {
	blocks := make([]prompt.DocumentBlock, len(docs))
	for i, d := range docs {
		blocks[i] = prompt.DocumentBlock{Filename: d.Filename, Text: d.Text}
	}
	return prompt.Corpus(blocks)
}

func (c *generationService) chatModel(record *entity.Record, params map[string]string) string {
	return firstNonEmpty(params[ParamModel], record.ChatModel, c.opts.ChatModel)
}

func (c *generationService) complete(ctx context.Context, system, user, model string, maxTokens int) (string, error) {
	text, err := c.chat.Chat(ctx, []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}, llm.WithModel(model), llm.WithMaxTokens(maxTokens))
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		c.logger.Error("GenerationService", "Chat completion failed", map[string]interface{}{
			"model": model,
			"error": err.Error(),
		})
		return "", apperror.ProviderUnavailable(err)
	}
	return text, nil
}

func (c *generationService) summary(ctx context.Context, record *entity.Record, params map[string]string, withKey keyvault.KeyFunc) (*GenerateResult, error) {
	docs, chunks, err := c.corpus(ctx, record.Id, withKey)
	if err != nil {
		return nil, err
	}
	model := c.chatModel(record, params)
	text, err := c.complete(ctx, prompt.SummarySystemPrompt, corpusBlocks(docs), model, textMaxTokens)
	if err != nil {
		return nil, err
	}
	return c.saveText(ctx, record, ToolSummary, model, params, chunks, text, withKey)
}

// outline summarises first and outlines the summary.
func (c *generationService) outline(ctx context.Context, record *entity.Record, params map[string]string, withKey keyvault.KeyFunc) (*GenerateResult, error) {
	docs, chunks, err := c.corpus(ctx, record.Id, withKey)
	if err != nil {
		return nil, err
	}
	model := c.chatModel(record, params)
	summary, err := c.complete(ctx, prompt.SummarySystemPrompt, corpusBlocks(docs), model, textMaxTokens)
	if err != nil {
		return nil, err
	}
	text, err := c.complete(ctx, prompt.OutlineSystemPrompt, "Summary:\n"+summary, model, outlineMaxTokens)
	if err != nil {
		return nil, err
	}
	return c.saveText(ctx, record, ToolOutline, model, params, chunks, text, withKey)
}

func (c *generationService) insights(ctx context.Context, record *entity.Record, params map[string]string, withKey keyvault.KeyFunc) (*GenerateResult, error) {
	docs, chunks, err := c.corpus(ctx, record.Id, withKey)
	if err != nil {
		return nil, err
	}
	model := c.chatModel(record, params)
	text, err := c.complete(ctx, prompt.InsightSystemPrompt, prompt.InsightRequest(corpusBlocks(docs), params[ParamPrompt]), model, insightMaxTokens)
	if err != nil {
		return nil, err
	}
	return c.saveText(ctx, record, ToolInsights, model, params, chunks, text, withKey)
}

func (c *generationService) newArtifact(record *entity.Record, kind ToolKind, model string, params map[string]string) *entity.GeneratedArtifact {
	return &entity.GeneratedArtifact{
		Id:        uuid.New(),
		RecordId:  record.Id,
		UserId:    record.UserId,
		Kind:      string(kind),
		ModelId:   model,
		Params:    params,
		CreatedAt: time.Now(),
	}
}

// storeOutput encrypts data as the artifact's single output blob.
func (c *generationService) storeOutput(ctx context.Context, artifact *entity.GeneratedArtifact, data []byte, withKey keyvault.KeyFunc) error {
	var sealed []byte
	err := withKey(func(key []byte) error {
		var encErr error
		sealed, encErr = cipher.Encrypt(key, data, cipher.ArtifactAAD(artifact.Id.String(), "output"))
		return encErr
	})
	if err != nil {
		return err
	}
	artifact.OutputBlobKey = artifactOutputKey(artifact)
	if err := c.blobs.Put(ctx, artifact.OutputBlobKey, sealed); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	return nil
}

func (c *generationService) saveText(ctx context.Context, record *entity.Record, kind ToolKind, model string, params map[string]string, chunks int, text string, withKey keyvault.KeyFunc) (*GenerateResult, error) {
	artifact := c.newArtifact(record, kind, model, params)
	artifact.Status = entity.ArtifactStatusComplete
	artifact.ChunkCount = chunks

	if err := c.storeOutput(ctx, artifact, []byte(text), withKey); err != nil {
		return nil, err
	}
	uow := c.uowFactory.NewUnitOfWork(ctx)
	if err := uow.ArtifactRepository().Create(ctx, artifact); err != nil {
		return nil, err
	}
	return &GenerateResult{Artifact: artifact, Text: text}, nil
}

// infographicContent builds the text to visualise. Standard depth uses the
// head of each document; detailed depth uses short snippets of its chunks.
func infographicContent(docs []DocumentText, depth string) string {
	var parts []string
	if depth == "detailed" {
		for _, d := range docs {
			for i, ch := range d.Chunks {
				if i >= infographicChunksPerDoc {
					break
				}
				text := []rune(strings.TrimSpace(ch.Text))
				if len(text) == 0 {
					continue
				}
				snippet := string(text)
				if len(text) > infographicSnippetChars {
					snippet = string(text[:infographicSnippetChars]) + "..."
				}
				parts = append(parts, fmt.Sprintf("**%s - Chunk %d**: %s", d.Filename, i+1, snippet))
			}
		}
		if len(parts) > infographicMaxSnippets {
			parts = parts[:infographicMaxSnippets]
		}
	} else {
		for _, d := range docs {
			text := []rune(d.Text)
			if len(text) > infographicDocChars {
				text = text[:infographicDocChars]
			}
			parts = append(parts, fmt.Sprintf("**%s**: %s", d.Filename, string(text)))
		}
	}

	content := []rune(strings.Join(parts, "\n\n"))
	if len(content) > infographicMaxChars {
		return string(content[:infographicMaxChars]) + "\n\n[...truncated...]"
	}
	return string(content)
}

func (c *generationService) infographic(ctx context.Context, record *entity.Record, params map[string]string, withKey keyvault.KeyFunc) (*GenerateResult, error) {
	depth := firstNonEmpty(params[ParamDepth], "standard")
	if depth != "standard" && depth != "detailed" {
		return nil, apperror.Validation("depth must be standard or detailed")
	}
	docs, chunks, err := c.corpus(ctx, record.Id, withKey)
	if err != nil {
		return nil, err
	}

	model := firstNonEmpty(params[ParamModel], c.opts.ImageModel)
	image, err := c.images.GenerateImage(ctx, prompt.Infographic(infographicContent(docs, depth), params[ParamPrompt]), model)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Error("GenerationService", "Image generation failed", map[string]interface{}{
			"record_id": record.Id,
			"model":     model,
			"error":     err.Error(),
		})
		return nil, apperror.ProviderUnavailable(err)
	}

	params[ParamDepth] = depth
	artifact := c.newArtifact(record, ToolInfographic, model, params)
	artifact.Status = entity.ArtifactStatusComplete
	artifact.ChunkCount = chunks
	artifact.SucceededPages = 1
	if err := c.storeOutput(ctx, artifact, image, withKey); err != nil {
		return nil, err
	}
	artifact.Pages = []entity.PageRef{{
		Index:    0,
		Status:   entity.PageStatusSucceeded,
		BlobKey:  artifact.OutputBlobKey,
		Attempts: 1,
	}}

	uow := c.uowFactory.NewUnitOfWork(ctx)
	if err := uow.ArtifactRepository().Create(ctx, artifact); err != nil {
		return nil, err
	}
	return &GenerateResult{Artifact: artifact}, nil
}

// pdfExport fixes the page groups on the artifact before the first attempt,
// so a retry works on exactly the same chunks.
func (c *generationService) pdfExport(ctx context.Context, record *entity.Record, params map[string]string, withKey keyvault.KeyFunc) (*GenerateResult, error) {
	uow := c.uowFactory.NewUnitOfWork(ctx)
	rows, err := uow.ChunkRepository().FindRecordChunks(ctx, record.Id)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, apperror.Validation("no indexed documents in this record; upload sources first")
	}
	ids := make([]uuid.UUID, len(rows))
	for i, r := range rows {
		ids[i] = r.Chunk.Id
	}

	artifact := c.newArtifact(record, ToolPdfExport, firstNonEmpty(params[ParamModel], c.opts.ImageModel), params)
	artifact.Status = entity.ArtifactStatusRunning
	artifact.ChunkCount = len(ids)
	artifact.Pages = partition(ids, c.opts.ExportGroupSize)
	if err := uow.ArtifactRepository().Create(ctx, artifact); err != nil {
		return nil, err
	}

	result, err := c.export.run(ctx, artifact, withKey)
	if err != nil {
		return nil, err
	}
	return &GenerateResult{Artifact: artifact, Export: result}, nil
}

func (c *generationService) ownedArtifact(ctx context.Context, userId, artifactId uuid.UUID) (*entity.GeneratedArtifact, error) {
	uow := c.uowFactory.NewUnitOfWork(ctx)
	artifact, err := uow.ArtifactRepository().FindOne(ctx,
		specification.ByID{ID: artifactId},
		specification.UserOwnedBy{UserID: userId},
	)
	if err != nil {
		return nil, err
	}
	if artifact == nil {
		return nil, apperror.NotFound("artifact")
	}
	return artifact, nil
}

// RetryExport re-attempts the pages that did not succeed and recompiles.
func (c *generationService) RetryExport(ctx context.Context, userId, artifactId uuid.UUID) (*ExportResult, error) {
	artifact, err := c.ownedArtifact(ctx, userId, artifactId)
	if err != nil {
		return nil, err
	}
	if artifact.Kind != string(ToolPdfExport) {
		return nil, apperror.Validation("only pdf_export artifacts can be retried")
	}
	if c.images == nil {
		return nil, apperror.Validation("pdf_export needs an image-capable provider")
	}
	if artifact.Status == entity.ArtifactStatusComplete {
		return &ExportResult{
			ArtifactID:     artifact.Id,
			Status:         artifact.Status,
			SucceededPages: artifact.SucceededPages,
			FailedPages:    artifact.FailedPages,
			Pages:          artifact.Pages,
		}, nil
	}

	return c.export.run(ctx, artifact, c.vault.For(ctx, userId))
}

func (c *generationService) GetArtifact(ctx context.Context, userId, artifactId uuid.UUID) (*entity.GeneratedArtifact, error) {
	return c.ownedArtifact(ctx, userId, artifactId)
}

func (c *generationService) ListArtifacts(ctx context.Context, userId, recordId uuid.UUID) ([]*entity.GeneratedArtifact, error) {
	uow := c.uowFactory.NewUnitOfWork(ctx)
	if _, err := ownedRecord(ctx, uow, userId, recordId); err != nil {
		return nil, err
	}
	return uow.ArtifactRepository().FindAll(ctx,
		specification.ByRecordID{RecordID: recordId},
		specification.OrderBy{Field: "created_at", Desc: true},
	)
}

func (c *generationService) OpenArtifact(ctx context.Context, userId, artifactId uuid.UUID) (*ArtifactContent, error) {
	artifact, err := c.ownedArtifact(ctx, userId, artifactId)
	if err != nil {
		return nil, err
	}
	if artifact.OutputBlobKey == "" {
		return nil, apperror.NotFound("artifact content")
	}

	sealed, err := c.blobs.Get(ctx, artifact.OutputBlobKey)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, apperror.NotFound("artifact content")
		}
		return nil, err
	}

	var data []byte
	err = c.vault.WithMasterKey(ctx, userId, func(key []byte) error {
		plain, err := cipher.Decrypt(key, sealed, cipher.ArtifactAAD(artifact.Id.String(), "output"))
		if err != nil {
			return apperror.DecryptionFailed(err)
		}
		data = plain
		return nil
	})
	if err != nil {
		return nil, err
	}

	content := &ArtifactContent{Data: data}
	switch ToolKind(artifact.Kind) {
	case ToolPdfExport:
		content.ContentType, content.Filename = contentTypePDF, artifact.Id.String()+".pdf"
	case ToolInfographic:
		content.ContentType = http.DetectContentType(data)
		content.Filename = artifact.Id.String() + ".png"
		if content.ContentType == contentTypeJPEG {
			content.Filename = artifact.Id.String() + ".jpg"
		}
	default:
		content.ContentType, content.Filename = contentTypeMarkdown, artifact.Id.String()+".md"
	}
	return content, nil
}
