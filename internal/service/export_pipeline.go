package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"openrecords-be/internal/entity"
	"openrecords-be/internal/keyvault"
	"openrecords-be/internal/pkg/apperror"
	"openrecords-be/internal/pkg/logger"
	"openrecords-be/internal/repository/unitofwork"
	"openrecords-be/pkg/blobstore"
	"openrecords-be/pkg/cipher"
	"openrecords-be/pkg/llm"
	"openrecords-be/pkg/pdfexport"
	"openrecords-be/pkg/rag/prompt"

	"github.com/google/uuid"
)

const pageSnippetChars = 800

var errSourcesGone = errors.New("source chunks are no longer available")

// ExportResult describes a paginated export after a run. Failed pages are
// part of the result, not an error.
type ExportResult struct {
	ArtifactID     uuid.UUID
	Status         entity.ArtifactStatus
	SucceededPages int
	FailedPages    int
	Pages          []entity.PageRef
}

func artifactPrefix(a *entity.GeneratedArtifact) string {
	return fmt.Sprintf("artifacts/%s/%s", a.RecordId, a.Id)
}

func artifactOutputKey(a *entity.GeneratedArtifact) string {
	return artifactPrefix(a) + "/output.bin"
}

func artifactPageKey(a *entity.GeneratedArtifact, index int) string {
	return fmt.Sprintf("%s/page-%d.bin", artifactPrefix(a), index)
}

// artifactBlobKeys lists every blob written for an artifact.
func artifactBlobKeys(a *entity.GeneratedArtifact) []string {
	seen := map[string]bool{}
	var keys []string
	add := func(k string) {
		if k != "" && !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	add(a.OutputBlobKey)
	for _, p := range a.Pages {
		add(p.BlobKey)
	}
	return keys
}

func pagePart(index int) string {
	return fmt.Sprintf("page-%d", index)
}

// partition splits ordered chunk ids into pages of size.
func partition(ids []uuid.UUID, size int) []entity.PageRef {
	var pages []entity.PageRef
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		group := make([]uuid.UUID, end-start)
		copy(group, ids[start:end])
		pages = append(pages, entity.PageRef{
			Index:    len(pages),
			ChunkIds: group,
			Status:   entity.PageStatusPending,
		})
	}
	return pages
}

type exportPipeline struct {
	uowFactory unitofwork.RepositoryFactory
	chunkStore IChunkStore
	blobs      blobstore.BlobStore
	images     llm.ImageProvider
	events     *EventSink
	logger     logger.ILogger
}

// run attempts every page that has not succeeded yet, one group at a time,
// then compiles the succeeded pages. Progress is saved after each group.
func (p *exportPipeline) run(ctx context.Context, artifact *entity.GeneratedArtifact, withKey keyvault.KeyFunc) (*ExportResult, error) {
	images := make(map[int][]byte)

	for i := range artifact.Pages {
		page := &artifact.Pages[i]
		if page.Status == entity.PageStatusSucceeded {
			continue
		}
		if err := ctx.Err(); err != nil {
			p.save(context.WithoutCancel(ctx), artifact)
			return nil, err
		}

		page.Attempts++
		image, err := p.renderPage(ctx, artifact, page, withKey)
		if err != nil {
			if ctx.Err() != nil {
				p.save(context.WithoutCancel(ctx), artifact)
				return nil, ctx.Err()
			}
			page.Status = entity.PageStatusFailed
			page.Reason = failureReason(err)
			p.logger.Warn("ExportPipeline", "Page failed", map[string]interface{}{
				"artifact_id": artifact.Id,
				"page":        page.Index,
				"attempts":    page.Attempts,
				"reason":      page.Reason,
			})
		} else {
			page.Status = entity.PageStatusSucceeded
			page.Reason = ""
			images[page.Index] = image
		}

		if err := p.save(ctx, artifact); err != nil {
			return nil, err
		}
	}

	if err := p.compile(ctx, artifact, images, withKey); err != nil {
		return nil, err
	}
	if err := p.save(ctx, artifact); err != nil {
		return nil, err
	}

	p.events.exportCompleted(ctx, artifact.RecordId, artifact.Id, string(artifact.Status), artifact.SucceededPages, artifact.FailedPages)
	p.logger.Info("ExportPipeline", "Export finished", map[string]interface{}{
		"artifact_id": artifact.Id,
		"status":      artifact.Status,
		"succeeded":   artifact.SucceededPages,
		"failed":      artifact.FailedPages,
	})

	return &ExportResult{
		ArtifactID:     artifact.Id,
		Status:         artifact.Status,
		SucceededPages: artifact.SucceededPages,
		FailedPages:    artifact.FailedPages,
		Pages:          artifact.Pages,
	}, nil
}

// renderPage decrypts the group, asks the image model for a page and stores
// the encrypted image. It returns the plaintext image for compilation. The
// key is not held while the image model runs.
func (p *exportPipeline) renderPage(ctx context.Context, artifact *entity.GeneratedArtifact, page *entity.PageRef, withKey keyvault.KeyFunc) ([]byte, error) {
	var chunks []ChunkText
	err := withKey(func(key []byte) error {
		var readErr error
		chunks, readErr = p.chunkStore.ReadChunks(ctx, artifact.RecordId, page.ChunkIds, key)
		return readErr
	})
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, errSourcesGone
	}

	sections := make([]string, 0, len(chunks))
	for _, c := range chunks {
		text := strings.ReplaceAll(strings.TrimSpace(c.Text), "\n", " ")
		if r := []rune(text); len(r) > pageSnippetChars {
			text = string(r[:pageSnippetChars])
		}
		sections = append(sections, prompt.PageSection(c.Filename, c.Ordinal, text))
	}

	image, err := p.images.GenerateImage(ctx, prompt.Page(strings.Join(sections, "\n\n")), artifact.ModelId)
	if err != nil {
		return nil, err
	}

	var sealed []byte
	err = withKey(func(key []byte) error {
		var encErr error
		sealed, encErr = cipher.Encrypt(key, image, cipher.ArtifactAAD(artifact.Id.String(), pagePart(page.Index)))
		return encErr
	})
	if err != nil {
		return nil, err
	}
	blobKey := artifactPageKey(artifact, page.Index)
	if err := p.blobs.Put(ctx, blobKey, sealed); err != nil {
		return nil, fmt.Errorf("write page: %w", err)
	}
	page.BlobKey = blobKey
	return image, nil
}

// compile sets the counters and status and writes the PDF of the succeeded
// pages in page order. Pages rendered by an earlier run are read back.
func (p *exportPipeline) compile(ctx context.Context, artifact *entity.GeneratedArtifact, fresh map[int][]byte, withKey keyvault.KeyFunc) error {
	artifact.SucceededPages, artifact.FailedPages = 0, 0
	var pages []pdfexport.Page
	for _, page := range artifact.Pages {
		if page.Status != entity.PageStatusSucceeded {
			artifact.FailedPages++
			continue
		}
		artifact.SucceededPages++

		image, ok := fresh[page.Index]
		if !ok {
			sealed, err := p.blobs.Get(ctx, page.BlobKey)
			if err != nil {
				return fmt.Errorf("read page %d: %w", page.Index, err)
			}
			err = withKey(func(key []byte) error {
				var decErr error
				image, decErr = cipher.Decrypt(key, sealed, cipher.ArtifactAAD(artifact.Id.String(), pagePart(page.Index)))
				return decErr
			})
			if err != nil {
				return fmt.Errorf("open page %d: %w", page.Index, err)
			}
		}
		pages = append(pages, pdfexport.Page{Image: image})
	}

	switch {
	case artifact.SucceededPages == 0:
		artifact.Status = entity.ArtifactStatusFailed
		return nil
	case artifact.FailedPages == 0:
		artifact.Status = entity.ArtifactStatusComplete
	default:
		artifact.Status = entity.ArtifactStatusPartial
	}

	pdf, err := pdfexport.Compile("OpenRecords export", pages)
	if err != nil {
		return err
	}
	var sealed []byte
	err = withKey(func(key []byte) error {
		var encErr error
		sealed, encErr = cipher.Encrypt(key, pdf, cipher.ArtifactAAD(artifact.Id.String(), "output"))
		return encErr
	})
	if err != nil {
		return err
	}
	outputKey := artifactOutputKey(artifact)
	if err := p.blobs.Put(ctx, outputKey, sealed); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	artifact.OutputBlobKey = outputKey
	return nil
}

func (p *exportPipeline) save(ctx context.Context, artifact *entity.GeneratedArtifact) error {
	now := time.Now()
	artifact.UpdatedAt = &now
	uow := p.uowFactory.NewUnitOfWork(ctx)
	if err := uow.ArtifactRepository().Update(ctx, artifact); err != nil {
		p.logger.Error("ExportPipeline", "Failed to save artifact", map[string]interface{}{
			"artifact_id": artifact.Id,
			"error":       err.Error(),
		})
		return err
	}
	return nil
}

// failureReason is the caller-safe reason stored on a failed page.
func failureReason(err error) string {
	var status *llm.StatusError
	switch {
	case errors.As(err, &status):
		return fmt.Sprintf("image provider returned status %d", status.StatusCode)
	case errors.Is(err, errSourcesGone):
		return err.Error()
	case apperror.KindOf(err) != apperror.KindInternal:
		return apperror.PublicMessage(err)
	case errors.Is(err, context.DeadlineExceeded):
		return "image generation timed out"
	case errors.Is(err, blobstore.ErrNotFound):
		return "page storage unavailable"
	default:
		return "image generation failed"
	}
}
