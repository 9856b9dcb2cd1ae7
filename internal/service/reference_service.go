package service

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"time"

	"openrecords-be/internal/dto"
	"openrecords-be/internal/entity"
	"openrecords-be/internal/keyvault"
	"openrecords-be/internal/pkg/apperror"
	"openrecords-be/internal/pkg/logger"
	"openrecords-be/internal/repository/specification"
	"openrecords-be/internal/repository/unitofwork"
	"openrecords-be/pkg/cipher"
	"openrecords-be/pkg/scraper"

	"github.com/google/uuid"
)

type IReferenceService interface {
	Add(ctx context.Context, userId uuid.UUID, req *dto.AddReferenceRequest) (*dto.ReferenceResponse, error)
	List(ctx context.Context, userId, recordId uuid.UUID) ([]*dto.ReferenceResponse, error)
	Delete(ctx context.Context, userId, referenceId uuid.UUID) error
}

type referenceService struct {
	uowFactory unitofwork.RepositoryFactory
	chunkStore IChunkStore
	vault      *keyvault.Vault
	ingestion  IIngestionService
	scraper    *scraper.Scraper
	events     *EventSink
	logger     logger.ILogger
}

func NewReferenceService(
	uowFactory unitofwork.RepositoryFactory,
	chunkStore IChunkStore,
	vault *keyvault.Vault,
	ingestion IIngestionService,
	scr *scraper.Scraper,
	events *EventSink,
	log logger.ILogger,
) IReferenceService {
	return &referenceService{
		uowFactory: uowFactory,
		chunkStore: chunkStore,
		vault:      vault,
		ingestion:  ingestion,
		scraper:    scr,
		events:     events,
		logger:     log,
	}
}

// sealedReference is the encrypted part of a reference.
type sealedReference struct {
	Url   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// Add fetches the page and hands its text to ingestion as a markdown
// document. A page that cannot be fetched is kept with status error.
func (c *referenceService) Add(ctx context.Context, userId uuid.UUID, req *dto.AddReferenceRequest) (*dto.ReferenceResponse, error) {
	u, err := c.scraper.Validate(req.Url)
	if err != nil {
		return nil, apperror.Validation(scrapeMessage(err))
	}
	rawURL := u.String()

	uow := c.uowFactory.NewUnitOfWork(ctx)
	if _, err := ownedRecord(ctx, uow, userId, req.RecordId); err != nil {
		return nil, err
	}

	withKey := c.vault.For(ctx, userId)
	var urlHash string
	if err := withKey(func(key []byte) error {
		urlHash = cipher.Fingerprint(key, []byte(rawURL))
		return nil
	}); err != nil {
		return nil, err
	}

	existing, err := uow.ReferenceRepository().FindOne(ctx,
		specification.ByRecordID{RecordID: req.RecordId},
		specification.ByUrlHash{Hash: urlHash},
	)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.Status != entity.ReferenceStatusError {
			return nil, apperror.Conflict("url is already a reference of this record")
		}
		if err := uow.ReferenceRepository().Delete(ctx, existing.Id); err != nil {
			return nil, err
		}
	}

	ref := &entity.Reference{
		Id:       uuid.New(),
		RecordId: req.RecordId,
		UrlHash:  urlHash,
		Status:   entity.ReferenceStatusPending,
	}
	if ref.Ciphertext, err = c.seal(ref.Id, sealedReference{Url: rawURL}, withKey); err != nil {
		return nil, err
	}
	if err := uow.ReferenceRepository().Create(ctx, ref); err != nil {
		return nil, err
	}

	page, err := c.scraper.Fetch(ctx, rawURL)
	if err != nil {
		c.logger.Warn("ReferenceService", "Failed to fetch reference", map[string]interface{}{
			"reference_id": ref.Id,
			"error":        err.Error(),
		})
		return c.markFailed(ctx, uow, ref, rawURL, scrapeMessage(err))
	}

	upload, err := c.ingestion.Upload(ctx, userId, req.RecordId, referenceFilename(page), referenceContent(page))
	if err != nil {
		if apperror.KindOf(err) != apperror.KindValidation {
			return nil, err
		}
		return c.markFailed(ctx, uow, ref, rawURL, apperror.PublicMessage(err))
	}

	ref.Status = entity.ReferenceStatusStored
	// A duplicate points at a document the user uploaded; the reference
	// must not own it.
	if !upload.Duplicate {
		ref.DocumentId = &upload.DocumentId
	}
	if ref.Ciphertext, err = c.seal(ref.Id, sealedReference{Url: rawURL, Title: page.Title}, withKey); err != nil {
		return nil, err
	}
	if err := uow.ReferenceRepository().Update(ctx, ref); err != nil {
		return nil, err
	}

	c.logger.Info("ReferenceService", "Reference added", map[string]interface{}{
		"reference_id": ref.Id,
		"record_id":    ref.RecordId,
		"document_id":  upload.DocumentId,
		"duplicate":    upload.Duplicate,
	})
	return referenceResponse(ref, sealedReference{Url: rawURL, Title: page.Title}), nil
}

func (c *referenceService) markFailed(ctx context.Context, uow unitofwork.UnitOfWork, ref *entity.Reference, rawURL, message string) (*dto.ReferenceResponse, error) {
	ref.Status = entity.ReferenceStatusError
	ref.ErrorMessage = message
	if err := uow.ReferenceRepository().Update(ctx, ref); err != nil {
		return nil, err
	}
	return referenceResponse(ref, sealedReference{Url: rawURL}), nil
}

func (c *referenceService) List(ctx context.Context, userId, recordId uuid.UUID) ([]*dto.ReferenceResponse, error) {
	uow := c.uowFactory.NewUnitOfWork(ctx)
	if _, err := ownedRecord(ctx, uow, userId, recordId); err != nil {
		return nil, err
	}

	refs, err := uow.ReferenceRepository().FindAll(ctx,
		specification.ByRecordID{RecordID: recordId},
		specification.OrderBy{Field: "created_at"},
	)
	if err != nil {
		return nil, err
	}

	res := make([]*dto.ReferenceResponse, 0, len(refs))
	err = c.vault.WithMasterKey(ctx, userId, func(key []byte) error {
		for _, ref := range refs {
			plain, err := cipher.Decrypt(key, ref.Ciphertext, cipher.ReferenceAAD(ref.Id.String()))
			if err != nil {
				return apperror.DecryptionFailed(err)
			}
			var sealed sealedReference
			if err := json.Unmarshal(plain, &sealed); err != nil {
				return apperror.DecryptionFailed(err)
			}
			res = append(res, referenceResponse(ref, sealed))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Delete removes the reference and the document it created.
func (c *referenceService) Delete(ctx context.Context, userId, referenceId uuid.UUID) error {
	uow := c.uowFactory.NewUnitOfWork(ctx)
	ref, err := uow.ReferenceRepository().FindOne(ctx, specification.ByID{ID: referenceId})
	if err != nil {
		return err
	}
	if ref == nil {
		return apperror.NotFound("reference")
	}
	if _, err := ownedRecord(ctx, uow, userId, ref.RecordId); err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return apperror.NotFound("reference")
		}
		return err
	}

	if err := uow.ReferenceRepository().Delete(ctx, ref.Id); err != nil {
		return err
	}
	if ref.DocumentId != nil {
		if _, err := c.chunkStore.DeleteDocument(ctx, *ref.DocumentId); err != nil {
			return err
		}
		c.events.documentDeleted(ctx, ref.RecordId, *ref.DocumentId)
	}

	c.logger.Info("ReferenceService", "Reference deleted", map[string]interface{}{
		"reference_id": ref.Id,
		"record_id":    ref.RecordId,
	})
	return nil
}

func (c *referenceService) seal(id uuid.UUID, sealed sealedReference, withKey keyvault.KeyFunc) ([]byte, error) {
	plain, err := json.Marshal(sealed)
	if err != nil {
		return nil, err
	}
	var out []byte
	err = withKey(func(key []byte) error {
		out, err = cipher.Encrypt(key, plain, cipher.ReferenceAAD(id.String()))
		return err
	})
	return out, err
}

func referenceResponse(ref *entity.Reference, sealed sealedReference) *dto.ReferenceResponse {
	return &dto.ReferenceResponse{
		Id:           ref.Id,
		RecordId:     ref.RecordId,
		Url:          sealed.Url,
		Title:        sealed.Title,
		Status:       string(ref.Status),
		DocumentId:   ref.DocumentId,
		ErrorMessage: ref.ErrorMessage,
		CreatedAt:    ref.CreatedAt,
	}
}

// scrapeMessage turns a fetch failure into text safe to show the user.
func scrapeMessage(err error) string {
	var se *scraper.StatusError
	switch {
	case errors.As(err, &se):
		return se.Error()
	case errors.Is(err, scraper.ErrInvalidURL),
		errors.Is(err, scraper.ErrBlockedAddress),
		errors.Is(err, scraper.ErrTooManyRedirect),
		errors.Is(err, scraper.ErrTooLarge),
		errors.Is(err, scraper.ErrUnsupported),
		errors.Is(err, scraper.ErrNoContent):
		return strings.SplitN(err.Error(), ":", 2)[0]
	case errors.Is(err, context.DeadlineExceeded):
		return "page took too long to respond"
	default:
		return "page could not be fetched"
	}
}

var unsafeFilename = regexp.MustCompile(`[^\p{L}\p{N} ._-]+`)

func referenceFilename(page *scraper.Page) string {
	name := strings.TrimSpace(unsafeFilename.ReplaceAllString(page.Title, ""))
	if runes := []rune(name); len(runes) > 100 {
		name = strings.TrimSpace(string(runes[:100]))
	}
	if name == "" {
		name = "web-page-" + time.Now().UTC().Format("20060102-150405")
	}
	return name + ".md"
}

func referenceContent(page *scraper.Page) []byte {
	var b strings.Builder
	if page.Title != "" {
		b.WriteString("# " + page.Title + "\n\n")
	}
	b.WriteString("Source: " + page.URL + "\n\n")
	b.WriteString(page.Text)
	return []byte(b.String())
}
