package controller

import (
	"io"

	"openrecords-be/internal/dto"
	"openrecords-be/internal/pkg/apperror"
	"openrecords-be/internal/pkg/serverutils"
	"openrecords-be/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type IRecordController interface {
	RegisterRoutes(r fiber.Router, auth fiber.Handler)
	GetAll(ctx *fiber.Ctx) error
	Create(ctx *fiber.Ctx) error
	Show(ctx *fiber.Ctx) error
	Update(ctx *fiber.Ctx) error
	Delete(ctx *fiber.Ctx) error
	Upload(ctx *fiber.Ctx) error
	ListDocuments(ctx *fiber.Ctx) error
	Reindex(ctx *fiber.Ctx) error
}

type recordController struct {
	service        service.IRecordService
	ingestion      service.IIngestionService
	maxUploadBytes int64
}

func NewRecordController(service service.IRecordService, ingestion service.IIngestionService, maxUploadBytes int64) IRecordController {
	return &recordController{service: service, ingestion: ingestion, maxUploadBytes: maxUploadBytes}
}

func (c *recordController) RegisterRoutes(r fiber.Router, auth fiber.Handler) {
	h := r.Group("/record/v1")
	h.Use(auth)
	h.Get("", c.GetAll)
	h.Post("", c.Create)
	h.Get("/:id", c.Show)
	h.Put("/:id", c.Update)
	h.Delete("/:id", c.Delete)
	h.Post("/:id/documents", c.Upload)
	h.Get("/:id/documents", c.ListDocuments)
	h.Post("/:id/reindex", c.Reindex)
}

func (c *recordController) GetAll(ctx *fiber.Ctx) error {
	userId, err := serverutils.UserID(ctx)
	if err != nil {
		return err
	}

	res, err := c.service.GetAll(ctx.Context(), userId)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success get all records", res))
}

func (c *recordController) Create(ctx *fiber.Ctx) error {
	userId, err := serverutils.UserID(ctx)
	if err != nil {
		return err
	}

	var req dto.CreateRecordRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.service.Create(ctx.Context(), userId, &req)
	if err != nil {
		return err
	}
	return ctx.Status(fiber.StatusCreated).JSON(serverutils.SuccessResponse("Success create record", res))
}

func (c *recordController) Show(ctx *fiber.Ctx) error {
	userId, err := serverutils.UserID(ctx)
	if err != nil {
		return err
	}
	id, err := serverutils.ParamID(ctx, "id")
	if err != nil {
		return err
	}

	res, err := c.service.Show(ctx.Context(), userId, id)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success show record", res))
}

func (c *recordController) Update(ctx *fiber.Ctx) error {
	userId, err := serverutils.UserID(ctx)
	if err != nil {
		return err
	}
	id, err := serverutils.ParamID(ctx, "id")
	if err != nil {
		return err
	}

	var req dto.UpdateRecordRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	req.Id = id
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.service.Update(ctx.Context(), userId, &req)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success update record", res))
}

func (c *recordController) Delete(ctx *fiber.Ctx) error {
	userId, err := serverutils.UserID(ctx)
	if err != nil {
		return err
	}
	id, err := serverutils.ParamID(ctx, "id")
	if err != nil {
		return err
	}

	if err := c.service.Delete(ctx.Context(), userId, id); err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse[any]("Success delete record", nil))
}

// Upload stores the file and queues ingestion. Progress arrives over the
// websocket or by polling the document.
func (c *recordController) Upload(ctx *fiber.Ctx) error {
	userId, err := serverutils.UserID(ctx)
	if err != nil {
		return err
	}
	recordId, err := serverutils.ParamID(ctx, "id")
	if err != nil {
		return err
	}

	header, err := ctx.FormFile("file")
	if err != nil {
		return apperror.Validation("file is required")
	}
	if header.Size > c.maxUploadBytes {
		return apperror.Validation("file exceeds the upload size limit")
	}
	file, err := header.Open()
	if err != nil {
		return err
	}
	defer file.Close()

	content, err := io.ReadAll(io.LimitReader(file, c.maxUploadBytes+1))
	if err != nil {
		return err
	}

	res, err := c.ingestion.Upload(ctx.Context(), userId, recordId, header.Filename, content)
	if err != nil {
		return err
	}

	status := fiber.StatusAccepted
	if res.Duplicate {
		status = fiber.StatusOK
	}
	return ctx.Status(status).JSON(serverutils.SuccessResponse("Document accepted", dto.UploadDocumentResponse{
		DocumentId: res.DocumentId,
		Status:     string(res.Status),
		Duplicate:  res.Duplicate,
	}))
}

func (c *recordController) ListDocuments(ctx *fiber.Ctx) error {
	userId, err := serverutils.UserID(ctx)
	if err != nil {
		return err
	}
	recordId, err := serverutils.ParamID(ctx, "id")
	if err != nil {
		return err
	}

	res, err := c.service.ListDocuments(ctx.Context(), userId, recordId)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success list documents", res))
}

// Reindex drops the record's vectors and queues every document for
// embedding, optionally under a new model.
func (c *recordController) Reindex(ctx *fiber.Ctx) error {
	userId, err := serverutils.UserID(ctx)
	if err != nil {
		return err
	}
	recordId, err := serverutils.ParamID(ctx, "id")
	if err != nil {
		return err
	}

	var req dto.ReindexRecordRequest
	if len(ctx.Body()) > 0 {
		if err := ctx.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.ingestion.Reindex(ctx.Context(), userId, recordId, req.EmbeddingModel)
	if err != nil {
		return err
	}
	if !res.Queued {
		for _, id := range res.Documents {
			if _, err := c.ingestion.Process(ctx.Context(), userId, id); err != nil {
				return err
			}
		}
	}

	documents := res.Documents
	if documents == nil {
		documents = []uuid.UUID{}
	}
	return ctx.Status(fiber.StatusAccepted).JSON(serverutils.SuccessResponse("Reindex started", dto.ReindexRecordResponse{
		RecordId:       res.RecordId,
		EmbeddingModel: res.EmbeddingModel,
		Documents:      documents,
	}))
}
