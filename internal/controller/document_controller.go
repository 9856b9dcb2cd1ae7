package controller

import (
	"openrecords-be/internal/pkg/serverutils"
	"openrecords-be/internal/service"

	"github.com/gofiber/fiber/v2"
)

type IDocumentController interface {
	RegisterRoutes(r fiber.Router, auth fiber.Handler)
	Show(ctx *fiber.Ctx) error
	Retry(ctx *fiber.Ctx) error
	Delete(ctx *fiber.Ctx) error
}

type documentController struct {
	service   service.IRecordService
	ingestion service.IIngestionService
}

func NewDocumentController(service service.IRecordService, ingestion service.IIngestionService) IDocumentController {
	return &documentController{service: service, ingestion: ingestion}
}

func (c *documentController) RegisterRoutes(r fiber.Router, auth fiber.Handler) {
	h := r.Group("/document/v1")
	h.Use(auth)
	h.Get("/:id", c.Show)
	h.Post("/:id/retry", c.Retry)
	h.Delete("/:id", c.Delete)
}

func (c *documentController) Show(ctx *fiber.Ctx) error {
	userId, err := serverutils.UserID(ctx)
	if err != nil {
		return err
	}
	id, err := serverutils.ParamID(ctx, "id")
	if err != nil {
		return err
	}

	res, err := c.service.GetDocument(ctx.Context(), userId, id)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success show document", res))
}

// Retry resumes ingestion synchronously from the last completed stage.
func (c *documentController) Retry(ctx *fiber.Ctx) error {
	userId, err := serverutils.UserID(ctx)
	if err != nil {
		return err
	}
	id, err := serverutils.ParamID(ctx, "id")
	if err != nil {
		return err
	}

	if _, err := c.ingestion.Retry(ctx.Context(), userId, id); err != nil {
		return err
	}
	res, err := c.service.GetDocument(ctx.Context(), userId, id)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Ingestion resumed", res))
}

func (c *documentController) Delete(ctx *fiber.Ctx) error {
	userId, err := serverutils.UserID(ctx)
	if err != nil {
		return err
	}
	id, err := serverutils.ParamID(ctx, "id")
	if err != nil {
		return err
	}

	if err := c.service.DeleteDocument(ctx.Context(), userId, id); err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse[any]("Success delete document", nil))
}
