package controller

import (
	"openrecords-be/internal/dto"
	"openrecords-be/internal/pkg/serverutils"
	"openrecords-be/internal/service"

	"github.com/gofiber/fiber/v2"
)

type IReferenceController interface {
	RegisterRoutes(r fiber.Router, auth fiber.Handler)
	Add(ctx *fiber.Ctx) error
	List(ctx *fiber.Ctx) error
	Delete(ctx *fiber.Ctx) error
}

type referenceController struct {
	service service.IReferenceService
}

func NewReferenceController(service service.IReferenceService) IReferenceController {
	return &referenceController{service: service}
}

func (c *referenceController) RegisterRoutes(r fiber.Router, auth fiber.Handler) {
	h := r.Group("/reference/v1")
	h.Use(auth)
	h.Post("", c.Add)
	h.Get("/record/:id", c.List)
	h.Delete("/:id", c.Delete)
}

// Add fetches the page before answering. A page that could not be read is
// still created, with status error and the reason.
func (c *referenceController) Add(ctx *fiber.Ctx) error {
	userId, err := serverutils.UserID(ctx)
	if err != nil {
		return err
	}

	var req dto.AddReferenceRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.service.Add(ctx.Context(), userId, &req)
	if err != nil {
		return err
	}
	return ctx.Status(fiber.StatusCreated).JSON(serverutils.SuccessResponse("Success add reference", res))
}

func (c *referenceController) List(ctx *fiber.Ctx) error {
	userId, err := serverutils.UserID(ctx)
	if err != nil {
		return err
	}
	recordId, err := serverutils.ParamID(ctx, "id")
	if err != nil {
		return err
	}

	res, err := c.service.List(ctx.Context(), userId, recordId)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success get references", res))
}

func (c *referenceController) Delete(ctx *fiber.Ctx) error {
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
	return ctx.JSON(serverutils.SuccessResponse[any]("Success delete reference", nil))
}
