package controller

import (
	"openrecords-be/internal/dto"
	"openrecords-be/internal/pkg/apperror"
	"openrecords-be/internal/pkg/serverutils"
	"openrecords-be/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type IChatController interface {
	RegisterRoutes(r fiber.Router, auth fiber.Handler)
	List(ctx *fiber.Ctx) error
	Save(ctx *fiber.Ctx) error
	Clear(ctx *fiber.Ctx) error
}

type chatController struct {
	service service.IChatService
}

func NewChatController(service service.IChatService) IChatController {
	return &chatController{service: service}
}

func (c *chatController) RegisterRoutes(r fiber.Router, auth fiber.Handler) {
	h := r.Group("/chat/v1")
	h.Use(auth)
	h.Get("/:record_id", c.List)
	h.Post("/:record_id", c.Save)
	h.Delete("/:record_id", c.Clear)
}

func (c *chatController) List(ctx *fiber.Ctx) error {
	userId, err := serverutils.UserID(ctx)
	if err != nil {
		return err
	}
	recordId, err := serverutils.ParamID(ctx, "record_id")
	if err != nil {
		return err
	}

	res, err := c.service.List(ctx.Context(), userId, recordId)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success get chat history", res))
}

// Save replaces the stored history with the messages in the body.
func (c *chatController) Save(ctx *fiber.Ctx) error {
	userId, err := serverutils.UserID(ctx)
	if err != nil {
		return err
	}
	recordId, err := serverutils.ParamID(ctx, "record_id")
	if err != nil {
		return err
	}

	var req dto.SaveChatRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.RecordId == uuid.Nil {
		req.RecordId = recordId
	}
	if req.RecordId != recordId {
		return apperror.Validation("record_id does not match the path")
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.service.Save(ctx.Context(), userId, &req)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success save chat history", res))
}

func (c *chatController) Clear(ctx *fiber.Ctx) error {
	userId, err := serverutils.UserID(ctx)
	if err != nil {
		return err
	}
	recordId, err := serverutils.ParamID(ctx, "record_id")
	if err != nil {
		return err
	}

	if err := c.service.Clear(ctx.Context(), userId, recordId); err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse[any]("Success clear chat history", nil))
}
