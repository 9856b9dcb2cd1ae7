package controller

import (
	"openrecords-be/internal/dto"
	"openrecords-be/internal/pkg/serverutils"
	"openrecords-be/internal/service"

	"github.com/gofiber/fiber/v2"
)

type IModelController interface {
	RegisterRoutes(r fiber.Router, auth fiber.Handler)
	List(ctx *fiber.Ctx) error
}

type modelController struct {
	service service.IModelCatalogService
}

func NewModelController(service service.IModelCatalogService) IModelController {
	return &modelController{service: service}
}

func (c *modelController) RegisterRoutes(r fiber.Router, auth fiber.Handler) {
	h := r.Group("/models/v1")
	h.Use(auth)
	h.Get("", c.List)
}

func (c *modelController) List(ctx *fiber.Ctx) error {
	catalog, err := c.service.List(ctx.Context(), ctx.QueryBool("refresh", false))
	if err != nil {
		return err
	}

	res := dto.ModelListResponse{Models: make([]dto.ModelResponse, 0, len(catalog.Models)), Stale: catalog.Stale}
	for _, m := range catalog.Models {
		res.Models = append(res.Models, dto.ModelResponse{
			Id:                m.ID,
			Provider:          m.Provider,
			Name:              m.Name,
			ContextLength:     m.ContextLength,
			PricingPrompt:     m.PricingPrompt,
			PricingCompletion: m.PricingCompletion,
			Categories:        m.Categories,
			SupportsStreaming: m.SupportsStreaming,
		})
	}
	return ctx.JSON(serverutils.SuccessResponse("Success list models", res))
}
