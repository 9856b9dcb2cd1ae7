package controller

import (
	"fmt"
	"time"

	"openrecords-be/internal/dto"
	"openrecords-be/internal/entity"
	"openrecords-be/internal/pkg/serverutils"
	"openrecords-be/internal/service"

	"github.com/gofiber/fiber/v2"
)

type IRagController interface {
	RegisterRoutes(r fiber.Router, auth fiber.Handler)
	Query(ctx *fiber.Ctx) error
	Generate(ctx *fiber.Ctx) error
	RetryExport(ctx *fiber.Ctx) error
	ShowArtifact(ctx *fiber.Ctx) error
	ArtifactContent(ctx *fiber.Ctx) error
	ListArtifacts(ctx *fiber.Ctx) error
}

type ragController struct {
	retrieval  service.IRetrievalService
	generation service.IGenerationService
}

func NewRagController(retrieval service.IRetrievalService, generation service.IGenerationService) IRagController {
	return &ragController{retrieval: retrieval, generation: generation}
}

func (c *ragController) RegisterRoutes(r fiber.Router, auth fiber.Handler) {
	h := r.Group("/rag/v1")
	h.Use(auth)
	h.Post("/query", c.Query)
	h.Post("/generate", c.Generate)
	h.Post("/artifacts/:id/retry", c.RetryExport)
	h.Get("/artifacts/:id", c.ShowArtifact)
	h.Get("/artifacts/:id/content", c.ArtifactContent)
	h.Get("/records/:id/artifacts", c.ListArtifacts)
}

func (c *ragController) Query(ctx *fiber.Ctx) error {
	userId, err := serverutils.UserID(ctx)
	if err != nil {
		return err
	}

	var req dto.QueryRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.retrieval.Query(ctx.Context(), userId, req.RecordId, service.QueryInput{
		Text:  req.Query,
		TopK:  req.TopK,
		Model: req.Model,
	})
	if err != nil {
		return err
	}

	citations := make([]dto.CitationResponse, 0, len(res.Citations))
	for _, cit := range res.Citations {
		citations = append(citations, dto.CitationResponse{
			DocumentId: cit.DocumentId,
			Filename:   cit.Filename,
			ChunkId:    cit.ChunkId,
			Ordinal:    cit.Ordinal,
			Page:       cit.PageNumber,
			Score:      cit.Score,
			Snippet:    cit.Snippet,
		})
	}
	return ctx.JSON(serverutils.SuccessResponse("Success query", dto.QueryResponse{
		Answer:    res.Answer,
		Citations: citations,
		NoSources: res.NoSources,
		Cached:    res.Cached,
		Model:     res.Model,
	}))
}

func (c *ragController) Generate(ctx *fiber.Ctx) error {
	userId, err := serverutils.UserID(ctx)
	if err != nil {
		return err
	}

	var req dto.GenerateRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}
	tool, err := service.ParseToolKind(req.Tool)
	if err != nil {
		return err
	}

	res, err := c.generation.Generate(ctx.Context(), userId, req.RecordId, service.GenerateInput{
		Tool:   tool,
		Params: req.Params,
	})
	if err != nil {
		return err
	}

	out := dto.GenerateResponse{
		Artifact: toArtifactResponse(res.Artifact),
		Text:     res.Text,
	}
	if res.Artifact.OutputBlobKey != "" {
		out.ContentPath = fmt.Sprintf("/api/rag/v1/artifacts/%s/content", res.Artifact.Id)
	}
	return ctx.JSON(serverutils.SuccessResponse(fmt.Sprintf("Generated %s", tool), out))
}

// RetryExport regenerates only the failed pages of an export.
func (c *ragController) RetryExport(ctx *fiber.Ctx) error {
	userId, err := serverutils.UserID(ctx)
	if err != nil {
		return err
	}
	id, err := serverutils.ParamID(ctx, "id")
	if err != nil {
		return err
	}

	if _, err := c.generation.RetryExport(ctx.Context(), userId, id); err != nil {
		return err
	}
	artifact, err := c.generation.GetArtifact(ctx.Context(), userId, id)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Export retried", toArtifactResponse(artifact)))
}

func (c *ragController) ShowArtifact(ctx *fiber.Ctx) error {
	userId, err := serverutils.UserID(ctx)
	if err != nil {
		return err
	}
	id, err := serverutils.ParamID(ctx, "id")
	if err != nil {
		return err
	}

	artifact, err := c.generation.GetArtifact(ctx.Context(), userId, id)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Success show artifact", toArtifactResponse(artifact)))
}

func (c *ragController) ArtifactContent(ctx *fiber.Ctx) error {
	userId, err := serverutils.UserID(ctx)
	if err != nil {
		return err
	}
	id, err := serverutils.ParamID(ctx, "id")
	if err != nil {
		return err
	}

	content, err := c.generation.OpenArtifact(ctx.Context(), userId, id)
	if err != nil {
		return err
	}
	ctx.Set(fiber.HeaderContentType, content.ContentType)
	ctx.Set(fiber.HeaderCacheControl, "no-store")
	ctx.Attachment(content.Filename)
	return ctx.Send(content.Data)
}

func (c *ragController) ListArtifacts(ctx *fiber.Ctx) error {
	userId, err := serverutils.UserID(ctx)
	if err != nil {
		return err
	}
	recordId, err := serverutils.ParamID(ctx, "id")
	if err != nil {
		return err
	}

	artifacts, err := c.generation.ListArtifacts(ctx.Context(), userId, recordId)
	if err != nil {
		return err
	}
	res := make([]dto.ArtifactResponse, 0, len(artifacts))
	for _, a := range artifacts {
		res = append(res, toArtifactResponse(a))
	}
	return ctx.JSON(serverutils.SuccessResponse("Success list artifacts", res))
}

func toArtifactResponse(a *entity.GeneratedArtifact) dto.ArtifactResponse {
	res := dto.ArtifactResponse{
		Id:             a.Id,
		RecordId:       a.RecordId,
		Kind:           a.Kind,
		Status:         string(a.Status),
		ModelId:        a.ModelId,
		SucceededPages: a.SucceededPages,
		FailedPages:    a.FailedPages,
		ChunkCount:     a.ChunkCount,
		Params:         a.Params,
		CreatedAt:      a.CreatedAt.Format(time.RFC3339),
	}
	for _, p := range a.Pages {
		res.Pages = append(res.Pages, dto.ArtifactPageResponse{
			Index:    p.Index,
			Status:   string(p.Status),
			Chunks:   len(p.ChunkIds),
			Reason:   p.Reason,
			Attempts: p.Attempts,
		})
	}
	return res
}
