package service

import (
	"context"
	"sort"

	"openrecords-be/internal/cache"
	"openrecords-be/internal/pkg/apperror"
	"openrecords-be/internal/pkg/logger"
	"openrecords-be/internal/repository/contract"
	"openrecords-be/pkg/llm"
)

type ModelCatalog struct {
	Provider string
	Models   []llm.ModelInfo
	// Stale is set when the provider failed and the last known list is served.
	Stale  bool
	Cached bool
}

type IModelCatalogService interface {
	List(ctx context.Context, refresh bool) (*ModelCatalog, error)
}

type modelCatalogService struct {
	provider  string
	lister    llm.ModelLister
	snapshots contract.ModelSnapshotRepository
	cache     *cache.Layer
	logger    logger.ILogger
}

func NewModelCatalogService(
	provider string,
	lister llm.ModelLister,
	snapshots contract.ModelSnapshotRepository,
	cacheLayer *cache.Layer,
	log logger.ILogger,
) IModelCatalogService {
	return &modelCatalogService{
		provider:  provider,
		lister:    lister,
		snapshots: snapshots,
		cache:     cacheLayer,
		logger:    log,
	}
}

func (s *modelCatalogService) List(ctx context.Context, refresh bool) (*ModelCatalog, error) {
	key := cache.ProviderModelsKey(s.provider)
	if !refresh {
		if v, ok := s.cache.Get(key); ok {
			return &ModelCatalog{Provider: s.provider, Models: v.([]llm.ModelInfo), Cached: true}, nil
		}
	}

	models, err := s.lister.ListModels(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return s.fallback(ctx, err)
	}

	sort.SliceStable(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	s.cache.Put(key, models, 0)
	if err := s.snapshots.Save(ctx, s.provider, models); err != nil {
		s.logger.Warn("ModelCatalog", "Failed to save model snapshot", map[string]interface{}{
			"provider": s.provider,
			"error":    err.Error(),
		})
	}

	s.logger.Info("ModelCatalog", "Model list refreshed", map[string]interface{}{
		"provider": s.provider,
		"count":    len(models),
	})
	return &ModelCatalog{Provider: s.provider, Models: models}, nil
}

func (s *modelCatalogService) fallback(ctx context.Context, cause error) (*ModelCatalog, error) {
	snapshot, err := s.snapshots.Load(ctx, s.provider)
	if err != nil {
		s.logger.Warn("ModelCatalog", "Failed to load model snapshot", map[string]interface{}{
			"provider": s.provider,
			"error":    err.Error(),
		})
	}
	if len(snapshot) == 0 {
		return nil, apperror.ProviderUnavailable(cause)
	}

	s.logger.Warn("ModelCatalog", "Provider unavailable, serving last known models", map[string]interface{}{
		"provider": s.provider,
		"count":    len(snapshot),
		"error":    cause.Error(),
	})
	return &ModelCatalog{Provider: s.provider, Models: snapshot, Stale: true}, nil
}
