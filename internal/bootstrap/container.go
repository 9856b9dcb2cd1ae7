package bootstrap

import (
	"context"
	"fmt"
	"time"

	"openrecords-be/internal/cache"
	"openrecords-be/internal/config"
	"openrecords-be/internal/controller"
	"openrecords-be/internal/handler"
	"openrecords-be/internal/keyvault"
	"openrecords-be/internal/pkg/logger"
	"openrecords-be/internal/repository/contract"
	"openrecords-be/internal/repository/implementation"
	"openrecords-be/internal/repository/memory"
	"openrecords-be/internal/repository/unitofwork"
	"openrecords-be/internal/service"
	"openrecords-be/internal/websocket"
	"openrecords-be/pkg/blobstore"
	"openrecords-be/pkg/embedding"
	"openrecords-be/pkg/events"
	"openrecords-be/pkg/llm/factory"
	pktNats "openrecords-be/pkg/nats"
	"openrecords-be/pkg/scraper"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type Container struct {
	Config     *config.Config
	Logger     logger.ILogger
	UowFactory unitofwork.RepositoryFactory
	Vault      *keyvault.Vault
	Cache      *cache.Layer

	// Services
	AuthService         service.IAuthService
	RecordService       service.IRecordService
	IngestionService    service.IIngestionService
	RetrievalService    service.IRetrievalService
	GenerationService   service.IGenerationService
	ModelCatalogService service.IModelCatalogService
	ChatService         service.IChatService
	ReferenceService    service.IReferenceService
	UserService         service.IUserService

	// Background services, run by cmd/rest
	ConsumerService service.IConsumerService
	WebSocketHub    *websocket.Hub

	// Controllers
	AuthController      controller.IAuthController
	RecordController    controller.IRecordController
	DocumentController  controller.IDocumentController
	RagController       controller.IRagController
	ModelController     controller.IModelController
	ChatController      controller.IChatController
	ReferenceController controller.IReferenceController
	UserController      controller.IUserController
	ProgressHandler     *handler.ProgressHandler

	closers []func()
}

func NewContainer(db *gorm.DB, cfg *config.Config, sysLogger logger.ILogger) (*Container, error) {
	ctx := context.Background()
	c := &Container{Config: cfg, Logger: sysLogger}

	// 1. Core facades
	uowFactory := unitofwork.NewRepositoryFactory(db)
	c.UowFactory = uowFactory

	vault, err := keyvault.New(cfg.Security.ServerSecret, keyvault.NewRepositoryKeyStore(uowFactory), sysLogger)
	if err != nil {
		return nil, err
	}
	c.Vault = vault

	blobs, err := blobstore.New(ctx, blobstore.Config{
		Backend:     cfg.Storage.Backend,
		VaultPath:   cfg.Storage.VaultPath,
		S3Endpoint:  cfg.Storage.S3Endpoint,
		S3Region:    cfg.Storage.S3Region,
		S3Bucket:    cfg.Storage.S3Bucket,
		S3AccessKey: cfg.Storage.S3AccessKey,
		S3SecretKey: cfg.Storage.S3SecretKey,
	})
	if err != nil {
		return nil, fmt.Errorf("blob store: %w", err)
	}

	c.Cache = cache.New(sysLogger)
	c.Cache.Init(cfg.Cache)
	c.closers = append(c.closers, c.Cache.Shutdown)

	// 2. Providers
	embedder, err := embedding.NewProvider(cfg.Ai.EmbeddingProvider, cfg.Ai.EmbeddingBaseURL, cfg.Ai.EmbeddingAPIKey, cfg.Ai.OllamaBaseURL, cfg.Ai.ProviderTimeout)
	if err != nil {
		return nil, err
	}
	providers, err := factory.NewProviders(factory.Config{
		Provider:      cfg.Ai.LLMProvider,
		Model:         cfg.Ai.LLMModel,
		BaseURL:       cfg.Ai.LLMBaseURL,
		APIKey:        cfg.Ai.LLMAPIKey,
		OllamaBaseURL: cfg.Ai.OllamaBaseURL,
		Timeout:       cfg.Ai.ProviderTimeout,
	})
	if err != nil {
		return nil, err
	}
	sysLogger.Info("Bootstrap", "Providers ready", map[string]interface{}{
		"embedding_provider": cfg.Ai.EmbeddingProvider,
		"embedding_model":    cfg.Ai.EmbeddingModel,
		"llm_provider":       cfg.Ai.LLMProvider,
		"llm_model":          cfg.Ai.LLMModel,
		"images":             providers.Image != nil,
	})

	// 3. Infrastructure. NATS and Redis are optional.
	var publisher events.Publisher
	if cfg.App.NatsURL != "" {
		natsPub, err := pktNats.NewPublisher(cfg.App.NatsURL)
		if err != nil {
			sysLogger.Warn("Bootstrap", "NATS unavailable, domain events disabled", map[string]interface{}{"error": err.Error()})
		} else {
			publisher = natsPub
			c.closers = append(c.closers, natsPub.Close)
		}
	}

	rdb := newRedisClient(cfg.App.RedisURL, sysLogger)
	var snapshots contract.ModelSnapshotRepository
	if rdb != nil {
		snapshots = implementation.NewModelSnapshotRepository(rdb)
		c.closers = append(c.closers, func() { rdb.Close() })
	} else {
		snapshots = memory.NewModelSnapshotRepository()
	}

	c.WebSocketHub = websocket.NewHub(rdb, sysLogger)
	eventSink := service.NewEventSink(publisher, c.WebSocketHub, sysLogger)

	// In-process job queue; messages carry ids only.
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: 64},
		watermill.NewStdLogger(false, false),
	)
	c.closers = append(c.closers, func() { pubSub.Close() })

	// 4. Services
	chunkStore := service.NewChunkStore(uowFactory, blobs, c.Cache, sysLogger)
	index := service.NewVectorIndex(uowFactory)

	c.AuthService = service.NewAuthService(uowFactory, vault, sysLogger, cfg.Security.JWTSecret, cfg.Security.JWTExpiration)
	c.RecordService = service.NewRecordService(uowFactory, chunkStore, blobs, eventSink, sysLogger, cfg.Ai.LLMModel, cfg.Ai.EmbeddingModel)
	c.IngestionService = service.NewIngestionService(
		uowFactory,
		chunkStore,
		index,
		vault,
		embedder,
		service.NewPublisherService(pubSub, cfg.App.IngestionTopic),
		c.Cache,
		eventSink,
		sysLogger,
		service.IngestionOptions{
			EmbeddingModel:     cfg.Ai.EmbeddingModel,
			MaxUploadBytes:     cfg.App.MaxUploadBytes,
			ChunkSizeTokens:    cfg.Rag.ChunkSizeTokens,
			ChunkOverlapTokens: cfg.Rag.ChunkOverlapTokens,
			EmbedBatchSize:     cfg.Ai.EmbedBatchSize,
			Retry: embedding.RetryPolicy{
				MaxRetries: cfg.Ai.EmbedMaxRetries,
				BaseDelay:  cfg.Ai.EmbedRetryBaseDelay,
			},
		},
	)
	c.RetrievalService = service.NewRetrievalService(uowFactory, chunkStore, index, vault, embedder, providers.Chat, c.Cache, sysLogger, service.RetrievalOptions{
		DefaultTopK:         cfg.Rag.DefaultTopK,
		MaxTopK:             cfg.Rag.MaxTopK,
		MinSimilarity:       cfg.Rag.MinSimilarity,
		ContextBudgetTokens: cfg.Rag.ContextBudgetTokens,
		ChatModel:           cfg.Ai.LLMModel,
		EmbeddingModel:      cfg.Ai.EmbeddingModel,
		KeywordFusion:       cfg.Rag.KeywordFusion,
	})
	c.GenerationService = service.NewGenerationService(uowFactory, chunkStore, blobs, vault, providers.Chat, providers.Image, eventSink, sysLogger, service.GenerationOptions{
		ChatModel:       cfg.Ai.LLMModel,
		ImageModel:      cfg.Ai.ImageModel,
		ExportGroupSize: cfg.Rag.ExportGroupSize,
	})
	c.ModelCatalogService = service.NewModelCatalogService(cfg.Ai.LLMProvider, providers.Models, snapshots, c.Cache, sysLogger)
	c.ChatService = service.NewChatService(uowFactory, vault, sysLogger)
	c.ReferenceService = service.NewReferenceService(uowFactory, chunkStore, vault, c.IngestionService, scraper.New(scraper.Options{
		Timeout:      cfg.Scraper.Timeout,
		MaxRedirects: cfg.Scraper.MaxRedirects,
		MaxBytes:     cfg.Scraper.MaxBytes,
		UserAgent:    cfg.Scraper.UserAgent,
	}), eventSink, sysLogger)
	c.UserService = service.NewUserService(uowFactory, c.RecordService, sysLogger)
	c.ConsumerService = service.NewConsumerService(pubSub, cfg.App.IngestionTopic, c.IngestionService, sysLogger)

	// 5. Controllers
	c.AuthController = controller.NewAuthController(c.AuthService)
	c.RecordController = controller.NewRecordController(c.RecordService, c.IngestionService, cfg.App.MaxUploadBytes)
	c.DocumentController = controller.NewDocumentController(c.RecordService, c.IngestionService)
	c.RagController = controller.NewRagController(c.RetrievalService, c.GenerationService)
	c.ModelController = controller.NewModelController(c.ModelCatalogService)
	c.ChatController = controller.NewChatController(c.ChatService)
	c.ReferenceController = controller.NewReferenceController(c.ReferenceService)
	c.UserController = controller.NewUserController(c.UserService)
	c.ProgressHandler = handler.NewProgressHandler(c.WebSocketHub, sysLogger)

	return c, nil
}

// Close releases background resources in reverse order of creation.
func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

func newRedisClient(url string, log logger.ILogger) *redis.Client {
	if url == "" {
		return nil
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		opt = &redis.Options{Addr: url}
	}
	rdb := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn("Bootstrap", "Redis unavailable, using in-process fallbacks", map[string]interface{}{"error": err.Error()})
		rdb.Close()
		return nil
	}
	return rdb
}
