package config

import (
	"errors"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const devJWTSecret = "openrecords-dev-jwt-secret"

type Config struct {
	App      AppConfig
	Database DatabaseConfig
	Security SecurityConfig
	Storage  StorageConfig
	Ai       AIConfig
	Rag      RagConfig
	Cache    CacheConfig
	Scraper  ScraperConfig
}

type AppConfig struct {
	Port               string
	Environment        string
	LogFilePath        string
	CorsAllowedOrigins string
	NatsURL            string
	RedisURL           string
	MaxUploadBytes     int64
	IngestionTopic     string
}

type DatabaseConfig struct {
	Connection string
}

type SecurityConfig struct {
	// ServerSecret derives the key-encryption key that wraps every user key.
	ServerSecret  string
	JWTSecret     string
	JWTExpiration time.Duration
}

type StorageConfig struct {
	Backend     string // "vault" or "s3"
	VaultPath   string
	S3Endpoint  string
	S3Region    string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
}

type AIConfig struct {
	EmbeddingProvider   string // "ollama" or "openai" (OpenRouter, Mistral, Jina)
	EmbeddingBaseURL    string
	EmbeddingAPIKey     string
	EmbeddingModel      string
	EmbedBatchSize      int
	EmbedMaxRetries     int
	EmbedRetryBaseDelay time.Duration
	LLMProvider         string // "ollama" or "openrouter"
	LLMBaseURL          string
	LLMAPIKey           string
	LLMModel            string
	ImageModel          string
	OllamaBaseURL       string
	ProviderTimeout     time.Duration
}

type RagConfig struct {
	ChunkSizeTokens     int
	ChunkOverlapTokens  int
	DefaultTopK         int
	MaxTopK             int
	MinSimilarity       float64
	ContextBudgetTokens int
	ExportGroupSize     int
	// KeywordFusion lets keyword matches reorder the similarity ranking.
	KeywordFusion bool
}

type ScraperConfig struct {
	Timeout      time.Duration
	MaxRedirects int
	MaxBytes     int64
	UserAgent    string
}

type CacheConfig struct {
	Enabled         bool
	DefaultTTL      time.Duration
	ChunkTextTTL    time.Duration
	AnswerTTL       time.Duration
	ProviderListTTL time.Duration
	SweepInterval   time.Duration
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, using system environment")
	}

	cfg := &Config{
		App: AppConfig{
			Port:               getEnv("APP_PORT", "3000"),
			Environment:        getEnv("GO_ENV", "development"),
			LogFilePath:        getEnv("LOG_FILE_PATH", "logs/app.log"),
			CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),
			NatsURL:            getEnv("NATS_URL", ""),
			RedisURL:           getEnv("REDIS_URL", ""),
			MaxUploadBytes:     int64(getEnvAsInt("MAX_UPLOAD_BYTES", 50*1024*1024)),
			IngestionTopic:     getEnv("INGESTION_TOPIC", "document.ingest"),
		},
		Database: DatabaseConfig{
			Connection: getEnv("DB_CONNECTION_STRING", "sqlite://data/openrecords.db"),
		},
		Security: SecurityConfig{
			ServerSecret:  getEnv("SERVER_SECRET", ""),
			JWTSecret:     getEnv("JWT_SECRET", ""),
			JWTExpiration: getEnvAsDuration("JWT_EXPIRATION", 24*time.Hour),
		},
		Storage: StorageConfig{
			Backend:     getEnv("BLOB_BACKEND", "vault"),
			VaultPath:   getEnv("VAULT_PATH", "data/vault"),
			S3Endpoint:  getEnv("S3_ENDPOINT", ""),
			S3Region:    getEnv("S3_REGION", "us-east-1"),
			S3Bucket:    getEnv("S3_BUCKET", "openrecords"),
			S3AccessKey: getEnv("S3_ACCESS_KEY", ""),
			S3SecretKey: getEnv("S3_SECRET_KEY", ""),
		},
		Ai: AIConfig{
			EmbeddingProvider:   getEnv("EMBEDDING_PROVIDER", "openai"),
			EmbeddingBaseURL:    getEnv("EMBEDDING_BASE_URL", "https://openrouter.ai/api/v1"),
			EmbeddingAPIKey:     getEnv("EMBEDDING_API_KEY", getEnv("OPENROUTER_API_KEY", "")),
			EmbeddingModel:      getEnv("EMBEDDING_MODEL", "mistralai/mistral-embed-2312"),
			EmbedBatchSize:      getEnvAsInt("EMBED_BATCH_SIZE", 32),
			EmbedMaxRetries:     getEnvAsInt("EMBED_MAX_RETRIES", 3),
			EmbedRetryBaseDelay: getEnvAsDuration("EMBED_RETRY_BASE_DELAY", time.Second),
			LLMProvider:         getEnv("LLM_PROVIDER", "openrouter"),
			LLMBaseURL:          getEnv("LLM_BASE_URL", "https://openrouter.ai/api/v1"),
			LLMAPIKey:           getEnv("LLM_API_KEY", getEnv("OPENROUTER_API_KEY", "")),
			LLMModel:            getEnv("LLM_MODEL", "moonshotai/kimi-k2.5"),
			ImageModel:          getEnv("IMAGE_MODEL", "google/gemini-2.5-flash-image"),
			OllamaBaseURL:       getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
			ProviderTimeout:     getEnvAsDuration("PROVIDER_TIMEOUT", 120*time.Second),
		},
		Rag: RagConfig{
			ChunkSizeTokens:     getEnvAsInt("CHUNK_SIZE_TOKENS", 500),
			ChunkOverlapTokens:  getEnvAsInt("CHUNK_OVERLAP_TOKENS", 50),
			DefaultTopK:         getEnvAsInt("RAG_TOP_K", 5),
			MaxTopK:             getEnvAsInt("RAG_MAX_TOP_K", 20),
			MinSimilarity:       getEnvAsFloat("MIN_SIMILARITY", 0.25),
			ContextBudgetTokens: getEnvAsInt("CONTEXT_BUDGET_TOKENS", 3000),
			ExportGroupSize:     getEnvAsInt("EXPORT_GROUP_SIZE", 5),
			KeywordFusion:       getEnvAsBool("RAG_KEYWORD_FUSION", true),
		},
		Cache: CacheConfig{
			Enabled:         getEnvAsBool("CACHE_ENABLED", true),
			DefaultTTL:      getEnvAsDuration("CACHE_TTL", 10*time.Minute),
			ChunkTextTTL:    getEnvAsDuration("CACHE_CHUNK_TTL", 5*time.Minute),
			AnswerTTL:       getEnvAsDuration("CACHE_ANSWER_TTL", 10*time.Minute),
			ProviderListTTL: getEnvAsDuration("MODEL_CACHE_TTL", 24*time.Hour),
			SweepInterval:   getEnvAsDuration("CACHE_SWEEP_INTERVAL", time.Minute),
		},
		Scraper: ScraperConfig{
			Timeout:      getEnvAsDuration("SCRAPE_TIMEOUT", 10*time.Second),
			MaxRedirects: getEnvAsInt("SCRAPE_MAX_REDIRECTS", 3),
			MaxBytes:     int64(getEnvAsInt("SCRAPE_MAX_BYTES", 5*1024*1024)),
			UserAgent:    getEnv("SCRAPE_USER_AGENT", "OpenRecordsBot/1.0"),
		},
	}

	if cfg.Security.JWTSecret == "" && !cfg.IsProduction() {
		log.Println("Note: JWT_SECRET not set, using the development secret")
		cfg.Security.JWTSecret = devJWTSecret
	}
	return cfg
}

func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Security.ServerSecret == "" {
		return errors.New("SERVER_SECRET must be set")
	}
	if c.IsProduction() && c.Security.JWTSecret == "" {
		return errors.New("JWT_SECRET must be set in production")
	}
	if c.Rag.ChunkSizeTokens <= 0 {
		return errors.New("CHUNK_SIZE_TOKENS must be positive")
	}
	if c.Rag.ChunkOverlapTokens < 0 || c.Rag.ChunkOverlapTokens >= c.Rag.ChunkSizeTokens {
		return errors.New("CHUNK_OVERLAP_TOKENS must be smaller than CHUNK_SIZE_TOKENS")
	}
	if c.Rag.ContextBudgetTokens <= 0 {
		return errors.New("CONTEXT_BUDGET_TOKENS must be positive")
	}
	if c.Rag.ExportGroupSize <= 0 {
		return errors.New("EXPORT_GROUP_SIZE must be positive")
	}
	if c.Rag.DefaultTopK <= 0 || c.Rag.DefaultTopK > c.Rag.MaxTopK {
		return errors.New("RAG_TOP_K must be between 1 and RAG_MAX_TOP_K")
	}
	if c.Scraper.MaxBytes <= 0 {
		return errors.New("SCRAPE_MAX_BYTES must be positive")
	}
	if c.App.MaxUploadBytes <= 0 {
		return errors.New("MAX_UPLOAD_BYTES must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	strValue := getEnv(key, "")
	if value, err := strconv.ParseFloat(strValue, 64); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	strValue := getEnv(key, "")
	if value, err := strconv.ParseBool(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	strValue := getEnv(key, "")
	if value, err := time.ParseDuration(strValue); err == nil {
		return value
	}
	return fallback
}
