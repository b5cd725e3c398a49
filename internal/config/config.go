package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration. It is resolved once at startup and
// passed by value into every stage; nothing mutates it afterwards.
type Config struct {
	Port           string
	Env            string
	LogLevel       string
	UseMemoryQueue bool
	WorkerCount    int

	DatabaseURL string

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	TurnQueueURL  string
	TurnJobsTable string

	BedrockModelID          string
	BedrockVisionModelID    string
	BedrockEmbeddingModelID string
	LLMMaxAttempts          int
	LLMMaxTokens            int
	LLMTemperature          float64

	GeminiAPIKey  string
	GeminiModelID string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	KnowledgeBucket       string
	KnowledgeSnapshotKey  string
	ToneSnapshotKey       string
	KnowledgeSnapshotPath string
	ToneSnapshotPath      string
	RetrievalEnabled      bool
	RetrievalTopK         int
	ToneTopK              int

	VisualSearchScript  string
	VisualSearchTimeout time.Duration
	VisualTopK          int

	PromptPath    string
	HistoryWindow int
	StageTimeout  time.Duration

	SalesQueueID     string
	SupportQueueID   string
	BusinessTimezone string
	BusinessOpenHour int
	BusinessCloseHr  int

	CatalogBaseURL string
	CatalogFiles   string

	ChannelGatewayURL   string
	ChannelGatewayToken string

	WhatsAppWebhookSecret string
	AdminJWTSecret        string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "8080"),
		Env:            getEnv("ENV", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		UseMemoryQueue: getEnvAsBool("USE_MEMORY_QUEUE", false),
		WorkerCount:    getEnvAsInt("WORKER_COUNT", 2),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		TurnQueueURL:  getEnv("TURN_QUEUE_URL", ""),
		TurnJobsTable: getEnv("TURN_JOBS_TABLE", "turn_jobs"),

		BedrockModelID:          getEnv("BEDROCK_MODEL_ID", "anthropic.claude-3-5-sonnet-20240620-v1:0"),
		BedrockVisionModelID:    getEnv("BEDROCK_VISION_MODEL_ID", "anthropic.claude-3-haiku-20240307-v1:0"),
		BedrockEmbeddingModelID: getEnv("BEDROCK_EMBEDDING_MODEL_ID", "amazon.titan-embed-text-v2:0"),
		LLMMaxAttempts:          getEnvAsInt("LLM_MAX_ATTEMPTS", 3),
		LLMMaxTokens:            getEnvAsInt("LLM_MAX_TOKENS", 1024),
		LLMTemperature:          getEnvAsFloat("LLM_TEMPERATURE", 0.4),

		GeminiAPIKey:  getEnv("GEMINI_API_KEY", ""),
		GeminiModelID: getEnv("GEMINI_MODEL_ID", "gemini-2.5-flash"),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		KnowledgeBucket:       getEnv("KNOWLEDGE_BUCKET", ""),
		KnowledgeSnapshotKey:  getEnv("KNOWLEDGE_SNAPSHOT_KEY", "knowledge/embeddings.json"),
		ToneSnapshotKey:       getEnv("TONE_SNAPSHOT_KEY", "knowledge/tone-patterns.json"),
		KnowledgeSnapshotPath: getEnv("KNOWLEDGE_SNAPSHOT_PATH", ""),
		ToneSnapshotPath:      getEnv("TONE_SNAPSHOT_PATH", ""),
		RetrievalEnabled:      getEnvAsBool("RETRIEVAL_ENABLED", true),
		RetrievalTopK:         getEnvAsInt("RETRIEVAL_TOP_K", 4),
		ToneTopK:              getEnvAsInt("TONE_TOP_K", 2),

		VisualSearchScript:  getEnv("VISUAL_SEARCH_SCRIPT", "scripts/visual-search.py"),
		VisualSearchTimeout: getEnvAsDuration("VISUAL_SEARCH_TIMEOUT", 60*time.Second),
		VisualTopK:          getEnvAsInt("VISUAL_TOP_K", 5),

		PromptPath:    getEnv("PROMPT_PATH", ""),
		HistoryWindow: getEnvAsInt("HISTORY_WINDOW", 24),
		StageTimeout:  getEnvAsDuration("STAGE_TIMEOUT", 10*time.Second),

		SalesQueueID:     getEnv("SALES_QUEUE_ID", "sales"),
		SupportQueueID:   getEnv("SUPPORT_QUEUE_ID", "support"),
		BusinessTimezone: getEnv("BUSINESS_TZ", "America/Bogota"),
		BusinessOpenHour: getEnvAsInt("BUSINESS_OPEN_HOUR", 8),
		BusinessCloseHr:  getEnvAsInt("BUSINESS_CLOSE_HOUR", 18),

		CatalogBaseURL: getEnv("CATALOG_BASE_URL", ""),
		CatalogFiles:   getEnv("CATALOG_FILES", ""),

		ChannelGatewayURL:   getEnv("CHANNEL_GATEWAY_URL", ""),
		ChannelGatewayToken: getEnv("CHANNEL_GATEWAY_TOKEN", ""),

		WhatsAppWebhookSecret: getEnv("WHATSAPP_WEBHOOK_SECRET", ""),
		AdminJWTSecret:        getEnv("ADMIN_JWT_SECRET", ""),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(strings.TrimSpace(valueStr), 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
