package bootstrap

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vendalia/catalog-ai-platform/internal/augment"
	appconfig "github.com/vendalia/catalog-ai-platform/internal/config"
	"github.com/vendalia/catalog-ai-platform/internal/conversation"
	"github.com/vendalia/catalog-ai-platform/internal/crm"
	"github.com/vendalia/catalog-ai-platform/internal/messaging"
	"github.com/vendalia/catalog-ai-platform/internal/rag"
	"github.com/vendalia/catalog-ai-platform/internal/tools"
	"github.com/vendalia/catalog-ai-platform/internal/visual"
	"github.com/vendalia/catalog-ai-platform/pkg/logging"
)

// BuildRuntime wires the full conversation stack from config. Optional
// subsystems (CRM, retrieval, visual search, job tracking) degrade to nil
// rather than failing startup; the engine tolerates their absence.
func BuildRuntime(ctx context.Context, cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisClient := BuildRedisClient(ctx, cfg, logger, false)
	if redisClient == nil {
		return nil, fmt.Errorf("bootstrap: REDIS_ADDR is required for session storage")
	}
	sessions := conversation.NewSessionStore(redisClient)

	bedrockClient := bedrockruntime.NewFromConfig(awsCfg)
	visionClient := conversation.NewBedrockVisionClient(bedrockClient, cfg.BedrockVisionModelID)

	rt := &Runtime{
		Config:      cfg,
		Logger:      logger,
		Sessions:    sessions,
		redisClient: redisClient,
	}

	llm := buildLLMClient(ctx, cfg, bedrockClient, rt, logger)

	contacts := buildContactRepository(ctx, cfg, rt, logger)
	nameCache := crm.NewNameCache(redisClient)

	docs, tone := buildRetrievalStores(ctx, cfg, awsCfg, bedrockClient, logger)
	pipeline := buildAugmentPipeline(cfg, contacts, nameCache, docs, tone, visionClient, logger)

	registry := buildToolRegistry(cfg, contacts, docs, visionClient, logger)
	policy := conversation.NewPolicy(cfg.SalesQueueID, cfg.SupportQueueID)
	prompts := conversation.NewPromptLoader(cfg.PromptPath, logger)

	engine := conversation.NewEngine(sessions, pipeline, llm, registry, prompts, policy, conversation.EngineConfig{
		ModelID:       cfg.BedrockModelID,
		MaxTokens:     int32(cfg.LLMMaxTokens),
		Temperature:   float32(cfg.LLMTemperature),
		HistoryWindow: cfg.HistoryWindow,
		SalesQueueID:  cfg.SalesQueueID,
	}, logger)
	rt.Engine = engine

	useMemoryQueue := cfg.UseMemoryQueue || strings.TrimSpace(cfg.TurnQueueURL) == ""

	transport := buildTransport(cfg, logger)

	if useMemoryQueue {
		logger.Info("using in-memory turn queue")
		queue := conversation.NewMemoryQueue(64)
		rt.Dispatcher = conversation.NewDispatcher(engine, queue, transport, nil, cfg.WorkerCount, logger)
	} else {
		queue := conversation.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.TurnQueueURL)
		if table := strings.TrimSpace(cfg.TurnJobsTable); table != "" {
			rt.Jobs = conversation.NewJobStore(dynamodb.NewFromConfig(awsCfg), table, logger)
		}
		if rt.Jobs != nil {
			rt.Dispatcher = conversation.NewDispatcher(engine, queue, transport, rt.Jobs, cfg.WorkerCount, logger)
		} else {
			rt.Dispatcher = conversation.NewDispatcher(engine, queue, transport, nil, cfg.WorkerCount, logger)
		}
	}

	rt.Webhook = messaging.NewHandler(cfg.WhatsAppWebhookSecret, rt.Dispatcher, logger)
	return rt, nil
}

// buildLLMClient assembles the Bedrock chain with retries and, when a Gemini
// key is configured, a cross-provider fallback.
func buildLLMClient(ctx context.Context, cfg *appconfig.Config, bedrockClient *bedrockruntime.Client, rt *Runtime, logger *logging.Logger) conversation.LLMClient {
	base := conversation.NewBedrockLLMClient(bedrockClient)
	retrying := conversation.NewRetryLLMClient(base, cfg.LLMMaxAttempts, logger)

	if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
		return retrying
	}
	gemini, err := conversation.NewGeminiLLMClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID)
	if err != nil {
		logger.Warn("gemini fallback unavailable", "error", err)
		return retrying
	}
	rt.gemini = gemini
	logger.Info("gemini fallback enabled", "model", cfg.GeminiModelID)
	return conversation.NewFallbackLLMClient(retrying, gemini, logger)
}

// buildContactRepository connects the CRM database. A missing DATABASE_URL
// or an unreachable database disables CRM lookups instead of failing boot.
func buildContactRepository(ctx context.Context, cfg *appconfig.Config, rt *Runtime, logger *logging.Logger) *crm.PostgresRepository {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		logger.Info("no database configured; CRM lookups disabled")
		return nil
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Warn("crm database unavailable", "error", err)
		return nil
	}
	rt.pgPool = pool
	return crm.NewPostgresRepository(pool)
}

// buildRetrievalStores hydrates the document and tone stores from their
// snapshots. Either store may come back nil; retrieval then degrades.
func buildRetrievalStores(ctx context.Context, cfg *appconfig.Config, awsCfg aws.Config, bedrockClient *bedrockruntime.Client, logger *logging.Logger) (*rag.MemoryStore, *rag.MemoryStore) {
	if !cfg.RetrievalEnabled || strings.TrimSpace(cfg.BedrockEmbeddingModelID) == "" {
		return nil, nil
	}
	embedder := rag.NewBedrockEmbedder(bedrockClient, cfg.BedrockEmbeddingModelID)

	var s3Client *s3.Client
	loaderFor := func(path, bucket, key string) rag.SnapshotLoader {
		if strings.TrimSpace(path) != "" {
			return rag.NewFileLoader(path)
		}
		if strings.TrimSpace(bucket) != "" && strings.TrimSpace(key) != "" {
			if s3Client == nil {
				s3Client = s3.NewFromConfig(awsCfg)
			}
			return rag.NewS3Loader(s3Client, bucket, key)
		}
		return nil
	}

	docs := hydrateStore(ctx, "knowledge", embedder,
		loaderFor(cfg.KnowledgeSnapshotPath, cfg.KnowledgeBucket, cfg.KnowledgeSnapshotKey), logger)
	tone := hydrateStore(ctx, "tone", embedder,
		loaderFor(cfg.ToneSnapshotPath, cfg.KnowledgeBucket, cfg.ToneSnapshotKey), logger)
	return docs, tone
}

func hydrateStore(ctx context.Context, name string, embedder rag.Embedder, loader rag.SnapshotLoader, logger *logging.Logger) *rag.MemoryStore {
	if loader == nil {
		return nil
	}
	snapshot, err := loader.Load(ctx)
	if err != nil {
		logger.Warn("snapshot load failed", "store", name, "error", err)
		return nil
	}
	store := rag.NewMemoryStore(embedder, logger)
	if err := store.LoadSnapshot(snapshot); err != nil {
		logger.Warn("snapshot rejected", "store", name, "error", err)
		return nil
	}
	logger.Info("retrieval store loaded", "store", name, "chunks", store.Len())
	return store
}

func buildAugmentPipeline(cfg *appconfig.Config, contacts *crm.PostgresRepository, nameCache *crm.NameCache, docs, tone *rag.MemoryStore, visionClient *conversation.BedrockVisionClient, logger *logging.Logger) *augment.Pipeline {
	var contactLookup augment.ContactLookup
	if contacts != nil {
		contactLookup = contacts
	}
	identity := augment.NewIdentityStage(nil, contactLookup, nameCache, logger)

	var visualStage *augment.VisualStage
	if strings.TrimSpace(cfg.VisualSearchScript) != "" {
		searcher := visual.NewSubprocessSearcher(cfg.VisualSearchScript, cfg.VisualSearchTimeout, logger)
		verifier := visual.NewVerifier(visionClient, logger)
		visualStage = augment.NewVisualStage(searcher, verifier, cfg.VisualTopK, logger)
	}

	var retrieval *augment.RetrievalStage
	if docs != nil {
		var toneRet rag.Retriever
		if tone != nil {
			toneRet = tone
		}
		retrieval = augment.NewRetrievalStage(docs, toneRet, visionClient, cfg.RetrievalTopK, cfg.ToneTopK, logger)
	}

	return augment.NewPipeline(identity, visualStage, retrieval, cfg.StageTimeout, logger)
}

func buildToolRegistry(cfg *appconfig.Config, contacts *crm.PostgresRepository, docs *rag.MemoryStore, visionClient *conversation.BedrockVisionClient, logger *logging.Logger) *tools.Registry {
	deps := tools.Deps{
		Catalogs: parseCatalogFiles(cfg.CatalogFiles, logger),
		Hours: tools.HoursConfig{
			Timezone:  cfg.BusinessTimezone,
			OpenHour:  cfg.BusinessOpenHour,
			CloseHour: cfg.BusinessCloseHr,
		},
		Queues: tools.QueueConfig{
			Sales:   cfg.SalesQueueID,
			Support: cfg.SupportQueueID,
		},
		Vision: visionClient,
		Logger: logger,
	}
	if contacts != nil {
		deps.Contacts = contacts
	}
	if docs != nil {
		deps.Knowledge = rag.NewTextSearcher(docs)
	}
	return tools.NewRegistry(deps)
}

func buildTransport(cfg *appconfig.Config, logger *logging.Logger) messaging.Transport {
	if strings.TrimSpace(cfg.ChannelGatewayURL) == "" {
		logger.Info("no channel gateway configured; outbound messages are logged only")
		return messaging.NewLogTransport(logger)
	}
	gateway, err := messaging.NewGatewayTransport(messaging.GatewayConfig{
		BaseURL:  cfg.ChannelGatewayURL,
		APIToken: cfg.ChannelGatewayToken,
		Logger:   logger,
	})
	if err != nil {
		logger.Warn("channel gateway misconfigured; falling back to log transport", "error", err)
		return messaging.NewLogTransport(logger)
	}
	return gateway
}

// parseCatalogFiles decodes the CATALOG_FILES JSON array. A malformed value
// disables the catalog tool rather than failing boot.
func parseCatalogFiles(raw string, logger *logging.Logger) []tools.CatalogFile {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var catalogs []tools.CatalogFile
	if err := json.Unmarshal([]byte(raw), &catalogs); err != nil {
		logger.Warn("invalid CATALOG_FILES value", "error", err)
		return nil
	}
	return catalogs
}
