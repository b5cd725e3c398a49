package bootstrap

import (
	"context"
	"crypto/tls"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/vendalia/catalog-ai-platform/internal/config"
	"github.com/vendalia/catalog-ai-platform/internal/conversation"
	"github.com/vendalia/catalog-ai-platform/internal/messaging"
	"github.com/vendalia/catalog-ai-platform/pkg/logging"
)

// Runtime is the wired application graph shared by the API and worker
// binaries, plus the handles needed to release it on shutdown.
type Runtime struct {
	Config     *appconfig.Config
	Logger     *logging.Logger
	Engine     *conversation.Engine
	Dispatcher *conversation.Dispatcher
	Sessions   *conversation.SessionStore
	Jobs       *conversation.JobStore
	Webhook    *messaging.Handler

	redisClient *redis.Client
	pgPool      *pgxpool.Pool
	gemini      *conversation.GeminiLLMClient
}

// Close releases the runtime's external connections. Stop the dispatcher
// first; Close does not drain in-flight turns.
func (r *Runtime) Close() {
	if r.gemini != nil {
		if err := r.gemini.Close(); err != nil {
			r.Logger.Warn("gemini client close failed", "error", err)
		}
	}
	if r.pgPool != nil {
		r.pgPool.Close()
	}
	if r.redisClient != nil {
		if err := r.redisClient.Close(); err != nil {
			r.Logger.Warn("redis close failed", "error", err)
		}
	}
}

// BuildRedisClient returns a configured Redis client or nil when no address
// is set. When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		return nil
	}
	return client
}
