package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vendalia/catalog-ai-platform/cmd/mainconfig"
	"github.com/vendalia/catalog-ai-platform/internal/api"
	"github.com/vendalia/catalog-ai-platform/internal/app/bootstrap"
	appconfig "github.com/vendalia/catalog-ai-platform/internal/config"
	"github.com/vendalia/catalog-ai-platform/internal/conversation"
	"github.com/vendalia/catalog-ai-platform/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting catalog-ai-platform API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx := context.Background()
	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	runtime, err := bootstrap.BuildRuntime(ctx, cfg, awsCfg, logger)
	if err != nil {
		logger.Error("failed to build runtime", "error", err)
		os.Exit(1)
	}
	defer runtime.Close()

	runtime.Dispatcher.Start()

	var jobs conversation.JobRecorder
	if runtime.Jobs != nil {
		jobs = runtime.Jobs
	}

	routerCfg := &api.Config{
		Logger:         logger,
		Webhook:        runtime.Webhook,
		Conversations:  api.NewConversationHandler(runtime.Dispatcher, jobs, logger),
		Admin:          api.NewAdminHandler(runtime.Sessions, logger),
		Stats:          api.NewStatsHandler(prometheus.DefaultGatherer, logger),
		AdminJWTSecret: cfg.AdminJWTSecret,
		MetricsHandler: promhttp.Handler(),
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api.New(routerCfg),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	if err := runtime.Dispatcher.Shutdown(shutdownCtx); err != nil {
		logger.Error("dispatcher forced to shutdown", "error", err)
	}

	logger.Info("server stopped")
}
