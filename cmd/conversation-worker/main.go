package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/vendalia/catalog-ai-platform/cmd/mainconfig"
	"github.com/vendalia/catalog-ai-platform/internal/app/bootstrap"
	appconfig "github.com/vendalia/catalog-ai-platform/internal/config"
	"github.com/vendalia/catalog-ai-platform/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting catalog-ai-platform conversation worker", "env", cfg.Env)

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

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down conversation worker...")

	doneCtx, doneCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer doneCancel()

	if err := runtime.Dispatcher.Shutdown(doneCtx); err != nil {
		logger.Error("conversation worker shutdown timed out", "error", err)
		return
	}
	logger.Info("conversation worker stopped")
}
