// Command cardgen runs the greeting-card generation backend: admission
// control, per-class device pools, dispatch with retry against the remote
// backend, and the deterministic fallback renderer that guarantees every
// admitted request an image.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"cardgen/core"
	"cardgen/dispatch"
	"cardgen/inference"
	"cardgen/journal"
	"cardgen/logging"
	"cardgen/metrics"
	"cardgen/pipeline"
	"cardgen/shutdown"
)

// pruneInterval is how often stale journal rows are swept.
const pruneInterval = time.Hour

func main() {
	os.Exit(run())
}

func run() int {
	// .env is optional; a missing file is not an error.
	_ = godotenv.Load()

	isDevelopment := core.ParseBoolEnv("DEV_MODE", false)

	cfg, err := core.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return core.ExitCodeConfigError
	}

	logger, err := logging.NewLogger(isDevelopment, cfg.LogFilePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger setup failed: %v\n", err)
		return core.ExitCodeError
	}
	defer logger.Sync()

	fmt.Println("startup checks:")
	if result := core.NewValidationSuite(cfg).Validate(); !result.Success {
		logger.Error("startup validation failed",
			zap.Int("failed_steps", result.FailedSteps))
		return core.ExitCodeConfigError
	}

	var client inference.Client
	if cfg.OpenAIAPIKey != "" {
		c, err := inference.NewOpenAIClient(cfg, logger)
		if err != nil {
			logger.Warnw("backend client unavailable, running fallback-only", zap.Error(err))
		} else {
			client = c
		}
	}

	j, err := journal.Open(cfg.JournalPath, cfg.MigrationsPath, logger)
	if err != nil {
		logger.Errorw("journal setup failed", zap.Error(err))
		return core.ExitCodeError
	}

	store := metrics.NewStore(100, time.Now())

	service, err := pipeline.NewService(cfg, client, []dispatch.OutcomeSink{j, store}, logger)
	if err != nil {
		logger.Errorw("pipeline setup failed", zap.Error(err))
		return core.ExitCodeError
	}
	store.AttachGauges(service)
	service.Start()

	prunerCtx, stopPruner := context.WithCancel(context.Background())
	j.StartPruner(prunerCtx, pruneInterval, cfg.JournalMaxAge)

	manager := shutdown.NewManager(logger)
	manager.Register("pipeline", 10, func(ctx context.Context) error {
		return service.Shutdown(ctx)
	})
	manager.Register("journal-pruner", 20, func(context.Context) error {
		stopPruner()
		return nil
	})
	manager.Register("journal", 30, func(context.Context) error {
		return j.Close()
	})
	manager.Register("logger", 40, func(context.Context) error {
		// Sync on a console writer fails on some platforms; the file core
		// is what matters here.
		_ = logger.Sync()
		return nil
	})
	manager.Start()

	logger.Info("cardgen backend running",
		zap.Strings("speech_devices", cfg.SpeechDevices),
		zap.Strings("image_devices", cfg.ImageDevices),
		zap.Int("max_queue_size", cfg.MaxQueueSize),
		zap.Bool("remote_backend", client != nil))

	manager.Wait()
	if err := manager.Shutdown(); err != nil {
		return core.ExitCodeError
	}
	return core.ExitCodeSuccess
}
