// Command deliver performs a single delivery run and exits. It is meant for
// schedulers that start one process per run.
package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/kursadbilgin/timecapsule/internal/app"
	"github.com/kursadbilgin/timecapsule/internal/config"
	"github.com/kursadbilgin/timecapsule/internal/observability"
	"go.uber.org/zap"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		log.Print("failed to load config: ", err)
		return 1
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Print("failed to initialize logger: ", err)
		return 1
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observability.InitTracer(ctx, "timecapsule-deliver", cfg.OTLPEndpoint, logger)
	if err != nil {
		logger.Error("tracer initialization failed", zap.Error(err))
		return 1
	}
	defer shutdownTracer()

	application, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("application initialization failed", zap.Error(err))
		return 1
	}
	defer application.Close() //nolint:errcheck

	result, runErr := application.Orchestrator.Run(ctx)

	out := map[string]any{
		"processed":    result.Processed,
		"delivered":    result.Delivered,
		"failed":       result.Failed,
		"stoppedEarly": result.StoppedEarly,
	}
	if result.Skipped {
		out = map[string]any{"skipped": true, "reason": result.Reason}
	}
	if runErr != nil {
		out = map[string]any{"error": runErr.Error()}
	}
	if err := json.NewEncoder(os.Stdout).Encode(out); err != nil {
		logger.Error("failed to write run summary", zap.Error(err))
	}

	if runErr != nil {
		logger.Error("delivery run failed", zap.Error(runErr))
		return 1
	}
	return 0
}
