package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kursadbilgin/timecapsule/internal/app"
	"github.com/kursadbilgin/timecapsule/internal/config"
	"github.com/kursadbilgin/timecapsule/internal/observability"
	"github.com/kursadbilgin/timecapsule/internal/service"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config: ", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger: ", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observability.InitTracer(ctx, "timecapsule-api", cfg.OTLPEndpoint, logger)
	if err != nil {
		logger.Fatal("tracer initialization failed", zap.Error(err))
	}
	defer shutdownTracer()

	application, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("application initialization failed", zap.Error(err))
	}
	defer application.Close() //nolint:errcheck

	server, err := application.HTTP()
	if err != nil {
		logger.Fatal("http initialization failed", zap.Error(err))
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("timecapsule api started", zap.Int("port", cfg.APIPort))
		return server.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down http server")
		return server.ShutdownWithTimeout(shutdownTimeout)
	})

	if interval := cfg.SchedulerInterval(); interval > 0 {
		ticker := service.NewTicker(application.Orchestrator, interval, logger)
		g.Go(func() error {
			return ticker.Start(gctx)
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("api stopped with error", zap.Error(err))
	}
}
