package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const defaultTickerInterval = time.Hour

// Runner is one delivery run.
type Runner interface {
	Run(ctx context.Context) (RunResult, error)
}

// Ticker invokes a runner on a fixed interval inside the API process. It sits
// next to the external invoker; the batch lock keeps overlapping runs out.
type Ticker struct {
	runner   Runner
	interval time.Duration
	logger   *zap.Logger
}

func NewTicker(runner Runner, interval time.Duration, logger *zap.Logger) *Ticker {
	if interval <= 0 {
		interval = defaultTickerInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ticker{runner: runner, interval: interval, logger: logger}
}

func (t *Ticker) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	t.logger.Info("delivery ticker started", zap.Duration("interval", t.interval))
	t.runOnce(ctx)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("delivery ticker stopped")
			return nil
		case <-ticker.C:
			t.runOnce(ctx)
		}
	}
}

func (t *Ticker) runOnce(ctx context.Context) {
	result, err := t.runner.Run(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		t.logger.Error("scheduled delivery run failed", zap.Error(err))
		return
	}
	if result.Skipped {
		t.logger.Debug("scheduled delivery run skipped", zap.String("reason", result.Reason))
	}
}
