package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/timecapsule/internal/observability"
	"github.com/kursadbilgin/timecapsule/internal/repository"
	"go.uber.org/zap"
)

const defaultAttemptRetention = 90 * 24 * time.Hour

type SweepResult struct {
	Deleted int64     `json:"deleted"`
	Cutoff  time.Time `json:"cutoff"`
}

// RetentionSweeper deletes old delivery attempts regardless of message
// status. Delivered messages keep their delivered status, so they are never
// selected again once their ledger rows are gone.
type RetentionSweeper struct {
	attempts  repository.AttemptRepository
	retention time.Duration
	logger    *zap.Logger
	metrics   *observability.Metrics
	now       func() time.Time
}

func NewRetentionSweeper(attempts repository.AttemptRepository, retention time.Duration, logger *zap.Logger) (*RetentionSweeper, error) {
	if attempts == nil {
		return nil, fmt.Errorf("attempt repository is required")
	}
	if retention <= 0 {
		retention = defaultAttemptRetention
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RetentionSweeper{attempts: attempts, retention: retention, logger: logger, now: time.Now}, nil
}

func (s *RetentionSweeper) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

func (s *RetentionSweeper) Sweep(ctx context.Context) (SweepResult, error) {
	cutoff := s.now().UTC().Add(-s.retention)

	deleted, err := s.attempts.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return SweepResult{}, fmt.Errorf("failed to delete attempts older than %s: %w", cutoff.Format(time.RFC3339), err)
	}

	s.metrics.AddAttemptsPurged(deleted)
	observability.WithContextLogger(s.logger, ctx).Info("delivery attempts purged",
		zap.Int64("deleted", deleted),
		zap.Time("cutoff", cutoff),
	)
	return SweepResult{Deleted: deleted, Cutoff: cutoff}, nil
}
