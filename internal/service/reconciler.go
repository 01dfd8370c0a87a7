package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/timecapsule/internal/observability"
	"github.com/kursadbilgin/timecapsule/internal/repository"
	"go.uber.org/zap"
)

const defaultReconcileLimit = 200

type ReconcileResult struct {
	Repaired int `json:"repaired"`
}

// Reconciler rewrites message statuses that lag behind a delivered ledger
// row. It never sends anything.
type Reconciler struct {
	messages repository.MessageRepository
	limit    int
	logger   *zap.Logger
	metrics  *observability.Metrics
	now      func() time.Time
}

func NewReconciler(messages repository.MessageRepository, limit int, logger *zap.Logger) (*Reconciler, error) {
	if messages == nil {
		return nil, fmt.Errorf("message repository is required")
	}
	if limit <= 0 {
		limit = defaultReconcileLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Reconciler{messages: messages, limit: limit, logger: logger, now: time.Now}, nil
}

func (r *Reconciler) SetMetrics(metrics *observability.Metrics) {
	if r == nil {
		return
	}
	r.metrics = metrics
}

func (r *Reconciler) Reconcile(ctx context.Context) (ReconcileResult, error) {
	logger := observability.WithContextLogger(r.logger, ctx)

	stale, err := r.messages.ListStaleProjections(ctx, r.limit)
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("failed to list stale message statuses: %w", err)
	}

	var result ReconcileResult
	for i := range stale {
		msg := stale[i]
		at := r.now().UTC()
		if msg.DeliveredAt != nil {
			at = *msg.DeliveredAt
		}

		if err := r.messages.MarkDelivered(ctx, msg.ID, at); err != nil {
			logger.Warn("failed to repair message status",
				zap.String("messageId", msg.ID),
				zap.Error(&LedgerWriteError{MessageID: msg.ID, Op: "reconcile", Err: err}),
			)
			continue
		}

		result.Repaired++
		r.metrics.IncProjectionRepair("audit")
		logger.Info("message status repaired from ledger",
			zap.String("messageId", msg.ID),
			zap.String("previousStatus", msg.Status.String()),
		)
	}

	if len(stale) > 0 {
		logger.Info("reconciliation finished", zap.Int("stale", len(stale)), zap.Int("repaired", result.Repaired))
	}
	return result, nil
}
