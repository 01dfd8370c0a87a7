package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/timecapsule/internal/domain"
	"github.com/kursadbilgin/timecapsule/internal/observability"
	"github.com/kursadbilgin/timecapsule/internal/repository"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

const (
	ReasonConcurrentExecution = "concurrent execution"

	defaultBatchSize    = 50
	defaultRunDeadline  = 45 * time.Second
	defaultSendInterval = 500 * time.Millisecond
	lockReleaseTimeout  = 5 * time.Second

	// DefaultMessageTimeout bounds one message's ledger writes and send.
	DefaultMessageTimeout = 30 * time.Second
)

// BatchMutex grants at most one delivery run at a time across processes.
// Acquire returns domain.ErrAlreadyLocked when another run holds it; Release
// of a missing lock is not an error.
type BatchMutex interface {
	Acquire(ctx context.Context) (*domain.LockHandle, error)
	Release(ctx context.Context, handle *domain.LockHandle) error
}

type Deliverer interface {
	Deliver(ctx context.Context, msg domain.Message) Outcome
}

type OrchestratorConfig struct {
	BatchSize    int
	Deadline     time.Duration
	SendInterval time.Duration
	// RetryFailed also selects failed messages whose last attempt number is
	// below MaxAttempts.
	RetryFailed bool
	MaxAttempts int
	// MessageTimeout bounds a single delivery. Run cancellation does not
	// reach a delivery already in progress.
	MessageTimeout time.Duration
}

// RunResult is the summary of one delivery run. Skipped runs carry only
// Skipped and Reason.
type RunResult struct {
	Processed    int    `json:"processed"`
	Delivered    int    `json:"delivered"`
	Failed       int    `json:"failed"`
	StoppedEarly bool   `json:"stoppedEarly"`
	Skipped      bool   `json:"skipped,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// Orchestrator runs one batch: lock, select, deliver sequentially, unlock.
type Orchestrator struct {
	mutex     BatchMutex
	messages  repository.MessageRepository
	deliverer Deliverer
	cfg       OrchestratorConfig
	logger    *zap.Logger
	metrics   *observability.Metrics
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
}

func NewOrchestrator(
	mutex BatchMutex,
	messages repository.MessageRepository,
	deliverer Deliverer,
	cfg OrchestratorConfig,
	logger *zap.Logger,
) (*Orchestrator, error) {
	if mutex == nil {
		return nil, fmt.Errorf("batch mutex is required")
	}
	if messages == nil || deliverer == nil {
		return nil, fmt.Errorf("message repository and deliverer are required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = defaultRunDeadline
	}
	if cfg.SendInterval < 0 {
		cfg.SendInterval = defaultSendInterval
	}
	if cfg.MessageTimeout <= 0 {
		cfg.MessageTimeout = DefaultMessageTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Orchestrator{
		mutex:     mutex,
		messages:  messages,
		deliverer: deliverer,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
		sleep:     sleepContext,
	}, nil
}

func (o *Orchestrator) SetMetrics(metrics *observability.Metrics) {
	if o == nil {
		return
	}
	o.metrics = metrics
}

// Run executes one delivery batch. Only run-level failures are returned;
// per-message failures are counted in the result. A lock that cannot be
// released is logged as critical and does not fail the run.
func (o *Orchestrator) Run(ctx context.Context) (result RunResult, err error) {
	runStart := o.now()
	ctx, span := observability.Tracer().Start(ctx, "delivery.run")
	defer span.End()

	logger := observability.WithContextLogger(o.logger, ctx)

	handle, err := o.mutex.Acquire(ctx)
	if errors.Is(err, domain.ErrAlreadyLocked) {
		logger.Info("delivery run skipped, batch lock held by another run")
		o.metrics.ObserveDeliveryRun("skipped", o.now().Sub(runStart))
		span.SetAttributes(attribute.Bool("delivery.skipped", true))
		return RunResult{Skipped: true, Reason: ReasonConcurrentExecution}, nil
	}
	if err != nil {
		o.metrics.ObserveDeliveryRun("lock_failed", o.now().Sub(runStart))
		span.SetStatus(codes.Error, err.Error())
		return RunResult{}, fmt.Errorf("acquire batch lock: %w", err)
	}
	logger = logger.With(zap.String("lockToken", handle.Token))

	defer func() {
		if r := recover(); r != nil {
			logger.Error("delivery run panicked", zap.Any("panic", r))
			err = fmt.Errorf("delivery run panicked: %v", r)
		}

		_ = o.release(ctx, logger, handle)

		outcome := "completed"
		switch {
		case err != nil:
			outcome = errorReason(err)
			span.SetStatus(codes.Error, err.Error())
		case result.StoppedEarly:
			outcome = "stopped_early"
		}
		o.metrics.ObserveDeliveryRun(outcome, o.now().Sub(runStart))
		span.SetAttributes(
			attribute.Int("delivery.processed", result.Processed),
			attribute.Int("delivery.delivered", result.Delivered),
			attribute.Int("delivery.failed", result.Failed),
			attribute.Bool("delivery.stopped_early", result.StoppedEarly),
		)
	}()

	due, err := o.messages.SelectDue(ctx, repository.DueParams{
		AsOf:          o.now().UTC(),
		Limit:         o.cfg.BatchSize,
		IncludeFailed: o.cfg.RetryFailed,
		MaxAttempts:   o.cfg.MaxAttempts,
	})
	if err != nil {
		selErr := &SelectionError{Err: err}
		logger.Error("delivery run aborted", zap.Error(selErr))
		return RunResult{}, selErr
	}
	if len(due) == 0 {
		logger.Info("no messages due")
		return RunResult{}, nil
	}

	result = o.process(ctx, logger, due)
	logger.Info("delivery run finished",
		zap.Int("selected", len(due)),
		zap.Int("processed", result.Processed),
		zap.Int("delivered", result.Delivered),
		zap.Int("failed", result.Failed),
		zap.Bool("stoppedEarly", result.StoppedEarly),
	)
	return result, nil
}

func (o *Orchestrator) process(ctx context.Context, logger *zap.Logger, due []domain.Message) RunResult {
	var result RunResult
	deadline := o.now().Add(o.cfg.Deadline)

	for i := range due {
		if !o.now().Before(deadline) {
			logger.Warn("run deadline reached, leaving remaining messages for the next run",
				zap.Int("remaining", len(due)-i),
			)
			result.StoppedEarly = true
			break
		}
		if ctx.Err() != nil {
			logger.Warn("run cancelled, leaving remaining messages for the next run",
				zap.Int("remaining", len(due)-i),
				zap.Error(ctx.Err()),
			)
			result.StoppedEarly = true
			break
		}

		outcome := o.deliver(ctx, due[i])
		result.Processed++
		switch outcome.Kind {
		case OutcomeDelivered:
			result.Delivered++
		case OutcomeFailed:
			result.Failed++
		}

		if outcome.Attempted && i < len(due)-1 && o.cfg.SendInterval > 0 {
			if err := o.sleep(ctx, o.cfg.SendInterval); err != nil {
				// The loop head reports the cancellation.
				continue
			}
		}
	}

	return result
}

// deliver lets an in-flight message finish after the run is cancelled; the
// loop head is the only place cancellation stops the run.
func (o *Orchestrator) deliver(ctx context.Context, msg domain.Message) Outcome {
	msgCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.MessageTimeout)
	defer cancel()
	return o.deliverer.Deliver(msgCtx, msg)
}

// release retries once, then reports the lock as stuck. It ignores ctx
// cancellation so a cancelled run still frees the lock.
func (o *Orchestrator) release(ctx context.Context, logger *zap.Logger, handle *domain.LockHandle) error {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lockReleaseTimeout)
	defer cancel()

	err := o.mutex.Release(releaseCtx, handle)
	if err == nil {
		return nil
	}
	logger.Warn("batch lock release failed, retrying", zap.Error(err))

	if err = o.mutex.Release(releaseCtx, handle); err == nil {
		return nil
	}

	releaseErr := &LockReleaseError{Token: handle.Token, Err: err}
	observability.LogCritical(logger, "batch lock stuck, delete the lock row before the next run",
		zap.String("lockHolder", handle.Holder),
		zap.Time("lockAcquiredAt", handle.AcquiredAt),
		zap.Error(releaseErr),
	)
	o.metrics.IncLockReleaseFailure()
	return releaseErr
}

func errorReason(err error) string {
	var selErr *SelectionError
	if errors.As(err, &selErr) {
		return "selection_failed"
	}
	return "run_failed"
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
