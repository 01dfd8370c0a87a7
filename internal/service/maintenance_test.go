package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kursadbilgin/timecapsule/internal/domain"
	"go.uber.org/zap"
)

func TestReconcileRepairsStaleStatuses(t *testing.T) {
	t.Parallel()

	deliveredAt := time.Date(2030, 6, 1, 8, 0, 0, 0, time.UTC)
	var marked []time.Time
	messages := &fakeMessageRepo{
		listStaleProjectionsFn: func(_ context.Context, limit int) ([]domain.Message, error) {
			if limit != 25 {
				t.Fatalf("limit = %d, want 25", limit)
			}
			withTime := dueMessage("m2")
			withTime.Status = domain.MessageStatusFailed
			withTime.DeliveredAt = &deliveredAt
			return []domain.Message{dueMessage("m1"), withTime, dueMessage("m3")}, nil
		},
		markDeliveredFn: func(_ context.Context, id string, at time.Time) error {
			if id == "m3" {
				return errors.New("write failed")
			}
			marked = append(marked, at)
			return nil
		},
	}

	reconciler, err := NewReconciler(messages, 25, zap.NewNop())
	if err != nil {
		t.Fatalf("NewReconciler() error = %v", err)
	}
	now := time.Date(2030, 6, 2, 0, 0, 0, 0, time.UTC)
	reconciler.now = func() time.Time { return now }

	result, err := reconciler.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if result.Repaired != 2 {
		t.Fatalf("repaired = %d, want 2", result.Repaired)
	}
	if !marked[0].Equal(now) || !marked[1].Equal(deliveredAt) {
		t.Fatalf("delivered timestamps = %v", marked)
	}
}

func TestReconcileListFailure(t *testing.T) {
	t.Parallel()

	messages := &fakeMessageRepo{
		listStaleProjectionsFn: func(context.Context, int) ([]domain.Message, error) {
			return nil, errors.New("db down")
		},
	}
	reconciler, err := NewReconciler(messages, 0, nil)
	if err != nil {
		t.Fatalf("NewReconciler() error = %v", err)
	}
	if reconciler.limit != defaultReconcileLimit {
		t.Fatalf("limit = %d, want default", reconciler.limit)
	}
	if _, err := reconciler.Reconcile(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestSweepDeletesAttemptsBeforeCutoff(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC)
	var gotCutoff time.Time
	ledger := newMemLedger()
	ledger.deleteOlderFn = func(_ context.Context, cutoff time.Time) (int64, error) {
		gotCutoff = cutoff
		return 12, nil
	}

	sweeper, err := NewRetentionSweeper(ledger, 30*24*time.Hour, zap.NewNop())
	if err != nil {
		t.Fatalf("NewRetentionSweeper() error = %v", err)
	}
	sweeper.now = func() time.Time { return now }

	result, err := sweeper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	wantCutoff := time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC)
	if !gotCutoff.Equal(wantCutoff) || !result.Cutoff.Equal(wantCutoff) {
		t.Fatalf("cutoff = %v / %v, want %v", gotCutoff, result.Cutoff, wantCutoff)
	}
	if result.Deleted != 12 {
		t.Fatalf("deleted = %d, want 12", result.Deleted)
	}
}

func TestSweepDefaultsRetention(t *testing.T) {
	t.Parallel()

	sweeper, err := NewRetentionSweeper(newMemLedger(), 0, nil)
	if err != nil {
		t.Fatalf("NewRetentionSweeper() error = %v", err)
	}
	if sweeper.retention != defaultAttemptRetention {
		t.Fatalf("retention = %s, want %s", sweeper.retention, defaultAttemptRetention)
	}
}

type runnerFunc func(ctx context.Context) (RunResult, error)

func (f runnerFunc) Run(ctx context.Context) (RunResult, error) { return f(ctx) }

func TestTickerRunsImmediatelyAndStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	var runs atomic.Int32
	runner := runnerFunc(func(context.Context) (RunResult, error) {
		if runs.Add(1) == 2 {
			cancel()
		}
		return RunResult{Skipped: true, Reason: ReasonConcurrentExecution}, nil
	})

	ticker := NewTicker(runner, 10*time.Millisecond, zap.NewNop())
	done := make(chan error, 1)
	go func() { done <- ticker.Start(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Start() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ticker did not stop after cancellation")
	}
	if runs.Load() < 2 {
		t.Fatalf("runs = %d, want at least 2", runs.Load())
	}
}

func TestNewTickerDefaults(t *testing.T) {
	t.Parallel()

	ticker := NewTicker(runnerFunc(func(context.Context) (RunResult, error) { return RunResult{}, nil }), 0, nil)
	if ticker.interval != defaultTickerInterval {
		t.Fatalf("interval = %s, want %s", ticker.interval, defaultTickerInterval)
	}
}
