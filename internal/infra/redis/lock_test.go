package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kursadbilgin/timecapsule/internal/domain"
)

func TestBatchLockConcurrentAcquire(t *testing.T) {
	t.Parallel()

	rdb, _ := newTestRedis(t)
	lock, err := NewBatchLock(rdb, time.Minute)
	if err != nil {
		t.Fatalf("NewBatchLock() error = %v", err)
	}

	const contenders = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		handles []*domain.LockHandle
		locked  int
	)
	start := make(chan struct{})
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			handle, err := lock.Acquire(context.Background())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				handles = append(handles, handle)
			case errors.Is(err, domain.ErrAlreadyLocked):
				locked++
			default:
				t.Errorf("Acquire() unexpected error = %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if len(handles) != 1 {
		t.Fatalf("acquired=%d, want exactly 1", len(handles))
	}
	if locked != contenders-1 {
		t.Fatalf("already locked=%d, want %d", locked, contenders-1)
	}
}

func TestBatchLockReleaseAllowsReacquire(t *testing.T) {
	t.Parallel()

	rdb, _ := newTestRedis(t)
	lock, err := NewBatchLock(rdb, time.Minute)
	if err != nil {
		t.Fatalf("NewBatchLock() error = %v", err)
	}

	handle, err := lock.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if _, err := lock.Acquire(context.Background()); !errors.Is(err, domain.ErrAlreadyLocked) {
		t.Fatalf("second Acquire() error = %v, want ErrAlreadyLocked", err)
	}

	if err := lock.Release(context.Background(), handle); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if err := lock.Release(context.Background(), handle); err != nil {
		t.Fatalf("second Release() should be a no-op, got %v", err)
	}

	if _, err := lock.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() after release error = %v", err)
	}
}

func TestBatchLockReleaseIgnoresForeignToken(t *testing.T) {
	t.Parallel()

	rdb, mr := newTestRedis(t)
	lock, err := NewBatchLock(rdb, time.Minute)
	if err != nil {
		t.Fatalf("NewBatchLock() error = %v", err)
	}

	if _, err := lock.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if err := lock.Release(context.Background(), &domain.LockHandle{Token: "someone-else"}); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if !mr.Exists(batchLockKey) {
		t.Fatal("lock held by another token must survive a foreign release")
	}
}

func TestBatchLockExpiresAfterTTL(t *testing.T) {
	t.Parallel()

	rdb, mr := newTestRedis(t)
	lock, err := NewBatchLock(rdb, 30*time.Second)
	if err != nil {
		t.Fatalf("NewBatchLock() error = %v", err)
	}

	if _, err := lock.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	mr.FastForward(31 * time.Second)

	if _, err := lock.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() after ttl error = %v", err)
	}
}

func TestBatchLockReleaseNilHandle(t *testing.T) {
	t.Parallel()

	rdb, _ := newTestRedis(t)
	lock, err := NewBatchLock(rdb, 0)
	if err != nil {
		t.Fatalf("NewBatchLock() error = %v", err)
	}
	if lock.ttl != defaultBatchLockTTL {
		t.Fatalf("ttl = %s, want %s", lock.ttl, defaultBatchLockTTL)
	}
	if err := lock.Release(context.Background(), nil); err != nil {
		t.Fatalf("Release(nil) error = %v", err)
	}
}
