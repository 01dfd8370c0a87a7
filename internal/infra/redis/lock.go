package redis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/timecapsule/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

const (
	batchLockKey        = "timecapsule:batch-lock"
	defaultBatchLockTTL = 5 * time.Minute
)

// releaseScript deletes the lock only while it still holds the caller's token.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// BatchLock is a lease-based batch mutex. SET NX makes acquisition atomic and
// the TTL bounds how long a crashed holder can block later runs.
type BatchLock struct {
	client *goredis.Client
	ttl    time.Duration
	holder string
	now    func() time.Time
}

func NewBatchLock(client *goredis.Client, ttl time.Duration) (*BatchLock, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if ttl <= 0 {
		ttl = defaultBatchLockTTL
	}
	holder, err := os.Hostname()
	if err != nil || holder == "" {
		holder = "unknown"
	}

	return &BatchLock{
		client: client,
		ttl:    ttl,
		holder: fmt.Sprintf("%s/%d", holder, os.Getpid()),
		now:    time.Now,
	}, nil
}

func (l *BatchLock) Acquire(ctx context.Context) (*domain.LockHandle, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, batchLockKey, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire batch lock: %w", err)
	}
	if !ok {
		return nil, domain.ErrAlreadyLocked
	}

	return &domain.LockHandle{Token: token, Holder: l.holder, AcquiredAt: l.now().UTC()}, nil
}

func (l *BatchLock) Release(ctx context.Context, handle *domain.LockHandle) error {
	if handle == nil {
		return nil
	}

	err := releaseScript.Run(ctx, l.client, []string{batchLockKey}, handle.Token).Err()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return fmt.Errorf("failed to release batch lock: %w", err)
	}
	return nil
}
