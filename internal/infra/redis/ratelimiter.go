package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/timecapsule/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	providerRatePrefix = "timecapsule:provider-rate:"
	// A window key outlives its second so late INCRs from skewed clocks
	// still land on a counter that expires.
	windowKeyTTL = 2 * time.Second
)

var _ ratelimit.RateLimiter = (*ProviderLimiter)(nil)

// ProviderLimiter caps sends per email provider across every process sharing
// the redis instance. Windows are wall-clock seconds, one counter per provider.
type ProviderLimiter struct {
	client      *goredis.Client
	limitPerSec int64
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewProviderLimiter(client *goredis.Client, limitPerSec int) (*ProviderLimiter, error) {
	return newProviderLimiter(client, limitPerSec, time.Now, sleepWithContext)
}

func newProviderLimiter(
	client *goredis.Client,
	limitPerSec int,
	nowFn func() time.Time,
	sleepFn func(ctx context.Context, d time.Duration) error,
) (*ProviderLimiter, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if limitPerSec <= 0 {
		return nil, fmt.Errorf("provider rate limit must be positive, got %d", limitPerSec)
	}
	return &ProviderLimiter{
		client:      client,
		limitPerSec: int64(limitPerSec),
		now:         nowFn,
		sleep:       sleepFn,
	}, nil
}

func windowKey(provider string, at time.Time) string {
	return fmt.Sprintf("%s%s:%d", providerRatePrefix, provider, at.UTC().Unix())
}

// Allow claims one send in the provider's current window.
func (l *ProviderLimiter) Allow(ctx context.Context, provider string) (bool, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return false, errors.New("provider name is required")
	}

	key := windowKey(provider, l.now())
	var count *goredis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		count = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, windowKeyTTL)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to count %s sends: %w", provider, err)
	}
	return count.Val() <= l.limitPerSec, nil
}

// Wait blocks until the provider has room, sleeping to the start of the next
// window each time the current one is full.
func (l *ProviderLimiter) Wait(ctx context.Context, provider string) error {
	for {
		allowed, err := l.Allow(ctx, provider)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		now := l.now()
		if err := l.sleep(ctx, now.Truncate(time.Second).Add(time.Second).Sub(now)); err != nil {
			return err
		}
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
