package ratelimit

import "context"

// RateLimiter enforces a shared per-second ceiling for one key, typically the
// name of an email provider.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Wait(ctx context.Context, key string) error
}
