package mailer

import (
	"context"

	"github.com/kursadbilgin/timecapsule/internal/ratelimit"
)

// RateLimitedTransport waits for a provider slot before every send so that
// processes sharing the provider stay under its per-second ceiling.
type RateLimitedTransport struct {
	next    Transport
	limiter ratelimit.RateLimiter
}

func NewRateLimitedTransport(next Transport, limiter ratelimit.RateLimiter) *RateLimitedTransport {
	return &RateLimitedTransport{next: next, limiter: limiter}
}

func (t *RateLimitedTransport) Name() string { return t.next.Name() }

func (t *RateLimitedTransport) Send(ctx context.Context, email Email) (*SendResult, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx, t.next.Name()); err != nil {
			return nil, &TransportError{
				Provider:  t.next.Name(),
				Message:   "rate limit wait failed",
				Transient: true,
				Cause:     err,
			}
		}
	}
	return t.next.Send(ctx, email)
}
