package mailer

import (
	"context"
	"errors"
	"testing"
)

type fakeTransport struct {
	name   string
	sendFn func(ctx context.Context, email Email) (*SendResult, error)
}

func (f *fakeTransport) Name() string { return f.name }

func (f *fakeTransport) Send(ctx context.Context, email Email) (*SendResult, error) {
	if f.sendFn != nil {
		return f.sendFn(ctx, email)
	}
	return &SendResult{ProviderMessageID: "ok"}, nil
}

type fakeLimiter struct {
	waitFn func(ctx context.Context, key string) error
	keys   []string
}

func (f *fakeLimiter) Allow(context.Context, string) (bool, error) { return true, nil }

func (f *fakeLimiter) Wait(ctx context.Context, key string) error {
	f.keys = append(f.keys, key)
	if f.waitFn != nil {
		return f.waitFn(ctx, key)
	}
	return nil
}

func TestRateLimitedTransportWaitsPerProvider(t *testing.T) {
	t.Parallel()

	limiter := &fakeLimiter{}
	transport := NewRateLimitedTransport(&fakeTransport{name: ProviderResend}, limiter)

	result, err := transport.Send(context.Background(), Email{From: "a@example.com", To: "b@example.com"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if result.ProviderMessageID != "ok" {
		t.Fatalf("ProviderMessageID = %q, want ok", result.ProviderMessageID)
	}
	if len(limiter.keys) != 1 || limiter.keys[0] != ProviderResend {
		t.Fatalf("limiter keys = %v, want [resend]", limiter.keys)
	}
	if transport.Name() != ProviderResend {
		t.Fatalf("Name() = %q, want resend", transport.Name())
	}
}

func TestRateLimitedTransportWaitFailureSkipsSend(t *testing.T) {
	t.Parallel()

	sent := false
	limiter := &fakeLimiter{waitFn: func(context.Context, string) error { return context.DeadlineExceeded }}
	transport := NewRateLimitedTransport(&fakeTransport{
		name: ProviderSendGrid,
		sendFn: func(context.Context, Email) (*SendResult, error) {
			sent = true
			return &SendResult{}, nil
		},
	}, limiter)

	_, err := transport.Send(context.Background(), Email{})
	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("Send() error = %v, want *TransportError", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Send() error = %v, want wrapped deadline", err)
	}
	if sent {
		t.Fatal("transport must not send when the limiter wait fails")
	}
}

func TestIsTransient(t *testing.T) {
	t.Parallel()

	if IsTransient(nil) {
		t.Fatal("nil error is not transient")
	}
	if !IsTransient(context.DeadlineExceeded) {
		t.Fatal("deadline exceeded should be transient")
	}
	if IsTransient(context.Canceled) {
		t.Fatal("cancellation should not be transient")
	}
	if IsTransient(errors.New("boom")) {
		t.Fatal("plain error should not be transient")
	}
}

func TestTransportErrorMessage(t *testing.T) {
	t.Parallel()

	err := &TransportError{Provider: "resend", StatusCode: 429, Message: "slow down"}
	if got, want := err.Error(), "resend transport error: status=429: slow down"; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}

	var nilErr *TransportError
	if nilErr.Error() != "<nil>" {
		t.Fatalf("nil Error() = %q", nilErr.Error())
	}
}
