package payment

import (
	"context"
	"errors"
)

const (
	EventCheckoutCompleted          = "checkout.session.completed"
	EventCheckoutAsyncSucceeded     = "checkout.session.async_payment_succeeded"
	EventCheckoutExpired            = "checkout.session.expired"
	EventCheckoutAsyncPaymentFailed = "checkout.session.async_payment_failed"

	OwnerMetadataKey = "owner_id"
)

// ErrSignatureVerification is returned for any webhook whose signature does
// not check out. Callers must reject the request before touching state.
var ErrSignatureVerification = errors.New("payment webhook signature verification failed")

// Event is a verified provider event reduced to what the confirmation flow
// needs.
type Event struct {
	ID      string
	Type    string
	Session CheckoutSession
}

type CheckoutSession struct {
	ID            string
	OwnerID       string
	AmountTotal   int64
	Currency      string
	PaymentStatus string
	URL           string
}

// Paid reports whether the provider considers the session settled.
func (s CheckoutSession) Paid() bool {
	return s.PaymentStatus == "" || s.PaymentStatus == "paid" || s.PaymentStatus == "no_payment_required"
}

type Verifier interface {
	Verify(payload []byte, signatureHeader string) (*Event, error)
}

type CheckoutRequest struct {
	OwnerID string
	Email   string
}

type CheckoutCreator interface {
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
}
