package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

var _ Verifier = (*StripeVerifier)(nil)

// StripeVerifier checks the Stripe-Signature header against the endpoint
// secret and decodes checkout session events.
type StripeVerifier struct {
	secret    string
	tolerance time.Duration
}

func NewStripeVerifier(secret string) (*StripeVerifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("stripe webhook secret is required")
	}
	return &StripeVerifier{secret: secret, tolerance: webhook.DefaultTolerance}, nil
}

func (v *StripeVerifier) Verify(payload []byte, signatureHeader string) (*Event, error) {
	if strings.TrimSpace(signatureHeader) == "" {
		return nil, fmt.Errorf("%w: missing signature header", ErrSignatureVerification)
	}

	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, v.secret, webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignatureVerification, err)
	}

	out := &Event{ID: event.ID, Type: string(event.Type)}
	if !strings.HasPrefix(out.Type, "checkout.session.") || event.Data == nil {
		return out, nil
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return nil, fmt.Errorf("failed to decode checkout session: %w", err)
	}
	out.Session = fromStripeSession(&session)
	return out, nil
}

var _ CheckoutCreator = (*StripeCheckout)(nil)

type StripeCheckoutOptions struct {
	SecretKey  string
	PriceID    string
	SuccessURL string
	CancelURL  string
	// Backends overrides the API endpoint, mainly for tests.
	Backends *stripe.Backends
}

type StripeCheckout struct {
	api        *client.API
	priceID    string
	successURL string
	cancelURL  string
}

func NewStripeCheckout(opts StripeCheckoutOptions) (*StripeCheckout, error) {
	if strings.TrimSpace(opts.SecretKey) == "" {
		return nil, fmt.Errorf("stripe secret key is required")
	}
	if strings.TrimSpace(opts.PriceID) == "" {
		return nil, fmt.Errorf("stripe price id is required")
	}

	return &StripeCheckout{
		api:        client.New(opts.SecretKey, opts.Backends),
		priceID:    opts.PriceID,
		successURL: opts.SuccessURL,
		cancelURL:  opts.CancelURL,
	}, nil
}

// CreateCheckout opens a one-off payment session tagged with the owner id so
// the webhook can find the owner again.
func (c *StripeCheckout) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(req.OwnerID),
		SuccessURL:        stripe.String(c.successURL),
		CancelURL:         stripe.String(c.cancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(c.priceID), Quantity: stripe.Int64(1)},
		},
	}
	if strings.TrimSpace(req.Email) != "" {
		params.CustomerEmail = stripe.String(req.Email)
	}
	params.AddMetadata(OwnerMetadataKey, req.OwnerID)
	params.Context = ctx

	session, err := c.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}

	out := fromStripeSession(session)
	if out.OwnerID == "" {
		out.OwnerID = req.OwnerID
	}
	return &out, nil
}

func fromStripeSession(s *stripe.CheckoutSession) CheckoutSession {
	ownerID := strings.TrimSpace(s.ClientReferenceID)
	if ownerID == "" && s.Metadata != nil {
		ownerID = strings.TrimSpace(s.Metadata[OwnerMetadataKey])
	}

	return CheckoutSession{
		ID:            s.ID,
		OwnerID:       ownerID,
		AmountTotal:   s.AmountTotal,
		Currency:      string(s.Currency),
		PaymentStatus: string(s.PaymentStatus),
		URL:           s.URL,
	}
}
