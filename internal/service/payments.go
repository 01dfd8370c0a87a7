package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/timecapsule/internal/domain"
	"github.com/kursadbilgin/timecapsule/internal/observability"
	"github.com/kursadbilgin/timecapsule/internal/payment"
	"github.com/kursadbilgin/timecapsule/internal/repository"
	"go.uber.org/zap"
)

const (
	WebhookCompleted        = "completed"
	WebhookAlreadyCompleted = "already_completed"
	WebhookAwaitingPayment  = "awaiting_payment"
	WebhookFailed           = "failed"
	WebhookIgnored          = "ignored"
	webhookRejected         = "rejected"
)

// WebhookResult is the outcome reported back to the payment provider.
type WebhookResult struct {
	Status string `json:"status"`
}

// PaymentService confirms payments and upgrades owners. Every webhook is
// idempotent: the payment row is looked up by checkout session without a
// status filter and processing resumes from whatever state it is in.
type PaymentService struct {
	payments  repository.PaymentRepository
	owners    repository.OwnerRepository
	verifier  payment.Verifier
	checkout  payment.CheckoutCreator
	paidQuota int64
	logger    *zap.Logger
	metrics   *observability.Metrics
	now       func() time.Time
	newID     func() string
}

func NewPaymentService(
	payments repository.PaymentRepository,
	owners repository.OwnerRepository,
	verifier payment.Verifier,
	checkout payment.CheckoutCreator,
	paidQuota int64,
	logger *zap.Logger,
) (*PaymentService, error) {
	if payments == nil || owners == nil {
		return nil, fmt.Errorf("payment and owner repositories are required")
	}
	if verifier == nil {
		return nil, fmt.Errorf("webhook verifier is required")
	}
	if paidQuota < 0 {
		return nil, fmt.Errorf("paid storage quota must not be negative")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &PaymentService{
		payments:  payments,
		owners:    owners,
		verifier:  verifier,
		checkout:  checkout,
		paidQuota: paidQuota,
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
	}, nil
}

func (s *PaymentService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// HandleWebhook verifies the signature before touching any state.
func (s *PaymentService) HandleWebhook(ctx context.Context, payload []byte, signature string) (WebhookResult, error) {
	logger := observability.WithContextLogger(s.logger, ctx)

	event, err := s.verifier.Verify(payload, signature)
	if err != nil {
		s.metrics.IncPaymentWebhook(webhookRejected)
		logger.Warn("payment webhook rejected", zap.Error(err))
		return WebhookResult{}, err
	}

	logger = logger.With(
		zap.String("eventId", event.ID),
		zap.String("eventType", event.Type),
		zap.String("checkoutSessionId", event.Session.ID),
	)

	var status string
	switch event.Type {
	case payment.EventCheckoutCompleted, payment.EventCheckoutAsyncSucceeded:
		status, err = s.complete(ctx, logger, event)
	case payment.EventCheckoutExpired, payment.EventCheckoutAsyncPaymentFailed:
		status, err = s.fail(ctx, logger, event)
	default:
		status = WebhookIgnored
	}
	if err != nil {
		s.metrics.IncPaymentWebhook("error")
		return WebhookResult{}, err
	}

	s.metrics.IncPaymentWebhook(status)
	logger.Info("payment webhook processed", zap.String("result", status))
	return WebhookResult{Status: status}, nil
}

func (s *PaymentService) complete(ctx context.Context, logger *zap.Logger, event *payment.Event) (string, error) {
	p, err := s.ensurePayment(ctx, event.Session)
	if err != nil {
		return "", err
	}

	switch p.Status {
	case domain.PaymentStatusCompleted:
		return WebhookAlreadyCompleted, nil
	case domain.PaymentStatusFailed:
		logger.Warn("completion event for a failed payment ignored", zap.String("paymentId", p.ID))
		return WebhookIgnored, nil
	}

	if event.Type == payment.EventCheckoutCompleted && !event.Session.Paid() {
		return WebhookAwaitingPayment, nil
	}

	// Upgrade first: a crash before MarkCompleted leaves the row pending and
	// the retried webhook repeats an idempotent upgrade.
	if err := s.owners.UpgradeToPaid(ctx, p.OwnerID, s.paidQuota); err != nil {
		return "", fmt.Errorf("failed to upgrade owner %s: %w", p.OwnerID, err)
	}

	if err := s.payments.MarkCompleted(ctx, p.ID, s.now().UTC()); err != nil {
		if !errors.Is(err, domain.ErrConflict) {
			return "", fmt.Errorf("failed to mark payment completed: %w", err)
		}
		current, reloadErr := s.payments.GetByCheckoutSession(ctx, event.Session.ID)
		if reloadErr != nil {
			return "", fmt.Errorf("failed to reload payment: %w", reloadErr)
		}
		if current.Status == domain.PaymentStatusCompleted {
			return WebhookAlreadyCompleted, nil
		}
		return "", fmt.Errorf("payment %s moved to %s during completion: %w", p.ID, current.Status, domain.ErrConflict)
	}

	logger.Info("owner upgraded to paid", zap.String("ownerId", p.OwnerID))
	return WebhookCompleted, nil
}

func (s *PaymentService) fail(ctx context.Context, logger *zap.Logger, event *payment.Event) (string, error) {
	p, err := s.ensurePayment(ctx, event.Session)
	if err != nil {
		return "", err
	}
	if p.Status != domain.PaymentStatusPending {
		return WebhookIgnored, nil
	}

	if err := s.payments.MarkFailed(ctx, p.ID); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return WebhookIgnored, nil
		}
		return "", fmt.Errorf("failed to mark payment failed: %w", err)
	}

	logger.Info("payment marked failed", zap.String("paymentId", p.ID))
	return WebhookFailed, nil
}

// ensurePayment returns the payment for the session, creating it as pending
// when it has never been seen. A concurrent creator wins and is reloaded.
func (s *PaymentService) ensurePayment(ctx context.Context, session payment.CheckoutSession) (*domain.Payment, error) {
	if strings.TrimSpace(session.ID) == "" {
		return nil, fmt.Errorf("%w: checkout session id is missing", domain.ErrValidation)
	}

	existing, err := s.payments.GetByCheckoutSession(ctx, session.ID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("failed to load payment: %w", err)
	}

	if strings.TrimSpace(session.OwnerID) == "" {
		return nil, fmt.Errorf("%w: checkout session %s has no owner reference", domain.ErrValidation, session.ID)
	}

	p := &domain.Payment{
		ID:                s.newID(),
		OwnerID:           session.OwnerID,
		CheckoutSessionID: session.ID,
		Status:            domain.PaymentStatusPending,
		AmountTotal:       session.AmountTotal,
		Currency:          session.Currency,
	}
	if err := s.payments.CreatePending(ctx, p); err != nil {
		if !errors.Is(err, domain.ErrConflict) {
			return nil, fmt.Errorf("failed to create payment: %w", err)
		}
		existing, err = s.payments.GetByCheckoutSession(ctx, session.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to reload payment: %w", err)
		}
		return existing, nil
	}
	return p, nil
}

// Checkout opens a payment session for a free owner and records it as
// pending.
func (s *PaymentService) Checkout(ctx context.Context, ownerID string) (*payment.CheckoutSession, error) {
	if s.checkout == nil {
		return nil, fmt.Errorf("%w: payments are not configured", domain.ErrValidation)
	}

	owner, err := s.owners.GetByID(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load owner: %w", err)
	}
	if owner.Tier == domain.TierPaid {
		return nil, fmt.Errorf("%w: owner is already on the paid tier", domain.ErrConflict)
	}

	session, err := s.checkout.CreateCheckout(ctx, payment.CheckoutRequest{OwnerID: owner.ID, Email: owner.Email})
	if err != nil {
		return nil, err
	}
	if session.OwnerID == "" {
		session.OwnerID = owner.ID
	}

	if _, err := s.ensurePayment(ctx, *session); err != nil {
		// The webhook creates the row if this write is lost.
		observability.WithContextLogger(s.logger, ctx).Warn("failed to record pending payment",
			zap.String("checkoutSessionId", session.ID),
			zap.Error(err),
		)
	}

	return session, nil
}
