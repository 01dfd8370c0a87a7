package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/timecapsule/internal/blob"
	"github.com/kursadbilgin/timecapsule/internal/compose"
	"github.com/kursadbilgin/timecapsule/internal/domain"
	"github.com/kursadbilgin/timecapsule/internal/events"
	"github.com/kursadbilgin/timecapsule/internal/mailer"
	"github.com/kursadbilgin/timecapsule/internal/observability"
	"github.com/kursadbilgin/timecapsule/internal/repository"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	defaultAssetURLTTL  = 7 * 24 * time.Hour
	maxErrorDetailRunes = 1000
	publishTimeout      = 5 * time.Second
)

type OutcomeKind string

const (
	OutcomeDelivered OutcomeKind = "delivered"
	OutcomeFailed    OutcomeKind = "failed"
	OutcomeSkipped   OutcomeKind = "skipped"
)

func (k OutcomeKind) String() string { return string(k) }

// Outcome is the result of pushing one message through the pipeline.
// Attempted is true when the transport was called.
type Outcome struct {
	Kind              OutcomeKind
	Reason            string
	AttemptNumber     int
	ProviderMessageID string
	Attempted         bool
}

func delivered(attemptNumber int, providerMessageID string) Outcome {
	return Outcome{Kind: OutcomeDelivered, AttemptNumber: attemptNumber, ProviderMessageID: providerMessageID, Attempted: true}
}

func failed(reason string, attemptNumber int, attempted bool) Outcome {
	return Outcome{Kind: OutcomeFailed, Reason: reason, AttemptNumber: attemptNumber, Attempted: attempted}
}

func skipped(reason string) Outcome {
	return Outcome{Kind: OutcomeSkipped, Reason: reason}
}

type DeliveryPipelineDeps struct {
	Messages  repository.MessageRepository
	Attempts  repository.AttemptRepository
	Transport mailer.Transport
	// Blobs may be nil when video storage is disabled.
	Blobs     blob.Store
	Publisher events.Publisher
	From      string
	AssetTTL  time.Duration
	Logger    *zap.Logger
	Metrics   *observability.Metrics
}

// DeliveryPipeline delivers a single message at most once. The attempt ledger
// is consulted before every send and written before the send happens.
type DeliveryPipeline struct {
	messages  repository.MessageRepository
	attempts  repository.AttemptRepository
	transport mailer.Transport
	blobs     blob.Store
	publisher events.Publisher
	from      string
	assetTTL  time.Duration
	logger    *zap.Logger
	metrics   *observability.Metrics
	now       func() time.Time
}

func NewDeliveryPipeline(deps DeliveryPipelineDeps) (*DeliveryPipeline, error) {
	if deps.Messages == nil || deps.Attempts == nil {
		return nil, fmt.Errorf("message and attempt repositories are required")
	}
	if deps.Transport == nil {
		return nil, fmt.Errorf("email transport is required")
	}
	if deps.From == "" {
		return nil, fmt.Errorf("from address is required")
	}
	if deps.Publisher == nil {
		deps.Publisher = events.NopPublisher{}
	}
	if deps.AssetTTL <= 0 {
		deps.AssetTTL = defaultAssetURLTTL
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	return &DeliveryPipeline{
		messages:  deps.Messages,
		attempts:  deps.Attempts,
		transport: deps.Transport,
		blobs:     deps.Blobs,
		publisher: deps.Publisher,
		from:      deps.From,
		assetTTL:  deps.AssetTTL,
		logger:    deps.Logger,
		metrics:   deps.Metrics,
		now:       time.Now,
	}, nil
}

// Deliver never returns an error; every failure is folded into the outcome
// and the ledger.
func (p *DeliveryPipeline) Deliver(ctx context.Context, msg domain.Message) Outcome {
	ctx, span := observability.Tracer().Start(ctx, "delivery.message",
		trace.WithAttributes(attribute.String("message.id", msg.ID)),
	)
	defer span.End()

	logger := observability.WithContextLogger(p.logger, ctx).With(zap.String("messageId", msg.ID))

	outcome := p.deliver(ctx, logger, msg)
	span.SetAttributes(
		attribute.String("delivery.outcome", outcome.Kind.String()),
		attribute.Int("delivery.attempt", outcome.AttemptNumber),
	)
	if outcome.Kind == OutcomeFailed {
		span.SetStatus(codes.Error, outcome.Reason)
	}
	p.metrics.IncMessageOutcome(outcome.Kind.String())
	return outcome
}

func (p *DeliveryPipeline) deliver(ctx context.Context, logger *zap.Logger, msg domain.Message) Outcome {
	alreadyDelivered, err := p.attempts.IsDelivered(ctx, msg.ID)
	if err != nil {
		// Without the ledger answer a send could duplicate. Leave the message as is.
		logger.Error("delivery ledger read failed", zap.Error(err))
		return failed(fmt.Sprintf("ledger read failed: %v", err), 0, false)
	}
	if alreadyDelivered {
		p.repairProjection(ctx, logger, msg)
		return skipped("already delivered")
	}

	attemptNumber, err := p.attempts.BeginAttempt(ctx, msg.ID)
	if err != nil {
		logger.Error("failed to begin delivery attempt",
			zap.Error(&LedgerWriteError{MessageID: msg.ID, Op: "begin_attempt", Err: err}),
		)
		return failed(fmt.Sprintf("begin attempt failed: %v", err), 0, false)
	}
	logger = logger.With(zap.Int("attemptNumber", attemptNumber))

	composed, err := compose.Compose(msg, p.assetURL(ctx, logger, msg))
	if err != nil {
		p.recordFailure(ctx, logger, msg, attemptNumber, err)
		return failed(err.Error(), attemptNumber, false)
	}

	sendStart := p.now()
	result, err := p.transport.Send(ctx, mailer.Email{
		From:           p.from,
		To:             composed.To,
		Subject:        composed.Subject,
		HTML:           composed.HTML,
		Text:           composed.Text,
		IdempotencyKey: idempotencyKey(msg.ID, attemptNumber),
	})
	p.metrics.ObserveSendDuration(p.transport.Name(), p.now().Sub(sendStart))
	if err != nil {
		p.recordFailure(ctx, logger, msg, attemptNumber, err)
		return failed(err.Error(), attemptNumber, true)
	}

	providerMessageID := ""
	if result != nil {
		providerMessageID = result.ProviderMessageID
	}
	deliveredAt := p.now().UTC()

	if err := p.attempts.CompleteAttempt(ctx, msg.ID, attemptNumber, providerMessageID); err != nil {
		// The email went out but the ledger does not know. A later run would resend.
		observability.LogCritical(logger, "delivered email not recorded in ledger",
			zap.String("providerMessageId", providerMessageID),
			zap.Error(&LedgerWriteError{MessageID: msg.ID, Op: "complete_attempt", Err: err}),
		)
	}

	if err := p.messages.MarkDelivered(ctx, msg.ID, deliveredAt); err != nil {
		logger.Warn("message status not updated after delivery",
			zap.Error(&LedgerWriteError{MessageID: msg.ID, Op: "mark_delivered", Err: err}),
		)
	}

	p.publishDelivered(ctx, logger, events.DeliveryEvent{
		MessageID:         msg.ID,
		OwnerID:           msg.OwnerID,
		AttemptNumber:     attemptNumber,
		ProviderMessageID: providerMessageID,
		DeliveredAt:       deliveredAt,
	})

	logger.Info("message delivered", zap.String("providerMessageId", providerMessageID))
	return delivered(attemptNumber, providerMessageID)
}

// assetURL resolves the signed video link. Failures degrade to no link.
func (p *DeliveryPipeline) assetURL(ctx context.Context, logger *zap.Logger, msg domain.Message) string {
	if !msg.HasVideo() || p.blobs == nil {
		return ""
	}

	url, err := p.blobs.PresignedURL(ctx, *msg.VideoKey, p.assetTTL)
	if err != nil {
		logger.Warn("video link unavailable, delivering without it", zap.String("videoKey", *msg.VideoKey), zap.Error(err))
		return ""
	}
	return url
}

func (p *DeliveryPipeline) recordFailure(ctx context.Context, logger *zap.Logger, msg domain.Message, attemptNumber int, cause error) {
	logger.Warn("message delivery failed",
		zap.Bool("transient", mailer.IsTransient(cause)),
		zap.Error(cause),
	)

	if err := p.attempts.FailAttempt(ctx, msg.ID, attemptNumber, truncateDetail(cause.Error())); err != nil {
		logger.Warn("failed to record failed attempt",
			zap.Error(&LedgerWriteError{MessageID: msg.ID, Op: "fail_attempt", Err: err}),
		)
	}

	if err := p.messages.MarkFailed(ctx, msg.ID); err != nil {
		logger.Warn("message status not updated after failure",
			zap.Error(&LedgerWriteError{MessageID: msg.ID, Op: "mark_failed", Err: err}),
		)
	}
}

// repairProjection rewrites a stale message status from the ledger.
func (p *DeliveryPipeline) repairProjection(ctx context.Context, logger *zap.Logger, msg domain.Message) {
	if msg.Status == domain.MessageStatusDelivered {
		return
	}

	at := p.now().UTC()
	if msg.DeliveredAt != nil {
		at = *msg.DeliveredAt
	}
	if err := p.messages.MarkDelivered(ctx, msg.ID, at); err != nil {
		logger.Warn("read repair of message status failed",
			zap.Error(&LedgerWriteError{MessageID: msg.ID, Op: "read_repair", Err: err}),
		)
		return
	}

	p.metrics.IncProjectionRepair("read_repair")
	logger.Info("message status repaired from ledger", zap.String("previousStatus", msg.Status.String()))
}

func (p *DeliveryPipeline) publishDelivered(ctx context.Context, logger *zap.Logger, event events.DeliveryEvent) {
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := p.publisher.PublishDelivered(pubCtx, event); err != nil {
		logger.Warn("failed to publish delivery event", zap.Error(err))
	}
}

func idempotencyKey(messageID string, attemptNumber int) string {
	return fmt.Sprintf("%s-%d", messageID, attemptNumber)
}

func truncateDetail(detail string) string {
	runes := []rune(detail)
	if len(runes) <= maxErrorDetailRunes {
		return detail
	}
	return string(runes[:maxErrorDetailRunes])
}
