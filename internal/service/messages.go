package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/timecapsule/internal/blob"
	"github.com/kursadbilgin/timecapsule/internal/domain"
	"github.com/kursadbilgin/timecapsule/internal/observability"
	"github.com/kursadbilgin/timecapsule/internal/repository"
	"github.com/kursadbilgin/timecapsule/internal/saga"
	"go.uber.org/zap"
)

const (
	sagaCreateMessage = "create_message"
	sagaDeleteMessage = "delete_message"

	blobCleanupTimeout = 10 * time.Second
)

// VideoUpload is an optional video attached at creation.
type VideoUpload struct {
	Content         io.Reader
	SizeBytes       int64
	ContentType     string
	DurationSeconds *int
}

type CreateMessageInput struct {
	OwnerID        string
	Body           string
	RecipientEmail string
	DeliverOn      time.Time
	Video          *VideoUpload
}

// MessageDetail is a message with its delivery history.
type MessageDetail struct {
	Message  domain.Message
	Attempts []domain.DeliveryAttempt
}

// MessageService owns the message lifecycle outside of delivery. Every write
// that spans the database and the blob store runs as a saga.
type MessageService struct {
	messages repository.MessageRepository
	attempts repository.AttemptRepository
	owners   repository.OwnerRepository
	blobs    blob.Store
	logger   *zap.Logger
	metrics  *observability.Metrics
	now      func() time.Time
	newID    func() string
}

func NewMessageService(
	messages repository.MessageRepository,
	attempts repository.AttemptRepository,
	owners repository.OwnerRepository,
	blobs blob.Store,
	logger *zap.Logger,
) (*MessageService, error) {
	if messages == nil || attempts == nil || owners == nil {
		return nil, fmt.Errorf("message, attempt and owner repositories are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &MessageService{
		messages: messages,
		attempts: attempts,
		owners:   owners,
		blobs:    blobs,
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
	}, nil
}

func (s *MessageService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Create inserts the message, consumes the free-tier allowance for free
// owners, uploads the video and charges its size to the owner's quota. A
// failing step undoes the earlier ones in reverse.
func (s *MessageService) Create(ctx context.Context, in CreateMessageInput) (*domain.Message, error) {
	owner, err := s.owners.GetByID(ctx, strings.TrimSpace(in.OwnerID))
	if err != nil {
		return nil, fmt.Errorf("failed to load owner: %w", err)
	}

	msg := &domain.Message{
		ID:             s.newID(),
		OwnerID:        owner.ID,
		Body:           in.Body,
		RecipientEmail: strings.TrimSpace(in.RecipientEmail),
		DeliverOn:      domain.DateOf(in.DeliverOn),
		Status:         domain.MessageStatusPending,
	}
	if in.Video != nil {
		if err := s.checkVideo(owner, in.Video); err != nil {
			return nil, err
		}
		key := blob.VideoKey(owner.ID, msg.ID)
		msg.VideoKey = &key
		msg.VideoSizeBytes = in.Video.SizeBytes
		msg.VideoDurationSeconds = in.Video.DurationSeconds
	}

	if err := msg.Validate(); err != nil {
		return nil, err
	}
	if !msg.DeliverOn.After(domain.DateOf(s.now())) {
		return nil, fmt.Errorf("%w: delivery date must be after today", domain.ErrValidation)
	}
	if owner.Tier == domain.TierFree && owner.FreeMessageUsed {
		return nil, domain.ErrFreeTierConsumed
	}

	logger := observability.WithContextLogger(s.logger, ctx).With(
		zap.String("ownerId", owner.ID),
		zap.String("messageId", msg.ID),
	)

	tx := saga.New(sagaCreateMessage, logger, s.metrics)
	tx.Add(saga.Step{
		Name: "insert_message",
		Do:   func(ctx context.Context) error { return s.messages.Create(ctx, msg) },
		Undo: func(ctx context.Context) error { return ignoreNotFound(s.messages.Delete(ctx, msg.ID)) },
	})
	if owner.Tier == domain.TierFree {
		tx.Add(saga.Step{
			Name: "consume_free_tier",
			Do:   func(ctx context.Context) error { return s.owners.ConsumeFreeMessage(ctx, owner.ID) },
			Undo: func(ctx context.Context) error { return s.owners.ReleaseFreeMessage(ctx, owner.ID) },
		})
	}
	if in.Video != nil {
		video := in.Video
		tx.Add(saga.Step{
			Name: "upload_video",
			Do: func(ctx context.Context) error {
				return s.blobs.Upload(ctx, *msg.VideoKey, video.Content, video.SizeBytes, video.ContentType)
			},
			Undo: func(ctx context.Context) error { return s.blobs.Delete(ctx, *msg.VideoKey) },
		})
		tx.Add(saga.Step{
			Name: "apply_quota",
			Do:   func(ctx context.Context) error { return s.owners.ApplyStorageDelta(ctx, owner.ID, video.SizeBytes) },
		})
	}

	if err := tx.Run(ctx); err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}

	logger.Info("message created",
		zap.Bool("hasVideo", msg.HasVideo()),
		zap.String("deliverOn", msg.DeliverOn.Format(domain.DateLayout)),
	)
	return msg, nil
}

func (s *MessageService) checkVideo(owner *domain.Owner, video *VideoUpload) error {
	if s.blobs == nil {
		return fmt.Errorf("%w: video uploads are disabled", domain.ErrValidation)
	}
	if video.Content == nil || video.SizeBytes <= 0 {
		return fmt.Errorf("%w: video is empty", domain.ErrValidation)
	}
	if !owner.CanStore(video.SizeBytes) {
		return domain.ErrQuotaExceeded
	}
	return nil
}

func (s *MessageService) List(ctx context.Context, ownerID string, params repository.ListParams) ([]domain.Message, int64, error) {
	messages, total, err := s.messages.ListByOwner(ctx, ownerID, params)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list messages: %w", err)
	}
	return messages, total, nil
}

// Get hides messages of other owners behind ErrNotFound.
func (s *MessageService) Get(ctx context.Context, ownerID string, id string) (*MessageDetail, error) {
	msg, err := s.messages.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	if msg.OwnerID != ownerID {
		return nil, fmt.Errorf("failed to get message: %w", domain.ErrNotFound)
	}

	attempts, err := s.attempts.ListByMessage(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list delivery attempts: %w", err)
	}

	return &MessageDetail{Message: *msg, Attempts: attempts}, nil
}

// Delete removes a pending message and returns its video bytes to the quota.
// The blob itself is removed last and only best effort; an orphaned object
// costs storage but never quota.
func (s *MessageService) Delete(ctx context.Context, ownerID string, id string) error {
	logger := observability.WithContextLogger(s.logger, ctx).With(
		zap.String("ownerId", ownerID),
		zap.String("messageId", id),
	)

	var deleted *domain.Message
	tx := saga.New(sagaDeleteMessage, logger, s.metrics)
	tx.Add(saga.Step{
		Name: "delete_message",
		Do: func(ctx context.Context) error {
			msg, err := s.messages.DeletePending(ctx, ownerID, id)
			if err != nil {
				return err
			}
			deleted = msg
			return nil
		},
		Undo: func(ctx context.Context) error {
			restored := *deleted
			return s.messages.Create(ctx, &restored)
		},
	})
	tx.Add(saga.Step{
		Name: "release_quota",
		Do: func(ctx context.Context) error {
			if deleted.VideoSizeBytes <= 0 {
				return nil
			}
			return s.owners.ApplyStorageDelta(ctx, ownerID, -deleted.VideoSizeBytes)
		},
	})

	if err := tx.Run(ctx); err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}

	if deleted.HasVideo() && s.blobs != nil {
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), blobCleanupTimeout)
		defer cancel()
		if err := s.blobs.Delete(cleanupCtx, *deleted.VideoKey); err != nil {
			logger.Warn("video object left behind after message delete",
				zap.String("videoKey", *deleted.VideoKey),
				zap.Error(err),
			)
		}
	}

	logger.Info("message deleted")
	return nil
}

func ignoreNotFound(err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	return err
}
