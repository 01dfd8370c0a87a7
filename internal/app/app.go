package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/kursadbilgin/timecapsule/internal/blob"
	"github.com/kursadbilgin/timecapsule/internal/config"
	"github.com/kursadbilgin/timecapsule/internal/events"
	"github.com/kursadbilgin/timecapsule/internal/handler"
	"github.com/kursadbilgin/timecapsule/internal/infra/postgresql"
	"github.com/kursadbilgin/timecapsule/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/timecapsule/internal/infra/redis"
	"github.com/kursadbilgin/timecapsule/internal/mailer"
	"github.com/kursadbilgin/timecapsule/internal/observability"
	"github.com/kursadbilgin/timecapsule/internal/payment"
	"github.com/kursadbilgin/timecapsule/internal/repository"
	"github.com/kursadbilgin/timecapsule/internal/service"
	"github.com/kursadbilgin/timecapsule/internal/transport"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Video uploads go through the API, so the body limit must cover them.
const maxBodyBytes = 512 << 20

// App holds every long-lived dependency of a process. cmd/api and cmd/deliver
// share it so both run the exact same orchestrator.
type App struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *observability.Metrics

	sqlDB *sql.DB
	rdb   *redis.Client

	Orchestrator *service.Orchestrator
	Messages     *service.MessageService
	Payments     *service.PaymentService
	Sweeper      *service.RetentionSweeper
	Reconciler   *service.Reconciler

	closers []func() error
}

// Build connects to every configured backend, runs migrations and wires the
// services. On error everything opened so far is closed again.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *App, err error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &App{cfg: cfg, logger: logger, metrics: observability.NewMetrics()}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("postgres initialization failed: %w", err)
	}
	a.sqlDB, err = db.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres underlying db init failed: %w", err)
	}
	a.closers = append(a.closers, a.sqlDB.Close)

	if err := migrations.Migrate(db); err != nil {
		return nil, fmt.Errorf("database migrations failed: %w", err)
	}

	if cfg.RedisURL != "" {
		a.rdb, err = infraredis.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("redis initialization failed: %w", err)
		}
		a.closers = append(a.closers, a.rdb.Close)
	}

	messages := repository.NewGormMessageRepo(db)
	attempts := repository.NewGormAttemptRepo(db)
	owners := repository.NewGormOwnerRepo(db)
	payments := repository.NewGormPaymentRepo(db)

	mutex, err := a.batchMutex(repository.NewGormBatchLock(db))
	if err != nil {
		return nil, err
	}

	emailTransport, err := newTransport(cfg)
	if err != nil {
		return nil, err
	}
	if a.rdb != nil && cfg.RateLimitPerSec > 0 {
		limiter, err := infraredis.NewProviderLimiter(a.rdb, cfg.RateLimitPerSec)
		if err != nil {
			return nil, fmt.Errorf("rate limiter initialization failed: %w", err)
		}
		emailTransport = mailer.NewRateLimitedTransport(emailTransport, limiter)
	}

	var blobs blob.Store
	if cfg.BlobEnabled() {
		store, err := blob.NewMinIOStore(blob.MinIOOptions{
			Endpoint:  cfg.MinIOEndpoint,
			AccessKey: cfg.MinIOAccessKey,
			SecretKey: cfg.MinIOSecretKey,
			Bucket:    cfg.MinIOBucket,
			Region:    cfg.MinIORegion,
			UseSSL:    cfg.MinIOUseSSL,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("minio initialization failed: %w", err)
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("minio bucket check failed: %w", err)
		}
		blobs = store
	}

	publisher, err := newPublisher(ctx, cfg.RabbitMQURL)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, publisher.Close)

	pipeline, err := service.NewDeliveryPipeline(service.DeliveryPipelineDeps{
		Messages:  messages,
		Attempts:  attempts,
		Transport: emailTransport,
		Blobs:     blobs,
		Publisher: publisher,
		From:      cfg.EmailFrom,
		AssetTTL:  cfg.AssetURLTTL(),
		Logger:    logger,
		Metrics:   a.metrics,
	})
	if err != nil {
		return nil, err
	}

	a.Orchestrator, err = service.NewOrchestrator(mutex, messages, pipeline, service.OrchestratorConfig{
		BatchSize:      cfg.BatchSize,
		Deadline:       cfg.RunDeadline(),
		SendInterval:   cfg.SendInterval(),
		MessageTimeout: cfg.MessageTimeout(),
		RetryFailed:    cfg.RetryFailed,
		MaxAttempts:    cfg.MaxAttempts,
	}, logger)
	if err != nil {
		return nil, err
	}
	a.Orchestrator.SetMetrics(a.metrics)

	a.Messages, err = service.NewMessageService(messages, attempts, owners, blobs, logger)
	if err != nil {
		return nil, err
	}
	a.Messages.SetMetrics(a.metrics)

	a.Sweeper, err = service.NewRetentionSweeper(attempts, cfg.AttemptRetention(), logger)
	if err != nil {
		return nil, err
	}
	a.Sweeper.SetMetrics(a.metrics)

	a.Reconciler, err = service.NewReconciler(messages, cfg.ReconcileLimit, logger)
	if err != nil {
		return nil, err
	}
	a.Reconciler.SetMetrics(a.metrics)

	if cfg.PaymentsEnabled() {
		if a.Payments, err = newPaymentService(cfg, payments, owners, logger); err != nil {
			return nil, err
		}
		a.Payments.SetMetrics(a.metrics)
	}

	return a, nil
}

// HTTP assembles the fiber application. Payment routes are only mounted when
// Stripe is configured.
func (a *App) HTTP() (*fiber.App, error) {
	server := fiber.New(fiber.Config{
		AppName:      "timecapsule",
		BodyLimit:    maxBodyBytes,
		ErrorHandler: transport.ErrorHandler(a.logger),
	})

	server.Use(recover.New())
	server.Use(requestid.New())
	server.Use(handler.CorrelationMiddleware())
	server.Use(a.metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(server, a.sqlDB, a.rdb)
	server.Get("/metrics", adaptor.HTTPHandler(a.metrics.Handler()))

	if err := handler.RegisterJobRoutes(server, a.cfg.CronSecret, a.Orchestrator, a.Sweeper, a.Reconciler); err != nil {
		return nil, err
	}
	if err := handler.RegisterMessageRoutes(server, a.Messages); err != nil {
		return nil, err
	}
	if a.Payments != nil {
		if err := handler.RegisterPaymentRoutes(server, a.Payments); err != nil {
			return nil, err
		}
	}

	return server, nil
}

// Close releases backends in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) batchMutex(pg *repository.GormBatchLock) (service.BatchMutex, error) {
	if a.cfg.LockBackend != config.LockBackendRedis {
		return pg, nil
	}
	if a.rdb == nil {
		return nil, errors.New("redis lock backend requires a redis client")
	}
	lock, err := infraredis.NewBatchLock(a.rdb, a.cfg.LockTTL())
	if err != nil {
		return nil, fmt.Errorf("redis batch lock initialization failed: %w", err)
	}
	return lock, nil
}

func newTransport(cfg *config.Config) (mailer.Transport, error) {
	switch cfg.EmailProvider {
	case config.EmailProviderSendGrid:
		t, err := mailer.NewSendGridTransport(cfg.SendGridAPIKey, cfg.SendGridHost)
		if err != nil {
			return nil, fmt.Errorf("sendgrid transport initialization failed: %w", err)
		}
		return t, nil
	case config.EmailProviderResend:
		t, err := mailer.NewResendTransport(cfg.ResendBaseURL, cfg.ResendAPIKey)
		if err != nil {
			return nil, fmt.Errorf("resend transport initialization failed: %w", err)
		}
		return t, nil
	default:
		return nil, fmt.Errorf("unknown email provider %q", cfg.EmailProvider)
	}
}

func newPublisher(ctx context.Context, url string) (events.Publisher, error) {
	if url == "" {
		return events.NopPublisher{}, nil
	}
	client, err := events.NewRabbitMQ(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq initialization failed: %w", err)
	}
	return events.NewRabbitMQPublisher(client), nil
}

func newPaymentService(
	cfg *config.Config,
	payments repository.PaymentRepository,
	owners repository.OwnerRepository,
	logger *zap.Logger,
) (*service.PaymentService, error) {
	verifier, err := payment.NewStripeVerifier(cfg.StripeWebhookSecret)
	if err != nil {
		return nil, err
	}

	var checkout payment.CheckoutCreator
	if cfg.StripePriceID != "" {
		c, err := payment.NewStripeCheckout(payment.StripeCheckoutOptions{
			SecretKey:  cfg.StripeSecretKey,
			PriceID:    cfg.StripePriceID,
			SuccessURL: cfg.CheckoutSuccessURL,
			CancelURL:  cfg.CheckoutCancelURL,
		})
		if err != nil {
			return nil, err
		}
		checkout = c
	}

	return service.NewPaymentService(payments, owners, verifier, checkout, cfg.PaidStorageQuotaBytes, logger)
}
