package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

const (
	LockBackendPostgres = "postgres"
	LockBackendRedis    = "redis"

	EmailProviderResend   = "resend"
	EmailProviderSendGrid = "sendgrid"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	CronSecret  string `env:"CRON_SECRET,required=true"`
	EmailFrom   string `env:"EMAIL_FROM,required=true"`
	APIPort     int    `env:"API_PORT,default=8080"`
	LogLevel    string `env:"LOG_LEVEL,default=info"`

	RedisURL    string `env:"REDIS_URL"`
	RabbitMQURL string `env:"RABBITMQ_URL"`

	LockBackend        string `env:"LOCK_BACKEND,default=postgres"`
	LockTTLSeconds     int    `env:"LOCK_TTL_SECONDS,default=300"`
	BatchSize          int    `env:"BATCH_SIZE,default=50"`
	RunDeadlineSeconds int    `env:"RUN_DEADLINE_SECONDS,default=45"`
	MessageTimeoutSecs int    `env:"MESSAGE_TIMEOUT_SECONDS,default=30"`
	SendIntervalMillis int    `env:"SEND_INTERVAL_MILLIS,default=500"`
	RateLimitPerSec    int    `env:"RATE_LIMIT_PER_SEC,default=2"`
	RetryFailed        bool   `env:"RETRY_FAILED,default=false"`
	MaxAttempts        int    `env:"MAX_ATTEMPTS,default=3"`

	EmailProvider  string `env:"EMAIL_PROVIDER,default=resend"`
	ResendAPIKey   string `env:"RESEND_API_KEY"`
	ResendBaseURL  string `env:"RESEND_BASE_URL,default=https://api.resend.com"`
	SendGridAPIKey string `env:"SENDGRID_API_KEY"`
	SendGridHost   string `env:"SENDGRID_HOST,default=https://api.sendgrid.com"`

	MinIOEndpoint    string `env:"MINIO_ENDPOINT"`
	MinIOAccessKey   string `env:"MINIO_ACCESS_KEY"`
	MinIOSecretKey   string `env:"MINIO_SECRET_KEY"`
	MinIOBucket      string `env:"MINIO_BUCKET,default=videos"`
	MinIOUseSSL      bool   `env:"MINIO_USE_SSL,default=false"`
	MinIORegion      string `env:"MINIO_REGION,default=us-east-1"`
	AssetURLTTLHours int    `env:"ASSET_URL_TTL_HOURS,default=168"`

	StripeSecretKey     string `env:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`
	StripePriceID       string `env:"STRIPE_PRICE_ID"`
	CheckoutSuccessURL  string `env:"CHECKOUT_SUCCESS_URL"`
	CheckoutCancelURL   string `env:"CHECKOUT_CANCEL_URL"`

	PaidStorageQuotaBytes int64 `env:"PAID_STORAGE_QUOTA_BYTES,default=5368709120"`

	AttemptRetentionDays     int `env:"ATTEMPT_RETENTION_DAYS,default=90"`
	ReconcileLimit           int `env:"RECONCILE_LIMIT,default=200"`
	SchedulerIntervalSeconds int `env:"SCHEDULER_INTERVAL_SECONDS,default=0"`

	OTLPEndpoint string `env:"OTLP_ENDPOINT"`
}

// Load reads optional dotenv files and then decodes the environment. Variables
// already present in the environment win over file values.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read %s: %w", f, err)
		}
	}

	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	switch c.LockBackend {
	case LockBackendPostgres:
	case LockBackendRedis:
		if strings.TrimSpace(c.RedisURL) == "" {
			errs = append(errs, errors.New("LOCK_BACKEND=redis requires REDIS_URL"))
		}
		// The key expires on its own; a run may hold it for the deadline plus
		// one in-flight send.
		if c.LockTTL() <= c.RunDeadline()+c.MessageTimeout() {
			errs = append(errs, fmt.Errorf("LOCK_TTL_SECONDS (%d) must exceed RUN_DEADLINE_SECONDS + MESSAGE_TIMEOUT_SECONDS (%d)",
				c.LockTTLSeconds, c.RunDeadlineSeconds+c.MessageTimeoutSecs))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown LOCK_BACKEND %q", c.LockBackend))
	}

	switch c.EmailProvider {
	case EmailProviderResend:
		if strings.TrimSpace(c.ResendAPIKey) == "" {
			errs = append(errs, errors.New("EMAIL_PROVIDER=resend requires RESEND_API_KEY"))
		}
	case EmailProviderSendGrid:
		if strings.TrimSpace(c.SendGridAPIKey) == "" {
			errs = append(errs, errors.New("EMAIL_PROVIDER=sendgrid requires SENDGRID_API_KEY"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown EMAIL_PROVIDER %q", c.EmailProvider))
	}

	if c.BatchSize <= 0 {
		errs = append(errs, errors.New("BATCH_SIZE must be positive"))
	}
	if c.RunDeadlineSeconds <= 0 {
		errs = append(errs, errors.New("RUN_DEADLINE_SECONDS must be positive"))
	}
	if c.MessageTimeoutSecs <= 0 {
		errs = append(errs, errors.New("MESSAGE_TIMEOUT_SECONDS must be positive"))
	}
	if c.SendIntervalMillis < 0 {
		errs = append(errs, errors.New("SEND_INTERVAL_MILLIS must not be negative"))
	}
	if c.MaxAttempts <= 0 {
		errs = append(errs, errors.New("MAX_ATTEMPTS must be positive"))
	}
	if c.LockTTLSeconds <= 0 {
		errs = append(errs, errors.New("LOCK_TTL_SECONDS must be positive"))
	}
	if c.AttemptRetentionDays <= 0 {
		errs = append(errs, errors.New("ATTEMPT_RETENTION_DAYS must be positive"))
	}
	if c.SchedulerIntervalSeconds < 0 {
		errs = append(errs, errors.New("SCHEDULER_INTERVAL_SECONDS must not be negative"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func (c *Config) RunDeadline() time.Duration {
	return time.Duration(c.RunDeadlineSeconds) * time.Second
}

func (c *Config) MessageTimeout() time.Duration {
	return time.Duration(c.MessageTimeoutSecs) * time.Second
}

func (c *Config) SendInterval() time.Duration {
	return time.Duration(c.SendIntervalMillis) * time.Millisecond
}

func (c *Config) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

func (c *Config) AssetURLTTL() time.Duration {
	return time.Duration(c.AssetURLTTLHours) * time.Hour
}

func (c *Config) AttemptRetention() time.Duration {
	return time.Duration(c.AttemptRetentionDays) * 24 * time.Hour
}

func (c *Config) SchedulerInterval() time.Duration {
	return time.Duration(c.SchedulerIntervalSeconds) * time.Second
}

func (c *Config) BlobEnabled() bool {
	return strings.TrimSpace(c.MinIOEndpoint) != ""
}

func (c *Config) PaymentsEnabled() bool {
	return strings.TrimSpace(c.StripeSecretKey) != "" && strings.TrimSpace(c.StripeWebhookSecret) != ""
}
