package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ManuelReschke/PayFox/internal/pkg/env"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// Config is the typed runtime configuration assembled from the environment.
type Config struct {
	AppEnv  string `validate:"required,oneof=dev test prod"`
	AppHost string
	AppPort string `validate:"required,numeric"`

	Database DatabaseConfig
	Cache    CacheConfig
	Webhook  WebhookConfig
	Handler  HandlerConfig
	Dunning  DunningConfig
	Payout   PayoutConfig
	Fraud    FraudConfig

	// PlanMappings seeds price_ref:tier pairs at startup.
	PlanMappings        string
	PaymentDetailsKey   string        `validate:"required,min=32"`
	EntitlementCacheTTL time.Duration `validate:"gt=0"`
	JobQueueWorkers     int           `validate:"min=1,max=64"`

	Stripe       StripeConfig
	Disbursement DisbursementConfig
	Kafka        KafkaConfig
	Archive      ArchiveConfig
	SMTP         SMTPConfig

	OperatorJWTSecret string `validate:"required,min=16"`
	MetricsUser       string
	MetricsPassword   string
}

type DatabaseConfig struct {
	Driver   string `validate:"required,oneof=mysql postgres memory"`
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	URL      string
}

type CacheConfig struct {
	Host     string `validate:"required"`
	Port     string `validate:"required,numeric"`
	Password string
}

type WebhookConfig struct {
	SigningSecret string        `validate:"required"`
	Tolerance     time.Duration `validate:"gt=0"`
}

type HandlerConfig struct {
	MaxAttempts int           `validate:"min=1,max=10"`
	BaseDelay   time.Duration `validate:"gte=0"`
	Deadline    time.Duration `validate:"gt=0"`
	Timeout     time.Duration `validate:"gt=0"`
}

type DunningConfig struct {
	MaxAttempts       int           `validate:"min=1"`
	RetryIntervalDays []int         `validate:"min=1,dive,gt=0"`
	GracePeriod       time.Duration `validate:"gt=0"`
}

type PayoutConfig struct {
	Minimum          decimal.Decimal
	FlatFee          decimal.Decimal
	FeeRate          decimal.Decimal
	MaxRetries       int           `validate:"min=1"`
	Currency         string        `validate:"required,len=3"`
	ScheduleInterval time.Duration `validate:"gte=0"`
	FailureLookback  time.Duration `validate:"gt=0"`
	LeaseTTL         time.Duration `validate:"gt=0"`
}

type FraudConfig struct {
	RiskThreshold int `validate:"min=1,max=100"`
}

type StripeConfig struct {
	SecretKey string
}

type DisbursementConfig struct {
	APIURL   string `validate:"omitempty,url"`
	APIToken string
}

type KafkaConfig struct {
	Brokers     []string
	TopicPrefix string
}

type ArchiveConfig struct {
	Enabled         bool
	AccessKeyID     string `validate:"required_if=Enabled true"`
	SecretAccessKey string `validate:"required_if=Enabled true"`
	Region          string
	BucketName      string `validate:"required_if=Enabled true"`
	EndpointURL     string `validate:"omitempty,url"`
}

type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Sender   string
}

// Load reads the configuration from the env layer and validates it.
func Load() (*Config, error) {
	intervals, err := parseIntList(env.GetEnv("DUNNING_RETRY_INTERVAL_DAYS", "3,5,7,10"))
	if err != nil {
		return nil, fmt.Errorf("DUNNING_RETRY_INTERVAL_DAYS: %w", err)
	}

	cfg := &Config{
		AppEnv:  env.GetEnv("APP_ENV", "prod"),
		AppHost: env.GetEnv("APP_HOST", "0.0.0.0"),
		AppPort: env.GetEnv("APP_PORT", "4000"),
		Database: DatabaseConfig{
			Driver:   env.GetEnv("DB_DRIVER", "mysql"),
			Host:     env.GetEnv("DB_HOST", "127.0.0.1"),
			Port:     env.GetEnv("DB_PORT", ""),
			User:     env.GetEnv("DB_USER", ""),
			Password: env.GetEnv("DB_PASSWORD", ""),
			Name:     env.GetEnv("DB_NAME", ""),
			URL:      env.GetEnv("DATABASE_URL", ""),
		},
		Cache: CacheConfig{
			Host:     env.GetEnv("CACHE_HOST", "localhost"),
			Port:     env.GetEnv("CACHE_PORT", "6379"),
			Password: env.GetEnv("CACHE_PASSWORD", ""),
		},
		Webhook: WebhookConfig{
			SigningSecret: env.GetEnv("WEBHOOK_SIGNING_SECRET", ""),
			Tolerance:     env.GetEnvDuration("WEBHOOK_TOLERANCE_SECONDS", 300*time.Second),
		},
		Handler: HandlerConfig{
			MaxAttempts: env.GetEnvInt("HANDLER_MAX_ATTEMPTS", 3),
			BaseDelay:   env.GetEnvDuration("HANDLER_BASE_DELAY", 200*time.Millisecond),
			Deadline:    env.GetEnvDuration("HANDLER_DEADLINE", 20*time.Second),
			Timeout:     env.GetEnvDuration("HANDLER_TIMEOUT", 5*time.Second),
		},
		Dunning: DunningConfig{
			MaxAttempts:       env.GetEnvInt("DUNNING_MAX_ATTEMPTS", 4),
			RetryIntervalDays: intervals,
			GracePeriod:       env.GetEnvDuration("DUNNING_GRACE_PERIOD", 72*time.Hour),
		},
		Payout: PayoutConfig{
			MaxRetries:       env.GetEnvInt("PAYOUT_MAX_RETRIES", 3),
			Currency:         strings.ToLower(env.GetEnv("PAYOUT_CURRENCY", "usd")),
			ScheduleInterval: env.GetEnvDuration("PAYOUT_SCHEDULE_INTERVAL", 24*time.Hour),
			FailureLookback:  env.GetEnvDuration("PAYOUT_FAILURE_LOOKBACK", 30*24*time.Hour),
			LeaseTTL:         env.GetEnvDuration("PAYOUT_LEASE_TTL", 30*time.Minute),
		},
		Fraud: FraudConfig{
			RiskThreshold: env.GetEnvInt("FRAUD_RISK_THRESHOLD", 50),
		},
		PlanMappings:        env.GetEnv("BILLING_PLAN_MAPPINGS", ""),
		PaymentDetailsKey:   env.GetEnv("PAYMENT_DETAILS_KEY", ""),
		EntitlementCacheTTL: env.GetEnvDuration("ENTITLEMENT_CACHE_TTL", 10*time.Minute),
		JobQueueWorkers:     env.GetEnvInt("JOBQUEUE_WORKERS", 3),
		Stripe: StripeConfig{
			SecretKey: env.GetEnv("STRIPE_SECRET_KEY", ""),
		},
		Disbursement: DisbursementConfig{
			APIURL:   env.GetEnv("DISBURSEMENT_API_URL", ""),
			APIToken: env.GetEnv("DISBURSEMENT_API_TOKEN", ""),
		},
		Kafka: KafkaConfig{
			Brokers:     env.GetEnvList("KAFKA_BROKERS", nil),
			TopicPrefix: env.GetEnv("KAFKA_TOPIC_PREFIX", ""),
		},
		Archive: ArchiveConfig{
			Enabled:         env.GetEnvBool("S3_ARCHIVE_ENABLED", false),
			AccessKeyID:     env.GetEnv("S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: env.GetEnv("S3_SECRET_ACCESS_KEY", ""),
			Region:          env.GetEnv("S3_REGION", "us-east-1"),
			BucketName:      env.GetEnv("S3_BUCKET_NAME", ""),
			EndpointURL:     env.GetEnv("S3_ENDPOINT_URL", ""),
		},
		SMTP: SMTPConfig{
			Host:     env.GetEnv("SMTP_HOST", ""),
			Port:     env.GetEnv("SMTP_PORT", "587"),
			Username: env.GetEnv("SMTP_USERNAME", ""),
			Password: env.GetEnv("SMTP_PASSWORD", ""),
			Sender:   env.GetEnv("SMTP_SENDER", ""),
		},
		OperatorJWTSecret: env.GetEnv("OPERATOR_JWT_SECRET", ""),
		MetricsUser:       env.GetEnv("METRICS_USER", ""),
		MetricsPassword:   env.GetEnv("METRICS_PASSWORD", ""),
	}

	if cfg.Payout.Minimum, err = decimalEnv("PAYOUT_MINIMUM", "50"); err != nil {
		return nil, err
	}
	if cfg.Payout.FlatFee, err = decimalEnv("PAYOUT_FLAT_FEE", "2.50"); err != nil {
		return nil, err
	}
	if cfg.Payout.FeeRate, err = decimalEnv("PAYOUT_FEE_RATE", "0.05"); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct tags and the money fields the tags cannot express.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return err
	}
	if c.Payout.Minimum.IsNegative() || c.Payout.FlatFee.IsNegative() {
		return errors.New("payout minimum and flat fee must not be negative")
	}
	if c.Payout.FeeRate.IsNegative() || c.Payout.FeeRate.GreaterThan(decimal.NewFromInt(1)) {
		return errors.New("PAYOUT_FEE_RATE must be within [0,1]")
	}
	if c.Database.Driver != "memory" && c.Database.URL == "" && c.Database.Name == "" {
		return errors.New("DB_NAME or DATABASE_URL is required")
	}
	return nil
}

// IsDev reports whether the service runs in development mode.
func (c *Config) IsDev() bool {
	return c.AppEnv == "dev"
}

func decimalEnv(key, def string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(env.GetEnv(key, def)))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func parseIntList(raw string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(raw, ",") {
		p := strings.TrimSpace(part)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}
