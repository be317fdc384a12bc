package bootstrap

import (
	"context"
	"fmt"
	"log"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/app/repository"
	"github.com/ManuelReschke/PayFox/internal/pkg/archive"
	"github.com/ManuelReschke/PayFox/internal/pkg/billing"
	"github.com/ManuelReschke/PayFox/internal/pkg/cache"
	"github.com/ManuelReschke/PayFox/internal/pkg/config"
	"github.com/ManuelReschke/PayFox/internal/pkg/database"
	"github.com/ManuelReschke/PayFox/internal/pkg/dispatcher"
	"github.com/ManuelReschke/PayFox/internal/pkg/dunning"
	"github.com/ManuelReschke/PayFox/internal/pkg/entitlements"
	"github.com/ManuelReschke/PayFox/internal/pkg/events"
	"github.com/ManuelReschke/PayFox/internal/pkg/fraud"
	"github.com/ManuelReschke/PayFox/internal/pkg/gateway"
	"github.com/ManuelReschke/PayFox/internal/pkg/idempotency"
	"github.com/ManuelReschke/PayFox/internal/pkg/jobqueue"
	"github.com/ManuelReschke/PayFox/internal/pkg/mail"
	"github.com/ManuelReschke/PayFox/internal/pkg/memstore"
	"github.com/ManuelReschke/PayFox/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/PayFox/internal/pkg/notify"
	"github.com/ManuelReschke/PayFox/internal/pkg/paymentcodec"
	"github.com/ManuelReschke/PayFox/internal/pkg/payout"
	"github.com/ManuelReschke/PayFox/internal/pkg/scheduler"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Queue is the job queue surface the container needs. Both the Redis queue
// and the in-process pool implement it.
type Queue interface {
	jobqueue.Enqueuer
	RegisterProcessor(jobType jobqueue.JobType, p jobqueue.Processor)
	Start()
	Stop()
}

// Container holds every long-lived service of the process.
type Container struct {
	Config       *config.Config
	DB           *gorm.DB
	Redis        *redis.Client
	Memory       *memstore.Store
	Repos        *repository.Repositories
	Queue        Queue
	Entitlements *entitlements.Resolver
	Dispatcher   *dispatcher.Dispatcher
	Fraud        *fraud.Engine
	Payouts      *payout.Orchestrator
	Scheduler    *scheduler.PayoutScheduler
	Publisher    events.Publisher
	Codec        *paymentcodec.Codec
	Counter      counter.Counter

	closers []func() error
}

// New wires the service graph from cfg. DB_DRIVER=memory runs without MySQL,
// Postgres or Redis.
func New(ctx context.Context, cfg *config.Config) (*Container, error) {
	c := &Container{Config: cfg}

	if err := c.setupStorage(); err != nil {
		return nil, err
	}

	inMemory := c.Memory != nil
	if inMemory {
		c.Queue = jobqueue.NewLocalQueue(cfg.JobQueueWorkers, 256)
		c.Entitlements = entitlements.NewResolver(entitlements.NewMemoryCache(cfg.EntitlementCacheTTL), c.Repos.BillingAccount)
		c.Counter = counter.NewMemoryCounter()
	} else {
		c.Redis = cache.NewClient(cfg.Cache)
		c.closers = append(c.closers, c.Redis.Close)
		c.Queue = jobqueue.NewQueue(c.Redis, cfg.JobQueueWorkers)
		c.Entitlements = entitlements.NewResolver(entitlements.NewRedisCache(c.Redis, cfg.EntitlementCacheTTL), c.Repos.BillingAccount)
		c.Counter = counter.NewRedisCounter(c.Redis)
	}

	if err := c.setupPublisher(); err != nil {
		return nil, err
	}

	renderer, err := notify.NewRenderer()
	if err != nil {
		return nil, fmt.Errorf("notification templates: %w", err)
	}
	worker := notify.NewWorker(renderer, mail.NewSMTPMailer(cfg.SMTP), c.Repos.NotificationLog)
	c.Queue.RegisterProcessor(jobqueue.JobTypeSendNotification, worker.Process)
	notifier := notify.NewQueueNotifier(c.Queue)

	c.Codec, err = paymentcodec.New(cfg.PaymentDetailsKey)
	if err != nil {
		return nil, fmt.Errorf("payment details codec: %w", err)
	}

	var canceler gateway.SubscriptionCanceler = gateway.LogCanceler{}
	transfers := gateway.NewRouter()
	if cfg.Stripe.SecretKey != "" {
		stripeClient := gateway.NewStripeClient(cfg.Stripe.SecretKey)
		canceler = stripeClient
		transfers.Handle(stripeClient, models.PaymentRailBankTransfer, models.PaymentRailCard)
	} else {
		log.Print("STRIPE_SECRET_KEY not set: subscription cancellations are logged only")
	}
	if cfg.Disbursement.APIURL != "" {
		transfers.Handle(gateway.NewDisbursementClient(cfg.Disbursement.APIURL, cfg.Disbursement.APIToken),
			models.PaymentRailPayPal, models.PaymentRailWire)
	}

	dunningEngine := dunning.NewEngine(dunning.Config{
		MaxAttempts:       cfg.Dunning.MaxAttempts,
		RetryIntervalDays: cfg.Dunning.RetryIntervalDays,
		GracePeriod:       cfg.Dunning.GracePeriod,
	}, dunning.Deps{
		Attempts:       c.Repos.Dunning,
		Accounts:       c.Repos.BillingAccount,
		PaymentMethods: c.Repos.PaymentMethod,
		Users:          c.Repos.User,
		Audit:          c.Repos.AuditLog,
		Canceler:       canceler,
		Entitlements:   c.Entitlements,
		Notifier:       notifier,
		Publisher:      c.Publisher,
	})

	registry := dispatcher.NewRegistry()
	billing.NewUpdater(c.Repos, dunningEngine, c.Entitlements, notifier, c.Publisher).Register(registry)

	c.Dispatcher = dispatcher.New(dispatcher.Config{
		SigningSecret: cfg.Webhook.SigningSecret,
		Tolerance:     cfg.Webhook.Tolerance,
		MaxAttempts:   cfg.Handler.MaxAttempts,
		BaseDelay:     cfg.Handler.BaseDelay,
		Deadline:      cfg.Handler.Deadline,
		Timeout:       cfg.Handler.Timeout,
	}, registry, idempotency.NewLedger(c.Repos.Idempotency, 2*cfg.Handler.Deadline), c.Repos.WebhookEvent, c.Repos.AuditLog)

	if cfg.Archive.Enabled {
		store, err := archive.NewS3Store(ctx, cfg.Archive)
		if err != nil {
			return nil, fmt.Errorf("webhook archive: %w", err)
		}
		archiver := archive.NewArchiver(c.Repos.WebhookEvent, store, c.Queue)
		c.Queue.RegisterProcessor(jobqueue.JobTypeArchiveEvent, archiver.Process)
		c.Dispatcher.SetArchiver(archiver)
	}

	c.Fraud = fraud.NewEngine(c.Repos, cfg.Fraud.RiskThreshold, fraud.NoGeo{}, c.Codec, c.Publisher)

	var lease payout.Lease = payout.NewMemoryLease()
	if c.Redis != nil {
		lease = payout.NewRedisLease(c.Redis)
	}
	c.Payouts = payout.NewOrchestrator(payout.Config{
		Minimum:         cfg.Payout.Minimum,
		FlatFee:         cfg.Payout.FlatFee,
		FeeRate:         cfg.Payout.FeeRate,
		MaxRetries:      cfg.Payout.MaxRetries,
		Currency:        cfg.Payout.Currency,
		FailureLookback: cfg.Payout.FailureLookback,
		LeaseTTL:        cfg.Payout.LeaseTTL,
	}, payout.Deps{
		Affiliates: c.Repos.Affiliate,
		Payouts:    c.Repos.Payout,
		Audit:      c.Repos.AuditLog,
		Fraud:      c.Fraud,
		Transfers:  transfers,
		Codec:      c.Codec,
		Lease:      lease,
		Notifier:   notifier,
		Publisher:  c.Publisher,
	})
	c.Scheduler = scheduler.New(c.Payouts, cfg.Payout.ScheduleInterval, cfg.Payout.LeaseTTL).CountInto(c.Counter)

	mappings, err := billing.ParsePlanMappings(cfg.PlanMappings)
	if err != nil {
		return nil, fmt.Errorf("BILLING_PLAN_MAPPINGS: %w", err)
	}
	if err := billing.SeedPlanMappings(ctx, c.Repos.PlanMapping, mappings); err != nil {
		return nil, fmt.Errorf("seed plan mappings: %w", err)
	}

	return c, nil
}

func (c *Container) setupStorage() error {
	if c.Config.Database.Driver == "memory" {
		log.Print("DB_DRIVER=memory: state is kept in process and lost on restart")
		c.Memory = memstore.New()
		c.Repos = c.Memory.Repositories()
		return nil
	}

	db, err := database.Connect(c.Config.Database)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if c.Config.Database.Driver == "postgres" || c.Config.IsDev() {
		if err := database.AutoMigrate(db); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
	}
	c.DB = db
	c.Repos = repository.NewRepositories(db)
	if sqlDB, err := db.DB(); err == nil {
		c.closers = append(c.closers, sqlDB.Close)
	}
	return nil
}

func (c *Container) setupPublisher() error {
	if len(c.Config.Kafka.Brokers) == 0 {
		c.Publisher = events.LogPublisher{}
		return nil
	}
	kafkaPublisher, err := events.NewKafkaPublisher(c.Config.Kafka.Brokers, c.Config.Kafka.TopicPrefix)
	if err != nil {
		return fmt.Errorf("kafka publisher: %w", err)
	}
	c.Publisher = kafkaPublisher
	c.closers = append(c.closers, kafkaPublisher.Close)
	return nil
}

// Start launches the background workers: the job queue and, when an
// interval is configured, the payout scheduler.
func (c *Container) Start() {
	c.Queue.Start()
	c.Scheduler.Start()
}

// Close stops the workers and releases connections in reverse order.
func (c *Container) Close() {
	if c.Scheduler != nil {
		c.Scheduler.Stop()
	}
	if c.Queue != nil {
		c.Queue.Stop()
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			log.Printf("close: %v", err)
		}
	}
}
