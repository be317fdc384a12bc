package database

import (
	"fmt"
	"log"
	"time"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/internal/pkg/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const maxRetries = 5

var retryDelay = 5 * time.Second

// Models lists every table the service owns, in dependency order.
func Models() []interface{} {
	return []interface{}{
		&models.User{},
		&models.BillingAccount{},
		&models.BillingPlanMapping{},
		&models.BillingHistory{},
		&models.PaymentMethod{},
		&models.WebhookEvent{},
		&models.IdempotencyRecord{},
		&models.DunningAttempt{},
		&models.Affiliate{},
		&models.AffiliateClick{},
		&models.Payout{},
		&models.CommissionRecord{},
		&models.FraudAlert{},
		&models.AuditLog{},
		&models.NotificationLog{},
	}
}

// Connect opens the configured database, retrying while it starts up.
func Connect(cfg config.DatabaseConfig) (*gorm.DB, error) {
	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	var db *gorm.DB
	for i := 0; i < maxRetries; i++ {
		db, err = gorm.Open(dialector, &gorm.Config{})
		if err == nil {
			return db, nil
		}

		log.Printf("Failed to connect to database (try %d/%d): %v", i+1, maxRetries, err)
		if i < maxRetries-1 {
			log.Printf("Retrying in %v...", retryDelay)
			time.Sleep(retryDelay)
		}
	}
	return nil, err
}

// AutoMigrate creates or updates the schema from the models. MySQL
// deployments use cmd/migrate instead.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(Models()...)
}

// DSN builds the connection string for cfg. DATABASE_URL wins when set.
func DSN(cfg config.DatabaseConfig) (string, error) {
	if cfg.URL != "" {
		return cfg.URL, nil
	}
	switch cfg.Driver {
	case "mysql":
		// "user:pass@tcp(127.0.0.1:3306)/dbname?charset=utf8mb4&parseTime=True&loc=Local"
		return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			cfg.User, cfg.Password, cfg.Host, portOr(cfg.Port, "3306"), cfg.Name), nil
	case "postgres":
		return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
			cfg.Host, cfg.User, cfg.Password, cfg.Name, portOr(cfg.Port, "5432")), nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func dialectorFor(cfg config.DatabaseConfig) (gorm.Dialector, error) {
	dsn, err := DSN(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Driver == "postgres" {
		return postgres.Open(dsn), nil
	}
	return mysql.New(mysql.Config{
		DSN:                       dsn,
		DefaultStringSize:         256,
		DisableDatetimePrecision:  false,
		SkipInitializeWithVersion: false,
	}), nil
}

func portOr(port, def string) string {
	if port == "" {
		return def
	}
	return port
}
