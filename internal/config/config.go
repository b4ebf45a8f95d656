// Package config reads each binary's settings from the environment. A .env
// file in the working directory is loaded first when present.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Telemetry struct {
	OTLPEndpoint   string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4317"`
	ServiceVersion string `env:"SERVICE_VERSION" envDefault:"0.1.0"`
}

// Register configures the point-of-sale terminal process.
type Register struct {
	Port              string          `env:"PORT" envDefault:"8080"`
	RegisterID        string          `env:"REGISTER_ID" envDefault:"register-1"`
	DatabasePath      string          `env:"REGISTER_DB_PATH" envDefault:"register.db"`
	OrdersServiceURL  string          `env:"ORDERS_SERVICE_URL,required,notEmpty"`
	CatalogServiceURL string          `env:"CATALOG_SERVICE_URL,required,notEmpty"`
	KafkaBrokers      []string        `env:"KAFKA_BROKERS" envSeparator:","`
	DisplayTopic      string          `env:"DISPLAY_TOPIC" envDefault:"register.cart-state"`
	PINLength         int             `env:"PIN_LENGTH" envDefault:"4"`
	DefaultTaxRate    decimal.Decimal `env:"DEFAULT_TAX_RATE" envDefault:"14"`
	StaffCategory     string          `env:"STAFF_CATEGORY" envDefault:"dessert"`
	HTTPTimeout       time.Duration   `env:"HTTP_TIMEOUT" envDefault:"10s"`
	SyncInterval      time.Duration   `env:"SYNC_INTERVAL" envDefault:"30s"`
	SyncBatchSize     int             `env:"SYNC_BATCH_SIZE" envDefault:"50"`
	SyncRatePerSecond float64         `env:"SYNC_RATE_PER_SECOND" envDefault:"5"`
	ProbeInterval     time.Duration   `env:"PROBE_INTERVAL" envDefault:"5s"`
	ProbeTimeout      time.Duration   `env:"PROBE_TIMEOUT" envDefault:"2s"`
	BreakerFailures   uint32          `env:"BREAKER_FAILURES" envDefault:"5"`
	BreakerOpenFor    time.Duration   `env:"BREAKER_OPEN_FOR" envDefault:"30s"`
	Telemetry
}

// Orders configures the order-submission service.
type Orders struct {
	Port         string        `env:"PORT" envDefault:"8081"`
	PostgresURL  string        `env:"POSTGRES_URL,required,notEmpty"`
	RedisURL     string        `env:"REDIS_URL"`
	ReplayTTL    time.Duration `env:"IDEMPOTENCY_REPLAY_TTL" envDefault:"24h"`
	KafkaBrokers []string      `env:"KAFKA_BROKERS" envSeparator:","`
	// KafkaBatchTimeout bounds how long order.created waits for a batch to fill.
	KafkaBatchTimeout time.Duration `env:"KAFKA_BATCH_TIMEOUT" envDefault:"10ms"`
	Telemetry
}

// Worker configures the order.created consumer.
type Worker struct {
	KafkaBrokers        []string      `env:"KAFKA_BROKERS,required,notEmpty" envSeparator:","`
	ConsumerGroup       string        `env:"CONSUMER_GROUP" envDefault:"stock-worker"`
	InventoryServiceURL string        `env:"INVENTORY_SERVICE_URL,required,notEmpty"`
	HTTPTimeout         time.Duration `env:"HTTP_TIMEOUT" envDefault:"10s"`
	// SkipFailed commits past events whose deduction keeps failing instead of
	// stopping the worker.
	SkipFailed bool `env:"SKIP_FAILED" envDefault:"false"`
	Telemetry
}

type Migrate struct {
	PostgresURL    string `env:"POSTGRES_URL,required,notEmpty"`
	MigrationsPath string `env:"MIGRATIONS_PATH" envDefault:"file://migrations"`
}

// Load fills cfg from the environment after loading .env, if one exists.
func Load(cfg any) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}
	return nil
}
