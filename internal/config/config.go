package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config carries all environment-driven settings shared by the API and the
// worker binaries.
type Config struct {
	ListenAddr string `envconfig:"LISTEN_ADDR" default:":8080"`
	LogLevel   string `envconfig:"LOG_LEVEL" default:"info"`

	OrdersTable      string `envconfig:"ORDERS_TABLE" default:"fulfillment-orders"`
	JobsTable        string `envconfig:"JOBS_TABLE" default:"fulfillment-jobs"`
	IdempotencyTable string `envconfig:"IDEMPOTENCY_TABLE" default:"fulfillment-idempotency"`
	AuditTable       string `envconfig:"AUDIT_TABLE" default:"fulfillment-audit"`
	JobsQueueURL     string `envconfig:"JOBS_QUEUE_URL"`

	// WorkerConcurrency bounds the number of jobs executing at once.
	WorkerConcurrency int `envconfig:"WORKER_CONCURRENCY" default:"10"`
	// MaxAttempts bounds automatic retries per action type; once exceeded the
	// order escalates to manual review.
	MaxAttempts         int           `envconfig:"MAX_ATTEMPTS" default:"3"`
	RetryBackoff        time.Duration `envconfig:"RETRY_BACKOFF" default:"30s"`
	ExternalCallTimeout time.Duration `envconfig:"EXTERNAL_CALL_TIMEOUT" default:"30s"`
	IdempotencyTTL      time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"24h"`

	// When a base URL is empty the corresponding in-memory stub client is
	// used instead of the HTTP implementation.
	SupplierBaseURL  string `envconfig:"SUPPLIER_BASE_URL"`
	ForwarderBaseURL string `envconfig:"FORWARDER_BASE_URL"`

	MetricsNamespace string `envconfig:"METRICS_NAMESPACE" default:"Fulfillment"`
	MetricsEnabled   bool   `envconfig:"METRICS_ENABLED" default:"false"`
}

// Load reads configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, fmt.Errorf("process env config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.WorkerConcurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be >= 1, got %d", c.WorkerConcurrency)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("MAX_ATTEMPTS must be >= 1, got %d", c.MaxAttempts)
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("RETRY_BACKOFF must not be negative")
	}
	return nil
}
