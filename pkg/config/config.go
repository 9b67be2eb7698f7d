// Package config loads application configuration from the environment.
package config

import (
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/Abraxas-365/conveyor/pkg/errx"
)

var configErrors = errx.NewRegistry("CONFIG")

var (
	// ErrParse means the environment could not be parsed into the config.
	ErrParse = configErrors.Register("PARSE", errx.TypeValidation, "Failed to parse configuration from environment")
	// ErrInvalidDriver means QUEUE_DRIVER is not one of the known drivers.
	ErrInvalidDriver = configErrors.Register("INVALID_DRIVER", errx.TypeValidation, "Unknown queue driver")
	// ErrMissingURL means the selected driver requires a connection URL.
	ErrMissingURL = configErrors.Register("MISSING_URL", errx.TypeValidation, "Queue driver requires a connection URL")
)

// Queue drivers.
const (
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
)

// QueueConfig configures the queue backend.
type QueueConfig struct {
	// Driver selects the backend: memory, redis, or postgres.
	Driver string `env:"QUEUE_DRIVER" envDefault:"memory"`

	// URL is the backend connection URL. Required for redis and postgres.
	URL string `env:"QUEUE_URL"`

	// KeyPrefix namespaces every key the redis backend writes.
	KeyPrefix string `env:"QUEUE_KEY_PREFIX" envDefault:"conveyor:"`

	// DefaultQueue is the queue jobs land on when none is set.
	DefaultQueue string `env:"QUEUE_DEFAULT_QUEUE" envDefault:"default"`

	// DefaultTimeout bounds a single handler invocation when the job
	// does not set its own timeout.
	DefaultTimeout time.Duration `env:"QUEUE_DEFAULT_TIMEOUT" envDefault:"1m"`
}

// WorkerConfig configures the worker engine.
type WorkerConfig struct {
	// Queues to sweep, in descending priority order.
	Queues []string `env:"WORKER_QUEUES" envDefault:"default"`

	// Concurrency is the number of polling loops.
	Concurrency int `env:"WORKER_CONCURRENCY" envDefault:"4"`

	// PollInterval is how long an idle loop sleeps after an empty sweep.
	PollInterval time.Duration `env:"WORKER_POLL_INTERVAL" envDefault:"1s"`

	// ShutdownTimeout caps the graceful drain on shutdown.
	ShutdownTimeout time.Duration `env:"WORKER_SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// RetryDelay postpones retried jobs. Zero means immediate retry.
	RetryDelay time.Duration `env:"WORKER_RETRY_DELAY" envDefault:"0"`
}

// Config is the root application configuration.
type Config struct {
	Queue  QueueConfig
	Worker WorkerConfig
}

// Load parses the configuration from the environment and validates it.
func Load() (*Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return nil, configErrors.NewWithCause(ErrParse, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate fails fast when the selected driver's required parameters
// are absent.
func (c *Config) Validate() error {
	return c.Queue.Validate()
}

// Validate checks the queue section.
func (q *QueueConfig) Validate() error {
	switch q.Driver {
	case DriverMemory:
		return nil
	case DriverRedis, DriverPostgres:
		if q.URL == "" {
			return configErrors.New(ErrMissingURL).WithDetail("driver", q.Driver)
		}
		return nil
	default:
		return configErrors.New(ErrInvalidDriver).WithDetail("driver", q.Driver)
	}
}
