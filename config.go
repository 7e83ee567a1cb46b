package courier

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds configuration for the Courier coordinator. Zero values
// fall back to the defaults from DefaultConfig.
type Config struct {
	// DefaultMaxAttempts is the total attempt budget applied to jobs
	// that do not override it.
	DefaultMaxAttempts int `env:"COURIER_MAX_ATTEMPTS" envDefault:"3"`

	// DefaultBackoffBase is the exponential backoff base delay for
	// queues without an entry in BackoffBases.
	DefaultBackoffBase time.Duration `env:"COURIER_BACKOFF_BASE" envDefault:"2s"`

	// BackoffBases overrides the backoff base delay per queue type.
	BackoffBases map[string]time.Duration

	// DeliveryTimeout bounds each outbound webhook HTTP call.
	DeliveryTimeout time.Duration `env:"COURIER_DELIVERY_TIMEOUT" envDefault:"10s"`

	// DefaultPoolSize is the worker count for queues without an entry
	// in PoolSizes.
	DefaultPoolSize int `env:"COURIER_POOL_SIZE" envDefault:"5"`

	// PoolSizes overrides the worker pool size per queue type.
	PoolSizes map[string]int

	// RetentionCompleted / RetentionFailed bound how many terminal jobs
	// each queue keeps for status polling before the oldest are purged.
	RetentionCompleted int `env:"COURIER_RETENTION_COMPLETED" envDefault:"1000"`
	RetentionFailed    int `env:"COURIER_RETENTION_FAILED" envDefault:"1000"`

	// PollInterval is how often idle workers poll for ready jobs.
	PollInterval time.Duration `env:"COURIER_POLL_INTERVAL" envDefault:"1s"`

	// HeartbeatInterval is how often running jobs send heartbeats.
	HeartbeatInterval time.Duration `env:"COURIER_HEARTBEAT_INTERVAL" envDefault:"10s"`

	// StalledThreshold is how long a running job may go without a
	// heartbeat before it is treated as stalled.
	StalledThreshold time.Duration `env:"COURIER_STALLED_THRESHOLD" envDefault:"30s"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration `env:"COURIER_SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// DefaultConfig returns a Config with the reference behavior: 3 attempts,
// 2s backoff base (5s for webhook deliveries), 10s delivery timeout, and
// a 10-worker webhook delivery pool.
func DefaultConfig() Config {
	return Config{
		DefaultMaxAttempts: 3,
		DefaultBackoffBase: 2 * time.Second,
		BackoffBases: map[string]time.Duration{
			"webhook-delivery": 5 * time.Second,
		},
		DeliveryTimeout: 10 * time.Second,
		DefaultPoolSize: 5,
		PoolSizes: map[string]int{
			"webhook-delivery": 10,
		},
		RetentionCompleted: 1000,
		RetentionFailed:    1000,
		PollInterval:       1 * time.Second,
		HeartbeatInterval:  10 * time.Second,
		StalledThreshold:   30 * time.Second,
		ShutdownTimeout:    30 * time.Second,
	}
}

// FromEnv builds a Config from COURIER_* environment variables, falling
// back to DefaultConfig values. The per-queue maps are not exposed via
// the environment; adjust them in code after loading.
func FromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("courier: parse env config: %w", err)
	}
	return cfg, nil
}

// BackoffBase returns the backoff base delay for the given queue type.
func (c Config) BackoffBase(queueType string) time.Duration {
	if d, ok := c.BackoffBases[queueType]; ok {
		return d
	}
	return c.DefaultBackoffBase
}

// PoolSize returns the worker pool size for the given queue type.
func (c Config) PoolSize(queueType string) int {
	if n, ok := c.PoolSizes[queueType]; ok {
		return n
	}
	return c.DefaultPoolSize
}
