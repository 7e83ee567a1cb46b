package courier

import (
	"context"
	"log/slog"
)

// Option configures a Courier.
type Option func(*Courier) error

// Storer is the minimal store interface held by the Courier. It covers
// lifecycle operations only. The full composite interface (store.Store)
// is used in subsystem layers that don't create import cycles.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// poolRunner is an internal interface for worker pool lifecycle.
type poolRunner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// hookEmitter is an internal interface for lifecycle shutdown events.
type hookEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Courier is the central coordinator for job dispatch and webhook
// delivery. Create one with New() and functional options, then use
// engine.Build to wire the subsystems together.
type Courier struct {
	config Config
	logger *slog.Logger
	store  Storer
	hooks  hookEmitter
	pools  []poolRunner

	// started tracks whether Start has been called.
	started bool
}

// New creates a new Courier with the given options.
func New(opts ...Option) (*Courier, error) {
	c := &Courier{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Logger returns the coordinator's logger.
func (c *Courier) Logger() *slog.Logger { return c.logger }

// Store returns the coordinator's store.
func (c *Courier) Store() Storer { return c.store }

// Config returns a copy of the coordinator's configuration.
func (c *Courier) Config() Config { return c.config }

// AddPool registers a worker pool (called by the engine package).
func (c *Courier) AddPool(p poolRunner) { c.pools = append(c.pools, p) }

// SetHooks sets the lifecycle hook emitter (called by the engine package).
func (c *Courier) SetHooks(h hookEmitter) { c.hooks = h }

// Start begins job processing on all registered worker pools.
func (c *Courier) Start(ctx context.Context) error {
	if len(c.pools) == 0 {
		return ErrNotBuilt
	}
	for _, p := range c.pools {
		if err := p.Start(ctx); err != nil {
			return err
		}
	}
	c.started = true
	return nil
}

// Stop gracefully shuts down all worker pools, emits the shutdown hook,
// and closes the store.
func (c *Courier) Stop(ctx context.Context) error {
	if c.started {
		for _, p := range c.pools {
			if err := p.Stop(ctx); err != nil {
				c.logger.Error("pool stop error", "error", err)
			}
		}
	}
	if c.hooks != nil {
		c.hooks.EmitShutdown(ctx)
	}
	if c.store != nil {
		return c.store.Close()
	}
	return nil
}

// WithConfig sets the full configuration for the coordinator.
func WithConfig(cfg Config) Option {
	return func(c *Courier) error {
		c.config = cfg
		return nil
	}
}

// WithLogger sets the structured logger for the coordinator.
func WithLogger(l *slog.Logger) Option {
	return func(c *Courier) error {
		c.logger = l
		return nil
	}
}

// WithStore sets the persistence backend for the coordinator.
// The store must implement Storer at minimum; typically it will be a
// store.Store which embeds all subsystem store interfaces.
func WithStore(s Storer) Option {
	return func(c *Courier) error {
		c.store = s
		return nil
	}
}
