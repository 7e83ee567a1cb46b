package queue

import (
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"github.com/openmeet/courier/job"
)

// LimitConfig defines per-queue dispatch behaviour such as rate limiting
// and concurrency.
type LimitConfig struct {
	// Queue is the queue type this config applies to.
	Queue job.Type

	// MaxConcurrency limits how many jobs from this queue may run
	// simultaneously in the local process. Zero means no queue-specific
	// limit (pool size still applies).
	MaxConcurrency int

	// RateLimit is the maximum sustained jobs per second that may be
	// dequeued from this queue. Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int
}

// OrgLimitConfig defines rate limits and concurrency for a specific
// organization on a specific queue, identified by the job's OrgID.
type OrgLimitConfig struct {
	// Queue is the queue type this config applies to.
	Queue job.Type

	// OrgID is the organization identifier (the job's OrgID).
	OrgID string

	// RateLimit is the sustained jobs per second for this org.
	RateLimit float64

	// RateBurst is the burst size for the org's rate limiter.
	RateBurst int

	// MaxConcurrency limits simultaneous jobs for this org on this
	// queue. Zero means no org-specific concurrency limit.
	MaxConcurrency int
}

// queueSlot tracks runtime state for a single queue.
type queueSlot struct {
	config  LimitConfig
	limiter *rate.Limiter
	active  int
}

// orgSlot tracks runtime state for a single queue+org pair.
type orgSlot struct {
	limiter        *rate.Limiter
	maxConcurrency int
	active         int
}

// orgKey builds the map key for a queue+org pair.
func orgKey(queue job.Type, orgID string) string {
	return fmt.Sprintf("%s:%s", queue, orgID)
}

// Limiter controls per-queue and per-org rate limiting and concurrency
// for the local worker pools. It is safe for concurrent use.
type Limiter struct {
	mu     sync.Mutex
	queues map[job.Type]*queueSlot
	orgs   map[string]*orgSlot
}

// NewLimiter creates a Limiter with the given queue configurations.
// Queues not listed here have no limits.
func NewLimiter(configs ...LimitConfig) *Limiter {
	l := &Limiter{
		queues: make(map[job.Type]*queueSlot, len(configs)),
		orgs:   make(map[string]*orgSlot),
	}
	for _, cfg := range configs {
		l.queues[cfg.Queue] = newQueueSlot(cfg)
	}
	return l
}

func newQueueSlot(cfg LimitConfig) *queueSlot {
	qs := &queueSlot{config: cfg}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		qs.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return qs
}

// Acquire checks rate limits and concurrency for the given queue and
// org. If the job is allowed to proceed it increments the active
// counters and returns true. The caller MUST call Release when the job
// completes.
func (l *Limiter) Acquire(queue job.Type, orgID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Concurrency checks first: they consume nothing, so a denial here
	// never costs a rate token at either level.
	qs := l.queues[queue]
	if qs != nil && qs.config.MaxConcurrency > 0 && qs.active >= qs.config.MaxConcurrency {
		return false
	}

	var os *orgSlot
	if orgID != "" {
		os = l.orgs[orgKey(queue, orgID)]
	}
	if os != nil && os.maxConcurrency > 0 && os.active >= os.maxConcurrency {
		return false
	}

	// Token checks last. The org token is taken as a reservation so it
	// can be returned if the queue-level limiter then denies; the queue
	// token is only taken once every other constraint has passed.
	var orgRes *rate.Reservation
	if os != nil && os.limiter != nil {
		orgRes = os.limiter.Reserve()
		if !orgRes.OK() || orgRes.Delay() > 0 {
			orgRes.Cancel()
			return false
		}
	}
	if qs != nil && qs.limiter != nil && !qs.limiter.Allow() {
		if orgRes != nil {
			orgRes.Cancel()
		}
		return false
	}

	if os != nil {
		os.active++
	}
	if qs != nil {
		qs.active++
	}
	return true
}

// Release decrements the active job count for the queue and org.
func (l *Limiter) Release(queue job.Type, orgID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if qs := l.queues[queue]; qs != nil && qs.active > 0 {
		qs.active--
	}

	if orgID != "" {
		if os := l.orgs[orgKey(queue, orgID)]; os != nil && os.active > 0 {
			os.active--
		}
	}
}

// SetLimit dynamically updates (or creates) a queue configuration.
func (l *Limiter) SetLimit(cfg LimitConfig) {
	l.mu.Lock()
	defer l.mu.Unlock()

	existing := l.queues[cfg.Queue]
	qs := newQueueSlot(cfg)

	// Preserve current active count if reconfiguring.
	if existing != nil {
		qs.active = existing.active
	}
	l.queues[cfg.Queue] = qs
}

// SetOrgLimit configures rate limits and concurrency for a specific org
// on a specific queue. Calling this multiple times for the same
// queue+org replaces the previous configuration.
func (l *Limiter) SetOrgLimit(cfg OrgLimitConfig) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := orgKey(cfg.Queue, cfg.OrgID)
	existing := l.orgs[key]

	os := &orgSlot{
		maxConcurrency: cfg.MaxConcurrency,
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		os.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	// Preserve current active count if reconfiguring.
	if existing != nil {
		os.active = existing.active
	}
	l.orgs[key] = os
}

// ActiveCount returns the current number of active jobs for a queue.
func (l *Limiter) ActiveCount(queue job.Type) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if qs := l.queues[queue]; qs != nil {
		return qs.active
	}
	return 0
}

// OrgActiveCount returns the current number of active jobs for a
// queue+org pair.
func (l *Limiter) OrgActiveCount(queue job.Type, orgID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if os := l.orgs[orgKey(queue, orgID)]; os != nil {
		return os.active
	}
	return 0
}
