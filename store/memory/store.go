// Package memory provides a fully in-memory store backend. Safe for
// concurrent access. Intended for unit testing and development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	courier "github.com/openmeet/courier"
	"github.com/openmeet/courier/id"
	"github.com/openmeet/courier/job"
	"github.com/openmeet/courier/primitive"
	"github.com/openmeet/courier/webhook"
)

// Ensure Store implements store.Store at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ job.Store                 = (*Store)(nil)
	_ webhook.SubscriptionStore = (*Store)(nil)
	_ webhook.LogStore          = (*Store)(nil)
	_ primitive.Cache           = (*Store)(nil)
	_ primitive.Locker          = (*Store)(nil)
	_ primitive.RateCounter     = (*Store)(nil)
)

type cacheEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

type lockEntry struct {
	token     string
	expiresAt time.Time
}

type windowEntry struct {
	count     int64
	expiresAt time.Time
}

// Store is a fully in-memory implementation of store.Store.
type Store struct {
	mu sync.RWMutex

	jobs       map[string]*job.Job
	paused     map[job.Type]bool
	subs       map[string]*webhook.Subscription
	deliveries []*webhook.DeliveryEntry
	cache      map[string]cacheEntry
	locks      map[string]lockEntry
	windows    map[string]windowEntry
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs:    make(map[string]*job.Job),
		paused:  make(map[job.Type]bool),
		subs:    make(map[string]*webhook.Subscription),
		cache:   make(map[string]cacheEntry),
		locks:   make(map[string]lockEntry),
		windows: make(map[string]windowEntry),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle — Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// EnqueueJob persists a new job.
func (m *Store) EnqueueJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return courier.ErrJobAlreadyExists
	}
	cp := *j
	m.jobs[key] = &cp
	return nil
}

// EnqueueJobs persists a batch of jobs. The whole batch is rejected if
// any job ID already exists.
func (m *Store) EnqueueJobs(_ context.Context, jobs []*job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, j := range jobs {
		if _, exists := m.jobs[j.ID.String()]; exists {
			return fmt.Errorf("job %s: %w", j.ID, courier.ErrJobAlreadyExists)
		}
	}
	for _, j := range jobs {
		cp := *j
		m.jobs[j.ID.String()] = &cp
	}
	return nil
}

// DequeueJobs atomically claims up to limit ready jobs from the given
// queue, sets them active, and returns them.
func (m *Store) DequeueJobs(_ context.Context, queue job.Type, limit int) ([]*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.paused[queue] {
		return nil, nil
	}

	now := time.Now().UTC()

	candidates := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if j.Type != queue || !j.Ready(now) {
			continue
		}
		candidates = append(candidates, j)
	}

	// Sort: priority ASC (lower value first), then submission order.
	sort.Slice(candidates, func(i, k int) bool {
		if candidates[i].Priority != candidates[k].Priority {
			return candidates[i].Priority < candidates[k].Priority
		}
		return candidates[i].CreatedAt.Before(candidates[k].CreatedAt)
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	result := make([]*job.Job, len(candidates))
	for i, j := range candidates {
		j.State = job.StateActive
		j.UpdatedAt = now
		// Return a copy so callers can mutate without racing with the store.
		cp := *j
		result[i] = &cp
	}

	return result, nil
}

// GetJob retrieves a job by ID within a queue.
func (m *Store) GetJob(_ context.Context, queue job.Type, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok || j.Type != queue {
		return nil, courier.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

// UpdateJob persists changes to an existing job.
func (m *Store) UpdateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, ok := m.jobs[key]; !ok {
		return courier.ErrJobNotFound
	}
	cp := *j
	cp.UpdatedAt = time.Now().UTC()
	m.jobs[key] = &cp
	return nil
}

// DeleteJob removes a job by ID.
func (m *Store) DeleteJob(_ context.Context, queue job.Type, jobID id.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := jobID.String()
	j, ok := m.jobs[key]
	if !ok || j.Type != queue {
		return courier.ErrJobNotFound
	}
	delete(m.jobs, key)
	return nil
}

// ListJobsByState returns jobs in the queue matching the given state.
func (m *Store) ListJobsByState(_ context.Context, queue job.Type, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if j.Type != queue || j.State != state {
			continue
		}
		cp := *j
		result = append(result, &cp)
	}

	// Sort by CreatedAt for deterministic output.
	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}

	return result, nil
}

// QueueStats returns the per-state job counts for the queue.
func (m *Store) QueueStats(_ context.Context, queue job.Type) (job.Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var s job.Stats
	for _, j := range m.jobs {
		if j.Type != queue {
			continue
		}
		switch j.State {
		case job.StateWaiting:
			s.Waiting++
		case job.StateActive:
			s.Active++
		case job.StateCompleted:
			s.Completed++
		case job.StateFailed:
			s.Failed++
		case job.StateDelayed:
			s.Delayed++
		}
	}
	s.Paused = m.paused[queue]
	return s, nil
}

// PauseQueue stops dispatch for the queue; submissions still land.
func (m *Store) PauseQueue(_ context.Context, queue job.Type) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused[queue] = true
	return nil
}

// ResumeQueue re-enables dispatch for the queue.
func (m *Store) ResumeQueue(_ context.Context, queue job.Type) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.paused, queue)
	return nil
}

// IsQueuePaused reports the queue's admission-control flag.
func (m *Store) IsQueuePaused(_ context.Context, queue job.Type) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paused[queue], nil
}

// DrainExpiredJobs removes completed jobs finished before the cutoff.
func (m *Store) DrainExpiredJobs(_ context.Context, queue job.Type, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	for key, j := range m.jobs {
		if j.Type != queue || j.State != job.StateCompleted {
			continue
		}
		if j.CompletedAt != nil && j.CompletedAt.Before(before) {
			delete(m.jobs, key)
			count++
		}
	}
	return count, nil
}

// TrimJobHistory bounds the retained completed/failed history for the
// queue, evicting the oldest terminal jobs beyond each cap.
func (m *Store) TrimJobHistory(_ context.Context, queue job.Type, completedMax, failedMax int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.trimState(queue, job.StateCompleted, completedMax)
	m.trimState(queue, job.StateFailed, failedMax)
	return nil
}

// trimState evicts the oldest jobs in the given terminal state beyond
// max. Caller holds the lock.
func (m *Store) trimState(queue job.Type, state job.State, max int) {
	if max <= 0 {
		return
	}
	var terminal []*job.Job
	for _, j := range m.jobs {
		if j.Type == queue && j.State == state {
			terminal = append(terminal, j)
		}
	}
	if len(terminal) <= max {
		return
	}
	// Newest first; the tail past max gets evicted.
	sort.Slice(terminal, func(i, k int) bool {
		ti, tk := terminal[i].UpdatedAt, terminal[k].UpdatedAt
		if terminal[i].CompletedAt != nil {
			ti = *terminal[i].CompletedAt
		}
		if terminal[k].CompletedAt != nil {
			tk = *terminal[k].CompletedAt
		}
		return ti.After(tk)
	})
	for _, j := range terminal[max:] {
		delete(m.jobs, j.ID.String())
	}
}

// HeartbeatJob updates the heartbeat timestamp for an active job.
func (m *Store) HeartbeatJob(_ context.Context, queue job.Type, jobID id.JobID, _ id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok || j.Type != queue {
		return courier.ErrJobNotFound
	}
	now := time.Now().UTC()
	j.HeartbeatAt = &now
	return nil
}

// ReapStaleJobs returns active jobs in the queue whose last heartbeat is
// older than the given threshold.
func (m *Store) ReapStaleJobs(_ context.Context, queue job.Type, threshold time.Duration) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := time.Now().UTC().Add(-threshold)
	var stale []*job.Job
	for _, j := range m.jobs {
		if j.Type != queue || j.State != job.StateActive {
			continue
		}
		if j.HeartbeatAt != nil && j.HeartbeatAt.Before(cutoff) {
			cp := *j
			stale = append(stale, &cp)
		}
	}
	return stale, nil
}

// ──────────────────────────────────────────────────
// Webhook Subscription Store
// ──────────────────────────────────────────────────

// CreateSubscription persists a new webhook subscription.
func (m *Store) CreateSubscription(_ context.Context, sub *webhook.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *sub
	m.subs[sub.ID.String()] = &cp
	return nil
}

// GetSubscription retrieves a webhook subscription by ID.
func (m *Store) GetSubscription(_ context.Context, hookID id.HookID) (*webhook.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sub, ok := m.subs[hookID.String()]
	if !ok {
		return nil, courier.ErrSubscriptionNotFound
	}
	cp := *sub
	return &cp, nil
}

// UpdateSubscription persists changes to an existing subscription.
func (m *Store) UpdateSubscription(_ context.Context, sub *webhook.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := sub.ID.String()
	if _, ok := m.subs[key]; !ok {
		return courier.ErrSubscriptionNotFound
	}
	cp := *sub
	cp.UpdatedAt = time.Now().UTC()
	m.subs[key] = &cp
	return nil
}

// DeleteSubscription removes a webhook subscription by ID.
func (m *Store) DeleteSubscription(_ context.Context, hookID id.HookID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := hookID.String()
	if _, ok := m.subs[key]; !ok {
		return courier.ErrSubscriptionNotFound
	}
	delete(m.subs, key)
	return nil
}

// ListSubscriptionsByOrg returns an organization's subscriptions.
func (m *Store) ListSubscriptionsByOrg(_ context.Context, orgID string, activeOnly bool) ([]*webhook.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*webhook.Subscription
	for _, sub := range m.subs {
		if sub.OrgID != orgID {
			continue
		}
		if activeOnly && !sub.IsActive {
			continue
		}
		cp := *sub
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})

	return result, nil
}

// ──────────────────────────────────────────────────
// Webhook Delivery Log
// ──────────────────────────────────────────────────

// AppendDelivery records one delivery attempt.
func (m *Store) AppendDelivery(_ context.Context, entry *webhook.DeliveryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *entry
	m.deliveries = append(m.deliveries, &cp)
	return nil
}

// ListDeliveries returns delivery log entries newest-first.
func (m *Store) ListDeliveries(_ context.Context, q webhook.LogQuery) ([]*webhook.DeliveryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*webhook.DeliveryEntry
	for _, e := range m.deliveries {
		if !q.WebhookID.IsNil() && e.WebhookID != q.WebhookID {
			continue
		}
		if !q.Since.IsZero() && e.CreatedAt.Before(q.Since) {
			continue
		}
		cp := *e
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.After(result[k].CreatedAt)
	})

	if q.Limit > 0 && len(result) > q.Limit {
		result = result[:q.Limit]
	}

	return result, nil
}

// ──────────────────────────────────────────────────
// Primitives — Cache / Locker / RateCounter
// ──────────────────────────────────────────────────

// GetCache returns the cached value and whether the key was present.
// Expired entries are dropped lazily on read.
func (m *Store) GetCache(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.cache[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expiresAt.IsZero() && e.expiresAt.Before(time.Now().UTC()) {
		delete(m.cache, key)
		return nil, false, nil
	}
	cp := make([]byte, len(e.value))
	copy(cp, e.value)
	return cp, true, nil
}

// SetCache stores value under key, expiring after ttl.
func (m *Store) SetCache(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := make([]byte, len(value))
	copy(cp, value)
	e := cacheEntry{value: cp}
	if ttl > 0 {
		e.expiresAt = time.Now().UTC().Add(ttl)
	}
	m.cache[key] = e
	return nil
}

// DeleteCache removes key. Deleting a missing key is not an error.
func (m *Store) DeleteCache(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cache, key)
	return nil
}

// AcquireLock attempts to take the advisory lock for resource. Expired
// locks are implicitly free.
func (m *Store) AcquireLock(_ context.Context, resource string, ttl time.Duration) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	if e, ok := m.locks[resource]; ok && e.expiresAt.After(now) {
		return "", false, nil
	}

	token := uuid.NewString()
	m.locks[resource] = lockEntry{token: token, expiresAt: now.Add(ttl)}
	return token, true, nil
}

// ReleaseLock releases the lock if token matches the current owner.
func (m *Store) ReleaseLock(_ context.Context, resource, token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.locks[resource]
	if !ok || e.token != token || e.expiresAt.Before(time.Now().UTC()) {
		return false, nil
	}
	delete(m.locks, resource)
	return true, nil
}

// IncrWindow increments the fixed-window counter for the window
// containing now and returns the new count.
func (m *Store) IncrWindow(_ context.Context, key string, window time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	start := now.Truncate(window)
	wKey := fmt.Sprintf("%s:%d", key, start.Unix())

	e, ok := m.windows[wKey]
	if !ok {
		e = windowEntry{expiresAt: start.Add(window)}
	}
	e.count++
	m.windows[wKey] = e

	// Opportunistically drop expired windows to bound growth.
	for k, w := range m.windows {
		if w.expiresAt.Before(now) {
			delete(m.windows, k)
		}
	}
	return e.count, nil
}
