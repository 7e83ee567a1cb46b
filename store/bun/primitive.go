package bunstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ── Cache ─────────────────────────────────────────────────────────

// GetCache returns the cached value and whether the key was present.
// Expired rows are treated as absent; the sweep happens on writes.
func (s *Store) GetCache(ctx context.Context, key string) ([]byte, bool, error) {
	m := new(cacheModel)
	err := s.db.NewSelect().Model(m).
		Where("key = ?", key).
		Where("expires_at IS NULL OR expires_at > NOW()").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("courier/bun: get cache: %w", err)
	}
	return m.Value, true, nil
}

// SetCache stores value under key, expiring after ttl. A zero ttl stores
// the value without expiry.
func (s *Store) SetCache(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m := &cacheModel{
		Key:       key,
		Value:     value,
		UpdatedAt: time.Now().UTC(),
	}
	if ttl > 0 {
		exp := time.Now().UTC().Add(ttl)
		m.ExpiresAt = &exp
	}

	_, err := s.db.NewInsert().Model(m).
		On("CONFLICT (key) DO UPDATE").
		Set("value = EXCLUDED.value").
		Set("expires_at = EXCLUDED.expires_at").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("courier/bun: set cache: %w", err)
	}

	// Opportunistically sweep expired rows so the table stays bounded.
	_, err = s.db.NewDelete().
		TableExpr("courier_cache").
		Where("expires_at IS NOT NULL AND expires_at <= NOW()").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("courier/bun: sweep cache: %w", err)
	}
	return nil
}

// DeleteCache removes key. Deleting a missing key is not an error.
func (s *Store) DeleteCache(ctx context.Context, key string) error {
	_, err := s.db.NewDelete().
		TableExpr("courier_cache").
		Where("key = ?", key).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("courier/bun: delete cache: %w", err)
	}
	return nil
}

// ── Locker ────────────────────────────────────────────────────────

// AcquireLock attempts to take the advisory lock for resource. An upsert
// steals the row only when the previous hold has expired, so a live lock
// is never displaced.
func (s *Store) AcquireLock(ctx context.Context, resource string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	m := &lockModel{
		Resource:  resource,
		Token:     token,
		ExpiresAt: time.Now().UTC().Add(ttl),
	}

	res, err := s.db.NewInsert().Model(m).
		On("CONFLICT (resource) DO UPDATE").
		Set("token = EXCLUDED.token").
		Set("expires_at = EXCLUDED.expires_at").
		Where("courier_locks.expires_at <= NOW()").
		Exec(ctx)
	if err != nil {
		return "", false, fmt.Errorf("courier/bun: acquire lock: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return "", false, nil
	}
	return token, true, nil
}

// ReleaseLock releases the lock if token matches the current owner.
func (s *Store) ReleaseLock(ctx context.Context, resource, token string) (bool, error) {
	res, err := s.db.NewDelete().
		TableExpr("courier_locks").
		Where("resource = ?", resource).
		Where("token = ?", token).
		Where("expires_at > NOW()").
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("courier/bun: release lock: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	return rows == 1, nil
}

// ── Rate counter ──────────────────────────────────────────────────

// IncrWindow increments the fixed-window counter for the window
// containing now and returns the new count.
func (s *Store) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	start := time.Now().UTC().Truncate(window)
	wKey := fmt.Sprintf("%s:%d", key, start.Unix())
	expires := start.Add(window)

	var count int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO courier_rate_windows (window_key, count, expires_at)
		VALUES (?, 1, ?)
		ON CONFLICT (window_key)
		DO UPDATE SET count = courier_rate_windows.count + 1
		RETURNING count`,
		wKey, expires,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("courier/bun: incr window: %w", err)
	}

	// Closed windows can never be read again; sweep them.
	_, err = s.db.NewDelete().
		TableExpr("courier_rate_windows").
		Where("expires_at <= NOW()").
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("courier/bun: sweep windows: %w", err)
	}
	return count, nil
}
