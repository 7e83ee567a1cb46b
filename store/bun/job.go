package bunstore

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	courier "github.com/openmeet/courier"
	"github.com/openmeet/courier/id"
	"github.com/openmeet/courier/job"
)

// EnqueueJob persists a new job in waiting (or delayed) state.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	m := toJobModel(j)
	_, err := s.db.NewInsert().Model(m).Exec(ctx)
	if err != nil {
		if isDuplicateKey(err) {
			return courier.ErrJobAlreadyExists
		}
		return fmt.Errorf("courier/bun: enqueue job: %w", err)
	}
	return nil
}

// EnqueueJobs persists a batch of jobs in one transaction. Any duplicate
// rolls the whole batch back.
func (s *Store) EnqueueJobs(ctx context.Context, jobs []*job.Job) error {
	if len(jobs) == 0 {
		return nil
	}

	models := make([]*jobModel, 0, len(jobs))
	for _, j := range jobs {
		models = append(models, toJobModel(j))
	}

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, insErr := tx.NewInsert().Model(&models).Exec(ctx)
		return insErr
	})
	if err != nil {
		if isDuplicateKey(err) {
			return courier.ErrJobAlreadyExists
		}
		return fmt.Errorf("courier/bun: enqueue jobs: %w", err)
	}
	return nil
}

// DequeueJobs atomically claims up to limit ready jobs from the queue,
// sets them active, and returns them ordered by priority then submission
// time. Uses SELECT FOR UPDATE SKIP LOCKED for concurrent-safe dequeue
// via raw SQL. A paused queue yields no jobs.
func (s *Store) DequeueJobs(ctx context.Context, queue job.Type, limit int) ([]*job.Job, error) {
	paused, err := s.IsQueuePaused(ctx, queue)
	if err != nil {
		return nil, err
	}
	if paused {
		return nil, nil
	}

	var models []jobModel
	_, err = s.db.NewRaw(`
		WITH dequeued AS (
			UPDATE courier_jobs
			SET state = 'active', started_at = NOW(), updated_at = NOW()
			WHERE id IN (
				SELECT id FROM courier_jobs
				WHERE type = ?0
				  AND state IN ('waiting', 'delayed')
				  AND run_at <= NOW()
				ORDER BY priority ASC, created_at ASC
				FOR UPDATE SKIP LOCKED
				LIMIT ?1
			)
			RETURNING *
		)
		SELECT * FROM dequeued ORDER BY priority ASC, created_at ASC`,
		string(queue), limit,
	).Exec(ctx, &models)
	if err != nil {
		return nil, fmt.Errorf("courier/bun: dequeue jobs: %w", err)
	}

	jobs := make([]*job.Job, 0, len(models))
	for i := range models {
		j, convErr := fromJobModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("courier/bun: dequeue convert: %w", convErr)
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// GetJob retrieves a job by ID within a queue.
func (s *Store) GetJob(ctx context.Context, queue job.Type, jobID id.JobID) (*job.Job, error) {
	m := new(jobModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", jobID.String()).
		Where("type = ?", string(queue)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, courier.ErrJobNotFound
		}
		return nil, fmt.Errorf("courier/bun: get job: %w", err)
	}
	return fromJobModel(m)
}

// UpdateJob persists changes to an existing job.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	m := toJobModel(j)
	m.UpdatedAt = time.Now().UTC()
	res, err := s.db.NewUpdate().Model(m).WherePK().Exec(ctx)
	if err != nil {
		return fmt.Errorf("courier/bun: update job: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return courier.ErrJobNotFound
	}
	return nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, queue job.Type, jobID id.JobID) error {
	res, err := s.db.NewDelete().
		TableExpr("courier_jobs").
		Where("id = ?", jobID.String()).
		Where("type = ?", string(queue)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("courier/bun: delete job: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return courier.ErrJobNotFound
	}
	return nil
}

// ListJobsByState returns jobs in the queue matching the given state.
func (s *Store) ListJobsByState(ctx context.Context, queue job.Type, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	var models []jobModel
	q := s.db.NewSelect().Model(&models).
		Where("type = ?", string(queue)).
		Where("state = ?", string(state)).
		Order("created_at ASC")

	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}

	err := q.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("courier/bun: list jobs by state: %w", err)
	}

	jobs := make([]*job.Job, 0, len(models))
	for i := range models {
		j, convErr := fromJobModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("courier/bun: list jobs convert: %w", convErr)
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// QueueStats returns the per-state job counts for the queue.
func (s *Store) QueueStats(ctx context.Context, queue job.Type) (job.Stats, error) {
	var rows []struct {
		State string `bun:"state"`
		Count int64  `bun:"count"`
	}
	err := s.db.NewSelect().
		TableExpr("courier_jobs").
		ColumnExpr("state, COUNT(*) AS count").
		Where("type = ?", string(queue)).
		GroupExpr("state").
		Scan(ctx, &rows)
	if err != nil {
		return job.Stats{}, fmt.Errorf("courier/bun: queue stats: %w", err)
	}

	var stats job.Stats
	for _, r := range rows {
		switch job.State(r.State) {
		case job.StateWaiting:
			stats.Waiting = r.Count
		case job.StateActive:
			stats.Active = r.Count
		case job.StateCompleted:
			stats.Completed = r.Count
		case job.StateFailed:
			stats.Failed = r.Count
		case job.StateDelayed:
			stats.Delayed = r.Count
		}
	}

	paused, err := s.IsQueuePaused(ctx, queue)
	if err != nil {
		return job.Stats{}, err
	}
	stats.Paused = paused
	return stats, nil
}

// PauseQueue stops dispatch for the queue; submissions still land.
func (s *Store) PauseQueue(ctx context.Context, queue job.Type) error {
	return s.setQueuePaused(ctx, queue, true)
}

// ResumeQueue re-enables dispatch for the queue.
func (s *Store) ResumeQueue(ctx context.Context, queue job.Type) error {
	return s.setQueuePaused(ctx, queue, false)
}

func (s *Store) setQueuePaused(ctx context.Context, queue job.Type, paused bool) error {
	m := &queueStateModel{
		Queue:     string(queue),
		Paused:    paused,
		UpdatedAt: time.Now().UTC(),
	}
	_, err := s.db.NewInsert().Model(m).
		On("CONFLICT (queue) DO UPDATE").
		Set("paused = EXCLUDED.paused").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("courier/bun: set queue paused: %w", err)
	}
	return nil
}

// IsQueuePaused reports the queue's admission-control flag. A queue with
// no state row has never been paused.
func (s *Store) IsQueuePaused(ctx context.Context, queue job.Type) (bool, error) {
	m := new(queueStateModel)
	err := s.db.NewSelect().Model(m).
		Where("queue = ?", string(queue)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return false, nil
		}
		return false, fmt.Errorf("courier/bun: queue paused: %w", err)
	}
	return m.Paused, nil
}

// DrainExpiredJobs removes completed jobs finished before the cutoff.
func (s *Store) DrainExpiredJobs(ctx context.Context, queue job.Type, before time.Time) (int64, error) {
	res, err := s.db.NewDelete().
		TableExpr("courier_jobs").
		Where("type = ?", string(queue)).
		Where("state = ?", string(job.StateCompleted)).
		Where("completed_at IS NOT NULL").
		Where("completed_at < ?", before).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("courier/bun: drain expired jobs: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	return rows, nil
}

// TrimJobHistory bounds the retained completed/failed history for the
// queue, evicting the oldest terminal jobs beyond each cap. A negative
// cap leaves that state untouched.
func (s *Store) TrimJobHistory(ctx context.Context, queue job.Type, completedMax, failedMax int) error {
	trim := func(state job.State, maxKeep int) error {
		if maxKeep < 0 {
			return nil
		}
		_, err := s.db.NewRaw(`
			DELETE FROM courier_jobs
			WHERE id IN (
				SELECT id FROM courier_jobs
				WHERE type = ?0 AND state = ?1
				ORDER BY COALESCE(completed_at, updated_at) DESC
				OFFSET ?2
			)`,
			string(queue), string(state), maxKeep,
		).Exec(ctx)
		if err != nil {
			return fmt.Errorf("courier/bun: trim %s history: %w", state, err)
		}
		return nil
	}

	if err := trim(job.StateCompleted, completedMax); err != nil {
		return err
	}
	return trim(job.StateFailed, failedMax)
}

// HeartbeatJob updates the heartbeat timestamp for an active job.
func (s *Store) HeartbeatJob(ctx context.Context, queue job.Type, jobID id.JobID, workerID id.WorkerID) error {
	res, err := s.db.NewUpdate().
		TableExpr("courier_jobs").
		Set("heartbeat_at = NOW()").
		Set("worker_id = ?", workerID.String()).
		Set("updated_at = NOW()").
		Where("id = ?", jobID.String()).
		Where("type = ?", string(queue)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("courier/bun: heartbeat job: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return courier.ErrJobNotFound
	}
	return nil
}

// ReapStaleJobs returns active jobs in the queue whose last heartbeat is
// older than the given threshold.
func (s *Store) ReapStaleJobs(ctx context.Context, queue job.Type, threshold time.Duration) ([]*job.Job, error) {
	cutoff := time.Now().UTC().Add(-threshold)

	var models []jobModel
	err := s.db.NewSelect().Model(&models).
		Where("type = ?", string(queue)).
		Where("state = ?", string(job.StateActive)).
		Where("heartbeat_at IS NOT NULL").
		Where("heartbeat_at < ?", cutoff).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("courier/bun: reap stale jobs: %w", err)
	}

	jobs := make([]*job.Job, 0, len(models))
	for i := range models {
		j, convErr := fromJobModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("courier/bun: reap stale convert: %w", convErr)
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}
