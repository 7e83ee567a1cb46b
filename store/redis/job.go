package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	courier "github.com/openmeet/courier"
	"github.com/openmeet/courier/id"
	"github.com/openmeet/courier/job"
)

// EnqueueJob stores the job as a Hash and adds it to the queue's ready
// or delayed Sorted Set.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	key := jobKey(jID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("courier/redis: enqueue check exists: %w", err)
	}
	if exists > 0 {
		return courier.ErrJobAlreadyExists
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, jobToMap(j))
	pipe.SAdd(ctx, queueJobsKey(j.Type.String()), jID)
	s.scheduleInPipe(ctx, pipe, j)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("courier/redis: enqueue job: %w", err)
	}
	return nil
}

// EnqueueJobs persists a batch of jobs in one transaction. The whole
// batch is rejected if any job ID already exists.
func (s *Store) EnqueueJobs(ctx context.Context, jobs []*job.Job) error {
	for _, j := range jobs {
		exists, err := s.client.Exists(ctx, jobKey(j.ID.String())).Result()
		if err != nil {
			return fmt.Errorf("courier/redis: enqueue batch check exists: %w", err)
		}
		if exists > 0 {
			return fmt.Errorf("job %s: %w", j.ID, courier.ErrJobAlreadyExists)
		}
	}

	pipe := s.client.TxPipeline()
	for _, j := range jobs {
		jID := j.ID.String()
		pipe.HSet(ctx, jobKey(jID), jobToMap(j))
		pipe.SAdd(ctx, queueJobsKey(j.Type.String()), jID)
		s.scheduleInPipe(ctx, pipe, j)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("courier/redis: enqueue batch: %w", err)
	}
	return nil
}

// DequeueJobs atomically pops up to limit ready jobs from the queue and
// marks them active. Due delayed jobs are promoted first.
func (s *Store) DequeueJobs(ctx context.Context, queue job.Type, limit int) ([]*job.Job, error) {
	paused, err := s.IsQueuePaused(ctx, queue)
	if err != nil {
		return nil, err
	}
	if paused {
		return nil, nil
	}

	if err := s.promoteDue(ctx, queue); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	members, err := s.client.ZPopMin(ctx, queueReadyKey(queue.String()), int64(limit)).Result()
	if err != nil {
		return nil, fmt.Errorf("courier/redis: dequeue zpopmin: %w", err)
	}

	var jobs []*job.Job
	for _, z := range members {
		jID, ok := z.Member.(string)
		if !ok {
			continue
		}

		key := jobKey(jID)
		if err := s.client.HSet(ctx, key,
			"state", string(job.StateActive),
			"updated_at", now.Format(time.RFC3339Nano),
		).Err(); err != nil {
			return nil, fmt.Errorf("courier/redis: dequeue update: %w", err)
		}

		j, getErr := s.getJobByKey(ctx, key)
		if getErr != nil {
			continue // evicted between pop and fetch
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// promoteDue moves delayed jobs whose RunAt has passed into the ready set.
func (s *Store) promoteDue(ctx context.Context, queue job.Type) error {
	delayedKey := queueDelayedKey(queue.String())
	nowMilli := time.Now().UTC().UnixMilli()

	due, err := s.client.ZRangeByScore(ctx, delayedKey, &goredis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(nowMilli, 10),
	}).Result()
	if err != nil {
		return fmt.Errorf("courier/redis: promote due: %w", err)
	}
	if len(due) == 0 {
		return nil
	}

	pipe := s.client.TxPipeline()
	for _, jID := range due {
		priority, pErr := s.client.HGet(ctx, jobKey(jID), "priority").Int()
		if pErr != nil {
			priority = job.PriorityNormal
		}
		pipe.ZRem(ctx, delayedKey, jID)
		pipe.ZAdd(ctx, queueReadyKey(queue.String()), goredis.Z{
			Score:  readyScore(priority, time.Now().UTC()),
			Member: jID,
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("courier/redis: promote due exec: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID within a queue.
func (s *Store) GetJob(ctx context.Context, queue job.Type, jobID id.JobID) (*job.Job, error) {
	j, err := s.getJobByKey(ctx, jobKey(jobID.String()))
	if err != nil {
		return nil, err
	}
	if j.Type != queue {
		return nil, courier.ErrJobNotFound
	}
	return j, nil
}

// UpdateJob persists changes to an existing job and reconciles its queue
// membership with the new state.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	key := jobKey(jID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("courier/redis: update job exists: %w", err)
	}
	if exists == 0 {
		return courier.ErrJobNotFound
	}

	fields := jobToMap(j)
	fields["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.ZRem(ctx, queueReadyKey(j.Type.String()), jID)
	pipe.ZRem(ctx, queueDelayedKey(j.Type.String()), jID)
	s.scheduleInPipe(ctx, pipe, j)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("courier/redis: update job: %w", err)
	}
	return nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, queue job.Type, jobID id.JobID) error {
	jID := jobID.String()
	key := jobKey(jID)

	storedQueue, err := s.client.HGet(ctx, key, "type").Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return courier.ErrJobNotFound
		}
		return fmt.Errorf("courier/redis: delete job get queue: %w", err)
	}
	if storedQueue != queue.String() {
		return courier.ErrJobNotFound
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, queueJobsKey(storedQueue), jID)
	pipe.ZRem(ctx, queueReadyKey(storedQueue), jID)
	pipe.ZRem(ctx, queueDelayedKey(storedQueue), jID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("courier/redis: delete job: %w", err)
	}
	return nil
}

// ListJobsByState returns jobs in the queue matching the given state.
func (s *Store) ListJobsByState(ctx context.Context, queue job.Type, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	jobs, err := s.queueJobs(ctx, queue)
	if err != nil {
		return nil, err
	}

	filtered := jobs[:0]
	for _, j := range jobs {
		if j.State == state {
			filtered = append(filtered, j)
		}
	}

	sort.Slice(filtered, func(i, k int) bool {
		return filtered[i].CreatedAt.Before(filtered[k].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(filtered) {
			return nil, nil
		}
		filtered = filtered[opts.Offset:]
	}
	if opts.Limit > 0 && len(filtered) > opts.Limit {
		filtered = filtered[:opts.Limit]
	}
	return filtered, nil
}

// QueueStats returns the per-state job counts for the queue.
func (s *Store) QueueStats(ctx context.Context, queue job.Type) (job.Stats, error) {
	var stats job.Stats

	jobs, err := s.queueJobs(ctx, queue)
	if err != nil {
		return stats, err
	}
	for _, j := range jobs {
		switch j.State {
		case job.StateWaiting:
			stats.Waiting++
		case job.StateActive:
			stats.Active++
		case job.StateCompleted:
			stats.Completed++
		case job.StateFailed:
			stats.Failed++
		case job.StateDelayed:
			stats.Delayed++
		}
	}
	stats.Paused, err = s.IsQueuePaused(ctx, queue)
	if err != nil {
		return stats, err
	}
	return stats, nil
}

// PauseQueue stops dispatch for the queue; submissions still land.
func (s *Store) PauseQueue(ctx context.Context, queue job.Type) error {
	if err := s.client.Set(ctx, queuePausedKey(queue.String()), "1", 0).Err(); err != nil {
		return fmt.Errorf("courier/redis: pause queue: %w", err)
	}
	return nil
}

// ResumeQueue re-enables dispatch for the queue.
func (s *Store) ResumeQueue(ctx context.Context, queue job.Type) error {
	if err := s.client.Del(ctx, queuePausedKey(queue.String())).Err(); err != nil {
		return fmt.Errorf("courier/redis: resume queue: %w", err)
	}
	return nil
}

// IsQueuePaused reports the queue's admission-control flag.
func (s *Store) IsQueuePaused(ctx context.Context, queue job.Type) (bool, error) {
	n, err := s.client.Exists(ctx, queuePausedKey(queue.String())).Result()
	if err != nil {
		return false, fmt.Errorf("courier/redis: paused check: %w", err)
	}
	return n > 0, nil
}

// DrainExpiredJobs removes completed jobs finished before the cutoff.
func (s *Store) DrainExpiredJobs(ctx context.Context, queue job.Type, before time.Time) (int64, error) {
	jobs, err := s.queueJobs(ctx, queue)
	if err != nil {
		return 0, err
	}

	var count int64
	for _, j := range jobs {
		if j.State != job.StateCompleted {
			continue
		}
		if j.CompletedAt == nil || !j.CompletedAt.Before(before) {
			continue
		}
		if err := s.DeleteJob(ctx, queue, j.ID); err != nil {
			continue
		}
		count++
	}
	return count, nil
}

// TrimJobHistory bounds the retained completed/failed history for the
// queue, evicting the oldest terminal jobs beyond each cap.
func (s *Store) TrimJobHistory(ctx context.Context, queue job.Type, completedMax, failedMax int) error {
	jobs, err := s.queueJobs(ctx, queue)
	if err != nil {
		return err
	}

	trim := func(state job.State, max int) {
		if max <= 0 {
			return
		}
		var terminal []*job.Job
		for _, j := range jobs {
			if j.State == state {
				terminal = append(terminal, j)
			}
		}
		if len(terminal) <= max {
			return
		}
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
			_ = s.DeleteJob(ctx, queue, j.ID)
		}
	}

	trim(job.StateCompleted, completedMax)
	trim(job.StateFailed, failedMax)
	return nil
}

// HeartbeatJob updates the heartbeat timestamp for an active job.
func (s *Store) HeartbeatJob(ctx context.Context, queue job.Type, jobID id.JobID, workerID id.WorkerID) error {
	key := jobKey(jobID.String())
	storedQueue, err := s.client.HGet(ctx, key, "type").Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return courier.ErrJobNotFound
		}
		return fmt.Errorf("courier/redis: heartbeat get queue: %w", err)
	}
	if storedQueue != queue.String() {
		return courier.ErrJobNotFound
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if err := s.client.HSet(ctx, key,
		"heartbeat_at", now,
		"worker_id", workerID.String(),
		"updated_at", now,
	).Err(); err != nil {
		return fmt.Errorf("courier/redis: heartbeat job: %w", err)
	}
	return nil
}

// ReapStaleJobs returns active jobs in the queue whose last heartbeat is
// older than the threshold.
func (s *Store) ReapStaleJobs(ctx context.Context, queue job.Type, threshold time.Duration) ([]*job.Job, error) {
	cutoff := time.Now().UTC().Add(-threshold)

	jobs, err := s.queueJobs(ctx, queue)
	if err != nil {
		return nil, err
	}

	var stale []*job.Job
	for _, j := range jobs {
		if j.State != job.StateActive {
			continue
		}
		if j.HeartbeatAt != nil && j.HeartbeatAt.Before(cutoff) {
			stale = append(stale, j)
		}
	}
	return stale, nil
}

// ── helpers ──

// readyScore packs priority and submission time into one integer-valued
// sorted-set score. Lower priority values dequeue first; within a tier,
// earlier submissions. The stride (2^42 ms, beyond year 2100) keeps
// tiers disjoint, and the sum stays under float64's 2^53 exact-integer
// range so millisecond ordering never rounds away.
func readyScore(priority int, at time.Time) float64 {
	const stride = int64(1) << 42
	return float64(int64(priority)*stride + at.UnixMilli())
}

// scheduleInPipe adds the job to the ready or delayed set according to
// its state. Terminal and active states belong to neither set.
func (s *Store) scheduleInPipe(ctx context.Context, pipe goredis.Pipeliner, j *job.Job) {
	jID := j.ID.String()
	now := time.Now().UTC()
	switch {
	case j.Ready(now):
		pipe.ZAdd(ctx, queueReadyKey(j.Type.String()), goredis.Z{
			Score:  readyScore(j.Priority, j.CreatedAt),
			Member: jID,
		})
	case j.State == job.StateWaiting || j.State == job.StateDelayed:
		pipe.ZAdd(ctx, queueDelayedKey(j.Type.String()), goredis.Z{
			Score:  float64(j.RunAt.UnixMilli()),
			Member: jID,
		})
	}
}

// queueJobs fetches every job in the queue's enumeration set.
func (s *Store) queueJobs(ctx context.Context, queue job.Type) ([]*job.Job, error) {
	ids, err := s.client.SMembers(ctx, queueJobsKey(queue.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("courier/redis: queue smembers: %w", err)
	}

	jobs := make([]*job.Job, 0, len(ids))
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue // skip missing
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func jobToMap(j *job.Job) map[string]interface{} {
	m := map[string]interface{}{
		"id":             j.ID.String(),
		"type":           j.Type.String(),
		"payload":        string(j.Payload),
		"state":          string(j.State),
		"priority":       strconv.Itoa(j.Priority),
		"correlation_id": j.CorrelationID,
		"attempts_made":  strconv.Itoa(j.AttemptsMade),
		"max_attempts":   strconv.Itoa(j.MaxAttempts),
		"backoff_base":   strconv.FormatInt(int64(j.BackoffBase), 10),
		"progress":       strconv.Itoa(j.Progress),
		"result":         string(j.Result),
		"last_error":     j.LastError,
		"org_id":         j.OrgID,
		"worker_id":      j.WorkerID.String(),
		"stall_count":    strconv.Itoa(j.StallCount),
		"run_at":         j.RunAt.Format(time.RFC3339Nano),
		"timeout":        strconv.FormatInt(int64(j.Timeout), 10),
		"created_at":     j.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":     j.UpdatedAt.Format(time.RFC3339Nano),
	}
	if j.StartedAt != nil {
		m["started_at"] = j.StartedAt.Format(time.RFC3339Nano)
	} else {
		m["started_at"] = ""
	}
	if j.CompletedAt != nil {
		m["completed_at"] = j.CompletedAt.Format(time.RFC3339Nano)
	} else {
		m["completed_at"] = ""
	}
	if j.HeartbeatAt != nil {
		m["heartbeat_at"] = j.HeartbeatAt.Format(time.RFC3339Nano)
	} else {
		m["heartbeat_at"] = ""
	}
	return m
}

func (s *Store) getJobByKey(ctx context.Context, key string) (*job.Job, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("courier/redis: get job: %w", err)
	}
	if len(vals) == 0 {
		return nil, courier.ErrJobNotFound
	}
	return mapToJob(vals)
}

func mapToJob(m map[string]string) (*job.Job, error) {
	jID, err := id.ParseJobID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("courier/redis: parse job id: %w", err)
	}

	priority, _ := strconv.Atoi(m["priority"])                    //nolint:errcheck // best-effort parse from trusted Redis data
	attemptsMade, _ := strconv.Atoi(m["attempts_made"])           //nolint:errcheck // best-effort parse from trusted Redis data
	maxAttempts, _ := strconv.Atoi(m["max_attempts"])             //nolint:errcheck // best-effort parse from trusted Redis data
	stallCount, _ := strconv.Atoi(m["stall_count"])               //nolint:errcheck // best-effort parse from trusted Redis data
	progress, _ := strconv.Atoi(m["progress"])                    //nolint:errcheck // best-effort parse from trusted Redis data
	backoffBase, _ := strconv.ParseInt(m["backoff_base"], 10, 64) //nolint:errcheck // best-effort parse from trusted Redis data
	timeout, _ := strconv.ParseInt(m["timeout"], 10, 64)          //nolint:errcheck // best-effort parse from trusted Redis data

	runAt, _ := time.Parse(time.RFC3339Nano, m["run_at"])         //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	j := &job.Job{
		Entity: courier.Entity{
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		},
		ID:            jID,
		Type:          job.Type(m["type"]),
		Payload:       []byte(m["payload"]),
		State:         job.State(m["state"]),
		Priority:      priority,
		CorrelationID: m["correlation_id"],
		AttemptsMade:  attemptsMade,
		MaxAttempts:   maxAttempts,
		BackoffBase:   time.Duration(backoffBase),
		Progress:      progress,
		LastError:     m["last_error"],
		OrgID:         m["org_id"],
		StallCount:    stallCount,
		RunAt:         runAt,
		Timeout:       time.Duration(timeout),
	}
	if r := m["result"]; r != "" {
		j.Result = []byte(r)
	}

	if wid := m["worker_id"]; wid != "" {
		j.WorkerID, _ = id.ParseWorkerID(wid) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	if v := m["started_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.StartedAt = &t
	}
	if v := m["completed_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.CompletedAt = &t
	}
	if v := m["heartbeat_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.HeartbeatAt = &t
	}

	return j, nil
}
