package bunstore

import (
	"fmt"
	"time"

	"github.com/uptrace/bun"

	courier "github.com/openmeet/courier"
	"github.com/openmeet/courier/id"
	"github.com/openmeet/courier/job"
	"github.com/openmeet/courier/webhook"
)

// ── Job model ─────────────────────────────────────────────────────

type jobModel struct {
	bun.BaseModel `bun:"table:courier_jobs"`

	ID            string     `bun:"id,pk"`
	Type          string     `bun:"type,notnull"`
	Payload       []byte     `bun:"payload,notnull,type:bytea"`
	Priority      int        `bun:"priority,notnull,default:50"`
	CorrelationID string     `bun:"correlation_id"`
	AttemptsMade  int        `bun:"attempts_made,notnull,default:0"`
	MaxAttempts   int        `bun:"max_attempts,notnull,default:3"`
	BackoffBase   int64      `bun:"backoff_base,notnull,default:0"`
	State         string     `bun:"state,notnull,default:'waiting'"`
	Progress      int        `bun:"progress,notnull,default:0"`
	Result        []byte     `bun:"result,type:bytea"`
	LastError     string     `bun:"last_error"`
	OrgID         string     `bun:"org_id"`
	WorkerID      string     `bun:"worker_id"`
	StallCount    int        `bun:"stall_count,notnull,default:0"`
	RunAt         time.Time  `bun:"run_at,notnull,default:current_timestamp"`
	StartedAt     *time.Time `bun:"started_at"`
	CompletedAt   *time.Time `bun:"completed_at"`
	HeartbeatAt   *time.Time `bun:"heartbeat_at"`
	Timeout       int64      `bun:"timeout,notnull,default:0"`
	CreatedAt     time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt     time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
}

func toJobModel(j *job.Job) *jobModel {
	return &jobModel{
		ID:            j.ID.String(),
		Type:          string(j.Type),
		Payload:       j.Payload,
		Priority:      j.Priority,
		CorrelationID: j.CorrelationID,
		AttemptsMade:  j.AttemptsMade,
		MaxAttempts:   j.MaxAttempts,
		BackoffBase:   j.BackoffBase.Nanoseconds(),
		State:         string(j.State),
		Progress:      j.Progress,
		Result:        j.Result,
		LastError:     j.LastError,
		OrgID:         j.OrgID,
		WorkerID:      j.WorkerID.String(),
		StallCount:    j.StallCount,
		RunAt:         j.RunAt,
		StartedAt:     j.StartedAt,
		CompletedAt:   j.CompletedAt,
		HeartbeatAt:   j.HeartbeatAt,
		Timeout:       j.Timeout.Nanoseconds(),
		CreatedAt:     j.CreatedAt,
		UpdatedAt:     j.UpdatedAt,
	}
}

func fromJobModel(m *jobModel) (*job.Job, error) {
	parsedID, err := id.ParseJobID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("courier/bun: parse job id %q: %w", m.ID, err)
	}

	j := &job.Job{
		Entity: courier.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:            parsedID,
		Type:          job.Type(m.Type),
		Payload:       m.Payload,
		Priority:      m.Priority,
		CorrelationID: m.CorrelationID,
		AttemptsMade:  m.AttemptsMade,
		MaxAttempts:   m.MaxAttempts,
		BackoffBase:   time.Duration(m.BackoffBase),
		State:         job.State(m.State),
		Progress:      m.Progress,
		Result:        m.Result,
		LastError:     m.LastError,
		OrgID:         m.OrgID,
		StallCount:    m.StallCount,
		RunAt:         m.RunAt,
		StartedAt:     m.StartedAt,
		CompletedAt:   m.CompletedAt,
		HeartbeatAt:   m.HeartbeatAt,
		Timeout:       time.Duration(m.Timeout),
	}

	if m.WorkerID != "" {
		parsedWorker, wErr := id.ParseWorkerID(m.WorkerID)
		if wErr == nil {
			j.WorkerID = parsedWorker
		}
	}

	return j, nil
}

// ── Queue state model ─────────────────────────────────────────────

type queueStateModel struct {
	bun.BaseModel `bun:"table:courier_queue_state"`

	Queue     string    `bun:"queue,pk"`
	Paused    bool      `bun:"paused,notnull,default:false"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

// ── Subscription model ────────────────────────────────────────────

type subscriptionModel struct {
	bun.BaseModel `bun:"table:courier_webhook_subscriptions"`

	ID              string     `bun:"id,pk"`
	OrgID           string     `bun:"org_id,notnull"`
	URL             string     `bun:"url,notnull"`
	Secret          string     `bun:"secret,notnull"`
	Events          []string   `bun:"events,array"`
	IsActive        bool       `bun:"is_active,notnull,default:true"`
	LastTriggeredAt *time.Time `bun:"last_triggered_at"`
	SuccessCount    int64      `bun:"success_count,notnull,default:0"`
	FailureCount    int64      `bun:"failure_count,notnull,default:0"`
	CreatedAt       time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt       time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
}

func toSubscriptionModel(sub *webhook.Subscription) *subscriptionModel {
	return &subscriptionModel{
		ID:              sub.ID.String(),
		OrgID:           sub.OrgID,
		URL:             sub.URL,
		Secret:          sub.Secret,
		Events:          sub.Events,
		IsActive:        sub.IsActive,
		LastTriggeredAt: sub.LastTriggeredAt,
		SuccessCount:    sub.SuccessCount,
		FailureCount:    sub.FailureCount,
		CreatedAt:       sub.CreatedAt,
		UpdatedAt:       sub.UpdatedAt,
	}
}

func fromSubscriptionModel(m *subscriptionModel) (*webhook.Subscription, error) {
	parsedID, err := id.ParseHookID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("courier/bun: parse hook id %q: %w", m.ID, err)
	}

	return &webhook.Subscription{
		Entity: courier.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:              parsedID,
		OrgID:           m.OrgID,
		URL:             m.URL,
		Secret:          m.Secret,
		Events:          m.Events,
		IsActive:        m.IsActive,
		LastTriggeredAt: m.LastTriggeredAt,
		SuccessCount:    m.SuccessCount,
		FailureCount:    m.FailureCount,
	}, nil
}

// ── Delivery log model ────────────────────────────────────────────

type deliveryModel struct {
	bun.BaseModel `bun:"table:courier_webhook_deliveries"`

	ID             string    `bun:"id,pk"`
	WebhookID      string    `bun:"webhook_id,notnull"`
	OrgID          string    `bun:"org_id"`
	Event          string    `bun:"event,notnull"`
	Payload        []byte    `bun:"payload,type:bytea"`
	StatusCode     int       `bun:"status_code,notnull,default:0"`
	ResponseTimeMs int64     `bun:"response_time_ms,notnull,default:0"`
	Success        bool      `bun:"success,notnull,default:false"`
	Error          string    `bun:"error"`
	Attempt        int       `bun:"attempt,notnull,default:1"`
	CreatedAt      time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt      time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

func toDeliveryModel(e *webhook.DeliveryEntry) *deliveryModel {
	return &deliveryModel{
		ID:             e.ID.String(),
		WebhookID:      e.WebhookID.String(),
		OrgID:          e.OrgID,
		Event:          e.Event,
		Payload:        e.Payload,
		StatusCode:     e.StatusCode,
		ResponseTimeMs: e.ResponseTimeMs,
		Success:        e.Success,
		Error:          e.Error,
		Attempt:        e.Attempt,
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
	}
}

func fromDeliveryModel(m *deliveryModel) (*webhook.DeliveryEntry, error) {
	parsedID, err := id.ParseDeliveryID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("courier/bun: parse delivery id %q: %w", m.ID, err)
	}

	parsedHookID, err := id.ParseHookID(m.WebhookID)
	if err != nil {
		return nil, fmt.Errorf("courier/bun: parse hook id %q: %w", m.WebhookID, err)
	}

	return &webhook.DeliveryEntry{
		Entity: courier.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:             parsedID,
		WebhookID:      parsedHookID,
		OrgID:          m.OrgID,
		Event:          m.Event,
		Payload:        m.Payload,
		StatusCode:     m.StatusCode,
		ResponseTimeMs: m.ResponseTimeMs,
		Success:        m.Success,
		Error:          m.Error,
		Attempt:        m.Attempt,
	}, nil
}

// ── Primitive models ──────────────────────────────────────────────

type cacheModel struct {
	bun.BaseModel `bun:"table:courier_cache"`

	Key       string     `bun:"key,pk"`
	Value     []byte     `bun:"value,notnull,type:bytea"`
	ExpiresAt *time.Time `bun:"expires_at"`
	UpdatedAt time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
}

type lockModel struct {
	bun.BaseModel `bun:"table:courier_locks"`

	Resource  string    `bun:"resource,pk"`
	Token     string    `bun:"token,notnull"`
	ExpiresAt time.Time `bun:"expires_at,notnull"`
}

type rateWindowModel struct {
	bun.BaseModel `bun:"table:courier_rate_windows"`

	WindowKey string    `bun:"window_key,pk"`
	Count     int64     `bun:"count,notnull,default:0"`
	ExpiresAt time.Time `bun:"expires_at,notnull"`
}
