package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// AuthBackend is the remote auth service that owns sessions and identities.
// GetSession reads the backend's local cache and returns a zero Session when
// none is available yet.
type AuthBackend interface {
	GetSession(ctx context.Context) (Session, error)
	CreateAnonymousSession(ctx context.Context) (Session, error)
	RefreshSession(ctx context.Context) (Session, error)
	GetCurrentUser(ctx context.Context) (UserIdentity, error)
}

// HydrationNotifier is implemented by auth backends that can signal when the
// persisted session has finished loading. The channel is closed once ready.
type HydrationNotifier interface {
	Ready() <-chan struct{}
}

type SignOuter interface {
	SignOut(ctx context.Context) error
}

// PurchaseSDK is the subscription SDK consumed by the engine.
type PurchaseSDK interface {
	Configure(ctx context.Context, apiKey string) error
	BindIdentity(ctx context.Context, userID string) (BindResult, error)
	GetEntitlementSnapshot(ctx context.Context) (EntitlementSnapshot, error)
}

// ProfileStore persists plan records keyed by user id. Upsert treats
// record.Version as the expected current version and returns
// ErrProfileVersionConflict when the stored row moved on.
type ProfileStore interface {
	ReadByUserID(ctx context.Context, userID string) (ProfileRecord, bool, error)
	Upsert(ctx context.Context, record ProfileRecord) (ProfileRecord, error)
}

type TransportRequest struct {
	Method   string
	URL      string
	Headers  map[string]string
	Query    map[string]string
	Body     []byte
	Metadata map[string]any
	Timeout  time.Duration
}

type TransportResponse struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	Metadata   map[string]any
}

type TransportAdapter interface {
	Kind() string
	Do(ctx context.Context, req TransportRequest) (TransportResponse, error)
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type JobExecutionMessage struct {
	JobID          string
	ScriptPath     string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type JobWorkerEvent struct {
	Message   *JobExecutionMessage
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

type JobWorkerHook interface {
	OnStart(ctx context.Context, event JobWorkerEvent)
	OnSuccess(ctx context.Context, event JobWorkerEvent)
	OnFailure(ctx context.Context, event JobWorkerEvent)
	OnRetry(ctx context.Context, event JobWorkerEvent)
}
