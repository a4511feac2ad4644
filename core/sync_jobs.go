package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	JobIDSync                = "entitlements.sync"
	jobParamForceDowngrade   = "force_downgrade"
	jobParamReason           = "reason"
	defaultSyncJobRetryDelay = 30 * time.Second
)

var ErrUnsupportedJob = errors.New("core: unsupported job id")

type SyncJobRequest struct {
	ForceDowngrade bool
	Reason         string
	IdempotencyKey string
}

// NewSyncJobMessage builds the queue message for a background live sync.
func NewSyncJobMessage(req SyncJobRequest) *JobExecutionMessage {
	params := map[string]any{}
	if req.ForceDowngrade {
		params[jobParamForceDowngrade] = true
	}
	if reason := strings.TrimSpace(req.Reason); reason != "" {
		params[jobParamReason] = reason
	}
	return &JobExecutionMessage{
		JobID:          JobIDSync,
		Parameters:     params,
		IdempotencyKey: strings.TrimSpace(req.IdempotencyKey),
	}
}

func (e *Engine) EnqueueSync(ctx context.Context, enqueuer JobEnqueuer, req SyncJobRequest) error {
	if enqueuer == nil {
		return e.mapError(fmt.Errorf("core: job enqueuer is required"))
	}
	if err := enqueuer.Enqueue(ctx, NewSyncJobMessage(req)); err != nil {
		return e.mapError(err)
	}
	return nil
}

// syncOptionsFromJob only honors force_downgrade when it is an explicit true.
func syncOptionsFromJob(msg *JobExecutionMessage) (SyncOptions, error) {
	if msg == nil {
		return SyncOptions{}, fmt.Errorf("core: job message is required")
	}
	if strings.TrimSpace(msg.JobID) != JobIDSync {
		return SyncOptions{}, fmt.Errorf("%w: %q", ErrUnsupportedJob, msg.JobID)
	}
	opts := SyncOptions{}
	if value, ok := msg.Parameters[jobParamForceDowngrade].(bool); ok && value {
		opts.ForceDowngrade = true
	}
	return opts, nil
}

// SyncJobWorker drains entitlements.sync deliveries and runs a live sync for
// each one.
type SyncJobWorker struct {
	engine     *Engine
	dequeuer   JobDequeuer
	hook       JobWorkerHook
	retryDelay time.Duration
}

type SyncJobWorkerOption func(*SyncJobWorker)

func WithSyncJobHook(hook JobWorkerHook) SyncJobWorkerOption {
	return func(w *SyncJobWorker) {
		w.hook = hook
	}
}

func WithSyncJobRetryDelay(delay time.Duration) SyncJobWorkerOption {
	return func(w *SyncJobWorker) {
		w.retryDelay = delay
	}
}

func NewSyncJobWorker(engine *Engine, dequeuer JobDequeuer, opts ...SyncJobWorkerOption) *SyncJobWorker {
	worker := &SyncJobWorker{
		engine:     engine,
		dequeuer:   dequeuer,
		retryDelay: defaultSyncJobRetryDelay,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(worker)
		}
	}
	return worker
}

// ProcessNext dequeues and handles a single delivery.
func (w *SyncJobWorker) ProcessNext(ctx context.Context) error {
	if w == nil || w.engine == nil || w.dequeuer == nil {
		return fmt.Errorf("core: sync job worker is not configured")
	}
	delivery, err := w.dequeuer.Dequeue(ctx)
	if err != nil {
		return err
	}
	if delivery == nil {
		return nil
	}
	return w.Handle(ctx, delivery)
}

func (w *SyncJobWorker) Handle(ctx context.Context, delivery JobDelivery) error {
	message := delivery.Message()
	startedAt := w.engine.now()
	event := JobWorkerEvent{Message: message, Attempt: deliveryAttempt(delivery), StartedAt: startedAt}
	w.emit(ctx, "start", event)

	opts, err := syncOptionsFromJob(message)
	if err != nil {
		event.Err = err
		event.Duration = w.engine.clock.Since(startedAt)
		w.emit(ctx, "failure", event)
		return delivery.Nack(ctx, JobNackOptions{DeadLetter: true, Reason: err.Error()})
	}

	if _, err := w.engine.Sync(ctx, opts); err != nil {
		event.Err = err
		event.Delay = w.retryDelay
		event.Duration = w.engine.clock.Since(startedAt)
		w.emit(ctx, "retry", event)
		return delivery.Nack(ctx, JobNackOptions{Delay: w.retryDelay, Requeue: true, Reason: err.Error()})
	}

	event.Duration = w.engine.clock.Since(startedAt)
	w.emit(ctx, "success", event)
	return delivery.Ack(ctx)
}

func (w *SyncJobWorker) emit(ctx context.Context, kind string, event JobWorkerEvent) {
	if w.hook == nil {
		return
	}
	switch kind {
	case "start":
		w.hook.OnStart(ctx, event)
	case "success":
		w.hook.OnSuccess(ctx, event)
	case "retry":
		w.hook.OnRetry(ctx, event)
	default:
		w.hook.OnFailure(ctx, event)
	}
}

// deliveryAttempt reads the redelivery count from deliveries that track it.
func deliveryAttempt(delivery JobDelivery) int {
	if counted, ok := delivery.(interface{ Attempt() int }); ok {
		if attempt := counted.Attempt(); attempt > 0 {
			return attempt
		}
	}
	return 1
}
