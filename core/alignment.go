package core

import (
	"context"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const configureFlightKey = "purchases.configure"

// alignFlight is the single pending alignment. done is closed after result
// and err are set.
type alignFlight struct {
	target   string
	done     chan struct{}
	result   AlignResult
	err      error
	attempts int
}

// ConfigurePurchases configures the purchase SDK with the configured API
// key. It succeeds at most once per engine; a failed attempt may be retried.
func (e *Engine) ConfigurePurchases(ctx context.Context) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if e.configured.Load() {
		return nil
	}
	startedAt := e.now()
	defer func() {
		e.observeOperation(ctx, startedAt, "configure_purchases", err, nil)
	}()
	if e.purchases == nil {
		return e.mapError(ErrPurchaseSDKRequired)
	}

	shared := context.WithoutCancel(ctx)
	ch := e.configureFlights.DoChan(configureFlightKey, func() (any, error) {
		if e.configured.Load() {
			return nil, nil
		}
		if configureErr := e.purchases.Configure(shared, e.config.Purchases.APIKey); configureErr != nil {
			return nil, configureErr
		}
		e.configured.Store(true)
		return nil, nil
	})
	if _, err = awaitShared(ctx, ch); err != nil {
		return e.mapError(err)
	}
	return nil
}

// Align binds the purchase SDK to targetID. Concurrent calls for the same
// target share one bind; calls for a different target wait for the pending
// bind to settle first, so at most one bind runs at any time.
func (e *Engine) Align(ctx context.Context, targetID string) (result AlignResult, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	targetID = strings.TrimSpace(targetID)
	if targetID == "" {
		return AlignResult{}, newEngineError("target id is required", goerrors.CategoryBadInput, ErrorBadInput)
	}
	if err := e.ConfigurePurchases(ctx); err != nil {
		return AlignResult{}, wrapEngineError(err, goerrors.CategoryExternal, ErrorAlignmentFailed, "purchase sdk configure failed")
	}

	for {
		e.alignMu.Lock()
		flight := e.alignFlight
		if flight == nil {
			if e.boundID == targetID {
				e.alignMu.Unlock()
				return AlignResult{TargetID: targetID, Skipped: true}, nil
			}
			flight = &alignFlight{target: targetID, done: make(chan struct{})}
			e.alignFlight = flight
			e.alignMu.Unlock()
			go e.runAlignment(context.WithoutCancel(ctx), flight)
			return e.awaitAlignment(ctx, flight)
		}
		e.alignMu.Unlock()

		if flight.target == targetID {
			return e.awaitAlignment(ctx, flight)
		}
		select {
		case <-ctx.Done():
			return AlignResult{}, e.mapError(ctx.Err())
		case <-flight.done:
		}
	}
}

func (e *Engine) awaitAlignment(ctx context.Context, flight *alignFlight) (AlignResult, error) {
	select {
	case <-ctx.Done():
		return AlignResult{}, e.mapError(ctx.Err())
	case <-flight.done:
		return flight.result, flight.err
	}
}

func (e *Engine) runAlignment(ctx context.Context, flight *alignFlight) {
	startedAt := e.now()
	bind, err := e.bindOnce(ctx, flight)

	var result AlignResult
	if err != nil {
		err = wrapEngineError(err, goerrors.CategoryExternal, ErrorAlignmentFailed, "purchase identity alignment failed").
			WithMetadata(map[string]any{"target_id": flight.target, "attempts": flight.attempts})
	} else {
		result = AlignResult{TargetID: flight.target, Snapshot: bind.Snapshot}
	}

	e.alignMu.Lock()
	if err != nil {
		e.boundID = ""
	} else {
		e.boundID = flight.target
	}
	e.alignFlight = nil
	flight.result = result
	flight.err = err
	e.alignMu.Unlock()
	close(flight.done)

	e.observeOperation(ctx, startedAt, "align_identity", err, map[string]any{
		"target_id": flight.target,
		"attempts":  flight.attempts,
	})
}

// bindOnce calls BindIdentity and retries a single time after the configured
// delay when the first failure is transient.
func (e *Engine) bindOnce(ctx context.Context, flight *alignFlight) (BindResult, error) {
	flight.attempts = 1
	bind, err := e.purchases.BindIdentity(ctx, flight.target)
	if err == nil || !isTransientAlignmentError(err) {
		return bind, err
	}
	e.logWarn(ctx, "transient alignment failure, retrying", map[string]any{
		"target_id": flight.target,
		"error":     err.Error(),
		"delay_ms":  e.config.Alignment.RetryDelay.Milliseconds(),
	})
	if waitErr := e.waitWithContext(ctx, e.config.Alignment.RetryDelay); waitErr != nil {
		return BindResult{}, err
	}
	flight.attempts = 2
	return e.purchases.BindIdentity(ctx, flight.target)
}
