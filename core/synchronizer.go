package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// Sync reconciles the purchase SDK entitlement into the persisted profile
// record. Concurrent calls with equal options share one execution; calls
// with different options run one after another.
func (e *Engine) Sync(ctx context.Context, opts SyncOptions) (SyncResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	shared := context.WithoutCancel(ctx)
	ch := e.syncFlights.DoChan(syncFlightKey(opts), func() (any, error) {
		e.syncMu.Lock()
		defer e.syncMu.Unlock()
		return e.runSync(shared, opts)
	})
	value, err := awaitShared(ctx, ch)
	if err != nil {
		return SyncResult{}, e.mapError(err)
	}
	result, _ := value.(SyncResult)
	return result, nil
}

// RecordPurchase hands a snapshot produced by a purchase or restore to Sync
// so a lagging SDK cache cannot be read back as not entitled.
func (e *Engine) RecordPurchase(ctx context.Context, snapshot EntitlementSnapshot) (SyncResult, error) {
	if snapshot.Source == "" {
		snapshot.Source = SnapshotSourceFresh
	}
	if snapshot.ObtainedAt.IsZero() {
		snapshot.ObtainedAt = e.now()
	}
	return e.Sync(ctx, SyncOptions{SnapshotOverride: &snapshot})
}

func syncFlightKey(opts SyncOptions) string {
	key := fmt.Sprintf("sync:force=%t", opts.ForceDowngrade)
	if opts.SnapshotOverride == nil {
		return key + ":live"
	}
	return fmt.Sprintf("%s:override=%t:%s", key, opts.SnapshotOverride.IsEntitled, opts.SnapshotOverride.Product())
}

func (e *Engine) runSync(ctx context.Context, opts SyncOptions) (result SyncResult, err error) {
	startedAt := e.now()
	fields := map[string]any{"force_downgrade": opts.ForceDowngrade}
	defer func() {
		if err == nil {
			fields["is_pro"] = result.IsPro
			fields["kept"] = result.Kept
			fields["source"] = string(result.Snapshot.Source)
		}
		e.observeOperation(ctx, startedAt, "sync_entitlements", err, fields)
	}()

	if e.profiles == nil {
		return SyncResult{}, syncFailed(ErrProfileStoreRequired, "profile store unavailable")
	}
	if e.purchases == nil {
		return SyncResult{}, syncFailed(ErrPurchaseSDKRequired, "purchase sdk unavailable")
	}

	user, err := e.auth.GetCurrentUser(ctx)
	if err != nil {
		return SyncResult{}, syncFailed(err, "resolve current user failed")
	}
	user.ID = strings.TrimSpace(user.ID)
	if user.ID == "" {
		return SyncResult{}, syncFailed(ErrUserIDRequired, "current user has no id")
	}
	fields["user_id"] = user.ID

	aligned, err := e.Align(ctx, user.ID)
	if err != nil {
		return SyncResult{}, syncFailed(err, "identity alignment failed")
	}

	snapshot, err := e.resolveSnapshot(ctx, opts, aligned)
	if err != nil {
		return SyncResult{}, syncFailed(err, "entitlement snapshot unavailable")
	}

	retries := e.config.Sync.MaxCASRetries
	for attempt := 0; ; attempt++ {
		existing, found, readErr := e.profiles.ReadByUserID(ctx, user.ID)
		if readErr != nil {
			return SyncResult{}, syncFailed(readErr, "profile read failed")
		}

		if found && existing.IsPro() && !snapshot.IsEntitled && !opts.ForceDowngrade {
			e.logInfo(ctx, "kept pro plan against non entitled snapshot", map[string]any{
				"user_id": user.ID,
				"source":  string(snapshot.Source),
			})
			return SyncResult{IsPro: true, Kept: true, Record: existing, Snapshot: snapshot}, nil
		}

		next := reconcileRecord(existing, found, user, snapshot, e.now())
		written, writeErr := e.profiles.Upsert(ctx, next)
		if errors.Is(writeErr, ErrProfileVersionConflict) && attempt < retries {
			e.logWarn(ctx, "profile version conflict, re-reading", map[string]any{
				"user_id": user.ID,
				"version": next.Version,
			})
			continue
		}
		if writeErr != nil {
			return SyncResult{}, syncFailed(writeErr, "profile write failed")
		}
		return SyncResult{IsPro: written.IsPro(), Record: written, Snapshot: snapshot}, nil
	}
}

// resolveSnapshot prefers the caller's fresh snapshot, then the one returned
// by the bind, and only then re-queries the SDK.
func (e *Engine) resolveSnapshot(ctx context.Context, opts SyncOptions, aligned AlignResult) (EntitlementSnapshot, error) {
	if opts.SnapshotOverride != nil {
		snapshot := *opts.SnapshotOverride
		if snapshot.Source == "" {
			snapshot.Source = SnapshotSourceFresh
		}
		return snapshot, nil
	}
	if aligned.Snapshot != nil {
		snapshot := *aligned.Snapshot
		if snapshot.Source == "" {
			snapshot.Source = SnapshotSourceBind
		}
		return snapshot, nil
	}
	snapshot, err := e.purchases.GetEntitlementSnapshot(ctx)
	if err != nil {
		return EntitlementSnapshot{}, err
	}
	if snapshot.Source == "" {
		snapshot.Source = SnapshotSourceLive
	}
	return snapshot, nil
}

func reconcileRecord(existing ProfileRecord, found bool, user UserIdentity, snapshot EntitlementSnapshot, now time.Time) ProfileRecord {
	next := ProfileRecord{
		UserID:         user.ID,
		Email:          strings.TrimSpace(user.Email),
		PlanNormalized: PlanFree,
		PlanRaw:        PlanRawFree,
		UpdatedAt:      now,
	}
	if found {
		next.Version = existing.Version
		if next.Email == "" {
			next.Email = existing.Email
		}
	}
	if snapshot.IsEntitled {
		next.PlanNormalized = PlanPro
		next.PlanRaw = StorePlanRaw(snapshot.Product())
	}
	return next
}

func syncFailed(err error, message string) error {
	return wrapEngineError(err, goerrors.CategoryOperation, ErrorSyncFailed, message)
}
