package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type syncFixture struct {
	auth   *stubAuthBackend
	sdk    *stubPurchaseSDK
	store  *countingProfileStore
	engine *Engine
}

func newSyncFixture(t *testing.T) *syncFixture {
	t.Helper()
	fixture := &syncFixture{
		auth: &stubAuthBackend{
			session: validSession("user", IdentityKindAuthenticated),
			user:    UserIdentity{ID: "usr_1", Email: "user@example.com"},
		},
		sdk:   &stubPurchaseSDK{},
		store: newCountingProfileStore(),
	}
	fixture.engine = newTestEngine(t, fixture.auth,
		WithPurchaseSDK(fixture.sdk),
		WithProfileStore(fixture.store),
	)
	return fixture
}

func stringPtr(value string) *string {
	return &value
}

func TestSync_ConcurrentCallsShareOneUpsert(t *testing.T) {
	fixture := newSyncFixture(t)
	fixture.sdk.snapshot = EntitlementSnapshot{IsEntitled: true, ProductID: stringPtr("monthly_001")}
	fixture.store.readGate = make(chan struct{})
	fixture.store.readStarted = make(chan struct{}, 1)

	results := make([]SyncResult, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], errs[0] = fixture.engine.Sync(context.Background(), SyncOptions{})
	}()
	<-fixture.store.readStarted

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1], errs[1] = fixture.engine.Sync(context.Background(), SyncOptions{})
	}()
	time.Sleep(50 * time.Millisecond)
	close(fixture.store.readGate)
	wg.Wait()

	for index, err := range errs {
		if err != nil {
			t.Fatalf("caller %d: sync: %v", index, err)
		}
	}
	if got := fixture.store.upserts(); got != 1 {
		t.Fatalf("expected exactly one upsert, got %d", got)
	}
	if results[0].IsPro != results[1].IsPro || !results[0].IsPro {
		t.Fatalf("expected both callers to see is_pro=true, got %v and %v", results[0].IsPro, results[1].IsPro)
	}
}

func TestSync_LiveAndOverrideRunSeriallyWithOverrideLast(t *testing.T) {
	fixture := newSyncFixture(t)
	fixture.store.seed(t, ProfileRecord{UserID: "usr_1", PlanNormalized: PlanFree, PlanRaw: PlanRawFree})
	fixture.sdk.snapshot = EntitlementSnapshot{IsEntitled: false}
	fixture.store.readGate = make(chan struct{})
	fixture.store.readStarted = make(chan struct{}, 1)

	var live, purchased SyncResult
	var liveErr, purchasedErr error
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		live, liveErr = fixture.engine.Sync(context.Background(), SyncOptions{})
	}()
	<-fixture.store.readStarted

	override := EntitlementSnapshot{IsEntitled: true, ProductID: stringPtr("annual_001")}
	wg.Add(1)
	go func() {
		defer wg.Done()
		purchased, purchasedErr = fixture.engine.Sync(context.Background(), SyncOptions{SnapshotOverride: &override})
	}()
	time.Sleep(50 * time.Millisecond)
	close(fixture.store.readGate)
	wg.Wait()

	if liveErr != nil || purchasedErr != nil {
		t.Fatalf("expected both syncs to succeed, live=%v override=%v", liveErr, purchasedErr)
	}
	if live.IsPro || !purchased.IsPro {
		t.Fatalf("expected live free then override pro, got live=%+v override=%+v", live, purchased)
	}
	if got := fixture.store.upserts(); got != 2 {
		t.Fatalf("expected two serialized upserts, got %d", got)
	}
	fixture.store.mu.Lock()
	records := append([]ProfileRecord(nil), fixture.store.upsertRecords...)
	fixture.store.mu.Unlock()
	if records[0].PlanNormalized != PlanFree || records[1].PlanNormalized != PlanPro {
		t.Fatalf("expected free write before pro write, got %+v", records)
	}
	if records[1].Version != records[0].Version+1 {
		t.Fatalf("expected override to build on the live write, versions %d then %d", records[0].Version, records[1].Version)
	}
	stored, _, _ := fixture.store.MemoryProfileStore.ReadByUserID(context.Background(), "usr_1")
	if stored.PlanNormalized != PlanPro || stored.PlanRaw != "store:annual_001" || stored.Version != 3 {
		t.Fatalf("expected override result to be final, got %+v", stored)
	}
}

func TestSync_KeepsProAgainstStaleLiveSnapshot(t *testing.T) {
	fixture := newSyncFixture(t)
	fixture.store.seed(t, ProfileRecord{UserID: "usr_1", PlanNormalized: PlanPro, PlanRaw: "store:annual_001"})
	fixture.sdk.snapshot = EntitlementSnapshot{IsEntitled: false}

	result, err := fixture.engine.Sync(context.Background(), SyncOptions{})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if !result.IsPro || !result.Kept {
		t.Fatalf("expected pro plan kept, got %+v", result)
	}
	if got := fixture.store.upserts(); got != 0 {
		t.Fatalf("expected no write when keeping pro, got %d upserts", got)
	}
	stored, _, _ := fixture.store.MemoryProfileStore.ReadByUserID(context.Background(), "usr_1")
	if stored.PlanNormalized != PlanPro || stored.PlanRaw != "store:annual_001" {
		t.Fatalf("expected stored record unchanged, got %+v", stored)
	}
}

func TestSync_ForceDowngradeWritesFree(t *testing.T) {
	fixture := newSyncFixture(t)
	fixture.store.seed(t, ProfileRecord{UserID: "usr_1", PlanNormalized: PlanPro, PlanRaw: "store:annual_001"})
	fixture.sdk.snapshot = EntitlementSnapshot{IsEntitled: false}

	result, err := fixture.engine.Sync(context.Background(), SyncOptions{ForceDowngrade: true})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if result.IsPro || result.Kept {
		t.Fatalf("expected forced downgrade, got %+v", result)
	}
	stored, _, _ := fixture.store.MemoryProfileStore.ReadByUserID(context.Background(), "usr_1")
	if stored.PlanNormalized != PlanFree || stored.PlanRaw != PlanRawFree {
		t.Fatalf("expected stored free plan, got %+v", stored)
	}
	if stored.Version != 2 {
		t.Fatalf("expected version bump to 2, got %d", stored.Version)
	}
}

func TestSync_FreshOverrideWins(t *testing.T) {
	fixture := newSyncFixture(t)
	fixture.store.seed(t, ProfileRecord{UserID: "usr_1", PlanNormalized: PlanFree, PlanRaw: PlanRawFree})
	fixture.sdk.snapshot = EntitlementSnapshot{IsEntitled: false}

	override := EntitlementSnapshot{IsEntitled: true, ProductID: stringPtr("annual_001")}
	result, err := fixture.engine.Sync(context.Background(), SyncOptions{SnapshotOverride: &override})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if !result.IsPro {
		t.Fatalf("expected pro result")
	}
	if result.Snapshot.Source != SnapshotSourceFresh {
		t.Fatalf("expected fresh snapshot source, got %q", result.Snapshot.Source)
	}
	stored, _, _ := fixture.store.MemoryProfileStore.ReadByUserID(context.Background(), "usr_1")
	if stored.PlanNormalized != PlanPro || stored.PlanRaw != "store:annual_001" {
		t.Fatalf("expected pro store:annual_001, got %+v", stored)
	}
	if _, _, snapshots, _ := fixture.sdk.stats(); snapshots != 0 {
		t.Fatalf("expected no live snapshot query, got %d", snapshots)
	}
}

func TestRecordPurchase_SyncsFreshSnapshot(t *testing.T) {
	fixture := newSyncFixture(t)

	result, err := fixture.engine.RecordPurchase(context.Background(), FreshSnapshot(true, "", time.Now()))
	if err != nil {
		t.Fatalf("record purchase: %v", err)
	}
	if !result.IsPro || result.Record.PlanRaw != "store:entitled" {
		t.Fatalf("expected store:entitled pro record, got %+v", result.Record)
	}
	if result.Record.Email != "user@example.com" {
		t.Fatalf("expected email carried onto record, got %q", result.Record.Email)
	}
}

func TestSync_PrefersBindSnapshotOverLiveQuery(t *testing.T) {
	fixture := newSyncFixture(t)
	fixture.sdk.bindSnapshot = &EntitlementSnapshot{IsEntitled: true, ProductID: stringPtr("weekly_001")}

	result, err := fixture.engine.Sync(context.Background(), SyncOptions{})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if result.Snapshot.Source != SnapshotSourceBind {
		t.Fatalf("expected bind snapshot, got %q", result.Snapshot.Source)
	}
	if _, _, snapshots, _ := fixture.sdk.stats(); snapshots != 0 {
		t.Fatalf("expected no live snapshot query, got %d", snapshots)
	}
	if result.Record.PlanRaw != "store:weekly_001" {
		t.Fatalf("expected store:weekly_001, got %q", result.Record.PlanRaw)
	}
}

func TestSync_RetriesOnceOnVersionConflict(t *testing.T) {
	fixture := newSyncFixture(t)
	fixture.sdk.snapshot = EntitlementSnapshot{IsEntitled: true}
	fixture.store.conflicts = 1

	result, err := fixture.engine.Sync(context.Background(), SyncOptions{})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if !result.IsPro {
		t.Fatalf("expected pro after retry")
	}
	if got := fixture.store.upserts(); got != 2 {
		t.Fatalf("expected conflict retry, got %d upserts", got)
	}
}

func TestSync_RepeatedConflictFails(t *testing.T) {
	fixture := newSyncFixture(t)
	fixture.sdk.snapshot = EntitlementSnapshot{IsEntitled: true}
	fixture.store.conflicts = 2

	_, err := fixture.engine.Sync(context.Background(), SyncOptions{})
	if !HasTextCode(err, ErrorSyncFailed) {
		t.Fatalf("expected SYNC_FAILED, got %v", err)
	}
	if _, found, _ := fixture.store.MemoryProfileStore.ReadByUserID(context.Background(), "usr_1"); found {
		t.Fatalf("expected nothing persisted after failed sync")
	}
}

func TestSync_UserResolutionFailure(t *testing.T) {
	fixture := newSyncFixture(t)
	fixture.auth.userErr = errors.New("jwt expired")

	_, err := fixture.engine.Sync(context.Background(), SyncOptions{})
	if !HasTextCode(err, ErrorSyncFailed) {
		t.Fatalf("expected SYNC_FAILED, got %v", err)
	}
	if got := fixture.store.upserts(); got != 0 {
		t.Fatalf("expected no write, got %d", got)
	}
	if _, binds, _, _ := fixture.sdk.stats(); binds != 0 {
		t.Fatalf("expected no alignment, got %d binds", binds)
	}
}

func TestSync_AlignmentFailureLeavesStateUnchanged(t *testing.T) {
	fixture := newSyncFixture(t)
	fixture.sdk.bindErrs = []error{errors.New("invalid app user id")}

	_, err := fixture.engine.Sync(context.Background(), SyncOptions{})
	if !HasTextCode(err, ErrorSyncFailed) {
		t.Fatalf("expected SYNC_FAILED, got %v", err)
	}
	if got := fixture.store.upserts(); got != 0 {
		t.Fatalf("expected no write, got %d", got)
	}
	if fixture.engine.BoundIdentity() != "" {
		t.Fatalf("expected unbound identity after failed alignment")
	}
}

func TestReconcileRecord_KeepsExistingEmailAndVersion(t *testing.T) {
	existing := ProfileRecord{UserID: "usr_1", Email: "old@example.com", PlanNormalized: PlanFree, Version: 4}
	next := reconcileRecord(existing, true, UserIdentity{ID: "usr_1"}, EntitlementSnapshot{IsEntitled: true}, time.Now())
	if next.Email != "old@example.com" {
		t.Fatalf("expected existing email kept, got %q", next.Email)
	}
	if next.Version != 4 {
		t.Fatalf("expected expected-version 4, got %d", next.Version)
	}
	if next.PlanRaw != "store:entitled" {
		t.Fatalf("expected store:entitled, got %q", next.PlanRaw)
	}
}
