package command

import (
	"strings"

	"github.com/goliatone/go-entitlements/core"
)

const (
	TypeSyncEntitlements = "entitlements.command.sync"
	TypeRecordPurchase   = "entitlements.command.purchase.record"
	TypeAlignIdentity    = "entitlements.command.identity.align"
	TypeEnsureSession    = "entitlements.command.session.ensure"
	TypeSignOut          = "entitlements.command.session.sign_out"
)

// SyncEntitlementsMessage reconciles the purchase state into the profile.
// Snapshot, when set, replaces the live SDK read.
type SyncEntitlementsMessage struct {
	ForceDowngrade bool
	Snapshot       *core.EntitlementSnapshot
}

func (SyncEntitlementsMessage) Type() string { return TypeSyncEntitlements }

func (m SyncEntitlementsMessage) Validate() error {
	if m.Snapshot != nil && m.Snapshot.ObtainedAt.IsZero() {
		return commandValidationError("snapshot.obtained_at", "snapshot timestamp is required")
	}
	return nil
}

func (m SyncEntitlementsMessage) options() core.SyncOptions {
	opts := core.SyncOptions{ForceDowngrade: m.ForceDowngrade}
	if m.Snapshot != nil {
		snapshot := *m.Snapshot
		opts.SnapshotOverride = &snapshot
	}
	return opts
}

type RecordPurchaseMessage struct {
	Snapshot core.EntitlementSnapshot
}

func (RecordPurchaseMessage) Type() string { return TypeRecordPurchase }

func (m RecordPurchaseMessage) Validate() error {
	if m.Snapshot.ObtainedAt.IsZero() {
		return commandValidationError("snapshot.obtained_at", "snapshot timestamp is required")
	}
	return nil
}

type AlignIdentityMessage struct {
	UserID string
}

func (AlignIdentityMessage) Type() string { return TypeAlignIdentity }

func (m AlignIdentityMessage) Validate() error {
	if strings.TrimSpace(m.UserID) == "" {
		return commandValidationError("user_id", "user id is required")
	}
	return nil
}

type EnsureSessionMessage struct {
	AllowAnonymous bool
}

func (EnsureSessionMessage) Type() string { return TypeEnsureSession }

func (EnsureSessionMessage) Validate() error { return nil }

type SignOutMessage struct{}

func (SignOutMessage) Type() string { return TypeSignOut }

func (SignOutMessage) Validate() error { return nil }
