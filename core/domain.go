package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidPlan            = errors.New("core: invalid plan")
	ErrProfileNotFound        = errors.New("core: profile not found")
	ErrProfileVersionConflict = errors.New("core: profile version conflict")
	ErrUserIDRequired         = errors.New("core: user id is required")
)

type IdentityKind string

const (
	IdentityKindAnonymous     IdentityKind = "anonymous"
	IdentityKindAuthenticated IdentityKind = "authenticated"
)

// Session is a bearer credential issued by the auth backend. It is read from
// the backend's cache and never persisted by the engine.
type Session struct {
	Token     string
	Kind      IdentityKind
	UserID    string
	ExpiresAt *time.Time
}

// Valid reports whether the session carries a token that has not expired at now.
func (s Session) Valid(now time.Time) bool {
	if strings.TrimSpace(s.Token) == "" {
		return false
	}
	if s.ExpiresAt == nil {
		return true
	}
	return s.ExpiresAt.After(now)
}

func (s Session) Anonymous() bool {
	return s.Kind == IdentityKindAnonymous
}

type SessionFailureReason string

const (
	SessionReasonNone          SessionFailureReason = ""
	SessionReasonNoSession     SessionFailureReason = "no_session"
	SessionReasonNoToken       SessionFailureReason = "no_token"
	SessionReasonRefreshFailed SessionFailureReason = "refresh_failed"
)

// SessionResult is the tagged outcome of EnsureSession. Exactly one of Token
// or Reason is set.
type SessionResult struct {
	Token   string
	Session Session
	Reason  SessionFailureReason
	Err     error
}

func (r SessionResult) OK() bool {
	return r.Reason == SessionReasonNone && strings.TrimSpace(r.Token) != ""
}

type UserIdentity struct {
	ID    string
	Email string
}

type SnapshotSource string

const (
	SnapshotSourceFresh SnapshotSource = "fresh"
	SnapshotSourceLive  SnapshotSource = "live"
	SnapshotSourceBind  SnapshotSource = "bind"
)

// EntitlementSnapshot is a point-in-time entitlement read from the purchase SDK.
type EntitlementSnapshot struct {
	IsEntitled bool
	ProductID  *string
	Source     SnapshotSource
	ObtainedAt time.Time
}

func FreshSnapshot(entitled bool, productID string, at time.Time) EntitlementSnapshot {
	snapshot := EntitlementSnapshot{
		IsEntitled: entitled,
		Source:     SnapshotSourceFresh,
		ObtainedAt: at.UTC(),
	}
	if trimmed := strings.TrimSpace(productID); trimmed != "" {
		snapshot.ProductID = &trimmed
	}
	return snapshot
}

func (s EntitlementSnapshot) Product() string {
	if s.ProductID == nil {
		return ""
	}
	return strings.TrimSpace(*s.ProductID)
}

type Plan string

const (
	PlanFree Plan = "free"
	PlanPro  Plan = "pro"
)

func ParsePlan(raw string) (Plan, error) {
	switch Plan(strings.TrimSpace(strings.ToLower(raw))) {
	case PlanFree, "":
		return PlanFree, nil
	case PlanPro:
		return PlanPro, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPlan, raw)
	}
}

const (
	PlanRawFree          = "free"
	planRawStorePrefix   = "store:"
	planRawStoreEntitled = "store:entitled"
)

// StorePlanRaw tags the store product that granted an entitlement.
func StorePlanRaw(productID string) string {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return planRawStoreEntitled
	}
	return planRawStorePrefix + productID
}

// ProfileRecord is the persisted plan row keyed by backend user id. Version
// is a monotonic write counter; zero means the row does not exist yet.
type ProfileRecord struct {
	UserID         string
	Email          string
	PlanNormalized Plan
	PlanRaw        string
	Version        int
	UpdatedAt      time.Time
}

func (r ProfileRecord) IsPro() bool {
	return r.PlanNormalized == PlanPro
}

func (r ProfileRecord) Validate() error {
	if strings.TrimSpace(r.UserID) == "" {
		return ErrUserIDRequired
	}
	if _, err := ParsePlan(string(r.PlanNormalized)); err != nil {
		return err
	}
	return nil
}

type SyncOptions struct {
	SnapshotOverride *EntitlementSnapshot
	ForceDowngrade   bool
}

type SyncResult struct {
	IsPro    bool
	Kept     bool
	Record   ProfileRecord
	Snapshot EntitlementSnapshot
}

type BindResult struct {
	Snapshot *EntitlementSnapshot
	Created  bool
}

type AlignResult struct {
	TargetID string
	Skipped  bool
	Snapshot *EntitlementSnapshot
}

// Route is a primary path with an optional migration fallback.
type Route struct {
	Primary  string
	Fallback string
}

type RequestInit struct {
	Method          string
	Body            any
	Headers         map[string]string
	Query           map[string]string
	Timeout         time.Duration
	RequireIdentity bool
}
