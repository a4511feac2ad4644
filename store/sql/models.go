package sqlstore

import (
	"strings"
	"time"

	"github.com/goliatone/go-entitlements/core"
	"github.com/uptrace/bun"
)

type profileRecord struct {
	bun.BaseModel `bun:"table:entitlement_profiles,alias:ep"`

	ID             string    `bun:"id,pk"`
	UserID         string    `bun:"user_id,notnull"`
	Email          string    `bun:"email,notnull"`
	PlanNormalized string    `bun:"plan_normalized,notnull"`
	PlanRaw        string    `bun:"plan_raw,notnull"`
	Version        int       `bun:"version,notnull"`
	CreatedAt      time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt      time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type profileEventRecord struct {
	bun.BaseModel `bun:"table:entitlement_profile_events,alias:epe"`

	ID        string    `bun:"id,pk"`
	UserID    string    `bun:"user_id,notnull"`
	FromPlan  string    `bun:"from_plan,notnull"`
	ToPlan    string    `bun:"to_plan,notnull"`
	PlanRaw   string    `bun:"plan_raw,notnull"`
	Version   int       `bun:"version,notnull"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

// PlanEvent is one persisted plan transition for a user.
type PlanEvent struct {
	ID        string
	UserID    string
	FromPlan  core.Plan
	ToPlan    core.Plan
	PlanRaw   string
	Version   int
	CreatedAt time.Time
}

func newProfileRecord(in core.ProfileRecord, now time.Time) *profileRecord {
	plan, err := core.ParsePlan(string(in.PlanNormalized))
	if err != nil {
		plan = core.PlanFree
	}
	planRaw := strings.TrimSpace(in.PlanRaw)
	if planRaw == "" {
		planRaw = core.PlanRawFree
	}
	return &profileRecord{
		UserID:         strings.TrimSpace(in.UserID),
		Email:          strings.TrimSpace(in.Email),
		PlanNormalized: string(plan),
		PlanRaw:        planRaw,
		Version:        in.Version,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func (r *profileRecord) toDomain() core.ProfileRecord {
	if r == nil {
		return core.ProfileRecord{}
	}
	return core.ProfileRecord{
		UserID:         r.UserID,
		Email:          r.Email,
		PlanNormalized: core.Plan(r.PlanNormalized),
		PlanRaw:        r.PlanRaw,
		Version:        r.Version,
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
}

func (r *profileEventRecord) toDomain() PlanEvent {
	if r == nil {
		return PlanEvent{}
	}
	return PlanEvent{
		ID:        r.ID,
		UserID:    r.UserID,
		FromPlan:  core.Plan(r.FromPlan),
		ToPlan:    core.Plan(r.ToPlan),
		PlanRaw:   r.PlanRaw,
		Version:   r.Version,
		CreatedAt: r.CreatedAt.UTC(),
	}
}
