package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-entitlements/core"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ProfileStore persists profile plans keyed by user id. Writes are a
// compare-and-swap on the version column: an update only lands when the row
// still carries the version the caller read.
type ProfileStore struct {
	db     *bun.DB
	repo   repository.Repository[*profileRecord]
	events repository.Repository[*profileEventRecord]
	nowFn  func() time.Time
}

func NewProfileStore(db *bun.DB) (*ProfileStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*profileRecord](db, profileHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid profile repository wiring: %w", err)
		}
	}
	events := repository.NewRepository[*profileEventRecord](db, profileEventHandlers())
	if validator, ok := events.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid profile event repository wiring: %w", err)
		}
	}
	return &ProfileStore{
		db:     db,
		repo:   repo,
		events: events,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *ProfileStore) ReadByUserID(ctx context.Context, userID string) (core.ProfileRecord, bool, error) {
	if s == nil || s.repo == nil {
		return core.ProfileRecord{}, false, fmt.Errorf("sqlstore: profile store is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return core.ProfileRecord{}, false, core.ErrUserIDRequired
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("user_id", "=", userID),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.ProfileRecord{}, false, err
	}
	if len(records) == 0 {
		return core.ProfileRecord{}, false, nil
	}
	return records[0].toDomain(), true, nil
}

// Upsert inserts a new row when in.Version is zero and otherwise updates the
// row whose version equals in.Version. A lost race in either path returns
// core.ErrProfileVersionConflict.
func (s *ProfileStore) Upsert(ctx context.Context, in core.ProfileRecord) (core.ProfileRecord, error) {
	if s == nil || s.repo == nil || s.db == nil {
		return core.ProfileRecord{}, fmt.Errorf("sqlstore: profile store is not configured")
	}
	in.UserID = strings.TrimSpace(in.UserID)
	if err := in.Validate(); err != nil {
		return core.ProfileRecord{}, err
	}
	if in.Version < 0 {
		return core.ProfileRecord{}, fmt.Errorf("sqlstore: profile version must not be negative")
	}
	now := s.nowFn()

	var out core.ProfileRecord
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if in.Version == 0 {
			created, err := s.insertTx(ctx, tx, in, now)
			if err != nil {
				return err
			}
			out = created
			return s.recordTransitionTx(ctx, tx, core.PlanFree, created, now, true)
		}

		previous, err := findProfileTx(ctx, tx, in.UserID)
		if err != nil {
			return err
		}
		if previous == nil || previous.Version != in.Version {
			return core.ErrProfileVersionConflict
		}

		record := newProfileRecord(in, now)
		record.Version = in.Version + 1
		res, err := tx.NewUpdate().
			Model((*profileRecord)(nil)).
			Set("email = ?", record.Email).
			Set("plan_normalized = ?", record.PlanNormalized).
			Set("plan_raw = ?", record.PlanRaw).
			Set("version = ?", record.Version).
			Set("updated_at = ?", record.UpdatedAt).
			Where("user_id = ?", in.UserID).
			Where("version = ?", in.Version).
			Exec(ctx)
		if err != nil {
			return err
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return core.ErrProfileVersionConflict
		}
		record.ID = previous.ID
		record.CreatedAt = previous.CreatedAt
		out = record.toDomain()
		return s.recordTransitionTx(ctx, tx, core.Plan(previous.PlanNormalized), out, now, false)
	})
	if err != nil {
		return core.ProfileRecord{}, err
	}
	return out, nil
}

// ListPlanEvents returns the plan transitions recorded for userID, oldest
// first.
func (s *ProfileStore) ListPlanEvents(ctx context.Context, userID string) ([]PlanEvent, error) {
	if s == nil || s.events == nil {
		return nil, fmt.Errorf("sqlstore: profile store is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, core.ErrUserIDRequired
	}
	records, _, err := s.events.List(ctx,
		repository.SelectBy("user_id", "=", userID),
		repository.OrderBy("version ASC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]PlanEvent, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *ProfileStore) insertTx(ctx context.Context, tx bun.Tx, in core.ProfileRecord, now time.Time) (core.ProfileRecord, error) {
	record := newProfileRecord(in, now)
	record.ID = uuid.NewString()
	record.Version = 1
	created, err := s.repo.CreateTx(ctx, tx, record)
	if err != nil {
		if isUniqueViolation(err) {
			return core.ProfileRecord{}, fmt.Errorf("%w: %v", core.ErrProfileVersionConflict, err)
		}
		return core.ProfileRecord{}, err
	}
	return created.toDomain(), nil
}

// recordTransitionTx appends a plan event when the normalized plan changed, or
// unconditionally for the first write of a user.
func (s *ProfileStore) recordTransitionTx(
	ctx context.Context,
	tx bun.Tx,
	from core.Plan,
	to core.ProfileRecord,
	now time.Time,
	created bool,
) error {
	if !created && from == to.PlanNormalized {
		return nil
	}
	event := &profileEventRecord{
		ID:        uuid.NewString(),
		UserID:    to.UserID,
		FromPlan:  string(from),
		ToPlan:    string(to.PlanNormalized),
		PlanRaw:   to.PlanRaw,
		Version:   to.Version,
		CreatedAt: now,
	}
	_, err := s.events.CreateTx(ctx, tx, event)
	return err
}

func findProfileTx(ctx context.Context, tx bun.Tx, userID string) (*profileRecord, error) {
	records := []*profileRecord{}
	if err := tx.NewSelect().
		Model(&records).
		Where("?TableAlias.user_id = ?", userID).
		Limit(1).
		Scan(ctx); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0], nil
}

func isUniqueViolation(err error) bool {
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}
