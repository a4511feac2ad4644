package reststore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-entitlements/core"
)

const (
	DefaultProfilesPath = "/rest/v1/profiles"
	profileColumns      = "user_id,email,plan_normalized,plan_raw,version,updated_at"
)

// Requester issues authenticated backend calls. core.Engine satisfies it.
type Requester interface {
	AuthedRequest(ctx context.Context, route core.Route, init core.RequestInit) core.RequestResult
}

// Config selects the profiles table route. Fallback is tried once when the
// primary path answers 404.
type Config struct {
	Route   core.Route
	Timeout time.Duration
}

// ProfileStore reads and upserts profile rows through a PostgREST style
// endpoint. Upserts merge on user_id and are last-write-wins: the version is
// bumped client side but not checked by the server.
type ProfileStore struct {
	requester Requester
	route     core.Route
	timeout   time.Duration
}

type profileRow struct {
	UserID         string    `json:"user_id"`
	Email          string    `json:"email"`
	PlanNormalized string    `json:"plan_normalized"`
	PlanRaw        string    `json:"plan_raw"`
	Version        int       `json:"version"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func NewProfileStore(requester Requester, cfg Config) (*ProfileStore, error) {
	if requester == nil {
		return nil, fmt.Errorf("reststore: requester is required")
	}
	route := core.Route{
		Primary:  strings.TrimSpace(cfg.Route.Primary),
		Fallback: strings.TrimSpace(cfg.Route.Fallback),
	}
	if route.Primary == "" {
		route.Primary = DefaultProfilesPath
	}
	return &ProfileStore{requester: requester, route: route, timeout: cfg.Timeout}, nil
}

func (s *ProfileStore) ReadByUserID(ctx context.Context, userID string) (core.ProfileRecord, bool, error) {
	if s == nil || s.requester == nil {
		return core.ProfileRecord{}, false, fmt.Errorf("reststore: profile store is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return core.ProfileRecord{}, false, core.ErrUserIDRequired
	}

	result := s.requester.AuthedRequest(ctx, s.route, core.RequestInit{
		Method: http.MethodGet,
		Query: map[string]string{
			"select":  profileColumns,
			"user_id": "eq." + userID,
			"limit":   "1",
		},
		Timeout:         s.timeout,
		RequireIdentity: true,
	})
	if result.Err != nil {
		return core.ProfileRecord{}, false, result.Err
	}

	rows, err := decodeRows(result)
	if err != nil {
		return core.ProfileRecord{}, false, err
	}
	if len(rows) == 0 {
		return core.ProfileRecord{}, false, nil
	}
	record, err := rows[0].toDomain()
	if err != nil {
		return core.ProfileRecord{}, false, err
	}
	return record, true, nil
}

func (s *ProfileStore) Upsert(ctx context.Context, in core.ProfileRecord) (core.ProfileRecord, error) {
	if s == nil || s.requester == nil {
		return core.ProfileRecord{}, fmt.Errorf("reststore: profile store is not configured")
	}
	in.UserID = strings.TrimSpace(in.UserID)
	if err := in.Validate(); err != nil {
		return core.ProfileRecord{}, err
	}
	plan, _ := core.ParsePlan(string(in.PlanNormalized))
	planRaw := strings.TrimSpace(in.PlanRaw)
	if planRaw == "" {
		planRaw = core.PlanRawFree
	}
	row := profileRow{
		UserID:         in.UserID,
		Email:          strings.TrimSpace(in.Email),
		PlanNormalized: string(plan),
		PlanRaw:        planRaw,
		Version:        in.Version + 1,
		UpdatedAt:      time.Now().UTC(),
	}

	result := s.requester.AuthedRequest(ctx, s.route, core.RequestInit{
		Method: http.MethodPost,
		Body:   []profileRow{row},
		Headers: map[string]string{
			"Prefer": "resolution=merge-duplicates,return=representation",
		},
		Query:           map[string]string{"on_conflict": "user_id"},
		Timeout:         s.timeout,
		RequireIdentity: true,
	})
	if result.Err != nil {
		if result.Status == http.StatusConflict {
			return core.ProfileRecord{}, fmt.Errorf("%w: %v", core.ErrProfileVersionConflict, result.Err)
		}
		return core.ProfileRecord{}, result.Err
	}

	if len(result.Body) > 0 {
		rows, err := decodeRows(result)
		if err != nil {
			return core.ProfileRecord{}, err
		}
		if len(rows) > 0 {
			return rows[0].toDomain()
		}
	}
	return row.toDomain()
}

// decodeRows accepts either a JSON array of rows or a single object, which
// PostgREST returns when the request asks for a singular representation.
func decodeRows(result core.RequestResult) ([]profileRow, error) {
	body := strings.TrimSpace(string(result.Body))
	if body == "" {
		return nil, nil
	}
	if strings.HasPrefix(body, "{") {
		var row profileRow
		if err := json.Unmarshal([]byte(body), &row); err != nil {
			return nil, decodeError(err, result.EndpointUsed)
		}
		return []profileRow{row}, nil
	}
	var rows []profileRow
	if err := json.Unmarshal([]byte(body), &rows); err != nil {
		return nil, decodeError(err, result.EndpointUsed)
	}
	return rows, nil
}

func decodeError(err error, endpoint string) error {
	return goerrors.Wrap(err, goerrors.CategoryExternal, "reststore: decode profile rows").
		WithTextCode(core.ErrorServerError).
		WithMetadata(map[string]any{"endpoint": endpoint})
}

func (r profileRow) toDomain() (core.ProfileRecord, error) {
	plan, err := core.ParsePlan(r.PlanNormalized)
	if err != nil {
		return core.ProfileRecord{}, err
	}
	version := r.Version
	if version <= 0 {
		version = 1
	}
	return core.ProfileRecord{
		UserID:         strings.TrimSpace(r.UserID),
		Email:          strings.TrimSpace(r.Email),
		PlanNormalized: plan,
		PlanRaw:        strings.TrimSpace(r.PlanRaw),
		Version:        version,
		UpdatedAt:      r.UpdatedAt.UTC(),
	}, nil
}

var _ core.ProfileStore = (*ProfileStore)(nil)
