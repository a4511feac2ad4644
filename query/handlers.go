package query

import (
	"context"
	"strings"

	"github.com/goliatone/go-entitlements/core"
)

type ProfileReader interface {
	ReadByUserID(ctx context.Context, userID string) (core.ProfileRecord, bool, error)
}

// IdentityReader exposes the engine's current session and SDK binding without
// triggering any network call.
type IdentityReader interface {
	CurrentSession(ctx context.Context) (core.Session, bool)
	BoundIdentity() string
	Configured() bool
}

type ProfileView struct {
	Record core.ProfileRecord
	Found  bool
}

type IdentityView struct {
	Session       core.Session
	HasSession    bool
	BoundIdentity string
	Configured    bool
}

// Aligned reports whether the purchase SDK is bound to the session's user.
func (v IdentityView) Aligned() bool {
	return v.HasSession && v.BoundIdentity != "" && v.BoundIdentity == strings.TrimSpace(v.Session.UserID)
}

type GetProfileQuery struct {
	reader ProfileReader
}

func NewGetProfileQuery(reader ProfileReader) *GetProfileQuery {
	return &GetProfileQuery{reader: reader}
}

func (q *GetProfileQuery) Query(ctx context.Context, msg GetProfileMessage) (ProfileView, error) {
	if q == nil || q.reader == nil {
		return ProfileView{}, queryDependencyError("query: profile reader is required")
	}
	if err := msg.Validate(); err != nil {
		return ProfileView{}, err
	}
	record, found, err := q.reader.ReadByUserID(ctx, strings.TrimSpace(msg.UserID))
	if err != nil {
		return ProfileView{}, err
	}
	return ProfileView{Record: record, Found: found}, nil
}

type CurrentIdentityQuery struct {
	reader IdentityReader
}

func NewCurrentIdentityQuery(reader IdentityReader) *CurrentIdentityQuery {
	return &CurrentIdentityQuery{reader: reader}
}

func (q *CurrentIdentityQuery) Query(ctx context.Context, _ CurrentIdentityMessage) (IdentityView, error) {
	if q == nil || q.reader == nil {
		return IdentityView{}, queryDependencyError("query: identity reader is required")
	}
	session, ok := q.reader.CurrentSession(ctx)
	return IdentityView{
		Session:       session,
		HasSession:    ok,
		BoundIdentity: q.reader.BoundIdentity(),
		Configured:    q.reader.Configured(),
	}, nil
}
