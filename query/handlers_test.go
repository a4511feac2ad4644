package query

import (
	"context"
	"errors"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-entitlements/core"
)

type stubIdentityReader struct {
	session    core.Session
	hasSession bool
	bound      string
	configured bool
}

func (s stubIdentityReader) CurrentSession(context.Context) (core.Session, bool) {
	return s.session, s.hasSession
}

func (s stubIdentityReader) BoundIdentity() string { return s.bound }

func (s stubIdentityReader) Configured() bool { return s.configured }

type failingProfileReader struct {
	err error
}

func (r failingProfileReader) ReadByUserID(context.Context, string) (core.ProfileRecord, bool, error) {
	return core.ProfileRecord{}, false, r.err
}

func TestGetProfileQuery_ReadsFromStore(t *testing.T) {
	store := core.NewMemoryProfileStore()
	if _, err := store.Upsert(context.Background(), core.ProfileRecord{
		UserID:         "user-1",
		PlanNormalized: core.PlanPro,
		PlanRaw:        "store:pro_monthly",
	}); err != nil {
		t.Fatalf("seed profile: %v", err)
	}

	view, err := NewGetProfileQuery(store).Query(context.Background(), GetProfileMessage{UserID: " user-1 "})
	if err != nil {
		t.Fatalf("query profile: %v", err)
	}
	if !view.Found || !view.Record.IsPro() || view.Record.Version != 1 {
		t.Fatalf("unexpected profile view %+v", view)
	}

	missing, err := NewGetProfileQuery(store).Query(context.Background(), GetProfileMessage{UserID: "ghost"})
	if err != nil {
		t.Fatalf("query missing profile: %v", err)
	}
	if missing.Found {
		t.Fatalf("expected missing profile, got %+v", missing)
	}
}

func TestGetProfileQuery_ValidatesAndPropagates(t *testing.T) {
	boom := errors.New("store down")
	query := NewGetProfileQuery(failingProfileReader{err: boom})

	_, err := query.Query(context.Background(), GetProfileMessage{})
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.TextCode != core.ErrorBadInput {
		t.Fatalf("expected BAD_INPUT validation envelope, got %v", err)
	}
	if _, err := query.Query(context.Background(), GetProfileMessage{UserID: "u"}); !errors.Is(err, boom) {
		t.Fatalf("expected reader error, got %v", err)
	}
}

func TestCurrentIdentityQuery_ReportsAlignment(t *testing.T) {
	reader := stubIdentityReader{
		session:    core.Session{Token: "tok", Kind: core.IdentityKindAuthenticated, UserID: "user-2"},
		hasSession: true,
		bound:      "user-2",
		configured: true,
	}
	view, err := NewCurrentIdentityQuery(reader).Query(context.Background(), CurrentIdentityMessage{})
	if err != nil {
		t.Fatalf("query identity: %v", err)
	}
	if !view.HasSession || !view.Configured || !view.Aligned() {
		t.Fatalf("expected aligned identity view, got %+v", view)
	}

	reader.bound = "user-1"
	view, err = NewCurrentIdentityQuery(reader).Query(context.Background(), CurrentIdentityMessage{})
	if err != nil {
		t.Fatalf("query identity: %v", err)
	}
	if view.Aligned() {
		t.Fatalf("expected mismatched binding to be unaligned, got %+v", view)
	}

	view, err = NewCurrentIdentityQuery(stubIdentityReader{}).Query(context.Background(), CurrentIdentityMessage{})
	if err != nil {
		t.Fatalf("query identity: %v", err)
	}
	if view.HasSession || view.Aligned() {
		t.Fatalf("expected empty identity view, got %+v", view)
	}
}

func TestQueries_NilReaderReturnsRichError(t *testing.T) {
	var profile *GetProfileQuery
	_, err := profile.Query(context.Background(), GetProfileMessage{UserID: "u"})
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.Category != goerrors.CategoryInternal {
		t.Fatalf("expected internal envelope, got %v", err)
	}
	if _, err := NewCurrentIdentityQuery(nil).Query(context.Background(), CurrentIdentityMessage{}); err == nil {
		t.Fatalf("expected nil identity reader to fail")
	}
}
