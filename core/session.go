package core

import (
	"context"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const (
	sessionAnonymousFlightKey = "session.anonymous"
	sessionRefreshFlightKey   = "session.refresh"
)

// EnsureSession returns a usable bearer token for the current caller. It
// never returns an error value; failures are reported through Reason.
func (e *Engine) EnsureSession(ctx context.Context, allowAnonymous bool) SessionResult {
	if ctx == nil {
		ctx = context.Background()
	}
	startedAt := e.now()
	result := e.ensureSession(ctx, allowAnonymous)

	var err error
	if !result.OK() {
		err = result.Err
		if err == nil {
			err = newEngineError("no usable session: "+string(result.Reason), goerrors.CategoryAuth, ErrorNotAuthenticated)
		}
	}
	e.observeOperation(ctx, startedAt, "ensure_session", err, map[string]any{
		"allow_anonymous": allowAnonymous,
		"reason":          string(result.Reason),
		"session_kind":    string(result.Session.Kind),
	})
	return result
}

func (e *Engine) ensureSession(ctx context.Context, allowAnonymous bool) SessionResult {
	if e == nil || e.auth == nil {
		return SessionResult{Reason: SessionReasonNoSession, Err: e.mapError(ErrAuthBackendRequired)}
	}

	session := e.readSession(ctx)
	if session.Valid(e.now()) {
		return sessionOK(session)
	}

	session = e.awaitHydration(ctx)
	if session.Valid(e.now()) {
		return sessionOK(session)
	}
	if err := ctx.Err(); err != nil {
		return SessionResult{Reason: SessionReasonNoSession, Err: e.mapError(err)}
	}

	if allowAnonymous && !e.signedOut.Load() {
		created, err := e.createAnonymousSession(ctx)
		if err != nil {
			e.logWarn(ctx, "anonymous session creation failed", map[string]any{"error": err.Error()})
		} else if created.Valid(e.now()) {
			return sessionOK(created)
		} else {
			session = e.pollSession(ctx, e.config.Session.AnonymousPollAttempts)
			if session.Valid(e.now()) {
				return sessionOK(session)
			}
		}
	}

	refreshed, err := e.refreshSession(ctx)
	if err != nil {
		return SessionResult{
			Reason: SessionReasonRefreshFailed,
			Err:    wrapEngineError(err, goerrors.CategoryAuth, ErrorNotAuthenticated, "session refresh failed"),
		}
	}
	if refreshed.Valid(e.now()) {
		return sessionOK(refreshed)
	}
	if strings.TrimSpace(refreshed.Token) == "" && strings.TrimSpace(session.Token) == "" {
		return SessionResult{Reason: SessionReasonNoSession}
	}
	return SessionResult{Session: refreshed, Reason: SessionReasonNoToken}
}

func sessionOK(session Session) SessionResult {
	return SessionResult{Token: session.Token, Session: session}
}

// CurrentSession reads the auth backend's cache without waiting or creating.
func (e *Engine) CurrentSession(ctx context.Context) (Session, bool) {
	if e == nil || e.auth == nil {
		return Session{}, false
	}
	session := e.readSession(ctx)
	return session, session.Valid(e.now())
}

// SignOut stops anonymous sessions from being issued until SignedIn is
// called, and drops the purchase SDK binding.
func (e *Engine) SignOut(ctx context.Context) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	startedAt := e.now()
	defer func() {
		e.observeOperation(ctx, startedAt, "sign_out", err, nil)
	}()
	if e == nil || e.auth == nil {
		return e.mapError(ErrAuthBackendRequired)
	}

	e.signedOut.Store(true)
	e.alignMu.Lock()
	e.boundID = ""
	e.alignMu.Unlock()

	if signer, ok := e.auth.(SignOuter); ok {
		if signErr := signer.SignOut(ctx); signErr != nil {
			return e.mapError(signErr)
		}
	}
	return nil
}

func (e *Engine) SignedIn() {
	if e == nil {
		return
	}
	e.signedOut.Store(false)
}

func (e *Engine) readSession(ctx context.Context) Session {
	session, err := e.auth.GetSession(ctx)
	if err != nil {
		e.logWarn(ctx, "session read failed", map[string]any{"error": err.Error()})
		return Session{}
	}
	return session
}

// awaitHydration bridges process start and session store hydration. Backends
// exposing a ready signal are waited on; others are polled.
func (e *Engine) awaitHydration(ctx context.Context) Session {
	attempts := e.config.Session.PollAttempts
	notifier, ok := e.auth.(HydrationNotifier)
	if !ok {
		return e.pollSession(ctx, attempts)
	}
	ready := notifier.Ready()
	if ready == nil {
		return e.pollSession(ctx, attempts)
	}

	timer := e.clock.NewTimer(e.config.Session.PollInterval * time.Duration(attempts))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return Session{}
	case <-timer.Chan():
	case <-ready:
	}
	return e.readSession(ctx)
}

func (e *Engine) pollSession(ctx context.Context, attempts int) Session {
	var session Session
	for attempt := 0; attempt < attempts; attempt++ {
		if err := e.waitWithContext(ctx, e.config.Session.PollInterval); err != nil {
			return Session{}
		}
		session = e.readSession(ctx)
		if session.Valid(e.now()) {
			return session
		}
	}
	return session
}

// createAnonymousSession collapses concurrent requests into one backend call.
// The executing caller re-reads the cache first so a session created by an
// earlier flight is reused.
func (e *Engine) createAnonymousSession(ctx context.Context) (Session, error) {
	shared := context.WithoutCancel(ctx)
	ch := e.sessionFlights.DoChan(sessionAnonymousFlightKey, func() (any, error) {
		if existing := e.readSession(shared); existing.Valid(e.now()) {
			return existing, nil
		}
		session, err := e.auth.CreateAnonymousSession(shared)
		if err != nil {
			return Session{}, err
		}
		e.logInfo(shared, "anonymous session created", map[string]any{"user_id": session.UserID})
		return session, nil
	})
	value, err := awaitShared(ctx, ch)
	if err != nil {
		return Session{}, err
	}
	session, _ := value.(Session)
	return session, nil
}

func (e *Engine) refreshSession(ctx context.Context) (Session, error) {
	shared := context.WithoutCancel(ctx)
	ch := e.sessionFlights.DoChan(sessionRefreshFlightKey, func() (any, error) {
		session, err := e.auth.RefreshSession(shared)
		if err != nil {
			return Session{}, err
		}
		return session, nil
	})
	value, err := awaitShared(ctx, ch)
	if err != nil {
		return Session{}, err
	}
	session, _ := value.(Session)
	return session, nil
}
