package core

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

type stubLogger struct{}

func (stubLogger) Trace(string, ...any) {}
func (stubLogger) Debug(string, ...any) {}
func (stubLogger) Info(string, ...any)  {}
func (stubLogger) Warn(string, ...any)  {}
func (stubLogger) Error(string, ...any) {}
func (stubLogger) Fatal(string, ...any) {}
func (s stubLogger) WithContext(context.Context) Logger {
	return s
}

type stubLoggerProvider struct {
	logger Logger
}

func (s stubLoggerProvider) GetLogger(string) Logger {
	return s.logger
}

type mapRawLoader struct {
	values map[string]any
}

func (l mapRawLoader) LoadRaw(context.Context) (map[string]any, error) {
	out := make(map[string]any, len(l.values))
	for key, value := range l.values {
		out[key] = value
	}
	return out, nil
}

type capturedCounter struct {
	name  string
	value int64
	tags  map[string]string
}

type capturedHistogram struct {
	name  string
	value float64
	tags  map[string]string
}

type captureMetricsRecorder struct {
	mu         sync.Mutex
	counters   []capturedCounter
	histograms []capturedHistogram
}

func (m *captureMetricsRecorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters = append(m.counters, capturedCounter{name: name, value: value, tags: cloneTags(tags)})
}

func (m *captureMetricsRecorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.histograms = append(m.histograms, capturedHistogram{name: name, value: value, tags: cloneTags(tags)})
}

func (m *captureMetricsRecorder) snapshot() ([]capturedCounter, []capturedHistogram) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]capturedCounter(nil), m.counters...), append([]capturedHistogram(nil), m.histograms...)
}

type capturedLog struct {
	level  string
	msg    string
	fields map[string]any
}

type captureLogger struct {
	mu       *sync.Mutex
	records  *[]capturedLog
	defaults map[string]any
}

func newCaptureLogger() *captureLogger {
	records := []capturedLog{}
	return &captureLogger{mu: &sync.Mutex{}, records: &records, defaults: map[string]any{}}
}

func (l *captureLogger) WithFields(fields map[string]any) Logger {
	merged := cloneFields(l.defaults)
	for key, value := range fields {
		merged[key] = value
	}
	return &captureLogger{mu: l.mu, records: l.records, defaults: merged}
}

func (l *captureLogger) Trace(msg string, args ...any) { l.record("trace", msg, args...) }
func (l *captureLogger) Debug(msg string, args ...any) { l.record("debug", msg, args...) }
func (l *captureLogger) Info(msg string, args ...any)  { l.record("info", msg, args...) }
func (l *captureLogger) Warn(msg string, args ...any)  { l.record("warn", msg, args...) }
func (l *captureLogger) Error(msg string, args ...any) { l.record("error", msg, args...) }
func (l *captureLogger) Fatal(msg string, args ...any) { l.record("fatal", msg, args...) }

func (l *captureLogger) WithContext(context.Context) Logger {
	return &captureLogger{mu: l.mu, records: l.records, defaults: cloneFields(l.defaults)}
}

func (l *captureLogger) record(level string, msg string, args ...any) {
	fields := cloneFields(l.defaults)
	for index := 0; index+1 < len(args); index += 2 {
		key, ok := args[index].(string)
		if !ok {
			continue
		}
		fields[key] = args[index+1]
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.records = append(*l.records, capturedLog{level: level, msg: msg, fields: fields})
}

func (l *captureLogger) snapshot() []capturedLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	items := *l.records
	out := make([]capturedLog, len(items))
	copy(out, items)
	return out
}

type stubAuthBackend struct {
	mu sync.Mutex

	session      Session
	hydrateAfter int
	hydrated     Session

	createDelay   time.Duration
	createSession Session
	createErr     error

	refreshSession Session
	refreshErr     error

	user    UserIdentity
	userErr error

	getCalls     int
	createCalls  int
	refreshCalls int
	signOutCalls int
}

func (s *stubAuthBackend) GetSession(context.Context) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getCalls++
	if s.hydrateAfter > 0 && s.getCalls >= s.hydrateAfter && s.session.Token == "" {
		s.session = s.hydrated
	}
	return s.session, nil
}

func (s *stubAuthBackend) CreateAnonymousSession(context.Context) (Session, error) {
	s.mu.Lock()
	s.createCalls++
	delay := s.createDelay
	s.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return Session{}, s.createErr
	}
	s.session = s.createSession
	return s.createSession, nil
}

func (s *stubAuthBackend) RefreshSession(context.Context) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshCalls++
	if s.refreshErr != nil {
		return Session{}, s.refreshErr
	}
	if s.refreshSession.Token != "" {
		s.session = s.refreshSession
	}
	return s.refreshSession, nil
}

func (s *stubAuthBackend) GetCurrentUser(context.Context) (UserIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.userErr != nil {
		return UserIdentity{}, s.userErr
	}
	return s.user, nil
}

func (s *stubAuthBackend) SignOut(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signOutCalls++
	s.session = Session{}
	return nil
}

func (s *stubAuthBackend) setSession(session Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = session
}

func (s *stubAuthBackend) counts() (get int, create int, refresh int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getCalls, s.createCalls, s.refreshCalls
}

type hydratingAuthBackend struct {
	*stubAuthBackend
	ready chan struct{}
}

func (h *hydratingAuthBackend) Ready() <-chan struct{} {
	return h.ready
}

type stubPurchaseSDK struct {
	mu sync.Mutex

	configureErrs []error
	bindErrs      []error
	bindSnapshot  *EntitlementSnapshot
	bindGate      chan struct{}
	bindStarted   chan struct{}
	snapshot      EntitlementSnapshot
	snapshotErr   error

	configureCalls int
	bindCalls      int
	snapshotCalls  int
	bound          []string
	inFlight       int
	maxInFlight    int
}

func (s *stubPurchaseSDK) Configure(context.Context, string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configureCalls++
	if len(s.configureErrs) > 0 {
		err := s.configureErrs[0]
		s.configureErrs = s.configureErrs[1:]
		return err
	}
	return nil
}

func (s *stubPurchaseSDK) BindIdentity(_ context.Context, userID string) (BindResult, error) {
	s.mu.Lock()
	s.bindCalls++
	s.inFlight++
	if s.inFlight > s.maxInFlight {
		s.maxInFlight = s.inFlight
	}
	gate := s.bindGate
	started := s.bindStarted
	s.mu.Unlock()

	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if gate != nil {
		<-gate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight--
	if len(s.bindErrs) > 0 {
		err := s.bindErrs[0]
		s.bindErrs = s.bindErrs[1:]
		if err != nil {
			return BindResult{}, err
		}
	}
	s.bound = append(s.bound, userID)
	return BindResult{Snapshot: s.bindSnapshot}, nil
}

func (s *stubPurchaseSDK) GetEntitlementSnapshot(context.Context) (EntitlementSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshotCalls++
	if s.snapshotErr != nil {
		return EntitlementSnapshot{}, s.snapshotErr
	}
	return s.snapshot, nil
}

func (s *stubPurchaseSDK) stats() (configure int, bind int, snapshot int, maxInFlight int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.configureCalls, s.bindCalls, s.snapshotCalls, s.maxInFlight
}

type countingProfileStore struct {
	*MemoryProfileStore

	mu            sync.Mutex
	readGate      chan struct{}
	readStarted   chan struct{}
	conflicts     int
	readCalls     int
	upsertCalls   int
	upsertRecords []ProfileRecord
}

func newCountingProfileStore() *countingProfileStore {
	return &countingProfileStore{MemoryProfileStore: NewMemoryProfileStore()}
}

func (s *countingProfileStore) seed(t *testing.T, record ProfileRecord) {
	t.Helper()
	if _, err := s.MemoryProfileStore.Upsert(context.Background(), record); err != nil {
		t.Fatalf("seed profile: %v", err)
	}
}

func (s *countingProfileStore) ReadByUserID(ctx context.Context, userID string) (ProfileRecord, bool, error) {
	s.mu.Lock()
	s.readCalls++
	gate := s.readGate
	started := s.readStarted
	s.mu.Unlock()
	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if gate != nil {
		<-gate
	}
	return s.MemoryProfileStore.ReadByUserID(ctx, userID)
}

func (s *countingProfileStore) Upsert(ctx context.Context, record ProfileRecord) (ProfileRecord, error) {
	s.mu.Lock()
	s.upsertCalls++
	s.upsertRecords = append(s.upsertRecords, record)
	if s.conflicts > 0 {
		s.conflicts--
		s.mu.Unlock()
		return ProfileRecord{}, fmt.Errorf("concurrent writer: %w", ErrProfileVersionConflict)
	}
	s.mu.Unlock()
	return s.MemoryProfileStore.Upsert(ctx, record)
}

func (s *countingProfileStore) upserts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertCalls
}

type stubTransport struct {
	mu       sync.Mutex
	handler  func(ctx context.Context, req TransportRequest) (TransportResponse, error)
	requests []TransportRequest
}

func (s *stubTransport) Kind() string { return "stub" }

func (s *stubTransport) Do(ctx context.Context, req TransportRequest) (TransportResponse, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	handler := s.handler
	s.mu.Unlock()
	if handler == nil {
		return TransportResponse{StatusCode: 200}, nil
	}
	return handler(ctx, req)
}

func (s *stubTransport) calls() []TransportRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]TransportRequest(nil), s.requests...)
}

func validSession(token string, kind IdentityKind) Session {
	expires := time.Now().UTC().Add(time.Hour)
	return Session{Token: token, Kind: kind, UserID: "usr_" + token, ExpiresAt: &expires}
}

func fastTestConfig() Config {
	cfg := DefaultConfig()
	cfg.BaseURL = "https://api.example.test"
	cfg.Session.PollAttempts = 2
	cfg.Session.PollInterval = time.Millisecond
	cfg.Session.AnonymousPollAttempts = 1
	cfg.Alignment.RetryDelay = time.Millisecond
	return cfg
}

func newTestEngine(t *testing.T, auth AuthBackend, opts ...Option) *Engine {
	t.Helper()
	all := append([]Option{WithAuthBackend(auth), WithLogger(stubLogger{}), WithLoggerProvider(stubLoggerProvider{logger: stubLogger{}})}, opts...)
	engine, err := NewEngine(fastTestConfig(), all...)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return engine
}
