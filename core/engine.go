package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"
)

var (
	ErrAuthBackendRequired  = errors.New("core: auth backend is required")
	ErrPurchaseSDKRequired  = errors.New("core: purchase sdk is required")
	ErrProfileStoreRequired = errors.New("core: profile store is required")
	ErrTransportRequired    = errors.New("core: transport adapter is required")
)

// Engine reconciles the backend session, the purchase SDK identity and the
// persisted profile plan. All process-lifetime state lives on the instance.
type Engine struct {
	config          Config
	logger          Logger
	loggerProvider  LoggerProvider
	metricsRecorder MetricsRecorder
	errorFactory    ErrorFactory
	errorMapper     ErrorMapper
	configProvider  ConfigProvider
	optionsResolver OptionsResolver
	clock           clockwork.Clock

	auth      AuthBackend
	purchases PurchaseSDK
	profiles  ProfileStore
	transport TransportAdapter

	sessionFlights singleflight.Group
	signedOut      atomic.Bool

	configureFlights singleflight.Group
	configured       atomic.Bool

	alignMu     sync.Mutex
	alignFlight *alignFlight
	boundID     string

	syncFlights singleflight.Group
	syncMu      sync.Mutex
}

type EngineDependencies struct {
	Logger          Logger
	LoggerProvider  LoggerProvider
	MetricsRecorder MetricsRecorder
	ErrorFactory    ErrorFactory
	ErrorMapper     ErrorMapper
	ConfigProvider  ConfigProvider
	OptionsResolver OptionsResolver
	Clock           clockwork.Clock
	AuthBackend     AuthBackend
	PurchaseSDK     PurchaseSDK
	ProfileStore    ProfileStore
	Transport       TransportAdapter
}

func NewEngine(cfg Config, opts ...Option) (*Engine, error) {
	builder := defaultEngineBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve(defaultServiceName, builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger(defaultServiceName); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.errorFactory == nil {
		builder.errorFactory = goerrors.New
	}
	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.clock == nil {
		builder.clock = clockwork.NewRealClock()
	}
	if builder.authBackend == nil {
		return nil, mapBuildError(builder.errorMapper, ErrAuthBackendRequired)
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	return &Engine{
		config:          finalConfig.normalized(),
		logger:          logger,
		loggerProvider:  provider,
		metricsRecorder: builder.metricsRecorder,
		errorFactory:    builder.errorFactory,
		errorMapper:     builder.errorMapper,
		configProvider:  builder.configProvider,
		optionsResolver: builder.optionsResolver,
		clock:           builder.clock,
		auth:            builder.authBackend,
		purchases:       builder.purchases,
		profiles:        builder.profileStore,
		transport:       builder.transport,
	}, nil
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (e *Engine) Config() Config {
	if e == nil {
		return Config{}
	}
	return e.config
}

func (e *Engine) Dependencies() EngineDependencies {
	if e == nil {
		return EngineDependencies{}
	}
	return EngineDependencies{
		Logger:          e.logger,
		LoggerProvider:  e.loggerProvider,
		MetricsRecorder: e.metricsRecorder,
		ErrorFactory:    e.errorFactory,
		ErrorMapper:     e.errorMapper,
		ConfigProvider:  e.configProvider,
		OptionsResolver: e.optionsResolver,
		Clock:           e.clock,
		AuthBackend:     e.auth,
		PurchaseSDK:     e.purchases,
		ProfileStore:    e.profiles,
		Transport:       e.transport,
	}
}

// BoundIdentity returns the user id the purchase SDK is currently aligned
// to, or "" when no alignment has succeeded since start or the last failure.
func (e *Engine) BoundIdentity() string {
	if e == nil {
		return ""
	}
	e.alignMu.Lock()
	defer e.alignMu.Unlock()
	return e.boundID
}

func (e *Engine) Configured() bool {
	if e == nil {
		return false
	}
	return e.configured.Load()
}

func (e *Engine) now() time.Time {
	if e == nil || e.clock == nil {
		return time.Now().UTC()
	}
	return e.clock.Now().UTC()
}

func (e *Engine) waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := e.clock.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.Chan():
		return nil
	}
}

// awaitShared waits for a singleflight result without letting the caller's
// cancellation reach the shared execution.
func awaitShared(ctx context.Context, ch <-chan singleflight.Result) (any, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case result := <-ch:
		return result.Val, result.Err
	}
}
