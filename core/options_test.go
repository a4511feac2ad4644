package core

import (
	"context"
	"errors"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/jonboulle/clockwork"
)

type fixedConfigProvider struct {
	cfg Config
}

func (p *fixedConfigProvider) Load(context.Context, Config) (Config, error) {
	return p.cfg, nil
}

type fixedOptionsResolver struct {
	cfg Config
}

func (r *fixedOptionsResolver) Resolve(Config, Config, Config) (Config, error) {
	return r.cfg, nil
}

func TestNewEngine_DefaultDependencies(t *testing.T) {
	engine, err := NewEngine(Config{}, WithAuthBackend(&stubAuthBackend{}))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	deps := engine.Dependencies()
	if deps.Logger == nil {
		t.Fatalf("expected default logger")
	}
	if deps.LoggerProvider == nil {
		t.Fatalf("expected default logger provider")
	}
	if deps.ErrorFactory == nil || deps.ErrorMapper == nil {
		t.Fatalf("expected default error factory and mapper")
	}
	if deps.ConfigProvider == nil || deps.OptionsResolver == nil {
		t.Fatalf("expected default config provider and options resolver")
	}
	if deps.MetricsRecorder == nil || deps.Clock == nil {
		t.Fatalf("expected default metrics recorder and clock")
	}

	cfg := engine.Config()
	if cfg.ServiceName != "entitlements" {
		t.Fatalf("expected default service_name=entitlements, got %q", cfg.ServiceName)
	}
	if cfg.RequestTimeout != 15*time.Second {
		t.Fatalf("expected 15s request timeout, got %s", cfg.RequestTimeout)
	}
	if cfg.Session.PollAttempts != 5 || cfg.Session.PollInterval != 400*time.Millisecond {
		t.Fatalf("expected 5x400ms session polling, got %d x %s", cfg.Session.PollAttempts, cfg.Session.PollInterval)
	}
	if cfg.Alignment.RetryDelay != 750*time.Millisecond {
		t.Fatalf("expected 750ms alignment retry delay, got %s", cfg.Alignment.RetryDelay)
	}
	if cfg.Sync.MaxCASRetries != 1 {
		t.Fatalf("expected one cas retry, got %d", cfg.Sync.MaxCASRetries)
	}
}

func TestNewEngine_RequiresAuthBackend(t *testing.T) {
	_, err := NewEngine(Config{})
	if err == nil {
		t.Fatalf("expected error without auth backend")
	}
	if !errors.Is(err, ErrAuthBackendRequired) {
		t.Fatalf("expected ErrAuthBackendRequired in chain, got %v", err)
	}
}

func TestNewEngine_WithXOverrides(t *testing.T) {
	customLogger := stubLogger{}
	customProvider := stubLoggerProvider{logger: customLogger}
	customFactory := func(message string, category ...goerrors.Category) *goerrors.Error {
		return goerrors.New("custom:"+message, category...)
	}
	customMapper := func(err error) *goerrors.Error {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "mapped")
	}
	configProvider := &fixedConfigProvider{cfg: Config{ServiceName: "from-provider"}}
	optionsResolver := &fixedOptionsResolver{cfg: Config{ServiceName: "resolved", BaseURL: "https://api.example.test/"}}
	clock := clockwork.NewFakeClock()
	metrics := &captureMetricsRecorder{}
	sdk := &stubPurchaseSDK{}
	store := NewMemoryProfileStore()
	transport := &stubTransport{}

	engine, err := NewEngine(Config{ServiceName: "runtime"},
		WithAuthBackend(&stubAuthBackend{}),
		WithLogger(customLogger),
		WithLoggerProvider(customProvider),
		WithErrorFactory(customFactory),
		WithErrorMapper(customMapper),
		WithConfigProvider(configProvider),
		WithOptionsResolver(optionsResolver),
		WithClock(clock),
		WithMetricsRecorder(metrics),
		WithPurchaseSDK(sdk),
		WithProfileStore(store),
		WithTransport(transport),
	)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	deps := engine.Dependencies()
	if deps.ConfigProvider != configProvider || deps.OptionsResolver != optionsResolver {
		t.Fatalf("expected custom config provider and resolver")
	}
	if deps.Clock != clock {
		t.Fatalf("expected custom clock")
	}
	if deps.MetricsRecorder != metrics {
		t.Fatalf("expected custom metrics recorder")
	}
	if deps.PurchaseSDK != sdk || deps.ProfileStore != store || deps.Transport != transport {
		t.Fatalf("expected collaborators to be wired")
	}
	if got := deps.ErrorFactory("boom").Message; got != "custom:boom" {
		t.Fatalf("expected custom error factory, got %q", got)
	}
	if got := engine.Config().ServiceName; got != "resolved" {
		t.Fatalf("expected resolver config to win, got %q", got)
	}
	if got := engine.Config().BaseURL; got != "https://api.example.test" {
		t.Fatalf("expected trailing slash trimmed, got %q", got)
	}
}

func TestNewEngine_RuntimeConfigOverridesLoadedConfig(t *testing.T) {
	loader := mapRawLoader{values: map[string]any{
		"service_name": "from-config",
		"base_url":     "https://config.example.test",
		"session": map[string]any{
			"poll_attempts": 9,
		},
	}}
	engine, err := NewEngine(
		Config{BaseURL: "https://runtime.example.test"},
		WithAuthBackend(&stubAuthBackend{}),
		WithConfigProvider(NewCfgxConfigProvider(loader)),
	)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	cfg := engine.Config()
	if cfg.ServiceName != "from-config" {
		t.Fatalf("expected loaded service name, got %q", cfg.ServiceName)
	}
	if cfg.BaseURL != "https://runtime.example.test" {
		t.Fatalf("expected runtime base url to win, got %q", cfg.BaseURL)
	}
	if cfg.Session.PollAttempts != 9 {
		t.Fatalf("expected loaded poll attempts, got %d", cfg.Session.PollAttempts)
	}
	if cfg.Session.PollInterval != 400*time.Millisecond {
		t.Fatalf("expected default poll interval kept, got %s", cfg.Session.PollInterval)
	}
}

func TestCfgxConfigProvider_RejectsInvalidConfig(t *testing.T) {
	provider := NewCfgxConfigProvider(mapRawLoader{values: map[string]any{
		"base_url": "not a url",
	}})
	if _, err := provider.Load(context.Background(), DefaultConfig()); err == nil {
		t.Fatalf("expected invalid base_url to be rejected")
	}
}

func TestEnvConfigLoader_LoadRaw(t *testing.T) {
	env := map[string]string{
		"ENTITLEMENTS_SERVICE_NAME":          "billing",
		"ENTITLEMENTS_BASE_URL":              "https://env.example.test",
		"ENTITLEMENTS_REQUEST_TIMEOUT":       "2500",
		"ENTITLEMENTS_PURCHASES_API_KEY":     "appl_key",
		"ENTITLEMENTS_SESSION_POLL_ATTEMPTS": "7",
		"ENTITLEMENTS_SESSION_POLL_INTERVAL": "250ms",
		"ENTITLEMENTS_ALIGNMENT_RETRY_DELAY": "1s",
		"ENTITLEMENTS_SYNC_MAX_CAS_RETRIES":  "3",
	}
	loader := EnvConfigLoader{Lookup: func(key string) (string, bool) {
		value, ok := env[key]
		return value, ok
	}}

	provider := NewCfgxConfigProvider(loader)
	cfg, err := provider.Load(context.Background(), DefaultConfig())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ServiceName != "billing" || cfg.BaseURL != "https://env.example.test" {
		t.Fatalf("unexpected identity config: %+v", cfg)
	}
	if cfg.RequestTimeout != 2500*time.Millisecond {
		t.Fatalf("expected bare integer as milliseconds, got %s", cfg.RequestTimeout)
	}
	if cfg.Purchases.APIKey != "appl_key" {
		t.Fatalf("expected api key, got %q", cfg.Purchases.APIKey)
	}
	if cfg.Session.PollAttempts != 7 || cfg.Session.PollInterval != 250*time.Millisecond {
		t.Fatalf("unexpected session config: %+v", cfg.Session)
	}
	if cfg.Session.AnonymousPollAttempts != 3 {
		t.Fatalf("expected default anonymous poll attempts, got %d", cfg.Session.AnonymousPollAttempts)
	}
	if cfg.Alignment.RetryDelay != time.Second || cfg.Sync.MaxCASRetries != 3 {
		t.Fatalf("unexpected alignment/sync config: %+v %+v", cfg.Alignment, cfg.Sync)
	}
}

func TestEnvConfigLoader_InvalidValue(t *testing.T) {
	loader := EnvConfigLoader{Lookup: func(key string) (string, bool) {
		if key == "ENTITLEMENTS_SESSION_POLL_ATTEMPTS" {
			return "many", true
		}
		return "", false
	}}
	if _, err := loader.LoadRaw(context.Background()); err == nil {
		t.Fatalf("expected invalid integer to fail")
	}
}
