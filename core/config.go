package core

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	defaultServiceName           = "entitlements"
	defaultRequestTimeout        = 15 * time.Second
	defaultSessionPollAttempts   = 5
	defaultSessionPollInterval   = 400 * time.Millisecond
	defaultAnonymousPollAttempts = 3
	defaultAlignmentRetryDelay   = 750 * time.Millisecond
	defaultSyncMaxCASRetries     = 1
)

type PurchasesConfig struct {
	APIKey string `koanf:"api_key" mapstructure:"api_key"`
}

type SessionConfig struct {
	PollAttempts          int           `koanf:"poll_attempts" mapstructure:"poll_attempts"`
	PollInterval          time.Duration `koanf:"poll_interval" mapstructure:"poll_interval"`
	AnonymousPollAttempts int           `koanf:"anonymous_poll_attempts" mapstructure:"anonymous_poll_attempts"`
}

type AlignmentConfig struct {
	RetryDelay time.Duration `koanf:"retry_delay" mapstructure:"retry_delay"`
}

type SyncConfig struct {
	MaxCASRetries int `koanf:"max_cas_retries" mapstructure:"max_cas_retries"`
}

type Config struct {
	ServiceName    string          `koanf:"service_name" mapstructure:"service_name"`
	BaseURL        string          `koanf:"base_url" mapstructure:"base_url"`
	RequestTimeout time.Duration   `koanf:"request_timeout" mapstructure:"request_timeout"`
	Purchases      PurchasesConfig `koanf:"purchases" mapstructure:"purchases"`
	Session        SessionConfig   `koanf:"session" mapstructure:"session"`
	Alignment      AlignmentConfig `koanf:"alignment" mapstructure:"alignment"`
	Sync           SyncConfig      `koanf:"sync" mapstructure:"sync"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName:    defaultServiceName,
		RequestTimeout: defaultRequestTimeout,
		Session: SessionConfig{
			PollAttempts:          defaultSessionPollAttempts,
			PollInterval:          defaultSessionPollInterval,
			AnonymousPollAttempts: defaultAnonymousPollAttempts,
		},
		Alignment: AlignmentConfig{RetryDelay: defaultAlignmentRetryDelay},
		Sync:      SyncConfig{MaxCASRetries: defaultSyncMaxCASRetries},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if base := strings.TrimSpace(c.BaseURL); base != "" {
		parsed, err := url.Parse(base)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("core: base_url %q is invalid", base)
		}
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("core: request_timeout is invalid")
	}
	if c.Session.PollAttempts < 0 || c.Session.AnonymousPollAttempts < 0 {
		return fmt.Errorf("core: session poll attempts are invalid")
	}
	if c.Session.PollInterval < 0 {
		return fmt.Errorf("core: session poll_interval is invalid")
	}
	if c.Alignment.RetryDelay < 0 {
		return fmt.Errorf("core: alignment retry_delay is invalid")
	}
	if c.Sync.MaxCASRetries < 0 {
		return fmt.Errorf("core: sync max_cas_retries is invalid")
	}
	return nil
}

// normalized fills zero-valued knobs with defaults so a partially populated
// runtime config still produces a usable engine.
func (c Config) normalized() Config {
	defaults := DefaultConfig()
	if strings.TrimSpace(c.ServiceName) == "" {
		c.ServiceName = defaults.ServiceName
	}
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaults.RequestTimeout
	}
	if c.Session.PollAttempts <= 0 {
		c.Session.PollAttempts = defaults.Session.PollAttempts
	}
	if c.Session.PollInterval <= 0 {
		c.Session.PollInterval = defaults.Session.PollInterval
	}
	if c.Session.AnonymousPollAttempts <= 0 {
		c.Session.AnonymousPollAttempts = defaults.Session.AnonymousPollAttempts
	}
	if c.Alignment.RetryDelay <= 0 {
		c.Alignment.RetryDelay = defaults.Alignment.RetryDelay
	}
	return c
}
