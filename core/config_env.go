package core

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const envConfigPrefix = "ENTITLEMENTS_"

// EnvConfigLoader reads ENTITLEMENTS_* variables into a raw config layer.
// Durations accept Go duration strings or a bare integer of milliseconds.
type EnvConfigLoader struct {
	Prefix string
	Lookup func(key string) (string, bool)
}

func NewEnvConfigLoader() EnvConfigLoader {
	return EnvConfigLoader{Prefix: envConfigPrefix, Lookup: os.LookupEnv}
}

func (l EnvConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	prefix := l.Prefix
	if strings.TrimSpace(prefix) == "" {
		prefix = envConfigPrefix
	}
	lookup := l.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	get := func(name string) (string, bool) {
		value, ok := lookup(prefix + name)
		value = strings.TrimSpace(value)
		return value, ok && value != ""
	}

	raw := map[string]any{}
	if value, ok := get("SERVICE_NAME"); ok {
		raw["service_name"] = value
	}
	if value, ok := get("BASE_URL"); ok {
		raw["base_url"] = value
	}
	if value, ok := get("REQUEST_TIMEOUT"); ok {
		timeout, err := parseEnvDuration(prefix+"REQUEST_TIMEOUT", value)
		if err != nil {
			return nil, err
		}
		raw["request_timeout"] = timeout
	}
	if value, ok := get("PURCHASES_API_KEY"); ok {
		raw["purchases"] = map[string]any{"api_key": value}
	}

	session := map[string]any{}
	for _, item := range []struct{ env, key string }{
		{"SESSION_POLL_ATTEMPTS", "poll_attempts"},
		{"SESSION_ANONYMOUS_POLL_ATTEMPTS", "anonymous_poll_attempts"},
	} {
		value, ok := get(item.env)
		if !ok {
			continue
		}
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("core: %s%s is invalid: %w", prefix, item.env, err)
		}
		session[item.key] = parsed
	}
	if value, ok := get("SESSION_POLL_INTERVAL"); ok {
		interval, err := parseEnvDuration(prefix+"SESSION_POLL_INTERVAL", value)
		if err != nil {
			return nil, err
		}
		session["poll_interval"] = interval
	}
	if len(session) > 0 {
		raw["session"] = session
	}

	if value, ok := get("ALIGNMENT_RETRY_DELAY"); ok {
		delay, err := parseEnvDuration(prefix+"ALIGNMENT_RETRY_DELAY", value)
		if err != nil {
			return nil, err
		}
		raw["alignment"] = map[string]any{"retry_delay": delay}
	}
	if value, ok := get("SYNC_MAX_CAS_RETRIES"); ok {
		retries, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("core: %sSYNC_MAX_CAS_RETRIES is invalid: %w", prefix, err)
		}
		raw["sync"] = map[string]any{"max_cas_retries": retries}
	}
	return raw, nil
}

func parseEnvDuration(name string, value string) (time.Duration, error) {
	if millis, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(millis) * time.Millisecond, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("core: %s is invalid: %w", name, err)
	}
	return parsed, nil
}
