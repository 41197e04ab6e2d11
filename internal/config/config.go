// Package config loads the reliability layer configuration from YAML with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/elder-voice/reliability/internal/status"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "RELIABILITY_"

// Config is the reliability layer configuration. Durations are integer
// milliseconds as in the YAML keys.
type Config struct {
	// CheckIntervalMs is the probe round interval.
	CheckIntervalMs int `yaml:"check_interval_ms"`
	// RetryLimit is both the retry budget and the escalation threshold.
	RetryLimit int `yaml:"retry_limit"`
	// RetryDelayMs is the fixed wait between retried action calls.
	RetryDelayMs int `yaml:"retry_delay_ms"`
	// ProbeTimeoutMs bounds a single health probe; 0 means no timeout.
	ProbeTimeoutMs int `yaml:"probe_timeout_ms"`

	Listen   string `yaml:"listen"`
	LogLevel string `yaml:"log_level"`

	// Dependencies maps dependency identifiers to base URLs. Every key is
	// registered; an empty URL means "always available".
	Dependencies map[string]string `yaml:"dependencies"`

	WorkflowWebhookURL string `yaml:"workflow_webhook_url"`
}

// DefaultConfig returns the defaults with the four known dependencies registered
// and unconfigured.
func DefaultConfig() Config {
	deps := make(map[string]string, len(status.KnownDependencies))
	for _, id := range status.KnownDependencies {
		deps[id] = ""
	}
	return Config{
		CheckIntervalMs: 60000,
		RetryLimit:      3,
		RetryDelayMs:    1000,
		ProbeTimeoutMs:  0,
		Listen:          ":9090",
		LogLevel:        "info",
		Dependencies:    deps,
	}
}

// Load reads path (optional: "" skips the file) over the defaults, then
// applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Keys absent from the file keep their defaults; explicit zeros stay.
		// Dependencies decode into the default map, so known ids remain.
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		if cfg.Dependencies == nil {
			cfg.Dependencies = map[string]string{}
		}
		for id, url := range cfg.Dependencies {
			cfg.Dependencies[id] = strings.TrimSpace(url)
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// DependencyEnvKey returns the variable overriding the base URL of id,
// e.g. RELIABILITY_EMERGENCY_SERVICE_URL.
func DependencyEnvKey(id string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(id, "-", "_")) + "_SERVICE_URL"
}

// lookupFunc matches os.LookupEnv.
type lookupFunc func(key string) (string, bool)

// applyEnv overrides cfg from RELIABILITY_* variables. Set but empty
// variables are ignored; "0" is applied like any other number.
func applyEnv(cfg *Config, lookup lookupFunc) error {
	ints := []struct {
		key string
		dst *int
	}{
		{EnvPrefix + "CHECK_INTERVAL_MS", &cfg.CheckIntervalMs},
		{EnvPrefix + "RETRY_LIMIT", &cfg.RetryLimit},
		{EnvPrefix + "RETRY_DELAY_MS", &cfg.RetryDelayMs},
		{EnvPrefix + "PROBE_TIMEOUT_MS", &cfg.ProbeTimeoutMs},
	}
	var errs []error
	for _, e := range ints {
		v, ok := lookup(e.key)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.key, err))
			continue
		}
		*e.dst = n
	}

	if v, ok := lookup(EnvPrefix + "LISTEN"); ok && v != "" {
		cfg.Listen = v
	}
	if v, ok := lookup(EnvPrefix + "LOG_LEVEL"); ok && v != "" {
		cfg.LogLevel = v
	}
	if v, ok := lookup(EnvPrefix + "WORKFLOW_WEBHOOK_URL"); ok && v != "" {
		cfg.WorkflowWebhookURL = strings.TrimSpace(v)
	}
	for id := range cfg.Dependencies {
		if v, ok := lookup(DependencyEnvKey(id)); ok && v != "" {
			cfg.Dependencies[id] = strings.TrimSpace(v)
		}
	}

	return errors.Join(errs...)
}

// CheckInterval returns CheckIntervalMs as a duration.
func (c Config) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalMs) * time.Millisecond
}

// RetryDelay returns RetryDelayMs as a duration.
func (c Config) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMs) * time.Millisecond
}

// ProbeTimeout returns ProbeTimeoutMs as a duration; zero means no timeout.
func (c Config) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutMs) * time.Millisecond
}

// DependencyIDs returns the registered dependencies: the known ones first in
// their usual order, then any extra configured ids sorted by name.
func (c Config) DependencyIDs() []string {
	ids := make([]string, 0, len(c.Dependencies))
	seen := make(map[string]bool, len(c.Dependencies))
	for _, id := range status.KnownDependencies {
		if _, ok := c.Dependencies[id]; ok {
			ids = append(ids, id)
			seen[id] = true
		}
	}
	var extra []string
	for id := range c.Dependencies {
		if !seen[id] {
			extra = append(extra, id)
		}
	}
	sort.Strings(extra)
	return append(ids, extra...)
}
