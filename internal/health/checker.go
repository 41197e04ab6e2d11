package health

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// HealthPath is appended to a dependency base URL to form its probe target.
const HealthPath = "/health"

// CheckerConfig holds configuration for the Checker.
type CheckerConfig struct {
	// Timeout for a single probe. Zero means no timeout: a hung dependency
	// holds its probe slot until it answers or the context is cancelled.
	Timeout time.Duration
}

// DefaultCheckerConfig returns the inherited no-timeout configuration.
func DefaultCheckerConfig() CheckerConfig {
	return CheckerConfig{}
}

// Checker issues single health probes against dependency base URLs.
type Checker struct {
	client *http.Client
	logger *slog.Logger
}

// NewChecker creates a Checker. client may be nil.
func NewChecker(cfg CheckerConfig, client *http.Client, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	if client == nil {
		client = &http.Client{}
	}
	if cfg.Timeout > 0 {
		c := *client
		c.Timeout = cfg.Timeout
		client = &c
	}
	return &Checker{
		client: client,
		logger: logger,
	}
}

// Probe checks one dependency. An empty baseURL is treated as healthy without
// any network call. Otherwise it issues GET baseURL+"/health" and succeeds on
// any 2xx response; everything else is a *ProbeFailure.
func (c *Checker) Probe(ctx context.Context, dependencyID, baseURL string) (time.Duration, error) {
	if baseURL == "" {
		return 0, nil
	}

	start := time.Now()
	target := strings.TrimRight(baseURL, "/") + HealthPath

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return time.Since(start), &ProbeFailure{DependencyID: dependencyID, Err: err}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return time.Since(start), &ProbeFailure{DependencyID: dependencyID, Err: err}
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused by the next tick.
	_, _ = io.Copy(io.Discard, resp.Body)

	elapsed := time.Since(start)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return elapsed, &ProbeFailure{DependencyID: dependencyID, StatusCode: resp.StatusCode}
	}

	c.logger.Debug("health probe succeeded",
		"dependency", dependencyID,
		"latency", elapsed,
	)
	return elapsed, nil
}
