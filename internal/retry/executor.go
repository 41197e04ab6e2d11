// Package retry invokes remote calls with a bounded number of fixed-delay retries.
//
// The executor does not look at dependency status before calling: it will
// retry against a dependency the monitor reports as unavailable. There is no
// cancellation of an in-flight retry sequence; a caller is suspended for up to
// RetryLimit*Delay plus the time spent in the calls themselves.
package retry

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/elder-voice/reliability/internal/metrics"
)

// Config holds the retry budget and the delay between attempts.
type Config struct {
	// RetryLimit is the number of retries after the first attempt.
	RetryLimit int

	// Delay is the fixed wait between attempts. It never grows.
	Delay time.Duration
}

// DefaultConfig returns three retries one second apart.
func DefaultConfig() Config {
	return Config{
		RetryLimit: 3,
		Delay:      time.Second,
	}
}

// Attempt describes a failed attempt that is about to be retried.
type Attempt struct {
	DependencyID string
	// AttemptsRemaining is the retry budget left before the upcoming retry is spent.
	AttemptsRemaining int
	LastError         error
	Wait              time.Duration
}

// Observer is called after every failed attempt that will be retried.
type Observer func(Attempt)

// ExhaustedError is returned once the whole retry budget is spent.
type ExhaustedError struct {
	DependencyID string
	Attempts     int
	Err          error
}

// Error implements error.
func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: retry budget exhausted after %d attempts: %v", e.DependencyID, e.Attempts, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Option configures an Executor.
type Option func(*Executor)

// WithObserver registers an observer for retried attempts.
func WithObserver(o Observer) Option {
	return func(e *Executor) {
		e.observer = o
	}
}

// WithMetrics records attempts and exhaustion in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Executor) {
		e.metrics = m
	}
}

// Executor runs operations under a retry budget.
type Executor struct {
	cfg      Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
	observer Observer
}

// New creates an Executor.
func New(cfg Config, logger *slog.Logger, opts ...Option) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RetryLimit < 0 {
		cfg.RetryLimit = 0
	}
	if cfg.Delay < 0 {
		cfg.Delay = 0
	}
	e := &Executor{cfg: cfg, logger: logger}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the executor configuration.
func (e *Executor) Config() Config {
	return e.cfg
}

// Execute runs op with the configured retry budget.
func (e *Executor) Execute(dependencyID string, op func() error) error {
	return e.ExecuteWithBudget(dependencyID, e.cfg.RetryLimit, op)
}

// ExecuteWithBudget runs op, retrying up to retries times with the fixed
// delay in between. op is invoked at most retries+1 times. When every attempt
// fails the last error is returned wrapped in *ExhaustedError.
func (e *Executor) ExecuteWithBudget(dependencyID string, retries int, op func() error) error {
	if retries < 0 {
		retries = 0
	}

	attempts := 0
	var policy backoff.BackOff = &backoff.StopBackOff{}
	if retries > 0 {
		policy = backoff.WithMaxRetries(backoff.NewConstantBackOff(e.cfg.Delay), uint64(retries))
	}

	operation := func() error {
		attempts++
		err := op()
		e.count(dependencyID, err)
		return err
	}

	notify := func(err error, wait time.Duration) {
		a := Attempt{
			DependencyID:      dependencyID,
			AttemptsRemaining: retries - attempts + 1,
			LastError:         err,
			Wait:              wait,
		}
		e.logger.Warn("remote call failed, retrying",
			"dependency", dependencyID,
			"attempt", attempts,
			"retries_remaining", a.AttemptsRemaining,
			"wait", wait,
			"error", err,
		)
		if e.observer != nil {
			e.observer(a)
		}
	}

	err := backoff.RetryNotify(operation, policy, notify)
	if err == nil {
		return nil
	}

	if e.metrics != nil {
		e.metrics.RetryExhaustedTotal.WithLabelValues(dependencyID).Inc()
	}
	e.logger.Error("remote call failed, retry budget exhausted",
		"dependency", dependencyID,
		"attempts", attempts,
		"error", err,
	)
	return &ExhaustedError{DependencyID: dependencyID, Attempts: attempts, Err: err}
}

func (e *Executor) count(dependencyID string, err error) {
	if e.metrics == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	e.metrics.RetryAttemptsTotal.WithLabelValues(dependencyID, outcome).Inc()
}

// Do runs op with the executor's retry budget and returns its result.
func Do[T any](e *Executor, dependencyID string, op func() (T, error)) (T, error) {
	return DoWithBudget(e, dependencyID, e.cfg.RetryLimit, op)
}

// DoWithBudget is Do with an explicit retry budget.
func DoWithBudget[T any](e *Executor, dependencyID string, retries int, op func() (T, error)) (T, error) {
	var result T
	err := e.ExecuteWithBudget(dependencyID, retries, func() error {
		v, err := op()
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}
