// Package escalation decides when a failing dependency needs an administrator.
package escalation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/elder-voice/reliability/internal/metrics"
	"github.com/elder-voice/reliability/internal/status"
)

// DefaultRetryLimit is the consecutive error count at which escalation starts.
const DefaultRetryLimit = 3

// Policy is level-triggered: it fires on every evaluation where the
// consecutive error count is at or beyond RetryLimit, not only on the first
// crossing. Callers wanting edge-triggered alerts must keep prior state.
type Policy struct {
	RetryLimit int
}

// DefaultPolicy returns a Policy with DefaultRetryLimit.
func DefaultPolicy() Policy {
	return Policy{RetryLimit: DefaultRetryLimit}
}

// ShouldEscalate reports whether st warrants an administrator notification.
func (p Policy) ShouldEscalate(st status.ServiceStatus) bool {
	return st.ErrorCount >= p.RetryLimit
}

// Alert is the administrator notification raised for a dependency.
type Alert struct {
	DependencyID string
	Status       status.ServiceStatus
	RetryLimit   int
	RaisedAt     time.Time
}

// Sink receives escalations.
type Sink interface {
	Escalate(ctx context.Context, alert Alert) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, alert Alert) error

// Escalate calls f.
func (f SinkFunc) Escalate(ctx context.Context, alert Alert) error {
	return f(ctx, alert)
}

// LogSink reports escalations as error-level log records.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink. logger may be nil.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// Escalate logs alert. It never fails.
func (s *LogSink) Escalate(_ context.Context, alert Alert) error {
	s.logger.Error("dependency is experiencing issues, administrator attention required",
		"dependency", alert.DependencyID,
		"error_count", alert.Status.ErrorCount,
		"retry_limit", alert.RetryLimit,
		"last_checked", alert.Status.LastChecked,
	)
	return nil
}

// MetricsSink counts escalations per dependency.
type MetricsSink struct {
	metrics *metrics.Metrics
}

// NewMetricsSink creates a MetricsSink.
func NewMetricsSink(m *metrics.Metrics) *MetricsSink {
	return &MetricsSink{metrics: m}
}

// Escalate increments the escalation counter of the alert's dependency.
func (s *MetricsSink) Escalate(_ context.Context, alert Alert) error {
	s.metrics.EscalationsTotal.WithLabelValues(alert.DependencyID).Inc()
	return nil
}

// MultiSink fans an alert out to every sink and joins their errors.
type MultiSink []Sink

// Escalate delivers alert to every sink, even after one fails.
func (m MultiSink) Escalate(ctx context.Context, alert Alert) error {
	var errs []error
	for _, s := range m {
		if err := s.Escalate(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
