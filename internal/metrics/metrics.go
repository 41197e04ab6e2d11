// Package metrics defines and registers Prometheus metrics for the dependency reliability layer.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metric collectors for the reliability layer.
type Metrics struct {
	ProbeDurationSeconds *prometheus.HistogramVec
	ProbesTotal          *prometheus.CounterVec
	ProbesSkippedTotal   *prometheus.CounterVec
	DependencyUp         *prometheus.GaugeVec
	ConsecutiveErrors    *prometheus.GaugeVec
	AverageResponseMs    *prometheus.GaugeVec
	StateTransitions     *prometheus.CounterVec
	EscalationsTotal     *prometheus.CounterVec
	RetryAttemptsTotal   *prometheus.CounterVec
	RetryExhaustedTotal  *prometheus.CounterVec
	EventsDroppedTotal   prometheus.Counter
}

var (
	instance *Metrics
	once     sync.Once
)

// New creates a new Metrics instance and registers all collectors with the given registry.
// If registry is nil, prometheus.DefaultRegisterer is used.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		ProbeDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "reliability_probe_duration_seconds",
				Help:    "Health probe round-trip time per dependency.",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"dependency"},
		),
		ProbesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reliability_probes_total",
				Help: "Health probes by dependency and outcome.",
			},
			[]string{"dependency", "outcome"},
		),
		ProbesSkippedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reliability_probes_skipped_total",
				Help: "Ticks skipped because the previous probe of the dependency was still in flight.",
			},
			[]string{"dependency"},
		),
		DependencyUp: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "reliability_dependency_up",
				Help: "Dependency availability: 1=available, 0=unavailable.",
			},
			[]string{"dependency"},
		),
		ConsecutiveErrors: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "reliability_dependency_consecutive_errors",
				Help: "Consecutive failed probes since the last success.",
			},
			[]string{"dependency"},
		),
		AverageResponseMs: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "reliability_dependency_average_response_ms",
				Help: "Exponential moving average of successful probe latency in milliseconds.",
			},
			[]string{"dependency"},
		),
		StateTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reliability_state_transitions_total",
				Help: "Availability state transitions by dependency and target state.",
			},
			[]string{"dependency", "state"},
		),
		EscalationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reliability_escalations_total",
				Help: "Administrator escalations raised per dependency.",
			},
			[]string{"dependency"},
		),
		RetryAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reliability_retry_attempts_total",
				Help: "Remote call attempts made through the retry executor, by outcome.",
			},
			[]string{"dependency", "outcome"},
		),
		RetryExhaustedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reliability_retry_exhausted_total",
				Help: "Remote calls that failed after the whole retry budget was spent.",
			},
			[]string{"dependency"},
		),
		EventsDroppedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "reliability_status_events_dropped_total",
				Help: "Status change events dropped because a buffered listener was full.",
			},
		),
	}

	registry.MustRegister(
		m.ProbeDurationSeconds,
		m.ProbesTotal,
		m.ProbesSkippedTotal,
		m.DependencyUp,
		m.ConsecutiveErrors,
		m.AverageResponseMs,
		m.StateTransitions,
		m.EscalationsTotal,
		m.RetryAttemptsTotal,
		m.RetryExhaustedTotal,
		m.EventsDroppedTotal,
	)

	return m
}

// Default returns the singleton Metrics instance registered with the default Prometheus registry.
func Default() *Metrics {
	once.Do(func() {
		instance = New(nil)
	})
	return instance
}

// Discard returns a Metrics instance registered with a private registry.
// Components use it when the caller does not care about metrics.
func Discard() *Metrics {
	return New(prometheus.NewRegistry())
}
