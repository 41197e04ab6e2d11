package metrics_test

import (
	"strings"
	"testing"

	"github.com/elder-voice/reliability/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestRegistry() (*prometheus.Registry, *metrics.Metrics) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	return reg, m
}

func TestNew_RegistersAllMetrics(t *testing.T) {
	reg, m := newTestRegistry()

	// Vectors only show up in Gather once they have a child.
	m.ProbeDurationSeconds.WithLabelValues("health").Observe(0.01)
	m.ProbesTotal.WithLabelValues("health", "success").Inc()
	m.ProbesSkippedTotal.WithLabelValues("health").Inc()
	m.DependencyUp.WithLabelValues("health").Set(1)
	m.ConsecutiveErrors.WithLabelValues("health").Set(0)
	m.AverageResponseMs.WithLabelValues("health").Set(1)
	m.StateTransitions.WithLabelValues("health", "unavailable").Inc()
	m.EscalationsTotal.WithLabelValues("health").Inc()
	m.RetryAttemptsTotal.WithLabelValues("notification", "failure").Inc()
	m.RetryExhaustedTotal.WithLabelValues("notification").Inc()
	m.EventsDroppedTotal.Inc()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	expected := map[string]bool{
		"reliability_probe_duration_seconds":         false,
		"reliability_probes_total":                   false,
		"reliability_probes_skipped_total":           false,
		"reliability_dependency_up":                  false,
		"reliability_dependency_consecutive_errors":  false,
		"reliability_dependency_average_response_ms": false,
		"reliability_state_transitions_total":        false,
		"reliability_escalations_total":              false,
		"reliability_retry_attempts_total":           false,
		"reliability_retry_exhausted_total":          false,
		"reliability_status_events_dropped_total":    false,
	}

	for _, fam := range families {
		if _, ok := expected[fam.GetName()]; ok {
			expected[fam.GetName()] = true
		}
	}

	for name, seen := range expected {
		if !seen {
			t.Errorf("metric %s not registered", name)
		}
	}
}

func TestDependencyUp_Labels(t *testing.T) {
	_, m := newTestRegistry()

	m.DependencyUp.WithLabelValues("emergency").Set(1)
	m.DependencyUp.WithLabelValues("health").Set(0)

	if val := testutil.ToFloat64(m.DependencyUp.WithLabelValues("emergency")); val != 1 {
		t.Errorf("expected emergency=1, got %f", val)
	}
	if val := testutil.ToFloat64(m.DependencyUp.WithLabelValues("health")); val != 0 {
		t.Errorf("expected health=0, got %f", val)
	}
}

func TestProbesTotal_Counter(t *testing.T) {
	_, m := newTestRegistry()

	m.ProbesTotal.WithLabelValues("health", "success").Add(5)
	m.ProbesTotal.WithLabelValues("health", "failure").Add(3)

	if val := testutil.ToFloat64(m.ProbesTotal.WithLabelValues("health", "success")); val != 5 {
		t.Errorf("expected health/success=5, got %f", val)
	}
	if val := testutil.ToFloat64(m.ProbesTotal.WithLabelValues("health", "failure")); val != 3 {
		t.Errorf("expected health/failure=3, got %f", val)
	}
}

func TestProbeDuration_Histogram(t *testing.T) {
	_, m := newTestRegistry()

	m.ProbeDurationSeconds.WithLabelValues("emergency").Observe(0.02)
	m.ProbeDurationSeconds.WithLabelValues("emergency").Observe(0.2)

	count := testutil.CollectAndCount(m.ProbeDurationSeconds)
	if count != 1 {
		t.Errorf("expected 1 histogram series, got %d", count)
	}
}

func TestNew_DoubleRegisterPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics.New(reg)

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected panic on duplicate registration")
		}
		if !strings.Contains(strings.ToLower(toString(r)), "duplicate") {
			t.Errorf("unexpected panic: %v", r)
		}
	}()
	metrics.New(reg)
}

func TestDiscard_Independent(t *testing.T) {
	a := metrics.Discard()
	b := metrics.Discard()

	a.EventsDroppedTotal.Inc()
	if val := testutil.ToFloat64(b.EventsDroppedTotal); val != 0 {
		t.Errorf("discard instances should not share state, got %f", val)
	}
}

func toString(v interface{}) string {
	switch x := v.(type) {
	case error:
		return x.Error()
	case string:
		return x
	default:
		return ""
	}
}
