// Package health probes dependency health endpoints and reports the aggregated
// health of the reliability layer itself.
package health

import (
	"fmt"
)

// Status represents the health state of a service.
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

// ServiceHealth is the health of one dependency as exposed over HTTP.
type ServiceHealth struct {
	Name                string  `json:"name"`
	Status              Status  `json:"status"`
	ErrorCount          int     `json:"error_count"`
	AverageResponseTime float64 `json:"average_response_time_ms"`
	LastChecked         string  `json:"last_checked"`
}

// AggregatedHealth represents the combined health of all monitored dependencies.
type AggregatedHealth struct {
	Status        Status          `json:"status"`
	StatusAgeMs   int64           `json:"status_age_ms"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Services      []ServiceHealth `json:"services"`
}

// ProbeFailure is returned by Checker.Probe when a health check fails.
// StatusCode is zero when the request never produced a response.
type ProbeFailure struct {
	DependencyID string
	StatusCode   int
	Err          error
}

// Error implements error.
func (e *ProbeFailure) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("health check %s failed: HTTP %d", e.DependencyID, e.StatusCode)
	}
	return fmt.Sprintf("health check %s failed: %v", e.DependencyID, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ProbeFailure) Unwrap() error {
	return e.Err
}
