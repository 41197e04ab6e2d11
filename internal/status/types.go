// Package status holds the per-dependency health records maintained by the
// monitor and read by everything else.
package status

import "time"

// Known dependency identifiers.
const (
	DependencyEmergency      = "emergency"
	DependencyNotification   = "notification"
	DependencyHealth         = "health"
	DependencyTransportation = "transportation"
)

// KnownDependencies is the registry used at startup when no other set is configured.
var KnownDependencies = []string{
	DependencyEmergency,
	DependencyNotification,
	DependencyHealth,
	DependencyTransportation,
}

// Weights of the exponential moving average applied to successful probe latency.
const (
	EMAPreviousWeight = 0.9
	EMASampleWeight   = 0.1
)

// ServiceStatus is the latest known state of one dependency.
type ServiceStatus struct {
	IsAvailable bool      `json:"is_available"`
	LastChecked time.Time `json:"last_checked"`
	// ErrorCount is the number of consecutive failed probes since the last success.
	ErrorCount int `json:"error_count"`
	// AverageResponseTime is the EMA of successful probe latency in milliseconds.
	AverageResponseTime float64 `json:"average_response_time_ms"`
}

// Initial returns the status every dependency starts with.
func Initial(now time.Time) ServiceStatus {
	return ServiceStatus{
		IsAvailable:         true,
		LastChecked:         now,
		ErrorCount:          0,
		AverageResponseTime: 0,
	}
}

// Succeeded folds a successful probe into prev.
func Succeeded(prev ServiceStatus, elapsed time.Duration, now time.Time) ServiceStatus {
	sample := float64(elapsed) / float64(time.Millisecond)
	return ServiceStatus{
		IsAvailable:         true,
		LastChecked:         now,
		ErrorCount:          0,
		AverageResponseTime: EMAPreviousWeight*prev.AverageResponseTime + EMASampleWeight*sample,
	}
}

// Failed folds a failed probe into prev. The response time average is carried over.
func Failed(prev ServiceStatus, now time.Time) ServiceStatus {
	return ServiceStatus{
		IsAvailable:         false,
		LastChecked:         now,
		ErrorCount:          prev.ErrorCount + 1,
		AverageResponseTime: prev.AverageResponseTime,
	}
}
