package health

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/elder-voice/reliability/internal/status"
)

// StatusSource is the read side of the status store.
type StatusSource interface {
	IDs() []string
	Get(id string) (status.ServiceStatus, bool)
}

// LastUpdateProvider returns the unix-millis timestamp of the last status event.
type LastUpdateProvider func() int64

// Handler serves the aggregated /health endpoint of the reliability layer.
type Handler struct {
	startTime  time.Time
	source     StatusSource
	lastUpdate LastUpdateProvider
	staleAfter time.Duration
	logger     *slog.Logger
}

// NewHandler creates a new health Handler.
// The report is degraded when no status event arrived within staleAfter;
// a zero staleAfter disables that check.
func NewHandler(source StatusSource, lastUpdate LastUpdateProvider, staleAfter time.Duration, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		startTime:  time.Now(),
		source:     source,
		lastUpdate: lastUpdate,
		staleAfter: staleAfter,
		logger:     logger,
	}
}

// ServeHTTP handles HTTP requests for the health endpoint.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := h.Build()

	w.Header().Set("Content-Type", "application/json")
	if resp.Status != StatusOK {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("failed to write health response", "error", err)
	}
}

// Build constructs an AggregatedHealth snapshot without writing HTTP.
func (h *Handler) Build() AggregatedHealth {
	now := time.Now()

	var statusAgeMs int64
	if h.lastUpdate != nil {
		statusAgeMs = now.UnixMilli() - h.lastUpdate()
		if statusAgeMs < 0 {
			statusAgeMs = 0
		}
	}

	agg := AggregatedHealth{
		Status:        StatusOK,
		StatusAgeMs:   statusAgeMs,
		UptimeSeconds: int64(now.Sub(h.startTime).Seconds()),
		Services:      []ServiceHealth{},
	}

	for _, id := range h.source.IDs() {
		st, ok := h.source.Get(id)
		if !ok {
			continue
		}
		svc := ServiceHealth{
			Name:                id,
			Status:              StatusOK,
			ErrorCount:          st.ErrorCount,
			AverageResponseTime: st.AverageResponseTime,
			LastChecked:         st.LastChecked.UTC().Format(time.RFC3339),
		}
		if !st.IsAvailable {
			svc.Status = StatusDown
		}
		agg.Services = append(agg.Services, svc)
	}

	for _, svc := range agg.Services {
		if svc.Status == StatusDown {
			agg.Status = StatusDown
			break
		}
	}

	if agg.Status == StatusOK && h.staleAfter > 0 && time.Duration(statusAgeMs)*time.Millisecond > h.staleAfter {
		agg.Status = StatusDegraded
	}

	return agg
}
