// Package collector applies status change events to Prometheus metrics and
// remembers when the last event arrived.
package collector

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/elder-voice/reliability/internal/events"
	"github.com/elder-voice/reliability/internal/metrics"
)

// Config holds configuration for the Collector.
type Config struct {
	// Buffer is the capacity of the event channel the collector listens on.
	Buffer int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Buffer: 64,
	}
}

// Collector consumes StatusChangeEvents from the bus and mirrors them into
// the dependency gauges.
type Collector struct {
	cfg     Config
	metrics *metrics.Metrics
	logger  *slog.Logger

	lastUpdateTime atomic.Int64 // unix millis of last event
}

// New creates a new Collector with the given config and metrics.
func New(cfg Config, m *metrics.Metrics, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Buffer < 1 {
		cfg.Buffer = DefaultConfig().Buffer
	}
	c := &Collector{
		cfg:     cfg,
		metrics: m,
		logger:  logger,
	}
	c.lastUpdateTime.Store(time.Now().UnixMilli())
	return c
}

// LastUpdateTime returns the time of the last status event as unix milliseconds.
func (c *Collector) LastUpdateTime() int64 {
	return c.lastUpdateTime.Load()
}

// Run subscribes to bus and applies events until ctx is cancelled.
// Events are consumed off the publisher's goroutine, so a slow Prometheus
// scrape never delays a probe round.
func (c *Collector) Run(ctx context.Context, bus *events.Bus) error {
	ch, sub := bus.Listen(c.cfg.Buffer)
	defer sub.Unsubscribe()

	c.logger.Info("status collector subscribed", "subscription", sub.ID.String())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			c.Apply(ev)
		}
	}
}

// Apply maps one event to the dependency gauges.
func (c *Collector) Apply(ev events.StatusChangeEvent) {
	c.lastUpdateTime.Store(time.Now().UnixMilli())

	if ev.DependencyID == "" {
		c.logger.Warn("status event without dependency id", "sequence", ev.Sequence)
		return
	}

	up := 0.0
	if ev.Status.IsAvailable {
		up = 1
	}
	c.metrics.DependencyUp.WithLabelValues(ev.DependencyID).Set(up)
	c.metrics.ConsecutiveErrors.WithLabelValues(ev.DependencyID).Set(float64(ev.Status.ErrorCount))
	c.metrics.AverageResponseMs.WithLabelValues(ev.DependencyID).Set(ev.Status.AverageResponseTime)
}
