// Package api exposes the reliability layer over HTTP.
package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/elder-voice/reliability/internal/status"
)

// StatusReader is the read side of the status store.
type StatusReader interface {
	Get(id string) (status.ServiceStatus, bool)
	Snapshot() map[string]status.ServiceStatus
}

// Options carries the collaborators served by the router.
type Options struct {
	Store StatusReader
	// Health serves the aggregated report on /health.
	Health http.Handler
	// Gatherer backs /metrics. Defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
	// Running reports whether the scheduler loop is active; /ready fails
	// while it returns false. Nil skips the check.
	Running func() bool
	// MaxGoroutines fails /live above this count. Zero disables the check.
	MaxGoroutines int
	Logger        *slog.Logger
}

var errSchedulerStopped = errors.New("scheduler is not running")

// NewRouter builds the gin engine serving status, health and metrics.
func NewRouter(opts Options) *gin.Engine {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(opts.Logger))

	checks := healthcheck.NewHandler()
	if opts.MaxGoroutines > 0 {
		checks.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(opts.MaxGoroutines))
	}
	if opts.Running != nil {
		running := opts.Running
		checks.AddReadinessCheck("scheduler", func() error {
			if !running() {
				return errSchedulerStopped
			}
			return nil
		})
	}

	h := &statusHandler{store: opts.Store}
	router.GET("/status", h.list)
	router.GET("/status/:id", h.get)
	if opts.Health != nil {
		router.GET("/health", gin.WrapH(opts.Health))
	}
	router.GET("/live", gin.WrapF(checks.LiveEndpoint))
	router.GET("/ready", gin.WrapF(checks.ReadyEndpoint))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})))

	return router
}

type statusHandler struct {
	store StatusReader
}

func (h *statusHandler) list(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.Snapshot())
}

func (h *statusHandler) get(c *gin.Context) {
	id := c.Param("id")
	st, ok := h.store.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown dependency", "dependency": id})
		return
	}
	c.JSON(http.StatusOK, st)
}

// requestLogger logs every request at debug level.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
		)
	}
}
