// Package monitor periodically probes every registered dependency and folds
// the outcome into the status store.
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/elder-voice/reliability/internal/escalation"
	"github.com/elder-voice/reliability/internal/events"
	"github.com/elder-voice/reliability/internal/metrics"
	"github.com/elder-voice/reliability/internal/status"
)

// ErrAlreadyRunning is returned by Run when the scheduler loop is already active.
var ErrAlreadyRunning = errors.New("monitor: scheduler already running")

// Prober checks a single dependency.
type Prober interface {
	Probe(ctx context.Context, dependencyID, baseURL string) (time.Duration, error)
}

// Publisher receives one event per probe.
type Publisher interface {
	Publish(ev events.StatusChangeEvent)
}

// Config holds configuration for the Scheduler.
type Config struct {
	// Interval between probe rounds.
	Interval time.Duration

	// URLs maps dependency identifiers to base URLs. A missing or empty entry
	// makes the dependency always available.
	URLs map[string]string

	// Policy decides when to escalate.
	Policy escalation.Policy
}

// DefaultConfig returns a one minute interval and the default escalation policy.
func DefaultConfig() Config {
	return Config{
		Interval: time.Minute,
		Policy:   escalation.DefaultPolicy(),
	}
}

// Options carries the collaborators of a Scheduler.
type Options struct {
	Store  *status.Store
	Prober Prober
	// Bus is optional; without it events are discarded.
	Bus Publisher
	// Sink is optional; escalations are logged when nil.
	Sink    escalation.Sink
	Metrics *metrics.Metrics
	Logger  *slog.Logger
	// Now is the clock used for LastChecked. Defaults to time.Now.
	Now func() time.Time
}

// Scheduler drives the probe rounds. Each round publishes one event per
// probed dependency. A dependency whose previous probe is still running is
// skipped for that round and emits no event; the skip is counted in
// reliability_probes_skipped_total.
type Scheduler struct {
	cfg     Config
	store   *status.Store
	prober  Prober
	bus     Publisher
	sink    escalation.Sink
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time

	deps    []*dependency
	wg      sync.WaitGroup
	ticks   atomic.Uint64
	running atomic.Bool
}

// New creates a Scheduler for every dependency registered in opts.Store.
func New(cfg Config, opts Options) (*Scheduler, error) {
	if opts.Store == nil {
		return nil, errors.New("monitor: status store required")
	}
	if opts.Prober == nil {
		return nil, errors.New("monitor: prober required")
	}
	if cfg.Interval <= 0 {
		return nil, errors.New("monitor: interval must be > 0")
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Discard()
	}
	if opts.Sink == nil {
		opts.Sink = escalation.NewLogSink(opts.Logger)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Scheduler{
		cfg:     cfg,
		store:   opts.Store,
		prober:  opts.Prober,
		bus:     opts.Bus,
		sink:    opts.Sink,
		metrics: opts.Metrics,
		logger:  opts.Logger,
		now:     opts.Now,
	}

	for _, id := range opts.Store.IDs() {
		initial, _ := opts.Store.Get(id)
		s.deps = append(s.deps, newDependency(id, cfg.URLs[id], initial))
		if cfg.URLs[id] == "" {
			s.logger.Warn("dependency has no base URL, it will always be reported available", "dependency", id)
		}
	}

	return s, nil
}

// Run probes all dependencies every interval until ctx is cancelled. The first
// round happens one interval after start. Run waits for in-flight probes
// before returning ctx.Err(). A dependency with a probe still in flight when
// a tick fires is skipped for that tick, so event counts can fall behind the
// tick count.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer s.running.Store(false)

	s.logger.Info("monitor scheduler started",
		"interval", s.cfg.Interval,
		"dependencies", len(s.deps),
		"retry_limit", s.cfg.Policy.RetryLimit,
	)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	defer s.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("monitor scheduler stopping")
			return ctx.Err()
		case <-ticker.C:
			s.dispatch(ctx)
		}
	}
}

// Running reports whether Run is active.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// Ticks returns the number of rounds dispatched so far.
func (s *Scheduler) Ticks() uint64 {
	return s.ticks.Load()
}

// Tick runs one probe round and waits for it to finish.
func (s *Scheduler) Tick(ctx context.Context) {
	_ = s.dispatch(ctx).Wait()
}

// dispatch starts one probe per dependency. A dependency whose previous probe
// has not returned is skipped, which keeps its updates in tick order and
// stops a hung probe from holding up the others.
func (s *Scheduler) dispatch(ctx context.Context) *errgroup.Group {
	tick := s.ticks.Add(1)
	g := &errgroup.Group{}

	for _, d := range s.deps {
		if !d.inFlight.CompareAndSwap(false, true) {
			s.metrics.ProbesSkippedTotal.WithLabelValues(d.id).Inc()
			s.logger.Warn("previous probe still in flight, skipping tick",
				"dependency", d.id,
				"tick", tick,
			)
			continue
		}

		d := d
		s.wg.Add(1)
		g.Go(func() error {
			defer s.wg.Done()
			defer d.inFlight.Store(false)
			s.check(ctx, d)
			return nil
		})
	}

	return g
}

// check probes d, stores the folded status, publishes it and applies the
// escalation policy.
func (s *Scheduler) check(ctx context.Context, d *dependency) {
	prev, ok := s.store.Get(d.id)
	if !ok {
		return
	}

	elapsed, probeErr := s.prober.Probe(ctx, d.id, d.baseURL)
	if probeErr != nil && ctx.Err() != nil {
		// Shutting down; a cancelled probe says nothing about the dependency.
		return
	}
	now := s.now()

	var next status.ServiceStatus
	if probeErr == nil {
		next = status.Succeeded(prev, elapsed, now)
		s.metrics.ProbesTotal.WithLabelValues(d.id, "success").Inc()
		s.metrics.ProbeDurationSeconds.WithLabelValues(d.id).Observe(elapsed.Seconds())
	} else {
		next = status.Failed(prev, now)
		s.metrics.ProbesTotal.WithLabelValues(d.id, "failure").Inc()
		s.logger.Warn("health probe failed",
			"dependency", d.id,
			"error_count", next.ErrorCount,
			"error", probeErr,
		)
	}

	changed, err := s.store.Upsert(d.id, next)
	if err != nil {
		s.logger.Error("failed to store dependency status", "dependency", d.id, "error", err)
		return
	}

	// The outcome is already stored; the state must follow it even when
	// teardown cancels ctx.
	transitioned, err := d.transition(context.WithoutCancel(ctx), probeErr == nil)
	if err != nil {
		s.logger.Error("availability state machine rejected probe outcome",
			"dependency", d.id,
			"error", err,
		)
	}
	if transitioned {
		s.metrics.StateTransitions.WithLabelValues(d.id, d.state()).Inc()
		s.logger.Info("dependency availability changed",
			"dependency", d.id,
			"state", d.state(),
		)
	}

	d.sequence++
	if s.bus != nil {
		s.bus.Publish(events.StatusChangeEvent{
			DependencyID: d.id,
			Status:       next,
			State:        d.state(),
			Sequence:     d.sequence,
		})
	}

	s.logger.Debug("dependency status updated",
		"dependency", d.id,
		"available", next.IsAvailable,
		"error_count", next.ErrorCount,
		"average_response_ms", next.AverageResponseTime,
		"changed", changed,
	)

	if s.cfg.Policy.ShouldEscalate(next) {
		alert := escalation.Alert{
			DependencyID: d.id,
			Status:       next,
			RetryLimit:   s.cfg.Policy.RetryLimit,
			RaisedAt:     now,
		}
		if err := s.sink.Escalate(ctx, alert); err != nil {
			s.logger.Error("escalation delivery failed", "dependency", d.id, "error", err)
		}
	}
}
