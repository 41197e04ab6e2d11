package monitor_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elder-voice/reliability/internal/escalation"
	"github.com/elder-voice/reliability/internal/events"
	"github.com/elder-voice/reliability/internal/health"
	"github.com/elder-voice/reliability/internal/metrics"
	"github.com/elder-voice/reliability/internal/monitor"
	"github.com/elder-voice/reliability/internal/status"
)

type outcome struct {
	elapsed time.Duration
	err     error
}

// scriptedProber replays outcomes per dependency; past the end of a script
// the last outcome repeats. Unscripted dependencies succeed instantly.
type scriptedProber struct {
	mu      sync.Mutex
	scripts map[string][]outcome
	calls   map[string]int
}

func newScriptedProber(scripts map[string][]outcome) *scriptedProber {
	return &scriptedProber{scripts: scripts, calls: map[string]int{}}
}

func (p *scriptedProber) Probe(_ context.Context, id, _ string) (time.Duration, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := p.calls[id]
	p.calls[id]++
	script := p.scripts[id]
	if len(script) == 0 {
		return 0, nil
	}
	if n >= len(script) {
		n = len(script) - 1
	}
	return script[n].elapsed, script[n].err
}

type alertRecorder struct {
	mu     sync.Mutex
	alerts []escalation.Alert
}

func (r *alertRecorder) Escalate(_ context.Context, a escalation.Alert) error {
	r.mu.Lock()
	r.alerts = append(r.alerts, a)
	r.mu.Unlock()
	return nil
}

func (r *alertRecorder) count(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, a := range r.alerts {
		if a.DependencyID == id {
			n++
		}
	}
	return n
}

type fixture struct {
	store     *status.Store
	bus       *events.Bus
	alerts    *alertRecorder
	metrics   *metrics.Metrics
	scheduler *monitor.Scheduler
}

func newFixture(t *testing.T, prober monitor.Prober, cfg monitor.Config) *fixture {
	t.Helper()
	f := &fixture{
		store:   status.NewStore(status.KnownDependencies, time.Now()),
		bus:     events.NewBus(nil, nil),
		alerts:  &alertRecorder{},
		metrics: metrics.Discard(),
	}
	s, err := monitor.New(cfg, monitor.Options{
		Store:   f.store,
		Prober:  prober,
		Bus:     f.bus,
		Sink:    f.alerts,
		Metrics: f.metrics,
	})
	require.NoError(t, err)
	f.scheduler = s
	return f
}

func testConfig() monitor.Config {
	cfg := monitor.DefaultConfig()
	cfg.Interval = 20 * time.Millisecond
	cfg.URLs = map[string]string{
		status.DependencyEmergency:      "http://emergency.invalid",
		status.DependencyNotification:   "http://notification.invalid",
		status.DependencyHealth:         "http://health.invalid",
		status.DependencyTransportation: "http://transportation.invalid",
	}
	return cfg
}

var errDown = errors.New("down")

func TestTick_HealthFailsThreeTicks(t *testing.T) {
	prober := newScriptedProber(map[string][]outcome{
		status.DependencyHealth: {{err: errDown}},
	})
	f := newFixture(t, prober, testConfig())

	for i := 0; i < 3; i++ {
		f.scheduler.Tick(context.Background())
	}

	st, ok := f.store.Get(status.DependencyHealth)
	require.True(t, ok)
	assert.False(t, st.IsAvailable)
	assert.Equal(t, 3, st.ErrorCount)
	assert.Equal(t, 1, f.alerts.count(status.DependencyHealth), "threshold reached on tick 3")

	// Level-triggered: every further failing tick escalates again.
	f.scheduler.Tick(context.Background())
	f.scheduler.Tick(context.Background())
	assert.Equal(t, 3, f.alerts.count(status.DependencyHealth), "ticks 3, 4 and 5")

	for _, id := range []string{status.DependencyEmergency, status.DependencyNotification, status.DependencyTransportation} {
		assert.Zero(t, f.alerts.count(id))
		assert.True(t, f.store.IsAvailable(id))
	}
	assert.Equal(t, 5.0, testutil.ToFloat64(f.metrics.ProbesTotal.WithLabelValues(status.DependencyHealth, "failure")))
}

func TestTick_SuccessResetsErrorCountAndAppliesEMA(t *testing.T) {
	prober := newScriptedProber(map[string][]outcome{
		status.DependencyEmergency: {
			{elapsed: 100 * time.Millisecond},
			{err: errDown},
			{err: errDown},
			{elapsed: 300 * time.Millisecond},
		},
	})
	f := newFixture(t, prober, testConfig())
	ctx := context.Background()

	f.scheduler.Tick(ctx)
	st, _ := f.store.Get(status.DependencyEmergency)
	assert.InDelta(t, 10.0, st.AverageResponseTime, 1e-9)

	f.scheduler.Tick(ctx)
	f.scheduler.Tick(ctx)
	st, _ = f.store.Get(status.DependencyEmergency)
	assert.Equal(t, 2, st.ErrorCount)
	assert.InDelta(t, 10.0, st.AverageResponseTime, 1e-9, "failures leave the average untouched")

	f.scheduler.Tick(ctx)
	st, _ = f.store.Get(status.DependencyEmergency)
	assert.True(t, st.IsAvailable)
	assert.Equal(t, 0, st.ErrorCount)
	assert.InDelta(t, 0.9*10+0.1*300, st.AverageResponseTime, 1e-9)
}

func TestTick_UnconfiguredDependencyStaysAvailable(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.URLs = map[string]string{status.DependencyEmergency: server.URL}

	f := newFixture(t, health.NewChecker(health.DefaultCheckerConfig(), nil, nil), cfg)

	for i := 0; i < 10; i++ {
		f.scheduler.Tick(context.Background())
	}

	for _, id := range []string{status.DependencyNotification, status.DependencyHealth, status.DependencyTransportation} {
		st, _ := f.store.Get(id)
		assert.True(t, st.IsAvailable, id)
		assert.Equal(t, 0, st.ErrorCount, id)
	}

	st, _ := f.store.Get(status.DependencyEmergency)
	assert.Equal(t, 10, st.ErrorCount)
	assert.Equal(t, int32(10), hits.Load(), "only configured dependencies hit the network")
}

func TestTick_PublishesEveryTickInOrder(t *testing.T) {
	f := newFixture(t, newScriptedProber(nil), testConfig())

	ch, sub := f.bus.Listen(64)
	for i := 0; i < 3; i++ {
		f.scheduler.Tick(context.Background())
	}
	sub.Unsubscribe()

	seqs := map[string][]uint64{}
	for ev := range ch {
		assert.Equal(t, monitor.StateAvailable, ev.State)
		seqs[ev.DependencyID] = append(seqs[ev.DependencyID], ev.Sequence)
	}

	require.Len(t, seqs, len(status.KnownDependencies))
	for id, got := range seqs {
		assert.Equal(t, []uint64{1, 2, 3}, got, "unchanged status is still published for %s", id)
	}
}

func TestTick_StateTransitions(t *testing.T) {
	prober := newScriptedProber(map[string][]outcome{
		status.DependencyTransportation: {{err: errDown}, {err: errDown}, {}, {err: errDown}},
	})
	f := newFixture(t, prober, testConfig())

	var states []string
	f.bus.Subscribe(func(ev events.StatusChangeEvent) {
		if ev.DependencyID == status.DependencyTransportation {
			states = append(states, ev.State)
		}
	})

	for i := 0; i < 4; i++ {
		f.scheduler.Tick(context.Background())
	}

	assert.Equal(t, []string{
		monitor.StateUnavailable,
		monitor.StateUnavailable,
		monitor.StateAvailable,
		monitor.StateUnavailable,
	}, states)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.StateTransitions.WithLabelValues(status.DependencyTransportation, monitor.StateUnavailable)))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.StateTransitions.WithLabelValues(status.DependencyTransportation, monitor.StateAvailable)))
}

// blockingProber hangs on one dependency until released.
type blockingProber struct {
	hungID  string
	release chan struct{}
	started chan struct{}
	once    sync.Once
}

func (p *blockingProber) Probe(ctx context.Context, id, _ string) (time.Duration, error) {
	if id != p.hungID {
		return time.Millisecond, nil
	}
	p.once.Do(func() { close(p.started) })
	select {
	case <-p.release:
		return time.Millisecond, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func TestRun_HungProbeDoesNotBlockOthers(t *testing.T) {
	prober := &blockingProber{
		hungID:  status.DependencyHealth,
		release: make(chan struct{}),
		started: make(chan struct{}),
	}
	f := newFixture(t, prober, testConfig())

	var hungEvents atomic.Int32
	f.bus.Subscribe(func(ev events.StatusChangeEvent) {
		if ev.DependencyID == status.DependencyHealth {
			hungEvents.Add(1)
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.scheduler.Run(ctx) }()

	select {
	case <-prober.started:
	case <-time.After(2 * time.Second):
		t.Fatal("hung probe never started")
	}

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(f.metrics.ProbesTotal.WithLabelValues(status.DependencyEmergency, "success")) >= 3
	}, 2*time.Second, 10*time.Millisecond)

	assert.GreaterOrEqual(t, testutil.ToFloat64(f.metrics.ProbesSkippedTotal.WithLabelValues(status.DependencyHealth)), 1.0)

	st, _ := f.store.Get(status.DependencyHealth)
	assert.Equal(t, 0, st.ErrorCount, "no result folded while the probe hangs")
	assert.Zero(t, hungEvents.Load(), "skipped ticks publish nothing")

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop after cancellation")
	}
	close(prober.release)
}

func TestRun_ContextCancellation(t *testing.T) {
	cfg := testConfig()
	cfg.Interval = time.Hour
	f := newFixture(t, newScriptedProber(nil), cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.scheduler.Run(ctx) }()

	require.Eventually(t, f.scheduler.Running, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, f.scheduler.Run(ctx), monitor.ErrAlreadyRunning)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not exit after context cancellation")
	}
	assert.False(t, f.scheduler.Running())
	assert.Zero(t, f.scheduler.Ticks(), "first round waits a full interval")
}

func TestRun_TicksOnInterval(t *testing.T) {
	f := newFixture(t, newScriptedProber(nil), testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = f.scheduler.Run(ctx) }()

	require.Eventually(t, func() bool { return f.scheduler.Ticks() >= 3 }, 2*time.Second, 5*time.Millisecond)
}

func TestNew_Validation(t *testing.T) {
	store := status.NewStore(status.KnownDependencies, time.Now())

	_, err := monitor.New(testConfig(), monitor.Options{Prober: newScriptedProber(nil)})
	assert.Error(t, err)

	_, err = monitor.New(testConfig(), monitor.Options{Store: store})
	assert.Error(t, err)

	cfg := testConfig()
	cfg.Interval = 0
	_, err = monitor.New(cfg, monitor.Options{Store: store, Prober: newScriptedProber(nil)})
	assert.Error(t, err)
}

func TestDefaultConfig(t *testing.T) {
	cfg := monitor.DefaultConfig()
	assert.Equal(t, time.Minute, cfg.Interval)
	assert.Equal(t, 3, cfg.Policy.RetryLimit)
}

// cancellingProber fails every dependency once, then cancels the round's
// context while reporting success.
type cancellingProber struct {
	mu     sync.Mutex
	calls  map[string]int
	cancel context.CancelFunc
}

func (p *cancellingProber) Probe(_ context.Context, id, _ string) (time.Duration, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[id]++
	if p.calls[id] == 1 {
		return 0, errDown
	}
	if p.cancel != nil {
		p.cancel()
	}
	return 5 * time.Millisecond, nil
}

func TestTick_StateFollowsStatusWhenCancelledDuringRound(t *testing.T) {
	prober := &cancellingProber{calls: map[string]int{}}
	f := newFixture(t, prober, testConfig())

	var mu sync.Mutex
	var got []events.StatusChangeEvent
	f.bus.Subscribe(func(ev events.StatusChangeEvent) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	})

	f.scheduler.Tick(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	prober.mu.Lock()
	prober.cancel = cancel
	prober.mu.Unlock()
	f.scheduler.Tick(ctx)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2*len(status.KnownDependencies))
	for _, ev := range got {
		want := monitor.StateUnavailable
		if ev.Status.IsAvailable {
			want = monitor.StateAvailable
		}
		assert.Equal(t, want, ev.State, "dependency %s sequence %d", ev.DependencyID, ev.Sequence)
	}

	st, ok := f.store.Get(status.DependencyHealth)
	require.True(t, ok)
	assert.True(t, st.IsAvailable)
	assert.Zero(t, st.ErrorCount)
}
