package monitor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obsidianstack/sentinel/internal/action"
	"github.com/obsidianstack/sentinel/internal/alert"
	"github.com/obsidianstack/sentinel/internal/check"
	"github.com/obsidianstack/sentinel/internal/config"
	"github.com/obsidianstack/sentinel/internal/dispatch"
	"github.com/obsidianstack/sentinel/internal/metrics"
)

const eventually = 2 * time.Second

type countingDispatcher struct {
	mu  sync.Mutex
	got []alert.Alert
}

func (c *countingDispatcher) Dispatch(_ context.Context, a alert.Alert) dispatch.Report {
	c.mu.Lock()
	c.got = append(c.got, a)
	c.mu.Unlock()
	return dispatch.Report{}
}

func (c *countingDispatcher) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.got)
}

type recordingSender struct {
	mu  sync.Mutex
	got []alert.Alert
}

func (s *recordingSender) Channel() alert.Channel { return alert.ChannelLog }

func (s *recordingSender) Send(_ context.Context, a alert.Alert) error {
	s.mu.Lock()
	s.got = append(s.got, a)
	s.mu.Unlock()
	return nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

func fastConfig() config.MonitorConfig {
	return config.MonitorConfig{
		Interval:      5 * time.Millisecond,
		CheckTimeout:  time.Second,
		HandleTimeout: time.Second,
	}
}

func constantCheck(name string, a alert.Alert) check.Check {
	return check.NewFunc(name, func(context.Context) ([]alert.Alert, error) {
		return []alert.Alert{a}, nil
	})
}

func stop(t *testing.T, d *Daemon) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), eventually)
	defer cancel()
	require.NoError(t, d.Stop(ctx))
}

func TestCallbacksRunInRegistrationOrder(t *testing.T) {
	a := alert.New(alert.PriorityHigh, "svc", "down", nil)
	d := New(fastConfig(), &countingDispatcher{}, []check.Check{constantCheck("svc", a)})

	var mu sync.Mutex
	var order []string
	record := func(name string) Observer {
		return Named(name, ObserverFunc(func(context.Context, alert.Alert) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}))
	}
	d.RegisterAlertCallback(record("c1"))
	d.RegisterAlertCallback(record("c2"))

	d.Start(context.Background())
	require.Eventually(t, func() bool { return d.State().CycleCount >= 3 }, eventually, time.Millisecond)
	stop(t, d)

	mu.Lock()
	defer mu.Unlock()
	// Stop may land between c1 and c2 of the last alert.
	require.GreaterOrEqual(t, len(order), 6)
	for i, name := range order {
		want := "c1"
		if i%2 == 1 {
			want = "c2"
		}
		assert.Equal(t, want, name, "call %d", i)
	}
}

func TestStopBeforeStart(t *testing.T) {
	d := New(fastConfig(), &countingDispatcher{}, nil)
	assert.NoError(t, d.Stop(context.Background()))
	assert.False(t, d.State().Running)
	assert.NoError(t, d.Stop(context.Background()))
}

func TestDoubleStartRunsOneLoop(t *testing.T) {
	var runs, inFlight, overlap atomic.Int32
	c := check.NewFunc("slow", func(context.Context) ([]alert.Alert, error) {
		if inFlight.Add(1) > 1 {
			overlap.Add(1)
		}
		defer inFlight.Add(-1)
		runs.Add(1)
		return nil, nil
	})
	cfg := fastConfig()
	cfg.Interval = time.Hour
	d := New(cfg, &countingDispatcher{}, []check.Check{c})

	d.Start(context.Background())
	d.Start(context.Background())
	require.Eventually(t, func() bool { return d.State().CycleCount == 1 }, eventually, time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	assert.EqualValues(t, 1, runs.Load())
	assert.Zero(t, overlap.Load())
	assert.True(t, d.Running())
	stop(t, d)
	assert.False(t, d.Running())
}

func TestStopInterruptsSleep(t *testing.T) {
	cfg := fastConfig()
	cfg.Interval = time.Hour
	d := New(cfg, &countingDispatcher{}, nil)
	d.Start(context.Background())
	require.Eventually(t, func() bool { return d.State().CycleCount == 1 }, eventually, time.Millisecond)

	start := time.Now()
	stop(t, d)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRestartAfterStop(t *testing.T) {
	d := New(fastConfig(), &countingDispatcher{}, nil)
	d.Start(context.Background())
	stop(t, d)
	d.Start(context.Background())
	assert.True(t, d.Running())
	stop(t, d)
	assert.False(t, d.Running())
}

func TestParentContextStopsLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	d := New(fastConfig(), &countingDispatcher{}, nil)
	d.Start(ctx)
	cancel()
	require.Eventually(t, func() bool { return !d.Running() }, eventually, time.Millisecond)
	assert.NoError(t, d.Err())
}

func TestFailingCheckDoesNotLoseOtherAlerts(t *testing.T) {
	reg := metrics.NewRegistry()
	good := alert.New(alert.PriorityHigh, "api", "latency high", nil)
	checks := []check.Check{
		check.NewFunc("broken", func(context.Context) ([]alert.Alert, error) {
			return nil, errors.New("connection reset")
		}),
		check.NewFunc("panicky", func(context.Context) ([]alert.Alert, error) {
			panic("index out of range")
		}),
		constantCheck("api", good),
	}
	disp := &countingDispatcher{}
	d := New(fastConfig(), disp, checks, WithMetrics(reg))

	d.Start(context.Background())
	require.Eventually(t, func() bool { return d.State().CycleCount >= 2 }, eventually, time.Millisecond)
	stop(t, d)

	assert.GreaterOrEqual(t, disp.count(), 2)
	assert.GreaterOrEqual(t, reg.Value(metrics.CheckFailuresTotal, "check", "broken"), 2.0)
	assert.GreaterOrEqual(t, reg.Value(metrics.CheckFailuresTotal, "check", "panicky"), 2.0)
	assert.NoError(t, d.Err())
}

func TestCheckTimeout(t *testing.T) {
	cfg := fastConfig()
	cfg.CheckTimeout = 10 * time.Millisecond
	hung := check.NewFunc("hung", func(context.Context) ([]alert.Alert, error) {
		select {}
	})
	d := New(cfg, &countingDispatcher{}, []check.Check{hung})

	d.Start(context.Background())
	require.Eventually(t, func() bool { return d.State().CycleCount >= 2 }, eventually, time.Millisecond)
	stop(t, d)
}

func TestCallbackFailureIsContained(t *testing.T) {
	reg := metrics.NewRegistry()
	a := alert.New(alert.PriorityHigh, "svc", "down", nil)
	d := New(fastConfig(), &countingDispatcher{}, []check.Check{constantCheck("svc", a)}, WithMetrics(reg))

	var reached atomic.Int32
	d.RegisterAlertCallback(Named("fails", ObserverFunc(func(context.Context, alert.Alert) error {
		return errors.New("db locked")
	})))
	d.RegisterAlertCallback(Named("panics", ObserverFunc(func(context.Context, alert.Alert) error {
		panic("nil pointer")
	})))
	d.RegisterAlertCallback(ObserverFunc(func(context.Context, alert.Alert) error {
		reached.Add(1)
		return nil
	}))

	d.Start(context.Background())
	require.Eventually(t, func() bool { return reached.Load() >= 2 }, eventually, time.Millisecond)
	stop(t, d)

	assert.GreaterOrEqual(t, reg.Value(metrics.CallbackFailuresTotal, "observer", "fails"), 2.0)
	assert.GreaterOrEqual(t, reg.Value(metrics.CallbackFailuresTotal, "observer", "panics"), 2.0)
	assert.GreaterOrEqual(t, d.State().CycleCount, uint64(1))
}

func TestCallbackRegisteredWhileRunning(t *testing.T) {
	a := alert.New(alert.PriorityHigh, "svc", "down", nil)
	d := New(fastConfig(), &countingDispatcher{}, []check.Check{constantCheck("svc", a)})
	d.Start(context.Background())
	require.Eventually(t, func() bool { return d.State().CycleCount >= 1 }, eventually, time.Millisecond)

	var seen atomic.Int32
	d.RegisterAlertCallback(ObserverFunc(func(context.Context, alert.Alert) error {
		seen.Add(1)
		return nil
	}))
	require.Eventually(t, func() bool { return seen.Load() >= 1 }, eventually, time.Millisecond)
	stop(t, d)
	assert.Len(t, d.State().Observers, 1)
}

func TestDuplicateRegistrationInvokesTwice(t *testing.T) {
	a := alert.New(alert.PriorityHigh, "svc", "down", nil)
	cfg := fastConfig()
	cfg.Interval = time.Hour
	d := New(cfg, &countingDispatcher{}, []check.Check{constantCheck("svc", a)})

	var calls atomic.Int32
	o := ObserverFunc(func(context.Context, alert.Alert) error {
		calls.Add(1)
		return nil
	})
	d.RegisterAlertCallback(o)
	d.RegisterAlertCallback(o)

	d.Start(context.Background())
	require.Eventually(t, func() bool { return d.State().CycleCount == 1 }, eventually, time.Millisecond)
	stop(t, d)
	assert.EqualValues(t, 2, calls.Load())
}

type panickingDispatcher struct{}

func (panickingDispatcher) Dispatch(context.Context, alert.Alert) dispatch.Report {
	panic("out of file descriptors")
}

func TestFatalFailureStopsLoop(t *testing.T) {
	reg := metrics.NewRegistry()
	a := alert.New(alert.PriorityHigh, "svc", "down", nil)
	d := New(fastConfig(), panickingDispatcher{}, []check.Check{constantCheck("svc", a)}, WithMetrics(reg))

	d.Start(context.Background())
	require.Eventually(t, func() bool { return !d.Running() }, eventually, time.Millisecond)

	assert.ErrorIs(t, d.Err(), ErrFatal)
	st := d.State()
	assert.False(t, st.Running)
	assert.Contains(t, st.LastError, "out of file descriptors")
	assert.Zero(t, st.CycleCount)
	assert.Zero(t, reg.Value(metrics.DaemonRunning))
	assert.NoError(t, d.Stop(context.Background()))
}

func TestStopLetsInFlightAlertFinish(t *testing.T) {
	a := alert.New(alert.PriorityHigh, "svc", "down", nil)
	cfg := fastConfig()
	cfg.Interval = time.Hour
	d := New(cfg, &countingDispatcher{}, []check.Check{constantCheck("svc", a)})

	entered := make(chan struct{})
	release := make(chan struct{})
	var ctxErr error
	var second atomic.Int32
	d.RegisterAlertCallback(ObserverFunc(func(ctx context.Context, _ alert.Alert) error {
		close(entered)
		<-release
		ctxErr = ctx.Err()
		return nil
	}))
	d.RegisterAlertCallback(ObserverFunc(func(context.Context, alert.Alert) error {
		second.Add(1)
		return nil
	}))

	d.Start(context.Background())
	<-entered
	stopped := make(chan error, 1)
	go func() { stopped <- d.Stop(context.Background()) }()
	time.Sleep(20 * time.Millisecond)
	close(release)

	require.NoError(t, <-stopped)
	assert.NoError(t, ctxErr)
	assert.Zero(t, second.Load())
	assert.Zero(t, d.State().CycleCount)
}

// The end-to-end scenarios below wire the real dispatcher and action engine.

type wired struct {
	d        *Daemon
	sender   *recordingSender
	history  *[]action.Action
	executed *atomic.Int32
	observed *atomic.Int32
}

func wire(t *testing.T, a alert.Alert) wired {
	t.Helper()
	w := wired{
		sender:   &recordingSender{},
		history:  &[]action.Action{},
		executed: &atomic.Int32{},
		observed: &atomic.Int32{},
	}
	disp, err := dispatch.New(config.DispatchConfig{SuppressionWindow: time.Minute})
	require.NoError(t, err)
	disp.Register(w.sender)

	var mu sync.Mutex
	engine, err := action.NewEngine(config.ActionsConfig{
		IdempotencyWindow: 10 * time.Minute,
		Rules:             []config.ActionRule{{Source: "db_pool", Type: "restart"}},
	}, action.ExecutorFunc(func(context.Context, action.Action) (action.Result, error) {
		w.executed.Add(1)
		return action.Result{"ok": true}, nil
	}), action.WithListener(func(act action.Action) {
		mu.Lock()
		*w.history = append(*w.history, act)
		mu.Unlock()
	}))
	require.NoError(t, err)

	w.d = New(fastConfig(), disp, []check.Check{constantCheck("db_pool", a)})
	w.d.RegisterAlertCallback(LogObserver{})
	w.d.RegisterAlertCallback(engine)
	w.d.RegisterAlertCallback(Named("counter", ObserverFunc(func(context.Context, alert.Alert) error {
		w.observed.Add(1)
		return nil
	})))
	return w
}

func TestCriticalAlertRestartsOnce(t *testing.T) {
	a := alert.New(alert.PriorityCritical, "db_pool", "exhausted", nil)
	w := wire(t, a)

	w.d.Start(context.Background())
	require.Eventually(t, func() bool { return w.observed.Load() >= 3 }, eventually, time.Millisecond)
	stop(t, w.d)

	// Repeats inside the window are suppressed for delivery but every
	// cycle still reaches the observers.
	assert.Equal(t, 1, w.sender.count())
	assert.GreaterOrEqual(t, w.observed.Load(), int32(3))
	assert.EqualValues(t, 1, w.executed.Load())

	require.Len(t, *w.history, 3)
	var statuses []action.Status
	for _, act := range *w.history {
		assert.Equal(t, action.TypeRestart, act.Type)
		assert.Equal(t, a.ID, act.SourceAlertID)
		statuses = append(statuses, act.Status)
	}
	assert.Equal(t, []action.Status{action.StatusPending, action.StatusExecuting, action.StatusSucceeded}, statuses)
	assert.Equal(t, []string{"log", "action-engine", "counter"}, w.d.State().Observers)
}

func TestStateReportsConfiguration(t *testing.T) {
	d := New(config.MonitorConfig{}, &countingDispatcher{}, []check.Check{
		check.NewFunc("host", func(context.Context) ([]alert.Alert, error) { return nil, nil }),
	})
	d.RegisterAlertCallback(LogObserver{})
	st := d.State()
	assert.False(t, st.Running)
	assert.Equal(t, config.DefaultInterval.String(), st.Interval)
	assert.Equal(t, []string{"host"}, st.Checks)
	assert.Equal(t, []string{"log"}, st.Observers)
}
