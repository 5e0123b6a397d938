package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/obsidianstack/sentinel/internal/alert"
	"github.com/obsidianstack/sentinel/internal/check"
	"github.com/obsidianstack/sentinel/internal/config"
	"github.com/obsidianstack/sentinel/internal/dispatch"
	"github.com/obsidianstack/sentinel/internal/logging"
	"github.com/obsidianstack/sentinel/internal/metrics"
)

// ErrFatal wraps the failure that halted the loop on its own.
var ErrFatal = errors.New("monitor: fatal scheduling failure")

// Dispatcher delivers alerts to notification channels.
type Dispatcher interface {
	Dispatch(ctx context.Context, a alert.Alert) dispatch.Report
}

// State is a point-in-time view of the daemon.
type State struct {
	Running     bool      `json:"running"`
	CycleCount  uint64    `json:"cycle_count"`
	LastCycleAt time.Time `json:"last_cycle_at"`
	StartedAt   time.Time `json:"started_at"`
	Interval    string    `json:"interval"`
	Checks      []string  `json:"checks"`
	Observers   []string  `json:"observers"`
	LastError   string    `json:"last_error,omitempty"`
}

// Daemon runs the sampling loop: every interval it runs all checks, hands
// each resulting alert to the dispatcher and then to every observer in
// registration order.
//
// Start, Stop, RegisterAlertCallback and State are safe to call concurrently
// with the loop.
type Daemon struct {
	interval      time.Duration
	checkTimeout  time.Duration
	handleTimeout time.Duration
	checks        []check.Check
	dispatcher    Dispatcher
	metrics       *metrics.Registry
	now           func() time.Time

	mu          sync.Mutex
	running     bool
	observers   []Observer
	cancel      context.CancelFunc
	done        chan struct{}
	cycleCount  uint64
	lastCycleAt time.Time
	startedAt   time.Time
	lastErr     error
}

// Option configures a Daemon.
type Option func(*Daemon)

// WithMetrics records loop counters in reg.
func WithMetrics(reg *metrics.Registry) Option {
	return func(d *Daemon) { d.metrics = reg }
}

// WithClock replaces time.Now for run-state timestamps.
func WithClock(now func() time.Time) Option {
	return func(d *Daemon) { d.now = now }
}

// New creates a stopped Daemon. d must not be nil.
func New(cfg config.MonitorConfig, d Dispatcher, checks []check.Check, opts ...Option) *Daemon {
	m := &Daemon{
		interval:      cfg.Interval,
		checkTimeout:  cfg.CheckTimeout,
		handleTimeout: cfg.HandleTimeout,
		checks:        checks,
		dispatcher:    d,
		now:           time.Now,
	}
	if m.interval <= 0 {
		m.interval = config.DefaultInterval
	}
	if m.checkTimeout <= 0 {
		m.checkTimeout = config.DefaultCheckTimeout
	}
	if m.handleTimeout <= 0 {
		m.handleTimeout = config.DefaultHandleTimeout
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// RegisterAlertCallback appends o to the observer sequence. Registering the
// same observer twice invokes it twice. A registration made while the loop
// runs takes effect from the next cycle.
func (d *Daemon) RegisterAlertCallback(o Observer) {
	d.mu.Lock()
	d.observers = append(d.observers, o)
	d.mu.Unlock()
}

// Start launches the loop in the background and returns. Calling Start while
// the loop runs logs a warning and does nothing. Cancelling ctx stops the
// loop like Stop does.
func (d *Daemon) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		slog.Warn("monitor: start called while already running, ignoring")
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	d.running = true
	d.cancel = cancel
	d.done = make(chan struct{})
	d.startedAt = d.now().UTC()
	d.lastErr = nil
	d.metrics.Set(metrics.DaemonRunning, 1)

	go d.loop(loopCtx, d.done)
}

// Stop signals the loop to exit and waits until it has, or until ctx is done.
// An alert already handed to the dispatcher finishes its dispatch first.
// Stop is safe to call before Start and more than once.
func (d *Daemon) Stop(ctx context.Context) error {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("monitor: waiting for loop to stop: %w", ctx.Err())
	}
}

// Running reports whether the loop is active.
func (d *Daemon) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Err returns the fatal failure that halted the loop, if any. It wraps
// ErrFatal.
func (d *Daemon) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastErr
}

// State returns a snapshot of the run state.
func (d *Daemon) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := State{
		Running:     d.running,
		CycleCount:  d.cycleCount,
		LastCycleAt: d.lastCycleAt,
		StartedAt:   d.startedAt,
		Interval:    d.interval.String(),
		Checks:      make([]string, 0, len(d.checks)),
		Observers:   make([]string, 0, len(d.observers)),
	}
	for _, c := range d.checks {
		s.Checks = append(s.Checks, c.Name())
	}
	for _, o := range d.observers {
		s.Observers = append(s.Observers, observerName(o))
	}
	if d.lastErr != nil {
		s.LastError = d.lastErr.Error()
	}
	return s
}

func (d *Daemon) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer func() {
		r := recover()
		d.mu.Lock()
		if r != nil {
			d.lastErr = fmt.Errorf("%w: %v", ErrFatal, r)
		}
		cancel := d.cancel
		d.running = false
		d.cancel = nil
		d.metrics.Set(metrics.DaemonRunning, 0)
		d.mu.Unlock()
		cancel()

		if r != nil {
			slog.Log(context.Background(), logging.LevelCritical, "monitor: loop halted",
				"err", r, "stack", string(debug.Stack()))
			return
		}
		slog.Info("monitor: loop stopped")
	}()

	slog.Info("monitor: loop started", "interval", d.interval, "checks", len(d.checks))
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		d.cycle(ctx)
		timer.Reset(d.interval)
	}
}

// cycle runs every check, then handles the collected alerts in order. It
// returns early once ctx is cancelled; an aborted cycle is not counted.
func (d *Daemon) cycle(ctx context.Context) {
	d.mu.Lock()
	observers := append([]Observer(nil), d.observers...)
	d.mu.Unlock()

	var alerts []alert.Alert
	for _, c := range d.checks {
		if ctx.Err() != nil {
			return
		}
		alerts = append(alerts, d.runCheck(ctx, c)...)
	}
	if ctx.Err() != nil {
		return
	}

	for _, a := range alerts {
		if ctx.Err() != nil {
			return
		}
		d.handle(ctx, a, observers)
	}

	now := d.now().UTC()
	d.mu.Lock()
	d.cycleCount++
	d.lastCycleAt = now
	d.mu.Unlock()
	d.metrics.Inc(metrics.CyclesTotal)
	d.metrics.Set(metrics.LastCycleTimestamp, float64(now.Unix()))
}

type checkResult struct {
	alerts []alert.Alert
	err    error
}

// runCheck runs c under the check timeout. Failures, panics and timeouts are
// logged and yield no alerts.
func (d *Daemon) runCheck(ctx context.Context, c check.Check) []alert.Alert {
	name := c.Name()
	cctx, cancel := context.WithTimeout(ctx, d.checkTimeout)
	defer cancel()

	out := make(chan checkResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				out <- checkResult{err: fmt.Errorf("check panicked: %v", r)}
			}
		}()
		alerts, err := c.Run(cctx)
		out <- checkResult{alerts: alerts, err: err}
	}()

	var res checkResult
	select {
	case res = <-out:
	case <-cctx.Done():
		res.err = cctx.Err()
	}
	if res.err != nil {
		if ctx.Err() != nil {
			slog.Debug("monitor: check aborted by stop", "check", name)
			return nil
		}
		slog.Warn("monitor: check failed", "check", name, "err", res.err)
		d.metrics.Inc(metrics.CheckFailuresTotal, "check", name)
		return nil
	}
	return res.alerts
}

// handle dispatches a and notifies observers. Both run detached from the
// stop signal so in-flight work completes, each bounded by handleTimeout.
// A panic from the dispatcher is not recovered here.
func (d *Daemon) handle(ctx context.Context, a alert.Alert, observers []Observer) {
	if err := a.Validate(); err != nil {
		slog.Warn("monitor: dropping invalid alert", "alert_id", a.ID, "source", a.Source, "err", err)
		return
	}
	d.metrics.Inc(metrics.AlertsTotal, "source", a.Source, "priority", a.Priority.String())

	detached := context.WithoutCancel(ctx)
	dctx, cancel := context.WithTimeout(detached, d.handleTimeout)
	d.dispatcher.Dispatch(dctx, a)
	cancel()

	for _, o := range observers {
		if ctx.Err() != nil {
			return
		}
		d.notify(detached, o, a)
	}
}

func (d *Daemon) notify(ctx context.Context, o Observer, a alert.Alert) {
	name := observerName(o)
	ctx, cancel := context.WithTimeout(ctx, d.handleTimeout)
	defer cancel()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("callback panicked: %v", r)
			}
		}()
		return o.OnAlert(ctx, a.Clone())
	}()
	if err != nil {
		slog.Error("monitor: alert callback failed",
			"alert_id", a.ID, "observer", name, "err", err)
		d.metrics.Inc(metrics.CallbackFailuresTotal, "observer", name)
	}
}
