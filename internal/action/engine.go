package action

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/obsidianstack/sentinel/internal/alert"
	"github.com/obsidianstack/sentinel/internal/config"
	"github.com/obsidianstack/sentinel/internal/metrics"
)

// Engine turns alerts into remediation actions and runs them through an
// Executor. It is safe for concurrent use.
type Engine struct {
	policy  atomic.Pointer[Policy]
	exec    Executor
	ledger  Ledger
	ttl     time.Duration
	timeout time.Duration

	listeners []func(Action)
	metrics   *metrics.Registry
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLedger replaces the default in-memory ledger.
func WithLedger(l Ledger) Option {
	return func(e *Engine) { e.ledger = l }
}

// WithListener calls fn with every new action and every status change.
// fn runs synchronously on the engine's goroutine and must not block.
func WithListener(fn func(Action)) Option {
	return func(e *Engine) { e.listeners = append(e.listeners, fn) }
}

// WithMetrics records action counters in reg.
func WithMetrics(reg *metrics.Registry) Option {
	return func(e *Engine) { e.metrics = reg }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an Engine from cfg that executes actions with exec.
func NewEngine(cfg config.ActionsConfig, exec Executor, opts ...Option) (*Engine, error) {
	if exec == nil {
		return nil, fmt.Errorf("action: executor is required")
	}
	e := &Engine{
		exec:    exec,
		ttl:     cfg.IdempotencyWindow,
		timeout: cfg.Timeout,
		now:     time.Now,
	}
	if e.ttl <= 0 {
		e.ttl = config.DefaultIdempotencyWindow
	}
	if e.timeout <= 0 {
		e.timeout = config.DefaultActionTimeout
	}
	if err := e.SetPolicy(cfg); err != nil {
		return nil, err
	}
	for _, o := range opts {
		o(e)
	}
	if e.ledger == nil {
		e.ledger = NewMemoryLedger(e.ttl, e.now)
	}
	return e, nil
}

// SetPolicy swaps the classification allow-list and mapping rules. Actions
// already created are unaffected.
func (e *Engine) SetPolicy(cfg config.ActionsConfig) error {
	p, err := NewPolicy(cfg)
	if err != nil {
		return err
	}
	e.policy.Store(p)
	return nil
}

// Name identifies the engine when it is registered as an alert callback.
func (e *Engine) Name() string { return "action-engine" }

// OnAlert lets the engine be registered as an alert callback.
func (e *Engine) OnAlert(ctx context.Context, a alert.Alert) error {
	_, err := e.CreateActionFromAlert(ctx, a)
	return err
}

// CreateActionFromAlert decides whether a warrants remediation and, if so,
// executes the mapped action. At most one action exists per incident inside
// the idempotency window; a repeat returns the action already recorded,
// whatever its status, and executes nothing. Resolutions are keyed on their
// own ID.
//
// Executor failures are recorded on the returned action as StatusFailed. The
// only error returned is a failure to reach the ledger.
func (e *Engine) CreateActionFromAlert(ctx context.Context, a alert.Alert) (Action, error) {
	p := e.policy.Load()
	now := e.now().UTC()

	act := Action{
		ID:            uuid.NewString(),
		Type:          p.TypeFor(a),
		SourceAlertID: claimKey(a),
		Source:        a.Source,
		Priority:      a.Priority,
		Context:       maps.Clone(a.Context),
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if ok, reason := p.Classify(a); !ok {
		act.Status, act.Reason = StatusSkipped, reason
	} else if act.Type == TypeNoOp {
		act.Status, act.Reason = StatusSkipped, "mapped to no_op"
	}

	held, claimed, err := e.ledger.Claim(ctx, act.SourceAlertID, act, e.ttl)
	if err != nil {
		return Action{}, fmt.Errorf("action: claim alert %s: %w", act.SourceAlertID, err)
	}
	if !claimed {
		slog.Debug("action: incident already handled",
			"alert_id", a.ID, "incident_id", act.SourceAlertID, "action_id", held.ID, "status", held.Status)
		return held, nil
	}

	e.notify(act)
	if act.Status == StatusSkipped {
		slog.Info("action: skipped",
			"alert_id", a.ID, "source", a.Source, "priority", a.Priority.String(), "reason", act.Reason)
		e.metrics.Inc(metrics.ActionsTotal, "type", string(act.Type), "status", string(act.Status))
		return act, nil
	}
	return e.execute(ctx, act), nil
}

// Run evicts expired ledger entries until ctx is cancelled, when the ledger
// needs it.
func (e *Engine) Run(ctx context.Context) {
	if r, ok := e.ledger.(interface{ Run(context.Context) }); ok {
		r.Run(ctx)
	}
}

func (e *Engine) execute(ctx context.Context, act Action) Action {
	act = e.advance(ctx, act, StatusExecuting, "", nil)

	res, err := e.run(ctx, act)
	if err != nil {
		slog.Error("action: execution failed",
			"action_id", act.ID, "type", act.Type, "alert_id", act.SourceAlertID, "err", err)
		act = e.advance(ctx, act, StatusFailed, err.Error(), res)
	} else {
		slog.Info("action: executed",
			"action_id", act.ID, "type", act.Type, "alert_id", act.SourceAlertID)
		act = e.advance(ctx, act, StatusSucceeded, "", res)
	}
	e.metrics.Inc(metrics.ActionsTotal, "type", string(act.Type), "status", string(act.Status))
	return act
}

// advance moves act to status, persists it and notifies listeners. Ledger
// write failures are logged; the in-flight action stays authoritative.
func (e *Engine) advance(ctx context.Context, act Action, to Status, reason string, res Result) Action {
	next, err := act.Transition(to, e.now())
	if err != nil {
		slog.Error("action: "+err.Error(), "action_id", act.ID)
		return act
	}
	next.Reason = reason
	if res != nil {
		next.Result = maps.Clone(res)
	}
	if err := e.ledger.Update(ctx, next); err != nil {
		slog.Warn("action: ledger update failed",
			"action_id", next.ID, "status", next.Status, "err", err)
	}
	e.notify(next)
	return next
}

// run calls the executor under the engine timeout and turns a panic into an
// error.
func (e *Engine) run(ctx context.Context, act Action) (res Result, err error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("executor panicked: %v", r)
		}
	}()
	return e.exec.Execute(ctx, act.Clone())
}

func (e *Engine) notify(act Action) {
	for _, fn := range e.listeners {
		fn(act.Clone())
	}
}

func claimKey(a alert.Alert) string {
	if a.IsResolution() {
		return a.ID
	}
	return a.IncidentID()
}
