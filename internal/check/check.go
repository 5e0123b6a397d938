package check

import (
	"context"
	"fmt"
	"time"

	"github.com/obsidianstack/sentinel/internal/alert"
	"github.com/obsidianstack/sentinel/internal/config"
)

const defaultCheckTimeout = 10 * time.Second

// Check is one health check source. Run returns zero or more candidate alerts
// per invocation and may fail; the monitor logs the failure and moves on.
type Check interface {
	Name() string
	Run(ctx context.Context) ([]alert.Alert, error)
}

// Func adapts a plain function to the Check interface.
type Func struct {
	name string
	fn   func(ctx context.Context) ([]alert.Alert, error)
}

// NewFunc returns a Check named name that calls fn.
func NewFunc(name string, fn func(ctx context.Context) ([]alert.Alert, error)) *Func {
	return &Func{name: name, fn: fn}
}

func (f *Func) Name() string { return f.name }

func (f *Func) Run(ctx context.Context) ([]alert.Alert, error) { return f.fn(ctx) }

// sampler collects one Sample from a monitored target.
type sampler func(ctx context.Context) (Sample, error)

// ruleCheck samples a target and evaluates its configured rules.
type ruleCheck struct {
	name   string
	sample sampler
	eval   *evaluator
}

func (c *ruleCheck) Name() string { return c.name }

func (c *ruleCheck) Run(ctx context.Context) ([]alert.Alert, error) {
	s, err := c.sample(ctx)
	if err != nil {
		return nil, fmt.Errorf("check %q: %w", c.name, err)
	}
	return c.eval.evaluate(s), nil
}

// New returns the Check described by cfg.
func New(cfg config.Check) (Check, error) {
	rules, err := compileRules(cfg.Rules)
	if err != nil {
		return nil, fmt.Errorf("check %q: %w", cfg.Name, err)
	}

	var s sampler
	switch cfg.Type {
	case "host":
		s = hostSampler(cfg)
	case "prometheus":
		client, err := buildHTTPClient(cfg)
		if err != nil {
			return nil, fmt.Errorf("check %q: build http client: %w", cfg.Name, err)
		}
		s = promSampler(cfg.Endpoint, client)
	case "http":
		client, err := buildHTTPClient(cfg)
		if err != nil {
			return nil, fmt.Errorf("check %q: build http client: %w", cfg.Name, err)
		}
		s = probeSampler(cfg.Endpoint, client)
	case "tls":
		s = tlsSampler(cfg)
	default:
		return nil, fmt.Errorf("check %q: unsupported type %q", cfg.Name, cfg.Type)
	}

	return &ruleCheck{
		name:   cfg.Name,
		sample: s,
		eval:   newEvaluator(cfg.Name, cfg.Type, rules),
	}, nil
}

// NewAll builds every configured check, stopping at the first error.
func NewAll(cfgs []config.Check) ([]Check, error) {
	out := make([]Check, 0, len(cfgs))
	for _, c := range cfgs {
		chk, err := New(c)
		if err != nil {
			return nil, err
		}
		out = append(out, chk)
	}
	return out, nil
}

func timeoutOf(cfg config.Check) time.Duration {
	if cfg.Timeout > 0 {
		return cfg.Timeout
	}
	return defaultCheckTimeout
}
