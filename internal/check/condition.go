package check

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/obsidianstack/sentinel/internal/alert"
	"github.com/obsidianstack/sentinel/internal/config"
)

// Sample maps field names to their value in one health sampling.
// A field missing from the sample leaves rules on it untouched.
type Sample map[string]float64

// condition is a parsed "<field> <op> <value>" expression.
//
// Supported operators: > >= < <= == !=
//
//	cpu_pct > 90
//	days_left < 14
//	up == 0
type condition struct {
	field     string
	op        string
	threshold float64
}

func parseCondition(s string) (condition, error) {
	parts := strings.Fields(s)
	if len(parts) != 3 {
		return condition{}, fmt.Errorf("condition %q: want \"<field> <op> <value>\"", s)
	}
	switch parts[1] {
	case ">", ">=", "<", "<=", "==", "!=":
	default:
		return condition{}, fmt.Errorf("condition %q: unknown operator %q", s, parts[1])
	}
	threshold, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return condition{}, fmt.Errorf("condition %q: threshold: %w", s, err)
	}
	return condition{field: parts[0], op: parts[1], threshold: threshold}, nil
}

func (c condition) String() string {
	return c.field + " " + c.op + " " + strconv.FormatFloat(c.threshold, 'f', -1, 64)
}

// eval reports whether the condition holds for s. ok is false when the field
// is not present in s.
func (c condition) eval(s Sample) (fires bool, value float64, ok bool) {
	v, ok := s[c.field]
	if !ok {
		return false, 0, false
	}
	return compareFloat(v, c.op, c.threshold), v, true
}

// compareFloat applies a comparison operator to two float64 values.
func compareFloat(v float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return v > threshold
	case ">=":
		return v >= threshold
	case "<":
		return v < threshold
	case "<=":
		return v <= threshold
	case "==":
		return v == threshold
	case "!=":
		return v != threshold
	default:
		return false
	}
}

type rule struct {
	name     string
	cond     condition
	priority alert.Priority
	message  string
	channels []alert.Channel
}

func compileRules(rules []config.Rule) ([]rule, error) {
	out := make([]rule, 0, len(rules))
	for _, r := range rules {
		cond, err := parseCondition(r.Condition)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", r.Name, err)
		}
		p, err := alert.ParsePriority(r.Priority)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", r.Name, err)
		}
		chans, err := alert.ParseChannels(r.Channels)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", r.Name, err)
		}
		msg := r.Message
		if msg == "" {
			msg = fmt.Sprintf("%s: %s", r.Name, cond)
		}
		out = append(out, rule{name: r.Name, cond: cond, priority: p, message: msg, channels: chans})
	}
	return out, nil
}

// evaluator turns samples into alerts. It remembers which rules are firing so
// a rule that clears yields exactly one resolution alert.
//
// A firing rule re-raises on every sample. Each raise is a new alert carrying
// the first alert's ID as its incident, so one incident maps to one action
// inside the idempotency window. The
// dispatcher's suppression window keeps the re-raises from flooding channels.
type evaluator struct {
	source string
	kind   string
	rules  []rule

	mu     sync.Mutex
	firing map[string]alert.Alert // rule name -> first alert of the incident
	now    func() time.Time
}

func newEvaluator(source, kind string, rules []rule) *evaluator {
	return &evaluator{
		source: source,
		kind:   kind,
		rules:  rules,
		firing: make(map[string]alert.Alert),
		now:    time.Now,
	}
}

func (e *evaluator) evaluate(s Sample) []alert.Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []alert.Alert
	for _, r := range e.rules {
		fires, value, ok := r.cond.eval(s)
		if !ok {
			continue
		}
		if fires {
			a := alert.New(r.priority, e.source, r.message, map[string]any{
				"check":     e.kind,
				"rule":      r.name,
				"condition": r.cond.String(),
				"field":     r.cond.field,
				"value":     value,
				"threshold": r.cond.threshold,
			}, r.channels...)
			incident := a.ID
			if opener, ok := e.firing[r.name]; ok {
				incident = opener.ID
			}
			a.Context[alert.ContextIncidentKey] = incident
			if incident == a.ID {
				e.firing[r.name] = a.Clone()
			}
			out = append(out, a)
			continue
		}
		if prev, ok := e.firing[r.name]; ok {
			delete(e.firing, r.name)
			res := prev.Resolve(e.now())
			res.Context["value"] = value
			out = append(out, res)
		}
	}
	return out
}
