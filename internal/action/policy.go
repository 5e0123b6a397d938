package action

import (
	"fmt"
	"strings"

	"github.com/obsidianstack/sentinel/internal/alert"
	"github.com/obsidianstack/sentinel/internal/config"
)

// ContextTypeKey is the alert context key a check can set to request an
// action type when no rule matches its source.
const ContextTypeKey = "action_type"

type prefixRule struct {
	prefix string
	typ    Type
}

// Policy decides whether an alert warrants an action and which type.
// A Policy is immutable once built.
type Policy struct {
	autoRemediable map[string]bool
	exact          map[string]Type
	prefixes       []prefixRule
}

// NewPolicy builds a Policy from the actions configuration.
func NewPolicy(cfg config.ActionsConfig) (*Policy, error) {
	p := &Policy{
		autoRemediable: make(map[string]bool, len(cfg.AutoRemediable)),
		exact:          make(map[string]Type),
	}
	for _, src := range cfg.AutoRemediable {
		p.autoRemediable[src] = true
	}
	for i, r := range cfg.Rules {
		t, err := ParseType(r.Type)
		if err != nil {
			return nil, fmt.Errorf("action: rules[%d]: %w", i, err)
		}
		switch {
		case r.Source != "":
			if _, dup := p.exact[r.Source]; !dup {
				p.exact[r.Source] = t
			}
		case r.Prefix != "":
			p.prefixes = append(p.prefixes, prefixRule{prefix: r.Prefix, typ: t})
		default:
			return nil, fmt.Errorf("action: rules[%d]: source or prefix is required", i)
		}
	}
	return p, nil
}

// Classify reports whether a should get an action, and if not, why.
func (p *Policy) Classify(a alert.Alert) (bool, string) {
	if a.IsResolution() {
		return false, "resolution alert"
	}
	switch a.Priority {
	case alert.PriorityCritical, alert.PriorityHigh:
		return true, ""
	case alert.PriorityMedium:
		if p.autoRemediable[a.Source] {
			return true, ""
		}
		return false, "medium priority source is not auto-remediable"
	case alert.PriorityLow:
		return false, "low priority"
	default:
		return false, fmt.Sprintf("invalid priority %s", a.Priority)
	}
}

// TypeFor maps a to an action type: exact source rule, then prefix rules in
// declaration order, then the action_type context key, else notify_human.
func (p *Policy) TypeFor(a alert.Alert) Type {
	if t, ok := p.exact[a.Source]; ok {
		return t
	}
	for _, r := range p.prefixes {
		if strings.HasPrefix(a.Source, r.prefix) {
			return r.typ
		}
	}
	if s, ok := a.Context[ContextTypeKey].(string); ok {
		if t, err := ParseType(s); err == nil {
			return t
		}
	}
	return TypeNotifyHuman
}
