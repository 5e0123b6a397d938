package action

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/obsidianstack/sentinel/internal/alert"
)

// Type names the remediation an Action asks for.
type Type string

const (
	TypeRestart     Type = "restart"
	TypeNotifyHuman Type = "notify_human"
	TypeScale       Type = "scale"
	TypeThrottle    Type = "throttle"
	TypeNoOp        Type = "no_op"
)

// Types lists every action type.
var Types = []Type{TypeRestart, TypeNotifyHuman, TypeScale, TypeThrottle, TypeNoOp}

// ParseType accepts a type name in any case.
func ParseType(s string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	if slices.Contains(Types, t) {
		return t, nil
	}
	return "", fmt.Errorf("unknown action type %q", s)
}

// Status is the lifecycle state of an Action.
type Status string

const (
	StatusPending   Status = "pending"
	StatusExecuting Status = "executing"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusSkipped:
		return true
	default:
		return false
	}
}

// ErrInvalidTransition is returned by Transition for a move the state machine
// does not allow.
var ErrInvalidTransition = errors.New("invalid action transition")

var transitions = map[Status][]Status{
	StatusPending:   {StatusExecuting},
	StatusExecuting: {StatusSucceeded, StatusFailed},
}

// Result is the optional payload an executor returns.
type Result map[string]any

// Action is a remediation decision derived from exactly one incident.
// SourceAlertID holds the ID of the incident's first alert.
type Action struct {
	ID            string         `json:"id"`
	Type          Type           `json:"type"`
	SourceAlertID string         `json:"source_alert_id"`
	Source        string         `json:"source"`
	Priority      alert.Priority `json:"priority"`
	Context       map[string]any `json:"context,omitempty"`
	Status        Status         `json:"status"`
	Reason        string         `json:"reason,omitempty"`
	Result        Result         `json:"result,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Clone returns a copy sharing no maps with a.
func (a Action) Clone() Action {
	a.Context = maps.Clone(a.Context)
	a.Result = maps.Clone(a.Result)
	return a
}

// Transition returns a copy of a moved to status to. a is left untouched.
func (a Action) Transition(to Status, now time.Time) (Action, error) {
	if !slices.Contains(transitions[a.Status], to) {
		return a, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.Status, to)
	}
	next := a.Clone()
	next.Status = to
	next.UpdatedAt = now.UTC()
	return next, nil
}
