package journal

import (
	"context"
	"sync"

	"github.com/obsidianstack/sentinel/internal/action"
	"github.com/obsidianstack/sentinel/internal/alert"
)

// DefaultSize is the number of alerts and of actions kept when New is given
// a non-positive size.
const DefaultSize = 200

// Event names passed to subscribers.
const (
	EventAlert  = "alert"
	EventAction = "action"
)

// Journal keeps the most recent alerts and actions in memory for the status
// API and live stream. It is safe for concurrent use.
type Journal struct {
	size int

	mu      sync.RWMutex
	alerts  []alert.Alert   // oldest first
	actions []action.Action // oldest first
	subs    []func(event string, v any)
}

// New creates a Journal holding up to size alerts and size actions.
func New(size int) *Journal {
	if size <= 0 {
		size = DefaultSize
	}
	return &Journal{size: size}
}

// Subscribe calls fn after every recorded alert or action change. fn must
// not block.
func (j *Journal) Subscribe(fn func(event string, v any)) {
	j.mu.Lock()
	j.subs = append(j.subs, fn)
	j.mu.Unlock()
}

// Name identifies the journal when it is registered as an alert callback.
func (j *Journal) Name() string { return "journal" }

// OnAlert records a. It never fails.
func (j *Journal) OnAlert(_ context.Context, a alert.Alert) error {
	a = a.Clone()
	j.mu.Lock()
	j.alerts = append(j.alerts, a)
	if len(j.alerts) > j.size {
		j.alerts = j.alerts[len(j.alerts)-j.size:]
	}
	subs := j.subs
	j.mu.Unlock()

	for _, fn := range subs {
		fn(EventAlert, a)
	}
	return nil
}

// RecordAction stores a, replacing an earlier entry with the same ID so each
// action appears once with its latest status.
func (j *Journal) RecordAction(a action.Action) {
	a = a.Clone()
	j.mu.Lock()
	replaced := false
	for i := len(j.actions) - 1; i >= 0; i-- {
		if j.actions[i].ID == a.ID {
			j.actions[i] = a
			replaced = true
			break
		}
	}
	if !replaced {
		j.actions = append(j.actions, a)
		if len(j.actions) > j.size {
			j.actions = j.actions[len(j.actions)-j.size:]
		}
	}
	subs := j.subs
	j.mu.Unlock()

	for _, fn := range subs {
		fn(EventAction, a)
	}
}

// Alerts returns up to limit alerts, newest first. limit <= 0 returns all.
func (j *Journal) Alerts(limit int) []alert.Alert {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make([]alert.Alert, 0, clamp(limit, len(j.alerts)))
	for i := len(j.alerts) - 1; i >= 0 && len(out) < cap(out); i-- {
		out = append(out, j.alerts[i].Clone())
	}
	return out
}

// Actions returns up to limit actions, newest first. limit <= 0 returns all.
func (j *Journal) Actions(limit int) []action.Action {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make([]action.Action, 0, clamp(limit, len(j.actions)))
	for i := len(j.actions) - 1; i >= 0 && len(out) < cap(out); i-- {
		out = append(out, j.actions[i].Clone())
	}
	return out
}

// AlertCount returns the number of held alerts.
func (j *Journal) AlertCount() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.alerts)
}

// ActionCounts returns the number of held actions per status.
func (j *Journal) ActionCounts() map[action.Status]int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make(map[action.Status]int)
	for _, a := range j.actions {
		out[a.Status]++
	}
	return out
}

func clamp(limit, n int) int {
	if limit <= 0 || limit > n {
		return n
	}
	return limit
}
