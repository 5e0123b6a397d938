package alert

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
)

// ContextIncidentKey names the context entry that groups repeated raises of
// one ongoing condition. Its value is the ID of the first alert raised.
const ContextIncidentKey = "incident_id"

// Alert describes one detected condition.
type Alert struct {
	ID       string    `json:"id"`
	Priority Priority  `json:"priority"`
	Channels []Channel `json:"channels,omitempty"`
	Source   string    `json:"source"`
	Message  string    `json:"message"`

	// Context carries diagnostic key/value pairs through to every consumer.
	Context  map[string]any `json:"context,omitempty"`
	RaisedAt time.Time      `json:"raised_at"`

	// ResolvesID is set on resolution alerts and holds the ID of the alert
	// whose condition has cleared.
	ResolvesID string `json:"resolves_id,omitempty"`
}

// New builds an Alert with a fresh ID and RaisedAt set to now.
// ctx and channels are copied; the caller may reuse them afterwards.
func New(p Priority, source, message string, ctx map[string]any, channels ...Channel) Alert {
	return Alert{
		ID:       uuid.NewString(),
		Priority: p,
		Channels: slices.Clone(channels),
		Source:   source,
		Message:  message,
		Context:  maps.Clone(ctx),
		RaisedAt: time.Now().UTC(),
	}
}

// Clone returns a copy of a that shares no maps or slices with it.
func (a Alert) Clone() Alert {
	a.Channels = slices.Clone(a.Channels)
	a.Context = maps.Clone(a.Context)
	return a
}

// Resolve returns a new alert recording that the condition behind a has
// cleared. a itself is left untouched.
func (a Alert) Resolve(now time.Time) Alert {
	r := a.Clone()
	r.ID = uuid.NewString()
	r.Message = "resolved: " + a.Message
	r.RaisedAt = now.UTC()
	r.ResolvesID = a.ID
	return r
}

// IncidentID returns the incident a belongs to, or a.ID when a carries no
// incident entry.
func (a Alert) IncidentID() string {
	if id, ok := a.Context[ContextIncidentKey].(string); ok && id != "" {
		return id
	}
	return a.ID
}

// IsResolution reports whether a announces a cleared condition.
func (a Alert) IsResolution() bool { return a.ResolvesID != "" }

// Signature is the de-duplication key: source, priority and message.
func (a Alert) Signature() string {
	return a.Source + "\x00" + a.Priority.String() + "\x00" + a.Message
}

// Validate reports every structural problem with a.
func (a Alert) Validate() error {
	var errs []error
	if a.ID == "" {
		errs = append(errs, errors.New("id is required"))
	}
	if a.Source == "" {
		errs = append(errs, errors.New("source is required"))
	}
	if a.Message == "" {
		errs = append(errs, errors.New("message is required"))
	}
	if !a.Priority.Valid() {
		errs = append(errs, fmt.Errorf("invalid %s", a.Priority))
	}
	for _, c := range a.Channels {
		if !c.Valid() {
			errs = append(errs, fmt.Errorf("unknown channel %q", c))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("alert: %w", errors.Join(errs...))
	}
	return nil
}
