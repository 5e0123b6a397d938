package monitor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/obsidianstack/sentinel/internal/alert"
)

// Observer is notified of every alert the loop raises, in registration
// order. An error or panic is logged and does not stop later observers.
type Observer interface {
	OnAlert(ctx context.Context, a alert.Alert) error
}

// ObserverFunc adapts a plain function to Observer.
type ObserverFunc func(ctx context.Context, a alert.Alert) error

func (f ObserverFunc) OnAlert(ctx context.Context, a alert.Alert) error { return f(ctx, a) }

type namedObserver struct {
	Observer
	name string
}

func (n namedObserver) Name() string { return n.name }

// Named attaches a name to o for logs and State.
func Named(name string, o Observer) Observer {
	return namedObserver{Observer: o, name: name}
}

func observerName(o Observer) string {
	if n, ok := o.(interface{ Name() string }); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", o)
}

// LogObserver records every alert at info level, including suppressed
// repeats the dispatcher did not deliver.
type LogObserver struct {
	Logger *slog.Logger
}

func (LogObserver) Name() string { return "log" }

func (o LogObserver) OnAlert(ctx context.Context, a alert.Alert) error {
	l := o.Logger
	if l == nil {
		l = slog.Default()
	}
	l.InfoContext(ctx, "monitor: alert observed",
		"alert_id", a.ID, "source", a.Source, "priority", a.Priority.String(), "message", a.Message)
	return nil
}
