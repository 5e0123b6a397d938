package dispatch

import (
	"context"
	"log/slog"

	"github.com/obsidianstack/sentinel/internal/alert"
)

// LogSender writes alerts to a slog logger at a level matching the priority.
type LogSender struct {
	Logger *slog.Logger
}

func (LogSender) Channel() alert.Channel { return alert.ChannelLog }

func (s LogSender) Send(ctx context.Context, a alert.Alert) error {
	l := s.Logger
	if l == nil {
		l = slog.Default()
	}
	attrs := []any{
		"alert_id", a.ID,
		"source", a.Source,
		"priority", a.Priority.String(),
		"raised_at", a.RaisedAt,
	}
	if a.ResolvesID != "" {
		attrs = append(attrs, "resolves_id", a.ResolvesID)
	}
	if len(a.Context) > 0 {
		attrs = append(attrs, "context", a.Context)
	}
	l.Log(ctx, levelFor(a.Priority), "alert: "+a.Message, attrs...)
	return nil
}

func levelFor(p alert.Priority) slog.Level {
	switch p {
	case alert.PriorityCritical:
		return slog.LevelError
	case alert.PriorityHigh:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
