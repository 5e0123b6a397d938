package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/obsidianstack/sentinel/internal/alert"
)

// Publisher is the part of *nats.Conn the NATS channel needs.
type Publisher interface {
	PublishMsg(m *nats.Msg) error
	FlushWithContext(ctx context.Context) error
}

// NATSSender publishes the alert as JSON on "<Subject>.<priority>". A send
// succeeds only once the server has acknowledged the flush.
type NATSSender struct {
	Conn    Publisher
	Subject string
}

// flushTimeout bounds the flush when the caller's context has no deadline.
const flushTimeout = 5 * time.Second

func (NATSSender) Channel() alert.Channel { return alert.ChannelNATS }

func (s NATSSender) Send(ctx context.Context, a alert.Alert) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("nats: encode alert: %w", err)
	}
	msg := nats.NewMsg(s.subject(a))
	msg.Data = data
	msg.Header.Set("Alert-Id", a.ID)
	msg.Header.Set("Alert-Source", a.Source)
	if a.ResolvesID != "" {
		msg.Header.Set("Resolves-Id", a.ResolvesID)
	}
	if deadline, ok := ctx.Deadline(); ok {
		msg.Header.Set("Deadline", deadline.UTC().Format(time.RFC3339Nano))
	}
	if err := s.Conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("nats: publish %s: %w", msg.Subject, err)
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, flushTimeout)
		defer cancel()
	}
	if err := s.Conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("nats: flush %s: %w", msg.Subject, err)
	}
	return nil
}

func (s NATSSender) subject(a alert.Alert) string {
	prefix := strings.TrimSuffix(s.Subject, ".")
	if prefix == "" {
		return a.Priority.String()
	}
	return prefix + "." + a.Priority.String()
}
