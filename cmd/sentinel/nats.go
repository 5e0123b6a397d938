package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// connectWithRetry dials NATS with exponential backoff until it succeeds or
// ctx is cancelled. Once connected the client reconnects on its own.
func connectWithRetry(ctx context.Context, logger *slog.Logger, url, name string) (*nats.Conn, error) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		nc, err := nats.Connect(
			url,
			nats.Name(name),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
			nats.RetryOnFailedConnect(true),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				if err != nil {
					logger.Warn("nats: disconnected", "err", err)
					return
				}
				logger.Warn("nats: disconnected")
			}),
			nats.ReconnectHandler(func(c *nats.Conn) {
				logger.Info("nats: reconnected", "url", c.ConnectedUrl())
			}),
			nats.ClosedHandler(func(_ *nats.Conn) {
				logger.Info("nats: connection closed")
			}),
		)
		if err == nil {
			return nc, nil
		}

		logger.Error("nats: connect failed", "url", url, "err", err, "retry_in", backoff)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}

		if backoff < maxBackoff {
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}
}
