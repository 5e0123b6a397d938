package dispatch

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/obsidianstack/sentinel/internal/config"
)

// Senders builds every channel the configuration enables. The log channel is
// always present. pub may be nil, in which case the nats channel is skipped.
func Senders(cfg config.DispatchConfig, pub Publisher, logger *slog.Logger) []Sender {
	client := &http.Client{Timeout: 10 * time.Second}
	out := []Sender{LogSender{Logger: logger}}

	for _, wh := range cfg.Webhooks {
		url := wh.URL()
		if url == "" {
			slog.Warn("dispatch: webhook url not set, skipping", "type", wh.Type, "url_env", wh.URLEnv)
			continue
		}
		out = append(out, WebhookSender{Kind: wh.Type, URL: url, Client: client})
	}

	if po := cfg.Pushover; po.TokenEnv != "" || po.UserEnv != "" {
		if po.Token() == "" || po.User() == "" {
			slog.Warn("dispatch: pushover token or user not set, skipping")
		} else {
			out = append(out, Pushover{Token: po.Token(), User: po.User(), Endpoint: po.Endpoint, Client: client})
		}
	}

	if em := cfg.Email; em.Enabled() {
		out = append(out, Email{
			Host:     em.Host,
			Port:     em.Port,
			From:     em.From,
			To:       em.To,
			Username: em.Username,
			Password: em.Password(),
		})
	}

	if pub != nil {
		out = append(out, NATSSender{Conn: pub, Subject: cfg.NATSSubject})
	}
	return out
}
