package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/obsidianstack/sentinel/internal/alert"
)

// WebhookSender posts alerts to Slack, Teams, PagerDuty-style or generic HTTP
// endpoints.
type WebhookSender struct {
	// Kind is one of: slack | teams | pagerduty | http.
	Kind   string
	URL    string
	Client *http.Client
}

func (WebhookSender) Channel() alert.Channel { return alert.ChannelWebhook }

func (w WebhookSender) Send(ctx context.Context, a alert.Alert) error {
	var payload any
	switch w.Kind {
	case "slack":
		payload = map[string]string{
			"text": fmt.Sprintf("*%s* [%s] %s", priorityLabel(a), a.Source, a.Message),
		}
	case "teams":
		payload = map[string]any{
			"@type":      "MessageCard",
			"@context":   "http://schema.org/extensions",
			"themeColor": priorityColor(a.Priority),
			"summary":    a.Source,
			"title":      fmt.Sprintf("Sentinel Alert: %s", a.Source),
			"text":       a.Message,
		}
	case "pagerduty", "http":
		payload = map[string]any{"alert": a}
	default:
		return fmt.Errorf("unknown webhook type %q", w.Kind)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	return w.post(ctx, body)
}

func (w WebhookSender) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := w.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func priorityLabel(a alert.Alert) string {
	if a.IsResolution() {
		return "[RESOLVED]"
	}
	switch a.Priority {
	case alert.PriorityCritical:
		return "[CRITICAL]"
	case alert.PriorityHigh:
		return "[HIGH]"
	case alert.PriorityMedium:
		return "[MEDIUM]"
	default:
		return "[LOW]"
	}
}

func priorityColor(p alert.Priority) string {
	switch p {
	case alert.PriorityCritical:
		return "FF4F6A"
	case alert.PriorityHigh:
		return "FFAB40"
	default:
		return "00D4FF"
	}
}
