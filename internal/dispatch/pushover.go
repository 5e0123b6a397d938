package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/obsidianstack/sentinel/internal/alert"
)

const defaultPushoverEndpoint = "https://api.pushover.net/1/messages.json"

// Pushover sends push notifications via the Pushover API.
type Pushover struct {
	Token    string
	User     string
	Endpoint string
	Client   *http.Client
}

func (Pushover) Channel() alert.Channel { return alert.ChannelPush }

func (p Pushover) client() *http.Client {
	if p.Client != nil {
		return p.Client
	}
	return &http.Client{Timeout: 10 * time.Second}
}

func (p Pushover) Send(ctx context.Context, a alert.Alert) error {
	if p.Token == "" || p.User == "" {
		return errors.New("pushover token and user are required")
	}
	endpoint := p.Endpoint
	if endpoint == "" {
		endpoint = defaultPushoverEndpoint
	}

	data := url.Values{}
	data.Set("token", p.Token)
	data.Set("user", p.User)
	data.Set("title", fmt.Sprintf("%s %s", priorityLabel(a), a.Source))
	data.Set("message", a.Message)
	data.Set("priority", pushoverPriority(a))
	data.Set("timestamp", fmt.Sprint(a.RaisedAt.Unix()))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("pushover returned status %s", resp.Status)
	}
	return nil
}

// pushoverPriority maps alert priority onto Pushover's -1..1 range. Level 2
// (emergency) needs retry parameters and is not used.
func pushoverPriority(a alert.Alert) string {
	if a.IsResolution() {
		return "-1"
	}
	switch a.Priority {
	case alert.PriorityCritical, alert.PriorityHigh:
		return "1"
	case alert.PriorityMedium:
		return "0"
	default:
		return "-1"
	}
}
