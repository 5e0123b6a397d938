package dispatch

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/obsidianstack/sentinel/internal/alert"
)

// Email sends alerts as plain-text mail over SMTP. STARTTLS is used when the
// server offers it; PLAIN auth when Username is set.
type Email struct {
	Host     string
	Port     int
	From     string
	To       []string
	Username string
	Password string
}

func (Email) Channel() alert.Channel { return alert.ChannelEmail }

func (e Email) Send(ctx context.Context, a alert.Alert) error {
	if len(e.To) == 0 {
		return fmt.Errorf("email: no recipients")
	}
	m, err := e.message(a)
	if err != nil {
		return err
	}

	port := e.Port
	if port == 0 {
		port = 25
	}
	opts := []mail.Option{
		mail.WithTLSPolicy(mail.TLSOpportunistic),
		mail.WithPort(port),
	}
	if e.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(e.Username),
			mail.WithPassword(e.Password),
		)
	}
	c, err := mail.NewClient(e.Host, opts...)
	if err != nil {
		return fmt.Errorf("email: client: %w", err)
	}
	if err := c.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("email: send via %s:%d: %w", e.Host, port, err)
	}
	return nil
}

// message builds the mail for a. Header values pass through headerText and
// go-mail's RFC 2047 encoder; addresses are parsed, so neither alert text nor
// configuration can add header lines.
func (e Email) message(a alert.Alert) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(e.From); err != nil {
		return nil, fmt.Errorf("email: from %q: %w", e.From, err)
	}
	if err := m.To(e.To...); err != nil {
		return nil, fmt.Errorf("email: to: %w", err)
	}
	m.Subject(headerText(fmt.Sprintf("%s %s: %s", priorityLabel(a), a.Source, a.Message)))
	m.SetDateWithValue(a.RaisedAt)
	m.SetMessageID()
	m.SetGenHeader(mail.Header("X-Sentinel-Alert-Id"), headerText(a.ID))
	if a.Priority >= alert.PriorityHigh {
		m.SetImportance(mail.ImportanceHigh)
	}
	m.SetBodyString(mail.TypeTextPlain, body(a))
	return m, nil
}

// headerText folds CR, LF and runs of whitespace into single spaces.
func headerText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func body(a alert.Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", a.Message)
	fmt.Fprintf(&b, "Alert:    %s\n", a.ID)
	fmt.Fprintf(&b, "Source:   %s\n", a.Source)
	fmt.Fprintf(&b, "Priority: %s\n", a.Priority)
	fmt.Fprintf(&b, "Raised:   %s\n", a.RaisedAt.Format(time.RFC3339))
	if a.ResolvesID != "" {
		fmt.Fprintf(&b, "Resolves: %s\n", a.ResolvesID)
	}
	if len(a.Context) > 0 {
		b.WriteString("\nContext:\n")
		keys := make([]string, 0, len(a.Context))
		for k := range a.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "  %s: %v\n", k, a.Context[k])
		}
	}
	return b.String()
}
