package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/obsidianstack/sentinel/internal/alert"
	"github.com/obsidianstack/sentinel/internal/config"
	"github.com/obsidianstack/sentinel/internal/metrics"
	"github.com/obsidianstack/sentinel/internal/window"
)

// Sender delivers an alert over one channel. Send may fail or panic; either
// counts as a failed attempt for that sender only.
type Sender interface {
	Channel() alert.Channel
	Send(ctx context.Context, a alert.Alert) error
}

// Delivery is the outcome of one sender attempt.
type Delivery struct {
	Channel alert.Channel `json:"channel"`
	Err     error         `json:"-"`
}

// Report summarises one Dispatch call.
type Report struct {
	Suppressed bool
	Deliveries []Delivery
}

// Delivered counts successful attempts.
func (r Report) Delivered() int {
	n := 0
	for _, d := range r.Deliveries {
		if d.Err == nil {
			n++
		}
	}
	return n
}

// policy is the hot-swappable part of the dispatcher configuration.
type policy struct {
	defaults []alert.Channel
	cfg      config.DispatchConfig
}

// Dispatcher fans alerts out to registered senders and suppresses repeats of
// the same signature inside the per-source suppression window.
//
// Dispatcher is safe for concurrent use.
type Dispatcher struct {
	policy  atomic.Pointer[policy]
	timeout time.Duration

	mu      sync.RWMutex
	senders map[alert.Channel][]Sender

	window  *window.Window[struct{}]
	metrics *metrics.Registry
	now     func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMetrics records delivery counters in reg.
func WithMetrics(reg *metrics.Registry) Option {
	return func(d *Dispatcher) { d.metrics = reg }
}

// WithClock replaces time.Now for window bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// New creates a Dispatcher from cfg. Senders are added with Register.
func New(cfg config.DispatchConfig, opts ...Option) (*Dispatcher, error) {
	d := &Dispatcher{
		senders: make(map[alert.Channel][]Sender),
		now:     time.Now,
	}
	if err := d.SetPolicy(cfg); err != nil {
		return nil, err
	}
	d.timeout = cfg.SendTimeout
	if d.timeout <= 0 {
		d.timeout = config.DefaultSendTimeout
	}
	d.window = window.New[struct{}]("suppression", cfg.SuppressionWindow)
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

// SetPolicy replaces the default channels and suppression windows. Entries
// already in the window keep the expiry they were recorded with.
func (d *Dispatcher) SetPolicy(cfg config.DispatchConfig) error {
	defaults, err := alert.ParseChannels(cfg.DefaultChannels)
	if err != nil {
		return fmt.Errorf("dispatch: default channels: %w", err)
	}
	if len(defaults) == 0 {
		defaults = []alert.Channel{alert.ChannelLog}
	}
	d.policy.Store(&policy{defaults: defaults, cfg: cfg})
	return nil
}

// Register adds s under its channel. Several senders may share a channel.
func (d *Dispatcher) Register(s Sender) {
	d.mu.Lock()
	d.senders[s.Channel()] = append(d.senders[s.Channel()], s)
	d.mu.Unlock()
}

// Channels returns the channels that have at least one sender.
func (d *Dispatcher) Channels() []alert.Channel {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]alert.Channel, 0, len(d.senders))
	for _, c := range alert.Channels {
		if len(d.senders[c]) > 0 {
			out = append(out, c)
		}
	}
	return out
}

// Dispatch delivers a to its hinted channels, or the default set when the
// hint is empty. It never returns an error; failures are logged and reported.
//
// A repeat of a signature inside its source's suppression window is not
// delivered. The window opens only when at least one sender succeeded, and
// suppressed repeats do not extend it.
func (d *Dispatcher) Dispatch(ctx context.Context, a alert.Alert) Report {
	p := d.policy.Load()
	ttl := p.cfg.WindowFor(a.Source)
	key := a.Signature()
	now := d.now()

	if _, claimed := d.window.Claim(key, struct{}{}, now, ttl); !claimed {
		slog.Debug("dispatch: suppressed duplicate alert",
			"alert_id", a.ID, "source", a.Source, "window", ttl)
		d.metrics.Inc(metrics.AlertsSuppressedTotal, "source", a.Source)
		return Report{Suppressed: true}
	}

	channels := uniqueChannels(a.Channels)
	if len(channels) == 0 {
		channels = p.defaults
	}

	var rep Report
	for _, ch := range channels {
		senders := d.sendersFor(ch)
		if len(senders) == 0 {
			slog.Warn("dispatch: no sender registered for channel",
				"channel", ch, "alert_id", a.ID)
			continue
		}
		for _, s := range senders {
			err := d.send(ctx, s, a)
			rep.Deliveries = append(rep.Deliveries, Delivery{Channel: ch, Err: err})
			if err != nil {
				slog.Error("dispatch: delivery failed",
					"channel", ch, "alert_id", a.ID, "source", a.Source, "err", err)
				d.metrics.Inc(metrics.DeliveriesTotal, "channel", string(ch), "result", "error")
				continue
			}
			d.metrics.Inc(metrics.DeliveriesTotal, "channel", string(ch), "result", "ok")
		}
	}

	if rep.Delivered() == 0 {
		d.window.Forget(key)
	}
	d.metrics.Set(metrics.SuppressionWindowsOpen, float64(d.window.Len()))
	return rep
}

// Run evicts expired suppression entries until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	d.window.Run(ctx)
}

// uniqueChannels drops repeated entries from a hint, keeping first-seen order.
func uniqueChannels(in []alert.Channel) []alert.Channel {
	out := make([]alert.Channel, 0, len(in))
	seen := make(map[alert.Channel]bool, len(in))
	for _, ch := range in {
		if !seen[ch] {
			seen[ch] = true
			out = append(out, ch)
		}
	}
	return out
}

func (d *Dispatcher) sendersFor(ch alert.Channel) []Sender {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]Sender(nil), d.senders[ch]...)
}

// send runs one attempt with its own timeout and turns a panic into an error.
func (d *Dispatcher) send(ctx context.Context, s Sender, a alert.Alert) (err error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sender panicked: %v", r)
		}
	}()
	return s.Send(ctx, a.Clone())
}
