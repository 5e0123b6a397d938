package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/obsidianstack/sentinel/internal/alert"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultInterval          = 30 * time.Second
	DefaultCheckTimeout      = 10 * time.Second
	DefaultHandleTimeout     = 30 * time.Second
	DefaultSuppressionWindow = 60 * time.Second
	DefaultSendTimeout       = 10 * time.Second
	DefaultIdempotencyWindow = 10 * time.Minute
	DefaultActionTimeout     = 30 * time.Second
	DefaultHTTPAddr          = ":8080"
	DefaultStreamInterval    = 5 * time.Second
	DefaultJournalSize       = 200
	DefaultNATSSubject       = "sentinel.alerts"
	DefaultActionSubject     = "sentinel.actions"
	DefaultLedgerPrefix      = "sentinel:action:"
)

// Config is the top-level sentinel configuration.
type Config struct {
	Monitor  MonitorConfig  `yaml:"monitor"`
	Checks   []Check        `yaml:"checks"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Actions  ActionsConfig  `yaml:"actions"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	NATS     NATSConfig     `yaml:"nats"`
	Redis    RedisConfig    `yaml:"redis"`
}

// MonitorConfig controls the sampling loop.
type MonitorConfig struct {
	// Interval is the sleep between two cycles.
	Interval time.Duration `yaml:"interval"`

	// CheckTimeout bounds a single health check.
	CheckTimeout time.Duration `yaml:"check_timeout"`

	// HandleTimeout bounds dispatch and each callback for one alert.
	HandleTimeout time.Duration `yaml:"handle_timeout"`
}

// Check describes one health check and the rules evaluated against its sample.
type Check struct {
	// Name is the alert source for everything this check raises.
	Name string `yaml:"name"`

	// Type is one of: host | prometheus | http | tls.
	Type string `yaml:"type"`

	// Endpoint is the URL scraped (prometheus), probed (http) or dialled (tls).
	Endpoint string `yaml:"endpoint"`

	// Path is the filesystem path whose usage feeds disk_pct (host only).
	Path string `yaml:"path"`

	Timeout time.Duration `yaml:"timeout"`
	Auth    AuthConfig    `yaml:"auth"`
	TLS     TLSConfig     `yaml:"tls"`
	Rules   []Rule        `yaml:"rules"`
}

// Rule raises an alert while Condition holds for the check's latest sample.
type Rule struct {
	Name string `yaml:"name"`

	// Condition is "<field> <op> <value>", e.g. "cpu_pct > 90".
	Condition string `yaml:"condition"`

	// Priority is one of: low | medium | high | critical.
	Priority string `yaml:"priority"`

	// Message overrides the default "<name>: <condition>" text.
	Message string `yaml:"message"`

	// Channels is the optional channel hint for alerts from this rule.
	Channels []string `yaml:"channels"`
}

// AuthConfig specifies how a check authenticates to its endpoint.
type AuthConfig struct {
	// Mode is one of: apikey | bearer | basic | none.
	Mode string `yaml:"mode"`

	Header      string `yaml:"header"`
	KeyEnv      string `yaml:"key_env"`
	TokenEnv    string `yaml:"token_env"`
	Username    string `yaml:"username"`
	PasswordEnv string `yaml:"password_env"`
}

// Key returns the API key value resolved from the environment.
func (a AuthConfig) Key() string { return env(a.KeyEnv) }

// Token returns the bearer token value resolved from the environment.
func (a AuthConfig) Token() string { return env(a.TokenEnv) }

// Password returns the basic-auth password resolved from the environment.
func (a AuthConfig) Password() string { return env(a.PasswordEnv) }

// TLSConfig holds per-check TLS dial options.
type TLSConfig struct {
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// DispatchConfig configures notification channels and suppression.
type DispatchConfig struct {
	// DefaultChannels is used for alerts without a channel hint.
	DefaultChannels []string `yaml:"default_channels"`

	// SuppressionWindow is how long an identical alert is not redelivered.
	SuppressionWindow time.Duration `yaml:"suppression_window"`

	// SourceWindows overrides SuppressionWindow per alert source.
	SourceWindows map[string]time.Duration `yaml:"source_windows"`

	// SendTimeout bounds one delivery attempt on one channel.
	SendTimeout time.Duration `yaml:"send_timeout"`

	Email    EmailConfig     `yaml:"email"`
	Pushover PushoverConfig  `yaml:"pushover"`
	Webhooks []WebhookConfig `yaml:"webhooks"`

	// NATSSubject is the subject prefix for the nats channel; the alert
	// priority is appended.
	NATSSubject string `yaml:"nats_subject"`
}

// WindowFor returns the suppression window that applies to source.
func (d DispatchConfig) WindowFor(source string) time.Duration {
	if w, ok := d.SourceWindows[source]; ok {
		return w
	}
	return d.SuppressionWindow
}

// EmailConfig configures the SMTP channel. Host empty disables it.
type EmailConfig struct {
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	From        string   `yaml:"from"`
	To          []string `yaml:"to"`
	Username    string   `yaml:"username"`
	PasswordEnv string   `yaml:"password_env"`
}

// Password returns the SMTP password resolved from the environment.
func (e EmailConfig) Password() string { return env(e.PasswordEnv) }

// Enabled reports whether enough is configured to send mail.
func (e EmailConfig) Enabled() bool { return e.Host != "" && len(e.To) > 0 }

// PushoverConfig configures the push channel. Both env vars must resolve.
type PushoverConfig struct {
	TokenEnv string `yaml:"token_env"`
	UserEnv  string `yaml:"user_env"`
	Endpoint string `yaml:"endpoint"`
}

func (p PushoverConfig) Token() string { return env(p.TokenEnv) }
func (p PushoverConfig) User() string  { return env(p.UserEnv) }

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: teams | slack | pagerduty | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable holding the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string { return env(w.URLEnv) }

// ActionsConfig configures the remediation engine.
type ActionsConfig struct {
	// IdempotencyWindow is how long the action created for an alert ID is
	// remembered.
	IdempotencyWindow time.Duration `yaml:"idempotency_window"`

	// AutoRemediable lists the sources whose MEDIUM alerts still get an action.
	AutoRemediable []string `yaml:"auto_remediable"`

	// Rules map alert sources to action types. Exact matches win over prefixes.
	Rules []ActionRule `yaml:"rules"`

	// Timeout bounds one executor call.
	Timeout time.Duration `yaml:"timeout"`

	Executor ExecutorConfig `yaml:"executor"`

	// Routes overrides Executor per action type (restart, scale, ...).
	Routes map[string]ExecutorConfig `yaml:"routes"`

	Ledger LedgerConfig `yaml:"ledger"`
}

// ActionRule maps a source (exact) or source prefix to an action type.
type ActionRule struct {
	Source string `yaml:"source"`
	Prefix string `yaml:"prefix"`

	// Type is one of: restart | notify_human | scale | throttle | no_op.
	Type string `yaml:"type"`
}

// ExecutorConfig selects how actions are carried out.
type ExecutorConfig struct {
	// Type is one of: log | http | nats.
	Type string `yaml:"type"`

	// Endpoint is the URL actions are POSTed to (http).
	Endpoint string `yaml:"endpoint"`

	// Subject is the request subject prefix (nats); the action type is appended.
	Subject string `yaml:"subject"`
}

// LedgerConfig selects where created actions are remembered.
type LedgerConfig struct {
	// Backend is one of: memory | redis.
	Backend string `yaml:"backend"`

	// KeyPrefix namespaces ledger keys in redis.
	KeyPrefix string `yaml:"key_prefix"`
}

// ServerConfig configures the HTTP status API.
type ServerConfig struct {
	// HTTPAddr is the listen address; empty disables the server.
	HTTPAddr string `yaml:"http_addr"`

	Auth ServerAuthConfig `yaml:"auth"`

	// StreamInterval is how often the websocket hub pushes a status snapshot.
	StreamInterval time.Duration `yaml:"stream_interval"`

	// JournalSize is how many recent alerts and actions are kept for the API.
	JournalSize int `yaml:"journal_size"`
}

// ServerAuthConfig configures REST API authentication.
type ServerAuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	KeyEnv string `yaml:"key_env"`

	// Header defaults to X-API-Key.
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a ServerAuthConfig) Key() string { return env(a.KeyEnv) }

// EffectiveHeader returns the configured header name, or the default "X-API-Key".
func (a ServerAuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "X-API-Key"
}

// LogConfig controls the process logger.
type LogConfig struct {
	// Level is one of: debug | info | warn | error | critical.
	Level string `yaml:"level"`

	// Format is one of: json | text.
	Format string `yaml:"format"`

	// Output is one of: stdout | stderr | file | both.
	Output string `yaml:"output"`

	File LogFileConfig `yaml:"file"`
}

// LogFileConfig configures size-based rotation of the log file.
type LogFileConfig struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// NATSConfig configures the shared NATS connection. URL empty disables NATS.
type NATSConfig struct {
	URL  string `yaml:"url"`
	Name string `yaml:"name"`
}

// RedisConfig configures the redis client used by the redis ledger.
type RedisConfig struct {
	Addr        string `yaml:"addr"`
	PasswordEnv string `yaml:"password_env"`
	DB          int    `yaml:"db"`
}

// Password returns the redis password resolved from the environment.
func (r RedisConfig) Password() string { return env(r.PasswordEnv) }

// ActionTypes lists the action type names accepted in rules and routes.
var ActionTypes = []string{"restart", "notify_human", "scale", "throttle", "no_op"}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with sensible defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}
	return Parse(data)
}

// Parse applies defaults to data, unmarshals it and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Monitor: MonitorConfig{
			Interval:      DefaultInterval,
			CheckTimeout:  DefaultCheckTimeout,
			HandleTimeout: DefaultHandleTimeout,
		},
		Dispatch: DispatchConfig{
			DefaultChannels:   []string{string(alert.ChannelLog)},
			SuppressionWindow: DefaultSuppressionWindow,
			SendTimeout:       DefaultSendTimeout,
			NATSSubject:       DefaultNATSSubject,
		},
		Actions: ActionsConfig{
			IdempotencyWindow: DefaultIdempotencyWindow,
			Timeout:           DefaultActionTimeout,
			Executor:          ExecutorConfig{Type: "log"},
			Ledger:            LedgerConfig{Backend: "memory", KeyPrefix: DefaultLedgerPrefix},
		},
		Server: ServerConfig{
			HTTPAddr:       DefaultHTTPAddr,
			StreamInterval: DefaultStreamInterval,
			JournalSize:    DefaultJournalSize,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
			File: LogFileConfig{
				MaxSizeMB:  500,
				MaxBackups: 10,
				MaxAgeDays: 10,
			},
		},
		NATS: NATSConfig{Name: "sentinel"},
	}
}

// validate collects every structural problem instead of stopping at the first.
func validate(cfg *Config) error {
	var err error
	add := func(format string, args ...any) {
		err = multierr.Append(err, fmt.Errorf(format, args...))
	}

	if cfg.Monitor.Interval <= 0 {
		add("monitor.interval must be positive")
	}
	if cfg.Monitor.CheckTimeout <= 0 {
		add("monitor.check_timeout must be positive")
	}
	if cfg.Monitor.HandleTimeout <= 0 {
		add("monitor.handle_timeout must be positive")
	}

	names := make(map[string]bool, len(cfg.Checks))
	for i, c := range cfg.Checks {
		if c.Name == "" {
			add("checks[%d]: name is required", i)
		} else if names[c.Name] {
			add("checks[%d]: duplicate name %q", i, c.Name)
		}
		names[c.Name] = true

		switch c.Type {
		case "host":
		case "prometheus", "http", "tls":
			if c.Endpoint == "" {
				add("checks[%d] %q: endpoint is required for type %s", i, c.Name, c.Type)
			}
		default:
			add("checks[%d] %q: unknown type %q: want host|prometheus|http|tls", i, c.Name, c.Type)
		}
		switch c.Auth.Mode {
		case "apikey", "bearer", "basic", "none", "":
		default:
			add("checks[%d] %q: unknown auth mode %q", i, c.Name, c.Auth.Mode)
		}
		if len(c.Rules) == 0 {
			add("checks[%d] %q: at least one rule is required", i, c.Name)
		}
		for j, r := range c.Rules {
			if r.Name == "" {
				add("checks[%d].rules[%d]: name is required", i, j)
			}
			if len(strings.Fields(r.Condition)) != 3 {
				add("checks[%d].rules[%d] %q: condition %q: want \"<field> <op> <value>\"", i, j, r.Name, r.Condition)
			}
			if _, perr := alert.ParsePriority(r.Priority); perr != nil {
				add("checks[%d].rules[%d] %q: %v", i, j, r.Name, perr)
			}
			if _, cerr := alert.ParseChannels(r.Channels); cerr != nil {
				add("checks[%d].rules[%d] %q: %v", i, j, r.Name, cerr)
			}
		}
	}

	if _, cerr := alert.ParseChannels(cfg.Dispatch.DefaultChannels); cerr != nil {
		add("dispatch.default_channels: %v", cerr)
	}
	if cfg.Dispatch.SuppressionWindow < 0 {
		add("dispatch.suppression_window must not be negative")
	}
	for src, w := range cfg.Dispatch.SourceWindows {
		if w < 0 {
			add("dispatch.source_windows[%q] must not be negative", src)
		}
	}
	if cfg.Dispatch.SendTimeout <= 0 {
		add("dispatch.send_timeout must be positive")
	}
	for i, wh := range cfg.Dispatch.Webhooks {
		switch wh.Type {
		case "teams", "slack", "pagerduty", "http":
		default:
			add("dispatch.webhooks[%d]: unknown type %q: want teams|slack|pagerduty|http", i, wh.Type)
		}
	}

	if cfg.Actions.IdempotencyWindow <= 0 {
		add("actions.idempotency_window must be positive")
	}
	if cfg.Actions.Timeout <= 0 {
		add("actions.timeout must be positive")
	}
	for i, r := range cfg.Actions.Rules {
		if (r.Source == "") == (r.Prefix == "") {
			add("actions.rules[%d]: exactly one of source or prefix is required", i)
		}
		if !knownActionType(r.Type) {
			add("actions.rules[%d]: unknown type %q", i, r.Type)
		}
	}
	if verr := validateExecutor("actions.executor", cfg.Actions.Executor); verr != nil {
		err = multierr.Append(err, verr)
	}
	for typ, ex := range cfg.Actions.Routes {
		if !knownActionType(typ) {
			add("actions.routes: unknown action type %q", typ)
		}
		if verr := validateExecutor("actions.routes."+typ, ex); verr != nil {
			err = multierr.Append(err, verr)
		}
	}
	if cfg.NATS.URL == "" && cfg.usesNATSExecutor() {
		add("actions: nats executor requires nats.url")
	}
	switch cfg.Actions.Ledger.Backend {
	case "memory":
	case "redis":
		if cfg.Redis.Addr == "" {
			add("actions.ledger: backend redis requires redis.addr")
		}
	default:
		add("actions.ledger.backend %q unknown: want memory|redis", cfg.Actions.Ledger.Backend)
	}

	switch cfg.Server.Auth.Mode {
	case "apikey", "none", "":
	default:
		add("server.auth.mode %q unknown: want apikey|none", cfg.Server.Auth.Mode)
	}
	if cfg.Server.StreamInterval <= 0 {
		add("server.stream_interval must be positive")
	}
	if cfg.Server.JournalSize <= 0 {
		add("server.journal_size must be positive")
	}

	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "warning", "error", "critical":
	default:
		add("log.level %q unknown: want debug|info|warn|error|critical", cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "json", "text":
	default:
		add("log.format %q unknown: want json|text", cfg.Log.Format)
	}
	switch cfg.Log.Output {
	case "stdout", "stderr":
	case "file", "both":
		if cfg.Log.File.Path == "" {
			add("log.file.path is required when log.output is %s", cfg.Log.Output)
		}
	default:
		add("log.output %q unknown: want stdout|stderr|file|both", cfg.Log.Output)
	}

	return err
}

func validateExecutor(field string, ex ExecutorConfig) error {
	switch ex.Type {
	case "log":
	case "http":
		if ex.Endpoint == "" {
			return fmt.Errorf("%s: endpoint is required for type http", field)
		}
	case "nats":
	default:
		return fmt.Errorf("%s: unknown type %q: want log|http|nats", field, ex.Type)
	}
	return nil
}

func (c *Config) usesNATSExecutor() bool {
	if c.Actions.Executor.Type == "nats" {
		return true
	}
	for _, ex := range c.Actions.Routes {
		if ex.Type == "nats" {
			return true
		}
	}
	return false
}

func knownActionType(s string) bool {
	for _, t := range ActionTypes {
		if strings.EqualFold(s, t) {
			return true
		}
	}
	return false
}

func env(name string) string {
	if name == "" {
		return ""
	}
	return os.Getenv(name)
}
