package action

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/obsidianstack/sentinel/internal/config"
)

// Executor carries out an action. A returned error marks the action FAILED.
type Executor interface {
	Execute(ctx context.Context, a Action) (Result, error)
}

// ExecutorFunc adapts a plain function to Executor.
type ExecutorFunc func(ctx context.Context, a Action) (Result, error)

func (f ExecutorFunc) Execute(ctx context.Context, a Action) (Result, error) { return f(ctx, a) }

// LogExecutor logs the action and reports success without doing anything.
type LogExecutor struct {
	Logger *slog.Logger
}

func (e LogExecutor) Execute(ctx context.Context, a Action) (Result, error) {
	l := e.Logger
	if l == nil {
		l = slog.Default()
	}
	l.InfoContext(ctx, "action: dry run",
		"action_id", a.ID, "type", a.Type, "source", a.Source, "alert_id", a.SourceAlertID)
	return Result{"dry_run": true}, nil
}

// HTTPExecutor POSTs the action as JSON. Any 2xx response is success and a
// JSON object body becomes the Result.
type HTTPExecutor struct {
	Endpoint string
	Client   *http.Client
}

func (e HTTPExecutor) Execute(ctx context.Context, a Action) (Result, error) {
	body, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("encode action: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", a.SourceAlertID)

	client := e.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("executor returned HTTP %d", resp.StatusCode)
	}
	var res Result
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &res); err != nil {
			return Result{"body": string(raw)}, nil
		}
	}
	return res, nil
}

// Requester is the part of *nats.Conn the NATS executor needs.
type Requester interface {
	RequestWithContext(ctx context.Context, subj string, data []byte) (*nats.Msg, error)
}

// NATSExecutor sends the action as a request on "<Subject>.<type>" and waits
// for a reply of the form {"ok": bool, "error": string, "result": {...}}.
type NATSExecutor struct {
	Conn    Requester
	Subject string
}

type natsReply struct {
	OK     bool   `json:"ok"`
	Error  string `json:"error"`
	Result Result `json:"result"`
}

func (e NATSExecutor) Execute(ctx context.Context, a Action) (Result, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("encode action: %w", err)
	}
	subj := e.Subject + "." + string(a.Type)
	msg, err := e.Conn.RequestWithContext(ctx, subj, data)
	if err != nil {
		return nil, fmt.Errorf("nats request %s: %w", subj, err)
	}
	var reply natsReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}
	if !reply.OK {
		if reply.Error == "" {
			reply.Error = "executor reported failure"
		}
		return reply.Result, errors.New(reply.Error)
	}
	return reply.Result, nil
}

// Router picks an executor by action type, falling back to Default.
type Router struct {
	Routes  map[Type]Executor
	Default Executor
}

func (r Router) Execute(ctx context.Context, a Action) (Result, error) {
	if ex, ok := r.Routes[a.Type]; ok {
		return ex.Execute(ctx, a)
	}
	if r.Default == nil {
		return nil, fmt.Errorf("no executor for action type %s", a.Type)
	}
	return r.Default.Execute(ctx, a)
}

// BuildExecutor builds the executor described by cfg.Executor and
// cfg.Routes. req may be nil unless a nats executor is configured.
func BuildExecutor(cfg config.ActionsConfig, req Requester) (Executor, error) {
	def, err := buildOne(cfg.Executor, req, cfg.Timeout)
	if err != nil {
		return nil, err
	}
	if len(cfg.Routes) == 0 {
		return def, nil
	}
	r := Router{Routes: make(map[Type]Executor, len(cfg.Routes)), Default: def}
	for name, ec := range cfg.Routes {
		t, err := ParseType(name)
		if err != nil {
			return nil, fmt.Errorf("actions.routes: %w", err)
		}
		ex, err := buildOne(ec, req, cfg.Timeout)
		if err != nil {
			return nil, fmt.Errorf("actions.routes.%s: %w", name, err)
		}
		r.Routes[t] = ex
	}
	return r, nil
}

func buildOne(ec config.ExecutorConfig, req Requester, timeout time.Duration) (Executor, error) {
	switch ec.Type {
	case "", "log":
		return LogExecutor{}, nil
	case "http":
		if ec.Endpoint == "" {
			return nil, errors.New("http executor requires endpoint")
		}
		if timeout <= 0 {
			timeout = config.DefaultActionTimeout
		}
		return HTTPExecutor{Endpoint: ec.Endpoint, Client: &http.Client{Timeout: timeout}}, nil
	case "nats":
		if req == nil {
			return nil, errors.New("nats executor requires a nats connection")
		}
		subj := ec.Subject
		if subj == "" {
			subj = config.DefaultActionSubject
		}
		return NATSExecutor{Conn: req, Subject: subj}, nil
	default:
		return nil, fmt.Errorf("unknown executor type %q", ec.Type)
	}
}
