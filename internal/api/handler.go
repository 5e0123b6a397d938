package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/prometheus/common/expfmt"

	"github.com/obsidianstack/sentinel/internal/journal"
	"github.com/obsidianstack/sentinel/internal/metrics"
	"github.com/obsidianstack/sentinel/internal/monitor"
)

const (
	defaultLimit = 50
	maxLimit     = 200
	probeTimeout = 2 * time.Second

	// ServiceDaemon is the service name /health reports for the monitor loop.
	ServiceDaemon = "monitoring_daemon"
)

// Daemon is the part of the monitor the API reads.
type Daemon interface {
	State() monitor.State
}

// Probe reports whether a dependency is reachable.
type Probe func(ctx context.Context) error

// Options wires the handler to the running components. Journal, Metrics and
// Stream may be nil; the matching routes then answer 404.
type Options struct {
	Daemon  Daemon
	Journal *journal.Journal
	Metrics *metrics.Registry
	Stream  http.Handler
	Version string

	// Probes are extra services listed under /health, keyed by name.
	Probes map[string]Probe

	Now func() time.Time
}

// Handler serves the proactive monitoring REST API.
type Handler struct {
	opts    Options
	started time.Time
	mux     *http.ServeMux
}

// New creates a Handler and registers all routes.
func New(opts Options) *Handler {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	h := &Handler{opts: opts, started: opts.Now(), mux: http.NewServeMux()}
	h.mux.HandleFunc("/health", h.handleHealth)
	h.mux.HandleFunc("/proactive/status", h.handleStatus)
	h.mux.HandleFunc("/proactive/alerts", h.handleAlerts)
	h.mux.HandleFunc("/proactive/actions", h.handleActions)
	h.mux.HandleFunc("/proactive/metrics", h.handleMetrics)
	if opts.Stream != nil {
		h.mux.Handle("/proactive/stream", opts.Stream)
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// Status builds the payload of /proactive/status. The websocket hub pushes
// the same value.
func (h *Handler) Status() StatusResponse {
	resp := StatusResponse{
		Daemon:      h.opts.Daemon.State(),
		Actions:     map[string]int{},
		GeneratedAt: h.opts.Now().UTC().Format(time.RFC3339),
	}
	if j := h.opts.Journal; j != nil {
		resp.AlertsRecorded = j.AlertCount()
		for st, n := range j.ActionCounts() {
			resp.Actions[string(st)] = n
		}
	}
	return resp
}

// GET /health
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	now := h.opts.Now()
	resp := HealthResponse{
		Version:       h.opts.Version,
		Timestamp:     now.UTC().Format(time.RFC3339),
		UptimeSeconds: int64(now.Sub(h.started).Seconds()),
		Services:      map[string]bool{ServiceDaemon: h.opts.Daemon.State().Running},
	}

	names := make([]string, 0, len(h.opts.Probes))
	for name := range h.opts.Probes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
		err := h.opts.Probes[name](ctx)
		cancel()
		if err != nil {
			slog.Warn("api: health probe failed", "service", name, "err", err)
		}
		resp.Services[name] = err == nil
	}

	for _, name := range append([]string{ServiceDaemon}, names...) {
		if !resp.Services[name] {
			resp.Issues = append(resp.Issues, name)
		}
	}
	resp.Status = healthState(len(resp.Issues))

	code := http.StatusOK
	if resp.Status == StateUnhealthy {
		code = http.StatusServiceUnavailable
	}
	jsonResp(w, code, resp)
}

// GET /proactive/status
func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, h.Status())
}

// GET /proactive/alerts?limit=N
func (h *Handler) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.opts.Journal == nil {
		jsonErr(w, http.StatusNotFound, "journal disabled")
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	alerts := h.opts.Journal.Alerts(limit)
	jsonResp(w, http.StatusOK, AlertsResponse{Alerts: alerts, Count: len(alerts)})
}

// GET /proactive/actions?limit=N
func (h *Handler) handleActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.opts.Journal == nil {
		jsonErr(w, http.StatusNotFound, "journal disabled")
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	actions := h.opts.Journal.Actions(limit)
	jsonResp(w, http.StatusOK, ActionsResponse{Actions: actions, Count: len(actions)})
}

// GET /proactive/metrics
func (h *Handler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.opts.Metrics == nil {
		jsonErr(w, http.StatusNotFound, "metrics disabled")
		return
	}
	w.Header().Set("Content-Type", string(expfmt.NewFormat(expfmt.TypeTextPlain)))
	w.WriteHeader(http.StatusOK)
	if err := h.opts.Metrics.WriteText(w); err != nil {
		slog.Warn("api: write metrics failed", "err", err)
	}
}

// healthState maps the number of failing services to a state: one failing
// service degrades, two or more make the process unhealthy.
func healthState(failing int) string {
	switch {
	case failing == 0:
		return StateHealthy
	case failing == 1:
		return StateDegraded
	default:
		return StateUnhealthy
	}
}

// parseLimit reads ?limit. It writes a 400 and returns false when the value is
// not a positive integer.
func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		jsonErr(w, http.StatusBadRequest, "limit must be a positive integer")
		return 0, false
	}
	if n > maxLimit {
		n = maxLimit
	}
	return n, true
}

func jsonResp(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
