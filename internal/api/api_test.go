package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/obsidianstack/sentinel/internal/action"
	"github.com/obsidianstack/sentinel/internal/alert"
	"github.com/obsidianstack/sentinel/internal/api"
	"github.com/obsidianstack/sentinel/internal/journal"
	"github.com/obsidianstack/sentinel/internal/metrics"
	"github.com/obsidianstack/sentinel/internal/monitor"
)

// --- test helpers -----------------------------------------------------------

type fakeDaemon struct{ state monitor.State }

func (f fakeDaemon) State() monitor.State { return f.state }

func running() fakeDaemon {
	return fakeDaemon{state: monitor.State{Running: true, CycleCount: 4, Interval: "30s"}}
}

func newHandler(opts api.Options) *api.Handler {
	if opts.Daemon == nil {
		opts.Daemon = running()
	}
	return api.New(opts)
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode JSON: %v (body: %s)", err, rr.Body.String())
	}
}

func ok(context.Context) error   { return nil }
func down(context.Context) error { return errors.New("connection refused") }

// --- /health ----------------------------------------------------------------

func TestHealth_AllServicesUp(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start
	h := newHandler(api.Options{
		Version: "1.2.3",
		Probes:  map[string]api.Probe{"redis": ok},
		Now:     func() time.Time { return now },
	})
	now = start.Add(90 * time.Second)

	rr := get(t, h, "/health")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	var resp api.HealthResponse
	decode(t, rr, &resp)

	if resp.Status != api.StateHealthy {
		t.Errorf("status: got %q, want healthy", resp.Status)
	}
	if resp.Version != "1.2.3" {
		t.Errorf("version: got %q, want 1.2.3", resp.Version)
	}
	if resp.UptimeSeconds != 90 {
		t.Errorf("uptime_seconds: got %d, want 90", resp.UptimeSeconds)
	}
	if !resp.Services[api.ServiceDaemon] || !resp.Services["redis"] {
		t.Errorf("services: got %v, want all true", resp.Services)
	}
	if len(resp.Issues) != 0 {
		t.Errorf("issues: got %v, want none", resp.Issues)
	}
}

func TestHealth_OneFailingServiceDegrades(t *testing.T) {
	h := newHandler(api.Options{Probes: map[string]api.Probe{"nats": down, "redis": ok}})
	rr := get(t, h, "/health")

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	var resp api.HealthResponse
	decode(t, rr, &resp)
	if resp.Status != api.StateDegraded {
		t.Errorf("status: got %q, want degraded", resp.Status)
	}
	if len(resp.Issues) != 1 || resp.Issues[0] != "nats" {
		t.Errorf("issues: got %v, want [nats]", resp.Issues)
	}
}

func TestHealth_StoppedDaemonAndProbeUnhealthy(t *testing.T) {
	h := newHandler(api.Options{
		Daemon: fakeDaemon{},
		Probes: map[string]api.Probe{"redis": down},
	})
	rr := get(t, h, "/health")

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status: got %d, want 503", rr.Code)
	}
	var resp api.HealthResponse
	decode(t, rr, &resp)
	if resp.Status != api.StateUnhealthy {
		t.Errorf("status: got %q, want unhealthy", resp.Status)
	}
	want := []string{api.ServiceDaemon, "redis"}
	if fmt.Sprint(resp.Issues) != fmt.Sprint(want) {
		t.Errorf("issues: got %v, want %v", resp.Issues, want)
	}
}

func TestHealth_MethodNotAllowed(t *testing.T) {
	h := newHandler(api.Options{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/health", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("status: got %d, want 405", rr.Code)
	}
}

// --- /proactive/status ------------------------------------------------------

func TestStatus_IncludesDaemonAndJournal(t *testing.T) {
	j := journal.New(10)
	j.OnAlert(context.Background(), alert.New(alert.PriorityHigh, "db_pool", "pool exhausted", nil)) //nolint:errcheck
	j.RecordAction(action.Action{ID: "a1", Status: action.StatusSucceeded})
	j.RecordAction(action.Action{ID: "a2", Status: action.StatusSkipped})

	h := newHandler(api.Options{Journal: j})
	rr := get(t, h, "/proactive/status")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	var resp api.StatusResponse
	decode(t, rr, &resp)

	if !resp.Daemon.Running {
		t.Error("daemon.running: got false, want true")
	}
	if resp.Daemon.CycleCount != 4 {
		t.Errorf("daemon.cycle_count: got %d, want 4", resp.Daemon.CycleCount)
	}
	if resp.AlertsRecorded != 1 {
		t.Errorf("alerts_recorded: got %d, want 1", resp.AlertsRecorded)
	}
	if resp.Actions["succeeded"] != 1 || resp.Actions["skipped"] != 1 {
		t.Errorf("actions: got %v", resp.Actions)
	}
	if resp.GeneratedAt == "" {
		t.Error("generated_at: missing")
	}
}

func TestStatus_WithoutJournal(t *testing.T) {
	h := newHandler(api.Options{})
	st := h.Status()
	if st.AlertsRecorded != 0 || len(st.Actions) != 0 {
		t.Errorf("got %+v, want empty counters", st)
	}
}

// --- /proactive/alerts and /proactive/actions -------------------------------

func TestAlerts_NewestFirstWithLimit(t *testing.T) {
	j := journal.New(0)
	for i := 0; i < 5; i++ {
		j.OnAlert(context.Background(), alert.New(alert.PriorityMedium, "svc", fmt.Sprintf("m%d", i), nil)) //nolint:errcheck
	}
	h := newHandler(api.Options{Journal: j})

	rr := get(t, h, "/proactive/alerts?limit=2")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	var resp api.AlertsResponse
	decode(t, rr, &resp)
	if resp.Count != 2 || len(resp.Alerts) != 2 {
		t.Fatalf("count: got %d, want 2", resp.Count)
	}
	if resp.Alerts[0].Message != "m4" {
		t.Errorf("alerts[0]: got %q, want m4", resp.Alerts[0].Message)
	}
	if resp.Alerts[0].Priority != alert.PriorityMedium {
		t.Errorf("priority: got %v, want MEDIUM", resp.Alerts[0].Priority)
	}
}

func TestAlerts_DefaultLimit(t *testing.T) {
	j := journal.New(0)
	for i := 0; i < 60; i++ {
		j.OnAlert(context.Background(), alert.New(alert.PriorityLow, "svc", "x", nil)) //nolint:errcheck
	}
	h := newHandler(api.Options{Journal: j})

	var resp api.AlertsResponse
	decode(t, get(t, h, "/proactive/alerts"), &resp)
	if resp.Count != 50 {
		t.Errorf("count: got %d, want 50", resp.Count)
	}
}

func TestAlerts_BadLimit(t *testing.T) {
	h := newHandler(api.Options{Journal: journal.New(0)})
	for _, q := range []string{"abc", "0", "-3"} {
		rr := get(t, h, "/proactive/alerts?limit="+q)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("limit=%s: got %d, want 400", q, rr.Code)
		}
	}
}

func TestAlerts_NoJournal(t *testing.T) {
	h := newHandler(api.Options{})
	if rr := get(t, h, "/proactive/alerts"); rr.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want 404", rr.Code)
	}
}

func TestActions_List(t *testing.T) {
	j := journal.New(0)
	j.RecordAction(action.Action{ID: "a1", Type: action.TypeRestart, Priority: alert.PriorityHigh, Status: action.StatusPending})
	j.RecordAction(action.Action{ID: "a1", Type: action.TypeRestart, Priority: alert.PriorityHigh, Status: action.StatusSucceeded})
	h := newHandler(api.Options{Journal: j})

	var resp api.ActionsResponse
	decode(t, get(t, h, "/proactive/actions"), &resp)
	if resp.Count != 1 {
		t.Fatalf("count: got %d, want 1", resp.Count)
	}
	if resp.Actions[0].Status != action.StatusSucceeded {
		t.Errorf("status: got %s, want succeeded", resp.Actions[0].Status)
	}
}

func TestActions_MethodNotAllowed(t *testing.T) {
	h := newHandler(api.Options{Journal: journal.New(0)})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/proactive/actions", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("status: got %d, want 405", rr.Code)
	}
}

// --- /proactive/metrics -----------------------------------------------------

func TestMetrics_TextFormat(t *testing.T) {
	reg := metrics.NewRegistry()
	reg.Inc(metrics.CyclesTotal)
	reg.Inc(metrics.CyclesTotal)
	h := newHandler(api.Options{Metrics: reg})

	rr := get(t, h, "/proactive/metrics")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content-type: got %q, want text/plain", ct)
	}
	if !strings.Contains(rr.Body.String(), "sentinel_cycles_total 2") {
		t.Errorf("body missing counter:\n%s", rr.Body.String())
	}
}

func TestMetrics_Disabled(t *testing.T) {
	h := newHandler(api.Options{})
	if rr := get(t, h, "/proactive/metrics"); rr.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want 404", rr.Code)
	}
}

// --- /proactive/stream ------------------------------------------------------

func TestStream_Mounted(t *testing.T) {
	called := false
	stream := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusTeapot)
	})
	h := newHandler(api.Options{Stream: stream})
	if rr := get(t, h, "/proactive/stream"); rr.Code != http.StatusTeapot || !called {
		t.Errorf("stream handler not reached: code %d", rr.Code)
	}
}

// --- RequireAPIKey ----------------------------------------------------------

func TestRequireAPIKey(t *testing.T) {
	h := api.RequireAPIKey("apikey", "X-API-Key", "s3cret", newHandler(api.Options{}))

	tests := []struct {
		name string
		path string
		key  string
		want int
	}{
		{"missing key", "/proactive/status", "", http.StatusUnauthorized},
		{"wrong key", "/proactive/status", "nope", http.StatusUnauthorized},
		{"valid key", "/proactive/status", "s3cret", http.StatusOK},
		{"health is open", "/health", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.key != "" {
				req.Header.Set("X-API-Key", tt.key)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			if rr.Code != tt.want {
				t.Errorf("status: got %d, want %d", rr.Code, tt.want)
			}
		})
	}
}

func TestRequireAPIKey_PassThrough(t *testing.T) {
	for _, mode := range []string{"none", ""} {
		h := api.RequireAPIKey(mode, "X-API-Key", "s3cret", newHandler(api.Options{}))
		if rr := get(t, h, "/proactive/status"); rr.Code != http.StatusOK {
			t.Errorf("mode %q: got %d, want 200", mode, rr.Code)
		}
	}
	h := api.RequireAPIKey("apikey", "X-API-Key", "", newHandler(api.Options{}))
	if rr := get(t, h, "/proactive/status"); rr.Code != http.StatusOK {
		t.Errorf("empty key: got %d, want 200", rr.Code)
	}
}
