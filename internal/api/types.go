package api

import (
	"github.com/obsidianstack/sentinel/internal/action"
	"github.com/obsidianstack/sentinel/internal/alert"
	"github.com/obsidianstack/sentinel/internal/monitor"
)

// Health states reported by /health.
const (
	StateHealthy   = "healthy"
	StateDegraded  = "degraded"
	StateUnhealthy = "unhealthy"
)

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status        string          `json:"status"`
	Version       string          `json:"version"`
	Timestamp     string          `json:"timestamp"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Services      map[string]bool `json:"services"`
	Issues        []string        `json:"issues,omitempty"`
}

// StatusResponse is returned by GET /proactive/status and pushed on the
// websocket stream.
type StatusResponse struct {
	Daemon         monitor.State  `json:"daemon"`
	AlertsRecorded int            `json:"alerts_recorded"`
	Actions        map[string]int `json:"actions"`
	GeneratedAt    string         `json:"generated_at"`
}

// AlertsResponse is returned by GET /proactive/alerts.
type AlertsResponse struct {
	Alerts []alert.Alert `json:"alerts"`
	Count  int           `json:"count"`
}

// ActionsResponse is returned by GET /proactive/actions.
type ActionsResponse struct {
	Actions []action.Action `json:"actions"`
	Count   int             `json:"count"`
}

type errorResponse struct {
	Error string `json:"error"`
}
