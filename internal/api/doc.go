// Package api serves the HTTP status surface of the monitor.
//
// Routes (all GET):
//
//	/health              service health: healthy | degraded | unhealthy
//	/proactive/status    daemon state plus journal counters
//	/proactive/alerts    recent alerts, newest first (?limit=N, max 200)
//	/proactive/actions   recent remediation actions, newest first
//	/proactive/metrics   counters in Prometheus text format
//	/proactive/stream    websocket live stream (see package ws)
//
// /health reports monitoring_daemon plus every configured probe. One failing
// service yields "degraded", two or more yield "unhealthy" with status 503.
//
// Wrap the handler with RequireAPIKey to enforce an API key on every route
// except /health.
package api
