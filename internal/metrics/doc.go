// Package metrics keeps the counters and gauges sentinel exposes on
// /proactive/metrics and renders them in the Prometheus text format.
package metrics
