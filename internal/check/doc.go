// Package check implements the health checks sampled by the monitor loop.
//
// Every configured check collects a Sample (field -> value) and evaluates its
// rules against it. Rule conditions use the form "<field> <op> <value>":
//
//	host        cpu_pct, mem_pct, disk_pct, load1, load5, load15 (gopsutil)
//	prometheus  one field per metric family, summed across series
//	http        up, status_code, latency_ms
//	tls         reachable, days_left
//
// A rule raises an alert with the configured priority on every sample where
// its condition holds. Every raise has its own ID; raises of one ongoing
// condition share an incident_id context entry holding the first alert's ID.
// When a firing rule stops holding, the check emits a resolution alert that
// references the first alert. The sampled value goes into the alert context, never
// into the message, so repeated raises share a de-duplication signature.
//
// NewFunc wraps an arbitrary function as a Check for embedding and tests.
package check
