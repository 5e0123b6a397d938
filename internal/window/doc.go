// Package window provides a thread-safe keyed map whose entries expire after
// a per-entry time window.
//
// The dispatcher uses a Window to remember recently delivered alert
// signatures; the in-memory action ledger uses one to remember the action
// created for each alert ID. Each owner keeps its own instance.
//
// Callers pass the current time explicitly so every owner can run on its own
// clock. Run ticks at half the configured interval (minimum 1s) and calls
// Evict so memory stays bounded under sustained alert pressure.
package window
