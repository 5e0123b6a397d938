// Package config loads and watches the sentinel configuration file.
//
// Top-level sections:
//   - monitor: interval, check_timeout, handle_timeout
//   - checks: named health checks (host|prometheus|http|tls), each with rules
//     of the form "<field> <op> <value>" and a priority
//   - dispatch: default_channels, suppression_window, source_windows,
//     send_timeout and the email, pushover, webhook and nats channel settings
//   - actions: idempotency_window, auto_remediable, rules, executor, routes,
//     ledger (memory|redis)
//   - server: http_addr, auth, stream_interval, journal_size
//   - log: level, format, output, file rotation
//   - nats, redis: shared client connections
//
// Secrets are never stored in the file. Fields ending in _env name the
// environment variable that holds the value, resolved at use time.
//
// Load(path) reads the YAML file, applies defaults (30s interval, 60s
// suppression window, 10m idempotency window), then validates every section
// and reports all problems at once.
//
// Watch(ctx, path, onChange) uses fsnotify on the file's directory, waits for a
// save to settle, and calls onChange only when ChangedSections reports a
// difference. Invalid edits are logged and ignored.
package config
