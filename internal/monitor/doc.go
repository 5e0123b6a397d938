// Package monitor owns the recurring sampling loop.
//
// A Daemon runs every configured check once per cycle, then for each alert
// produced calls the dispatcher and afterwards each registered Observer, one
// at a time and in registration order. Observers see every raise, including
// repeats the dispatcher suppressed.
//
// Failure containment:
//
//	check error, panic or timeout   WARN, check skipped, cycle continues
//	observer error or panic         ERROR with alert id and observer name
//	panic outside containment       CRITICAL, loop halts, Running() false
//
// Stop interrupts the sleep between cycles at once. A cycle in progress stops
// at the next alert or observer boundary; dispatch and observer calls already
// started run to completion on a context detached from the stop signal.
package monitor
