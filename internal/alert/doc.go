// Package alert defines the Alert value raised by health checks and the
// closed Priority and Channel enumerations shared by the dispatcher and the
// action engine.
//
// An Alert is never mutated after New returns it. Derived alerts (Resolve)
// are new values that reference the original by ID, and consumers that need
// to touch Context work on the copy returned by Clone.
//
// Priority is ordered LOW < MEDIUM < HIGH < CRITICAL and marshals to its
// lowercase name. Channel is one of log | email | push | webhook | nats.
package alert
