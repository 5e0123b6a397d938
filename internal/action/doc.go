// Package action decides which alerts warrant automated remediation and runs
// the resulting actions through a pluggable Executor.
//
// Classification:
//
//	critical, high   always attempted
//	medium           attempted only for sources listed in auto_remediable
//	low              skipped
//	resolution       skipped
//
// The action type comes from the first matching rule: an exact source rule,
// then source prefix rules in declaration order, then the alert's
// "action_type" context value. Anything unmatched becomes notify_human. A
// no_op mapping is recorded as skipped.
//
// Every action goes through a Ledger keyed by the alert ID, so an alert seen
// twice inside the idempotency window yields the action already recorded.
// MemoryLedger is the default; RedisLedger keeps the window across restarts.
//
// Lifecycle:
//
//	pending -> executing -> succeeded | failed
//	skipped (terminal, set at creation)
package action
