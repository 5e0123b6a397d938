// Package dispatch fans raised alerts out to notification channels.
//
// Dispatcher.Dispatch picks the alert's channel hint (or the configured
// default set), then attempts every registered Sender for each channel. Each
// attempt runs under its own timeout with panic recovery, so one broken
// channel never blocks or aborts the others. Delivery failures are logged
// and counted, never returned.
//
// An alert whose (source, priority, message) signature was delivered within
// the source's suppression window is not redelivered. The window is recorded
// only when at least one sender succeeded.
//
// Senders:
//
//	LogSender      slog, level by priority
//	WebhookSender  slack | teams | pagerduty | http JSON POST
//	Pushover       push notifications
//	Email          go-mail over SMTP, opportunistic STARTTLS
//	NATSSender     JSON on <subject>.<priority>
package dispatch
