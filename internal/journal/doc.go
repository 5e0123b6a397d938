// Package journal keeps a bounded in-memory history of recent alerts and
// actions. It is registered as an alert callback and as an action engine
// listener, and feeds the status API and the websocket stream.
package journal
