// Package ws implements the websocket live stream served at /proactive/stream.
//
// New(status, interval) creates a Hub. Hub.Run(ctx) pushes the value returned
// by status to every client each interval and closes all connections when ctx
// is cancelled. Hub.Publish pushes an event immediately; the journal uses it
// to stream alerts and action changes as they are recorded.
//
// Message format:
//
//	{
//	  "event": "status" | "alert" | "action",
//	  "data":  { ... }
//	}
//
// The upgrader accepts all origins. Apply CORS restrictions at the reverse
// proxy.
package ws
