// Package ws implements the WebSocket hub that streams alarm state to
// dashboards.
//
// New(source, interval) creates a Hub. Hub.Run(ctx) drives the broadcast
// ticker and closes every connection when ctx is cancelled. Hub.ServeHTTP
// upgrades a request, sends the current state immediately, then forwards
// each tick.
//
// Message format sent to clients:
//
//	{
//	  "event": "alarms",
//	  "data":  {"active": [ /* GET /api/v1/alarms */ ], "generated_at": "..."}
//	}
//
// The upgrader accepts all origins. The server mounts the hub at /ws/alarms.
package ws
