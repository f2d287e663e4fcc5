// Package api implements the HTTP REST API of the server.
//
// New(store, alarms, ingest, guard) returns an http.Handler that serves:
//
//	GET      /api/v1/health             status, live tag count, active alarm count
//	GET      /api/v1/alarms             active alarms in trigger order
//	GET      /api/v1/alarms/history     history, oldest first; ?limit=N keeps the last N
//	POST     /api/v1/alarms/ack         {rule, tag, user}; 404 when no such alarm is active
//	GET      /api/v1/tags               live tag values sorted by name
//	GET      /api/v1/tags/{name}        one tag; 404 if unknown or expired
//	POST|PUT /api/v1/tags/{name}        {value, timestamp}; published like a gRPC update
//
// All endpoints respond with Content-Type: application/json and return 405
// for unsupported methods. The acknowledgement and tag write routes are
// wrapped by guard (see auth.APIKeyMiddleware).
//
// JSON types are defined in types.go. No external HTTP framework is used.
package api
