package api

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	Status       string `json:"status"`
	TagCount     int    `json:"tag_count"`
	ActiveAlarms int    `json:"active_alarms"`
	GeneratedAt  string `json:"generated_at"` // RFC3339
}

// AckRequest is the body of POST /api/v1/alarms/ack. User defaults to
// "system" when empty.
type AckRequest struct {
	Rule string `json:"rule"`
	Tag  string `json:"tag"`
	User string `json:"user"`
}

// AckResponse is returned when an acknowledgement succeeds.
type AckResponse struct {
	Acknowledged bool `json:"acknowledged"`
}

// TagWriteRequest is the body of POST|PUT /api/v1/tags/{name}.
type TagWriteRequest struct {
	Value     any    `json:"value"`
	Timestamp string `json:"timestamp,omitempty"` // RFC3339, optional
}

// TagWriteResponse confirms an accepted tag write.
type TagWriteResponse struct {
	Tag      string `json:"tag"`
	Accepted bool   `json:"accepted"`
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
