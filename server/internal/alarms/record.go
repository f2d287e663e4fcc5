package alarms

import (
	"time"

	"github.com/tagalarm/tagalarm/server/internal/notify"
)

// Key identifies one alarm: a rule applied to a tag.
type Key struct {
	Rule string `json:"rule"`
	Tag  string `json:"tag"`
}

// Status is the lifecycle state of a Record.
type Status string

const (
	StatusActive  Status = "ACTIVE"
	StatusCleared Status = "CLEARED"
)

// Record is one alarm occurrence. Records handed out by the Engine are
// copies; mutating them has no effect on engine state.
type Record struct {
	ID             string     `json:"id"`
	RuleName       string     `json:"rule_name"`
	Tag            string     `json:"tag"`
	Priority       Priority   `json:"priority"`
	Message        string     `json:"message"`
	Condition      string     `json:"condition"`
	TriggeredValue any        `json:"triggered_value"`
	LastValue      any        `json:"last_value"`
	TriggeredAt    time.Time  `json:"triggered_at"`
	LastUpdate     time.Time  `json:"last_update"`
	ClearedAt      *time.Time `json:"cleared_at,omitempty"`
	ClearedValue   any        `json:"cleared_value,omitempty"`
	Status         Status     `json:"status"`
	Acknowledged   bool       `json:"acknowledged"`
	AcknowledgedBy string     `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
}

// Key returns the record's alarm key.
func (r Record) Key() Key { return Key{Rule: r.RuleName, Tag: r.Tag} }

// clone returns a copy of r that shares no pointers with it.
func (r Record) clone() Record {
	if r.ClearedAt != nil {
		t := *r.ClearedAt
		r.ClearedAt = &t
	}
	if r.AcknowledgedAt != nil {
		t := *r.AcknowledgedAt
		r.AcknowledgedAt = &t
	}
	return r
}

// notification builds the dispatcher payload. Value is the triggering value.
func (r Record) notification() notify.Alarm {
	return notify.Alarm{
		ID:          r.ID,
		RuleName:    r.RuleName,
		Tag:         r.Tag,
		Priority:    string(r.Priority),
		Message:     r.Message,
		Condition:   r.Condition,
		Value:       r.TriggeredValue,
		Status:      string(r.Status),
		TriggeredAt: r.TriggeredAt,
		ClearedAt:   r.ClearedAt,
	}
}
