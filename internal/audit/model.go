// Package audit records who read story analytics, for compliance and
// incident response. Viewer records carry device fingerprints and coarse
// location, so every analytics read is logged with its actor.
package audit

import (
	"time"
)

// Entity types that may be audited.
const (
	EntityStory = "story"
)

// Actions on audited entities.
const (
	ActionViewStats  = "view_story_stats"
	ActionViewGroups = "view_story_groups"
	ActionListViews  = "list_story_views"
)

// Outcome of an audited access.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	// OutcomeDenied marks a token that was valid but not scoped to the entity.
	OutcomeDenied Outcome = "denied"
)

// AuditLog represents a single audit event.
type AuditLog struct {
	ID         string    `json:"id"`
	Actor      string    `json:"actor"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Action     string    `json:"action"`
	Outcome    Outcome   `json:"outcome"`
	RequestID  string    `json:"request_id,omitempty"`
	IPAddress  string    `json:"ip_address,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// LogEntry is the input for creating an audit log entry.
type LogEntry struct {
	Actor      string
	EntityType string
	EntityID   string
	Action     string
	Outcome    Outcome

	RequestID string
	IPAddress string
	UserAgent string
}
