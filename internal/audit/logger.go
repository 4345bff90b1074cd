package audit

import (
	"context"
	"errors"
	"net/http"

	"github.com/onnwee/storyviews/internal/middleware"
)

var (
	// ErrNilRepository is returned when a nil repository is passed to logging functions.
	ErrNilRepository = errors.New("audit repository cannot be nil")
	// ErrInvalidEntityType is returned for empty or unknown entity types.
	ErrInvalidEntityType = errors.New("invalid entity type")
	// ErrInvalidEntityID is returned when the entity ID is empty.
	ErrInvalidEntityID = errors.New("entity ID cannot be empty")
	// ErrInvalidAction is returned for empty or unknown actions.
	ErrInvalidAction = errors.New("invalid action")
	// ErrInvalidOutcome is returned for outcomes other than success and denied.
	ErrInvalidOutcome = errors.New("invalid outcome")
)

// ValidEntityTypes defines the allowed entity types for audit logging.
var ValidEntityTypes = map[string]bool{
	EntityStory: true,
}

// ValidActions defines the allowed actions for audit logging.
var ValidActions = map[string]bool{
	ActionViewStats:  true,
	ActionViewGroups: true,
	ActionListViews:  true,
}

func validateLogEntry(entry LogEntry) error {
	if !ValidEntityTypes[entry.EntityType] {
		return ErrInvalidEntityType
	}
	if entry.EntityID == "" {
		return ErrInvalidEntityID
	}
	if !ValidActions[entry.Action] {
		return ErrInvalidAction
	}
	if entry.Outcome != OutcomeSuccess && entry.Outcome != OutcomeDenied {
		return ErrInvalidOutcome
	}
	return nil
}

// LogAccess records an access event, taking the actor and request ID from
// ctx. Failures are returned to the caller: analytics reads fail closed when
// the audit trail cannot be written.
func LogAccess(ctx context.Context, repo Repository, entityType, entityID, action string, outcome Outcome) error {
	return write(ctx, repo, LogEntry{
		Actor:      middleware.GetActor(ctx),
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		Outcome:    outcome,
		RequestID:  middleware.GetRequestID(ctx),
	})
}

// LogAccessFromRequest is LogAccess plus the client IP and user agent of r.
func LogAccessFromRequest(r *http.Request, repo Repository, entityType, entityID, action string, outcome Outcome) error {
	ctx := r.Context()
	return write(ctx, repo, LogEntry{
		Actor:      middleware.GetActor(ctx),
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		Outcome:    outcome,
		RequestID:  middleware.GetRequestID(ctx),
		IPAddress:  middleware.ClientIP(r),
		UserAgent:  r.UserAgent(),
	})
}

func write(ctx context.Context, repo Repository, entry LogEntry) error {
	if repo == nil {
		return ErrNilRepository
	}
	if err := validateLogEntry(entry); err != nil {
		return err
	}
	_, err := repo.LogAccess(ctx, entry)
	return err
}
