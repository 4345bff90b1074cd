package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for audit log operations.
type Repository interface {
	// LogAccess records an access event and returns the stored entry.
	LogAccess(ctx context.Context, entry LogEntry) (*AuditLog, error)

	// QueryByEntity returns logs for an entity, newest first.
	// A limit of 0 means no limit.
	QueryByEntity(ctx context.Context, entityType, entityID string, limit int) ([]*AuditLog, error)

	// QueryByActor returns logs written by an actor, newest first.
	// A limit of 0 means no limit.
	QueryByActor(ctx context.Context, actor string, limit int) ([]*AuditLog, error)
}

// InMemoryRepository is an in-memory implementation of Repository.
// Used for testing and development. Thread-safe via RWMutex.
type InMemoryRepository struct {
	mu   sync.RWMutex
	logs []AuditLog
}

// NewInMemoryRepository creates a new in-memory audit repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{}
}

// LogAccess records an access event to the audit log.
func (r *InMemoryRepository) LogAccess(_ context.Context, entry LogEntry) (*AuditLog, error) {
	log := newAuditLog(entry)

	r.mu.Lock()
	r.logs = append(r.logs, log)
	r.mu.Unlock()

	return &log, nil
}

// QueryByEntity retrieves audit logs for a specific entity, newest first.
func (r *InMemoryRepository) QueryByEntity(_ context.Context, entityType, entityID string, limit int) ([]*AuditLog, error) {
	return r.query(func(l *AuditLog) bool {
		return l.EntityType == entityType && l.EntityID == entityID
	}, limit), nil
}

// QueryByActor retrieves audit logs for a specific actor, newest first.
func (r *InMemoryRepository) QueryByActor(_ context.Context, actor string, limit int) ([]*AuditLog, error) {
	return r.query(func(l *AuditLog) bool { return l.Actor == actor }, limit), nil
}

func (r *InMemoryRepository) query(match func(*AuditLog) bool, limit int) []*AuditLog {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []*AuditLog
	for i := len(r.logs) - 1; i >= 0; i-- {
		if !match(&r.logs[i]) {
			continue
		}
		logCopy := r.logs[i]
		results = append(results, &logCopy)
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results
}

func newAuditLog(entry LogEntry) AuditLog {
	return AuditLog{
		ID:         uuid.New().String(),
		Actor:      entry.Actor,
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		Action:     entry.Action,
		Outcome:    entry.Outcome,
		RequestID:  entry.RequestID,
		IPAddress:  entry.IPAddress,
		UserAgent:  entry.UserAgent,
		CreatedAt:  time.Now().UTC(),
	}
}
