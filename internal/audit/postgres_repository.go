package audit

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/onnwee/storyviews/internal/tracing"
)

const tableAuditLogs = "audit_logs"

const auditColumns = `id, actor, entity_type, entity_id, action, outcome,
	request_id, ip_address, user_agent, created_at`

// PostgresRepository implements Repository on the audit_logs table.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// LogAccess inserts an audit entry.
func (p *PostgresRepository) LogAccess(ctx context.Context, entry LogEntry) (log *AuditLog, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, tableAuditLogs, tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	l := newAuditLog(entry)
	query := `INSERT INTO audit_logs (` + auditColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err = p.db.ExecContext(ctx, query,
		l.ID, l.Actor, l.EntityType, l.EntityID, l.Action, string(l.Outcome),
		nullable(l.RequestID), nullable(l.IPAddress), nullable(l.UserAgent), l.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert audit log: %w", err)
	}
	return &l, nil
}

// QueryByEntity retrieves audit logs for a specific entity, newest first.
func (p *PostgresRepository) QueryByEntity(ctx context.Context, entityType, entityID string, limit int) ([]*AuditLog, error) {
	return p.query(ctx, `WHERE entity_type = $1 AND entity_id = $2`, limit, entityType, entityID)
}

// QueryByActor retrieves audit logs for a specific actor, newest first.
func (p *PostgresRepository) QueryByActor(ctx context.Context, actor string, limit int) ([]*AuditLog, error) {
	return p.query(ctx, `WHERE actor = $1`, limit, actor)
}

func (p *PostgresRepository) query(ctx context.Context, where string, limit int, args ...any) (logs []*AuditLog, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, tableAuditLogs, tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	query := `SELECT ` + auditColumns + ` FROM audit_logs ` + where + ` ORDER BY created_at DESC, id`
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			l                        AuditLog
			outcome                  string
			requestID, ip, userAgent sql.NullString
		)
		if err := rows.Scan(&l.ID, &l.Actor, &l.EntityType, &l.EntityID, &l.Action, &outcome,
			&requestID, &ip, &userAgent, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		l.Outcome = Outcome(outcome)
		l.RequestID, l.IPAddress, l.UserAgent = requestID.String, ip.String, userAgent.String
		logs = append(logs, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit logs: %w", err)
	}
	return logs, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
