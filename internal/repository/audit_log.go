package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/josh-kwaku/program-ledger/internal/domain"
)

const auditLogColumns = `id, at, event, from_state, to_state, reason, actor,
	subject_type, subject_id, messages`

type AuditLogRepository struct {
	db *sql.DB
}

func NewAuditLogRepository(db *sql.DB) *AuditLogRepository {
	return &AuditLogRepository{db: db}
}

func (r *AuditLogRepository) Append(ctx context.Context, entry *domain.AuditLog) error {
	messages := entry.Messages
	if len(messages) == 0 {
		messages = []byte("[]")
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_logs (
			id, at, event, from_state, to_state, reason, actor, subject_type, subject_id, messages
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.ID, entry.At, entry.Event, entry.FromState, entry.ToState, entry.Reason,
		entry.Actor, entry.SubjectType, entry.SubjectID, []byte(messages),
	)
	if err != nil {
		return fmt.Errorf("Append: %w", err)
	}
	return nil
}

func (r *AuditLogRepository) ListForSubject(ctx context.Context, subject domain.AuditSubject, id uuid.UUID) ([]domain.AuditLog, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+auditLogColumns+` FROM audit_logs
		WHERE subject_type = $1 AND subject_id = $2 ORDER BY at, id`,
		subject, id,
	)
	if err != nil {
		return nil, fmt.Errorf("ListForSubject: %w", err)
	}
	defer rows.Close()

	var logs []domain.AuditLog
	for rows.Next() {
		var l domain.AuditLog
		if err := rows.Scan(
			&l.ID, &l.At, &l.Event, &l.FromState, &l.ToState, &l.Reason, &l.Actor,
			&l.SubjectType, &l.SubjectID, &l.Messages,
		); err != nil {
			return nil, fmt.Errorf("ListForSubject: scan: %w", err)
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListForSubject: rows: %w", err)
	}
	return logs, nil
}
