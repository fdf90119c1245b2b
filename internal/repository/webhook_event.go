package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/program-ledger/internal/domain"
)

const webhookEventColumns = `id, idempotency_key, event_type, payload, status,
	attempts, last_attempt, created_at`

type WebhookEventRepository struct {
	db *sql.DB
}

func NewWebhookEventRepository(db *sql.DB) *WebhookEventRepository {
	return &WebhookEventRepository{db: db}
}

func (r *WebhookEventRepository) Create(ctx context.Context, event *domain.WebhookEvent) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO webhook_events (
			id, idempotency_key, event_type, payload, status, attempts, last_attempt, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		event.ID, event.IdempotencyKey, event.EventType, []byte(event.Payload),
		event.Status, event.Attempts, event.LastAttempt, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

// ClaimPending moves up to limit events to processing and returns them,
// stamping last_attempt as the start of the claim. Pending events are
// eligible, and so are processing events whose claim is older than lease:
// their processor died or was stopped before recording an outcome. SKIP
// LOCKED lets several processors poll without double-claiming.
func (r *WebhookEventRepository) ClaimPending(ctx context.Context, limit int, lease time.Duration) ([]domain.WebhookEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`UPDATE webhook_events SET status = $1, last_attempt = now()
		WHERE id IN (
			SELECT id FROM webhook_events
			WHERE status = $2
				OR (status = $1 AND last_attempt < now() - make_interval(secs => $4))
			ORDER BY created_at LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+webhookEventColumns,
		domain.WebhookEventStatusProcessing, domain.WebhookEventStatusPending, limit, lease.Seconds(),
	)
	if err != nil {
		return nil, fmt.Errorf("ClaimPending: %w", err)
	}
	defer rows.Close()

	var events []domain.WebhookEvent
	for rows.Next() {
		e, err := scanWebhookEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("ClaimPending: scan: %w", err)
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ClaimPending: rows: %w", err)
	}
	return events, nil
}

func (r *WebhookEventRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.WebhookEventStatus) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE webhook_events SET status = $1, attempts = attempts + 1, last_attempt = now()
		WHERE id = $2`,
		status, id,
	)
	if err != nil {
		return fmt.Errorf("UpdateStatus: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("UpdateStatus: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("UpdateStatus: %w", domain.ErrNotFound)
	}
	return nil
}

// Release returns a claimed event to the queue after a transient failure,
// or fails it for good once it has used maxAttempts.
func (r *WebhookEventRepository) Release(ctx context.Context, id uuid.UUID, maxAttempts int) (domain.WebhookEventStatus, error) {
	var status domain.WebhookEventStatus
	err := r.db.QueryRowContext(ctx,
		`UPDATE webhook_events
		SET attempts = attempts + 1,
			last_attempt = now(),
			status = CASE WHEN attempts + 1 >= $2 THEN $3 ELSE $4 END
		WHERE id = $1
		RETURNING status`,
		id, maxAttempts, domain.WebhookEventStatusFailed, domain.WebhookEventStatusPending,
	).Scan(&status)
	if err != nil {
		if noRows(err) {
			return "", fmt.Errorf("Release: %w", domain.ErrNotFound)
		}
		return "", fmt.Errorf("Release: %w", err)
	}
	return status, nil
}

// Unclaim hands a claimed event back to the queue without spending an
// attempt. Used when processing is interrupted by shutdown.
func (r *WebhookEventRepository) Unclaim(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE webhook_events SET status = $1 WHERE id = $2 AND status = $3`,
		domain.WebhookEventStatusPending, id, domain.WebhookEventStatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("Unclaim: %w", err)
	}
	return nil
}

func (r *WebhookEventRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.WebhookEvent, error) {
	e, err := scanWebhookEvent(r.db.QueryRowContext(ctx,
		`SELECT `+webhookEventColumns+` FROM webhook_events WHERE id = $1`, id))
	if err != nil {
		if noRows(err) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return e, nil
}

func scanWebhookEvent(s scanner) (*domain.WebhookEvent, error) {
	var e domain.WebhookEvent
	err := s.Scan(
		&e.ID, &e.IdempotencyKey, &e.EventType, &e.Payload,
		&e.Status, &e.Attempts, &e.LastAttempt, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
