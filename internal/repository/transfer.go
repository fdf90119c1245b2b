package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/program-ledger/internal/domain"
)

// TransferRepository stores funding and payout transactions. Both tables
// share a layout and differ only in the name of the member ledger column.
type TransferRepository struct {
	db      *sql.DB
	kind    domain.TransferKind
	table   string
	columns string
}

func NewFundingRepository(db *sql.DB) *TransferRepository {
	return newTransferRepository(db, domain.TransferKindFunding, "funding_transactions", "recipient_ledger_id")
}

func NewPayoutRepository(db *sql.DB) *TransferRepository {
	return newTransferRepository(db, domain.TransferKindPayout, "payout_transactions", "debited_ledger_id")
}

func newTransferRepository(db *sql.DB, kind domain.TransferKind, table, memberColumn string) *TransferRepository {
	return &TransferRepository{
		db:    db,
		kind:  kind,
		table: table,
		columns: `id, status, amount_minor, currency, instrument_ref, strategy, external_ref, ` +
			memberColumn + `, platform_ledger_id, category_id, originated_book_transaction_id,
			idempotency_key, memo, failure_reason, created_at, updated_at, settled_at`,
	}
}

func (r *TransferRepository) Kind() domain.TransferKind { return r.kind }

func (r *TransferRepository) Create(ctx context.Context, t *domain.Transfer) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO `+r.table+` (`+r.columns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		t.ID, t.Status, t.Amount.Amount, t.Amount.Currency, t.InstrumentRef, t.Strategy, t.ExternalRef,
		t.MemberLedgerID, t.PlatformLedgerID, t.CategoryID, t.OriginatedBookTransactionID,
		t.IdempotencyKey, t.Memo, t.FailureReason, t.CreatedAt, t.UpdatedAt, t.SettledAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("Create: %w", domain.ErrDuplicateRequest)
		}
		if isForeignKeyViolation(err) {
			return fmt.Errorf("Create: ledger or category: %w", domain.ErrNotFound)
		}
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *TransferRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transfer, error) {
	t, err := r.scan(r.db.QueryRowContext(ctx,
		`SELECT `+r.columns+` FROM `+r.table+` WHERE id = $1`, id))
	if err != nil {
		if noRows(err) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return t, nil
}

func (r *TransferRepository) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Transfer, error) {
	t, err := r.scan(r.db.QueryRowContext(ctx,
		`SELECT `+r.columns+` FROM `+r.table+` WHERE idempotency_key = $1`, key))
	if err != nil {
		if noRows(err) {
			return nil, fmt.Errorf("GetByIdempotencyKey: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByIdempotencyKey: %w", err)
	}
	return t, nil
}

func (r *TransferRepository) GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Transfer, error) {
	t, err := r.scan(tx.QueryRowContext(ctx,
		`SELECT `+r.columns+` FROM `+r.table+` WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if noRows(err) {
			return nil, fmt.Errorf("GetForUpdate: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetForUpdate: %w", err)
	}
	return t, nil
}

func (r *TransferRepository) ListByStatus(ctx context.Context, status domain.TransferStatus, limit int) ([]domain.Transfer, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+r.columns+` FROM `+r.table+` WHERE status = $1 ORDER BY created_at LIMIT $2`,
		status, limit)
	if err != nil {
		return nil, fmt.Errorf("ListByStatus: %w", err)
	}
	defer rows.Close()

	var out []domain.Transfer
	for rows.Next() {
		t, err := r.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("ListByStatus: scan: %w", err)
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListByStatus: rows: %w", err)
	}
	return out, nil
}

func (r *TransferRepository) UpdateCollecting(ctx context.Context, tx *sql.Tx, id uuid.UUID, externalRef string, now time.Time) error {
	return r.exec(ctx, tx, "UpdateCollecting",
		`UPDATE `+r.table+` SET status = $2, external_ref = $3, updated_at = $4 WHERE id = $1`,
		id, domain.TransferStatusCollecting, externalRef, now)
}

func (r *TransferRepository) UpdateSettled(ctx context.Context, tx *sql.Tx, id, bookTransactionID uuid.UUID, externalRef *string, now time.Time) error {
	err := r.exec(ctx, tx, "UpdateSettled",
		`UPDATE `+r.table+` SET status = $2, originated_book_transaction_id = $3,
			external_ref = COALESCE($4, external_ref), settled_at = $5, updated_at = $5
		WHERE id = $1`,
		id, domain.TransferStatusSettled, bookTransactionID, externalRef, now)
	if err != nil && IsUniqueViolation(err) {
		return fmt.Errorf("UpdateSettled: %w", domain.ErrExternalConfirmationRace)
	}
	return err
}

// UpdateClosed moves the transfer to failed or canceled.
func (r *TransferRepository) UpdateClosed(ctx context.Context, tx *sql.Tx, id uuid.UUID, status domain.TransferStatus, reason string, now time.Time) error {
	return r.exec(ctx, tx, "UpdateClosed",
		`UPDATE `+r.table+` SET status = $2, failure_reason = NULLIF($3, ''), updated_at = $4 WHERE id = $1`,
		id, status, reason, now)
}

func (r *TransferRepository) exec(ctx context.Context, tx *sql.Tx, op, query string, args ...any) error {
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	}
	return nil
}

func (r *TransferRepository) scan(s scanner) (*domain.Transfer, error) {
	t := domain.Transfer{Kind: r.kind}
	err := s.Scan(
		&t.ID, &t.Status, &t.Amount.Amount, &t.Amount.Currency, &t.InstrumentRef, &t.Strategy, &t.ExternalRef,
		&t.MemberLedgerID, &t.PlatformLedgerID, &t.CategoryID, &t.OriginatedBookTransactionID,
		&t.IdempotencyKey, &t.Memo, &t.FailureReason, &t.CreatedAt, &t.UpdatedAt, &t.SettledAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
