package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/josh-kwaku/program-ledger/internal/domain"
)

const bookTransactionColumns = `id, opaque_id, created_at, apply_at, originating_ledger_id,
	receiving_ledger_id, amount_minor, currency, category_id, memo`

// BookTransactionRepository only inserts and reads. The table rejects
// UPDATE and DELETE with a trigger.
type BookTransactionRepository struct {
	db *sql.DB
}

func NewBookTransactionRepository(db *sql.DB) *BookTransactionRepository {
	return &BookTransactionRepository{db: db}
}

func (r *BookTransactionRepository) Create(ctx context.Context, tx *sql.Tx, bx *domain.BookTransaction) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO book_transactions (
			id, opaque_id, created_at, apply_at, originating_ledger_id,
			receiving_ledger_id, amount_minor, currency, category_id, memo
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		bx.ID, bx.OpaqueID, bx.CreatedAt, bx.ApplyAt, bx.OriginatingLedgerID,
		bx.ReceivingLedgerID, bx.Amount.Amount, bx.Amount.Currency, bx.CategoryID, bx.Memo,
	)
	if err != nil {
		switch {
		case isCheckViolation(err, "distinct_ledgers"):
			return fmt.Errorf("Create: %w", domain.ErrSameLedgerTransfer)
		case isCheckViolation(err, "amount_not_negative"):
			return fmt.Errorf("Create: %w", domain.ErrInvalidAmount)
		case isForeignKeyViolation(err):
			return fmt.Errorf("Create: ledger or category: %w", domain.ErrNotFound)
		}
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *BookTransactionRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.BookTransaction, error) {
	bx, err := scanBookTransaction(r.db.QueryRowContext(ctx,
		`SELECT `+bookTransactionColumns+` FROM book_transactions WHERE id = $1`, id))
	if err != nil {
		if noRows(err) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return bx, nil
}

func (r *BookTransactionRepository) GetByOpaqueID(ctx context.Context, opaqueID string) (*domain.BookTransaction, error) {
	bx, err := scanBookTransaction(r.db.QueryRowContext(ctx,
		`SELECT `+bookTransactionColumns+` FROM book_transactions WHERE opaque_id = $1`, opaqueID))
	if err != nil {
		if noRows(err) {
			return nil, fmt.Errorf("GetByOpaqueID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByOpaqueID: %w", err)
	}
	return bx, nil
}

// ListForLedger returns the ledger's transactions, latest apply_at first,
// along with the total count.
func (r *BookTransactionRepository) ListForLedger(ctx context.Context, ledgerID uuid.UUID, limit, offset int) ([]domain.BookTransaction, int, error) {
	var total int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM book_transactions
		WHERE originating_ledger_id = $1 OR receiving_ledger_id = $1`, ledgerID,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("ListForLedger: count: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+bookTransactionColumns+` FROM book_transactions
		WHERE originating_ledger_id = $1 OR receiving_ledger_id = $1
		ORDER BY apply_at DESC, id LIMIT $2 OFFSET $3`,
		ledgerID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("ListForLedger: %w", err)
	}
	defer rows.Close()

	var txs []domain.BookTransaction
	for rows.Next() {
		bx, err := scanBookTransaction(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("ListForLedger: scan: %w", err)
		}
		txs = append(txs, *bx)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("ListForLedger: rows: %w", err)
	}
	return txs, total, nil
}

func scanBookTransaction(s scanner) (*domain.BookTransaction, error) {
	var bx domain.BookTransaction
	err := s.Scan(
		&bx.ID, &bx.OpaqueID, &bx.CreatedAt, &bx.ApplyAt, &bx.OriginatingLedgerID,
		&bx.ReceivingLedgerID, &bx.Amount.Amount, &bx.Amount.Currency, &bx.CategoryID, &bx.Memo,
	)
	if err != nil {
		return nil, err
	}
	return &bx, nil
}
