package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/josh-kwaku/program-ledger/internal/domain"
)

const chargeColumns = `id, account_id, receiving_ledger_id, amount_minor, currency,
	category_id, memo, created_at`

// ChargeRepository stores settled charges and the book transactions that
// paid for each of them.
type ChargeRepository struct {
	db *sql.DB
}

func NewChargeRepository(db *sql.DB) *ChargeRepository {
	return &ChargeRepository{db: db}
}

// Create inserts the charge and links its book transactions, which must
// already exist in tx.
func (r *ChargeRepository) Create(ctx context.Context, tx *sql.Tx, c *domain.SettledCharge) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO charges (`+chargeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.AccountID, c.ReceivingLedgerID, c.Amount.Amount, c.Amount.Currency,
		c.CategoryID, c.Memo, c.CreatedAt,
	)
	if err != nil {
		switch {
		case isCheckViolation(err, "charge_amount_not_negative"):
			return fmt.Errorf("Create: %w", domain.ErrInvalidAmount)
		case isForeignKeyViolation(err):
			return fmt.Errorf("Create: account, ledger or category: %w", domain.ErrNotFound)
		}
		return fmt.Errorf("Create: %w", err)
	}

	for i, bxID := range c.BookTransactionIDs {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO charge_book_transactions (charge_id, book_transaction_id, position)
			VALUES ($1, $2, $3)`,
			c.ID, bxID, i,
		)
		if err != nil {
			if IsUniqueViolation(err) {
				return fmt.Errorf("Create: book transaction %s already paid a charge: %w", bxID, domain.ErrConflict)
			}
			return fmt.Errorf("Create: link %s: %w", bxID, err)
		}
	}
	return nil
}

func (r *ChargeRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.SettledCharge, error) {
	c, err := scanCharge(r.db.QueryRowContext(ctx,
		`SELECT `+chargeColumns+` FROM charges WHERE id = $1`, id))
	if err != nil {
		if noRows(err) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	if c.BookTransactionIDs, err = r.bookTransactionIDs(ctx, c.ID); err != nil {
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return c, nil
}

// GetByBookTransaction returns the charge the book transaction paid for.
func (r *ChargeRepository) GetByBookTransaction(ctx context.Context, bxID uuid.UUID) (*domain.SettledCharge, error) {
	c, err := scanCharge(r.db.QueryRowContext(ctx,
		`SELECT c.id, c.account_id, c.receiving_ledger_id, c.amount_minor, c.currency,
			c.category_id, c.memo, c.created_at
		FROM charges c
		JOIN charge_book_transactions cb ON cb.charge_id = c.id
		WHERE cb.book_transaction_id = $1`, bxID))
	if err != nil {
		if noRows(err) {
			return nil, fmt.Errorf("GetByBookTransaction: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByBookTransaction: %w", err)
	}
	if c.BookTransactionIDs, err = r.bookTransactionIDs(ctx, c.ID); err != nil {
		return nil, fmt.Errorf("GetByBookTransaction: %w", err)
	}
	return c, nil
}

func (r *ChargeRepository) bookTransactionIDs(ctx context.Context, chargeID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT book_transaction_id FROM charge_book_transactions
		WHERE charge_id = $1 ORDER BY position`, chargeID)
	if err != nil {
		return nil, fmt.Errorf("book transactions: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("book transactions: scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("book transactions: rows: %w", err)
	}
	return ids, nil
}

func scanCharge(s scanner) (*domain.SettledCharge, error) {
	var c domain.SettledCharge
	err := s.Scan(
		&c.ID, &c.AccountID, &c.ReceivingLedgerID, &c.Amount.Amount, &c.Amount.Currency,
		&c.CategoryID, &c.Memo, &c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
