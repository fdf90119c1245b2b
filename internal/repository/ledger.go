package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/josh-kwaku/program-ledger/internal/domain"
)

const ledgerColumns = `id, account_id, name, admin_label, currency, category_signature,
	eligible_until, created_at, archived_at`

type LedgerRepository struct {
	db *sql.DB
}

func NewLedgerRepository(db *sql.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Create inserts the ledger and its category set. A second ledger with the
// same category signature on one account fails with ErrDuplicateLedger.
func (r *LedgerRepository) Create(ctx context.Context, tx *sql.Tx, l *domain.Ledger) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO ledgers (
			id, account_id, name, admin_label, currency, category_signature,
			eligible_until, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		l.ID, l.AccountID, l.Name, l.AdminLabel, l.Currency, l.CategorySignature,
		l.EligibleUntil, l.CreatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("Create: %w", domain.ErrDuplicateLedger)
		}
		return fmt.Errorf("Create: %w", err)
	}

	for _, c := range l.Categories {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO ledger_categories (ledger_id, category_id) VALUES ($1, $2)`,
			l.ID, c.ID,
		); err != nil {
			if isForeignKeyViolation(err) {
				return fmt.Errorf("Create: %q: %w", c.Slug, domain.ErrUnknownCategory)
			}
			return fmt.Errorf("Create: category: %w", err)
		}
	}
	return nil
}

func (r *LedgerRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Ledger, error) {
	ledgers, err := r.list(ctx, r.db, `WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	if len(ledgers) == 0 {
		return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
	}
	return &ledgers[0], nil
}

func (r *LedgerRepository) GetCashLedger(ctx context.Context, accountID uuid.UUID) (*domain.Ledger, error) {
	ledgers, err := r.list(ctx, r.db, `WHERE account_id = $1 AND category_signature = $2`,
		accountID, domain.CashCategorySlug)
	if err != nil {
		return nil, fmt.Errorf("GetCashLedger: %w", err)
	}
	if len(ledgers) == 0 {
		return nil, fmt.Errorf("GetCashLedger: %w", domain.ErrNotFound)
	}
	return &ledgers[0], nil
}

func (r *LedgerRepository) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]domain.Ledger, error) {
	ledgers, err := r.list(ctx, r.db, `WHERE account_id = $1`, accountID)
	if err != nil {
		return nil, fmt.Errorf("ListByAccount: %w", err)
	}
	return ledgers, nil
}

// ListByAccountTx reads the account's ledgers inside tx so the caller sees
// the same snapshot it locks against.
func (r *LedgerRepository) ListByAccountTx(ctx context.Context, tx *sql.Tx, accountID uuid.UUID) ([]domain.Ledger, error) {
	ledgers, err := r.list(ctx, tx, `WHERE account_id = $1`, accountID)
	if err != nil {
		return nil, fmt.Errorf("ListByAccountTx: %w", err)
	}
	return ledgers, nil
}

func (r *LedgerRepository) GetByIDTx(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Ledger, error) {
	ledgers, err := r.list(ctx, tx, `WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("GetByIDTx: %w", err)
	}
	if len(ledgers) == 0 {
		return nil, fmt.Errorf("GetByIDTx: %w", domain.ErrNotFound)
	}
	return &ledgers[0], nil
}

// LockBalance takes the ledger's balance lock for the rest of tx. The row
// write also makes a concurrent repeatable-read transaction that locks the
// same ledger fail with a serialization error instead of summing a stale
// snapshot.
func (r *LedgerRepository) LockBalance(ctx context.Context, tx *sql.Tx, id uuid.UUID) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE ledgers SET lock_version = lock_version + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("LockBalance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("LockBalance: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("LockBalance: %w", domain.ErrNotFound)
	}
	return nil
}

func (r *LedgerRepository) Archive(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE ledgers SET archived_at = $2 WHERE id = $1 AND archived_at IS NULL`, id, at)
	if err != nil {
		return fmt.Errorf("Archive: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("Archive: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("Archive: %w", domain.ErrNotFound)
	}
	return nil
}

func (r *LedgerRepository) BalanceAsOf(ctx context.Context, id uuid.UUID, asOf time.Time) (int64, error) {
	balances, err := balancesAsOf(ctx, r.db, []uuid.UUID{id}, asOf)
	if err != nil {
		return 0, fmt.Errorf("BalanceAsOf: %w", err)
	}
	return balances[id], nil
}

func (r *LedgerRepository) BalancesAsOf(ctx context.Context, ids []uuid.UUID, asOf time.Time) (map[uuid.UUID]int64, error) {
	balances, err := balancesAsOf(ctx, r.db, ids, asOf)
	if err != nil {
		return nil, fmt.Errorf("BalancesAsOf: %w", err)
	}
	return balances, nil
}

func (r *LedgerRepository) BalancesAsOfTx(ctx context.Context, tx *sql.Tx, ids []uuid.UUID, asOf time.Time) (map[uuid.UUID]int64, error) {
	balances, err := balancesAsOf(ctx, tx, ids, asOf)
	if err != nil {
		return nil, fmt.Errorf("BalancesAsOfTx: %w", err)
	}
	return balances, nil
}

func balancesAsOf(ctx context.Context, q querier, ids []uuid.UUID, asOf time.Time) (map[uuid.UUID]int64, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT l.id, COALESCE(SUM(
			CASE WHEN bx.receiving_ledger_id = l.id THEN bx.amount_minor ELSE -bx.amount_minor END
		), 0)::BIGINT
		FROM ledgers l
		LEFT JOIN book_transactions bx
			ON (bx.originating_ledger_id = l.id OR bx.receiving_ledger_id = l.id)
			AND bx.apply_at <= $2
		WHERE l.id = ANY($1::uuid[])
		GROUP BY l.id`,
		pq.Array(uuidStrings(ids)), asOf,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[uuid.UUID]int64, len(ids))
	for rows.Next() {
		var id uuid.UUID
		var sum int64
		if err := rows.Scan(&id, &sum); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out[id] = sum
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	for _, id := range ids {
		if _, ok := out[id]; !ok {
			return nil, fmt.Errorf("ledger %s: %w", id, domain.ErrNotFound)
		}
	}
	return out, nil
}

func (r *LedgerRepository) list(ctx context.Context, q querier, where string, args ...any) ([]domain.Ledger, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+ledgerColumns+` FROM ledgers `+where+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ledgers []domain.Ledger
	for rows.Next() {
		l, err := scanLedger(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		ledgers = append(ledgers, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	if err := attachCategories(ctx, q, ledgers); err != nil {
		return nil, err
	}
	return ledgers, nil
}

func attachCategories(ctx context.Context, q querier, ledgers []domain.Ledger) error {
	if len(ledgers) == 0 {
		return nil
	}
	idx := make(map[uuid.UUID]int, len(ledgers))
	ids := make([]uuid.UUID, len(ledgers))
	for i, l := range ledgers {
		idx[l.ID] = i
		ids[i] = l.ID
	}

	rows, err := q.QueryContext(ctx,
		`SELECT lc.ledger_id, c.id, c.slug, c.name, c.parent_id, c.created_at
		FROM ledger_categories lc
		JOIN value_categories c ON c.id = lc.category_id
		WHERE lc.ledger_id = ANY($1::uuid[])
		ORDER BY c.slug`,
		pq.Array(uuidStrings(ids)),
	)
	if err != nil {
		return fmt.Errorf("categories: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ledgerID uuid.UUID
		var c domain.ValueCategory
		if err := rows.Scan(&ledgerID, &c.ID, &c.Slug, &c.Name, &c.ParentID, &c.CreatedAt); err != nil {
			return fmt.Errorf("categories: scan: %w", err)
		}
		l := &ledgers[idx[ledgerID]]
		l.Categories = append(l.Categories, c)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("categories: rows: %w", err)
	}
	return nil
}

func scanLedger(s scanner) (*domain.Ledger, error) {
	var l domain.Ledger
	err := s.Scan(
		&l.ID, &l.AccountID, &l.Name, &l.AdminLabel, &l.Currency, &l.CategorySignature,
		&l.EligibleUntil, &l.CreatedAt, &l.ArchivedAt,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
