package testutil

import (
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/program-ledger/internal/domain"
)

// SeedCategories adds food, groceries (under food) and mobility beneath the
// migrated cash root and returns the resulting tree.
func SeedCategories(t *testing.T, db *sql.DB) *domain.CategoryTree {
	t.Helper()

	cash := domain.CashCategoryID
	food := uuid.New()
	seed := []domain.ValueCategory{
		{ID: food, Slug: "food", Name: "Food", ParentID: &cash},
		{ID: uuid.New(), Slug: "groceries", Name: "Groceries", ParentID: &food},
		{ID: uuid.New(), Slug: "mobility", Name: "Mobility", ParentID: &cash},
	}
	for _, c := range seed {
		_, err := db.Exec(
			`INSERT INTO value_categories (id, slug, name, parent_id) VALUES ($1, $2, $3, $4)`,
			c.ID, c.Slug, c.Name, c.ParentID,
		)
		if err != nil {
			t.Fatalf("seed category %s: %v", c.Slug, err)
		}
	}

	all := append([]domain.ValueCategory{{ID: cash, Slug: domain.CashCategorySlug, Name: "Cash"}}, seed...)
	tree, err := domain.NewCategoryTree(all)
	if err != nil {
		t.Fatalf("build category tree: %v", err)
	}
	return tree
}

func SeedAccount(t *testing.T, db *sql.DB, ownerType domain.OwnerType, ownerRef string) *domain.Account {
	t.Helper()

	a := &domain.Account{
		ID:        uuid.New(),
		OwnerType: ownerType,
		OwnerRef:  ownerRef,
		CreatedAt: time.Now().UTC(),
	}
	_, err := db.Exec(
		`INSERT INTO accounts (id, owner_type, owner_ref, created_at) VALUES ($1, $2, $3, $4)`,
		a.ID, a.OwnerType, a.OwnerRef, a.CreatedAt,
	)
	if err != nil {
		t.Fatalf("seed account %s: %v", ownerRef, err)
	}
	return a
}

func SeedLedger(t *testing.T, db *sql.DB, tree *domain.CategoryTree, acct *domain.Account, name string, createdAt time.Time, slugs ...string) *domain.Ledger {
	t.Helper()

	cats, err := tree.Resolve(slugs...)
	if err != nil {
		t.Fatalf("resolve categories: %v", err)
	}
	l, err := domain.NewLedger(domain.NewLedgerParams{
		Account:    acct,
		Name:       name,
		Currency:   "USD",
		Categories: cats,
		Now:        createdAt,
	})
	if err != nil {
		t.Fatalf("build ledger %s: %v", name, err)
	}

	_, err = db.Exec(
		`INSERT INTO ledgers (id, account_id, name, admin_label, currency, category_signature, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		l.ID, l.AccountID, l.Name, l.AdminLabel, l.Currency, l.CategorySignature, l.CreatedAt,
	)
	if err != nil {
		t.Fatalf("seed ledger %s: %v", name, err)
	}
	for _, c := range l.Categories {
		if _, err := db.Exec(`INSERT INTO ledger_categories (ledger_id, category_id) VALUES ($1, $2)`, l.ID, c.ID); err != nil {
			t.Fatalf("seed ledger category %s: %v", c.Slug, err)
		}
	}
	return l
}

// SeedBookTransaction writes a transfer directly, bypassing the services,
// to give ledgers an opening balance.
func SeedBookTransaction(t *testing.T, db *sql.DB, from, to *domain.Ledger, amount int64, categoryID uuid.UUID) {
	t.Helper()

	opaque, err := domain.NewOpaqueID()
	if err != nil {
		t.Fatalf("opaque id: %v", err)
	}
	now := time.Now().UTC()
	_, err = db.Exec(
		`INSERT INTO book_transactions (
			id, opaque_id, created_at, apply_at, originating_ledger_id,
			receiving_ledger_id, amount_minor, currency, category_id, memo
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'seed')`,
		uuid.New(), opaque, now, now.Add(-time.Minute), from.ID, to.ID, amount, from.Currency, categoryID,
	)
	if err != nil {
		t.Fatalf("seed book transaction: %v", err)
	}
}

func LedgerBalance(t *testing.T, db *sql.DB, ledgerID uuid.UUID) int64 {
	t.Helper()

	var balance int64
	err := db.QueryRow(
		`SELECT COALESCE(SUM(CASE WHEN receiving_ledger_id = $1 THEN amount_minor ELSE -amount_minor END), 0)
		 FROM book_transactions
		 WHERE (originating_ledger_id = $1 OR receiving_ledger_id = $1) AND apply_at <= now()`,
		ledgerID,
	).Scan(&balance)
	if err != nil {
		t.Fatalf("ledger balance %s: %v", ledgerID, err)
	}
	return balance
}

func CountBookTransactions(t *testing.T, db *sql.DB, ledgerID uuid.UUID) int {
	t.Helper()

	var count int
	err := db.QueryRow(
		`SELECT COUNT(*) FROM book_transactions WHERE originating_ledger_id = $1 OR receiving_ledger_id = $1`,
		ledgerID,
	).Scan(&count)
	if err != nil {
		t.Fatalf("count book transactions for %s: %v", ledgerID, err)
	}
	return count
}

func CountCashLedgers(t *testing.T, db *sql.DB, accountID uuid.UUID) int {
	t.Helper()

	var count int
	err := db.QueryRow(
		`SELECT COUNT(*) FROM ledgers WHERE account_id = $1 AND category_signature = 'cash'`, accountID,
	).Scan(&count)
	if err != nil {
		t.Fatalf("count cash ledgers for %s: %v", accountID, err)
	}
	return count
}

func SumOfLedgerBalances(t *testing.T, db *sql.DB) int64 {
	t.Helper()

	var total int64
	err := db.QueryRow(
		`SELECT COALESCE(SUM(CASE WHEN bx.receiving_ledger_id = l.id THEN bx.amount_minor ELSE -bx.amount_minor END), 0)
		 FROM ledgers l
		 JOIN book_transactions bx ON bx.originating_ledger_id = l.id OR bx.receiving_ledger_id = l.id`,
	).Scan(&total)
	if err != nil {
		t.Fatalf("sum of ledger balances: %v", err)
	}
	return total
}
