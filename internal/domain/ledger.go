package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Ledger holds no balance of its own. Its balance is whatever the
// BookTransactions referencing it add up to.
type Ledger struct {
	ID                uuid.UUID
	AccountID         uuid.UUID
	Name              string
	AdminLabel        string
	Currency          string
	Categories        []ValueCategory
	CategorySignature string
	EligibleUntil     *time.Time
	CreatedAt         time.Time
	ArchivedAt        *time.Time
}

type NewLedgerParams struct {
	Account       *Account
	Name          string
	Currency      string
	Categories    []ValueCategory
	EligibleUntil *time.Time
	Now           time.Time
}

func NewLedger(p NewLedgerParams) (*Ledger, error) {
	if p.Account == nil {
		return nil, fmt.Errorf("NewLedger: account required: %w", ErrInvalidRequest)
	}
	if strings.TrimSpace(p.Name) == "" {
		return nil, fmt.Errorf("NewLedger: name required: %w", ErrInvalidRequest)
	}
	if len(p.Currency) != 3 {
		return nil, fmt.Errorf("NewLedger: currency %q: %w", p.Currency, ErrInvalidRequest)
	}
	if err := validateCategorySet(p.Categories); err != nil {
		return nil, fmt.Errorf("NewLedger: %w", err)
	}

	cats := append([]ValueCategory(nil), p.Categories...)
	sort.Slice(cats, func(i, j int) bool { return cats[i].Slug < cats[j].Slug })

	return &Ledger{
		ID:                uuid.New(),
		AccountID:         p.Account.ID,
		Name:              p.Name,
		AdminLabel:        fmt.Sprintf("%s - %s", p.Account.Label(), p.Name),
		Currency:          strings.ToUpper(p.Currency),
		Categories:        cats,
		CategorySignature: CategorySignature(cats),
		EligibleUntil:     p.EligibleUntil,
		CreatedAt:         p.Now,
	}, nil
}

// validateCategorySet enforces that cash is only ever a ledger's sole
// category, which keeps exactly one cash-eligible ledger per account.
func validateCategorySet(cats []ValueCategory) error {
	if len(cats) == 0 {
		return fmt.Errorf("empty category set: %w", ErrInvalidCategorySet)
	}
	seen := make(map[uuid.UUID]bool, len(cats))
	for _, c := range cats {
		if seen[c.ID] {
			return fmt.Errorf("category %q listed twice: %w", c.Slug, ErrInvalidCategorySet)
		}
		seen[c.ID] = true
		if c.IsCash() && len(cats) > 1 {
			return fmt.Errorf("cash cannot be combined with other categories: %w", ErrInvalidCategorySet)
		}
	}
	return nil
}

func (l *Ledger) IsCash() bool { return l.CategorySignature == CashCategorySlug }

func (l *Ledger) IsArchived() bool { return l.ArchivedAt != nil }

// EligibleAt reports whether the ledger may fund charges at t.
func (l *Ledger) EligibleAt(t time.Time) bool {
	if l.IsArchived() {
		return false
	}
	return l.EligibleUntil == nil || !t.After(*l.EligibleUntil)
}

// MatchDistance returns the smallest distance from the charge category to
// any of the ledger's eligible categories.
func (l *Ledger) MatchDistance(tree *CategoryTree, chargeCategory uuid.UUID) (int, bool) {
	best, found := 0, false
	for _, c := range l.Categories {
		d, ok := tree.Distance(c.ID, chargeCategory)
		if ok && (!found || d < best) {
			best, found = d, true
		}
	}
	return best, found
}

// ContributionAvailable is what the ledger can put toward a charge in the
// given category at t. Negative balances contribute nothing.
func (l *Ledger) ContributionAvailable(tree *CategoryTree, balance Money, category uuid.UUID, at time.Time) Money {
	zero := Zero(l.Currency)
	if !l.EligibleAt(at) || !balance.IsPositive() {
		return zero
	}
	if _, ok := l.MatchDistance(tree, category); !ok {
		return zero
	}
	return balance
}

// BalanceAsOf sums the directed amounts of txs for ledgerID, ignoring
// transactions applied after asOf.
func BalanceAsOf(ledgerID uuid.UUID, currency string, txs []BookTransaction, asOf time.Time) (Money, error) {
	total := Zero(currency)
	for _, bx := range txs {
		if bx.ApplyAt.After(asOf) {
			continue
		}
		d, err := bx.Directed(ledgerID)
		if err != nil {
			continue
		}
		if err := SameCurrency(total, d.SignedAmount); err != nil {
			return Money{}, fmt.Errorf("BalanceAsOf: %w", err)
		}
		total = total.Add(d.SignedAmount)
	}
	return total, nil
}
