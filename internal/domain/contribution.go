package domain

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

type Charge struct {
	Amount     Money
	CategoryID uuid.UUID
}

// SettledCharge is the stored record of a settled charge. BookTransactionIDs
// are the debits that paid for it, in plan order.
type SettledCharge struct {
	ID                 uuid.UUID
	AccountID          uuid.UUID
	ReceivingLedgerID  uuid.UUID
	Amount             Money
	CategoryID         uuid.UUID
	Memo               string
	CreatedAt          time.Time
	BookTransactionIDs []uuid.UUID
}

type LedgerBalance struct {
	Ledger  Ledger
	Balance Money
}

type ContributionLine struct {
	Ledger Ledger
	Amount Money
}

type ContributionPlan struct {
	Charge Charge
	Lines  []ContributionLine
}

func (p ContributionPlan) Total() Money {
	total := Zero(p.Charge.Amount.Currency)
	for _, l := range p.Lines {
		total = total.Add(l.Amount)
	}
	return total
}

// CashAmount is the part of the charge drawn from the cash ledger.
func (p ContributionPlan) CashAmount() Money {
	for _, l := range p.Lines {
		if l.Ledger.IsCash() {
			return l.Amount
		}
	}
	return Zero(p.Charge.Amount.Currency)
}

type candidate struct {
	ledger    Ledger
	available Money
	distance  int
}

// BuildContributionPlan splits a charge across an account's ledgers.
// Non-cash ledgers eligible for the charge category are drawn first, the
// most specific match first and the oldest ledger first among equals; cash
// covers whatever is left. If cash cannot cover the remainder the plan is
// rejected with an *InsufficientBalanceError for the cash ledger.
func BuildContributionPlan(tree *CategoryTree, balances []LedgerBalance, charge Charge, at time.Time) (ContributionPlan, error) {
	plan := ContributionPlan{Charge: charge}
	if charge.Amount.IsNegative() {
		return plan, fmt.Errorf("BuildContributionPlan: %s: %w", charge.Amount, ErrInvalidAmount)
	}
	if _, ok := tree.Get(charge.CategoryID); !ok {
		return plan, fmt.Errorf("BuildContributionPlan: %s: %w", charge.CategoryID, ErrUnknownCategory)
	}

	var cash *LedgerBalance
	var candidates []candidate
	for i := range balances {
		lb := balances[i]
		if lb.Ledger.Currency != charge.Amount.Currency {
			continue
		}
		if lb.Ledger.IsCash() {
			cash = &balances[i]
			continue
		}
		avail := lb.Ledger.ContributionAvailable(tree, lb.Balance, charge.CategoryID, at)
		if !avail.IsPositive() {
			continue
		}
		d, _ := lb.Ledger.MatchDistance(tree, charge.CategoryID)
		candidates = append(candidates, candidate{ledger: lb.Ledger, available: avail, distance: d})
	}
	if cash == nil {
		return plan, fmt.Errorf("BuildContributionPlan: %w", ErrNoCashLedger)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.distance != b.distance {
			return a.distance < b.distance
		}
		if !a.ledger.CreatedAt.Equal(b.ledger.CreatedAt) {
			return a.ledger.CreatedAt.Before(b.ledger.CreatedAt)
		}
		return a.ledger.ID.String() < b.ledger.ID.String()
	})

	remaining := charge.Amount
	for _, c := range candidates {
		if remaining.IsZero() {
			break
		}
		take := c.available.Min(remaining)
		plan.Lines = append(plan.Lines, ContributionLine{Ledger: c.ledger, Amount: take})
		remaining = remaining.Subtract(take)
	}

	if remaining.IsPositive() {
		cashAvail := cash.Balance
		if cashAvail.IsNegative() {
			cashAvail = Zero(cash.Balance.Currency)
		}
		if cashAvail.Compare(remaining) < 0 {
			return plan, fmt.Errorf("BuildContributionPlan: %w", &InsufficientBalanceError{
				LedgerID:  cash.Ledger.ID,
				Available: cashAvail,
				Required:  remaining,
			})
		}
		plan.Lines = append(plan.Lines, ContributionLine{Ledger: cash.Ledger, Amount: remaining})
	}
	return plan, nil
}
