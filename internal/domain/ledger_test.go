package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLedger(t *testing.T) {
	tree := testTree(t)
	acct := testAccount()
	now := time.Now().UTC()

	cats, err := tree.Resolve("mobility", "food")
	require.NoError(t, err)
	l, err := NewLedger(NewLedgerParams{Account: acct, Name: "Transit and food", Currency: "usd", Categories: cats, Now: now})
	require.NoError(t, err)
	assert.Equal(t, "food+mobility", l.CategorySignature)
	assert.Equal(t, "USD", l.Currency)
	assert.Equal(t, "member:member-1 - Transit and food", l.AdminLabel)
	assert.False(t, l.IsCash())

	cash, _ := tree.BySlug("cash")
	food, _ := tree.BySlug("food")

	tests := []struct {
		name   string
		params NewLedgerParams
	}{
		{name: "cash mixed with others", params: NewLedgerParams{Account: acct, Name: "x", Currency: "USD", Categories: []ValueCategory{cash, food}}},
		{name: "no categories", params: NewLedgerParams{Account: acct, Name: "x", Currency: "USD"}},
		{name: "duplicate category", params: NewLedgerParams{Account: acct, Name: "x", Currency: "USD", Categories: []ValueCategory{food, food}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLedger(tt.params)
			assert.ErrorIs(t, err, ErrInvalidCategorySet)
		})
	}

	_, err = NewLedger(NewLedgerParams{Account: acct, Name: " ", Currency: "USD", Categories: []ValueCategory{food}})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestLedger_ContributionAvailable(t *testing.T) {
	tree := testTree(t)
	acct := testAccount()
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	food := testLedger(t, tree, acct, "Food", now, "food")

	expiring := food
	until := now.Add(24 * time.Hour)
	expiring.EligibleUntil = &until

	archived := food
	archived.ArchivedAt = &now

	tests := []struct {
		name     string
		ledger   Ledger
		balance  Money
		category string
		at       time.Time
		want     int64
	}{
		{name: "exact category", ledger: food, balance: USD(2000), category: "food", at: now, want: 2000},
		{name: "descendant category", ledger: food, balance: USD(2000), category: "groceries", at: now, want: 2000},
		{name: "unrelated category", ledger: food, balance: USD(2000), category: "mobility", at: now, want: 0},
		{name: "parent category", ledger: food, balance: USD(2000), category: "cash", at: now, want: 0},
		{name: "negative balance", ledger: food, balance: USD(-10), category: "food", at: now, want: 0},
		{name: "inside eligibility window", ledger: expiring, balance: USD(500), category: "food", at: until, want: 500},
		{name: "past eligibility window", ledger: expiring, balance: USD(500), category: "food", at: until.Add(time.Second), want: 0},
		{name: "archived", ledger: archived, balance: USD(500), category: "food", at: now, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cat, ok := tree.BySlug(tt.category)
			require.True(t, ok)
			got := tt.ledger.ContributionAvailable(tree, tt.balance, cat.ID, tt.at)
			assert.Equal(t, tt.want, got.Amount)
		})
	}
}

func TestAccount_LedgerResolution(t *testing.T) {
	tree := testTree(t)
	acct := testAccount()
	now := time.Now()
	acct.Ledgers = []Ledger{
		testLedger(t, tree, acct, "Food", now, "food"),
		testLedger(t, tree, acct, "Cash", now, "cash"),
	}

	cash, ok := acct.CashLedger()
	require.True(t, ok)
	assert.True(t, cash.IsCash())

	food, ok := acct.LedgerForSignature("food")
	require.True(t, ok)
	got, ok := acct.LedgerByID(food.ID)
	require.True(t, ok)
	assert.Equal(t, "Food", got.Name)

	_, ok = acct.LedgerForSignature("mobility")
	assert.False(t, ok)
}
