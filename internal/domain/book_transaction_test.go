package domain

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBookTransaction(t *testing.T) {
	tree := testTree(t)
	acct := testAccount()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cash := testLedger(t, tree, acct, "Cash", now, "cash")
	food := testLedger(t, tree, acct, "Food", now, "food")
	eur := cash
	eur.ID = uuid.New()
	eur.Currency = "EUR"

	tests := []struct {
		name    string
		params  BookTransactionParams
		wantErr error
	}{
		{
			name:   "valid",
			params: BookTransactionParams{Originating: &cash, Receiving: &food, Amount: USD(500), CategoryID: foodID},
		},
		{
			name:   "zero amount is allowed",
			params: BookTransactionParams{Originating: &cash, Receiving: &food, Amount: USD(0), CategoryID: foodID},
		},
		{
			name:    "negative amount",
			params:  BookTransactionParams{Originating: &cash, Receiving: &food, Amount: USD(-1), CategoryID: foodID},
			wantErr: ErrInvalidAmount,
		},
		{
			name:    "same ledger",
			params:  BookTransactionParams{Originating: &cash, Receiving: &cash, Amount: USD(1), CategoryID: CashCategoryID},
			wantErr: ErrSameLedgerTransfer,
		},
		{
			name:    "unknown category",
			params:  BookTransactionParams{Originating: &cash, Receiving: &food, Amount: USD(1), CategoryID: uuid.New()},
			wantErr: ErrUnknownCategory,
		},
		{
			name:    "ledger currency differs",
			params:  BookTransactionParams{Originating: &eur, Receiving: &food, Amount: USD(1), CategoryID: foodID},
			wantErr: ErrCurrencyMismatch,
		},
		{
			name:    "missing ledger",
			params:  BookTransactionParams{Receiving: &food, Amount: USD(1), CategoryID: foodID},
			wantErr: ErrInvalidRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bx, err := NewBookTransaction(tree, tt.params, now)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, bx)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, now, bx.ApplyAt)
			assert.True(t, strings.HasPrefix(bx.OpaqueID, "bx_"))
			assert.NoError(t, ValidateOpaqueID(bx.OpaqueID))
		})
	}
}

func TestNewBookTransaction_Backdated(t *testing.T) {
	tree := testTree(t)
	acct := testAccount()
	now := time.Now().UTC()
	cash := testLedger(t, tree, acct, "Cash", now, "cash")
	food := testLedger(t, tree, acct, "Food", now, "food")
	applyAt := now.Add(-48 * time.Hour)

	bx, err := NewBookTransaction(tree, BookTransactionParams{
		Originating: &cash, Receiving: &food, Amount: USD(100), CategoryID: foodID, ApplyAt: applyAt,
	}, now)
	require.NoError(t, err)
	assert.Equal(t, applyAt, bx.ApplyAt)
	assert.Equal(t, now, bx.CreatedAt)
}

func TestBookTransaction_Directed(t *testing.T) {
	bx := BookTransaction{
		ID:                  uuid.New(),
		OriginatingLedgerID: uuid.New(),
		ReceivingLedgerID:   uuid.New(),
		Amount:              USD(2500),
	}

	out, err := bx.Directed(bx.OriginatingLedgerID)
	require.NoError(t, err)
	assert.Equal(t, USD(-2500), out.SignedAmount)
	assert.False(t, out.IsInbound())
	assert.Equal(t, bx.ReceivingLedgerID, out.CounterpartyLedgerID())

	in, err := bx.Directed(bx.ReceivingLedgerID)
	require.NoError(t, err)
	assert.Equal(t, USD(2500), in.SignedAmount)
	assert.True(t, in.IsInbound())
	assert.Equal(t, bx.OriginatingLedgerID, in.CounterpartyLedgerID())

	_, err = bx.Directed(uuid.New())
	assert.ErrorIs(t, err, ErrUnrelatedLedger)

	assert.Equal(t, USD(2500), bx.Amount, "projection must not change the record")
}

func TestValidateOpaqueID(t *testing.T) {
	assert.ErrorIs(t, ValidateOpaqueID("not-a-typeid"), ErrInvalidRequest)
	assert.ErrorIs(t, ValidateOpaqueID("ft_01h455vb4pex5vsknk084sn02q"), ErrInvalidRequest)
}

func TestBalanceAsOf_Conservation(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	txs := []BookTransaction{
		{OriginatingLedgerID: a, ReceivingLedgerID: b, Amount: USD(1000), ApplyAt: base},
		{OriginatingLedgerID: b, ReceivingLedgerID: c, Amount: USD(300), ApplyAt: base.Add(time.Hour)},
		{OriginatingLedgerID: c, ReceivingLedgerID: a, Amount: USD(50), ApplyAt: base.Add(2 * time.Hour)},
		{OriginatingLedgerID: a, ReceivingLedgerID: c, Amount: USD(75), ApplyAt: base.Add(48 * time.Hour)},
	}

	tests := []struct {
		name string
		asOf time.Time
		want map[uuid.UUID]int64
	}{
		{name: "before anything", asOf: base.Add(-time.Second), want: map[uuid.UUID]int64{a: 0, b: 0, c: 0}},
		{name: "first applied", asOf: base, want: map[uuid.UUID]int64{a: -1000, b: 1000, c: 0}},
		{name: "first three", asOf: base.Add(3 * time.Hour), want: map[uuid.UUID]int64{a: -950, b: 700, c: 250}},
		{name: "future dated included", asOf: base.Add(72 * time.Hour), want: map[uuid.UUID]int64{a: -1025, b: 700, c: 325}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var sum int64
			for id, want := range tt.want {
				got, err := BalanceAsOf(id, "USD", txs, tt.asOf)
				require.NoError(t, err)
				assert.Equal(t, want, got.Amount)
				sum += got.Amount
			}
			assert.Zero(t, sum)
		})
	}
}
