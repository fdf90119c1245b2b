package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var (
	foodID      = uuid.MustParse("00000000-0000-0000-0000-0000000f00d1")
	groceriesID = uuid.MustParse("00000000-0000-0000-0000-0000000f00d2")
	mobilityID  = uuid.MustParse("00000000-0000-0000-0000-00000000b1c1")
)

func testTree(t *testing.T) *CategoryTree {
	t.Helper()
	cash := CashCategoryID
	food := foodID
	tree, err := NewCategoryTree([]ValueCategory{
		{ID: CashCategoryID, Slug: "cash", Name: "Cash"},
		{ID: foodID, Slug: "food", Name: "Food", ParentID: &cash},
		{ID: groceriesID, Slug: "groceries", Name: "Groceries", ParentID: &food},
		{ID: mobilityID, Slug: "mobility", Name: "Mobility", ParentID: &cash},
	})
	require.NoError(t, err)
	return tree
}

func testLedger(t *testing.T, tree *CategoryTree, acct *Account, name string, created time.Time, slugs ...string) Ledger {
	t.Helper()
	cats, err := tree.Resolve(slugs...)
	require.NoError(t, err)
	l, err := NewLedger(NewLedgerParams{Account: acct, Name: name, Currency: "USD", Categories: cats, Now: created})
	require.NoError(t, err)
	return *l
}

func testAccount() *Account {
	return &Account{ID: uuid.New(), OwnerType: OwnerTypeMember, OwnerRef: "member-1"}
}
