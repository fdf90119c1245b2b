package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type OwnerType string

const (
	OwnerTypeMember   OwnerType = "member"
	OwnerTypeVendor   OwnerType = "vendor"
	OwnerTypePlatform OwnerType = "platform"
)

const PlatformOwnerRef = "platform"

func (o OwnerType) Valid() bool {
	switch o {
	case OwnerTypeMember, OwnerTypeVendor, OwnerTypePlatform:
		return true
	}
	return false
}

type Account struct {
	ID        uuid.UUID
	OwnerType OwnerType
	OwnerRef  string
	CreatedAt time.Time
	Ledgers   []Ledger
}

func (a *Account) Label() string {
	return fmt.Sprintf("%s:%s", a.OwnerType, a.OwnerRef)
}

func (a *Account) CashLedger() (*Ledger, bool) {
	return a.LedgerForSignature(CashCategorySlug)
}

func (a *Account) LedgerForSignature(sig string) (*Ledger, bool) {
	for i := range a.Ledgers {
		if a.Ledgers[i].CategorySignature == sig {
			return &a.Ledgers[i], true
		}
	}
	return nil, false
}

func (a *Account) LedgerByID(id uuid.UUID) (*Ledger, bool) {
	for i := range a.Ledgers {
		if a.Ledgers[i].ID == id {
			return &a.Ledgers[i], true
		}
	}
	return nil, false
}
