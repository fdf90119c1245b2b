package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type TransferStatus string

const (
	TransferStatusCreated    TransferStatus = "created"
	TransferStatusCollecting TransferStatus = "collecting"
	TransferStatusSettled    TransferStatus = "settled"
	TransferStatusFailed     TransferStatus = "failed"
	TransferStatusCanceled   TransferStatus = "canceled"
)

func (s TransferStatus) IsTerminal() bool {
	return s == TransferStatusSettled || s == TransferStatusFailed || s == TransferStatusCanceled
}

var transferTransitions = map[TransferStatus][]TransferStatus{
	TransferStatusCreated: {
		TransferStatusCollecting,
		TransferStatusSettled,
		TransferStatusFailed,
		TransferStatusCanceled,
	},
	TransferStatusCollecting: {
		TransferStatusSettled,
		TransferStatusFailed,
		TransferStatusCanceled,
	},
}

// CheckTransition returns a *TransitionError when s may not move to next.
// Repeating a non-terminal state is not a transition and is rejected too;
// callers that want repeat deliveries to be no-ops check for that first.
func (s TransferStatus) CheckTransition(next TransferStatus) error {
	for _, allowed := range transferTransitions[s] {
		if allowed == next {
			return nil
		}
	}
	return &TransitionError{From: s, To: next}
}

type TransferKind string

const (
	TransferKindFunding TransferKind = "funding"
	TransferKindPayout  TransferKind = "payout"
)

type StrategyKind string

const (
	StrategyBankTransfer StrategyKind = "bank_transfer"
	StrategyCard         StrategyKind = "card"
	StrategyFake         StrategyKind = "fake"
)

func (k StrategyKind) Valid() bool {
	switch k {
	case StrategyBankTransfer, StrategyCard, StrategyFake:
		return true
	}
	return false
}

// Transfer is the shared shape of funding and payout transactions. For a
// funding transaction MemberLedgerID is the credited ledger; for a payout
// it is the debited one. The platform ledger stands in for the external
// instrument on the other side.
type Transfer struct {
	ID                          uuid.UUID
	Kind                        TransferKind
	Status                      TransferStatus
	Amount                      Money
	InstrumentRef               string
	Strategy                    StrategyKind
	ExternalRef                 *string
	MemberLedgerID              uuid.UUID
	PlatformLedgerID            uuid.UUID
	CategoryID                  uuid.UUID
	OriginatedBookTransactionID *uuid.UUID
	IdempotencyKey              *string
	Memo                        string
	FailureReason               *string
	CreatedAt                   time.Time
	UpdatedAt                   time.Time
	SettledAt                   *time.Time
}

// Legs returns the originating and receiving ledger of the BookTransaction
// that settling this transfer creates.
func (t *Transfer) Legs() (originating, receiving uuid.UUID) {
	if t.Kind == TransferKindPayout {
		return t.MemberLedgerID, t.PlatformLedgerID
	}
	return t.PlatformLedgerID, t.MemberLedgerID
}

func (t *Transfer) IsSettled() bool { return t.OriginatedBookTransactionID != nil }

func (t *Transfer) DefaultMemo() string {
	if t.Memo != "" {
		return t.Memo
	}
	if t.Kind == TransferKindPayout {
		return fmt.Sprintf("Payout to %s", t.InstrumentRef)
	}
	return fmt.Sprintf("Funding from %s", t.InstrumentRef)
}

type FundingTransaction struct {
	Transfer
}

func (f *FundingTransaction) RecipientLedgerID() uuid.UUID { return f.MemberLedgerID }

type PayoutTransaction struct {
	Transfer
}

func (p *PayoutTransaction) DebitedLedgerID() uuid.UUID { return p.MemberLedgerID }
