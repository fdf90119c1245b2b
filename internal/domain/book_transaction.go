package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.jetify.com/typeid/v2"
)

const bookTransactionIDPrefix = "bx"

type BookTransaction struct {
	ID                  uuid.UUID
	OpaqueID            string
	CreatedAt           time.Time
	ApplyAt             time.Time
	OriginatingLedgerID uuid.UUID
	ReceivingLedgerID   uuid.UUID
	Amount              Money
	CategoryID          uuid.UUID
	Memo                string
}

type BookTransactionParams struct {
	Originating *Ledger
	Receiving   *Ledger
	Amount      Money
	CategoryID  uuid.UUID
	Memo        string
	ApplyAt     time.Time
}

func (p BookTransactionParams) Validate(tree *CategoryTree) error {
	if p.Originating == nil || p.Receiving == nil {
		return fmt.Errorf("Validate: both ledgers required: %w", ErrInvalidRequest)
	}
	if p.Amount.IsNegative() {
		return fmt.Errorf("Validate: %s: %w", p.Amount, ErrInvalidAmount)
	}
	if p.Amount.Currency != p.Originating.Currency || p.Amount.Currency != p.Receiving.Currency {
		return fmt.Errorf("Validate: %s between %s and %s ledgers: %w",
			p.Amount.Currency, p.Originating.Currency, p.Receiving.Currency, ErrCurrencyMismatch)
	}
	if _, ok := tree.Get(p.CategoryID); !ok {
		return fmt.Errorf("Validate: %s: %w", p.CategoryID, ErrUnknownCategory)
	}
	if p.Originating.ID == p.Receiving.ID {
		return fmt.Errorf("Validate: %w", ErrSameLedgerTransfer)
	}
	return nil
}

// NewBookTransaction validates p and builds the record to persist. A zero
// ApplyAt means the transaction applies immediately.
func NewBookTransaction(tree *CategoryTree, p BookTransactionParams, now time.Time) (*BookTransaction, error) {
	if err := p.Validate(tree); err != nil {
		return nil, fmt.Errorf("NewBookTransaction: %w", err)
	}
	opaque, err := NewOpaqueID()
	if err != nil {
		return nil, fmt.Errorf("NewBookTransaction: %w", err)
	}
	applyAt := p.ApplyAt
	if applyAt.IsZero() {
		applyAt = now
	}
	return &BookTransaction{
		ID:                  uuid.New(),
		OpaqueID:            opaque,
		CreatedAt:           now,
		ApplyAt:             applyAt,
		OriginatingLedgerID: p.Originating.ID,
		ReceivingLedgerID:   p.Receiving.ID,
		Amount:              p.Amount,
		CategoryID:          p.CategoryID,
		Memo:                p.Memo,
	}, nil
}

func NewOpaqueID() (string, error) {
	tid, err := typeid.Generate(bookTransactionIDPrefix)
	if err != nil {
		return "", fmt.Errorf("NewOpaqueID: %w", err)
	}
	return tid.String(), nil
}

func ValidateOpaqueID(s string) error {
	tid, err := typeid.Parse(s)
	if err != nil {
		return fmt.Errorf("ValidateOpaqueID: %w: %v", ErrInvalidRequest, err)
	}
	if tid.Prefix() != bookTransactionIDPrefix {
		return fmt.Errorf("ValidateOpaqueID: prefix %q: %w", tid.Prefix(), ErrInvalidRequest)
	}
	return nil
}

// DirectedBookTransaction is a BookTransaction seen from one of its ledgers.
// It is computed on demand and never stored.
type DirectedBookTransaction struct {
	BookTransaction
	RelativeTo   uuid.UUID
	SignedAmount Money
}

func (bx BookTransaction) Directed(relativeTo uuid.UUID) (DirectedBookTransaction, error) {
	var signed Money
	switch relativeTo {
	case bx.OriginatingLedgerID:
		signed = bx.Amount.Negate()
	case bx.ReceivingLedgerID:
		signed = bx.Amount
	default:
		return DirectedBookTransaction{}, fmt.Errorf("Directed: %s: %w", relativeTo, ErrUnrelatedLedger)
	}
	return DirectedBookTransaction{BookTransaction: bx, RelativeTo: relativeTo, SignedAmount: signed}, nil
}

func (d DirectedBookTransaction) IsInbound() bool { return d.RelativeTo == d.ReceivingLedgerID }

// CounterpartyLedgerID is the other side of the transfer.
func (d DirectedBookTransaction) CounterpartyLedgerID() uuid.UUID {
	if d.RelativeTo == d.OriginatingLedgerID {
		return d.ReceivingLedgerID
	}
	return d.OriginatingLedgerID
}

func (bx BookTransaction) DebugDescription() string {
	return fmt.Sprintf("BookTransaction[%s] for %s from %s to %s applied %s (%s)",
		bx.OpaqueID, bx.Amount, bx.OriginatingLedgerID, bx.ReceivingLedgerID,
		bx.ApplyAt.Format(time.RFC3339), bx.Memo)
}
