package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Error kinds. Every specific error below wraps exactly one of these so
// callers can branch with errors.Is on the kind.
var (
	ErrValidation               = errors.New("validation failed")
	ErrConflict                 = errors.New("conflict")
	ErrInvalidTransition        = errors.New("invalid state transition")
	ErrInsufficientBalance      = errors.New("insufficient balance")
	ErrExternalConfirmationRace = errors.New("duplicate external confirmation")
	ErrNotFound                 = errors.New("not found")
)

var (
	ErrCurrencyMismatch   = fmt.Errorf("%w: currency mismatch", ErrValidation)
	ErrInvalidAmount      = fmt.Errorf("%w: invalid amount", ErrValidation)
	ErrUnknownCategory    = fmt.Errorf("%w: unknown value category", ErrValidation)
	ErrUnrelatedLedger    = fmt.Errorf("%w: ledger is not a party to the transaction", ErrValidation)
	ErrInvalidCategorySet = fmt.Errorf("%w: invalid ledger category set", ErrValidation)
	ErrInvalidRequest     = fmt.Errorf("%w: invalid request", ErrValidation)
	ErrUnknownStrategy    = fmt.Errorf("%w: unknown funding strategy", ErrValidation)

	ErrSameLedgerTransfer = fmt.Errorf("%w: originating and receiving ledger must differ", ErrConflict)
	ErrDuplicateLedger    = fmt.Errorf("%w: ledger already exists for category set", ErrConflict)
	ErrDuplicateRequest   = fmt.Errorf("%w: idempotency key reused with a different request", ErrConflict)

	ErrNoCashLedger = fmt.Errorf("%w: account has no cash ledger", ErrNotFound)
)

type TransitionError struct {
	From, To TransferStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot transition from %s to %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

type InsufficientBalanceError struct {
	LedgerID  uuid.UUID
	Available Money
	Required  Money
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("ledger %s has %s available, %s required", e.LedgerID, e.Available, e.Required)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// Shortfall is how much more the ledger would need.
func (e *InsufficientBalanceError) Shortfall() Money {
	return e.Required.Subtract(e.Available)
}
