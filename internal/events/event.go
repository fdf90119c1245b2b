package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/program-ledger/internal/domain"
)

type Kind string

const (
	KindBookTransactionCreated Kind = "book_transaction.created"
	KindFundingSettled         Kind = "funding_transaction.settled"
	KindFundingFailed          Kind = "funding_transaction.failed"
	KindFundingCanceled        Kind = "funding_transaction.canceled"
	KindPayoutSettled          Kind = "payout_transaction.settled"
	KindPayoutFailed           Kind = "payout_transaction.failed"
	KindPayoutCanceled         Kind = "payout_transaction.canceled"
)

// Event is the notification handed to publishers. It is serialized as JSON
// on every transport.
type Event struct {
	ID         uuid.UUID      `json:"id"`
	Kind       Kind           `json:"kind"`
	OccurredAt time.Time      `json:"occurred_at"`
	SubjectID  uuid.UUID      `json:"subject_id"`
	Actor      string         `json:"actor,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
}

func transferKind(t *domain.Transfer) Kind {
	subject := domain.AuditSubjectFunding
	if t.Kind == domain.TransferKindPayout {
		subject = domain.AuditSubjectPayout
	}
	return Kind(string(subject) + "." + string(t.Status))
}

func bookTransactionEvent(bx *domain.BookTransaction, actor string, at time.Time) Event {
	return Event{
		ID:         uuid.New(),
		Kind:       KindBookTransactionCreated,
		OccurredAt: at,
		SubjectID:  bx.ID,
		Actor:      actor,
		Data: map[string]any{
			"opaque_id":             bx.OpaqueID,
			"originating_ledger_id": bx.OriginatingLedgerID,
			"receiving_ledger_id":   bx.ReceivingLedgerID,
			"amount":                bx.Amount.Amount,
			"currency":              bx.Amount.Currency,
			"category_id":           bx.CategoryID,
			"apply_at":              bx.ApplyAt,
		},
	}
}

func transferEvent(t *domain.Transfer, actor string, at time.Time) Event {
	data := map[string]any{
		"amount":           t.Amount.Amount,
		"currency":         t.Amount.Currency,
		"member_ledger_id": t.MemberLedgerID,
		"strategy":         t.Strategy,
	}
	if t.OriginatedBookTransactionID != nil {
		data["book_transaction_id"] = *t.OriginatedBookTransactionID
	}
	if t.FailureReason != nil {
		data["reason"] = *t.FailureReason
	}
	return Event{
		ID:         uuid.New(),
		Kind:       transferKind(t),
		OccurredAt: at,
		SubjectID:  t.ID,
		Actor:      actor,
		Data:       data,
	}
}
