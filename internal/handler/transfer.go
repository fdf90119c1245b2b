package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/program-ledger/internal/domain"
)

type transferGetter interface {
	Get(ctx context.Context, kind domain.TransferKind, id uuid.UUID) (*domain.Transfer, error)
}

// TransferHandler serves read-only status lookups for funding and payout
// transactions, used to reconcile with the provider.
type TransferHandler struct {
	transfers transferGetter
}

func NewTransferHandler(transfers transferGetter) *TransferHandler {
	return &TransferHandler{transfers: transfers}
}

type transferResponse struct {
	ID                string     `json:"id"`
	Kind              string     `json:"kind"`
	Status            string     `json:"status"`
	Amount            int64      `json:"amount"`
	Currency          string     `json:"currency"`
	Strategy          string     `json:"strategy"`
	ExternalRef       *string    `json:"external_ref,omitempty"`
	MemberLedgerID    string     `json:"member_ledger_id"`
	BookTransactionID *string    `json:"book_transaction_id,omitempty"`
	FailureReason     *string    `json:"failure_reason,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	SettledAt         *time.Time `json:"settled_at,omitempty"`
}

func toTransferResponse(t *domain.Transfer) transferResponse {
	resp := transferResponse{
		ID:             t.ID.String(),
		Kind:           string(t.Kind),
		Status:         string(t.Status),
		Amount:         t.Amount.Amount,
		Currency:       t.Amount.Currency,
		Strategy:       string(t.Strategy),
		ExternalRef:    t.ExternalRef,
		MemberLedgerID: t.MemberLedgerID.String(),
		FailureReason:  t.FailureReason,
		CreatedAt:      t.CreatedAt,
		SettledAt:      t.SettledAt,
	}
	if t.OriginatedBookTransactionID != nil {
		id := t.OriginatedBookTransactionID.String()
		resp.BookTransactionID = &id
	}
	return resp
}

func (h *TransferHandler) Get(w http.ResponseWriter, r *http.Request) {
	kind := domain.TransferKind(r.PathValue("kind"))
	if kind != domain.TransferKindFunding && kind != domain.TransferKindPayout {
		RespondValidationError(w, []FieldError{{Field: "kind", Message: "must be funding or payout"}})
		return
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		RespondValidationError(w, []FieldError{{Field: "id", Message: "must be a valid UUID"}})
		return
	}

	t, err := h.transfers.Get(r.Context(), kind, id)
	if err != nil {
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, toTransferResponse(t))
}
