package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/program-ledger/internal/domain"
)

type stubTransfers struct {
	transfer *domain.Transfer
	err      error
}

func (s stubTransfers) Get(context.Context, domain.TransferKind, uuid.UUID) (*domain.Transfer, error) {
	return s.transfer, s.err
}

func serveTransfer(h *TransferHandler, path string) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/transfers/{kind}/{id}", h.Get)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func TestTransferHandler_Get(t *testing.T) {
	bxID := uuid.New()
	settled := &domain.Transfer{
		ID:                          uuid.New(),
		Kind:                        domain.TransferKindFunding,
		Status:                      domain.TransferStatusSettled,
		Amount:                      domain.USD(2500),
		Strategy:                    domain.StrategyBankTransfer,
		MemberLedgerID:              uuid.New(),
		OriginatedBookTransactionID: &bxID,
		CreatedAt:                   time.Now().UTC(),
	}

	rr := serveTransfer(NewTransferHandler(stubTransfers{transfer: settled}), "/api/v1/transfers/funding/"+settled.ID.String())
	require.Equal(t, http.StatusOK, rr.Code)

	data, ok := decodeResponse(t, rr).Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "settled", data["status"])
	assert.Equal(t, float64(2500), data["amount"])
	assert.Equal(t, bxID.String(), data["book_transaction_id"])
}

func TestTransferHandler_Errors(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{name: "bad kind", path: "/api/v1/transfers/refund/" + uuid.NewString(), wantStatus: http.StatusBadRequest, wantCode: "VALIDATION_FAILED"},
		{name: "bad id", path: "/api/v1/transfers/payout/nope", wantStatus: http.StatusBadRequest, wantCode: "VALIDATION_FAILED"},
		{name: "not found", path: "/api/v1/transfers/payout/" + uuid.NewString(), err: domain.ErrNotFound, wantStatus: http.StatusNotFound, wantCode: "RESOURCE_NOT_FOUND"},
		{name: "unexpected", path: "/api/v1/transfers/funding/" + uuid.NewString(), err: errors.New("db down"), wantStatus: http.StatusInternalServerError, wantCode: "INTERNAL_ERROR"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := serveTransfer(NewTransferHandler(stubTransfers{err: tc.err}), tc.path)
			assert.Equal(t, tc.wantStatus, rr.Code)
			resp := decodeResponse(t, rr)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tc.wantCode, resp.Error.Code)
		})
	}
}

func TestRespondDomainError(t *testing.T) {
	tests := []struct {
		err      error
		wantCode string
	}{
		{err: domain.ErrNoCashLedger, wantCode: "RESOURCE_NOT_FOUND"},
		{err: domain.ErrCurrencyMismatch, wantCode: "CURRENCY_MISMATCH"},
		{err: domain.ErrInvalidAmount, wantCode: "INVALID_REQUEST"},
		{err: &domain.TransitionError{From: domain.TransferStatusSettled, To: domain.TransferStatusFailed}, wantCode: "INVALID_TRANSITION"},
		{err: &domain.InsufficientBalanceError{Available: domain.USD(1), Required: domain.USD(2)}, wantCode: "INSUFFICIENT_BALANCE"},
		{err: domain.ErrDuplicateRequest, wantCode: "CONFLICT"},
	}

	for _, tc := range tests {
		t.Run(tc.wantCode, func(t *testing.T) {
			rr := httptest.NewRecorder()
			RespondDomainError(rr, tc.err)
			resp := decodeResponse(t, rr)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tc.wantCode, resp.Error.Code)
		})
	}
}
