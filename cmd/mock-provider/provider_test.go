package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/program-ledger/internal/handler"
)

func TestOutcome(t *testing.T) {
	tests := []struct {
		amount     int64
		wantStatus string
	}{
		{amount: 1000, wantStatus: "settled"},
		{amount: 1013, wantStatus: "failed"},
		{amount: 13, wantStatus: "failed"},
		{amount: 113, wantStatus: "failed"},
		{amount: 1314, wantStatus: "settled"},
	}
	for _, tt := range tests {
		status, _ := outcome(tt.amount)
		assert.Equal(t, tt.wantStatus, status, "amount %d", tt.amount)
	}
}

func TestProvider_AcceptsAndConfirms(t *testing.T) {
	got := make(chan callback, 1)
	callbackSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, handler.Sign(body, "secret"), r.Header.Get("X-Webhook-Signature"))
		var cb callback
		_ = json.Unmarshal(body, &cb)
		got <- cb
	}))
	defer callbackSrv.Close()

	p := newProvider(providerConfig{
		WebhookSecret:   "secret",
		WebhookDelay:    10 * time.Millisecond,
		CallbackTimeout: time.Second,
		CallbackRetries: 1,
	}, callbackSrv.Client())
	srv := httptest.NewServer(p.routes())
	defer srv.Close()

	ref := uuid.NewString()
	body := `{"reference":"` + ref + `","transfer_kind":"payout","amount":2513,"currency":"USD","instrument_ref":"bank-1","callback_url":"` + callbackSrv.URL + `"}`

	resp, err := http.Post(srv.URL+"/transfers", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var accepted map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&accepted))
	assert.True(t, strings.HasPrefix(accepted["reference"], "tr_"))

	select {
	case cb := <-got:
		assert.Equal(t, ref, cb.TransferID)
		assert.Equal(t, "payout", cb.TransferKind)
		assert.Equal(t, "failed", cb.Status)
		assert.Equal(t, accepted["reference"], cb.ProviderRef)
	case <-time.After(5 * time.Second):
		t.Fatal("no webhook received")
	}
}

func TestProvider_Rejections(t *testing.T) {
	p := newProvider(providerConfig{WebhookDelay: time.Hour}, http.DefaultClient)
	srv := httptest.NewServer(p.routes())
	defer srv.Close()

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantReason string
	}{
		{name: "malformed", body: "{", wantStatus: http.StatusBadRequest, wantReason: "malformed_request"},
		{name: "bad reference", body: `{"reference":"x","amount":10}`, wantStatus: http.StatusBadRequest, wantReason: "invalid_request"},
		{name: "declined instrument", body: `{"reference":"` + uuid.NewString() + `","amount":10,"instrument_ref":"declined-card"}`, wantStatus: http.StatusUnprocessableEntity, wantReason: "instrument_declined"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+"/cards/charges", "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			var out map[string]string
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
			assert.Equal(t, tt.wantReason, out["reason"])
		})
	}
}

func TestProvider_IdempotentReference(t *testing.T) {
	p := newProvider(providerConfig{WebhookDelay: time.Hour}, http.DefaultClient)

	first, replay := p.reference("ch", "key-1")
	assert.False(t, replay)
	again, replay := p.reference("ch", "key-1")
	assert.True(t, replay)
	assert.Equal(t, first, again)
}
