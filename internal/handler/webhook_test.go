package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/program-ledger/internal/cache"
	"github.com/josh-kwaku/program-ledger/internal/domain"
)

const testWebhookSecret = "test-secret-key"

type mockWebhookRepo struct {
	created  *domain.WebhookEvent
	calls    int
	err      error
	onCreate func()
}

func (m *mockWebhookRepo) Create(_ context.Context, event *domain.WebhookEvent) error {
	m.calls++
	m.created = event
	if m.onCreate != nil {
		m.onCreate()
	}
	return m.err
}

type stubCache struct {
	claimed  bool
	err      error
	released []string
}

func (c *stubCache) Claim(context.Context, string) (bool, error) { return c.claimed, c.err }

func (c *stubCache) Release(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.released = append(c.released, key)
	return nil
}

func signPayload(body, secret string) string {
	return Sign([]byte(body), secret)
}

func webhookBody(kind, status string) string {
	p := webhookPayload{
		EventID:      uuid.NewString(),
		TransferID:   uuid.NewString(),
		TransferKind: kind,
		Status:       status,
		ProviderRef:  "prov-ref-1",
		Timestamp:    "2026-02-20T00:00:00Z",
	}
	b, _ := json.Marshal(p)
	return string(b)
}

func validWebhookBody() string { return webhookBody("funding", "settled") }

func postWebhook(h *WebhookHandler, body string, sign bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/provider", strings.NewReader(body))
	if sign {
		req.Header.Set(signatureHeader, signPayload(body, testWebhookSecret))
	}
	rr := httptest.NewRecorder()
	h.ReceiveProviderWebhook(rr, req)
	return rr
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp
}

func TestVerifyHMAC(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		signature string
		secret    string
		want      bool
	}{
		{
			name:      "valid signature",
			body:      `{"event_id":"abc"}`,
			signature: signPayload(`{"event_id":"abc"}`, testWebhookSecret),
			secret:    testWebhookSecret,
			want:      true,
		},
		{
			name:      "wrong signature",
			body:      `{"event_id":"abc"}`,
			signature: "deadbeef",
			secret:    testWebhookSecret,
		},
		{
			name:   "empty signature",
			body:   `{"event_id":"abc"}`,
			secret: testWebhookSecret,
		},
		{
			name:      "wrong secret",
			body:      `{"event_id":"abc"}`,
			signature: signPayload(`{"event_id":"abc"}`, "other-secret"),
			secret:    testWebhookSecret,
		},
		{
			name:      "body tampered after signing",
			body:      `{"event_id":"abd"}`,
			signature: signPayload(`{"event_id":"abc"}`, testWebhookSecret),
			secret:    testWebhookSecret,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, verifyHMAC([]byte(tc.body), tc.signature, tc.secret))
		})
	}
}

func TestReceiveProviderWebhook(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		unsigned   bool
		badSig     bool
		repoErr    error
		wantStatus int
		wantCode   string
		wantResult string
	}{
		{name: "valid funding settlement", body: validWebhookBody(), wantStatus: http.StatusOK, wantResult: "received"},
		{name: "valid payout failure", body: webhookBody("payout", "failed"), wantStatus: http.StatusOK, wantResult: "received"},
		{name: "missing signature header", body: validWebhookBody(), unsigned: true, wantStatus: http.StatusUnauthorized, wantCode: "INVALID_SIGNATURE"},
		{name: "invalid HMAC signature", body: validWebhookBody(), badSig: true, wantStatus: http.StatusUnauthorized, wantCode: "INVALID_SIGNATURE"},
		{name: "empty body", body: "", wantStatus: http.StatusBadRequest, wantCode: "INVALID_REQUEST"},
		{name: "invalid JSON body", body: "not-json", wantStatus: http.StatusBadRequest, wantCode: "INVALID_REQUEST"},
		{name: "missing required fields", body: `{"status":"settled"}`, wantStatus: http.StatusBadRequest, wantCode: "VALIDATION_FAILED"},
		{name: "unknown transfer kind", body: webhookBody("refund", "settled"), wantStatus: http.StatusBadRequest, wantCode: "VALIDATION_FAILED"},
		{name: "unknown status", body: webhookBody("funding", "completed"), wantStatus: http.StatusBadRequest, wantCode: "VALIDATION_FAILED"},
		{name: "duplicate in database returns OK", body: validWebhookBody(), repoErr: &pq.Error{Code: "23505"}, wantStatus: http.StatusOK, wantResult: "already_received"},
		{name: "repository error returns 500", body: validWebhookBody(), repoErr: fmt.Errorf("connection refused"), wantStatus: http.StatusInternalServerError, wantCode: "INTERNAL_ERROR"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			repo := &mockWebhookRepo{err: tc.repoErr}
			h := NewWebhookHandler(repo, &stubCache{claimed: true}, testWebhookSecret)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/provider", strings.NewReader(tc.body))
			switch {
			case tc.badSig:
				req.Header.Set(signatureHeader, "deadbeefdeadbeef")
			case !tc.unsigned:
				req.Header.Set(signatureHeader, signPayload(tc.body, testWebhookSecret))
			}
			rr := httptest.NewRecorder()
			h.ReceiveProviderWebhook(rr, req)

			assert.Equal(t, tc.wantStatus, rr.Code)
			resp := decodeResponse(t, rr)

			if tc.wantCode == "" {
				assert.True(t, resp.Success)
				assert.Equal(t, map[string]any{"status": tc.wantResult}, resp.Data)
			} else {
				assert.False(t, resp.Success)
				require.NotNil(t, resp.Error)
				assert.Equal(t, tc.wantCode, resp.Error.Code)
			}
		})
	}
}

func TestReceiveProviderWebhook_StoresCorrectEvent(t *testing.T) {
	repo := &mockWebhookRepo{}
	h := NewWebhookHandler(repo, &stubCache{claimed: true}, testWebhookSecret)

	body := webhookBody("payout", "settled")
	rr := postWebhook(h, body, true)

	require.Equal(t, http.StatusOK, rr.Code)
	require.NotNil(t, repo.created)
	assert.Equal(t, domain.WebhookEventStatusPending, repo.created.Status)
	assert.Equal(t, domain.WebhookEventTypePayoutSettled, repo.created.EventType)
	assert.NotEqual(t, uuid.Nil, repo.created.ID)
	assert.Equal(t, json.RawMessage(body), repo.created.Payload)

	var p webhookPayload
	require.NoError(t, json.Unmarshal([]byte(body), &p))
	assert.Equal(t, p.EventID, repo.created.IdempotencyKey)
}

func TestReceiveProviderWebhook_DeliveryCache(t *testing.T) {
	t.Run("cached duplicate skips the database", func(t *testing.T) {
		repo := &mockWebhookRepo{}
		h := NewWebhookHandler(repo, &stubCache{claimed: false}, testWebhookSecret)

		rr := postWebhook(h, validWebhookBody(), true)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, map[string]any{"status": "already_received"}, decodeResponse(t, rr).Data)
		assert.Zero(t, repo.calls)
	})

	t.Run("cache outage falls back to the database", func(t *testing.T) {
		repo := &mockWebhookRepo{}
		h := NewWebhookHandler(repo, &stubCache{err: errors.New("redis down")}, testWebhookSecret)

		rr := postWebhook(h, validWebhookBody(), true)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, 1, repo.calls)
	})

	t.Run("failed store releases the claim", func(t *testing.T) {
		seen := &stubCache{claimed: true}
		h := NewWebhookHandler(&mockWebhookRepo{err: errors.New("boom")}, seen, testWebhookSecret)

		body := validWebhookBody()
		rr := postWebhook(h, body, true)

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		var p webhookPayload
		require.NoError(t, json.Unmarshal([]byte(body), &p))
		assert.Equal(t, []string{p.EventID}, seen.released)
	})

	t.Run("client disconnect still releases the claim", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		seen := cache.NewDeliveryCache(client, 0)

		body := validWebhookBody()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		// The client goes away while the event is being stored.
		dropped := &mockWebhookRepo{err: context.Canceled, onCreate: cancel}
		req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/provider", strings.NewReader(body)).WithContext(ctx)
		req.Header.Set(signatureHeader, signPayload(body, testWebhookSecret))
		rr := httptest.NewRecorder()
		NewWebhookHandler(dropped, seen, testWebhookSecret).ReceiveProviderWebhook(rr, req)
		assert.Equal(t, http.StatusInternalServerError, rr.Code)

		repo := &mockWebhookRepo{}
		retry := postWebhook(NewWebhookHandler(repo, seen, testWebhookSecret), body, true)
		assert.Equal(t, map[string]any{"status": "received"}, decodeResponse(t, retry).Data)
		assert.Equal(t, 1, repo.calls)
	})

	t.Run("redis-backed redelivery", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })

		repo := &mockWebhookRepo{}
		h := NewWebhookHandler(repo, cache.NewDeliveryCache(client, 0), testWebhookSecret)

		body := validWebhookBody()
		first := postWebhook(h, body, true)
		second := postWebhook(h, body, true)

		assert.Equal(t, map[string]any{"status": "received"}, decodeResponse(t, first).Data)
		assert.Equal(t, map[string]any{"status": "already_received"}, decodeResponse(t, second).Data)
		assert.Equal(t, 1, repo.calls)
	})
}
