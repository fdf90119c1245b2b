package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/josh-kwaku/program-ledger/internal/logging"
	"github.com/josh-kwaku/program-ledger/internal/service/funding"
)

// ProviderClient talks to the external payment provider. It backs both the
// bank transfer and the card strategy.
type ProviderClient struct {
	baseURL     string
	callbackURL string
	httpClient  *http.Client
}

func NewProviderClient(baseURL, callbackURL string) *ProviderClient {
	return &ProviderClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		callbackURL: callbackURL,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

type providerPayload struct {
	Reference     string `json:"reference"`
	TransferKind  string `json:"transfer_kind"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	InstrumentRef string `json:"instrument_ref"`
	CallbackURL   string `json:"callback_url"`
}

type providerResponse struct {
	Reference string `json:"reference"`
	Reason    string `json:"reason,omitempty"`
}

func (c *ProviderClient) SubmitTransfer(ctx context.Context, req funding.GatewayRequest) (string, error) {
	ref, err := c.post(ctx, "/transfers", req)
	if err != nil {
		return "", fmt.Errorf("SubmitTransfer: %w", err)
	}
	return ref, nil
}

func (c *ProviderClient) ChargeCard(ctx context.Context, req funding.GatewayRequest) (string, error) {
	ref, err := c.post(ctx, "/cards/charges", req)
	if err != nil {
		return "", fmt.Errorf("ChargeCard: %w", err)
	}
	return ref, nil
}

func (c *ProviderClient) post(ctx context.Context, path string, req funding.GatewayRequest) (string, error) {
	log := logging.FromContext(ctx)

	body, err := json.Marshal(providerPayload{
		Reference:     req.Reference,
		TransferKind:  string(req.Kind),
		Amount:        req.Amount.Amount,
		Currency:      req.Amount.Currency,
		InstrumentRef: req.InstrumentRef,
		CallbackURL:   c.callbackURL,
	})
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.Reference)

	start := time.Now()
	log.Info("provider request sent", "provider", "mock_provider", "path", path, "reference", req.Reference)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	log.Info("provider response received",
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode == http.StatusAccepted:
		var out providerResponse
		if err := json.Unmarshal(respBody, &out); err != nil {
			return "", fmt.Errorf("decode response: %w", err)
		}
		if out.Reference == "" {
			return "", fmt.Errorf("provider returned no reference")
		}
		return out.Reference, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		var out providerResponse
		_ = json.Unmarshal(respBody, &out)
		if !definitiveRejection(resp.StatusCode, out.Reason) {
			return "", fmt.Errorf("provider status %d: %s", resp.StatusCode, string(respBody))
		}
		reason := out.Reason
		if reason == "" {
			reason = fmt.Sprintf("provider_status_%d", resp.StatusCode)
		}
		return "", &funding.RejectedError{Reason: reason}
	default:
		return "", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
}

// definitiveRejection reports whether a 4xx response means the provider
// will never accept this transfer. Timeouts, conflicts and rate limits are
// retried under the same idempotency key instead.
func definitiveRejection(status int, reason string) bool {
	switch status {
	case http.StatusRequestTimeout, http.StatusConflict, http.StatusTooEarly, http.StatusTooManyRequests:
		return false
	case http.StatusBadRequest, http.StatusPaymentRequired, http.StatusUnprocessableEntity:
		return true
	}
	return reason != ""
}
