package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/program-ledger/internal/domain"
	"github.com/josh-kwaku/program-ledger/internal/logging"
	"github.com/josh-kwaku/program-ledger/internal/repository"
)

const signatureHeader = "X-Webhook-Signature"

type webhookEventRepository interface {
	Create(ctx context.Context, event *domain.WebhookEvent) error
}

type deliveryCache interface {
	Claim(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

type WebhookHandler struct {
	webhooks webhookEventRepository
	seen     deliveryCache
	secret   string
}

func NewWebhookHandler(webhooks webhookEventRepository, seen deliveryCache, secret string) *WebhookHandler {
	return &WebhookHandler{webhooks: webhooks, seen: seen, secret: secret}
}

type webhookPayload struct {
	EventID      string `json:"event_id"`
	TransferID   string `json:"transfer_id"`
	TransferKind string `json:"transfer_kind"`
	Status       string `json:"status"`
	ProviderRef  string `json:"provider_ref,omitempty"`
	Reason       string `json:"reason,omitempty"`
	Timestamp    string `json:"timestamp,omitempty"`
}

func (p webhookPayload) validate() []FieldError {
	var errs []FieldError

	if p.EventID == "" {
		errs = append(errs, FieldError{Field: "event_id", Message: "required"})
	} else if _, err := uuid.Parse(p.EventID); err != nil {
		errs = append(errs, FieldError{Field: "event_id", Message: "must be a valid UUID"})
	}

	if p.TransferID == "" {
		errs = append(errs, FieldError{Field: "transfer_id", Message: "required"})
	} else if _, err := uuid.Parse(p.TransferID); err != nil {
		errs = append(errs, FieldError{Field: "transfer_id", Message: "must be a valid UUID"})
	}

	switch domain.TransferKind(p.TransferKind) {
	case domain.TransferKindFunding, domain.TransferKindPayout:
	case "":
		errs = append(errs, FieldError{Field: "transfer_kind", Message: "required"})
	default:
		errs = append(errs, FieldError{Field: "transfer_kind", Message: "must be funding or payout"})
	}

	if p.Status == "" {
		errs = append(errs, FieldError{Field: "status", Message: "required"})
	} else if p.Status != "settled" && p.Status != "failed" {
		errs = append(errs, FieldError{Field: "status", Message: "must be settled or failed"})
	}

	return errs
}

func (p webhookPayload) eventType() domain.WebhookEventType {
	return domain.WebhookEventTypeFor(domain.TransferKind(p.TransferKind), p.Status)
}

func (h *WebhookHandler) ReceiveProviderWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logging.FromContext(ctx)

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		log.Error("failed to read webhook body", "error", err)
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	if !verifyHMAC(body, r.Header.Get(signatureHeader), h.secret) {
		log.Warn("webhook signature verification failed")
		RespondAppError(w, ErrInvalidSignature, nil)
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		log.Warn("failed to parse webhook payload", "error", err)
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	if fields := payload.validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	log = log.With("provider_event_id", payload.EventID, "transfer_id", payload.TransferID)

	first, err := h.seen.Claim(ctx, payload.EventID)
	if err != nil {
		// Postgres still dedups on idempotency_key.
		log.Warn("delivery cache unavailable", "error", err)
		first = true
	}
	if !first {
		log.Info("duplicate webhook received", "source", "cache")
		RespondSuccess(w, http.StatusOK, map[string]string{"status": "already_received"})
		return
	}

	event := &domain.WebhookEvent{
		ID:             uuid.New(),
		IdempotencyKey: payload.EventID,
		EventType:      payload.eventType(),
		Payload:        body,
		Status:         domain.WebhookEventStatusPending,
		CreatedAt:      time.Now().UTC(),
	}

	if err := h.webhooks.Create(ctx, event); err != nil {
		if repository.IsUniqueViolation(err) {
			log.Info("duplicate webhook received", "source", "database")
			RespondSuccess(w, http.StatusOK, map[string]string{"status": "already_received"})
			return
		}
		// The provider retries on 5xx; the claim must go even if the client
		// already hung up.
		if relErr := h.seen.Release(context.WithoutCancel(ctx), payload.EventID); relErr != nil {
			log.Warn("failed to release delivery claim", "error", relErr)
		}
		log.Error("failed to store webhook event", "error", err)
		RespondAppError(w, ErrInternalError, nil)
		return
	}

	log.Info("webhook event stored",
		"webhook_event_id", event.ID,
		"event_type", event.EventType,
	)

	RespondSuccess(w, http.StatusOK, map[string]string{"status": "received"})
}

// Sign returns the hex HMAC-SHA256 of body, as sent in X-Webhook-Signature.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func verifyHMAC(body []byte, signature, secret string) bool {
	if signature == "" {
		return false
	}
	return hmac.Equal([]byte(Sign(body, secret)), []byte(signature))
}
