package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type WebhookEventStatus string

const (
	WebhookEventStatusPending    WebhookEventStatus = "pending"
	WebhookEventStatusProcessing WebhookEventStatus = "processing"
	WebhookEventStatusDispatched WebhookEventStatus = "dispatched"
	WebhookEventStatusFailed     WebhookEventStatus = "failed"
)

type WebhookEventType string

const (
	WebhookEventTypeFundingSettled WebhookEventType = "funding.settled"
	WebhookEventTypeFundingFailed  WebhookEventType = "funding.failed"
	WebhookEventTypePayoutSettled  WebhookEventType = "payout.settled"
	WebhookEventTypePayoutFailed   WebhookEventType = "payout.failed"
)

func WebhookEventTypeFor(kind TransferKind, status string) WebhookEventType {
	return WebhookEventType(string(kind) + "." + status)
}

type WebhookEvent struct {
	ID             uuid.UUID
	IdempotencyKey string
	EventType      WebhookEventType
	Payload        json.RawMessage
	Status         WebhookEventStatus
	Attempts       int
	LastAttempt    *time.Time
	CreatedAt      time.Time
}
