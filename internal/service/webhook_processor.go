package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/program-ledger/internal/domain"
	"github.com/josh-kwaku/program-ledger/internal/logging"
)

// ActorProvider is recorded on audit rows for transitions driven by
// provider webhooks.
const ActorProvider = "provider_webhook"

type webhookRepo interface {
	ClaimPending(ctx context.Context, limit int, lease time.Duration) ([]domain.WebhookEvent, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.WebhookEventStatus) error
	Release(ctx context.Context, id uuid.UUID, maxAttempts int) (domain.WebhookEventStatus, error)
	Unclaim(ctx context.Context, id uuid.UUID) error
}

type transferSettler interface {
	MarkSettled(ctx context.Context, id uuid.UUID, externalRef, actor string) (*domain.FundingTransaction, error)
	MarkFailed(ctx context.Context, id uuid.UUID, reason, actor string) (*domain.FundingTransaction, error)
	MarkPayoutSettled(ctx context.Context, id uuid.UUID, externalRef, actor string) (*domain.PayoutTransaction, error)
	MarkPayoutFailed(ctx context.Context, id uuid.UUID, reason, actor string) (*domain.PayoutTransaction, error)
}

// WebhookProcessor drains stored provider webhooks into the funding and
// payout state machines. A claimed event always ends in a recorded outcome
// or back in the queue; claims abandoned by a crash are picked up again
// once their lease runs out.
type WebhookProcessor struct {
	webhooks    webhookRepo
	transfers   transferSettler
	logger      *slog.Logger
	interval    time.Duration
	lease       time.Duration
	batchSize   int
	maxAttempts int
}

func NewWebhookProcessor(
	webhooks webhookRepo,
	transfers transferSettler,
	logger *slog.Logger,
	interval time.Duration,
	lease time.Duration,
	maxAttempts int,
) *WebhookProcessor {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &WebhookProcessor{
		webhooks:    webhooks,
		transfers:   transfers,
		logger:      logger,
		interval:    interval,
		lease:       lease,
		batchSize:   10,
		maxAttempts: maxAttempts,
	}
}

func (p *WebhookProcessor) Start(ctx context.Context) {
	p.logger.Info("webhook processor started", "interval", p.interval, "lease", p.lease, "max_attempts", p.maxAttempts)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("webhook processor stopped")
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *WebhookProcessor) poll(ctx context.Context) {
	events, err := p.webhooks.ClaimPending(ctx, p.batchSize, p.lease)
	if err != nil {
		p.logger.Error("failed to claim pending webhook events", "error", err)
		return
	}

	for i, event := range events {
		if ctx.Err() != nil {
			p.unclaim(ctx, events[i:])
			return
		}
		if err := p.processEvent(ctx, event); err != nil {
			p.logger.Error("failed to process webhook event",
				"webhook_event_id", event.ID,
				"error", err,
			)
		}
	}
}

type webhookCallbackPayload struct {
	EventID      string `json:"event_id"`
	TransferID   string `json:"transfer_id"`
	TransferKind string `json:"transfer_kind"`
	Status       string `json:"status"`
	ProviderRef  string `json:"provider_ref,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// unclaim returns events that were claimed but not started to the queue.
func (p *WebhookProcessor) unclaim(ctx context.Context, events []domain.WebhookEvent) {
	record := context.WithoutCancel(ctx)
	for _, event := range events {
		if err := p.webhooks.Unclaim(record, event.ID); err != nil {
			p.logger.Error("failed to unclaim webhook event", "webhook_event_id", event.ID, "error", err)
		}
	}
}

// processEvent applies one claimed event and records its outcome. Only a
// failure to record the outcome is returned. Outcomes are recorded even
// when ctx has been canceled: an event left in processing would sit out its
// whole lease.
func (p *WebhookProcessor) processEvent(ctx context.Context, event domain.WebhookEvent) error {
	log := p.logger.With("webhook_event_id", event.ID)
	ctx = logging.WithLogger(ctx, log)
	record := context.WithoutCancel(ctx)

	var payload webhookCallbackPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		log.Error("malformed webhook payload", "error", err)
		return p.webhooks.UpdateStatus(record, event.ID, domain.WebhookEventStatusFailed)
	}

	transferID, err := uuid.Parse(payload.TransferID)
	if err != nil {
		log.Error("invalid transfer_id in webhook", "transfer_id", payload.TransferID)
		return p.webhooks.UpdateStatus(record, event.ID, domain.WebhookEventStatusFailed)
	}
	log = log.With("transfer_id", transferID, "transfer_kind", payload.TransferKind)
	ctx = logging.WithLogger(ctx, log)

	err = p.apply(ctx, transferID, payload)
	switch {
	case err == nil:
		return p.webhooks.UpdateStatus(record, event.ID, domain.WebhookEventStatusDispatched)
	case ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		log.Info("webhook processing interrupted, returning to queue", "error", err)
		return p.webhooks.Unclaim(record, event.ID)
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrNotFound):
		log.Warn("webhook cannot be applied", "status", payload.Status, "error", err)
		return p.webhooks.UpdateStatus(record, event.ID, domain.WebhookEventStatusFailed)
	case errors.Is(err, domain.ErrInsufficientBalance):
		log.Error("payout settlement exceeds member balance", "error", err)
		return p.webhooks.UpdateStatus(record, event.ID, domain.WebhookEventStatusFailed)
	}

	status, relErr := p.webhooks.Release(record, event.ID, p.maxAttempts)
	if relErr != nil {
		return fmt.Errorf("processEvent: release after %v: %w", err, relErr)
	}
	log.Warn("webhook processing failed, released", "next_status", status, "error", err)
	return nil
}

func (p *WebhookProcessor) apply(ctx context.Context, id uuid.UUID, payload webhookCallbackPayload) error {
	var err error
	switch domain.TransferKind(payload.TransferKind) {
	case domain.TransferKindFunding:
		switch payload.Status {
		case "settled":
			_, err = p.transfers.MarkSettled(ctx, id, payload.ProviderRef, ActorProvider)
		case "failed":
			_, err = p.transfers.MarkFailed(ctx, id, failureReason(payload), ActorProvider)
		default:
			err = fmt.Errorf("%w: unknown status %q", domain.ErrInvalidRequest, payload.Status)
		}
	case domain.TransferKindPayout:
		switch payload.Status {
		case "settled":
			_, err = p.transfers.MarkPayoutSettled(ctx, id, payload.ProviderRef, ActorProvider)
		case "failed":
			_, err = p.transfers.MarkPayoutFailed(ctx, id, failureReason(payload), ActorProvider)
		default:
			err = fmt.Errorf("%w: unknown status %q", domain.ErrInvalidRequest, payload.Status)
		}
	default:
		err = fmt.Errorf("%w: unknown transfer kind %q", domain.ErrInvalidRequest, payload.TransferKind)
	}
	return err
}

func failureReason(payload webhookCallbackPayload) string {
	if payload.Reason != "" {
		return payload.Reason
	}
	return "provider_reported_failure"
}
