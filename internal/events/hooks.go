package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/program-ledger/internal/domain"
	"github.com/josh-kwaku/program-ledger/internal/logging"
)

type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Name() string
}

type auditAppender interface {
	Append(ctx context.Context, entry *domain.AuditLog) error
}

const publishTimeout = 5 * time.Second

// Hooks runs the side effects that follow a committed ledger change: one
// audit log row and a notification to every publisher. Failures are logged
// and never returned; the ledger change has already committed.
//
// A nil *Hooks does nothing.
type Hooks struct {
	audit      auditAppender
	publishers []Publisher
	now        func() time.Time
}

func NewHooks(audit auditAppender, publishers ...Publisher) *Hooks {
	return &Hooks{
		audit:      audit,
		publishers: publishers,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (h *Hooks) BookTransactionCreated(ctx context.Context, bx *domain.BookTransaction, actor string) {
	if h == nil {
		return
	}
	now := h.now()
	h.appendAudit(ctx, &domain.AuditLog{
		ID:          uuid.New(),
		At:          now,
		Event:       "created",
		Actor:       actor,
		SubjectType: domain.AuditSubjectBookTransaction,
		SubjectID:   bx.ID,
		Messages:    messages(bx.DebugDescription()),
	})
	h.publish(ctx, bookTransactionEvent(bx, actor, now))
}

// TransferTransitioned records every state change of a funding or payout
// transaction. Only terminal states are published.
func (h *Hooks) TransferTransitioned(ctx context.Context, t *domain.Transfer, from domain.TransferStatus, actor string) {
	if h == nil {
		return
	}
	now := h.now()
	subject := domain.AuditSubjectFunding
	if t.Kind == domain.TransferKindPayout {
		subject = domain.AuditSubjectPayout
	}
	var reason string
	if t.FailureReason != nil {
		reason = *t.FailureReason
	}
	h.appendAudit(ctx, &domain.AuditLog{
		ID:          uuid.New(),
		At:          now,
		Event:       string(t.Status),
		FromState:   string(from),
		ToState:     string(t.Status),
		Reason:      reason,
		Actor:       actor,
		SubjectType: subject,
		SubjectID:   t.ID,
	})
	if t.Status.IsTerminal() {
		h.publish(ctx, transferEvent(t, actor, now))
	}
}

func (h *Hooks) appendAudit(ctx context.Context, entry *domain.AuditLog) {
	if h.audit == nil {
		return
	}
	if entry.Actor == "" {
		entry.Actor = domain.ActorSystem
	}
	if err := h.audit.Append(context.WithoutCancel(ctx), entry); err != nil {
		logging.FromContext(ctx).Error("audit log append failed",
			"subject_type", entry.SubjectType,
			"subject_id", entry.SubjectID,
			"event", entry.Event,
			"error", err,
		)
	}
}

func (h *Hooks) publish(ctx context.Context, e Event) {
	log := logging.FromContext(ctx)
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	for _, p := range h.publishers {
		if err := p.Publish(pctx, e); err != nil {
			log.Error("event publish failed",
				"publisher", p.Name(),
				"event_kind", e.Kind,
				"subject_id", e.SubjectID,
				"error", err,
			)
		}
	}
}

func messages(msgs ...string) json.RawMessage {
	b, err := json.Marshal(msgs)
	if err != nil {
		slog.Error("failed to encode audit messages", "error", err)
		return json.RawMessage("[]")
	}
	return b
}
