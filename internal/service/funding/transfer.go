package funding

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/josh-kwaku/program-ledger/internal/domain"
	"github.com/josh-kwaku/program-ledger/internal/logging"
	"github.com/josh-kwaku/program-ledger/internal/repository"
	"github.com/josh-kwaku/program-ledger/internal/service/ledger"
)

type CreateRequest struct {
	AccountID      uuid.UUID
	Amount         domain.Money
	InstrumentRef  string
	CategoryID     uuid.UUID
	Strategy       domain.StrategyKind
	Memo           string
	IdempotencyKey string
	Actor          string
}

func (s *Service) create(ctx context.Context, repo transferRepo, req CreateRequest) (*domain.Transfer, error) {
	log := logging.FromContext(ctx)
	kind := repo.Kind()

	if err := s.validateCreate(ctx, kind, &req); err != nil {
		return nil, err
	}

	if req.IdempotencyKey != "" {
		existing, err := s.checkIdempotency(ctx, repo, req)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			log.Info("idempotent replay", "transfer_id", existing.ID, "kind", kind, "idempotency_key", req.IdempotencyKey)
			return existing, nil
		}
	}

	member, err := s.ledgers.EnsureCashLedger(ctx, req.AccountID, req.Amount.Currency)
	if err != nil {
		return nil, err
	}
	platform, err := s.ledgers.EnsurePlatformLedger(ctx, req.Amount.Currency)
	if err != nil {
		return nil, err
	}
	if member.ID == platform.ID {
		return nil, fmt.Errorf("platform account cannot fund itself: %w", domain.ErrSameLedgerTransfer)
	}

	now := s.now()
	if kind == domain.TransferKindPayout {
		// Advisory only; settlement checks again under the balance lock.
		balance, err := s.ledgers.BalanceAsOf(ctx, member.ID, now)
		if err != nil {
			return nil, err
		}
		if balance.Compare(req.Amount) < 0 {
			return nil, &domain.InsufficientBalanceError{LedgerID: member.ID, Available: balance, Required: req.Amount}
		}
	}

	t := &domain.Transfer{
		ID:               uuid.New(),
		Kind:             kind,
		Status:           domain.TransferStatusCreated,
		Amount:           req.Amount,
		InstrumentRef:    req.InstrumentRef,
		Strategy:         req.Strategy,
		MemberLedgerID:   member.ID,
		PlatformLedgerID: platform.ID,
		CategoryID:       req.CategoryID,
		Memo:             req.Memo,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if req.IdempotencyKey != "" {
		key := req.IdempotencyKey
		t.IdempotencyKey = &key
	}

	if err := repo.Create(ctx, t); err != nil {
		if errors.Is(err, domain.ErrDuplicateRequest) && req.IdempotencyKey != "" {
			existing, idemErr := s.checkIdempotency(ctx, repo, req)
			if idemErr != nil {
				return nil, idemErr
			}
			if existing != nil {
				log.Info("idempotent replay (race)", "transfer_id", existing.ID, "kind", kind, "idempotency_key", req.IdempotencyKey)
				return existing, nil
			}
		}
		return nil, err
	}

	log.Info("transfer created",
		"transfer_id", t.ID,
		"kind", kind,
		"member_ledger_id", member.ID,
		"amount", t.Amount.Amount,
		"currency", t.Amount.Currency,
		"strategy", t.Strategy,
	)
	s.hooks.TransferTransitioned(ctx, t, "", req.Actor)
	return t, nil
}

func (s *Service) validateCreate(ctx context.Context, kind domain.TransferKind, req *CreateRequest) error {
	if req.AccountID == uuid.Nil {
		return fmt.Errorf("validateCreate: account required: %w", domain.ErrInvalidRequest)
	}
	if !req.Amount.IsPositive() {
		return fmt.Errorf("validateCreate: %s: %w", req.Amount, domain.ErrInvalidAmount)
	}
	if len(req.Amount.Currency) != 3 {
		return fmt.Errorf("validateCreate: currency %q: %w", req.Amount.Currency, domain.ErrInvalidRequest)
	}
	req.InstrumentRef = strings.TrimSpace(req.InstrumentRef)
	if req.InstrumentRef == "" {
		return fmt.Errorf("validateCreate: instrument required: %w", domain.ErrInvalidRequest)
	}

	strategy, err := s.strategies.Get(req.Strategy)
	if err != nil {
		return fmt.Errorf("validateCreate: %w", err)
	}
	if !strategy.Supports(kind) {
		return fmt.Errorf("validateCreate: %s does not support %s: %w", req.Strategy, kind, domain.ErrUnknownStrategy)
	}

	if req.CategoryID == uuid.Nil {
		req.CategoryID = domain.CashCategoryID
	}
	tree, err := s.ledgers.Tree(ctx)
	if err != nil {
		return fmt.Errorf("validateCreate: %w", err)
	}
	if _, ok := tree.Get(req.CategoryID); !ok {
		return fmt.Errorf("validateCreate: %s: %w", req.CategoryID, domain.ErrUnknownCategory)
	}
	return nil
}

// checkIdempotency returns the stored transfer for the request's key when it
// describes the same request, nil when the key is unused, and
// ErrDuplicateRequest when the key was used for something else.
func (s *Service) checkIdempotency(ctx context.Context, repo transferRepo, req CreateRequest) (*domain.Transfer, error) {
	existing, err := repo.GetByIdempotencyKey(ctx, req.IdempotencyKey)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("checkIdempotency: %w", err)
	}

	member, err := s.ledgers.GetLedger(ctx, existing.MemberLedgerID)
	if err != nil {
		return nil, fmt.Errorf("checkIdempotency: %w", err)
	}
	if member.AccountID == req.AccountID &&
		existing.Amount == req.Amount &&
		existing.Strategy == req.Strategy &&
		existing.InstrumentRef == req.InstrumentRef &&
		existing.CategoryID == req.CategoryID {
		return existing, nil
	}
	return nil, fmt.Errorf("checkIdempotency: %w", domain.ErrDuplicateRequest)
}

// beginCollecting hands the transfer to its strategy. The external call
// happens outside any transaction; the status change afterwards only
// applies if nobody moved the transfer in the meantime.
func (s *Service) beginCollecting(ctx context.Context, repo transferRepo, id uuid.UUID, actor string) (*domain.Transfer, error) {
	log := logging.FromContext(ctx)

	t, err := repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status == domain.TransferStatusCollecting {
		return t, nil
	}
	if err := t.Status.CheckTransition(domain.TransferStatusCollecting); err != nil {
		return nil, err
	}

	strategy, err := s.strategies.Get(t.Strategy)
	if err != nil {
		return nil, err
	}
	ref, err := strategy.Initiate(ctx, InitiateRequest{
		TransferID:     t.ID,
		Kind:           t.Kind,
		Amount:         t.Amount,
		InstrumentRef:  t.InstrumentRef,
		IdempotencyKey: t.ID.String(),
	})
	if err != nil {
		if rej, ok := IsRejected(err); ok {
			log.Warn("initiation rejected", "transfer_id", t.ID, "kind", t.Kind, "reason", rej.Reason)
			return s.close(ctx, repo, id, domain.TransferStatusFailed, rej.Reason, actor)
		}
		return nil, fmt.Errorf("initiate: %w", err)
	}

	var updated *domain.Transfer
	changed := false
	err = s.db.WithTx(ctx, repository.RepeatableRead, func(tx *sql.Tx) error {
		changed = false
		cur, err := repo.GetForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		updated = cur
		if cur.Status != domain.TransferStatusCreated {
			return nil
		}
		now := s.now()
		if err := repo.UpdateCollecting(ctx, tx, id, ref, now); err != nil {
			return err
		}
		cur.Status = domain.TransferStatusCollecting
		cur.ExternalRef = &ref
		cur.UpdatedAt = now
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !changed {
		log.Info("transfer moved during initiation", "transfer_id", id, "status", updated.Status, "external_ref", ref)
		return updated, nil
	}
	log.Info("transfer collecting", "transfer_id", id, "kind", updated.Kind, "external_ref", ref)
	s.hooks.TransferTransitioned(ctx, updated, domain.TransferStatusCreated, actor)
	return updated, nil
}

// markSettled writes the transfer's BookTransaction and links it. A
// transfer that already has one is left alone: the second confirmation is
// an ExternalConfirmationRace and is answered with the stored transfer.
func (s *Service) markSettled(ctx context.Context, repo transferRepo, id uuid.UUID, externalRef, actor string) (*domain.Transfer, error) {
	log := logging.FromContext(ctx)

	snapshot, err := repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	origID, recvID := snapshot.Legs()
	originating, err := s.ledgers.GetLedger(ctx, origID)
	if err != nil {
		return nil, err
	}
	receiving, err := s.ledgers.GetLedger(ctx, recvID)
	if err != nil {
		return nil, err
	}

	var (
		result *domain.Transfer
		bx     *domain.BookTransaction
		from   domain.TransferStatus
	)
	err = s.db.WithTx(ctx, repository.RepeatableRead, func(tx *sql.Tx) error {
		result, bx = nil, nil

		t, err := repo.GetForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if t.IsSettled() {
			result = t
			return domain.ErrExternalConfirmationRace
		}
		if err := t.Status.CheckTransition(domain.TransferStatusSettled); err != nil {
			return err
		}
		from = t.Status

		bx, err = s.ledgers.CreateBookTransactionTx(ctx, tx, domain.BookTransactionParams{
			Originating: originating,
			Receiving:   receiving,
			Amount:      t.Amount,
			CategoryID:  t.CategoryID,
			Memo:        t.DefaultMemo(),
		}, ledger.CreateOptions{RequireFunds: t.Kind == domain.TransferKindPayout})
		if err != nil {
			return err
		}

		var ref *string
		if externalRef != "" {
			ref = &externalRef
		}
		now := s.now()
		if err := repo.UpdateSettled(ctx, tx, id, bx.ID, ref, now); err != nil {
			return err
		}

		t.Status = domain.TransferStatusSettled
		t.OriginatedBookTransactionID = &bx.ID
		if ref != nil {
			t.ExternalRef = ref
		}
		t.SettledAt = &now
		t.UpdatedAt = now
		result = t
		return nil
	})

	if errors.Is(err, domain.ErrExternalConfirmationRace) {
		if result == nil {
			if result, err = repo.GetByID(ctx, id); err != nil {
				return nil, err
			}
		}
		s.logRace(ctx, result, externalRef)
		return result, nil
	}
	if err != nil {
		return nil, err
	}

	log.Info("transfer settled",
		"transfer_id", result.ID,
		"kind", result.Kind,
		"book_transaction_id", bx.ID,
		"amount", result.Amount.Amount,
		"currency", result.Amount.Currency,
	)
	s.ledgers.BookTransactionCommitted(ctx, bx, actor)
	s.hooks.TransferTransitioned(ctx, result, from, actor)
	return result, nil
}

func (s *Service) logRace(ctx context.Context, t *domain.Transfer, externalRef string) {
	log := logging.FromContext(ctx)
	log.Info("settlement already recorded",
		"transfer_id", t.ID,
		"kind", t.Kind,
		"book_transaction_id", t.OriginatedBookTransactionID,
	)

	strategy, err := s.strategies.Get(t.Strategy)
	if err != nil {
		return
	}
	if expected := strategy.ConfirmationRef(t); externalRef != "" && expected != "" && expected != externalRef {
		log.Warn("duplicate confirmation quotes a different reference",
			"transfer_id", t.ID,
			"stored_ref", expected,
			"received_ref", externalRef,
		)
	}
}

// close moves the transfer to failed or canceled. Repeating failed is a
// no-op.
func (s *Service) close(ctx context.Context, repo transferRepo, id uuid.UUID, to domain.TransferStatus, reason, actor string) (*domain.Transfer, error) {
	var (
		result  *domain.Transfer
		from    domain.TransferStatus
		changed bool
	)
	err := s.db.WithTx(ctx, repository.RepeatableRead, func(tx *sql.Tx) error {
		changed = false
		t, err := repo.GetForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		result = t
		if to == domain.TransferStatusFailed && t.Status == domain.TransferStatusFailed {
			return nil
		}
		if err := t.Status.CheckTransition(to); err != nil {
			return err
		}
		from = t.Status

		now := s.now()
		if err := repo.UpdateClosed(ctx, tx, id, to, reason, now); err != nil {
			return err
		}
		t.Status = to
		if reason != "" {
			t.FailureReason = &reason
		}
		t.UpdatedAt = now
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		return result, nil
	}

	logging.FromContext(ctx).Info("transfer closed",
		"transfer_id", id,
		"kind", result.Kind,
		"status", to,
		"reason", reason,
	)
	s.hooks.TransferTransitioned(ctx, result, from, actor)
	return result, nil
}
