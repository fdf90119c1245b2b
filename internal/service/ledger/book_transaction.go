package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/program-ledger/internal/domain"
	"github.com/josh-kwaku/program-ledger/internal/logging"
	"github.com/josh-kwaku/program-ledger/internal/repository"
)

type CreateOptions struct {
	// RequireFunds takes the originating ledger's balance lock and rejects
	// the transfer if the ledger cannot cover it.
	RequireFunds bool
	Actor        string
}

type TransferRequest struct {
	OriginatingLedgerID uuid.UUID
	ReceivingLedgerID   uuid.UUID
	Amount              domain.Money
	CategoryID          uuid.UUID
	Memo                string
	ApplyAt             time.Time
}

// Transfer loads both ledgers and records a BookTransaction between them.
func (s *Service) Transfer(ctx context.Context, req TransferRequest, opts CreateOptions) (*domain.BookTransaction, error) {
	from, err := s.ledgers.GetByID(ctx, req.OriginatingLedgerID)
	if err != nil {
		return nil, fmt.Errorf("Transfer: originating: %w", err)
	}
	to, err := s.ledgers.GetByID(ctx, req.ReceivingLedgerID)
	if err != nil {
		return nil, fmt.Errorf("Transfer: receiving: %w", err)
	}
	bx, err := s.CreateBookTransaction(ctx, domain.BookTransactionParams{
		Originating: from,
		Receiving:   to,
		Amount:      req.Amount,
		CategoryID:  req.CategoryID,
		Memo:        req.Memo,
		ApplyAt:     req.ApplyAt,
	}, opts)
	if err != nil {
		return nil, fmt.Errorf("Transfer: %w", err)
	}
	return bx, nil
}

// CreateBookTransaction validates p, writes it in its own transaction and
// runs the created hooks once it has committed.
func (s *Service) CreateBookTransaction(ctx context.Context, p domain.BookTransactionParams, opts CreateOptions) (*domain.BookTransaction, error) {
	tree, err := s.categories.Tree(ctx)
	if err != nil {
		return nil, fmt.Errorf("CreateBookTransaction: %w", err)
	}
	if err := p.Validate(tree); err != nil {
		return nil, fmt.Errorf("CreateBookTransaction: %w", err)
	}

	var bx *domain.BookTransaction
	err = s.db.WithTx(ctx, repository.RepeatableRead, func(tx *sql.Tx) error {
		var err error
		bx, err = s.createBookTransaction(ctx, tx, tree, p, opts)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("CreateBookTransaction: %w", err)
	}

	logging.FromContext(ctx).Info("book transaction created",
		"book_transaction_id", bx.ID,
		"opaque_id", bx.OpaqueID,
		"originating_ledger_id", bx.OriginatingLedgerID,
		"receiving_ledger_id", bx.ReceivingLedgerID,
		"amount", bx.Amount.Amount,
		"currency", bx.Amount.Currency,
	)
	s.hooks.BookTransactionCreated(ctx, bx, opts.Actor)
	return bx, nil
}

// CreateBookTransactionTx writes a BookTransaction inside the caller's
// transaction. Every read goes through tx: callers already hold a pool
// connection and must not wait on a second one. Hooks are the caller's job,
// after its commit; see BookTransactionCommitted.
func (s *Service) CreateBookTransactionTx(ctx context.Context, tx *sql.Tx, p domain.BookTransactionParams, opts CreateOptions) (*domain.BookTransaction, error) {
	tree, err := s.categories.TreeTx(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("CreateBookTransactionTx: %w", err)
	}
	bx, err := s.createBookTransaction(ctx, tx, tree, p, opts)
	if err != nil {
		return nil, fmt.Errorf("CreateBookTransactionTx: %w", err)
	}
	return bx, nil
}

// BookTransactionCommitted runs the created hooks for a transaction written
// through CreateBookTransactionTx.
func (s *Service) BookTransactionCommitted(ctx context.Context, bx *domain.BookTransaction, actor string) {
	s.hooks.BookTransactionCreated(ctx, bx, actor)
}

func (s *Service) createBookTransaction(ctx context.Context, tx *sql.Tx, tree *domain.CategoryTree, p domain.BookTransactionParams, opts CreateOptions) (*domain.BookTransaction, error) {
	now := s.now()
	bx, err := domain.NewBookTransaction(tree, p, now)
	if err != nil {
		return nil, err
	}

	if opts.RequireFunds {
		if err := s.ledgers.LockBalance(ctx, tx, p.Originating.ID); err != nil {
			return nil, err
		}
		balances, err := s.ledgers.BalancesAsOfTx(ctx, tx, []uuid.UUID{p.Originating.ID}, now)
		if err != nil {
			return nil, err
		}
		available := domain.NewMoney(balances[p.Originating.ID], p.Originating.Currency)
		if available.Compare(bx.Amount) < 0 {
			return nil, &domain.InsufficientBalanceError{
				LedgerID:  p.Originating.ID,
				Available: available,
				Required:  bx.Amount,
			}
		}
	}

	if err := s.books.Create(ctx, tx, bx); err != nil {
		return nil, err
	}
	return bx, nil
}

func (s *Service) BalanceAsOf(ctx context.Context, ledgerID uuid.UUID, asOf time.Time) (domain.Money, error) {
	l, err := s.ledgers.GetByID(ctx, ledgerID)
	if err != nil {
		return domain.Money{}, fmt.Errorf("BalanceAsOf: %w", err)
	}
	sum, err := s.ledgers.BalanceAsOf(ctx, ledgerID, asOf)
	if err != nil {
		return domain.Money{}, fmt.Errorf("BalanceAsOf: %w", err)
	}
	return domain.NewMoney(sum, l.Currency), nil
}

// ContributionAvailableFor is what the ledger could put toward a charge in
// categoryID at asOf.
func (s *Service) ContributionAvailableFor(ctx context.Context, ledgerID, categoryID uuid.UUID, asOf time.Time) (domain.Money, error) {
	l, err := s.ledgers.GetByID(ctx, ledgerID)
	if err != nil {
		return domain.Money{}, fmt.Errorf("ContributionAvailableFor: %w", err)
	}
	tree, err := s.categories.Tree(ctx)
	if err != nil {
		return domain.Money{}, fmt.Errorf("ContributionAvailableFor: %w", err)
	}
	if _, ok := tree.Get(categoryID); !ok {
		return domain.Money{}, fmt.Errorf("ContributionAvailableFor: %s: %w", categoryID, domain.ErrUnknownCategory)
	}
	sum, err := s.ledgers.BalanceAsOf(ctx, ledgerID, asOf)
	if err != nil {
		return domain.Money{}, fmt.Errorf("ContributionAvailableFor: %w", err)
	}
	return l.ContributionAvailable(tree, domain.NewMoney(sum, l.Currency), categoryID, asOf), nil
}

// ListForLedger returns the ledger's history seen from the ledger itself,
// latest first, and the total number of transactions.
func (s *Service) ListForLedger(ctx context.Context, ledgerID uuid.UUID, limit, offset int) ([]domain.DirectedBookTransaction, int, error) {
	if limit <= 0 {
		limit = 50
	}
	txs, total, err := s.books.ListForLedger(ctx, ledgerID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("ListForLedger: %w", err)
	}
	out := make([]domain.DirectedBookTransaction, 0, len(txs))
	for _, bx := range txs {
		d, err := bx.Directed(ledgerID)
		if err != nil {
			return nil, 0, fmt.Errorf("ListForLedger: %w", err)
		}
		out = append(out, d)
	}
	return out, total, nil
}
