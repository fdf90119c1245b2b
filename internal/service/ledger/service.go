package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/program-ledger/internal/domain"
	"github.com/josh-kwaku/program-ledger/internal/events"
	"github.com/josh-kwaku/program-ledger/internal/repository"
)

type accountRepo interface {
	Create(ctx context.Context, a *domain.Account) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	GetByOwner(ctx context.Context, ownerType domain.OwnerType, ownerRef string) (*domain.Account, error)
}

type ledgerRepo interface {
	Create(ctx context.Context, tx *sql.Tx, l *domain.Ledger) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Ledger, error)
	GetByIDTx(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Ledger, error)
	GetCashLedger(ctx context.Context, accountID uuid.UUID) (*domain.Ledger, error)
	ListByAccount(ctx context.Context, accountID uuid.UUID) ([]domain.Ledger, error)
	ListByAccountTx(ctx context.Context, tx *sql.Tx, accountID uuid.UUID) ([]domain.Ledger, error)
	LockBalance(ctx context.Context, tx *sql.Tx, id uuid.UUID) error
	Archive(ctx context.Context, id uuid.UUID, at time.Time) error
	BalanceAsOf(ctx context.Context, id uuid.UUID, asOf time.Time) (int64, error)
	BalancesAsOf(ctx context.Context, ids []uuid.UUID, asOf time.Time) (map[uuid.UUID]int64, error)
	BalancesAsOfTx(ctx context.Context, tx *sql.Tx, ids []uuid.UUID, asOf time.Time) (map[uuid.UUID]int64, error)
}

type bookTransactionRepo interface {
	Create(ctx context.Context, tx *sql.Tx, bx *domain.BookTransaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.BookTransaction, error)
	GetByOpaqueID(ctx context.Context, opaqueID string) (*domain.BookTransaction, error)
	ListForLedger(ctx context.Context, ledgerID uuid.UUID, limit, offset int) ([]domain.BookTransaction, int, error)
}

type categoryRepo interface {
	Upsert(ctx context.Context, tx *sql.Tx, c *domain.ValueCategory) error
	ListTx(ctx context.Context, tx *sql.Tx) ([]domain.ValueCategory, error)
	Tree(ctx context.Context) (*domain.CategoryTree, error)
	TreeTx(ctx context.Context, tx *sql.Tx) (*domain.CategoryTree, error)
}

type chargeRepo interface {
	Create(ctx context.Context, tx *sql.Tx, c *domain.SettledCharge) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.SettledCharge, error)
	GetByBookTransaction(ctx context.Context, bxID uuid.UUID) (*domain.SettledCharge, error)
}

// Service owns accounts, ledgers and the book transactions between them.
// It is the only writer of book_transactions.
type Service struct {
	db         *repository.DB
	accounts   accountRepo
	ledgers    ledgerRepo
	books      bookTransactionRepo
	categories categoryRepo
	charges    chargeRepo
	hooks      *events.Hooks
	now        func() time.Time
}

func NewService(
	db *repository.DB,
	accounts accountRepo,
	ledgers ledgerRepo,
	books bookTransactionRepo,
	categories categoryRepo,
	charges chargeRepo,
	hooks *events.Hooks,
) *Service {
	return &Service{
		db:         db,
		accounts:   accounts,
		ledgers:    ledgers,
		books:      books,
		categories: categories,
		charges:    charges,
		hooks:      hooks,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Tree(ctx context.Context) (*domain.CategoryTree, error) {
	tree, err := s.categories.Tree(ctx)
	if err != nil {
		return nil, fmt.Errorf("Tree: %w", err)
	}
	return tree, nil
}

func (s *Service) GetLedger(ctx context.Context, id uuid.UUID) (*domain.Ledger, error) {
	l, err := s.ledgers.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("GetLedger: %w", err)
	}
	return l, nil
}

func (s *Service) GetBookTransaction(ctx context.Context, ref string) (*domain.BookTransaction, error) {
	if id, err := uuid.Parse(ref); err == nil {
		bx, err := s.books.GetByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("GetBookTransaction: %w", err)
		}
		return bx, nil
	}
	if err := domain.ValidateOpaqueID(ref); err != nil {
		return nil, fmt.Errorf("GetBookTransaction: %w", err)
	}
	bx, err := s.books.GetByOpaqueID(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("GetBookTransaction: %w", err)
	}
	return bx, nil
}
