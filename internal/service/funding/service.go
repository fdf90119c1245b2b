package funding

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/program-ledger/internal/domain"
	"github.com/josh-kwaku/program-ledger/internal/events"
	"github.com/josh-kwaku/program-ledger/internal/repository"
	"github.com/josh-kwaku/program-ledger/internal/service/ledger"
)

type transferRepo interface {
	Kind() domain.TransferKind
	Create(ctx context.Context, t *domain.Transfer) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Transfer, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*domain.Transfer, error)
	GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Transfer, error)
	UpdateCollecting(ctx context.Context, tx *sql.Tx, id uuid.UUID, externalRef string, now time.Time) error
	UpdateSettled(ctx context.Context, tx *sql.Tx, id, bookTransactionID uuid.UUID, externalRef *string, now time.Time) error
	UpdateClosed(ctx context.Context, tx *sql.Tx, id uuid.UUID, status domain.TransferStatus, reason string, now time.Time) error
}

type ledgerService interface {
	Tree(ctx context.Context) (*domain.CategoryTree, error)
	GetLedger(ctx context.Context, id uuid.UUID) (*domain.Ledger, error)
	EnsureCashLedger(ctx context.Context, accountID uuid.UUID, currency string) (*domain.Ledger, error)
	EnsurePlatformLedger(ctx context.Context, currency string) (*domain.Ledger, error)
	BalanceAsOf(ctx context.Context, ledgerID uuid.UUID, asOf time.Time) (domain.Money, error)
	CreateBookTransactionTx(ctx context.Context, tx *sql.Tx, p domain.BookTransactionParams, opts ledger.CreateOptions) (*domain.BookTransaction, error)
	BookTransactionCommitted(ctx context.Context, bx *domain.BookTransaction, actor string)
}

// Service runs the funding and payout state machines. Settling either one
// writes exactly one BookTransaction between the member's cash ledger and
// the platform ledger.
type Service struct {
	db         *repository.DB
	funding    transferRepo
	payouts    transferRepo
	ledgers    ledgerService
	strategies *Strategies
	hooks      *events.Hooks
	now        func() time.Time
}

func NewService(
	db *repository.DB,
	funding transferRepo,
	payouts transferRepo,
	ledgers ledgerService,
	strategies *Strategies,
	hooks *events.Hooks,
) *Service {
	return &Service{
		db:         db,
		funding:    funding,
		payouts:    payouts,
		ledgers:    ledgers,
		strategies: strategies,
		hooks:      hooks,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Get returns a funding or payout transaction by kind.
func (s *Service) Get(ctx context.Context, kind domain.TransferKind, id uuid.UUID) (*domain.Transfer, error) {
	t, err := s.repoFor(kind).GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return t, nil
}

func (s *Service) repoFor(kind domain.TransferKind) transferRepo {
	if kind == domain.TransferKindPayout {
		return s.payouts
	}
	return s.funding
}
