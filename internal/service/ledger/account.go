package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/program-ledger/internal/domain"
	"github.com/josh-kwaku/program-ledger/internal/logging"
)

var readCommitted = &sql.TxOptions{Isolation: sql.LevelReadCommitted}

// EnsureAccount returns the account for the owner, creating it if needed.
// Concurrent callers for the same owner all get the same row.
func (s *Service) EnsureAccount(ctx context.Context, ownerType domain.OwnerType, ownerRef string) (*domain.Account, error) {
	if !ownerType.Valid() {
		return nil, fmt.Errorf("EnsureAccount: owner type %q: %w", ownerType, domain.ErrInvalidRequest)
	}
	ownerRef = strings.TrimSpace(ownerRef)
	if ownerRef == "" {
		return nil, fmt.Errorf("EnsureAccount: owner ref required: %w", domain.ErrInvalidRequest)
	}

	acct, err := s.accounts.GetByOwner(ctx, ownerType, ownerRef)
	if err == nil {
		return acct, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("EnsureAccount: %w", err)
	}

	acct = &domain.Account{
		ID:        uuid.New(),
		OwnerType: ownerType,
		OwnerRef:  ownerRef,
		CreatedAt: s.now(),
	}
	if err := s.accounts.Create(ctx, acct); err != nil {
		if !errors.Is(err, domain.ErrConflict) {
			return nil, fmt.Errorf("EnsureAccount: %w", err)
		}
		acct, err = s.accounts.GetByOwner(ctx, ownerType, ownerRef)
		if err != nil {
			return nil, fmt.Errorf("EnsureAccount: refetch: %w", err)
		}
		return acct, nil
	}

	logging.FromContext(ctx).Info("account created",
		"account_id", acct.ID,
		"owner_type", ownerType,
		"owner_ref", ownerRef,
	)
	return acct, nil
}

func (s *Service) GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	acct, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("GetAccount: %w", err)
	}
	acct.Ledgers, err = s.ledgers.ListByAccount(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("GetAccount: %w", err)
	}
	return acct, nil
}

// EnsureCashLedger returns the account's cash ledger, creating it on first
// use. The partial unique index on cash ledgers decides between concurrent
// creators; losers read back the winner's row.
func (s *Service) EnsureCashLedger(ctx context.Context, accountID uuid.UUID, currency string) (*domain.Ledger, error) {
	currency = strings.ToUpper(currency)

	existing, err := s.ledgers.GetCashLedger(ctx, accountID)
	if err == nil {
		return checkCashCurrency(existing, currency)
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("EnsureCashLedger: %w", err)
	}

	acct, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("EnsureCashLedger: %w", err)
	}
	tree, err := s.categories.Tree(ctx)
	if err != nil {
		return nil, fmt.Errorf("EnsureCashLedger: %w", err)
	}

	l, err := domain.NewLedger(domain.NewLedgerParams{
		Account:    acct,
		Name:       "Cash",
		Currency:   currency,
		Categories: []domain.ValueCategory{tree.Cash()},
		Now:        s.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("EnsureCashLedger: %w", err)
	}

	err = s.db.WithTx(ctx, readCommitted, func(tx *sql.Tx) error {
		return s.ledgers.Create(ctx, tx, l)
	})
	if err != nil {
		if !errors.Is(err, domain.ErrDuplicateLedger) {
			return nil, fmt.Errorf("EnsureCashLedger: %w", err)
		}
		existing, err := s.ledgers.GetCashLedger(ctx, accountID)
		if err != nil {
			return nil, fmt.Errorf("EnsureCashLedger: refetch: %w", err)
		}
		return checkCashCurrency(existing, currency)
	}

	logging.FromContext(ctx).Info("cash ledger created",
		"account_id", accountID,
		"ledger_id", l.ID,
		"currency", l.Currency,
	)
	return l, nil
}

func checkCashCurrency(l *domain.Ledger, currency string) (*domain.Ledger, error) {
	if l.Currency != currency {
		return nil, fmt.Errorf("EnsureCashLedger: account holds %s cash, asked for %s: %w",
			l.Currency, currency, domain.ErrCurrencyMismatch)
	}
	return l, nil
}

// EnsurePlatformLedger returns the platform's cash ledger, which stands in
// for external instruments on the far side of funding and payouts.
func (s *Service) EnsurePlatformLedger(ctx context.Context, currency string) (*domain.Ledger, error) {
	acct, err := s.EnsureAccount(ctx, domain.OwnerTypePlatform, domain.PlatformOwnerRef)
	if err != nil {
		return nil, fmt.Errorf("EnsurePlatformLedger: %w", err)
	}
	l, err := s.EnsureCashLedger(ctx, acct.ID, currency)
	if err != nil {
		return nil, fmt.Errorf("EnsurePlatformLedger: %w", err)
	}
	return l, nil
}

type CreateLedgerRequest struct {
	AccountID     uuid.UUID
	Name          string
	Currency      string
	CategorySlugs []string
	EligibleUntil *time.Time
}

// CreateLedger adds a category-restricted ledger to an account. Cash
// ledgers are only made through EnsureCashLedger.
func (s *Service) CreateLedger(ctx context.Context, req CreateLedgerRequest) (*domain.Ledger, error) {
	acct, err := s.accounts.GetByID(ctx, req.AccountID)
	if err != nil {
		return nil, fmt.Errorf("CreateLedger: %w", err)
	}
	tree, err := s.categories.Tree(ctx)
	if err != nil {
		return nil, fmt.Errorf("CreateLedger: %w", err)
	}
	cats, err := tree.Resolve(req.CategorySlugs...)
	if err != nil {
		return nil, fmt.Errorf("CreateLedger: %w", err)
	}
	for _, c := range cats {
		if c.IsCash() {
			return nil, fmt.Errorf("CreateLedger: use EnsureCashLedger for cash: %w", domain.ErrInvalidCategorySet)
		}
	}

	l, err := domain.NewLedger(domain.NewLedgerParams{
		Account:       acct,
		Name:          req.Name,
		Currency:      req.Currency,
		Categories:    cats,
		EligibleUntil: req.EligibleUntil,
		Now:           s.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("CreateLedger: %w", err)
	}

	err = s.db.WithTx(ctx, readCommitted, func(tx *sql.Tx) error {
		return s.ledgers.Create(ctx, tx, l)
	})
	if err != nil {
		return nil, fmt.Errorf("CreateLedger: %w", err)
	}

	logging.FromContext(ctx).Info("ledger created",
		"account_id", acct.ID,
		"ledger_id", l.ID,
		"category_signature", l.CategorySignature,
	)
	return l, nil
}

// ArchiveLedger stops a ledger from funding charges. Its history and
// balance stay readable.
func (s *Service) ArchiveLedger(ctx context.Context, id uuid.UUID) error {
	if err := s.ledgers.Archive(ctx, id, s.now()); err != nil {
		return fmt.Errorf("ArchiveLedger: %w", err)
	}
	logging.FromContext(ctx).Info("ledger archived", "ledger_id", id)
	return nil
}

// FindAccount looks up the owner's account without creating it.
func (s *Service) FindAccount(ctx context.Context, ownerType domain.OwnerType, ownerRef string) (*domain.Account, error) {
	acct, err := s.accounts.GetByOwner(ctx, ownerType, strings.TrimSpace(ownerRef))
	if err != nil {
		return nil, fmt.Errorf("FindAccount: %w", err)
	}
	acct.Ledgers, err = s.ledgers.ListByAccount(ctx, acct.ID)
	if err != nil {
		return nil, fmt.Errorf("FindAccount: %w", err)
	}
	return acct, nil
}
