package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/josh-kwaku/program-ledger/internal/domain"
	"github.com/josh-kwaku/program-ledger/internal/logging"
	"github.com/josh-kwaku/program-ledger/internal/repository"
)

// ContributionPlanFor previews how a charge against the account would be
// split across its ledgers at current balances. Nothing is written.
func (s *Service) ContributionPlanFor(ctx context.Context, accountID uuid.UUID, charge domain.Charge) (domain.ContributionPlan, error) {
	tree, err := s.categories.Tree(ctx)
	if err != nil {
		return domain.ContributionPlan{}, fmt.Errorf("ContributionPlanFor: %w", err)
	}
	ledgers, err := s.ledgers.ListByAccount(ctx, accountID)
	if err != nil {
		return domain.ContributionPlan{}, fmt.Errorf("ContributionPlanFor: %w", err)
	}

	now := s.now()
	ids := ledgerIDs(ledgers)
	var sums map[uuid.UUID]int64
	if len(ids) > 0 {
		sums, err = s.ledgers.BalancesAsOf(ctx, ids, now)
		if err != nil {
			return domain.ContributionPlan{}, fmt.Errorf("ContributionPlanFor: %w", err)
		}
	}

	plan, err := domain.BuildContributionPlan(tree, withBalances(ledgers, sums), charge, now)
	if err != nil {
		return plan, fmt.Errorf("ContributionPlanFor: %w", err)
	}
	return plan, nil
}

type SettleChargeRequest struct {
	AccountID         uuid.UUID
	Charge            domain.Charge
	ReceivingLedgerID uuid.UUID
	Memo              string
	Actor             string
}

type ChargeSettlement struct {
	Charge           domain.SettledCharge
	Plan             domain.ContributionPlan
	BookTransactions []domain.BookTransaction
}

// SettleCharge moves a charge from the account into the receiving ledger,
// one BookTransaction per plan line. The plan is rebuilt under balance
// locks on every ledger involved, so either the whole charge moves or
// nothing does.
func (s *Service) SettleCharge(ctx context.Context, req SettleChargeRequest) (*ChargeSettlement, error) {
	log := logging.FromContext(ctx)

	tree, err := s.categories.Tree(ctx)
	if err != nil {
		return nil, fmt.Errorf("SettleCharge: %w", err)
	}

	var result *ChargeSettlement
	err = s.db.WithTx(ctx, repository.RepeatableRead, func(tx *sql.Tx) error {
		result = nil

		ledgers, err := s.ledgers.ListByAccountTx(ctx, tx, req.AccountID)
		if err != nil {
			return err
		}
		if len(ledgers) == 0 {
			return fmt.Errorf("account %s: %w", req.AccountID, domain.ErrNoCashLedger)
		}
		receiving, err := s.ledgers.GetByIDTx(ctx, tx, req.ReceivingLedgerID)
		if err != nil {
			return fmt.Errorf("receiving ledger: %w", err)
		}

		ids := append(ledgerIDs(ledgers), receiving.ID)
		if err := lockLedgersInOrder(ctx, tx, s.ledgers, ids...); err != nil {
			return err
		}

		now := s.now()
		sums, err := s.ledgers.BalancesAsOfTx(ctx, tx, ledgerIDs(ledgers), now)
		if err != nil {
			return err
		}
		plan, err := domain.BuildContributionPlan(tree, withBalances(ledgers, sums), req.Charge, now)
		if err != nil {
			return err
		}

		settlement := &ChargeSettlement{
			Charge: domain.SettledCharge{
				ID:                uuid.New(),
				AccountID:         req.AccountID,
				ReceivingLedgerID: receiving.ID,
				Amount:            req.Charge.Amount,
				CategoryID:        req.Charge.CategoryID,
				Memo:              req.Memo,
				CreatedAt:         now,
			},
			Plan: plan,
		}
		for _, line := range plan.Lines {
			from := line.Ledger
			bx, err := s.createBookTransaction(ctx, tx, tree, domain.BookTransactionParams{
				Originating: &from,
				Receiving:   receiving,
				Amount:      line.Amount,
				CategoryID:  req.Charge.CategoryID,
				Memo:        req.Memo,
				ApplyAt:     now,
			}, CreateOptions{})
			if err != nil {
				return fmt.Errorf("line from %s: %w", from.ID, err)
			}
			settlement.BookTransactions = append(settlement.BookTransactions, *bx)
			settlement.Charge.BookTransactionIDs = append(settlement.Charge.BookTransactionIDs, bx.ID)
		}
		if err := s.charges.Create(ctx, tx, &settlement.Charge); err != nil {
			return err
		}
		result = settlement
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("SettleCharge: %w", err)
	}

	log.Info("charge settled",
		"charge_id", result.Charge.ID,
		"account_id", req.AccountID,
		"receiving_ledger_id", req.ReceivingLedgerID,
		"amount", req.Charge.Amount.Amount,
		"currency", req.Charge.Amount.Currency,
		"lines", len(result.Plan.Lines),
		"cash_amount", result.Plan.CashAmount().Amount,
	)
	for i := range result.BookTransactions {
		s.hooks.BookTransactionCreated(ctx, &result.BookTransactions[i], req.Actor)
	}
	return result, nil
}

func (s *Service) GetCharge(ctx context.Context, id uuid.UUID) (*domain.SettledCharge, error) {
	c, err := s.charges.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("GetCharge: %w", err)
	}
	return c, nil
}

// ChargeForBookTransaction returns the charge a book transaction paid for.
// Transactions that were not part of a charge yield ErrNotFound.
func (s *Service) ChargeForBookTransaction(ctx context.Context, bxID uuid.UUID) (*domain.SettledCharge, error) {
	c, err := s.charges.GetByBookTransaction(ctx, bxID)
	if err != nil {
		return nil, fmt.Errorf("ChargeForBookTransaction: %w", err)
	}
	return c, nil
}

// lockLedgersInOrder takes balance locks in id order so two charges
// touching the same ledgers cannot deadlock.
func lockLedgersInOrder(ctx context.Context, tx *sql.Tx, ledgers ledgerRepo, ids ...uuid.UUID) error {
	sorted := make([]uuid.UUID, 0, len(ids))
	seen := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			sorted = append(sorted, id)
		}
	}
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].String() < sorted[j].String()
	})

	for _, id := range sorted {
		if err := ledgers.LockBalance(ctx, tx, id); err != nil {
			return fmt.Errorf("lockLedgersInOrder: %w", err)
		}
	}
	return nil
}

func ledgerIDs(ledgers []domain.Ledger) []uuid.UUID {
	ids := make([]uuid.UUID, len(ledgers))
	for i, l := range ledgers {
		ids[i] = l.ID
	}
	return ids
}

func withBalances(ledgers []domain.Ledger, sums map[uuid.UUID]int64) []domain.LedgerBalance {
	out := make([]domain.LedgerBalance, len(ledgers))
	for i, l := range ledgers {
		out[i] = domain.LedgerBalance{Ledger: l, Balance: domain.NewMoney(sums[l.ID], l.Currency)}
	}
	return out
}
