package funding

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/josh-kwaku/program-ledger/internal/domain"
)

type CreatePayoutRequest = CreateRequest

// CreatePayoutTransaction fails early when the member's cash ledger cannot
// cover the amount. The check is repeated under lock at settlement.
func (s *Service) CreatePayoutTransaction(ctx context.Context, req CreatePayoutRequest) (*domain.PayoutTransaction, error) {
	t, err := s.create(ctx, s.payouts, req)
	if err != nil {
		return nil, fmt.Errorf("CreatePayoutTransaction: %w", err)
	}
	return &domain.PayoutTransaction{Transfer: *t}, nil
}

func (s *Service) BeginPayoutCollecting(ctx context.Context, id uuid.UUID, actor string) (*domain.PayoutTransaction, error) {
	t, err := s.beginCollecting(ctx, s.payouts, id, actor)
	if err != nil {
		return nil, fmt.Errorf("BeginPayoutCollecting: %w", err)
	}
	return &domain.PayoutTransaction{Transfer: *t}, nil
}

// MarkPayoutSettled debits the member's cash ledger into the platform
// ledger. If the ledger no longer covers the amount nothing changes and
// ErrInsufficientBalance is returned.
func (s *Service) MarkPayoutSettled(ctx context.Context, id uuid.UUID, externalRef, actor string) (*domain.PayoutTransaction, error) {
	t, err := s.markSettled(ctx, s.payouts, id, externalRef, actor)
	if err != nil {
		return nil, fmt.Errorf("MarkPayoutSettled: %w", err)
	}
	return &domain.PayoutTransaction{Transfer: *t}, nil
}

func (s *Service) MarkPayoutFailed(ctx context.Context, id uuid.UUID, reason, actor string) (*domain.PayoutTransaction, error) {
	t, err := s.close(ctx, s.payouts, id, domain.TransferStatusFailed, reason, actor)
	if err != nil {
		return nil, fmt.Errorf("MarkPayoutFailed: %w", err)
	}
	return &domain.PayoutTransaction{Transfer: *t}, nil
}

func (s *Service) CancelPayout(ctx context.Context, id uuid.UUID, reason, actor string) (*domain.PayoutTransaction, error) {
	t, err := s.close(ctx, s.payouts, id, domain.TransferStatusCanceled, reason, actor)
	if err != nil {
		return nil, fmt.Errorf("CancelPayout: %w", err)
	}
	return &domain.PayoutTransaction{Transfer: *t}, nil
}

func (s *Service) GetPayout(ctx context.Context, id uuid.UUID) (*domain.PayoutTransaction, error) {
	t, err := s.payouts.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("GetPayout: %w", err)
	}
	return &domain.PayoutTransaction{Transfer: *t}, nil
}
