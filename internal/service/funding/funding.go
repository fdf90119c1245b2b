package funding

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/josh-kwaku/program-ledger/internal/domain"
)

type CreateFundingRequest = CreateRequest

func (s *Service) CreateFundingTransaction(ctx context.Context, req CreateFundingRequest) (*domain.FundingTransaction, error) {
	t, err := s.create(ctx, s.funding, req)
	if err != nil {
		return nil, fmt.Errorf("CreateFundingTransaction: %w", err)
	}
	return &domain.FundingTransaction{Transfer: *t}, nil
}

func (s *Service) BeginCollecting(ctx context.Context, id uuid.UUID, actor string) (*domain.FundingTransaction, error) {
	t, err := s.beginCollecting(ctx, s.funding, id, actor)
	if err != nil {
		return nil, fmt.Errorf("BeginCollecting: %w", err)
	}
	return &domain.FundingTransaction{Transfer: *t}, nil
}

// MarkSettled credits the recipient's cash ledger from the platform ledger.
// Confirming an already settled transaction returns it unchanged.
func (s *Service) MarkSettled(ctx context.Context, id uuid.UUID, externalRef, actor string) (*domain.FundingTransaction, error) {
	t, err := s.markSettled(ctx, s.funding, id, externalRef, actor)
	if err != nil {
		return nil, fmt.Errorf("MarkSettled: %w", err)
	}
	return &domain.FundingTransaction{Transfer: *t}, nil
}

func (s *Service) MarkFailed(ctx context.Context, id uuid.UUID, reason, actor string) (*domain.FundingTransaction, error) {
	t, err := s.close(ctx, s.funding, id, domain.TransferStatusFailed, reason, actor)
	if err != nil {
		return nil, fmt.Errorf("MarkFailed: %w", err)
	}
	return &domain.FundingTransaction{Transfer: *t}, nil
}

func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason, actor string) (*domain.FundingTransaction, error) {
	t, err := s.close(ctx, s.funding, id, domain.TransferStatusCanceled, reason, actor)
	if err != nil {
		return nil, fmt.Errorf("Cancel: %w", err)
	}
	return &domain.FundingTransaction{Transfer: *t}, nil
}

// StartAndTransfer records funding that an operator has already seen
// arrive, creating and settling it in one call.
func (s *Service) StartAndTransfer(ctx context.Context, req CreateFundingRequest, externalRef string) (*domain.FundingTransaction, error) {
	t, err := s.create(ctx, s.funding, req)
	if err != nil {
		return nil, fmt.Errorf("StartAndTransfer: %w", err)
	}
	t, err = s.markSettled(ctx, s.funding, t.ID, externalRef, req.Actor)
	if err != nil {
		return nil, fmt.Errorf("StartAndTransfer: %w", err)
	}
	return &domain.FundingTransaction{Transfer: *t}, nil
}

func (s *Service) GetFunding(ctx context.Context, id uuid.UUID) (*domain.FundingTransaction, error) {
	t, err := s.funding.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("GetFunding: %w", err)
	}
	return &domain.FundingTransaction{Transfer: *t}, nil
}
