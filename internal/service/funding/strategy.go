package funding

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/josh-kwaku/program-ledger/internal/domain"
)

// InitiateRequest is what a strategy needs to start moving money with an
// external party. IdempotencyKey is stable per transfer, so a retried
// initiation never starts a second movement.
type InitiateRequest struct {
	TransferID     uuid.UUID
	Kind           domain.TransferKind
	Amount         domain.Money
	InstrumentRef  string
	IdempotencyKey string
}

type Strategy interface {
	Kind() domain.StrategyKind
	Supports(kind domain.TransferKind) bool
	Initiate(ctx context.Context, req InitiateRequest) (externalRef string, err error)
	// ConfirmationRef is the reference the external party is expected to
	// quote when it confirms t.
	ConfirmationRef(t *domain.Transfer) string
	IsTestDouble() bool
}

// RejectedError is a definitive refusal by the external party. Any other
// initiation error is treated as transient.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string { return "rejected: " + e.Reason }

func IsRejected(err error) (*RejectedError, bool) {
	var rej *RejectedError
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}

type GatewayRequest struct {
	Reference     string
	Kind          domain.TransferKind
	Amount        domain.Money
	InstrumentRef string
}

// Gateway is the payment provider used by the bank transfer and card
// strategies.
type Gateway interface {
	SubmitTransfer(ctx context.Context, req GatewayRequest) (string, error)
	ChargeCard(ctx context.Context, req GatewayRequest) (string, error)
}

type BankTransferStrategy struct {
	gateway Gateway
}

func NewBankTransferStrategy(gw Gateway) *BankTransferStrategy {
	return &BankTransferStrategy{gateway: gw}
}

func (s *BankTransferStrategy) Kind() domain.StrategyKind { return domain.StrategyBankTransfer }

func (s *BankTransferStrategy) Supports(domain.TransferKind) bool { return true }

func (s *BankTransferStrategy) Initiate(ctx context.Context, req InitiateRequest) (string, error) {
	ref, err := s.gateway.SubmitTransfer(ctx, gatewayRequest(req))
	if err != nil {
		return "", fmt.Errorf("BankTransferStrategy.Initiate: %w", err)
	}
	return ref, nil
}

func (s *BankTransferStrategy) ConfirmationRef(t *domain.Transfer) string {
	return deref(t.ExternalRef)
}

func (s *BankTransferStrategy) IsTestDouble() bool { return false }

// CardStrategy only collects funds. Paying out to a card is not offered.
type CardStrategy struct {
	gateway Gateway
}

func NewCardStrategy(gw Gateway) *CardStrategy {
	return &CardStrategy{gateway: gw}
}

func (s *CardStrategy) Kind() domain.StrategyKind { return domain.StrategyCard }

func (s *CardStrategy) Supports(kind domain.TransferKind) bool {
	return kind == domain.TransferKindFunding
}

func (s *CardStrategy) Initiate(ctx context.Context, req InitiateRequest) (string, error) {
	ref, err := s.gateway.ChargeCard(ctx, gatewayRequest(req))
	if err != nil {
		return "", fmt.Errorf("CardStrategy.Initiate: %w", err)
	}
	return ref, nil
}

func (s *CardStrategy) ConfirmationRef(t *domain.Transfer) string { return deref(t.ExternalRef) }

func (s *CardStrategy) IsTestDouble() bool { return false }

// FakeStrategy settles nothing by itself. It hands out local references and
// can be told to reject, which is enough to drive the state machine in
// development and tests.
type FakeStrategy struct {
	seq    atomic.Int64
	reject atomic.Pointer[string]
}

func NewFakeStrategy() *FakeStrategy { return &FakeStrategy{} }

// RejectWith makes every following Initiate fail with reason. An empty
// reason clears it.
func (s *FakeStrategy) RejectWith(reason string) {
	if reason == "" {
		s.reject.Store(nil)
		return
	}
	s.reject.Store(&reason)
}

func (s *FakeStrategy) Kind() domain.StrategyKind { return domain.StrategyFake }

func (s *FakeStrategy) Supports(domain.TransferKind) bool { return true }

func (s *FakeStrategy) Initiate(_ context.Context, req InitiateRequest) (string, error) {
	if r := s.reject.Load(); r != nil {
		return "", &RejectedError{Reason: *r}
	}
	n := s.seq.Add(1)
	return fmt.Sprintf("fake_%s_%d", req.TransferID.String()[:8], n), nil
}

func (s *FakeStrategy) ConfirmationRef(t *domain.Transfer) string { return deref(t.ExternalRef) }

func (s *FakeStrategy) IsTestDouble() bool { return true }

// Strategies is the set of strategies a Service may use, keyed by kind.
type Strategies struct {
	byKind map[domain.StrategyKind]Strategy
}

// NewStrategies refuses test doubles unless allowTestDoubles is set, so a
// fake strategy cannot be wired into production by accident.
func NewStrategies(allowTestDoubles bool, strategies ...Strategy) (*Strategies, error) {
	r := &Strategies{byKind: make(map[domain.StrategyKind]Strategy, len(strategies))}
	for _, s := range strategies {
		if s.IsTestDouble() && !allowTestDoubles {
			return nil, fmt.Errorf("NewStrategies: %s is a test double and test doubles are disabled", s.Kind())
		}
		if _, dup := r.byKind[s.Kind()]; dup {
			return nil, fmt.Errorf("NewStrategies: %s registered twice", s.Kind())
		}
		r.byKind[s.Kind()] = s
	}
	return r, nil
}

func (r *Strategies) Get(kind domain.StrategyKind) (Strategy, error) {
	s, ok := r.byKind[kind]
	if !ok {
		return nil, fmt.Errorf("strategy %q: %w", kind, domain.ErrUnknownStrategy)
	}
	return s, nil
}

func gatewayRequest(req InitiateRequest) GatewayRequest {
	return GatewayRequest{
		Reference:     req.IdempotencyKey,
		Kind:          req.Kind,
		Amount:        req.Amount,
		InstrumentRef: req.InstrumentRef,
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
