package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/program-ledger/internal/domain"
	"github.com/josh-kwaku/program-ledger/internal/events"
	"github.com/josh-kwaku/program-ledger/internal/repository"
	"github.com/josh-kwaku/program-ledger/internal/service/funding"
	"github.com/josh-kwaku/program-ledger/internal/service/ledger"
	"github.com/josh-kwaku/program-ledger/internal/testutil"
)

type webhookFixture struct {
	db        *sql.DB
	transfers *funding.Service
	processor *WebhookProcessor
	webhooks  *repository.WebhookEventRepository
	member    *domain.Account
}

func setupWebhookTest(t *testing.T) webhookFixture {
	t.Helper()
	db := testutil.SetupTestDB(t)
	txdb := repository.NewDB(db, 10)
	hooks := events.NewHooks(repository.NewAuditLogRepository(db))

	ledgers := ledger.NewService(
		txdb,
		repository.NewAccountRepository(db),
		repository.NewLedgerRepository(db),
		repository.NewBookTransactionRepository(db),
		repository.NewCategoryRepository(db),
		repository.NewChargeRepository(db),
		hooks,
	)
	strategies, err := funding.NewStrategies(true, funding.NewFakeStrategy())
	require.NoError(t, err)

	transfers := funding.NewService(
		txdb,
		repository.NewFundingRepository(db),
		repository.NewPayoutRepository(db),
		ledgers,
		strategies,
		hooks,
	)

	webhookRepo := repository.NewWebhookEventRepository(db)
	processor := NewWebhookProcessor(webhookRepo, transfers, slog.Default(), time.Second, time.Minute, 3)

	member, err := ledgers.EnsureAccount(context.Background(), domain.OwnerTypeMember, "member-"+uuid.NewString()[:8])
	require.NoError(t, err)

	return webhookFixture{db: db, transfers: transfers, processor: processor, webhooks: webhookRepo, member: member}
}

func (f webhookFixture) createFunding(t *testing.T, amount int64) *domain.FundingTransaction {
	t.Helper()
	ft, err := f.transfers.CreateFundingTransaction(context.Background(), funding.CreateFundingRequest{
		AccountID:     f.member.ID,
		Amount:        domain.USD(amount),
		InstrumentRef: "bank-acct-1",
		Strategy:      domain.StrategyFake,
	})
	require.NoError(t, err)
	ft, err = f.transfers.BeginCollecting(context.Background(), ft.ID, "")
	require.NoError(t, err)
	return ft
}

func (f webhookFixture) createPayout(t *testing.T, amount int64) *domain.PayoutTransaction {
	t.Helper()
	p, err := f.transfers.CreatePayoutTransaction(context.Background(), funding.CreatePayoutRequest{
		AccountID:     f.member.ID,
		Amount:        domain.USD(amount),
		InstrumentRef: "bank-acct-1",
		Strategy:      domain.StrategyFake,
	})
	require.NoError(t, err)
	return p
}

func insertWebhookEvent(t *testing.T, repo *repository.WebhookEventRepository, kind domain.TransferKind, transferID uuid.UUID, status, reason string) *domain.WebhookEvent {
	t.Helper()
	payload, _ := json.Marshal(webhookCallbackPayload{
		EventID:      uuid.NewString(),
		TransferID:   transferID.String(),
		TransferKind: string(kind),
		Status:       status,
		ProviderRef:  "prov-ref-123",
		Reason:       reason,
	})
	return insertRawWebhookEvent(t, repo, domain.WebhookEventTypeFor(kind, status), payload)
}

func insertRawWebhookEvent(t *testing.T, repo *repository.WebhookEventRepository, eventType domain.WebhookEventType, payload []byte) *domain.WebhookEvent {
	t.Helper()
	event := &domain.WebhookEvent{
		ID:             uuid.New(),
		IdempotencyKey: uuid.NewString(),
		EventType:      eventType,
		Payload:        payload,
		Status:         domain.WebhookEventStatusPending,
		CreatedAt:      time.Now().UTC(),
	}
	require.NoError(t, repo.Create(context.Background(), event))
	return event
}

func getWebhookEvent(t *testing.T, repo *repository.WebhookEventRepository, id uuid.UUID) *domain.WebhookEvent {
	t.Helper()
	e, err := repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	return e
}

func TestWebhookProcessor_SettledFunding(t *testing.T) {
	f := setupWebhookTest(t)
	ctx := context.Background()
	ft := f.createFunding(t, 5000)

	event := insertWebhookEvent(t, f.webhooks, domain.TransferKindFunding, ft.ID, "settled", "")
	require.NoError(t, f.processor.processEvent(ctx, *event))

	updated, err := f.transfers.GetFunding(ctx, ft.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransferStatusSettled, updated.Status)
	require.NotNil(t, updated.OriginatedBookTransactionID)
	assert.Equal(t, int64(5000), testutil.LedgerBalance(t, f.db, ft.RecipientLedgerID()))
	assert.Equal(t, domain.WebhookEventStatusDispatched, getWebhookEvent(t, f.webhooks, event.ID).Status)

	logs, err := repository.NewAuditLogRepository(f.db).ListForSubject(ctx, domain.AuditSubjectFunding, ft.ID)
	require.NoError(t, err)
	require.NotEmpty(t, logs)
	assert.Equal(t, ActorProvider, logs[len(logs)-1].Actor)

	t.Run("redelivered confirmation is dispatched without a second book transaction", func(t *testing.T) {
		dup := insertWebhookEvent(t, f.webhooks, domain.TransferKindFunding, ft.ID, "settled", "")
		require.NoError(t, f.processor.processEvent(ctx, *dup))

		assert.Equal(t, domain.WebhookEventStatusDispatched, getWebhookEvent(t, f.webhooks, dup.ID).Status)
		assert.Equal(t, 1, testutil.CountBookTransactions(t, f.db, ft.RecipientLedgerID()))
	})

	t.Run("failure after settlement fails the event", func(t *testing.T) {
		late := insertWebhookEvent(t, f.webhooks, domain.TransferKindFunding, ft.ID, "failed", "late")
		require.NoError(t, f.processor.processEvent(ctx, *late))

		assert.Equal(t, domain.WebhookEventStatusFailed, getWebhookEvent(t, f.webhooks, late.ID).Status)
		stored, err := f.transfers.GetFunding(ctx, ft.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.TransferStatusSettled, stored.Status)
	})
}

func TestWebhookProcessor_FailedFunding(t *testing.T) {
	f := setupWebhookTest(t)
	ctx := context.Background()
	ft := f.createFunding(t, 1013)

	event := insertWebhookEvent(t, f.webhooks, domain.TransferKindFunding, ft.ID, "failed", "insufficient_funds_at_bank")
	require.NoError(t, f.processor.processEvent(ctx, *event))

	updated, err := f.transfers.GetFunding(ctx, ft.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransferStatusFailed, updated.Status)
	require.NotNil(t, updated.FailureReason)
	assert.Equal(t, "insufficient_funds_at_bank", *updated.FailureReason)
	assert.Equal(t, 0, testutil.CountBookTransactions(t, f.db, ft.RecipientLedgerID()))
	assert.Equal(t, domain.WebhookEventStatusDispatched, getWebhookEvent(t, f.webhooks, event.ID).Status)
}

func TestWebhookProcessor_PayoutExceedingBalance(t *testing.T) {
	f := setupWebhookTest(t)
	ctx := context.Background()

	ft := f.createFunding(t, 10000)
	_, err := f.transfers.MarkSettled(ctx, ft.ID, *ft.ExternalRef, "")
	require.NoError(t, err)

	first, second := f.createPayout(t, 8000), f.createPayout(t, 8000)

	ok := insertWebhookEvent(t, f.webhooks, domain.TransferKindPayout, first.ID, "settled", "")
	require.NoError(t, f.processor.processEvent(ctx, *ok))
	assert.Equal(t, domain.WebhookEventStatusDispatched, getWebhookEvent(t, f.webhooks, ok.ID).Status)

	short := insertWebhookEvent(t, f.webhooks, domain.TransferKindPayout, second.ID, "settled", "")
	require.NoError(t, f.processor.processEvent(ctx, *short))
	assert.Equal(t, domain.WebhookEventStatusFailed, getWebhookEvent(t, f.webhooks, short.ID).Status)

	stored, err := f.transfers.GetPayout(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransferStatusCreated, stored.Status)
	assert.Equal(t, int64(2000), testutil.LedgerBalance(t, f.db, ft.RecipientLedgerID()))
}

func TestWebhookProcessor_Unprocessable(t *testing.T) {
	f := setupWebhookTest(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		payload string
	}{
		{name: "malformed json", payload: `{"transfer_id":`},
		{name: "invalid transfer id", payload: `{"transfer_id":"nope","transfer_kind":"funding","status":"settled"}`},
		{name: "unknown transfer", payload: `{"transfer_id":"` + uuid.NewString() + `","transfer_kind":"funding","status":"settled"}`},
		{name: "unknown kind", payload: `{"transfer_id":"` + uuid.NewString() + `","transfer_kind":"refund","status":"settled"}`},
		{name: "unknown status", payload: `{"transfer_id":"` + uuid.NewString() + `","transfer_kind":"payout","status":"pending"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// malformed JSON cannot be stored in a jsonb column, so it is
			// handed to the processor directly.
			event := domain.WebhookEvent{ID: uuid.New(), Payload: []byte(tt.payload)}
			if json.Valid([]byte(tt.payload)) {
				event = *insertRawWebhookEvent(t, f.webhooks, domain.WebhookEventTypeFundingSettled, []byte(tt.payload))
				require.NoError(t, f.processor.processEvent(ctx, event))
				assert.Equal(t, domain.WebhookEventStatusFailed, getWebhookEvent(t, f.webhooks, event.ID).Status)
				return
			}
			err := f.processor.processEvent(ctx, event)
			assert.ErrorIs(t, err, domain.ErrNotFound)
		})
	}
}

type flakySettler struct {
	transferSettler
	err error
}

func (s flakySettler) MarkSettled(context.Context, uuid.UUID, string, string) (*domain.FundingTransaction, error) {
	return nil, s.err
}

func TestWebhookProcessor_TransientErrorsAreRetried(t *testing.T) {
	f := setupWebhookTest(t)
	ctx := context.Background()
	processor := NewWebhookProcessor(f.webhooks, flakySettler{err: errors.New("connection reset")}, slog.Default(), time.Second, time.Minute, 2)

	event := insertWebhookEvent(t, f.webhooks, domain.TransferKindFunding, uuid.New(), "settled", "")

	claimed, err := f.webhooks.ClaimPending(ctx, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.NoError(t, processor.processEvent(ctx, claimed[0]))

	stored := getWebhookEvent(t, f.webhooks, event.ID)
	assert.Equal(t, domain.WebhookEventStatusPending, stored.Status)
	assert.Equal(t, 1, stored.Attempts)

	claimed, err = f.webhooks.ClaimPending(ctx, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.NoError(t, processor.processEvent(ctx, claimed[0]))

	stored = getWebhookEvent(t, f.webhooks, event.ID)
	assert.Equal(t, domain.WebhookEventStatusFailed, stored.Status)
	assert.Equal(t, 2, stored.Attempts)
}

func TestWebhookProcessor_PollClaimsPendingEvents(t *testing.T) {
	f := setupWebhookTest(t)
	ctx := context.Background()

	a, b := f.createFunding(t, 100), f.createFunding(t, 200)
	ea := insertWebhookEvent(t, f.webhooks, domain.TransferKindFunding, a.ID, "settled", "")
	eb := insertWebhookEvent(t, f.webhooks, domain.TransferKindFunding, b.ID, "settled", "")

	f.processor.poll(ctx)

	assert.Equal(t, domain.WebhookEventStatusDispatched, getWebhookEvent(t, f.webhooks, ea.ID).Status)
	assert.Equal(t, domain.WebhookEventStatusDispatched, getWebhookEvent(t, f.webhooks, eb.ID).Status)
	assert.Equal(t, int64(300), testutil.LedgerBalance(t, f.db, a.RecipientLedgerID()))

	claimed, err := f.webhooks.ClaimPending(ctx, 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestWebhookProcessor_InterruptedEventReturnsToQueue(t *testing.T) {
	f := setupWebhookTest(t)
	ft := f.createFunding(t, 4200)
	event := insertWebhookEvent(t, f.webhooks, domain.TransferKindFunding, ft.ID, "settled", "")

	claimed, err := f.webhooks.ClaimPending(context.Background(), 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	stopped, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, f.processor.processEvent(stopped, claimed[0]))

	stored := getWebhookEvent(t, f.webhooks, event.ID)
	assert.Equal(t, domain.WebhookEventStatusPending, stored.Status)
	assert.Zero(t, stored.Attempts)

	f.processor.poll(context.Background())
	assert.Equal(t, domain.WebhookEventStatusDispatched, getWebhookEvent(t, f.webhooks, event.ID).Status)
	assert.Equal(t, int64(4200), testutil.LedgerBalance(t, f.db, ft.RecipientLedgerID()))
}

func TestWebhookEventRepository_ReclaimsExpiredLease(t *testing.T) {
	f := setupWebhookTest(t)
	ctx := context.Background()
	ft := f.createFunding(t, 900)
	event := insertWebhookEvent(t, f.webhooks, domain.TransferKindFunding, ft.ID, "settled", "")

	claimed, err := f.webhooks.ClaimPending(ctx, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.NotNil(t, claimed[0].LastAttempt)

	claimed, err = f.webhooks.ClaimPending(ctx, 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, claimed, "a live claim is not handed out twice")

	// The claiming processor died two minutes ago.
	_, err = f.db.Exec(`UPDATE webhook_events SET last_attempt = now() - interval '2 minutes' WHERE id = $1`, event.ID)
	require.NoError(t, err)

	f.processor.poll(ctx)

	stored := getWebhookEvent(t, f.webhooks, event.ID)
	assert.Equal(t, domain.WebhookEventStatusDispatched, stored.Status)
	settled, err := f.transfers.GetFunding(ctx, ft.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransferStatusSettled, settled.Status)
}

// memWebhooks is an in-memory webhookRepo that, like the database, refuses
// to do anything once its context is canceled.
type memWebhooks struct {
	pending   []domain.WebhookEvent
	statuses  map[uuid.UUID]domain.WebhookEventStatus
	unclaimed []uuid.UUID
}

func newMemWebhooks(events ...domain.WebhookEvent) *memWebhooks {
	return &memWebhooks{pending: events, statuses: map[uuid.UUID]domain.WebhookEventStatus{}}
}

func (m *memWebhooks) ClaimPending(ctx context.Context, limit int, _ time.Duration) ([]domain.WebhookEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	claimed := m.pending
	m.pending = nil
	for _, e := range claimed {
		m.statuses[e.ID] = domain.WebhookEventStatusProcessing
	}
	return claimed, nil
}

func (m *memWebhooks) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.WebhookEventStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.statuses[id] = status
	return nil
}

func (m *memWebhooks) Release(ctx context.Context, id uuid.UUID, _ int) (domain.WebhookEventStatus, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.statuses[id] = domain.WebhookEventStatusPending
	return domain.WebhookEventStatusPending, nil
}

func (m *memWebhooks) Unclaim(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.statuses[id] = domain.WebhookEventStatusPending
	m.unclaimed = append(m.unclaimed, id)
	return nil
}

// stoppingSettler settles funding transfers. When stop is set it is called
// during the first settlement, as a shutdown signal arriving mid-commit
// would be. honorCancel makes it fail like the database once ctx is done.
type stoppingSettler struct {
	transferSettler
	stop        context.CancelFunc
	honorCancel bool
	settled     []uuid.UUID
}

func (s *stoppingSettler) MarkSettled(ctx context.Context, id uuid.UUID, _, _ string) (*domain.FundingTransaction, error) {
	if s.honorCancel {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("MarkSettled: %w", err)
		}
	}
	if s.stop != nil {
		s.stop()
		s.stop = nil
	}
	s.settled = append(s.settled, id)
	return &domain.FundingTransaction{}, nil
}

func settledEvent(t *testing.T) domain.WebhookEvent {
	t.Helper()
	payload, err := json.Marshal(webhookCallbackPayload{
		EventID:      uuid.NewString(),
		TransferID:   uuid.NewString(),
		TransferKind: string(domain.TransferKindFunding),
		Status:       "settled",
	})
	require.NoError(t, err)
	return domain.WebhookEvent{ID: uuid.New(), Payload: payload}
}

func TestProcessEvent_CanceledContext(t *testing.T) {
	tests := []struct {
		name        string
		canceled    bool
		stopDuring  bool
		honorCancel bool
		wantStatus  domain.WebhookEventStatus
		wantSettled int
		wantUnclaim int
	}{
		{
			name:        "canceled before settling goes back to the queue",
			canceled:    true,
			honorCancel: true,
			wantStatus:  domain.WebhookEventStatusPending,
			wantUnclaim: 1,
		},
		{
			name:        "canceled after settling still records dispatched",
			stopDuring:  true,
			wantStatus:  domain.WebhookEventStatusDispatched,
			wantSettled: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			if tt.canceled {
				cancel()
			}
			settler := &stoppingSettler{honorCancel: tt.honorCancel}
			if tt.stopDuring {
				settler.stop = cancel
			}
			event := settledEvent(t)
			repo := newMemWebhooks()
			p := NewWebhookProcessor(repo, settler, slog.Default(), time.Second, time.Minute, 3)

			require.NoError(t, p.processEvent(ctx, event))

			assert.Equal(t, tt.wantStatus, repo.statuses[event.ID])
			assert.Len(t, settler.settled, tt.wantSettled)
			assert.Len(t, repo.unclaimed, tt.wantUnclaim)
		})
	}
}

func TestPoll_ShutdownUnclaimsRemainingBatch(t *testing.T) {
	first, second, third := settledEvent(t), settledEvent(t), settledEvent(t)
	repo := newMemWebhooks(first, second, third)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	settler := &stoppingSettler{stop: cancel, honorCancel: true}
	p := NewWebhookProcessor(repo, settler, slog.Default(), time.Second, time.Minute, 3)

	p.poll(ctx)

	assert.Equal(t, domain.WebhookEventStatusDispatched, repo.statuses[first.ID])
	assert.Equal(t, domain.WebhookEventStatusPending, repo.statuses[second.ID])
	assert.Equal(t, domain.WebhookEventStatusPending, repo.statuses[third.ID])
	assert.ElementsMatch(t, []uuid.UUID{second.ID, third.ID}, repo.unclaimed)
}
