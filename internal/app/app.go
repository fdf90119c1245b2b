package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/josh-kwaku/program-ledger/internal/cache"
	"github.com/josh-kwaku/program-ledger/internal/config"
	"github.com/josh-kwaku/program-ledger/internal/events"
	"github.com/josh-kwaku/program-ledger/internal/repository"
	"github.com/josh-kwaku/program-ledger/internal/service"
	"github.com/josh-kwaku/program-ledger/internal/service/funding"
	"github.com/josh-kwaku/program-ledger/internal/service/ledger"
)

// App holds the wired services shared by the API server and ledgerctl.
type App struct {
	Config    *config.Config
	DB        *sql.DB
	Redis     *redis.Client
	Ledgers   *ledger.Service
	Transfers *funding.Service
	Webhooks  *repository.WebhookEventRepository
	Delivery  *cache.DeliveryCache

	closers []func() error
}

// New connects to Postgres (and Redis and Kafka when configured) and wires
// the services. The caller owns Close.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	db, err := repository.NewPostgresDB(ctx, cfg.DatabaseURL, repository.PoolConfig{
		MaxOpenConns:     cfg.DBMaxOpenConns,
		MaxIdleConns:     cfg.DBMaxIdleConns,
		ConnMaxLifetimeS: cfg.DBConnMaxLifetimeS,
		ConnMaxIdleTimeS: cfg.DBConnMaxIdleTimeS,
		ConnectAttempts:  30,
	})
	if err != nil {
		return nil, fmt.Errorf("app.New: %w", err)
	}

	a := &App{Config: cfg, DB: db, Webhooks: repository.NewWebhookEventRepository(db)}
	a.closers = append(a.closers, db.Close)

	publishers := []events.Publisher{events.LogPublisher{}}

	if cfg.RedisURL != "" {
		rdb, err := cache.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("app.New: %w", err)
		}
		a.Redis = rdb
		a.Delivery = cache.NewDeliveryCache(rdb, cfg.DeliveryCacheTTL)
		a.closers = append(a.closers, rdb.Close)
		publishers = append(publishers, events.NewRedisPublisher(rdb, cfg.RedisChannel))
	}

	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		a.closers = append(a.closers, kp.Close)
		publishers = append(publishers, kp)
	}

	names := make([]string, 0, len(publishers))
	for _, p := range publishers {
		names = append(names, p.Name())
	}
	slog.Info("event publishers configured", "publishers", names)

	txdb := repository.NewDB(db, cfg.TxMaxRetries)
	hooks := events.NewHooks(repository.NewAuditLogRepository(db), publishers...)

	a.Ledgers = ledger.NewService(
		txdb,
		repository.NewAccountRepository(db),
		repository.NewLedgerRepository(db),
		repository.NewBookTransactionRepository(db),
		repository.NewCategoryRepository(db),
		repository.NewChargeRepository(db),
		hooks,
	)

	gateway := service.NewProviderClient(cfg.MockProviderURL, cfg.WebhookCallbackURL)
	available := []funding.Strategy{
		funding.NewBankTransferStrategy(gateway),
		funding.NewCardStrategy(gateway),
	}
	if cfg.AllowFakeStrategy {
		available = append(available, funding.NewFakeStrategy())
	}
	strategies, err := funding.NewStrategies(cfg.AllowFakeStrategy, available...)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("app.New: %w", err)
	}

	a.Transfers = funding.NewService(
		txdb,
		repository.NewFundingRepository(db),
		repository.NewPayoutRepository(db),
		a.Ledgers,
		strategies,
		hooks,
	)

	return a, nil
}

// NewWebhookProcessor builds the processor that drains stored provider
// webhooks into the transfer state machines.
func (a *App) NewWebhookProcessor() *service.WebhookProcessor {
	return service.NewWebhookProcessor(
		a.Webhooks,
		a.Transfers,
		slog.Default(),
		a.Config.WebhookPollInterval,
		a.Config.WebhookLease,
		a.Config.WebhookMaxAttempts,
	)
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
