package commands

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/josh-kwaku/program-ledger/internal/app"
	"github.com/josh-kwaku/program-ledger/internal/domain"
	"github.com/josh-kwaku/program-ledger/internal/service/funding"
)

// transferOps binds the generic transfer subcommands to the funding or
// payout methods of the transfer service.
type transferOps struct {
	kind   domain.TransferKind
	create func(ctx context.Context, s *funding.Service, req funding.CreateRequest) (*domain.Transfer, error)
	begin  func(ctx context.Context, s *funding.Service, id uuid.UUID, actor string) (*domain.Transfer, error)
	settle func(ctx context.Context, s *funding.Service, id uuid.UUID, ref, actor string) (*domain.Transfer, error)
	fail   func(ctx context.Context, s *funding.Service, id uuid.UUID, reason, actor string) (*domain.Transfer, error)
	cancel func(ctx context.Context, s *funding.Service, id uuid.UUID, reason, actor string) (*domain.Transfer, error)
}

var fundingOps = transferOps{
	kind: domain.TransferKindFunding,
	create: func(ctx context.Context, s *funding.Service, req funding.CreateRequest) (*domain.Transfer, error) {
		return unwrapFunding(s.CreateFundingTransaction(ctx, req))
	},
	begin: func(ctx context.Context, s *funding.Service, id uuid.UUID, actor string) (*domain.Transfer, error) {
		return unwrapFunding(s.BeginCollecting(ctx, id, actor))
	},
	settle: func(ctx context.Context, s *funding.Service, id uuid.UUID, ref, actor string) (*domain.Transfer, error) {
		return unwrapFunding(s.MarkSettled(ctx, id, ref, actor))
	},
	fail: func(ctx context.Context, s *funding.Service, id uuid.UUID, reason, actor string) (*domain.Transfer, error) {
		return unwrapFunding(s.MarkFailed(ctx, id, reason, actor))
	},
	cancel: func(ctx context.Context, s *funding.Service, id uuid.UUID, reason, actor string) (*domain.Transfer, error) {
		return unwrapFunding(s.Cancel(ctx, id, reason, actor))
	},
}

var payoutOps = transferOps{
	kind: domain.TransferKindPayout,
	create: func(ctx context.Context, s *funding.Service, req funding.CreateRequest) (*domain.Transfer, error) {
		return unwrapPayout(s.CreatePayoutTransaction(ctx, req))
	},
	begin: func(ctx context.Context, s *funding.Service, id uuid.UUID, actor string) (*domain.Transfer, error) {
		return unwrapPayout(s.BeginPayoutCollecting(ctx, id, actor))
	},
	settle: func(ctx context.Context, s *funding.Service, id uuid.UUID, ref, actor string) (*domain.Transfer, error) {
		return unwrapPayout(s.MarkPayoutSettled(ctx, id, ref, actor))
	},
	fail: func(ctx context.Context, s *funding.Service, id uuid.UUID, reason, actor string) (*domain.Transfer, error) {
		return unwrapPayout(s.MarkPayoutFailed(ctx, id, reason, actor))
	},
	cancel: func(ctx context.Context, s *funding.Service, id uuid.UUID, reason, actor string) (*domain.Transfer, error) {
		return unwrapPayout(s.CancelPayout(ctx, id, reason, actor))
	},
}

func unwrapFunding(f *domain.FundingTransaction, err error) (*domain.Transfer, error) {
	if err != nil {
		return nil, err
	}
	return &f.Transfer, nil
}

func unwrapPayout(p *domain.PayoutTransaction, err error) (*domain.Transfer, error) {
	if err != nil {
		return nil, err
	}
	return &p.Transfer, nil
}

type createFlags struct {
	owner          ownerFlags
	amount         string
	currency       string
	instrument     string
	category       string
	strategy       string
	memo           string
	idempotencyKey string
}

func (f *createFlags) register(cmd *cobra.Command) {
	f.owner.register(cmd)
	cmd.Flags().StringVar(&f.amount, "amount", "", "amount in major units, e.g. 25.00")
	cmd.Flags().StringVar(&f.currency, "currency", "", "ISO 4217 currency (defaults to DEFAULT_CURRENCY)")
	cmd.Flags().StringVar(&f.instrument, "instrument", "", "external instrument reference")
	cmd.Flags().StringVar(&f.category, "category", "", "category slug (defaults to cash)")
	cmd.Flags().StringVar(&f.strategy, "strategy", string(domain.StrategyBankTransfer), "bank_transfer, card or fake")
	cmd.Flags().StringVar(&f.memo, "memo", "", "memo on the resulting book transaction")
	cmd.Flags().StringVar(&f.idempotencyKey, "idempotency-key", "", "makes retries of this command safe")
	_ = cmd.MarkFlagRequired("amount")
	_ = cmd.MarkFlagRequired("instrument")
}

func (f *createFlags) request(ctx context.Context, a *app.App, actor string) (funding.CreateRequest, error) {
	currency := f.currency
	if currency == "" {
		currency = a.Config.DefaultCurrency
	}
	amount, err := parseAmount(f.amount, currency)
	if err != nil {
		return funding.CreateRequest{}, err
	}
	acct, err := f.owner.find(ctx, a)
	if err != nil {
		return funding.CreateRequest{}, err
	}
	req := funding.CreateRequest{
		AccountID:      acct.ID,
		Amount:         amount,
		InstrumentRef:  f.instrument,
		Strategy:       domain.StrategyKind(f.strategy),
		Memo:           f.memo,
		IdempotencyKey: f.idempotencyKey,
		Actor:          actor,
	}
	if f.category != "" {
		tree, err := a.Ledgers.Tree(ctx)
		if err != nil {
			return funding.CreateRequest{}, err
		}
		c, ok := tree.BySlug(f.category)
		if !ok {
			return funding.CreateRequest{}, fmt.Errorf("category %q: %w", f.category, domain.ErrUnknownCategory)
		}
		req.CategoryID = c.ID
	}
	return req, nil
}

func newFundingCommand(g *globals) *cobra.Command {
	cmd := newTransferCommand(g, fundingOps, "funding", "Manage funding transactions")
	cmd.AddCommand(newStartAndTransferCommand(g))
	return cmd
}

func newPayoutCommand(g *globals) *cobra.Command {
	return newTransferCommand(g, payoutOps, "payout", "Manage payout transactions")
}

func newTransferCommand(g *globals, ops transferOps, use, short string) *cobra.Command {
	cmd := &cobra.Command{Use: use, Short: short}

	var create createFlags
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a " + string(ops.kind) + " transaction",
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.run(cmd, func(ctx context.Context, a *app.App) error {
				req, err := create.request(ctx, a, g.actor)
				if err != nil {
					return err
				}
				t, err := ops.create(ctx, a.Transfers, req)
				if err != nil {
					return err
				}
				printTransfer(cmd.OutOrStdout(), t)
				return nil
			})
		},
	}
	create.register(createCmd)

	byID := func(use, short string, fn func(ctx context.Context, a *app.App, id uuid.UUID) (*domain.Transfer, error)) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <id>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseID(string(ops.kind), args[0])
				if err != nil {
					return err
				}
				return g.run(cmd, func(ctx context.Context, a *app.App) error {
					t, err := fn(ctx, a, id)
					if err != nil {
						return err
					}
					printTransfer(cmd.OutOrStdout(), t)
					return nil
				})
			},
		}
	}

	var ref, failReason, cancelReason string

	settleCmd := byID("settle", "Confirm settlement and write the book transaction", func(ctx context.Context, a *app.App, id uuid.UUID) (*domain.Transfer, error) {
		return ops.settle(ctx, a.Transfers, id, ref, g.actor)
	})
	settleCmd.Flags().StringVar(&ref, "external-ref", "", "provider reference")

	failCmd := byID("fail", "Mark the transaction failed", func(ctx context.Context, a *app.App, id uuid.UUID) (*domain.Transfer, error) {
		return ops.fail(ctx, a.Transfers, id, failReason, g.actor)
	})
	failCmd.Flags().StringVar(&failReason, "reason", "", "failure reason")
	_ = failCmd.MarkFlagRequired("reason")

	cancelCmd := byID("cancel", "Cancel the transaction", func(ctx context.Context, a *app.App, id uuid.UUID) (*domain.Transfer, error) {
		return ops.cancel(ctx, a.Transfers, id, cancelReason, g.actor)
	})
	cancelCmd.Flags().StringVar(&cancelReason, "reason", "", "cancellation reason")

	cmd.AddCommand(
		createCmd,
		byID("begin", "Start collection through the transaction's strategy", func(ctx context.Context, a *app.App, id uuid.UUID) (*domain.Transfer, error) {
			return ops.begin(ctx, a.Transfers, id, g.actor)
		}),
		settleCmd,
		failCmd,
		cancelCmd,
		byID("show", "Print the transaction", func(ctx context.Context, a *app.App, id uuid.UUID) (*domain.Transfer, error) {
			return a.Transfers.Get(ctx, ops.kind, id)
		}),
	)
	return cmd
}

func newStartAndTransferCommand(g *globals) *cobra.Command {
	var create createFlags
	var ref string

	cmd := &cobra.Command{
		Use:   "start-and-transfer",
		Short: "Record funding that has already arrived, settling it at once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.run(cmd, func(ctx context.Context, a *app.App) error {
				req, err := create.request(ctx, a, g.actor)
				if err != nil {
					return err
				}
				t, err := unwrapFunding(a.Transfers.StartAndTransfer(ctx, req, ref))
				if err != nil {
					return err
				}
				printTransfer(cmd.OutOrStdout(), t)
				return nil
			})
		},
	}
	create.register(cmd)
	cmd.Flags().StringVar(&ref, "external-ref", "", "provider reference")
	return cmd
}
