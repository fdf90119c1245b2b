package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/josh-kwaku/program-ledger/internal/app"
	"github.com/josh-kwaku/program-ledger/internal/domain"
	"github.com/josh-kwaku/program-ledger/internal/service/ledger"
)

type chargeFlags struct {
	owner    ownerFlags
	amount   string
	currency string
	category string
}

func (f *chargeFlags) register(cmd *cobra.Command) {
	f.owner.register(cmd)
	cmd.Flags().StringVar(&f.amount, "amount", "", "charge amount in major units, e.g. 30.00")
	cmd.Flags().StringVar(&f.currency, "currency", "", "ISO 4217 currency (defaults to DEFAULT_CURRENCY)")
	cmd.Flags().StringVar(&f.category, "category", "", "category slug of the charge")
	_ = cmd.MarkFlagRequired("amount")
	_ = cmd.MarkFlagRequired("category")
}

func (f *chargeFlags) resolve(ctx context.Context, a *app.App) (*domain.Account, domain.Charge, error) {
	currency := f.currency
	if currency == "" {
		currency = a.Config.DefaultCurrency
	}
	amount, err := parseAmount(f.amount, currency)
	if err != nil {
		return nil, domain.Charge{}, err
	}
	tree, err := a.Ledgers.Tree(ctx)
	if err != nil {
		return nil, domain.Charge{}, err
	}
	c, ok := tree.BySlug(f.category)
	if !ok {
		return nil, domain.Charge{}, fmt.Errorf("category %q: %w", f.category, domain.ErrUnknownCategory)
	}
	acct, err := f.owner.find(ctx, a)
	if err != nil {
		return nil, domain.Charge{}, err
	}
	return acct, domain.Charge{Amount: amount, CategoryID: c.ID}, nil
}

func printPlan(w io.Writer, plan domain.ContributionPlan) error {
	tw := newTable(w)
	fmt.Fprintln(tw, "LEDGER\tNAME\tAMOUNT")
	for _, line := range plan.Lines {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", line.Ledger.ID, line.Ledger.Name, line.Amount)
	}
	fmt.Fprintf(tw, "total\t\t%s\n", plan.Total())
	return tw.Flush()
}

func newChargeCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "charge",
		Short: "Plan and settle charges against an account's ledgers",
	}
	cmd.AddCommand(newChargePlanCommand(g), newChargeSettleCommand(g), newChargeShowCommand(g))
	return cmd
}

func newChargePlanCommand(g *globals) *cobra.Command {
	var f chargeFlags

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show which ledgers would fund a charge, without moving anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.run(cmd, func(ctx context.Context, a *app.App) error {
				acct, charge, err := f.resolve(ctx, a)
				if err != nil {
					return err
				}
				plan, err := a.Ledgers.ContributionPlanFor(ctx, acct.ID, charge)
				if err != nil {
					return err
				}
				return printPlan(cmd.OutOrStdout(), plan)
			})
		},
	}
	f.register(cmd)
	return cmd
}

func newChargeSettleCommand(g *globals) *cobra.Command {
	var f chargeFlags
	var receiving, memo string

	cmd := &cobra.Command{
		Use:   "settle",
		Short: "Move a charge into the receiving ledger, all or nothing",
		RunE: func(cmd *cobra.Command, args []string) error {
			receivingID, err := parseID("receiving-ledger", receiving)
			if err != nil {
				return err
			}
			return g.run(cmd, func(ctx context.Context, a *app.App) error {
				acct, charge, err := f.resolve(ctx, a)
				if err != nil {
					return err
				}
				settlement, err := a.Ledgers.SettleCharge(ctx, ledger.SettleChargeRequest{
					AccountID:         acct.ID,
					Charge:            charge,
					ReceivingLedgerID: receivingID,
					Memo:              memo,
					Actor:             g.actor,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "charge %s\n", settlement.Charge.ID)
				if err := printPlan(cmd.OutOrStdout(), settlement.Plan); err != nil {
					return err
				}
				for _, bx := range settlement.BookTransactions {
					fmt.Fprintln(cmd.OutOrStdout(), bx.OpaqueID)
				}
				return nil
			})
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&receiving, "receiving-ledger", "", "ledger that receives the charge")
	cmd.Flags().StringVar(&memo, "memo", "", "memo on each book transaction")
	_ = cmd.MarkFlagRequired("receiving-ledger")
	return cmd
}

func newChargeShowCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "show <charge_id>",
		Short: "Print a settled charge and the book transactions that paid for it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("charge", args[0])
			if err != nil {
				return err
			}
			return g.run(cmd, func(ctx context.Context, a *app.App) error {
				c, err := a.Ledgers.GetCharge(ctx, id)
				if err != nil {
					return err
				}
				tw := newTable(cmd.OutOrStdout())
				fmt.Fprintf(tw, "id\t%s\n", c.ID)
				fmt.Fprintf(tw, "account\t%s\n", c.AccountID)
				fmt.Fprintf(tw, "to\t%s\n", c.ReceivingLedgerID)
				fmt.Fprintf(tw, "amount\t%s\n", c.Amount)
				fmt.Fprintf(tw, "memo\t%s\n", c.Memo)
				for _, bxID := range c.BookTransactionIDs {
					fmt.Fprintf(tw, "paid by\t%s\n", bxID)
				}
				return tw.Flush()
			})
		},
	}
}
