package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/josh-kwaku/program-ledger/internal/app"
	"github.com/josh-kwaku/program-ledger/internal/domain"
	"github.com/josh-kwaku/program-ledger/internal/service/ledger"
)

func newLedgerCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect ledgers and move value between them",
	}
	cmd.AddCommand(
		newLedgerBalanceCommand(g),
		newLedgerHistoryCommand(g),
		newLedgerTransferCommand(g),
		newLedgerShowTransactionCommand(g),
	)
	return cmd
}

func newLedgerBalanceCommand(g *globals) *cobra.Command {
	var asOf, category string

	cmd := &cobra.Command{
		Use:   "balance <ledger-id>",
		Short: "Print a ledger's balance, optionally as of a past or future instant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("ledger", args[0])
			if err != nil {
				return err
			}
			at, err := parseTime(asOf)
			if err != nil {
				return err
			}
			when := time.Now().UTC()
			if at != nil {
				when = *at
			}
			return g.run(cmd, func(ctx context.Context, a *app.App) error {
				bal, err := a.Ledgers.BalanceAsOf(ctx, id, when)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\n", bal)
				if category == "" {
					return nil
				}
				tree, err := a.Ledgers.Tree(ctx)
				if err != nil {
					return err
				}
				c, ok := tree.BySlug(category)
				if !ok {
					return fmt.Errorf("category %q: %w", category, domain.ErrUnknownCategory)
				}
				avail, err := a.Ledgers.ContributionAvailableFor(ctx, id, c.ID, when)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "available for %s: %s\n", c.Slug, avail)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&asOf, "as-of", "", "instant to evaluate the balance at (RFC 3339)")
	cmd.Flags().StringVar(&category, "category", "", "also print what the ledger can contribute to this category")
	return cmd
}

func newLedgerHistoryCommand(g *globals) *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "history <ledger-id>",
		Short: "List book transactions from the ledger's point of view",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("ledger", args[0])
			if err != nil {
				return err
			}
			return g.run(cmd, func(ctx context.Context, a *app.App) error {
				txs, total, err := a.Ledgers.ListForLedger(ctx, id, limit, offset)
				if err != nil {
					return err
				}
				tw := newTable(cmd.OutOrStdout())
				fmt.Fprintln(tw, "ID\tAPPLY AT\tAMOUNT\tCOUNTERPARTY\tMEMO")
				for _, d := range txs {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
						d.OpaqueID,
						d.ApplyAt.Format(time.RFC3339),
						d.SignedAmount,
						d.CounterpartyLedgerID(),
						d.Memo,
					)
				}
				fmt.Fprintf(tw, "\n%d of %d\n", len(txs), total)
				return tw.Flush()
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "rows to skip")
	return cmd
}

func newLedgerTransferCommand(g *globals) *cobra.Command {
	var (
		from, to, amount, currency string
		category, memo, applyAt    string
		requireFunds               bool
	)

	cmd := &cobra.Command{
		Use:   "transfer",
		Short: "Record a book transaction between two ledgers",
		RunE: func(cmd *cobra.Command, args []string) error {
			fromID, err := parseID("from", from)
			if err != nil {
				return err
			}
			toID, err := parseID("to", to)
			if err != nil {
				return err
			}
			at, err := parseTime(applyAt)
			if err != nil {
				return err
			}
			return g.run(cmd, func(ctx context.Context, a *app.App) error {
				if currency == "" {
					currency = a.Config.DefaultCurrency
				}
				money, err := parseAmount(amount, currency)
				if err != nil {
					return err
				}
				tree, err := a.Ledgers.Tree(ctx)
				if err != nil {
					return err
				}
				c, ok := tree.BySlug(category)
				if !ok {
					return fmt.Errorf("category %q: %w", category, domain.ErrUnknownCategory)
				}
				req := ledger.TransferRequest{
					OriginatingLedgerID: fromID,
					ReceivingLedgerID:   toID,
					Amount:              money,
					CategoryID:          c.ID,
					Memo:                memo,
				}
				if at != nil {
					req.ApplyAt = *at
				}
				bx, err := a.Ledgers.Transfer(ctx, req, ledger.CreateOptions{RequireFunds: requireFunds, Actor: g.actor})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", bx.OpaqueID, bx.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "originating ledger id")
	cmd.Flags().StringVar(&to, "to", "", "receiving ledger id")
	cmd.Flags().StringVar(&amount, "amount", "", "amount in major units")
	cmd.Flags().StringVar(&currency, "currency", "", "ISO 4217 currency (defaults to DEFAULT_CURRENCY)")
	cmd.Flags().StringVar(&category, "category", domain.CashCategorySlug, "category slug")
	cmd.Flags().StringVar(&memo, "memo", "", "memo")
	cmd.Flags().StringVar(&applyAt, "apply-at", "", "when the transaction takes effect (RFC 3339, defaults to now)")
	cmd.Flags().BoolVar(&requireFunds, "require-funds", true, "reject if the originating ledger would go negative")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func newLedgerShowTransactionCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "show-transaction <bx_id|uuid>",
		Short: "Print one book transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.run(cmd, func(ctx context.Context, a *app.App) error {
				bx, err := a.Ledgers.GetBookTransaction(ctx, args[0])
				if err != nil {
					return err
				}
				tw := newTable(cmd.OutOrStdout())
				fmt.Fprintf(tw, "id\t%s\n", bx.OpaqueID)
				fmt.Fprintf(tw, "uuid\t%s\n", bx.ID)
				fmt.Fprintf(tw, "from\t%s\n", bx.OriginatingLedgerID)
				fmt.Fprintf(tw, "to\t%s\n", bx.ReceivingLedgerID)
				fmt.Fprintf(tw, "amount\t%s\n", bx.Amount)
				fmt.Fprintf(tw, "apply at\t%s\n", bx.ApplyAt.Format(time.RFC3339))
				fmt.Fprintf(tw, "memo\t%s\n", bx.Memo)

				charge, err := a.Ledgers.ChargeForBookTransaction(ctx, bx.ID)
				switch {
				case err == nil:
					fmt.Fprintf(tw, "charge\t%s\n", charge.ID)
				case !errors.Is(err, domain.ErrNotFound):
					return err
				}
				return tw.Flush()
			})
		},
	}
}
