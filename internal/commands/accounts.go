package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/josh-kwaku/program-ledger/internal/app"
	"github.com/josh-kwaku/program-ledger/internal/domain"
	"github.com/josh-kwaku/program-ledger/internal/service/ledger"
)

type ownerFlags struct {
	ownerType string
	ownerRef  string
}

func (o *ownerFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.ownerType, "owner-type", string(domain.OwnerTypeMember), "member, vendor or platform")
	cmd.Flags().StringVar(&o.ownerRef, "owner-ref", "", "owner reference")
	_ = cmd.MarkFlagRequired("owner-ref")
}

func (o *ownerFlags) find(ctx context.Context, a *app.App) (*domain.Account, error) {
	return a.Ledgers.FindAccount(ctx, domain.OwnerType(o.ownerType), o.ownerRef)
}

func newAccountsCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Manage accounts and their ledgers",
	}
	cmd.AddCommand(
		newAccountsEnsureCommand(g),
		newAccountsEnsureCashCommand(g),
		newAccountsAddLedgerCommand(g),
		newAccountsArchiveLedgerCommand(g),
		newAccountsShowCommand(g),
	)
	return cmd
}

func newAccountsEnsureCommand(g *globals) *cobra.Command {
	var owner ownerFlags

	cmd := &cobra.Command{
		Use:   "ensure",
		Short: "Create the owner's account if it does not exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.run(cmd, func(ctx context.Context, a *app.App) error {
				acct, err := a.Ledgers.EnsureAccount(ctx, domain.OwnerType(owner.ownerType), owner.ownerRef)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", acct.ID, acct.Label())
				return nil
			})
		},
	}
	owner.register(cmd)
	return cmd
}

func newAccountsEnsureCashCommand(g *globals) *cobra.Command {
	var owner ownerFlags
	var currency string

	cmd := &cobra.Command{
		Use:   "ensure-cash",
		Short: "Create the owner's account and cash ledger if missing",
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.run(cmd, func(ctx context.Context, a *app.App) error {
				acct, err := a.Ledgers.EnsureAccount(ctx, domain.OwnerType(owner.ownerType), owner.ownerRef)
				if err != nil {
					return err
				}
				if currency == "" {
					currency = a.Config.DefaultCurrency
				}
				l, err := a.Ledgers.EnsureCashLedger(ctx, acct.ID, currency)
				if err != nil {
					return err
				}
				printLedger(cmd.OutOrStdout(), l)
				return nil
			})
		},
	}
	owner.register(cmd)
	cmd.Flags().StringVar(&currency, "currency", "", "ISO 4217 currency (defaults to DEFAULT_CURRENCY)")
	return cmd
}

func newAccountsAddLedgerCommand(g *globals) *cobra.Command {
	var (
		owner         ownerFlags
		name          string
		currency      string
		categories    string
		eligibleUntil string
	)

	cmd := &cobra.Command{
		Use:   "add-ledger",
		Short: "Add a category-restricted ledger to an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			until, err := parseTime(eligibleUntil)
			if err != nil {
				return err
			}
			slugs := splitList(categories)
			if len(slugs) == 0 {
				return fmt.Errorf("--categories is required: %w", domain.ErrInvalidRequest)
			}
			return g.run(cmd, func(ctx context.Context, a *app.App) error {
				acct, err := owner.find(ctx, a)
				if err != nil {
					return err
				}
				if currency == "" {
					currency = a.Config.DefaultCurrency
				}
				l, err := a.Ledgers.CreateLedger(ctx, ledger.CreateLedgerRequest{
					AccountID:     acct.ID,
					Name:          name,
					Currency:      currency,
					CategorySlugs: slugs,
					EligibleUntil: until,
				})
				if err != nil {
					return err
				}
				printLedger(cmd.OutOrStdout(), l)
				return nil
			})
		},
	}
	owner.register(cmd)
	cmd.Flags().StringVar(&name, "name", "", "ledger name")
	cmd.Flags().StringVar(&currency, "currency", "", "ISO 4217 currency (defaults to DEFAULT_CURRENCY)")
	cmd.Flags().StringVar(&categories, "categories", "", "comma-separated category slugs, e.g. food,mobility")
	cmd.Flags().StringVar(&eligibleUntil, "eligible-until", "", "last moment the ledger may fund charges (RFC 3339 or YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newAccountsArchiveLedgerCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "archive-ledger <ledger-id>",
		Short: "Archive a ledger; its history is kept",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("ledger", args[0])
			if err != nil {
				return err
			}
			return g.run(cmd, func(ctx context.Context, a *app.App) error {
				if err := a.Ledgers.ArchiveLedger(ctx, id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "ledger %s archived\n", id)
				return nil
			})
		},
	}
}

func newAccountsShowCommand(g *globals) *cobra.Command {
	var owner ownerFlags

	cmd := &cobra.Command{
		Use:   "show",
		Short: "List an account's ledgers with their current balances",
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.run(cmd, func(ctx context.Context, a *app.App) error {
				acct, err := owner.find(ctx, a)
				if err != nil {
					return err
				}
				now := time.Now().UTC()
				tw := newTable(cmd.OutOrStdout())
				fmt.Fprintf(tw, "account\t%s\t%s\n", acct.ID, acct.Label())
				fmt.Fprintln(tw, "LEDGER\tNAME\tBALANCE\tARCHIVED")
				for _, l := range acct.Ledgers {
					bal, err := a.Ledgers.BalanceAsOf(ctx, l.ID, now)
					if err != nil {
						return err
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%t\n", l.ID, l.Name, bal, l.ArchivedAt != nil)
				}
				return tw.Flush()
			})
		},
	}
	owner.register(cmd)
	return cmd
}
