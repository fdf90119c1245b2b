package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/josh-kwaku/program-ledger/internal/app"
	"github.com/josh-kwaku/program-ledger/internal/config"
	"github.com/josh-kwaku/program-ledger/internal/logging"
)

const defaultActor = "operator"

type globals struct {
	actor    string
	logLevel string
	envFile  string
}

// NewRootCommand creates the ledgerctl root command with all subcommands
// registered.
func NewRootCommand() *cobra.Command {
	g := &globals{}

	rootCmd := &cobra.Command{
		Use:   "ledgerctl",
		Short: "Operate the program ledger",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&g.actor, "actor", defaultActor, "actor recorded on audit rows")
	rootCmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "warn", "log level")
	rootCmd.PersistentFlags().StringVar(&g.envFile, "env-file", ".env", "optional dotenv file")

	rootCmd.AddCommand(
		newCategoriesCommand(g),
		newAccountsCommand(g),
		newFundingCommand(g),
		newPayoutCommand(g),
		newLedgerCommand(g),
		newChargeCommand(g),
	)

	return rootCmd
}

// run loads configuration, wires the services and hands them to fn.
func (g *globals) run(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	if err := godotenv.Load(g.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("loading %s: %w", g.envFile, err)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logging.InitTo(cmd.ErrOrStderr(), "ledgerctl", g.logLevel, cfg.AppEnv)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}
