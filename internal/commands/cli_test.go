package commands

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josh-kwaku/program-ledger/internal/domain"
	"github.com/josh-kwaku/program-ledger/internal/testutil"
)

type cli struct {
	t       *testing.T
	envFile string
}

func newCLI(t *testing.T) cli {
	t.Helper()
	_, connStr := testutil.SetupTestDatabase(t)
	t.Setenv("DATABASE_URL", connStr)
	t.Setenv("ALLOW_FAKE_STRATEGY", "true")
	t.Setenv("DEFAULT_CURRENCY", "USD")
	return cli{t: t, envFile: filepath.Join(t.TempDir(), "missing.env")}
}

func (c cli) run(args ...string) (string, error) {
	c.t.Helper()
	var out, errOut bytes.Buffer
	root := NewRootCommand()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append(args, "--env-file", c.envFile))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func (c cli) mustRun(args ...string) string {
	c.t.Helper()
	out, err := c.run(args...)
	require.NoError(c.t, err, "ledgerctl %s", strings.Join(args, " "))
	return out
}

// field returns the value printed next to key in a two-column listing.
func field(t *testing.T, out, key string) string {
	t.Helper()
	for _, line := range strings.Split(out, "\n") {
		if rest, ok := strings.CutPrefix(line, key); ok && strings.HasPrefix(rest, " ") {
			return strings.TrimSpace(rest)
		}
	}
	t.Fatalf("no %q in output:\n%s", key, out)
	return ""
}

func TestCLI_FundAndSettleCharge(t *testing.T) {
	c := newCLI(t)

	seedFile := filepath.Join(t.TempDir(), "categories.yaml")
	require.NoError(t, os.WriteFile(seedFile, []byte(`
categories:
  - slug: food
    name: Food
    children:
      - slug: groceries
        name: Groceries
  - slug: mobility
    name: Mobility
`), 0o600))

	out := c.mustRun("categories", "seed", "--file", seedFile)
	assert.Contains(t, out, "3 categories")
	assert.Contains(t, c.mustRun("categories", "list"), "groceries")

	cash := c.mustRun("accounts", "ensure-cash", "--owner-ref", "alice")
	aliceCash := field(t, cash, "id")
	food := c.mustRun("accounts", "add-ledger", "--owner-ref", "alice", "--name", "Food credit", "--categories", "food")
	foodLedger := field(t, food, "id")
	vendor := c.mustRun("accounts", "ensure-cash", "--owner-type", "vendor", "--owner-ref", "grocer")
	vendorLedger := field(t, vendor, "id")
	platform := c.mustRun("accounts", "ensure-cash", "--owner-type", "platform", "--owner-ref", "platform")
	platformLedger := field(t, platform, "id")

	funded := c.mustRun("funding", "start-and-transfer", "--owner-ref", "alice", "--amount", "50.00", "--instrument", "bank-1", "--strategy", "fake")
	assert.Equal(t, "settled", field(t, funded, "status"))

	c.mustRun("ledger", "transfer", "--from", platformLedger, "--to", foodLedger, "--amount", "20.00", "--category", "food", "--require-funds=false", "--memo", "program credit")

	plan := c.mustRun("charge", "plan", "--owner-ref", "alice", "--amount", "30.00", "--category", "groceries")
	assert.Contains(t, plan, foodLedger)
	assert.Contains(t, plan, aliceCash)
	assert.Contains(t, plan, "30.00 USD")

	settled := c.mustRun("charge", "settle", "--owner-ref", "alice", "--amount", "30.00", "--category", "groceries", "--receiving-ledger", vendorLedger)
	chargeID := field(t, settled, "charge")
	lines := strings.Split(strings.TrimSpace(settled), "\n")
	lastDebit := lines[len(lines)-1]

	shown := c.mustRun("charge", "show", chargeID)
	assert.Equal(t, "30.00 USD", field(t, shown, "amount"))
	assert.Equal(t, 2, strings.Count(shown, "paid by"))
	assert.Equal(t, chargeID, field(t, c.mustRun("ledger", "show-transaction", lastDebit), "charge"))

	assert.Equal(t, "30.00 USD", strings.TrimSpace(c.mustRun("ledger", "balance", vendorLedger)))
	assert.Equal(t, "40.00 USD", strings.TrimSpace(c.mustRun("ledger", "balance", aliceCash)))
	assert.Equal(t, "0.00 USD", strings.TrimSpace(c.mustRun("ledger", "balance", foodLedger)))

	history := c.mustRun("ledger", "history", aliceCash)
	assert.Contains(t, history, "50.00 USD")
	assert.Contains(t, history, "-10.00 USD")
	assert.Contains(t, history, "2 of 2")
}

func TestCLI_PayoutLifecycle(t *testing.T) {
	c := newCLI(t)

	c.mustRun("accounts", "ensure-cash", "--owner-ref", "bob")
	c.mustRun("funding", "start-and-transfer", "--owner-ref", "bob", "--amount", "15.00", "--instrument", "bank-1", "--strategy", "fake")

	_, err := c.run("payout", "create", "--owner-ref", "bob", "--amount", "20.00", "--instrument", "bank-1", "--strategy", "fake")
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	created := c.mustRun("payout", "create", "--owner-ref", "bob", "--amount", "10.00", "--instrument", "bank-1", "--strategy", "fake")
	id := field(t, created, "id")
	assert.Equal(t, "created", field(t, created, "status"))

	begun := c.mustRun("payout", "begin", id)
	assert.Equal(t, "collecting", field(t, begun, "status"))

	settled := c.mustRun("payout", "settle", id, "--external-ref", field(t, begun, "external ref"))
	assert.Equal(t, "settled", field(t, settled, "status"))

	_, err = c.run("payout", "fail", id, "--reason", "too late")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	assert.Equal(t, "settled", field(t, c.mustRun("payout", "show", id), "status"))
}

func TestCLI_InputErrors(t *testing.T) {
	c := newCLI(t)

	_, err := c.run("ledger", "balance", "not-a-uuid")
	assert.Error(t, err)

	_, err = c.run("funding", "create", "--owner-ref", "nobody", "--amount", "10.00", "--instrument", "x")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = c.run("charge", "plan", "--owner-ref", "nobody", "--amount", "1.234", "--category", "cash")
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}
