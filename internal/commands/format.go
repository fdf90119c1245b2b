package commands

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/program-ledger/internal/domain"
)

// parseAmount reads a positive major-unit amount such as "30.00".
func parseAmount(s, currency string) (domain.Money, error) {
	m, err := domain.ParseMoney(s, currency)
	if err != nil {
		return domain.Money{}, err
	}
	if !m.IsPositive() {
		return domain.Money{}, fmt.Errorf("amount %q must be greater than zero: %w", s, domain.ErrInvalidAmount)
	}
	return m, nil
}

func parseID(name, s string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%s %q is not a valid id: %w", name, s, domain.ErrInvalidRequest)
	}
	return id, nil
}

// parseTime accepts RFC 3339 timestamps or bare dates. Empty means nil.
func parseTime(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("time %q must be RFC 3339 or YYYY-MM-DD: %w", s, domain.ErrInvalidRequest)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

func printTransfer(w io.Writer, t *domain.Transfer) {
	tw := newTable(w)
	fmt.Fprintf(tw, "id\t%s\n", t.ID)
	fmt.Fprintf(tw, "kind\t%s\n", t.Kind)
	fmt.Fprintf(tw, "status\t%s\n", t.Status)
	fmt.Fprintf(tw, "amount\t%s\n", t.Amount)
	fmt.Fprintf(tw, "strategy\t%s\n", t.Strategy)
	fmt.Fprintf(tw, "member ledger\t%s\n", t.MemberLedgerID)
	if t.ExternalRef != nil {
		fmt.Fprintf(tw, "external ref\t%s\n", *t.ExternalRef)
	}
	if t.OriginatedBookTransactionID != nil {
		fmt.Fprintf(tw, "book transaction\t%s\n", *t.OriginatedBookTransactionID)
	}
	if t.FailureReason != nil {
		fmt.Fprintf(tw, "reason\t%s\n", *t.FailureReason)
	}
	tw.Flush()
}

func printLedger(w io.Writer, l *domain.Ledger) {
	slugs := make([]string, 0, len(l.Categories))
	for _, c := range l.Categories {
		slugs = append(slugs, c.Slug)
	}
	tw := newTable(w)
	fmt.Fprintf(tw, "id\t%s\n", l.ID)
	fmt.Fprintf(tw, "name\t%s\n", l.Name)
	fmt.Fprintf(tw, "currency\t%s\n", l.Currency)
	fmt.Fprintf(tw, "categories\t%s\n", strings.Join(slugs, ","))
	if l.EligibleUntil != nil {
		fmt.Fprintf(tw, "eligible until\t%s\n", l.EligibleUntil.Format(time.RFC3339))
	}
	tw.Flush()
}
