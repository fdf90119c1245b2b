package events

import (
	"context"
	"log/slog"

	"github.com/josh-kwaku/program-ledger/internal/logging"
)

// LogPublisher writes events to the structured log. It is always
// installed so notifications are visible without a broker.
type LogPublisher struct{}

func (LogPublisher) Name() string { return "log" }

func (LogPublisher) Publish(ctx context.Context, e Event) error {
	logging.FromContext(ctx).Info("ledger event",
		slog.String("event_kind", string(e.Kind)),
		slog.String("event_id", e.ID.String()),
		slog.String("subject_id", e.SubjectID.String()),
		slog.String("actor", e.Actor),
	)
	return nil
}
