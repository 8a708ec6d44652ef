package worker

import (
	"context"
	"fmt"
	"log/slog"

	"ricorrenza/internal/amqp"
	"ricorrenza/internal/core"
)

// OverviewReader provides the month aggregation the notifier reports on.
type OverviewReader interface {
	ReadMonthOverview(ctx context.Context, userID string, year, month int) (core.MonthOverview, error)
}

// Notifier consumes occurrence-created events and reports the owner's
// updated spend for the month the occurrence falls into. Handler errors
// requeue the message, so the read must stay side-effect free.
type Notifier struct {
	overviews OverviewReader
}

func NewNotifier(overviews OverviewReader) *Notifier {
	return &Notifier{overviews: overviews}
}

// HandleOccurrenceCreated processes one occurrence-created message.
func (n *Notifier) HandleOccurrenceCreated(ctx context.Context, msg *amqp.OccurrenceCreatedMessage) error {
	occurred, err := core.ParseDate(msg.OccurredOn)
	if err != nil {
		return fmt.Errorf("parse occurrence date %q: %w", msg.OccurredOn, err)
	}

	year, month, _ := occurred.Date()
	overview, err := n.overviews.ReadMonthOverview(ctx, msg.UserID, year, int(month))
	if err != nil {
		return fmt.Errorf("read month overview: %w", err)
	}

	topCategory := ""
	if len(overview.ByCategory) > 0 {
		topCategory = overview.ByCategory[0].CategoryID
	}

	slog.InfoContext(ctx, "Occurrence recorded",
		"occurrence_id", msg.OccurrenceID,
		"user_id", msg.UserID,
		"amount_cents", msg.AmountCents,
		"occurred_on", msg.OccurredOn,
		"month_total_cents", overview.Total.Cents,
		"top_category", topCategory)

	return nil
}
