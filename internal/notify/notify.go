package notify

import (
	"context"
	"log/slog"
	"time"
)

// Event describes a finished call for downstream notification. Delivery is
// best-effort: the orchestrator never blocks or fails a call teardown on a
// notifier.
type Event struct {
	CallSID      string
	RestaurantID string
	HandledBy    string
	FinalState   string
	EndedAt      time.Time
	// Reason is set for abnormal terminations.
	Reason string
}

// Notifier receives finished-call events.
type Notifier interface {
	CallFinished(ctx context.Context, e Event)
}

// LogNotifier emits finished-call events to the structured log. Unhandled
// calls are warnings so operators can follow up with the restaurant.
type LogNotifier struct {
	log *slog.Logger
}

func NewLogNotifier(log *slog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) CallFinished(ctx context.Context, e Event) {
	attrs := []any{
		"call_sid", e.CallSID,
		"restaurant_id", e.RestaurantID,
		"handled_by", e.HandledBy,
		"final_state", e.FinalState,
		"ended_at", e.EndedAt,
	}
	if e.Reason != "" {
		attrs = append(attrs, "reason", e.Reason)
	}
	if e.HandledBy == "unhandled" {
		n.log.WarnContext(ctx, "call finished unhandled", attrs...)
		return
	}
	n.log.InfoContext(ctx, "call finished", attrs...)
}
