package nats

import (
	"context"
	"log/slog"
	"time"

	"github.com/brojonat/solsend/service/transfer"
)

// EventObserver publishes every transfer state change. Publish failures are
// logged; they never change the attempt.
type EventObserver struct {
	publisher Publisher
	timeout   time.Duration
	logger    *slog.Logger
}

// NewEventObserver adapts a Publisher to transfer.Observer.
func NewEventObserver(publisher Publisher, logger *slog.Logger) *EventObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventObserver{
		publisher: publisher,
		timeout:   5 * time.Second,
		logger:    logger.With("component", "transfer_events"),
	}
}

func (o *EventObserver) OnEvent(ctx context.Context, ev transfer.Event) {
	// A canceled attempt still reports its terminal state.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.timeout)
	defer cancel()

	if err := o.publisher.PublishTransferEvent(ctx, FromTransferEvent(ev)); err != nil {
		o.logger.ErrorContext(ctx, "failed to publish transfer event",
			"attempt_id", ev.AttemptID,
			"state", ev.State,
			"error", err,
		)
	}
}
