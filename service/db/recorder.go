package db

import (
	"context"
	"log/slog"

	"github.com/brojonat/solsend/service/transfer"
	"github.com/google/uuid"
)

// TransferWriter is the part of Store the Recorder needs.
type TransferWriter interface {
	CreateTransfer(ctx context.Context, params CreateTransferParams) (*Transfer, error)
	UpdateTransfer(ctx context.Context, params UpdateTransferParams) (*Transfer, error)
}

// Recorder persists transfer attempts as they progress. It inserts a row when
// an attempt starts validating and updates it on every later transition.
// Write failures are logged and never affect the attempt.
type Recorder struct {
	store  TransferWriter
	logger *slog.Logger
}

// NewRecorder creates a transfer.Observer backed by store.
func NewRecorder(store TransferWriter, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, logger: logger.With("component", "transfer_recorder")}
}

func (r *Recorder) OnEvent(ctx context.Context, ev transfer.Event) {
	id, err := uuid.Parse(ev.AttemptID)
	if err != nil {
		r.logger.WarnContext(ctx, "skipping transfer event with non-uuid attempt id",
			"attempt_id", ev.AttemptID,
		)
		return
	}

	if ev.State == transfer.StateValidating {
		_, err = r.store.CreateTransfer(ctx, CreateTransferParams{
			ID:          id,
			Account:     ev.Account,
			Destination: ev.Destination,
			Lamports:    int64(ev.Lamports),
			State:       string(ev.State),
			Status:      ev.Status,
		})
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to record transfer attempt",
				"attempt_id", ev.AttemptID,
				"error", err,
			)
		}
		return
	}

	params := UpdateTransferParams{
		ID:        id,
		State:     string(ev.State),
		Status:    ev.Status,
		Kind:      optional(string(ev.Kind)),
		Signature: optional(ev.Signature),
		Details:   optional(ev.Details),
	}
	if ev.Lamports > 0 {
		lamports := int64(ev.Lamports)
		params.Lamports = &lamports
		params.Destination = optional(ev.Destination)
	}
	if _, err := r.store.UpdateTransfer(ctx, params); err != nil {
		r.logger.ErrorContext(ctx, "failed to record transfer state",
			"attempt_id", ev.AttemptID,
			"state", ev.State,
			"error", err,
		)
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
