package nats

import (
	"fmt"
	"time"

	"github.com/brojonat/solsend/service/transfer"
)

// TransferEvent is a transfer state change published to NATS.
// It is published to the subject "transfers.{account}" in JetStream.
type TransferEvent struct {
	// Attempt identifiers
	AttemptID string `json:"attempt_id"`
	Signature string `json:"signature,omitempty"`

	// Parties
	Account     string `json:"account"`
	Destination string `json:"destination"`

	// Progress
	Lamports uint64 `json:"lamports"`
	State    string `json:"state"`
	Kind     string `json:"kind,omitempty"`
	Status   string `json:"status"`
	Details  string `json:"details,omitempty"`
	Terminal bool   `json:"terminal"`

	// Timing information
	Timestamp   time.Time `json:"timestamp"`
	PublishedAt time.Time `json:"published_at"`
}

// FromTransferEvent converts a workflow event for publishing.
func FromTransferEvent(ev transfer.Event) *TransferEvent {
	return &TransferEvent{
		AttemptID:   ev.AttemptID,
		Signature:   ev.Signature,
		Account:     ev.Account,
		Destination: ev.Destination,
		Lamports:    ev.Lamports,
		State:       string(ev.State),
		Kind:        string(ev.Kind),
		Status:      ev.Status,
		Details:     ev.Details,
		Terminal:    ev.State.Terminal(),
		Timestamp:   ev.At,
		PublishedAt: time.Now().UTC(),
	}
}

// Subject returns the subject events for account are published on.
// An empty account yields the wildcard covering every account.
func Subject(account string) string {
	if account == "" {
		return StreamSubjects
	}
	return fmt.Sprintf("transfers.%s", account)
}
