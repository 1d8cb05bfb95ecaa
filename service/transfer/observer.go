package transfer

import (
	"context"
	"fmt"
	"time"
)

// Event describes one state transition of an attempt.
type Event struct {
	AttemptID   string    `json:"attempt_id"`
	Account     string    `json:"account"`
	Destination string    `json:"destination"`
	Lamports    uint64    `json:"lamports"`
	State       State     `json:"state"`
	Kind        Kind      `json:"kind,omitempty"`
	Status      string    `json:"status"`
	Signature   string    `json:"signature,omitempty"`
	Details     string    `json:"details,omitempty"`
	At          time.Time `json:"at"`
}

// Observer is notified of every transition. OnEvent runs on the attempt's
// goroutine, so implementations must not block for long.
type Observer interface {
	OnEvent(ctx context.Context, ev Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, ev Event)

func (f ObserverFunc) OnEvent(ctx context.Context, ev Event) {
	f(ctx, ev)
}

// Observers fans each event out to every member in order. Nil members are skipped.
type Observers []Observer

func (o Observers) OnEvent(ctx context.Context, ev Event) {
	for _, obs := range o {
		if obs != nil {
			obs.OnEvent(ctx, ev)
		}
	}
}

// ExplorerURL links to a transaction on the Solana explorer.
func ExplorerURL(signature, cluster string) string {
	if cluster == "" || cluster == "mainnet-beta" {
		return fmt.Sprintf("https://explorer.solana.com/tx/%s", signature)
	}
	return fmt.Sprintf("https://explorer.solana.com/tx/%s?cluster=%s", signature, cluster)
}
