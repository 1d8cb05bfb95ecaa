package server

import (
	"context"
	"sync"
	"time"

	"github.com/brojonat/solsend/service/transfer"
)

// defaultTrackerLimit bounds how many attempts are kept in memory.
const defaultTrackerLimit = 256

// transferResponse is the JSON response format for a transfer attempt.
type transferResponse struct {
	AttemptID   string            `json:"attempt_id"`
	Account     string            `json:"account,omitempty"`
	Destination string            `json:"destination,omitempty"`
	Lamports    uint64            `json:"lamports"`
	Amount      string            `json:"amount,omitempty"`
	State       string            `json:"state"`
	Kind        string            `json:"kind,omitempty"`
	Status      string            `json:"status"`
	Signature   string            `json:"signature,omitempty"`
	Details     string            `json:"details,omitempty"`
	ExplorerURL string            `json:"explorer_url,omitempty"`
	Balance     *transfer.Balance `json:"balance,omitempty"`
	Terminal    bool              `json:"terminal"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Tracker keeps the live view of recent attempts. It observes every state
// change and receives the final Outcome once an attempt completes.
type Tracker struct {
	mu       sync.RWMutex
	attempts map[string]*transferResponse
	order    []string
	limit    int
}

// NewTracker creates a tracker keeping at most limit attempts.
func NewTracker(limit int) *Tracker {
	if limit <= 0 {
		limit = defaultTrackerLimit
	}
	return &Tracker{
		attempts: make(map[string]*transferResponse),
		limit:    limit,
	}
}

// OnEvent records a state change.
func (t *Tracker) OnEvent(ctx context.Context, ev transfer.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	resp := t.getOrCreate(ev.AttemptID)
	if ev.Account != "" {
		resp.Account = ev.Account
	}
	resp.Destination = ev.Destination
	resp.Lamports = ev.Lamports
	if ev.Lamports > 0 {
		resp.Amount = transfer.FormatLamports(ev.Lamports)
	}
	resp.State = string(ev.State)
	resp.Kind = string(ev.Kind)
	resp.Status = ev.Status
	resp.Signature = ev.Signature
	resp.Details = ev.Details
	resp.Terminal = ev.State.Terminal()
	resp.UpdatedAt = ev.At
}

// Complete records the terminal outcome, including fields events do not carry.
func (t *Tracker) Complete(out *transfer.Outcome) {
	if out == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	resp := t.getOrCreate(out.AttemptID)
	resp.State = string(out.State)
	resp.Kind = string(out.Kind)
	resp.Status = out.Status
	resp.Signature = out.Signature
	resp.Details = out.Details
	resp.ExplorerURL = out.ExplorerURL
	resp.Balance = out.Balance
	resp.Terminal = true
	resp.UpdatedAt = out.FinishedAt
}

// Get returns a copy of the tracked attempt.
func (t *Tracker) Get(attemptID string) (transferResponse, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	resp, ok := t.attempts[attemptID]
	if !ok {
		return transferResponse{}, false
	}
	return *resp, true
}

// getOrCreate must be called with mu held.
func (t *Tracker) getOrCreate(attemptID string) *transferResponse {
	if resp, ok := t.attempts[attemptID]; ok {
		return resp
	}

	resp := &transferResponse{AttemptID: attemptID}
	t.attempts[attemptID] = resp
	t.order = append(t.order, attemptID)
	for len(t.order) > t.limit {
		delete(t.attempts, t.order[0])
		t.order = t.order[1:]
	}
	return resp
}
