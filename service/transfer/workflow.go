package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/solsend/service/solana"
	"github.com/brojonat/solsend/service/wallet"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/google/uuid"
)

// ErrNotConnected is returned when a transfer is attempted without an active session.
var ErrNotConnected = errors.New("connect wallet first")

// Outcome is the terminal result of one attempt. Exactly one of the terminal
// states is set; Kind is empty only on success.
type Outcome struct {
	AttemptID   string    `json:"attempt_id"`
	State       State     `json:"state"`
	Kind        Kind      `json:"kind,omitempty"`
	Status      string    `json:"status"`
	Signature   string    `json:"signature,omitempty"`
	Details     string    `json:"details,omitempty"`
	Destination string    `json:"destination,omitempty"`
	Lamports    uint64    `json:"lamports,omitempty"`
	ExplorerURL string    `json:"explorer_url,omitempty"`
	Balance     *Balance  `json:"balance,omitempty"`
	FinishedAt  time.Time `json:"finished_at"`

	// Err is the classified error for non-successful outcomes.
	Err error `json:"-"`
}

// Succeeded reports whether the transfer was finalized without an execution error.
func (o *Outcome) Succeeded() bool {
	return o != nil && o.State == StateSucceeded
}

// Workflow runs transfer attempts. It is safe for concurrent use, but callers
// that need overlap rejection should go through a Runner.
type Workflow struct {
	cluster  string
	observer Observer
	logger   *slog.Logger
	now      func() time.Time
}

// NewWorkflow creates a workflow. cluster names the network for explorer links.
func NewWorkflow(cluster string, observer Observer, logger *slog.Logger) *Workflow {
	if logger == nil {
		logger = slog.Default()
	}
	return &Workflow{
		cluster:  cluster,
		observer: observer,
		logger:   logger.With("component", "transfer"),
		now:      time.Now,
	}
}

// Run drives one attempt to a terminal outcome under a fresh attempt id.
func (w *Workflow) Run(ctx context.Context, s *Session, destination, amount string) *Outcome {
	return w.RunAttempt(ctx, uuid.NewString(), s, destination, amount)
}

// RunAttempt drives one attempt to a terminal outcome. Every collaborator
// failure is converted to a Kind; nothing is retried.
func (w *Workflow) RunAttempt(ctx context.Context, attemptID string, s *Session, destination, amount string) *Outcome {
	a := &attempt{
		w:       w,
		outcome: &Outcome{AttemptID: attemptID, Destination: destination},
	}
	if s.Active() {
		a.account = s.Account.String()
	}

	a.enter(ctx, StateValidating)
	if !s.Active() {
		return a.fail(ctx, &Error{Kind: KindInvalidInput, Err: ErrNotConnected})
	}
	req, err := ParseRequest(destination, amount)
	if err != nil {
		return a.fail(ctx, err)
	}
	a.outcome.Destination = req.Destination.String()
	a.outcome.Lamports = req.Lamports

	a.enter(ctx, StatePreparing)
	blockhash, err := s.Ledger.LatestBlockhash(ctx)
	if err != nil {
		return a.fail(ctx, &Error{Kind: KindNetworkError, Err: err})
	}
	tx, err := BuildTransaction(s.Account, req, blockhash)
	if err != nil {
		return a.fail(ctx, &Error{Kind: KindNetworkError, Err: err})
	}

	a.enter(ctx, StateAwaitingSignature)
	signed, err := s.Wallet.SignTransaction(wallet.WithSummary(ctx, Summary(req)), tx)
	if err != nil {
		return a.fail(ctx, ClassifySignError(err))
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return a.fail(ctx, &Error{Kind: KindSubmissionError, Err: fmt.Errorf("failed to serialize transaction: %w", err)})
	}

	a.enter(ctx, StateSubmitting)
	sig, err := s.Ledger.SendTransaction(ctx, raw, false)
	if err != nil {
		return a.fail(ctx, &Error{Kind: KindSubmissionError, Err: err})
	}
	a.outcome.Signature = sig.String()

	a.enter(ctx, StateAwaitingFinalization)
	if err := s.Ledger.ConfirmTransaction(ctx, sig, blockhash.LastValidBlockHeight); err != nil {
		return a.fail(ctx, ClassifyConfirmError(err))
	}

	a.enter(ctx, StateVerifying)
	rec, err := s.Ledger.FetchTransaction(ctx, sig)
	if err != nil {
		return a.fail(ctx, &Error{Kind: KindNetworkError, Err: err})
	}
	if err := Verify(rec); err != nil {
		return a.fail(ctx, err)
	}

	a.outcome.ExplorerURL = ExplorerURL(a.outcome.Signature, w.cluster)
	a.succeed(ctx)

	// Balance refresh happens after the terminal event; its failure does not
	// change the outcome.
	if b, err := s.RefreshBalance(ctx); err != nil {
		w.logger.WarnContext(ctx, "balance refresh after transfer failed",
			"attempt_id", attemptID,
			"error", err,
		)
	} else {
		a.outcome.Balance = &b
	}
	return a.outcome
}

// BuildTransaction creates the unsigned transfer transaction with from as fee payer.
func BuildTransaction(from solanago.PublicKey, req Request, blockhash solana.Blockhash) (*solanago.Transaction, error) {
	tx, err := solanago.NewTransaction(
		[]solanago.Instruction{
			system.NewTransferInstruction(req.Lamports, from, req.Destination).Build(),
		},
		blockhash.Hash,
		solanago.TransactionPayer(from),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build transaction: %w", err)
	}
	return tx, nil
}

// Summary describes req for the wallet's approval prompt.
func Summary(req Request) string {
	return fmt.Sprintf("Send %s SOL to %s", req.Amount.String(), req.Destination.String())
}

// ClassifySignError maps a wallet signing failure. Declines are recognised by
// the "User rejected" message marker; anything else failed before submission.
func ClassifySignError(err error) *Error {
	if wallet.IsUserRejected(err) {
		return &Error{Kind: KindUserDeclined, Err: err}
	}
	return &Error{Kind: KindNetworkError, Err: err}
}

// ClassifyConfirmError maps a finalization wait failure.
func ClassifyConfirmError(err error) *Error {
	switch {
	case errors.Is(err, solana.ErrBlockhashExpired),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return &Error{Kind: KindExpired, Err: err}
	}
	return &Error{Kind: KindNetworkError, Err: err}
}

// Verify inspects a finalized record. A missing record is NotFound; a record
// with an execution error is OnChainError.
func Verify(rec *solana.Record) error {
	if rec == nil {
		return &Error{Kind: KindNotFound, Err: errors.New("no finalized transaction record")}
	}
	if rec.Failed() {
		return &Error{Kind: KindOnChainError, Err: errors.New(*rec.Err)}
	}
	return nil
}

type attempt struct {
	w       *Workflow
	account string
	outcome *Outcome
}

func (a *attempt) emit(ctx context.Context, state State, kind Kind, status string) {
	ev := Event{
		AttemptID:   a.outcome.AttemptID,
		Account:     a.account,
		Destination: a.outcome.Destination,
		Lamports:    a.outcome.Lamports,
		State:       state,
		Kind:        kind,
		Status:      status,
		Signature:   a.outcome.Signature,
		Details:     a.outcome.Details,
		At:          a.w.now().UTC(),
	}
	if a.w.observer != nil {
		a.w.observer.OnEvent(ctx, ev)
	}
}

func (a *attempt) enter(ctx context.Context, state State) {
	a.outcome.State = state
	a.outcome.Status = state.Status()
	a.w.logger.DebugContext(ctx, "transfer state changed",
		"attempt_id", a.outcome.AttemptID,
		"state", state,
		"signature", a.outcome.Signature,
	)
	a.emit(ctx, state, "", a.outcome.Status)
}

func (a *attempt) fail(ctx context.Context, err error) *Outcome {
	kind, ok := KindOf(err)
	if !ok {
		kind = KindNetworkError
	}
	a.outcome.State = kind.State()
	a.outcome.Kind = kind
	a.outcome.Status = kind.Status()
	a.outcome.Details = err.Error()
	a.outcome.Err = err
	a.outcome.FinishedAt = a.w.now().UTC()

	a.w.logger.WarnContext(ctx, "transfer did not succeed",
		"attempt_id", a.outcome.AttemptID,
		"state", a.outcome.State,
		"kind", kind,
		"signature", a.outcome.Signature,
		"error", err,
	)
	a.emit(ctx, a.outcome.State, kind, a.outcome.Status)
	return a.outcome
}

func (a *attempt) succeed(ctx context.Context) {
	a.outcome.State = StateSucceeded
	a.outcome.Status = StateSucceeded.Status()
	a.outcome.FinishedAt = a.w.now().UTC()

	a.w.logger.InfoContext(ctx, "transfer finalized",
		"attempt_id", a.outcome.AttemptID,
		"signature", a.outcome.Signature,
		"lamports", a.outcome.Lamports,
		"explorer", a.outcome.ExplorerURL,
	)
	a.emit(ctx, StateSucceeded, "", a.outcome.Status)
}
