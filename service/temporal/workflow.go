package temporal

import (
	"errors"
	"time"

	"github.com/brojonat/solsend/service/transfer"
	solanago "github.com/gagliardetto/solana-go"
	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

const (
	defaultActivityTimeout = 30 * time.Second
	// Signing waits on the wallet owner. An owner who does not answer in time
	// has declined.
	signActivityTimeout = 10 * time.Minute
	// A blockhash is valid for roughly 150 blocks; this leaves headroom.
	finalizationActivityTimeout = 3 * time.Minute
	recordActivityTimeout       = 10 * time.Second
)

// TransferInput contains the input parameters for one transfer attempt.
type TransferInput struct {
	AttemptID   string `json:"attempt_id"`
	Account     string `json:"account"`
	Destination string `json:"destination"`
	Amount      string `json:"amount"`
	Cluster     string `json:"cluster"`
}

// TransferResult is the terminal outcome of a TransferWorkflow. Failed and
// rejected attempts are results too; the workflow itself only errors when it
// cannot run at all.
type TransferResult struct {
	AttemptID       string    `json:"attempt_id"`
	Account         string    `json:"account"`
	Destination     string    `json:"destination"`
	Lamports        uint64    `json:"lamports"`
	State           string    `json:"state"`
	Kind            string    `json:"kind,omitempty"`
	Status          string    `json:"status"`
	Signature       string    `json:"signature,omitempty"`
	Details         string    `json:"details,omitempty"`
	ExplorerURL     string    `json:"explorer_url,omitempty"`
	BalanceLamports *uint64   `json:"balance_lamports,omitempty"`
	Balance         string    `json:"balance,omitempty"`
	FinishedAt      time.Time `json:"finished_at"`
}

// Succeeded reports whether the transfer was finalized without an execution error.
func (r *TransferResult) Succeeded() bool {
	return r != nil && r.State == string(transfer.StateSucceeded)
}

// TransferWorkflow runs one transfer attempt as activities, in order:
// validate (in workflow code), PrepareTransfer, SignTransfer, SubmitTransfer,
// AwaitFinalization, VerifyTransfer, then RefreshBalance after success.
// No activity is retried.
func TransferWorkflow(ctx workflow.Context, input TransferInput) (*TransferResult, error) {
	logger := workflow.GetLogger(ctx)
	if input.AttemptID == "" {
		input.AttemptID = workflow.GetInfo(ctx).WorkflowExecution.ID
	}
	logger.Info("TransferWorkflow started",
		"attempt_id", input.AttemptID,
		"account", input.Account,
		"destination", input.Destination,
	)

	r := &transferRun{
		ctx: ctx,
		result: &TransferResult{
			AttemptID:   input.AttemptID,
			Account:     input.Account,
			Destination: input.Destination,
		},
	}

	r.enter(transfer.StateValidating)
	if _, err := solanago.PublicKeyFromBase58(input.Account); err != nil {
		return r.fail(transfer.KindInvalidInput, "invalid account: "+err.Error()), nil
	}
	req, err := transfer.ParseRequest(input.Destination, input.Amount)
	if err != nil {
		return r.fail(transfer.KindInvalidInput, err.Error()), nil
	}
	r.result.Destination = req.Destination.String()
	r.result.Lamports = req.Lamports

	r.enter(transfer.StatePreparing)
	var prepared *PrepareTransferResult
	err = workflow.ExecuteActivity(r.options(defaultActivityTimeout), a.PrepareTransfer, PrepareTransferInput{
		Account:     input.Account,
		Destination: r.result.Destination,
		Lamports:    req.Lamports,
	}).Get(ctx, &prepared)
	if err != nil {
		return r.failWith(err, transfer.KindNetworkError), nil
	}

	r.enter(transfer.StateAwaitingSignature)
	var signed *SignTransferResult
	err = workflow.ExecuteActivity(r.options(signActivityTimeout), a.SignTransfer, SignTransferInput{
		Message: prepared.Message,
		Summary: transfer.Summary(req),
	}).Get(ctx, &signed)
	if err != nil {
		return r.failWith(err, transfer.KindUserDeclined), nil
	}

	r.enter(transfer.StateSubmitting)
	var submitted *SubmitTransferResult
	err = workflow.ExecuteActivity(r.options(defaultActivityTimeout), a.SubmitTransfer, SubmitTransferInput{
		Transaction: signed.Transaction,
	}).Get(ctx, &submitted)
	if err != nil {
		return r.failWith(err, transfer.KindSubmissionError), nil
	}
	r.result.Signature = submitted.Signature

	r.enter(transfer.StateAwaitingFinalization)
	err = workflow.ExecuteActivity(r.options(finalizationActivityTimeout), a.AwaitFinalization, AwaitFinalizationInput{
		Signature:            submitted.Signature,
		LastValidBlockHeight: prepared.LastValidBlockHeight,
	}).Get(ctx, nil)
	if err != nil {
		return r.failWith(err, transfer.KindExpired), nil
	}

	r.enter(transfer.StateVerifying)
	err = workflow.ExecuteActivity(r.options(defaultActivityTimeout), a.VerifyTransfer, VerifyTransferInput{
		Signature: submitted.Signature,
	}).Get(ctx, nil)
	if err != nil {
		return r.failWith(err, transfer.KindNetworkError), nil
	}

	r.result.ExplorerURL = transfer.ExplorerURL(submitted.Signature, input.Cluster)
	r.succeed()

	var balance *RefreshBalanceResult
	err = workflow.ExecuteActivity(r.options(defaultActivityTimeout), a.RefreshBalance, RefreshBalanceInput{
		Account: input.Account,
	}).Get(ctx, &balance)
	if err != nil {
		logger.Warn("balance refresh after transfer failed", "attempt_id", input.AttemptID, "error", err)
	} else {
		lamports := balance.Lamports
		r.result.BalanceLamports = &lamports
		r.result.Balance = transfer.NewBalance(lamports).String()
	}

	logger.Info("TransferWorkflow completed",
		"attempt_id", input.AttemptID,
		"signature", r.result.Signature,
	)
	return r.result, nil
}

// transferRun tracks one workflow execution's progress.
type transferRun struct {
	ctx    workflow.Context
	result *TransferResult
}

func (r *transferRun) options(timeout time.Duration) workflow.Context {
	return workflow.WithActivityOptions(r.ctx, workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		RetryPolicy: &temporalsdk.RetryPolicy{
			MaximumAttempts: 1,
		},
	})
}

func (r *transferRun) enter(state transfer.State) {
	r.result.State = string(state)
	r.result.Status = state.Status()
	r.record(state, "")
}

func (r *transferRun) fail(kind transfer.Kind, details string) *TransferResult {
	r.result.State = string(kind.State())
	r.result.Kind = string(kind)
	r.result.Status = kind.Status()
	r.result.Details = details
	r.result.FinishedAt = workflow.Now(r.ctx).UTC()

	workflow.GetLogger(r.ctx).Warn("transfer did not succeed",
		"attempt_id", r.result.AttemptID,
		"state", r.result.State,
		"kind", kind,
		"details", details,
	)
	r.record(kind.State(), kind)
	return r.result
}

// failWith classifies an activity error. Timeouts take the fallback kind.
func (r *transferRun) failWith(err error, timeoutKind transfer.Kind) *TransferResult {
	kind, details := classifyActivityError(err, timeoutKind)
	return r.fail(kind, details)
}

func (r *transferRun) succeed() {
	r.result.State = string(transfer.StateSucceeded)
	r.result.Status = transfer.StateSucceeded.Status()
	r.result.FinishedAt = workflow.Now(r.ctx).UTC()
	r.record(transfer.StateSucceeded, "")
}

// record reports the change to the worker's observers. Failures are logged only.
func (r *transferRun) record(state transfer.State, kind transfer.Kind) {
	ev := transfer.Event{
		AttemptID:   r.result.AttemptID,
		Account:     r.result.Account,
		Destination: r.result.Destination,
		Lamports:    r.result.Lamports,
		State:       state,
		Kind:        kind,
		Status:      r.result.Status,
		Signature:   r.result.Signature,
		Details:     r.result.Details,
		At:          workflow.Now(r.ctx).UTC(),
	}
	if err := workflow.ExecuteActivity(r.options(recordActivityTimeout), a.RecordTransferState, ev).Get(r.ctx, nil); err != nil {
		workflow.GetLogger(r.ctx).Warn("failed to record transfer state",
			"attempt_id", r.result.AttemptID,
			"state", state,
			"error", err,
		)
	}
}

// classifyActivityError recovers the kind an activity attached to its error.
func classifyActivityError(err error, timeoutKind transfer.Kind) (transfer.Kind, string) {
	var appErr *temporalsdk.ApplicationError
	if errors.As(err, &appErr) && appErr.Type() != "" {
		var details string
		if appErr.HasDetails() && appErr.Details(&details) == nil {
			return transfer.Kind(appErr.Type()), details
		}
		return transfer.Kind(appErr.Type()), appErr.Error()
	}

	var timeoutErr *temporalsdk.TimeoutError
	if errors.As(err, &timeoutErr) {
		return timeoutKind, err.Error()
	}
	return transfer.KindNetworkError, err.Error()
}
