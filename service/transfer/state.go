// Package transfer drives a single native SOL transfer from user input to a
// terminal, user-visible outcome.
package transfer

import (
	"errors"
	"fmt"
)

// State is a step of a transfer attempt. Attempts move forward only.
type State string

const (
	StateIdle                 State = "idle"
	StateValidating           State = "validating"
	StatePreparing            State = "preparing_transaction"
	StateAwaitingSignature    State = "awaiting_signature"
	StateSubmitting           State = "submitting"
	StateAwaitingFinalization State = "awaiting_finalization"
	StateVerifying            State = "verifying_outcome"
	StateSucceeded            State = "succeeded"
	StateRejected             State = "rejected"
	StateFailed               State = "failed"
)

// Terminal reports whether no further transitions follow s.
func (s State) Terminal() bool {
	switch s {
	case StateSucceeded, StateRejected, StateFailed:
		return true
	}
	return false
}

// Status returns the progress message shown while an attempt is in s.
func (s State) Status() string {
	switch s {
	case StateIdle:
		return "Ready"
	case StateValidating:
		return "Validating transfer..."
	case StatePreparing:
		return "Preparing transaction..."
	case StateAwaitingSignature:
		return "Approve transaction in wallet..."
	case StateSubmitting:
		return "Sending transaction..."
	case StateAwaitingFinalization:
		return "Waiting for finalization..."
	case StateVerifying:
		return "Verifying on-chain result..."
	case StateSucceeded:
		return "Transaction finalized"
	}
	return string(s)
}

// Kind classifies why an attempt did not succeed.
type Kind string

const (
	KindInvalidInput    Kind = "invalid_input"
	KindUserDeclined    Kind = "user_declined"
	KindNetworkError    Kind = "network_error"
	KindSubmissionError Kind = "submission_error"
	KindExpired         Kind = "expired"
	KindNotFound        Kind = "not_found"
	KindOnChainError    Kind = "on_chain_error"
)

// State returns the terminal state an attempt ends in for this kind.
// Input and approval problems are rejections; everything else is a failure.
func (k Kind) State() State {
	switch k {
	case KindInvalidInput, KindUserDeclined:
		return StateRejected
	}
	return StateFailed
}

// Status returns the user-visible message for this kind.
func (k Kind) Status() string {
	switch k {
	case KindInvalidInput:
		return "Enter a valid address and amount"
	case KindUserDeclined:
		return "Transaction rejected"
	case KindNetworkError:
		return "Network error while preparing the transaction"
	case KindSubmissionError:
		return "Failed to submit transaction"
	case KindExpired:
		return "Transaction expired before finalization"
	case KindNotFound:
		return "Transaction not found"
	case KindOnChainError:
		return "Transaction failed on-chain"
	}
	return "Transaction failed"
}

// Error carries a Kind together with the collaborator error that caused it.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the Kind from err, if it is or wraps an *Error.
func KindOf(err error) (Kind, bool) {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind, true
	}
	return "", false
}

func invalidInput(format string, args ...any) error {
	return &Error{Kind: KindInvalidInput, Err: fmt.Errorf(format, args...)}
}
