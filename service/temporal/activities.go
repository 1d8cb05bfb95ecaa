package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/brojonat/solsend/service/transfer"
	"github.com/brojonat/solsend/service/wallet"
	bin "github.com/gagliardetto/binary"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	temporalsdk "go.temporal.io/sdk/temporal"
)

// PrepareTransferInput contains parameters for the PrepareTransfer activity.
type PrepareTransferInput struct {
	Account     string `json:"account"`
	Destination string `json:"destination"`
	Lamports    uint64 `json:"lamports"`
}

// PrepareTransferResult carries the wire-encoded transaction message and its
// expiry height. An unsigned transaction has no wire form, so the message is
// what travels between activities.
type PrepareTransferResult struct {
	Message              []byte `json:"message"`
	LastValidBlockHeight uint64 `json:"last_valid_block_height"`
}

// SignTransferInput contains parameters for the SignTransfer activity.
type SignTransferInput struct {
	Message []byte `json:"message"`
	Summary string `json:"summary"`
}

// SignTransferResult carries the wire-encoded signed transaction.
type SignTransferResult struct {
	Transaction []byte `json:"transaction"`
}

// SubmitTransferInput contains parameters for the SubmitTransfer activity.
type SubmitTransferInput struct {
	Transaction []byte `json:"transaction"`
}

// SubmitTransferResult carries the signature the RPC node accepted.
type SubmitTransferResult struct {
	Signature string `json:"signature"`
}

// AwaitFinalizationInput contains parameters for the AwaitFinalization activity.
type AwaitFinalizationInput struct {
	Signature            string `json:"signature"`
	LastValidBlockHeight uint64 `json:"last_valid_block_height"`
}

// VerifyTransferInput contains parameters for the VerifyTransfer activity.
type VerifyTransferInput struct {
	Signature string `json:"signature"`
}

// VerifyTransferResult describes the finalized record.
type VerifyTransferResult struct {
	Slot uint64 `json:"slot"`
}

// RefreshBalanceInput contains parameters for the RefreshBalance activity.
type RefreshBalanceInput struct {
	Account string `json:"account"`
}

// RefreshBalanceResult carries the account's raw balance.
type RefreshBalanceResult struct {
	Lamports uint64 `json:"lamports"`
}

// Activities holds the dependencies needed by Temporal activities.
// All dependencies are explicit.
type Activities struct {
	ledger   transfer.Ledger
	wallet   wallet.Provider
	observer transfer.Observer
	logger   *slog.Logger
}

// NewActivities creates a new Activities instance with explicit dependencies.
// observer may be nil.
func NewActivities(ledger transfer.Ledger, provider wallet.Provider, observer transfer.Observer, logger *slog.Logger) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		ledger:   ledger,
		wallet:   provider,
		observer: observer,
		logger:   logger,
	}
}

// kindError marks an activity failure with its error kind. Activities never
// retry, so every kind is non-retryable.
func kindError(kind transfer.Kind, err error) error {
	return temporalsdk.NewNonRetryableApplicationError(err.Error(), string(kind), err, err.Error())
}

// PrepareTransfer fetches a recent blockhash and builds the unsigned transaction.
func (a *Activities) PrepareTransfer(ctx context.Context, input PrepareTransferInput) (*PrepareTransferResult, error) {
	from, err := solanago.PublicKeyFromBase58(input.Account)
	if err != nil {
		return nil, kindError(transfer.KindInvalidInput, fmt.Errorf("invalid account: %w", err))
	}
	to, err := solanago.PublicKeyFromBase58(input.Destination)
	if err != nil {
		return nil, kindError(transfer.KindInvalidInput, fmt.Errorf("invalid destination: %w", err))
	}

	blockhash, err := a.ledger.LatestBlockhash(ctx)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to get latest blockhash", "error", err)
		return nil, kindError(transfer.KindNetworkError, err)
	}

	tx, err := transfer.BuildTransaction(from, transfer.Request{
		Destination: to,
		Amount:      decimal.NewFromBigInt(new(big.Int).SetUint64(input.Lamports), -transfer.LamportDecimals),
		Lamports:    input.Lamports,
	}, blockhash)
	if err != nil {
		return nil, kindError(transfer.KindNetworkError, err)
	}
	raw, err := tx.Message.MarshalBinary()
	if err != nil {
		return nil, kindError(transfer.KindNetworkError, fmt.Errorf("failed to serialize message: %w", err))
	}

	a.logger.InfoContext(ctx, "prepared transfer transaction",
		"account", input.Account,
		"destination", input.Destination,
		"lamports", input.Lamports,
		"last_valid_block_height", blockhash.LastValidBlockHeight,
	)

	return &PrepareTransferResult{
		Message:              raw,
		LastValidBlockHeight: blockhash.LastValidBlockHeight,
	}, nil
}

// SignTransfer asks the worker's wallet to sign. It blocks until the wallet
// owner decides.
func (a *Activities) SignTransfer(ctx context.Context, input SignTransferInput) (*SignTransferResult, error) {
	var msg solanago.Message
	if err := msg.UnmarshalWithDecoder(bin.NewBinDecoder(input.Message)); err != nil {
		return nil, kindError(transfer.KindNetworkError, fmt.Errorf("failed to decode message: %w", err))
	}
	tx := &solanago.Transaction{Message: msg}

	signed, err := a.wallet.SignTransaction(wallet.WithSummary(ctx, input.Summary), tx)
	if err != nil {
		classified := transfer.ClassifySignError(err)
		a.logger.WarnContext(ctx, "signing failed", "kind", classified.Kind, "error", err)
		return nil, kindError(classified.Kind, err)
	}

	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, kindError(transfer.KindSubmissionError, fmt.Errorf("failed to serialize transaction: %w", err))
	}
	return &SignTransferResult{Transaction: raw}, nil
}

// SubmitTransfer sends the signed transaction with preflight checks enabled.
func (a *Activities) SubmitTransfer(ctx context.Context, input SubmitTransferInput) (*SubmitTransferResult, error) {
	sig, err := a.ledger.SendTransaction(ctx, input.Transaction, false)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to submit transaction", "error", err)
		return nil, kindError(transfer.KindSubmissionError, err)
	}

	a.logger.InfoContext(ctx, "transaction submitted", "signature", sig.String())
	return &SubmitTransferResult{Signature: sig.String()}, nil
}

// AwaitFinalization blocks until the signature is finalized or its blockhash expires.
func (a *Activities) AwaitFinalization(ctx context.Context, input AwaitFinalizationInput) error {
	sig, err := solanago.SignatureFromBase58(input.Signature)
	if err != nil {
		return kindError(transfer.KindNetworkError, fmt.Errorf("invalid signature: %w", err))
	}

	if err := a.ledger.ConfirmTransaction(ctx, sig, input.LastValidBlockHeight); err != nil {
		classified := transfer.ClassifyConfirmError(err)
		a.logger.WarnContext(ctx, "finalization failed",
			"signature", input.Signature,
			"kind", classified.Kind,
			"error", err,
		)
		return kindError(classified.Kind, err)
	}
	return nil
}

// VerifyTransfer fetches the finalized record and checks it executed cleanly.
func (a *Activities) VerifyTransfer(ctx context.Context, input VerifyTransferInput) (*VerifyTransferResult, error) {
	sig, err := solanago.SignatureFromBase58(input.Signature)
	if err != nil {
		return nil, kindError(transfer.KindNetworkError, fmt.Errorf("invalid signature: %w", err))
	}

	rec, err := a.ledger.FetchTransaction(ctx, sig)
	if err != nil {
		return nil, kindError(transfer.KindNetworkError, err)
	}
	if err := transfer.Verify(rec); err != nil {
		kind, _ := transfer.KindOf(err)
		return nil, kindError(kind, err)
	}
	return &VerifyTransferResult{Slot: rec.Slot}, nil
}

// RefreshBalance reads the account's balance.
func (a *Activities) RefreshBalance(ctx context.Context, input RefreshBalanceInput) (*RefreshBalanceResult, error) {
	account, err := solanago.PublicKeyFromBase58(input.Account)
	if err != nil {
		return nil, kindError(transfer.KindInvalidInput, fmt.Errorf("invalid account: %w", err))
	}
	b, err := transfer.RefreshBalance(ctx, a.ledger, account)
	if err != nil {
		return nil, kindError(transfer.KindNetworkError, err)
	}
	return &RefreshBalanceResult{Lamports: b.Lamports}, nil
}

// RecordTransferState hands a state change to the worker's observers.
func (a *Activities) RecordTransferState(ctx context.Context, ev transfer.Event) error {
	if a.observer != nil {
		a.observer.OnEvent(ctx, ev)
	}
	return nil
}
