package solana

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/solsend/service/metrics"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// DefaultConfirmPollInterval is how often ConfirmTransaction checks signature status.
const DefaultConfirmPollInterval = 2 * time.Second

// ErrBlockhashExpired is returned by ConfirmTransaction when the network's block
// height passes the transaction's last valid block height before it finalizes.
var ErrBlockhashExpired = errors.New("block height exceeded: blockhash expired before finalization")

// RPCClient is an interface for the Solana RPC operations we need.
// This allows us to mock the RPC layer in tests without hitting real Solana nodes.
type RPCClient interface {
	GetBalance(
		ctx context.Context,
		account solana.PublicKey,
		commitment rpc.CommitmentType,
	) (*rpc.GetBalanceResult, error)

	GetLatestBlockhash(
		ctx context.Context,
		commitment rpc.CommitmentType,
	) (*rpc.GetLatestBlockhashResult, error)

	SendRawTransactionWithOpts(
		ctx context.Context,
		rawTx []byte,
		opts rpc.TransactionOpts,
	) (solana.Signature, error)

	GetSignatureStatuses(
		ctx context.Context,
		searchTransactionHistory bool,
		signatures ...solana.Signature,
	) (*rpc.GetSignatureStatusesResult, error)

	GetBlockHeight(
		ctx context.Context,
		commitment rpc.CommitmentType,
	) (uint64, error)

	GetTransaction(
		ctx context.Context,
		signature solana.Signature,
		opts *rpc.GetTransactionOpts,
	) (*rpc.GetTransactionResult, error)
}

// Client provides the ledger operations a transfer needs.
// It wraps the RPC client with domain-specific operations.
type Client struct {
	rpc          RPCClient
	logger       *slog.Logger
	metrics      *metrics.Metrics
	endpoint     string // RPC endpoint identifier for metrics (e.g., "devnet", rpc host)
	pollInterval time.Duration
}

// NewClient creates a new Solana client.
// The endpoint parameter is used for metrics labeling (e.g., "devnet" or RPC hostname).
// If metrics is nil, no metrics will be recorded.
func NewClient(rpcClient RPCClient, endpoint string, m *metrics.Metrics, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		rpc:          rpcClient,
		logger:       logger,
		metrics:      m,
		endpoint:     endpoint,
		pollInterval: DefaultConfirmPollInterval,
	}
}

// WithConfirmPollInterval sets how often ConfirmTransaction polls signature status.
func (c *Client) WithConfirmPollInterval(d time.Duration) *Client {
	if d > 0 {
		c.pollInterval = d
	}
	return c
}

// record times a single RPC call and records the outcome.
func (c *Client) record(method string, start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordRPCCall(method, status, c.endpoint, time.Since(start).Seconds())
}

// Balance returns the account balance in lamports.
func (c *Client) Balance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	start := time.Now()
	out, err := c.rpc.GetBalance(ctx, account, rpc.CommitmentConfirmed)
	c.record("GetBalance", start, err)
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to get balance",
			"account", account.String(),
			"error", err,
		)
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	if out == nil {
		return 0, fmt.Errorf("failed to get balance: empty response")
	}

	c.logger.DebugContext(ctx, "fetched balance",
		"account", account.String(),
		"lamports", out.Value,
	)
	return out.Value, nil
}

// LatestBlockhash fetches a blockhash at finalized commitment.
func (c *Client) LatestBlockhash(ctx context.Context) (Blockhash, error) {
	start := time.Now()
	out, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	c.record("GetLatestBlockhash", start, err)
	if err != nil {
		return Blockhash{}, fmt.Errorf("failed to get latest blockhash: %w", err)
	}
	if out == nil || out.Value == nil {
		return Blockhash{}, fmt.Errorf("failed to get latest blockhash: empty response")
	}

	c.logger.DebugContext(ctx, "fetched latest blockhash",
		"blockhash", out.Value.Blockhash.String(),
		"last_valid_block_height", out.Value.LastValidBlockHeight,
	)
	return Blockhash{
		Hash:                 out.Value.Blockhash,
		LastValidBlockHeight: out.Value.LastValidBlockHeight,
	}, nil
}

// SendTransaction submits a signed, serialized transaction. Preflight simulation
// runs unless skipPreflight is set.
func (c *Client) SendTransaction(ctx context.Context, raw []byte, skipPreflight bool) (solana.Signature, error) {
	start := time.Now()
	sig, err := c.rpc.SendRawTransactionWithOpts(ctx, raw, rpc.TransactionOpts{
		SkipPreflight:       skipPreflight,
		PreflightCommitment: rpc.CommitmentFinalized,
	})
	c.record("SendRawTransaction", start, err)
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to send transaction", "error", err)
		return solana.Signature{}, fmt.Errorf("failed to send transaction: %w", err)
	}

	c.logger.InfoContext(ctx, "transaction sent", "signature", sig.String())
	return sig, nil
}

// BlockHeight returns the current block height at finalized commitment.
func (c *Client) BlockHeight(ctx context.Context) (uint64, error) {
	start := time.Now()
	height, err := c.rpc.GetBlockHeight(ctx, rpc.CommitmentFinalized)
	c.record("GetBlockHeight", start, err)
	if err != nil {
		return 0, fmt.Errorf("failed to get block height: %w", err)
	}
	return height, nil
}

// SignatureStatus returns the status of a single signature, or nil if the
// network does not know about it yet.
func (c *Client) SignatureStatus(ctx context.Context, sig solana.Signature) (*rpc.SignatureStatusesResult, error) {
	start := time.Now()
	out, err := c.rpc.GetSignatureStatuses(ctx, false, sig)
	c.record("GetSignatureStatuses", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to get signature status: %w", err)
	}
	if out == nil || len(out.Value) == 0 {
		return nil, nil
	}
	return out.Value[0], nil
}

// ConfirmTransaction blocks until the signature reaches finalized commitment.
// It returns ErrBlockhashExpired once the block height passes lastValidBlockHeight
// without the signature finalizing. A finalized signature whose execution failed
// still confirms; callers inspect the record to learn the execution result.
func (c *Client) ConfirmTransaction(ctx context.Context, sig solana.Signature, lastValidBlockHeight uint64) error {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		status, err := c.SignatureStatus(ctx, sig)
		if err != nil {
			return err
		}
		if status != nil && status.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
			c.logger.InfoContext(ctx, "transaction finalized",
				"signature", sig.String(),
				"slot", status.Slot,
			)
			return nil
		}

		height, err := c.BlockHeight(ctx)
		if err != nil {
			return err
		}
		if height > lastValidBlockHeight {
			c.logger.WarnContext(ctx, "blockhash expired before finalization",
				"signature", sig.String(),
				"block_height", height,
				"last_valid_block_height", lastValidBlockHeight,
			)
			return ErrBlockhashExpired
		}

		var confirmation string
		if status != nil {
			confirmation = string(status.ConfirmationStatus)
		}
		c.logger.DebugContext(ctx, "waiting for finalization",
			"signature", sig.String(),
			"confirmation_status", confirmation,
			"block_height", height,
			"last_valid_block_height", lastValidBlockHeight,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// FetchTransaction fetches the finalized record for a signature.
// Returns nil, nil when the network has no record of it.
func (c *Client) FetchTransaction(ctx context.Context, sig solana.Signature) (*Record, error) {
	maxVersion := uint64(0)
	opts := &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     rpc.CommitmentFinalized,
		MaxSupportedTransactionVersion: &maxVersion,
	}

	start := time.Now()
	result, err := c.rpc.GetTransaction(ctx, sig, opts)
	if errors.Is(err, rpc.ErrNotFound) {
		c.record("GetTransaction", start, nil)
		c.logger.WarnContext(ctx, "transaction record not found", "signature", sig.String())
		return nil, nil
	}
	c.record("GetTransaction", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	if result == nil {
		return nil, nil
	}

	rec, err := recordFromResult(sig, result)
	if err != nil {
		c.logger.WarnContext(ctx, "transaction payload not decoded, keeping record",
			"signature", sig.String(),
			"error", err,
		)
	}

	c.logger.DebugContext(ctx, "fetched transaction record",
		"signature", rec.Signature,
		"slot", rec.Slot,
		"amount", rec.Amount,
		"failed", rec.Failed(),
	)
	return rec, nil
}
