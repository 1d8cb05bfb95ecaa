// Package wallet implements the Wallet Provider boundary: the component that
// holds the private key, asks for user approval and signs transactions.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
)

var (
	// ErrUserRejected is returned when the user declines a connect or sign request.
	// The message follows the convention browser wallets use for declines.
	ErrUserRejected = errors.New("User rejected the request.")

	// ErrNotConnected is returned when signing is attempted before Connect.
	ErrNotConnected = errors.New("wallet not connected")
)

// IsUserRejected reports whether err signals a user decline. Errors from other
// providers are matched on the conventional "User rejected" message marker.
func IsUserRejected(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUserRejected) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "user rejected")
}

// ConnectOptions mirrors the options browser wallets accept on connect.
type ConnectOptions struct {
	// OnlyIfTrusted connects silently if the user approved this app before,
	// and fails with ErrUserRejected otherwise.
	OnlyIfTrusted bool `json:"only_if_trusted"`
}

// Provider is the Wallet Provider boundary. Implementations hold keys and
// may block in SignTransaction until the user decides.
type Provider interface {
	Connect(ctx context.Context, opts ConnectOptions) (solana.PublicKey, error)
	PublicKey() (solana.PublicKey, bool)
	SignTransaction(ctx context.Context, tx *solana.Transaction) (*solana.Transaction, error)
	Disconnect(ctx context.Context) error
}

// KeypairProvider is a Provider backed by a local keypair. Every connect and
// sign request goes through its Approver.
type KeypairProvider struct {
	mu        sync.Mutex
	key       solana.PrivateKey
	approver  Approver
	connected bool
	trusted   bool
	logger    *slog.Logger
}

// NewKeypairProvider creates a provider for the given private key.
func NewKeypairProvider(key solana.PrivateKey, approver Approver, logger *slog.Logger) *KeypairProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &KeypairProvider{
		key:      key,
		approver: approver,
		logger:   logger.With("component", "wallet"),
	}
}

// LoadKeypairProvider reads a Solana CLI keygen JSON file and creates a provider for it.
func LoadKeypairProvider(path string, approver Approver, logger *slog.Logger) (*KeypairProvider, error) {
	key, err := solana.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load keypair from %s: %w", path, err)
	}
	return NewKeypairProvider(key, approver, logger), nil
}

// Connect asks the approver for permission to reveal the public key. Once
// approved, the app is trusted for later OnlyIfTrusted connects.
func (p *KeypairProvider) Connect(ctx context.Context, opts ConnectOptions) (solana.PublicKey, error) {
	pub := p.key.PublicKey()

	p.mu.Lock()
	if p.connected {
		p.mu.Unlock()
		return pub, nil
	}
	trusted := p.trusted
	p.mu.Unlock()

	if opts.OnlyIfTrusted && !trusted {
		p.logger.DebugContext(ctx, "silent connect refused, app not trusted yet")
		return solana.PublicKey{}, ErrUserRejected
	}

	if !trusted {
		approved, err := p.approver.Approve(ctx, ApprovalRequest{
			Kind:    ApprovalConnect,
			Account: pub.String(),
			Summary: "Connect to this app and reveal the account address",
		})
		if err != nil {
			return solana.PublicKey{}, fmt.Errorf("connect approval failed: %w", err)
		}
		if !approved {
			p.logger.InfoContext(ctx, "connect declined", "account", pub.String())
			return solana.PublicKey{}, ErrUserRejected
		}
	}

	p.mu.Lock()
	p.connected = true
	p.trusted = true
	p.mu.Unlock()

	p.logger.InfoContext(ctx, "wallet connected", "account", pub.String())
	return pub, nil
}

// PublicKey returns the account address and whether the wallet is connected.
func (p *KeypairProvider) PublicKey() (solana.PublicKey, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return solana.PublicKey{}, false
	}
	return p.key.PublicKey(), true
}

// SignTransaction blocks until the approver decides, then signs tx in place.
func (p *KeypairProvider) SignTransaction(ctx context.Context, tx *solana.Transaction) (*solana.Transaction, error) {
	pub, ok := p.PublicKey()
	if !ok {
		return nil, ErrNotConnected
	}
	if len(tx.Message.AccountKeys) == 0 || !tx.Message.AccountKeys[0].Equals(pub) {
		return nil, fmt.Errorf("fee payer does not match connected account %s", pub)
	}

	summary := SummaryFromContext(ctx)
	if summary == "" {
		summary = fmt.Sprintf("Sign a transaction with %d instruction(s)", len(tx.Message.Instructions))
	}

	start := time.Now()
	approved, err := p.approver.Approve(ctx, ApprovalRequest{
		Kind:    ApprovalSign,
		Account: pub.String(),
		Summary: summary,
	})
	if err != nil {
		return nil, fmt.Errorf("signing approval failed: %w", err)
	}
	if !approved {
		p.logger.InfoContext(ctx, "signing declined",
			"account", pub.String(),
			"waited", time.Since(start),
		)
		return nil, ErrUserRejected
	}

	key := p.key
	if _, err := tx.Sign(func(k solana.PublicKey) *solana.PrivateKey {
		if k.Equals(pub) {
			return &key
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	p.logger.InfoContext(ctx, "transaction signed",
		"account", pub.String(),
		"waited", time.Since(start),
	)
	return tx, nil
}

// Disconnect forgets the connection. Trust survives, so a later
// OnlyIfTrusted connect succeeds without a prompt.
func (p *KeypairProvider) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
	p.logger.InfoContext(ctx, "wallet disconnected")
	return nil
}

type summaryKey struct{}

// WithSummary attaches a human-readable description of the pending request,
// shown to the user by approvers.
func WithSummary(ctx context.Context, summary string) context.Context {
	return context.WithValue(ctx, summaryKey{}, summary)
}

// SummaryFromContext returns the description set by WithSummary, if any.
func SummaryFromContext(ctx context.Context) string {
	s, _ := ctx.Value(summaryKey{}).(string)
	return s
}
