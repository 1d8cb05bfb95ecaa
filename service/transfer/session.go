package transfer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/brojonat/solsend/service/solana"
	"github.com/brojonat/solsend/service/wallet"
	solanago "github.com/gagliardetto/solana-go"
)

// Ledger is the RPC Client boundary the workflow depends on.
// *solana.Client satisfies it.
type Ledger interface {
	Balance(ctx context.Context, account solanago.PublicKey) (uint64, error)
	LatestBlockhash(ctx context.Context) (solana.Blockhash, error)
	SendTransaction(ctx context.Context, raw []byte, skipPreflight bool) (solanago.Signature, error)
	ConfirmTransaction(ctx context.Context, sig solanago.Signature, lastValidBlockHeight uint64) error
	FetchTransaction(ctx context.Context, sig solanago.Signature) (*solana.Record, error)
}

// BalanceReader is the part of Ledger a balance refresh needs.
type BalanceReader interface {
	Balance(ctx context.Context, account solanago.PublicKey) (uint64, error)
}

// RefreshBalance queries the account's raw balance and converts it for display.
// It has no side effects beyond the query.
func RefreshBalance(ctx context.Context, ledger BalanceReader, account solanago.PublicKey) (Balance, error) {
	lamports, err := ledger.Balance(ctx, account)
	if err != nil {
		return Balance{}, fmt.Errorf("failed to refresh balance: %w", err)
	}
	return NewBalance(lamports), nil
}

// Session binds a connected account to the wallet that controls it and the
// ledger it transacts on. It lives from Connect until Disconnect.
type Session struct {
	Account     solanago.PublicKey
	Wallet      wallet.Provider
	Ledger      Ledger
	ConnectedAt time.Time

	mu      sync.Mutex
	balance *Balance
	closed  bool
}

// Connect asks the wallet for its account, then loads the initial balance.
// If the balance cannot be read the wallet is disconnected again.
func Connect(ctx context.Context, provider wallet.Provider, ledger Ledger, opts wallet.ConnectOptions) (*Session, error) {
	account, err := provider.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("wallet connection failed: %w", err)
	}

	s := &Session{
		Account:     account,
		Wallet:      provider,
		Ledger:      ledger,
		ConnectedAt: time.Now().UTC(),
	}
	if _, err := s.RefreshBalance(ctx); err != nil {
		_ = provider.Disconnect(ctx)
		return nil, fmt.Errorf("wallet connection failed: %w", err)
	}
	return s, nil
}

// RefreshBalance re-queries the ledger and caches the result.
func (s *Session) RefreshBalance(ctx context.Context) (Balance, error) {
	b, err := RefreshBalance(ctx, s.Ledger, s.Account)
	if err != nil {
		return Balance{}, err
	}
	s.mu.Lock()
	s.balance = &b
	s.mu.Unlock()
	return b, nil
}

// Balance returns the last refreshed balance.
func (s *Session) Balance() (Balance, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.balance == nil {
		return Balance{}, false
	}
	return *s.balance, true
}

// Active reports whether the session has not been disconnected.
func (s *Session) Active() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// Disconnect ends the session and disconnects the wallet.
func (s *Session) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.Wallet.Disconnect(ctx)
}
