package transfer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/brojonat/solsend/service/solana"
	"github.com/brojonat/solsend/service/wallet"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const systemProgramAddress = "11111111111111111111111111111111"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeLedger records every call and answers from its fields.
type fakeLedger struct {
	mu sync.Mutex

	balances     []uint64 // successive Balance answers, last one repeats
	balanceErr   error
	blockhashErr error
	sendErr      error
	confirmErr   error
	fetchErr     error
	record       *solana.Record
	noRecord     bool

	balanceCalls   int
	blockhashCalls int
	sendCalls      int
	confirmCalls   int
	fetchCalls     int
	sentRaw        []byte
	skipPreflight  bool
	lastValid      uint64
}

var testSignature = solanago.Signature{1, 2, 3, 4}

func (f *fakeLedger) Balance(ctx context.Context, account solanago.PublicKey) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balanceCalls++
	if f.balanceErr != nil {
		return 0, f.balanceErr
	}
	if len(f.balances) == 0 {
		return 0, nil
	}
	i := f.balanceCalls - 1
	if i >= len(f.balances) {
		i = len(f.balances) - 1
	}
	return f.balances[i], nil
}

func (f *fakeLedger) LatestBlockhash(ctx context.Context) (solana.Blockhash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blockhashCalls++
	if f.blockhashErr != nil {
		return solana.Blockhash{}, f.blockhashErr
	}
	return solana.Blockhash{Hash: solanago.Hash{9}, LastValidBlockHeight: 150}, nil
}

func (f *fakeLedger) SendTransaction(ctx context.Context, raw []byte, skipPreflight bool) (solanago.Signature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendCalls++
	f.sentRaw = raw
	f.skipPreflight = skipPreflight
	if f.sendErr != nil {
		return solanago.Signature{}, f.sendErr
	}
	return testSignature, nil
}

func (f *fakeLedger) ConfirmTransaction(ctx context.Context, sig solanago.Signature, lastValidBlockHeight uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmCalls++
	f.lastValid = lastValidBlockHeight
	return f.confirmErr
}

func (f *fakeLedger) FetchTransaction(ctx context.Context, sig solanago.Signature) (*solana.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	if f.noRecord {
		return nil, nil
	}
	if f.record != nil {
		return f.record, nil
	}
	return &solana.Record{Signature: sig.String(), Slot: 42}, nil
}

func (f *fakeLedger) networkCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balanceCalls + f.blockhashCalls + f.sendCalls + f.confirmCalls + f.fetchCalls
}

// stubWallet fails signing with a fixed error.
type stubWallet struct {
	account solanago.PublicKey
	signErr error
	signs   int
}

func (w *stubWallet) Connect(ctx context.Context, opts wallet.ConnectOptions) (solanago.PublicKey, error) {
	return w.account, nil
}

func (w *stubWallet) PublicKey() (solanago.PublicKey, bool) { return w.account, true }

func (w *stubWallet) SignTransaction(ctx context.Context, tx *solanago.Transaction) (*solanago.Transaction, error) {
	w.signs++
	return nil, w.signErr
}

func (w *stubWallet) Disconnect(ctx context.Context) error { return nil }

func newSession(t *testing.T, provider wallet.Provider, ledger Ledger) *Session {
	t.Helper()
	s, err := Connect(context.Background(), provider, ledger, wallet.ConnectOptions{})
	require.NoError(t, err)
	return s
}

func newKeypairWallet(t *testing.T) *wallet.KeypairProvider {
	t.Helper()
	key, err := solanago.NewRandomPrivateKey()
	require.NoError(t, err)
	return wallet.NewKeypairProvider(key, wallet.AutoApprover{Approved: true}, testLogger())
}

type recordingObserver struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingObserver) OnEvent(ctx context.Context, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingObserver) states() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]State, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.State
	}
	return out
}

func TestWorkflow_Succeeds(t *testing.T) {
	ledger := &fakeLedger{balances: []uint64{2_000_000_000, 1_499_995_000}}
	session := newSession(t, newKeypairWallet(t), ledger)
	obs := &recordingObserver{}
	wf := NewWorkflow("devnet", obs, testLogger())

	balanceCallsBefore := ledger.balanceCalls
	out := wf.Run(context.Background(), session, systemProgramAddress, "0.5")

	require.Equal(t, StateSucceeded, out.State, out.Details)
	assert.True(t, out.Succeeded())
	assert.Empty(t, out.Kind)
	assert.Contains(t, out.Status, "finalized")
	assert.Equal(t, testSignature.String(), out.Signature)
	assert.Equal(t, uint64(500_000_000), out.Lamports)
	assert.Equal(t, "https://explorer.solana.com/tx/"+testSignature.String()+"?cluster=devnet", out.ExplorerURL)
	assert.NoError(t, out.Err)

	// exactly one extra balance query after success
	assert.Equal(t, balanceCallsBefore+1, ledger.balanceCalls)
	require.NotNil(t, out.Balance)
	assert.Equal(t, "1.5000", out.Balance.String())
	cached, ok := session.Balance()
	require.True(t, ok)
	assert.Equal(t, uint64(1_499_995_000), cached.Lamports)

	assert.False(t, ledger.skipPreflight)
	assert.NotEmpty(t, ledger.sentRaw)
	assert.Equal(t, uint64(150), ledger.lastValid)

	assert.Equal(t, []State{
		StateValidating,
		StatePreparing,
		StateAwaitingSignature,
		StateSubmitting,
		StateAwaitingFinalization,
		StateVerifying,
		StateSucceeded,
	}, obs.states())
}

func TestWorkflow_InvalidInputMakesNoNetworkCalls(t *testing.T) {
	tests := []struct {
		name        string
		destination string
		amount      string
	}{
		{name: "zero amount", destination: systemProgramAddress, amount: "0"},
		{name: "negative amount", destination: systemProgramAddress, amount: "-1"},
		{name: "non-numeric amount", destination: systemProgramAddress, amount: "abc"},
		{name: "empty amount", destination: systemProgramAddress, amount: ""},
		{name: "too many decimals", destination: systemProgramAddress, amount: "0.0000000001"},
		{name: "empty destination", destination: "", amount: "1"},
		{name: "bad base58", destination: "not-an-address!", amount: "1"},
		{name: "wrong length", destination: "1111", amount: "1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := &fakeLedger{}
			w := &stubWallet{account: solanago.NewWallet().PublicKey()}
			session := newSession(t, w, ledger)
			before := ledger.networkCalls()

			out := NewWorkflow("devnet", nil, testLogger()).Run(context.Background(), session, tt.destination, tt.amount)

			assert.Equal(t, StateRejected, out.State)
			assert.Equal(t, KindInvalidInput, out.Kind)
			assert.Equal(t, before, ledger.networkCalls())
			assert.Zero(t, w.signs)
		})
	}
}

func TestWorkflow_NotConnected(t *testing.T) {
	out := NewWorkflow("devnet", nil, testLogger()).Run(context.Background(), nil, systemProgramAddress, "1")

	assert.Equal(t, StateRejected, out.State)
	assert.Equal(t, KindInvalidInput, out.Kind)
	assert.ErrorIs(t, out.Err, ErrNotConnected)
}

func TestWorkflow_DisconnectedSession(t *testing.T) {
	ledger := &fakeLedger{}
	session := newSession(t, newKeypairWallet(t), ledger)
	require.NoError(t, session.Disconnect(context.Background()))
	before := ledger.networkCalls()

	out := NewWorkflow("devnet", nil, testLogger()).Run(context.Background(), session, systemProgramAddress, "1")

	assert.Equal(t, KindInvalidInput, out.Kind)
	assert.Equal(t, before, ledger.networkCalls())
}

func TestWorkflow_SigningErrors(t *testing.T) {
	tests := []struct {
		name      string
		signErr   error
		wantState State
		wantKind  Kind
	}{
		{
			name:      "user rejected marker",
			signErr:   errors.New("WalletSignTransactionError: User rejected the request."),
			wantState: StateRejected,
			wantKind:  KindUserDeclined,
		},
		{
			name:      "sentinel decline",
			signErr:   wallet.ErrUserRejected,
			wantState: StateRejected,
			wantKind:  KindUserDeclined,
		},
		{
			name:      "wallet transport failure",
			signErr:   errors.New("wallet disconnected unexpectedly"),
			wantState: StateFailed,
			wantKind:  KindNetworkError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := &fakeLedger{}
			w := &stubWallet{account: solanago.NewWallet().PublicKey(), signErr: tt.signErr}
			session := newSession(t, w, ledger)

			out := NewWorkflow("devnet", nil, testLogger()).Run(context.Background(), session, systemProgramAddress, "0.5")

			assert.Equal(t, tt.wantState, out.State)
			assert.Equal(t, tt.wantKind, out.Kind)
			assert.Equal(t, 1, w.signs)
			assert.Zero(t, ledger.sendCalls, "no submission after a signing failure")
			assert.Empty(t, out.Signature)
		})
	}
}

func TestWorkflow_CollaboratorFailures(t *testing.T) {
	onChainErr := "transaction failed: map[InstructionError:[0 map[Custom:1]]]"

	tests := []struct {
		name      string
		ledger    *fakeLedger
		wantKind  Kind
		wantSig   bool
		wantCalls func(t *testing.T, l *fakeLedger)
	}{
		{
			name:     "blockhash fetch fails",
			ledger:   &fakeLedger{blockhashErr: errors.New("connection refused")},
			wantKind: KindNetworkError,
			wantCalls: func(t *testing.T, l *fakeLedger) {
				assert.Zero(t, l.sendCalls)
			},
		},
		{
			name:     "send fails",
			ledger:   &fakeLedger{sendErr: errors.New("Blockhash not found")},
			wantKind: KindSubmissionError,
			wantCalls: func(t *testing.T, l *fakeLedger) {
				assert.Zero(t, l.confirmCalls)
			},
		},
		{
			name:     "blockhash expires",
			ledger:   &fakeLedger{confirmErr: solana.ErrBlockhashExpired},
			wantKind: KindExpired,
			wantSig:  true,
			wantCalls: func(t *testing.T, l *fakeLedger) {
				assert.Zero(t, l.fetchCalls)
			},
		},
		{
			name:     "confirmation deadline",
			ledger:   &fakeLedger{confirmErr: context.DeadlineExceeded},
			wantKind: KindExpired,
			wantSig:  true,
		},
		{
			name:     "status polling fails",
			ledger:   &fakeLedger{confirmErr: errors.New("rpc 503")},
			wantKind: KindNetworkError,
			wantSig:  true,
		},
		{
			name:     "record missing",
			ledger:   &fakeLedger{noRecord: true},
			wantKind: KindNotFound,
			wantSig:  true,
		},
		{
			name:     "record fetch fails",
			ledger:   &fakeLedger{fetchErr: errors.New("timeout")},
			wantKind: KindNetworkError,
			wantSig:  true,
		},
		{
			name:     "execution error on chain",
			ledger:   &fakeLedger{record: &solana.Record{Signature: testSignature.String(), Err: &onChainErr}},
			wantKind: KindOnChainError,
			wantSig:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := newSession(t, newKeypairWallet(t), tt.ledger)
			balanceCalls := tt.ledger.balanceCalls

			out := NewWorkflow("devnet", nil, testLogger()).Run(context.Background(), session, systemProgramAddress, "0.5")

			assert.Equal(t, StateFailed, out.State)
			assert.Equal(t, tt.wantKind, out.Kind)
			assert.Equal(t, tt.wantKind.Status(), out.Status)
			assert.NotEmpty(t, out.Details)
			kind, ok := KindOf(out.Err)
			assert.True(t, ok)
			assert.Equal(t, tt.wantKind, kind)
			if tt.wantSig {
				assert.Equal(t, testSignature.String(), out.Signature)
			}
			assert.Nil(t, out.Balance)
			assert.Equal(t, balanceCalls, tt.ledger.balanceCalls, "no balance refresh after failure")
			if tt.wantCalls != nil {
				tt.wantCalls(t, tt.ledger)
			}
		})
	}
}

func TestWorkflow_OnChainErrorDetails(t *testing.T) {
	msg := "transaction failed: InsufficientFundsForRent"
	ledger := &fakeLedger{record: &solana.Record{Err: &msg}}
	session := newSession(t, newKeypairWallet(t), ledger)

	out := NewWorkflow("devnet", nil, testLogger()).Run(context.Background(), session, systemProgramAddress, "0.5")

	assert.Equal(t, KindOnChainError, out.Kind)
	assert.Contains(t, out.Details, "InsufficientFundsForRent")
}

func TestWorkflow_BalanceRefreshFailureKeepsSuccess(t *testing.T) {
	ledger := &fakeLedger{balances: []uint64{1_000_000_000}}
	session := newSession(t, newKeypairWallet(t), ledger)
	ledger.balanceErr = errors.New("rate limited")

	out := NewWorkflow("devnet", nil, testLogger()).Run(context.Background(), session, systemProgramAddress, "0.25")

	assert.Equal(t, StateSucceeded, out.State)
	assert.Nil(t, out.Balance)
}

func TestWorkflow_TerminalEventCarriesKind(t *testing.T) {
	ledger := &fakeLedger{noRecord: true}
	session := newSession(t, newKeypairWallet(t), ledger)
	obs := &recordingObserver{}

	NewWorkflow("devnet", obs, testLogger()).Run(context.Background(), session, systemProgramAddress, "1")

	require.NotEmpty(t, obs.events)
	last := obs.events[len(obs.events)-1]
	assert.Equal(t, StateFailed, last.State)
	assert.Equal(t, KindNotFound, last.Kind)
	assert.Equal(t, testSignature.String(), last.Signature)
	assert.Equal(t, uint64(1_000_000_000), last.Lamports)
}

func TestConnect_BalanceFailureDisconnects(t *testing.T) {
	provider := newKeypairWallet(t)
	ledger := &fakeLedger{balanceErr: errors.New("connection refused")}

	_, err := Connect(context.Background(), provider, ledger, wallet.ConnectOptions{})
	require.Error(t, err)

	_, connected := provider.PublicKey()
	assert.False(t, connected)
}

func TestConnect_UserDeclines(t *testing.T) {
	key, err := solanago.NewRandomPrivateKey()
	require.NoError(t, err)
	provider := wallet.NewKeypairProvider(key, wallet.AutoApprover{Approved: false}, testLogger())
	ledger := &fakeLedger{}

	_, err = Connect(context.Background(), provider, ledger, wallet.ConnectOptions{})
	assert.ErrorIs(t, err, wallet.ErrUserRejected)
	assert.Zero(t, ledger.networkCalls())
}
