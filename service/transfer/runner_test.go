package transfer

import (
	"context"
	"testing"
	"time"

	"github.com/brojonat/solsend/service/metrics"
	"github.com/brojonat/solsend/service/wallet"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingWallet holds every signing request until release is closed, then declines.
type blockingWallet struct {
	account solanago.PublicKey
	signing chan struct{}
	release chan struct{}
}

func newBlockingWallet() *blockingWallet {
	return &blockingWallet{
		account: solanago.NewWallet().PublicKey(),
		signing: make(chan struct{}, 8),
		release: make(chan struct{}),
	}
}

func (w *blockingWallet) Connect(ctx context.Context, opts wallet.ConnectOptions) (solanago.PublicKey, error) {
	return w.account, nil
}

func (w *blockingWallet) PublicKey() (solanago.PublicKey, bool) { return w.account, true }

func (w *blockingWallet) SignTransaction(ctx context.Context, tx *solanago.Transaction) (*solanago.Transaction, error) {
	w.signing <- struct{}{}
	select {
	case <-w.release:
		return nil, wallet.ErrUserRejected
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (w *blockingWallet) Disconnect(ctx context.Context) error { return nil }

func awaitOutcome(t *testing.T, ch <-chan *Outcome) *Outcome {
	t.Helper()
	select {
	case out := <-ch:
		require.NotNil(t, out)
		return out
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for outcome")
		return nil
	}
}

func TestRunner_RejectsOverlappingAttempt(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)

	w := newBlockingWallet()
	session := newSession(t, w, &fakeLedger{})
	runner := NewRunner(context.Background(), NewWorkflow("devnet", nil, testLogger()), m, testLogger())
	defer runner.Close()

	ctx := context.Background()
	firstID, first, err := runner.Submit(ctx, session, systemProgramAddress, "0.5")
	require.NoError(t, err)
	assert.NotEmpty(t, firstID)

	// first attempt is now parked in the wallet
	<-w.signing

	_, _, err = runner.Submit(ctx, session, systemProgramAddress, "0.1")
	assert.ErrorIs(t, err, ErrAttemptInFlight)
	_, _, err = runner.Submit(ctx, session, systemProgramAddress, "0.1")
	assert.ErrorIs(t, err, ErrAttemptInFlight)

	close(w.release)
	out := awaitOutcome(t, first)
	assert.Equal(t, firstID, out.AttemptID)
	assert.Equal(t, KindUserDeclined, out.Kind)

	// admitted again as soon as the outcome is delivered
	secondID, second, err := runner.Submit(ctx, session, systemProgramAddress, "0.1")
	require.NoError(t, err)
	assert.NotEqual(t, firstID, secondID)
	awaitOutcome(t, second)

	count, err := testutil.GatherAndCount(reg, "transfers_overlapped_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRunner_SequentialAttempts(t *testing.T) {
	ledger := &fakeLedger{balances: []uint64{5_000_000_000}}
	session := newSession(t, newKeypairWallet(t), ledger)
	runner := NewRunner(context.Background(), NewWorkflow("devnet", nil, testLogger()), nil, testLogger())
	defer runner.Close()

	for i := 0; i < 3; i++ {
		_, ch, err := runner.Submit(context.Background(), session, systemProgramAddress, "0.1")
		require.NoError(t, err)
		out := awaitOutcome(t, ch)
		assert.Equal(t, StateSucceeded, out.State)
	}
	assert.Equal(t, 3, ledger.sendCalls)
}

func TestRunner_CloseCancelsAttempt(t *testing.T) {
	w := newBlockingWallet()
	session := newSession(t, w, &fakeLedger{})
	runner := NewRunner(context.Background(), NewWorkflow("devnet", nil, testLogger()), nil, testLogger())

	_, ch, err := runner.Submit(context.Background(), session, systemProgramAddress, "0.5")
	require.NoError(t, err)
	<-w.signing

	runner.Close()

	out := awaitOutcome(t, ch)
	assert.True(t, out.State.Terminal())

	_, _, err = runner.Submit(context.Background(), session, systemProgramAddress, "0.5")
	assert.ErrorIs(t, err, ErrRunnerClosed)
}

func TestMetricsObserver(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)

	ledger := &fakeLedger{}
	session := newSession(t, newKeypairWallet(t), ledger)
	wf := NewWorkflow("devnet", Observers{NewMetricsObserver(m)}, testLogger())

	out := wf.Run(context.Background(), session, systemProgramAddress, "0.5")
	require.Equal(t, StateSucceeded, out.State)

	outcomes, err := testutil.GatherAndCount(reg, "transfer_outcomes_total")
	require.NoError(t, err)
	assert.Equal(t, 1, outcomes)

	// one histogram series per non-terminal stage
	stages, err := testutil.GatherAndCount(reg, "transfer_stage_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 6, stages)
}

func TestNewMetricsObserver_NilMetrics(t *testing.T) {
	obs := NewMetricsObserver(nil)
	assert.Nil(t, obs)

	// typed nil inside Observers must not panic
	Observers{obs}.OnEvent(context.Background(), Event{State: StateValidating})
}
