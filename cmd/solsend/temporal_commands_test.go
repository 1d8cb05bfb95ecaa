package main

import (
	"testing"

	"github.com/brojonat/solsend/service/temporal"
	"github.com/brojonat/solsend/service/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

// useMockStarter points the temporal commands at m for the duration of the test.
func useMockStarter(t *testing.T, m *temporal.MockStarter) {
	t.Helper()
	prev := newStarter
	newStarter = func(c *cli.Context) (temporal.Starter, func(), error) {
		return m, func() {}, nil
	}
	t.Cleanup(func() { newStarter = prev })
}

func TestTemporalSend_Succeeded(t *testing.T) {
	m := temporal.NewMockStarter()
	m.SetResult("acct123", &temporal.TransferResult{
		Account:     "acct123",
		Destination: "dest456",
		Lamports:    250_000_000,
		State:       string(transfer.StateSucceeded),
		Status:      "Transfer finalized",
		Signature:   "sig789",
		Balance:     "0.7500",
	})
	useMockStarter(t, m)

	out, err := runApp(t, "temporal", "send", "--account", "acct123", "--to", "dest456", "--amount", "0.25")
	require.NoError(t, err)

	assert.Contains(t, out, "State:       succeeded")
	assert.Contains(t, out, "Amount:      0.25 SOL")
	assert.Contains(t, out, "Signature:   sig789")
	assert.Contains(t, out, "Balance:     0.7500 SOL")

	started := m.Started()
	require.Len(t, started, 1)
	assert.Equal(t, "acct123", started[0].Account)
	assert.Equal(t, "dest456", started[0].Destination)
	assert.Equal(t, "0.25", started[0].Amount)
	assert.Equal(t, "devnet", started[0].Cluster)
}

func TestTemporalSend_FailedOutcome(t *testing.T) {
	m := temporal.NewMockStarter()
	m.SetResult("acct123", &temporal.TransferResult{
		State:  string(transfer.StateFailed),
		Kind:   string(transfer.KindExpired),
		Status: "Transfer expired before finalization",
	})
	useMockStarter(t, m)

	out, err := runApp(t, "--json", "temporal", "send", "--account", "acct123", "--to", "dest456", "--amount", "0.25")
	require.Error(t, err)
	assert.Equal(t, "transfer failed: expired", err.Error())
	assert.Contains(t, out, `"kind": "expired"`)
}

func TestTemporalSend_InFlight(t *testing.T) {
	m := temporal.NewMockStarter()
	m.SetStartError(transfer.ErrAttemptInFlight)
	useMockStarter(t, m)

	_, err := runApp(t, "temporal", "send", "--account", "acct123", "--to", "dest456", "--amount", "0.25")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a transfer for acct123 is still running")
	assert.Empty(t, m.Started())
}
