package transfer

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequest(t *testing.T) {
	tests := []struct {
		name         string
		destination  string
		amount       string
		wantLamports uint64
		wantErr      string
	}{
		{name: "half sol", destination: systemProgramAddress, amount: "0.5", wantLamports: 500_000_000},
		{name: "whitespace trimmed", destination: "  " + systemProgramAddress + "\n", amount: " 2 ", wantLamports: 2_000_000_000},
		{name: "one lamport", destination: systemProgramAddress, amount: "0.000000001", wantLamports: 1},
		{name: "trailing zeros beyond nine places", destination: systemProgramAddress, amount: "1.0000000000", wantLamports: 1_000_000_000},
		{name: "zero", destination: systemProgramAddress, amount: "0", wantErr: "greater than zero"},
		{name: "negative", destination: systemProgramAddress, amount: "-0.1", wantErr: "greater than zero"},
		{name: "not a number", destination: systemProgramAddress, amount: "ten", wantErr: "not a number"},
		{name: "sub-lamport", destination: systemProgramAddress, amount: "0.0000000005", wantErr: "decimal places"},
		{name: "overflow", destination: systemProgramAddress, amount: "18446744074", wantErr: "too large"},
		{name: "largest storable amount", destination: systemProgramAddress, amount: "9223372036.854775807", wantLamports: math.MaxInt64},
		{name: "above signed 64-bit lamports", destination: systemProgramAddress, amount: "9223372036.854775808", wantErr: "too large"},
		{name: "max unsigned lamports", destination: systemProgramAddress, amount: "18446744073.709551615", wantErr: "too large"},
		{name: "missing destination", destination: " ", amount: "1", wantErr: "destination address is required"},
		{name: "invalid destination", destination: "0OIl", amount: "1", wantErr: "invalid destination address"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := ParseRequest(tt.destination, tt.amount)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				kind, ok := KindOf(err)
				assert.True(t, ok)
				assert.Equal(t, KindInvalidInput, kind)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantLamports, req.Lamports)
			assert.Equal(t, systemProgramAddress, req.Destination.String())
		})
	}
}

func TestNewBalance(t *testing.T) {
	tests := []struct {
		lamports uint64
		want     string
	}{
		{lamports: 0, want: "0.0000"},
		{lamports: 500_000_000, want: "0.5000"},
		{lamports: 1_234_567_890, want: "1.2346"},
		{lamports: 49_999, want: "0.0000"},
		{lamports: 50_000, want: "0.0001"},
		{lamports: 2_999_950_000, want: "3.0000"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			b := NewBalance(tt.lamports)
			assert.Equal(t, tt.want, b.String())
			assert.Equal(t, tt.lamports, b.Lamports)
		})
	}
}

func TestBalance_MarshalJSON(t *testing.T) {
	data, err := json.Marshal(NewBalance(1_500_000_000))
	require.NoError(t, err)
	assert.JSONEq(t, `{"lamports":1500000000,"sol":"1.5000"}`, string(data))

	var back Balance
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, uint64(1_500_000_000), back.Lamports)
	assert.Equal(t, "1.5000", back.String())
}

func TestFormatLamports(t *testing.T) {
	assert.Equal(t, "0.000000001", FormatLamports(1))
	assert.Equal(t, "1.5", FormatLamports(1_500_000_000))
}

func TestKindState(t *testing.T) {
	assert.Equal(t, StateRejected, KindInvalidInput.State())
	assert.Equal(t, StateRejected, KindUserDeclined.State())
	for _, k := range []Kind{KindNetworkError, KindSubmissionError, KindExpired, KindNotFound, KindOnChainError} {
		assert.Equal(t, StateFailed, k.State(), k)
	}
}

func TestKindStatus_Distinct(t *testing.T) {
	seen := map[string]Kind{}
	for _, k := range []Kind{
		KindInvalidInput, KindUserDeclined, KindNetworkError, KindSubmissionError,
		KindExpired, KindNotFound, KindOnChainError,
	} {
		msg := k.Status()
		prev, dup := seen[msg]
		assert.False(t, dup, "%s and %s share status %q", prev, k, msg)
		seen[msg] = k
	}
}

func TestExplorerURL(t *testing.T) {
	assert.Equal(t, "https://explorer.solana.com/tx/abc?cluster=devnet", ExplorerURL("abc", "devnet"))
	assert.Equal(t, "https://explorer.solana.com/tx/abc", ExplorerURL("abc", "mainnet-beta"))
}
