package solana

import (
	"time"

	"github.com/gagliardetto/solana-go"
)

// LamportsPerSOL is the fixed divisor between base units and display units.
const LamportsPerSOL uint64 = 1_000_000_000

// Blockhash is a recent blockhash together with the last block height at which
// a transaction referencing it can still be accepted by the network.
type Blockhash struct {
	Hash                 solana.Hash
	LastValidBlockHeight uint64
}

// Record represents a finalized Solana transaction as returned by getTransaction.
// This is our domain model, independent of the RPC response format.
type Record struct {
	Signature   string
	Slot        uint64
	BlockTime   time.Time
	Amount      uint64  // lamports moved by the system transfer instruction, 0 if none found
	FromAddress *string // funding account of the transfer, nil if cannot be determined
	ToAddress   *string // recipient account of the transfer, nil if cannot be determined
	Err         *string // nil if execution succeeded, contains error message if failed
}

// Failed reports whether the record carries an execution error.
func (r *Record) Failed() bool {
	return r.Err != nil
}
