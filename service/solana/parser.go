package solana

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// System Program instruction types
const (
	SystemProgramTransferInstruction = uint32(2)
)

// recordFromResult converts a GetTransactionResult into our domain Record.
// The execution error comes from the transaction meta; amount and accounts are
// read from the first system transfer instruction, when the payload decodes.
// The record is always returned. A non-nil error only reports that the payload
// could not be decoded, in which case amount and accounts are left empty.
func recordFromResult(sig solana.Signature, result *rpc.GetTransactionResult) (*Record, error) {
	rec := &Record{
		Signature: sig.String(),
		Slot:      result.Slot,
	}

	if result.BlockTime != nil {
		rec.BlockTime = result.BlockTime.Time()
	} else {
		rec.BlockTime = time.Time{}
	}

	if result.Meta != nil && result.Meta.Err != nil {
		errMsg := fmt.Sprintf("transaction failed: %v", result.Meta.Err)
		rec.Err = &errMsg
	}

	if result.Transaction == nil {
		return rec, nil
	}

	tx, err := result.Transaction.GetTransaction()
	if err != nil {
		return rec, fmt.Errorf("failed to decode transaction: %w", err)
	}
	applyTransferInstruction(rec, tx)

	return rec, nil
}

// applyTransferInstruction fills amount and accounts from the first system
// transfer instruction in tx. Records without one are left untouched.
func applyTransferInstruction(rec *Record, tx *solana.Transaction) {
	accountKeys := tx.Message.AccountKeys
	for _, instruction := range tx.Message.Instructions {
		if int(instruction.ProgramIDIndex) >= len(accountKeys) {
			continue
		}
		if !accountKeys[instruction.ProgramIDIndex].Equals(solana.SystemProgramID) {
			continue
		}

		amount, from, to, err := parseSystemTransfer(instruction, accountKeys)
		if err != nil {
			continue
		}
		rec.Amount = amount
		if from != nil {
			fromStr := from.String()
			rec.FromAddress = &fromStr
		}
		if to != nil {
			toStr := to.String()
			rec.ToAddress = &toStr
		}
		return
	}
}

// parseSystemTransfer extracts the amount, source and destination from a System Program Transfer instruction.
func parseSystemTransfer(instruction solana.CompiledInstruction, accountKeys []solana.PublicKey) (uint64, *solana.PublicKey, *solana.PublicKey, error) {
	// System Transfer instruction format:
	// [0..4]  = instruction type (u32, should be 2 for Transfer)
	// [4..12] = lamports (u64)
	if len(instruction.Data) < 12 {
		return 0, nil, nil, fmt.Errorf("instruction data too short: %d bytes", len(instruction.Data))
	}

	instructionType := binary.LittleEndian.Uint32(instruction.Data[0:4])
	if instructionType != SystemProgramTransferInstruction {
		return 0, nil, nil, fmt.Errorf("not a transfer instruction: type %d", instructionType)
	}

	amount := binary.LittleEndian.Uint64(instruction.Data[4:12])

	// System Transfer accounts: [from, to]
	lookup := func(pos int) *solana.PublicKey {
		if len(instruction.Accounts) <= pos {
			return nil
		}
		idx := instruction.Accounts[pos]
		if int(idx) >= len(accountKeys) {
			return nil
		}
		key := accountKeys[idx]
		return &key
	}

	return amount, lookup(0), lookup(1), nil
}
