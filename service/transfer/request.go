package transfer

import (
	"encoding/json"
	"math"
	"math/big"
	"strings"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// LamportDecimals is the number of fractional SOL digits a lamport represents.
const LamportDecimals = 9

// maxLamports is the largest amount the BIGINT lamports column can hold.
var maxLamports = decimal.NewFromInt(math.MaxInt64)

// Request is a validated transfer request.
type Request struct {
	Destination solanago.PublicKey
	Amount      decimal.Decimal // SOL
	Lamports    uint64
}

// ParseRequest validates raw user input. It never touches the network; any
// failure is an *Error of KindInvalidInput.
func ParseRequest(destination, amount string) (Request, error) {
	destination = strings.TrimSpace(destination)
	if destination == "" {
		return Request{}, invalidInput("destination address is required")
	}
	to, err := solanago.PublicKeyFromBase58(destination)
	if err != nil {
		return Request{}, invalidInput("invalid destination address %q: %w", destination, err)
	}

	amount = strings.TrimSpace(amount)
	if amount == "" {
		return Request{}, invalidInput("amount is required")
	}
	sol, err := decimal.NewFromString(amount)
	if err != nil {
		return Request{}, invalidInput("amount %q is not a number", amount)
	}
	if !sol.IsPositive() {
		return Request{}, invalidInput("amount must be greater than zero, got %s", sol.String())
	}

	lamports := sol.Shift(LamportDecimals)
	if !lamports.Equal(lamports.Truncate(0)) {
		return Request{}, invalidInput("amount %s has more than %d decimal places", sol.String(), LamportDecimals)
	}
	if lamports.GreaterThan(maxLamports) {
		return Request{}, invalidInput("amount %s is too large", sol.String())
	}

	return Request{
		Destination: to,
		Amount:      sol,
		Lamports:    lamports.BigInt().Uint64(),
	}, nil
}

// Balance is an account balance in base units plus its display value.
type Balance struct {
	Lamports uint64          `json:"lamports"`
	SOL      decimal.Decimal `json:"sol"`
}

// NewBalance converts lamports to SOL rounded to 4 decimal places.
func NewBalance(lamports uint64) Balance {
	sol := decimal.NewFromBigInt(new(big.Int).SetUint64(lamports), -LamportDecimals)
	return Balance{Lamports: lamports, SOL: sol.Round(4)}
}

// String renders the display value with exactly 4 decimal places.
func (b Balance) String() string {
	return b.SOL.StringFixed(4)
}

// MarshalJSON keeps the 4 decimal display form on the wire.
func (b Balance) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Lamports uint64 `json:"lamports"`
		SOL      string `json:"sol"`
	}{b.Lamports, b.String()})
}

// FormatLamports renders a lamport amount as SOL without rounding.
func FormatLamports(lamports uint64) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(lamports), -LamportDecimals).String()
}
