package ledger

import (
	"github.com/holiman/uint256"

	"github.com/Mohsinsiddi/feeledger/internal/revert"
)

// Rate denominators.
const (
	BurnDenominator = 10000
	FeeDenominator  = 1000
)

// FeeScope says which transfers pay the aggregator fee.
type FeeScope uint8

const (
	// FeeOnDexTrades charges only transfers from or to a dex pair.
	FeeOnDexTrades FeeScope = iota
	// FeeOnAllTransfers charges every transfer.
	FeeOnAllTransfers
)

func (s FeeScope) String() string {
	if s == FeeOnAllTransfers {
		return "all"
	}
	return "dex"
}

// ParseFeeScope accepts "dex" or "all".
func ParseFeeScope(s string) (FeeScope, bool) {
	switch s {
	case "dex", "":
		return FeeOnDexTrades, true
	case "all":
		return FeeOnAllTransfers, true
	}
	return 0, false
}

// Exclusions is one account's membership in the three exclusion sets.
type Exclusions struct {
	Burn   bool
	Fee    bool
	DexFee bool
}

// Trade describes the parties of a transfer.
type Trade struct {
	Sender    Exclusions
	Recipient Exclusions
	FromPair  bool
	ToPair    bool
}

// Terms are the ledger and aggregator settings in force for a transfer.
type Terms struct {
	BurnBps  uint64
	FeeRate  uint64 // per mille
	FeeToken bool   // the ledger is registered with the aggregator
	Scope    FeeScope
}

// Policy returns the burn rate (basis points) and aggregator fee rate (per
// mille) that apply to a transfer. It has no side effects.
//
// On a dex trade the fee payer is the recipient when buying from a pair and
// the sender otherwise; a payer excluded from dex fees pays nothing.
func Policy(t Trade, terms Terms) (burnBps, feeRate uint64) {
	if !t.Sender.Burn {
		burnBps = terms.BurnBps
	}
	if !terms.FeeToken || terms.FeeRate == 0 || t.Sender.Fee {
		return burnBps, 0
	}
	dex := t.FromPair || t.ToPair
	if !dex {
		if terms.Scope == FeeOnAllTransfers {
			return burnBps, terms.FeeRate
		}
		return burnBps, 0
	}
	payer := t.Sender
	if t.FromPair {
		payer = t.Recipient
	}
	if payer.DexFee {
		return burnBps, 0
	}
	return burnBps, terms.FeeRate
}

// Split is how a transfer amount divides.
type Split struct {
	Burn *uint256.Int
	Fee  *uint256.Int
	Net  *uint256.Int
}

// ErrRateTooHigh is returned when burn and fee exceed the amount.
var ErrRateTooHigh = revert.New(revert.ErrOutOfBounds, "PSI: FEES_EXCEED_AMOUNT")

// Divide splits amount at the given rates. Both portions truncate toward zero.
func Divide(amount *uint256.Int, burnBps, feeRate uint64) (Split, error) {
	burn := Portion(amount, burnBps, BurnDenominator)
	fee := Portion(amount, feeRate, FeeDenominator)
	deduct, overflow := new(uint256.Int).AddOverflow(burn, fee)
	if overflow || deduct.Gt(amount) {
		return Split{}, ErrRateTooHigh
	}
	return Split{Burn: burn, Fee: fee, Net: new(uint256.Int).Sub(amount, deduct)}, nil
}

// Portion returns amount*rate/denominator, truncated. A product that
// overflows 256 bits is computed as amount/denominator*rate.
func Portion(amount *uint256.Int, rate, denominator uint64) *uint256.Int {
	if rate == 0 {
		return new(uint256.Int)
	}
	out, overflow := new(uint256.Int).MulOverflow(amount, uint256.NewInt(rate))
	if overflow {
		out = new(uint256.Int).Div(amount, uint256.NewInt(denominator))
		return out.Mul(out, uint256.NewInt(rate))
	}
	return out.Div(out, uint256.NewInt(denominator))
}
