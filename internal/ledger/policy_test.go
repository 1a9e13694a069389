package ledger

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicy(t *testing.T) {
	terms := Terms{BurnBps: 100, FeeRate: 1, FeeToken: true}
	all := Exclusions{Burn: true, Fee: true, DexFee: true}

	tests := []struct {
		name     string
		trade    Trade
		terms    Terms
		wantBurn uint64
		wantFee  uint64
	}{
		{"plain transfer burns, no fee", Trade{}, terms, 100, 0},
		{"burn-exempt sender", Trade{Sender: Exclusions{Burn: true}}, terms, 0, 0},
		{"fully excluded sender", Trade{Sender: all, ToPair: true}, terms, 0, 0},
		{"sell pays fee", Trade{ToPair: true}, terms, 100, 1},
		{"buy pays fee", Trade{FromPair: true}, terms, 100, 1},
		{"sell by dex-exempt sender", Trade{Sender: Exclusions{DexFee: true}, ToPair: true}, terms, 100, 0},
		{"buy by dex-exempt recipient", Trade{Recipient: Exclusions{DexFee: true}, FromPair: true}, terms, 100, 0},
		{"buy ignores sender dex exemption", Trade{Sender: Exclusions{DexFee: true}, FromPair: true}, terms, 100, 1},
		{"fee-exempt sender", Trade{Sender: Exclusions{Fee: true}, ToPair: true}, terms, 100, 0},
		{"token not registered", Trade{ToPair: true}, Terms{BurnBps: 100, FeeRate: 1}, 100, 0},
		{"zero fee rate", Trade{ToPair: true}, Terms{BurnBps: 100, FeeToken: true}, 100, 0},
		{"all-transfer scope", Trade{}, Terms{BurnBps: 100, FeeRate: 2, FeeToken: true, Scope: FeeOnAllTransfers}, 100, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			burn, fee := Policy(tt.trade, tt.terms)
			assert.Equal(t, tt.wantBurn, burn)
			assert.Equal(t, tt.wantFee, fee)
		})
	}
}

func TestDivide(t *testing.T) {
	tests := []struct {
		amount, burnBps, feeRate   uint64
		wantBurn, wantFee, wantNet uint64
	}{
		{1000, 100, 0, 10, 0, 990},
		{1, 100, 0, 0, 0, 1},
		{99, 100, 0, 0, 0, 99},
		{1000, 100, 1, 10, 1, 989},
		{1000, 300, 20, 30, 20, 950},
		{1000, 0, 0, 0, 0, 1000},
	}
	for _, tt := range tests {
		s, err := Divide(uint256.NewInt(tt.amount), tt.burnBps, tt.feeRate)
		require.NoError(t, err)
		assert.Equal(t, tt.wantBurn, s.Burn.Uint64(), "burn of %d", tt.amount)
		assert.Equal(t, tt.wantFee, s.Fee.Uint64(), "fee of %d", tt.amount)
		assert.Equal(t, tt.wantNet, s.Net.Uint64(), "net of %d", tt.amount)
	}

	_, err := Divide(uint256.NewInt(1000), 10000, 1000)
	assert.ErrorIs(t, err, ErrRateTooHigh)
}

func TestPortionHugeAmount(t *testing.T) {
	max := new(uint256.Int).SetAllOne()
	got := Portion(max, 100, BurnDenominator)
	want := new(uint256.Int).Div(max, uint256.NewInt(BurnDenominator))
	want.Mul(want, uint256.NewInt(100))
	assert.True(t, got.Eq(want))
}

func TestParsers(t *testing.T) {
	p, ok := ParseCapPolicy("clamp")
	assert.True(t, ok)
	assert.Equal(t, CapClamp, p)
	assert.Equal(t, "clamp", p.String())
	_, ok = ParseCapPolicy("drop")
	assert.False(t, ok)

	s, ok := ParseFeeScope("all")
	assert.True(t, ok)
	assert.Equal(t, "all", s.String())
	s, _ = ParseFeeScope("")
	assert.Equal(t, FeeOnDexTrades, s)
}
