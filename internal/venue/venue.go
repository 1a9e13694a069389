// Package venue is the exchange collaborator the aggregator converts fees
// through. Desk is an in-process venue that runs on the host; Router talks to
// a UniswapV2-compatible router over JSON-RPC.
package venue

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/Mohsinsiddi/feeledger/internal/host"
)

// SwapRequest is an exact-input swap.
type SwapRequest struct {
	TokenIn   common.Address
	TokenOut  common.Address
	AmountIn  *uint256.Int
	MinOut    *uint256.Int
	Recipient common.Address
	Deadline  time.Time
}

// LiquidityRequest adds liquidity to the pair of TokenA and TokenB.
type LiquidityRequest struct {
	TokenA     common.Address
	TokenB     common.Address
	AmountA    *uint256.Int
	AmountB    *uint256.Int
	AmountAMin *uint256.Int
	AmountBMin *uint256.Int
	To         common.Address
	Deadline   time.Time
}

// Venue is a swap and liquidity venue living on the host. Swap pulls AmountIn
// from the caller, who must have approved the venue.
type Venue interface {
	host.Contract
	Swap(c *host.Call, req SwapRequest) (*uint256.Int, error)
	AmountOut(tokenIn, tokenOut common.Address, amountIn *uint256.Int) (*uint256.Int, error)
	PairReserves(tokenA, tokenB common.Address) (reserveA, reserveB *uint256.Int, err error)
	GetPair(tokenA, tokenB common.Address) (common.Address, bool)
	CreatePair(c *host.Call, tokenA, tokenB common.Address) (common.Address, error)
	AddLiquidity(c *host.Call, req LiquidityRequest) (usedA, usedB, liquidity *uint256.Int, err error)
}

// Quoter is the read side shared by Desk and Router.
type Quoter interface {
	Quote(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *uint256.Int) (*uint256.Int, error)
	Reserves(ctx context.Context, tokenA, tokenB common.Address) (reserveA, reserveB *uint256.Int, err error)
	Pair(ctx context.Context, tokenA, tokenB common.Address) (common.Address, error)
}

// Lookup resolves a venue deployed on h.
func Lookup(h *host.Host, addr common.Address) (Venue, bool) {
	c, ok := h.Contract(addr)
	if !ok {
		return nil, false
	}
	v, ok := c.(Venue)
	return v, ok
}

// sortTokens orders a pair the way pair addresses are derived.
func sortTokens(a, b common.Address) (common.Address, common.Address) {
	if a.Cmp(b) < 0 {
		return a, b
	}
	return b, a
}

// MinOut is quote less a slippage tolerance in basis points, rounded down.
func MinOut(quote *uint256.Int, slippageBps uint64) *uint256.Int {
	if slippageBps >= 10000 {
		return new(uint256.Int)
	}
	out := new(uint256.Int).Mul(quote, uint256.NewInt(10000-slippageBps))
	return out.Div(out, uint256.NewInt(10000))
}
