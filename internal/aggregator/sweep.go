package aggregator

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/Mohsinsiddi/feeledger/internal/erc20"
	"github.com/Mohsinsiddi/feeledger/internal/events"
	"github.com/Mohsinsiddi/feeledger/internal/host"
	"github.com/Mohsinsiddi/feeledger/internal/revert"
	"github.com/Mohsinsiddi/feeledger/internal/venue"
)

// Conversion is one token converted into the base asset.
type Conversion struct {
	Token     common.Address
	AmountIn  *uint256.Int
	AmountOut *uint256.Int
}

// Failure is one token the venue would not convert. Its gathered balance is
// left untouched.
type Failure struct {
	Token  common.Address
	Amount *uint256.Int
	Err    error
}

// SweepReport lists the outcome of every token a sweep attempted.
type SweepReport struct {
	Converted []Conversion
	Failed    []Failure
}

// BaseReceived adds up the base asset received by the sweep.
func (r SweepReport) BaseReceived() *uint256.Int {
	total := new(uint256.Int)
	for _, cv := range r.Converted {
		total.Add(total, cv.AmountOut)
	}
	return total
}

// FailedTokens lists the tokens left for retry.
func (r SweepReport) FailedTokens() []common.Address {
	out := make([]common.Address, 0, len(r.Failed))
	for _, f := range r.Failed {
		out = append(out, f.Token)
	}
	return out
}

// Sweep converts every non-base token with a gathered balance into the base
// asset. Each token is converted in its own scope: a venue failure undoes
// only that token's conversion and is reported, the sweep goes on.
// Governor or owner.
func (a *Aggregator) Sweep(c *host.Call) (SweepReport, error) {
	var report SweepReport
	if err := a.roles.RequireGovernorOrOwner(c.Caller()); err != nil {
		return report, err
	}
	v, err := a.venueContract(c)
	if err != nil {
		return report, err
	}

	err = a.converting.Run(func() error {
		for _, token := range a.FeeTokens() {
			amount := a.TokensGathered(token)
			if token == a.base || amount.IsZero() {
				continue
			}
			var out *uint256.Int
			tryErr := c.Try(func(c *host.Call) error {
				var err error
				out, err = a.convert(c, v, token, amount)
				return err
			})
			if tryErr != nil {
				report.Failed = append(report.Failed, Failure{Token: token, Amount: amount, Err: tryErr})
				c.Emit(events.SwapFailed.Log(a.addr, []common.Address{token}, amount))
				a.metrics.Swept(false)
				a.log.Warn("sweep: conversion failed", "token", token.Hex(), "amount", amount.Dec(), "reason", revert.Reason(tryErr))
				continue
			}
			report.Converted = append(report.Converted, Conversion{Token: token, AmountIn: amount, AmountOut: out})
			a.metrics.Swept(true)
			a.log.Info("sweep: converted", "token", token.Hex(), "in", amount.Dec(), "out", out.Dec())
		}
		return nil
	})
	return report, err
}

// ConvertToken converts the whole gathered balance of one token. Unlike
// Sweep, a venue failure fails the call. Governor or owner.
func (a *Aggregator) ConvertToken(c *host.Call, token common.Address) (*uint256.Int, error) {
	if err := a.roles.RequireGovernorOrOwner(c.Caller()); err != nil {
		return nil, err
	}
	if token == a.base {
		return nil, ErrBaseToken
	}
	if !a.IsFeeToken(token) {
		return nil, ErrNoFeeToken
	}
	amount := a.TokensGathered(token)
	if amount.IsZero() {
		return nil, ErrNothingToConvert
	}
	v, err := a.venueContract(c)
	if err != nil {
		return nil, err
	}
	var out *uint256.Int
	err = a.converting.Run(func() error {
		var err error
		out, err = a.convert(c, v, token, amount)
		return err
	})
	if err != nil {
		a.metrics.Swept(false)
		return nil, err
	}
	a.metrics.Swept(true)
	return out, nil
}

func (a *Aggregator) venueContract(c *host.Call) (venue.Venue, error) {
	if a.st.venue == (common.Address{}) {
		return nil, ErrNoVenue
	}
	v, ok := venue.Lookup(c.Host(), a.st.venue)
	if !ok {
		return nil, ErrNoVenue
	}
	return v, nil
}

// convert swaps amount of token into the base asset and books the result.
// The minimum output is the venue quote less the slippage tolerance; the
// credited amount is the base balance actually received.
func (a *Aggregator) convert(c *host.Call, v venue.Venue, token common.Address, amount *uint256.Int) (*uint256.Int, error) {
	tok, err := erc20.Lookup(c.Host(), token)
	if err != nil {
		return nil, ErrNotToken
	}
	base, err := erc20.Lookup(c.Host(), a.base)
	if err != nil {
		return nil, ErrNotToken
	}

	quote, err := v.AmountOut(token, a.base, amount)
	if err != nil {
		return nil, revert.Venue(err)
	}
	minOut := venue.MinOut(quote, a.st.slippageBps)

	self := c.Nested(a.addr)
	if err := tok.Approve(self, v.Address(), amount); err != nil {
		return nil, err
	}
	before := base.BalanceOf(a.addr)
	if _, err := v.Swap(self, venue.SwapRequest{
		TokenIn:   token,
		TokenOut:  a.base,
		AmountIn:  amount,
		MinOut:    minOut,
		Recipient: a.addr,
		Deadline:  c.Now().Add(a.window),
	}); err != nil {
		return nil, revert.Venue(err)
	}
	if err := tok.Approve(self, v.Address(), new(uint256.Int)); err != nil {
		return nil, err
	}
	received := new(uint256.Int).Sub(base.BalanceOf(a.addr), before)

	a.st.gathered[token] = new(uint256.Int)
	g := a.st.gathered[a.base]
	if g == nil {
		return nil, ErrNoFeeToken
	}
	g.Add(g, received)
	c.Emit(events.SwapExecuted.Log(a.addr, []common.Address{token}, amount, received))
	return received, nil
}
