// Package aggregator collects the fees paid in several tokens, keeps a
// gathered balance per token and converts non-base balances into the base
// asset through a venue.
package aggregator

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/Mohsinsiddi/feeledger/internal/access"
	"github.com/Mohsinsiddi/feeledger/internal/erc20"
	"github.com/Mohsinsiddi/feeledger/internal/events"
	"github.com/Mohsinsiddi/feeledger/internal/host"
	"github.com/Mohsinsiddi/feeledger/internal/logger"
	"github.com/Mohsinsiddi/feeledger/internal/observability"
	"github.com/Mohsinsiddi/feeledger/internal/revert"
	"github.com/Mohsinsiddi/feeledger/internal/venue"
)

// Fee and slippage bounds.
const (
	DefaultDexFee      = 1
	MaxDexFee          = 20
	FeeDenominator     = 1000
	DefaultSlippageBps = 100
	MaxSlippageBps     = 1000
	DefaultSwapWindow  = 20 * time.Minute
)

// Aggregator reverts.
var (
	ErrAlreadyFeeToken  = revert.New(revert.ErrInvalidState, "FeeAggregator: ALREADY_FEE_TOKEN")
	ErrNoFeeToken       = revert.New(revert.ErrInvalidState, "FeeAggregator: NO_FEE_TOKEN")
	ErrFeeOutOfBounds   = revert.New(revert.ErrOutOfBounds, "FeeAggregator: FEE_MIN_0_MAX_20")
	ErrSlippageBounds   = revert.New(revert.ErrOutOfBounds, "FeeAggregator: SLIPPAGE_MIN_0_MAX_1000")
	ErrGatheredNotEmpty = revert.New(revert.ErrInvalidState, "FeeAggregator: GATHERED_NOT_EMPTY")
	ErrCallerNotToken   = revert.New(revert.ErrUnauthorized, "FeeAggregator: CALLER_NOT_FEE_TOKEN")
	ErrConverting       = revert.New(revert.ErrReentrant, "FeeAggregator: CONVERSION_IN_PROGRESS")
	ErrBaseToken        = revert.New(revert.ErrInvalidInput, "FeeAggregator: BASE_TOKEN")
	ErrNothingToConvert = revert.New(revert.ErrNothingToSwap, "FeeAggregator: NOTHING_TO_CONVERT")
	ErrNoVenue          = revert.New(revert.ErrInvalidState, "FeeAggregator: NO_VENUE")
	ErrReleaseExceeds   = revert.New(revert.ErrInsufficientBalance, "FeeAggregator: RELEASE_EXCEEDS_GATHERED")
	ErrNotToken         = revert.New(revert.ErrInvalidInput, "FeeAggregator: NOT_A_TOKEN")
)

// Config describes an aggregator at deployment.
type Config struct {
	BaseToken  common.Address
	Ledger     common.Address
	Venue      common.Address
	Governor   common.Address
	DexFee     uint64
	Slippage   uint64
	SwapWindow time.Duration

	Logger  *logger.Logger
	Metrics *observability.Metrics
}

type state struct {
	tokens      []common.Address
	gathered    map[common.Address]*uint256.Int
	dexFee      uint64
	slippageBps uint64
	venue       common.Address
	ledger      common.Address
}

func (s state) clone() state {
	out := s
	out.tokens = append([]common.Address(nil), s.tokens...)
	out.gathered = make(map[common.Address]*uint256.Int, len(s.gathered))
	for k, v := range s.gathered {
		out.gathered[k] = v.Clone()
	}
	return out
}

// Aggregator is the fee aggregator contract.
type Aggregator struct {
	addr   common.Address
	host   *host.Host
	base   common.Address
	window time.Duration
	roles  *access.Registry
	st     state

	converting host.Guard

	log     *logger.Logger
	metrics *observability.Metrics
}

// Deploy builds an aggregator for host.Deploy. The registry starts empty.
func Deploy(cfg Config) func(c *host.Call, addr common.Address) (*Aggregator, error) {
	return func(c *host.Call, addr common.Address) (*Aggregator, error) {
		if _, err := erc20.Lookup(c.Host(), cfg.BaseToken); err != nil {
			return nil, fmt.Errorf("base token: %w", err)
		}
		if cfg.DexFee > MaxDexFee {
			return nil, ErrFeeOutOfBounds
		}
		if cfg.Slippage == 0 {
			cfg.Slippage = DefaultSlippageBps
		}
		if cfg.Slippage > MaxSlippageBps {
			return nil, ErrSlippageBounds
		}
		if cfg.SwapWindow <= 0 {
			cfg.SwapWindow = DefaultSwapWindow
		}
		a := &Aggregator{
			addr:    addr,
			host:    c.Host(),
			base:    cfg.BaseToken,
			window:  cfg.SwapWindow,
			roles:   access.New(addr, c.Caller(), access.WithGovernor(cfg.Governor)),
			log:     logger.OrNop(cfg.Logger).With("contract", "FeeAggregator"),
			metrics: cfg.Metrics,
			st: state{
				gathered:    make(map[common.Address]*uint256.Int),
				dexFee:      cfg.DexFee,
				slippageBps: cfg.Slippage,
				venue:       cfg.Venue,
				ledger:      cfg.Ledger,
			},
		}
		return a, nil
	}
}

// ── views ──

func (a *Aggregator) Address() common.Address { return a.addr }

// BaseToken is the settlement asset.
func (a *Aggregator) BaseToken() common.Address { return a.base }

// Ledger is the fee-bearing ledger this aggregator serves.
func (a *Aggregator) Ledger() common.Address { return a.st.ledger }

// Venue is the conversion venue.
func (a *Aggregator) Venue() common.Address { return a.st.venue }

func (a *Aggregator) DexFee() uint64            { return a.st.dexFee }
func (a *Aggregator) Slippage() uint64          { return a.st.slippageBps }
func (a *Aggregator) SwapWindow() time.Duration { return a.window }
func (a *Aggregator) Roles() *access.Registry   { return a.roles }

// FeeTokens returns the registry in insertion order.
func (a *Aggregator) FeeTokens() []common.Address {
	return append([]common.Address(nil), a.st.tokens...)
}

// IsFeeToken reports registry membership.
func (a *Aggregator) IsFeeToken(token common.Address) bool {
	_, ok := a.st.gathered[token]
	return ok
}

// TokensGathered is the gathered balance of token.
func (a *Aggregator) TokensGathered(token common.Address) *uint256.Int {
	if v, ok := a.st.gathered[token]; ok {
		return v.Clone()
	}
	return new(uint256.Int)
}

// CalculateFee splits amount into the fee at the current dex fee and what is
// left. It does not depend on the registry.
func (a *Aggregator) CalculateFee(_ common.Address, amount *uint256.Int) (fee, left *uint256.Int) {
	fee = new(uint256.Int)
	if a.st.dexFee > 0 {
		if product, overflow := new(uint256.Int).MulOverflow(amount, uint256.NewInt(a.st.dexFee)); overflow {
			fee.Div(amount, uint256.NewInt(FeeDenominator))
			fee.Mul(fee, uint256.NewInt(a.st.dexFee))
		} else {
			fee.Div(product, uint256.NewInt(FeeDenominator))
		}
	}
	return fee, new(uint256.Int).Sub(amount, fee)
}

// ── registry ──

func (a *Aggregator) register(c *host.Call, token common.Address) {
	a.st.tokens = append(a.st.tokens, token)
	a.st.gathered[token] = new(uint256.Int)
	c.Emit(events.FeeTokenAdded.Log(a.addr, []common.Address{token}))
}

// AddFeeToken registers a token. Governor or owner.
func (a *Aggregator) AddFeeToken(c *host.Call, token common.Address) error {
	if err := a.roles.RequireGovernorOrOwner(c.Caller()); err != nil {
		return err
	}
	if a.IsFeeToken(token) {
		return ErrAlreadyFeeToken
	}
	if _, err := erc20.Lookup(c.Host(), token); err != nil {
		return ErrNotToken
	}
	a.register(c, token)
	return nil
}

// RemoveFeeToken drops a token from the registry. Governor or owner. A token
// with a gathered balance cannot be removed; sweep or release it first.
func (a *Aggregator) RemoveFeeToken(c *host.Call, token common.Address) error {
	if err := a.roles.RequireGovernorOrOwner(c.Caller()); err != nil {
		return err
	}
	gathered, ok := a.st.gathered[token]
	if !ok {
		return ErrNoFeeToken
	}
	if !gathered.IsZero() {
		return ErrGatheredNotEmpty
	}
	delete(a.st.gathered, token)
	for i, t := range a.st.tokens {
		if t == token {
			a.st.tokens = append(a.st.tokens[:i], a.st.tokens[i+1:]...)
			break
		}
	}
	c.Emit(events.FeeTokenRemoved.Log(a.addr, []common.Address{token}))
	return nil
}

// ── deposits ──

func (a *Aggregator) credit(c *host.Call, token common.Address, amount *uint256.Int) {
	g := a.st.gathered[token]
	g.Add(g, amount)
	c.Emit(events.FeeGathered.Log(a.addr, []common.Address{token}, amount))
	a.metrics.FeeGathered(token.Hex())
}

// AddTokenFee pulls amount of token from the caller, who must have approved
// the aggregator, and credits what actually arrived. A fee the token's own
// transfer hook already booked during the pull is not credited twice.
func (a *Aggregator) AddTokenFee(c *host.Call, token common.Address, amount *uint256.Int) error {
	if a.converting.Held() {
		return ErrConverting
	}
	if !a.IsFeeToken(token) {
		return ErrNoFeeToken
	}
	if amount.IsZero() {
		return revert.New(revert.ErrNothingToTransfer, "FeeAggregator: NOTHING_TO_ADD")
	}
	tok, err := erc20.Lookup(c.Host(), token)
	if err != nil {
		return ErrNotToken
	}
	before := tok.BalanceOf(a.addr)
	booked := a.TokensGathered(token)
	if err := tok.TransferFrom(c.Nested(a.addr), c.Caller(), a.addr, amount); err != nil {
		return err
	}
	received := new(uint256.Int).Sub(tok.BalanceOf(a.addr), before)
	hooked := new(uint256.Int).Sub(a.st.gathered[token], booked)
	received.Sub(received, hooked)
	if !received.IsZero() {
		a.credit(c, token, received)
	}
	return nil
}

// GatherFee is the transfer hook of a registered token: the token has already
// credited amount to the aggregator and reports it. Only the token itself may
// call it.
func (a *Aggregator) GatherFee(c *host.Call, token common.Address, amount *uint256.Int) error {
	if a.converting.Held() {
		return ErrConverting
	}
	if c.Caller() != token {
		return ErrCallerNotToken
	}
	if !a.IsFeeToken(token) {
		return ErrNoFeeToken
	}
	a.credit(c, token, amount)
	return nil
}

// Receive wraps native value into the base token and credits it.
func (a *Aggregator) Receive(c *host.Call, amount *uint256.Int) error {
	if a.converting.Held() {
		return ErrConverting
	}
	if !a.IsFeeToken(a.base) {
		return ErrNoFeeToken
	}
	if err := c.Nested(a.addr).SendValue(a.base, amount); err != nil {
		return err
	}
	a.credit(c, a.base, amount)
	return nil
}

// Release pays out gathered balance. Governor or owner.
func (a *Aggregator) Release(c *host.Call, token, to common.Address, amount *uint256.Int) error {
	if err := a.roles.RequireGovernorOrOwner(c.Caller()); err != nil {
		return err
	}
	gathered, ok := a.st.gathered[token]
	if !ok {
		return ErrNoFeeToken
	}
	if gathered.Lt(amount) {
		return ErrReleaseExceeds
	}
	tok, err := erc20.Lookup(c.Host(), token)
	if err != nil {
		return ErrNotToken
	}
	if err := tok.Transfer(c.Nested(a.addr), to, amount); err != nil {
		return err
	}
	gathered.Sub(gathered, amount)
	c.Emit(events.FeeReleased.Log(a.addr, []common.Address{token, to}, amount))
	return nil
}

// ── governance ──

// SetDexFee sets the fee rate in per mille, bounded to [0, MaxDexFee].
// Governor or owner.
func (a *Aggregator) SetDexFee(c *host.Call, fee uint64) error {
	if err := a.roles.RequireGovernorOrOwner(c.Caller()); err != nil {
		return err
	}
	if fee > MaxDexFee {
		return ErrFeeOutOfBounds
	}
	prev := a.st.dexFee
	a.st.dexFee = fee
	c.Emit(events.DexFeeChanged.Log(a.addr, nil, events.Word(prev), events.Word(fee)))
	return nil
}

// SetSlippage sets the tolerated shortfall against the venue quote, in basis
// points. Governor or owner.
func (a *Aggregator) SetSlippage(c *host.Call, bps uint64) error {
	if err := a.roles.RequireGovernorOrOwner(c.Caller()); err != nil {
		return err
	}
	if bps > MaxSlippageBps {
		return ErrSlippageBounds
	}
	a.st.slippageBps = bps
	return nil
}

// SetVenue points conversions at a venue deployed on the host. Owner only.
func (a *Aggregator) SetVenue(c *host.Call, addr common.Address) error {
	if err := a.roles.RequireOwner(c.Caller()); err != nil {
		return err
	}
	if _, ok := venue.Lookup(c.Host(), addr); !ok {
		return revert.New(revert.ErrInvalidInput, "FeeAggregator: NOT_A_VENUE")
	}
	a.st.venue = addr
	return nil
}

// SetLedger records the fee-bearing ledger. Owner only.
func (a *Aggregator) SetLedger(c *host.Call, addr common.Address) error {
	if err := a.roles.RequireOwner(c.Caller()); err != nil {
		return err
	}
	a.st.ledger = addr
	return nil
}

// SetGovernor replaces the governor (owner or governor).
func (a *Aggregator) SetGovernor(c *host.Call, governor common.Address) error {
	return a.roles.SetGovernor(c, governor)
}

// TransferOwnership hands over the owner role.
func (a *Aggregator) TransferOwnership(c *host.Call, owner common.Address) error {
	return a.roles.TransferOwnership(c, owner)
}

// ── journal ──

type snapshot struct {
	st    state
	roles any
}

// Snapshot implements host.Journaled.
func (a *Aggregator) Snapshot() any {
	return snapshot{st: a.st.clone(), roles: a.roles.Snapshot()}
}

// Restore implements host.Journaled.
func (a *Aggregator) Restore(s any) {
	snap := s.(snapshot)
	a.st = snap.st
	a.roles.Restore(snap.roles)
}
