package venue

import (
	"context"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/Mohsinsiddi/feeledger/internal/access"
	"github.com/Mohsinsiddi/feeledger/internal/erc20"
	"github.com/Mohsinsiddi/feeledger/internal/events"
	"github.com/Mohsinsiddi/feeledger/internal/host"
	"github.com/Mohsinsiddi/feeledger/internal/revert"
)

// Desk reverts. Swap and liquidity failures are venue failures.
var (
	ErrNoPair                = revert.New(revert.ErrVenueFailure, "Desk: PAIR_NOT_FOUND")
	ErrPairExists            = revert.New(revert.ErrInvalidState, "Desk: PAIR_EXISTS")
	ErrIdenticalTokens       = revert.New(revert.ErrInvalidInput, "Desk: IDENTICAL_ADDRESSES")
	ErrExpired               = revert.New(revert.ErrVenueFailure, "Desk: EXPIRED")
	ErrInsufficientOutput    = revert.New(revert.ErrVenueFailure, "Desk: INSUFFICIENT_OUTPUT_AMOUNT")
	ErrInsufficientLiquidity = revert.New(revert.ErrVenueFailure, "Desk: INSUFFICIENT_LIQUIDITY")
	ErrInsufficientInput     = revert.New(revert.ErrVenueFailure, "Desk: INSUFFICIENT_INPUT_AMOUNT")
	ErrInsufficientA         = revert.New(revert.ErrVenueFailure, "Desk: INSUFFICIENT_A_AMOUNT")
	ErrInsufficientB         = revert.New(revert.ErrVenueFailure, "Desk: INSUFFICIENT_B_AMOUNT")
	ErrHalted                = revert.New(revert.ErrVenueFailure, "Desk: PAIR_HALTED")
)

var pairCodeHash = crypto.Keccak256([]byte("feeledger/desk/pair"))

// pairAccount is the on-host identity of a pair. Pair reserves are held in
// its token balances.
type pairAccount struct{ addr common.Address }

func (p pairAccount) Address() common.Address { return p.addr }

type pair struct {
	addr     common.Address
	token0   common.Address
	token1   common.Address
	reserve0 *uint256.Int
	reserve1 *uint256.Int
	supply   *uint256.Int
	shares   map[common.Address]*uint256.Int
	halted   bool
}

func (p *pair) clone() *pair {
	out := *p
	out.reserve0 = p.reserve0.Clone()
	out.reserve1 = p.reserve1.Clone()
	out.supply = p.supply.Clone()
	out.shares = make(map[common.Address]*uint256.Int, len(p.shares))
	for k, v := range p.shares {
		out.shares[k] = v.Clone()
	}
	return &out
}

// reserves returns the reserves ordered as (a, b).
func (p *pair) reserves(a common.Address) (*uint256.Int, *uint256.Int) {
	if a == p.token0 {
		return p.reserve0.Clone(), p.reserve1.Clone()
	}
	return p.reserve1.Clone(), p.reserve0.Clone()
}

// Desk is an in-process venue. Quotes are the fixed spot rate of the current
// reserves, out = in * reserveOut / reserveIn; there is no price curve.
type Desk struct {
	addr  common.Address
	host  *host.Host
	roles *access.Registry
	pairs map[common.Address]*pair // by pair address
}

// DeployDesk builds a Desk for host.Deploy. The deployer owns it.
func DeployDesk(c *host.Call, addr common.Address) (*Desk, error) {
	return &Desk{
		addr:  addr,
		host:  c.Host(),
		roles: access.New(addr, c.Caller()),
		pairs: make(map[common.Address]*pair),
	}, nil
}

func (d *Desk) Address() common.Address { return d.addr }

// PairFor derives the pair address of two tokens.
func (d *Desk) PairFor(tokenA, tokenB common.Address) common.Address {
	t0, t1 := sortTokens(tokenA, tokenB)
	salt := crypto.Keccak256Hash(t0.Bytes(), t1.Bytes())
	return crypto.CreateAddress2(d.addr, salt, pairCodeHash)
}

// GetPair returns the pair of two tokens if it exists.
func (d *Desk) GetPair(tokenA, tokenB common.Address) (common.Address, bool) {
	addr := d.PairFor(tokenA, tokenB)
	_, ok := d.pairs[addr]
	return addr, ok
}

// Pairs lists every pair address, sorted.
func (d *Desk) Pairs() []common.Address {
	out := make([]common.Address, 0, len(d.pairs))
	for a := range d.pairs {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

// CreatePair registers the pair of two tokens.
func (d *Desk) CreatePair(c *host.Call, tokenA, tokenB common.Address) (common.Address, error) {
	if tokenA == tokenB {
		return common.Address{}, ErrIdenticalTokens
	}
	if tokenA == (common.Address{}) || tokenB == (common.Address{}) {
		return common.Address{}, revert.New(revert.ErrInvalidInput, "Desk: ZERO_ADDRESS")
	}
	addr, exists := d.GetPair(tokenA, tokenB)
	if exists {
		return common.Address{}, ErrPairExists
	}
	if err := c.Register(pairAccount{addr}); err != nil {
		return common.Address{}, err
	}
	t0, t1 := sortTokens(tokenA, tokenB)
	d.pairs[addr] = &pair{
		addr:     addr,
		token0:   t0,
		token1:   t1,
		reserve0: new(uint256.Int),
		reserve1: new(uint256.Int),
		supply:   new(uint256.Int),
		shares:   make(map[common.Address]*uint256.Int),
	}
	c.Emit(events.PairCreated.Log(d.addr, []common.Address{t0, t1}, new(uint256.Int).SetBytes(addr.Bytes())))
	return addr, nil
}

func (d *Desk) pair(tokenA, tokenB common.Address) (*pair, error) {
	p, ok := d.pairs[d.PairFor(tokenA, tokenB)]
	if !ok {
		return nil, ErrNoPair
	}
	return p, nil
}

// PairReserves returns the reserves ordered as (tokenA, tokenB).
func (d *Desk) PairReserves(tokenA, tokenB common.Address) (*uint256.Int, *uint256.Int, error) {
	p, err := d.pair(tokenA, tokenB)
	if err != nil {
		return nil, nil, err
	}
	ra, rb := p.reserves(tokenA)
	return ra, rb, nil
}

// AmountOut quotes an exact-input swap at the current spot rate.
func (d *Desk) AmountOut(tokenIn, tokenOut common.Address, amountIn *uint256.Int) (*uint256.Int, error) {
	p, err := d.pair(tokenIn, tokenOut)
	if err != nil {
		return nil, err
	}
	rIn, rOut := p.reserves(tokenIn)
	return quote(amountIn, rIn, rOut)
}

func quote(amountIn, rIn, rOut *uint256.Int) (*uint256.Int, error) {
	if amountIn.IsZero() {
		return nil, ErrInsufficientInput
	}
	if rIn.IsZero() || rOut.IsZero() {
		return nil, ErrInsufficientLiquidity
	}
	out, overflow := new(uint256.Int).MulOverflow(amountIn, rOut)
	if overflow {
		return nil, ErrInsufficientLiquidity
	}
	out.Div(out, rIn)
	if !out.Lt(rOut) {
		return nil, ErrInsufficientLiquidity
	}
	return out, nil
}

// Swap pulls AmountIn of TokenIn from the caller into the pair and pays the
// quoted TokenOut to Recipient. The quote uses what the pair actually
// received, so fee-on-transfer tokens are priced on their net amount.
func (d *Desk) Swap(c *host.Call, req SwapRequest) (*uint256.Int, error) {
	if c.Now().After(req.Deadline) {
		return nil, ErrExpired
	}
	p, err := d.pair(req.TokenIn, req.TokenOut)
	if err != nil {
		return nil, err
	}
	if p.halted {
		return nil, ErrHalted
	}
	in, err := erc20.Lookup(c.Host(), req.TokenIn)
	if err != nil {
		return nil, err
	}
	out, err := erc20.Lookup(c.Host(), req.TokenOut)
	if err != nil {
		return nil, err
	}

	rIn, rOut := p.reserves(req.TokenIn)
	before := in.BalanceOf(p.addr)
	if err := in.TransferFrom(c.Nested(d.addr), c.Caller(), p.addr, req.AmountIn); err != nil {
		return nil, err
	}
	received := new(uint256.Int).Sub(in.BalanceOf(p.addr), before)

	amountOut, err := quote(received, rIn, rOut)
	if err != nil {
		return nil, err
	}
	if req.MinOut != nil && amountOut.Lt(req.MinOut) {
		return nil, ErrInsufficientOutput
	}
	if err := out.Transfer(c.Nested(p.addr), req.Recipient, amountOut); err != nil {
		return nil, err
	}
	d.sync(p)

	c.Emit(events.VenueSwap.Log(d.addr, []common.Address{req.TokenIn, req.TokenOut}, req.AmountIn, amountOut))
	return amountOut, nil
}

// AddLiquidity deposits tokens into a pair at the current reserve ratio,
// creating the pair if needed. The caller must have approved the desk for
// both tokens.
func (d *Desk) AddLiquidity(c *host.Call, req LiquidityRequest) (usedA, usedB, liquidity *uint256.Int, err error) {
	if c.Now().After(req.Deadline) {
		return nil, nil, nil, ErrExpired
	}
	if _, exists := d.GetPair(req.TokenA, req.TokenB); !exists {
		if _, err := d.CreatePair(c, req.TokenA, req.TokenB); err != nil {
			return nil, nil, nil, err
		}
	}
	p, err := d.pair(req.TokenA, req.TokenB)
	if err != nil {
		return nil, nil, nil, err
	}

	usedA, usedB, err = optimal(p, req)
	if err != nil {
		return nil, nil, nil, err
	}

	tokA, err := erc20.Lookup(c.Host(), req.TokenA)
	if err != nil {
		return nil, nil, nil, err
	}
	tokB, err := erc20.Lookup(c.Host(), req.TokenB)
	if err != nil {
		return nil, nil, nil, err
	}
	rA, rB := p.reserves(req.TokenA)
	self := c.Nested(d.addr)
	if err := tokA.TransferFrom(self, c.Caller(), p.addr, usedA); err != nil {
		return nil, nil, nil, err
	}
	if err := tokB.TransferFrom(self, c.Caller(), p.addr, usedB); err != nil {
		return nil, nil, nil, err
	}
	gotA := new(uint256.Int).Sub(tokA.BalanceOf(p.addr), rA)
	gotB := new(uint256.Int).Sub(tokB.BalanceOf(p.addr), rB)

	liquidity = shares(p, gotA, gotB, rA, rB)
	if liquidity.IsZero() {
		return nil, nil, nil, revert.New(revert.ErrVenueFailure, "Desk: INSUFFICIENT_LIQUIDITY_MINTED")
	}
	held, ok := p.shares[req.To]
	if !ok {
		held = new(uint256.Int)
		p.shares[req.To] = held
	}
	held.Add(held, liquidity)
	p.supply.Add(p.supply, liquidity)
	d.sync(p)

	c.Emit(events.LiquidityAdded.Log(d.addr, []common.Address{p.addr, req.To}, usedA, usedB, liquidity))
	return usedA, usedB, liquidity, nil
}

func optimal(p *pair, req LiquidityRequest) (*uint256.Int, *uint256.Int, error) {
	rA, rB := p.reserves(req.TokenA)
	if rA.IsZero() && rB.IsZero() {
		return req.AmountA.Clone(), req.AmountB.Clone(), nil
	}
	bOptimal := new(uint256.Int).Div(new(uint256.Int).Mul(req.AmountA, rB), rA)
	if !bOptimal.Gt(req.AmountB) {
		if req.AmountBMin != nil && bOptimal.Lt(req.AmountBMin) {
			return nil, nil, ErrInsufficientB
		}
		return req.AmountA.Clone(), bOptimal, nil
	}
	aOptimal := new(uint256.Int).Div(new(uint256.Int).Mul(req.AmountB, rA), rB)
	if req.AmountAMin != nil && aOptimal.Lt(req.AmountAMin) {
		return nil, nil, ErrInsufficientA
	}
	return aOptimal, req.AmountB.Clone(), nil
}

// shares mints the geometric mean on the first deposit and the smaller
// proportional share afterwards.
func shares(p *pair, gotA, gotB, rA, rB *uint256.Int) *uint256.Int {
	if p.supply.IsZero() {
		return new(uint256.Int).Sqrt(new(uint256.Int).Mul(gotA, gotB))
	}
	if rA.IsZero() || rB.IsZero() {
		return new(uint256.Int)
	}
	la := new(uint256.Int).Div(new(uint256.Int).Mul(gotA, p.supply), rA)
	lb := new(uint256.Int).Div(new(uint256.Int).Mul(gotB, p.supply), rB)
	if la.Lt(lb) {
		return la
	}
	return lb
}

func (d *Desk) sync(p *pair) {
	if t, err := erc20.Lookup(d.host, p.token0); err == nil {
		p.reserve0 = t.BalanceOf(p.addr)
	}
	if t, err := erc20.Lookup(d.host, p.token1); err == nil {
		p.reserve1 = t.BalanceOf(p.addr)
	}
}

// LiquidityOf returns the pool shares holder owns in a pair.
func (d *Desk) LiquidityOf(tokenA, tokenB, holder common.Address) *uint256.Int {
	p, err := d.pair(tokenA, tokenB)
	if err != nil {
		return new(uint256.Int)
	}
	if v, ok := p.shares[holder]; ok {
		return v.Clone()
	}
	return new(uint256.Int)
}

// SetHalted stops or resumes swaps on a pair. Owner only.
func (d *Desk) SetHalted(c *host.Call, tokenA, tokenB common.Address, halted bool) error {
	if err := d.roles.RequireOwner(c.Caller()); err != nil {
		return err
	}
	p, err := d.pair(tokenA, tokenB)
	if err != nil {
		return err
	}
	p.halted = halted
	return nil
}

// ── Quoter ──

// Quote implements Quoter.
func (d *Desk) Quote(_ context.Context, tokenIn, tokenOut common.Address, amountIn *uint256.Int) (*uint256.Int, error) {
	return d.AmountOut(tokenIn, tokenOut, amountIn)
}

// Reserves implements Quoter.
func (d *Desk) Reserves(_ context.Context, tokenA, tokenB common.Address) (*uint256.Int, *uint256.Int, error) {
	return d.PairReserves(tokenA, tokenB)
}

// Pair implements Quoter.
func (d *Desk) Pair(_ context.Context, tokenA, tokenB common.Address) (common.Address, error) {
	addr, ok := d.GetPair(tokenA, tokenB)
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %s/%s", ErrNoPair, tokenA.Hex(), tokenB.Hex())
	}
	return addr, nil
}

// ── journal ──

type deskSnapshot struct {
	pairs map[common.Address]*pair
	roles any
}

// Snapshot implements host.Journaled.
func (d *Desk) Snapshot() any {
	s := deskSnapshot{pairs: make(map[common.Address]*pair, len(d.pairs)), roles: d.roles.Snapshot()}
	for k, v := range d.pairs {
		s.pairs[k] = v.clone()
	}
	return s
}

// Restore implements host.Journaled.
func (d *Desk) Restore(s any) {
	snap := s.(deskSnapshot)
	d.pairs = snap.pairs
	d.roles.Restore(snap.roles)
}

var _ Venue = (*Desk)(nil)
var _ Quoter = (*Desk)(nil)
