// Package ledger implements the fee-bearing token: an ERC20 balance sheet
// with a capped one-time migration from a legacy token, a burn on every
// transfer and an aggregator fee routed to the fee aggregator.
package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/Mohsinsiddi/feeledger/internal/access"
	"github.com/Mohsinsiddi/feeledger/internal/erc20"
	"github.com/Mohsinsiddi/feeledger/internal/events"
	"github.com/Mohsinsiddi/feeledger/internal/host"
	"github.com/Mohsinsiddi/feeledger/internal/logger"
	"github.com/Mohsinsiddi/feeledger/internal/observability"
	"github.com/Mohsinsiddi/feeledger/internal/revert"
)

// Burn rate bounds in basis points.
const (
	MinBurnBps     = 50
	MaxBurnBps     = 300
	DefaultBurnBps = 100
)

// Ledger reverts.
var (
	ErrNothingToSwap     = revert.New(revert.ErrNothingToSwap, "PSI: NOTHING_TO_SWAP")
	ErrSwapDisabled      = revert.New(revert.ErrInvalidState, "PSI: SWAP_DISABLED")
	ErrSwapAlreadyOpen   = revert.New(revert.ErrInvalidState, "PSI: SWAP_ALREADY_ENABLED")
	ErrSupplyCap         = revert.New(revert.ErrSupplyCapExceeded, "PSI: MAX_SUPPLY_REACHED")
	ErrNothingToTransfer = revert.New(revert.ErrNothingToTransfer, "PSI: NOTHING_TO_TRANSFER")
	ErrBurnRateBounds    = revert.New(revert.ErrOutOfBounds, "PSI: BURN_RATE_OUT_OF_BOUNDS")
	ErrNotFeeSink        = revert.New(revert.ErrInvalidInput, "PSI: NOT_A_FEE_AGGREGATOR")
)

// FeeSink is the fee aggregator as seen from the ledger.
type FeeSink interface {
	host.Contract
	IsFeeToken(token common.Address) bool
	DexFee() uint64
	GatherFee(c *host.Call, token common.Address, amount *uint256.Int) error
}

// Config describes a ledger at deployment.
type Config struct {
	Name      string
	Symbol    string
	Decimals  uint8
	MaxSupply *uint256.Int
	BurnBps   uint64
	Legacy    common.Address
	Cap       CapPolicy
	Scope     FeeScope
	Governor  common.Address

	Logger  *logger.Logger
	Metrics *observability.Metrics
}

// state is everything the journal covers, apart from the role table.
type state struct {
	book       *erc20.Book
	burned     *uint256.Int
	migrated   *uint256.Int
	burnBps    uint64
	migration  MigrationState
	pairs      map[common.Address]bool
	aggregator common.Address
}

func (s state) clone() state {
	out := s
	out.book = s.book.Clone()
	out.burned = s.burned.Clone()
	out.migrated = s.migrated.Clone()
	out.pairs = make(map[common.Address]bool, len(s.pairs))
	for k, v := range s.pairs {
		out.pairs[k] = v
	}
	return out
}

// Token is the fee-bearing ledger.
type Token struct {
	addr   common.Address
	cfg    Config
	host   *host.Host
	legacy erc20.Interface
	scale  scale
	roles  *access.Registry
	st     state
	guard  host.Guard

	log     *logger.Logger
	metrics *observability.Metrics
}

// Deploy builds a ledger for host.Deploy. The deployer becomes owner and is
// excluded from burn and fees.
func Deploy(cfg Config) func(c *host.Call, addr common.Address) (*Token, error) {
	return func(c *host.Call, addr common.Address) (*Token, error) {
		legacy, err := erc20.Lookup(c.Host(), cfg.Legacy)
		if err != nil {
			return nil, fmt.Errorf("legacy token: %w", err)
		}
		if cfg.MaxSupply == nil {
			return nil, revert.New(revert.ErrInvalidInput, "PSI: MAX_SUPPLY_UNSET")
		}
		if cfg.BurnBps == 0 {
			cfg.BurnBps = DefaultBurnBps
		}
		if cfg.BurnBps < MinBurnBps || cfg.BurnBps > MaxBurnBps {
			return nil, ErrBurnRateBounds
		}

		owner := c.Caller()
		t := &Token{
			addr:    addr,
			cfg:     cfg,
			host:    c.Host(),
			legacy:  legacy,
			scale:   newScale(legacy.Decimals(), cfg.Decimals),
			roles:   access.New(addr, owner, access.WithGovernor(cfg.Governor)),
			log:     logger.OrNop(cfg.Logger).With("contract", cfg.Symbol),
			metrics: cfg.Metrics,
			st: state{
				book:     erc20.NewBook(),
				burned:   new(uint256.Int),
				migrated: new(uint256.Int),
				burnBps:  cfg.BurnBps,
				pairs:    make(map[common.Address]bool),
			},
		}
		for _, set := range []access.Set{access.BurnExempt, access.FeeExempt, access.DexFeeExempt} {
			t.roles.Exclude(set, owner, true)
		}
		return t, nil
	}
}

// ── views ──

func (t *Token) Address() common.Address   { return t.addr }
func (t *Token) Name() string              { return t.cfg.Name }
func (t *Token) Symbol() string            { return t.cfg.Symbol }
func (t *Token) Decimals() uint8           { return t.cfg.Decimals }
func (t *Token) MaxSupply() *uint256.Int   { return t.cfg.MaxSupply.Clone() }
func (t *Token) CapPolicy() CapPolicy      { return t.cfg.Cap }
func (t *Token) FeeScope() FeeScope        { return t.cfg.Scope }
func (t *Token) TotalSupply() *uint256.Int { return t.st.book.TotalSupply() }
func (t *Token) TotalBurned() *uint256.Int { return t.st.burned.Clone() }
func (t *Token) BurnRate() uint64          { return t.st.burnBps }
func (t *Token) Legacy() common.Address    { return t.cfg.Legacy }
func (t *Token) Roles() *access.Registry   { return t.roles }

func (t *Token) BalanceOf(addr common.Address) *uint256.Int { return t.st.book.BalanceOf(addr) }

func (t *Token) Allowance(owner, spender common.Address) *uint256.Int {
	return t.st.book.Allowance(owner, spender)
}

// Holders lists every account with a balance.
func (t *Token) Holders() []common.Address { return t.st.book.Holders() }

// SumOfBalances adds up every balance; it always equals TotalSupply.
func (t *Token) SumOfBalances() *uint256.Int { return t.st.book.Sum() }

// IsDexPair reports whether addr is a registered dex pair.
func (t *Token) IsDexPair(addr common.Address) bool { return t.st.pairs[addr] }

// FeeAggregator returns the aggregator fees are routed to (zero if unset).
func (t *Token) FeeAggregator() common.Address { return t.st.aggregator }

// ── transfers ──

// Transfer moves amount from the caller to to, less burn and fee.
func (t *Token) Transfer(c *host.Call, to common.Address, amount *uint256.Int) error {
	_, err := t.transfer(c, c.Caller(), to, amount)
	return err
}

// TransferFrom moves amount from from to to against the caller's allowance.
func (t *Token) TransferFrom(c *host.Call, from, to common.Address, amount *uint256.Int) error {
	if err := t.st.book.SpendAllowance(from, c.Caller(), amount); err != nil {
		return err
	}
	_, err := t.transfer(c, from, to, amount)
	return err
}

// Approve sets the caller's allowance for spender.
func (t *Token) Approve(c *host.Call, spender common.Address, amount *uint256.Int) error {
	t.st.book.Approve(c.Caller(), spender, amount)
	c.Emit(events.Approval.Log(t.addr, []common.Address{c.Caller(), spender}, amount))
	return nil
}

// Quote returns how a transfer of amount from from to to would split, without
// changing anything.
func (t *Token) Quote(from, to common.Address, amount *uint256.Int) (Split, error) {
	burnBps, feeRate := Policy(t.trade(from, to), t.terms())
	return Divide(amount, burnBps, feeRate)
}

func (t *Token) transfer(c *host.Call, from, to common.Address, amount *uint256.Int) (Split, error) {
	if t.guard.Held() {
		return Split{}, host.ErrReentrantCall
	}
	if amount.IsZero() {
		return Split{}, ErrNothingToTransfer
	}
	if to == (common.Address{}) {
		return Split{}, erc20.ErrZeroRecipient
	}
	if t.st.book.BalanceOf(from).Lt(amount) {
		return Split{}, erc20.ErrExceedsBalance
	}

	split, err := t.Quote(from, to, amount)
	if err != nil {
		return Split{}, err
	}

	if !split.Burn.IsZero() {
		if err := t.burn(c, from, split.Burn); err != nil {
			return Split{}, err
		}
	}
	if !split.Fee.IsZero() {
		if err := t.routeFee(c, from, split.Fee); err != nil {
			return Split{}, err
		}
	}
	if err := t.st.book.Move(from, to, split.Net); err != nil {
		return Split{}, err
	}
	c.Emit(events.Transfer.Log(t.addr, []common.Address{from, to}, split.Net))
	return split, nil
}

func (t *Token) burn(c *host.Call, from common.Address, amount *uint256.Int) error {
	if err := t.st.book.Burn(from, amount); err != nil {
		return err
	}
	t.st.burned.Add(t.st.burned, amount)
	c.Emit(events.Burn.Log(t.addr, []common.Address{from}, amount))
	t.metrics.Burned()
	return nil
}

// routeFee credits the aggregator's balance and notifies it, with the ledger
// locked against re-entry.
func (t *Token) routeFee(c *host.Call, from common.Address, fee *uint256.Int) error {
	sink, err := t.sink()
	if err != nil {
		return err
	}
	if err := t.st.book.Move(from, sink.Address(), fee); err != nil {
		return err
	}
	c.Emit(events.Transfer.Log(t.addr, []common.Address{from, sink.Address()}, fee))
	if err := t.guard.Run(func() error {
		return sink.GatherFee(c.Nested(t.addr), t.addr, fee)
	}); err != nil {
		return err
	}
	t.metrics.FeeGathered(t.cfg.Symbol)
	return nil
}

func (t *Token) sink() (FeeSink, error) {
	if t.st.aggregator == (common.Address{}) {
		return nil, ErrNotFeeSink
	}
	contract, ok := t.host.Contract(t.st.aggregator)
	if !ok {
		return nil, ErrNotFeeSink
	}
	sink, ok := contract.(FeeSink)
	if !ok {
		return nil, ErrNotFeeSink
	}
	return sink, nil
}

func (t *Token) exclusions(addr common.Address) Exclusions {
	return Exclusions{
		Burn:   t.roles.IsExcluded(access.BurnExempt, addr),
		Fee:    t.roles.IsExcluded(access.FeeExempt, addr),
		DexFee: t.roles.IsExcluded(access.DexFeeExempt, addr),
	}
}

func (t *Token) trade(from, to common.Address) Trade {
	return Trade{
		Sender:    t.exclusions(from),
		Recipient: t.exclusions(to),
		FromPair:  t.st.pairs[from],
		ToPair:    t.st.pairs[to],
	}
}

func (t *Token) terms() Terms {
	terms := Terms{BurnBps: t.st.burnBps, Scope: t.cfg.Scope}
	if sink, err := t.sink(); err == nil {
		terms.FeeToken = sink.IsFeeToken(t.addr)
		terms.FeeRate = sink.DexFee()
	}
	return terms
}

// Burn destroys amount of the caller's balance.
func (t *Token) Burn(c *host.Call, amount *uint256.Int) error {
	if amount.IsZero() {
		return ErrNothingToTransfer
	}
	return t.burn(c, c.Caller(), amount)
}

// ── governance ──

// ChangeBurnRate sets the burn rate. Governor only, bounded to
// [MinBurnBps, MaxBurnBps].
func (t *Token) ChangeBurnRate(c *host.Call, bps uint64) error {
	if err := t.roles.RequireGovernor(c.Caller()); err != nil {
		return err
	}
	if bps < MinBurnBps || bps > MaxBurnBps {
		return ErrBurnRateBounds
	}
	prev := t.st.burnBps
	t.st.burnBps = bps
	c.Emit(events.BurnRate.Log(t.addr, nil, events.Word(prev), events.Word(bps)))
	return nil
}

// SetGovernor replaces the governor (owner or governor).
func (t *Token) SetGovernor(c *host.Call, governor common.Address) error {
	return t.roles.SetGovernor(c, governor)
}

// TransferOwnership hands over the owner role.
func (t *Token) TransferOwnership(c *host.Call, owner common.Address) error {
	return t.roles.TransferOwnership(c, owner)
}

// SetExcludedFromBurn is owner only.
func (t *Token) SetExcludedFromBurn(c *host.Call, addr common.Address, excluded bool) error {
	return t.roles.SetExcluded(c, access.BurnExempt, addr, excluded)
}

// SetExcludedFromFees is owner only.
func (t *Token) SetExcludedFromFees(c *host.Call, addr common.Address, excluded bool) error {
	return t.roles.SetExcluded(c, access.FeeExempt, addr, excluded)
}

// SetExcludedFromDexFee is owner only.
func (t *Token) SetExcludedFromDexFee(c *host.Call, addr common.Address, excluded bool) error {
	return t.roles.SetExcluded(c, access.DexFeeExempt, addr, excluded)
}

// SetDexPair registers or unregisters a dex pair. Owner only.
func (t *Token) SetDexPair(c *host.Call, pair common.Address, enabled bool) error {
	if err := t.roles.RequireOwner(c.Caller()); err != nil {
		return err
	}
	if enabled {
		t.st.pairs[pair] = true
	} else {
		delete(t.st.pairs, pair)
	}
	c.Emit(events.DexPair.Log(t.addr, []common.Address{pair}, events.Flag(enabled)))
	return nil
}

// SetFeeAggregator points fee routing at a deployed aggregator. Owner only.
func (t *Token) SetFeeAggregator(c *host.Call, aggregator common.Address) error {
	if err := t.roles.RequireOwner(c.Caller()); err != nil {
		return err
	}
	contract, ok := c.Host().Contract(aggregator)
	if !ok {
		return ErrNotFeeSink
	}
	if _, ok := contract.(FeeSink); !ok {
		return ErrNotFeeSink
	}
	t.st.aggregator = aggregator
	return nil
}

// ── journal ──

type snapshot struct {
	st    state
	roles any
}

// Snapshot implements host.Journaled.
func (t *Token) Snapshot() any {
	return snapshot{st: t.st.clone(), roles: t.roles.Snapshot()}
}

// Restore implements host.Journaled.
func (t *Token) Restore(s any) {
	snap := s.(snapshot)
	t.st = snap.st
	t.roles.Restore(snap.roles)
}
