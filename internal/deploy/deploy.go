// Package deploy assembles a complete fee ledger system on a fresh host: the
// legacy ledger, the fee-bearing ledger, the wrapped base asset, an
// in-process venue with the default pair, the fee aggregator and the reward
// ledger with its minter.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/Mohsinsiddi/feeledger/internal/aggregator"
	"github.com/Mohsinsiddi/feeledger/internal/erc20"
	"github.com/Mohsinsiddi/feeledger/internal/host"
	"github.com/Mohsinsiddi/feeledger/internal/ledger"
	"github.com/Mohsinsiddi/feeledger/internal/logger"
	"github.com/Mohsinsiddi/feeledger/internal/observability"
	"github.com/Mohsinsiddi/feeledger/internal/reward"
	"github.com/Mohsinsiddi/feeledger/internal/venue"
)

// ErrUnknownToken is returned by Token for a symbol the system does not know.
var ErrUnknownToken = errors.New("deploy: unknown token")

// Config describes the system to deploy. Zero values take the defaults of
// DefaultConfig, except DexFee, Cap and Scope whose zero values are valid
// settings.
type Config struct {
	Owner    common.Address
	Governor common.Address

	Name           string
	Symbol         string
	Decimals       uint8
	LegacyDecimals uint8
	MaxSupply      *uint256.Int
	// LegacySupply is minted to the owner on the legacy ledger.
	LegacySupply *uint256.Int
	BurnBps      uint64
	Cap          ledger.CapPolicy
	Scope        ledger.FeeScope

	DexFee     uint64
	Slippage   uint64
	SwapWindow time.Duration

	IncomeSupply *uint256.Int
	// NativeFunds is the owner's genesis native balance.
	NativeFunds *uint256.Int

	Clock   func() time.Time
	Logger  *logger.Logger
	Metrics *observability.Metrics
}

// DefaultConfig returns the production parameters: a 9 decimal ledger capped
// at 18,183 tokens, 1% burn, a 1 per mille dex fee and reject-on-cap
// migration.
func DefaultConfig() Config {
	maxSupply := Units(18183, 9)
	return Config{
		Owner:          host.AccountFor("owner"),
		Governor:       host.AccountFor("governor"),
		Name:           "Passive Income",
		Symbol:         "PSI",
		Decimals:       9,
		LegacyDecimals: 9,
		MaxSupply:      maxSupply,
		LegacySupply:   maxSupply.Clone(),
		BurnBps:        ledger.DefaultBurnBps,
		Cap:            ledger.CapReject,
		Scope:          ledger.FeeOnDexTrades,
		DexFee:         aggregator.DefaultDexFee,
		Slippage:       aggregator.DefaultSlippageBps,
		SwapWindow:     aggregator.DefaultSwapWindow,
		IncomeSupply:   reward.StartSupply,
		NativeFunds:    Units(1_000_000, 18),
	}
}

func (cfg Config) withDefaults() Config {
	def := DefaultConfig()
	if cfg.Owner == (common.Address{}) {
		cfg.Owner = def.Owner
	}
	if cfg.Governor == (common.Address{}) {
		cfg.Governor = def.Governor
	}
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.Symbol == "" {
		cfg.Symbol = def.Symbol
	}
	if cfg.Decimals == 0 {
		cfg.Decimals = def.Decimals
	}
	if cfg.LegacyDecimals == 0 {
		cfg.LegacyDecimals = def.LegacyDecimals
	}
	if cfg.MaxSupply == nil {
		cfg.MaxSupply = def.MaxSupply
	}
	if cfg.LegacySupply == nil {
		cfg.LegacySupply = cfg.MaxSupply.Clone()
	}
	if cfg.SwapWindow == 0 {
		cfg.SwapWindow = def.SwapWindow
	}
	if cfg.IncomeSupply == nil {
		cfg.IncomeSupply = def.IncomeSupply
	}
	if cfg.NativeFunds == nil {
		cfg.NativeFunds = def.NativeFunds
	}
	return cfg
}

// Units expands a whole-token amount to the given decimals.
func Units(whole uint64, decimals uint8) *uint256.Int {
	scale := new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(decimals)))
	return new(uint256.Int).Mul(uint256.NewInt(whole), scale)
}

// System is a deployed set of contracts.
type System struct {
	Host     *host.Host
	Owner    common.Address
	Governor common.Address

	Legacy     *erc20.Token
	PSI        *ledger.Token
	WETH       *erc20.Token
	Desk       *venue.Desk
	Aggregator *aggregator.Aggregator
	Income     *reward.Token
	Minter     *reward.Minter
	// Pair is the default PSI/WETH pair, registered as a dex pair.
	Pair common.Address

	extra map[string]*erc20.Token
	log   *logger.Logger
}

// New deploys a system. The fee aggregator and the venue are excluded from
// burn and fees on the ledger, the aggregator registers WETH and PSI, and the
// minter is whitelisted on the reward ledger. Migration starts locked.
func New(ctx context.Context, cfg Config) (*System, error) {
	cfg = cfg.withDefaults()
	opts := []host.Option{host.WithLogger(cfg.Logger), host.WithMetrics(cfg.Metrics)}
	if cfg.Clock != nil {
		opts = append(opts, host.WithClock(cfg.Clock))
	}
	h := host.New(opts...)
	h.Fund(cfg.Owner, cfg.NativeFunds)

	s := &System{
		Host:     h,
		Owner:    cfg.Owner,
		Governor: cfg.Governor,
		extra:    make(map[string]*erc20.Token),
		log:      logger.OrNop(cfg.Logger).With("component", "deploy"),
	}

	var err error
	if s.Legacy, err = host.Deploy(ctx, h, cfg.Owner, erc20.Deploy(erc20.Config{
		Name: cfg.Name, Symbol: cfg.Symbol + "v1", Decimals: cfg.LegacyDecimals, Genesis: cfg.LegacySupply,
	})); err != nil {
		return nil, fmt.Errorf("deploying legacy ledger: %w", err)
	}
	if s.WETH, err = host.Deploy(ctx, h, cfg.Owner, erc20.Deploy(erc20.Config{
		Name: "Wrapped Ether", Symbol: "WETH", Decimals: 18, Wrapped: true,
	})); err != nil {
		return nil, fmt.Errorf("deploying base asset: %w", err)
	}
	if s.Desk, err = host.Deploy(ctx, h, cfg.Owner, venue.DeployDesk); err != nil {
		return nil, fmt.Errorf("deploying venue: %w", err)
	}
	if s.PSI, err = host.Deploy(ctx, h, cfg.Owner, ledger.Deploy(ledger.Config{
		Name:      cfg.Name,
		Symbol:    cfg.Symbol,
		Decimals:  cfg.Decimals,
		MaxSupply: cfg.MaxSupply,
		BurnBps:   cfg.BurnBps,
		Legacy:    s.Legacy.Address(),
		Cap:       cfg.Cap,
		Scope:     cfg.Scope,
		Governor:  cfg.Governor,
		Logger:    cfg.Logger,
		Metrics:   cfg.Metrics,
	})); err != nil {
		return nil, fmt.Errorf("deploying ledger: %w", err)
	}
	if s.Aggregator, err = host.Deploy(ctx, h, cfg.Owner, aggregator.Deploy(aggregator.Config{
		BaseToken:  s.WETH.Address(),
		Ledger:     s.PSI.Address(),
		Venue:      s.Desk.Address(),
		Governor:   cfg.Governor,
		DexFee:     cfg.DexFee,
		Slippage:   cfg.Slippage,
		SwapWindow: cfg.SwapWindow,
		Logger:     cfg.Logger,
		Metrics:    cfg.Metrics,
	})); err != nil {
		return nil, fmt.Errorf("deploying aggregator: %w", err)
	}
	if s.Income, err = host.Deploy(ctx, h, cfg.Owner, reward.Deploy(reward.Config{
		StartSupply: cfg.IncomeSupply,
		Logger:      cfg.Logger,
	})); err != nil {
		return nil, fmt.Errorf("deploying reward ledger: %w", err)
	}
	if s.Minter, err = host.Deploy(ctx, h, cfg.Owner, reward.DeployMinter(s.Income)); err != nil {
		return nil, fmt.Errorf("deploying minter: %w", err)
	}

	if _, err := s.Exec(ctx, cfg.Owner, s.wire); err != nil {
		return nil, fmt.Errorf("wiring system: %w", err)
	}
	s.log.Info("system deployed",
		"psi", s.PSI.Address().Hex(),
		"aggregator", s.Aggregator.Address().Hex(),
		"desk", s.Desk.Address().Hex(),
		"pair", s.Pair.Hex())
	return s, nil
}

func (s *System) wire(c *host.Call) error {
	psi, agg := s.PSI, s.Aggregator
	if err := psi.SetFeeAggregator(c, agg.Address()); err != nil {
		return err
	}
	for _, addr := range []common.Address{agg.Address(), s.Desk.Address()} {
		if err := psi.SetExcludedFromBurn(c, addr, true); err != nil {
			return err
		}
		if err := psi.SetExcludedFromFees(c, addr, true); err != nil {
			return err
		}
		if err := psi.SetExcludedFromDexFee(c, addr, true); err != nil {
			return err
		}
	}
	for _, token := range []common.Address{s.WETH.Address(), psi.Address()} {
		if err := agg.AddFeeToken(c, token); err != nil {
			return err
		}
	}
	pair, err := s.Desk.CreatePair(c, psi.Address(), s.WETH.Address())
	if err != nil {
		return err
	}
	if err := psi.SetDexPair(c, pair, true); err != nil {
		return err
	}
	s.Pair = pair
	return s.Income.AddMintingContract(c, s.Minter.Address())
}

// Exec runs fn as one atomic call by caller.
func (s *System) Exec(ctx context.Context, caller common.Address, fn func(c *host.Call) error) (*host.Receipt, error) {
	return s.Host.Execute(ctx, caller, fn)
}

// DeployToken deploys an extra token owned by the system owner, optionally
// registering it as a fee token. Its symbol must be unique.
func (s *System) DeployToken(ctx context.Context, cfg erc20.Config, feeToken bool) (*erc20.Token, error) {
	if _, err := s.Token(cfg.Symbol); err == nil {
		return nil, fmt.Errorf("deploy: token %q already exists", cfg.Symbol)
	}
	tok, err := host.Deploy(ctx, s.Host, s.Owner, erc20.Deploy(cfg))
	if err != nil {
		return nil, fmt.Errorf("deploying %s: %w", cfg.Symbol, err)
	}
	if feeToken {
		if _, err := s.Exec(ctx, s.Owner, func(c *host.Call) error {
			return s.Aggregator.AddFeeToken(c, tok.Address())
		}); err != nil {
			return nil, fmt.Errorf("registering %s: %w", cfg.Symbol, err)
		}
	}
	s.extra[cfg.Symbol] = tok
	return tok, nil
}

// Token resolves a token by symbol.
func (s *System) Token(symbol string) (erc20.Interface, error) {
	switch symbol {
	case s.Legacy.Symbol():
		return s.Legacy, nil
	case s.PSI.Symbol():
		return s.PSI, nil
	case s.WETH.Symbol():
		return s.WETH, nil
	case s.Income.Symbol():
		return s.Income, nil
	}
	if tok, ok := s.extra[symbol]; ok {
		return tok, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownToken, symbol)
}

// Symbols lists every token the system knows, core tokens first.
func (s *System) Symbols() []string {
	out := []string{s.Legacy.Symbol(), s.PSI.Symbol(), s.WETH.Symbol(), s.Income.Symbol()}
	extra := make([]string, 0, len(s.extra))
	for sym := range s.extra {
		extra = append(extra, sym)
	}
	sort.Strings(extra)
	return append(out, extra...)
}

// Labels maps contract addresses to readable names.
func (s *System) Labels() map[common.Address]string {
	labels := map[common.Address]string{
		s.Owner:                "owner",
		s.Governor:             "governor",
		s.Legacy.Address():     s.Legacy.Symbol(),
		s.PSI.Address():        s.PSI.Symbol(),
		s.WETH.Address():       s.WETH.Symbol(),
		s.Desk.Address():       "Desk",
		s.Aggregator.Address(): "FeeAggregator",
		s.Income.Address():     s.Income.Symbol(),
		s.Minter.Address():     "IncomeMinter",
		s.Pair:                 s.PSI.Symbol() + "/WETH",
		ledger.DeadAddress:     "dead",
		(common.Address{}):     "zero",
	}
	for sym, tok := range s.extra {
		labels[tok.Address()] = sym
	}
	return labels
}

// Migrate swaps amount of holder's legacy balance into the ledger, approving
// the ledger first. A nil amount migrates everything.
func (s *System) Migrate(ctx context.Context, holder common.Address, amount *uint256.Int) (*host.Receipt, error) {
	return s.Exec(ctx, holder, func(c *host.Call) error {
		if err := s.Legacy.Approve(c, s.PSI.Address(), erc20.MaxAllowance); err != nil {
			return err
		}
		if amount == nil {
			return s.PSI.SwapAll(c)
		}
		_, err := s.PSI.SwapAmount(c, amount)
		return err
	})
}

// AddLiquidity deposits provider's tokens into the desk pair of tokenA and
// tokenB. Native value is wrapped first when tokenB is WETH and provider's
// WETH balance is short.
func (s *System) AddLiquidity(ctx context.Context, provider, tokenA, tokenB common.Address, amountA, amountB *uint256.Int) (*host.Receipt, error) {
	return s.Exec(ctx, provider, func(c *host.Call) error {
		if tokenB == s.WETH.Address() {
			if have := s.WETH.BalanceOf(provider); have.Lt(amountB) {
				if err := c.SendValue(s.WETH.Address(), new(uint256.Int).Sub(amountB, have)); err != nil {
					return err
				}
			}
		}
		for _, addr := range []common.Address{tokenA, tokenB} {
			tok, err := erc20.Lookup(c.Host(), addr)
			if err != nil {
				return err
			}
			if err := tok.Approve(c, s.Desk.Address(), erc20.MaxAllowance); err != nil {
				return err
			}
		}
		_, _, _, err := s.Desk.AddLiquidity(c, venue.LiquidityRequest{
			TokenA:   tokenA,
			TokenB:   tokenB,
			AmountA:  amountA,
			AmountB:  amountB,
			To:       provider,
			Deadline: c.Now().Add(s.Aggregator.SwapWindow()),
		})
		return err
	})
}

// Trade sells amountIn of tokenIn for tokenOut on the desk at the
// aggregator's slippage tolerance.
func (s *System) Trade(ctx context.Context, trader, tokenIn, tokenOut common.Address, amountIn *uint256.Int) (*uint256.Int, *host.Receipt, error) {
	var out *uint256.Int
	r, err := s.Exec(ctx, trader, func(c *host.Call) error {
		tok, err := erc20.Lookup(c.Host(), tokenIn)
		if err != nil {
			return err
		}
		if err := tok.Approve(c, s.Desk.Address(), amountIn); err != nil {
			return err
		}
		quote, err := s.Desk.AmountOut(tokenIn, tokenOut, amountIn)
		if err != nil {
			return err
		}
		// The ledger's burn and dex fee come off before the pair sees the input.
		tolerance := s.Aggregator.Slippage() + s.PSI.BurnRate() + 10*s.Aggregator.DexFee()
		out, err = s.Desk.Swap(c, venue.SwapRequest{
			TokenIn:   tokenIn,
			TokenOut:  tokenOut,
			AmountIn:  amountIn,
			MinOut:    venue.MinOut(quote, tolerance),
			Recipient: trader,
			Deadline:  c.Now().Add(s.Aggregator.SwapWindow()),
		})
		return err
	})
	return out, r, err
}
