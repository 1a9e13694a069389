package scenario

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/Mohsinsiddi/feeledger/internal/access"
	"github.com/Mohsinsiddi/feeledger/internal/aggregator"
	"github.com/Mohsinsiddi/feeledger/internal/host"
)

type action func(ctx context.Context, e *env, s Step) (*host.Receipt, string, error)

// actions maps step names to their implementation. Every action but check
// runs as one atomic call.
var actions = map[string]action{
	"enable_swap":          enableSwap,
	"migrate":              migrate,
	"transfer":             transfer,
	"approve":              approve,
	"burn":                 burn,
	"trade":                trade,
	"add_liquidity":        addLiquidity,
	"add_token_fee":        addTokenFee,
	"send_native":          sendNative,
	"sweep":                sweep,
	"convert":              convert,
	"release":              release,
	"set_burn_rate":        setBurnRate,
	"set_dex_fee":          setDexFee,
	"set_slippage":         setSlippage,
	"set_dex_pair":         setDexPair,
	"set_governor":         setGovernor,
	"exclude":              exclude,
	"add_fee_token":        addFeeToken,
	"remove_fee_token":     removeFeeToken,
	"add_minting_contract": addMintingContract,
	"mint_income":          mintIncome,
	"payout":               payout,
	"halt_pair":            haltPair,
	"check":                check,
}

// exec runs fn as the step's sender.
func exec(ctx context.Context, e *env, s Step, fn func(c *host.Call) error) (*host.Receipt, string, error) {
	from, err := e.from(s)
	if err != nil {
		return nil, "", err
	}
	r, err := e.sys.Exec(ctx, from, fn)
	return r, "", err
}

func enableSwap(ctx context.Context, e *env, s Step) (*host.Receipt, string, error) {
	return exec(ctx, e, s, e.sys.PSI.EnableSwap)
}

func migrate(ctx context.Context, e *env, s Step) (*host.Receipt, string, error) {
	from, err := e.from(s)
	if err != nil {
		return nil, "", err
	}
	var amt *uint256.Int
	if s.Amount != "" && s.Amount != "all" {
		if amt, err = ParseAmount(s.Amount); err != nil {
			return nil, "", err
		}
	}
	before := e.sys.PSI.BalanceOf(from)
	r, err := e.sys.Migrate(ctx, from, amt)
	if err != nil {
		return r, "", err
	}
	got := new(uint256.Int).Sub(e.sys.PSI.BalanceOf(from), before)
	return r, "minted " + got.Dec(), nil
}

func transfer(ctx context.Context, e *env, s Step) (*host.Receipt, string, error) {
	tok, err := e.token(s.Token)
	if err != nil {
		return nil, "", err
	}
	to, err := e.to(s)
	if err != nil {
		return nil, "", err
	}
	amt, err := amount(s.Amount)
	if err != nil {
		return nil, "", err
	}
	return exec(ctx, e, s, func(c *host.Call) error { return tok.Transfer(c, to, amt) })
}

func approve(ctx context.Context, e *env, s Step) (*host.Receipt, string, error) {
	tok, err := e.token(s.Token)
	if err != nil {
		return nil, "", err
	}
	spender, err := e.to(s)
	if err != nil {
		return nil, "", err
	}
	amt, err := amount(s.Amount)
	if err != nil {
		return nil, "", err
	}
	return exec(ctx, e, s, func(c *host.Call) error { return tok.Approve(c, spender, amt) })
}

func burn(ctx context.Context, e *env, s Step) (*host.Receipt, string, error) {
	amt, err := amount(s.Amount)
	if err != nil {
		return nil, "", err
	}
	switch s.Token {
	case "", e.sys.PSI.Symbol():
		return exec(ctx, e, s, func(c *host.Call) error { return e.sys.PSI.Burn(c, amt) })
	case e.sys.Income.Symbol():
		return exec(ctx, e, s, func(c *host.Call) error { return e.sys.Income.Burn(c, amt) })
	}
	return nil, "", fmt.Errorf("%w: %s cannot be burned", ErrInvalidScenario, s.Token)
}

func trade(ctx context.Context, e *env, s Step) (*host.Receipt, string, error) {
	from, err := e.from(s)
	if err != nil {
		return nil, "", err
	}
	in, err := e.token(s.Token)
	if err != nil {
		return nil, "", err
	}
	out, err := e.token(s.TokenB)
	if err != nil {
		return nil, "", err
	}
	amt, err := amount(s.Amount)
	if err != nil {
		return nil, "", err
	}
	got, r, err := e.sys.Trade(ctx, from, in.Address(), out.Address(), amt)
	if err != nil {
		return r, "", err
	}
	return r, fmt.Sprintf("received %s %s", got.Dec(), out.Symbol()), nil
}

func addLiquidity(ctx context.Context, e *env, s Step) (*host.Receipt, string, error) {
	from, err := e.from(s)
	if err != nil {
		return nil, "", err
	}
	a, err := e.token(s.Token)
	if err != nil {
		return nil, "", err
	}
	b, err := e.token(s.TokenB)
	if err != nil {
		return nil, "", err
	}
	amtA, err := amount(s.Amount)
	if err != nil {
		return nil, "", err
	}
	amtB, err := amount(s.AmountB)
	if err != nil {
		return nil, "", err
	}
	r, err := e.sys.AddLiquidity(ctx, from, a.Address(), b.Address(), amtA, amtB)
	return r, "", err
}

func addTokenFee(ctx context.Context, e *env, s Step) (*host.Receipt, string, error) {
	tok, err := e.token(s.Token)
	if err != nil {
		return nil, "", err
	}
	amt, err := amount(s.Amount)
	if err != nil {
		return nil, "", err
	}
	agg := e.sys.Aggregator
	return exec(ctx, e, s, func(c *host.Call) error {
		if err := tok.Approve(c, agg.Address(), amt); err != nil {
			return err
		}
		return agg.AddTokenFee(c, tok.Address(), amt)
	})
}

func sendNative(ctx context.Context, e *env, s Step) (*host.Receipt, string, error) {
	to, err := e.to(s)
	if err != nil {
		return nil, "", err
	}
	amt, err := amount(s.Amount)
	if err != nil {
		return nil, "", err
	}
	return exec(ctx, e, s, func(c *host.Call) error { return c.SendValue(to, amt) })
}

func sweep(ctx context.Context, e *env, s Step) (*host.Receipt, string, error) {
	var report aggregator.SweepReport
	r, _, err := exec(ctx, e, s, func(c *host.Call) error {
		var err error
		report, err = e.sys.Aggregator.Sweep(c)
		return err
	})
	if err != nil {
		return r, "", err
	}
	labels := e.sys.Labels()
	failed := make([]string, 0, len(report.Failed))
	for _, f := range report.Failed {
		failed = append(failed, labels[f.Token])
	}
	note := fmt.Sprintf("converted %d, base received %s", len(report.Converted), report.BaseReceived().Dec())
	if len(failed) > 0 {
		note += ", failed " + strings.Join(failed, ",")
	}
	return r, note, nil
}

func convert(ctx context.Context, e *env, s Step) (*host.Receipt, string, error) {
	tok, err := e.token(s.Token)
	if err != nil {
		return nil, "", err
	}
	var out *uint256.Int
	r, _, err := exec(ctx, e, s, func(c *host.Call) error {
		var err error
		out, err = e.sys.Aggregator.ConvertToken(c, tok.Address())
		return err
	})
	if err != nil {
		return r, "", err
	}
	return r, "base received " + out.Dec(), nil
}

func release(ctx context.Context, e *env, s Step) (*host.Receipt, string, error) {
	tok, err := e.token(s.Token)
	if err != nil {
		return nil, "", err
	}
	to, err := e.to(s)
	if err != nil {
		return nil, "", err
	}
	amt, err := amount(s.Amount)
	if err != nil {
		return nil, "", err
	}
	return exec(ctx, e, s, func(c *host.Call) error {
		return e.sys.Aggregator.Release(c, tok.Address(), to, amt)
	})
}

func setBurnRate(ctx context.Context, e *env, s Step) (*host.Receipt, string, error) {
	bps, err := value(s)
	if err != nil {
		return nil, "", err
	}
	switch s.Token {
	case "", e.sys.PSI.Symbol():
		return exec(ctx, e, s, func(c *host.Call) error { return e.sys.PSI.ChangeBurnRate(c, bps) })
	case e.sys.Income.Symbol():
		return exec(ctx, e, s, func(c *host.Call) error { return e.sys.Income.ChangeBurnRate(c, bps) })
	}
	return nil, "", fmt.Errorf("%w: %s has no burn rate", ErrInvalidScenario, s.Token)
}

func setDexFee(ctx context.Context, e *env, s Step) (*host.Receipt, string, error) {
	fee, err := value(s)
	if err != nil {
		return nil, "", err
	}
	return exec(ctx, e, s, func(c *host.Call) error { return e.sys.Aggregator.SetDexFee(c, fee) })
}

func setSlippage(ctx context.Context, e *env, s Step) (*host.Receipt, string, error) {
	bps, err := value(s)
	if err != nil {
		return nil, "", err
	}
	return exec(ctx, e, s, func(c *host.Call) error { return e.sys.Aggregator.SetSlippage(c, bps) })
}

func setDexPair(ctx context.Context, e *env, s Step) (*host.Receipt, string, error) {
	pair, err := e.to(s)
	if err != nil {
		return nil, "", err
	}
	return exec(ctx, e, s, func(c *host.Call) error { return e.sys.PSI.SetDexPair(c, pair, flag(s)) })
}

// setGovernor targets the ledger by default; token may name INC or
// "aggregator".
func setGovernor(ctx context.Context, e *env, s Step) (*host.Receipt, string, error) {
	next, err := e.to(s)
	if err != nil {
		return nil, "", err
	}
	var fn func(c *host.Call) error
	switch strings.ToLower(s.Token) {
	case "", strings.ToLower(e.sys.PSI.Symbol()):
		fn = func(c *host.Call) error { return e.sys.PSI.SetGovernor(c, next) }
	case strings.ToLower(e.sys.Income.Symbol()):
		fn = func(c *host.Call) error { return e.sys.Income.SetGovernor(c, next) }
	case "aggregator":
		fn = func(c *host.Call) error { return e.sys.Aggregator.SetGovernor(c, next) }
	default:
		return nil, "", fmt.Errorf("%w: %s has no governor", ErrInvalidScenario, s.Token)
	}
	return exec(ctx, e, s, fn)
}

func exclude(ctx context.Context, e *env, s Step) (*host.Receipt, string, error) {
	addr, err := e.to(s)
	if err != nil {
		return nil, "", err
	}
	set, err := exclusionSet(s.Set)
	if err != nil {
		return nil, "", err
	}
	on := flag(s)
	if s.Token == e.sys.Income.Symbol() {
		if set != access.BurnExempt {
			return nil, "", fmt.Errorf("%w: %s only has a burn exclusion", ErrInvalidScenario, s.Token)
		}
		return exec(ctx, e, s, func(c *host.Call) error {
			return e.sys.Income.SetAddressExcludedFromBurnRate(c, addr, on)
		})
	}
	psi := e.sys.PSI
	return exec(ctx, e, s, func(c *host.Call) error {
		switch set {
		case access.BurnExempt:
			return psi.SetExcludedFromBurn(c, addr, on)
		case access.FeeExempt:
			return psi.SetExcludedFromFees(c, addr, on)
		default:
			return psi.SetExcludedFromDexFee(c, addr, on)
		}
	})
}

func addFeeToken(ctx context.Context, e *env, s Step) (*host.Receipt, string, error) {
	tok, err := e.token(s.Token)
	if err != nil {
		return nil, "", err
	}
	return exec(ctx, e, s, func(c *host.Call) error { return e.sys.Aggregator.AddFeeToken(c, tok.Address()) })
}

func removeFeeToken(ctx context.Context, e *env, s Step) (*host.Receipt, string, error) {
	tok, err := e.token(s.Token)
	if err != nil {
		return nil, "", err
	}
	return exec(ctx, e, s, func(c *host.Call) error { return e.sys.Aggregator.RemoveFeeToken(c, tok.Address()) })
}

func addMintingContract(ctx context.Context, e *env, s Step) (*host.Receipt, string, error) {
	minter, err := e.to(s)
	if err != nil {
		return nil, "", err
	}
	return exec(ctx, e, s, func(c *host.Call) error { return e.sys.Income.AddMintingContract(c, minter) })
}

func mintIncome(ctx context.Context, e *env, s Step) (*host.Receipt, string, error) {
	amt, err := amount(s.Amount)
	if err != nil {
		return nil, "", err
	}
	return exec(ctx, e, s, func(c *host.Call) error { return e.sys.Minter.MintIncome(c, amt) })
}

func payout(ctx context.Context, e *env, s Step) (*host.Receipt, string, error) {
	to, err := e.to(s)
	if err != nil {
		return nil, "", err
	}
	amt, err := amount(s.Amount)
	if err != nil {
		return nil, "", err
	}
	return exec(ctx, e, s, func(c *host.Call) error { return e.sys.Minter.Payout(c, to, amt) })
}

func haltPair(ctx context.Context, e *env, s Step) (*host.Receipt, string, error) {
	a, err := e.token(s.Token)
	if err != nil {
		return nil, "", err
	}
	b, err := e.token(s.TokenB)
	if err != nil {
		return nil, "", err
	}
	return exec(ctx, e, s, func(c *host.Call) error {
		return e.sys.Desk.SetHalted(c, a.Address(), b.Address(), flag(s))
	})
}

// check compares state without executing a call.
func check(_ context.Context, e *env, s Step) (*host.Receipt, string, error) {
	tok, err := e.token(s.Token)
	if err != nil {
		return nil, "", err
	}
	var mismatches []string
	compare := func(what, want string, got *uint256.Int) error {
		if want == "" {
			return nil
		}
		w, err := ParseAmount(want)
		if err != nil {
			return err
		}
		if !w.Eq(got) {
			mismatches = append(mismatches, fmt.Sprintf("%s: want %s, got %s", what, w.Dec(), got.Dec()))
		}
		return nil
	}

	var holder common.Address
	if s.Check.Balance != "" || s.Check.Native != "" {
		if holder, err = e.to(s); err != nil {
			return nil, "", err
		}
	}
	if err := compare(tok.Symbol()+" balance", s.Check.Balance, tok.BalanceOf(holder)); err != nil {
		return nil, "", err
	}
	if err := compare("native balance", s.Check.Native, e.sys.Host.NativeBalance(holder)); err != nil {
		return nil, "", err
	}
	if err := compare("gathered "+tok.Symbol(), s.Check.Gathered, e.sys.Aggregator.TokensGathered(tok.Address())); err != nil {
		return nil, "", err
	}
	if err := compare(tok.Symbol()+" total supply", s.Check.TotalSupply, tok.TotalSupply()); err != nil {
		return nil, "", err
	}
	if s.Check.TotalBurned != "" {
		burned, ok := tok.(interface{ TotalBurned() *uint256.Int })
		if !ok {
			return nil, "", fmt.Errorf("%w: %s does not track burns", ErrInvalidScenario, tok.Symbol())
		}
		if err := compare(tok.Symbol()+" total burned", s.Check.TotalBurned, burned.TotalBurned()); err != nil {
			return nil, "", err
		}
	}
	if len(mismatches) > 0 {
		return nil, "", fmt.Errorf("%w: %s", ErrCheckFailed, strings.Join(mismatches, "; "))
	}
	return nil, "ok", nil
}
