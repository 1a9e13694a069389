package deploy

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mohsinsiddi/feeledger/internal/access"
	"github.com/Mohsinsiddi/feeledger/internal/erc20"
	"github.com/Mohsinsiddi/feeledger/internal/host"
	"github.com/Mohsinsiddi/feeledger/internal/ledger"
	"github.com/Mohsinsiddi/feeledger/internal/revert"
	"github.com/Mohsinsiddi/feeledger/internal/venue"
)

var (
	clock = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	alice = host.AccountFor("alice")
	bob   = host.AccountFor("bob")
	carol = host.AccountFor("carol")
)

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

func newSystem(t *testing.T, mod func(cfg *Config)) *System {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Clock = func() time.Time { return clock }
	if mod != nil {
		mod(&cfg)
	}
	s, err := New(context.Background(), cfg)
	require.NoError(t, err)
	return s
}

// live migrates the owner's legacy balance and seeds the default pair with
// 1,000 PSI : 2 WETH.
func live(t *testing.T) *System {
	t.Helper()
	s := newSystem(t, nil)
	ctx := context.Background()
	_, err := s.Migrate(ctx, s.Owner, nil)
	require.NoError(t, err)
	_, err = s.AddLiquidity(ctx, s.Owner, s.PSI.Address(), s.WETH.Address(), Units(1000, 9), Units(2, 18))
	require.NoError(t, err)
	return s
}

func (s *System) give(t *testing.T, to common.Address, amount *uint256.Int) {
	t.Helper()
	_, err := s.Exec(context.Background(), s.Owner, func(c *host.Call) error { return s.PSI.Transfer(c, to, amount) })
	require.NoError(t, err)
}

func TestNewWiresSystem(t *testing.T) {
	s := newSystem(t, nil)

	assert.Equal(t, s.Aggregator.Address(), s.PSI.FeeAggregator())
	assert.Equal(t, []common.Address{s.WETH.Address(), s.PSI.Address()}, s.Aggregator.FeeTokens())
	assert.Equal(t, s.WETH.Address(), s.Aggregator.BaseToken())
	assert.Equal(t, s.PSI.Address(), s.Aggregator.Ledger())
	assert.Equal(t, uint64(1), s.Aggregator.DexFee())
	assert.True(t, s.PSI.IsDexPair(s.Pair))
	pair, ok := s.Desk.GetPair(s.WETH.Address(), s.PSI.Address())
	assert.True(t, ok)
	assert.Equal(t, s.Pair, pair)

	for _, addr := range []common.Address{s.Aggregator.Address(), s.Desk.Address()} {
		for _, set := range []access.Set{access.BurnExempt, access.FeeExempt, access.DexFeeExempt} {
			assert.True(t, s.PSI.Roles().IsExcluded(set, addr), "%s in %s", addr.Hex(), set)
		}
	}
	assert.True(t, s.Income.IsMintingContract(s.Minter.Address()))
	assert.Equal(t, s.Governor, s.PSI.Roles().Governor())
	assert.Equal(t, s.Governor, s.Aggregator.Roles().Governor())

	assert.False(t, s.PSI.SwapEnabled())
	assert.True(t, s.PSI.TotalSupply().IsZero())
	assert.True(t, s.Legacy.BalanceOf(s.Owner).Eq(Units(18183, 9)))
	assert.Equal(t, "PSIv1", s.Legacy.Symbol())
}

func TestTokenLookup(t *testing.T) {
	s := newSystem(t, nil)
	ctx := context.Background()

	for _, sym := range []string{"PSI", "PSIv1", "WETH", "INC"} {
		tok, err := s.Token(sym)
		require.NoError(t, err, sym)
		assert.Equal(t, sym, tok.Symbol())
	}
	_, err := s.Token("DOGE")
	assert.ErrorIs(t, err, ErrUnknownToken)

	tok, err := s.DeployToken(ctx, erc20.Config{Symbol: "DOGE", Decimals: 8, Genesis: u(1000)}, true)
	require.NoError(t, err)
	assert.True(t, s.Aggregator.IsFeeToken(tok.Address()))
	assert.Equal(t, []string{"PSIv1", "PSI", "WETH", "INC", "DOGE"}, s.Symbols())
	assert.Equal(t, "DOGE", s.Labels()[tok.Address()])

	_, err = s.DeployToken(ctx, erc20.Config{Symbol: "DOGE"}, false)
	assert.Error(t, err)
	_, err = s.DeployToken(ctx, erc20.Config{Symbol: "PSI"}, false)
	assert.Error(t, err)
}

func TestMigrationReachesMaxSupply(t *testing.T) {
	s := newSystem(t, nil)
	ctx := context.Background()
	_, err := s.Exec(ctx, s.Owner, func(c *host.Call) error {
		for _, holder := range []common.Address{alice, bob, carol} {
			if err := s.Legacy.Transfer(c, holder, Units(10, 9)); err != nil {
				return err
			}
		}
		return s.PSI.EnableSwap(c)
	})
	require.NoError(t, err)

	for _, holder := range []common.Address{alice, bob, carol} {
		_, err := s.Migrate(ctx, holder, nil)
		require.NoError(t, err)
		assert.True(t, s.PSI.BalanceOf(holder).Eq(Units(10, 9)))
		assert.False(t, s.PSI.TotalSupply().Gt(s.PSI.MaxSupply()))
	}
	_, err = s.Migrate(ctx, s.Owner, nil)
	require.NoError(t, err)
	assert.True(t, s.PSI.TotalSupply().Eq(s.PSI.MaxSupply()))
	assert.True(t, s.Legacy.BalanceOf(ledger.DeadAddress).Eq(s.PSI.MaxSupply()))
}

func TestMigrationCapClamp(t *testing.T) {
	s := newSystem(t, func(cfg *Config) {
		cfg.LegacySupply = Units(20000, 9)
		cfg.Cap = ledger.CapClamp
	})
	_, err := s.Migrate(context.Background(), s.Owner, nil)
	require.NoError(t, err)
	assert.True(t, s.PSI.TotalSupply().Eq(s.PSI.MaxSupply()))
	assert.True(t, s.Legacy.BalanceOf(s.Owner).Eq(Units(20000-18183, 9)))
}

func TestSellRoutesFeeToAggregator(t *testing.T) {
	s := live(t)
	s.give(t, alice, u(100_000))
	burnedBefore := s.PSI.TotalBurned()

	out, _, err := s.Trade(context.Background(), alice, s.PSI.Address(), s.WETH.Address(), u(100_000))
	require.NoError(t, err)

	// 1% burn and 1 per mille to the aggregator; the pair prices the rest.
	assert.Equal(t, uint64(1000), new(uint256.Int).Sub(s.PSI.TotalBurned(), burnedBefore).Uint64())
	assert.Equal(t, uint64(100), s.Aggregator.TokensGathered(s.PSI.Address()).Uint64())
	assert.Equal(t, uint64(100), s.PSI.BalanceOf(s.Aggregator.Address()).Uint64())
	assert.Equal(t, uint64(98_900*2_000_000), out.Uint64())
	assert.True(t, s.WETH.BalanceOf(alice).Eq(out))
	assert.True(t, s.PSI.SumOfBalances().Eq(s.PSI.TotalSupply()))
}

func TestBuyFromExemptRecipientPaysBurnOnly(t *testing.T) {
	s := live(t)
	ctx := context.Background()
	_, err := s.Exec(ctx, s.Owner, func(c *host.Call) error {
		if err := s.PSI.SetExcludedFromDexFee(c, bob, true); err != nil {
			return err
		}
		return c.SendValue(bob, Units(1, 18))
	})
	require.NoError(t, err)
	_, err = s.Exec(ctx, bob, func(c *host.Call) error { return c.SendValue(s.WETH.Address(), Units(1, 16)) })
	require.NoError(t, err)

	_, _, err = s.Trade(ctx, bob, s.WETH.Address(), s.PSI.Address(), Units(1, 16))
	require.NoError(t, err)
	assert.True(t, s.Aggregator.TokensGathered(s.PSI.Address()).IsZero())
	// 5 PSI leave the pair; bob receives 99% of it.
	assert.True(t, s.PSI.BalanceOf(bob).Eq(u(4_950_000_000)))
}

func TestSweepConvertsAndIsolatesFailures(t *testing.T) {
	s := live(t)
	ctx := context.Background()
	s.give(t, alice, u(100_000))
	_, _, err := s.Trade(ctx, alice, s.PSI.Address(), s.WETH.Address(), u(100_000))
	require.NoError(t, err)

	// A fee token the desk has no pair for.
	lonely, err := s.DeployToken(ctx, erc20.Config{Symbol: "LONE", Decimals: 18, Genesis: u(10_000)}, true)
	require.NoError(t, err)
	_, err = s.Exec(ctx, s.Owner, func(c *host.Call) error {
		if err := lonely.Approve(c, s.Aggregator.Address(), u(500)); err != nil {
			return err
		}
		return s.Aggregator.AddTokenFee(c, lonely.Address(), u(500))
	})
	require.NoError(t, err)

	wethBefore := s.Aggregator.TokensGathered(s.WETH.Address())
	r, err := s.Exec(ctx, s.Governor, func(c *host.Call) error {
		report, err := s.Aggregator.Sweep(c)
		if err != nil {
			return err
		}
		require.Len(t, report.Converted, 1)
		require.Len(t, report.Failed, 1)
		assert.Equal(t, s.PSI.Address(), report.Converted[0].Token)
		assert.Equal(t, lonely.Address(), report.Failed[0].Token)
		assert.ErrorIs(t, report.Failed[0].Err, venue.ErrNoPair)
		assert.ErrorIs(t, report.Failed[0].Err, revert.ErrVenueFailure)
		return nil
	})
	require.NoError(t, err)
	require.True(t, r.Succeeded())

	assert.True(t, s.Aggregator.TokensGathered(s.PSI.Address()).IsZero())
	assert.Equal(t, uint64(500), s.Aggregator.TokensGathered(lonely.Address()).Uint64())
	gained := new(uint256.Int).Sub(s.Aggregator.TokensGathered(s.WETH.Address()), wethBefore)
	assert.False(t, gained.IsZero())
	assert.True(t, s.WETH.BalanceOf(s.Aggregator.Address()).Eq(s.Aggregator.TokensGathered(s.WETH.Address())))
}

func TestSupplyConservation(t *testing.T) {
	s := live(t)
	ctx := context.Background()
	holders := []common.Address{alice, bob, carol, s.Pair}
	for _, h := range holders[:3] {
		s.give(t, h, Units(100, 9))
	}
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 200; i++ {
		from := holders[rng.Intn(3)]
		to := holders[rng.Intn(len(holders))]
		bal := s.PSI.BalanceOf(from)
		if bal.IsZero() || from == to {
			continue
		}
		amount := new(uint256.Int).Mod(uint256.NewInt(rng.Uint64()), bal)
		amount.AddUint64(amount, 1)

		supply := s.PSI.TotalSupply()
		split, err := s.PSI.Quote(from, to, amount)
		require.NoError(t, err)
		_, err = s.Exec(ctx, from, func(c *host.Call) error { return s.PSI.Transfer(c, to, amount) })
		require.NoError(t, err)

		assert.True(t, s.PSI.TotalSupply().Eq(new(uint256.Int).Sub(supply, split.Burn)), "step %d", i)
		assert.True(t, split.Net.Eq(new(uint256.Int).Sub(amount, new(uint256.Int).Add(split.Burn, split.Fee))))
	}

	assert.True(t, s.PSI.SumOfBalances().Eq(s.PSI.TotalSupply()))
	assert.True(t, s.PSI.TotalSupply().Eq(new(uint256.Int).Sub(s.PSI.Migrated(), s.PSI.TotalBurned())))
	assert.True(t, s.PSI.BalanceOf(s.Aggregator.Address()).Eq(s.Aggregator.TokensGathered(s.PSI.Address())))
}

func TestFailedTransferRollsBackFee(t *testing.T) {
	s := live(t)
	ctx := context.Background()
	s.give(t, alice, u(10_000))

	// A sell whose follow-up step fails leaves nothing behind.
	_, err := s.Exec(ctx, alice, func(c *host.Call) error {
		if err := s.PSI.Transfer(c, s.Pair, u(1000)); err != nil {
			return err
		}
		return revert.New(revert.ErrInvalidState, "abort")
	})
	require.Error(t, err)
	assert.True(t, s.Aggregator.TokensGathered(s.PSI.Address()).IsZero())
	assert.Equal(t, uint64(10_000), s.PSI.BalanceOf(alice).Uint64())
}

func TestIncomeMinter(t *testing.T) {
	s := newSystem(t, nil)
	ctx := context.Background()
	supply := s.Income.TotalSupply()

	_, err := s.Exec(ctx, s.Owner, func(c *host.Call) error {
		if err := s.Minter.MintIncome(c, u(500)); err != nil {
			return err
		}
		return s.Minter.Payout(c, alice, u(100))
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(99), s.Income.BalanceOf(alice).Uint64())
	assert.Equal(t, uint64(1), s.Income.TotalBurned().Uint64())
	assert.True(t, s.Income.TotalSupply().Eq(new(uint256.Int).Add(supply, u(499))))

	_, err = s.Exec(ctx, alice, func(c *host.Call) error { return s.Minter.MintIncome(c, u(1)) })
	assert.ErrorIs(t, err, access.ErrNotOwner)
}

func TestUnits(t *testing.T) {
	assert.Equal(t, uint64(5_000_000_000), Units(5, 9).Uint64())
	assert.Equal(t, "1000000000000000000", Units(1, 18).Dec())
	assert.Equal(t, uint64(7), Units(7, 0).Uint64())
}
