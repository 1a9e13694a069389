package ledger

import (
	"context"
	"math/rand"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mohsinsiddi/feeledger/internal/access"
	"github.com/Mohsinsiddi/feeledger/internal/erc20"
	"github.com/Mohsinsiddi/feeledger/internal/events"
	"github.com/Mohsinsiddi/feeledger/internal/host"
	"github.com/Mohsinsiddi/feeledger/internal/revert"
)

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

var (
	owner    = host.AccountFor("owner")
	governor = host.AccountFor("governor")
	user1    = host.AccountFor("user1")
	user2    = host.AccountFor("user2")
	user3    = host.AccountFor("user3")
	pair     = host.AccountFor("pair")
)

// e9 expands a whole-token amount to 9 decimals.
func e9(n uint64) *uint256.Int { return new(uint256.Int).Mul(uint256.NewInt(n), uint256.NewInt(1e9)) }

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

var maxSupply = e9(18183)

// sink records gathered fees. When reenter is set it calls back into the
// ledger from GatherFee.
type sink struct {
	addr     common.Address
	feeToken bool
	rate     uint64
	gathered *uint256.Int
	reenter  func(c *host.Call) error
}

func (s *sink) Address() common.Address        { return s.addr }
func (s *sink) IsFeeToken(common.Address) bool { return s.feeToken }
func (s *sink) DexFee() uint64                 { return s.rate }
func (s *sink) GatherFee(c *host.Call, token common.Address, amount *uint256.Int) error {
	if c.Caller() != token {
		return revert.New(revert.ErrUnauthorized, "sink: caller is not the token")
	}
	if s.reenter != nil {
		if err := s.reenter(c); err != nil {
			return err
		}
	}
	s.gathered.Add(s.gathered, amount)
	return nil
}
func (s *sink) Snapshot() any { return s.gathered.Clone() }
func (s *sink) Restore(v any) { s.gathered = v.(*uint256.Int) }

type fixture struct {
	h      *host.Host
	legacy *erc20.Token
	psi    *Token
	sink   *sink
}

func (f fixture) exec(caller common.Address, fn func(c *host.Call) error) error {
	_, err := f.h.Execute(context.Background(), caller, fn)
	return err
}

func setup(t *testing.T, legacySupply *uint256.Int, mod func(cfg *Config)) fixture {
	t.Helper()
	ctx := context.Background()
	h := host.New()
	legacy, err := host.Deploy(ctx, h, owner, erc20.Deploy(erc20.Config{
		Name: "Passive Income", Symbol: "PSIv1", Decimals: 9, Genesis: legacySupply,
	}))
	require.NoError(t, err)

	cfg := Config{
		Name: "Passive Income", Symbol: "PSI", Decimals: 9,
		MaxSupply: maxSupply, Legacy: legacy.Address(), Governor: governor,
	}
	if mod != nil {
		mod(&cfg)
	}
	psi, err := host.Deploy(ctx, h, owner, Deploy(cfg))
	require.NoError(t, err)

	s, err := host.Deploy(ctx, h, owner, func(c *host.Call, addr common.Address) (*sink, error) {
		return &sink{addr: addr, feeToken: true, rate: 1, gathered: new(uint256.Int)}, nil
	})
	require.NoError(t, err)

	f := fixture{h: h, legacy: legacy, psi: psi, sink: s}
	require.NoError(t, f.exec(owner, func(c *host.Call) error {
		if err := psi.SetFeeAggregator(c, s.Address()); err != nil {
			return err
		}
		return psi.SetExcludedFromFees(c, s.Address(), true)
	}))
	return f
}

// migrateAll opens the swap and migrates the owner's whole legacy balance.
func (f fixture) migrateAll(t *testing.T) {
	t.Helper()
	require.NoError(t, f.exec(owner, f.psi.EnableSwap))
	f.ownerSwapAll(t)
}

func (f fixture) ownerSwapAll(t *testing.T) {
	t.Helper()
	require.NoError(t, f.exec(owner, func(c *host.Call) error {
		if err := f.legacy.Approve(c, f.psi.Address(), erc20.MaxAllowance); err != nil {
			return err
		}
		return f.psi.SwapAll(c)
	}))
}

func (f fixture) give(t *testing.T, to common.Address, amount *uint256.Int) {
	t.Helper()
	require.NoError(t, f.exec(owner, func(c *host.Call) error { return f.psi.Transfer(c, to, amount) }))
}

// ---------------------------------------------------------------------------
// deployment and migration
// ---------------------------------------------------------------------------

func TestDeployedState(t *testing.T) {
	f := setup(t, maxSupply, nil)
	assert.False(t, f.psi.SwapEnabled())
	assert.Equal(t, Locked, f.psi.MigrationState())
	assert.True(t, f.psi.TotalSupply().IsZero())
	assert.Equal(t, uint64(DefaultBurnBps), f.psi.BurnRate())
	assert.Equal(t, f.sink.Address(), f.psi.FeeAggregator())
	assert.True(t, f.psi.Roles().IsExcluded(access.BurnExempt, owner))
}

func TestSwap(t *testing.T) {
	t.Run("fails without tokens", func(t *testing.T) {
		f := setup(t, maxSupply, nil)
		err := f.exec(user1, f.psi.SwapAll)
		assert.ErrorIs(t, err, ErrNothingToSwap)
		assert.Equal(t, "PSI: NOTHING_TO_SWAP", revert.Reason(err))
	})

	t.Run("fails for user when disabled", func(t *testing.T) {
		f := setup(t, maxSupply, nil)
		require.NoError(t, f.exec(owner, func(c *host.Call) error { return f.legacy.Transfer(c, user1, e9(10)) }))
		err := f.exec(user1, f.psi.SwapAll)
		assert.ErrorIs(t, err, ErrSwapDisabled)
	})

	t.Run("succeeds for owner when disabled", func(t *testing.T) {
		f := setup(t, maxSupply, nil)
		require.NoError(t, f.exec(owner, func(c *host.Call) error {
			if err := f.legacy.Approve(c, f.psi.Address(), e9(10)); err != nil {
				return err
			}
			_, err := f.psi.SwapAmount(c, e9(10))
			return err
		}))
		assert.True(t, f.psi.TotalSupply().Eq(e9(10)))
		assert.True(t, f.psi.BalanceOf(owner).Eq(e9(10)))
		assert.True(t, f.legacy.BalanceOf(DeadAddress).Eq(e9(10)))
	})

	t.Run("succeeds for users when enabled", func(t *testing.T) {
		f := setup(t, maxSupply, nil)
		require.NoError(t, f.exec(owner, func(c *host.Call) error {
			if err := f.legacy.Transfer(c, user1, e9(10)); err != nil {
				return err
			}
			if err := f.legacy.Transfer(c, user2, e9(10)); err != nil {
				return err
			}
			return f.psi.EnableSwap(c)
		}))
		for _, user := range []common.Address{user1, user2} {
			require.NoError(t, f.exec(user, func(c *host.Call) error {
				if err := f.legacy.Approve(c, f.psi.Address(), e9(10)); err != nil {
					return err
				}
				_, err := f.psi.SwapAmount(c, e9(10))
				return err
			}))
			assert.True(t, f.psi.BalanceOf(user).Eq(e9(10)))
		}
		assert.True(t, f.psi.TotalSupply().Eq(e9(20)))
		assert.True(t, f.legacy.BalanceOf(DeadAddress).Eq(e9(20)))
	})

	t.Run("requires allowance", func(t *testing.T) {
		f := setup(t, maxSupply, nil)
		err := f.exec(owner, func(c *host.Call) error {
			_, err := f.psi.SwapAmount(c, e9(10))
			return err
		})
		assert.ErrorIs(t, err, erc20.ErrExceedsAllowance)
		assert.True(t, f.psi.TotalSupply().IsZero())
	})

	t.Run("enable is owner only and one way", func(t *testing.T) {
		f := setup(t, maxSupply, nil)
		assert.ErrorIs(t, f.exec(user1, f.psi.EnableSwap), access.ErrNotOwner)
		require.NoError(t, f.exec(owner, f.psi.EnableSwap))
		assert.ErrorIs(t, f.exec(owner, f.psi.EnableSwap), ErrSwapAlreadyOpen)
	})
}

func TestMigrationReachesMaxSupply(t *testing.T) {
	f := setup(t, maxSupply, nil)
	require.NoError(t, f.exec(owner, f.psi.EnableSwap))
	for _, user := range []common.Address{user1, user2, user3} {
		require.NoError(t, f.exec(owner, func(c *host.Call) error { return f.legacy.Transfer(c, user, e9(10)) }))
		require.NoError(t, f.exec(user, func(c *host.Call) error {
			if err := f.legacy.Approve(c, f.psi.Address(), e9(10)); err != nil {
				return err
			}
			return f.psi.SwapAll(c)
		}))
	}
	f.ownerSwapAll(t)

	assert.True(t, f.psi.TotalSupply().Eq(maxSupply))
	assert.True(t, f.psi.Migrated().Eq(maxSupply))
	assert.True(t, f.psi.Remaining().IsZero())
	assert.True(t, f.psi.BalanceOf(owner).Eq(new(uint256.Int).Sub(maxSupply, e9(30))))
	assert.True(t, f.legacy.BalanceOf(DeadAddress).Eq(maxSupply))
}

func TestMigrationCapPolicies(t *testing.T) {
	over := new(uint256.Int).Add(maxSupply, e9(5))

	t.Run("reject", func(t *testing.T) {
		f := setup(t, over, nil)
		err := f.exec(owner, func(c *host.Call) error {
			if err := f.legacy.Approve(c, f.psi.Address(), erc20.MaxAllowance); err != nil {
				return err
			}
			return f.psi.SwapAll(c)
		})
		assert.ErrorIs(t, err, revert.ErrSupplyCapExceeded)
		assert.True(t, f.psi.TotalSupply().IsZero())
		assert.True(t, f.legacy.BalanceOf(owner).Eq(over))
	})

	t.Run("clamp", func(t *testing.T) {
		f := setup(t, over, func(cfg *Config) { cfg.Cap = CapClamp })
		f.migrateAll(t)
		assert.True(t, f.psi.TotalSupply().Eq(maxSupply))
		assert.True(t, f.legacy.BalanceOf(owner).Eq(e9(5)))
		assert.True(t, f.legacy.BalanceOf(DeadAddress).Eq(maxSupply))

		// Nothing is left to credit.
		err := f.exec(owner, f.psi.SwapAll)
		assert.ErrorIs(t, err, ErrSupplyCap)
	})
}

func TestMigrationDecimalScaling(t *testing.T) {
	t.Run("ledger has more decimals", func(t *testing.T) {
		f := setup(t, e9(100), func(cfg *Config) {
			cfg.Decimals = 18
			cfg.MaxSupply = new(uint256.Int).Mul(e9(100), u(1e9))
		})
		f.migrateAll(t)
		assert.True(t, f.psi.BalanceOf(owner).Eq(new(uint256.Int).Mul(e9(100), u(1e9))))
	})

	t.Run("ledger has fewer decimals keeps dust", func(t *testing.T) {
		f := setup(t, u(12_345), func(cfg *Config) {
			cfg.Decimals = 6
			cfg.MaxSupply = u(1000)
		})
		f.migrateAll(t)
		assert.Equal(t, uint64(12), f.psi.BalanceOf(owner).Uint64())
		assert.Equal(t, uint64(345), f.legacy.BalanceOf(owner).Uint64())
		assert.Equal(t, uint64(12_000), f.legacy.BalanceOf(DeadAddress).Uint64())

		// The remaining dust converts to nothing.
		assert.ErrorIs(t, f.exec(owner, f.psi.SwapAll), ErrNothingToSwap)
	})
}

// ---------------------------------------------------------------------------
// transfers
// ---------------------------------------------------------------------------

func TestTransferBurn(t *testing.T) {
	f := setup(t, maxSupply, nil)
	f.migrateAll(t)
	f.give(t, user1, u(1000))
	before := f.psi.TotalSupply()

	r, err := f.h.Execute(context.Background(), user1, func(c *host.Call) error {
		return f.psi.Transfer(c, user2, u(1000))
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(990), f.psi.BalanceOf(user2).Uint64())
	assert.True(t, f.psi.BalanceOf(user1).IsZero())
	assert.Equal(t, uint64(10), f.psi.TotalBurned().Uint64())
	assert.True(t, f.psi.TotalSupply().Eq(new(uint256.Int).Sub(before, u(10))))

	var names []string
	for _, l := range r.Logs {
		d, ok := events.Decode(l)
		require.True(t, ok)
		names = append(names, d.Event.Name)
	}
	assert.Equal(t, []string{"Burn", "Transfer"}, names)
	d, _ := events.Decode(r.Logs[1])
	assert.Equal(t, uint64(990), d.Words[0].Uint64())

	// Truncation: 1 unit at 1% burns nothing.
	require.NoError(t, f.exec(user2, func(c *host.Call) error { return f.psi.Transfer(c, user1, u(1)) }))
	assert.Equal(t, uint64(1), f.psi.BalanceOf(user1).Uint64())
	assert.Equal(t, uint64(10), f.psi.TotalBurned().Uint64())
}

func TestTransferExcluded(t *testing.T) {
	f := setup(t, maxSupply, nil)
	f.migrateAll(t)
	f.give(t, user1, e9(10))
	require.NoError(t, f.exec(owner, func(c *host.Call) error {
		if err := f.psi.SetExcludedFromBurn(c, user1, true); err != nil {
			return err
		}
		return f.psi.SetExcludedFromFees(c, user1, true)
	}))

	require.NoError(t, f.exec(user1, func(c *host.Call) error { return f.psi.Transfer(c, user2, e9(10)) }))
	assert.True(t, f.psi.BalanceOf(user2).Eq(e9(10)))
	assert.True(t, f.psi.TotalBurned().IsZero())

	err := f.exec(user1, func(c *host.Call) error { return f.psi.SetExcludedFromBurn(c, user1, true) })
	assert.ErrorIs(t, err, access.ErrNotOwner)
}

func TestTransferFailures(t *testing.T) {
	f := setup(t, maxSupply, nil)
	f.migrateAll(t)
	f.give(t, user1, u(100))

	tests := []struct {
		name string
		fn   func(c *host.Call) error
		want error
	}{
		{"zero amount", func(c *host.Call) error { return f.psi.Transfer(c, user2, u(0)) }, revert.ErrNothingToTransfer},
		{"zero recipient", func(c *host.Call) error { return f.psi.Transfer(c, common.Address{}, u(1)) }, revert.ErrInvalidInput},
		{"over balance", func(c *host.Call) error { return f.psi.Transfer(c, user2, u(101)) }, revert.ErrInsufficientBalance},
		{"no allowance", func(c *host.Call) error { return f.psi.TransferFrom(c, owner, user1, u(1)) }, erc20.ErrExceedsAllowance},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, f.exec(user1, tt.fn), tt.want)
		})
	}
	assert.Equal(t, uint64(100), f.psi.BalanceOf(user1).Uint64())
}

func TestDexTradeFees(t *testing.T) {
	f := setup(t, maxSupply, nil)
	f.migrateAll(t)
	f.give(t, user1, u(10_000))
	f.give(t, pair, u(10_000))
	require.NoError(t, f.exec(owner, func(c *host.Call) error { return f.psi.SetDexPair(c, pair, true) }))
	assert.True(t, f.psi.IsDexPair(pair))

	// Sell: the sender pays 1 per mille on top of the 1% burn.
	require.NoError(t, f.exec(user1, func(c *host.Call) error { return f.psi.Transfer(c, pair, u(1000)) }))
	assert.Equal(t, uint64(10_989), f.psi.BalanceOf(pair).Uint64())
	assert.Equal(t, uint64(1), f.sink.gathered.Uint64())
	assert.Equal(t, uint64(1), f.psi.BalanceOf(f.sink.Address()).Uint64())

	// Buy by a dex-fee exempt recipient: burn only.
	require.NoError(t, f.exec(owner, func(c *host.Call) error { return f.psi.SetExcludedFromDexFee(c, user2, true) }))
	require.NoError(t, f.exec(pair, func(c *host.Call) error { return f.psi.Transfer(c, user2, u(1000)) }))
	assert.Equal(t, uint64(990), f.psi.BalanceOf(user2).Uint64())
	assert.Equal(t, uint64(1), f.sink.gathered.Uint64())

	// Plain transfers pay no aggregator fee.
	require.NoError(t, f.exec(user1, func(c *host.Call) error { return f.psi.Transfer(c, user3, u(1000)) }))
	assert.Equal(t, uint64(1), f.sink.gathered.Uint64())

	assert.True(t, f.psi.SumOfBalances().Eq(f.psi.TotalSupply()))
}

func TestFeeOnAllTransfers(t *testing.T) {
	f := setup(t, maxSupply, func(cfg *Config) { cfg.Scope = FeeOnAllTransfers })
	f.migrateAll(t)
	f.give(t, user1, u(1000))

	split, err := f.psi.Quote(user1, user2, u(1000))
	require.NoError(t, err)
	assert.Equal(t, uint64(989), split.Net.Uint64())

	require.NoError(t, f.exec(user1, func(c *host.Call) error { return f.psi.Transfer(c, user2, u(1000)) }))
	assert.Equal(t, uint64(989), f.psi.BalanceOf(user2).Uint64())
	assert.Equal(t, uint64(1), f.sink.gathered.Uint64())
}

func TestFeeCreditIsGuarded(t *testing.T) {
	f := setup(t, maxSupply, func(cfg *Config) { cfg.Scope = FeeOnAllTransfers })
	f.migrateAll(t)
	f.give(t, user1, u(1000))
	f.give(t, f.sink.Address(), u(100))
	f.sink.reenter = func(c *host.Call) error {
		return f.psi.Transfer(c, user3, u(10))
	}

	err := f.exec(user1, func(c *host.Call) error { return f.psi.Transfer(c, user2, u(1000)) })
	assert.ErrorIs(t, err, revert.ErrReentrant)
	assert.Equal(t, uint64(1000), f.psi.BalanceOf(user1).Uint64())
	assert.True(t, f.psi.BalanceOf(user2).IsZero())
	assert.True(t, f.sink.gathered.IsZero())

	// The guard is released after the failed call.
	f.sink.reenter = nil
	require.NoError(t, f.exec(user1, func(c *host.Call) error { return f.psi.Transfer(c, user2, u(1000)) }))
}

func TestChangeBurnRate(t *testing.T) {
	f := setup(t, maxSupply, nil)

	assert.ErrorIs(t, f.exec(owner, func(c *host.Call) error { return f.psi.ChangeBurnRate(c, 100) }), access.ErrNotGovernor)

	for bps := uint64(0); bps <= 400; bps++ {
		err := f.exec(governor, func(c *host.Call) error { return f.psi.ChangeBurnRate(c, bps) })
		if bps >= MinBurnBps && bps <= MaxBurnBps {
			require.NoError(t, err, "bps %d", bps)
			assert.Equal(t, bps, f.psi.BurnRate())
		} else {
			assert.ErrorIs(t, err, ErrBurnRateBounds, "bps %d", bps)
		}
	}
}

func TestHolderBurn(t *testing.T) {
	f := setup(t, maxSupply, nil)
	f.migrateAll(t)
	f.give(t, user1, u(100))

	require.NoError(t, f.exec(user1, func(c *host.Call) error { return f.psi.Burn(c, u(40)) }))
	assert.Equal(t, uint64(60), f.psi.BalanceOf(user1).Uint64())
	assert.Equal(t, uint64(40), f.psi.TotalBurned().Uint64())
	assert.ErrorIs(t, f.exec(user1, func(c *host.Call) error { return f.psi.Burn(c, u(61)) }), revert.ErrInsufficientBalance)
}

func TestSetFeeAggregatorRejectsNonSink(t *testing.T) {
	f := setup(t, maxSupply, nil)
	err := f.exec(owner, func(c *host.Call) error { return f.psi.SetFeeAggregator(c, f.legacy.Address()) })
	assert.ErrorIs(t, err, ErrNotFeeSink)
	err = f.exec(user1, func(c *host.Call) error { return f.psi.SetFeeAggregator(c, f.sink.Address()) })
	assert.ErrorIs(t, err, access.ErrNotOwner)
}

func TestSupplyConservation(t *testing.T) {
	f := setup(t, maxSupply, nil)
	f.migrateAll(t)
	users := []common.Address{user1, user2, user3, pair}
	for _, user := range users {
		f.give(t, user, e9(100))
	}
	require.NoError(t, f.exec(owner, func(c *host.Call) error { return f.psi.SetDexPair(c, pair, true) }))

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		from := users[rng.Intn(len(users))]
		to := users[rng.Intn(len(users))]
		bal := f.psi.BalanceOf(from).Uint64()
		if bal == 0 {
			continue
		}
		amount := u(uint64(rng.Int63n(int64(bal))) + 1)

		supplyBefore := f.psi.TotalSupply()
		burnedBefore := f.psi.TotalBurned()
		require.NoError(t, f.exec(from, func(c *host.Call) error { return f.psi.Transfer(c, to, amount) }))

		burned := new(uint256.Int).Sub(f.psi.TotalBurned(), burnedBefore)
		assert.True(t, f.psi.TotalSupply().Eq(new(uint256.Int).Sub(supplyBefore, burned)))
		require.True(t, f.psi.SumOfBalances().Eq(f.psi.TotalSupply()))
	}
	total := new(uint256.Int).Add(f.psi.TotalSupply(), f.psi.TotalBurned())
	assert.True(t, total.Eq(f.psi.Migrated()))
}

func TestSnapshotIsDeep(t *testing.T) {
	f := setup(t, maxSupply, nil)
	f.migrateAll(t)
	snap := f.psi.Snapshot()
	f.give(t, user1, u(5))
	f.psi.Restore(snap)
	assert.True(t, f.psi.BalanceOf(user1).IsZero())
}
