// Package reward implements the reward ledger ("Income"), a burn-on-transfer
// token whose supply only grows through whitelisted minting contracts.
package reward

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/Mohsinsiddi/feeledger/internal/access"
	"github.com/Mohsinsiddi/feeledger/internal/erc20"
	"github.com/Mohsinsiddi/feeledger/internal/events"
	"github.com/Mohsinsiddi/feeledger/internal/host"
	"github.com/Mohsinsiddi/feeledger/internal/ledger"
	"github.com/Mohsinsiddi/feeledger/internal/logger"
	"github.com/Mohsinsiddi/feeledger/internal/revert"
)

const (
	Name     = "Income"
	Symbol   = "INC"
	Decimals = 18

	MinBurnBps     = 50
	MaxBurnBps     = 300
	DefaultBurnBps = 100
)

// StartSupply is minted to the creator: 3,120,000 tokens.
var StartSupply = new(uint256.Int).Mul(uint256.NewInt(3_120_000), new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(Decimals)))

// Income reverts.
var (
	ErrNotGovernorOrOwner = revert.New(revert.ErrUnauthorized, "INCOME: caller is not the governor or owner")
	ErrNotGovernor        = revert.New(revert.ErrUnauthorized, "INCOME: caller is not a governor")
	ErrNotMinter          = revert.New(revert.ErrUnauthorized, "INCOME: caller is not a minting contract")
	ErrNotContract        = revert.New(revert.ErrInvalidInput, "INCOME: `mintingContract` is not a contract")
	ErrAlreadyMinter      = revert.New(revert.ErrInvalidState, "INCOME: `mintingContract` is already a minting contract")
	ErrNotMintingContract = revert.New(revert.ErrInvalidState, "INCOME: `mintingContract` is not a minting contract")
	ErrMinBurnRate        = revert.New(revert.ErrOutOfBounds, "INCOME: Min token fee is 0.5%")
	ErrMaxBurnRate        = revert.New(revert.ErrOutOfBounds, "INCOME: Max token fee is 3%")
	ErrBurnExceeds        = revert.New(revert.ErrInsufficientBalance, "INCOME: burn amount exceeds balance")
	ErrNothingToMint      = revert.New(revert.ErrInvalidInput, "INCOME: nothing to mint")

	roleErrors = access.Errors{
		NotOwner:           access.ErrNotOwner,
		NotGovernor:        ErrNotGovernor,
		NotGovernorOrOwner: ErrNotGovernorOrOwner,
		NotContract:        ErrNotContract,
		AlreadyMinter:      ErrAlreadyMinter,
		NotMinter:          ErrNotMintingContract,
		NotMintingContract: ErrNotMinter,
		ZeroOwner:          access.ErrZeroOwner,
	}
)

// Config describes the reward ledger at deployment.
type Config struct {
	StartSupply *uint256.Int
	Logger      *logger.Logger
}

type state struct {
	book    *erc20.Book
	burned  *uint256.Int
	burnBps uint64
}

// Token is the reward ledger.
type Token struct {
	addr  common.Address
	roles *access.Registry
	st    state
	log   *logger.Logger
}

// Deploy builds the reward ledger for host.Deploy. The creator is owner and
// governor, receives the start supply and is excluded from burn.
func Deploy(cfg Config) func(c *host.Call, addr common.Address) (*Token, error) {
	return func(c *host.Call, addr common.Address) (*Token, error) {
		supply := cfg.StartSupply
		if supply == nil {
			supply = StartSupply
		}
		creator := c.Caller()
		t := &Token{
			addr:  addr,
			roles: access.New(addr, creator, access.WithGovernor(creator), access.WithErrors(roleErrors)),
			st:    state{book: erc20.NewBook(), burned: new(uint256.Int), burnBps: DefaultBurnBps},
			log:   logger.OrNop(cfg.Logger).With("contract", Symbol),
		}
		t.roles.Exclude(access.BurnExempt, creator, true)
		if !supply.IsZero() {
			if err := t.st.book.Mint(creator, supply); err != nil {
				return nil, err
			}
			c.Emit(events.Transfer.Log(addr, []common.Address{{}, creator}, supply))
		}
		return t, nil
	}
}

func (t *Token) Address() common.Address     { return t.addr }
func (t *Token) Name() string                { return Name }
func (t *Token) Symbol() string              { return Symbol }
func (t *Token) Decimals() uint8             { return Decimals }
func (t *Token) TotalSupply() *uint256.Int   { return t.st.book.TotalSupply() }
func (t *Token) TotalBurned() *uint256.Int   { return t.st.burned.Clone() }
func (t *Token) BurnRate() uint64            { return t.st.burnBps }
func (t *Token) Governor() common.Address    { return t.roles.Governor() }
func (t *Token) Owner() common.Address       { return t.roles.Owner() }
func (t *Token) Roles() *access.Registry     { return t.roles }
func (t *Token) SumOfBalances() *uint256.Int { return t.st.book.Sum() }

func (t *Token) BalanceOf(addr common.Address) *uint256.Int { return t.st.book.BalanceOf(addr) }

func (t *Token) Allowance(owner, spender common.Address) *uint256.Int {
	return t.st.book.Allowance(owner, spender)
}

func (t *Token) IsMintingContract(addr common.Address) bool { return t.roles.IsMintingContract(addr) }

func (t *Token) IsExcludedFromBurnRate(addr common.Address) bool {
	return t.roles.IsExcluded(access.BurnExempt, addr)
}

// Transfer moves amount less the burn from the caller to to.
func (t *Token) Transfer(c *host.Call, to common.Address, amount *uint256.Int) error {
	return t.transfer(c, c.Caller(), to, amount)
}

// TransferFrom moves amount from from to to against the caller's allowance.
func (t *Token) TransferFrom(c *host.Call, from, to common.Address, amount *uint256.Int) error {
	if err := t.st.book.SpendAllowance(from, c.Caller(), amount); err != nil {
		return err
	}
	return t.transfer(c, from, to, amount)
}

// Approve sets the caller's allowance for spender.
func (t *Token) Approve(c *host.Call, spender common.Address, amount *uint256.Int) error {
	t.st.book.Approve(c.Caller(), spender, amount)
	c.Emit(events.Approval.Log(t.addr, []common.Address{c.Caller(), spender}, amount))
	return nil
}

func (t *Token) transfer(c *host.Call, from, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return erc20.ErrZeroRecipient
	}
	if t.st.book.BalanceOf(from).Lt(amount) {
		return erc20.ErrExceedsBalance
	}
	net := amount.Clone()
	if !t.roles.IsExcluded(access.BurnExempt, from) {
		burn := ledger.Portion(amount, t.st.burnBps, ledger.BurnDenominator)
		if !burn.IsZero() {
			if err := t.burn(c, from, burn); err != nil {
				return err
			}
			net.Sub(net, burn)
		}
	}
	if err := t.st.book.Move(from, to, net); err != nil {
		return err
	}
	c.Emit(events.Transfer.Log(t.addr, []common.Address{from, to}, net))
	return nil
}

func (t *Token) burn(c *host.Call, from common.Address, amount *uint256.Int) error {
	if t.st.book.BalanceOf(from).Lt(amount) {
		return ErrBurnExceeds
	}
	if err := t.st.book.Burn(from, amount); err != nil {
		return err
	}
	t.st.burned.Add(t.st.burned, amount)
	c.Emit(events.Transfer.Log(t.addr, []common.Address{from, {}}, amount))
	return nil
}

// Burn destroys amount of the caller's balance.
func (t *Token) Burn(c *host.Call, amount *uint256.Int) error {
	return t.burn(c, c.Caller(), amount)
}

// Mint credits amount to the calling minting contract.
func (t *Token) Mint(c *host.Call, amount *uint256.Int) error {
	if err := t.roles.RequireMintingContract(c.Caller()); err != nil {
		return err
	}
	if amount.IsZero() {
		return ErrNothingToMint
	}
	if err := t.st.book.Mint(c.Caller(), amount); err != nil {
		return err
	}
	c.Emit(events.Transfer.Log(t.addr, []common.Address{{}, c.Caller()}, amount))
	t.log.Debug("minted", "minter", c.Caller().Hex(), "amount", amount.Dec())
	return nil
}

// ChangeBurnRate is governor only, bounded to [MinBurnBps, MaxBurnBps].
func (t *Token) ChangeBurnRate(c *host.Call, bps uint64) error {
	if err := t.roles.RequireGovernor(c.Caller()); err != nil {
		return err
	}
	if bps < MinBurnBps {
		return ErrMinBurnRate
	}
	if bps > MaxBurnBps {
		return ErrMaxBurnRate
	}
	prev := t.st.burnBps
	t.st.burnBps = bps
	c.Emit(events.BurnRate.Log(t.addr, nil, events.Word(prev), events.Word(bps)))
	return nil
}

func (t *Token) SetGovernor(c *host.Call, governor common.Address) error {
	return t.roles.SetGovernor(c, governor)
}

func (t *Token) TransferOwnership(c *host.Call, owner common.Address) error {
	return t.roles.TransferOwnership(c, owner)
}

func (t *Token) AddMintingContract(c *host.Call, minter common.Address) error {
	return t.roles.AddMintingContract(c, minter)
}

func (t *Token) RemoveMintingContract(c *host.Call, minter common.Address) error {
	return t.roles.RemoveMintingContract(c, minter)
}

func (t *Token) SetAddressExcludedFromBurnRate(c *host.Call, addr common.Address, excluded bool) error {
	return t.roles.SetExcluded(c, access.BurnExempt, addr, excluded)
}

type snapshot struct {
	st    state
	roles any
}

// Snapshot implements host.Journaled.
func (t *Token) Snapshot() any {
	return snapshot{
		st:    state{book: t.st.book.Clone(), burned: t.st.burned.Clone(), burnBps: t.st.burnBps},
		roles: t.roles.Snapshot(),
	}
}

// Restore implements host.Journaled.
func (t *Token) Restore(s any) {
	snap := s.(snapshot)
	t.st = snap.st
	t.roles.Restore(snap.roles)
}

var _ erc20.Interface = (*Token)(nil)
