// Package erc20 implements the standard token used for the legacy ledger, the
// wrapped base asset and arbitrary fee tokens, plus the balance sheet the
// fee-bearing ledgers build on.
package erc20

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/Mohsinsiddi/feeledger/internal/events"
	"github.com/Mohsinsiddi/feeledger/internal/host"
	"github.com/Mohsinsiddi/feeledger/internal/revert"
)

// Interface is what the ledger contracts require of any token they touch.
type Interface interface {
	host.Contract
	Symbol() string
	Decimals() uint8
	TotalSupply() *uint256.Int
	BalanceOf(addr common.Address) *uint256.Int
	Allowance(owner, spender common.Address) *uint256.Int
	Transfer(c *host.Call, to common.Address, amount *uint256.Int) error
	TransferFrom(c *host.Call, from, to common.Address, amount *uint256.Int) error
	Approve(c *host.Call, spender common.Address, amount *uint256.Int) error
}

// ErrNotToken is returned by Lookup when the address holds no token.
var ErrNotToken = errors.New("erc20: address is not a token")

// Lookup resolves a token deployed on h.
func Lookup(h *host.Host, addr common.Address) (Interface, error) {
	c, ok := h.Contract(addr)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotToken, addr.Hex())
	}
	t, ok := c.(Interface)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotToken, addr.Hex())
	}
	return t, nil
}

// ErrNotWrapped is returned when native value is sent to a plain token.
var ErrNotWrapped = revert.New(revert.ErrInvalidState, "ERC20: token does not accept native value")

// Config describes a token at deployment.
type Config struct {
	Name     string
	Symbol   string
	Decimals uint8
	// Genesis is minted to the deployer.
	Genesis *uint256.Int
	// Wrapped tokens mint 1:1 against native value received and burn on
	// Withdraw, like WETH.
	Wrapped bool
	// TransferTaxBps is skimmed off every transfer and burned. Models
	// fee-on-transfer fee tokens.
	TransferTaxBps uint64
}

// Token is a plain ERC20.
type Token struct {
	addr     common.Address
	deployer common.Address
	cfg      Config
	book     *Book
}

// Deploy builds a Token for host.Deploy.
func Deploy(cfg Config) func(c *host.Call, addr common.Address) (*Token, error) {
	return func(c *host.Call, addr common.Address) (*Token, error) {
		if cfg.TransferTaxBps > 10000 {
			return nil, revert.New(revert.ErrOutOfBounds, "ERC20: transfer tax above 100%")
		}
		t := &Token{addr: addr, deployer: c.Caller(), cfg: cfg, book: NewBook()}
		if cfg.Genesis != nil && !cfg.Genesis.IsZero() {
			if err := t.book.Mint(c.Caller(), cfg.Genesis); err != nil {
				return nil, err
			}
			c.Emit(events.Transfer.Log(addr, []common.Address{{}, c.Caller()}, cfg.Genesis))
		}
		return t, nil
	}
}

func (t *Token) Address() common.Address                    { return t.addr }
func (t *Token) Name() string                               { return t.cfg.Name }
func (t *Token) Symbol() string                             { return t.cfg.Symbol }
func (t *Token) Decimals() uint8                            { return t.cfg.Decimals }
func (t *Token) TotalSupply() *uint256.Int                  { return t.book.TotalSupply() }
func (t *Token) BalanceOf(addr common.Address) *uint256.Int { return t.book.BalanceOf(addr) }
func (t *Token) Allowance(owner, spender common.Address) *uint256.Int {
	return t.book.Allowance(owner, spender)
}

// Transfer moves amount from the caller to to.
func (t *Token) Transfer(c *host.Call, to common.Address, amount *uint256.Int) error {
	return t.move(c, c.Caller(), to, amount)
}

// TransferFrom moves amount from from to to against the caller's allowance.
func (t *Token) TransferFrom(c *host.Call, from, to common.Address, amount *uint256.Int) error {
	if err := t.book.SpendAllowance(from, c.Caller(), amount); err != nil {
		return err
	}
	return t.move(c, from, to, amount)
}

// Approve sets the caller's allowance for spender.
func (t *Token) Approve(c *host.Call, spender common.Address, amount *uint256.Int) error {
	t.book.Approve(c.Caller(), spender, amount)
	c.Emit(events.Approval.Log(t.addr, []common.Address{c.Caller(), spender}, amount))
	return nil
}

func (t *Token) move(c *host.Call, from, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return ErrZeroRecipient
	}
	if err := t.book.Debit(from, amount); err != nil {
		return err
	}
	net := amount.Clone()
	if t.cfg.TransferTaxBps > 0 {
		tax := new(uint256.Int).Mul(amount, uint256.NewInt(t.cfg.TransferTaxBps))
		tax.Div(tax, uint256.NewInt(10000))
		net.Sub(net, tax)
		if !tax.IsZero() {
			t.book.supply.Sub(t.book.supply, tax)
			c.Emit(events.Transfer.Log(t.addr, []common.Address{from, {}}, tax))
		}
	}
	if err := t.book.Credit(to, net); err != nil {
		return err
	}
	c.Emit(events.Transfer.Log(t.addr, []common.Address{from, to}, net))
	return nil
}

// ErrNotDeployer is returned when anyone but the deployer mints.
var ErrNotDeployer = revert.New(revert.ErrUnauthorized, "ERC20: caller is not the deployer")

// Mint creates amount for to. Only the deployer may mint; used to seed
// balances in scenarios.
func (t *Token) Mint(c *host.Call, to common.Address, amount *uint256.Int) error {
	if c.Caller() != t.deployer {
		return ErrNotDeployer
	}
	if err := t.book.Mint(to, amount); err != nil {
		return err
	}
	c.Emit(events.Transfer.Log(t.addr, []common.Address{{}, to}, amount))
	return nil
}

// Receive wraps native value sent by the caller.
func (t *Token) Receive(c *host.Call, amount *uint256.Int) error {
	if !t.cfg.Wrapped {
		return ErrNotWrapped
	}
	if err := t.book.Mint(c.Caller(), amount); err != nil {
		return err
	}
	c.Emit(events.Deposit.Log(t.addr, []common.Address{c.Caller()}, amount))
	return nil
}

// Withdraw burns wrapped tokens of the caller and returns native value.
func (t *Token) Withdraw(c *host.Call, amount *uint256.Int) error {
	if !t.cfg.Wrapped {
		return ErrNotWrapped
	}
	if err := t.book.Burn(c.Caller(), amount); err != nil {
		return err
	}
	c.Emit(events.Transfer.Log(t.addr, []common.Address{c.Caller(), {}}, amount))
	return c.Nested(t.addr).SendValue(c.Caller(), amount)
}

// Snapshot implements host.Journaled.
func (t *Token) Snapshot() any { return t.book.Clone() }

// Restore implements host.Journaled.
func (t *Token) Restore(s any) { t.book = s.(*Book) }
