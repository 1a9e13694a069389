package erc20

import (
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/Mohsinsiddi/feeledger/internal/revert"
)

// Balance errors.
var (
	ErrExceedsBalance   = revert.New(revert.ErrInsufficientBalance, "ERC20: transfer amount exceeds balance")
	ErrExceedsAllowance = revert.New(revert.ErrInsufficientBalance, "ERC20: transfer amount exceeds allowance")
	ErrBurnExceeds      = revert.New(revert.ErrInsufficientBalance, "ERC20: burn amount exceeds balance")
	ErrZeroRecipient    = revert.New(revert.ErrInvalidInput, "ERC20: transfer to the zero address")
	ErrOverflow         = revert.New(revert.ErrOutOfBounds, "ERC20: amount overflows")
)

// Book is the balance sheet of one token: supply, balances and allowances.
// It performs no authorization and emits nothing; contracts build their
// transfer rules on top of it.
type Book struct {
	supply     *uint256.Int
	balances   map[common.Address]*uint256.Int
	allowances map[common.Address]map[common.Address]*uint256.Int
}

// NewBook returns an empty book.
func NewBook() *Book {
	return &Book{
		supply:     new(uint256.Int),
		balances:   make(map[common.Address]*uint256.Int),
		allowances: make(map[common.Address]map[common.Address]*uint256.Int),
	}
}

// TotalSupply returns a copy of the supply.
func (b *Book) TotalSupply() *uint256.Int { return b.supply.Clone() }

// BalanceOf returns a copy of addr's balance.
func (b *Book) BalanceOf(addr common.Address) *uint256.Int {
	if v, ok := b.balances[addr]; ok {
		return v.Clone()
	}
	return new(uint256.Int)
}

// Allowance returns what spender may still pull from owner.
func (b *Book) Allowance(owner, spender common.Address) *uint256.Int {
	if v, ok := b.allowances[owner][spender]; ok {
		return v.Clone()
	}
	return new(uint256.Int)
}

// Credit adds amount to addr without touching supply.
func (b *Book) Credit(addr common.Address, amount *uint256.Int) error {
	sum, overflow := new(uint256.Int).AddOverflow(b.BalanceOf(addr), amount)
	if overflow {
		return ErrOverflow
	}
	b.set(addr, sum)
	return nil
}

// Debit removes amount from addr without touching supply.
func (b *Book) Debit(addr common.Address, amount *uint256.Int) error {
	diff, underflow := new(uint256.Int).SubOverflow(b.BalanceOf(addr), amount)
	if underflow {
		return ErrExceedsBalance
	}
	b.set(addr, diff)
	return nil
}

// Move debits from and credits to.
func (b *Book) Move(from, to common.Address, amount *uint256.Int) error {
	if err := b.Debit(from, amount); err != nil {
		return err
	}
	return b.Credit(to, amount)
}

// Mint credits addr and grows supply.
func (b *Book) Mint(addr common.Address, amount *uint256.Int) error {
	supply, overflow := new(uint256.Int).AddOverflow(b.supply, amount)
	if overflow {
		return ErrOverflow
	}
	if err := b.Credit(addr, amount); err != nil {
		return err
	}
	b.supply = supply
	return nil
}

// Burn debits addr and shrinks supply.
func (b *Book) Burn(addr common.Address, amount *uint256.Int) error {
	if b.BalanceOf(addr).Lt(amount) {
		return ErrBurnExceeds
	}
	if err := b.Debit(addr, amount); err != nil {
		return err
	}
	b.supply = new(uint256.Int).Sub(b.supply, amount)
	return nil
}

// Approve sets the allowance of spender over owner's balance.
func (b *Book) Approve(owner, spender common.Address, amount *uint256.Int) {
	m, ok := b.allowances[owner]
	if !ok {
		m = make(map[common.Address]*uint256.Int)
		b.allowances[owner] = m
	}
	m[spender] = amount.Clone()
}

// SpendAllowance consumes amount of spender's allowance over owner. An
// allowance of MaxUint256 is never decremented.
func (b *Book) SpendAllowance(owner, spender common.Address, amount *uint256.Int) error {
	current := b.Allowance(owner, spender)
	if current.Eq(MaxAllowance) {
		return nil
	}
	if current.Lt(amount) {
		return ErrExceedsAllowance
	}
	b.Approve(owner, spender, current.Sub(current, amount))
	return nil
}

// Holders returns every address with a nonzero balance, sorted.
func (b *Book) Holders() []common.Address {
	out := make([]common.Address, 0, len(b.balances))
	for a := range b.balances {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

// Sum adds up every balance.
func (b *Book) Sum() *uint256.Int {
	total := new(uint256.Int)
	for _, v := range b.balances {
		total.Add(total, v)
	}
	return total
}

// Clone returns a deep copy.
func (b *Book) Clone() *Book {
	out := &Book{
		supply:     b.supply.Clone(),
		balances:   make(map[common.Address]*uint256.Int, len(b.balances)),
		allowances: make(map[common.Address]map[common.Address]*uint256.Int, len(b.allowances)),
	}
	for k, v := range b.balances {
		out.balances[k] = v.Clone()
	}
	for owner, m := range b.allowances {
		cp := make(map[common.Address]*uint256.Int, len(m))
		for spender, v := range m {
			cp[spender] = v.Clone()
		}
		out.allowances[owner] = cp
	}
	return out
}

func (b *Book) set(addr common.Address, v *uint256.Int) {
	if v.IsZero() {
		delete(b.balances, addr)
		return
	}
	b.balances[addr] = v
}

// MaxAllowance is the "infinite" approval.
var MaxAllowance = new(uint256.Int).SetAllOne()
