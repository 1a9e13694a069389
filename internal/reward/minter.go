package reward

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/Mohsinsiddi/feeledger/internal/access"
	"github.com/Mohsinsiddi/feeledger/internal/host"
)

// Minter is a minting contract for the reward ledger. Minted tokens are held
// by the minter until its owner pays them out.
type Minter struct {
	addr   common.Address
	owner  common.Address
	income *Token
}

// DeployMinter builds a Minter for income.
func DeployMinter(income *Token) func(c *host.Call, addr common.Address) (*Minter, error) {
	return func(c *host.Call, addr common.Address) (*Minter, error) {
		return &Minter{addr: addr, owner: c.Caller(), income: income}, nil
	}
}

func (m *Minter) Address() common.Address { return m.addr }

// MintIncome mints amount to the minter. Owner only.
func (m *Minter) MintIncome(c *host.Call, amount *uint256.Int) error {
	if c.Caller() != m.owner {
		return access.ErrNotOwner
	}
	return m.income.Mint(c.Nested(m.addr), amount)
}

// Payout sends minted tokens to to. Owner only.
func (m *Minter) Payout(c *host.Call, to common.Address, amount *uint256.Int) error {
	if c.Caller() != m.owner {
		return access.ErrNotOwner
	}
	return m.income.Transfer(c.Nested(m.addr), to, amount)
}
