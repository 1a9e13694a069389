package ledger

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/Mohsinsiddi/feeledger/internal/events"
	"github.com/Mohsinsiddi/feeledger/internal/host"
)

// DeadAddress receives legacy tokens pulled during migration.
var DeadAddress = common.HexToAddress("0x000000000000000000000000000000000000dEaD")

// MigrationState is the v1 to v2 swap state machine. It only moves forward.
type MigrationState uint8

const (
	Locked MigrationState = iota
	SwapOpen
)

func (s MigrationState) String() string {
	if s == SwapOpen {
		return "open"
	}
	return "locked"
}

// CapPolicy decides what happens to a swap that would push the migrated
// total above MaxSupply.
type CapPolicy uint8

const (
	// CapReject fails the whole swap.
	CapReject CapPolicy = iota
	// CapClamp swaps only up to the remaining capacity; the rest of the
	// legacy balance stays with the holder.
	CapClamp
)

func (p CapPolicy) String() string {
	if p == CapClamp {
		return "clamp"
	}
	return "reject"
}

// ParseCapPolicy accepts "reject" or "clamp".
func ParseCapPolicy(s string) (CapPolicy, bool) {
	switch s {
	case "reject", "":
		return CapReject, true
	case "clamp":
		return CapClamp, true
	}
	return 0, false
}

// scale converts between legacy and ledger decimals.
type scale struct {
	factor *uint256.Int
	up     bool // ledger has more decimals than legacy
}

func newScale(legacy, ledger uint8) scale {
	diff := int(ledger) - int(legacy)
	s := scale{up: diff > 0}
	if diff < 0 {
		diff = -diff
	}
	s.factor = new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(diff)))
	return s
}

// toLedger converts a legacy amount; down-scaling truncates.
func (s scale) toLedger(legacy *uint256.Int) (*uint256.Int, bool) {
	if s.up {
		return new(uint256.Int).MulOverflow(legacy, s.factor)
	}
	return new(uint256.Int).Div(legacy, s.factor), false
}

// toLegacy is the exact inverse of toLedger for amounts toLedger produces.
// Up-scaled amounts that are not a whole legacy unit truncate.
func (s scale) toLegacy(amount *uint256.Int) (*uint256.Int, bool) {
	if s.up {
		return new(uint256.Int).Div(amount, s.factor), false
	}
	return new(uint256.Int).MulOverflow(amount, s.factor)
}

// SwapEnabled reports whether holders other than the owner may migrate.
func (t *Token) SwapEnabled() bool { return t.st.migration == SwapOpen }

// MigrationState returns the current state.
func (t *Token) MigrationState() MigrationState { return t.st.migration }

// Migrated is the cumulative amount credited by migration.
func (t *Token) Migrated() *uint256.Int { return t.st.migrated.Clone() }

// Remaining is the capacity left under MaxSupply.
func (t *Token) Remaining() *uint256.Int {
	return new(uint256.Int).Sub(t.cfg.MaxSupply, t.st.migrated)
}

// EnableSwap opens migration to every holder. Owner only, one way.
func (t *Token) EnableSwap(c *host.Call) error {
	if err := t.roles.RequireOwner(c.Caller()); err != nil {
		return err
	}
	if t.st.migration == SwapOpen {
		return ErrSwapAlreadyOpen
	}
	t.st.migration = SwapOpen
	c.Emit(events.SwapOpen.Log(t.addr, nil))
	return nil
}

// SwapAll migrates the caller's entire legacy balance.
func (t *Token) SwapAll(c *host.Call) error {
	_, err := t.SwapAmount(c, t.legacy.BalanceOf(c.Caller()))
	return err
}

// SwapAmount migrates amount legacy units from the caller. The legacy tokens
// are pulled to DeadAddress (the caller must have approved this ledger) and
// the decimal-adjusted amount is credited. It returns the amount credited.
func (t *Token) SwapAmount(c *host.Call, amount *uint256.Int) (*uint256.Int, error) {
	holder := c.Caller()
	if amount.IsZero() || t.legacy.BalanceOf(holder).IsZero() {
		return nil, ErrNothingToSwap
	}
	if t.st.migration == Locked && holder != t.roles.Owner() {
		return nil, ErrSwapDisabled
	}

	credit, overflow := t.scale.toLedger(amount)
	if overflow {
		return nil, ErrSupplyCap
	}
	if credit.IsZero() {
		return nil, ErrNothingToSwap
	}
	if remaining := t.Remaining(); credit.Gt(remaining) {
		if t.cfg.Cap == CapReject || remaining.IsZero() {
			return nil, ErrSupplyCap
		}
		credit = remaining
	}

	// Re-derive both sides so that the pulled legacy amount and the credit
	// correspond exactly; sub-unit dust stays with the holder.
	pull, overflow := t.scale.toLegacy(credit)
	if overflow || pull.IsZero() {
		return nil, ErrSupplyCap
	}
	credit, _ = t.scale.toLedger(pull)

	if err := t.legacy.TransferFrom(c.Nested(t.addr), holder, DeadAddress, pull); err != nil {
		return nil, err
	}
	if err := t.st.book.Mint(holder, credit); err != nil {
		return nil, err
	}
	t.st.migrated.Add(t.st.migrated, credit)

	c.Emit(events.Transfer.Log(t.addr, []common.Address{{}, holder}, credit))
	c.Emit(events.Migrated.Log(t.addr, []common.Address{holder}, pull, credit))
	t.log.Debug("migrated", "holder", holder.Hex(), "legacy", pull.Dec(), "credit", credit.Dec())
	return credit, nil
}
