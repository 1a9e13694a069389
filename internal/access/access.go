// Package access holds the role table shared by the ledger contracts: a single
// owner, a single governor, a whitelist of minting contracts and three
// independent exclusion sets.
//
// A Registry is state owned by a contract, not a contract itself. The owning
// contract includes Snapshot/Restore in its own journal and consults the
// Require* checks at the top of each mutating operation.
package access

import (
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Mohsinsiddi/feeledger/internal/events"
	"github.com/Mohsinsiddi/feeledger/internal/host"
	"github.com/Mohsinsiddi/feeledger/internal/revert"
)

// Set names one exclusion set.
type Set uint8

const (
	// BurnExempt accounts pay no burn when sending.
	BurnExempt Set = iota
	// FeeExempt accounts pay no aggregator fee when sending.
	FeeExempt
	// DexFeeExempt accounts pay no aggregator fee on trades against a dex pair.
	DexFeeExempt

	numSets
)

func (s Set) String() string {
	switch s {
	case BurnExempt:
		return "burn"
	case FeeExempt:
		return "fee"
	case DexFeeExempt:
		return "dex-fee"
	}
	return "unknown"
}

// ParseSet resolves a set name as printed by String.
func ParseSet(name string) (Set, bool) {
	for s := Set(0); s < numSets; s++ {
		if s.String() == name {
			return s, true
		}
	}
	return 0, false
}

// Errors are the reverts a Registry reports. Contracts with their own revert
// strings supply their own values.
type Errors struct {
	NotOwner           error
	NotGovernor        error
	NotGovernorOrOwner error
	NotContract        error
	AlreadyMinter      error
	NotMinter          error
	NotMintingContract error
	ZeroOwner          error
}

// Default reverts.
var (
	ErrNotOwner                 = revert.New(revert.ErrUnauthorized, "Ownable: caller is not the owner")
	ErrNotGovernor              = revert.New(revert.ErrUnauthorized, "Governable: caller is not the governor")
	ErrNotGovernorOrOwner       = revert.New(revert.ErrUnauthorized, "Governable: caller is not the governor or owner")
	ErrInvalidMintingContract   = revert.New(revert.ErrInvalidInput, "Access: minting contract is not a contract")
	ErrAlreadyMintingContract   = revert.New(revert.ErrInvalidState, "Access: already a minting contract")
	ErrNotMintingContract       = revert.New(revert.ErrInvalidState, "Access: not a minting contract")
	ErrCallerNotMintingContract = revert.New(revert.ErrUnauthorized, "Access: caller is not a minting contract")
	ErrZeroOwner                = revert.New(revert.ErrInvalidInput, "Ownable: new owner is the zero address")

	DefaultErrors = Errors{
		NotOwner:           ErrNotOwner,
		NotGovernor:        ErrNotGovernor,
		NotGovernorOrOwner: ErrNotGovernorOrOwner,
		NotContract:        ErrInvalidMintingContract,
		AlreadyMinter:      ErrAlreadyMintingContract,
		NotMinter:          ErrNotMintingContract,
		NotMintingContract: ErrCallerNotMintingContract,
		ZeroOwner:          ErrZeroOwner,
	}
)

// Option configures a Registry.
type Option func(*Registry)

// WithErrors replaces the revert values.
func WithErrors(e Errors) Option {
	return func(r *Registry) { r.errs = e }
}

// WithGovernor sets the initial governor.
func WithGovernor(addr common.Address) Option {
	return func(r *Registry) { r.governor = addr }
}

// Registry is the role table of one contract.
type Registry struct {
	self     common.Address
	owner    common.Address
	governor common.Address
	minters  map[common.Address]bool
	excluded [numSets]map[common.Address]bool
	errs     Errors
}

// New creates the role table of the contract at self, owned by owner.
func New(self, owner common.Address, opts ...Option) *Registry {
	r := &Registry{
		self:    self,
		owner:   owner,
		minters: make(map[common.Address]bool),
		errs:    DefaultErrors,
	}
	for i := range r.excluded {
		r.excluded[i] = make(map[common.Address]bool)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Owner returns the current owner.
func (r *Registry) Owner() common.Address { return r.owner }

// Governor returns the current governor (zero if unset).
func (r *Registry) Governor() common.Address { return r.governor }

// ── authorization checks ──

func (r *Registry) RequireOwner(caller common.Address) error {
	if caller != r.owner {
		return r.errs.NotOwner
	}
	return nil
}

func (r *Registry) RequireGovernor(caller common.Address) error {
	if caller != r.governor || caller == (common.Address{}) {
		return r.errs.NotGovernor
	}
	return nil
}

func (r *Registry) RequireGovernorOrOwner(caller common.Address) error {
	if caller == r.owner || (caller == r.governor && caller != common.Address{}) {
		return nil
	}
	return r.errs.NotGovernorOrOwner
}

func (r *Registry) RequireMintingContract(caller common.Address) error {
	if !r.minters[caller] {
		return r.errs.NotMintingContract
	}
	return nil
}

// ── role mutations ──

// SetGovernor replaces the governor. Callable by the owner or the current
// governor.
func (r *Registry) SetGovernor(c *host.Call, next common.Address) error {
	if err := r.RequireGovernorOrOwner(c.Caller()); err != nil {
		return err
	}
	prev := r.governor
	r.governor = next
	c.Emit(events.GovernorChanged.Log(r.self, []common.Address{prev, next}))
	return nil
}

// TransferOwnership hands the owner role to next.
func (r *Registry) TransferOwnership(c *host.Call, next common.Address) error {
	if err := r.RequireOwner(c.Caller()); err != nil {
		return err
	}
	if next == (common.Address{}) {
		return r.errs.ZeroOwner
	}
	prev := r.owner
	r.owner = next
	c.Emit(events.OwnershipTransferred.Log(r.self, []common.Address{prev, next}))
	return nil
}

// IsMintingContract reports whitelist membership.
func (r *Registry) IsMintingContract(addr common.Address) bool { return r.minters[addr] }

// MintingContracts returns the whitelist sorted by address.
func (r *Registry) MintingContracts() []common.Address {
	out := make([]common.Address, 0, len(r.minters))
	for a := range r.minters {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

// AddMintingContract whitelists a deployed contract. Owner only; fails if the
// target is not a contract or is already whitelisted.
func (r *Registry) AddMintingContract(c *host.Call, minter common.Address) error {
	if err := r.RequireOwner(c.Caller()); err != nil {
		return err
	}
	if !c.Host().IsContract(minter) {
		return r.errs.NotContract
	}
	if r.minters[minter] {
		return r.errs.AlreadyMinter
	}
	r.minters[minter] = true
	c.Emit(events.MintingContractAdded.Log(r.self, []common.Address{minter}))
	return nil
}

// RemoveMintingContract drops a whitelisted contract. Owner only.
func (r *Registry) RemoveMintingContract(c *host.Call, minter common.Address) error {
	if err := r.RequireOwner(c.Caller()); err != nil {
		return err
	}
	if !r.minters[minter] {
		return r.errs.NotMinter
	}
	delete(r.minters, minter)
	c.Emit(events.MintingContractRemoved.Log(r.self, []common.Address{minter}))
	return nil
}

// ── exclusion sets ──

// IsExcluded reports membership of addr in set.
func (r *Registry) IsExcluded(set Set, addr common.Address) bool {
	if set >= numSets {
		return false
	}
	return r.excluded[set][addr]
}

// Exclude sets membership without an authorization check. Used while a
// contract is being constructed.
func (r *Registry) Exclude(set Set, addr common.Address, excluded bool) {
	if excluded {
		r.excluded[set][addr] = true
	} else {
		delete(r.excluded[set], addr)
	}
}

// SetExcluded changes membership of addr in set. Owner only.
func (r *Registry) SetExcluded(c *host.Call, set Set, addr common.Address, excluded bool) error {
	if err := r.RequireOwner(c.Caller()); err != nil {
		return err
	}
	if set >= numSets {
		return revert.New(revert.ErrInvalidInput, "Access: unknown exclusion set")
	}
	r.Exclude(set, addr, excluded)
	c.Emit(events.Exclusion.Log(r.self, []common.Address{addr}, events.Word(uint64(set)), events.Flag(excluded)))
	return nil
}

// Excluded returns the members of set sorted by address.
func (r *Registry) Excluded(set Set) []common.Address {
	out := make([]common.Address, 0, len(r.excluded[set]))
	for a := range r.excluded[set] {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

// ── journal ──

type state struct {
	owner, governor common.Address
	minters         map[common.Address]bool
	excluded        [numSets]map[common.Address]bool
}

// Snapshot returns a deep copy of the role table.
func (r *Registry) Snapshot() any {
	s := state{owner: r.owner, governor: r.governor, minters: copySet(r.minters)}
	for i := range r.excluded {
		s.excluded[i] = copySet(r.excluded[i])
	}
	return s
}

// Restore resets the role table to a snapshot.
func (r *Registry) Restore(snapshot any) {
	s := snapshot.(state)
	r.owner, r.governor = s.owner, s.governor
	r.minters = s.minters
	r.excluded = s.excluded
}

func copySet(m map[common.Address]bool) map[common.Address]bool {
	out := make(map[common.Address]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
