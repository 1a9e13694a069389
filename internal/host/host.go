// Package host is the execution environment the ledger contracts run in.
//
// Every public operation runs inside Host.Execute: calls are serially ordered,
// carry the caller's identity, and are atomic. If the function returns an
// error, every journaled contract, the native balances and the event log are
// restored to the state they had before the call started.
package host

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/Mohsinsiddi/feeledger/internal/logger"
	"github.com/Mohsinsiddi/feeledger/internal/observability"
	"github.com/Mohsinsiddi/feeledger/internal/revert"
)

// Contract is anything living at an address in the host.
type Contract interface {
	Address() common.Address
}

// Journaled contracts can be snapshotted and restored. Snapshot must return a
// deep copy; Restore receives exactly a value returned by Snapshot.
type Journaled interface {
	Contract
	Snapshot() any
	Restore(snapshot any)
}

// Receiver contracts accept native value sent with SendValue.
type Receiver interface {
	Contract
	Receive(c *Call, amount *uint256.Int) error
}

// Host errors.
var (
	ErrInsufficientNative = revert.New(revert.ErrInsufficientBalance, "host: insufficient native balance")
	ErrNotReceiver        = revert.New(revert.ErrInvalidState, "host: contract cannot receive value")
	ErrUnknownContract    = revert.New(revert.ErrInvalidInput, "host: no contract at address")
)

// Receipt describes one committed or reverted call.
type Receipt struct {
	Block  uint64
	Caller common.Address
	Time   time.Time
	TxHash common.Hash
	Logs   []types.Log
	Err    error
}

// Succeeded reports whether the call committed.
func (r *Receipt) Succeeded() bool { return r.Err == nil }

// Option configures a Host.
type Option func(*Host)

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(h *Host) { h.log = logger.OrNop(l) }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(h *Host) { h.metrics = m }
}

// WithClock overrides the wall clock used for call timestamps.
func WithClock(now func() time.Time) Option {
	return func(h *Host) { h.now = now }
}

// Host owns every contract and serializes access to them.
type Host struct {
	mu sync.Mutex

	contracts map[common.Address]Contract
	order     []common.Address
	nonces    map[common.Address]uint64
	native    map[common.Address]*uint256.Int
	logs      []types.Log
	receipts  []*Receipt
	block     uint64

	now     func() time.Time
	log     *logger.Logger
	metrics *observability.Metrics
}

// New creates an empty host.
func New(opts ...Option) *Host {
	h := &Host{
		contracts: make(map[common.Address]Contract),
		nonces:    make(map[common.Address]uint64),
		native:    make(map[common.Address]*uint256.Int),
		now:       time.Now,
		log:       logger.Nop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Execute runs fn as one atomic call from caller.
func (h *Host) Execute(ctx context.Context, caller common.Address, fn func(c *Call) error) (*Receipt, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.execute(ctx, caller, fn)
}

func (h *Host) execute(ctx context.Context, caller common.Address, fn func(c *Call) error) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	snap := h.snapshot()
	c := &Call{
		ctx:    ctx,
		host:   h,
		caller: caller,
		origin: caller,
		now:    h.now(),
		block:  h.block + 1,
	}

	receipt := &Receipt{Block: c.block, Caller: caller, Time: c.now, TxHash: txHash(c.block, caller)}
	if err := fn(c); err != nil {
		h.restore(snap)
		receipt.Err = err
		category := ""
		if kind := revert.Category(err); kind != nil {
			category = kind.Error()
		}
		h.metrics.ObserveCall(start, 0, category, err)
		h.log.Warn("call reverted", "caller", caller.Hex(), "reason", revert.Reason(err))
		return receipt, err
	}

	h.block = c.block
	for i := snap.logs; i < len(h.logs); i++ {
		h.logs[i].BlockNumber = h.block
		h.logs[i].TxHash = receipt.TxHash
		h.logs[i].Index = uint(i)
	}
	receipt.Logs = append([]types.Log(nil), h.logs[snap.logs:]...)
	h.receipts = append(h.receipts, receipt)
	h.metrics.ObserveCall(start, h.block, "", nil)
	h.log.Debug("call committed", "caller", caller.Hex(), "block", h.block, "logs", len(receipt.Logs))
	return receipt, nil
}

// Deploy creates a contract at the next address derived from deployer and
// registers it. build runs inside an atomic call from deployer.
func Deploy[T Contract](ctx context.Context, h *Host, deployer common.Address, build func(c *Call, addr common.Address) (T, error)) (T, error) {
	var out T
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.execute(ctx, deployer, func(c *Call) error {
		addr := crypto.CreateAddress(deployer, h.nonces[deployer])
		h.nonces[deployer]++
		contract, err := build(c, addr)
		if err != nil {
			return err
		}
		if contract.Address() != addr {
			return fmt.Errorf("host: contract reports %s, deployed at %s", contract.Address().Hex(), addr.Hex())
		}
		h.register(contract)
		out = contract
		return nil
	})
	return out, err
}

// Register adds a contract at a caller-chosen address (used for accounts a
// contract creates, such as venue pairs). Must be called inside a call.
func (c *Call) Register(contract Contract) error {
	if _, exists := c.host.contracts[contract.Address()]; exists {
		return revert.New(revert.ErrInvalidState, "host: address already in use")
	}
	c.host.register(contract)
	return nil
}

func (h *Host) register(contract Contract) {
	h.contracts[contract.Address()] = contract
	h.order = append(h.order, contract.Address())
}

// Read runs fn while holding the host lock, for consistent reads from other
// goroutines. Contract view methods are otherwise unsynchronized.
func (h *Host) Read(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn()
}

// IsContract reports whether addr holds a deployed contract.
func (h *Host) IsContract(addr common.Address) bool {
	_, ok := h.contracts[addr]
	return ok
}

// Contract returns the contract at addr.
func (h *Host) Contract(addr common.Address) (Contract, bool) {
	c, ok := h.contracts[addr]
	return c, ok
}

// Fund credits native value to addr outside any call (genesis allocation).
func (h *Host) Fund(addr common.Address, amount *uint256.Int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.credit(addr, amount)
}

// NativeBalance returns addr's native balance.
func (h *Host) NativeBalance(addr common.Address) *uint256.Int {
	if b, ok := h.native[addr]; ok {
		return b.Clone()
	}
	return new(uint256.Int)
}

// Block returns the number of the last committed call.
func (h *Host) Block() uint64 { return h.block }

// Logs returns a copy of every committed log.
func (h *Host) Logs() []types.Log {
	return append([]types.Log(nil), h.logs...)
}

// Receipts returns every committed receipt in order.
func (h *Host) Receipts() []*Receipt {
	return append([]*Receipt(nil), h.receipts...)
}

func (h *Host) credit(addr common.Address, amount *uint256.Int) {
	b, ok := h.native[addr]
	if !ok {
		b = new(uint256.Int)
		h.native[addr] = b
	}
	b.Add(b, amount)
}

// --- journal ---

type snapshot struct {
	logs      int
	contracts int
	nonces    map[common.Address]uint64
	native    map[common.Address]*uint256.Int
	states    []any
}

func (h *Host) snapshot() snapshot {
	s := snapshot{
		logs:      len(h.logs),
		contracts: len(h.order),
		nonces:    make(map[common.Address]uint64, len(h.nonces)),
		native:    make(map[common.Address]*uint256.Int, len(h.native)),
		states:    make([]any, len(h.order)),
	}
	for k, v := range h.nonces {
		s.nonces[k] = v
	}
	for k, v := range h.native {
		s.native[k] = v.Clone()
	}
	for i, addr := range h.order {
		if j, ok := h.contracts[addr].(Journaled); ok {
			s.states[i] = j.Snapshot()
		}
	}
	return s
}

func (h *Host) restore(s snapshot) {
	for _, addr := range h.order[s.contracts:] {
		delete(h.contracts, addr)
	}
	h.order = h.order[:s.contracts]
	for i, addr := range h.order {
		if j, ok := h.contracts[addr].(Journaled); ok {
			j.Restore(s.states[i])
		}
	}
	h.nonces = s.nonces
	h.native = s.native
	h.logs = h.logs[:s.logs]
}

func txHash(block uint64, caller common.Address) common.Hash {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], block)
	return crypto.Keccak256Hash(b[:], caller.Bytes())
}

// AccountFor derives a deterministic externally owned address from a label,
// for scenarios and tests.
func AccountFor(label string) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte(label))[12:])
}
