package host

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

// Call is the context of one executing operation. It is only valid until the
// function passed to Execute returns.
type Call struct {
	ctx    context.Context
	host   *Host
	caller common.Address
	origin common.Address
	depth  int
	now    time.Time
	block  uint64
}

// Caller is the immediate caller of the current frame.
func (c *Call) Caller() common.Address { return c.caller }

// Origin is the account that started the outer call.
func (c *Call) Origin() common.Address { return c.origin }

// Context returns the context of the outer call.
func (c *Call) Context() context.Context { return c.ctx }

// Now is the timestamp of the call.
func (c *Call) Now() time.Time { return c.now }

// Block is the block number the call commits in.
func (c *Call) Block() uint64 { return c.block }

// Depth is the nesting depth of the frame, 0 for the outer call.
func (c *Call) Depth() int { return c.depth }

// Host returns the executing host.
func (c *Call) Host() *Host { return c.host }

// Nested returns a frame in which from is the caller, as when a contract
// calls another contract.
func (c *Call) Nested(from common.Address) *Call {
	n := *c
	n.caller = from
	n.depth = c.depth + 1
	return &n
}

// Try runs fn in a sub-scope. When fn fails only the changes made inside the
// scope are undone and the error is returned; the enclosing call continues.
func (c *Call) Try(fn func(c *Call) error) error {
	snap := c.host.snapshot()
	if err := fn(c); err != nil {
		c.host.restore(snap)
		return err
	}
	return nil
}

// Emit appends a log. Logs are dropped if the call reverts.
func (c *Call) Emit(l types.Log) {
	l.BlockNumber = c.block
	c.host.logs = append(c.host.logs, l)
}

// SendValue moves native value from the caller to the recipient. Contract
// recipients must implement Receiver; their Receive runs with the sender as
// caller.
func (c *Call) SendValue(to common.Address, amount *uint256.Int) error {
	h := c.host
	bal := h.NativeBalance(c.caller)
	if bal.Lt(amount) {
		return ErrInsufficientNative
	}
	h.native[c.caller] = bal.Sub(bal, amount)
	h.credit(to, amount)

	contract, ok := h.contracts[to]
	if !ok {
		return nil
	}
	recv, ok := contract.(Receiver)
	if !ok {
		return ErrNotReceiver
	}
	return recv.Receive(c, amount.Clone())
}
