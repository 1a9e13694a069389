// Package events defines the log events emitted by the ledger contracts and
// encodes them as go-ethereum logs: indexed addresses become topics, every
// other argument is a 32-byte big-endian word in the data section.
package events

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// Event is one event signature. All indexed arguments are addresses.
type Event struct {
	Name      string
	Signature string
	Indexed   int
	Fields    []string // names of indexed args followed by data words
	id        common.Hash
}

var byID = map[common.Hash]*Event{}

func define(sig string, indexed int, fields ...string) *Event {
	e := &Event{
		Name:      sig[:strings.IndexByte(sig, '(')],
		Signature: sig,
		Indexed:   indexed,
		Fields:    fields,
		id:        crypto.Keccak256Hash([]byte(sig)),
	}
	byID[e.id] = e
	return e
}

// Token events.
var (
	Transfer  = define("Transfer(address,address,uint256)", 2, "from", "to", "value")
	Approval  = define("Approval(address,address,uint256)", 2, "owner", "spender", "value")
	Burn      = define("Burn(address,uint256)", 1, "from", "amount")
	Deposit   = define("Deposit(address,uint256)", 1, "dst", "wad")
	Migrated  = define("Migrated(address,uint256,uint256)", 1, "holder", "legacyAmount", "amount")
	SwapOpen  = define("SwapEnabled()", 0)
	BurnRate  = define("BurnRateChanged(uint256,uint256)", 0, "oldRate", "newRate")
	DexPair   = define("DexPairSet(address,bool)", 1, "pair", "enabled")
	Exclusion = define("ExclusionChanged(address,uint8,bool)", 1, "account", "set", "excluded")
)

// Role events.
var (
	GovernorChanged        = define("GovernorChanged(address,address)", 2, "previous", "next")
	OwnershipTransferred   = define("OwnershipTransferred(address,address)", 2, "previous", "next")
	MintingContractAdded   = define("MintingContractAdded(address)", 1, "minter")
	MintingContractRemoved = define("MintingContractRemoved(address)", 1, "minter")
)

// Aggregator events.
var (
	FeeTokenAdded   = define("FeeTokenAdded(address)", 1, "token")
	FeeTokenRemoved = define("FeeTokenRemoved(address)", 1, "token")
	FeeGathered     = define("FeeGathered(address,uint256)", 1, "token", "amount")
	SwapExecuted    = define("SwapExecuted(address,uint256,uint256)", 1, "token", "amountIn", "amountOut")
	SwapFailed      = define("SwapFailed(address,uint256)", 1, "token", "amountIn")
	FeeReleased     = define("FeeReleased(address,address,uint256)", 2, "token", "to", "amount")
	DexFeeChanged   = define("DexFeeChanged(uint256,uint256)", 0, "oldFee", "newFee")
)

// Venue events.
var (
	PairCreated    = define("PairCreated(address,address,address)", 2, "token0", "token1", "pair")
	VenueSwap      = define("Swap(address,address,uint256,uint256)", 2, "tokenIn", "tokenOut", "amountIn", "amountOut")
	LiquidityAdded = define("LiquidityAdded(address,address,uint256,uint256,uint256)", 2, "pair", "to", "amountA", "amountB", "liquidity")
)

// ID is topic 0 of the event.
func (e *Event) ID() common.Hash { return e.id }

// Log builds a log for this event. topics must hold exactly e.Indexed
// addresses; words are the non-indexed arguments in order.
func (e *Event) Log(contract common.Address, topics []common.Address, words ...*uint256.Int) types.Log {
	if len(topics) != e.Indexed {
		panic(fmt.Sprintf("events: %s wants %d indexed args, got %d", e.Signature, e.Indexed, len(topics)))
	}
	l := types.Log{
		Address: contract,
		Topics:  make([]common.Hash, 0, 1+len(topics)),
		Data:    make([]byte, 0, 32*len(words)),
	}
	l.Topics = append(l.Topics, e.id)
	for _, a := range topics {
		l.Topics = append(l.Topics, common.BytesToHash(a.Bytes()))
	}
	for _, w := range words {
		b := w.Bytes32()
		l.Data = append(l.Data, b[:]...)
	}
	return l
}

// Word encodes a small integer or flag as an event word.
func Word(v uint64) *uint256.Int { return uint256.NewInt(v) }

// Flag encodes a bool as an event word.
func Flag(b bool) *uint256.Int {
	if b {
		return uint256.NewInt(1)
	}
	return new(uint256.Int)
}

// Decoded is a log resolved against the known event set.
type Decoded struct {
	Event     *Event
	Contract  common.Address
	Addresses []common.Address
	Words     []*uint256.Int
}

// Decode resolves l. ok is false for unknown or malformed logs.
func Decode(l types.Log) (Decoded, bool) {
	if len(l.Topics) == 0 {
		return Decoded{}, false
	}
	e, found := byID[l.Topics[0]]
	if !found || len(l.Topics) != 1+e.Indexed || len(l.Data)%32 != 0 {
		return Decoded{}, false
	}
	d := Decoded{Event: e, Contract: l.Address}
	for _, t := range l.Topics[1:] {
		d.Addresses = append(d.Addresses, common.BytesToAddress(t.Bytes()))
	}
	for off := 0; off < len(l.Data); off += 32 {
		d.Words = append(d.Words, new(uint256.Int).SetBytes32(l.Data[off:off+32]))
	}
	return d, true
}

// Is reports whether l is an instance of e.
func Is(l types.Log, e *Event) bool {
	return len(l.Topics) > 0 && l.Topics[0] == e.id
}

// Args renders the decoded arguments as name=value pairs in declaration order.
func (d Decoded) Args() []string {
	var out []string
	for i, a := range d.Addresses {
		out = append(out, fmt.Sprintf("%s=%s", fieldName(d.Event, i), a.Hex()))
	}
	for i, w := range d.Words {
		out = append(out, fmt.Sprintf("%s=%s", fieldName(d.Event, len(d.Addresses)+i), w.Dec()))
	}
	return out
}

// Named returns the decoded arguments keyed by field name.
func (d Decoded) Named() map[string]string {
	out := make(map[string]string, len(d.Addresses)+len(d.Words))
	for i, a := range d.Addresses {
		out[fieldName(d.Event, i)] = a.Hex()
	}
	for i, w := range d.Words {
		out[fieldName(d.Event, len(d.Addresses)+i)] = w.Dec()
	}
	return out
}

func fieldName(e *Event, i int) string {
	if i < len(e.Fields) {
		return e.Fields[i]
	}
	return fmt.Sprintf("arg%d", i)
}

// Known returns every defined event sorted by name.
func Known() []*Event {
	out := make([]*Event, 0, len(byID))
	for _, e := range byID {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Signature < out[j].Signature })
	return out
}
