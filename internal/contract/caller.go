package contract

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"

	"github.com/Mohsinsiddi/feeledger/internal/chain"
)

// Caller calls read-only (view/pure) contract functions.
type Caller struct {
	client *chain.EVMClient
}

// NewCaller creates a Caller on client.
func NewCaller(client *chain.EVMClient) *Caller {
	return &Caller{client: client}
}

// Client returns the underlying JSON-RPC client.
func (c *Caller) Client() *chain.EVMClient { return c.client }

// Call packs method with args, runs it against to and unpacks the outputs.
func (c *Caller) Call(ctx context.Context, to common.Address, a abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	m, ok := a.Methods[method]
	if !ok {
		return nil, fmt.Errorf("function %q not found in ABI", method)
	}
	if !m.IsConstant() {
		return nil, fmt.Errorf("function %q is not a read function (stateMutability: %s)", method, m.StateMutability)
	}

	data, err := a.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", method, err)
	}
	out, err := c.client.Call(ctx, chain.CallMsg{To: to, Data: data})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	if len(out) == 0 && len(m.Outputs) > 0 {
		return nil, fmt.Errorf("%s: empty result from %s (no contract?)", method, to.Hex())
	}
	values, err := a.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("decoding %s result: %w", method, err)
	}
	return values, nil
}

// Selector returns the 4-byte selector of a canonical function signature,
// e.g. "transfer(address,uint256)", as 0x-prefixed hex.
func Selector(signature string) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(strings.ReplaceAll(signature, " ", "")))
	return "0x" + hex.EncodeToString(h.Sum(nil)[:4])
}
