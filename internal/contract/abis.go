// Package contract packs, sends and decodes calls to the on-chain contracts
// the remote venue talks to. Built-in ABIs are embedded in the binary.
package contract

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Built-in ABI IDs.
const (
	ERC20     = "erc20"
	V2Router  = "uniswapv2-router"
	V2Factory = "uniswapv2-factory"
	V2Pair    = "uniswapv2-pair"
)

// Builtin is a contract type whose ABI is embedded in the binary.
type Builtin struct {
	ID          string
	Name        string
	Description string
	ABI         abi.ABI
}

var builtins = map[string]Builtin{}

// RegisterBuiltin parses abiJSON and adds it to the registry. It panics on a
// malformed ABI; call it from init().
func RegisterBuiltin(id, name, description, abiJSON string) {
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		panic(fmt.Sprintf("contract: builtin %s: %v", id, err))
	}
	builtins[id] = Builtin{ID: id, Name: name, Description: description, ABI: parsed}
}

// GetBuiltin returns a built-in by ID. ok is false if not found.
func GetBuiltin(id string) (Builtin, bool) {
	b, ok := builtins[id]
	return b, ok
}

// MustABI returns the ABI of a registered built-in.
func MustABI(id string) abi.ABI {
	b, ok := builtins[id]
	if !ok {
		panic("contract: unknown builtin " + id)
	}
	return b.ABI
}

// AllBuiltins returns all registered built-ins sorted by ID.
func AllBuiltins() []Builtin {
	out := make([]Builtin, 0, len(builtins))
	for _, b := range builtins {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func init() {
	RegisterBuiltin(ERC20, "ERC-20 Standard Token", "Standard ERC-20 interface (EIP-20).", erc20JSON)
	RegisterBuiltin(V2Router, "UniswapV2 Router02", "Quotes and exact-input swaps along a token path.", routerJSON)
	RegisterBuiltin(V2Factory, "UniswapV2 Factory", "Pair lookup by token addresses.", factoryJSON)
	RegisterBuiltin(V2Pair, "UniswapV2 Pair", "Pair reserves and token ordering.", pairJSON)
}

const erc20JSON = `[
{"type":"function","name":"name","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
{"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
{"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
{"type":"function","name":"totalSupply","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"transfer","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"transferFrom","stateMutability":"nonpayable","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"event","name":"Transfer","anonymous":false,"inputs":[{"name":"from","type":"address","indexed":true},{"name":"to","type":"address","indexed":true},{"name":"value","type":"uint256","indexed":false}]},
{"type":"event","name":"Approval","anonymous":false,"inputs":[{"name":"owner","type":"address","indexed":true},{"name":"spender","type":"address","indexed":true},{"name":"value","type":"uint256","indexed":false}]}
]`

const routerJSON = `[
{"type":"function","name":"factory","stateMutability":"pure","inputs":[],"outputs":[{"name":"","type":"address"}]},
{"type":"function","name":"WETH","stateMutability":"pure","inputs":[],"outputs":[{"name":"","type":"address"}]},
{"type":"function","name":"getAmountsOut","stateMutability":"view","inputs":[{"name":"amountIn","type":"uint256"},{"name":"path","type":"address[]"}],"outputs":[{"name":"amounts","type":"uint256[]"}]},
{"type":"function","name":"swapExactTokensForTokens","stateMutability":"nonpayable","inputs":[{"name":"amountIn","type":"uint256"},{"name":"amountOutMin","type":"uint256"},{"name":"path","type":"address[]"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],"outputs":[{"name":"amounts","type":"uint256[]"}]},
{"type":"function","name":"swapExactTokensForTokensSupportingFeeOnTransferTokens","stateMutability":"nonpayable","inputs":[{"name":"amountIn","type":"uint256"},{"name":"amountOutMin","type":"uint256"},{"name":"path","type":"address[]"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],"outputs":[]}
]`

const factoryJSON = `[
{"type":"function","name":"getPair","stateMutability":"view","inputs":[{"name":"tokenA","type":"address"},{"name":"tokenB","type":"address"}],"outputs":[{"name":"pair","type":"address"}]},
{"type":"function","name":"allPairsLength","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]}
]`

const pairJSON = `[
{"type":"function","name":"token0","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
{"type":"function","name":"token1","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
{"type":"function","name":"getReserves","stateMutability":"view","inputs":[],"outputs":[{"name":"reserve0","type":"uint112"},{"name":"reserve1","type":"uint112"},{"name":"blockTimestampLast","type":"uint32"}]}
]`
