package chain

import (
	"errors"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ErrChainNotFound is returned when a chain is not in the registry.
var ErrChainNotFound = errors.New("chain not found")

// Network modes.
const (
	ModeMainnet = "mainnet"
	ModeTestnet = "testnet"
)

// Chain holds the metadata the remote venue needs for one EVM network.
type Chain struct {
	Name           string `json:"name"`
	DisplayName    string `json:"display_name"`
	ChainID        int64  `json:"chain_id"`
	NativeCurrency string `json:"native_currency"`
	// Wrapped native token, the usual base asset of fee conversion.
	WrappedNative common.Address `json:"wrapped_native"`
	MainnetRPCs   []string       `json:"mainnet_rpcs"`
	TestnetRPCs   []string       `json:"testnet_rpcs"`
	TestnetName   string         `json:"testnet_name"`
	// UniswapV2-compatible deployment used as the default venue.
	DEX     string         `json:"dex"`
	Router  common.Address `json:"router"`
	Factory common.Address `json:"factory"`
}

// Registry is the chain registry.
type Registry struct {
	chains []Chain
	byName map[string]*Chain
	byID   map[int64]*Chain
}

// NewRegistry returns the registry of supported networks.
func NewRegistry() *Registry {
	chains := allChains()
	r := &Registry{
		chains: chains,
		byName: make(map[string]*Chain, len(chains)),
		byID:   make(map[int64]*Chain, len(chains)),
	}
	for i := range r.chains {
		c := &r.chains[i]
		r.byName[c.Name] = c
		r.byID[c.ChainID] = c
	}
	return r
}

// All returns every chain in the registry.
func (r *Registry) All() []Chain {
	return r.chains
}

// Names returns the chain slugs sorted alphabetically.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.chains))
	for _, c := range r.chains {
		out = append(out, c.Name)
	}
	sort.Strings(out)
	return out
}

// GetByName finds a chain by its slug name (e.g. "base", "ethereum").
func (r *Registry) GetByName(name string) (*Chain, error) {
	c, ok := r.byName[strings.ToLower(name)]
	if !ok {
		return nil, ErrChainNotFound
	}
	return c, nil
}

// GetByChainID finds a chain by its numeric chain ID.
func (r *Registry) GetByChainID(id int64) (*Chain, error) {
	c, ok := r.byID[id]
	if !ok {
		return nil, ErrChainNotFound
	}
	return c, nil
}

// RPCs returns the RPC list for a chain in the given mode.
func (c *Chain) RPCs(mode string) []string {
	if mode == ModeTestnet {
		return c.TestnetRPCs
	}
	return c.MainnetRPCs
}

// --- chain data ---

func allChains() []Chain {
	return []Chain{
		{
			Name: "ethereum", DisplayName: "Ethereum", ChainID: 1,
			NativeCurrency: "ETH",
			WrappedNative:  common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"),
			MainnetRPCs:    []string{"https://eth.llamarpc.com", "https://ethereum-rpc.publicnode.com"},
			TestnetRPCs:    []string{"https://rpc.sepolia.org", "https://sepolia.gateway.tenderly.co"},
			TestnetName:    "Sepolia",
			DEX:            "Uniswap V2",
			Router:         common.HexToAddress("0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D"),
			Factory:        common.HexToAddress("0x5C69bEe701ef814a2B6a3EDD4B1652CB9cc5aA6f"),
		},
		{
			Name: "base", DisplayName: "Base", ChainID: 8453,
			NativeCurrency: "ETH",
			WrappedNative:  common.HexToAddress("0x4200000000000000000000000000000000000006"),
			MainnetRPCs:    []string{"https://mainnet.base.org", "https://base.llamarpc.com"},
			TestnetRPCs:    []string{"https://sepolia.base.org"},
			TestnetName:    "Base Sepolia",
			DEX:            "Uniswap V2",
			Router:         common.HexToAddress("0x4752ba5DBc23f44D87826276BF6Fd6b1C372aD24"),
			Factory:        common.HexToAddress("0x8909Dc15e40173Ff4699343b6eB8132c65e18eC6"),
		},
		{
			Name: "bnb", DisplayName: "BNB Chain", ChainID: 56,
			NativeCurrency: "BNB",
			WrappedNative:  common.HexToAddress("0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c"),
			MainnetRPCs:    []string{"https://bsc-dataseed.binance.org", "https://bsc-rpc.publicnode.com"},
			TestnetRPCs:    []string{"https://data-seed-prebsc-1-s1.binance.org:8545"},
			TestnetName:    "BSC Testnet",
			DEX:            "PancakeSwap V2",
			Router:         common.HexToAddress("0x10ED43C718714eb63d5aA57B78B54704E256024E"),
			Factory:        common.HexToAddress("0xcA143Ce32Fe78f1f3d1A76a01e4D5F0aeB0dE4f3"),
		},
		{
			Name: "polygon", DisplayName: "Polygon", ChainID: 137,
			NativeCurrency: "POL",
			WrappedNative:  common.HexToAddress("0x0d500B1d8E8eF31E21C99d1Db9A6444d3ADf1270"),
			MainnetRPCs:    []string{"https://polygon-bor-rpc.publicnode.com", "https://polygon-pokt.nodies.app"},
			TestnetRPCs:    []string{"https://rpc-amoy.polygon.technology"},
			TestnetName:    "Amoy",
			DEX:            "QuickSwap",
			Router:         common.HexToAddress("0xa5E0829CaCEd8fFDD4De3c43696c57F7D7A678ff"),
			Factory:        common.HexToAddress("0x5757371414417b8C6CAad45bAeF941aBc7d3Ab32"),
		},
	}
}
