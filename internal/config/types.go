package config

// Config holds all feeledger configuration.
type Config struct {
	LogMode         string              `json:"log_mode"`
	DefaultNetwork  string              `json:"default_network"`
	NetworkMode     string              `json:"network_mode"`  // "mainnet" | "testnet"
	RPCAlgorithm    string              `json:"rpc_algorithm"` // "fastest" | "round-robin" | "failover"
	CustomRPCs      map[string][]string `json:"custom_rpcs"`
	Router          string              `json:"router,omitempty"`  // overrides the network's router
	Factory         string              `json:"factory,omitempty"` // overrides the network's factory
	DefaultOperator string              `json:"default_operator,omitempty"`
	DatabaseURL     string              `json:"database_url,omitempty"`
	MetricsAddr     string              `json:"metrics_addr,omitempty"`
	Deploy          DeployDefaults      `json:"deploy"`

	// internal: config dir path used for Save()
	configDir string
}

// DeployDefaults are the parameters simulations deploy with unless a
// scenario overrides them.
type DeployDefaults struct {
	Decimals      uint8  `json:"decimals"`
	MaxSupply     uint64 `json:"max_supply"` // whole tokens
	BurnBps       uint64 `json:"burn_bps"`
	DexFee        uint64 `json:"dex_fee"` // per mille
	CapPolicy     string `json:"cap_policy"`
	SwapWindowSec int    `json:"swap_window_sec"`
	SlippageBps   uint64 `json:"slippage_bps"`
}
