// Package config loads and saves the feeledger configuration directory.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Mohsinsiddi/feeledger/internal/chain"
	"github.com/Mohsinsiddi/feeledger/internal/deploy"
	"github.com/Mohsinsiddi/feeledger/internal/ledger"
	"github.com/Mohsinsiddi/feeledger/internal/rpc"
)

// ErrUnknownKey is returned by Set for a key that is not a config field.
var ErrUnknownKey = errors.New("unknown config key")

const (
	defaultLogMode   = "quiet"
	defaultNetwork   = "base"
	defaultMode      = chain.ModeMainnet
	defaultAlgorithm = "fastest"

	configFile    = "config.json"
	operatorsFile = "operators.json"
	keysDir       = "keys"
)

// DefaultDir is $FEELEDGER_CONFIG_DIR or ~/.feeledger.
func DefaultDir() (string, error) {
	if dir := os.Getenv(EnvConfigDir); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home dir: %w", err)
	}
	return filepath.Join(home, ".feeledger"), nil
}

// Load reads config from dir (or creates defaults). dir defaults to DefaultDir.
func Load(dir string) (*Config, error) {
	if dir == "" {
		var err error
		if dir, err = DefaultDir(); err != nil {
			return nil, err
		}
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("could not create config dir: %w", err)
	}

	cfg := defaults(dir)

	path := filepath.Join(dir, configFile)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.configDir = dir
	if cfg.CustomRPCs == nil {
		cfg.CustomRPCs = make(map[string][]string)
	}

	return cfg, nil
}

// Save writes the config to disk.
func (c *Config) Save() error {
	if err := os.MkdirAll(c.configDir, 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(c.configDir, configFile), data, 0o600)
}

// AddRPC adds a custom RPC URL for a chain.
func (c *Config) AddRPC(chain, url string) error {
	if c.CustomRPCs == nil {
		c.CustomRPCs = make(map[string][]string)
	}
	if slices.Contains(c.CustomRPCs[chain], url) {
		return fmt.Errorf("RPC %s already exists for chain %s", url, chain)
	}
	c.CustomRPCs[chain] = append(c.CustomRPCs[chain], url)
	return nil
}

// RemoveRPC removes a custom RPC URL for a chain.
func (c *Config) RemoveRPC(chain, url string) error {
	rpcs := c.CustomRPCs[chain]
	idx := slices.Index(rpcs, url)
	if idx == -1 {
		return fmt.Errorf("RPC %s not found for chain %s", url, chain)
	}
	c.CustomRPCs[chain] = slices.Delete(rpcs, idx, idx+1)
	return nil
}

// GetRPCs returns custom RPCs for a chain.
func (c *Config) GetRPCs(chain string) []string {
	return c.CustomRPCs[chain]
}

// Endpoints lists the RPCs to try for ch: custom ones first, then the
// registry's for the configured mode.
func (c *Config) Endpoints(ch *chain.Chain) []string {
	out := append([]string(nil), c.CustomRPCs[ch.Name]...)
	for _, u := range ch.RPCs(c.NetworkMode) {
		if !slices.Contains(out, u) {
			out = append(out, u)
		}
	}
	return out
}

// Venue returns the router and factory addresses for ch, honouring overrides.
func (c *Config) Venue(ch *chain.Chain) (router, factory common.Address, err error) {
	router, factory = ch.Router, ch.Factory
	if c.Router != "" {
		if !common.IsHexAddress(c.Router) {
			return router, factory, fmt.Errorf("invalid router address %q", c.Router)
		}
		router = common.HexToAddress(c.Router)
	}
	if c.Factory != "" {
		if !common.IsHexAddress(c.Factory) {
			return router, factory, fmt.Errorf("invalid factory address %q", c.Factory)
		}
		factory = common.HexToAddress(c.Factory)
	}
	return router, factory, nil
}

// DeployConfig applies the deployment defaults on top of deploy.DefaultConfig.
func (c *Config) DeployConfig() (deploy.Config, error) {
	cfg := deploy.DefaultConfig()
	d := c.Deploy
	if d.Decimals != 0 {
		cfg.Decimals = d.Decimals
		cfg.LegacyDecimals = d.Decimals
	}
	if d.MaxSupply != 0 || d.Decimals != 0 {
		whole := d.MaxSupply
		if whole == 0 {
			whole = 18183
		}
		cfg.MaxSupply = deploy.Units(whole, cfg.Decimals)
		cfg.LegacySupply = cfg.MaxSupply.Clone()
	}
	if d.BurnBps != 0 {
		cfg.BurnBps = d.BurnBps
	}
	cfg.DexFee = d.DexFee
	if d.CapPolicy != "" {
		p, ok := ledger.ParseCapPolicy(d.CapPolicy)
		if !ok {
			return cfg, fmt.Errorf("invalid cap policy %q", d.CapPolicy)
		}
		cfg.Cap = p
	}
	if d.SwapWindowSec > 0 {
		cfg.SwapWindow = time.Duration(d.SwapWindowSec) * time.Second
	}
	cfg.Slippage = d.SlippageBps
	return cfg, nil
}

// Keys lists the keys Set accepts, in display order.
func Keys() []string {
	return []string{
		"log_mode", "default_network", "network_mode", "rpc_algorithm",
		"router", "factory", "default_operator", "database_url", "metrics_addr",
		"deploy.decimals", "deploy.max_supply", "deploy.burn_bps", "deploy.dex_fee",
		"deploy.cap_policy", "deploy.swap_window_sec", "deploy.slippage_bps",
	}
}

// Get returns the value of key as shown by `config show`.
func (c *Config) Get(key string) (string, error) {
	switch key {
	case "log_mode":
		return c.LogMode, nil
	case "default_network":
		return c.DefaultNetwork, nil
	case "network_mode":
		return c.NetworkMode, nil
	case "rpc_algorithm":
		return c.RPCAlgorithm, nil
	case "router":
		return c.Router, nil
	case "factory":
		return c.Factory, nil
	case "default_operator":
		return c.DefaultOperator, nil
	case "database_url":
		return c.DatabaseURL, nil
	case "metrics_addr":
		return c.MetricsAddr, nil
	case "deploy.decimals":
		return strconv.FormatUint(uint64(c.Deploy.Decimals), 10), nil
	case "deploy.max_supply":
		return strconv.FormatUint(c.Deploy.MaxSupply, 10), nil
	case "deploy.burn_bps":
		return strconv.FormatUint(c.Deploy.BurnBps, 10), nil
	case "deploy.dex_fee":
		return strconv.FormatUint(c.Deploy.DexFee, 10), nil
	case "deploy.cap_policy":
		return c.Deploy.CapPolicy, nil
	case "deploy.swap_window_sec":
		return strconv.Itoa(c.Deploy.SwapWindowSec), nil
	case "deploy.slippage_bps":
		return strconv.FormatUint(c.Deploy.SlippageBps, 10), nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownKey, key)
}

// Set validates and assigns one key.
func (c *Config) Set(key, value string) error {
	uintValue := func(bits int) (uint64, error) {
		v, err := strconv.ParseUint(value, 10, bits)
		if err != nil {
			return 0, fmt.Errorf("%s: %q is not a number", key, value)
		}
		return v, nil
	}
	address := func() error {
		if value != "" && !common.IsHexAddress(value) {
			return fmt.Errorf("%s: %q is not an address", key, value)
		}
		return nil
	}

	switch key {
	case "log_mode":
		c.LogMode = value
	case "default_network":
		if _, err := chain.NewRegistry().GetByName(value); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		c.DefaultNetwork = value
	case "network_mode":
		if value != chain.ModeMainnet && value != chain.ModeTestnet {
			return fmt.Errorf("%s: want %s or %s", key, chain.ModeMainnet, chain.ModeTestnet)
		}
		c.NetworkMode = value
	case "rpc_algorithm":
		if _, err := rpc.ParseAlgorithm(value); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		c.RPCAlgorithm = value
	case "router":
		if err := address(); err != nil {
			return err
		}
		c.Router = value
	case "factory":
		if err := address(); err != nil {
			return err
		}
		c.Factory = value
	case "default_operator":
		c.DefaultOperator = value
	case "database_url":
		c.DatabaseURL = value
	case "metrics_addr":
		c.MetricsAddr = value
	case "deploy.decimals":
		v, err := uintValue(8)
		if err != nil {
			return err
		}
		c.Deploy.Decimals = uint8(v)
	case "deploy.max_supply":
		v, err := uintValue(64)
		if err != nil {
			return err
		}
		c.Deploy.MaxSupply = v
	case "deploy.burn_bps":
		v, err := uintValue(64)
		if err != nil {
			return err
		}
		if v < ledger.MinBurnBps || v > ledger.MaxBurnBps {
			return fmt.Errorf("%s: must be within [%d, %d]", key, ledger.MinBurnBps, ledger.MaxBurnBps)
		}
		c.Deploy.BurnBps = v
	case "deploy.dex_fee":
		v, err := uintValue(64)
		if err != nil {
			return err
		}
		c.Deploy.DexFee = v
	case "deploy.cap_policy":
		if _, ok := ledger.ParseCapPolicy(value); !ok {
			return fmt.Errorf("%s: unknown policy %q", key, value)
		}
		c.Deploy.CapPolicy = value
	case "deploy.swap_window_sec":
		v, err := uintValue(31)
		if err != nil {
			return err
		}
		c.Deploy.SwapWindowSec = int(v)
	case "deploy.slippage_bps":
		v, err := uintValue(64)
		if err != nil {
			return err
		}
		c.Deploy.SlippageBps = v
	default:
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return nil
}

// Dir returns the config directory.
func (c *Config) Dir() string {
	return c.configDir
}

// OperatorsPath is the operator metadata file.
func (c *Config) OperatorsPath() string {
	return filepath.Join(c.configDir, operatorsFile)
}

// KeysDir is where the file keystore keeps operator keys.
func (c *Config) KeysDir() string {
	return filepath.Join(c.configDir, keysDir)
}

// --- helpers ---

func defaults(dir string) *Config {
	def := deploy.DefaultConfig()
	return &Config{
		LogMode:        defaultLogMode,
		DefaultNetwork: defaultNetwork,
		NetworkMode:    defaultMode,
		RPCAlgorithm:   defaultAlgorithm,
		CustomRPCs:     make(map[string][]string),
		Deploy: DeployDefaults{
			Decimals:      def.Decimals,
			MaxSupply:     18183,
			BurnBps:       def.BurnBps,
			DexFee:        def.DexFee,
			CapPolicy:     def.Cap.String(),
			SwapWindowSec: int(def.SwapWindow / time.Second),
			SlippageBps:   def.Slippage,
		},
		configDir: dir,
	}
}
