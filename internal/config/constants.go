package config

import "time"

// Timeouts used by the remote venue commands.
const (
	RPCSelectTimeout = 10 * time.Second // endpoint benchmark before picking
	QuoteTimeout     = 15 * time.Second
	TxConfirmTimeout = 3 * time.Minute // approval + swap confirmation wait
)

// EnvConfigDir overrides the config directory.
const EnvConfigDir = "FEELEDGER_CONFIG_DIR"
