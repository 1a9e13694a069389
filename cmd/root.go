package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Mohsinsiddi/feeledger/internal/config"
	"github.com/Mohsinsiddi/feeledger/internal/logger"
)

// Version is the current release. Overridable via build ldflags:
//
//	go build -ldflags "-X github.com/Mohsinsiddi/feeledger/cmd.Version=1.2.3" .
var Version = "0.2.0"

var (
	cfgDir  string
	cfg     *config.Config
	log     = logger.Nop()
	verbose bool
	testnet bool
	mainnet bool
)

// rootCmd is the top-level command.
var rootCmd = &cobra.Command{
	Use:   "feeledger",
	Short: "Simulate and operate a fee-bearing token ledger",
	Long: `feeledger runs the PSI v2 fee-bearing ledger in an in-process host.

  Replay scenario scripts against a fresh deployment, inspect the events
  they emit, split amounts by the burn and fee schedule, and quote or swap
  against a remote UniswapV2 router.

Global flags --testnet and --mainnet override the configured network mode
for a single invocation. Persist with: feeledger config set network_mode <mode>`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}
		var err error
		cfg, err = config.Load(cfgDir)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if testnet {
			cfg.NetworkMode = "testnet"
		}
		if mainnet {
			cfg.NetworkMode = "mainnet"
		}
		mode := cfg.LogMode
		if verbose {
			mode = "debug"
		}
		if log, err = logger.New(mode); err != nil {
			return fmt.Errorf("building logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		log.Sync()
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	if envDir := os.Getenv(config.EnvConfigDir); envDir != "" {
		cfgDir = envDir
	}

	rootCmd.PersistentFlags().StringVar(&cfgDir, "config", cfgDir, "config directory (default: ~/.feeledger)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().BoolVar(&testnet, "testnet", false, "use testnet instead of mainnet")
	rootCmd.PersistentFlags().BoolVar(&mainnet, "mainnet", false, "use mainnet instead of testnet")
	rootCmd.MarkFlagsMutuallyExclusive("testnet", "mainnet")

	rootCmd.AddCommand(
		initCmd,
		configCmd,
		simulateCmd,
		feeCmd,
		eventsCmd,
		venueCmd,
		operatorCmd,
		versionCmd,
	)
}
