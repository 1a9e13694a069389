package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Mohsinsiddi/feeledger/internal/chain"
	"github.com/Mohsinsiddi/feeledger/internal/ui"
)

var (
	initNetwork  string
	initDatabase string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the configuration file",
	Long: `Write the configuration file with defaults, creating the config
directory when missing. Existing settings are kept; flags override them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, ui.Banner(Version))

		if initNetwork != "" {
			if err := cfg.Set("default_network", initNetwork); err != nil {
				return err
			}
		}
		if initDatabase != "" {
			cfg.DatabaseURL = initDatabase
		}
		if err := cfg.Save(); err != nil {
			return fmt.Errorf("saving config: %w", err)
		}

		fmt.Fprintln(out, ui.Success("Configuration written to "+cfg.Dir()))
		fmt.Fprintln(out, ui.Hint("Networks: "+fmt.Sprint(chain.NewRegistry().Names())))
		fmt.Fprintln(out, ui.Hint("Run a scenario with: feeledger simulate <file.yaml>"))
		return nil
	},
}

func init() {
	initCmd.Flags().StringVar(&initNetwork, "network", "", "default network")
	initCmd.Flags().StringVar(&initDatabase, "database-url", "", "postgres connection string for persisted runs")
}
