package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Mohsinsiddi/feeledger/internal/config"
	"github.com/Mohsinsiddi/feeledger/internal/ui"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configShowCmd = &cobra.Command{
	Use:     "show",
	Aliases: []string{"list"},
	Short:   "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		pairs, err := configPairs(cfg)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, ui.KeyValueBlock("Current Configuration", pairs))
		for chainName, urls := range cfg.CustomRPCs {
			for _, u := range urls {
				fmt.Fprintln(out, ui.Meta("rpc "+chainName+": "+u))
			}
		}
		fmt.Fprintln(out, ui.Meta("Config directory: "+cfg.Dir()))
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value. Keys:

  log_mode, default_network, network_mode, rpc_algorithm, router, factory,
  default_operator, database_url, metrics_addr, deploy.decimals,
  deploy.max_supply, deploy.burn_bps, deploy.dex_fee, deploy.cap_policy,
  deploy.swap_window_sec, deploy.slippage_bps`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := cfg.Set(key, value); err != nil {
			return err
		}
		if err := cfg.Save(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), ui.Success(fmt.Sprintf("%s set to %q", key, value)))
		return nil
	},
}

var configAddRPCCmd = &cobra.Command{
	Use:   "add-rpc <chain> <url>",
	Short: "Add a custom RPC for a chain",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		chainName, url := args[0], args[1]
		if err := cfg.AddRPC(chainName, url); err != nil {
			// Already present.
			fmt.Fprintln(cmd.OutOrStdout(), ui.Warn(err.Error()))
			return nil
		}
		if err := cfg.Save(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), ui.Success(fmt.Sprintf("RPC %s added for %s", url, chainName)))
		return nil
	},
}

var configRemoveRPCCmd = &cobra.Command{
	Use:   "remove-rpc <chain> <url>",
	Short: "Remove a custom RPC",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.RemoveRPC(args[0], args[1]); err != nil {
			return err
		}
		if err := cfg.Save(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), ui.Success("RPC removed"))
		return nil
	},
}

// configPairs lists every settable key with its current value.
func configPairs(c *config.Config) ([][2]string, error) {
	keys := config.Keys()
	pairs := make([][2]string, 0, len(keys))
	for _, k := range keys {
		v, err := c.Get(k)
		if err != nil {
			return nil, err
		}
		switch {
		case v == "":
			v = "-"
		case k == "database_url":
			v = redactDSN(v)
		}
		pairs = append(pairs, [2]string{k, v})
	}
	return pairs, nil
}

func init() {
	configCmd.AddCommand(configShowCmd, configSetCmd, configAddRPCCmd, configRemoveRPCCmd)
}
