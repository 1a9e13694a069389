package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Mohsinsiddi/feeledger/internal/ui"
	"github.com/Mohsinsiddi/feeledger/internal/wallet"
)

var operatorKeyFile string

var operatorCmd = &cobra.Command{
	Use:   "operator",
	Short: "Manage the accounts that sign venue swaps",
}

var operatorImportCmd = &cobra.Command{
	Use:   "import <name>",
	Short: "Import a private key",
	Long: `Import a hex private key into the OS keychain (or the file keystore
under the config directory). The key is read from --key-file, or from the
first line of stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := readKey(cmd.InOrStdin(), operatorKeyFile)
		if err != nil {
			return err
		}
		op, err := operatorManager().Import(args[0], key)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, ui.Success(fmt.Sprintf("Operator %q imported: %s", op.Name, ui.Addr(op.Address.Hex()))))
		if !op.IsDefault {
			fmt.Fprintln(out, ui.Hint("Make it the default with: feeledger operator use "+op.Name))
		}
		return nil
	},
}

var operatorShowCmd = &cobra.Command{
	Use:     "show [name]",
	Aliases: []string{"list"},
	Short:   "Show one operator, or all of them",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr := operatorManager()
		out := cmd.OutOrStdout()
		if len(args) == 1 {
			op, err := mgr.Get(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(out, ui.KeyValueBlock("Operator "+op.Name, [][2]string{
				{"Address", ui.Addr(op.Address.Hex())},
				{"Default", fmt.Sprint(op.IsDefault)},
				{"Key", op.KeyRef},
				{"Imported", op.CreatedAt},
			}))
			return nil
		}
		ops, err := mgr.List()
		if err != nil {
			return err
		}
		if len(ops) == 0 {
			fmt.Fprintln(out, ui.Info("No operators yet. Import one with: feeledger operator import <name>"))
			return nil
		}
		t := ui.NewTable("Name", "Address", "Default")
		for _, op := range ops {
			def := ""
			if op.IsDefault {
				def = "*"
			}
			t.AddRow(op.Name, op.Address.Hex(), def)
		}
		fmt.Fprintln(out, t.Render())
		return nil
	},
}

var operatorUseCmd = &cobra.Command{
	Use:   "use <name>",
	Short: "Set the default operator",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := operatorManager().SetDefault(args[0]); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), ui.Success(fmt.Sprintf("Default operator set to %q", args[0])))
		return nil
	},
}

var operatorRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove an operator and its stored key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := operatorManager().Remove(args[0]); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), ui.Success(fmt.Sprintf("Operator %q removed", args[0])))
		return nil
	},
}

func operatorManager() *wallet.Manager {
	return wallet.NewManager(
		wallet.WithStore(wallet.NewJSONStore(cfg.OperatorsPath())),
		wallet.WithKeystore(wallet.DefaultKeystore(cfg.KeysDir())),
	)
}

// readKey returns the trimmed key from path, or from the first line of in
// when path is empty.
func readKey(in io.Reader, path string) (string, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("reading key file: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("reading key: %w", err)
	}
	key := strings.TrimSpace(line)
	if key == "" {
		return "", fmt.Errorf("no key given: pass --key-file or pipe the key on stdin")
	}
	return key, nil
}

func init() {
	operatorImportCmd.Flags().StringVar(&operatorKeyFile, "key-file", "", "file holding the hex private key")
	operatorCmd.AddCommand(operatorImportCmd, operatorShowCmd, operatorUseCmd, operatorRemoveCmd)
}
