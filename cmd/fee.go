package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Mohsinsiddi/feeledger/internal/access"
	"github.com/Mohsinsiddi/feeledger/internal/aggregator"
	"github.com/Mohsinsiddi/feeledger/internal/ledger"
	"github.com/Mohsinsiddi/feeledger/internal/scenario"
	"github.com/Mohsinsiddi/feeledger/internal/ui"
)

var (
	feeBurnBps   uint64
	feeDexFee    uint64
	feeScope     string
	feeTrade     string
	feeSender    []string
	feeRecipient []string
	feeNotFee    bool
	feeDecimals  uint8
)

var feeCmd = &cobra.Command{
	Use:   "fee",
	Short: "Fee schedule tools",
}

var feeSplitCmd = &cobra.Command{
	Use:   "split <amount>",
	Short: "Show how a transfer amount divides into burn, fee and net",
	Long: `Show how a transfer divides into burn, aggregator fee and the amount
the recipient receives. The amount is in base units; underscores and an
exponent are accepted (1_000e9).

Rates default to the configured deployment. --trade picks the kind of
transfer: "transfer" (wallet to wallet), "buy" (from the pair) or "sell"
(to the pair). --sender/--recipient list the exclusion sets (burn, fee,
dex-fee) each party belongs to.

Examples:
  feeledger fee split 1000e9
  feeledger fee split 1000e9 --trade sell --dex-fee 20
  feeledger fee split 500 --trade buy --recipient dex-fee`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := scenario.ParseAmount(args[0])
		if err != nil {
			return err
		}
		trade, err := parseTrade(feeTrade, feeSender, feeRecipient)
		if err != nil {
			return err
		}
		terms, err := feeTerms(cmd)
		if err != nil {
			return err
		}

		burnBps, feeRate := ledger.Policy(trade, terms)
		split, err := ledger.Divide(amount, burnBps, feeRate)
		if err != nil {
			return err
		}

		dec := feeDecimals
		if !cmd.Flags().Changed("decimals") {
			dec = cfg.Deploy.Decimals
		}
		pairs := [][2]string{
			{"Amount", amount.Dec() + " (" + ui.FormatUnits(amount, dec) + ")"},
			{"Burn rate", fmt.Sprintf("%d / %d", burnBps, ledger.BurnDenominator)},
			{"Fee rate", fmt.Sprintf("%d / %d (%s)", feeRate, ledger.FeeDenominator, terms.Scope)},
			{"Burned", ui.Val(split.Burn.Dec())},
			{"Fee", ui.Val(split.Fee.Dec())},
			{"Received", ui.Val(split.Net.Dec()) + " (" + ui.FormatUnits(split.Net, dec) + ")"},
		}
		fmt.Fprintln(cmd.OutOrStdout(), ui.KeyValueBlock("Transfer split", pairs))
		return nil
	},
}

// feeTerms resolves rates from flags, falling back to the configured
// deployment.
func feeTerms(cmd *cobra.Command) (ledger.Terms, error) {
	terms := ledger.Terms{
		BurnBps:  cfg.Deploy.BurnBps,
		FeeRate:  cfg.Deploy.DexFee,
		FeeToken: !feeNotFee,
	}
	if cmd.Flags().Changed("burn-bps") {
		terms.BurnBps = feeBurnBps
	}
	if cmd.Flags().Changed("dex-fee") {
		terms.FeeRate = feeDexFee
	}
	if terms.BurnBps < ledger.MinBurnBps || terms.BurnBps > ledger.MaxBurnBps {
		return terms, fmt.Errorf("burn rate must be within [%d, %d] basis points", ledger.MinBurnBps, ledger.MaxBurnBps)
	}
	if terms.FeeRate > aggregator.MaxDexFee {
		return terms, fmt.Errorf("dex fee must be within [0, %d] per mille", aggregator.MaxDexFee)
	}
	scope, ok := ledger.ParseFeeScope(feeScope)
	if !ok {
		return terms, fmt.Errorf("unknown fee scope %q (want dex or all)", feeScope)
	}
	terms.Scope = scope
	return terms, nil
}

func parseTrade(kind string, sender, recipient []string) (ledger.Trade, error) {
	var t ledger.Trade
	switch strings.ToLower(kind) {
	case "", "transfer":
	case "buy":
		t.FromPair = true
	case "sell":
		t.ToPair = true
	default:
		return t, fmt.Errorf("unknown trade %q (want transfer, buy or sell)", kind)
	}
	var err error
	if t.Sender, err = parseExclusions(sender); err != nil {
		return t, err
	}
	if t.Recipient, err = parseExclusions(recipient); err != nil {
		return t, err
	}
	return t, nil
}

func parseExclusions(names []string) (ledger.Exclusions, error) {
	var ex ledger.Exclusions
	for _, n := range names {
		set, ok := access.ParseSet(strings.TrimSpace(n))
		if !ok {
			return ex, fmt.Errorf("unknown exclusion set %q (want burn, fee or dex-fee)", n)
		}
		switch set {
		case access.BurnExempt:
			ex.Burn = true
		case access.FeeExempt:
			ex.Fee = true
		case access.DexFeeExempt:
			ex.DexFee = true
		}
	}
	return ex, nil
}

func init() {
	feeSplitCmd.Flags().Uint64Var(&feeBurnBps, "burn-bps", 0, "burn rate in basis points (default: configured)")
	feeSplitCmd.Flags().Uint64Var(&feeDexFee, "dex-fee", 0, "aggregator fee in per mille (default: configured)")
	feeSplitCmd.Flags().StringVar(&feeScope, "scope", "dex", "fee scope: dex or all")
	feeSplitCmd.Flags().StringVar(&feeTrade, "trade", "transfer", "transfer, buy or sell")
	feeSplitCmd.Flags().StringSliceVar(&feeSender, "sender", nil, "exclusion sets of the sender")
	feeSplitCmd.Flags().StringSliceVar(&feeRecipient, "recipient", nil, "exclusion sets of the recipient")
	feeSplitCmd.Flags().BoolVar(&feeNotFee, "not-fee-token", false, "the ledger is not registered with the aggregator")
	feeSplitCmd.Flags().Uint8Var(&feeDecimals, "decimals", 9, "decimals used to display amounts (default: configured)")
	feeCmd.AddCommand(feeSplitCmd)
}
