package cmd

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/Mohsinsiddi/feeledger/internal/chain"
	"github.com/Mohsinsiddi/feeledger/internal/config"
	"github.com/Mohsinsiddi/feeledger/internal/contract"
	"github.com/Mohsinsiddi/feeledger/internal/rpc"
	"github.com/Mohsinsiddi/feeledger/internal/scenario"
	"github.com/Mohsinsiddi/feeledger/internal/ui"
	"github.com/Mohsinsiddi/feeledger/internal/venue"
	"github.com/Mohsinsiddi/feeledger/internal/wallet"
)

var (
	venueNetwork  string
	venueOperator string
	venueSlippage uint64
	venueMinOut   string
	venueYes      bool
)

var venueCmd = &cobra.Command{
	Use:   "venue",
	Short: "Quote and swap on the network's UniswapV2 router",
	Long: `Talk to the UniswapV2-compatible router of a network. Tokens are
addresses, or "wrapped" for the network's wrapped native token. Amounts are
in base units.`,
}

var venueQuoteCmd = &cobra.Command{
	Use:   "quote <token-in> <token-out> <amount>",
	Short: "Quote an exact-input swap",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), config.QuoteTimeout)
		defer cancel()
		router, ch, err := dialRouter(ctx, nil)
		if err != nil {
			return err
		}
		in, out, err := tokenPair(ch, args[0], args[1])
		if err != nil {
			return err
		}
		amount, err := scenario.ParseAmount(args[2])
		if err != nil {
			return err
		}
		quote, err := router.Quote(ctx, in, out, amount)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), ui.KeyValueBlock("Quote on "+ch.DisplayName, [][2]string{
			{"Router", ui.Addr(router.Address().Hex())},
			{"In", amount.Dec()},
			{"Out", ui.Val(quote.Dec())},
			{"Min out", fmt.Sprintf("%s (%d bps slippage)", venue.MinOut(quote, venueSlippage).Dec(), venueSlippage)},
		}))
		return nil
	},
}

var venuePairCmd = &cobra.Command{
	Use:   "pair <token-a> <token-b>",
	Short: "Look up the pair of two tokens",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), config.QuoteTimeout)
		defer cancel()
		router, ch, err := dialRouter(ctx, nil)
		if err != nil {
			return err
		}
		a, b, err := tokenPair(ch, args[0], args[1])
		if err != nil {
			return err
		}
		pair, err := router.Pair(ctx, a, b)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), ui.Addr(pair.Hex()))
		return nil
	},
}

var venueReservesCmd = &cobra.Command{
	Use:   "reserves <token-a> <token-b>",
	Short: "Show the reserves of a pair",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), config.QuoteTimeout)
		defer cancel()
		router, ch, err := dialRouter(ctx, nil)
		if err != nil {
			return err
		}
		a, b, err := tokenPair(ch, args[0], args[1])
		if err != nil {
			return err
		}
		ra, rb, err := router.Reserves(ctx, a, b)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), ui.KeyValueBlock("Reserves", [][2]string{
			{ui.TruncateAddr(a.Hex()), ui.Val(ra.Dec())},
			{ui.TruncateAddr(b.Hex()), ui.Val(rb.Dec())},
		}))
		return nil
	},
}

var venueSwapCmd = &cobra.Command{
	Use:   "swap <token-in> <token-out> <amount>",
	Short: "Swap an exact input amount, signed by an operator",
	Long: `Sell <amount> of <token-in> for <token-out>. The minimum output is the
router's quote less --slippage unless --min-out is given. The router is
approved first when the operator's allowance is short.`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), config.TxConfirmTimeout)
		defer cancel()
		out := cmd.OutOrStdout()

		name := venueOperator
		if name == "" {
			name = cfg.DefaultOperator
		}
		signer, err := operatorManager().Signer(name)
		if err != nil {
			return fmt.Errorf("operator: %w", err)
		}
		router, ch, err := dialRouter(ctx, signer)
		if err != nil {
			return err
		}
		in, tokenOut, err := tokenPair(ch, args[0], args[1])
		if err != nil {
			return err
		}
		amount, err := scenario.ParseAmount(args[2])
		if err != nil {
			return err
		}

		req := venue.SwapRequest{TokenIn: in, TokenOut: tokenOut, AmountIn: amount}
		if venueMinOut != "" {
			if req.MinOut, err = scenario.ParseAmount(venueMinOut); err != nil {
				return err
			}
		} else {
			quote, err := router.Quote(ctx, in, tokenOut, amount)
			if err != nil {
				return err
			}
			req.MinOut = venue.MinOut(quote, venueSlippage)
		}

		fmt.Fprintln(out, ui.KeyValueBlock("Swap on "+ch.DisplayName, [][2]string{
			{"Operator", ui.Addr(signer.Address().Hex())},
			{"Sell", amount.Dec() + " " + in.Hex()},
			{"For at least", req.MinOut.Dec() + " " + tokenOut.Hex()},
		}))
		if !venueYes && !ui.Confirm(cmd.InOrStdin(), out, "Send transaction?") {
			fmt.Fprintln(out, ui.Warn("Aborted"))
			return nil
		}

		spin := ui.NewSpinner(out, "Waiting for confirmation...")
		spin.Start()
		res, err := router.Swap(ctx, req)
		spin.Stop()
		if err != nil {
			return err
		}
		if res.Approval != nil {
			fmt.Fprintln(out, ui.Success("Approved in "+res.Approval.Hash.Hex()))
		}
		fmt.Fprintln(out, ui.Success(fmt.Sprintf("Swapped in %s (block %d)", res.Swap.Hash.Hex(), res.Swap.BlockNumber)))
		return nil
	},
}

// dialRouter resolves the network, picks an RPC endpoint and builds the
// router. A nil signer gives a read-only router.
func dialRouter(ctx context.Context, signer *wallet.Signer) (*venue.Router, *chain.Chain, error) {
	name := venueNetwork
	if name == "" {
		name = cfg.DefaultNetwork
	}
	ch, err := chain.NewRegistry().GetByName(name)
	if err != nil {
		return nil, nil, fmt.Errorf("unknown network %q", name)
	}
	algo, err := rpc.ParseAlgorithm(cfg.RPCAlgorithm)
	if err != nil {
		return nil, nil, err
	}
	routerAddr, factory, err := cfg.Venue(ch)
	if err != nil {
		return nil, nil, err
	}

	selectCtx, cancel := context.WithTimeout(ctx, config.RPCSelectTimeout)
	url, err := rpc.Select(selectCtx, cfg.Endpoints(ch), algo)
	cancel()
	if err != nil {
		return nil, nil, fmt.Errorf("no usable RPC for %s (%s): %w", ch.Name, cfg.NetworkMode, err)
	}
	log.Debug("rpc selected", "network", ch.Name, "url", url)

	client := chain.NewEVMClient(url)
	opts := []venue.RouterOption{venue.WithRouterLogger(log)}
	if signer != nil {
		opts = append(opts, venue.WithSender(contract.NewSender(client, signer, big.NewInt(ch.ChainID))))
	}
	return venue.NewRouter(client, routerAddr, factory, opts...), ch, nil
}

func tokenPair(ch *chain.Chain, a, b string) (common.Address, common.Address, error) {
	ta, err := resolveToken(ch, a)
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	tb, err := resolveToken(ch, b)
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	return ta, tb, nil
}

// resolveToken accepts a hex address or "wrapped" for the network's wrapped
// native token.
func resolveToken(ch *chain.Chain, s string) (common.Address, error) {
	switch strings.ToLower(s) {
	case "wrapped", "weth", "w" + strings.ToLower(ch.NativeCurrency):
		return ch.WrappedNative, nil
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid token %q: want an address or \"wrapped\"", s)
	}
	return common.HexToAddress(s), nil
}

func init() {
	venueCmd.PersistentFlags().StringVarP(&venueNetwork, "network", "n", "", "network (default: configured)")
	venueCmd.PersistentFlags().Uint64Var(&venueSlippage, "slippage", 50, "slippage tolerance in basis points")
	venueSwapCmd.Flags().StringVar(&venueOperator, "operator", "", "operator to sign with (default: configured)")
	venueSwapCmd.Flags().StringVar(&venueMinOut, "min-out", "", "minimum output in base units")
	venueSwapCmd.Flags().BoolVarP(&venueYes, "yes", "y", false, "skip the confirmation prompt")
	venueCmd.AddCommand(venueQuoteCmd, venuePairCmd, venueReservesCmd, venueSwapCmd)
}
