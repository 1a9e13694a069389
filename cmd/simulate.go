package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/Mohsinsiddi/feeledger/internal/observability"
	"github.com/Mohsinsiddi/feeledger/internal/scenario"
	"github.com/Mohsinsiddi/feeledger/internal/ui"
)

var (
	simEvents      bool
	simInteractive bool
	simPersist     bool
	simMetricsAddr string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate <file.yaml>",
	Short: "Run a scenario against a fresh deployment",
	Long: `Deploy the ledger, aggregator, reward ledger and desk in an
in-process host and replay a scenario script against them.

Each step is one call. A step with expect_revert passes when the call reverts
with a reason containing the given text ("*" accepts any reason). The run
stops at the first unexpected outcome.

Examples:
  feeledger simulate scenarios/fee_cycle.yaml
  feeledger simulate scenarios/fee_cycle.yaml --events
  feeledger simulate scenarios/fee_cycle.yaml --interactive
  feeledger simulate scenarios/fee_cycle.yaml --persist --metrics-addr :9100`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		out := cmd.OutOrStdout()

		sc, err := scenario.Load(args[0])
		if err != nil {
			return err
		}
		base, err := cfg.DeployConfig()
		if err != nil {
			return err
		}
		opts := []scenario.Option{scenario.WithLogger(log), scenario.WithDefaults(base)}

		addr := simMetricsAddr
		if addr == "" {
			addr = cfg.MetricsAddr
		}
		var metrics *observability.Metrics
		if addr != "" {
			metrics = observability.NewMetrics("feeledger")
			opts = append(opts, scenario.WithMetrics(metrics))
		}
		if simPersist {
			store, closeStore, err := openStore(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer closeStore()
			opts = append(opts, scenario.WithStore(store))
		}

		res, runErr := scenario.NewRunner(opts...).Run(ctx, sc)
		if res == nil {
			return runErr
		}

		fmt.Fprintln(out, ui.StyleTitle.Render(sc.Name))
		if sc.Description != "" {
			fmt.Fprintln(out, ui.Meta(sc.Description))
		}
		fmt.Fprintln(out, stepTable(res.Steps).Render())

		rows := eventRows(res.Records, res.System.Labels())
		if simEvents {
			fmt.Fprintln(out, ui.EventTable(rows).Render())
		}
		summarize(out, res, runErr)
		if simPersist && runErr == nil {
			fmt.Fprintln(out, ui.Hint("Inspect later with: feeledger events list "+res.RunID.String()))
		}
		if simInteractive {
			if err := ui.RunEventViewer(sc.Name+" · "+res.RunID.String(), rows); err != nil {
				return err
			}
		}
		if metrics != nil {
			if err := serveMetrics(ctx, out, addr, metrics.Handler()); err != nil {
				return errors.Join(runErr, err)
			}
		}
		return runErr
	},
}

// stepTable renders one row per executed step.
func stepTable(steps []scenario.StepResult) *ui.Table {
	t := ui.NewTable("#", "Action", "Block", "Outcome", "Events", "Note")
	for _, s := range steps {
		block := "-"
		if s.Block > 0 {
			block = strconv.FormatUint(s.Block, 10)
		}
		t.AddRow(strconv.Itoa(s.Index), s.Action, block, outcome(s), strconv.Itoa(s.Events), s.Note)
	}
	return t
}

func outcome(s scenario.StepResult) string {
	switch {
	case s.Reverted && s.Expected:
		return "reverted (expected): " + s.Reason
	case s.Reverted:
		return "reverted: " + s.Reason
	case s.Action == "check":
		return "ok"
	}
	return "committed"
}

func summarize(out io.Writer, res *scenario.Result, runErr error) {
	pairs := [][2]string{
		{"Run", res.RunID.String()},
		{"Steps", fmt.Sprintf("%d", len(res.Steps))},
		{"Events", fmt.Sprintf("%d", len(res.Records))},
		{"Block", fmt.Sprintf("%d", res.System.Host.Block())},
	}
	fmt.Fprintln(out, ui.KeyValueBlock("Summary", pairs))
	if runErr != nil {
		fmt.Fprintln(out, ui.Err(runErr.Error()))
		return
	}
	fmt.Fprintln(out, ui.Success("scenario passed"))
}

// serveMetrics exposes the run's metrics until ctx is cancelled.
func serveMetrics(ctx context.Context, out io.Writer, addr string, h http.Handler) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	fmt.Fprintln(out, ui.Info("Serving metrics on "+addr+"/metrics, Ctrl+C to stop"))

	select {
	case err := <-errCh:
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func init() {
	simulateCmd.Flags().BoolVar(&simEvents, "events", false, "print the decoded event journal")
	simulateCmd.Flags().BoolVarP(&simInteractive, "interactive", "i", false, "browse events in the terminal viewer")
	simulateCmd.Flags().BoolVar(&simPersist, "persist", false, "store the event journal in the configured database")
	simulateCmd.Flags().StringVar(&simMetricsAddr, "metrics-addr", "", "serve prometheus metrics on this address after the run")
}
