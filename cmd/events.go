package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Mohsinsiddi/feeledger/internal/storage"
	"github.com/Mohsinsiddi/feeledger/internal/ui"
)

var (
	eventsFilter      string
	eventsInteractive bool
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Browse persisted event journals",
	Long: `Browse the event journals stored by "feeledger simulate --persist".
Requires database_url to be configured.`,
}

var eventsRunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List persisted runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, closeStore, err := openStore(cmd.Context(), cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer closeStore()

		runs, err := store.Runs(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(runs) == 0 {
			fmt.Fprintln(out, ui.Info("No runs stored yet"))
			return nil
		}
		t := ui.NewTable("Run", "Events", "Blocks", "Started")
		for _, r := range runs {
			t.AddRow(r.ID.String(), strconv.Itoa(r.Events),
				fmt.Sprintf("%d-%d", r.FirstBlock, r.LastBlock), r.StartedAt.Format("2006-01-02 15:04:05"))
		}
		fmt.Fprintln(out, t.Render())
		return nil
	},
}

var eventsListCmd = &cobra.Command{
	Use:   "list <run-id>",
	Short: "List the events of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runID, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid run id %q: %w", args[0], err)
		}
		store, closeStore, err := openStore(cmd.Context(), cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer closeStore()

		records, err := store.ListByRun(cmd.Context(), runID)
		if err != nil {
			return err
		}
		rows := eventRows(filterRecords(records, eventsFilter), nil)
		if eventsInteractive {
			return ui.RunEventViewer("run "+runID.String(), rows)
		}
		fmt.Fprintln(cmd.OutOrStdout(), ui.EventTable(rows).Render())
		fmt.Fprintln(cmd.OutOrStdout(), ui.Meta(fmt.Sprintf("%d of %d events", len(rows), len(records))))
		return nil
	},
}

// filterRecords keeps records whose event name matches name, ignoring case.
func filterRecords(records []storage.Record, name string) []storage.Record {
	if name == "" {
		return records
	}
	out := make([]storage.Record, 0, len(records))
	for _, r := range records {
		if strings.EqualFold(r.Event, name) {
			out = append(out, r)
		}
	}
	return out
}

func init() {
	eventsListCmd.Flags().StringVar(&eventsFilter, "event", "", "only show events with this name")
	eventsListCmd.Flags().BoolVarP(&eventsInteractive, "interactive", "i", false, "browse in the terminal viewer")
	eventsCmd.AddCommand(eventsRunsCmd, eventsListCmd)
}
