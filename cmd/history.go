package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/deskpilot/api/schemas"
	"github.com/xkilldash9x/deskpilot/internal/observability"
)

func newHistoryCmd() *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	historyCmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List past task runs, or show one run in detail",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := configFromContext(ctx)
			if err != nil {
				return err
			}
			journal, err := openJournal(ctx, cfg.Journal(), cfg.Database(), observability.GetLogger())
			if err != nil {
				return fmt.Errorf("failed to open journal: %w", err)
			}
			defer journal.Close()

			out := cmd.OutOrStdout()
			if len(args) == 1 {
				detail, err := journal.GetRun(ctx, args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(out, detail)
				}
				printRunDetail(out, detail)
				return nil
			}

			runs, err := journal.ListRuns(ctx, limit)
			if err != nil {
				return fmt.Errorf("failed to list runs: %w", err)
			}
			if asJSON {
				return writeJSON(out, runs)
			}
			printRunTable(out, runs)
			return nil
		},
	}
	historyCmd.Flags().IntVarP(&limit, "limit", "l", 20, "Maximum number of runs to list (0 for all)")
	historyCmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return historyCmd
}

func writeJSON(out io.Writer, v any) error {
	data, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}

func printRunTable(out io.Writer, runs []schemas.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded.")
		return
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tSTARTED\tDURATION\tSTATUS\tTASK")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.StartedAt.Local().Format(time.DateTime), runDuration(r), r.Status, truncate(r.Task, 60))
	}
	_ = tw.Flush()
}

func printRunDetail(out io.Writer, d *schemas.RunDetail) {
	r := d.Run
	fmt.Fprintf(out, "Run:      %s\n", r.ID)
	fmt.Fprintf(out, "Task:     %s\n", r.Task)
	fmt.Fprintf(out, "Status:   %s\n", r.Status)
	if r.Message != "" {
		fmt.Fprintf(out, "Message:  %s\n", r.Message)
	}
	fmt.Fprintf(out, "Started:  %s\n", r.StartedAt.Local().Format(time.DateTime))
	fmt.Fprintf(out, "Duration: %s\n", runDuration(r))

	actions := make(map[int][]schemas.JournaledAction)
	for _, a := range d.Actions {
		actions[a.Step] = append(actions[a.Step], a)
	}
	for _, s := range d.Steps {
		fmt.Fprintf(out, "\n%d. [%s] %s\n", s.Sequence, s.Record.Status, s.Record.Description)
		if s.Record.Result != "" {
			fmt.Fprintf(out, "   result: %s\n", s.Record.Result)
		}
		for _, a := range actions[s.Sequence] {
			params, _ := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalToString(a.Record.Parameters)
			fmt.Fprintf(out, "   - %s %s\n", a.Record.ActionType, params)
		}
	}
}

func runDuration(r schemas.Run) string {
	if r.FinishedAt.IsZero() {
		return "-"
	}
	return r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}
