package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tailored-agentic-units/readfish/ledger"
)

const decidedAtLayout = "2006-01-02T15:04:05.000Z07:00"

func newDecisionsCmd() *cobra.Command {
	var (
		dbPath string
		runID  string
	)

	cmd := &cobra.Command{
		Use:   "decisions",
		Short: "List journaled runs or the decisions of one run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := os.Stat(dbPath); errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("decision journal %s does not exist", dbPath)
			}

			journal, err := ledger.OpenSQLite(dbPath)
			if err != nil {
				return err
			}
			defer journal.Close()

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			if runID == "" {
				return listRuns(ctx, cmd.OutOrStdout(), journal)
			}
			return listDecisions(ctx, cmd.OutOrStdout(), journal, runID)
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite decision journal written with --ledger")
	cmd.Flags().StringVar(&runID, "run", "", "Run ID whose decisions to list")
	_ = cmd.MarkFlagRequired("db")
	return cmd
}

func listRuns(ctx context.Context, w io.Writer, journal ledger.Journal) error {
	runs, err := journal.Runs(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tDECISIONS\tUNBLOCKED")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%d\t%d\n", r.RunID, r.Decisions, r.Unblocked)
	}
	return tw.Flush()
}

func listDecisions(ctx context.Context, w io.Writer, journal ledger.Journal, runID string) error {
	entries, err := journal.Entries(ctx, runID)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return fmt.Errorf("no decisions recorded for run %s", runID)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "READ ID\tCHANNEL\tNUMBER\tOUTCOME\tDECIDED AT")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\n",
			e.ID, e.Channel, e.Number, e.Outcome, e.DecidedAt.UTC().Format(decidedAtLayout))
	}
	return tw.Flush()
}
