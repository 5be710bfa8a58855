package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nvandessel/pdpsim/internal/store"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List experiments recorded in the experiment store",
		Long: `List experiments recorded in the SQLite store named by output.store
(or --store), newest first.

Examples:
  pdpsim history --store experiments/pdpsim.db
  pdpsim history show 3f1c...`,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openHistoryStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			limit, _ := cmd.Flags().GetInt("limit")
			list, err := st.ListExperiments(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("failed to list experiments: %w", err)
			}

			if jsonOutput(cmd) {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"experiments": list,
					"count":       len(list),
				})
			}
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No experiments recorded.")
				return nil
			}
			rows := make([][]string, 0, len(list))
			for _, e := range list {
				rows = append(rows, []string{
					e.ID,
					e.Name,
					e.CreatedAt.Local().Format(time.DateTime),
					strconv.FormatInt(e.Seed, 10),
					strconv.Itoa(e.NumRuns),
					strconv.Itoa(e.NumEvents),
					strings.Join(e.PDPs, ","),
				})
			}
			return renderTable(cmd.OutOrStdout(),
				[]string{"ID", "Name", "Created", "Seed", "Runs", "Events", "PDPs"}, rows)
		},
	}

	cmd.PersistentFlags().String("store", "", "SQLite experiment store path (overrides output.store)")
	cmd.Flags().Int("limit", 20, "Maximum experiments to list (0 = all)")
	cmd.AddCommand(newHistoryShowCmd())
	return cmd
}

func newHistoryShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show the aggregated metrics of a recorded experiment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openHistoryStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			ctx := cmd.Context()
			meta, err := st.GetExperiment(ctx, args[0])
			if err != nil {
				return err
			}
			rows, err := st.Aggregates(ctx, meta.ID)
			if err != nil {
				return fmt.Errorf("failed to load aggregates: %w", err)
			}
			withRuns, _ := cmd.Flags().GetBool("runs")
			var runs []store.RunMetric
			if withRuns {
				if runs, err = st.RunMetrics(ctx, meta.ID); err != nil {
					return fmt.Errorf("failed to load run metrics: %w", err)
				}
			}

			if jsonOutput(cmd) {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"experiment": meta,
					"aggregates": rows,
					"runs":       runs,
				})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Experiment: %s (%s)\n", meta.Name, meta.ID)
			fmt.Fprintf(out, "Created:    %s\n", meta.CreatedAt.Local().Format(time.DateTime))
			fmt.Fprintf(out, "Seed: %d, runs: %d, events/run: %d, users: %d, devices: %d\n",
				meta.Seed, meta.NumRuns, meta.NumEvents, meta.NumUsers, meta.NumDevices)
			fmt.Fprintf(out, "Config:     %s\n", meta.ConfigDigest)
			if meta.OutputDir != "" {
				fmt.Fprintf(out, "Report:     %s\n", meta.OutputDir)
			}
			fmt.Fprintln(out)
			if err := renderAggregates(out, rows); err != nil {
				return err
			}

			if withRuns {
				fmt.Fprintln(out)
				table := make([][]string, 0, len(runs))
				for _, r := range runs {
					table = append(table, []string{strconv.Itoa(r.RunIndex), r.PDP, r.Metric, fmt.Sprintf("%.4f", r.Value)})
				}
				return renderTable(out, []string{"Run", "PDP", "Metric", "Value"}, table)
			}
			return nil
		},
	}
	cmd.Flags().Bool("runs", false, "Also print per-run metrics")
	return cmd
}

func openHistoryStore(cmd *cobra.Command) (*store.SQLiteStore, error) {
	path, _ := cmd.Flags().GetString("store")
	if path == "" {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return nil, err
		}
		path = cfg.Output.Store
	}
	if path == "" {
		return nil, fmt.Errorf("no experiment store configured: set output.store or pass --store")
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return st, nil
}
