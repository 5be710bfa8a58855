package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/nvandessel/pdpsim/internal/export"
	"github.com/nvandessel/pdpsim/internal/simulation"
)

func newScalabilityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scalability",
		Short: "Measure PDP latency as the event count grows",
		Long: `Generate run-0 traffic at each load and time every configured PDP over
it, one PDP at a time. Reports latency per event, throughput, TII, SAE,
their mean (effectiveness) and latency relative to the reference PDP.

Timings depend on the host; the metrics are seeded and reproducible.

Examples:
  pdpsim scalability
  pdpsim scalability --loads 1000,10000,100000 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			loads, _ := cmd.Flags().GetIntSlice("loads")
			outDir, _ := cmd.Flags().GetString("output")

			specs, err := cfg.Specs()
			if err != nil {
				return err
			}
			logger := newLogger(cmd, cfg)
			ctx, stop := signal.NotifyContext(cmd.Context(), shutdownSignals...)
			defer stop()

			driver := simulation.NewDriver(cfg.Simulation(), specs, simulation.WithLogger(logger))
			rep, err := driver.Scalability(ctx, loads)
			if err != nil {
				return err
			}

			if outDir != "" {
				if err := os.MkdirAll(outDir, 0755); err != nil {
					return fmt.Errorf("failed to create output directory: %w", err)
				}
				path := filepath.Join(outDir, export.ScalabilityFile)
				if err := export.WriteJSON(path, rep); err != nil {
					return err
				}
				logger.Info("scalability report written", "path", path)
			}

			if jsonOutput(cmd) {
				return writeJSON(cmd.OutOrStdout(), rep)
			}
			rows := make([][]string, 0, len(rep.Points))
			for _, p := range rep.Points {
				rows = append(rows, []string{
					strconv.Itoa(p.Events),
					p.PDP,
					fmt.Sprintf("%.2f", p.LatencyMicros),
					fmt.Sprintf("%.0f", p.EventsPerSec),
					fmt.Sprintf("%.2fx", p.OverheadFactor),
					fmt.Sprintf("%.4f", p.TII),
					fmt.Sprintf("%.4f", p.SAE),
					fmt.Sprintf("%.4f", p.Effectiveness),
				})
			}
			return renderTable(cmd.OutOrStdout(),
				[]string{"Events", "PDP", "µs/event", "Events/s", "Overhead", "TII", "SAE", "Effectiveness"}, rows)
		},
	}

	cmd.Flags().IntSlice("loads", nil, "Event counts to measure (default 1000,5000,10000,50000)")
	cmd.Flags().String("output", "", "Directory to write scalability_analysis.json into")
	return cmd
}
