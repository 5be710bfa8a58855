package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nvandessel/pdpsim/internal/export"
	"github.com/nvandessel/pdpsim/internal/simulation"
)

func newSensitivityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sensitivity",
		Short: "Sweep the adaptive PDP's trust parameters",
		Long: `Vary identity_drift_factor, trust_decay and trust_growth by ±20% around
their configured values and measure how TII, SAE and ITAL of the
adaptive PDP respond on the first run's traffic.

Parameters are ranked by aggregate sensitivity; the top three are
reported as critical.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			steps, _ := cmd.Flags().GetInt("steps")
			outDir, _ := cmd.Flags().GetString("output")

			base, err := cfg.PDPOptions()
			if err != nil {
				return err
			}
			logger := newLogger(cmd, cfg)
			logger.Info("sensitivity sweep start", "steps", steps, "events", cfg.NumEvents, "seed", cfg.Seed)

			ctx, stop := signal.NotifyContext(cmd.Context(), shutdownSignals...)
			defer stop()
			rep, err := simulation.Sensitivity(ctx, cfg.Simulation(), base, steps)
			if err != nil {
				return err
			}

			if outDir != "" {
				if err := os.MkdirAll(outDir, 0755); err != nil {
					return fmt.Errorf("failed to create output directory: %w", err)
				}
				path := filepath.Join(outDir, export.SensitivityFile)
				if err := export.WriteJSON(path, rep); err != nil {
					return err
				}
				logger.Info("sensitivity report written", "path", path)
			}

			if jsonOutput(cmd) {
				return writeJSON(cmd.OutOrStdout(), rep)
			}
			rows := make([][]string, 0, len(simulation.SweepParams))
			for _, name := range simulation.SweepParams {
				sc := rep.Scores[name]
				r := rep.Ranges[name]
				rows = append(rows, []string{
					name,
					fmt.Sprintf("%.4f..%.4f", r[0], r[len(r)-1]),
					fmt.Sprintf("%.4f", sc.TII),
					fmt.Sprintf("%.4f", sc.SAE),
					fmt.Sprintf("%.4f", sc.ITAL),
					fmt.Sprintf("%.4f", sc.Aggregate),
				})
			}
			if err := renderTable(cmd.OutOrStdout(),
				[]string{"Parameter", "Range", "TII", "SAE", "ITAL", "Aggregate"}, rows); err != nil {
				return err
			}
			critical := "none"
			if len(rep.Critical) > 0 {
				critical = strings.Join(rep.Critical, ", ")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\nCritical parameters: %s\n", critical)
			return nil
		},
	}

	cmd.Flags().Int("steps", simulation.DefaultSteps, "Values tried per parameter")
	cmd.Flags().String("output", "", "Directory to write sensitivity_analysis.json into")
	return cmd
}
