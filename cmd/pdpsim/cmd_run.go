package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/nvandessel/pdpsim/internal/config"
	"github.com/nvandessel/pdpsim/internal/export"
	"github.com/nvandessel/pdpsim/internal/logging"
	"github.com/nvandessel/pdpsim/internal/retention"
	"github.com/nvandessel/pdpsim/internal/sanitize"
	"github.com/nvandessel/pdpsim/internal/simulation"
	"github.com/nvandessel/pdpsim/internal/store"
	"github.com/nvandessel/pdpsim/internal/telemetry"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a Monte-Carlo experiment",
		Long: `Generate synthetic traffic, evaluate it with every configured PDP and
write the experiment report.

Run i uses seed+i, so an experiment is reproducible from its base seed.
The report lands in <output.dir>/<experiment_name>_<timestamp>/.

Examples:
  pdpsim run                                   # Defaults, or ./pdpsim.yaml
  pdpsim run --config exp.yaml --runs 30       # More runs
  pdpsim run --pdps securebank,zerotrust       # Compare two PDPs
  pdpsim run --save-logs 2 --formats jsonl,arrow --compress`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := applyRunFlags(cmd, cfg); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			path, _ := cmd.Flags().GetString("config")
			return runExperiment(cmd, cfg, path)
		},
	}

	cmd.Flags().Int("runs", 0, "Number of Monte-Carlo runs")
	cmd.Flags().Int("events", 0, "Events per run")
	cmd.Flags().Int64("seed", 0, "Base seed")
	cmd.Flags().Int("workers", 0, "Concurrent runs (0 = GOMAXPROCS)")
	cmd.Flags().StringSlice("pdps", nil, "PDPs to compare, reference first")
	cmd.Flags().String("calibration", "", "Adaptive calibration preset: hard or balanced")
	cmd.Flags().Int("save-logs", 0, "Write decision logs of the first N runs")
	cmd.Flags().StringSlice("formats", nil, "Decision log formats: jsonl, arrow")
	cmd.Flags().Bool("compress", false, "zstd-compress JSONL decision logs")
	cmd.Flags().String("output", "", "Parent directory of experiment reports")
	cmd.Flags().String("store", "", "SQLite experiment store path")
	cmd.Flags().String("name", "", "Experiment name")
	cmd.Flags().Int("keep-last", 0, "Prune all but the N newest experiment directories")

	return cmd
}

// applyRunFlags overlays explicitly set flags on cfg.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()
	var err error
	set := func(name string, apply func() error) {
		if err == nil && f.Changed(name) {
			err = apply()
		}
	}
	set("runs", func() (e error) { cfg.NumRuns, e = f.GetInt("runs"); return })
	set("events", func() (e error) { cfg.NumEvents, e = f.GetInt("events"); return })
	set("seed", func() (e error) { cfg.Seed, e = f.GetInt64("seed"); return })
	set("workers", func() (e error) { cfg.Workers, e = f.GetInt("workers"); return })
	set("pdps", func() (e error) { cfg.PDPs, e = f.GetStringSlice("pdps"); return })
	set("calibration", func() (e error) { cfg.Calibration, e = f.GetString("calibration"); return })
	set("save-logs", func() (e error) { cfg.Logging.SaveRunLogs, e = f.GetInt("save-logs"); return })
	set("formats", func() (e error) { cfg.Output.Formats, e = f.GetStringSlice("formats"); return })
	set("compress", func() (e error) { cfg.Output.Compress, e = f.GetBool("compress"); return })
	set("output", func() (e error) { cfg.Output.Dir, e = f.GetString("output"); return })
	set("store", func() (e error) { cfg.Output.Store, e = f.GetString("store"); return })
	set("name", func() (e error) { cfg.ExperimentName, e = f.GetString("name"); return })
	set("keep-last", func() (e error) { cfg.Output.Retention.KeepLast, e = f.GetInt("keep-last"); return })
	return err
}

// runResult is the --json output of run.
type runResult struct {
	ExperimentID string            `json:"experiment_id"`
	Dir          string            `json:"dir"`
	Files        []string          `json:"files"`
	Stored       bool              `json:"stored"`
	Pruned       []string          `json:"pruned,omitempty"`
	Warnings     []string          `json:"warnings,omitempty"`
	Duration     string            `json:"duration"`
	Aggregates   []store.Aggregate `json:"aggregates"`
}

func runExperiment(cmd *cobra.Command, cfg *config.Config, configPath string) error {
	logger := newLogger(cmd, cfg)
	start := time.Now()

	specs, err := cfg.Specs()
	if err != nil {
		return err
	}
	digest, err := config.Digest(cfg)
	if err != nil {
		return err
	}

	meta := export.NewMetadata(cfg.ExperimentName, digest, cfg.Seed, cfg.NumRuns, cfg.PDPs)
	meta.Description = sanitize.Text(cfg.Description)
	meta.Version = version
	meta.ConfigPath = configPath

	dir := export.ExperimentDir(cfg.Output.Dir, meta)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create experiment directory: %w", err)
	}

	trace := logging.NewRunTrace(dir, cfg.Logging.Level)
	defer trace.Close()
	tel := telemetry.New()

	ctx, stop := signal.NotifyContext(cmd.Context(), shutdownSignals...)
	defer stop()

	logger.Info("experiment start",
		"id", meta.ExperimentID, "runs", cfg.NumRuns, "events", cfg.NumEvents,
		"pdps", cfg.PDPs, "seed", cfg.Seed, "dir", dir)

	driver := simulation.NewDriver(cfg.Simulation(), specs,
		simulation.WithLogger(logger),
		simulation.WithTrace(trace),
		simulation.WithTelemetry(tel),
	)
	exp, err := driver.Run(ctx)
	if err != nil {
		return fmt.Errorf("simulation failed: %w", err)
	}
	agg := exp.Aggregate()

	files, err := export.WriteReport(dir, meta, exp, agg, export.Options{
		Formats:  cfg.Output.Formats,
		Compress: cfg.Output.Compress,
		Costs:    cfg.Metrics.Costs,
	})
	if err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	promPath := filepath.Join(dir, telemetry.TextfileName)
	if err := tel.WriteTextfile(promPath); err != nil {
		return err
	}
	files = append(files, promPath)

	stored := false
	if cfg.Output.Store != "" {
		if err := saveExperiment(context.WithoutCancel(ctx), cfg, meta, dir, exp, agg); err != nil {
			return err
		}
		stored = true
	}

	pruned, err := pruneReports(cfg, dir)
	if err != nil {
		logger.Warn("retention failed", "error", err)
	}
	for _, p := range pruned {
		logger.Info("pruned experiment", "dir", p)
	}

	for _, w := range exp.Warnings() {
		logger.Warn(w)
	}
	logger.Info("experiment finished", "id", meta.ExperimentID, "elapsed", time.Since(start))

	rows := store.AggregateRows(agg)
	if jsonOutput(cmd) {
		return writeJSON(cmd.OutOrStdout(), runResult{
			ExperimentID: meta.ExperimentID,
			Dir:          dir,
			Files:        files,
			Stored:       stored,
			Pruned:       pruned,
			Warnings:     exp.Warnings(),
			Duration:     time.Since(start).Round(time.Millisecond).String(),
			Aggregates:   rows,
		})
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Experiment %s (%s)\n", meta.ExperimentName, meta.ExperimentID)
	fmt.Fprintf(out, "Runs: %d, events/run: %d, reference: %s, alpha: %.4f\n\n", agg.NumRuns, cfg.NumEvents, agg.Reference, agg.Alpha)
	if err := renderAggregates(out, rows); err != nil {
		return err
	}
	fmt.Fprintf(out, "\nReport written to %s (%d files)\n", dir, len(files))
	if len(pruned) > 0 {
		fmt.Fprintf(out, "Pruned %d older experiment(s)\n", len(pruned))
	}
	return nil
}

// pruneReports applies output.retention to the output root, sparing the
// experiment just written.
func pruneReports(cfg *config.Config, current string) ([]string, error) {
	policy, err := cfg.Output.Retention.Policy()
	if err != nil || policy == nil {
		return nil, err
	}
	return retention.Prune(cfg.Output.Dir, policy, current)
}

func saveExperiment(ctx context.Context, cfg *config.Config, meta export.Metadata, dir string, exp *simulation.Experiment, agg simulation.Aggregate) error {
	st, err := store.Open(cfg.Output.Store)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	raw, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	rec := store.Experiment{
		ID:           meta.ExperimentID,
		Name:         meta.ExperimentName,
		Description:  meta.Description,
		CreatedAt:    meta.Timestamp,
		Seed:         cfg.Seed,
		NumRuns:      cfg.NumRuns,
		NumEvents:    cfg.NumEvents,
		NumUsers:     cfg.NumUsers,
		NumDevices:   cfg.NumDevices,
		PDPs:         cfg.PDPs,
		ConfigDigest: meta.ConfigDigest,
		Config:       raw,
		OutputDir:    dir,
	}
	if err := st.SaveExperiment(ctx, rec, exp, agg); err != nil {
		return fmt.Errorf("failed to record experiment: %w", err)
	}
	return nil
}
