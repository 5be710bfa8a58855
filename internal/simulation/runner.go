package simulation

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nvandessel/pdpsim/internal/logging"
	"github.com/nvandessel/pdpsim/internal/metrics"
	"github.com/nvandessel/pdpsim/internal/models"
	"github.com/nvandessel/pdpsim/internal/pdp"
	"github.com/nvandessel/pdpsim/internal/synth"
	"github.com/nvandessel/pdpsim/internal/telemetry"
)

// Driver orchestrates runs of a set of PDPs over seeded event streams.
type Driver struct {
	opts      Options
	policies  []pdp.Spec
	logger    *slog.Logger
	trace     *logging.RunTrace
	telemetry *telemetry.Collector
}

// Option configures a Driver.
type Option func(*Driver)

// WithLogger sets the operational logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Driver) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithTrace sets the JSONL trace for run lifecycle and decision events.
func WithTrace(t *logging.RunTrace) Option {
	return func(d *Driver) { d.trace = t }
}

// WithTelemetry sets the Prometheus collector.
func WithTelemetry(c *telemetry.Collector) Option {
	return func(d *Driver) { d.telemetry = c }
}

// NewDriver creates a driver for policies, evaluated in the given order.
func NewDriver(opts Options, policies []pdp.Spec, options ...Option) *Driver {
	d := &Driver{
		opts:     opts,
		policies: policies,
		logger:   logging.Discard(),
	}
	for _, o := range options {
		o(d)
	}
	return d
}

// Options returns the experiment options.
func (d *Driver) Options() Options { return d.opts }

// PDPs returns the policy names in evaluation order.
func (d *Driver) PDPs() []string {
	names := make([]string, len(d.policies))
	for i, p := range d.policies {
		names[i] = p.Name
	}
	return names
}

// Run executes every run and returns them ordered by index. The first error
// cancels the remaining runs.
func (d *Driver) Run(ctx context.Context) (*Experiment, error) {
	if err := d.opts.Validate(); err != nil {
		return nil, err
	}

	runs := make([]RunResult, d.opts.NumRuns)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers())
	for i := range runs {
		g.Go(func() error {
			res, err := d.RunOnce(gctx, i)
			if err != nil {
				return err
			}
			if i >= d.opts.KeepLogs {
				res.Logs = nil
			}
			runs[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	d.logger.Info("experiment complete", "runs", len(runs), "pdps", d.PDPs())
	return &Experiment{Options: d.opts, PDPs: d.PDPs(), Runs: runs}, nil
}

// RunOnce executes run idx with seed Options.Seed + idx. Every PDP gets a
// fresh instance and evaluates the same events in generation order.
func (d *Driver) RunOnce(ctx context.Context, idx int) (RunResult, error) {
	start := time.Now()
	seed := d.opts.Seed + int64(idx)
	_, events := synth.Generate(seed, d.opts.NumUsers, d.opts.NumDevices, d.opts.synth())

	attacks := 0
	for _, ev := range events {
		if ev.IsAttack {
			attacks++
		}
	}
	d.logger.Debug("run start", "run", idx, "seed", seed, "events", len(events), "attacks", attacks)
	d.trace.RunStart(idx, seed, len(events), attacks)

	logs := make([][]models.Record, len(d.policies))
	g, gctx := errgroup.WithContext(ctx)
	for i, spec := range d.policies {
		g.Go(func() error {
			log, err := d.evaluate(gctx, idx, spec.Name, spec.New(seed), events)
			logs[i] = log
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return RunResult{}, fmt.Errorf("run %d: %w", idx, err)
	}

	res := RunResult{
		Index:        idx,
		Seed:         seed,
		TotalEvents:  len(events),
		TotalAttacks: attacks,
		PDPs:         d.PDPs(),
		Metrics:      make(map[string]metrics.RunMetrics, len(d.policies)),
		Logs:         make(map[string][]models.Record, len(d.policies)),
	}
	for i, spec := range d.policies {
		if len(logs[i]) != len(events) {
			w := fmt.Sprintf("run %d: %s produced %d decisions for %d events", idx, spec.Name, len(logs[i]), len(events))
			d.logger.Warn("decision log length mismatch", "run", idx, "pdp", spec.Name, "decisions", len(logs[i]), "events", len(events))
			res.Warnings = append(res.Warnings, w)
		}
		res.Logs[spec.Name] = logs[i]
		res.Metrics[spec.Name] = metrics.Compute(logs[i], d.opts.DriftWeight)
		d.telemetry.ObserveLog(spec.Name, logs[i])
	}

	res.Duration = time.Since(start)
	d.telemetry.ObserveRun(res.Duration)
	d.logger.Debug("run complete", "run", idx, "duration", res.Duration)
	d.trace.RunEnd(idx, seed, res.Duration)
	return res, nil
}

// evaluate feeds events to one PDP, checking for cancellation between events.
func (d *Driver) evaluate(ctx context.Context, run int, name string, p pdp.PDP, events []models.Event) ([]models.Record, error) {
	log := make([]models.Record, 0, len(events))
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return log, err
		}
		r := models.NewRecord(name, ev, p.Evaluate(ev))
		d.trace.Decision(run, r)
		log = append(log, r)
	}
	return log, nil
}

func (d *Driver) workers() int {
	if d.opts.Workers > 0 {
		return d.opts.Workers
	}
	return runtime.GOMAXPROCS(0)
}
