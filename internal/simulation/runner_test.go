package simulation

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/nvandessel/pdpsim/internal/metrics"
	"github.com/nvandessel/pdpsim/internal/models"
	"github.com/nvandessel/pdpsim/internal/pdp"
	"github.com/nvandessel/pdpsim/internal/telemetry"
)

func smallOptions() Options {
	o := DefaultOptions()
	o.NumUsers = 20
	o.NumDevices = 30
	o.NumEvents = 400
	o.AttackProbability = 0.2
	o.NumRuns = 4
	o.Workers = 2
	o.KeepLogs = 4
	return o
}

func allSpecs(t *testing.T) []pdp.Spec {
	t.Helper()
	specs, err := pdp.Specs([]string{pdp.NameBaseline, pdp.NameSecureBank, pdp.NameZeroTrust}, pdp.DefaultOptions())
	if err != nil {
		t.Fatalf("pdp.Specs() error = %v", err)
	}
	return specs
}

func TestRunOnce_Deterministic(t *testing.T) {
	d := NewDriver(smallOptions(), allSpecs(t))
	a, err := d.RunOnce(context.Background(), 1)
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	b, err := d.RunOnce(context.Background(), 1)
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	AssertSameLogs(t, a, b)
	if !reflect.DeepEqual(a.Metrics, b.Metrics) {
		t.Error("metrics differ for the same run index")
	}
	if a.Seed != 43 {
		t.Errorf("Seed = %d, want 43", a.Seed)
	}
}

func TestRunOnce_Properties(t *testing.T) {
	d := NewDriver(smallOptions(), allSpecs(t))
	for idx := range 3 {
		res, err := d.RunOnce(context.Background(), idx)
		if err != nil {
			t.Fatalf("RunOnce(%d) error = %v", idx, err)
		}
		AssertOneDecisionPerEvent(t, res)
		AssertTrustBounded(t, res)
		AssertMetricRanges(t, res)
		if len(res.Warnings) != 0 {
			t.Errorf("run %d warnings = %v", idx, res.Warnings)
		}
		if res.Metrics[pdp.NameBaseline].ITAL != 0 {
			t.Errorf("baseline ITAL = %v, want 0", res.Metrics[pdp.NameBaseline].ITAL)
		}
		if res.Metrics[pdp.NameZeroTrust].ITAL != 0 {
			t.Errorf("zerotrust ITAL = %v, want 0", res.Metrics[pdp.NameZeroTrust].ITAL)
		}
	}
}

func TestRunOnce_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewDriver(smallOptions(), allSpecs(t)).RunOnce(ctx, 0)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("RunOnce() error = %v, want context.Canceled", err)
	}
}

func TestRun_OrderedAndIndependentOfWorkers(t *testing.T) {
	opts := smallOptions()
	opts.KeepLogs = 1

	serial := opts
	serial.Workers = 1
	a, err := NewDriver(serial, allSpecs(t)).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	b, err := NewDriver(opts, allSpecs(t)).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(a.Runs) != opts.NumRuns {
		t.Fatalf("runs = %d, want %d", len(a.Runs), opts.NumRuns)
	}
	for i, r := range a.Runs {
		if r.Index != i || r.Seed != opts.Seed+int64(i) {
			t.Errorf("run %d has index %d seed %d", i, r.Index, r.Seed)
		}
		if (r.Logs != nil) != (i < opts.KeepLogs) {
			t.Errorf("run %d logs retained = %v, want %v", i, r.Logs != nil, i < opts.KeepLogs)
		}
	}
	if !reflect.DeepEqual(a.Aggregate(), b.Aggregate()) {
		t.Error("aggregate depends on worker count")
	}
}

func TestRun_InvalidOptions(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*Options)
	}{
		{"no events", func(o *Options) { o.NumEvents = 0 }},
		{"probability above one", func(o *Options) { o.AttackProbability = 1.5 }},
		{"no runs", func(o *Options) { o.NumRuns = 0 }},
		{"devices without users", func(o *Options) { o.NumUsers = 0 }},
		{"negative workers", func(o *Options) { o.Workers = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := smallOptions()
			tt.mod(&o)
			if _, err := NewDriver(o, allSpecs(t)).Run(context.Background()); err == nil {
				t.Error("Run() returned no error")
			}
		})
	}
}

func TestRun_Telemetry(t *testing.T) {
	c := telemetry.New()
	opts := smallOptions()
	opts.NumRuns = 2
	if _, err := NewDriver(opts, allSpecs(t), WithTelemetry(c)).Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	families, err := c.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	var runs float64
	for _, f := range families {
		if f.GetName() == "pdpsim_runs_completed_total" {
			runs = f.GetMetric()[0].GetCounter().GetValue()
		}
	}
	if runs != 2 {
		t.Errorf("runs completed = %v, want 2", runs)
	}
}

func TestAggregate_MeanAcrossRuns(t *testing.T) {
	values := []float64{0.90, 0.91, 0.89, 0.92, 0.90}
	exp := &Experiment{PDPs: []string{pdp.NameBaseline, pdp.NameSecureBank}}
	for i, v := range values {
		exp.Runs = append(exp.Runs, RunResult{
			Index: i,
			Metrics: map[string]metrics.RunMetrics{
				pdp.NameBaseline:   {TII: v},
				pdp.NameSecureBank: {TII: v - 0.1},
			},
		})
	}

	agg := exp.Aggregate()
	if agg.Reference != pdp.NameBaseline {
		t.Errorf("Reference = %s, want baseline", agg.Reference)
	}
	if got := agg.Summaries[metrics.MetricTII][pdp.NameBaseline].Mean; math.Abs(got-0.904) > 1e-12 {
		t.Errorf("TII mean = %v, want 0.904", got)
	}
	if got := agg.Means[metrics.MetricTII][pdp.NameSecureBank]; math.Abs(got-0.804) > 1e-12 {
		t.Errorf("securebank TII mean = %v, want 0.804", got)
	}
	d := agg.CohensD[metrics.MetricTII][pdp.NameSecureBank]
	if d == nil || *d >= 0 {
		t.Errorf("Cohen's d = %v, want negative", d)
	}
	if _, ok := agg.CohensD[metrics.MetricTII][pdp.NameBaseline]; ok {
		t.Error("reference PDP compared against itself")
	}
	if agg.CohensD[metrics.MetricSAE][pdp.NameSecureBank] != nil {
		t.Error("Cohen's d of constant series should be nil")
	}
	if _, ok := agg.Comparisons[pdp.NameSecureBank][metrics.MetricTII]; !ok {
		t.Error("missing TII comparison")
	}
}

func TestAggregate_Empty(t *testing.T) {
	agg := (&Experiment{}).Aggregate()
	if agg.Reference != "" || agg.NumRuns != 0 {
		t.Errorf("empty aggregate = %+v", agg)
	}
}

func TestScenarioSubset(t *testing.T) {
	opts := smallOptions()
	opts.Scenarios = []models.Scenario{models.ScenarioMoneyLaundering}
	opts.AttackProbability = 0.5
	res, err := NewDriver(opts, allSpecs(t)).RunOnce(context.Background(), 0)
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	for _, r := range res.Logs[pdp.NameBaseline] {
		if !r.IsAttack {
			continue
		}
		if r.Scenario != models.ScenarioMoneyLaundering {
			t.Fatalf("step %d scenario = %v, want money_laundering", r.Step, r.Scenario)
		}
		if r.Amount < 9000 || r.Amount >= 10000 {
			t.Errorf("step %d laundering amount = %v, want [9000,10000)", r.Step, r.Amount)
		}
	}
}

func TestNoScenariosMeansNoAttacks(t *testing.T) {
	opts := smallOptions()
	opts.Scenarios = nil
	opts.AttackProbability = 1
	res, err := NewDriver(opts, allSpecs(t)).RunOnce(context.Background(), 0)
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if res.TotalAttacks != 0 {
		t.Errorf("attacks = %d, want 0", res.TotalAttacks)
	}
	if sae := res.Metrics[pdp.NameSecureBank].SAE; sae != 0 {
		t.Errorf("SAE without attacks = %v, want 0", sae)
	}
}
