package simulation

import (
	"fmt"
	"time"

	"github.com/nvandessel/pdpsim/internal/constants"
	"github.com/nvandessel/pdpsim/internal/metrics"
	"github.com/nvandessel/pdpsim/internal/models"
	"github.com/nvandessel/pdpsim/internal/population"
	"github.com/nvandessel/pdpsim/internal/stats"
	"github.com/nvandessel/pdpsim/internal/synth"
)

// Options defines a complete Monte-Carlo experiment.
type Options struct {
	NumUsers          int
	NumDevices        int
	NumEvents         int
	AttackProbability float64
	Scenarios         []models.Scenario

	Seed    int64
	NumRuns int
	Workers int // 0 = GOMAXPROCS

	// DriftWeight weights trust drift against block fraction in the ITAL.
	DriftWeight float64

	// KeepLogs is the number of leading runs whose decision logs Run retains.
	KeepLogs int
}

// DefaultOptions returns the default experiment with every scenario enabled.
func DefaultOptions() Options {
	return Options{
		NumUsers:          constants.DefaultNumUsers,
		NumDevices:        constants.DefaultNumDevices,
		NumEvents:         constants.DefaultNumEvents,
		AttackProbability: constants.DefaultAttackProbability,
		Scenarios:         append([]models.Scenario(nil), models.AllScenarios...),
		Seed:              constants.DefaultSeed,
		NumRuns:           constants.DefaultNumRuns,
		DriftWeight:       constants.DefaultITALDriftWeight,
		KeepLogs:          1,
	}
}

// Validate rejects options no run could execute.
func (o Options) Validate() error {
	if err := population.Validate(o.NumUsers, o.NumDevices); err != nil {
		return err
	}
	if o.NumEvents <= 0 {
		return fmt.Errorf("num_events must be positive, got %d", o.NumEvents)
	}
	if o.AttackProbability < 0 || o.AttackProbability > 1 {
		return fmt.Errorf("attack_probability must be in [0,1], got %v", o.AttackProbability)
	}
	if o.NumRuns < 1 {
		return fmt.Errorf("num_runs must be at least 1, got %d", o.NumRuns)
	}
	if o.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", o.Workers)
	}
	return nil
}

func (o Options) synth() synth.Options {
	return synth.Options{
		NumEvents:         o.NumEvents,
		AttackProbability: o.AttackProbability,
		Scenarios:         o.Scenarios,
	}
}

// RunResult captures the outcome of one run.
type RunResult struct {
	Index        int
	Seed         int64
	TotalEvents  int
	TotalAttacks int
	Duration     time.Duration

	// PDPs lists the evaluated policies in configuration order.
	PDPs    []string
	Metrics map[string]metrics.RunMetrics

	// Logs holds one ordered decision log per PDP. Run drops it beyond
	// Options.KeepLogs.
	Logs map[string][]models.Record

	Warnings []string
}

// Experiment captures every run of a Monte-Carlo experiment in index order.
type Experiment struct {
	Options Options
	PDPs    []string
	Runs    []RunResult
}

// Warnings collects the warnings of every run.
func (e *Experiment) Warnings() []string {
	var out []string
	for _, r := range e.Runs {
		out = append(out, r.Warnings...)
	}
	return out
}

// Series returns one metric of one PDP across runs, in run order.
func (e *Experiment) Series(pdpName, metric string) []float64 {
	out := make([]float64, 0, len(e.Runs))
	for _, r := range e.Runs {
		m, ok := r.Metrics[pdpName]
		if !ok {
			continue
		}
		out = append(out, m.Values()[metric])
	}
	return out
}

// Aggregate is the cross-run report of an experiment. The first PDP is the
// reference every other PDP is compared against.
type Aggregate struct {
	Reference string   `json:"reference"`
	PDPs      []string `json:"pdps"`
	NumRuns   int      `json:"num_runs"`

	// Summaries is keyed by metric, then PDP.
	Summaries map[string]map[string]stats.Summary `json:"summaries"`

	// Means is keyed by metric, then PDP.
	Means metrics.Report `json:"means"`

	// CohensD is keyed by metric, then variant PDP. A nil value is undefined.
	CohensD map[string]map[string]*float64 `json:"cohens_d"`

	// Comparisons is keyed by variant PDP, then metric.
	Comparisons map[string]map[string]stats.Result `json:"comparisons"`

	// Alpha is the Bonferroni-adjusted per-metric significance level.
	Alpha float64 `json:"alpha"`
}

// Aggregate summarizes every metric of every PDP across runs and compares
// each variant against the reference PDP.
func (e *Experiment) Aggregate() Aggregate {
	agg := Aggregate{
		PDPs:        e.PDPs,
		NumRuns:     len(e.Runs),
		Summaries:   make(map[string]map[string]stats.Summary, len(metrics.Names)),
		Means:       make(metrics.Report, len(metrics.Names)),
		CohensD:     make(map[string]map[string]*float64, len(metrics.Names)),
		Comparisons: make(map[string]map[string]stats.Result),
		Alpha:       stats.Bonferroni(stats.DefaultAlpha, len(metrics.Names)),
	}
	if len(e.PDPs) == 0 {
		return agg
	}
	agg.Reference = e.PDPs[0]

	series := make(map[string]map[string][]float64, len(e.PDPs))
	for _, p := range e.PDPs {
		series[p] = make(map[string][]float64, len(metrics.Names))
		for _, m := range metrics.Names {
			series[p][m] = e.Series(p, m)
		}
	}

	for _, m := range metrics.Names {
		agg.Summaries[m] = make(map[string]stats.Summary, len(e.PDPs))
		agg.Means[m] = make(map[string]float64, len(e.PDPs))
		agg.CohensD[m] = make(map[string]*float64, len(e.PDPs)-1)
		for _, p := range e.PDPs {
			s := stats.Summarize(series[p][m])
			agg.Summaries[m][p] = s
			agg.Means[m][p] = s.Mean
			if p != agg.Reference {
				agg.CohensD[m][p] = stats.CohensD(series[agg.Reference][m], series[p][m])
			}
		}
	}

	for _, p := range e.PDPs[1:] {
		agg.Comparisons[p] = stats.Compare(series[agg.Reference], series[p], stats.DefaultAlpha, true)
	}
	return agg
}
