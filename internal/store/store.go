// Package store records finished experiments so they can be listed and
// compared later.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/nvandessel/pdpsim/internal/simulation"
)

// ErrNotFound is returned when an experiment id is unknown.
var ErrNotFound = errors.New("experiment not found")

// Experiment describes one stored experiment.
type Experiment struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	Seed         int64           `json:"seed"`
	NumRuns      int             `json:"num_runs"`
	NumEvents    int             `json:"num_events"`
	NumUsers     int             `json:"num_users"`
	NumDevices   int             `json:"num_devices"`
	PDPs         []string        `json:"pdps"`
	ConfigDigest string          `json:"config_digest"`
	Config       json.RawMessage `json:"config,omitempty"`
	OutputDir    string          `json:"output_dir,omitempty"`
}

// Aggregate is one metric of one PDP summarized across runs. CohensD,
// PValue and Test are unset for the reference PDP; CohensD is also nil when
// undefined.
type Aggregate struct {
	Metric      string   `json:"metric"`
	PDP         string   `json:"pdp"`
	Mean        float64  `json:"mean"`
	Std         float64  `json:"std"`
	N           int      `json:"n"`
	CI95Low     float64  `json:"ci95_low"`
	CI95High    float64  `json:"ci95_high"`
	CohensD     *float64 `json:"cohens_d"`
	PValue      *float64 `json:"p_value"`
	Test        string   `json:"test,omitempty"`
	Significant bool     `json:"significant"`
}

// RunMetric is one metric of one PDP in one run.
type RunMetric struct {
	RunIndex int     `json:"run_index"`
	PDP      string  `json:"pdp"`
	Metric   string  `json:"metric"`
	Value    float64 `json:"value"`
}

// Store persists experiments. Implementations are safe for concurrent use.
type Store interface {
	// SaveExperiment writes the experiment, its runs and its aggregate in a
	// single transaction. A duplicate id is an error.
	SaveExperiment(ctx context.Context, meta Experiment, exp *simulation.Experiment, agg simulation.Aggregate) error

	// ListExperiments returns experiments newest first. limit <= 0 means all.
	ListExperiments(ctx context.Context, limit int) ([]Experiment, error)

	// GetExperiment returns ErrNotFound for an unknown id.
	GetExperiment(ctx context.Context, id string) (*Experiment, error)

	// Aggregates returns the aggregate rows ordered by metric, then PDP.
	Aggregates(ctx context.Context, id string) ([]Aggregate, error)

	// RunMetrics returns per-run rows ordered by run, PDP, then metric.
	RunMetrics(ctx context.Context, id string) ([]RunMetric, error)

	Close() error
}

// AggregateRows flattens an aggregate into rows ordered by metric, then PDP.
func AggregateRows(agg simulation.Aggregate) []Aggregate {
	var rows []Aggregate
	for metric, byPDP := range agg.Summaries {
		for pdpName, s := range byPDP {
			row := Aggregate{
				Metric:   metric,
				PDP:      pdpName,
				Mean:     s.Mean,
				Std:      s.Std,
				N:        s.N,
				CI95Low:  s.CI95Low,
				CI95High: s.CI95High,
			}
			if pdpName != agg.Reference {
				row.CohensD = agg.CohensD[metric][pdpName]
				if res, ok := agg.Comparisons[pdpName][metric]; ok {
					p := res.PValue
					row.PValue = &p
					row.Test = res.Test
					row.Significant = res.Significant
				}
			}
			rows = append(rows, row)
		}
	}
	sortAggregates(rows)
	return rows
}

// runMetricRows flattens every run's metrics into rows.
func runMetricRows(exp *simulation.Experiment) []RunMetric {
	var rows []RunMetric
	for _, r := range exp.Runs {
		for pdpName, m := range r.Metrics {
			for metric, v := range m.Values() {
				rows = append(rows, RunMetric{RunIndex: r.Index, PDP: pdpName, Metric: metric, Value: v})
			}
		}
	}
	sortRunMetrics(rows)
	return rows
}
