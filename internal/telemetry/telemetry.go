// Package telemetry counts simulation activity on a private Prometheus
// registry and dumps it in text exposition format at the end of an
// experiment. A nil *Collector is valid and records nothing.
package telemetry

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nvandessel/pdpsim/internal/models"
)

const namespace = "pdpsim"

// TextfileName is the telemetry dump written into an experiment directory.
const TextfileName = "telemetry.prom"

// Attack outcomes.
const (
	OutcomeBlocked = "blocked"
	OutcomeStepUp  = "step_up"
	OutcomeMissed  = "missed"
)

// Collector holds the simulation metrics.
type Collector struct {
	registry *prometheus.Registry

	decisions     *prometheus.CounterVec
	attacks       *prometheus.CounterVec
	runsCompleted prometheus.Counter
	runDuration   prometheus.Histogram
	identityTrust *prometheus.GaugeVec
}

// New creates a collector with its own registry.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decisions_total",
				Help:      "PDP decisions by policy and action.",
			},
			[]string{"pdp", "action"},
		),
		attacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attacks_total",
				Help:      "Injected attacks by policy and outcome.",
			},
			[]string{"pdp", "outcome"},
		),
		runsCompleted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Monte-Carlo runs completed.",
			},
		),
		runDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Wall time of one Monte-Carlo run.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),
		identityTrust: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "identity_trust_mean",
				Help:      "Mean identity trust after the latest run, by policy.",
			},
			[]string{"pdp"},
		),
	}
	c.registry.MustRegister(c.decisions, c.attacks, c.runsCompleted, c.runDuration, c.identityTrust)
	return c
}

// Registry returns the private registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// ObserveLog counts every decision of one PDP's log and sets the mean
// post-decision identity trust when the log carries trust fields.
func (c *Collector) ObserveLog(pdp string, log []models.Record) {
	if c == nil {
		return
	}
	counts := make(map[models.Action]int, len(models.Actions))
	outcomes := make(map[string]int, 3)
	var trustSum float64
	var trustN int
	for _, r := range log {
		counts[r.Action]++
		if r.IsAttack {
			outcomes[outcome(r.Action)]++
		}
		if r.IdentityAfter != nil {
			trustSum += *r.IdentityAfter
			trustN++
		}
	}
	for a, n := range counts {
		c.decisions.WithLabelValues(pdp, string(a)).Add(float64(n))
	}
	for o, n := range outcomes {
		c.attacks.WithLabelValues(pdp, o).Add(float64(n))
	}
	if trustN > 0 {
		c.identityTrust.WithLabelValues(pdp).Set(trustSum / float64(trustN))
	}
}

// ObserveRun records one completed run.
func (c *Collector) ObserveRun(d time.Duration) {
	if c == nil {
		return
	}
	c.runsCompleted.Inc()
	c.runDuration.Observe(d.Seconds())
}

// WriteTextfile dumps the registry to path.
func (c *Collector) WriteTextfile(path string) error {
	if c == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return fmt.Errorf("writing telemetry: %w", err)
	}
	return nil
}

func outcome(a models.Action) string {
	switch a {
	case models.ActionBlock:
		return OutcomeBlocked
	case models.ActionStepUp:
		return OutcomeStepUp
	default:
		return OutcomeMissed
	}
}
