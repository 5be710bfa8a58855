package metrics

import (
	"gonum.org/v1/gonum/stat"

	"github.com/nvandessel/pdpsim/internal/constants"
	"github.com/nvandessel/pdpsim/internal/models"
)

// Detection is the outcome breakdown of one attack scenario.
type Detection struct {
	Total   int `json:"total"`
	Blocked int `json:"blocked"`
	StepUp  int `json:"step_up"`
	Allowed int `json:"allowed"`
}

// Rate returns the fraction of the scenario's attacks that were intercepted.
func (d Detection) Rate() float64 { return ratio(d.Blocked+d.StepUp, d.Total) }

// ScenarioDetection breaks down attack outcomes per scenario name. Every
// scenario appears, including ones absent from the log.
func ScenarioDetection(log []models.Record) map[string]Detection {
	out := make(map[string]Detection, len(models.AllScenarios))
	for _, s := range models.AllScenarios {
		out[s.String()] = Detection{}
	}
	for _, r := range log {
		if !r.IsAttack {
			continue
		}
		key := r.Scenario.String()
		d := out[key]
		d.Total++
		switch r.Action {
		case models.ActionBlock:
			d.Blocked++
		case models.ActionStepUp:
			d.StepUp++
		default:
			d.Allowed++
		}
		out[key] = d
	}
	return out
}

// Moments are the mean and sample standard deviation of a series.
type Moments struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
	N    int     `json:"n"`
}

func moments(xs []float64) Moments {
	n := len(xs)
	if n == 0 {
		return Moments{}
	}
	if n < 2 {
		return Moments{Mean: xs[0], N: n}
	}
	mean, std := stat.MeanStdDev(xs, nil)
	return Moments{Mean: mean, Std: std, N: n}
}

// Description summarizes a log's fields.
type Description struct {
	TotalEvents int            `json:"total_events"`
	Amount      Moments        `json:"amount"`
	Risk        Moments        `json:"risk"`
	Theta       Moments        `json:"theta"`
	TrustBefore Moments        `json:"trust_before"`
	TrustAfter  Moments        `json:"trust_after"`
	Actions     map[string]int `json:"actions"`
	Scenarios   map[string]int `json:"scenarios"`
}

// Describe computes descriptive statistics over a log. Nullable fields only
// contribute where present.
func Describe(log []models.Record) Description {
	var amount, risk, theta, before, after []float64
	d := Description{
		TotalEvents: len(log),
		Actions:     make(map[string]int, len(models.Actions)),
		Scenarios:   make(map[string]int),
	}
	for _, a := range models.Actions {
		d.Actions[string(a)] = 0
	}
	for _, r := range log {
		amount = append(amount, r.Amount)
		risk = append(risk, r.Risk)
		if r.Theta != nil {
			theta = append(theta, *r.Theta)
		}
		if r.HasTrust() {
			before = append(before, *r.IdentityBefore)
			after = append(after, *r.IdentityAfter)
		}
		d.Actions[string(r.Action)]++
		if r.IsAttack {
			d.Scenarios[r.Scenario.String()]++
		}
	}
	d.Amount = moments(amount)
	d.Risk = moments(risk)
	d.Theta = moments(theta)
	d.TrustBefore = moments(before)
	d.TrustAfter = moments(after)
	return d
}

// Costs prices classification errors.
type Costs struct {
	FalsePositive float64 `json:"cost_per_false_positive" yaml:"cost_per_false_positive"`
	FalseNegative float64 `json:"cost_per_false_negative" yaml:"cost_per_false_negative"`
}

// DefaultCosts returns manual-review and average-fraud costs.
func DefaultCosts() Costs {
	return Costs{
		FalsePositive: constants.DefaultCostPerFalsePositive,
		FalseNegative: constants.DefaultCostPerFalseNegative,
	}
}

// Impact is the financial effect of a confusion matrix.
type Impact struct {
	FPCost     float64 `json:"fp_cost"`
	FNCost     float64 `json:"fn_cost"`
	TotalCost  float64 `json:"total_cost"`
	NetBenefit float64 `json:"net_benefit"`
}

// Financial prices a confusion matrix. Net benefit credits every caught
// attack with the fraud it prevented.
func Financial(c Confusion, costs Costs) Impact {
	fp := float64(c.FP) * costs.FalsePositive
	fn := float64(c.FN) * costs.FalseNegative
	return Impact{
		FPCost:     fp,
		FNCost:     fn,
		TotalCost:  fp + fn,
		NetBenefit: float64(c.TP)*costs.FalseNegative - fp,
	}
}

// Savings compares a variant's impact against a reference.
type Savings struct {
	CostSavings      float64 `json:"cost_savings"`
	CostReductionPct float64 `json:"cost_reduction_pct"`
	NetBenefitDelta  float64 `json:"net_benefit_improvement"`
}

// Compare returns the savings of variant relative to reference.
func Compare(reference, variant Impact) Savings {
	s := Savings{
		CostSavings:     reference.TotalCost - variant.TotalCost,
		NetBenefitDelta: variant.NetBenefit - reference.NetBenefit,
	}
	if reference.TotalCost > 0 {
		s.CostReductionPct = s.CostSavings / reference.TotalCost * 100
	}
	return s
}
