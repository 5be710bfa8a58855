package simulation

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/nvandessel/pdpsim/internal/pdp"
	"github.com/nvandessel/pdpsim/internal/trust"
)

// Swept trust-adaptation parameters.
const (
	ParamIdentityDriftFactor = "identity_drift_factor"
	ParamTrustDecay          = "trust_decay"
	ParamTrustGrowth         = "trust_growth"
)

// SweepParams lists the swept parameters in report order.
var SweepParams = []string{ParamIdentityDriftFactor, ParamTrustDecay, ParamTrustGrowth}

// DefaultSteps is the number of values tried per parameter.
const DefaultSteps = 5

// SweepSpread is the relative half-width of each sweep.
const SweepSpread = 0.20

// SensitivityPoint is the adaptive PDP's headline metrics at one value.
type SensitivityPoint struct {
	Value float64 `json:"param_value"`
	TII   float64 `json:"tii"`
	SAE   float64 `json:"sae"`
	ITAL  float64 `json:"ital"`
}

// ParamSensitivity is the coefficient of variation of each metric across a
// parameter's sweep, plus their mean.
type ParamSensitivity struct {
	TII       float64 `json:"tii_sensitivity"`
	SAE       float64 `json:"sae_sensitivity"`
	ITAL      float64 `json:"ital_sensitivity"`
	Aggregate float64 `json:"aggregate_sensitivity"`
}

// SensitivityReport is the outcome of a parameter sweep.
type SensitivityReport struct {
	Ranges   map[string][]float64          `json:"param_ranges"`
	Results  map[string][]SensitivityPoint `json:"results"`
	Scores   map[string]ParamSensitivity   `json:"sensitivity_scores"`
	Critical []string                      `json:"critical_parameters"`
}

// Sensitivity sweeps each trust-adaptation parameter over ±20% of its value
// in base, clipped to [0,1], running the adaptive PDP once per value on run 0 of opts. Other
// parameters keep their base value.
func Sensitivity(ctx context.Context, opts Options, base pdp.Options, steps int) (SensitivityReport, error) {
	if steps < 2 {
		return SensitivityReport{}, fmt.Errorf("sensitivity needs at least 2 steps, got %d", steps)
	}
	if err := opts.Validate(); err != nil {
		return SensitivityReport{}, err
	}

	rep := SensitivityReport{
		Ranges:  make(map[string][]float64, len(SweepParams)),
		Results: make(map[string][]SensitivityPoint, len(SweepParams)),
		Scores:  make(map[string]ParamSensitivity, len(SweepParams)),
	}
	for _, name := range SweepParams {
		v := paramValue(base.Params, name)
		lo := max(v*(1-SweepSpread), 0)
		hi := min(v*(1+SweepSpread), 1)
		rep.Ranges[name] = linspace(lo, hi, steps)
		rep.Results[name] = make([]SensitivityPoint, steps)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(NewDriver(opts, nil).workers())
	for _, name := range SweepParams {
		for i, v := range rep.Ranges[name] {
			g.Go(func() error {
				o := base
				o.Params = withParam(base.Params, name, v)
				specs, err := pdp.Specs([]string{pdp.NameSecureBank}, o)
				if err != nil {
					return err
				}
				res, err := NewDriver(opts, specs).RunOnce(gctx, 0)
				if err != nil {
					return fmt.Errorf("%s=%v: %w", name, v, err)
				}
				m := res.Metrics[pdp.NameSecureBank]
				rep.Results[name][i] = SensitivityPoint{Value: v, TII: m.TII, SAE: m.SAE, ITAL: m.ITAL}
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return SensitivityReport{}, err
	}

	for _, name := range SweepParams {
		var tii, sae, ital []float64
		for _, p := range rep.Results[name] {
			tii = append(tii, p.TII)
			sae = append(sae, p.SAE)
			ital = append(ital, p.ITAL)
		}
		s := ParamSensitivity{TII: cv(tii), SAE: cv(sae), ITAL: cv(ital)}
		s.Aggregate = (s.TII + s.SAE + s.ITAL) / 3
		rep.Scores[name] = s
	}

	ranked := append([]string(nil), SweepParams...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return rep.Scores[ranked[i]].Aggregate > rep.Scores[ranked[j]].Aggregate
	})
	rep.Critical = ranked[:min(3, len(ranked))]
	return rep, nil
}

func paramValue(p trust.Params, name string) float64 {
	switch name {
	case ParamIdentityDriftFactor:
		return p.IdentityDriftFactor
	case ParamTrustDecay:
		return p.TrustDecay
	default:
		return p.TrustGrowth
	}
}

func withParam(p trust.Params, name string, v float64) trust.Params {
	switch name {
	case ParamIdentityDriftFactor:
		p.IdentityDriftFactor = v
	case ParamTrustDecay:
		p.TrustDecay = v
	default:
		p.TrustGrowth = v
	}
	return p
}
