// Package pdp implements the policy decision points compared by the
// simulator. Every PDP maps an event to an allow, step_up or block decision;
// stateful PDPs receive their state at construction and own it for one run.
package pdp

import (
	"fmt"
	"sort"

	"github.com/nvandessel/pdpsim/internal/invariant"
	"github.com/nvandessel/pdpsim/internal/models"
	"github.com/nvandessel/pdpsim/internal/trust"
)

// PDP names.
const (
	NameBaseline   = "baseline"
	NameSecureBank = "securebank"
	NameZeroTrust  = "zerotrust"
)

// ReasonEvaluationFault marks a decision produced after a PDP panicked.
const ReasonEvaluationFault = "EVALUATION_FAULT"

// PDP evaluates events in generation order. Implementations are not safe for
// concurrent use; each goroutine owns its own instance.
type PDP interface {
	Name() string
	Evaluate(ev models.Event) models.Decision
}

// Factory creates a fresh PDP for one run.
type Factory func(runSeed int64) PDP

// Spec names a PDP and how to build it.
type Spec struct {
	Name string
	New  Factory
}

// Options carries the configuration every factory may draw on.
type Options struct {
	Calibration Calibration
	Params      trust.Params
	ZeroTrust   ZeroTrustConfig
}

// DefaultOptions returns options with the hard calibration.
func DefaultOptions() Options {
	return Options{
		Calibration: HardCalibration(),
		Params:      trust.DefaultParams(),
		ZeroTrust:   DefaultZeroTrustConfig(),
	}
}

var factories = map[string]func(Options) Factory{
	NameBaseline: func(Options) Factory {
		return func(int64) PDP { return Baseline{} }
	},
	NameSecureBank: func(o Options) Factory {
		return func(int64) PDP { return NewAdaptive(trust.NewState(), o.Calibration, o.Params) }
	},
	NameZeroTrust: func(o Options) Factory {
		return func(seed int64) PDP { return NewZeroTrust(o.ZeroTrust, seed) }
	},
}

// Names returns the known PDP names, sorted.
func Names() []string {
	out := make([]string, 0, len(factories))
	for n := range factories {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Known reports whether name is a registered PDP.
func Known(name string) bool {
	_, ok := factories[name]
	return ok
}

// Specs resolves names to guarded factories, preserving order.
func Specs(names []string, opts Options) ([]Spec, error) {
	specs := make([]Spec, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		mk, ok := factories[n]
		if !ok {
			return nil, fmt.Errorf("unknown pdp %q (valid: %v)", n, Names())
		}
		if seen[n] {
			return nil, fmt.Errorf("pdp %q listed twice", n)
		}
		seen[n] = true
		f := mk(opts)
		specs = append(specs, Spec{Name: n, New: func(seed int64) PDP { return Guard(f(seed)) }})
	}
	return specs, nil
}

// Guard wraps p so that a panic during evaluation yields a block decision.
// Debug builds let the panic through.
func Guard(p PDP) PDP {
	if _, ok := p.(guarded); ok {
		return p
	}
	return guarded{inner: p}
}

type guarded struct {
	inner PDP
}

func (g guarded) Name() string { return g.inner.Name() }

func (g guarded) Evaluate(ev models.Event) (d models.Decision) {
	if !invariant.Enabled {
		defer func() {
			if r := recover(); r != nil {
				d = models.Decision{
					Allowed: false,
					Action:  models.ActionBlock,
					Reason:  ReasonEvaluationFault,
					Risk:    1,
				}
			}
		}()
	}
	return g.inner.Evaluate(ev)
}

// Unwrap returns the PDP inside a guard, or p itself.
func Unwrap(p PDP) PDP {
	if g, ok := p.(guarded); ok {
		return g.inner
	}
	return p
}

func decide(action models.Action, reason string) models.Decision {
	return models.Decision{
		Allowed: action == models.ActionAllow,
		Action:  action,
		Reason:  reason,
	}
}
