package simulation

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/nvandessel/pdpsim/internal/metrics"
	"github.com/nvandessel/pdpsim/internal/synth"
)

// DefaultLoads are the event counts tried by Scalability.
var DefaultLoads = []int{1000, 5000, 10000, 50000}

// LoadPoint is one PDP's cost and headline metrics at one load.
type LoadPoint struct {
	Events         int     `json:"num_events"`
	PDP            string  `json:"pdp"`
	ElapsedMS      float64 `json:"elapsed_ms"`
	LatencyMicros  float64 `json:"latency_us_per_event"`
	EventsPerSec   float64 `json:"events_per_sec"`
	TII            float64 `json:"TII"`
	SAE            float64 `json:"SAE"`
	Effectiveness  float64 `json:"effectiveness"` // (TII + SAE) / 2
	OverheadFactor float64 `json:"overhead_vs_reference"`
}

// ScalabilityReport lists points ordered by load, then by PDP order.
type ScalabilityReport struct {
	Loads  []int       `json:"loads"`
	Points []LoadPoint `json:"points"`
}

// Scalability runs the driver's PDPs over run 0 traffic at each load and
// times them one after another, so measurements do not compete for CPU.
// Loads must be positive; they are reported in ascending order. The
// overhead factor is a PDP's latency over the reference PDP's at the same
// load.
func (d *Driver) Scalability(ctx context.Context, loads []int) (ScalabilityReport, error) {
	if len(loads) == 0 {
		loads = DefaultLoads
	}
	loads = slices.Clone(loads)
	slices.Sort(loads)
	loads = slices.Compact(loads)
	if loads[0] < 1 {
		return ScalabilityReport{}, fmt.Errorf("loads must be positive, got %d", loads[0])
	}
	if len(d.policies) == 0 {
		return ScalabilityReport{}, fmt.Errorf("scalability needs at least one PDP")
	}

	rep := ScalabilityReport{Loads: loads}
	for _, load := range loads {
		o := d.opts
		o.NumEvents = load
		if err := o.Validate(); err != nil {
			return ScalabilityReport{}, err
		}
		_, events := synth.Generate(o.Seed, o.NumUsers, o.NumDevices, o.synth())

		var refLatency float64
		for i, spec := range d.policies {
			start := time.Now()
			log, err := d.evaluate(ctx, 0, spec.Name, spec.New(o.Seed), events)
			if err != nil {
				return ScalabilityReport{}, fmt.Errorf("load %d: %w", load, err)
			}
			elapsed := time.Since(start)

			m := metrics.Compute(log, o.DriftWeight)
			p := LoadPoint{
				Events:        load,
				PDP:           spec.Name,
				ElapsedMS:     float64(elapsed.Microseconds()) / 1000,
				LatencyMicros: float64(elapsed.Nanoseconds()) / 1000 / float64(len(events)),
				TII:           m.TII,
				SAE:           m.SAE,
				Effectiveness: (m.TII + m.SAE) / 2,
			}
			if s := elapsed.Seconds(); s > 0 {
				p.EventsPerSec = float64(len(events)) / s
			}
			if i == 0 {
				refLatency = p.LatencyMicros
			}
			if refLatency > 0 {
				p.OverheadFactor = p.LatencyMicros / refLatency
			}
			rep.Points = append(rep.Points, p)
		}
		d.logger.Debug("load measured", "events", load, "pdps", len(d.policies))
	}
	return rep, nil
}
