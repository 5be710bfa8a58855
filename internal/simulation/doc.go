// Package simulation drives Monte-Carlo experiments that compare PDPs.
//
// Each run regenerates the population and event stream from
// base_seed + run index, builds a fresh instance of every PDP, and evaluates
// the shared read-only event slice on one goroutine per PDP. Runs execute in
// parallel on an errgroup; results are slotted by run index, so identical
// options and seed always produce identical logs and aggregates.
//
// Usage:
//
//	specs, _ := pdp.Specs([]string{"baseline", "securebank"}, pdp.DefaultOptions())
//	d := simulation.NewDriver(simulation.DefaultOptions(), specs,
//	    simulation.WithLogger(logger),
//	    simulation.WithTelemetry(telemetry.New()),
//	)
//	exp, err := d.Run(ctx)
//	agg := exp.Aggregate()
//
// Property helpers in assertions.go check determinism, trust boundedness and
// metric ranges from tests.
package simulation
