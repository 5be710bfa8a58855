// Package invariant enforces numeric bounds on trust values and amounts.
//
// Builds tagged pdpsimdebug panic on a violation so the offending event is
// visible in tests. Release builds clamp the value and carry on.
package invariant

import (
	"fmt"
	"math"
)

// Unit clamps v into [0,1].
func Unit(name string, v float64) float64 {
	if v >= 0 && v <= 1 {
		return v
	}
	if Enabled {
		panic(fmt.Sprintf("invariant: %s = %v outside [0,1]", name, v))
	}
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	return 1
}

// NonNegative clamps v to be at least 0.
func NonNegative(name string, v float64) float64 {
	if v >= 0 {
		return v
	}
	if Enabled {
		panic(fmt.Sprintf("invariant: %s = %v is negative", name, v))
	}
	return 0
}

// Clamp bounds v to [lo,hi] without treating it as a violation.
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
