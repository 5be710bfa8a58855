// Package trust holds the per-run identity and device trust of the adaptive
// PDP, plus the behavioural amount profile used for identity drift.
//
// A State belongs to exactly one PDP instance for one run and is not safe for
// concurrent use.
package trust

import (
	"math"

	"github.com/nvandessel/pdpsim/internal/constants"
	"github.com/nvandessel/pdpsim/internal/invariant"
)

// Profile is the running amount mean of one user.
type Profile struct {
	AvgAmount float64 `json:"avg_amount"`
	Count     int     `json:"count"`
}

// Params are the trust-adaptation parameters.
type Params struct {
	IdentityDriftFactor float64 `json:"identity_drift_factor" yaml:"identity_drift_factor"`
	TrustDecay          float64 `json:"trust_decay" yaml:"trust_decay"`
	TrustGrowth         float64 `json:"trust_growth" yaml:"trust_growth"`
}

// DefaultParams returns the default adaptation parameters.
func DefaultParams() Params {
	return Params{
		IdentityDriftFactor: constants.DefaultIdentityDriftFactor,
		TrustDecay:          constants.DefaultTrustDecay,
		TrustGrowth:         constants.DefaultTrustGrowth,
	}
}

// State maps users and devices to trust values in [0,1].
type State struct {
	identity map[int]float64
	device   map[int]float64
	profiles map[int]*Profile
	initial  float64
}

// NewState creates an empty state whose entries start at DefaultTrust.
func NewState() *State {
	return &State{
		identity: make(map[int]float64),
		device:   make(map[int]float64),
		profiles: make(map[int]*Profile),
		initial:  constants.DefaultTrust,
	}
}

// Identity returns the identity trust of a user, inserting the default on
// first touch.
func (s *State) Identity(userID int) float64 {
	v, ok := s.identity[userID]
	if !ok {
		v = s.initial
		s.identity[userID] = v
	}
	return v
}

// Device returns the trust of a device, inserting the default on first touch.
func (s *State) Device(deviceID int) float64 {
	v, ok := s.device[deviceID]
	if !ok {
		v = s.initial
		s.device[deviceID] = v
	}
	return v
}

// SetIdentity stores a user's trust, clamped to [0,1].
func (s *State) SetIdentity(userID int, v float64) {
	s.identity[userID] = invariant.Unit("identity trust", v)
}

// SetDevice stores a device's trust, clamped to [0,1].
func (s *State) SetDevice(deviceID int, v float64) {
	s.device[deviceID] = invariant.Unit("device trust", v)
}

// Profile returns the amount profile of a user. The second result is false
// when the profile was created by this call, seeded with amount and count 1.
func (s *State) Profile(userID int, amount float64) (Profile, bool) {
	p, ok := s.profiles[userID]
	if !ok {
		s.profiles[userID] = &Profile{AvgAmount: amount, Count: 1}
		return *s.profiles[userID], false
	}
	return *p, true
}

// Observe folds amount into an existing profile's running mean.
func (s *State) Observe(userID int, amount float64) {
	p, ok := s.profiles[userID]
	if !ok {
		s.profiles[userID] = &Profile{AvgAmount: amount, Count: 1}
		return
	}
	p.Count++
	p.AvgAmount += (amount - p.AvgAmount) / float64(p.Count)
}

// Drift scores how far amount deviates from the user's profile, then folds
// amount into the profile. First sight scores zero.
func (s *State) Drift(userID int, amount, factor float64) float64 {
	p, seen := s.Profile(userID, amount)
	if !seen {
		return 0
	}
	d := math.Abs(amount-p.AvgAmount) / math.Max(p.AvgAmount, 1e-6) * factor
	s.Observe(userID, amount)
	return math.Min(1, d)
}

// Users returns how many identities have been touched.
func (s *State) Users() int { return len(s.identity) }

// Devices returns how many devices have been touched.
func (s *State) Devices() int { return len(s.device) }

// Decay lowers a trust value multiplicatively by rate.
func Decay(v, rate float64) float64 {
	return invariant.Unit("trust", v*(1-rate))
}

// Grow moves a trust value toward ceiling by a fraction rate of the gap.
func Grow(v, rate, ceiling float64) float64 {
	return invariant.Unit("trust", math.Min(ceiling, v+rate*(ceiling-v)))
}
