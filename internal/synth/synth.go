// Package synth produces the seeded event stream of a simulation run:
// legitimate transactions with an attack injected at a fixed probability.
package synth

import (
	"math"
	"math/rand/v2"

	"github.com/nvandessel/pdpsim/internal/constants"
	"github.com/nvandessel/pdpsim/internal/invariant"
	"github.com/nvandessel/pdpsim/internal/models"
	"github.com/nvandessel/pdpsim/internal/population"
)

// Options controls the stream.
type Options struct {
	NumEvents         int
	AttackProbability float64

	// Scenarios are the enabled injections. Empty disables attacks.
	Scenarios []models.Scenario
}

// Stream lazily yields a finite sequence of events.
type Stream struct {
	opts Options
	pop  population.Population
	rng  *rand.Rand
	step int

	// Population size of a stream built by NewSeeded; zero otherwise.
	numUsers, numDevices int
	seeded               bool
}

// New creates a stream over pop drawing from r.
func New(opts Options, pop population.Population, r *rand.Rand) *Stream {
	return &Stream{opts: opts, pop: pop, rng: r}
}

// NewSeeded builds the population and the stream of one run from a single
// generator seeded with seed. Population draws come first so both depend
// only on seed.
func NewSeeded(seed int64, numUsers, numDevices int, opts Options) *Stream {
	r := NewRand(seed, StreamEvents)
	pop := population.Generate(r, numUsers, numDevices)
	return &Stream{opts: opts, pop: pop, rng: r, numUsers: numUsers, numDevices: numDevices, seeded: true}
}

// Population returns the population the stream draws from.
func (s *Stream) Population() population.Population {
	return s.pop
}

// Next returns the next event, or false once NumEvents have been emitted.
// A stream over an empty population is empty.
func (s *Stream) Next() (models.Event, bool) {
	if s.step >= s.opts.NumEvents || len(s.pop.Users) == 0 {
		return models.Event{}, false
	}

	user := s.pop.Users[s.rng.IntN(len(s.pop.Users))]
	device := s.pop.DeviceAt(user.ID, s.rng.IntN(s.pop.DeviceCount(user.ID)))
	tx, ctx := s.normal(user)

	if len(s.opts.Scenarios) > 0 && s.rng.Float64() < s.opts.AttackProbability {
		sc := pick(s.rng, s.opts.Scenarios)
		tx, ctx = Inject(sc, tx, ctx, s.rng)
	}
	tx.Amount = invariant.NonNegative("amount", tx.Amount)

	ev := models.Event{
		Step:     s.step,
		User:     user,
		Device:   device,
		Tx:       tx,
		Ctx:      ctx,
		IsAttack: tx.IsAttack,
		Scenario: tx.Scenario,
	}
	s.step++
	return ev, true
}

// Reset restarts the stream from a fresh generator seeded with seed. A
// stream from NewSeeded regenerates its population from that generator, so
// Reset(seed) replays NewSeeded(seed, ...) exactly. A stream from New keeps
// its population.
func (s *Stream) Reset(seed int64) {
	s.rng = NewRand(seed, StreamEvents)
	s.step = 0
	if s.seeded {
		s.pop = population.Generate(s.rng, s.numUsers, s.numDevices)
	}
}

// Collect drains the remaining events into a slice.
func (s *Stream) Collect() []models.Event {
	out := make([]models.Event, 0, max(s.opts.NumEvents-s.step, 0))
	for {
		ev, ok := s.Next()
		if !ok {
			return out
		}
		out = append(out, ev)
	}
}

func (s *Stream) normal(user models.User) (models.Transaction, models.Context) {
	tx := models.Transaction{
		UserID:  user.ID,
		Service: pick(s.rng, constants.Services),
		Amount:  math.Exp(constants.AmountLogMean + constants.AmountLogSigma*s.rng.NormFloat64()),
	}
	ctx := models.Context{
		Geo:     pick(s.rng, constants.TrustedGeos),
		Hour:    s.rng.IntN(24),
		Channel: pick(s.rng, models.Channels),
	}
	return tx, ctx
}

// Generate builds the population and the full event slice of one run from a
// single seed.
func Generate(seed int64, numUsers, numDevices int, opts Options) (population.Population, []models.Event) {
	s := NewSeeded(seed, numUsers, numDevices, opts)
	return s.pop, s.Collect()
}
