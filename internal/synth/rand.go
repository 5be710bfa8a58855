package synth

import "math/rand/v2"

// Stream salts keep independent consumers of one run seed from sharing draws.
const (
	StreamEvents uint64 = 0x9e3779b97f4a7c15
	StreamMFA    uint64 = 0xbf58476d1ce4e5b9
)

// NewRand returns a deterministic generator for seed on the given stream.
func NewRand(seed int64, stream uint64) *rand.Rand {
	return rand.New(rand.NewPCG(uint64(seed), stream))
}
