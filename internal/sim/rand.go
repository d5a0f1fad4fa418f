package sim

import "github.com/iti/rngstream"

// Rand is the random source behind every probabilistic decision in a
// run (jitter, loss, synchrony violations, proposer backoff). A fixed
// master seed must yield a bit-identical run, so anything that needs
// randomness takes a Rand instead of reaching for a global generator.
type Rand interface {
	Float64() float64 // uniform in [0,1)
}

// Seed sets the master seed for all streams created afterwards.
// Call once per run, before NewRand.
func Seed(seed uint64) {
	rngstream.SetRngStreamMasterSeed(seed)
}

// NewRand returns an independent named stream. Components each get
// their own stream ("network", "node-3", ...) so that adding a
// consumer does not perturb the draws seen by the others.
func NewRand(name string) Rand {
	return &rngSource{g: rngstream.New(name)}
}

type rngSource struct {
	g *rngstream.RngStream
}

func (r *rngSource) Float64() float64 {
	return r.g.RandU01()
}
