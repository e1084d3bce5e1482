package api

import "math/rand/v2"

// Rand is the random source used for simulated durations.
type Rand interface {
	// IntN returns a value in [0, n).
	IntN(n int) int
}

type defaultRand struct{}

func (defaultRand) IntN(n int) int { return rand.IntN(n) }

// DefaultRand draws from the process-wide math/rand/v2 source.
var DefaultRand Rand = defaultRand{}

// Uniform returns an integer uniformly distributed in [lo, hi], inclusive.
func Uniform(r Rand, lo, hi int) int {
	return lo + r.IntN(hi-lo+1)
}
