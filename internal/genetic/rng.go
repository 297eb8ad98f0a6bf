package genetic

import "math/rand/v2"

// DefaultSeed seeds the master generator when Options.Rand is nil.
const DefaultSeed uint64 = 1

// maxPrefixDiscard bounds how many leading values a derived stream skips.
const maxPrefixDiscard = 11

// NewRand returns a PCG generator seeded deterministically from seed.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, splitmix64(seed)))
}

// deriveRand creates an independent stream for one candidate. It consumes one
// value from master as the seed, then discards a random prefix of 0..10
// values so that streams seeded from consecutive master draws decorrelate.
// Must only be called from sequential code.
func deriveRand(master *rand.Rand) *rand.Rand {
	r := NewRand(master.Uint64())
	skip := master.IntN(maxPrefixDiscard)
	for range skip {
		r.Uint64()
	}
	return r
}

// splitmix64 is the SplitMix64 finalizer (Vigna 2014).
func splitmix64(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}

// mutationCount draws the number of Mutate calls for one mutation event,
// uniform in [1, rate].
func mutationCount(rng *rand.Rand, rate int) int {
	if rate <= 1 {
		return 1
	}
	return 1 + rng.IntN(rate)
}
