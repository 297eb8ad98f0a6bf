package genetic

import (
	"math"
	"math/rand/v2"
	"slices"
)

// maxElites caps how many top candidates survive a generation unmutated.
const maxElites = 32

type slot[T any] struct {
	state T
	err   float64
	rng   *rand.Rand
}

type population[T any] []slot[T]

// newPopulation allocates n slots, each with its own stream derived from
// master. Slot states are left empty until seed is called.
func newPopulation[T any](n int, master *rand.Rand) population[T] {
	pop := make(population[T], n)
	for i := range pop {
		pop[i].rng = deriveRand(master)
	}
	return pop
}

// seed fills every slot from data. Slot 0 is an unmutated copy, every other
// slot is a copy after one mutation event.
func (pop population[T]) seed(data T, ops Operators[T], rate int, sched Scheduler) {
	sched.Run(len(pop), func(i int) {
		s := &pop[i]
		var zero T
		s.state = ops.Clone(data, zero)
		if i > 0 {
			s.state = mutate(s.state, ops, s.rng, rate)
		}
		s.err = ops.Error(s.state)
	})
}

// sort orders slots by ascending error. NaN errors sort last.
func (pop population[T]) sort() {
	slices.SortStableFunc(pop, func(a, b slot[T]) int {
		return compareErrors(a.err, b.err)
	})
}

// jitter advances each slot's stream by one step with probability 1/2.
// It draws from master and must only run sequentially.
func (pop population[T]) jitter(master *rand.Rand) {
	for i := range pop {
		if master.IntN(2) == 1 {
			pop[i].rng.Uint64()
		}
	}
}

// reproduce regenerates every non-elite slot from the elites of the sorted
// population. Even slots clone their elite first; when the elite is the slot
// itself (populations with no elites) Clone is not called at all.
func (pop population[T]) reproduce(ops Operators[T], rate int, sched Scheduler) {
	keep := eliteCount(len(pop))
	sched.Run(len(pop)-keep, func(j int) {
		d := keep + j
		s := &pop[d]
		// Odd slots continue from their own previous state.
		if d%2 == 0 {
			if src := eliteSource(d, keep); src != d {
				s.state = ops.Clone(pop[src].state, s.state)
			}
		}
		s.state = mutate(s.state, ops, s.rng, rate)
		s.err = ops.Error(s.state)
	})
}

// eliteCount returns how many sorted slots are kept unmutated: n/32, capped
// at 32. Populations smaller than 32 keep none.
func eliteCount(n int) int {
	return min(maxElites, n>>5)
}

// eliteSource maps a destination index to the elite it is bred from. The
// mask keep-1 is all ones when keep is zero, so every index then maps to
// itself. For keep values that are not powers of two only the elites whose
// index bits fit the mask are ever selected.
func eliteSource(d, keep int) int {
	return d & (keep - 1)
}

// mutate applies one mutation event: a random number of Mutate calls in
// [1, rate] followed by a single MutateLast.
func mutate[T any](data T, ops Operators[T], rng *rand.Rand, rate int) T {
	for range mutationCount(rng, rate) {
		data = ops.Mutate(data, rng)
	}
	return ops.MutateLast(data, rng)
}

func compareErrors(a, b float64) int {
	aNaN, bNaN := math.IsNaN(a), math.IsNaN(b)
	switch {
	case aNaN && bNaN:
		return 0
	case aNaN:
		return 1
	case bNaN:
		return -1
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
