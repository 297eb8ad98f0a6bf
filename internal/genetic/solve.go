package genetic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
)

var (
	// ErrNilData is returned when Solve is given no state to start from.
	ErrNilData = errors.New("genetic: nil data")

	// ErrNilOperators is returned when Solve is given no operators.
	ErrNilOperators = errors.New("genetic: nil operators")
)

// Options tunes a search. Invalid values are clamped rather than rejected.
type Options struct {
	// MutationRate is the initial upper bound of Mutate calls per mutation
	// event. It decays linearly towards 1. Values below 1 become 1.
	MutationRate int

	// MaxGenerations caps the search. 0 means no cap, in which case only
	// Abort ends it. Negative values become 0.
	MaxGenerations int

	// PopulationSize is the number of candidates. Values below 1 become 1.
	PopulationSize int

	// Parallel fans the evaluation phases out across GOMAXPROCS workers.
	Parallel bool

	// Rand is the master generator. nil uses NewRand(DefaultSeed).
	// It is only drawn from sequentially.
	Rand *rand.Rand

	// Logger receives debug output. nil uses slog.Default().
	Logger *slog.Logger
}

// DefaultOptions returns the standard tuning: mutation rate 50, no
// generation cap, 1024 candidates, sequential evaluation.
func DefaultOptions() Options {
	return Options{
		MutationRate:   50,
		MaxGenerations: 0,
		PopulationSize: 1024,
	}
}

func (o Options) normalized() Options {
	if o.MutationRate < 1 {
		o.MutationRate = 1
	}
	if o.PopulationSize < 1 {
		o.PopulationSize = 1
	}
	if o.MaxGenerations < 0 {
		o.MaxGenerations = 0
	}
	if o.Rand == nil {
		o.Rand = NewRand(DefaultSeed)
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Solve searches for a state minimizing ops.Error, starting from *data.
//
// *data is only read until the search finishes; on success it is replaced by
// the best state found. Panics raised by ops propagate to the caller, even
// when they happen on a worker goroutine. If ctx is cancelled the search
// stops at the next generation boundary, *data is left untouched and the
// context's cause is returned.
func Solve[T any](ctx context.Context, data *T, ops Operators[T], opts Options) (Result, error) {
	if data == nil {
		return Result{}, ErrNilData
	}
	if ops == nil {
		return Result{}, ErrNilOperators
	}

	if opts.MutationRate < 1 || opts.PopulationSize < 1 || opts.MaxGenerations < 0 {
		logger := opts.Logger
		if logger == nil {
			logger = slog.Default()
		}
		logger.Debug("Clamping invalid solve options",
			"mutation_rate", opts.MutationRate,
			"population_size", opts.PopulationSize,
			"max_generations", opts.MaxGenerations,
		)
	}
	opts = opts.normalized()

	log := opts.Logger
	master := opts.Rand
	sched := NewScheduler(opts.Parallel)
	initialRate := opts.MutationRate
	maxGen := opts.MaxGenerations
	observer, _ := ops.(Observer[T])

	log.Debug("Starting genetic search",
		"population_size", opts.PopulationSize,
		"mutation_rate", initialRate,
		"max_generations", maxGen,
		"parallel", opts.Parallel,
	)

	pop := newPopulation[T](opts.PopulationSize, master)
	pop.seed(*data, ops, initialRate, sched)

	bestEver := math.Inf(1)
	lastImprovement := 0

	for generation := 0; maxGen == 0 || generation < maxGen; generation++ {
		pop.sort()
		pop.jitter(master)

		rate := annealedRate(initialRate, maxGen, generation)

		best := pop[0].err
		if best < bestEver {
			bestEver = best
			lastImprovement = generation
		}
		unchanged := generation - lastImprovement

		if err := context.Cause(ctx); err != nil {
			log.Debug("Genetic search cancelled", "generation", generation, "best_error", best)
			return Result{}, fmt.Errorf("genetic: search cancelled at generation %d: %w", generation, err)
		}

		progress := Progress{
			Error:                best,
			Generation:           generation,
			UnchangedGenerations: unchanged,
			MutationRate:         rate,
		}
		if observer != nil {
			observer.Observe(pop[0].state, progress)
		}
		if ops.Abort(progress) {
			*data = pop[0].state
			result := Result{Error: best, Generations: generation, UnchangedGenerations: unchanged}
			log.Debug("Genetic search aborted", "result", result)
			return result, nil
		}

		pop.reproduce(ops, rate, sched)
	}

	pop.sort()
	*data = pop[0].state
	result := Result{
		Error:                pop[0].err,
		Generations:          maxGen,
		UnchangedGenerations: maxGen - lastImprovement,
	}
	log.Debug("Genetic search reached generation cap", "result", result)
	return result, nil
}

// annealedRate decays initialRate linearly to 1. The floor is reached after
// maxGenerations/8 generations, or after initialRate generations when the
// search is uncapped.
func annealedRate(initialRate, maxGenerations, generation int) int {
	minRateAt := initialRate
	if maxGenerations > 0 {
		minRateAt = maxGenerations / 8
	}
	minRateAt = max(1, minRateAt)
	return max(1, initialRate-generation*initialRate/minRateAt)
}
