package genetic

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// multiScaleStep draws a perturbation in (-1, 1) scaled by 10^-k, k in [0, 6].
func multiScaleStep(rng *rand.Rand) float64 {
	return (rng.Float64()*2 - 1) * math.Pow(10, -float64(rng.IntN(7)))
}

func piOperators(abort func(Progress) bool) Funcs[float64] {
	return Funcs[float64]{
		MutateFunc: func(x float64, rng *rand.Rand) float64 {
			return x + multiScaleStep(rng)
		},
		ErrorFunc: func(x float64) float64 {
			d := x - 3.14
			return d * d
		},
		AbortFunc: abort,
	}
}

func convergedOrExhausted(p Progress) bool {
	return p.Error < 1e-6 || p.Generation >= 1000
}

func TestSolve_ConvergesOnScalarTarget(t *testing.T) {
	x := 0.0
	opts := DefaultOptions()
	opts.PopulationSize = 256
	opts.Rand = NewRand(7)

	result, err := Solve(context.Background(), &x, piOperators(convergedOrExhausted), opts)
	require.NoError(t, err)

	assert.Less(t, result.Error, 1e-6)
	assert.Less(t, result.Generations, 1000)
	assert.InDelta(t, 3.14, x, 1e-3)
	assert.Equal(t, (x-3.14)*(x-3.14), result.Error)
}

// The mutation step shrinks with the annealed rate the engine last reported.
func TestSolve_ConvergesWithRateScaledNoise(t *testing.T) {
	for _, seed := range []uint64{1, 2, 3, 7, 42} {
		rate := DefaultOptions().MutationRate
		ops := Funcs[float64]{
			MutateFunc: func(x float64, rng *rand.Rand) float64 {
				return x + (rng.Float64()*2-1)/float64(rate)
			},
			ErrorFunc: func(x float64) float64 {
				d := x - 3.14
				return d * d
			},
			AbortFunc: func(p Progress) bool {
				rate = p.MutationRate
				return convergedOrExhausted(p)
			},
		}

		x := 0.0
		opts := DefaultOptions()
		opts.Rand = NewRand(seed)

		result, err := Solve(context.Background(), &x, ops, opts)
		require.NoError(t, err)
		assert.Less(t, result.Error, 1e-6, "seed %d", seed)
		assert.Less(t, result.Generations, 1000, "seed %d", seed)
		assert.InDelta(t, 3.14, x, 1e-3, "seed %d", seed)
	}
}

func TestSolve_SequentialIsDeterministic(t *testing.T) {
	run := func() (float64, Result) {
		x := 0.0
		opts := DefaultOptions()
		opts.PopulationSize = 256
		opts.Rand = NewRand(99)
		result, err := Solve(context.Background(), &x, piOperators(convergedOrExhausted), opts)
		require.NoError(t, err)
		return x, result
	}

	x1, r1 := run()
	x2, r2 := run()

	assert.Equal(t, math.Float64bits(x1), math.Float64bits(x2))
	assert.Equal(t, r1, r2)
}

func TestSolve_ParallelMatchesSequential(t *testing.T) {
	run := func(parallel bool) (float64, Result) {
		x := 0.0
		opts := DefaultOptions()
		opts.PopulationSize = 512
		opts.MaxGenerations = 40
		opts.Parallel = parallel
		opts.Rand = NewRand(3)
		result, err := Solve(context.Background(), &x, piOperators(nil), opts)
		require.NoError(t, err)
		return x, result
	}

	xs, rs := run(false)
	xp, rp := run(true)

	assert.Equal(t, xs, xp)
	assert.Equal(t, rs, rp)
}

func TestSolve_NilRandIsReproducible(t *testing.T) {
	run := func() Result {
		x := 0.0
		opts := DefaultOptions()
		opts.PopulationSize = 64
		opts.MaxGenerations = 20
		result, err := Solve(context.Background(), &x, piOperators(nil), opts)
		require.NoError(t, err)
		return result
	}

	assert.Equal(t, run(), run())
}

func TestSolve_BestErrorNeverIncreases(t *testing.T) {
	for _, size := range []int{32, 100, 1024} {
		var history []float64
		ops := piOperators(func(p Progress) bool {
			history = append(history, p.Error)
			return false
		})

		x := -20.0
		opts := DefaultOptions()
		opts.PopulationSize = size
		opts.MaxGenerations = 60
		opts.Rand = NewRand(uint64(size))

		_, err := Solve(context.Background(), &x, ops, opts)
		require.NoError(t, err)
		require.Len(t, history, 60)

		for g := 1; g < len(history); g++ {
			assert.LessOrEqual(t, history[g], history[g-1], "size %d generation %d", size, g)
		}
	}
}

func TestSolve_GenerationCap(t *testing.T) {
	for _, size := range []int{1, 7, 31, 32, 64, 1024} {
		calls := 0
		ops := piOperators(func(p Progress) bool {
			assert.Equal(t, calls, p.Generation)
			calls++
			return false
		})

		x := 0.0
		opts := DefaultOptions()
		opts.PopulationSize = size
		opts.MaxGenerations = 5

		result, err := Solve(context.Background(), &x, ops, opts)
		require.NoError(t, err)

		assert.Equal(t, 5, result.Generations, "size %d", size)
		assert.Equal(t, 5, calls, "size %d", size)
	}
}

func TestSolve_AbortStopsAtGeneration(t *testing.T) {
	var seen Progress
	ops := piOperators(func(p Progress) bool {
		seen = p
		return p.Generation == 3
	})

	x := 0.0
	opts := DefaultOptions()
	opts.PopulationSize = 64
	opts.MaxGenerations = 100

	result, err := Solve(context.Background(), &x, ops, opts)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Generations)
	assert.Equal(t, seen.Error, result.Error)
	assert.Equal(t, seen.UnchangedGenerations, result.UnchangedGenerations)
	assert.Equal(t, (x-3.14)*(x-3.14), result.Error)
}

func TestSolve_UnchangedGenerationsWithoutImprovement(t *testing.T) {
	var unchanged []int
	ops := Funcs[float64]{
		MutateFunc: func(x float64, _ *rand.Rand) float64 { return x },
		ErrorFunc:  func(x float64) float64 { return x },
		AbortFunc: func(p Progress) bool {
			unchanged = append(unchanged, p.UnchangedGenerations)
			return false
		},
	}

	x := 10.0
	opts := DefaultOptions()
	opts.PopulationSize = 64
	opts.MaxGenerations = 5

	result, err := Solve(context.Background(), &x, ops, opts)
	require.NoError(t, err)

	assert.Equal(t, []int{0, 1, 2, 3, 4}, unchanged)
	assert.Equal(t, 5, result.UnchangedGenerations)
	assert.Equal(t, 10.0, result.Error)
}

func TestSolve_UnchangedGenerationsResetOnImprovement(t *testing.T) {
	var unchanged []int
	ops := Funcs[float64]{
		MutateFunc: func(x float64, _ *rand.Rand) float64 { return x - 1 },
		ErrorFunc:  func(x float64) float64 { return x },
		AbortFunc: func(p Progress) bool {
			unchanged = append(unchanged, p.UnchangedGenerations)
			return false
		},
	}

	x := 0.0
	opts := DefaultOptions()
	opts.PopulationSize = 64
	opts.MaxGenerations = 6

	result, err := Solve(context.Background(), &x, ops, opts)
	require.NoError(t, err)

	assert.Equal(t, []int{0, 0, 0, 0, 0, 0}, unchanged)
	// The cap result counts from the last generation that ran the abort check.
	assert.Equal(t, 1, result.UnchangedGenerations)
	assert.Less(t, result.Error, -6.0)
}

func TestSolve_MutationRateAnnealing(t *testing.T) {
	var rates []int
	ops := piOperators(func(p Progress) bool {
		rates = append(rates, p.MutationRate)
		return false
	})

	x := 0.0
	opts := DefaultOptions()
	opts.PopulationSize = 8
	opts.MutationRate = 10
	opts.MaxGenerations = 40 // floor reached after 40/8 = 5 generations

	_, err := Solve(context.Background(), &x, ops, opts)
	require.NoError(t, err)

	require.Len(t, rates, 40)
	assert.Equal(t, []int{10, 8, 6, 4, 2, 1, 1}, rates[:7])
	assert.Equal(t, 1, rates[39])
}

func TestAnnealedRate(t *testing.T) {
	tests := []struct {
		name                        string
		initial, maxGen, generation int
		want                        int
	}{
		{"uncapped start", 50, 0, 0, 50},
		{"uncapped decays by one", 50, 0, 10, 40},
		{"uncapped floor", 50, 0, 50, 1},
		{"uncapped beyond floor", 50, 0, 500, 1},
		{"capped start", 50, 80, 0, 50},
		{"capped step", 50, 80, 1, 45},
		{"capped floor", 50, 80, 10, 1},
		{"tiny cap uses minimum of one", 50, 5, 1, 1},
		{"rate one stays one", 1, 0, 0, 1},
		{"integer division", 7, 0, 3, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, annealedRate(tt.initial, tt.maxGen, tt.generation))
		})
	}
}

func TestSolve_ClampsInvalidOptions(t *testing.T) {
	var rates []int
	ops := piOperators(func(p Progress) bool {
		rates = append(rates, p.MutationRate)
		return p.Generation == 2
	})

	x := 0.0
	opts := Options{MutationRate: -3, PopulationSize: 0, MaxGenerations: -1}

	result, err := Solve(context.Background(), &x, ops, opts)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Generations)
	assert.Equal(t, []int{1, 1, 1}, rates)
}

func TestSolve_DoesNotMutateCallerState(t *testing.T) {
	seed := []float64{1, 2, 3}
	original := append([]float64(nil), seed...)

	ops := Funcs[[]float64]{
		CloneFunc: func(src, dst []float64) []float64 {
			return append(dst[:0], src...)
		},
		MutateFunc: func(v []float64, rng *rand.Rand) []float64 {
			v[rng.IntN(len(v))] += rng.NormFloat64()
			return v
		},
		ErrorFunc: func(v []float64) float64 {
			var sum float64
			for _, x := range v {
				sum += x * x
			}
			return sum
		},
	}

	data := seed
	opts := DefaultOptions()
	opts.PopulationSize = 64
	opts.MaxGenerations = 10
	opts.Parallel = true

	result, err := Solve(context.Background(), &data, ops, opts)
	require.NoError(t, err)

	assert.Equal(t, original, seed)
	assert.Equal(t, ops.ErrorFunc(data), result.Error)
	assert.LessOrEqual(t, result.Error, ops.ErrorFunc(original))
}

func TestSolve_PropagatesWorkerPanic(t *testing.T) {
	var evaluations atomic.Int64
	ops := Funcs[float64]{
		MutateFunc: func(x float64, _ *rand.Rand) float64 { return x + 1 },
		ErrorFunc: func(x float64) float64 {
			if evaluations.Add(1) > 100 {
				panic("score failed")
			}
			return x
		},
	}

	for _, parallel := range []bool{false, true} {
		evaluations.Store(0)
		x := 0.0
		opts := DefaultOptions()
		opts.PopulationSize = 64
		opts.MaxGenerations = 10
		opts.Parallel = parallel

		assert.PanicsWithValue(t, "score failed", func() {
			_, _ = Solve(context.Background(), &x, ops, opts)
		}, "parallel=%v", parallel)
		assert.Equal(t, 0.0, x)
	}
}

func TestSolve_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ops := piOperators(func(p Progress) bool {
		if p.Generation == 2 {
			cancel()
		}
		return false
	})

	x := 0.0
	opts := DefaultOptions()
	opts.PopulationSize = 32

	_, err := Solve(ctx, &x, ops, opts)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 0.0, x)
}

func TestSolve_NilArguments(t *testing.T) {
	_, err := Solve[float64](context.Background(), nil, piOperators(nil), DefaultOptions())
	assert.ErrorIs(t, err, ErrNilData)

	x := 0.0
	_, err = Solve[float64](context.Background(), &x, nil, DefaultOptions())
	assert.ErrorIs(t, err, ErrNilOperators)
}

type observingOperators struct {
	Funcs[float64]
	observed []float64
	errors   []float64
}

func (o *observingOperators) Observe(best float64, p Progress) {
	o.observed = append(o.observed, best)
	o.errors = append(o.errors, p.Error)
}

func TestSolve_ObserverSeesBestBeforeAbort(t *testing.T) {
	ops := &observingOperators{}
	ops.Funcs = piOperators(func(p Progress) bool {
		// Observe has already run for this generation.
		return len(ops.observed) != p.Generation+1 || p.Generation == 4
	})

	x := 0.0
	opts := DefaultOptions()
	opts.PopulationSize = 64
	opts.Rand = NewRand(5)

	result, err := Solve(context.Background(), &x, ops, opts)
	require.NoError(t, err)

	assert.Equal(t, 4, result.Generations)
	require.Len(t, ops.observed, 5)
	assert.Equal(t, x, ops.observed[4])
	for i, best := range ops.observed {
		d := best - 3.14
		assert.Equal(t, d*d, ops.errors[i])
	}
}
