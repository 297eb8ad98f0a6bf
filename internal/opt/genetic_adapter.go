package opt

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/cwbudde/evosolve/internal/genetic"
)

// GeneticOptimizer runs the genetic engine over float64 vectors
type GeneticOptimizer struct {
	settings Settings
}

// NewGenetic creates a genetic optimizer. Zero tuning values fall back to
// genetic.DefaultOptions.
func NewGenetic(s Settings) *GeneticOptimizer {
	return &GeneticOptimizer{settings: s}
}

// Run starts from Settings.Initial when it has the right dimension, or from a
// uniformly drawn point otherwise.
func (g *GeneticOptimizer) Run(ctx context.Context, eval func([]float64) float64, lower, upper []float64) (*Solution, error) {
	if err := checkBounds(lower, upper); err != nil {
		return nil, err
	}

	rng := genetic.NewRand(g.settings.Seed)
	ops := &VectorOperators{
		Eval:       eval,
		Lower:      lower,
		Upper:      upper,
		TargetCost: g.settings.TargetCost,
		OnProgress: g.settings.Progress,
	}

	start, err := g.startingPoint(lower, upper, rng, ops)
	if err != nil {
		return nil, err
	}

	opts := genetic.DefaultOptions()
	if g.settings.MutationRate != 0 {
		opts.MutationRate = g.settings.MutationRate
	}
	if g.settings.PopulationSize != 0 {
		opts.PopulationSize = g.settings.PopulationSize
	}
	opts.MaxGenerations = g.settings.MaxGenerations
	opts.Parallel = g.settings.Parallel
	opts.Rand = rng

	slog.Debug("Running genetic optimizer",
		"dim", len(lower),
		"population_size", opts.PopulationSize,
		"max_generations", opts.MaxGenerations,
		"parallel", opts.Parallel,
	)

	result, err := genetic.Solve(ctx, &start, ops, opts)
	if err != nil {
		return nil, fmt.Errorf("genetic optimizer: %w", err)
	}

	return &Solution{
		Params:     start,
		Cost:       result.Error,
		Iterations: result.Generations,
	}, nil
}

func (g *GeneticOptimizer) startingPoint(lower, upper []float64, rng *rand.Rand, ops *VectorOperators) ([]float64, error) {
	if init := g.settings.Initial; len(init) > 0 {
		if len(init) != len(lower) {
			return nil, fmt.Errorf("initial vector has %d params, search space has %d", len(init), len(lower))
		}
		start := make([]float64, len(init))
		for i, v := range init {
			start[i] = ops.clamp(i, v)
		}
		return start, nil
	}

	start := make([]float64, len(lower))
	for i := range start {
		start[i] = lower[i] + rng.Float64()*(upper[i]-lower[i])
	}
	return start, nil
}
