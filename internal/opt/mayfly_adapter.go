package opt

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/cwbudde/mayfly"
)

const (
	// mayflyMinPop is the smallest population mayfly v0.1.0 accepts
	mayflyMinPop = 20

	mayflyDefaultIters = 100
)

// MayflyAdapter wraps the external Mayfly library to conform to our Optimizer interface
type MayflyAdapter struct {
	maxIters int
	popSize  int
	seed     int64
}

// NewMayfly creates a new Mayfly optimizer adapter
func NewMayfly(maxIters, popSize int, seed int64) Optimizer {
	if maxIters <= 0 {
		maxIters = mayflyDefaultIters
	}
	if popSize < mayflyMinPop {
		slog.Debug("Raising mayfly population to library minimum", "requested", popSize, "min", mayflyMinPop)
		popSize = mayflyMinPop
	}
	return &MayflyAdapter{
		maxIters: maxIters,
		popSize:  popSize,
		seed:     seed,
	}
}

// Run executes the Mayfly optimization using the external library.
// The library only supports one scalar range, so every dimension must share
// the same bounds. It cannot be interrupted once started.
func (m *MayflyAdapter) Run(ctx context.Context, eval func([]float64) float64, lower, upper []float64) (*Solution, error) {
	if err := checkBounds(lower, upper); err != nil {
		return nil, err
	}
	for i := range lower {
		if lower[i] != lower[0] || upper[i] != upper[0] {
			return nil, fmt.Errorf("mayfly requires uniform bounds, dimension %d differs", i)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	config := mayfly.NewDefaultConfig()
	config.ObjectiveFunc = eval
	config.ProblemSize = len(lower)
	config.MaxIterations = m.maxIters
	config.NPop = m.popSize
	config.LowerBound = lower[0]
	config.UpperBound = upper[0]
	config.Rand = rand.New(rand.NewSource(m.seed))

	result, err := mayfly.Optimize(config)
	if err != nil {
		return nil, fmt.Errorf("mayfly optimize: %w", err)
	}

	return &Solution{
		Params:     result.GlobalBest.Position,
		Cost:       result.GlobalBest.Cost,
		Iterations: m.maxIters,
	}, nil
}
