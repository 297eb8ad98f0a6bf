package opt

import (
	"context"
	"fmt"
	"slices"
)

// Solution is the outcome of an optimization run
type Solution struct {
	Params     []float64 `json:"params"`
	Cost       float64   `json:"cost"`
	Iterations int       `json:"iterations"`
}

// Progress is reported by optimizers that can observe their own iterations
type Progress struct {
	Iteration int
	BestCost  float64
	Unchanged int // Iterations since the best cost last improved
	Rate      int // Current mutation rate, 0 if the optimizer has none

	// Best is the current best point. It is only valid during the callback;
	// copy it to keep it.
	Best []float64
}

// ProgressFunc receives progress updates. Returning true stops the run early.
type ProgressFunc func(p Progress) bool

// Optimizer defines an optimization algorithm interface
type Optimizer interface {
	// Run minimizes eval inside the box [lower, upper].
	// The dimensionality of the search is len(lower).
	Run(ctx context.Context, eval func([]float64) float64, lower, upper []float64) (*Solution, error)
}

// Names of the available optimizers.
const (
	NameGenetic = "genetic"
	NameMayfly  = "mayfly"
)

// Settings collects the knobs shared by the optimizer constructors.
type Settings struct {
	MutationRate   int
	MaxGenerations int
	PopulationSize int
	Parallel       bool
	Seed           uint64
	TargetCost     float64   // Stop once the best cost drops below this, 0 disables
	Initial        []float64 // Starting point for optimizers that accept one
	Progress       ProgressFunc
}

// New creates the optimizer registered under name.
func New(name string, s Settings) (Optimizer, error) {
	switch name {
	case NameGenetic:
		return NewGenetic(s), nil
	case NameMayfly:
		return NewMayfly(s.MaxGenerations, s.PopulationSize, int64(s.Seed)), nil
	default:
		return nil, fmt.Errorf("unknown optimizer: %s", name)
	}
}

// Names returns the names accepted by New.
func Names() []string {
	return []string{NameGenetic, NameMayfly}
}

// IsKnown reports whether New accepts name.
func IsKnown(name string) bool {
	return slices.Contains(Names(), name)
}

func checkBounds(lower, upper []float64) error {
	if len(lower) == 0 {
		return fmt.Errorf("empty search space")
	}
	if len(lower) != len(upper) {
		return fmt.Errorf("bounds length mismatch: lower=%d upper=%d", len(lower), len(upper))
	}
	for i := range lower {
		if lower[i] > upper[i] {
			return fmt.Errorf("invalid bounds at %d: %g > %g", i, lower[i], upper[i])
		}
	}
	return nil
}
