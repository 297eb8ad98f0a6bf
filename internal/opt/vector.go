package opt

import (
	"math"
	"math/rand/v2"

	"github.com/cwbudde/evosolve/internal/genetic"
)

// resampleOdds is the 1-in-N chance that MutateLast redraws a coordinate
// uniformly instead of nudging it.
const resampleOdds = 16

// maxStepDecades is the number of powers of ten a mutation step can span.
const maxStepDecades = 7

// VectorOperators implements genetic.Operators for box-constrained float64
// vectors.
type VectorOperators struct {
	Eval       func([]float64) float64
	Lower      []float64
	Upper      []float64
	TargetCost float64 // Abort once the best cost is below this, 0 disables
	OnProgress ProgressFunc

	best []float64
}

var (
	_ genetic.Operators[[]float64] = (*VectorOperators)(nil)
	_ genetic.Observer[[]float64]  = (*VectorOperators)(nil)
)

// Clone copies src into dst's storage when it is large enough.
func (o *VectorOperators) Clone(src, dst []float64) []float64 {
	return append(dst[:0], src...)
}

// Mutate shifts one coordinate by a step whose magnitude is a random power
// of ten fraction of that coordinate's range.
func (o *VectorOperators) Mutate(v []float64, rng *rand.Rand) []float64 {
	i := rng.IntN(len(v))
	v[i] = o.clamp(i, v[i]+o.step(i, rng))
	return v
}

// MutateLast either redraws one coordinate uniformly within its bounds or
// nudges it with a Gaussian step.
func (o *VectorOperators) MutateLast(v []float64, rng *rand.Rand) []float64 {
	i := rng.IntN(len(v))
	if rng.IntN(resampleOdds) == 0 {
		v[i] = o.Lower[i] + rng.Float64()*(o.Upper[i]-o.Lower[i])
		return v
	}
	scale := math.Abs(o.step(i, rng))
	v[i] = o.clamp(i, v[i]+rng.NormFloat64()*scale)
	return v
}

func (o *VectorOperators) Error(v []float64) float64 {
	return o.Eval(v)
}

// Observe remembers the current best point for the Abort call that follows.
func (o *VectorOperators) Observe(best []float64, _ genetic.Progress) {
	o.best = best
}

func (o *VectorOperators) Abort(p genetic.Progress) bool {
	best := o.best
	o.best = nil
	if o.OnProgress != nil && o.OnProgress(Progress{
		Iteration: p.Generation,
		BestCost:  p.Error,
		Unchanged: p.UnchangedGenerations,
		Rate:      p.MutationRate,
		Best:      best,
	}) {
		return true
	}
	return o.TargetCost > 0 && p.Error < o.TargetCost
}

func (o *VectorOperators) step(i int, rng *rand.Rand) float64 {
	span := o.Upper[i] - o.Lower[i]
	return (rng.Float64()*2 - 1) * span * math.Pow(10, -float64(rng.IntN(maxStepDecades)))
}

func (o *VectorOperators) clamp(i int, v float64) float64 {
	return math.Max(o.Lower[i], math.Min(o.Upper[i], v))
}
