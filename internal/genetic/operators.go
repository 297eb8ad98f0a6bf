// Package genetic implements a mutation-only population search that minimizes
// the error of an opaque candidate state supplied by the caller.
package genetic

import "math/rand/v2"

// Progress describes the state of a search at the start of a generation.
type Progress struct {
	Error                float64 // Best error of the current generation
	Generation           int
	UnchangedGenerations int // Generations since the best-ever error last improved
	MutationRate         int // Annealed mutation count for this generation
}

// Operators is the contract a caller implements to search over values of T.
//
// Clone, Mutate, MutateLast and Error may be called concurrently for different
// candidates when the search runs in parallel, so they must not share mutable
// state across calls. Abort is always called from the goroutine running Solve.
type Operators[T any] interface {
	// Clone deep-copies src. dst is either a buffer previously owned by the
	// candidate being overwritten or the zero value of T. Implementations may
	// refill dst and return it, or return a fresh value. The result must not
	// alias src.
	Clone(src, dst T) T

	// Mutate applies one minimal random perturbation and returns the result.
	Mutate(data T, rng *rand.Rand) T

	// MutateLast applies one final perturbation after the Mutate calls of a
	// mutation event.
	MutateLast(data T, rng *rand.Rand) T

	// Error scores a candidate. Lower is better. Must be deterministic.
	Error(data T) float64

	// Abort is called once per generation with the best candidate's progress.
	// Returning true stops the search.
	Abort(p Progress) bool
}

// Observer is an optional extension of Operators. When the operators also
// implement it, Solve calls Observe once per generation, right before Abort,
// with the best state of the sorted population. The state still belongs to
// the population: it must not be modified and must be copied to be kept.
type Observer[T any] interface {
	Observe(best T, p Progress)
}

// Funcs adapts ordinary functions to the Operators interface.
// A nil CloneFunc returns src as is, which is a deep copy only for value
// types. A nil MutateLastFunc falls back to MutateFunc and a nil AbortFunc
// never aborts.
type Funcs[T any] struct {
	CloneFunc      func(src, dst T) T
	MutateFunc     func(data T, rng *rand.Rand) T
	MutateLastFunc func(data T, rng *rand.Rand) T
	ErrorFunc      func(data T) float64
	AbortFunc      func(p Progress) bool
}

func (f Funcs[T]) Clone(src, dst T) T {
	if f.CloneFunc == nil {
		return src
	}
	return f.CloneFunc(src, dst)
}

func (f Funcs[T]) Mutate(data T, rng *rand.Rand) T {
	return f.MutateFunc(data, rng)
}

func (f Funcs[T]) MutateLast(data T, rng *rand.Rand) T {
	if f.MutateLastFunc == nil {
		return f.MutateFunc(data, rng)
	}
	return f.MutateLastFunc(data, rng)
}

func (f Funcs[T]) Error(data T) float64 {
	return f.ErrorFunc(data)
}

func (f Funcs[T]) Abort(p Progress) bool {
	if f.AbortFunc == nil {
		return false
	}
	return f.AbortFunc(p)
}
