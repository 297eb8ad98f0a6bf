// Package problem provides continuous benchmark objectives for the optimizers.
package problem

import (
	"fmt"
	"math"
	"slices"
)

// Func maps a parameter vector to the value being minimized.
type Func func(x []float64) float64

// Problem describes a box-constrained minimization problem of any dimension.
type Problem struct {
	Name        string
	Description string
	Lower       float64 // Lower bound, applied to every dimension
	Upper       float64 // Upper bound, applied to every dimension
	Optimum     float64 // Known global minimum value
	Eval        Func
}

// Bounds expands the scalar bounds to dim-sized vectors.
func (p Problem) Bounds(dim int) (lower, upper []float64) {
	lower = make([]float64, dim)
	upper = make([]float64, dim)
	for i := 0; i < dim; i++ {
		lower[i] = p.Lower
		upper[i] = p.Upper
	}
	return lower, upper
}

var registry = map[string]Problem{}

// Register adds a problem to the registry, replacing any problem of the same name.
func Register(p Problem) {
	registry[p.Name] = p
}

// Get returns a registered problem by name.
func Get(name string) (Problem, error) {
	p, ok := registry[name]
	if !ok {
		return Problem{}, fmt.Errorf("unknown problem: %s", name)
	}
	return p, nil
}

// Names returns all registered problem names in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for k := range registry {
		names = append(names, k)
	}
	slices.Sort(names)
	return names
}

// TargetValue is the coordinate the target problem pulls every dimension to.
const TargetValue = 3.14

func init() {
	Register(Problem{
		Name:        "sphere",
		Description: "sum of squares, minimum 0 at the origin",
		Lower:       -5.12,
		Upper:       5.12,
		Eval:        Sphere,
	})
	Register(Problem{
		Name:        "rastrigin",
		Description: "highly multimodal, minimum 0 at the origin",
		Lower:       -5.12,
		Upper:       5.12,
		Eval:        Rastrigin,
	})
	Register(Problem{
		Name:        "rosenbrock",
		Description: "curved valley, minimum 0 at (1, ..., 1)",
		Lower:       -2.048,
		Upper:       2.048,
		Eval:        Rosenbrock,
	})
	Register(Problem{
		Name:        "ackley",
		Description: "nearly flat outer region, minimum 0 at the origin",
		Lower:       -32.768,
		Upper:       32.768,
		Eval:        Ackley,
	})
	Register(Problem{
		Name:        "target",
		Description: "squared distance to (3.14, ..., 3.14)",
		Lower:       -10,
		Upper:       10,
		Eval:        Target,
	})
}

// Sphere computes sum(x_i^2).
func Sphere(x []float64) float64 {
	var sum float64
	for _, v := range x {
		sum += v * v
	}
	return sum
}

// Rastrigin computes 10n + sum(x_i^2 - 10cos(2 pi x_i)).
func Rastrigin(x []float64) float64 {
	sum := 10 * float64(len(x))
	for _, v := range x {
		sum += v*v - 10*math.Cos(2*math.Pi*v)
	}
	return sum
}

// Rosenbrock computes sum(100(x_{i+1} - x_i^2)^2 + (1 - x_i)^2).
func Rosenbrock(x []float64) float64 {
	var sum float64
	for i := 0; i+1 < len(x); i++ {
		a := x[i+1] - x[i]*x[i]
		b := 1 - x[i]
		sum += 100*a*a + b*b
	}
	return sum
}

// Ackley computes the Ackley function with a=20, b=0.2, c=2 pi.
func Ackley(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	n := float64(len(x))
	var squares, cosines float64
	for _, v := range x {
		squares += v * v
		cosines += math.Cos(2 * math.Pi * v)
	}
	return -20*math.Exp(-0.2*math.Sqrt(squares/n)) - math.Exp(cosines/n) + 20 + math.E
}

// Target computes sum((x_i - TargetValue)^2).
func Target(x []float64) float64 {
	var sum float64
	for _, v := range x {
		d := v - TargetValue
		sum += d * d
	}
	return sum
}
