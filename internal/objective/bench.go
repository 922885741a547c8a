package objective

import (
	"fmt"
	"math"
	"strings"
)

// Problem bundles a benchmark objective with its canonical search box.
// Used by the CLI and the job server to build objectives by name.
type Problem struct {
	Name   string
	Fn     Func
	Bounds Bounds
}

// Sphere is the separable quadratic bowl, minimum 0 at the origin.
func Sphere(dim int) Problem {
	return Problem{
		Name: "sphere",
		Fn: func(x []float64) float64 {
			var sum float64
			for _, v := range x {
				sum += v * v
			}
			return sum
		},
		Bounds: NewBounds(dim, -5, 5),
	}
}

// Rosenbrock is the classic banana valley, minimum 0 at (1,...,1).
func Rosenbrock(dim int) Problem {
	return Problem{
		Name: "rosenbrock",
		Fn: func(x []float64) float64 {
			var sum float64
			for i := 0; i < len(x)-1; i++ {
				a := x[i+1] - x[i]*x[i]
				b := 1 - x[i]
				sum += 100*a*a + b*b
			}
			return sum
		},
		Bounds: NewBounds(dim, -5, 10),
	}
}

// Rastrigin is highly multimodal with a regular grid of local minima,
// global minimum 0 at the origin.
func Rastrigin(dim int) Problem {
	return Problem{
		Name: "rastrigin",
		Fn: func(x []float64) float64 {
			sum := 10 * float64(len(x))
			for _, v := range x {
				sum += v*v - 10*math.Cos(2*math.Pi*v)
			}
			return sum
		},
		Bounds: NewBounds(dim, -5.12, 5.12),
	}
}

// Ackley has a nearly flat outer region and a deep hole at the origin.
func Ackley(dim int) Problem {
	return Problem{
		Name: "ackley",
		Fn: func(x []float64) float64 {
			n := float64(len(x))
			var sq, cs float64
			for _, v := range x {
				sq += v * v
				cs += math.Cos(2 * math.Pi * v)
			}
			return -20*math.Exp(-0.2*math.Sqrt(sq/n)) - math.Exp(cs/n) + 20 + math.E
		},
		Bounds: NewBounds(dim, -32.768, 32.768),
	}
}

// Eggholder is a deceptive bimodal 2D function with its global minimum
// -959.6407 at (512, 404.2319), far from the second-best basin.
func Eggholder() Problem {
	return Problem{
		Name: "eggholder",
		Fn: func(x []float64) float64 {
			a := -(x[1] + 47) * math.Sin(math.Sqrt(math.Abs(0.5*x[0]+x[1]+47)))
			b := -x[0] * math.Sin(math.Sqrt(math.Abs(x[0]-x[1]-47)))
			return a + b
		},
		Bounds: NewBounds(2, -512, 512),
	}
}

// ByName looks up a benchmark problem by name. Eggholder is fixed at two
// dimensions; the others use dim.
func ByName(name string, dim int) (Problem, error) {
	if dim <= 0 {
		return Problem{}, fmt.Errorf("dimension must be positive, got %d", dim)
	}
	switch strings.ToLower(name) {
	case "sphere":
		return Sphere(dim), nil
	case "rosenbrock":
		return Rosenbrock(dim), nil
	case "rastrigin":
		return Rastrigin(dim), nil
	case "ackley":
		return Ackley(dim), nil
	case "eggholder":
		return Eggholder(), nil
	default:
		return Problem{}, fmt.Errorf("unknown objective function: %s", name)
	}
}

// Names lists the available benchmark objectives.
func Names() []string {
	return []string{"sphere", "rosenbrock", "rastrigin", "ackley", "eggholder"}
}
