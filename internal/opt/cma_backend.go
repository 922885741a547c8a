package opt

import (
	"math/rand"

	"github.com/cwbudde/cmaretry/internal/cma"
	"github.com/cwbudde/cmaretry/internal/objective"
)

// CMA is the default backend, wrapping the in-process CMA-ES engine.
type CMA struct {
	// Popsize per generation; 0 uses the engine's dimension-derived default.
	Popsize int
	// MaxEvaluations per run; 0 uses the engine default.
	MaxEvaluations int
	// StopFitness terminates a run early; 0 disables the target.
	StopFitness float64
	// Parallel evaluates each generation's population concurrently.
	Parallel bool
	// Workers caps parallel evaluation goroutines; 0 means NumCPU.
	Workers int
}

// NewCMA creates a CMA backend with an evaluation budget per run.
func NewCMA(maxEvaluations, popsize int) *CMA {
	return &CMA{Popsize: popsize, MaxEvaluations: maxEvaluations}
}

func (o *CMA) Minimize(fn objective.Func, bounds objective.Bounds, guess, sigma []float64, rng *rand.Rand) (cma.Result, error) {
	return cma.Run(fn, cma.Params{
		Bounds:         bounds,
		Guess:          guess,
		InputSigma:     sigma,
		Popsize:        o.Popsize,
		MaxEvaluations: o.MaxEvaluations,
		StopFitness:    o.StopFitness,
		IsParallel:     o.Parallel,
		Workers:        o.Workers,
		Rand:           rng,
	})
}
