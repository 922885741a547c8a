package opt

import (
	"fmt"
	"math/rand"

	"github.com/cwbudde/cmaretry/internal/cma"
	"github.com/cwbudde/cmaretry/internal/objective"
)

// Optimizer is the contract every optimization backend implements. The retry
// orchestrators are written against this interface and select a backend via
// configuration, not inheritance.
type Optimizer interface {
	// Minimize runs one optimization of fn inside bounds, starting from
	// guess with the given per-dimension step scale. The random source is
	// private to this run. On failure the returned result still carries
	// whatever evaluations were consumed.
	Minimize(fn objective.Func, bounds objective.Bounds, guess, sigma []float64, rng *rand.Rand) (cma.Result, error)
}

// ByName builds an optimizer backend from its configuration name.
func ByName(name string, maxEvaluations, popsize int, stopFitness float64, parallel bool) (Optimizer, error) {
	switch name {
	case "", "cma":
		return &CMA{
			Popsize:        popsize,
			MaxEvaluations: maxEvaluations,
			StopFitness:    stopFitness,
			Parallel:       parallel,
		}, nil
	case "mayfly":
		// The mayfly library drives its own sequential population loop and
		// has no early-stop hook, so these options cannot be honored.
		if parallel {
			return nil, fmt.Errorf("the mayfly backend does not support parallel population evaluation")
		}
		if stopFitness != 0 {
			return nil, fmt.Errorf("the mayfly backend does not support a stop-fitness target")
		}
		pop := popsize
		if pop < minMayflyPop {
			pop = minMayflyPop
		}
		iters := maxEvaluations / pop
		if iters < 1 {
			iters = 1
		}
		return &Mayfly{MaxIterations: iters, PopSize: pop}, nil
	default:
		return nil, fmt.Errorf("unknown optimizer backend: %s", name)
	}
}
