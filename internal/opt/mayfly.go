package opt

import (
	"fmt"
	"math/rand"

	"github.com/cwbudde/mayfly"

	"github.com/cwbudde/cmaretry/internal/cma"
	"github.com/cwbudde/cmaretry/internal/objective"
)

// minMayflyPop is the smallest population the mayfly library accepts.
const minMayflyPop = 20

// Mayfly adapts the external mayfly library to the Optimizer contract as an
// alternative backend. The library initializes its own population, so guess
// and sigma are ignored, and it only supports a scalar bound shared by all
// dimensions; the widest axis is used and the result is repaired into the
// actual box afterwards.
type Mayfly struct {
	MaxIterations int
	PopSize       int
}

// NewMayfly creates a mayfly backend.
func NewMayfly(maxIterations, popSize int) *Mayfly {
	if popSize < minMayflyPop {
		popSize = minMayflyPop
	}
	return &Mayfly{MaxIterations: maxIterations, PopSize: popSize}
}

func (m *Mayfly) Minimize(fn objective.Func, bounds objective.Bounds, guess, sigma []float64, rng *rand.Rand) (cma.Result, error) {
	if err := bounds.Validate(); err != nil {
		return cma.Result{}, fmt.Errorf("invalid bounds: %w", err)
	}

	lo, hi := bounds.Lower[0], bounds.Upper[0]
	for i := range bounds.Lower {
		if bounds.Lower[i] < lo {
			lo = bounds.Lower[i]
		}
		if bounds.Upper[i] > hi {
			hi = bounds.Upper[i]
		}
	}

	nfev := 0
	counted := func(x []float64) float64 {
		nfev++
		return fn(x)
	}

	config := mayfly.NewDefaultConfig()
	config.ObjectiveFunc = counted
	config.ProblemSize = bounds.Dim()
	config.MaxIterations = m.MaxIterations
	config.NPop = m.PopSize
	config.LowerBound = lo
	config.UpperBound = hi
	config.Rand = rng

	result, err := mayfly.Optimize(config)
	if err != nil {
		return cma.Result{NFev: nfev, Status: cma.Stagnation}, fmt.Errorf("mayfly optimization failed: %w", err)
	}

	x := append([]float64{}, result.GlobalBest.Position...)
	fun := result.GlobalBest.Cost
	if !bounds.Contains(x) {
		bounds.Clamp(x)
		fun = counted(x)
	}

	return cma.Result{
		X:      x,
		Fun:    fun,
		NFev:   nfev,
		NIt:    m.MaxIterations,
		Status: cma.MaxIterations,
	}, nil
}
