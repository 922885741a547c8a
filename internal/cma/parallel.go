package cma

import (
	"runtime"

	"github.com/sourcegraph/conc/iter"

	"github.com/cwbudde/cmaretry/internal/objective"
)

// evalPopulation evaluates all candidates concurrently and returns their
// fitness values in candidate order, regardless of completion order.
// It returns only after every worker has finished; a panic inside the
// objective surfaces as the returned error instead of crashing a worker.
// The evaluation count is exact even on failure, since every candidate
// is handed to a worker before the first failure is reported.
func evalPopulation(fn objective.Func, candidates [][]float64, workers int) ([]float64, int, error) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(candidates) {
		workers = len(candidates)
	}

	mapper := iter.Mapper[[]float64, float64]{MaxGoroutines: workers}
	values, err := mapper.MapErr(candidates, func(x *[]float64) (float64, error) {
		return objective.SafeCall(fn, *x)
	})
	if err != nil {
		return nil, len(candidates), err
	}
	return values, len(candidates), nil
}

// evalSequential evaluates candidates one by one on the calling goroutine.
// On failure it reports how many evaluations were actually performed.
func evalSequential(fn objective.Func, candidates [][]float64) ([]float64, int, error) {
	values := make([]float64, len(candidates))
	for i, x := range candidates {
		y, err := objective.SafeCall(fn, x)
		if err != nil {
			return nil, i + 1, err
		}
		values[i] = y
	}
	return values, len(candidates), nil
}
