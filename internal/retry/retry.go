package retry

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"runtime"
	"sync"

	"github.com/sourcegraph/conc/pool"

	"github.com/cwbudde/cmaretry/internal/cma"
	"github.com/cwbudde/cmaretry/internal/objective"
	"github.com/cwbudde/cmaretry/internal/opt"
)

// Params configures the plain parallel retry.
type Params struct {
	// NumRetries is the number of independent optimization attempts.
	NumRetries int

	// MaxEvalsPerRetry caps each attempt's evaluations. Defaults to 50000.
	MaxEvalsPerRetry int

	// MaxEvaluations is an explicit global evaluation cap. When zero it
	// defaults to NumRetries*MaxEvalsPerRetry. Once reached, no further
	// attempts are launched; attempts already running finish and count.
	MaxEvaluations int

	// Popsize is handed to the default CMA backend; 0 uses its default.
	Popsize int

	// Workers limits concurrently running attempts. Defaults to NumCPU.
	Workers int

	// Optimizer is the backend used per attempt. Defaults to CMA.
	Optimizer opt.Optimizer

	// Seed makes the whole multi-start reproducible: every attempt gets an
	// independent child source derived from it.
	Seed int64
}

func (p Params) withDefaults(bounds objective.Bounds) (Params, error) {
	if err := bounds.Validate(); err != nil {
		return p, fmt.Errorf("invalid bounds: %w", err)
	}
	if p.NumRetries <= 0 {
		return p, fmt.Errorf("number of retries must be positive, got %d", p.NumRetries)
	}
	if p.MaxEvalsPerRetry == 0 {
		p.MaxEvalsPerRetry = 50000
	}
	if p.MaxEvalsPerRetry <= 0 {
		return p, fmt.Errorf("max evaluations per retry must be positive, got %d", p.MaxEvalsPerRetry)
	}
	if p.MaxEvaluations == 0 {
		p.MaxEvaluations = p.NumRetries * p.MaxEvalsPerRetry
	}
	if p.Workers <= 0 {
		p.Workers = runtime.NumCPU()
	}
	if p.Workers > p.NumRetries {
		p.Workers = p.NumRetries
	}
	if p.Optimizer == nil {
		p.Optimizer = opt.NewCMA(p.MaxEvalsPerRetry, p.Popsize)
	}
	return p, nil
}

// Minimize launches independent optimization attempts from random starting
// points inside bounds and returns the best result. The reported NFev is the
// exact total across every attempt, including failed and partially completed
// ones. A single failing attempt is excluded from aggregation without
// aborting its siblings; an error is returned only when every attempt failed.
func Minimize(fn objective.Func, bounds objective.Bounds, p Params) (cma.Result, error) {
	p, err := p.withDefaults(bounds)
	if err != nil {
		return cma.Result{}, err
	}

	seeds := childSeeds(p.Seed, p.NumRetries)

	var mu sync.Mutex
	best := cma.Result{Fun: math.Inf(1)}
	totalEvals := 0
	launched := 0
	failures := 0
	var firstErr error

	workers := pool.New().WithMaxGoroutines(p.Workers)
	for i := 0; i < p.NumRetries; i++ {
		seed := seeds[i]
		workers.Go(func() {
			mu.Lock()
			if totalEvals >= p.MaxEvaluations {
				mu.Unlock()
				return
			}
			launched++
			mu.Unlock()

			rng := rand.New(rand.NewSource(seed))
			guess := bounds.Random(rng)
			sigma := sampleSigma(bounds, rng)

			ret, err := p.Optimizer.Minimize(fn, bounds, guess, sigma, rng)

			mu.Lock()
			defer mu.Unlock()
			totalEvals += ret.NFev
			if err != nil {
				failures++
				if firstErr == nil {
					firstErr = err
				}
				slog.Warn("Retry attempt failed", "error", err)
				return
			}
			if ret.Fun < best.Fun {
				best.X = ret.X
				best.Fun = ret.Fun
				best.NIt = ret.NIt
				best.Status = ret.Status
			}
		})
	}
	workers.Wait()

	if best.X == nil {
		if firstErr != nil {
			return cma.Result{NFev: totalEvals}, fmt.Errorf("all %d attempts failed: %w", failures, firstErr)
		}
		return cma.Result{NFev: totalEvals}, fmt.Errorf("no attempt produced a result")
	}

	best.NFev = totalEvals
	slog.Info("Parallel retry finished",
		"attempts", launched,
		"failures", failures,
		"best_fun", best.Fun,
		"total_evals", totalEvals,
	)
	return best, nil
}

// sampleSigma draws a per-dimension initial step scale from a fixed fraction
// band of the bounds' extent, so different attempts explore at different
// granularity.
func sampleSigma(bounds objective.Bounds, rng *rand.Rand) []float64 {
	frac := 0.1 + 0.2*rng.Float64()
	sigma := make([]float64, bounds.Dim())
	for i := range sigma {
		extent := bounds.Upper[i] - bounds.Lower[i]
		sigma[i] = math.Max(1e-12, frac*extent)
	}
	return sigma
}

// childSeeds derives one independent seed per attempt so runs are
// reproducible and parallel-safe without sharing a random source.
func childSeeds(seed int64, n int) []int64 {
	rng := rand.New(rand.NewSource(seed))
	seeds := make([]int64, n)
	for i := range seeds {
		seeds[i] = rng.Int63()
	}
	return seeds
}
