package retry

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"

	"github.com/sourcegraph/conc/pool"

	"github.com/cwbudde/cmaretry/internal/cma"
	"github.com/cwbudde/cmaretry/internal/objective"
	"github.com/cwbudde/cmaretry/internal/opt"
)

// AdvParams configures the coordinated (region-guided) retry.
type AdvParams struct {
	NumRetries       int
	MaxEvalsPerRetry int
	MaxEvaluations   int
	Popsize          int
	Workers          int
	Optimizer        opt.Optimizer
	Seed             int64

	// Capacity bounds the shared record store. Defaults to 256.
	Capacity int

	// ColdStarts is how many initial restarts sample uniformly before
	// region guidance kicks in. Defaults to 10.
	ColdStarts int

	// ExploreProb forces a fresh uniform region with this probability even
	// once guidance is active, so the search never collapses into one
	// basin. Defaults to 0.15.
	ExploreProb float64

	// Contraction is the factor by which a chosen region's extent shrinks
	// around its recorded best point. Defaults to 0.6.
	Contraction float64
}

func (p AdvParams) withDefaults(bounds objective.Bounds) (AdvParams, error) {
	base, err := Params{
		NumRetries:       p.NumRetries,
		MaxEvalsPerRetry: p.MaxEvalsPerRetry,
		MaxEvaluations:   p.MaxEvaluations,
		Popsize:          p.Popsize,
		Workers:          p.Workers,
		Optimizer:        p.Optimizer,
		Seed:             p.Seed,
	}.withDefaults(bounds)
	if err != nil {
		return p, err
	}
	p.MaxEvalsPerRetry = base.MaxEvalsPerRetry
	p.MaxEvaluations = base.MaxEvaluations
	p.Workers = base.Workers
	p.Optimizer = base.Optimizer

	if p.Capacity <= 0 {
		p.Capacity = 256
	}
	if p.ColdStarts <= 0 {
		p.ColdStarts = 10
	}
	if p.ExploreProb <= 0 {
		p.ExploreProb = 0.15
	}
	if p.Contraction <= 0 || p.Contraction >= 1 {
		p.Contraction = 0.6
	}
	return p, nil
}

// MinimizeCoordinated is the region-guided variant of Minimize. Restarts
// after the cold-start phase pick their search region by a rank-biased random
// choice among previous results and contract it around the recorded best
// point, so the budget concentrates on historically good but under-exploited
// basins. Every finished restart merges back into the shared store.
func MinimizeCoordinated(fn objective.Func, bounds objective.Bounds, p AdvParams) (cma.Result, error) {
	p, err := p.withDefaults(bounds)
	if err != nil {
		return cma.Result{}, err
	}
	return minimizeWithStore(fn, bounds, p, NewStore(p.Capacity), 0)
}

// minimizeWithStore runs one batch of coordinated restarts against a caller
// owned store. The store may already hold records from earlier batches;
// restartBase continues the restart numbering so cold starts are not
// repeated once guidance has begun. Params must already carry defaults.
func minimizeWithStore(fn objective.Func, bounds objective.Bounds, p AdvParams, store *Store, restartBase int) (cma.Result, error) {
	seeds := childSeeds(p.Seed, p.NumRetries)

	var mu sync.Mutex
	best := cma.Result{Fun: math.Inf(1)}
	totalEvals := 0
	launched := 0
	failures := 0
	var firstErr error

	workers := pool.New().WithMaxGoroutines(p.Workers)
	for i := 0; i < p.NumRetries; i++ {
		restart := restartBase + i
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
			region := selectRegion(bounds, store, restart, p, rng)
			guess := region.Random(rng)
			sigma := sampleSigma(region, rng)

			ret, err := p.Optimizer.Minimize(fn, region, guess, sigma, rng)

			mu.Lock()
			defer mu.Unlock()
			totalEvals += ret.NFev
			if err != nil {
				failures++
				if firstErr == nil {
					firstErr = err
				}
				slog.Warn("Coordinated retry attempt failed", "restart", restart, "error", err)
				return
			}
			store.Insert(region, ret.X, ret.Fun, ret.NFev)
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
	slog.Info("Coordinated retry finished",
		"attempts", launched,
		"failures", failures,
		"regions", store.Len(),
		"best_fun", best.Fun,
		"total_evals", totalEvals,
	)
	return best, nil
}

// selectRegion decides where a restart begins. Cold starts and forced
// exploration use the full box; otherwise a stored region is chosen with
// probability decreasing in rank and contracted around its best point.
func selectRegion(bounds objective.Bounds, store *Store, restart int, p AdvParams, rng *rand.Rand) objective.Bounds {
	if restart < p.ColdStarts {
		return bounds
	}
	if rng.Float64() < p.ExploreProb {
		return bounds
	}
	snapshot := store.Snapshot()
	if len(snapshot) == 0 {
		return bounds
	}
	rec := snapshot[pickByRank(len(snapshot), rng)]
	return rec.Region.Shrink(rec.BestX, p.Contraction)
}

// pickByRank samples an index with inverse-rank weighting: weight 1/(i+1),
// so better-ranked regions are chosen more often but never exclusively.
func pickByRank(n int, rng *rand.Rand) int {
	var total float64
	for i := 0; i < n; i++ {
		total += 1 / float64(i+1)
	}
	target := rng.Float64() * total
	var cum float64
	for i := 0; i < n; i++ {
		cum += 1 / float64(i+1)
		if target < cum {
			return i
		}
	}
	return n - 1
}
