package cma

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/cwbudde/cmaretry/internal/objective"
)

const (
	// condCeiling is the covariance condition number above which the search
	// distribution is considered degenerate.
	condCeiling = 1e14
	// condPatience is how many consecutive degenerate generations are
	// tolerated before the run terminates with Stagnation.
	condPatience = 5
	// sigmaFloor is the absolute step-size underflow limit.
	sigmaFloor = 1e-20
	// maxResets bounds how often numerical recovery may reinitialize the
	// distribution before the run gives up.
	maxResets = 5
)

// Params configures a single CMA-ES run.
type Params struct {
	// Bounds is the box-constrained search space (required).
	Bounds objective.Bounds

	// Guess is the initial distribution mean. When nil, a uniformly random
	// feasible point is drawn.
	Guess []float64

	// InputSigma is the per-dimension initial step scale. When nil it
	// defaults to 0.3 times half the bounds' extent.
	InputSigma []float64

	// Popsize is the number of candidates per generation (lambda).
	// Defaults to 4+floor(3*ln(dim)).
	Popsize int

	// MaxEvaluations caps the number of objective evaluations. The
	// generation in flight when the cap is reached is allowed to finish,
	// so the final count may exceed the cap by less than one population.
	// Defaults to 50000.
	MaxEvaluations int

	// MaxIterations caps the number of generations. When zero it is derived
	// from the evaluation budget.
	MaxIterations int

	// StopFitness terminates the run early once the best fitness drops to
	// this value or below. Zero means disabled; use a small negative or
	// positive epsilon when targeting an optimum of exactly zero.
	StopFitness float64

	// IsParallel evaluates each generation's population concurrently.
	IsParallel bool

	// Workers limits parallel evaluation goroutines; 0 means NumCPU.
	Workers int

	// Rand is the run's private random source (required). Callers derive
	// independent sources per run for reproducibility.
	Rand *rand.Rand
}

// withDefaults validates the configuration and fills derived defaults.
// It fails fast before any objective evaluation.
func (p Params) withDefaults() (Params, error) {
	if err := p.Bounds.Validate(); err != nil {
		return p, fmt.Errorf("invalid bounds: %w", err)
	}
	if p.Rand == nil {
		return p, fmt.Errorf("random source is required")
	}

	dim := p.Bounds.Dim()

	if p.Popsize == 0 {
		p.Popsize = 4 + int(3*math.Log(float64(dim)))
	}
	if p.Popsize <= 1 {
		return p, fmt.Errorf("popsize must be greater than 1, got %d", p.Popsize)
	}

	if p.MaxEvaluations == 0 {
		p.MaxEvaluations = 50000
	}
	if p.MaxEvaluations <= p.Popsize {
		return p, fmt.Errorf("max evaluations (%d) must exceed popsize (%d)", p.MaxEvaluations, p.Popsize)
	}
	if p.MaxIterations == 0 {
		p.MaxIterations = p.MaxEvaluations/p.Popsize + 10
	}

	if p.InputSigma == nil {
		scale := p.Bounds.Scale()
		p.InputSigma = make([]float64, dim)
		for i := range p.InputSigma {
			p.InputSigma[i] = 0.3 * scale[i]
		}
	}
	if len(p.InputSigma) != dim {
		return p, fmt.Errorf("input sigma dimension mismatch: %d vs %d", len(p.InputSigma), dim)
	}
	for i, s := range p.InputSigma {
		if !(s > 0) {
			return p, fmt.Errorf("input sigma must be positive at dimension %d, got %g", i, s)
		}
	}

	if p.Guess == nil {
		p.Guess = p.Bounds.Random(p.Rand)
	}
	if len(p.Guess) != dim {
		return p, fmt.Errorf("guess dimension mismatch: %d vs %d", len(p.Guess), dim)
	}
	p.Guess = p.Bounds.Clamp(append([]float64{}, p.Guess...))

	return p, nil
}

// engine holds the mutable CMA-ES state of one run. It is owned exclusively
// by that run and destroyed when the run ends.
type engine struct {
	dim    int
	lambda int
	mu     int

	weights []float64
	mueff   float64
	cc      float64
	cs      float64
	c1      float64
	cmu     float64
	damps   float64
	chiN    float64

	mean      []float64
	sigma     float64
	sigma0    float64
	axisScale []float64

	cov  *mat.SymDense
	evec *mat.Dense
	eval []float64

	pc []float64
	ps []float64

	rng *rand.Rand
}

func newEngine(p Params) *engine {
	dim := p.Bounds.Dim()
	n := float64(dim)

	e := &engine{
		dim:    dim,
		lambda: p.Popsize,
		mu:     p.Popsize / 2,
		rng:    p.Rand,
	}

	// Recombination weights: log-linear, monotonically decreasing with rank.
	e.weights = make([]float64, e.mu)
	var sum float64
	for i := range e.weights {
		e.weights[i] = math.Log(float64(e.lambda+1)/2) - math.Log(float64(i+1))
		sum += e.weights[i]
	}
	var sqSum float64
	for i := range e.weights {
		e.weights[i] /= sum
		sqSum += e.weights[i] * e.weights[i]
	}
	e.mueff = 1 / sqSum

	e.cc = (4 + e.mueff/n) / (n + 4 + 2*e.mueff/n)
	e.cs = (e.mueff + 2) / (n + e.mueff + 5)
	e.c1 = 2 / ((n+1.3)*(n+1.3) + e.mueff)
	e.cmu = math.Min(1-e.c1, 2*(e.mueff-2+1/e.mueff)/((n+2)*(n+2)+e.mueff))
	e.damps = 1 + 2*math.Max(0, math.Sqrt((e.mueff-1)/(n+1))-1) + e.cs
	e.chiN = math.Sqrt(n) * (1 - 1/(4*n) + 1/(21*n*n))

	// The scalar step size carries the largest per-dimension sigma; the
	// remaining anisotropy goes into the initial covariance diagonal.
	e.sigma0 = 0
	for _, s := range p.InputSigma {
		e.sigma0 = math.Max(e.sigma0, s)
	}
	e.axisScale = make([]float64, dim)
	for i, s := range p.InputSigma {
		e.axisScale[i] = s / e.sigma0
	}

	e.mean = append([]float64{}, p.Guess...)
	e.eval = make([]float64, dim)
	e.reset()
	return e
}

// reset reinitializes step size, covariance and both evolution paths.
// Used at construction and as the recovery path for numerical failures.
func (e *engine) reset() {
	e.sigma = e.sigma0
	e.pc = make([]float64, e.dim)
	e.ps = make([]float64, e.dim)
	e.cov = mat.NewSymDense(e.dim, nil)
	for i := 0; i < e.dim; i++ {
		e.cov.SetSym(i, i, e.axisScale[i]*e.axisScale[i])
	}
}

// factorize eigendecomposes the covariance for sampling. It reports whether
// the matrix is usable (finite, positive definite) and its condition number.
func (e *engine) factorize() (bool, float64) {
	var eig mat.EigenSym
	if !eig.Factorize(e.cov, true) {
		return false, 0
	}

	vals := eig.Values(nil)
	minVal, maxVal := math.Inf(1), math.Inf(-1)
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			return false, 0
		}
		minVal = math.Min(minVal, v)
		maxVal = math.Max(maxVal, v)
	}

	var vectors mat.Dense
	eig.VectorsTo(&vectors)
	e.evec = &vectors
	for i, v := range vals {
		e.eval[i] = math.Sqrt(v)
	}
	return true, maxVal / minVal
}

// sample draws lambda candidates from N(mean, sigma^2*C) and repairs each
// into the bounds. Repair does not count as an extra evaluation.
func (e *engine) sample(bounds objective.Bounds) [][]float64 {
	xs := make([][]float64, e.lambda)
	z := make([]float64, e.dim)
	for k := range xs {
		for i := range z {
			z[i] = e.rng.NormFloat64() * e.eval[i]
		}
		x := make([]float64, e.dim)
		for j := 0; j < e.dim; j++ {
			var y float64
			for i := 0; i < e.dim; i++ {
				y += e.evec.At(j, i) * z[i]
			}
			x[j] = e.mean[j] + e.sigma*y
		}
		xs[k] = bounds.Clamp(x)
	}
	return xs
}

// update performs recombination, evolution-path smoothing, step-size control
// and the rank-one/rank-mu covariance update for one generation.
func (e *engine) update(xs [][]float64, order []int, gen int) {
	n := float64(e.dim)
	oldMean := append([]float64{}, e.mean...)

	// Weighted recombination of the mu best candidates.
	newMean := make([]float64, e.dim)
	for i := 0; i < e.mu; i++ {
		w := e.weights[i]
		for j, v := range xs[order[i]] {
			newMean[j] += w * v
		}
	}

	// Normalized mean shift and its whitened form C^(-1/2)*delta.
	delta := make([]float64, e.dim)
	for j := range delta {
		delta[j] = (newMean[j] - oldMean[j]) / e.sigma
	}
	t := make([]float64, e.dim)
	for i := 0; i < e.dim; i++ {
		var s float64
		for j := 0; j < e.dim; j++ {
			s += e.evec.At(j, i) * delta[j]
		}
		t[i] = s / e.eval[i]
	}
	white := make([]float64, e.dim)
	for j := 0; j < e.dim; j++ {
		var s float64
		for i := 0; i < e.dim; i++ {
			s += e.evec.At(j, i) * t[i]
		}
		white[j] = s
	}

	// Step-size path.
	csc := math.Sqrt(e.cs * (2 - e.cs) * e.mueff)
	var psNorm float64
	for j := range e.ps {
		e.ps[j] = (1-e.cs)*e.ps[j] + csc*white[j]
		psNorm += e.ps[j] * e.ps[j]
	}
	psNorm = math.Sqrt(psNorm)

	hsigDenom := math.Sqrt(1 - math.Pow(1-e.cs, 2*float64(gen)))
	hsig := psNorm/hsigDenom/e.chiN < 1.4+2/(n+1)

	// Covariance path.
	ccc := math.Sqrt(e.cc * (2 - e.cc) * e.mueff)
	for j := range e.pc {
		e.pc[j] = (1 - e.cc) * e.pc[j]
		if hsig {
			e.pc[j] += ccc * delta[j]
		}
	}

	// Selected step directions for the rank-mu term.
	ys := make([][]float64, e.mu)
	for i := 0; i < e.mu; i++ {
		y := make([]float64, e.dim)
		for j, v := range xs[order[i]] {
			y[j] = (v - oldMean[j]) / e.sigma
		}
		ys[i] = y
	}

	// Decayed previous covariance plus rank-one and rank-mu terms. When the
	// step-size path is long, the rank-one term is damped instead of letting
	// the lost variance disappear.
	decay := 1 - e.c1 - e.cmu
	corr := 0.0
	if !hsig {
		corr = e.c1 * e.cc * (2 - e.cc)
	}
	for i := 0; i < e.dim; i++ {
		for j := i; j < e.dim; j++ {
			v := (decay+corr)*e.cov.At(i, j) + e.c1*e.pc[i]*e.pc[j]
			for k := 0; k < e.mu; k++ {
				v += e.cmu * e.weights[k] * ys[k][i] * ys[k][j]
			}
			e.cov.SetSym(i, j, v)
		}
	}

	e.mean = newMean

	// Damped multiplicative step-size rule: sigma grows when steps are
	// longer than expected under isotropy, shrinks otherwise. The exponent
	// is clamped so one generation can never explode the step size.
	arg := (e.cs / e.damps) * (psNorm/e.chiN - 1)
	e.sigma *= math.Exp(math.Min(1, math.Max(-1, arg)))
}

// healthy reports whether mean and sigma are still finite and usable.
func (e *engine) healthy() bool {
	if math.IsNaN(e.sigma) || math.IsInf(e.sigma, 0) || e.sigma <= 0 {
		return false
	}
	for _, v := range e.mean {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Run executes one CMA-ES optimization and returns the best point found.
// The only side effect is invoking fn; all state is private to the run.
// An error is returned for invalid configuration (before any evaluation)
// or when the objective function itself fails.
func Run(fn objective.Func, p Params) (Result, error) {
	p, err := p.withDefaults()
	if err != nil {
		return Result{}, err
	}

	e := newEngine(p)
	if ok, _ := e.factorize(); !ok {
		return Result{}, fmt.Errorf("initial covariance factorization failed")
	}

	var bestX []float64
	bestY := math.Inf(1)
	nfev := 0
	gen := 0
	resets := 0
	condStreak := 0
	status := Running
	tracker := newProgressTracker(e.dim, e.lambda)

	for {
		if nfev >= p.MaxEvaluations {
			status = MaxEvaluations
			break
		}
		if gen >= p.MaxIterations {
			status = MaxIterations
			break
		}
		gen++

		xs := e.sample(p.Bounds)

		var values []float64
		var evals int
		if p.IsParallel {
			values, evals, err = evalPopulation(fn, xs, p.Workers)
		} else {
			values, evals, err = evalSequential(fn, xs)
		}
		nfev += evals
		if err != nil {
			return Result{X: bestX, Fun: bestY, NFev: nfev, NIt: gen, Status: Running},
				fmt.Errorf("evaluation failed in generation %d: %w", gen, err)
		}

		order := argsort(values)
		if values[order[0]] < bestY {
			bestY = values[order[0]]
			bestX = append([]float64{}, xs[order[0]]...)
		}

		if p.StopFitness != 0 && bestY <= p.StopFitness {
			status = TargetReached
			break
		}

		e.update(xs, order, gen)

		// Numerical recovery: reset the distribution instead of crashing,
		// and terminate with Stagnation only when recovery stops helping.
		recovered := false
		if !e.healthy() {
			e.mean = append([]float64{}, bestXOr(bestX, e.mean)...)
			e.reset()
			recovered = true
		}
		ok, cond := e.factorize()
		if !ok {
			e.reset()
			if ok2, _ := e.factorize(); !ok2 {
				status = Stagnation
				break
			}
			recovered = true
		}
		if recovered {
			resets++
			slog.Debug("CMA state reset after numerical failure", "generation", gen, "resets", resets)
			if resets > maxResets {
				status = Stagnation
				break
			}
		}

		if e.sigma < sigmaFloor {
			status = Stagnation
			break
		}
		if cond > condCeiling {
			condStreak++
			if condStreak >= condPatience {
				status = Stagnation
				break
			}
		} else {
			condStreak = 0
		}

		if tracker.update(bestY) {
			status = FlatFitness
			break
		}
	}

	return Result{X: bestX, Fun: bestY, NFev: nfev, NIt: gen, Status: status}, nil
}

// bestXOr returns best when available, otherwise fallback. Keeps recovery
// centered on the most promising point seen so far.
func bestXOr(best, fallback []float64) []float64 {
	if best != nil {
		return best
	}
	return fallback
}

func argsort(values []float64) []int {
	order := make([]int, len(values))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		return values[order[a]] < values[order[b]]
	})
	return order
}
