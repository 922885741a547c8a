package cma

import (
	"math"
	"math/rand"
	"testing"

	"github.com/cwbudde/cmaretry/internal/objective"
)

func TestSphereConvergence(t *testing.T) {
	prob := objective.Sphere(3)
	maxEval := 100000
	popsize := 100
	limit := 1e-5

	// Stochastic optimization may miss on a bad seed; allow a few attempts.
	var ret Result
	var wrapper *objective.Wrapper
	for attempt := 0; attempt < 5; attempt++ {
		wrapper = objective.NewWrapper(prob.Fn)
		var err error
		ret, err = Run(wrapper.Eval, Params{
			Bounds:         prob.Bounds,
			Popsize:        popsize,
			MaxEvaluations: maxEval,
			Rand:           rand.New(rand.NewSource(int64(42 + attempt))),
		})
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if ret.Fun < limit {
			break
		}
	}

	if ret.Fun >= limit {
		t.Errorf("Optimization target not reached: fun=%g", ret.Fun)
	}
	if ret.NFev >= maxEval+popsize {
		t.Errorf("Too many function calls: %d", ret.NFev)
	}
	if ret.NIt >= maxEval/popsize+2 {
		t.Errorf("Too many iterations: %d", ret.NIt)
	}
	if ret.NFev != wrapper.Count() {
		t.Errorf("Reported nfev %d does not match actual count %d", ret.NFev, wrapper.Count())
	}
	if ret.Fun != wrapper.BestY() {
		t.Errorf("Reported fun %g does not match best seen %g", ret.Fun, wrapper.BestY())
	}
	if !prob.Bounds.Contains(ret.X) {
		t.Errorf("Best point outside bounds: %v", ret.X)
	}
	if got := prob.Fn(ret.X); math.Abs(got-ret.Fun) > 1e-12 {
		t.Errorf("fun=%g but re-evaluating x gives %g", ret.Fun, got)
	}
}

func TestRosenbrockConvergence(t *testing.T) {
	prob := objective.Rosenbrock(5)
	sigma := []float64{1, 1, 1, 1, 1}
	limit := 1e-5

	var ret Result
	for attempt := 0; attempt < 5; attempt++ {
		var err error
		ret, err = Run(prob.Fn, Params{
			Bounds:         prob.Bounds,
			InputSigma:     sigma,
			Popsize:        32,
			MaxEvaluations: 100000,
			Rand:           rand.New(rand.NewSource(int64(7 + attempt))),
		})
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if ret.Fun < limit {
			break
		}
	}

	if ret.Fun >= limit {
		t.Errorf("Optimization target not reached: fun=%g", ret.Fun)
	}
}

func TestStopFitnessTerminatesWithTargetReached(t *testing.T) {
	prob := objective.Sphere(2)
	wrapper := objective.NewWrapper(prob.Fn)

	ret, err := Run(wrapper.Eval, Params{
		Bounds:         prob.Bounds,
		Popsize:        16,
		MaxEvaluations: 100000,
		StopFitness:    1e-3,
		Rand:           rand.New(rand.NewSource(1)),
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if ret.Status != TargetReached {
		t.Errorf("Expected status %d (target reached), got %d", TargetReached, ret.Status)
	}
	if ret.Fun > 1e-3 {
		t.Errorf("fun %g above stop fitness", ret.Fun)
	}
	if ret.NFev != wrapper.Count() {
		t.Errorf("nfev %d does not match wrapper count %d", ret.NFev, wrapper.Count())
	}
}

func TestBudgetExhaustionCode(t *testing.T) {
	// Rastrigin keeps improving slowly, so a tight budget runs out before
	// any convergence criterion fires.
	prob := objective.Rastrigin(5)

	ret, err := Run(prob.Fn, Params{
		Bounds:         prob.Bounds,
		Popsize:        16,
		MaxEvaluations: 500,
		Rand:           rand.New(rand.NewSource(3)),
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if ret.Status != MaxEvaluations {
		t.Errorf("Expected status %d (max evaluations), got %d", MaxEvaluations, ret.Status)
	}
	if ret.NFev < 500 || ret.NFev >= 500+16 {
		t.Errorf("Budget overrun beyond one population: nfev=%d", ret.NFev)
	}
}

func TestMaxIterationsCode(t *testing.T) {
	prob := objective.Rastrigin(4)

	ret, err := Run(prob.Fn, Params{
		Bounds:         prob.Bounds,
		Popsize:        16,
		MaxEvaluations: 100000,
		MaxIterations:  3,
		Rand:           rand.New(rand.NewSource(5)),
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if ret.Status != MaxIterations {
		t.Errorf("Expected status %d (max iterations), got %d", MaxIterations, ret.Status)
	}
	if ret.NIt != 3 {
		t.Errorf("Expected 3 iterations, got %d", ret.NIt)
	}
}

func TestDeterministicWithSameSeed(t *testing.T) {
	prob := objective.Rastrigin(3)

	run := func() Result {
		ret, err := Run(prob.Fn, Params{
			Bounds:         prob.Bounds,
			Popsize:        20,
			MaxEvaluations: 4000,
			Rand:           rand.New(rand.NewSource(123)),
		})
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		return ret
	}

	a := run()
	b := run()

	if a.Fun != b.Fun {
		t.Errorf("Non-deterministic: fun %g vs %g", a.Fun, b.Fun)
	}
	if a.NFev != b.NFev || a.NIt != b.NIt || a.Status != b.Status {
		t.Errorf("Non-deterministic run shape: %+v vs %+v", a, b)
	}
	for i := range a.X {
		if a.X[i] != b.X[i] {
			t.Errorf("Non-deterministic best point at %d: %g vs %g", i, a.X[i], b.X[i])
		}
	}
}

func TestParallelMatchesSequential(t *testing.T) {
	prob := objective.Rosenbrock(2)
	sigma := []float64{1, 1}

	params := func(parallel bool) Params {
		return Params{
			Bounds:         prob.Bounds,
			InputSigma:     sigma,
			Popsize:        8,
			MaxEvaluations: 10000,
			IsParallel:     parallel,
			Rand:           rand.New(rand.NewSource(99)),
		}
	}

	seq, err := Run(prob.Fn, params(false))
	if err != nil {
		t.Fatalf("Sequential run failed: %v", err)
	}
	par, err := Run(prob.Fn, params(true))
	if err != nil {
		t.Fatalf("Parallel run failed: %v", err)
	}

	// Parallel evaluation never touches the random stream, so both runs see
	// the exact same candidate sequence.
	if math.Abs(seq.Fun-par.Fun) > 1e-12 {
		t.Errorf("Parallel fun %g differs from sequential %g", par.Fun, seq.Fun)
	}
	if seq.NFev != par.NFev {
		t.Errorf("Parallel nfev %d differs from sequential %d", par.NFev, seq.NFev)
	}
	for i := range seq.X {
		if math.Abs(seq.X[i]-par.X[i]) > 1e-12 {
			t.Errorf("Parallel best point differs at %d: %g vs %g", i, par.X[i], seq.X[i])
		}
	}
}

func TestBestPointAlwaysInBounds(t *testing.T) {
	// A tight box far from the unconstrained optimum forces constant repair.
	bounds := objective.Bounds{Lower: []float64{2, 2, 2}, Upper: []float64{3, 4, 5}}
	prob := objective.Sphere(3)

	ret, err := Run(prob.Fn, Params{
		Bounds:         bounds,
		Popsize:        12,
		MaxEvaluations: 3000,
		Rand:           rand.New(rand.NewSource(11)),
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if !bounds.Contains(ret.X) {
		t.Errorf("Best point escaped bounds: %v", ret.X)
	}
	// Constrained optimum of the sphere on this box is the lower corner.
	if math.Abs(ret.Fun-12) > 1e-3 {
		t.Errorf("Expected constrained optimum near 12, got %g", ret.Fun)
	}
}

func TestEvaluatorFailureAbortsRun(t *testing.T) {
	calls := 0
	bad := func(x []float64) float64 {
		calls++
		if calls > 40 {
			panic("simulated objective failure")
		}
		return x[0] * x[0]
	}

	_, err := Run(bad, Params{
		Bounds:         objective.NewBounds(1, -5, 5),
		Popsize:        8,
		MaxEvaluations: 1000,
		Rand:           rand.New(rand.NewSource(2)),
	})
	if err == nil {
		t.Fatal("Expected error from failing objective")
	}
}

func TestConfigurationErrorsFailFast(t *testing.T) {
	prob := objective.Sphere(2)
	wrapper := objective.NewWrapper(prob.Fn)
	base := Params{
		Bounds: prob.Bounds,
		Rand:   rand.New(rand.NewSource(1)),
	}

	bad := []Params{
		{Rand: base.Rand},
		{Bounds: objective.Bounds{Lower: []float64{1}, Upper: []float64{0}}, Rand: base.Rand},
		{Bounds: prob.Bounds},
		func() Params { p := base; p.Popsize = 1; return p }(),
		func() Params { p := base; p.Popsize = 40; p.MaxEvaluations = 30; return p }(),
		func() Params { p := base; p.InputSigma = []float64{0.5}; return p }(),
		func() Params { p := base; p.InputSigma = []float64{0.5, -1}; return p }(),
		func() Params { p := base; p.Guess = []float64{1, 2, 3}; return p }(),
	}

	for i, p := range bad {
		if _, err := Run(wrapper.Eval, p); err == nil {
			t.Errorf("Case %d: expected configuration error", i)
		}
	}

	if wrapper.Count() != 0 {
		t.Errorf("Configuration errors must fail before any evaluation, got %d calls", wrapper.Count())
	}
}

func TestFlatFitnessDetection(t *testing.T) {
	flat := func(x []float64) float64 { return 1.0 }

	ret, err := Run(flat, Params{
		Bounds:         objective.NewBounds(2, -1, 1),
		Popsize:        8,
		MaxEvaluations: 50000,
		Rand:           rand.New(rand.NewSource(17)),
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if ret.Status != FlatFitness {
		t.Errorf("Expected status %d (flat fitness), got %d", FlatFitness, ret.Status)
	}
	if ret.NFev >= 50000 {
		t.Errorf("Flat objective should terminate early, used %d evaluations", ret.NFev)
	}
}

func TestTermCodeStrings(t *testing.T) {
	codes := map[TermCode]string{
		Running:        "running",
		TargetReached:  "target reached",
		MaxIterations:  "max iterations",
		Stagnation:     "stagnation",
		MaxEvaluations: "max evaluations",
		FlatFitness:    "flat fitness",
	}
	for code, want := range codes {
		if code.String() != want {
			t.Errorf("TermCode(%d).String() = %q, want %q", code, code.String(), want)
		}
	}
	// The budget code is part of the stable external contract.
	if MaxEvaluations != 4 {
		t.Errorf("MaxEvaluations code changed: %d", MaxEvaluations)
	}
}
