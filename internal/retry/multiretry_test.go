package retry

import (
	"math/rand"
	"testing"

	"github.com/cwbudde/cmaretry/internal/cma"
	"github.com/cwbudde/cmaretry/internal/objective"
)

// centerOptimizer reports the objective value at the region's center with a
// fixed evaluation cost, so elimination order and budgets are exact.
type centerOptimizer struct {
	nfev int
}

func (o *centerOptimizer) Minimize(fn objective.Func, bounds objective.Bounds, guess, sigma []float64, rng *rand.Rand) (cma.Result, error) {
	x := bounds.Typical()
	return cma.Result{X: x, Fun: fn(x), NFev: o.nfev, NIt: 1, Status: cma.MaxEvaluations}, nil
}

// offsetProblem has its minimum value equal to offset, at the center of a
// symmetric box.
func offsetProblem(name string, offset float64) objective.Problem {
	return objective.Problem{
		Name: name,
		Fn: func(x []float64) float64 {
			sum := offset
			for _, v := range x {
				sum += v * v
			}
			return sum
		},
		Bounds: objective.NewBounds(2, -1, 1),
	}
}

func TestMinimizeProblemsEliminationOrder(t *testing.T) {
	problems := []objective.Problem{
		offsetProblem("p3", 3),
		offsetProblem("p1", 1),
		offsetProblem("p4", 4),
		offsetProblem("p2", 2),
	}

	results, err := MinimizeProblems(problems, ProblemsParams{
		RetriesPerRound: 4,
		Keep:            0.7,
		Optimizer:       &centerOptimizer{nfev: 10},
		Seed:            42,
	})
	if err != nil {
		t.Fatalf("MinimizeProblems failed: %v", err)
	}

	if len(results) != len(problems) {
		t.Fatalf("Expected %d results, got %d", len(problems), len(results))
	}

	// Results come back best first, eliminated problems included.
	wantOrder := []string{"p1", "p2", "p3", "p4"}
	for i, want := range wantOrder {
		if results[i].Problem.Name != want {
			t.Errorf("Result %d: expected problem %s, got %s", i, want, results[i].Problem.Name)
		}
	}
	for i, want := range []float64{1, 2, 3, 4} {
		if results[i].Result.Fun != want {
			t.Errorf("Result %d: expected fun %g, got %g", i, want, results[i].Result.Fun)
		}
	}

	// With 4 problems and keep=0.7 one problem is dropped per round: the
	// winner survives three rounds, the worst problem only one. Each round
	// spends 4 restarts of 10 evaluations per problem.
	if got := results[0].Result.NFev; got != 3*4*10 {
		t.Errorf("Winner nfev: expected %d, got %d", 3*4*10, got)
	}
	if got := results[3].Result.NFev; got != 1*4*10 {
		t.Errorf("First-eliminated nfev: expected %d, got %d", 1*4*10, got)
	}
}

func TestMinimizeProblemsSingleProblem(t *testing.T) {
	problems := []objective.Problem{offsetProblem("only", 2)}

	results, err := MinimizeProblems(problems, ProblemsParams{
		RetriesPerRound: 3,
		Optimizer:       &centerOptimizer{nfev: 5},
		Seed:            7,
	})
	if err != nil {
		t.Fatalf("MinimizeProblems failed: %v", err)
	}

	// A lone problem still gets one round of restarts.
	if results[0].Result.Fun != 2 {
		t.Errorf("Expected fun 2, got %g", results[0].Result.Fun)
	}
	if results[0].Result.NFev != 3*5 {
		t.Errorf("Expected nfev %d, got %d", 3*5, results[0].Result.NFev)
	}
}

func TestMinimizeProblemsNoProblems(t *testing.T) {
	if _, err := MinimizeProblems(nil, ProblemsParams{}); err == nil {
		t.Error("Expected error for empty problem list")
	}
}

func TestMinimizeProblemsFiltersVariants(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping multi-problem optimization in short mode")
	}

	// Two variants of the same bowl, one shifted up. The filter must rank
	// the unshifted variant first and drive it near its optimum, with every
	// evaluation accounted for per problem.
	flat := objective.Sphere(2)
	shifted := offsetProblem("shifted", 5)
	wrappers := map[string]*objective.Wrapper{
		flat.Name:    objective.NewWrapper(flat.Fn),
		shifted.Name: objective.NewWrapper(shifted.Fn),
	}

	problems := []objective.Problem{
		{Name: flat.Name, Fn: wrappers[flat.Name].Eval, Bounds: flat.Bounds},
		{Name: shifted.Name, Fn: wrappers[shifted.Name].Eval, Bounds: shifted.Bounds},
	}

	results, err := MinimizeProblems(problems, ProblemsParams{
		RetriesPerRound:  8,
		MaxEvalsPerRetry: 2000,
		Seed:             42,
	})
	if err != nil {
		t.Fatalf("MinimizeProblems failed: %v", err)
	}

	if results[0].Problem.Name != "sphere" {
		t.Fatalf("Expected the unshifted variant to win, got %s", results[0].Problem.Name)
	}
	if results[0].Result.Fun > 0.5 {
		t.Errorf("Expected winner near its optimum, got %g", results[0].Result.Fun)
	}
	if results[1].Result.Fun < 5 {
		t.Errorf("Shifted variant below its optimum: %g", results[1].Result.Fun)
	}
	for _, res := range results {
		if got := wrappers[res.Problem.Name].Count(); res.Result.NFev != got {
			t.Errorf("Problem %s: reported nfev %d does not match actual count %d",
				res.Problem.Name, res.Result.NFev, got)
		}
	}
}
