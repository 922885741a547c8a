package retry

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"runtime"
	"sort"

	"github.com/cwbudde/cmaretry/internal/cma"
	"github.com/cwbudde/cmaretry/internal/objective"
	"github.com/cwbudde/cmaretry/internal/opt"
)

// ProblemsParams configures an elimination minimization over a list of
// related problems.
type ProblemsParams struct {
	// RetriesPerRound is the number of coordinated restarts each surviving
	// problem receives per round. Defaults to min(256, 8*NumCPU).
	RetriesPerRound int

	// Keep is the fraction of problems surviving a round; the rest are
	// eliminated, at least one per round. Defaults to 0.7.
	Keep float64

	// MaxEvalsPerRetry, Popsize, Workers and Optimizer configure the
	// per-problem coordinated retry, with its defaults.
	MaxEvalsPerRetry int
	Popsize          int
	Workers          int
	Optimizer        opt.Optimizer

	// Seed makes the whole filter reproducible.
	Seed int64
}

// ProblemResult pairs one input problem with its accumulated outcome. NFev
// counts every evaluation the problem received across all its rounds. Err
// is set only when the problem never produced a result.
type ProblemResult struct {
	Problem objective.Problem
	Result  cma.Result
	Err     error
}

// problemState carries one problem through the filter. Its record store
// survives across rounds, so later restarts are guided by everything the
// problem has learned, not just the current round.
type problemState struct {
	problem  objective.Problem
	params   AdvParams
	store    *Store
	seedRng  *rand.Rand
	restarts int
	best     cma.Result
	err      error
}

// MinimizeProblems minimizes a list of problem variants by elimination:
// every round gives each surviving problem a batch of coordinated restarts,
// ranks the survivors by their best value and drops the worst fraction, so
// the evaluation budget concentrates on the variants that look best. This
// can stand in for mixed-integer optimization when narrowly bounded integer
// variables are enumerated into one problem instance per combination.
//
// Results for all problems, eliminated ones included, are returned sorted
// best first. A problem whose restarts all fail is ranked last and carries
// its error; MinimizeProblems itself fails only on invalid configuration.
func MinimizeProblems(problems []objective.Problem, p ProblemsParams) ([]ProblemResult, error) {
	if len(problems) == 0 {
		return nil, fmt.Errorf("no problems to minimize")
	}
	if p.RetriesPerRound <= 0 {
		p.RetriesPerRound = min(256, 8*runtime.NumCPU())
	}
	if p.Keep <= 0 || p.Keep >= 1 {
		p.Keep = 0.7
	}

	seeds := childSeeds(p.Seed, len(problems))
	all := make([]*problemState, len(problems))
	for i, prob := range problems {
		adv, err := AdvParams{
			NumRetries:       p.RetriesPerRound,
			MaxEvalsPerRetry: p.MaxEvalsPerRetry,
			Popsize:          p.Popsize,
			Workers:          p.Workers,
			Optimizer:        p.Optimizer,
		}.withDefaults(prob.Bounds)
		if err != nil {
			return nil, fmt.Errorf("problem %s: %w", prob.Name, err)
		}
		all[i] = &problemState{
			problem: prob,
			params:  adv,
			store:   NewStore(adv.Capacity),
			seedRng: rand.New(rand.NewSource(seeds[i])),
			best:    cma.Result{Fun: math.Inf(1)},
		}
	}

	active := append([]*problemState{}, all...)
	round := 0
	for len(active) > 1 {
		round++
		for _, s := range active {
			s.runRound()
		}

		sort.SliceStable(active, func(a, b int) bool {
			return active[a].best.Fun < active[b].best.Fun
		})
		slog.Info("Problem filter round finished",
			"round", round,
			"problems", len(active),
			"best_problem", active[0].problem.Name,
			"best_fun", active[0].best.Fun,
		)

		drop := int(math.Round((1 - p.Keep) * float64(len(active))))
		if drop < 1 {
			drop = 1
		}
		if drop >= len(active) {
			drop = len(active) - 1
		}
		active = active[:len(active)-drop]
	}
	// A lone problem has nothing to compete against but still gets its
	// restarts.
	if round == 0 {
		active[0].runRound()
	}

	sort.SliceStable(all, func(a, b int) bool {
		return all[a].best.Fun < all[b].best.Fun
	})
	results := make([]ProblemResult, len(all))
	for i, s := range all {
		results[i] = ProblemResult{Problem: s.problem, Result: s.best}
		if s.best.X == nil {
			results[i].Err = s.err
		}
	}
	return results, nil
}

// runRound gives the problem one batch of coordinated restarts against its
// persistent store. Evaluations always count, failures never erase an
// earlier round's best.
func (s *problemState) runRound() {
	s.params.Seed = s.seedRng.Int63()
	ret, err := minimizeWithStore(s.problem.Fn, s.problem.Bounds, s.params, s.store, s.restarts)
	s.restarts += s.params.NumRetries
	s.best.NFev += ret.NFev
	if err != nil {
		s.err = err
		slog.Warn("Problem filter round failed", "problem", s.problem.Name, "error", err)
		return
	}
	if ret.Fun < s.best.Fun {
		s.best.X = ret.X
		s.best.Fun = ret.Fun
		s.best.NIt = ret.NIt
		s.best.Status = ret.Status
	}
}
