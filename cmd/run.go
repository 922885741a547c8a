package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/cmaretry/internal/cma"
	"github.com/cwbudde/cmaretry/internal/objective"
	"github.com/cwbudde/cmaretry/internal/opt"
	"github.com/cwbudde/cmaretry/internal/retry"
)

var (
	fnName      string
	dim         int
	mode        string
	backendName string
	popSize     int
	maxEvals    int
	retries     int
	sigmaFrac   float64
	seed        int64
	parallel    bool
	stopFitness float64
	outPath     string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run an optimization from the command line",
	Long: `Minimizes a benchmark objective and prints the result as JSON.
Mode selects a single run, independent parallel restarts (retry) or
region-guided coordinated restarts (advretry).`,
	RunE: runOptimization,
}

func init() {
	runCmd.Flags().StringVar(&fnName, "fn", "", "Objective function name (required, see 'cmaretry functions')")
	runCmd.Flags().IntVar(&dim, "dim", 10, "Problem dimension")
	runCmd.Flags().StringVar(&mode, "mode", "single", "Optimization mode: single, retry, advretry")
	runCmd.Flags().StringVar(&backendName, "backend", "cma", "Optimizer backend: cma, mayfly")
	runCmd.Flags().IntVar(&popSize, "popsize", 0, "Population size (0 = dimension-based default)")
	runCmd.Flags().IntVar(&maxEvals, "max-evals", 50000, "Max objective evaluations per run")
	runCmd.Flags().IntVar(&retries, "retries", 64, "Number of restarts for retry and advretry modes")
	runCmd.Flags().Float64Var(&sigmaFrac, "sigma", 0.3, "Initial step size as a fraction of the search box extent")
	runCmd.Flags().Int64Var(&seed, "seed", 42, "Random seed")
	runCmd.Flags().BoolVar(&parallel, "parallel", false, "Evaluate populations in parallel (single mode)")
	runCmd.Flags().Float64Var(&stopFitness, "stop-fitness", 0, "Stop when the objective drops below this value (0 = disabled)")
	runCmd.Flags().StringVar(&outPath, "out", "", "Write the result JSON to this file instead of stdout")

	runCmd.MarkFlagRequired("fn")
	rootCmd.AddCommand(runCmd)
}

func runOptimization(cmd *cobra.Command, args []string) error {
	prob, err := objective.ByName(fnName, dim)
	if err != nil {
		return err
	}

	slog.Info("Starting optimization", "function", prob.Name, "dim", prob.Bounds.Dim(), "mode", mode)

	wrapper := objective.NewWrapper(prob.Fn)

	start := time.Now()
	result, err := execute(wrapper, prob.Bounds)
	if err != nil {
		return fmt.Errorf("optimization failed: %w", err)
	}
	elapsed := time.Since(start)

	slog.Info("Optimization complete",
		"elapsed", elapsed,
		"best_fun", result.Fun,
		"evaluations", result.NFev,
		"iterations", result.NIt,
		"status", result.Status.String(),
		"evals_per_second", fmt.Sprintf("%.0f", float64(result.NFev)/elapsed.Seconds()),
	)

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize result: %w", err)
	}

	if outPath != "" {
		if err := os.WriteFile(outPath, append(data, '\n'), 0644); err != nil {
			return fmt.Errorf("failed to write result: %w", err)
		}
		fmt.Printf("Wrote %s (fun: %g, %d evaluations)\n", outPath, result.Fun, result.NFev)
		return nil
	}

	fmt.Println(string(data))
	return nil
}

func execute(wrapper *objective.Wrapper, bounds objective.Bounds) (cma.Result, error) {
	backend, err := opt.ByName(backendName, maxEvals, popSize, stopFitness, parallel)
	if err != nil {
		return cma.Result{}, err
	}

	switch mode {
	case "single":
		rng := rand.New(rand.NewSource(seed))
		guess := bounds.Random(rng)
		sigma := make([]float64, bounds.Dim())
		for i := range sigma {
			sigma[i] = sigmaFrac * (bounds.Upper[i] - bounds.Lower[i])
		}
		return backend.Minimize(wrapper.Eval, bounds, guess, sigma, rng)
	case "retry":
		return retry.Minimize(wrapper.Eval, bounds, retry.Params{
			NumRetries:       retries,
			MaxEvalsPerRetry: maxEvals,
			Popsize:          popSize,
			Optimizer:        backend,
			Seed:             seed,
		})
	case "advretry":
		return retry.MinimizeCoordinated(wrapper.Eval, bounds, retry.AdvParams{
			NumRetries:       retries,
			MaxEvalsPerRetry: maxEvals,
			Popsize:          popSize,
			Optimizer:        backend,
			Seed:             seed,
		})
	default:
		return cma.Result{}, fmt.Errorf("unknown mode: %s", mode)
	}
}
