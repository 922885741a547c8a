package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"os"

	"github.com/spf13/cobra"

	"github.com/cwbudde/cmaretry/internal/objective"
	"github.com/cwbudde/cmaretry/internal/opt"
	"github.com/cwbudde/cmaretry/internal/store"
)

var (
	resumeDataDir  string
	resumeMaxEvals int
	resumeSigma    float64
)

var resumeCmd = &cobra.Command{
	Use:   "resume [job-id]",
	Short: "Resume an optimization from its checkpoint",
	Long: `Loads a saved checkpoint and continues the optimization from its best
point. The optimizer restarts with a fresh strategy state centered on the
checkpointed best with a contracted step size, so the best value never gets
worse across a resume.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	resumeCmd.Flags().StringVar(&resumeDataDir, "data-dir", "./data", "Base directory for checkpoint storage")
	resumeCmd.Flags().IntVar(&resumeMaxEvals, "max-evals", 0, "Evaluation budget for the resumed run (0 = checkpoint's budget)")
	resumeCmd.Flags().Float64Var(&resumeSigma, "sigma", 0.1, "Step size for the resumed run as a fraction of the search box extent")
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	jobID := args[0]

	checkpointStore, err := store.NewFSStore(resumeDataDir)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint store: %w", err)
	}

	// LoadCheckpoint validates on read, so whatever loads is resumable.
	checkpoint, err := checkpointStore.LoadCheckpoint(jobID)
	if err != nil {
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}

	config := checkpoint.Config
	prob, err := objective.ByName(config.Function, config.Dim)
	if err != nil {
		return fmt.Errorf("failed to rebuild objective: %w", err)
	}

	budget := config.MaxEvals
	if resumeMaxEvals > 0 {
		budget = resumeMaxEvals
	}

	slog.Info("Resuming from checkpoint",
		"job_id", jobID,
		"function", config.Function,
		"best_fun", checkpoint.BestFun,
		"evaluations_so_far", checkpoint.NFev,
		"budget", budget,
	)

	backend, err := opt.ByName(config.Backend, budget, config.Popsize, config.StopFitness, config.Parallel)
	if err != nil {
		return err
	}

	sigma := make([]float64, prob.Bounds.Dim())
	for i := range sigma {
		sigma[i] = resumeSigma * (prob.Bounds.Upper[i] - prob.Bounds.Lower[i])
	}

	wrapper := objective.NewWrapper(prob.Fn)
	rng := rand.New(rand.NewSource(config.Seed + int64(checkpoint.NFev)))

	result, err := backend.Minimize(wrapper.Eval, prob.Bounds, checkpoint.BestX, sigma, rng)
	if err != nil {
		return fmt.Errorf("resumed optimization failed: %w", err)
	}

	// Resumption never loses ground: keep the checkpointed best if the new
	// run did not improve on it.
	if checkpoint.BestFun < result.Fun {
		result.X = checkpoint.BestX
		result.Fun = checkpoint.BestFun
	}
	result.NFev += checkpoint.NFev
	result.NIt += checkpoint.NIt

	updated := store.NewCheckpoint(jobID, result.X, result.Fun, result.NFev, result.NIt, result.Status, config)
	if err := checkpointStore.SaveCheckpoint(jobID, updated); err != nil {
		return fmt.Errorf("failed to save updated checkpoint: %w", err)
	}

	slog.Info("Resume complete",
		"job_id", jobID,
		"best_fun", result.Fun,
		"total_evaluations", result.NFev,
		"status", result.Status.String(),
	)

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize result: %w", err)
	}
	fmt.Fprintln(os.Stdout, string(data))
	return nil
}
