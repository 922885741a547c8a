package server

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/cwbudde/cmaretry/internal/cma"
	"github.com/cwbudde/cmaretry/internal/objective"
	"github.com/cwbudde/cmaretry/internal/opt"
	"github.com/cwbudde/cmaretry/internal/retry"
	"github.com/cwbudde/cmaretry/internal/store"
)

// runJob executes an optimization job in the background.
// If checkpointStore is not nil and job has checkpointInterval > 0, periodic
// checkpoints are saved.
func runJob(ctx context.Context, jm *JobManager, checkpointStore store.Store, jobID string) error {
	job, exists := jm.GetJob(jobID)
	if !exists {
		return fmt.Errorf("job not found: %s", jobID)
	}

	err := jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateRunning
	})
	if err != nil {
		return err
	}

	slog.Info("Starting job", "job_id", jobID, "function", job.Config.Function, "mode", job.Config.Mode)

	// Build the objective from its registered name
	prob, err := objective.ByName(job.Config.Function, job.Config.Dim)
	if err != nil {
		markJobFailed(jm, jobID, fmt.Errorf("failed to build objective: %w", err))
		return err
	}

	// The wrapper gives the progress and checkpoint monitors a live view of
	// evaluation count and incumbent best while the optimization runs.
	wrapper := objective.NewWrapper(prob.Fn)

	// Check for cancellation before starting expensive operation
	select {
	case <-ctx.Done():
		markJobCancelled(jm, jobID)
		return ctx.Err()
	default:
	}

	start := time.Now()

	// Start progress monitoring goroutine
	progressDone := make(chan struct{})
	go monitorProgress(ctx, jm, wrapper, jobID, start, progressDone)

	// Start checkpoint monitoring goroutine if enabled
	checkpointDone := make(chan struct{})
	if checkpointStore != nil && job.Config.CheckpointInterval > 0 {
		go monitorCheckpoints(ctx, jm, checkpointStore, wrapper, jobID, checkpointDone)
	} else {
		close(checkpointDone) // No checkpointing, close immediately
	}

	result, runErr := executeJob(wrapper, prob.Bounds, job.Config)

	close(progressDone)
	if checkpointStore != nil && job.Config.CheckpointInterval > 0 {
		close(checkpointDone)
	}
	elapsed := time.Since(start)

	// Check for cancellation after optimization
	select {
	case <-ctx.Done():
		markJobCancelled(jm, jobID)
		return ctx.Err()
	default:
	}

	if runErr != nil {
		markJobFailed(jm, jobID, runErr)
		return runErr
	}

	endTime := time.Now()
	err = jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCompleted
		j.BestX = result.X
		j.BestFun = result.Fun
		j.Evaluations = result.NFev
		j.Iterations = result.NIt
		j.Status = result.Status.String()
		j.EndTime = &endTime
	})
	if err != nil {
		return err
	}

	eps := float64(result.NFev) / elapsed.Seconds()
	slog.Info("Job completed",
		"job_id", jobID,
		"elapsed", elapsed,
		"best_fun", result.Fun,
		"evaluations", result.NFev,
		"evals_per_second", eps,
	)

	// Save a final checkpoint so completed jobs are resumable from their result
	if checkpointStore != nil && job.Config.CheckpointInterval > 0 {
		if err := saveCheckpoint(jm, checkpointStore, jobID); err != nil {
			slog.Warn("Failed to save final checkpoint", "job_id", jobID, "error", err)
		}
	}

	// Broadcast final completion event
	jm.broadcaster.Broadcast(ProgressEvent{
		JobID:       jobID,
		State:       StateCompleted,
		Evaluations: result.NFev,
		BestFun:     result.Fun,
		EPS:         eps,
		Timestamp:   time.Now(),
	})

	return nil
}

// executeJob dispatches one optimization according to the configured mode.
func executeJob(wrapper *objective.Wrapper, bounds objective.Bounds, config JobConfig) (cma.Result, error) {
	backend, err := opt.ByName(config.Backend, config.MaxEvals, config.Popsize, config.StopFitness, config.Parallel)
	if err != nil {
		return cma.Result{}, err
	}

	switch config.Mode {
	case "single":
		rng := rand.New(rand.NewSource(config.Seed))
		guess := bounds.Random(rng)
		return backend.Minimize(wrapper.Eval, bounds, guess, bounds.Scale(), rng)
	case "retry":
		return retry.Minimize(wrapper.Eval, bounds, retry.Params{
			NumRetries:       config.Retries,
			MaxEvalsPerRetry: config.MaxEvals,
			Popsize:          config.Popsize,
			Optimizer:        backend,
			Seed:             config.Seed,
		})
	case "advretry":
		return retry.MinimizeCoordinated(wrapper.Eval, bounds, retry.AdvParams{
			NumRetries:       config.Retries,
			MaxEvalsPerRetry: config.MaxEvals,
			Popsize:          config.Popsize,
			Optimizer:        backend,
			Seed:             config.Seed,
		})
	default:
		return cma.Result{}, fmt.Errorf("unknown mode: %s", config.Mode)
	}
}

// monitorProgress periodically broadcasts progress events during optimization
func monitorProgress(ctx context.Context, jm *JobManager, wrapper *objective.Wrapper, jobID string, startTime time.Time, done chan struct{}) {
	ticker := time.NewTicker(500 * time.Millisecond) // Throttle to 2 updates per second
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			job, exists := jm.GetJob(jobID)
			if !exists {
				return
			}

			evals := wrapper.Count()
			bestFun := wrapper.BestY()

			jm.UpdateJob(jobID, func(j *Job) {
				j.Evaluations = evals
				j.BestFun = bestFun
			})

			elapsed := time.Since(startTime).Seconds()
			var eps float64
			if elapsed > 0 {
				eps = float64(evals) / elapsed
			}

			jm.broadcaster.Broadcast(ProgressEvent{
				JobID:       jobID,
				State:       job.State,
				Evaluations: evals,
				BestFun:     bestFun,
				EPS:         eps,
				Timestamp:   time.Now(),
			})
		}
	}
}

// markJobFailed marks a job as failed with an error message
func markJobFailed(jm *JobManager, jobID string, err error) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateFailed
		j.Error = err.Error()
		j.EndTime = &endTime
	})
	slog.Error("Job failed", "job_id", jobID, "error", err)
}

// markJobCancelled marks a job as cancelled
func markJobCancelled(jm *JobManager, jobID string) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCancelled
		j.EndTime = &endTime
	})
	slog.Info("Job cancelled", "job_id", jobID)
}

// monitorCheckpoints periodically saves checkpoints during optimization
func monitorCheckpoints(ctx context.Context, jm *JobManager, checkpointStore store.Store, wrapper *objective.Wrapper, jobID string, done chan struct{}) {
	job, exists := jm.GetJob(jobID)
	if !exists {
		return
	}

	interval := time.Duration(job.Config.CheckpointInterval) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			jm.UpdateJob(jobID, func(j *Job) {
				j.Evaluations = wrapper.Count()
				j.BestFun = wrapper.BestY()
				j.BestX = wrapper.BestX()
			})
			if err := saveCheckpoint(jm, checkpointStore, jobID); err != nil {
				slog.Error("Failed to save checkpoint", "job_id", jobID, "error", err)
			}
		}
	}
}

// saveCheckpoint saves a checkpoint for the given job
func saveCheckpoint(jm *JobManager, checkpointStore store.Store, jobID string) error {
	job, exists := jm.GetJob(jobID)
	if !exists {
		return fmt.Errorf("job not found: %s", jobID)
	}

	// Skip if no best point yet
	if len(job.BestX) == 0 {
		slog.Debug("Skipping checkpoint, no best point yet", "job_id", jobID)
		return nil
	}

	status := cma.Running
	if job.State == StateCompleted {
		// Preserve the terminal code recorded on completion
		for code := cma.Running; code <= cma.FlatFitness; code++ {
			if code.String() == job.Status {
				status = code
				break
			}
		}
	}

	checkpoint := store.NewCheckpoint(
		jobID,
		job.BestX,
		job.BestFun,
		job.Evaluations,
		job.Iterations,
		status,
		job.Config,
	)

	if err := checkpointStore.SaveCheckpoint(jobID, checkpoint); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	slog.Info("Checkpoint saved",
		"job_id", jobID,
		"evaluations", job.Evaluations,
		"best_fun", job.BestFun,
	)

	return nil
}
