package store

import (
	"fmt"
	"time"

	"github.com/cwbudde/cmaretry/internal/cma"
)

// JobConfig holds configuration for an optimization job (checkpoint copy).
// This avoids import cycles with server package.
type JobConfig struct {
	Function           string  `json:"function"`
	Dim                int     `json:"dim"`
	Mode               string  `json:"mode"` // single, retry, advretry
	Backend            string  `json:"backend,omitempty"`
	Popsize            int     `json:"popSize,omitempty"`
	MaxEvals           int     `json:"maxEvals"`
	Retries            int     `json:"retries,omitempty"`
	Parallel           bool    `json:"parallel,omitempty"`
	Seed               int64   `json:"seed"`
	StopFitness        float64 `json:"stopFitness,omitempty"`
	CheckpointInterval int     `json:"checkpointInterval,omitempty"` // Checkpoint every N seconds (0 = disabled)
}

// Checkpoint represents a saved optimization state that can be resumed later.
// All fields are serialized to JSON for persistence.
//
// The checkpoint saves the best point found so far, but NOT the optimizer's
// internal state (covariance, evolution paths, population). On resume a fresh
// run is started, seeded around the saved best point with a contracted step
// size. The best value can therefore never get worse across a resume, but
// convergence may diverge slightly from an uninterrupted run. Persisting the
// full strategy state would tie the checkpoint format to one backend and was
// deliberately avoided.
type Checkpoint struct {
	// JobID is the unique identifier for this optimization job
	JobID string `json:"jobId"`

	// BestX is the best point found so far
	BestX []float64 `json:"bestX"`

	// BestFun is the objective value at BestX
	BestFun float64 `json:"bestFun"`

	// NFev is the number of objective evaluations consumed so far
	NFev int `json:"nfev"`

	// NIt is the iteration count when this checkpoint was created
	NIt int `json:"nit"`

	// Status is the run's termination code (Running while in progress)
	Status cma.TermCode `json:"status"`

	// Timestamp records when this checkpoint was created
	Timestamp time.Time `json:"timestamp"`

	// Config holds the job configuration, needed for validation during resume.
	// We ensure that resumed jobs use compatible settings (same function,
	// dimension, mode).
	Config JobConfig `json:"config"`
}

// CheckpointInfo contains metadata about a checkpoint without the full
// parameter data. Used for listing checkpoints without loading point arrays.
type CheckpointInfo struct {
	// JobID is the unique identifier for this checkpoint
	JobID string `json:"jobId"`

	// BestFun is the objective value at the time of checkpointing
	BestFun float64 `json:"bestFun"`

	// NFev is the evaluation count at checkpoint time
	NFev int `json:"nfev"`

	// Timestamp records when this checkpoint was created
	Timestamp time.Time `json:"timestamp"`

	// Mode is the optimization mode (single, retry, advretry)
	Mode string `json:"mode"`

	// Function is the objective's name
	Function string `json:"function"`

	// Dim is the problem dimension
	Dim int `json:"dim"`
}

// NewCheckpoint creates a checkpoint from job state.
func NewCheckpoint(jobID string, bestX []float64, bestFun float64, nfev, nit int, status cma.TermCode, config JobConfig) *Checkpoint {
	return &Checkpoint{
		JobID:     jobID,
		BestX:     bestX,
		BestFun:   bestFun,
		NFev:      nfev,
		NIt:       nit,
		Status:    status,
		Timestamp: time.Now(),
		Config:    config,
	}
}

// ToInfo converts a full Checkpoint to CheckpointInfo (metadata only).
func (c *Checkpoint) ToInfo() CheckpointInfo {
	return CheckpointInfo{
		JobID:     c.JobID,
		BestFun:   c.BestFun,
		NFev:      c.NFev,
		Timestamp: c.Timestamp,
		Mode:      c.Config.Mode,
		Function:  c.Config.Function,
		Dim:       c.Config.Dim,
	}
}

// Validate checks if the checkpoint has valid data.
// Returns an error if any required field is missing or invalid.
func (c *Checkpoint) Validate() error {
	if c.JobID == "" {
		return &ValidationError{Field: "JobID", Reason: "cannot be empty"}
	}
	if len(c.BestX) == 0 {
		return &ValidationError{Field: "BestX", Reason: "cannot be empty"}
	}
	if c.NFev < 0 {
		return &ValidationError{Field: "NFev", Reason: "cannot be negative"}
	}
	if c.NIt < 0 {
		return &ValidationError{Field: "NIt", Reason: "cannot be negative"}
	}
	if c.Timestamp.IsZero() {
		return &ValidationError{Field: "Timestamp", Reason: "cannot be zero"}
	}
	if c.Config.Function == "" {
		return &ValidationError{Field: "Config.Function", Reason: "cannot be empty"}
	}
	if c.Config.Mode == "" {
		return &ValidationError{Field: "Config.Mode", Reason: "cannot be empty"}
	}
	if c.Config.Dim <= 0 {
		return &ValidationError{Field: "Config.Dim", Reason: "must be positive"}
	}
	if c.Config.MaxEvals <= 0 {
		return &ValidationError{Field: "Config.MaxEvals", Reason: "must be positive"}
	}
	if len(c.BestX) != c.Config.Dim {
		return &ValidationError{
			Field:  "BestX",
			Reason: fmt.Sprintf("length mismatch: got %d values for dimension %d", len(c.BestX), c.Config.Dim),
		}
	}
	return nil
}

// ValidationError represents a checkpoint validation error.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}

// IsCompatible checks if this checkpoint can be resumed with the given config.
// Returns an error if the configs are incompatible.
func (c *Checkpoint) IsCompatible(config JobConfig) error {
	if c.Config.Function != config.Function {
		return &CompatibilityError{
			Field:    "Function",
			Expected: c.Config.Function,
			Actual:   config.Function,
		}
	}
	if c.Config.Dim != config.Dim {
		return &CompatibilityError{
			Field:    "Dim",
			Expected: fmt.Sprintf("%d", c.Config.Dim),
			Actual:   fmt.Sprintf("%d", config.Dim),
		}
	}
	if c.Config.Mode != config.Mode {
		return &CompatibilityError{
			Field:    "Mode",
			Expected: c.Config.Mode,
			Actual:   config.Mode,
		}
	}
	return nil
}

// CompatibilityError represents a checkpoint compatibility error.
type CompatibilityError struct {
	Field    string
	Expected string
	Actual   string
}

func (e *CompatibilityError) Error() string {
	return "compatibility error: " + e.Field + " mismatch (expected " + e.Expected + ", got " + e.Actual + ")"
}
