package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

const (
	checkpointFile = "checkpoint.json"
	traceFile      = "trace.jsonl"
)

// FSStore persists checkpoints as JSON files, one directory per job:
//
//	<base>/jobs/<jobID>/checkpoint.json   best point + run config
//	<base>/jobs/<jobID>/trace.jsonl       convergence history
//
// Saves go through a temp file and a rename, so a crash mid-write leaves
// either the previous checkpoint or the new one, never a torn file. That is
// the only synchronization: concurrent savers of the same job race on which
// complete checkpoint wins, which is acceptable since a newer best is always
// at least as good.
type FSStore struct {
	baseDir string
}

// NewFSStore opens a store rooted at baseDir, creating it if needed.
func NewFSStore(baseDir string) (*FSStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &FSStore{baseDir: baseDir}, nil
}

// jobArtifactPath locates one of a job's files under the shared layout.
// The trace writer and reader resolve paths through the same helper, so
// every artifact of a job lives in the one directory DeleteCheckpoint
// removes.
func jobArtifactPath(baseDir, jobID, name string) string {
	return filepath.Join(baseDir, "jobs", jobID, name)
}

func (fs *FSStore) jobDir(jobID string) string {
	return filepath.Join(fs.baseDir, "jobs", jobID)
}

func (fs *FSStore) checkpointPath(jobID string) string {
	return jobArtifactPath(fs.baseDir, jobID, checkpointFile)
}

// SaveCheckpoint writes the checkpoint for jobID, replacing any previous
// one. The checkpoint is validated first: a checkpoint that could not be
// resumed is never persisted.
func (fs *FSStore) SaveCheckpoint(jobID string, checkpoint *Checkpoint) error {
	if jobID == "" {
		return fmt.Errorf("jobID cannot be empty")
	}
	if checkpoint == nil {
		return fmt.Errorf("checkpoint cannot be nil")
	}
	if err := checkpoint.Validate(); err != nil {
		return fmt.Errorf("refusing to save unresumable checkpoint: %w", err)
	}

	if err := os.MkdirAll(fs.jobDir(jobID), 0755); err != nil {
		return fmt.Errorf("failed to create job directory: %w", err)
	}

	data, err := json.MarshalIndent(checkpoint, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize checkpoint: %w", err)
	}

	final := fs.checkpointPath(jobID)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp checkpoint file: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename checkpoint file: %w", err)
	}

	slog.Debug("Checkpoint saved",
		"jobID", jobID,
		"best_fun", checkpoint.BestFun,
		"nfev", checkpoint.NFev,
	)
	return nil
}

// LoadCheckpoint reads and validates the checkpoint for jobID. Whatever
// loads is guaranteed resumable; callers do not need to re-validate.
func (fs *FSStore) LoadCheckpoint(jobID string) (*Checkpoint, error) {
	if jobID == "" {
		return nil, fmt.Errorf("jobID cannot be empty")
	}
	return fs.readCheckpoint(jobID)
}

func (fs *FSStore) readCheckpoint(jobID string) (*Checkpoint, error) {
	data, err := os.ReadFile(fs.checkpointPath(jobID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &NotFoundError{JobID: jobID}
		}
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}

	var checkpoint Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return nil, fmt.Errorf("failed to deserialize checkpoint: %w", err)
	}
	if err := checkpoint.Validate(); err != nil {
		return nil, fmt.Errorf("checkpoint for job %s is not usable: %w", jobID, err)
	}
	return &checkpoint, nil
}

// ListCheckpoints scans the jobs directory and returns metadata for every
// loadable checkpoint. Directories without a checkpoint are silently
// skipped; corrupted or unresumable checkpoints are logged and skipped so
// one bad file cannot hide the rest.
func (fs *FSStore) ListCheckpoints() ([]CheckpointInfo, error) {
	entries, err := os.ReadDir(filepath.Join(fs.baseDir, "jobs"))
	if err != nil {
		if os.IsNotExist(err) {
			return []CheckpointInfo{}, nil
		}
		return nil, fmt.Errorf("failed to read jobs directory: %w", err)
	}

	infos := []CheckpointInfo{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		checkpoint, err := fs.readCheckpoint(entry.Name())
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				slog.Warn("Skipping unreadable checkpoint", "jobID", entry.Name(), "error", err)
			}
			continue
		}
		infos = append(infos, checkpoint.ToInfo())
	}

	return infos, nil
}

// DeleteCheckpoint removes a job's directory with everything in it, the
// checkpoint and its trace history alike.
func (fs *FSStore) DeleteCheckpoint(jobID string) error {
	if jobID == "" {
		return fmt.Errorf("jobID cannot be empty")
	}

	dir := fs.jobDir(jobID)
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return &NotFoundError{JobID: jobID}
		}
		return fmt.Errorf("failed to stat job directory: %w", err)
	}

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove job directory: %w", err)
	}

	slog.Debug("Checkpoint deleted", "jobID", jobID, "dir", dir)
	return nil
}
