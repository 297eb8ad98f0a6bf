package store

import (
	"fmt"
	"math"
	"time"

	"github.com/cwbudde/evosolve/internal/config"
)

// Checkpoint is the best solution of a job at some generation. It is enough
// to resume the job: the genetic engine is reseeded with BestParams, so the
// population itself is not persisted and a resumed run diverges from an
// uninterrupted one while never getting worse than BestCost.
type Checkpoint struct {
	// JobID is the unique identifier for this optimization job
	JobID string `json:"jobId"`

	// BestParams is the parameter vector with the lowest cost so far
	BestParams []float64 `json:"bestParams"`

	BestCost float64 `json:"bestCost"`

	// InitialCost is the cost of the starting point, for tracking improvement
	InitialCost float64 `json:"initialCost"`

	// Generation is the number of generations completed when the checkpoint was taken
	Generation int `json:"generation"`

	Timestamp time.Time `json:"timestamp"`

	// Config is checked against the resume configuration by IsCompatible
	Config config.Job `json:"config"`
}

// CheckpointInfo contains metadata about a checkpoint without the parameter vector.
type CheckpointInfo struct {
	JobID      string    `json:"jobId"`
	BestCost   float64   `json:"bestCost"`
	Generation int       `json:"generation"`
	Timestamp  time.Time `json:"timestamp"`
	Problem    string    `json:"problem"`
	Optimizer  string    `json:"optimizer"`
	Dim        int       `json:"dim"`
}

// NewCheckpoint creates a checkpoint from job state.
func NewCheckpoint(jobID string, bestParams []float64, bestCost, initialCost float64, generation int, cfg config.Job) *Checkpoint {
	return &Checkpoint{
		JobID:       jobID,
		BestParams:  bestParams,
		BestCost:    bestCost,
		InitialCost: initialCost,
		Generation:  generation,
		Timestamp:   time.Now(),
		Config:      cfg,
	}
}

// ToInfo converts a full Checkpoint to CheckpointInfo (metadata only).
func (c *Checkpoint) ToInfo() CheckpointInfo {
	return CheckpointInfo{
		JobID:      c.JobID,
		BestCost:   c.BestCost,
		Generation: c.Generation,
		Timestamp:  c.Timestamp,
		Problem:    c.Config.Problem,
		Optimizer:  c.Config.Optimizer,
		Dim:        c.Config.Dim,
	}
}

// Validate checks if the checkpoint has valid data.
func (c *Checkpoint) Validate() error {
	if c.JobID == "" {
		return &ValidationError{Field: "JobID", Reason: "cannot be empty"}
	}
	if len(c.BestParams) == 0 {
		return &ValidationError{Field: "BestParams", Reason: "cannot be empty"}
	}
	if math.IsNaN(c.BestCost) {
		return &ValidationError{Field: "BestCost", Reason: "cannot be NaN"}
	}
	if c.Generation < 0 {
		return &ValidationError{Field: "Generation", Reason: "cannot be negative"}
	}
	if c.Timestamp.IsZero() {
		return &ValidationError{Field: "Timestamp", Reason: "cannot be zero"}
	}
	if c.Config.Problem == "" {
		return &ValidationError{Field: "Config.Problem", Reason: "cannot be empty"}
	}
	if c.Config.Dim <= 0 {
		return &ValidationError{Field: "Config.Dim", Reason: "must be positive"}
	}
	if len(c.BestParams) != c.Config.Dim {
		return &ValidationError{
			Field:  "BestParams",
			Reason: fmt.Sprintf("length mismatch: expected %d params, got %d", c.Config.Dim, len(c.BestParams)),
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
// Tuning knobs may differ; the search space may not.
func (c *Checkpoint) IsCompatible(cfg config.Job) error {
	if c.Config.Problem != cfg.Problem {
		return &CompatibilityError{
			Field:    "Problem",
			Expected: c.Config.Problem,
			Actual:   cfg.Problem,
		}
	}
	if c.Config.Dim != cfg.Dim {
		return &CompatibilityError{
			Field:    "Dim",
			Expected: fmt.Sprintf("%d", c.Config.Dim),
			Actual:   fmt.Sprintf("%d", cfg.Dim),
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
