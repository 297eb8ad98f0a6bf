// Package config defines solve job settings and loads them from YAML files.
package config

import (
	"fmt"
	"os"

	"github.com/cwbudde/evosolve/internal/opt"
	"github.com/cwbudde/evosolve/internal/problem"
	"gopkg.in/yaml.v3"
)

// Job holds the configuration of one optimization job. It is shared by the
// CLI, the server and persisted checkpoints.
type Job struct {
	Problem            string  `json:"problem" yaml:"problem"`
	Optimizer          string  `json:"optimizer" yaml:"optimizer"` // genetic, mayfly
	Dim                int     `json:"dim" yaml:"dim"`
	MutationRate       int     `json:"mutationRate,omitempty" yaml:"mutation_rate,omitempty"`
	MaxGenerations     int     `json:"maxGenerations" yaml:"max_generations"`
	PopulationSize     int     `json:"populationSize" yaml:"population_size"`
	Parallel           bool    `json:"parallel,omitempty" yaml:"parallel,omitempty"`
	Seed               uint64  `json:"seed" yaml:"seed"`
	TargetCost         float64 `json:"targetCost,omitempty" yaml:"target_cost,omitempty"`
	CheckpointInterval int     `json:"checkpointInterval,omitempty" yaml:"checkpoint_interval,omitempty"` // Checkpoint every N seconds (0 = disabled)
}

// Default returns the configuration used when nothing is specified.
func Default() Job {
	return Job{
		Problem:        "sphere",
		Optimizer:      opt.NameGenetic,
		Dim:            10,
		MutationRate:   50,
		MaxGenerations: 500,
		PopulationSize: 1024,
		Seed:           1,
	}
}

// Load reads a YAML job file. Fields missing from the file keep their
// Default values.
func Load(path string) (Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Job{}, fmt.Errorf("failed to read config: %w", err)
	}

	job := Default()
	if err := yaml.Unmarshal(data, &job); err != nil {
		return Job{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := job.Validate(); err != nil {
		return Job{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return job, nil
}

// Normalize replaces zero values with defaults, so a seed of 0 becomes the
// default seed. MaxGenerations of 0 is kept
// when a target cost is set, since the run then stops on that target.
func (j *Job) Normalize() {
	def := Default()
	if j.Problem == "" {
		j.Problem = def.Problem
	}
	if j.Optimizer == "" {
		j.Optimizer = def.Optimizer
	}
	if j.Dim <= 0 {
		j.Dim = def.Dim
	}
	if j.MutationRate <= 0 {
		j.MutationRate = def.MutationRate
	}
	if j.MaxGenerations <= 0 && j.TargetCost <= 0 {
		j.MaxGenerations = def.MaxGenerations
	}
	if j.PopulationSize <= 0 {
		j.PopulationSize = def.PopulationSize
	}
	if j.Seed == 0 {
		j.Seed = def.Seed
	}
}

// Validate rejects configurations no optimizer can run.
func (j Job) Validate() error {
	if _, err := problem.Get(j.Problem); err != nil {
		return err
	}
	if !opt.IsKnown(j.Optimizer) {
		return fmt.Errorf("unknown optimizer: %s", j.Optimizer)
	}
	if j.Dim <= 0 {
		return fmt.Errorf("dim must be positive, got %d", j.Dim)
	}
	if j.MaxGenerations < 0 {
		return fmt.Errorf("max_generations cannot be negative, got %d", j.MaxGenerations)
	}
	if j.MaxGenerations == 0 && j.TargetCost <= 0 {
		return fmt.Errorf("max_generations or target_cost is required")
	}
	if j.Optimizer == opt.NameMayfly && j.MaxGenerations == 0 {
		return fmt.Errorf("mayfly requires max_generations")
	}
	if j.CheckpointInterval < 0 {
		return fmt.Errorf("checkpoint_interval cannot be negative, got %d", j.CheckpointInterval)
	}
	return nil
}

// Settings converts the job into optimizer settings.
func (j Job) Settings() opt.Settings {
	return opt.Settings{
		MutationRate:   j.MutationRate,
		MaxGenerations: j.MaxGenerations,
		PopulationSize: j.PopulationSize,
		Parallel:       j.Parallel,
		Seed:           j.Seed,
		TargetCost:     j.TargetCost,
	}
}
