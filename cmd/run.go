package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cwbudde/evosolve/internal/config"
	"github.com/cwbudde/evosolve/internal/server"
	"github.com/cwbudde/evosolve/internal/store"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	configPath   string
	outPath      string
	runDataDir   string
	storeBackend string
	jobFlags     config.Job
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a single optimization job",
	Long: `Runs one optimization job in the foreground. Settings come from --config
(YAML) and individual flags, which take precedence over the file. With
--data-dir the job writes a progress trace and checkpoints that
"evosolve resume" can continue from. Interrupting the run saves a final
checkpoint.`,
	RunE: runOptimization,
}

func init() {
	runCmd.Flags().StringVar(&configPath, "config", "", "YAML job configuration file")
	runCmd.Flags().StringVar(&outPath, "out", "", "Write the result as JSON to this file")
	runCmd.Flags().StringVar(&runDataDir, "data-dir", "", "Directory for checkpoints and traces (empty = none)")
	runCmd.Flags().StringVar(&storeBackend, "store", store.BackendFS, "Checkpoint store backend: fs, sqlite")
	addJobFlags(runCmd.Flags(), &jobFlags)

	rootCmd.AddCommand(runCmd)
}

// addJobFlags registers one flag per job setting.
func addJobFlags(fs *pflag.FlagSet, job *config.Job) {
	def := config.Default()
	fs.StringVar(&job.Problem, "problem", def.Problem, "Objective to minimize (see \"evosolve problems\")")
	fs.StringVar(&job.Optimizer, "optimizer", def.Optimizer, "Optimizer: genetic, mayfly")
	fs.IntVar(&job.Dim, "dim", def.Dim, "Number of parameters")
	fs.IntVar(&job.MutationRate, "mutation-rate", def.MutationRate, "Initial mutation rate (genetic)")
	fs.IntVar(&job.MaxGenerations, "max-generations", def.MaxGenerations, "Generation cap (0 = stop on --target only)")
	fs.IntVar(&job.PopulationSize, "pop", def.PopulationSize, "Population size")
	fs.BoolVar(&job.Parallel, "parallel", false, "Evaluate candidates on all CPUs (genetic)")
	fs.Uint64Var(&job.Seed, "seed", def.Seed, "Random seed")
	fs.Float64Var(&job.TargetCost, "target", 0, "Stop once the best cost is below this (0 = disabled)")
	fs.IntVar(&job.CheckpointInterval, "checkpoint-interval", 0, "Checkpoint every N seconds (0 = only at the end)")
}

// applyJobFlags copies the explicitly set flags onto job.
func applyJobFlags(fs *pflag.FlagSet, from config.Job, job *config.Job) {
	fs.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "problem":
			job.Problem = from.Problem
		case "optimizer":
			job.Optimizer = from.Optimizer
		case "dim":
			job.Dim = from.Dim
		case "mutation-rate":
			job.MutationRate = from.MutationRate
		case "max-generations":
			job.MaxGenerations = from.MaxGenerations
		case "pop":
			job.PopulationSize = from.PopulationSize
		case "parallel":
			job.Parallel = from.Parallel
		case "seed":
			job.Seed = from.Seed
		case "target":
			job.TargetCost = from.TargetCost
		case "checkpoint-interval":
			job.CheckpointInterval = from.CheckpointInterval
		}
	})
}

// resolveJob builds the job configuration from the optional file and flags.
func resolveJob(fs *pflag.FlagSet, path string, flags config.Job) (config.Job, error) {
	cfg := config.Default()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return config.Job{}, err
		}
		cfg = loaded
	}
	applyJobFlags(fs, flags, &cfg)
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return config.Job{}, err
	}
	return cfg, nil
}

// openRunStore opens the checkpoint store of a foreground job. An empty
// dataDir disables persistence.
func openRunStore(backend, dataDir string) (store.Store, func(), error) {
	if dataDir == "" {
		return nil, func() {}, nil
	}
	st, err := store.Open(backend, dataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open checkpoint store: %w", err)
	}
	closeFn := func() {}
	if c, ok := st.(io.Closer); ok {
		closeFn = func() { c.Close() }
	}
	return st, closeFn, nil
}

func runOptimization(cmd *cobra.Command, args []string) error {
	cfg, err := resolveJob(cmd.Flags(), configPath, jobFlags)
	if err != nil {
		return err
	}

	st, closeStore, err := openRunStore(storeBackend, runDataDir)
	if err != nil {
		return err
	}
	defer closeStore()

	return executeJob(cmd, cfg, st, runDataDir, nil)
}

// executeJob runs cfg in the foreground until it ends or the process is
// interrupted, then reports the result.
func executeJob(cmd *cobra.Command, cfg config.Job, st store.Store, dataDir string, resume *server.Resume) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting optimization",
		"problem", cfg.Problem,
		"optimizer", cfg.Optimizer,
		"dim", cfg.Dim,
		"max_generations", cfg.MaxGenerations,
		"population_size", cfg.PopulationSize,
	)

	job, err := server.RunJob(ctx, cfg, st, dataDir, resume)
	if err != nil && job.State != server.StateCancelled {
		return err
	}

	printResult(cmd.OutOrStdout(), job, st != nil)

	if outPath != "" {
		if err := writeResult(outPath, job); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", outPath)
	}

	if job.State == server.StateCancelled {
		return errors.New("optimization interrupted")
	}
	return nil
}

func printResult(w io.Writer, job server.Job, persisted bool) {
	fmt.Fprintf(w, "Job %s %s after %s generations (%s)\n",
		job.ID, job.State, humanize.Comma(int64(job.Generation)), job.Elapsed().Round(time.Millisecond))
	fmt.Fprintf(w, "  Cost: %g -> %g\n", job.InitialCost, job.BestCost)
	if len(job.BestParams) > 0 {
		fmt.Fprintf(w, "  Params: %v\n", job.BestParams)
	}
	if persisted {
		fmt.Fprintf(w, "  Resume with: evosolve resume %s\n", job.ID)
	}
}

func writeResult(path string, job server.Job) error {
	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}
	return nil
}
