package main

import (
	"fmt"

	"github.com/cwbudde/evosolve/internal/config"
	"github.com/cwbudde/evosolve/internal/server"
	"github.com/cwbudde/evosolve/internal/store"
	"github.com/spf13/cobra"
)

var (
	resumeDataDir string
	resumeBackend string
	resumeFlags   config.Job
)

var resumeCmd = &cobra.Command{
	Use:   "resume <job-id>",
	Short: "Continue a job from its checkpoint",
	Long: `Starts a new job seeded with the best parameters of a saved checkpoint.
The problem and dimension must match the checkpoint; tuning flags such as
--max-generations or --pop may differ. Generation numbers continue where the
checkpoint left off.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	resumeCmd.Flags().StringVar(&resumeDataDir, "data-dir", "./data", "Directory holding checkpoints and traces")
	resumeCmd.Flags().StringVar(&resumeBackend, "store", store.BackendFS, "Checkpoint store backend: fs, sqlite")
	resumeCmd.Flags().StringVar(&outPath, "out", "", "Write the result as JSON to this file")
	addJobFlags(resumeCmd.Flags(), &resumeFlags)

	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	jobID := args[0]

	st, closeStore, err := openRunStore(resumeBackend, resumeDataDir)
	if err != nil {
		return err
	}
	defer closeStore()

	cp, err := st.LoadCheckpoint(jobID)
	if err != nil {
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}

	cfg := cp.Config
	applyJobFlags(cmd.Flags(), resumeFlags, &cfg)
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cp.IsCompatible(cfg); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Resuming %s from generation %d (cost %g)\n", jobID, cp.Generation, cp.BestCost)

	return executeJob(cmd, cfg, st, resumeDataDir, &server.Resume{
		JobID:       cp.JobID,
		Params:      cp.BestParams,
		Generation:  cp.Generation,
		InitialCost: cp.InitialCost,
	})
}
