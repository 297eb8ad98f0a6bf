package main

import (
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/cwbudde/evosolve/internal/store"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	checkpointDataDir string
	checkpointBackend string
	keepLast          int
	olderThanDays     int
	forceClean        bool
)

var checkpointsCmd = &cobra.Command{
	Use:   "checkpoints",
	Short: "Manage optimization checkpoints",
	Long: `Manage optimization checkpoints including listing and cleaning old checkpoints.
Checkpoints allow resuming long-running optimizations from saved state.`,
}

var listCheckpointsCmd = &cobra.Command{
	Use:   "list",
	Short: "List all available checkpoints",
	Long:  `Display all checkpoints with metadata including job ID, age, generation, cost, and disk usage.`,
	RunE:  runListCheckpoints,
}

var showCheckpointCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show one checkpoint in detail",
	Args:  cobra.ExactArgs(1),
	RunE:  runShowCheckpoint,
}

var cleanCheckpointsCmd = &cobra.Command{
	Use:   "clean",
	Short: "Clean old checkpoints",
	Long: `Delete old checkpoints based on retention policy.
You can keep only the N most recent checkpoints or delete checkpoints older than N days.`,
	RunE: runCleanCheckpoints,
}

func init() {
	rootCmd.AddCommand(checkpointsCmd)

	checkpointsCmd.AddCommand(listCheckpointsCmd)
	checkpointsCmd.AddCommand(showCheckpointCmd)
	checkpointsCmd.AddCommand(cleanCheckpointsCmd)

	checkpointsCmd.PersistentFlags().StringVar(&checkpointDataDir, "data-dir", "./data", "Base directory for checkpoint storage")
	checkpointsCmd.PersistentFlags().StringVar(&checkpointBackend, "store", store.BackendFS, "Checkpoint store backend: fs, sqlite")

	cleanCheckpointsCmd.Flags().IntVar(&keepLast, "keep-last", 0, "Keep only the N most recent checkpoints (0 = keep all)")
	cleanCheckpointsCmd.Flags().IntVar(&olderThanDays, "older-than", 0, "Delete checkpoints older than N days (0 = no age limit)")
	cleanCheckpointsCmd.Flags().BoolVarP(&forceClean, "force", "f", false, "Skip confirmation prompt")
}

func openCheckpointStore() (store.Store, func(), error) {
	return openRunStore(checkpointBackend, checkpointDataDir)
}

func commandOutput(cmd *cobra.Command) io.Writer {
	if cmd == nil {
		return os.Stdout
	}
	return cmd.OutOrStdout()
}

func runListCheckpoints(cmd *cobra.Command, args []string) error {
	out := commandOutput(cmd)

	checkpointStore, closeStore, err := openCheckpointStore()
	if err != nil {
		return err
	}
	defer closeStore()

	infos, err := checkpointStore.ListCheckpoints()
	if err != nil {
		return fmt.Errorf("failed to list checkpoints: %w", err)
	}

	if len(infos) == 0 {
		fmt.Fprintln(out, "No checkpoints found.")
		return nil
	}

	slices.SortFunc(infos, func(a, b store.CheckpointInfo) int {
		return b.Timestamp.Compare(a.Timestamp)
	})

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "JOB ID\tAGE\tPROBLEM\tOPTIMIZER\tGENERATION\tBEST COST\tSIZE")
	fmt.Fprintln(w, "------\t---\t-------\t---------\t----------\t---------\t----")

	for _, info := range infos {
		sizeStr := "unknown"
		if size, err := getDirSize(filepath.Join(checkpointDataDir, "jobs", info.JobID)); err == nil {
			sizeStr = humanize.IBytes(uint64(size))
		}

		fmt.Fprintf(w, "%s\t%s\t%s/%d\t%s\t%s\t%g\t%s\n",
			shortID(info.JobID),
			humanize.Time(info.Timestamp),
			info.Problem,
			info.Dim,
			info.Optimizer,
			humanize.Comma(int64(info.Generation)),
			info.BestCost,
			sizeStr,
		)
	}

	w.Flush()

	fmt.Fprintf(out, "\nTotal checkpoints: %d\n", len(infos))
	return nil
}

func runShowCheckpoint(cmd *cobra.Command, args []string) error {
	out := commandOutput(cmd)

	checkpointStore, closeStore, err := openCheckpointStore()
	if err != nil {
		return err
	}
	defer closeStore()

	cp, err := checkpointStore.LoadCheckpoint(args[0])
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Job: %s\n", cp.JobID)
	fmt.Fprintf(out, "Saved: %s (%s)\n", cp.Timestamp.Format(time.RFC3339), humanize.Time(cp.Timestamp))
	fmt.Fprintf(out, "Problem: %s (dim %d)\n", cp.Config.Problem, cp.Config.Dim)
	fmt.Fprintf(out, "Optimizer: %s (population %s, seed %d)\n",
		cp.Config.Optimizer, humanize.Comma(int64(cp.Config.PopulationSize)), cp.Config.Seed)
	fmt.Fprintf(out, "Generation: %s\n", humanize.Comma(int64(cp.Generation)))
	fmt.Fprintf(out, "Cost: %g -> %g\n", cp.InitialCost, cp.BestCost)
	fmt.Fprintf(out, "Params: %v\n", cp.BestParams)

	if entries, err := store.ReadTrace(checkpointDataDir, cp.JobID); err == nil {
		fmt.Fprintf(out, "Trace: %s entries\n", humanize.Comma(int64(len(entries))))
	}
	return nil
}

func runCleanCheckpoints(cmd *cobra.Command, args []string) error {
	out := commandOutput(cmd)

	if keepLast == 0 && olderThanDays == 0 {
		return fmt.Errorf("must specify either --keep-last or --older-than")
	}

	checkpointStore, closeStore, err := openCheckpointStore()
	if err != nil {
		return err
	}
	defer closeStore()

	infos, err := checkpointStore.ListCheckpoints()
	if err != nil {
		return fmt.Errorf("failed to list checkpoints: %w", err)
	}

	if len(infos) == 0 {
		fmt.Fprintln(out, "No checkpoints to clean.")
		return nil
	}

	toDelete := selectCheckpointsForDeletion(infos, keepLast, olderThanDays, time.Now())

	if len(toDelete) == 0 {
		fmt.Fprintln(out, "No checkpoints match deletion criteria.")
		return nil
	}

	fmt.Fprintf(out, "Found %d checkpoint(s) to delete:\n", len(toDelete))
	for _, info := range toDelete {
		fmt.Fprintf(out, "  - %s (generation %d, %s)\n",
			shortID(info.JobID),
			info.Generation,
			humanize.Time(info.Timestamp),
		)
	}

	if !forceClean {
		fmt.Fprint(out, "\nProceed with deletion? [y/N]: ")
		var response string
		fmt.Scanln(&response)
		if response != "y" && response != "Y" {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	deleted := 0
	failed := 0
	for _, info := range toDelete {
		if err := checkpointStore.DeleteCheckpoint(info.JobID); err != nil {
			slog.Error("Failed to delete checkpoint", "job_id", info.JobID, "error", err)
			failed++
		} else {
			slog.Info("Deleted checkpoint", "job_id", info.JobID)
			deleted++
		}
	}

	fmt.Fprintf(out, "\nDeleted %d checkpoint(s), %d failed.\n", deleted, failed)
	return nil
}

// selectCheckpointsForDeletion applies the retention policy: checkpoints
// older than olderThanDays go, and of the rest only the keepLast most recent
// stay. A zero value disables the respective rule. The result is oldest first.
func selectCheckpointsForDeletion(infos []store.CheckpointInfo, keepLast int, olderThanDays int, now time.Time) []store.CheckpointInfo {
	sorted := slices.Clone(infos)
	slices.SortStableFunc(sorted, func(a, b store.CheckpointInfo) int {
		return a.Timestamp.Compare(b.Timestamp)
	})

	doomed := make(map[string]bool)
	if olderThanDays > 0 {
		cutoff := now.AddDate(0, 0, -olderThanDays)
		for _, info := range sorted {
			if info.Timestamp.Before(cutoff) {
				doomed[info.JobID] = true
			}
		}
	}
	if keepLast > 0 && len(sorted) > keepLast {
		for _, info := range sorted[:len(sorted)-keepLast] {
			doomed[info.JobID] = true
		}
	}

	var toDelete []store.CheckpointInfo
	for _, info := range sorted {
		if doomed[info.JobID] {
			toDelete = append(toDelete, info)
		}
	}
	return toDelete
}

// getDirSize calculates the total size of a directory
func getDirSize(path string) (int64, error) {
	var size int64
	err := filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		size += info.Size()
		return nil
	})
	return size, err
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12] + "..."
	}
	return id
}
