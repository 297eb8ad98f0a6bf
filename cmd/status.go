package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/cwbudde/evosolve/internal/server"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	serverURL string
)

var statusCmd = &cobra.Command{
	Use:   "status [job-id]",
	Short: "Query server status or specific job",
	Long: `Queries the server for job status information.
If no job-id is provided, lists all jobs.
If job-id is provided, shows detailed status for that job.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
	rootCmd.AddCommand(statusCmd)
}

// jobStatus mirrors the status endpoint response.
type jobStatus struct {
	server.Job
	ElapsedSeconds float64 `json:"elapsed"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	base := strings.TrimSuffix(serverURL, "/")
	if len(args) == 0 {
		return listJobs(cmd.OutOrStdout(), base+"/api/v1/jobs")
	}
	jobID := args[0]
	return getJobStatus(cmd.OutOrStdout(), fmt.Sprintf("%s/api/v1/jobs/%s/status", base, jobID), jobID)
}

func getJSON(url string, v any) (int, error) {
	resp, err := http.Get(url)
	if err != nil {
		return 0, fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, fmt.Errorf("server returned error: %s", strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
	}
	return resp.StatusCode, nil
}

func listJobs(out io.Writer, url string) error {
	var jobs []server.Job
	if _, err := getJSON(url, &jobs); err != nil {
		return err
	}

	if len(jobs) == 0 {
		fmt.Fprintln(out, "No jobs found")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "JOB ID\tSTATE\tPROBLEM\tOPTIMIZER\tGENERATION\tBEST COST\tSTARTED")
	for _, job := range jobs {
		fmt.Fprintf(w, "%s\t%s\t%s/%d\t%s\t%s\t%g\t%s\n",
			job.ID,
			job.State,
			job.Config.Problem,
			job.Config.Dim,
			job.Config.Optimizer,
			humanize.Comma(int64(job.Generation)),
			job.BestCost,
			humanize.Time(job.StartTime),
		)
	}
	w.Flush()

	fmt.Fprintf(out, "\n%d job(s)\n", len(jobs))
	return nil
}

func getJobStatus(out io.Writer, url, jobID string) error {
	var status jobStatus
	code, err := getJSON(url, &status)
	if code == http.StatusNotFound {
		return fmt.Errorf("job not found: %s", jobID)
	}
	if err != nil {
		return err
	}

	cfg := status.Config
	fmt.Fprintf(out, "Job: %s\n", status.ID)
	fmt.Fprintf(out, "State: %s\n", status.State)
	if status.ResumedFrom != "" {
		fmt.Fprintf(out, "Resumed from: %s\n", status.ResumedFrom)
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Configuration:")
	fmt.Fprintf(out, "  Problem: %s (dim %d)\n", cfg.Problem, cfg.Dim)
	fmt.Fprintf(out, "  Optimizer: %s\n", cfg.Optimizer)
	fmt.Fprintf(out, "  Population: %s\n", humanize.Comma(int64(cfg.PopulationSize)))
	if cfg.MaxGenerations > 0 {
		fmt.Fprintf(out, "  Max generations: %s\n", humanize.Comma(int64(cfg.MaxGenerations)))
	}
	if cfg.TargetCost > 0 {
		fmt.Fprintf(out, "  Target cost: %g\n", cfg.TargetCost)
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Progress:")
	fmt.Fprintf(out, "  Generation: %s (unchanged for %d)\n", humanize.Comma(int64(status.Generation)), status.Unchanged)
	if status.MutationRate > 0 {
		fmt.Fprintf(out, "  Mutation rate: %d\n", status.MutationRate)
	}
	fmt.Fprintf(out, "  Initial cost: %g\n", status.InitialCost)
	fmt.Fprintf(out, "  Best cost: %g\n", status.BestCost)
	if status.InitialCost > 0 {
		improvement := status.InitialCost - status.BestCost
		fmt.Fprintf(out, "  Improvement: %g (%.1f%%)\n", improvement, improvement/status.InitialCost*100)
	}
	elapsed := time.Duration(status.ElapsedSeconds * float64(time.Second))
	fmt.Fprintf(out, "  Elapsed: %s\n", elapsed.Round(time.Millisecond))

	if status.Error != "" {
		fmt.Fprintf(out, "\nError: %s\n", status.Error)
	}
	return nil
}
