package server

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/cwbudde/evosolve/internal/config"
	"github.com/cwbudde/evosolve/internal/opt"
	"github.com/cwbudde/evosolve/internal/problem"
	"github.com/cwbudde/evosolve/internal/store"
)

// broadcastInterval throttles SSE progress events per job.
const broadcastInterval = 250 * time.Millisecond

// jobRun carries the per-generation bookkeeping of one running job.
type jobRun struct {
	jm     *JobManager
	store  store.Store
	trace  *store.TraceWriter
	jobID  string
	config config.Job
	offset int // generations completed before a resume

	checkpointEvery time.Duration
	lastCheckpoint  time.Time
	lastBroadcast   time.Time

	initialKnown bool
	reported     int
	best         []float64
	bestCost     float64
	generation   int
	traceFailed  bool
}

// runJob executes an optimization job. Progress updates the job, the trace
// and the SSE subscribers; checkpoints are written to checkpointStore every
// CheckpointInterval seconds, when the job is cancelled and when it ends.
// traceDir may be empty to disable tracing.
func runJob(ctx context.Context, jm *JobManager, checkpointStore store.Store, traceDir string, jobID string) error {
	defer jm.release(jobID)

	job, exists := jm.GetJob(jobID)
	if !exists {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	cfg := job.Config
	start := time.Now()

	p, err := problem.Get(cfg.Problem)
	if err != nil {
		markJobFailed(jm, cfg, jobID, start, err)
		return err
	}
	lower, upper := p.Bounds(cfg.Dim)

	run := &jobRun{
		jm:              jm,
		store:           checkpointStore,
		jobID:           jobID,
		config:          cfg,
		checkpointEvery: time.Duration(cfg.CheckpointInterval) * time.Second,
		lastCheckpoint:  start,
	}

	settings := cfg.Settings()
	if job.resume != nil {
		run.offset = job.resume.Generation
		run.initialKnown = true
		settings.Initial = job.resume.Params
	}
	settings.Progress = run.onProgress

	optimizer, err := opt.New(cfg.Optimizer, settings)
	if err != nil {
		markJobFailed(jm, cfg, jobID, start, err)
		return err
	}

	if traceDir != "" {
		run.trace, err = store.NewTraceWriter(traceDir, jobID, false)
		if err != nil {
			slog.Warn("Tracing disabled", "job_id", jobID, "error", err)
		} else {
			defer run.trace.Close()
		}
	}

	if err := context.Cause(ctx); err != nil {
		markJobCancelled(jm, cfg, jobID, start)
		return err
	}

	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateRunning
		j.StartTime = start
	})
	jobsRunning.Inc()
	defer jobsRunning.Dec()

	slog.Info("Starting job",
		"job_id", jobID,
		"problem", cfg.Problem,
		"optimizer", cfg.Optimizer,
		"dim", cfg.Dim,
		"resumed_from", job.ResumedFrom,
	)
	if job, ok := jm.GetJob(jobID); ok {
		jm.broadcaster.Broadcast(eventFromJob(job))
	}

	sol, err := optimizer.Run(ctx, p.Eval, lower, upper)
	if err != nil {
		if ctx.Err() != nil {
			if len(run.best) > 0 {
				best := slices.Clone(run.best)
				jm.UpdateJob(jobID, func(j *Job) { j.BestParams = best })
				run.saveCheckpoint(best, run.bestCost, run.generation)
			}
			markJobCancelled(jm, cfg, jobID, start)
			return err
		}
		markJobFailed(jm, cfg, jobID, start, err)
		return err
	}

	run.finish(p, sol, lower, upper)
	if run.store != nil {
		run.saveCheckpoint(sol.Params, sol.Cost, run.offset+sol.Iterations)
	}

	endTime := time.Now()
	elapsed := endTime.Sub(start)
	var final Job
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCompleted
		j.BestParams = sol.Params
		j.BestCost = sol.Cost
		j.Generation = run.offset + sol.Iterations
		j.EndTime = &endTime
		final = j.snapshot()
	})

	jobsTotal.WithLabelValues(cfg.Optimizer, string(StateCompleted)).Inc()
	jobDuration.WithLabelValues(cfg.Optimizer).Observe(elapsed.Seconds())

	slog.Info("Job completed",
		"job_id", jobID,
		"elapsed", elapsed,
		"initial_cost", final.InitialCost,
		"best_cost", sol.Cost,
		"generations", final.Generation,
	)

	jm.broadcaster.Broadcast(eventFromJob(final))
	return nil
}

// onProgress is called by the optimizer once per generation, on the
// goroutine running the search.
func (r *jobRun) onProgress(p opt.Progress) bool {
	now := time.Now()
	generation := r.offset + p.Iteration

	r.reported++
	r.best = append(r.best[:0], p.Best...)
	r.bestCost = p.BestCost
	r.generation = generation
	generationsTotal.Inc()

	var snapshot Job
	r.jm.UpdateJob(r.jobID, func(j *Job) {
		if !r.initialKnown {
			j.InitialCost = p.BestCost
		}
		j.BestCost = p.BestCost
		j.Generation = generation
		j.Unchanged = p.Unchanged
		j.MutationRate = p.Rate
		snapshot = j.snapshot()
	})
	r.initialKnown = true

	r.writeTrace(store.TraceEntry{
		Generation:   generation,
		Cost:         p.BestCost,
		Unchanged:    p.Unchanged,
		MutationRate: p.Rate,
		Timestamp:    now,
	})

	if now.Sub(r.lastBroadcast) >= broadcastInterval {
		r.lastBroadcast = now
		r.jm.broadcaster.Broadcast(eventFromJob(snapshot))
	}

	if r.store != nil && r.checkpointEvery > 0 && len(r.best) > 0 && now.Sub(r.lastCheckpoint) >= r.checkpointEvery {
		r.lastCheckpoint = now
		r.saveCheckpoint(r.best, p.BestCost, generation)
	}
	return false
}

// finish records what optimizers without progress reporting never did: the
// initial cost and a single trace entry for the final result.
func (r *jobRun) finish(p problem.Problem, sol *opt.Solution, lower, upper []float64) {
	if !r.initialKnown {
		center := make([]float64, len(lower))
		for i := range center {
			center[i] = (lower[i] + upper[i]) / 2
		}
		initial := p.Eval(center)
		r.jm.UpdateJob(r.jobID, func(j *Job) { j.InitialCost = initial })
		r.initialKnown = true
	}
	if r.reported == 0 {
		r.writeTrace(store.TraceEntry{
			Generation: r.offset + sol.Iterations,
			Cost:       sol.Cost,
			Timestamp:  time.Now(),
		})
	}
}

func (r *jobRun) writeTrace(entry store.TraceEntry) {
	if r.trace == nil || r.traceFailed {
		return
	}
	if err := r.trace.Write(entry); err != nil {
		r.traceFailed = true
		slog.Warn("Failed to write trace, tracing stopped", "job_id", r.jobID, "error", err)
	}
}

// saveCheckpoint persists the job's best solution. Failures are logged; the
// job keeps running.
func (r *jobRun) saveCheckpoint(params []float64, cost float64, generation int) {
	if r.store == nil {
		return
	}

	job, _ := r.jm.GetJob(r.jobID)
	cp := store.NewCheckpoint(r.jobID, slices.Clone(params), cost, job.InitialCost, generation, r.config)
	if err := r.store.SaveCheckpoint(r.jobID, cp); err != nil {
		checkpointsTotal.WithLabelValues("error").Inc()
		slog.Error("Failed to save checkpoint", "job_id", r.jobID, "error", err)
		return
	}
	checkpointsTotal.WithLabelValues("ok").Inc()

	if r.trace != nil {
		if err := r.trace.Flush(); err != nil {
			slog.Warn("Failed to flush trace", "job_id", r.jobID, "error", err)
		}
	}

	slog.Info("Checkpoint saved",
		"job_id", r.jobID,
		"generation", generation,
		"best_cost", cost,
	)
}

// markJobFailed marks a job as failed with an error message
func markJobFailed(jm *JobManager, cfg config.Job, jobID string, start time.Time, err error) {
	finishJob(jm, cfg, jobID, start, func(j *Job) {
		j.State = StateFailed
		j.Error = err.Error()
	})
	slog.Error("Job failed", "job_id", jobID, "error", err)
}

// markJobCancelled marks a job as cancelled
func markJobCancelled(jm *JobManager, cfg config.Job, jobID string, start time.Time) {
	finishJob(jm, cfg, jobID, start, func(j *Job) {
		j.State = StateCancelled
	})
	slog.Info("Job cancelled", "job_id", jobID)
}

func finishJob(jm *JobManager, cfg config.Job, jobID string, start time.Time, update func(*Job)) {
	endTime := time.Now()
	var final Job
	jm.UpdateJob(jobID, func(j *Job) {
		update(j)
		j.EndTime = &endTime
		final = j.snapshot()
	})

	jobsTotal.WithLabelValues(cfg.Optimizer, string(final.State)).Inc()
	jobDuration.WithLabelValues(cfg.Optimizer).Observe(endTime.Sub(start).Seconds())
	jm.broadcaster.Broadcast(eventFromJob(final))
}

// RunJob runs a single job to completion on the calling goroutine, without
// the HTTP server. It returns the final state of the job, which is also
// meaningful when the job failed or was cancelled.
func RunJob(ctx context.Context, cfg config.Job, checkpointStore store.Store, traceDir string, resume *Resume) (Job, error) {
	jm := NewJobManager()
	job := jm.CreateJob(cfg, resume)
	err := runJob(ctx, jm, checkpointStore, traceDir, job.ID)
	final, _ := jm.GetJob(job.ID)
	return final, err
}
