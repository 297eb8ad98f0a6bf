package server

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cwbudde/evosolve/internal/config"
	"github.com/google/uuid"
)

// JobState represents the current state of a job
type JobState string

const (
	StatePending   JobState = "pending"
	StateRunning   JobState = "running"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
	StateCancelled JobState = "cancelled"
)

// Terminal reports whether a job in this state will not change anymore.
func (s JobState) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

var (
	// ErrJobNotFound is returned for unknown job IDs.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobFinished is returned when cancelling a job that already ended.
	ErrJobFinished = errors.New("job already finished")
)

// Job represents an optimization job
type Job struct {
	ID           string     `json:"id"`
	State        JobState   `json:"state"`
	Config       config.Job `json:"config"`
	BestParams   []float64  `json:"bestParams,omitempty"`
	BestCost     float64    `json:"bestCost"`
	InitialCost  float64    `json:"initialCost"`
	Generation   int        `json:"generation"`
	Unchanged    int        `json:"unchanged"`
	MutationRate int        `json:"mutationRate,omitempty"`
	ResumedFrom  string     `json:"resumedFrom,omitempty"`
	StartTime    time.Time  `json:"startTime"`
	EndTime      *time.Time `json:"endTime,omitempty"`
	Error        string     `json:"error,omitempty"`

	resume *Resume
}

// Resume describes the checkpoint a job continues from.
type Resume struct {
	JobID       string
	Params      []float64
	Generation  int
	InitialCost float64
}

// Elapsed returns the run time so far, or the total run time once finished.
func (j Job) Elapsed() time.Duration {
	if j.EndTime != nil {
		return j.EndTime.Sub(j.StartTime)
	}
	return time.Since(j.StartTime)
}

// JobManager manages the lifecycle of jobs
type JobManager struct {
	mu          sync.RWMutex
	jobs        map[string]*Job
	cancels     map[string]context.CancelFunc
	broadcaster *EventBroadcaster
}

// NewJobManager creates a new JobManager
func NewJobManager() *JobManager {
	return &JobManager{
		jobs:        make(map[string]*Job),
		cancels:     make(map[string]context.CancelFunc),
		broadcaster: NewEventBroadcaster(),
	}
}

// CreateJob registers a pending job with the given configuration. resume is
// nil for fresh jobs.
func (jm *JobManager) CreateJob(cfg config.Job, resume *Resume) Job {
	jm.mu.Lock()
	defer jm.mu.Unlock()
	return jm.addJob(cfg, resume).snapshot()
}

// StartJob registers a pending job together with the context its worker
// runs under. The job is cancellable as soon as it becomes visible.
func (jm *JobManager) StartJob(parent context.Context, cfg config.Job, resume *Resume) (Job, context.Context) {
	ctx, cancel := context.WithCancel(parent)

	jm.mu.Lock()
	defer jm.mu.Unlock()
	job := jm.addJob(cfg, resume)
	jm.cancels[job.ID] = cancel
	return job.snapshot(), ctx
}

// addJob must be called with jm.mu held.
func (jm *JobManager) addJob(cfg config.Job, resume *Resume) *Job {
	job := &Job{
		ID:        uuid.New().String(),
		State:     StatePending,
		Config:    cfg,
		StartTime: time.Now(),
	}
	if resume != nil {
		r := *resume
		r.Params = slices.Clone(resume.Params)
		job.resume = &r
		job.ResumedFrom = r.JobID
		job.InitialCost = r.InitialCost
		job.BestParams = slices.Clone(r.Params)
		job.Generation = r.Generation
	}

	jm.jobs[job.ID] = job
	return job
}

// GetJob returns a copy of the job with the given ID
func (jm *JobManager) GetJob(id string) (Job, bool) {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	job, exists := jm.jobs[id]
	if !exists {
		return Job{}, false
	}
	return job.snapshot(), true
}

// ListJobs returns copies of all jobs, oldest first
func (jm *JobManager) ListJobs() []Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	jobs := make([]Job, 0, len(jm.jobs))
	for _, job := range jm.jobs {
		jobs = append(jobs, job.snapshot())
	}
	slices.SortFunc(jobs, func(a, b Job) int {
		if c := a.StartTime.Compare(b.StartTime); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return jobs
}

// UpdateJob atomically updates a job using the provided function
func (jm *JobManager) UpdateJob(id string, updateFn func(*Job)) error {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job, exists := jm.jobs[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	updateFn(job)
	return nil
}

// GetRunningJobs returns copies of all jobs currently in the running state
func (jm *JobManager) GetRunningJobs() []Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	runningJobs := make([]Job, 0)
	for _, job := range jm.jobs {
		if job.State == StateRunning {
			runningJobs = append(runningJobs, job.snapshot())
		}
	}
	return runningJobs
}

// release forgets the cancel function of a finished job.
func (jm *JobManager) release(id string) {
	jm.mu.Lock()
	cancel, ok := jm.cancels[id]
	delete(jm.cancels, id)
	jm.mu.Unlock()

	if ok {
		cancel()
	}
	jm.broadcaster.CleanupJob(id)
}

// CancelJob asks a pending or running job to stop. The job reaches the
// cancelled state once its worker observes the cancellation.
func (jm *JobManager) CancelJob(id string) error {
	jm.mu.Lock()
	job, exists := jm.jobs[id]
	if !exists {
		jm.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if job.State.Terminal() {
		state := job.State
		jm.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrJobFinished, id, state)
	}
	cancel := jm.cancels[id]
	jm.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return nil
}

// CancelAll stops every job that is still running.
func (jm *JobManager) CancelAll() {
	jm.mu.RLock()
	cancels := make([]context.CancelFunc, 0, len(jm.cancels))
	for _, cancel := range jm.cancels {
		cancels = append(cancels, cancel)
	}
	jm.mu.RUnlock()

	for _, cancel := range cancels {
		cancel()
	}
}

func (j *Job) snapshot() Job {
	c := *j
	c.BestParams = slices.Clone(j.BestParams)
	if j.EndTime != nil {
		end := *j.EndTime
		c.EndTime = &end
	}
	return c
}
