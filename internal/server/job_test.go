package server

import (
	"context"
	"testing"
	"time"

	"github.com/cwbudde/evosolve/internal/config"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() config.Job {
	cfg := config.Default()
	cfg.Dim = 3
	cfg.PopulationSize = 64
	cfg.MaxGenerations = 30
	return cfg
}

func TestJobManager_CreateJob(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(testConfig(), nil)

	_, err := uuid.Parse(job.ID)
	assert.NoError(t, err)
	assert.Equal(t, StatePending, job.State)
	assert.Equal(t, "sphere", job.Config.Problem)
	assert.Empty(t, job.ResumedFrom)
	assert.False(t, job.StartTime.IsZero())
}

func TestJobManager_CreateResumedJob(t *testing.T) {
	jm := NewJobManager()
	params := []float64{1, 2, 3}
	job := jm.CreateJob(testConfig(), &Resume{
		JobID:       "old",
		Params:      params,
		Generation:  40,
		InitialCost: 99,
	})
	params[0] = 42

	assert.Equal(t, "old", job.ResumedFrom)
	assert.Equal(t, 99.0, job.InitialCost)
	assert.Equal(t, 40, job.Generation)
	assert.Equal(t, []float64{1, 2, 3}, job.BestParams)
}

func TestJobManager_GetJobReturnsCopy(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(testConfig(), nil)
	require.NoError(t, jm.UpdateJob(job.ID, func(j *Job) { j.BestParams = []float64{1, 2, 3} }))

	got, ok := jm.GetJob(job.ID)
	require.True(t, ok)
	got.BestParams[0] = 100
	got.State = StateFailed

	again, _ := jm.GetJob(job.ID)
	assert.Equal(t, []float64{1, 2, 3}, again.BestParams)
	assert.Equal(t, StatePending, again.State)

	_, ok = jm.GetJob("nonexistent")
	assert.False(t, ok)
}

func TestJobManager_ListJobs(t *testing.T) {
	jm := NewJobManager()
	assert.Empty(t, jm.ListJobs())

	first := jm.CreateJob(testConfig(), nil)
	second := jm.CreateJob(testConfig(), nil)
	require.NoError(t, jm.UpdateJob(first.ID, func(j *Job) { j.StartTime = time.Unix(100, 0) }))
	require.NoError(t, jm.UpdateJob(second.ID, func(j *Job) { j.StartTime = time.Unix(50, 0) }))

	jobs := jm.ListJobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, second.ID, jobs[0].ID)
	assert.Equal(t, first.ID, jobs[1].ID)
}

func TestJobManager_UpdateJobNotFound(t *testing.T) {
	jm := NewJobManager()
	err := jm.UpdateJob("missing", func(j *Job) {})
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestJobManager_GetRunningJobs(t *testing.T) {
	jm := NewJobManager()
	a := jm.CreateJob(testConfig(), nil)
	jm.CreateJob(testConfig(), nil)
	require.NoError(t, jm.UpdateJob(a.ID, func(j *Job) { j.State = StateRunning }))

	running := jm.GetRunningJobs()
	require.Len(t, running, 1)
	assert.Equal(t, a.ID, running[0].ID)
}

func TestJobManager_CancelJob(t *testing.T) {
	jm := NewJobManager()
	job, ctx := jm.StartJob(context.Background(), testConfig(), nil)

	require.NoError(t, jm.CancelJob(job.ID))
	assert.Error(t, ctx.Err())

	assert.ErrorIs(t, jm.CancelJob("missing"), ErrJobNotFound)

	require.NoError(t, jm.UpdateJob(job.ID, func(j *Job) { j.State = StateCompleted }))
	assert.ErrorIs(t, jm.CancelJob(job.ID), ErrJobFinished)
}

func TestJobManager_StartJobCancellableBeforeWorkerRuns(t *testing.T) {
	jm := NewJobManager()
	job, ctx := jm.StartJob(context.Background(), testConfig(), nil)

	require.NoError(t, jm.CancelJob(job.ID))
	require.ErrorIs(t, ctx.Err(), context.Canceled)

	err := runJob(ctx, jm, nil, "", job.ID)
	assert.ErrorIs(t, err, context.Canceled)

	final, ok := jm.GetJob(job.ID)
	require.True(t, ok)
	assert.Equal(t, StateCancelled, final.State)
	assert.Empty(t, jm.cancels)
}

func TestJobManager_CancelAllAndRelease(t *testing.T) {
	jm := NewJobManager()
	var ctxs []context.Context
	for i := 0; i < 3; i++ {
		_, ctx := jm.StartJob(context.Background(), testConfig(), nil)
		ctxs = append(ctxs, ctx)
	}

	jm.CancelAll()
	for _, ctx := range ctxs {
		assert.Error(t, ctx.Err())
	}

	for _, job := range jm.ListJobs() {
		jm.release(job.ID)
	}
	assert.Empty(t, jm.cancels)
}

func TestJobState_Terminal(t *testing.T) {
	assert.False(t, StatePending.Terminal())
	assert.False(t, StateRunning.Terminal())
	assert.True(t, StateCompleted.Terminal())
	assert.True(t, StateFailed.Terminal())
	assert.True(t, StateCancelled.Terminal())
}

func TestJob_Elapsed(t *testing.T) {
	start := time.Unix(1000, 0)
	end := start.Add(3 * time.Second)
	job := Job{StartTime: start, EndTime: &end}
	assert.Equal(t, 3*time.Second, job.Elapsed())
}
