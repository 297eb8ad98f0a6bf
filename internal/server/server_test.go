package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cwbudde/evosolve/internal/config"
	"github.com/cwbudde/evosolve/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func doRequest(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v))
	return v
}

func createJob(t *testing.T, h http.Handler, body map[string]any) Job {
	t.Helper()
	w := doRequest(t, h, http.MethodPost, "/api/v1/jobs", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[Job](t, w)
}

func smallJob() map[string]any {
	return map[string]any{
		"problem":        "sphere",
		"dim":            3,
		"populationSize": 64,
		"maxGenerations": 25,
		"seed":           3,
	}
}

func longJob() map[string]any {
	body := smallJob()
	body["maxGenerations"] = 100000000
	return body
}

func TestServer_CreateJobAndPollStatus(t *testing.T) {
	s := NewServer(":0", nil)
	h := s.Handler()

	job := createJob(t, h, smallJob())
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, StatePending, job.State)
	assert.Equal(t, "genetic", job.Config.Optimizer)
	assert.Equal(t, 50, job.Config.MutationRate)

	done := waitForState(t, s.jobManager, job.ID, StateCompleted)
	assert.Equal(t, 25, done.Generation)

	w := doRequest(t, h, http.MethodGet, "/api/v1/jobs/"+job.ID+"/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	status := decode[map[string]any](t, w)
	assert.Equal(t, job.ID, status["id"])
	assert.Equal(t, string(StateCompleted), status["state"])
	assert.Contains(t, status, "elapsed")
	assert.Len(t, status["bestParams"], 3)

	w = doRequest(t, h, http.MethodGet, "/api/v1/jobs/"+job.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_CreateJobDefaultsSeed(t *testing.T) {
	s := NewServer(":0", nil)
	h := s.Handler()

	body := smallJob()
	delete(body, "seed")
	job := createJob(t, h, body)
	assert.Equal(t, config.Default().Seed, job.Config.Seed)

	waitForState(t, s.jobManager, job.ID, StateCompleted)
}

func TestServer_CreateJobValidation(t *testing.T) {
	h := NewServer(":0", nil).Handler()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", strings.NewReader("{"))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(t, h, http.MethodPost, "/api/v1/jobs", map[string]any{"problem": "nope"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "nope")

	w = doRequest(t, h, http.MethodPost, "/api/v1/jobs", map[string]any{"optimizer": "pso"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(t, h, http.MethodPut, "/api/v1/jobs", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestServer_ListJobs(t *testing.T) {
	s := NewServer(":0", nil)
	h := s.Handler()

	first := createJob(t, h, smallJob())
	second := createJob(t, h, smallJob())
	waitForState(t, s.jobManager, first.ID, StateCompleted)
	waitForState(t, s.jobManager, second.ID, StateCompleted)

	w := doRequest(t, h, http.MethodGet, "/api/v1/jobs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	jobs := decode[[]Job](t, w)
	assert.Len(t, jobs, 2)
}

func TestServer_NotFound(t *testing.T) {
	h := NewServer(":0", nil).Handler()

	assert.Equal(t, http.StatusNotFound, doRequest(t, h, http.MethodGet, "/api/v1/jobs/nonexistent/status", nil).Code)
	assert.Equal(t, http.StatusNotFound, doRequest(t, h, http.MethodGet, "/api/v1/jobs/nonexistent/stream", nil).Code)
	assert.Equal(t, http.StatusNotFound, doRequest(t, h, http.MethodPost, "/api/v1/jobs/nonexistent/cancel", nil).Code)
	assert.Equal(t, http.StatusNotFound, doRequest(t, h, http.MethodGet, "/api/v1/jobs/x/unknown", nil).Code)
	assert.Equal(t, http.StatusNotFound, doRequest(t, h, http.MethodGet, "/api/v1/jobs/x/trace", nil).Code)
	assert.Equal(t, http.StatusBadRequest, doRequest(t, h, http.MethodGet, "/api/v1/jobs/", nil).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, doRequest(t, h, http.MethodGet, "/api/v1/jobs/x/cancel", nil).Code)
}

func TestServer_CancelJob(t *testing.T) {
	s := NewServer(":0", nil)
	h := s.Handler()

	job := createJob(t, h, longJob())
	waitForState(t, s.jobManager, job.ID, StateRunning)

	w := doRequest(t, h, http.MethodDelete, "/api/v1/jobs/"+job.ID+"/cancel", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)

	cancelled := waitForState(t, s.jobManager, job.ID, StateCancelled)
	assert.NotNil(t, cancelled.EndTime)

	w = doRequest(t, h, http.MethodPost, "/api/v1/jobs/"+job.ID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestServer_TraceAndCheckpoint(t *testing.T) {
	st, _ := newTestStore(t)
	s := NewServer(":0", st)
	h := s.Handler()

	job := createJob(t, h, smallJob())
	waitForState(t, s.jobManager, job.ID, StateCompleted)

	w := doRequest(t, h, http.MethodGet, "/api/v1/jobs/"+job.ID+"/trace", nil)
	require.Equal(t, http.StatusOK, w.Code)
	entries := decode[[]store.TraceEntry](t, w)
	require.Len(t, entries, 25)
	assert.Equal(t, 24, entries[24].Generation)

	cp, err := st.LoadCheckpoint(job.ID)
	require.NoError(t, err)
	assert.Equal(t, 25, cp.Generation)

	w = doRequest(t, h, http.MethodGet, "/api/v1/jobs/missing/trace", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_ResumeFromCheckpoint(t *testing.T) {
	st, _ := newTestStore(t)
	s := NewServer(":0", st)
	h := s.Handler()

	first := createJob(t, h, smallJob())
	original := waitForState(t, s.jobManager, first.ID, StateCompleted)

	w := doRequest(t, h, http.MethodPost, "/api/v1/jobs", map[string]any{"resumeFrom": first.ID, "dim": 4})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doRequest(t, h, http.MethodPost, "/api/v1/jobs", map[string]any{"resumeFrom": "missing"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	resumed := createJob(t, h, map[string]any{"resumeFrom": first.ID, "maxGenerations": 10, "populationSize": 64})
	assert.Equal(t, first.ID, resumed.ResumedFrom)
	assert.Equal(t, 3, resumed.Config.Dim)

	done := waitForState(t, s.jobManager, resumed.ID, StateCompleted)
	assert.Equal(t, 35, done.Generation)
	assert.LessOrEqual(t, done.BestCost, original.BestCost)
	assert.Equal(t, original.InitialCost, done.InitialCost)
}

func TestServer_ResumeRequiresStore(t *testing.T) {
	h := NewServer(":0", nil).Handler()
	w := doRequest(t, h, http.MethodPost, "/api/v1/jobs", map[string]any{"resumeFrom": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServer_ProblemsAndMetrics(t *testing.T) {
	h := NewServer(":0", nil).Handler()

	w := doRequest(t, h, http.MethodGet, "/api/v1/problems", nil)
	require.Equal(t, http.StatusOK, w.Code)
	lists := decode[map[string][]string](t, w)
	assert.Contains(t, lists["problems"], "rastrigin")
	assert.Equal(t, []string{"genetic", "mayfly"}, lists["optimizers"])

	w = doRequest(t, h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "evosolve_jobs_running")
}

func TestServer_CORSPreflight(t *testing.T) {
	h := NewServer(":0", nil).Handler()
	w := doRequest(t, h, http.MethodOptions, "/api/v1/jobs", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestServer_StreamOfFinishedJob(t *testing.T) {
	s := NewServer(":0", nil)
	h := s.Handler()

	job := createJob(t, h, smallJob())
	waitForState(t, s.jobManager, job.ID, StateCompleted)

	w := doRequest(t, h, http.MethodGet, "/api/v1/jobs/"+job.ID+"/stream", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	body := w.Body.String()
	require.True(t, strings.HasPrefix(body, "data: "), body)
	var event ProgressEvent
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(body, "data: "))), &event))
	assert.Equal(t, StateCompleted, event.State)
	assert.Equal(t, 25, event.Generation)
}

func TestServer_StreamEndsOnCancellation(t *testing.T) {
	s := NewServer(":0", nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	job := createJob(t, s.Handler(), longJob())
	waitForState(t, s.jobManager, job.ID, StateRunning)

	resp, err := http.Get(ts.URL + "/api/v1/jobs/" + job.ID + "/stream")
	require.NoError(t, err)
	defer resp.Body.Close()

	events := make(chan ProgressEvent, 64)
	go func() {
		defer close(events)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var e ProgressEvent
			if json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &e) == nil {
				events <- e
			}
		}
	}()

	first := <-events
	assert.Equal(t, job.ID, first.JobID)

	require.NoError(t, s.jobManager.CancelJob(job.ID))

	var last ProgressEvent
	timeout := time.After(30 * time.Second)
	for done := false; !done; {
		select {
		case e, ok := <-events:
			if !ok {
				done = true
				break
			}
			last = e
		case <-timeout:
			t.Fatal("stream did not end after cancellation")
		}
	}
	assert.Equal(t, StateCancelled, last.State)
}

func TestServer_ShutdownCancelsJobs(t *testing.T) {
	st, _ := newTestStore(t)
	s := NewServer(":0", st)
	job := createJob(t, s.Handler(), longJob())
	waitForState(t, s.jobManager, job.ID, StateRunning)
	require.Eventually(t, func() bool {
		j, _ := s.jobManager.GetJob(job.ID)
		return j.Generation > 0
	}, 30*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	done, _ := s.jobManager.GetJob(job.ID)
	assert.Equal(t, StateCancelled, done.State)

	cp, err := st.LoadCheckpoint(job.ID)
	require.NoError(t, err)
	assert.Len(t, cp.BestParams, 3)
}

func TestEventBroadcaster(t *testing.T) {
	eb := NewEventBroadcaster()

	ch := eb.Subscribe("job")
	eb.Broadcast(ProgressEvent{JobID: "job", Generation: 1})
	eb.Broadcast(ProgressEvent{JobID: "other", Generation: 9})

	select {
	case e := <-ch:
		assert.Equal(t, 1, e.Generation)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}

	late := eb.Subscribe("job")
	e := <-late
	assert.Equal(t, 1, e.Generation, "late subscribers get the last event")

	eb.Unsubscribe("job", late)
	_, ok := <-late
	assert.False(t, ok)

	eb.CleanupJob("job")
	_, ok = <-ch
	assert.False(t, ok)
	assert.NotPanics(t, func() { eb.Unsubscribe("job", ch) })
}

func TestEventBroadcaster_SlowClientDoesNotBlock(t *testing.T) {
	eb := NewEventBroadcaster()
	eb.Subscribe("job")

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			eb.Broadcast(ProgressEvent{JobID: "job", Generation: i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("broadcast blocked on a slow client")
	}
}
