package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// jobsTotal counts finished jobs by optimizer and final state
	jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evosolve_jobs_total",
		Help: "Total finished jobs by optimizer and final state",
	}, []string{"optimizer", "state"})

	// jobsRunning tracks jobs currently executing
	jobsRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "evosolve_jobs_running",
		Help: "Number of jobs currently running",
	})

	// jobDuration tracks wall time per job
	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "evosolve_job_duration_seconds",
		Help:    "Job run time in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 10), // 10ms to ~43min
	}, []string{"optimizer"})

	// generationsTotal counts generations reported by all jobs
	generationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "evosolve_generations_total",
		Help: "Total generations evaluated across jobs",
	})

	// checkpointsTotal counts checkpoint writes by result
	checkpointsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evosolve_checkpoints_total",
		Help: "Total checkpoint writes by result",
	}, []string{"result"})
)
