// Package metrics holds Prometheus collectors of the pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "knitpipe"

var (
	tasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tasks_total",
		Help:      "Tasks run by workers, by task name and outcome (done, retried).",
	}, []string{"name", "outcome"})

	taskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "task_duration_seconds",
		Help:      "Time taken by a task.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
	}, []string{"name"})

	entriesAdmitted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "entries_admitted_total",
		Help:      "Entries sampled into monitors.",
	})

	entriesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "entries_dropped_total",
		Help:      "Sampled records dropped as invalid rows.",
	})

	entriesForwarded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "entries_forwarded_total",
		Help:      "Entries copied to downstream channels.",
	})

	completions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "llm_completions_total",
		Help:      "Model calls, by purpose (relabel, testset) and result (ok, cached, rate_limited, error).",
	}, []string{"purpose", "result"})
)

func TaskDone(name string, elapsed time.Duration) {
	tasksTotal.WithLabelValues(name, "done").Inc()
	taskDuration.WithLabelValues(name).Observe(elapsed.Seconds())
}

func TaskRetried(name string, elapsed time.Duration) {
	tasksTotal.WithLabelValues(name, "retried").Inc()
	taskDuration.WithLabelValues(name).Observe(elapsed.Seconds())
}

func Admitted(n int) {
	entriesAdmitted.Add(float64(n))
}

func Dropped(n int) {
	entriesDropped.Add(float64(n))
}

func Forwarded(n int) {
	entriesForwarded.Add(float64(n))
}

type Purpose string

const (
	Relabel Purpose = "relabel"
	TestSet Purpose = "testset"
)

type Result string

const (
	OK          Result = "ok"
	Cached      Result = "cached"
	RateLimited Result = "rate_limited"
	Failed      Result = "error"
)

func Completion(p Purpose, r Result) {
	completions.WithLabelValues(string(p), string(r)).Inc()
}
