package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	sessionStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nvrd",
			Subsystem: "session",
			Name:      "starts_total",
			Help:      "Number of successful capture session starts.",
		}, []string{"name"},
	)
	sessionStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nvrd",
			Subsystem: "session",
			Name:      "stops_total",
			Help:      "Number of capture session stops.",
		}, []string{"name"},
	)
	sessionLaunchFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nvrd",
			Subsystem: "session",
			Name:      "launch_failures_total",
			Help:      "Number of capture subprocess launch failures.",
		}, []string{"name"},
	)
	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "nvrd",
			Subsystem: "session",
			Name:      "active",
			Help:      "Current number of live capture sessions.",
		},
	)
	snapshots = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nvrd",
			Subsystem: "snapshot",
			Name:      "total",
			Help:      "Number of snapshot attempts by outcome.",
		}, []string{"name", "outcome"},
	)
	sweepRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "nvrd",
			Subsystem: "sweep",
			Name:      "runs_total",
			Help:      "Number of sweep cycles by outcome (ran, lock_held).",
		}, []string{"outcome"},
	)
	sweepMoved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "nvrd",
			Subsystem: "sweep",
			Name:      "files_moved_total",
			Help:      "Number of files successfully moved to remote storage.",
		},
	)
	sweepFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "nvrd",
			Subsystem: "sweep",
			Name:      "transfer_failures_total",
			Help:      "Number of per-file transfer failures (retried next cycle).",
		},
	)
	sweepSkippedOpen = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "nvrd",
			Subsystem: "sweep",
			Name:      "skipped_open_total",
			Help:      "Number of files skipped because they were still open for writing.",
		},
	)
	sweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "nvrd",
			Subsystem: "sweep",
			Name:      "duration_seconds",
			Help:      "Duration of completed sweep cycles.",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		sessionStarts, sessionStops, sessionLaunchFailures, activeSessions,
		snapshots, sweepRuns, sweepMoved, sweepFailed, sweepSkippedOpen, sweepDuration,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Lightweight helpers used by internal packages. They no-op until Register is called.

func IncSessionStart(name string) {
	if regOK.Load() {
		sessionStarts.WithLabelValues(name).Inc()
	}
}
func IncSessionStop(name string) {
	if regOK.Load() {
		sessionStops.WithLabelValues(name).Inc()
	}
}
func IncLaunchFailure(name string) {
	if regOK.Load() {
		sessionLaunchFailures.WithLabelValues(name).Inc()
	}
}
func SetActiveSessions(n int) {
	if regOK.Load() {
		activeSessions.Set(float64(n))
	}
}
func IncSnapshot(name, outcome string) {
	if regOK.Load() {
		snapshots.WithLabelValues(name, outcome).Inc()
	}
}
func IncSweepRun(outcome string) {
	if regOK.Load() {
		sweepRuns.WithLabelValues(outcome).Inc()
	}
}
func AddSweepMoved(n int) {
	if regOK.Load() {
		sweepMoved.Add(float64(n))
	}
}
func AddSweepFailed(n int) {
	if regOK.Load() {
		sweepFailed.Add(float64(n))
	}
}
func AddSweepSkippedOpen(n int) {
	if regOK.Load() {
		sweepSkippedOpen.Add(float64(n))
	}
}
func ObserveSweepDuration(seconds float64) {
	if regOK.Load() {
		sweepDuration.Observe(seconds)
	}
}
