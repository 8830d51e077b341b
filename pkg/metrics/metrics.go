// Package metrics exposes run counters in the Prometheus format. mastogone
// is a one-shot CLI, so metrics are written to a node_exporter textfile at
// the end of a run instead of being served.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"mastogone/pkg/purge"
	"mastogone/pkg/ratelimit"
	"mastogone/pkg/storage"
)

const namespace = "mastogone"

// Recorder collects counters for one process on its own registry
type Recorder struct {
	registry *prometheus.Registry

	postsTotal      *prometheus.CounterVec
	pausesTotal     *prometheus.CounterVec
	pauseSeconds    prometheus.Counter
	lastRunTime     prometheus.Gauge
	lastRunDuration prometheus.Gauge
	lastRunSuccess  prometheus.Gauge
}

// New creates a Recorder with all collectors registered
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		postsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "posts_total",
				Help:      "Posts considered, by outcome",
			},
			[]string{"outcome"},
		),
		pausesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cooldowns_total",
				Help:      "Deletion pauses, by reason",
			},
			[]string{"reason"},
		),
		pauseSeconds: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cooldown_seconds_total",
				Help:      "Time spent waiting in cooldowns",
			},
		),
		lastRunTime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_timestamp_seconds",
				Help:      "Unix time the last run finished",
			},
		),
		lastRunDuration: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_duration_seconds",
				Help:      "Wall time of the last run",
			},
		),
		lastRunSuccess: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_success",
				Help:      "1 if the last run completed without failures",
			},
		),
	}

	r.registry.MustRegister(
		r.postsTotal,
		r.pausesTotal,
		r.pauseSeconds,
		r.lastRunTime,
		r.lastRunDuration,
		r.lastRunSuccess,
	)

	// Outcomes are pre-created so a run with no deletions still reports zeros
	for _, o := range []purge.Outcome{purge.OutcomeSkipped, purge.OutcomePreviewed, purge.OutcomeDeleted, purge.OutcomeFailed} {
		r.postsTotal.WithLabelValues(string(o))
	}
	for _, reason := range []ratelimit.Reason{ratelimit.ReasonBatch, ratelimit.ReasonThrottled} {
		r.pausesTotal.WithLabelValues(string(reason))
	}

	return r
}

// Registry returns the underlying registry
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObservePost counts one orchestrator event
func (r *Recorder) ObservePost(e purge.Event) {
	r.postsTotal.WithLabelValues(string(e.Outcome)).Inc()
}

// ObservePause counts one scheduler cooldown
func (r *Recorder) ObservePause(e ratelimit.Event) {
	r.pausesTotal.WithLabelValues(string(e.Reason)).Inc()
	r.pauseSeconds.Add(e.Duration.Seconds())
}

// ObserveRun records the outcome of a finished run
func (r *Recorder) ObserveRun(s *purge.Summary, runErr error) {
	if s == nil {
		return
	}
	r.lastRunTime.Set(float64(s.FinishedAt.Unix()))
	r.lastRunDuration.Set(s.Duration().Seconds())
	if runErr == nil && !s.HasFailures() {
		r.lastRunSuccess.Set(1)
	} else {
		r.lastRunSuccess.Set(0)
	}
}

// WriteTextfile writes all metrics to path for the node_exporter textfile
// collector. The write is atomic so a scrape never sees a partial file.
func (r *Recorder) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), storage.PrivateDirMode); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
