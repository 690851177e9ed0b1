package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every collector exported by the service.
const Namespace = "entitlements"

const (
	JobResultSuccess = "success"
	JobResultFailure = "failure"
)

// CronJobMetrics tracks scheduled job runs. The zero value and a nil
// pointer are both no-ops.
type CronJobMetrics struct {
	duration    *prometheus.HistogramVec
	runs        *prometheus.CounterVec
	lastSuccess *prometheus.GaugeVec
}

// NewCronJobMetrics registers the job collectors on reg. A nil reg yields a
// no-op recorder.
func NewCronJobMetrics(reg prometheus.Registerer) *CronJobMetrics {
	if reg == nil {
		return &CronJobMetrics{}
	}
	m := &CronJobMetrics{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "job_duration_seconds",
			Help:      "Wall time of scheduled job runs.",
			Buckets:   []float64{.05, .1, .5, 1, 5, 15, 60, 300},
		}, []string{"job"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "job_runs_total",
			Help:      "Scheduled job runs by result.",
		}, []string{"job", "result"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "job_last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run.",
		}, []string{"job"}),
	}
	reg.MustRegister(m.duration, m.runs, m.lastSuccess)
	return m
}

// Observe records one finished run of job.
func (c *CronJobMetrics) Observe(job string, elapsed time.Duration, runErr error) {
	if c == nil || c.runs == nil {
		return
	}
	job = normalizeLabel(job)
	c.duration.WithLabelValues(job).Observe(elapsed.Seconds())
	if runErr != nil {
		c.runs.WithLabelValues(job, JobResultFailure).Inc()
		return
	}
	c.runs.WithLabelValues(job, JobResultSuccess).Inc()
	c.lastSuccess.WithLabelValues(job).SetToCurrentTime()
}

// normalizeLabel keeps empty label values from producing a blank series.
func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
