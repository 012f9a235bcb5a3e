package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Submission outcomes
const (
	OutcomeAccepted  = "accepted"
	OutcomeRejected  = "rejected"   // relayer answered non-200
	OutcomeFailed    = "failed"     // transport error or timeout
	OutcomeMalformed = "malformed"  // 200 with an unreadable body
	OutcomeReadError = "read_error" // payload could not be read or produced
)

// Metrics owns every collector of a run and the registry they live in.
// Methods are safe on a nil receiver so components can run without metrics.
type Metrics struct {
	Registry *prometheus.Registry

	SubmissionsTotal *prometheus.CounterVec
	SubmitDuration   prometheus.Histogram
	CollectorBacklog prometheus.Gauge
	RecordsWritten   prometheus.Counter
	MirrorFailures   *prometheus.CounterVec
	JobElapsed       prometheus.Histogram
	JobStatesTotal   *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		SubmissionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relayload_submissions_total",
				Help: "Total number of submission attempts by outcome.",
			},
			[]string{"outcome"},
		),
		SubmitDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "relayload_submit_duration_seconds",
				Help:    "Round trip time of POST /transaction.",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
		),
		CollectorBacklog: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "relayload_collector_backlog",
				Help: "Records waiting in the collector channel.",
			},
		),
		RecordsWritten: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "relayload_records_written_total",
				Help: "Total number of submission records appended to the result log.",
			},
		),
		MirrorFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relayload_mirror_failures_total",
				Help: "Records a mirror sink failed to persist, by sink.",
			},
			[]string{"sink"},
		),
		JobElapsed: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "relayload_job_elapsed_seconds",
				Help:    "Relayer job latency from submission to completion.",
				Buckets: prometheus.ExponentialBuckets(0.25, 2, 12), // 0.25s .. ~8.5m
			},
		),
		JobStatesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relayload_job_states_total",
				Help: "Polled jobs by reported state.",
			},
			[]string{"state"},
		),
	}
	m.Registry.MustRegister(
		m.SubmissionsTotal,
		m.SubmitDuration,
		m.CollectorBacklog,
		m.RecordsWritten,
		m.MirrorFailures,
		m.JobElapsed,
		m.JobStatesTotal,
	)
	return m
}

// ViewerCollectors are the collectors the viewer pushes to the gateway
func (m *Metrics) ViewerCollectors() []prometheus.Collector {
	return []prometheus.Collector{m.JobElapsed, m.JobStatesTotal}
}

func (m *Metrics) RecordSubmission(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.SubmissionsTotal.WithLabelValues(outcome).Inc()
	if d > 0 {
		m.SubmitDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) SetBacklog(n int) {
	if m == nil {
		return
	}
	m.CollectorBacklog.Set(float64(n))
}

func (m *Metrics) RecordWritten() {
	if m == nil {
		return
	}
	m.RecordsWritten.Inc()
}

func (m *Metrics) RecordMirrorFailure(sink string) {
	if m == nil {
		return
	}
	m.MirrorFailures.WithLabelValues(sink).Inc()
}

func (m *Metrics) ObserveElapsed(seconds float64) {
	if m == nil {
		return
	}
	m.JobElapsed.Observe(seconds)
}

func (m *Metrics) RecordJobState(state string) {
	if m == nil {
		return
	}
	if state == "" {
		state = "unknown"
	}
	m.JobStatesTotal.WithLabelValues(state).Inc()
}
