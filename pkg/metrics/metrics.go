// Package metrics holds the Prometheus instrumentation for the monitoring
// pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors the pipeline reports into.
// A nil *Metrics is valid and drops every observation, so packages under
// test never need a registry.
type Metrics struct {
	// Collection pipeline
	CollectionRuns *prometheus.CounterVec
	ActorScans     *prometheus.CounterVec
	IntelEvents    *prometheus.CounterVec
	Alerts         *prometheus.CounterVec

	// Outbound feed traffic
	FeedRequests *prometheus.CounterVec

	// Catalog and risk
	MitreSyncRuns *prometheus.CounterVec
	RiskSnapshots prometheus.Counter

	// Job ledger
	JobDuration *prometheus.HistogramVec
}

// New creates and registers all pipeline metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		CollectionRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ttpmon_collection_runs_total",
				Help: "Collection runs by trigger and terminal status",
			},
			[]string{"trigger", "status"}, // trigger: manual, scheduler
		),

		ActorScans: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ttpmon_actor_scans_total",
				Help: "Per-actor scan outcomes across all collection runs",
			},
			[]string{"result"}, // result: ok, error, skipped
		),

		IntelEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ttpmon_intel_events_total",
				Help: "Intelligence events recorded by type",
			},
			[]string{"event_type"},
		),

		Alerts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ttpmon_alerts_total",
				Help: "Alerts emitted after debouncing, by severity",
			},
			[]string{"severity"},
		),

		FeedRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ttpmon_feed_requests_total",
				Help: "Outbound intelligence feed requests",
			},
			[]string{"endpoint", "outcome"}, // outcome: ok, http_error, transport_error
		),

		MitreSyncRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ttpmon_mitre_sync_runs_total",
				Help: "Technique catalog refresh runs by terminal status",
			},
			[]string{"status"},
		),

		RiskSnapshots: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ttpmon_risk_snapshots_total",
				Help: "Country risk snapshots persisted",
			},
		),

		JobDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ttpmon_job_duration_seconds",
				Help:    "Wall-clock duration of ledgered jobs",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"job_type"},
		),
	}
}

// RecordCollectionRun records a finished collection run.
func (m *Metrics) RecordCollectionRun(trigger, status string) {
	if m == nil {
		return
	}
	m.CollectionRuns.WithLabelValues(trigger, status).Inc()
}

// RecordActorScan records one per-actor scan outcome.
func (m *Metrics) RecordActorScan(result string) {
	if m == nil {
		return
	}
	m.ActorScans.WithLabelValues(result).Inc()
}

// RecordIntelEvent records a persisted intelligence event.
func (m *Metrics) RecordIntelEvent(eventType string) {
	if m == nil {
		return
	}
	m.IntelEvents.WithLabelValues(eventType).Inc()
}

// RecordAlert records an alert that survived debouncing.
func (m *Metrics) RecordAlert(severity string) {
	if m == nil {
		return
	}
	m.Alerts.WithLabelValues(severity).Inc()
}

// RecordFeedRequest records one outbound feed call.
func (m *Metrics) RecordFeedRequest(endpoint, outcome string) {
	if m == nil {
		return
	}
	m.FeedRequests.WithLabelValues(endpoint, outcome).Inc()
}

// RecordMitreSyncRun records a finished catalog refresh.
func (m *Metrics) RecordMitreSyncRun(status string) {
	if m == nil {
		return
	}
	m.MitreSyncRuns.WithLabelValues(status).Inc()
}

// RecordRiskSnapshot records a persisted country risk snapshot.
func (m *Metrics) RecordRiskSnapshot() {
	if m == nil {
		return
	}
	m.RiskSnapshots.Inc()
}

// RecordJobDuration records the wall-clock duration of a ledgered job.
func (m *Metrics) RecordJobDuration(jobType string, d time.Duration) {
	if m == nil {
		return
	}
	m.JobDuration.WithLabelValues(jobType).Observe(d.Seconds())
}
