package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus collectors
type Metrics struct {
	AlertsIngested     *prometheus.CounterVec
	AlertsDeduplicated *prometheus.CounterVec
	AlertsSuppressed   *prometheus.CounterVec
	AlertsCorrelated   *prometheus.CounterVec
	AlertsRouted       *prometheus.CounterVec
	GroupsCreated      *prometheus.CounterVec
	Notifications      *prometheus.CounterVec
	EscalationsFired   *prometheus.CounterVec
	IncidentsOpen      *prometheus.GaugeVec
	PipelineDuration   *prometheus.HistogramVec
}

// New registers and returns the engine metrics
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		AlertsIngested: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "guardian_alerts_ingested_total",
			Help: "Total alert events accepted by the pipeline",
		}, []string{"org_id"}),
		AlertsDeduplicated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "guardian_alerts_deduplicated_total",
			Help: "Alerts flagged as duplicates during grouping",
		}, []string{"org_id"}),
		AlertsSuppressed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "guardian_alerts_suppressed_total",
			Help: "Alerts suppressed by the rate limiter",
		}, []string{"org_id", "mode"}),
		AlertsCorrelated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "guardian_alerts_correlated_total",
			Help: "Alerts attached to a correlation",
		}, []string{"org_id", "reason"}),
		AlertsRouted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "guardian_alerts_routed_total",
			Help: "Alerts that matched at least one routing rule",
		}, []string{"org_id"}),
		GroupsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "guardian_groups_created_total",
			Help: "Alert groups opened",
		}, []string{"org_id"}),
		Notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "guardian_notifications_enqueued_total",
			Help: "Notifications handed to the dispatcher",
		}, []string{"org_id", "destination"}),
		EscalationsFired: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "guardian_escalations_fired_total",
			Help: "Escalation levels fired for managed incidents",
		}, []string{"org_id"}),
		IncidentsOpen: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "guardian_incidents_open",
			Help: "Incidents currently in the triggered state",
		}, []string{"org_id"}),
		PipelineDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "guardian_pipeline_duration_seconds",
			Help:    "End-to-end alert pipeline processing time",
			Buckets: prometheus.DefBuckets,
		}, []string{"org_id"}),
	}
}

// NewDefault registers against the default registry
func NewDefault() *Metrics {
	return New(prometheus.DefaultRegisterer)
}
