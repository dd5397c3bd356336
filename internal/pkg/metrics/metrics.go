package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "membervault"

var (
	// ReconciliationsTotal counts subscription reconciliations by applied
	// effect and outcome.
	ReconciliationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "billing",
		Name:      "reconciliations_total",
		Help:      "Subscription reconciliations by entitlement effect and outcome.",
	}, []string{"effect", "outcome"})

	// ReconcileDuration tracks reconciliation latency including provider calls.
	ReconcileDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "billing",
		Name:      "reconcile_duration_seconds",
		Help:      "Subscription reconciliation duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"outcome"})

	// CatalogSyncsTotal counts catalog sync attempts by outcome
	// (synced, skipped, failed).
	CatalogSyncsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "billing",
		Name:      "catalog_syncs_total",
		Help:      "Catalog sync attempts by outcome.",
	}, []string{"outcome"})

	// TokenGrantsTotal counts token grants by trigger (reconcile, renewal).
	TokenGrantsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "tokens",
		Name:      "grants_total",
		Help:      "Token grants by trigger.",
	}, []string{"trigger"})

	// TokenConsumptionsTotal counts consumption attempts by result
	// (ok, insufficient, expired, race).
	TokenConsumptionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "tokens",
		Name:      "consumptions_total",
		Help:      "Token consumption attempts by result.",
	}, []string{"result"})

	// WebhookEventsTotal counts provider webhook events by type and status.
	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "webhook",
		Name:      "events_total",
		Help:      "Provider webhook events by event type and handling status.",
	}, []string{"event_type", "status"})

	// WebhookDuration tracks webhook handling latency.
	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "webhook",
		Name:      "duration_seconds",
		Help:      "Provider webhook handling duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"event_type"})

	// JobsTotal counts background job executions by type and outcome.
	JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "jobqueue",
		Name:      "jobs_total",
		Help:      "Background jobs by type and outcome.",
	}, []string{"type", "outcome"})

	// QueueDepth tracks pending and processing job counts.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "jobqueue",
		Name:      "depth",
		Help:      "Jobs per queue list.",
	}, []string{"list"})

	// AccessChecksTotal counts access decisions by result.
	AccessChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "access",
		Name:      "checks_total",
		Help:      "Access decisions by result (granted, denied, sync_failed).",
	}, []string{"result"})
)
