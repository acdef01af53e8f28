package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics instruments the webhook pipeline and the ledger.
type Metrics struct {
	webhooksReceived    *prometheus.CounterVec
	webhooksDuplicate   *prometheus.CounterVec
	webhooksRejected    *prometheus.CounterVec
	webhooksFailed      *prometheus.CounterVec
	handlerDuration     *prometheus.HistogramVec
	entriesPosted       prometheus.Counter
	entriesReversed     prometheus.Counter
	reconciliationRuns  *prometheus.CounterVec
	reconciliationMatch prometheus.Gauge
}

func New() *Metrics {
	return &Metrics{
		webhooksReceived: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ledger_core",
				Subsystem: "webhooks",
				Name:      "received_total",
				Help:      "Total webhook deliveries accepted for processing.",
			},
			[]string{"provider"},
		),
		webhooksDuplicate: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ledger_core",
				Subsystem: "webhooks",
				Name:      "duplicate_total",
				Help:      "Total webhook deliveries short-circuited as duplicates.",
			},
			[]string{"provider"},
		),
		webhooksRejected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ledger_core",
				Subsystem: "webhooks",
				Name:      "rejected_total",
				Help:      "Total webhook deliveries rejected at signature verification.",
			},
			[]string{"provider"},
		),
		webhooksFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ledger_core",
				Subsystem: "webhooks",
				Name:      "failed_total",
				Help:      "Total webhook events whose handler failed.",
			},
			[]string{"provider"},
		),
		handlerDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "ledger_core",
				Subsystem: "webhooks",
				Name:      "handler_duration_seconds",
				Help:      "Handler execution time partitioned by provider and event type.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"provider", "event_type"},
		),
		entriesPosted: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "ledger_core",
				Subsystem: "ledger",
				Name:      "entries_posted_total",
				Help:      "Total ledger entries posted.",
			},
		),
		entriesReversed: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "ledger_core",
				Subsystem: "ledger",
				Name:      "entries_reversed_total",
				Help:      "Total compensating ledger entries posted.",
			},
		),
		reconciliationRuns: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ledger_core",
				Subsystem: "reconciliation",
				Name:      "runs_total",
				Help:      "Total reconciliation runs partitioned by result.",
			},
			[]string{"result"},
		),
		reconciliationMatch: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "ledger_core",
				Subsystem: "reconciliation",
				Name:      "last_matched",
				Help:      "Matched count of the most recent reconciliation run.",
			},
		),
	}
}

// All recording methods tolerate a nil receiver so tests can run services
// without a registry.

func (m *Metrics) WebhookReceived(provider string) {
	if m != nil {
		m.webhooksReceived.WithLabelValues(provider).Inc()
	}
}

func (m *Metrics) WebhookDuplicate(provider string) {
	if m != nil {
		m.webhooksDuplicate.WithLabelValues(provider).Inc()
	}
}

func (m *Metrics) WebhookRejected(provider string) {
	if m != nil {
		m.webhooksRejected.WithLabelValues(provider).Inc()
	}
}

func (m *Metrics) WebhookFailed(provider string) {
	if m != nil {
		m.webhooksFailed.WithLabelValues(provider).Inc()
	}
}

func (m *Metrics) ObserveHandler(provider, eventType string, seconds float64) {
	if m != nil {
		m.handlerDuration.WithLabelValues(provider, eventType).Observe(seconds)
	}
}

func (m *Metrics) EntryPosted() {
	if m != nil {
		m.entriesPosted.Inc()
	}
}

func (m *Metrics) EntryReversed() {
	if m != nil {
		m.entriesReversed.Inc()
	}
}

func (m *Metrics) ReconciliationRun(result string, matched int) {
	if m != nil {
		m.reconciliationRuns.WithLabelValues(result).Inc()
		m.reconciliationMatch.Set(float64(matched))
	}
}
