package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ratewatch/ratewatch/internal/models"
)

// Metrics contains the engine's Prometheus collectors. A nil *Metrics is a
// no-op on every method so tests and embedded deployments can run without a
// registry.
type Metrics struct {
	eventsIngested *prometheus.CounterVec
	gateVerdicts   *prometheus.CounterVec
	bucketsSealed  prometheus.Counter
	sealFailures   prometheus.Counter
	alertsEmitted  *prometheus.CounterVec
}

// NewMetrics creates a Metrics instance registered on the default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		eventsIngested: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ratewatch_events_ingested_total",
				Help: "Total number of traffic events recorded",
			},
			[]string{"kind"},
		),

		gateVerdicts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ratewatch_gate_verdicts_total",
				Help: "Total number of gate evaluations by verdict",
			},
			[]string{"kind", "verdict"},
		),

		bucketsSealed: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ratewatch_buckets_sealed_total",
				Help: "Total number of minute buckets persisted to history",
			},
		),

		sealFailures: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ratewatch_seal_failures_total",
				Help: "Total number of minute buckets dropped after exhausting retries",
			},
		),

		alertsEmitted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ratewatch_alerts_emitted_total",
				Help: "Total number of alert events by metric and level",
			},
			[]string{"metric", "level"},
		),
	}
}

// RecordEvent records an ingested traffic event.
func (m *Metrics) RecordEvent(kind models.EntityKind) {
	if m == nil {
		return
	}
	m.eventsIngested.WithLabelValues(string(kind)).Inc()
}

// RecordVerdict records a gate evaluation outcome.
func (m *Metrics) RecordVerdict(kind models.EntityKind, limited bool) {
	if m == nil {
		return
	}
	verdict := "allowed"
	if limited {
		verdict = "limited"
	}
	m.gateVerdicts.WithLabelValues(string(kind), verdict).Inc()
}

// RecordSeal records one persisted minute bucket.
func (m *Metrics) RecordSeal() {
	if m == nil {
		return
	}
	m.bucketsSealed.Inc()
}

// RecordSealFailure records a bucket dropped after exhausting retries.
func (m *Metrics) RecordSealFailure() {
	if m == nil {
		return
	}
	m.sealFailures.Inc()
}

// RecordAlert records an emitted alert event.
func (m *Metrics) RecordAlert(event models.AlertEvent) {
	if m == nil {
		return
	}
	m.alertsEmitted.WithLabelValues(string(event.Metric), string(event.Level)).Inc()
}
