// Package metrics exposes the Prometheus instrumentation of the service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RecordsDecoded counts decoded telemetry records by uplink reason.
	RecordsDecoded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dm_records_decoded_total",
		Help: "Telemetry records decoded, by uplink reason.",
	}, []string{"reason"})

	// EventsDropped counts events dropped before reaching an agent.
	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dm_events_dropped_total",
		Help: "Telemetry events dropped, by cause.",
	}, []string{"cause"})

	// PayloadsRejected counts ingestion payloads rejected as malformed.
	PayloadsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dm_payloads_rejected_total",
		Help: "Ingestion payloads rejected as malformed.",
	})

	// UIFlushes counts reconciliation flushes, split by whether they were
	// recorded in the message log.
	UIFlushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dm_ui_flushes_total",
		Help: "UI reconciliation flushes, by kind (logged or observer).",
	}, []string{"kind"})

	// IngestionDuration tracks end to end ingestion handling time.
	IngestionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dm_ingestion_duration_seconds",
		Help:    "Time spent handling one ingestion payload.",
		Buckets: prometheus.DefBuckets,
	})
)

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
