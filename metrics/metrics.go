// Package metrics holds the Prometheus collectors for export runs.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ExportsTotal counts finished handler invocations by outcome.
	ExportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wikiexport_exports_total",
			Help: "Export invocations by outcome",
		},
		[]string{"outcome"},
	)

	// ExportDuration records the round trip to the export server.
	ExportDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wikiexport_export_duration_seconds",
			Help:    "Export request duration",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	// ResponsesTotal counts classified responses by variant.
	ResponsesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wikiexport_responses_total",
			Help: "Export responses by kind",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(ExportsTotal, ExportDuration, ResponsesTotal)
}

func Handler() http.Handler {
	return promhttp.Handler()
}
