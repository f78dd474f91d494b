package infra

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	WSReconnectsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_reconnects_total",
		Help: "WS reconnects by target and reason",
	}, []string{"target", "reason"})

	FramesDroppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "frames_dropped_total",
		Help: "Stream frames dropped by reason",
	}, []string{"reason"})

	QuoteMergesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "quote_merges_total",
		Help: "Quote merges applied to the store",
	})

	MergeRejectsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "merge_rejects_total",
		Help: "Quote updates rejected by the acceptance gate",
	})

	SnapshotFetchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "snapshot_fetches_total",
		Help: "Snapshot sub-fetches by kind and outcome",
	}, []string{"kind", "outcome"})

	BootDurationSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "boot_duration_seconds",
		Help: "Duration of the last boot sequence",
	})

	LedgerRecordsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_records_total",
		Help: "Order/fill records merged by kind",
	}, []string{"kind"})
)

// InitMetrics builds the process registry with all desk collectors. The
// registry is fresh, so a registration failure is a programming error and
// panics.
func InitMetrics() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		WSReconnectsTotal, FramesDroppedTotal, QuoteMergesTotal, MergeRejectsTotal,
		SnapshotFetchesTotal, BootDurationSeconds, LedgerRecordsTotal,
		collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// MetricsHandler exposes the registry over HTTP.
func MetricsHandler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
