package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type engineMetrics struct {
	turnTotal    *prometheus.CounterVec
	turnDuration prometheus.Histogram

	retrievalDuration    prometheus.Histogram
	retrievalHits        prometheus.Histogram
	retrievalLegTotal    *prometheus.CounterVec
	retrievalLegDuration *prometheus.HistogramVec

	gatewayQueryTotal    *prometheus.CounterVec
	gatewayQueryDuration prometheus.Histogram

	memoryWriteTotal    *prometheus.CounterVec
	memoryWriteDuration prometheus.Histogram
	memoryUnitsTotal    prometheus.Gauge

	linkTotal           *prometheus.CounterVec
	clarificationsTotal prometheus.Counter

	consolidationTotal    *prometheus.CounterVec
	consolidationDuration prometheus.Histogram
}

var (
	metricsOnce sync.Once
	metricsInst *engineMetrics
)

func getMetrics() *engineMetrics {
	metricsOnce.Do(func() {
		m := &engineMetrics{
			turnTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "memori_turns_total",
					Help: "Chat turns handled, by outcome.",
				},
				[]string{"outcome"},
			),
			turnDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "memori_turn_duration_seconds",
					Help:    "End-to-end chat turn duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			retrievalDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "memori_retrieval_duration_seconds",
					Help:    "Hybrid retrieval duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			retrievalHits: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "memori_retrieval_hits",
					Help:    "Memories returned per hybrid retrieval pass.",
					Buckets: prometheus.LinearBuckets(0, 4, 8),
				},
			),
			retrievalLegTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "memori_retrieval_leg_total",
					Help: "Retrieval leg executions by leg and status.",
				},
				[]string{"leg", "status"},
			),
			retrievalLegDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "memori_retrieval_leg_duration_seconds",
					Help:    "Single retrieval leg duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"leg"},
			),
			gatewayQueryTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "memori_fact_queries_total",
					Help: "Domain fact gateway batched queries by table.",
				},
				[]string{"table"},
			),
			gatewayQueryDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "memori_fact_query_duration_seconds",
					Help:    "Domain fact bundle assembly duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			memoryWriteTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "memori_memory_writes_total",
					Help: "Memory unit writes by kind and action (insert/reinforce/supersede).",
				},
				[]string{"kind", "action"},
			),
			memoryWriteDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "memori_memory_write_duration_seconds",
					Help:    "Memory store write duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			memoryUnitsTotal: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "memori_memory_units",
					Help: "Active (non-superseded) memory units.",
				},
			),
			linkTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "memori_entity_links_total",
					Help: "Entity link attempts by resolution stage.",
				},
				[]string{"stage"},
			),
			clarificationsTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "memori_clarifications_total",
					Help: "Disambiguation questions asked.",
				},
			),
			consolidationTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "memori_consolidations_total",
					Help: "Consolidation runs by status.",
				},
				[]string{"status"},
			),
			consolidationDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "memori_consolidation_duration_seconds",
					Help:    "Consolidation run duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
		}

		prometheus.MustRegister(
			m.turnTotal,
			m.turnDuration,
			m.retrievalDuration,
			m.retrievalHits,
			m.retrievalLegTotal,
			m.retrievalLegDuration,
			m.gatewayQueryTotal,
			m.gatewayQueryDuration,
			m.memoryWriteTotal,
			m.memoryWriteDuration,
			m.memoryUnitsTotal,
			m.linkTotal,
			m.clarificationsTotal,
			m.consolidationTotal,
			m.consolidationDuration,
		)

		metricsInst = m
	})
	return metricsInst
}

// EnsureRegistered registers the engine metrics with the default
// registry. Safe to call from every package that records metrics.
func EnsureRegistered() {
	getMetrics()
}

// Handler returns the metrics HTTP handler
func Handler() http.Handler {
	getMetrics()
	return promhttp.Handler()
}

// RecordTurn records a handled chat turn
func RecordTurn(outcome string, d time.Duration) {
	m := getMetrics()
	m.turnTotal.WithLabelValues(outcome).Inc()
	m.turnDuration.Observe(d.Seconds())
}

// RecordRetrieval records one hybrid retrieval pass
func RecordRetrieval(hits int, d time.Duration) {
	m := getMetrics()
	m.retrievalDuration.Observe(d.Seconds())
	m.retrievalHits.Observe(float64(hits))
}

// RecordRetrievalLeg records a single retrieval leg execution
func RecordRetrievalLeg(leg string, ok bool, d time.Duration) {
	status := "ok"
	if !ok {
		status = "error"
	}
	m := getMetrics()
	m.retrievalLegTotal.WithLabelValues(leg, status).Inc()
	m.retrievalLegDuration.WithLabelValues(leg).Observe(d.Seconds())
}

// RecordFactQuery records a batched gateway query against one table
func RecordFactQuery(table string) {
	getMetrics().gatewayQueryTotal.WithLabelValues(table).Inc()
}

// RecordFactBundle records domain fact bundle assembly time
func RecordFactBundle(d time.Duration) {
	getMetrics().gatewayQueryDuration.Observe(d.Seconds())
}

// RecordMemoryWrite records a memory store write
func RecordMemoryWrite(kind, action string, d time.Duration) {
	m := getMetrics()
	m.memoryWriteTotal.WithLabelValues(kind, action).Inc()
	m.memoryWriteDuration.Observe(d.Seconds())
}

// SetMemoryUnits sets the active memory unit gauge
func SetMemoryUnits(n int) {
	getMetrics().memoryUnitsTotal.Set(float64(n))
}

// RecordLink records an entity link attempt by winning stage
func RecordLink(stage string) {
	getMetrics().linkTotal.WithLabelValues(stage).Inc()
}

// RecordClarification records one disambiguation question
func RecordClarification() {
	getMetrics().clarificationsTotal.Inc()
}

// RecordConsolidation records a consolidation run
func RecordConsolidation(status string, d time.Duration) {
	m := getMetrics()
	m.consolidationTotal.WithLabelValues(status).Inc()
	m.consolidationDuration.Observe(d.Seconds())
}
