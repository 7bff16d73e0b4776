// Package metrics provides Prometheus instrumentation for operators and the
// exchange layer.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Drop reasons for ExchangeBlocksDropped.
const (
	DropNoMoreData = "no_more_data"
	DropClosed     = "closed"
	DropAborted    = "aborted"
	DropDiscarded  = "discarded"
)

var (
	// RowsProcessed counts total rows emitted by each operator.
	RowsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mpp_operator_rows_total",
		Help: "Total number of rows emitted by operator",
	}, []string{"operator_type"})

	// BlocksProcessed counts total blocks emitted by each operator.
	BlocksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mpp_operator_blocks_total",
		Help: "Total number of blocks emitted by operator",
	}, []string{"operator_type"})

	// Errors counts errors by operator.
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mpp_operator_errors_total",
		Help: "Total number of errors by operator",
	}, []string{"operator_type"})

	// ExchangeBlocksSent counts blocks accepted by sink handles.
	ExchangeBlocksSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mpp_exchange_blocks_sent_total",
		Help: "Total number of blocks enqueued into exchange buffers",
	})

	// ExchangeBlocksDropped counts blocks that were never delivered, by reason.
	ExchangeBlocksDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mpp_exchange_blocks_dropped_total",
		Help: "Total number of blocks dropped by sink handles",
	}, []string{"reason"})

	// ExchangeBufferedBytes tracks bytes currently held in exchange buffers.
	ExchangeBufferedBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mpp_exchange_buffered_bytes",
		Help: "Bytes currently buffered across all sink handles",
	})

	// BackpressureWaits counts driver waits on a full sink.
	BackpressureWaits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mpp_exchange_backpressure_waits_total",
		Help: "Total number of times a driver waited for sink capacity",
	})

	// DriverLatency tracks driver wall time.
	DriverLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mpp_driver_duration_seconds",
		Help:    "Driver run time in seconds",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
	}, []string{"outcome"})
)

// ServeMetrics starts an HTTP server on the given address to serve
// Prometheus metrics at /metrics.
func ServeMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go server.ListenAndServe()
	return server
}
