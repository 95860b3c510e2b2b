package obsv

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var enabled atomic.Bool

var (
	httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "synapse_gateway_http_requests_total",
		Help: "Client-facing HTTP requests by route and status class.",
	}, []string{"route", "status_class"})

	httpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "synapse_gateway_http_request_duration_seconds",
		Help:    "Client-facing HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	upstreamLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "synapse_gateway_upstream_latency_seconds",
		Help:    "Per-cell upstream request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"cell", "outcome"})

	fanoutDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "synapse_gateway_fanout_duration_seconds",
		Help:    "Total wall time of a fan-out collection.",
		Buckets: prometheus.DefBuckets,
	}, []string{"handler"})

	fanoutPendingTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "synapse_gateway_fanout_pending_total",
		Help: "Identifiers routed to pending by reason.",
	}, []string{"reason"})

	locatorSyncDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "synapse_locator_sync_duration_seconds",
		Help:    "Locator control-plane sync duration.",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	locatorSyncRows = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "synapse_locator_sync_rows_total",
		Help: "Rows ingested per locator sync.",
	}, []string{"kind"})

	locatorSyncErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "synapse_locator_sync_errors_total",
		Help: "Locator sync failures by stage.",
	}, []string{"stage"})

	locatorReady = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "synapse_locator_ready",
		Help: "1 once the locator has completed its first successful load.",
	})

	backupStoreOps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "synapse_locator_backup_store_ops_total",
		Help: "Backup store operations by kind and outcome.",
	}, []string{"op", "outcome"})
)

// Init registers the package's collectors with r and turns metrics on.
// Safe to call once at process startup.
func Init(r prometheus.Registerer, isEnabled bool) {
	enabled.Store(isEnabled)
	if !isEnabled || r == nil {
		return
	}
	r.MustRegister(
		httpRequestsTotal, httpRequestDuration,
		upstreamLatency, fanoutDuration, fanoutPendingTotal,
		locatorSyncDuration, locatorSyncRows, locatorSyncErrors, locatorReady,
		backupStoreOps,
	)
}

// Enabled reports whether metrics collection is active.
func Enabled() bool { return enabled.Load() }

// ObserveHTTPRequest records one client-facing request.
func ObserveHTTPRequest(route string, statusClass string, d time.Duration) {
	if !Enabled() {
		return
	}
	httpRequestsTotal.WithLabelValues(route, statusClass).Inc()
	httpRequestDuration.WithLabelValues(route).Observe(d.Seconds())
}

// ObserveUpstream records one per-cell upstream call.
func ObserveUpstream(cell, outcome string, d time.Duration) {
	if !Enabled() {
		return
	}
	upstreamLatency.WithLabelValues(cell, outcome).Observe(d.Seconds())
}

// ObserveFanout records one fan-out collection's total wall time.
func ObserveFanout(handler string, d time.Duration) {
	if !Enabled() {
		return
	}
	fanoutDuration.WithLabelValues(handler).Observe(d.Seconds())
}

// IncPending records identifiers routed to pending, labeled by reason
// (the executor reports "timeout" and "abort").
func IncPending(reason string, n int) {
	if !Enabled() || n <= 0 {
		return
	}
	fanoutPendingTotal.WithLabelValues(reason).Add(float64(n))
}

// ObserveLocatorSync records one locator sync pass (snapshot or incremental).
func ObserveLocatorSync(kind string, rows int, d time.Duration, err error) {
	if !Enabled() {
		return
	}
	locatorSyncDuration.WithLabelValues(kind).Observe(d.Seconds())
	locatorSyncRows.WithLabelValues(kind).Add(float64(rows))
	if err != nil {
		locatorSyncErrors.WithLabelValues(kind).Inc()
	}
}

// SetLocatorReady records the locator's readiness gauge.
func SetLocatorReady(ready bool) {
	if !Enabled() {
		return
	}
	if ready {
		locatorReady.Set(1)
	} else {
		locatorReady.Set(0)
	}
}

// ObserveBackupStoreOp records one backup store read or write.
func ObserveBackupStoreOp(op, outcome string) {
	if !Enabled() {
		return
	}
	backupStoreOps.WithLabelValues(op, outcome).Inc()
}
