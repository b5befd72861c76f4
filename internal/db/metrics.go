package db

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	poolOpenConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gpu_stats_db_pool_open_connections",
		Help: "Number of open connections held by the pool, idle and checked out.",
	})
	poolIdleConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gpu_stats_db_pool_idle_connections",
		Help: "Number of idle connections parked in the pool.",
	})
	poolCheckedOutConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gpu_stats_db_pool_checked_out_connections",
		Help: "Number of connections currently checked out of the pool.",
	})
	poolAcquires = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gpu_stats_db_pool_acquires_total",
		Help: "Connection acquire outcomes.",
	}, []string{"outcome"})
	poolAcquireRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gpu_stats_db_pool_acquire_retries_total",
		Help: "Acquire attempts beyond the first.",
	})
	poolProbeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gpu_stats_db_pool_probe_failures_total",
		Help: "Connections destroyed after failing the liveness probe.",
	})
	queryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gpu_stats_db_query_duration_seconds",
		Help:    "Duration of statistics queries by operation.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
)
