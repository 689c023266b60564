// Package metrics exposes the prometheus counters the pipeline's
// components increment, styled after the other_examples Bitcoin_Sprint
// messaging.go promauto pattern (one struct of named counters/
// histograms, built once via promauto so registration happens exactly
// once per process).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RateLimiter counters back C2's admit/deny path.
type RateLimiter struct {
	Admitted        prometheus.Counter
	Denied          prometheus.Counter
	StoreErrorBypass prometheus.Counter
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		Admitted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pairsnap_ratelimit_admitted_total",
			Help: "Requests admitted by the shared rate limiter.",
		}),
		Denied: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pairsnap_ratelimit_denied_total",
			Help: "Requests denied by the shared rate limiter.",
		}),
		StoreErrorBypass: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pairsnap_ratelimit_store_error_bypass_total",
			Help: "Requests admitted because the rate-limit store errored (fail-open bypass).",
		}),
	}
}

// RPC counters/histograms back C1.
type RPC struct {
	BatchCalls       prometheus.Counter
	BatchCallErrors  prometheus.Counter
	BatchCallLatency prometheus.Histogram
	Retries          prometheus.Counter
}

func NewRPC() *RPC {
	return &RPC{
		BatchCalls: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pairsnap_rpc_batch_calls_total",
			Help: "Batched eth_call requests issued.",
		}),
		BatchCallErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pairsnap_rpc_batch_call_errors_total",
			Help: "Batched eth_call requests that failed after retry.",
		}),
		BatchCallLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "pairsnap_rpc_batch_call_duration_seconds",
			Help:    "Latency of batched eth_call requests.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		Retries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pairsnap_rpc_retries_total",
			Help: "Transport-error retries attempted across all RPC calls.",
		}),
	}
}

// Worker counters back C10's commit/dead-letter path.
type Worker struct {
	ReservesBuilt     prometheus.Counter
	ReservesFailed    prometheus.Counter
	TradeVolumeBuilt  prometheus.Counter
	TradeVolumeFailed prometheus.Counter
	CommitsOK         prometheus.Counter
	CommitsRejected   prometheus.Counter
	DeadLettered      prometheus.Counter
}

func NewWorker() *Worker {
	return &Worker{
		ReservesBuilt: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pairsnap_worker_reserves_snapshots_built_total",
			Help: "Reserves snapshots successfully built.",
		}),
		ReservesFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pairsnap_worker_reserves_snapshots_failed_total",
			Help: "Reserves snapshot builds that failed and were dead-lettered.",
		}),
		TradeVolumeBuilt: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pairsnap_worker_trade_volume_snapshots_built_total",
			Help: "Trade-volume snapshots successfully built.",
		}),
		TradeVolumeFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pairsnap_worker_trade_volume_snapshots_failed_total",
			Help: "Trade-volume snapshot builds that failed and were dead-lettered.",
		}),
		CommitsOK: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pairsnap_worker_commits_total",
			Help: "Snapshot commits accepted by the audit service.",
		}),
		CommitsRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pairsnap_worker_commits_rejected_total",
			Help: "Snapshot commits that failed, by audit rejection (AuditReject) or transport error.",
		}),
		DeadLettered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pairsnap_worker_dead_lettered_total",
			Help: "Work units pushed to the per-pair dead-letter list.",
		}),
	}
}
