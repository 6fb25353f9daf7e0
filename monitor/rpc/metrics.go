package rpc

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rpcCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rpc_calls_total",
			Help: "Count of JSON-RPC calls issued to the chain node by kind",
		},
		[]string{"kind"},
	)
	rpcThrottleTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rpc_throttle_total",
			Help: "Count of calls delayed by the rate governor",
		},
	)
	headCacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "head_cache_hits_total",
			Help: "Count of head lookups answered from cache",
		},
	)
	headCacheMissesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "head_cache_misses_total",
			Help: "Count of head lookups forwarded to the node",
		},
	)
	headRequestLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "head_request_latency_milliseconds",
			Help:    "Captures RPC latency for eth_blockNumber in milliseconds",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100, 200, 500, 1000},
		},
	)
	blockRequestLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "block_request_latency_milliseconds",
			Help:    "Captures RPC latency for eth_getBlockByNumber in milliseconds",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100, 200, 500, 1000},
		},
	)
)
