package observer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	blocksProcessedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blocks_processed_total",
			Help: "Count of blocks scanned for transfers",
		},
	)
	transfersAcceptedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transfers_accepted_total",
			Help: "Count of transfers accepted for tracking by kind",
		},
		[]string{"kind"},
	)
	chainHeadGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chain_head_block",
			Help: "Latest chain head block number observed",
		},
	)
	pendingTransfersGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pending_transfers",
			Help: "Transfers currently awaiting confirmation",
		},
	)
)
