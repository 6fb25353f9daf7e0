package confirm

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transfersConfirmedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "transfers_confirmed_total",
			Help: "Count of transfers that reached their confirmation requirement",
		},
	)
	transfersTimedOutTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "transfers_timed_out_total",
			Help: "Count of transfers dropped from tracking after the pending timeout",
		},
	)
	reorgsObservedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reorgs_observed_total",
			Help: "Count of sweeps that found the head behind an observed block",
		},
	)
)
