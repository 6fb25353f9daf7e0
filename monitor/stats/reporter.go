package stats

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"github.com/chainsentry/evm-transfer-monitor/async"
	"github.com/chainsentry/evm-transfer-monitor/monitor/rpc"
)

var log = logrus.WithField("prefix", "stats")

// RPCStats is the slice of the gateway the reporter reads.
type RPCStats interface {
	Stats() rpc.Stats
}

// PendingView is the slice of the pending index the reporter reads.
type PendingView interface {
	Len() int
	BlockCount() int
	OldestAge(now time.Time) time.Duration
}

// ReporterConfig wires the reporter to its data sources.
type ReporterConfig struct {
	Interval  time.Duration
	Collector *Collector
	RPC       RPCStats
	Pending   PendingView
}

// Reporter periodically logs a performance report built from the collector,
// the RPC gateway, and the pending index. It also folds the observed pending
// depth and RPC rate back into the collector's high-water marks.
type Reporter struct {
	ctx    context.Context
	cancel context.CancelFunc
	cfg    *ReporterConfig
}

// NewReporter builds the reporter service.
func NewReporter(ctx context.Context, cfg *ReporterConfig) *Reporter {
	ctx, cancel := context.WithCancel(ctx)
	return &Reporter{ctx: ctx, cancel: cancel, cfg: cfg}
}

// Start begins periodic reporting.
func (r *Reporter) Start() {
	log.WithField("interval", r.cfg.Interval).Info("Starting performance reporter")
	async.RunEvery(r.ctx, r.cfg.Interval, r.report)
}

// Stop halts reporting and logs a final session summary.
func (r *Reporter) Stop() error {
	r.cancel()
	r.logSummary()
	return nil
}

// Status always reports healthy; the reporter has no failure modes that
// should take the process down.
func (r *Reporter) Status() error {
	return nil
}

func (r *Reporter) report() {
	rpcStats := r.cfg.RPC.Stats()
	r.cfg.Collector.ObservePending(r.cfg.Pending.Len())
	r.cfg.Collector.ObserveRPCRate(float64(rpcStats.Governor.CurrentPerSecond))
	rep := r.cfg.Collector.Snapshot()

	log.WithFields(logrus.Fields{
		"uptime":          time.Duration(rep.UptimeSeconds * float64(time.Second)).Round(time.Second),
		"blocks":          rep.BlocksProcessed,
		"avgBlockMs":      rep.AvgBlockMilliseconds,
		"accepted":        rep.TotalAccepted,
		"confirmed":       rep.Confirmed,
		"pending":         r.cfg.Pending.Len(),
		"pendingBlocks":   r.cfg.Pending.BlockCount(),
		"oldestPending":   r.cfg.Pending.OldestAge(time.Now()).Round(time.Second),
		"notified":        rep.NotificationsSent,
		"rpcCalls":        rpcStats.Governor.Calls,
		"rpcAvgPerSecond": rpcStats.Governor.AveragePerSecond,
		"rpcDailyUsage":   rpcStats.Governor.UsagePercent,
		"cacheHitRate":    rpcStats.CacheHitRate,
	}).Info("Performance report")

	if !rpcStats.Governor.WithinBudget {
		log.WithFields(logrus.Fields{
			"projectedDaily": rpcStats.Governor.ProjectedDaily,
			"dailyLimit":     rpcStats.Governor.DailyLimit,
		}).Warn("RPC volume projected to exceed daily quota")
	}
}

func (r *Reporter) logSummary() {
	rep := r.cfg.Collector.Snapshot()
	rpcStats := r.cfg.RPC.Stats()
	log.WithFields(logrus.Fields{
		"uptime":        time.Duration(rep.UptimeSeconds * float64(time.Second)).Round(time.Second),
		"blocks":        humanize.Comma(int64(rep.BlocksProcessed)),
		"accepted":      humanize.Comma(int64(rep.TotalAccepted)),
		"confirmed":     humanize.Comma(int64(rep.Confirmed)),
		"timeouts":      rep.Timeouts,
		"notified":      humanize.Comma(int64(rep.NotificationsSent)),
		"failed":        rep.NotificationsFailed,
		"rpcCalls":      humanize.Comma(rpcStats.Governor.Calls),
		"peakPending":   rep.PeakPending,
		"peakRPCRate":   rep.PeakRPCRate,
		"policyRejects": rep.PolicyRejects,
	}).Info("Session summary")
}
