package rpc

import (
	"context"
	"sync"
	"time"

	"github.com/kevinms/leakybucket-go"
	"github.com/paulbellamy/ratecounter"
)

// sustainedRateFactor is the fraction of the per-second quota the long-run
// average may reach before calls start spacing themselves out.
const sustainedRateFactor = 0.8

// bucketKey names the single process-wide bucket; provider quotas apply per
// API key, not per caller.
const bucketKey = "rpc"

// GovernorStats summarizes call volume against the configured quotas.
type GovernorStats struct {
	Calls            int64            `json:"calls"`
	ByKind           map[string]int64 `json:"by_kind"`
	Throttles        int64            `json:"throttles"`
	AveragePerSecond float64          `json:"average_per_second"`
	CurrentPerSecond int64            `json:"current_per_second"`
	ProjectedDaily   float64          `json:"projected_daily"`
	PerSecondLimit   int              `json:"per_second_limit"`
	DailyLimit       int              `json:"daily_limit"`
	WithinBudget     bool             `json:"within_budget"`
	UsagePercent     float64          `json:"usage_percent"`
}

// Governor keeps RPC volume inside the provider's quotas. A leaky bucket
// absorbs bursts at the per-second limit while the long-run average guards
// the daily allowance.
type Governor struct {
	maxPerSecond int
	maxPerDay    int

	limiter *leakybucket.Collector
	rate    *ratecounter.RateCounter

	mu        sync.Mutex
	started   time.Time
	calls     int64
	byKind    map[string]int64
	throttles int64
}

// NewGovernor builds a governor for the given quotas. Non-positive limits
// fall back to conservative free-tier defaults.
func NewGovernor(maxPerSecond, maxPerDay int) *Governor {
	if maxPerSecond <= 0 {
		maxPerSecond = 4
	}
	if maxPerDay <= 0 {
		maxPerDay = 90000
	}
	return &Governor{
		maxPerSecond: maxPerSecond,
		maxPerDay:    maxPerDay,
		limiter:      leakybucket.NewCollector(float64(maxPerSecond), int64(maxPerSecond), false),
		rate:         ratecounter.NewRateCounter(time.Second),
		started:      time.Now(),
		byKind:       make(map[string]int64),
	}
}

// Pace blocks until the next call may be issued, or until ctx is done.
func (g *Governor) Pace(ctx context.Context) error {
	if avg := g.averageRate(); avg > sustainedRateFactor*float64(g.maxPerSecond) {
		g.noteThrottle()
		if err := g.wait(ctx, time.Second/time.Duration(g.maxPerSecond)); err != nil {
			return err
		}
	}
	if g.limiter.Remaining(bucketKey) < 1 {
		g.noteThrottle()
		if idle := g.limiter.TillEmpty(bucketKey); idle > 0 {
			if err := g.wait(ctx, idle); err != nil {
				return err
			}
		}
	}
	g.limiter.Add(bucketKey, 1)
	return nil
}

// Record accounts one completed call under the given kind.
func (g *Governor) Record(kind string) {
	g.rate.Incr(1)
	rpcCallsTotal.WithLabelValues(kind).Inc()
	g.mu.Lock()
	g.calls++
	g.byKind[kind]++
	g.mu.Unlock()
}

// CurrentRate returns calls per second over the trailing window.
func (g *Governor) CurrentRate() int64 {
	return g.rate.Rate()
}

// Snapshot reports volume and quota projections since the last reset.
func (g *Governor) Snapshot() GovernorStats {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := GovernorStats{
		Calls:            g.calls,
		ByKind:           make(map[string]int64, len(g.byKind)),
		Throttles:        g.throttles,
		CurrentPerSecond: g.rate.Rate(),
		PerSecondLimit:   g.maxPerSecond,
		DailyLimit:       g.maxPerDay,
	}
	for kind, n := range g.byKind {
		s.ByKind[kind] = n
	}
	if elapsed := time.Since(g.started).Seconds(); elapsed > 0 {
		s.AveragePerSecond = float64(g.calls) / elapsed
	}
	s.ProjectedDaily = s.AveragePerSecond * 86400
	s.WithinBudget = s.ProjectedDaily <= float64(g.maxPerDay)
	if g.maxPerDay > 0 {
		s.UsagePercent = s.ProjectedDaily / float64(g.maxPerDay) * 100
	}
	return s
}

// Reset zeroes accounting and restarts the averaging window.
func (g *Governor) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = 0
	g.throttles = 0
	g.byKind = make(map[string]int64)
	g.started = time.Now()
}

func (g *Governor) averageRate() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	elapsed := time.Since(g.started).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(g.calls) / elapsed
}

func (g *Governor) noteThrottle() {
	rpcThrottleTotal.Inc()
	g.mu.Lock()
	g.throttles++
	g.mu.Unlock()
}

func (g *Governor) wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
