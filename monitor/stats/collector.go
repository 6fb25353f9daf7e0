// Package stats aggregates runtime counters across the monitor's services
// and periodically reports them. The collector is the single sink every
// service writes into; snapshots feed both the log reporter and the HTTP
// stats endpoint.
package stats

import (
	"sync"
	"time"
)

// ringSize bounds the per-block processing time window used for averages.
const ringSize = 50

// Collector accumulates counters from the observer, confirmation tracker
// and notifier. All methods are safe for concurrent use.
type Collector struct {
	mu        sync.Mutex
	startTime time.Time

	blocksProcessed       uint64
	acceptedBySymbol      map[string]uint64
	tokenContractsSeen    uint64
	tokenTransfersDecoded uint64
	policyRejects         uint64
	confirmed             uint64
	timeouts              uint64
	reorgs                uint64
	notificationsSent     uint64
	notificationsFailed   uint64
	notificationRetries   uint64

	processingTimes []time.Duration
	ringNext        int
	peakPending     int
	peakRPCRate     float64
}

// Report is a point-in-time snapshot of the collector.
type Report struct {
	UptimeSeconds         float64           `json:"uptime_seconds"`
	BlocksProcessed       uint64            `json:"blocks_processed"`
	AvgBlockMilliseconds  float64           `json:"avg_block_milliseconds"`
	TotalAccepted         uint64            `json:"total_accepted"`
	AcceptedBySymbol      map[string]uint64 `json:"accepted_by_symbol"`
	TokenContractsSeen    uint64            `json:"token_contracts_seen"`
	TokenTransfersDecoded uint64            `json:"token_transfers_decoded"`
	PolicyRejects         uint64            `json:"policy_rejects"`
	Confirmed             uint64            `json:"confirmed"`
	Timeouts              uint64            `json:"timeouts"`
	Reorgs                uint64            `json:"reorgs"`
	NotificationsSent     uint64            `json:"notifications_sent"`
	NotificationsFailed   uint64            `json:"notifications_failed"`
	NotificationRetries   uint64            `json:"notification_retries"`
	PeakPending           int               `json:"peak_pending"`
	PeakRPCRate           float64           `json:"peak_rpc_rate"`
}

// NewCollector returns a collector with its uptime clock started.
func NewCollector() *Collector {
	return &Collector{
		startTime:        time.Now(),
		acceptedBySymbol: make(map[string]uint64),
		processingTimes:  make([]time.Duration, 0, ringSize),
	}
}

// BlockProcessed records one scanned block and how long it took.
func (c *Collector) BlockProcessed(took time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blocksProcessed++
	if len(c.processingTimes) < ringSize {
		c.processingTimes = append(c.processingTimes, took)
	} else {
		c.processingTimes[c.ringNext] = took
		c.ringNext = (c.ringNext + 1) % ringSize
	}
}

// TransferAccepted records a transfer that passed policy, by asset symbol.
func (c *Collector) TransferAccepted(symbol string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acceptedBySymbol[symbol]++
}

// TokenContractSeen records a transaction addressed to a known token contract.
func (c *Collector) TokenContractSeen() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokenContractsSeen++
}

// TokenTransferDecoded records a successfully decoded token transfer call.
func (c *Collector) TokenTransferDecoded() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokenTransfersDecoded++
}

// PolicyRejected records a decoded transfer the active policy declined.
func (c *Collector) PolicyRejected() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.policyRejects++
}

// Confirmed records transfers that reached their confirmation requirement.
func (c *Collector) Confirmed(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.confirmed += uint64(n)
}

// TimedOut records transfers evicted for exceeding the pending timeout.
func (c *Collector) TimedOut(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeouts += uint64(n)
}

// ReorgObserved records a block whose confirmation depth went backwards.
func (c *Collector) ReorgObserved() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reorgs++
}

// NotificationSent records a webhook delivery acknowledged by the receiver.
func (c *Collector) NotificationSent() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notificationsSent++
}

// NotificationFailed records a delivery that exhausted its attempt budget.
func (c *Collector) NotificationFailed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notificationsFailed++
}

// NotificationRetried records a delivery attempt after the first.
func (c *Collector) NotificationRetried() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notificationRetries++
}

// ObservePending tracks the high-water mark of the pending set.
func (c *Collector) ObservePending(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n > c.peakPending {
		c.peakPending = n
	}
}

// ObserveRPCRate tracks the peak observed RPC request rate.
func (c *Collector) ObserveRPCRate(perSecond float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if perSecond > c.peakRPCRate {
		c.peakRPCRate = perSecond
	}
}

// Snapshot returns a copy of all counters.
func (c *Collector) Snapshot() Report {
	c.mu.Lock()
	defer c.mu.Unlock()

	accepted := make(map[string]uint64, len(c.acceptedBySymbol))
	var total uint64
	for sym, n := range c.acceptedBySymbol {
		accepted[sym] = n
		total += n
	}

	var avgMs float64
	if len(c.processingTimes) > 0 {
		var sum time.Duration
		for _, d := range c.processingTimes {
			sum += d
		}
		avgMs = float64(sum.Milliseconds()) / float64(len(c.processingTimes))
	}

	return Report{
		UptimeSeconds:         time.Since(c.startTime).Seconds(),
		BlocksProcessed:       c.blocksProcessed,
		AvgBlockMilliseconds:  avgMs,
		TotalAccepted:         total,
		AcceptedBySymbol:      accepted,
		TokenContractsSeen:    c.tokenContractsSeen,
		TokenTransfersDecoded: c.tokenTransfersDecoded,
		PolicyRejects:         c.policyRejects,
		Confirmed:             c.confirmed,
		Timeouts:              c.timeouts,
		Reorgs:                c.reorgs,
		NotificationsSent:     c.notificationsSent,
		NotificationsFailed:   c.notificationsFailed,
		NotificationRetries:   c.notificationRetries,
		PeakPending:           c.peakPending,
		PeakRPCRate:           c.peakRPCRate,
	}
}

// Reset zeroes every counter and restarts the uptime clock.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startTime = time.Now()
	c.blocksProcessed = 0
	c.acceptedBySymbol = make(map[string]uint64)
	c.tokenContractsSeen = 0
	c.tokenTransfersDecoded = 0
	c.policyRejects = 0
	c.confirmed = 0
	c.timeouts = 0
	c.reorgs = 0
	c.notificationsSent = 0
	c.notificationsFailed = 0
	c.notificationRetries = 0
	c.processingTimes = c.processingTimes[:0]
	c.ringNext = 0
	c.peakPending = 0
	c.peakRPCRate = 0
}
