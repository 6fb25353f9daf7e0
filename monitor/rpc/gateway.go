// Package rpc mediates every JSON-RPC exchange with the chain node. A
// gateway answers head, block, and gas price lookups behind a short-lived
// head cache, and a governor paces outbound volume so the node provider's
// per-second and daily quotas hold.
package rpc

import (
	"context"
	"encoding/json"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethRPC "github.com/ethereum/go-ethereum/rpc"
	gocache "github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/chainsentry/evm-transfer-monitor/monitor/types"
)

var log = logrus.WithField("prefix", "rpc")

// ErrBlockNotFound is returned when the node has not produced or does not
// retain the requested block.
var ErrBlockNotFound = ethereum.NotFound

// Call kinds tracked by the governor.
const (
	CallKindHead     = "head"
	CallKindBlock    = "block"
	CallKindGasPrice = "gas_price"
	CallKindHealth   = "health"
)

const headCacheKey = "chain_head"

// callTimeout bounds any single upstream exchange so one stalled node
// response cannot wedge the whole pipeline.
const callTimeout = 30 * time.Second

// caller is the slice of the JSON-RPC client the gateway uses.
type caller interface {
	CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
	Close()
}

// Config tunes the gateway.
type Config struct {
	// HeadCacheTTL bounds how stale an answered head may be. Every pipeline
	// stage asking for the head within one TTL shares a single upstream
	// call.
	HeadCacheTTL time.Duration
	MaxPerSecond int
	MaxPerDay    int
}

// Gateway is the process-wide RPC access point.
type Gateway struct {
	client   caller
	governor *Governor

	headMu    sync.Mutex
	headCache *gocache.Cache

	cacheHits   int64
	cacheMisses int64
}

// Stats is a point-in-time view of gateway activity for reports and the
// admin API.
type Stats struct {
	Governor     GovernorStats `json:"governor"`
	CacheHits    int64         `json:"cache_hits"`
	CacheMisses  int64         `json:"cache_misses"`
	CacheHitRate float64       `json:"cache_hit_rate"`
}

// Dial connects to the node endpoint and wraps it in a gateway. HTTP
// endpoints do not handshake on dial, so the first health probe is what
// proves connectivity.
func Dial(ctx context.Context, endpoint string, cfg Config) (*Gateway, error) {
	client, err := gethRPC.DialContext(ctx, endpoint)
	if err != nil {
		return nil, errors.Wrapf(err, "could not dial %s", endpoint)
	}
	log.WithField("endpoint", endpoint).Debug("RPC client configured")
	return NewGateway(client, cfg), nil
}

// NewGateway builds a gateway over an established client.
func NewGateway(client caller, cfg Config) *Gateway {
	ttl := cfg.HeadCacheTTL
	if ttl <= 0 {
		ttl = 1500 * time.Millisecond
	}
	return &Gateway{
		client:    client,
		governor:  NewGovernor(cfg.MaxPerSecond, cfg.MaxPerDay),
		headCache: gocache.New(ttl, 2*ttl),
	}
}

// Head returns the latest block number, serving from cache within the TTL.
// Concurrent refreshes collapse into one upstream call.
func (g *Gateway) Head(ctx context.Context) (uint64, error) {
	if v, ok := g.headCache.Get(headCacheKey); ok {
		atomic.AddInt64(&g.cacheHits, 1)
		headCacheHitsTotal.Inc()
		return v.(uint64), nil
	}
	g.headMu.Lock()
	defer g.headMu.Unlock()
	// A concurrent caller may have refreshed while this one waited.
	if v, ok := g.headCache.Get(headCacheKey); ok {
		atomic.AddInt64(&g.cacheHits, 1)
		headCacheHitsTotal.Inc()
		return v.(uint64), nil
	}
	atomic.AddInt64(&g.cacheMisses, 1)
	headCacheMissesTotal.Inc()

	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	if err := g.governor.Pace(ctx); err != nil {
		return 0, err
	}
	start := time.Now()
	var head hexutil.Uint64
	if err := g.client.CallContext(ctx, &head, "eth_blockNumber"); err != nil {
		return 0, errors.Wrap(err, "eth_blockNumber failed")
	}
	headRequestLatency.Observe(float64(time.Since(start).Milliseconds()))
	g.governor.Record(CallKindHead)
	g.headCache.SetDefault(headCacheKey, uint64(head))
	return uint64(head), nil
}

// Block fetches one block with full transaction objects. A missing block
// returns ErrBlockNotFound so callers can hold position instead of skipping
// past a head the node has not served yet.
func (g *Gateway) Block(ctx context.Context, number uint64) (*types.Block, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	if err := g.governor.Pace(ctx); err != nil {
		return nil, err
	}
	start := time.Now()
	var raw json.RawMessage
	err := g.client.CallContext(ctx, &raw, "eth_getBlockByNumber", hexutil.EncodeUint64(number), true)
	if err != nil {
		return nil, errors.Wrapf(err, "eth_getBlockByNumber %d failed", number)
	}
	blockRequestLatency.Observe(float64(time.Since(start).Milliseconds()))
	g.governor.Record(CallKindBlock)
	if len(raw) == 0 || string(raw) == "null" {
		return nil, errors.Wrapf(ErrBlockNotFound, "block %d", number)
	}
	var blk wireBlock
	if err := json.Unmarshal(raw, &blk); err != nil {
		return nil, errors.Wrapf(err, "malformed block %d", number)
	}
	return blk.toBlock(), nil
}

// GasPrice returns the node's suggested gas price in wei.
func (g *Gateway) GasPrice(ctx context.Context) (*big.Int, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	if err := g.governor.Pace(ctx); err != nil {
		return nil, err
	}
	var price hexutil.Big
	if err := g.client.CallContext(ctx, &price, "eth_gasPrice"); err != nil {
		return nil, errors.Wrap(err, "eth_gasPrice failed")
	}
	g.governor.Record(CallKindGasPrice)
	return (*big.Int)(&price), nil
}

// TestConnection probes the node and reports its identity and liveness.
func (g *Gateway) TestConnection(ctx context.Context) (*types.Health, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	start := time.Now()
	var chainID hexutil.Big
	if err := g.client.CallContext(ctx, &chainID, "eth_chainId"); err != nil {
		return nil, errors.Wrap(err, "node unreachable")
	}
	g.governor.Record(CallKindHealth)
	head, err := g.Head(ctx)
	if err != nil {
		return nil, err
	}
	price, err := g.GasPrice(ctx)
	if err != nil {
		return nil, err
	}
	return &types.Health{
		ChainID:   (*big.Int)(&chainID),
		HeadBlock: head,
		GasPrice:  price,
		Latency:   time.Since(start),
	}, nil
}

// IsNotFound reports whether err is a missing-block answer rather than a
// transport failure.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrBlockNotFound)
}

// Stats snapshots call accounting and cache efficiency.
func (g *Gateway) Stats() Stats {
	hits := atomic.LoadInt64(&g.cacheHits)
	misses := atomic.LoadInt64(&g.cacheMisses)
	s := Stats{
		Governor:    g.governor.Snapshot(),
		CacheHits:   hits,
		CacheMisses: misses,
	}
	if total := hits + misses; total > 0 {
		s.CacheHitRate = float64(hits) / float64(total)
	}
	return s
}

// ResetCounters zeroes call accounting. The head cache is left alone.
func (g *Gateway) ResetCounters() {
	atomic.StoreInt64(&g.cacheHits, 0)
	atomic.StoreInt64(&g.cacheMisses, 0)
	g.governor.Reset()
}

// Governor exposes the pacing component, mainly for reports.
func (g *Gateway) Governor() *Governor {
	return g.governor
}

// Close releases the underlying client.
func (g *Gateway) Close() {
	g.client.Close()
}
