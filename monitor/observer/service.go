// Package observer drives the scan pipeline: it follows the chain head,
// pulls each new block exactly once, classifies its transactions, and hands
// accepted transfers to the store and the confirmation tracker. Blocks are
// never skipped; when the node has not served a height yet the observer
// holds position and retries on the next pass.
package observer

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/chainsentry/evm-transfer-monitor/config"
	"github.com/chainsentry/evm-transfer-monitor/monitor/confirm"
	"github.com/chainsentry/evm-transfer-monitor/monitor/db"
	"github.com/chainsentry/evm-transfer-monitor/monitor/decode"
	"github.com/chainsentry/evm-transfer-monitor/monitor/pending"
	"github.com/chainsentry/evm-transfer-monitor/monitor/policy"
	"github.com/chainsentry/evm-transfer-monitor/monitor/rpc"
	"github.com/chainsentry/evm-transfer-monitor/monitor/stats"
	"github.com/chainsentry/evm-transfer-monitor/monitor/types"
)

var log = logrus.WithField("prefix", "observer")

const (
	// scanCadence is the target pass period. Faster chains simply yield
	// multiple blocks per pass.
	scanCadence = time.Second
	// scanFloor is the minimum breather between passes when a pass ran
	// long.
	scanFloor = 100 * time.Millisecond
	// maintenanceInterval spaces timeout evictions and gauge refreshes.
	maintenanceInterval = time.Minute
	// drainTimeout bounds the final confirmation sweep on shutdown.
	drainTimeout = 10 * time.Second

	connectInitialInterval = time.Second
	connectMaxInterval     = 30 * time.Second
)

// Chain is the node surface the observer consumes.
type Chain interface {
	Head(ctx context.Context) (uint64, error)
	Block(ctx context.Context, number uint64) (*types.Block, error)
	TestConnection(ctx context.Context) (*types.Health, error)
}

// Config wires the observer to the pipeline.
type Config struct {
	Chain    Chain
	ChainCfg *config.ChainConfig
	Store    db.Store
	Index    *pending.Index
	Decoder  *decode.Decoder
	Policy   *policy.Policy
	Tracker  *confirm.Tracker
	Stats    *stats.Collector
}

// Service is the scan loop. It reports unhealthy until the first successful
// node probe, so health checks reflect actual readiness.
type Service struct {
	ctx     context.Context
	cancel  context.CancelFunc
	cfg     *Config
	stopped chan struct{}

	mu              sync.RWMutex
	connected       bool
	lastProcessed   uint64
	lastMaintenance time.Time
}

// NewService builds the observer.
func NewService(ctx context.Context, cfg *Config) *Service {
	ctx, cancel := context.WithCancel(ctx)
	return &Service{
		ctx:     ctx,
		cancel:  cancel,
		cfg:     cfg,
		stopped: make(chan struct{}),
	}
}

// Start launches the scan loop.
func (s *Service) Start() {
	log.WithFields(logrus.Fields{
		"chain":    s.cfg.ChainCfg.Name,
		"strategy": s.cfg.Policy.Strategy(),
	}).Info("Starting transfer observer")
	go s.run()
}

// Stop signals the loop and waits for the final confirmation sweep.
func (s *Service) Stop() error {
	s.cancel()
	select {
	case <-s.stopped:
	case <-time.After(drainTimeout + scanCadence):
		log.Warn("Observer did not drain before the deadline")
	}
	return nil
}

// Status reports readiness: unhealthy until the node answered its first
// probe.
func (s *Service) Status() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.connected {
		return errors.New("waiting for chain node connection")
	}
	return nil
}

// LastProcessed returns the highest block fully scanned.
func (s *Service) LastProcessed() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastProcessed
}

func (s *Service) run() {
	defer close(s.stopped)

	if err := s.awaitConnected(); err != nil {
		return
	}
	if err := s.cfg.Tracker.Reconcile(s.ctx); err != nil {
		log.WithError(err).Error("Could not reconcile confirmed deposits")
	}
	s.warmIndex()

	for {
		select {
		case <-s.ctx.Done():
			s.drain()
			return
		default:
		}
		start := time.Now()
		s.scanOnce()
		if err := s.cfg.Tracker.Tick(s.ctx); err != nil && s.ctx.Err() == nil {
			log.WithError(err).Warn("Confirmation sweep failed")
		}
		s.maintain()
		s.pause(start)
	}
}

// awaitConnected probes the node until it answers, backing off between
// attempts. Only a canceled context stops the wait.
func (s *Service) awaitConnected() error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = connectInitialInterval
	bo.MaxInterval = connectMaxInterval
	bo.MaxElapsedTime = 0

	var health *types.Health
	err := backoff.Retry(func() error {
		h, err := s.cfg.Chain.TestConnection(s.ctx)
		if err != nil {
			log.WithError(err).Warn("Chain node unreachable, retrying")
			return err
		}
		health = h
		return nil
	}, backoff.WithContext(bo, s.ctx))
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.connected = true
	s.lastProcessed = health.HeadBlock
	s.mu.Unlock()
	chainHeadGauge.Set(float64(health.HeadBlock))
	log.WithFields(logrus.Fields{
		"chainID":  health.ChainID,
		"head":     health.HeadBlock,
		"gasPrice": types.FormatUnits(health.GasPrice, 9) + " gwei",
		"latency":  health.Latency.Round(time.Millisecond),
	}).Info("Connected to chain node")
	return nil
}

// warmIndex restores the pending set from deposits a previous run left
// unconfirmed.
func (s *Service) warmIndex() {
	deps, err := s.cfg.Store.LoadPendingDeposits(s.ctx)
	if err != nil {
		log.WithError(err).Error("Could not load pending deposits")
		return
	}
	restored := 0
	for _, dep := range deps {
		tr, err := transferFromRecord(dep)
		if err != nil {
			log.WithError(err).WithField("txHash", dep.TxHash).Warn("Skipping unreadable pending deposit")
			continue
		}
		s.cfg.Index.Insert(tr)
		restored++
	}
	if restored > 0 {
		log.WithField("deposits", restored).Info("Restored pending transfers from database")
	}
}

// scanOnce advances from the last processed block to the current head. Any
// fetch problem holds position so the block is retried next pass.
func (s *Service) scanOnce() {
	head, err := s.cfg.Chain.Head(s.ctx)
	if err != nil {
		if s.ctx.Err() == nil {
			log.WithError(err).Warn("Could not fetch chain head")
		}
		return
	}
	chainHeadGauge.Set(float64(head))

	for n := s.LastProcessed() + 1; n <= head; n++ {
		if s.ctx.Err() != nil {
			return
		}
		blockStart := time.Now()
		blk, err := s.cfg.Chain.Block(s.ctx, n)
		if err != nil {
			if rpc.IsNotFound(err) {
				log.WithField("block", n).Debug("Block not served yet, holding position")
			} else if s.ctx.Err() == nil {
				log.WithError(err).WithField("block", n).Warn("Could not fetch block")
			}
			return
		}
		s.processBlock(blk)
		s.mu.Lock()
		s.lastProcessed = n
		s.mu.Unlock()
		s.cfg.Stats.BlockProcessed(time.Since(blockStart))
		blocksProcessedTotal.Inc()
	}
}

func (s *Service) processBlock(blk *types.Block) {
	accepted := 0
	for _, tx := range blk.Transactions {
		if _, ok := s.cfg.Decoder.TokenAt(tx.To); ok {
			s.cfg.Stats.TokenContractSeen()
		}
		tr, err := s.cfg.Decoder.Decode(tx)
		if err != nil {
			log.WithError(err).WithFields(logrus.Fields{
				"txHash": tx.Hash,
				"block":  blk.Number,
			}).Debug("Skipping undecodable transaction")
			continue
		}
		if tr == nil {
			continue
		}
		if !tr.IsNative {
			s.cfg.Stats.TokenTransferDecoded()
		}
		if !s.cfg.Policy.Accept(tr) {
			s.cfg.Stats.PolicyRejected()
			continue
		}
		_, created, err := s.cfg.Store.UpsertPending(s.ctx, tr)
		if err != nil {
			log.WithError(err).WithField("txHash", tr.TxHash).Error("Could not persist transfer")
			continue
		}
		if !created {
			// Rescan of a block we already recorded; the index was warmed
			// from the store.
			log.WithField("txHash", tr.TxHash).Debug("Transfer already recorded")
			continue
		}
		s.cfg.Index.Insert(tr)
		accepted++
		s.cfg.Stats.TransferAccepted(tr.AssetSymbol)
		transfersAcceptedTotal.WithLabelValues(tr.Kind()).Inc()
		log.WithFields(logrus.Fields{
			"txHash": tr.TxHash,
			"block":  tr.BlockNumber,
			"asset":  tr.AssetSymbol,
			"amount": tr.Amount,
			"to":     tr.To,
			"url":    s.cfg.ChainCfg.TxURL(tr.TxHash),
		}).Info("Transfer accepted for tracking")
	}
	if len(blk.Transactions) > 0 {
		log.WithFields(logrus.Fields{
			"block":        blk.Number,
			"transactions": len(blk.Transactions),
			"accepted":     accepted,
		}).Debug("Block processed")
	}
}

func (s *Service) maintain() {
	s.mu.Lock()
	due := time.Since(s.lastMaintenance) >= maintenanceInterval
	if due {
		s.lastMaintenance = time.Now()
	}
	s.mu.Unlock()
	if !due {
		return
	}
	s.cfg.Tracker.EvictStale()
	s.cfg.Stats.ObservePending(s.cfg.Index.Len())
	pendingTransfersGauge.Set(float64(s.cfg.Index.Len()))
}

// pause keeps the loop near the scan cadence. A pass that outruns the
// chain's block production gets a warning; there is no catching up by
// skipping.
func (s *Service) pause(start time.Time) {
	elapsed := time.Since(start)
	if period := s.cfg.ChainCfg.BlockPeriod(); period > 0 && elapsed > period {
		log.WithFields(logrus.Fields{
			"elapsed":     elapsed.Round(time.Millisecond),
			"blockPeriod": period,
		}).Warn("Scan pass slower than block production")
	}
	wait := scanCadence - elapsed
	if wait < scanFloor {
		wait = scanFloor
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-s.ctx.Done():
	case <-t.C:
	}
}

func (s *Service) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := s.cfg.Tracker.Drain(ctx); err != nil {
		log.WithError(err).Warn("Final confirmation sweep failed")
	}
	log.WithField("pending", s.cfg.Index.Len()).Info("Observer stopped")
}

// transferFromRecord rebuilds the in-memory transfer for a stored pending
// deposit. The original observation time is preserved so the timeout clock
// keeps running across restarts.
func transferFromRecord(dep *types.DepositRecord) (*types.Transfer, error) {
	raw, err := dep.AmountBig()
	if err != nil {
		return nil, errors.Wrap(err, "could not parse stored amount")
	}
	return &types.Transfer{
		TxHash:        dep.TxHash,
		BlockNumber:   dep.BlockNumber,
		BlockHash:     dep.BlockHash,
		From:          dep.FromAddress,
		To:            dep.ToAddress,
		AssetSymbol:   dep.TokenSymbol,
		AmountRaw:     raw,
		Amount:        types.CanonicalDecimal(dep.Amount),
		IsNative:      dep.TokenAddress == "",
		TokenContract: dep.TokenAddress,
		Decimals:      dep.TokenDecimals,
		FoundAt:       dep.CreatedAt,
	}, nil
}
