// Package confirm advances pending transfers through their confirmation
// lifecycle. Depth is computed per block against the chain head; transfers
// that reach their requirement are confirmed in the store and handed to the
// notifier, transfers that linger past the timeout are dropped from
// tracking.
package confirm

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/chainsentry/evm-transfer-monitor/config"
	"github.com/chainsentry/evm-transfer-monitor/monitor/db"
	"github.com/chainsentry/evm-transfer-monitor/monitor/notify"
	"github.com/chainsentry/evm-transfer-monitor/monitor/pending"
	"github.com/chainsentry/evm-transfer-monitor/monitor/policy"
	"github.com/chainsentry/evm-transfer-monitor/monitor/types"
)

var log = logrus.WithField("prefix", "confirm")

// HeadFetcher supplies the current chain head.
type HeadFetcher interface {
	Head(ctx context.Context) (uint64, error)
}

// Notifier accepts notifications created by the tracker.
type Notifier interface {
	Enabled() bool
	MaxAttempts() int
	Enqueue(rec *types.NotificationRecord)
}

// trackerStats is the slice of the stats collector the tracker feeds.
type trackerStats interface {
	Confirmed(n int)
	TimedOut(n int)
	ReorgObserved()
}

// Config wires the tracker to its collaborators.
type Config struct {
	Store    db.Store
	Index    *pending.Index
	Head     HeadFetcher
	Notifier Notifier
	Stats    trackerStats
	Monitor  *config.MonitorConfig
	Chain    *config.ChainConfig
}

// Tracker owns confirmation sweeps over the pending index.
type Tracker struct {
	cfg       *Config
	required  int
	extra     int
	highValue map[string]*big.Int
	// fallbackHV applies to symbols without an explicit threshold. It stays
	// unscaled because each transfer supplies its own precision.
	fallbackHV config.Decimal
	interval   time.Duration
	timeout    time.Duration

	mu        sync.Mutex
	lastSweep time.Time
}

// NewTracker builds a tracker, pre-scaling the high-value thresholds to
// base units so sweeps compare integers only. The reserved symbol "default"
// sets a fallback threshold for assets not listed explicitly.
func NewTracker(cfg *Config) (*Tracker, error) {
	thresholds := make(map[string]config.Decimal, len(cfg.Monitor.HighValueThresholds))
	var fallback config.Decimal
	for symbol, dec := range cfg.Monitor.HighValueThresholds {
		if symbol == "default" {
			fallback = dec
			continue
		}
		thresholds[symbol] = dec
	}
	highValue, err := policy.ScaleThresholds(thresholds, cfg.Chain)
	if err != nil {
		return nil, errors.Wrap(err, "invalid high value thresholds")
	}
	if fallback != "" {
		if _, err := types.ParseUnits(fallback.String(), config.NativeDecimals); err != nil {
			return nil, errors.Wrap(err, "invalid default high value threshold")
		}
	}
	return &Tracker{
		cfg:        cfg,
		required:   cfg.Monitor.RequiredConfirmations,
		extra:      cfg.Monitor.HighValueExtraConfirmations,
		highValue:  highValue,
		fallbackHV: fallback,
		interval:   cfg.Monitor.CheckInterval(),
		timeout:    cfg.Monitor.TransferTimeout(),
	}, nil
}

// Tick runs a confirmation sweep if the check interval has elapsed since
// the last one. The observer calls this after every block batch; the
// interval keeps head math from running more often than confirmations can
// change.
func (t *Tracker) Tick(ctx context.Context) error {
	t.mu.Lock()
	if time.Since(t.lastSweep) < t.interval {
		t.mu.Unlock()
		return nil
	}
	t.lastSweep = time.Now()
	t.mu.Unlock()
	return t.sweep(ctx)
}

// Drain sweeps immediately, ignoring the interval. Used on shutdown so
// transfers that already reached depth are not lost to timing.
func (t *Tracker) Drain(ctx context.Context) error {
	t.mu.Lock()
	t.lastSweep = time.Now()
	t.mu.Unlock()
	return t.sweep(ctx)
}

func (t *Tracker) sweep(ctx context.Context) error {
	if t.cfg.Index.Len() == 0 {
		return nil
	}
	head, err := t.cfg.Head.Head(ctx)
	if err != nil {
		return errors.Wrap(err, "could not fetch head for confirmation sweep")
	}

	total := 0
	for _, n := range t.cfg.Index.Blocks() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		depth := int64(head) - int64(n) + 1
		if depth <= 0 {
			// The head fell below a block we saw mined. Keep the transfers;
			// a reorg resolves on a later sweep once the head passes again.
			log.WithFields(logrus.Fields{
				"block": n,
				"head":  head,
			}).Warn("Chain head behind an observed block, possible reorg")
			t.cfg.Stats.ReorgObserved()
			reorgsObservedTotal.Inc()
			continue
		}

		var remaining []*types.Transfer
		done := 0
		for _, tr := range t.cfg.Index.TransfersIn(n) {
			if int(depth) < t.requiredFor(tr) {
				remaining = append(remaining, tr)
				continue
			}
			if err := t.confirm(ctx, tr, int(depth)); err != nil {
				log.WithError(err).WithField("txHash", tr.TxHash).Error("Could not finalize confirmed transfer")
				remaining = append(remaining, tr)
				continue
			}
			done++
		}
		if done > 0 {
			t.cfg.Index.ReplaceBlock(n, remaining)
			total += done
		}
	}
	if total > 0 {
		t.cfg.Stats.Confirmed(total)
	}
	return nil
}

// requiredFor returns the confirmation requirement for one transfer.
// High-value transfers wait out extra depth before they are trusted.
func (t *Tracker) requiredFor(tr *types.Transfer) int {
	if tr.AmountRaw == nil {
		return t.required
	}
	limit, ok := t.highValue[tr.AssetSymbol]
	if !ok && t.fallbackHV != "" {
		scaled, err := types.ParseUnits(t.fallbackHV.String(), tr.Decimals)
		if err == nil {
			limit, ok = scaled, true
		}
	}
	if ok && tr.AmountRaw.Cmp(limit) >= 0 {
		return t.required + t.extra
	}
	return t.required
}

func (t *Tracker) confirm(ctx context.Context, tr *types.Transfer, depth int) error {
	if err := t.cfg.Store.MarkConfirmed(ctx, tr.TxHash, depth); err != nil {
		return err
	}
	transfersConfirmedTotal.Inc()
	log.WithFields(logrus.Fields{
		"txHash":        tr.TxHash,
		"block":         tr.BlockNumber,
		"confirmations": depth,
		"amount":        tr.Amount,
		"asset":         tr.AssetSymbol,
		"url":           t.cfg.Chain.TxURL(tr.TxHash),
	}).Info("Transfer confirmed")
	return t.dispatch(ctx, tr.TxHash)
}

// dispatch creates and enqueues the notification for a confirmed deposit.
func (t *Tracker) dispatch(ctx context.Context, txHash string) error {
	if !t.cfg.Notifier.Enabled() {
		return nil
	}
	dep, err := t.cfg.Store.DepositByTxHash(ctx, txHash)
	if err != nil {
		return err
	}
	return t.dispatchDeposit(ctx, dep)
}

func (t *Tracker) dispatchDeposit(ctx context.Context, dep *types.DepositRecord) error {
	requestData, err := notify.BuildRequestData(dep, time.Now())
	if err != nil {
		return err
	}
	rec, err := t.cfg.Store.CreateNotification(ctx, dep, requestData, t.cfg.Notifier.MaxAttempts())
	if err != nil {
		if errors.Is(err, db.ErrNotificationExists) {
			log.WithField("txHash", dep.TxHash).Debug("Deposit already has a notification")
			return nil
		}
		return err
	}
	t.cfg.Notifier.Enqueue(rec)
	return nil
}

// Reconcile creates notifications for deposits a previous run confirmed but
// never dispatched. Run once at startup before the observer begins.
func (t *Tracker) Reconcile(ctx context.Context) error {
	if !t.cfg.Notifier.Enabled() {
		return nil
	}
	deps, err := t.cfg.Store.ListConfirmedAwaitingNotification(ctx, t.required)
	if err != nil {
		return errors.Wrap(err, "could not list deposits awaiting notification")
	}
	for _, dep := range deps {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := t.dispatchDeposit(ctx, dep); err != nil {
			log.WithError(err).WithField("txHash", dep.TxHash).Error("Could not reconcile confirmed deposit")
		}
	}
	if len(deps) > 0 {
		log.WithField("deposits", len(deps)).Info("Reconciled confirmed deposits awaiting notification")
	}
	return nil
}

// EvictStale drops transfers that stayed pending past the timeout. The
// deposit rows keep their pending status; eviction only stops the monitor
// from spending head math on them.
func (t *Tracker) EvictStale() {
	if t.timeout <= 0 {
		return
	}
	evicted := t.cfg.Index.PurgeOlderThan(time.Now().Add(-t.timeout))
	if len(evicted) == 0 {
		return
	}
	t.cfg.Stats.TimedOut(len(evicted))
	transfersTimedOutTotal.Add(float64(len(evicted)))
	for _, tr := range evicted {
		log.WithFields(logrus.Fields{
			"txHash": tr.TxHash,
			"block":  tr.BlockNumber,
			"age":    time.Since(tr.FoundAt).Round(time.Second),
		}).Warn("Transfer unconfirmed past timeout, dropping from tracking")
	}
}
