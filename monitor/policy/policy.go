// Package policy decides which classified transfers enter the pipeline. A
// policy holds one active strategy, swappable at runtime: large_amount
// accepts transfers at or above a per-symbol threshold, watch_address
// accepts transfers to watched recipients.
package policy

import (
	"math/big"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/chainsentry/evm-transfer-monitor/config"
	"github.com/chainsentry/evm-transfer-monitor/monitor/types"
)

var log = logrus.WithField("prefix", "policy")

// Policy filters transfers by the active strategy.
type Policy struct {
	watched *WatchedSet

	mu         sync.RWMutex
	strategy   string
	thresholds map[string]*big.Int       // scaled to base units per symbol
	sources    map[string]config.Decimal // as configured, for display
}

// New builds a policy from the monitor configuration. Thresholds are scaled
// once into base units so every Accept decision is a single integer compare.
func New(cfg *config.MonitorConfig, chain *config.ChainConfig, watched *WatchedSet) (*Policy, error) {
	scaled, err := ScaleThresholds(cfg.Thresholds, chain)
	if err != nil {
		return nil, err
	}
	return &Policy{
		watched:    watched,
		strategy:   cfg.Strategy,
		thresholds: scaled,
		sources:    copySources(cfg.Thresholds),
	}, nil
}

// ScaleThresholds converts configured decimal thresholds into base units at
// each symbol's precision.
func ScaleThresholds(in map[string]config.Decimal, chain *config.ChainConfig) (map[string]*big.Int, error) {
	out := make(map[string]*big.Int, len(in))
	for symbol, dec := range in {
		scaled, err := types.ParseUnits(dec.String(), chain.DecimalsFor(symbol))
		if err != nil {
			return nil, errors.Wrapf(err, "threshold for %s", symbol)
		}
		out[symbol] = scaled
	}
	return out, nil
}

func copySources(in map[string]config.Decimal) map[string]config.Decimal {
	out := make(map[string]config.Decimal, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Accept reports whether the transfer matches the active strategy.
// Self-transfers never match: an address topping itself up is not a
// deposit.
func (p *Policy) Accept(t *types.Transfer) bool {
	if t.From != "" && strings.EqualFold(t.From, t.To) {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	switch p.strategy {
	case config.StrategyLargeAmount:
		threshold, ok := p.thresholds[t.AssetSymbol]
		if !ok {
			// A symbol with no configured threshold is not monitored.
			return false
		}
		return t.AmountRaw != nil && t.AmountRaw.Cmp(threshold) >= 0
	case config.StrategyWatchAddress:
		return p.watched.Contains(t.To)
	default:
		return false
	}
}

// Strategy returns the active strategy name.
func (p *Policy) Strategy() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.strategy
}

// SetStrategy swaps the active strategy. In-flight transfers keep the
// decision made when they were observed.
func (p *Policy) SetStrategy(name string) error {
	switch name {
	case config.StrategyLargeAmount, config.StrategyWatchAddress:
	default:
		return errors.Errorf("unknown monitor strategy %q", name)
	}
	p.mu.Lock()
	prev := p.strategy
	p.strategy = name
	p.mu.Unlock()
	if prev != name {
		log.WithFields(logrus.Fields{
			"previous": prev,
			"active":   name,
		}).Info("Monitoring strategy switched")
	}
	return nil
}

// SetThresholds rescales and replaces the per-symbol thresholds.
func (p *Policy) SetThresholds(in map[string]config.Decimal, chain *config.ChainConfig) error {
	scaled, err := ScaleThresholds(in, chain)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.thresholds = scaled
	p.sources = copySources(in)
	p.mu.Unlock()
	return nil
}

// Thresholds returns the configured thresholds as decimal strings.
func (p *Policy) Thresholds() map[string]string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]string, len(p.sources))
	for symbol, dec := range p.sources {
		out[symbol] = dec.String()
	}
	return out
}

// Watched exposes the watch set backing the watch_address strategy.
func (p *Policy) Watched() *WatchedSet {
	return p.watched
}
