package policy_test

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainsentry/evm-transfer-monitor/config"
	"github.com/chainsentry/evm-transfer-monitor/monitor/policy"
	"github.com/chainsentry/evm-transfer-monitor/monitor/types"
)

const watchedAddr = "0xdc6bdc37b2714ee601734cf55a05625c9e512461"

func testChain() *config.ChainConfig {
	return &config.ChainConfig{
		Name:         "bsc_testnet",
		RPCURL:       "https://example.invalid",
		NativeSymbol: "BNB",
		USDTContract: "0x337610d27c682e347c9cd60bd4b3b107c9d34ddd",
	}
}

func transfer(symbol, amount string, decimals int) *types.Transfer {
	raw, err := types.ParseUnits(amount, decimals)
	if err != nil {
		panic(err)
	}
	return &types.Transfer{
		TxHash:      "0xf1",
		From:        "0x49d3f1b1cb6ab4b67b3a8ae8ec53aaf0798ea12c",
		To:          watchedAddr,
		AssetSymbol: symbol,
		AmountRaw:   raw,
		Amount:      amount,
		Decimals:    decimals,
	}
}

func TestPolicy_LargeAmount(t *testing.T) {
	cfg := &config.MonitorConfig{
		Strategy: config.StrategyLargeAmount,
		Thresholds: map[string]config.Decimal{
			"BNB":  "1.5",
			"USDT": "100",
		},
	}
	p, err := policy.New(cfg, testChain(), policy.NewWatchedSet())
	require.NoError(t, err)

	assert.True(t, p.Accept(transfer("BNB", "1.5", 18)), "threshold boundary is inclusive")
	assert.True(t, p.Accept(transfer("BNB", "2", 18)))
	assert.False(t, p.Accept(transfer("BNB", "1.499999999999999999", 18)))
	assert.True(t, p.Accept(transfer("USDT", "100", 18)))
	assert.False(t, p.Accept(transfer("USDT", "99.999999999999999999", 18)))
	assert.False(t, p.Accept(transfer("CAKE", "100000", 18)), "symbols without thresholds are not monitored")
}

func TestPolicy_WatchAddress(t *testing.T) {
	cfg := &config.MonitorConfig{Strategy: config.StrategyWatchAddress}
	watched := policy.NewWatchedSet()
	// Checksum-cased input still matches the lowercased transfer recipient.
	_, err := watched.Add("0xDc6bDc37B2714eE601734cf55A05625C9e512461")
	require.NoError(t, err)

	p, err := policy.New(cfg, testChain(), watched)
	require.NoError(t, err)

	assert.True(t, p.Accept(transfer("BNB", "0.001", 18)), "watched recipients match regardless of amount")
	other := transfer("BNB", "5000", 18)
	other.To = "0x49d3f1b1cb6ab4b67b3a8ae8ec53aaf0798ea12d"
	assert.False(t, p.Accept(other))
}

func TestPolicy_RejectsSelfTransfers(t *testing.T) {
	for _, strategy := range []string{config.StrategyLargeAmount, config.StrategyWatchAddress} {
		cfg := &config.MonitorConfig{
			Strategy:   strategy,
			Thresholds: map[string]config.Decimal{"BNB": "1"},
		}
		watched := policy.NewWatchedSet()
		_, err := watched.Add(watchedAddr)
		require.NoError(t, err)
		p, err := policy.New(cfg, testChain(), watched)
		require.NoError(t, err)

		tr := transfer("BNB", "10", 18)
		tr.From = tr.To
		assert.False(t, p.Accept(tr), "strategy %s accepted a self-transfer", strategy)
	}
}

func TestPolicy_SetStrategy(t *testing.T) {
	cfg := &config.MonitorConfig{
		Strategy:   config.StrategyLargeAmount,
		Thresholds: map[string]config.Decimal{"BNB": "1000"},
	}
	watched := policy.NewWatchedSet()
	_, err := watched.Add(watchedAddr)
	require.NoError(t, err)
	p, err := policy.New(cfg, testChain(), watched)
	require.NoError(t, err)

	small := transfer("BNB", "0.01", 18)
	assert.False(t, p.Accept(small))

	require.NoError(t, p.SetStrategy(config.StrategyWatchAddress))
	assert.Equal(t, config.StrategyWatchAddress, p.Strategy())
	assert.True(t, p.Accept(small), "watched recipient matches after the swap")

	assert.Error(t, p.SetStrategy("whale_watching"))
	assert.Equal(t, config.StrategyWatchAddress, p.Strategy(), "failed swap leaves the strategy alone")
}

func TestPolicy_SetThresholds(t *testing.T) {
	cfg := &config.MonitorConfig{
		Strategy:   config.StrategyLargeAmount,
		Thresholds: map[string]config.Decimal{"BNB": "1000"},
	}
	p, err := policy.New(cfg, testChain(), policy.NewWatchedSet())
	require.NoError(t, err)
	assert.False(t, p.Accept(transfer("BNB", "2", 18)))

	require.NoError(t, p.SetThresholds(map[string]config.Decimal{"BNB": "1"}, testChain()))
	assert.True(t, p.Accept(transfer("BNB", "2", 18)))
	assert.Equal(t, map[string]string{"BNB": "1"}, p.Thresholds())
}

func TestScaleThresholds(t *testing.T) {
	chain := testChain()
	chain.Tokens = map[string]config.TokenConfig{
		"CAKE": {Address: "0x0e09fabb73bd3ade0a17ecc321fd13a19e81ce82", Decimals: 6},
	}

	scaled, err := policy.ScaleThresholds(map[string]config.Decimal{
		"BNB":  "0.5",
		"CAKE": "12.5",
	}, chain)
	require.NoError(t, err)
	assert.Equal(t, "500000000000000000", scaled["BNB"].String())
	assert.Equal(t, "12500000", scaled["CAKE"].String())

	// More fractional digits than the token can represent is a config error.
	_, err = policy.ScaleThresholds(map[string]config.Decimal{"CAKE": "0.0000001"}, chain)
	assert.Error(t, err)
}

func TestPolicy_AcceptBeforeThresholdScaling(t *testing.T) {
	// A malformed threshold must fail construction, not first use.
	cfg := &config.MonitorConfig{
		Strategy:   config.StrategyLargeAmount,
		Thresholds: map[string]config.Decimal{"BNB": "not-a-number"},
	}
	_, err := policy.New(cfg, testChain(), policy.NewWatchedSet())
	assert.Error(t, err)
}

func TestParseUnitsThresholdBoundary(t *testing.T) {
	// The comparison space is integer base units; make sure the helper and
	// the policy agree on scale.
	raw, err := types.ParseUnits("1.5", 18)
	require.NoError(t, err)
	want := new(big.Int)
	want.SetString("1500000000000000000", 10)
	assert.Zero(t, raw.Cmp(want))
}
