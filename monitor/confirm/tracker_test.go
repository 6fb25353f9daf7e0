package confirm_test

import (
	"context"
	"encoding/json"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chainsentry/evm-transfer-monitor/config"
	"github.com/chainsentry/evm-transfer-monitor/monitor/confirm"
	dbtest "github.com/chainsentry/evm-transfer-monitor/monitor/db/testing"
	"github.com/chainsentry/evm-transfer-monitor/monitor/pending"
	rpctest "github.com/chainsentry/evm-transfer-monitor/monitor/rpc/testing"
	"github.com/chainsentry/evm-transfer-monitor/monitor/stats"
	"github.com/chainsentry/evm-transfer-monitor/monitor/types"
	logTest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNotifier struct {
	mu       sync.Mutex
	disabled bool
	enqueued []*types.NotificationRecord
}

func (f *fakeNotifier) Enabled() bool    { return !f.disabled }
func (f *fakeNotifier) MaxAttempts() int { return 3 }

func (f *fakeNotifier) Enqueue(rec *types.NotificationRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, rec)
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.enqueued)
}

type fixture struct {
	tracker   *confirm.Tracker
	store     *dbtest.MemoryStore
	index     *pending.Index
	chain     *rpctest.FakeChain
	notifier  *fakeNotifier
	collector *stats.Collector
}

func newFixture(t *testing.T, mon *config.MonitorConfig) *fixture {
	t.Helper()
	f := &fixture{
		store:     dbtest.NewMemoryStore(),
		index:     pending.NewIndex(),
		chain:     rpctest.NewFakeChain(),
		notifier:  &fakeNotifier{},
		collector: stats.NewCollector(),
	}
	tracker, err := confirm.NewTracker(&confirm.Config{
		Store:    f.store,
		Index:    f.index,
		Head:     f.chain,
		Notifier: f.notifier,
		Stats:    f.collector,
		Monitor:  mon,
		Chain:    &config.ChainConfig{Name: "bsc", NativeSymbol: "BNB"},
	})
	require.NoError(t, err)
	f.tracker = tracker
	return f
}

func defaultMonitorConfig() *config.MonitorConfig {
	return &config.MonitorConfig{
		RequiredConfirmations:       3,
		ConfirmationCheckInterval:   10,
		TransactionTimeout:          300,
		HighValueThresholds:         map[string]config.Decimal{"BNB": "10"},
		HighValueExtraConfirmations: 5,
	}
}

func (f *fixture) seed(t *testing.T, hash string, block uint64, amountBNB int64) *types.Transfer {
	t.Helper()
	raw := new(big.Int).Mul(big.NewInt(amountBNB), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
	tr := &types.Transfer{
		TxHash:      hash,
		BlockNumber: block,
		BlockHash:   "0xblock",
		From:        "0x1111111111111111111111111111111111111111",
		To:          "0x2222222222222222222222222222222222222222",
		AssetSymbol: "BNB",
		AmountRaw:   raw,
		Amount:      types.FormatUnits(raw, 18),
		IsNative:    true,
		Decimals:    18,
		FoundAt:     time.Now(),
	}
	_, created, err := f.store.UpsertPending(context.Background(), tr)
	require.NoError(t, err)
	require.True(t, created)
	f.index.Insert(tr)
	return tr
}

func TestTracker_ConfirmsAtRequiredDepth(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultMonitorConfig())
	tr := f.seed(t, "0xaaa", 100, 1)

	// Depth 2 of 3: nothing moves.
	f.chain.SetHead(101)
	require.NoError(t, f.tracker.Drain(ctx))
	assert.Equal(t, 1, f.index.Len())
	assert.Zero(t, f.notifier.count())

	// Depth 3: confirmed, recorded, dispatched.
	f.chain.SetHead(102)
	require.NoError(t, f.tracker.Drain(ctx))
	assert.Zero(t, f.index.Len())

	dep, err := f.store.DepositByTxHash(ctx, tr.TxHash)
	require.NoError(t, err)
	assert.Equal(t, types.DepositStatusConfirmed, dep.Status)
	assert.Equal(t, 3, dep.Confirmations)

	require.Equal(t, 1, f.notifier.count())
	rec := f.notifier.enqueued[0]
	body := make(map[string]interface{})
	require.NoError(t, json.Unmarshal([]byte(rec.RequestData), &body))
	assert.Equal(t, "deposit_confirmed", body["type"])
	assert.Equal(t, "0xaaa", body["tx_hash"])
	assert.Equal(t, "1", body["amount"])

	assert.Equal(t, uint64(1), f.collector.Snapshot().Confirmed)
}

func TestTracker_HighValueWaitsExtraDepth(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultMonitorConfig())
	small := f.seed(t, "0xsmall", 100, 1)
	large := f.seed(t, "0xlarge", 100, 50)

	// Depth 3 satisfies the small transfer only; the block stays with the
	// high-value remainder.
	f.chain.SetHead(102)
	require.NoError(t, f.tracker.Drain(ctx))
	assert.Equal(t, 1, f.index.Len())
	left := f.index.TransfersIn(100)
	require.Len(t, left, 1)
	assert.Equal(t, large.TxHash, left[0].TxHash)

	dep, err := f.store.DepositByTxHash(ctx, small.TxHash)
	require.NoError(t, err)
	assert.Equal(t, types.DepositStatusConfirmed, dep.Status)

	// Depth 8 = 3 + 5 extra clears the high-value transfer too.
	f.chain.SetHead(107)
	require.NoError(t, f.tracker.Drain(ctx))
	assert.Zero(t, f.index.Len())

	dep, err = f.store.DepositByTxHash(ctx, large.TxHash)
	require.NoError(t, err)
	assert.Equal(t, types.DepositStatusConfirmed, dep.Status)
	assert.Equal(t, 8, dep.Confirmations)
	assert.Equal(t, 2, f.notifier.count())
}

func TestTracker_DefaultThresholdCoversUnlistedSymbols(t *testing.T) {
	ctx := context.Background()
	mon := defaultMonitorConfig()
	mon.HighValueThresholds = map[string]config.Decimal{"default": "100"}
	f := newFixture(t, mon)

	seedToken := func(hash string, units int64) *types.Transfer {
		t.Helper()
		raw := new(big.Int).Mul(big.NewInt(units), big.NewInt(1_000_000))
		tr := &types.Transfer{
			TxHash:        hash,
			BlockNumber:   200,
			BlockHash:     "0xblock",
			From:          "0x1111111111111111111111111111111111111111",
			To:            "0x2222222222222222222222222222222222222222",
			AssetSymbol:   "USDT",
			AmountRaw:     raw,
			Amount:        types.FormatUnits(raw, 6),
			TokenContract: "0x900101d06a7426441ae63e9ab3b9b0f63be145f1",
			Decimals:      6,
			FoundAt:       time.Now(),
		}
		_, created, err := f.store.UpsertPending(ctx, tr)
		require.NoError(t, err)
		require.True(t, created)
		f.index.Insert(tr)
		return tr
	}
	small := seedToken("0xsmallusdt", 50)
	large := seedToken("0xlargeusdt", 150)

	// Depth 3 confirms only the transfer under the default threshold. The
	// threshold scales at the transfer's own precision, 6 decimals here.
	f.chain.SetHead(202)
	require.NoError(t, f.tracker.Drain(ctx))
	dep, err := f.store.DepositByTxHash(ctx, small.TxHash)
	require.NoError(t, err)
	assert.Equal(t, types.DepositStatusConfirmed, dep.Status)
	dep, err = f.store.DepositByTxHash(ctx, large.TxHash)
	require.NoError(t, err)
	assert.Equal(t, types.DepositStatusPending, dep.Status)

	// Depth 8 = required + extra clears the high-value transfer too.
	f.chain.SetHead(207)
	require.NoError(t, f.tracker.Drain(ctx))
	dep, err = f.store.DepositByTxHash(ctx, large.TxHash)
	require.NoError(t, err)
	assert.Equal(t, types.DepositStatusConfirmed, dep.Status)
}

func TestTracker_TickHonorsInterval(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultMonitorConfig())
	f.seed(t, "0xaaa", 100, 1)
	f.chain.SetHead(102)

	// First tick sweeps immediately.
	require.NoError(t, f.tracker.Tick(ctx))
	assert.Zero(t, f.index.Len())

	// A fresh transfer at depth is not confirmed inside the interval.
	f.seed(t, "0xbbb", 100, 1)
	require.NoError(t, f.tracker.Tick(ctx))
	assert.Equal(t, 1, f.index.Len())

	// Drain ignores the interval.
	require.NoError(t, f.tracker.Drain(ctx))
	assert.Zero(t, f.index.Len())
}

func TestTracker_ReorgKeepsTransfers(t *testing.T) {
	hook := logTest.NewGlobal()
	ctx := context.Background()
	f := newFixture(t, defaultMonitorConfig())
	tr := f.seed(t, "0xaaa", 100, 1)

	f.chain.SetHead(99)
	require.NoError(t, f.tracker.Drain(ctx))

	assert.Equal(t, 1, f.index.Len(), "reorged transfers stay tracked")
	dep, err := f.store.DepositByTxHash(ctx, tr.TxHash)
	require.NoError(t, err)
	assert.Equal(t, types.DepositStatusPending, dep.Status)
	assert.Equal(t, uint64(1), f.collector.Snapshot().Reorgs)

	var warned bool
	for _, e := range hook.AllEntries() {
		if strings.Contains(e.Message, "possible reorg") {
			warned = true
		}
	}
	assert.True(t, warned, "expected a reorg warning in the logs")
}

func TestTracker_ReconcileDispatchesMissedNotifications(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultMonitorConfig())
	tr := f.seed(t, "0xaaa", 100, 1)
	f.index.Clear()

	// Confirmed by a previous run that died before dispatching.
	require.NoError(t, f.store.MarkConfirmed(ctx, tr.TxHash, 3))

	require.NoError(t, f.tracker.Reconcile(ctx))
	assert.Equal(t, 1, f.notifier.count())

	// A second pass must not double-dispatch.
	require.NoError(t, f.tracker.Reconcile(ctx))
	assert.Equal(t, 1, f.notifier.count())
}

func TestTracker_EvictStale(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultMonitorConfig())
	tr := f.seed(t, "0xaaa", 100, 1)
	stale := f.index.RemoveBlock(100)[0]
	stale.FoundAt = time.Now().Add(-10 * time.Minute)
	f.index.Insert(stale)

	f.tracker.EvictStale()

	assert.Zero(t, f.index.Len())
	assert.Equal(t, uint64(1), f.collector.Snapshot().Timeouts)
	// The record stays pending; eviction only stops tracking.
	dep, err := f.store.DepositByTxHash(ctx, tr.TxHash)
	require.NoError(t, err)
	assert.Equal(t, types.DepositStatusPending, dep.Status)
}

func TestTracker_DisabledNotifierSkipsDispatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, defaultMonitorConfig())
	f.notifier.disabled = true
	tr := f.seed(t, "0xaaa", 100, 1)

	f.chain.SetHead(102)
	require.NoError(t, f.tracker.Drain(ctx))

	dep, err := f.store.DepositByTxHash(ctx, tr.TxHash)
	require.NoError(t, err)
	assert.Equal(t, types.DepositStatusConfirmed, dep.Status)
	assert.Zero(t, f.notifier.count())

	counts, err := f.store.NotificationsByStatus(ctx)
	require.NoError(t, err)
	assert.Empty(t, counts)
}
