package stats_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/chainsentry/evm-transfer-monitor/monitor/pending"
	"github.com/chainsentry/evm-transfer-monitor/monitor/rpc"
	"github.com/chainsentry/evm-transfer-monitor/monitor/stats"
	"github.com/chainsentry/evm-transfer-monitor/monitor/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_SnapshotAggregates(t *testing.T) {
	c := stats.NewCollector()

	c.BlockProcessed(20 * time.Millisecond)
	c.BlockProcessed(40 * time.Millisecond)
	c.TransferAccepted("BNB")
	c.TransferAccepted("USDT")
	c.TransferAccepted("USDT")
	c.TokenContractSeen()
	c.TokenTransferDecoded()
	c.PolicyRejected()
	c.Confirmed(2)
	c.TimedOut(1)
	c.ReorgObserved()
	c.NotificationSent()
	c.NotificationRetried()
	c.NotificationFailed()

	rep := c.Snapshot()
	assert.Equal(t, uint64(2), rep.BlocksProcessed)
	assert.Equal(t, float64(30), rep.AvgBlockMilliseconds)
	assert.Equal(t, uint64(3), rep.TotalAccepted)
	assert.Equal(t, uint64(1), rep.AcceptedBySymbol["BNB"])
	assert.Equal(t, uint64(2), rep.AcceptedBySymbol["USDT"])
	assert.Equal(t, uint64(1), rep.TokenContractsSeen)
	assert.Equal(t, uint64(1), rep.TokenTransfersDecoded)
	assert.Equal(t, uint64(1), rep.PolicyRejects)
	assert.Equal(t, uint64(2), rep.Confirmed)
	assert.Equal(t, uint64(1), rep.Timeouts)
	assert.Equal(t, uint64(1), rep.Reorgs)
	assert.Equal(t, uint64(1), rep.NotificationsSent)
	assert.Equal(t, uint64(1), rep.NotificationRetries)
	assert.Equal(t, uint64(1), rep.NotificationsFailed)
}

func TestCollector_ProcessingTimeWindowSlides(t *testing.T) {
	c := stats.NewCollector()
	for i := 0; i < 10; i++ {
		c.BlockProcessed(100 * time.Millisecond)
	}
	require.Equal(t, float64(100), c.Snapshot().AvgBlockMilliseconds)

	// 50 more pushes the early samples out of the window.
	for i := 0; i < 50; i++ {
		c.BlockProcessed(200 * time.Millisecond)
	}
	assert.Equal(t, float64(200), c.Snapshot().AvgBlockMilliseconds)
}

func TestCollector_PeaksOnlyRise(t *testing.T) {
	c := stats.NewCollector()
	c.ObservePending(4)
	c.ObservePending(2)
	c.ObserveRPCRate(3.5)
	c.ObserveRPCRate(1.0)

	rep := c.Snapshot()
	assert.Equal(t, 4, rep.PeakPending)
	assert.Equal(t, 3.5, rep.PeakRPCRate)
}

func TestCollector_Reset(t *testing.T) {
	c := stats.NewCollector()
	c.BlockProcessed(time.Millisecond)
	c.TransferAccepted("BNB")
	c.ObservePending(9)
	c.Reset()

	rep := c.Snapshot()
	assert.Zero(t, rep.BlocksProcessed)
	assert.Zero(t, rep.TotalAccepted)
	assert.Empty(t, rep.AcceptedBySymbol)
	assert.Zero(t, rep.PeakPending)
	assert.Zero(t, rep.AvgBlockMilliseconds)
}

type fakeRPC struct {
	s rpc.Stats
}

func (f fakeRPC) Stats() rpc.Stats { return f.s }

func TestReporter_FoldsPeaksIntoCollector(t *testing.T) {
	collector := stats.NewCollector()
	idx := pending.NewIndex()
	idx.Insert(&types.Transfer{
		TxHash:      "0xa",
		BlockNumber: 1,
		AssetSymbol: "BNB",
		AmountRaw:   big.NewInt(1),
		IsNative:    true,
		FoundAt:     time.Now(),
	})

	src := fakeRPC{s: rpc.Stats{Governor: rpc.GovernorStats{CurrentPerSecond: 3, WithinBudget: true}}}
	r := stats.NewReporter(context.Background(), &stats.ReporterConfig{
		Interval:  10 * time.Millisecond,
		Collector: collector,
		RPC:       src,
		Pending:   idx,
	})
	r.Start()
	defer func() {
		require.NoError(t, r.Stop())
	}()

	require.Eventually(t, func() bool {
		rep := collector.Snapshot()
		return rep.PeakPending == 1 && rep.PeakRPCRate == 3
	}, 2*time.Second, 10*time.Millisecond)
	assert.NoError(t, r.Status())
}
