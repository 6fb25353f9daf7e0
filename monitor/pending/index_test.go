package pending_test

import (
	"math/big"
	"testing"
	"time"

	"github.com/chainsentry/evm-transfer-monitor/monitor/pending"
	"github.com/chainsentry/evm-transfer-monitor/monitor/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waiting(hash string, block uint64, native bool, foundAt time.Time) *types.Transfer {
	t := &types.Transfer{
		TxHash:      hash,
		BlockNumber: block,
		From:        "0x1111111111111111111111111111111111111111",
		To:          "0x2222222222222222222222222222222222222222",
		AssetSymbol: "BNB",
		AmountRaw:   big.NewInt(1),
		Amount:      "0.000000000000000001",
		IsNative:    native,
		FoundAt:     foundAt,
	}
	if !native {
		t.AssetSymbol = "USDT"
		t.TokenContract = "0x55d398326f99059ff775485246999027b3197955"
	}
	return t
}

func TestIndex_InsertAndBlocks(t *testing.T) {
	idx := pending.NewIndex()
	now := time.Now()

	idx.Insert(waiting("0xa", 12, true, now))
	idx.Insert(waiting("0xb", 10, false, now))
	idx.Insert(waiting("0xc", 12, false, now))

	assert.Equal(t, []uint64{10, 12}, idx.Blocks())
	assert.Equal(t, 3, idx.Len())
	assert.Equal(t, 2, idx.BlockCount())
	assert.Equal(t, map[uint64]int{10: 1, 12: 2}, idx.CountsByBlock())
	assert.Equal(t, map[string]int{types.KindNative: 1, types.KindToken: 2}, idx.CountsByKind())
}

func TestIndex_RemoveBlock(t *testing.T) {
	idx := pending.NewIndex()
	now := time.Now()
	idx.Insert(waiting("0xa", 5, true, now))
	idx.Insert(waiting("0xb", 5, true, now))

	removed := idx.RemoveBlock(5)
	require.Len(t, removed, 2)
	assert.Zero(t, idx.Len())
	assert.Nil(t, idx.RemoveBlock(5))
}

func TestIndex_ReplaceBlock(t *testing.T) {
	idx := pending.NewIndex()
	now := time.Now()
	a := waiting("0xa", 7, true, now)
	b := waiting("0xb", 7, true, now)
	idx.Insert(a)
	idx.Insert(b)

	idx.ReplaceBlock(7, []*types.Transfer{b})
	got := idx.TransfersIn(7)
	require.Len(t, got, 1)
	assert.Equal(t, "0xb", got[0].TxHash)

	idx.ReplaceBlock(7, nil)
	assert.Zero(t, idx.BlockCount())
}

func TestIndex_PurgeOlderThan(t *testing.T) {
	idx := pending.NewIndex()
	now := time.Now()
	stale := waiting("0xold", 3, true, now.Add(-10*time.Minute))
	fresh := waiting("0xnew", 3, true, now)
	idx.Insert(stale)
	idx.Insert(fresh)
	idx.Insert(waiting("0xgone", 2, false, now.Add(-time.Hour)))

	evicted := idx.PurgeOlderThan(now.Add(-5 * time.Minute))
	require.Len(t, evicted, 2)
	hashes := []string{evicted[0].TxHash, evicted[1].TxHash}
	assert.ElementsMatch(t, []string{"0xold", "0xgone"}, hashes)

	assert.Equal(t, 1, idx.Len())
	assert.Equal(t, []uint64{3}, idx.Blocks())
}

func TestIndex_OldestAge(t *testing.T) {
	idx := pending.NewIndex()
	now := time.Now()
	assert.Zero(t, idx.OldestAge(now))

	idx.Insert(waiting("0xa", 1, true, now.Add(-3*time.Minute)))
	idx.Insert(waiting("0xb", 2, true, now.Add(-1*time.Minute)))
	assert.Equal(t, 3*time.Minute, idx.OldestAge(now))
}

func TestIndex_Clear(t *testing.T) {
	idx := pending.NewIndex()
	now := time.Now()
	idx.Insert(waiting("0xa", 1, true, now))
	idx.Insert(waiting("0xb", 2, true, now))

	assert.Equal(t, 2, idx.Clear())
	assert.Zero(t, idx.Len())
	assert.Zero(t, idx.BlockCount())
}

func TestIndex_TransfersInReturnsCopy(t *testing.T) {
	idx := pending.NewIndex()
	now := time.Now()
	idx.Insert(waiting("0xa", 9, true, now))

	snap := idx.TransfersIn(9)
	require.Len(t, snap, 1)
	snap[0] = nil

	again := idx.TransfersIn(9)
	require.Len(t, again, 1)
	assert.Equal(t, "0xa", again[0].TxHash)
}
