package queue

import (
	"context"
	"testing"

	"github.com/chainsentry/evm-transfer-monitor/monitor/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, *policy.WatchedSet) {
	t.Helper()
	watched := policy.NewWatchedSet()
	svc := NewService(context.Background(), &Config{
		ChainName: "bsc",
		Watchlist: watched,
	})
	return svc, watched
}

func TestHandle_AddsValidAddress(t *testing.T) {
	svc, watched := newTestService(t)

	svc.handle([]byte(`{"address":"0xAbCd000000000000000000000000000000000001"}`))

	assert.True(t, watched.Contains("0xabcd000000000000000000000000000000000001"))
	assert.Equal(t, int64(1), svc.Processed())
}

func TestHandle_DuplicateStillCounts(t *testing.T) {
	svc, watched := newTestService(t)
	_, err := watched.Add("0xabcd000000000000000000000000000000000001")
	require.NoError(t, err)

	svc.handle([]byte(`{"address":"0xABCD000000000000000000000000000000000001"}`))

	assert.Equal(t, 1, watched.Len())
	assert.Equal(t, int64(1), svc.Processed())
}

func TestHandle_DiscardsBadMessages(t *testing.T) {
	svc, watched := newTestService(t)

	svc.handle([]byte(`not json`))
	svc.handle([]byte(`{}`))
	svc.handle([]byte(`{"address":""}`))
	svc.handle([]byte(`{"address":"bogus"}`))
	svc.handle([]byte(`{"address":"0x1234"}`))

	assert.Zero(t, watched.Len())
	assert.Zero(t, svc.Processed())
}

func TestExchangeName(t *testing.T) {
	assert.Equal(t, "wallet_updates_bsc", ExchangeName("wallet_updates", "bsc"))
	assert.Equal(t, "wallet_updates_eth", ExchangeName("", "eth"))
	assert.Equal(t, "addr_feed_bsc", ExchangeName("addr_feed", "bsc"))
}

func TestService_DisabledWithoutBroker(t *testing.T) {
	svc, _ := newTestService(t)
	svc.Start()
	assert.False(t, svc.Connected())
	require.NoError(t, svc.Status())
	require.NoError(t, svc.Stop())
}
