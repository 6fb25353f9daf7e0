package notify

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/chainsentry/evm-transfer-monitor/config"
	dbtest "github.com/chainsentry/evm-transfer-monitor/monitor/db/testing"
	"github.com/chainsentry/evm-transfer-monitor/monitor/stats"
	"github.com/chainsentry/evm-transfer-monitor/monitor/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// webhookRecorder scripts response codes and captures decoded request
// bodies.
type webhookRecorder struct {
	mu     sync.Mutex
	codes  []int
	bodies []map[string]interface{}
	agents []string
	calls  int
}

func (w *webhookRecorder) handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		w.mu.Lock()
		defer w.mu.Unlock()
		body := make(map[string]interface{})
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.bodies = append(w.bodies, body)
		w.agents = append(w.agents, r.Header.Get("User-Agent"))
		code := http.StatusOK
		if w.calls < len(w.codes) {
			code = w.codes[w.calls]
		}
		w.calls++
		rw.WriteHeader(code)
		_, _ = rw.Write([]byte(`{"ok":true}`))
	}
}

func (w *webhookRecorder) received() []map[string]interface{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]map[string]interface{}, len(w.bodies))
	copy(out, w.bodies)
	return out
}

func newTestService(t *testing.T, store *dbtest.MemoryStore, url string, retryTimes int) (*Service, *stats.Collector) {
	t.Helper()
	collector := stats.NewCollector()
	svc, err := NewService(context.Background(), &Config{
		Notification: &config.NotificationConfig{URL: url, Timeout: 5, RetryTimes: retryTimes},
		Store:        store,
		Stats:        collector,
	})
	require.NoError(t, err)
	return svc, collector
}

func seedNotification(t *testing.T, store *dbtest.MemoryStore, maxAttempts int) *types.NotificationRecord {
	t.Helper()
	ctx := context.Background()
	tr := &types.Transfer{
		TxHash:      "0xdeadbeef",
		BlockNumber: 42,
		BlockHash:   "0xblock",
		From:        "0x1111111111111111111111111111111111111111",
		To:          "0x2222222222222222222222222222222222222222",
		AssetSymbol: "BNB",
		AmountRaw:   big.NewInt(2e18),
		Amount:      "2",
		IsNative:    true,
		Decimals:    18,
		FoundAt:     time.Now(),
	}
	dep, created, err := store.UpsertPending(ctx, tr)
	require.NoError(t, err)
	require.True(t, created)
	require.NoError(t, store.MarkConfirmed(ctx, tr.TxHash, 3))
	dep, err = store.DepositByTxHash(ctx, tr.TxHash)
	require.NoError(t, err)

	requestData, err := BuildRequestData(dep, time.Now())
	require.NoError(t, err)
	rec, err := store.CreateNotification(ctx, dep, requestData, maxAttempts)
	require.NoError(t, err)
	return rec
}

func TestBuildRequestData(t *testing.T) {
	now := time.Date(2023, 5, 17, 10, 30, 0, 0, time.UTC)
	dep := &types.DepositRecord{
		TxHash:        "0xabc",
		BlockNumber:   100,
		FromAddress:   "0x1111111111111111111111111111111111111111",
		ToAddress:     "0x2222222222222222222222222222222222222222",
		Amount:        "2.000000000000000000",
		TokenSymbol:   "BNB",
		Confirmations: 3,
		UserID:        "0x2222222222222222222222222222222222222222",
	}
	data, err := BuildRequestData(dep, now)
	require.NoError(t, err)

	body := make(map[string]interface{})
	require.NoError(t, json.Unmarshal([]byte(data), &body))
	assert.Equal(t, "deposit_confirmed", body["type"])
	assert.Equal(t, "0xabc", body["tx_hash"])
	assert.Equal(t, "2", body["amount"], "scale padding must not leak into payloads")
	assert.Equal(t, "BNB", body["token_symbol"])
	assert.Equal(t, "2023-05-17T10:30:00Z", body["timestamp"])
	assert.Equal(t, float64(100), body["block_number"])
	assert.NotContains(t, body, "token_address", "native transfers carry no contract")
}

func TestDecorate(t *testing.T) {
	now := time.Date(2023, 5, 17, 10, 30, 0, 0, time.UTC)
	out, err := decorate(`{"type":"deposit_confirmed","tx_hash":"0xabc"}`, 2, now)
	require.NoError(t, err)

	body := make(map[string]interface{})
	require.NoError(t, json.Unmarshal(out, &body))
	assert.Equal(t, "0xabc", body["tx_hash"])
	assert.Equal(t, float64(2), body["attempt"])
	assert.Equal(t, "evm_transfer_monitor", body["service"])
	assert.Equal(t, "2023-05-17T10:30:00Z", body["sent_at"])

	_, err = decorate("not json", 1, now)
	assert.Error(t, err)
}

func TestService_DeliverRetriesInline(t *testing.T) {
	rec := &webhookRecorder{codes: []int{500, 500, 200}}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	store := dbtest.NewMemoryStore()
	svc, collector := newTestService(t, store, srv.URL, 3)
	n := seedNotification(t, store, svc.MaxAttempts())

	require.True(t, svc.deliver(context.Background(), n))

	got, ok := store.NotificationByID(n.ID)
	require.True(t, ok)
	assert.Equal(t, types.NotificationStatusSent, got.Status)
	assert.Equal(t, 3, got.AttemptCount)
	assert.Equal(t, `{"ok":true}`, got.ResponseData)
	require.NotNil(t, got.SuccessAt)

	bodies := rec.received()
	require.Len(t, bodies, 3)
	for i, body := range bodies {
		assert.Equal(t, float64(i+1), body["attempt"])
		assert.Equal(t, "evm_transfer_monitor", body["service"])
		assert.Equal(t, "0xdeadbeef", body["tx_hash"])
		assert.NotEmpty(t, body["sent_at"])
	}

	dep, err := store.DepositByTxHash(context.Background(), "0xdeadbeef")
	require.NoError(t, err)
	assert.True(t, dep.NotificationGenerated, "delivery must flip the deposit flag")
	require.NotNil(t, dep.ProcessedAt)

	rep := collector.Snapshot()
	assert.Equal(t, uint64(1), rep.NotificationsSent)
	assert.Equal(t, uint64(2), rep.NotificationRetries)
	assert.Zero(t, rep.NotificationsFailed)
}

func TestService_DeliverExhaustsBudget(t *testing.T) {
	rec := &webhookRecorder{codes: []int{500, 500}}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	store := dbtest.NewMemoryStore()
	svc, collector := newTestService(t, store, srv.URL, 2)
	n := seedNotification(t, store, svc.MaxAttempts())

	require.True(t, svc.deliver(context.Background(), n))

	got, ok := store.NotificationByID(n.ID)
	require.True(t, ok)
	assert.Equal(t, types.NotificationStatusFailedFinal, got.Status)
	assert.Equal(t, 2, got.AttemptCount)
	assert.Nil(t, got.NextRetryAt, "final failures are never rescheduled")
	assert.Contains(t, got.ErrorMessage, "webhook answered 500")

	rep := collector.Snapshot()
	assert.Equal(t, uint64(1), rep.NotificationsFailed)
	assert.Zero(t, rep.NotificationsSent)
}

func TestService_RetryScanRecoversAbandonedRows(t *testing.T) {
	rec := &webhookRecorder{}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	store := dbtest.NewMemoryStore()
	svc, collector := newTestService(t, store, srv.URL, 3)
	// Created but never enqueued, as if the previous process died here.
	n := seedNotification(t, store, svc.MaxAttempts())

	svc.retryDue()

	got, ok := store.NotificationByID(n.ID)
	require.True(t, ok)
	assert.Equal(t, types.NotificationStatusSent, got.Status)
	assert.Equal(t, 1, got.AttemptCount)
	assert.Equal(t, uint64(1), collector.Snapshot().NotificationsSent)
}

func TestService_UserAgentIdentifiesMonitor(t *testing.T) {
	rec := &webhookRecorder{}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	store := dbtest.NewMemoryStore()
	svc, _ := newTestService(t, store, srv.URL, 1)
	n := seedNotification(t, store, svc.MaxAttempts())
	require.True(t, svc.deliver(context.Background(), n))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.agents, 1)
	assert.Contains(t, rec.agents[0], "evm-transfer-monitor/")
}

func TestService_DisabledDelivery(t *testing.T) {
	off := false
	svc, err := NewService(context.Background(), &Config{
		Notification: &config.NotificationConfig{Enabled: &off},
		Store:        dbtest.NewMemoryStore(),
		Stats:        stats.NewCollector(),
	})
	require.NoError(t, err)
	assert.False(t, svc.Enabled())
	svc.Start()
	svc.Enqueue(&types.NotificationRecord{ID: "ignored"})
	require.NoError(t, svc.Stop())
}

func TestNewService_RequiresURLWhenEnabled(t *testing.T) {
	_, err := NewService(context.Background(), &Config{
		Notification: &config.NotificationConfig{},
		Store:        dbtest.NewMemoryStore(),
		Stats:        stats.NewCollector(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notification url")
}
