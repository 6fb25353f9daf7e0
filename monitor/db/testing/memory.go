// Package testing provides an in-memory Store used by unit tests throughout
// the monitor, mirroring the Postgres implementation's semantics without a
// running database.
package testing

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chainsentry/evm-transfer-monitor/monitor/db"
	"github.com/chainsentry/evm-transfer-monitor/monitor/types"
)

// MemoryStore implements db.Store with maps and a mutex. All returned
// records are copies, so tests can hold them across further writes.
type MemoryStore struct {
	mu            sync.Mutex
	nextID        int64
	deposits      map[string]*types.DepositRecord      // by tx hash
	notifications map[string]*types.NotificationRecord // by id
}

var _ db.Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		deposits:      make(map[string]*types.DepositRecord),
		notifications: make(map[string]*types.NotificationRecord),
	}
}

func copyDeposit(rec *types.DepositRecord) *types.DepositRecord {
	cp := *rec
	return &cp
}

func copyNotification(rec *types.NotificationRecord) *types.NotificationRecord {
	cp := *rec
	return &cp
}

// UpsertPending mirrors the ON CONFLICT DO NOTHING insert.
func (m *MemoryStore) UpsertPending(_ context.Context, t *types.Transfer) (*types.DepositRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.deposits[t.TxHash]; ok {
		return copyDeposit(existing), false, nil
	}
	m.nextID++
	now := time.Now().UTC()
	rec := &types.DepositRecord{
		ID:             m.nextID,
		TxHash:         t.TxHash,
		BlockNumber:    t.BlockNumber,
		BlockHash:      t.BlockHash,
		FromAddress:    t.From,
		ToAddress:      t.To,
		Amount:         t.Amount,
		TokenAddress:   t.TokenContract,
		TokenSymbol:    t.AssetSymbol,
		TokenDecimals:  t.Decimals,
		Status:         types.DepositStatusPending,
		GasUsed:        int64(t.GasLimit),
		GasPrice:       types.FormatUnits(t.GasPrice, types.EtherDecimals),
		TransactionFee: types.FormatUnits(t.Fee, types.EtherDecimals),
		UserID:         t.UserID(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	m.deposits[t.TxHash] = rec
	return copyDeposit(rec), true, nil
}

// MarkConfirmed promotes a pending deposit.
func (m *MemoryStore) MarkConfirmed(_ context.Context, txHash string, confirmations int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.deposits[txHash]
	if !ok || rec.Status != types.DepositStatusPending {
		return nil
	}
	rec.Status = types.DepositStatusConfirmed
	rec.Confirmations = confirmations
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

// DepositByTxHash loads one deposit.
func (m *MemoryStore) DepositByTxHash(_ context.Context, txHash string) (*types.DepositRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.deposits[txHash]
	if !ok {
		return nil, db.ErrNotFound
	}
	return copyDeposit(rec), nil
}

// ListConfirmedAwaitingNotification returns confirmed, un-notified deposits
// at or past the given depth, oldest block first.
func (m *MemoryStore) ListConfirmedAwaitingNotification(_ context.Context, minConfirmations int) ([]*types.DepositRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.DepositRecord
	for _, rec := range m.deposits {
		if rec.Status == types.DepositStatusConfirmed && rec.Confirmations >= minConfirmations && !rec.NotificationGenerated {
			out = append(out, copyDeposit(rec))
		}
	}
	sortDeposits(out)
	return out, nil
}

// LoadPendingDeposits returns deposits still awaiting confirmation.
func (m *MemoryStore) LoadPendingDeposits(_ context.Context) ([]*types.DepositRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.DepositRecord
	for _, rec := range m.deposits {
		if rec.Status == types.DepositStatusPending {
			out = append(out, copyDeposit(rec))
		}
	}
	sortDeposits(out)
	return out, nil
}

// PendingDepositCount counts deposits awaiting confirmation.
func (m *MemoryStore) PendingDepositCount(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, rec := range m.deposits {
		if rec.Status == types.DepositStatusPending {
			n++
		}
	}
	return n, nil
}

func sortDeposits(recs []*types.DepositRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].BlockNumber != recs[j].BlockNumber {
			return recs[i].BlockNumber < recs[j].BlockNumber
		}
		return recs[i].ID < recs[j].ID
	})
}

// CreateNotification inserts the outbox row, enforcing one live
// notification per deposit.
func (m *MemoryStore) CreateNotification(_ context.Context, dep *types.DepositRecord, requestData string, maxAttempts int) (*types.NotificationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.deposits[dep.TxHash]
	if !ok {
		return nil, db.ErrNotFound
	}
	if stored.NotificationGenerated {
		return nil, db.ErrNotificationExists
	}
	for _, n := range m.notifications {
		if n.DepositRecordID == stored.ID && n.Status != types.NotificationStatusFailedFinal {
			return nil, db.ErrNotificationExists
		}
	}
	now := time.Now().UTC()
	rec := &types.NotificationRecord{
		ID:               uuid.New().String(),
		DepositRecordID:  stored.ID,
		TxHash:           stored.TxHash,
		UserID:           stored.UserID,
		NotificationType: types.NotificationTypeDeposit,
		Status:           types.NotificationStatusPending,
		MaxAttempts:      maxAttempts,
		RequestData:      requestData,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	m.notifications[rec.ID] = rec
	return copyNotification(rec), nil
}

// IncrementAttempt burns one attempt, failing once the budget is spent.
func (m *MemoryStore) IncrementAttempt(_ context.Context, id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.notifications[id]
	if !ok {
		return 0, db.ErrNotFound
	}
	if rec.AttemptCount >= rec.MaxAttempts {
		return 0, db.ErrAttemptsExhausted
	}
	rec.AttemptCount++
	now := time.Now().UTC()
	rec.LastAttemptAt = &now
	rec.UpdatedAt = now
	return rec.AttemptCount, nil
}

// MarkNotificationSent finalizes a delivery and flips the deposit flag.
func (m *MemoryStore) MarkNotificationSent(_ context.Context, id string, responseData string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.notifications[id]
	if !ok {
		return db.ErrNotFound
	}
	now := time.Now().UTC()
	rec.Status = types.NotificationStatusSent
	rec.SuccessAt = &now
	rec.ResponseData = responseData
	rec.ErrorMessage = ""
	rec.NextRetryAt = nil
	rec.UpdatedAt = now
	for _, dep := range m.deposits {
		if dep.ID == rec.DepositRecordID {
			dep.NotificationGenerated = true
			if dep.ProcessedAt == nil {
				dep.ProcessedAt = &now
			}
			dep.UpdatedAt = now
		}
	}
	return nil
}

// MarkNotificationFailed records a failed attempt, going terminal once the
// budget is spent.
func (m *MemoryStore) MarkNotificationFailed(_ context.Context, id string, errMsg string, nextRetryAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.notifications[id]
	if !ok {
		return db.ErrNotFound
	}
	if rec.Status == types.NotificationStatusSent {
		return nil
	}
	if rec.AttemptCount >= rec.MaxAttempts {
		rec.Status = types.NotificationStatusFailedFinal
		rec.NextRetryAt = nil
	} else {
		rec.Status = types.NotificationStatusFailed
		rec.NextRetryAt = nextRetryAt
	}
	rec.ErrorMessage = errMsg
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

// ListNotificationsDueRetry returns retryable rows whose backoff elapsed.
func (m *MemoryStore) ListNotificationsDueRetry(_ context.Context, now time.Time, limit int) ([]*types.NotificationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.NotificationRecord
	for _, rec := range m.notifications {
		retryable := rec.Status == types.NotificationStatusPending || rec.Status == types.NotificationStatusFailed
		if !retryable || rec.AttemptCount >= rec.MaxAttempts {
			continue
		}
		if rec.NextRetryAt != nil && rec.NextRetryAt.After(now) {
			continue
		}
		out = append(out, copyNotification(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// NotificationsByStatus counts outbox rows per status.
func (m *MemoryStore) NotificationsByStatus(_ context.Context) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[string]int)
	for _, rec := range m.notifications {
		counts[rec.Status]++
	}
	return counts, nil
}

// DeleteOldNotifications prunes finished rows older than the cutoff.
func (m *MemoryStore) DeleteOldNotifications(_ context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, rec := range m.notifications {
		finished := rec.Status == types.NotificationStatusSent || rec.Status == types.NotificationStatusFailedFinal
		if finished && rec.CreatedAt.Before(olderThan) {
			delete(m.notifications, id)
			n++
		}
	}
	return n, nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}

// NotificationByID exposes one outbox row for test assertions.
func (m *MemoryStore) NotificationByID(id string) (*types.NotificationRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.notifications[id]
	if !ok {
		return nil, false
	}
	return copyNotification(rec), true
}

// Notifications returns every outbox row for test assertions.
func (m *MemoryStore) Notifications() []*types.NotificationRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*types.NotificationRecord, 0, len(m.notifications))
	for _, rec := range m.notifications {
		out = append(out, copyNotification(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
