// Package db persists deposit records and their notification outbox in
// Postgres. The store is the authoritative record of what has been seen and
// what has been delivered; the in-memory pending index is rebuilt from it
// after a restart.
package db

import (
	"context"
	"io"
	"time"

	"github.com/pkg/errors"

	"github.com/chainsentry/evm-transfer-monitor/monitor/types"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("record not found")
	// ErrNotificationExists is returned when a deposit already has a live
	// notification or was already notified.
	ErrNotificationExists = errors.New("notification already exists for deposit")
	// ErrAttemptsExhausted is returned when a notification has no delivery
	// budget left.
	ErrAttemptsExhausted = errors.New("notification attempts exhausted")
)

// DepositStore tracks observed transfers through their confirmation
// lifecycle.
type DepositStore interface {
	// UpsertPending records a transfer once. Replays of the same tx hash
	// return the existing row with created=false.
	UpsertPending(ctx context.Context, t *types.Transfer) (rec *types.DepositRecord, created bool, err error)
	// MarkConfirmed flips a pending deposit to confirmed with its depth at
	// confirmation time. Already-confirmed rows are left untouched.
	MarkConfirmed(ctx context.Context, txHash string, confirmations int) error
	// DepositByTxHash loads one deposit row.
	DepositByTxHash(ctx context.Context, txHash string) (*types.DepositRecord, error)
	// ListConfirmedAwaitingNotification returns confirmed deposits at or
	// past minConfirmations that have not produced a notification yet,
	// oldest first.
	ListConfirmedAwaitingNotification(ctx context.Context, minConfirmations int) ([]*types.DepositRecord, error)
	// LoadPendingDeposits returns all deposits still awaiting confirmation,
	// ordered by block number. Used to warm the pending index on restart.
	LoadPendingDeposits(ctx context.Context) ([]*types.DepositRecord, error)
	// PendingDepositCount counts deposits awaiting confirmation.
	PendingDepositCount(ctx context.Context) (int, error)
}

// NotificationStore is the webhook delivery outbox.
type NotificationStore interface {
	// CreateNotification inserts a pending notification for a confirmed
	// deposit. At most one live notification may exist per deposit;
	// violations return ErrNotificationExists.
	CreateNotification(ctx context.Context, dep *types.DepositRecord, requestData string, maxAttempts int) (*types.NotificationRecord, error)
	// IncrementAttempt burns one delivery attempt before any network I/O and
	// returns the new attempt count. Returns ErrAttemptsExhausted when the
	// budget is spent, so a crash mid-attempt can never overrun it.
	IncrementAttempt(ctx context.Context, id string) (int, error)
	// MarkNotificationSent finalizes a delivered notification and flips the
	// deposit's notification_generated flag in the same transaction.
	MarkNotificationSent(ctx context.Context, id string, responseData string) error
	// MarkNotificationFailed records a failed attempt. With budget left the
	// row stays retryable at nextRetryAt; at the cap it becomes
	// failed_final and the retry timestamp is cleared.
	MarkNotificationFailed(ctx context.Context, id string, errMsg string, nextRetryAt *time.Time) error
	// ListNotificationsDueRetry returns retryable notifications whose
	// next_retry_at has passed (or was never set), oldest first.
	ListNotificationsDueRetry(ctx context.Context, now time.Time, limit int) ([]*types.NotificationRecord, error)
	// NotificationsByStatus counts outbox rows per status.
	NotificationsByStatus(ctx context.Context) (map[string]int, error)
	// DeleteOldNotifications prunes finished rows older than the cutoff and
	// reports how many were removed.
	DeleteOldNotifications(ctx context.Context, olderThan time.Time) (int64, error)
}

// Store is the full persistence surface of the monitor.
type Store interface {
	DepositStore
	NotificationStore
	io.Closer
}
