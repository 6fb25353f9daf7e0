package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/chainsentry/evm-transfer-monitor/monitor/types"
)

var log = logrus.WithField("prefix", "db")

// uniqueViolation is the Postgres error code raised by the partial unique
// index guarding one live notification per deposit.
const uniqueViolation = pq.ErrorCode("23505")

// Postgres implements Store on top of a pooled sqlx connection.
type Postgres struct {
	db *sqlx.DB
}

var _ Store = (*Postgres)(nil)

// NewPostgres connects to the database and applies the pool limits. Connect
// pings the server, so a bad DSN or unreachable host fails here rather than
// on first use.
func NewPostgres(dsn string, pool ConnectionConfig) (*Postgres, error) {
	conn, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "could not connect to postgres")
	}
	if pool.MaxIdle > 0 {
		conn.SetMaxIdleConns(pool.MaxIdle)
	}
	if pool.MaxOpen > 0 {
		conn.SetMaxOpenConns(pool.MaxOpen)
	}
	if pool.MaxLifetime > 0 {
		conn.SetConnMaxLifetime(time.Duration(pool.MaxLifetime) * time.Second)
	}
	return &Postgres{db: conn}, nil
}

// EnsureSchema creates the tables and indexes if they do not exist yet.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "could not apply schema")
		}
	}
	log.Debug("Database schema verified")
	return nil
}

// Close releases the connection pool.
func (s *Postgres) Close() error {
	return s.db.Close()
}

// UpsertPending records a transfer once, keyed by transaction hash. Gas
// figures are stored in ether units alongside the asset amount.
func (s *Postgres) UpsertPending(ctx context.Context, t *types.Transfer) (*types.DepositRecord, bool, error) {
	rec := recordFromTransfer(t)
	const q = `
		INSERT INTO deposit_records (
			tx_hash, block_number, block_hash, from_address, to_address,
			amount, token_address, token_symbol, token_decimals,
			status, confirmations, notification_generated,
			gas_used, gas_price, transaction_fee, user_id
		) VALUES (
			$1, $2, $3, $4, $5,
			cast($6 AS NUMERIC), $7, $8, $9,
			$10, 0, FALSE,
			$11, cast($12 AS NUMERIC), cast($13 AS NUMERIC), $14
		)
		ON CONFLICT (tx_hash) DO NOTHING
		RETURNING id, created_at, updated_at`
	err := s.db.QueryRowxContext(ctx, q,
		rec.TxHash, rec.BlockNumber, rec.BlockHash, rec.FromAddress, rec.ToAddress,
		rec.Amount, rec.TokenAddress, rec.TokenSymbol, rec.TokenDecimals,
		rec.Status,
		rec.GasUsed, rec.GasPrice, rec.TransactionFee, rec.UserID,
	).Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		existing, lookupErr := s.DepositByTxHash(ctx, t.TxHash)
		if lookupErr != nil {
			return nil, false, lookupErr
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "could not insert deposit record")
	}
	return rec, true, nil
}

func recordFromTransfer(t *types.Transfer) *types.DepositRecord {
	return &types.DepositRecord{
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
	}
}

// MarkConfirmed promotes a pending deposit. Confirmed rows are left alone so
// the recorded depth never decreases.
func (s *Postgres) MarkConfirmed(ctx context.Context, txHash string, confirmations int) error {
	const q = `
		UPDATE deposit_records
		SET status = $2, confirmations = $3, updated_at = now()
		WHERE tx_hash = $1 AND status = $4`
	_, err := s.db.ExecContext(ctx, q, txHash, types.DepositStatusConfirmed, confirmations, types.DepositStatusPending)
	return errors.Wrap(err, "could not mark deposit confirmed")
}

// DepositByTxHash loads one deposit row.
func (s *Postgres) DepositByTxHash(ctx context.Context, txHash string) (*types.DepositRecord, error) {
	rec := &types.DepositRecord{}
	err := s.db.GetContext(ctx, rec, `SELECT * FROM deposit_records WHERE tx_hash = $1`, txHash)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "could not load deposit record")
	}
	return rec, nil
}

// ListConfirmedAwaitingNotification returns confirmed deposits at or past
// the given depth that still owe a notification, oldest block first.
func (s *Postgres) ListConfirmedAwaitingNotification(ctx context.Context, minConfirmations int) ([]*types.DepositRecord, error) {
	var recs []*types.DepositRecord
	const q = `
		SELECT * FROM deposit_records
		WHERE status = $1 AND confirmations >= $2 AND NOT notification_generated
		ORDER BY block_number ASC, id ASC`
	if err := s.db.SelectContext(ctx, &recs, q, types.DepositStatusConfirmed, minConfirmations); err != nil {
		return nil, errors.Wrap(err, "could not list confirmed deposits")
	}
	return recs, nil
}

// LoadPendingDeposits returns every deposit still awaiting confirmation.
func (s *Postgres) LoadPendingDeposits(ctx context.Context) ([]*types.DepositRecord, error) {
	var recs []*types.DepositRecord
	const q = `
		SELECT * FROM deposit_records
		WHERE status = $1
		ORDER BY block_number ASC, id ASC`
	if err := s.db.SelectContext(ctx, &recs, q, types.DepositStatusPending); err != nil {
		return nil, errors.Wrap(err, "could not load pending deposits")
	}
	return recs, nil
}

// PendingDepositCount counts deposits awaiting confirmation.
func (s *Postgres) PendingDepositCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM deposit_records WHERE status = $1`, types.DepositStatusPending)
	return n, errors.Wrap(err, "could not count pending deposits")
}

// CreateNotification inserts the outbox row for a confirmed deposit. The
// deposit row is locked first so two confirmers cannot both pass the
// notification_generated check; the partial unique index backstops the
// races that lock cannot see.
func (s *Postgres) CreateNotification(ctx context.Context, dep *types.DepositRecord, requestData string, maxAttempts int) (*types.NotificationRecord, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "could not begin transaction")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var generated bool
	err = tx.GetContext(ctx, &generated,
		`SELECT notification_generated FROM deposit_records WHERE id = $1 FOR UPDATE`, dep.ID)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "could not lock deposit record")
	}
	if generated {
		return nil, ErrNotificationExists
	}

	now := time.Now().UTC()
	rec := &types.NotificationRecord{
		ID:               uuid.New().String(),
		DepositRecordID:  dep.ID,
		TxHash:           dep.TxHash,
		UserID:           dep.UserID,
		NotificationType: types.NotificationTypeDeposit,
		Status:           types.NotificationStatusPending,
		MaxAttempts:      maxAttempts,
		RequestData:      requestData,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	const q = `
		INSERT INTO notification_records (
			id, deposit_record_id, tx_hash, user_id, notification_type,
			status, attempt_count, max_attempts, request_data, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8, $9, $9)`
	_, err = tx.ExecContext(ctx, q,
		rec.ID, rec.DepositRecordID, rec.TxHash, rec.UserID, rec.NotificationType,
		rec.Status, rec.MaxAttempts, rec.RequestData, now)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == uniqueViolation {
		return nil, ErrNotificationExists
	}
	if err != nil {
		return nil, errors.Wrap(err, "could not insert notification record")
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "could not commit notification record")
	}
	return rec, nil
}

// IncrementAttempt burns one attempt and returns the new count. The guard
// on max_attempts makes the budget crash-safe: the attempt is spent before
// any webhook traffic happens.
func (s *Postgres) IncrementAttempt(ctx context.Context, id string) (int, error) {
	var attempt int
	const q = `
		UPDATE notification_records
		SET attempt_count = attempt_count + 1, last_attempt_at = now(), updated_at = now()
		WHERE id = $1 AND attempt_count < max_attempts
		RETURNING attempt_count`
	err := s.db.GetContext(ctx, &attempt, q, id)
	if err == sql.ErrNoRows {
		var exists bool
		if lookupErr := s.db.GetContext(ctx, &exists,
			`SELECT EXISTS (SELECT 1 FROM notification_records WHERE id = $1)`, id); lookupErr != nil {
			return 0, errors.Wrap(lookupErr, "could not check notification record")
		}
		if !exists {
			return 0, ErrNotFound
		}
		return 0, ErrAttemptsExhausted
	}
	if err != nil {
		return 0, errors.Wrap(err, "could not increment attempt count")
	}
	return attempt, nil
}

// MarkNotificationSent finalizes a delivery. The deposit flag flips in the
// same transaction so a crash between the two writes cannot strand a
// confirmed deposit as both notified and awaiting notification.
func (s *Postgres) MarkNotificationSent(ctx context.Context, id string, responseData string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "could not begin transaction")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var depositID int64
	const q = `
		UPDATE notification_records
		SET status = $2, success_at = now(), last_attempt_at = now(),
			response_data = $3, error_message = '', next_retry_at = NULL, updated_at = now()
		WHERE id = $1
		RETURNING deposit_record_id`
	err = tx.GetContext(ctx, &depositID, q, id, types.NotificationStatusSent, responseData)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return errors.Wrap(err, "could not mark notification sent")
	}
	const dq = `
		UPDATE deposit_records
		SET notification_generated = TRUE,
			processed_at = COALESCE(processed_at, now()), updated_at = now()
		WHERE id = $1`
	if _, err := tx.ExecContext(ctx, dq, depositID); err != nil {
		return errors.Wrap(err, "could not flag deposit as notified")
	}
	return errors.Wrap(tx.Commit(), "could not commit sent notification")
}

// MarkNotificationFailed records a failed attempt. The row decides its own
// fate: budget left means retryable at nextRetryAt, budget spent means
// failed_final with the retry timestamp cleared.
func (s *Postgres) MarkNotificationFailed(ctx context.Context, id string, errMsg string, nextRetryAt *time.Time) error {
	const q = `
		UPDATE notification_records
		SET status = CASE WHEN attempt_count >= max_attempts THEN $2 ELSE $3 END,
			next_retry_at = CASE WHEN attempt_count >= max_attempts THEN NULL ELSE $4 END,
			error_message = $5, updated_at = now()
		WHERE id = $1 AND status <> $6`
	_, err := s.db.ExecContext(ctx, q, id,
		types.NotificationStatusFailedFinal, types.NotificationStatusFailed,
		nextRetryAt, errMsg, types.NotificationStatusSent)
	return errors.Wrap(err, "could not mark notification failed")
}

// ListNotificationsDueRetry returns retryable rows whose backoff has
// elapsed, oldest first.
func (s *Postgres) ListNotificationsDueRetry(ctx context.Context, now time.Time, limit int) ([]*types.NotificationRecord, error) {
	var recs []*types.NotificationRecord
	const q = `
		SELECT * FROM notification_records
		WHERE status IN ($1, $2)
			AND attempt_count < max_attempts
			AND (next_retry_at IS NULL OR next_retry_at <= $3)
		ORDER BY created_at ASC
		LIMIT $4`
	err := s.db.SelectContext(ctx, &recs, q,
		types.NotificationStatusPending, types.NotificationStatusFailed, now, limit)
	if err != nil {
		return nil, errors.Wrap(err, "could not list notifications due retry")
	}
	return recs, nil
}

// NotificationsByStatus counts outbox rows per status.
func (s *Postgres) NotificationsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryxContext(ctx, `SELECT status, COUNT(*) FROM notification_records GROUP BY status`)
	if err != nil {
		return nil, errors.Wrap(err, "could not count notifications")
	}
	defer func() {
		_ = rows.Close()
	}()
	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errors.Wrap(err, "could not scan notification count")
		}
		counts[status] = n
	}
	return counts, errors.Wrap(rows.Err(), "could not iterate notification counts")
}

// DeleteOldNotifications prunes finished rows older than the cutoff.
func (s *Postgres) DeleteOldNotifications(ctx context.Context, olderThan time.Time) (int64, error) {
	const q = `
		DELETE FROM notification_records
		WHERE status IN ($1, $2) AND created_at < $3`
	res, err := s.db.ExecContext(ctx, q,
		types.NotificationStatusSent, types.NotificationStatusFailedFinal, olderThan)
	if err != nil {
		return 0, errors.Wrap(err, "could not delete old notifications")
	}
	n, err := res.RowsAffected()
	return n, errors.Wrap(err, "could not count deleted notifications")
}
