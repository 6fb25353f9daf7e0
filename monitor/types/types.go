// Package types defines the data types shared across the transfer pipeline:
// classified transfers, their durable records, and exact unit conversions.
package types

import (
	"math/big"
	"strings"
	"time"
)

// Deposit record lifecycle states.
const (
	DepositStatusPending   = "pending"
	DepositStatusConfirmed = "confirmed"
	DepositStatusFailed    = "failed"
)

// Notification record lifecycle states.
const (
	NotificationStatusPending     = "pending"
	NotificationStatusSent        = "sent"
	NotificationStatusFailed      = "failed"
	NotificationStatusFailedFinal = "failed_final"
)

// NotificationTypeDeposit is the only notification type emitted today.
const NotificationTypeDeposit = "deposit"

// Transfer kinds reported by the pending index.
const (
	KindNative = "native"
	KindToken  = "token"
)

// Transfer is the classifier's output: one native or token transfer
// extracted from a block. Addresses are lowercased hex with 0x prefix.
type Transfer struct {
	TxHash        string
	BlockNumber   uint64
	BlockHash     string
	From          string
	To            string
	AssetSymbol   string
	AmountRaw     *big.Int // base units (wei or token units)
	Amount        string   // exact decimal rendering of AmountRaw
	IsNative      bool
	TokenContract string // empty for native transfers
	Decimals      int
	GasLimit      uint64
	GasPrice      *big.Int
	Fee           *big.Int // GasLimit * GasPrice, wei
	FoundAt       time.Time
}

// Kind reports the index bucket this transfer counts under.
func (t *Transfer) Kind() string {
	if t.IsNative {
		return KindNative
	}
	return KindToken
}

// UserID derives the default user identifier: the lowercased recipient.
func (t *Transfer) UserID() string {
	return strings.ToLower(t.To)
}

// DepositRecord is the durable mirror of a Transfer plus its confirmation
// and notification state.
type DepositRecord struct {
	ID                    int64      `db:"id"`
	TxHash                string     `db:"tx_hash"`
	BlockNumber           uint64     `db:"block_number"`
	BlockHash             string     `db:"block_hash"`
	FromAddress           string     `db:"from_address"`
	ToAddress             string     `db:"to_address"`
	Amount                string     `db:"amount"`
	TokenAddress          string     `db:"token_address"`
	TokenSymbol           string     `db:"token_symbol"`
	TokenDecimals         int        `db:"token_decimals"`
	Status                string     `db:"status"`
	Confirmations         int        `db:"confirmations"`
	NotificationGenerated bool       `db:"notification_generated"`
	GasUsed               int64      `db:"gas_used"`
	GasPrice              string     `db:"gas_price"`
	TransactionFee        string     `db:"transaction_fee"`
	UserID                string     `db:"user_id"`
	ProcessedAt           *time.Time `db:"processed_at"`
	CreatedAt             time.Time  `db:"created_at"`
	UpdatedAt             time.Time  `db:"updated_at"`
}

// AmountBig parses the stored decimal amount back into base units.
func (d *DepositRecord) AmountBig() (*big.Int, error) {
	return ParseUnits(d.Amount, d.TokenDecimals)
}

// NotificationRecord tracks one webhook delivery lifecycle for a deposit.
type NotificationRecord struct {
	ID               string     `db:"id"`
	DepositRecordID  int64      `db:"deposit_record_id"`
	TxHash           string     `db:"tx_hash"`
	UserID           string     `db:"user_id"`
	NotificationType string     `db:"notification_type"`
	Status           string     `db:"status"`
	AttemptCount     int        `db:"attempt_count"`
	MaxAttempts      int        `db:"max_attempts"`
	LastAttemptAt    *time.Time `db:"last_attempt_at"`
	SuccessAt        *time.Time `db:"success_at"`
	RequestData      string     `db:"request_data"`
	ResponseData     string     `db:"response_data"`
	ErrorMessage     string     `db:"error_message"`
	NextRetryAt      *time.Time `db:"next_retry_at"`
	CreatedAt        time.Time  `db:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at"`
}

// Health summarizes one RPC connectivity probe.
type Health struct {
	ChainID   *big.Int
	HeadBlock uint64
	GasPrice  *big.Int
	Latency   time.Duration
}
