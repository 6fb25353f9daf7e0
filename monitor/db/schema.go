package db

// Amounts are stored as NUMERIC so values survive the round trip exactly;
// the application layer renders and parses them as decimal strings and
// never touches binary floats. Text columns default to '' rather than NULL
// to keep scanning simple.
const depositRecordsSchema = `
CREATE TABLE IF NOT EXISTS deposit_records (
	id                     BIGSERIAL PRIMARY KEY,
	tx_hash                VARCHAR(66)  NOT NULL UNIQUE,
	block_number           BIGINT       NOT NULL DEFAULT 0,
	block_hash             VARCHAR(66)  NOT NULL DEFAULT '',
	from_address           VARCHAR(42)  NOT NULL DEFAULT '',
	to_address             VARCHAR(42)  NOT NULL DEFAULT '',
	amount                 NUMERIC(36, 18) NOT NULL DEFAULT 0,
	token_address          VARCHAR(42)  NOT NULL DEFAULT '',
	token_symbol           VARCHAR(20)  NOT NULL DEFAULT '',
	token_decimals         INT          NOT NULL DEFAULT 18,
	status                 VARCHAR(20)  NOT NULL DEFAULT 'pending',
	confirmations          INT          NOT NULL DEFAULT 0,
	notification_generated BOOLEAN      NOT NULL DEFAULT FALSE,
	gas_used               BIGINT       NOT NULL DEFAULT 0,
	gas_price              NUMERIC(36, 18) NOT NULL DEFAULT 0,
	transaction_fee        NUMERIC(36, 18) NOT NULL DEFAULT 0,
	user_id                VARCHAR(50)  NOT NULL DEFAULT '',
	processed_at           TIMESTAMPTZ,
	created_at             TIMESTAMPTZ  NOT NULL DEFAULT now(),
	updated_at             TIMESTAMPTZ  NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_deposit_records_status
	ON deposit_records (status);
CREATE INDEX IF NOT EXISTS idx_deposit_records_awaiting
	ON deposit_records (block_number) WHERE status = 'confirmed' AND NOT notification_generated;
`

const notificationRecordsSchema = `
CREATE TABLE IF NOT EXISTS notification_records (
	id                UUID         PRIMARY KEY,
	deposit_record_id BIGINT       NOT NULL REFERENCES deposit_records (id),
	tx_hash           VARCHAR(66)  NOT NULL,
	user_id           VARCHAR(50)  NOT NULL DEFAULT '',
	notification_type VARCHAR(20)  NOT NULL DEFAULT 'deposit',
	status            VARCHAR(20)  NOT NULL DEFAULT 'pending',
	attempt_count     INT          NOT NULL DEFAULT 0,
	max_attempts      INT          NOT NULL DEFAULT 3,
	last_attempt_at   TIMESTAMPTZ,
	success_at        TIMESTAMPTZ,
	request_data      TEXT         NOT NULL DEFAULT '',
	response_data     TEXT         NOT NULL DEFAULT '',
	error_message     TEXT         NOT NULL DEFAULT '',
	next_retry_at     TIMESTAMPTZ,
	created_at        TIMESTAMPTZ  NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ  NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_notification_records_live
	ON notification_records (deposit_record_id) WHERE status <> 'failed_final';
CREATE INDEX IF NOT EXISTS idx_notification_records_retry
	ON notification_records (status, next_retry_at);
`

// Schema statements applied by EnsureSchema, in dependency order.
var schemaStatements = []string{
	depositRecordsSchema,
	notificationRecordsSchema,
}
