package postgres

import (
	"context"
	"fmt"
)

// Schema is the minimal table layout the repositories expect.
const Schema = `
CREATE TABLE IF NOT EXISTS customers (
	id          TEXT PRIMARY KEY,
	provider    TEXT NOT NULL,
	email       TEXT NOT NULL,
	name        TEXT,
	metadata    JSONB,
	created_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS transactions (
	id                 TEXT PRIMARY KEY,
	provider           TEXT NOT NULL,
	provider_id        TEXT NOT NULL,
	amount             BIGINT NOT NULL CHECK (amount >= 0),
	currency           TEXT NOT NULL,
	captured_amount    BIGINT NOT NULL DEFAULT 0,
	status             TEXT NOT NULL,
	customer_id        TEXT NOT NULL,
	payment_method_id  TEXT,
	idempotency_key    TEXT UNIQUE,
	failure_code       TEXT,
	failure_message    TEXT,
	created_at         TIMESTAMPTZ NOT NULL,
	captured_at        TIMESTAMPTZ,
	UNIQUE (provider, provider_id)
);

CREATE INDEX IF NOT EXISTS transactions_customer_idx ON transactions (customer_id, created_at DESC);
CREATE INDEX IF NOT EXISTS transactions_status_idx ON transactions (status, created_at);

CREATE TABLE IF NOT EXISTS refunds (
	id              TEXT PRIMARY KEY,
	provider        TEXT NOT NULL,
	provider_id     TEXT NOT NULL,
	transaction_id  TEXT NOT NULL REFERENCES transactions (id),
	amount          BIGINT NOT NULL CHECK (amount >= 0),
	currency        TEXT NOT NULL,
	status          TEXT NOT NULL,
	reason          TEXT,
	created_at      TIMESTAMPTZ NOT NULL,
	UNIQUE (provider, provider_id)
);

CREATE INDEX IF NOT EXISTS refunds_transaction_idx ON refunds (transaction_id);
`

// Migrate creates any missing tables.
func Migrate(ctx context.Context, q Querier) error {
	if _, err := q.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
