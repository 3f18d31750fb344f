package postgres

import (
	"context"
	"fmt"
)

// schema bootstraps an empty database. It is idempotent and is not a
// migration tool: existing tables are never altered.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id           TEXT PRIMARY KEY,
		number       TEXT NOT NULL UNIQUE,
		owner_id     TEXT NOT NULL,
		account_type TEXT NOT NULL,
		balance      NUMERIC(20, 2) NOT NULL CHECK (balance >= 0),
		created_at   TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS accounts_owner_id_idx ON accounts (owner_id)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		seq             BIGSERIAL PRIMARY KEY,
		id              TEXT NOT NULL UNIQUE,
		from_account_id TEXT,
		to_account_id   TEXT,
		amount          NUMERIC(20, 2) NOT NULL CHECK (amount > 0),
		kind            TEXT NOT NULL,
		description     TEXT NOT NULL,
		status          TEXT NOT NULL,
		occurred_at     TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS transactions_from_account_idx ON transactions (from_account_id)`,
	`CREATE INDEX IF NOT EXISTS transactions_to_account_idx ON transactions (to_account_id)`,
	`CREATE INDEX IF NOT EXISTS transactions_occurred_at_idx ON transactions (occurred_at DESC, seq DESC)`,
}

// EnsureSchema creates the ledger tables when they do not exist yet.
func (s *LedgerStore) EnsureSchema(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i+1, err)
		}
	}
	return nil
}
