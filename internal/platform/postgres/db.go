// Package postgres opens the database/sql handle used by the postgres vault
// backend and audit store.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"healthvault/internal/platform/config"
)

// Open connects with the lib/pq driver and verifies the connection.
func Open(ctx context.Context, cfg config.PostgresConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}
	return db, nil
}

// Schema creates the tables the postgres backend and audit store write to.
const Schema = `
CREATE TABLE IF NOT EXISTS vault_records (
	user_id     TEXT        NOT NULL,
	data_type   TEXT        NOT NULL,
	record_id   TEXT        NOT NULL,
	ciphertext  BYTEA       NOT NULL,
	iv          BYTEA       NOT NULL,
	salt        BYTEA       NOT NULL,
	key_version INTEGER     NOT NULL,
	algorithm   TEXT        NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (user_id, data_type)
);

CREATE TABLE IF NOT EXISTS audit_events (
	id           UUID        PRIMARY KEY,
	category     TEXT        NOT NULL,
	timestamp    TIMESTAMPTZ NOT NULL,
	action       TEXT        NOT NULL,
	subject_hash TEXT        NOT NULL DEFAULT '',
	data_type    TEXT        NOT NULL DEFAULT '',
	sections     TEXT[],
	version      INTEGER     NOT NULL DEFAULT 0,
	decision     TEXT        NOT NULL DEFAULT '',
	reason       TEXT        NOT NULL DEFAULT '',
	request_id   TEXT        NOT NULL DEFAULT '',
	actor        TEXT        NOT NULL DEFAULT '',
	severity     TEXT        NOT NULL DEFAULT ''
);
`

// Migrate applies Schema. Statements are idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
