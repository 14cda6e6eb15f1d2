// Package postgres stores vault envelopes in the vault_records table.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"healthvault/internal/vault"
	txcontext "healthvault/pkg/platform/tx"
)

// Backend implements vault.Backend on database/sql. Register the lib/pq
// driver before opening db (see internal/platform/postgres).
type Backend struct {
	db *sql.DB
}

func New(db *sql.DB) *Backend {
	return &Backend{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (b *Backend) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return b.db
}

const upsertRecord = `
	INSERT INTO vault_records (
		user_id, data_type, record_id, ciphertext, iv, salt,
		key_version, algorithm, updated_at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (user_id, data_type) DO UPDATE SET
		record_id = EXCLUDED.record_id,
		ciphertext = EXCLUDED.ciphertext,
		iv = EXCLUDED.iv,
		salt = EXCLUDED.salt,
		key_version = EXCLUDED.key_version,
		algorithm = EXCLUDED.algorithm,
		updated_at = EXCLUDED.updated_at
`

func (b *Backend) Put(ctx context.Context, env vault.Envelope) error {
	_, err := b.execer(ctx).ExecContext(ctx, upsertRecord,
		env.UserID,
		env.DataType,
		env.RecordID,
		env.Ciphertext,
		env.IV,
		env.Salt,
		env.KeyVersion,
		env.Algorithm,
		env.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert vault record: %w", err)
	}
	return nil
}

const selectRecords = `
	SELECT user_id, data_type, record_id, ciphertext, iv, salt,
		key_version, algorithm, updated_at
	FROM vault_records
	WHERE user_id = $1 AND data_type = $2
	ORDER BY updated_at DESC
`

func (b *Backend) List(ctx context.Context, userID, dataType string) ([]vault.Envelope, error) {
	rows, err := b.execer(ctx).QueryContext(ctx, selectRecords, userID, dataType)
	if err != nil {
		return nil, fmt.Errorf("query vault records: %w", err)
	}
	defer rows.Close()

	var envs []vault.Envelope
	for rows.Next() {
		var env vault.Envelope
		if err := rows.Scan(
			&env.UserID,
			&env.DataType,
			&env.RecordID,
			&env.Ciphertext,
			&env.IV,
			&env.Salt,
			&env.KeyVersion,
			&env.Algorithm,
			&env.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan vault record: %w", err)
		}
		envs = append(envs, env)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vault records: %w", err)
	}
	return envs, nil
}

func (b *Backend) Delete(ctx context.Context, userID, dataType string) (int, error) {
	res, err := b.execer(ctx).ExecContext(ctx,
		`DELETE FROM vault_records WHERE user_id = $1 AND data_type = $2`, userID, dataType)
	if err != nil {
		return 0, fmt.Errorf("delete vault record: %w", err)
	}
	return rowsAffected(res)
}

func (b *Backend) DeleteUser(ctx context.Context, userID string) (int, error) {
	res, err := b.execer(ctx).ExecContext(ctx,
		`DELETE FROM vault_records WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("delete user vault records: %w", err)
	}
	return rowsAffected(res)
}

func rowsAffected(res sql.Result) (int, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}
