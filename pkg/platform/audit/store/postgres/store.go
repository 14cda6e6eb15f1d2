package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	audit "healthvault/pkg/platform/audit"
	txcontext "healthvault/pkg/platform/tx"
)

// Store implements audit.Store on a PostgreSQL audit_events table. It is used
// when the vault itself runs on the postgres backend so that audit rows can
// share the vault write's transaction.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const insertEvent = `
	INSERT INTO audit_events (
		id, category, timestamp, action, subject_hash, data_type,
		sections, version, decision, reason, request_id, actor, severity
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
`

// Append inserts one event row.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	_, err := s.execer(ctx).ExecContext(ctx, insertEvent,
		uuid.New(),
		string(event.Category),
		event.Timestamp,
		event.Action,
		event.SubjectHash,
		event.DataType,
		pq.Array(event.Sections),
		event.Version,
		event.Decision,
		event.Reason,
		event.RequestID,
		event.Actor,
		string(event.Severity),
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}
