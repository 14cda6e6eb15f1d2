package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "healthvault/pkg/platform/audit"
	txcontext "healthvault/pkg/platform/tx"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db), mock
}

func sampleEvent() audit.Event {
	return audit.Event{
		Category:    audit.CategoryCompliance,
		Timestamp:   time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		Action:      string(audit.EventConsentRevoked),
		SubjectHash: audit.HashSubject("user-1"),
		DataType:    "consent:ai_analysis",
		Sections:    []string{"privacy_settings"},
		Version:     3,
		Decision:    "revoked",
		RequestID:   "req-1",
		Severity:    audit.SeverityInfo,
	}
}

func TestStore_Append(t *testing.T) {
	store, mock := newMock(t)
	e := sampleEvent()

	mock.ExpectExec("INSERT INTO audit_events").
		WithArgs(sqlmock.AnyArg(), "compliance", e.Timestamp, "consent_revoked", e.SubjectHash,
			"consent:ai_analysis", pq.Array(e.Sections), 3, "revoked", "", "req-1", "", "info").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Append(context.Background(), e))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_AppendJoinsTransaction(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO audit_events").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	sentinel := errors.New("vault write failed")
	err := txcontext.Run(context.Background(), store.db, func(ctx context.Context) error {
		require.NoError(t, store.Append(ctx, sampleEvent()))
		return sentinel
	})

	assert.ErrorIs(t, err, sentinel)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_AppendError(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectExec("INSERT INTO audit_events").WillReturnError(errors.New("connection reset"))

	err := store.Append(context.Background(), sampleEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert audit event")
}
