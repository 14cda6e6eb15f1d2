// Package logsink writes audit events as structured log lines.
package logsink

import (
	"context"
	"log/slog"

	audit "healthvault/pkg/platform/audit"
)

// Store emits one slog record per event tagged log_type=audit.
type Store struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Store {
	return &Store{logger: logger}
}

func (s *Store) Append(ctx context.Context, event audit.Event) error {
	level := slog.LevelInfo
	switch event.Severity {
	case audit.SeverityWarning:
		level = slog.LevelWarn
	case audit.SeverityCritical:
		level = slog.LevelError
	}
	s.logger.Log(ctx, level, event.Action,
		"log_type", "audit",
		"category", string(event.Category),
		"subject_hash", event.SubjectHash,
		"data_type", event.DataType,
		"sections", event.Sections,
		"version", event.Version,
		"decision", event.Decision,
		"reason", event.Reason,
		"request_id", event.RequestID,
		"actor", event.Actor,
		"at", event.Timestamp,
	)
	return nil
}
