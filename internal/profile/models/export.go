package models

import (
	"time"

	"github.com/google/uuid"
)

// ConsentEntry is one line of consent history in an export. It mirrors the
// consent ledger record without importing it.
type ConsentEntry struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	Granted       bool      `json:"granted"`
	Timestamp     time.Time `json:"timestamp"`
	PolicyVersion string    `json:"policy_version"`
}

// ExportBundle is the data-portability export: the full profile plus its
// consent history.
type ExportBundle struct {
	ExportID       uuid.UUID      `json:"export_id"`
	ExportedAt     time.Time      `json:"exported_at"`
	UserID         string         `json:"user_id"`
	Profile        *HealthProfile `json:"profile"`
	ConsentHistory []ConsentEntry `json:"consent_history"`
}
