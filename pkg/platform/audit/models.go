package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// EventCategory classifies audit events by their primary purpose.
type EventCategory string

const (
	// CategoryCompliance covers events with regulatory significance: profile
	// erasure and export, consent changes.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers integrity failures and other signals that the
	// device store may have been tampered with.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine reads and writes.
	CategoryOperations EventCategory = "operations"
)

// Severity levels for audit events.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event is an append-only audit record. It deliberately has no field that can
// hold PHI: the user is identified only by SubjectHash, and section names are
// recorded rather than section contents.
type Event struct {
	Category    EventCategory `json:"category"`
	Timestamp   time.Time     `json:"timestamp"`
	Action      string        `json:"action"`
	SubjectHash string        `json:"subject_hash,omitempty"`
	DataType    string        `json:"data_type,omitempty"`
	Sections    []string      `json:"sections,omitempty"`
	Version     int           `json:"version,omitempty"`
	Decision    string        `json:"decision,omitempty"`
	Reason      string        `json:"reason,omitempty"`
	RequestID   string        `json:"request_id,omitempty"`
	Actor       string        `json:"actor,omitempty"`
	Severity    Severity      `json:"severity,omitempty"`
}

// Store persists audit events. Implementations are write-only from the
// application's point of view.
type Store interface {
	Append(ctx context.Context, event Event) error
}

type AuditEvent string

const (
	// Profile events
	EventProfileUpdated   AuditEvent = "profile_updated"
	EventProfileAccessed  AuditEvent = "profile_accessed"
	EventProfileDeleted   AuditEvent = "profile_deleted"
	EventProfileExported  AuditEvent = "profile_exported"
	EventAIConsentUpdated AuditEvent = "ai_consent_updated"
	EventRetentionExpired AuditEvent = "profile_retention_expired"

	// Consent events
	EventConsentGranted  AuditEvent = "consent_granted"
	EventConsentRevoked  AuditEvent = "consent_revoked"
	EventConsentCascaded AuditEvent = "consent_cascade_applied"

	// Store events
	EventIntegrityFailed AuditEvent = "record_integrity_failed"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventProfileDeleted:   CategoryCompliance,
	EventProfileExported:  CategoryCompliance,
	EventAIConsentUpdated: CategoryCompliance,
	EventRetentionExpired: CategoryCompliance,
	EventConsentGranted:   CategoryCompliance,
	EventConsentRevoked:   CategoryCompliance,
	EventConsentCascaded:  CategoryCompliance,

	EventIntegrityFailed: CategorySecurity,

	EventProfileUpdated:  CategoryOperations,
	EventProfileAccessed: CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// subjectHashLen is the number of hex characters kept from the SHA-256 digest.
const subjectHashLen = 16

// HashSubject derives the pseudonymous subject identifier written to audit
// logs. The raw user ID never reaches a log line.
func HashSubject(userID string) string {
	if userID == "" {
		return ""
	}
	sum := sha256.Sum256([]byte("healthvault/audit:" + userID))
	return hex.EncodeToString(sum[:])[:subjectHashLen]
}
