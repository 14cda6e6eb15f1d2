package sanitize

import (
	"context"
	"log/slog"

	consentmodels "healthvault/internal/consent/models"
	"healthvault/internal/profile/models"
	dErrors "healthvault/pkg/domain-errors"
	"healthvault/pkg/platform/audit"
)

// ProfileReader is the profile service surface the boundary reads through.
type ProfileReader interface {
	GetHealthProfile(ctx context.Context, userID string) (*models.HealthProfile, error)
	HasAIConsent(ctx context.Context, userID string) bool
}

type ConsentChecker interface {
	HasConsent(ctx context.Context, userID string, t consentmodels.Type) (bool, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Boundary checks consent before producing a Summary. Callers about to make
// an external AI request get their payload here and nowhere else.
type Boundary struct {
	profiles       ProfileReader
	consents       ConsentChecker
	logger         *slog.Logger
	auditPublisher AuditPublisher
}

type Option func(*Boundary)

func WithConsentChecker(c ConsentChecker) Option {
	return func(b *Boundary) {
		b.consents = c
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(b *Boundary) {
		b.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(b *Boundary) {
		b.auditPublisher = publisher
	}
}

func NewBoundary(profiles ProfileReader, opts ...Option) *Boundary {
	b := &Boundary{profiles: profiles}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Summarize returns the sanitized summary for userID, or a
// CodeMissingConsent error when either the profile opt-in or the ledger
// consent is absent.
func (b *Boundary) Summarize(ctx context.Context, userID string) (*Summary, error) {
	if userID == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "user ID required")
	}
	if !b.profiles.HasAIConsent(ctx, userID) {
		return nil, dErrors.New(dErrors.CodeMissingConsent, "AI analysis not enabled")
	}
	if b.consents != nil {
		ok, err := b.consents.HasConsent(ctx, userID, consentmodels.TypeAIAnalysis)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check AI consent")
		}
		if !ok {
			return nil, dErrors.New(dErrors.CodeMissingConsent, "AI analysis consent required")
		}
	}

	p, err := b.profiles.GetHealthProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	summary := SanitizeForAI(p)
	if summary == nil {
		return nil, dErrors.New(dErrors.CodeMissingConsent, "AI analysis not enabled")
	}

	b.logAudit(ctx, userID)
	return summary, nil
}

func (b *Boundary) logAudit(ctx context.Context, userID string) {
	subject := audit.HashSubject(userID)
	if b.logger != nil {
		b.logger.InfoContext(ctx, string(audit.EventProfileAccessed),
			"subject", subject,
			"reason", "ai_summary",
			"log_type", "audit",
		)
	}
	if b.auditPublisher == nil {
		return
	}
	_ = b.auditPublisher.Emit(ctx, audit.Event{
		Action:      string(audit.EventProfileAccessed),
		SubjectHash: subject,
		DataType:    models.DataType,
		Sections:    []string{models.SectionDemographics, models.SectionConditions, models.SectionAllergies, models.SectionHealthGoals},
		Reason:      "ai_summary",
	})
}
