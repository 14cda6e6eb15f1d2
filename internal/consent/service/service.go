// Package service records consent decisions and applies their effects on the
// health profile.
package service

import (
	"context"
	"crypto/rand"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"healthvault/internal/consent/models"
	profilemodels "healthvault/internal/profile/models"
	dErrors "healthvault/pkg/domain-errors"
	"healthvault/pkg/platform/attrs"
	"healthvault/pkg/platform/audit"
	"healthvault/pkg/requestcontext"
)

// ProfileManager is the profile write path cascades go through.
type ProfileManager interface {
	GetHealthProfile(ctx context.Context, userID string) (*profilemodels.HealthProfile, error)
	SaveHealthProfile(ctx context.Context, userID string, patch profilemodels.ProfilePatch) (*profilemodels.HealthProfile, error)
	UpdateAIConsent(ctx context.Context, userID string, granted bool) (*profilemodels.HealthProfile, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service appends decisions to the ledger and runs their cascades.
type Service struct {
	ledger         *Ledger
	profiles       ProfileManager
	logger         *slog.Logger
	auditPublisher AuditPublisher

	entropyMu sync.Mutex
	entropy   *ulid.MonotonicEntropy
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func New(ledger *Ledger, profiles ProfileManager, opts ...Option) *Service {
	s := &Service{
		ledger:   ledger,
		profiles: profiles,
		entropy:  ulid.Monotonic(rand.Reader, 0),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ledger exposes the read side.
func (s *Service) Ledger() *Ledger {
	return s.ledger
}

// RecordConsent appends one ledger entry per decision, then applies the
// profile cascade for each. Unknown types reject the whole batch before
// anything is written.
func (s *Service) RecordConsent(ctx context.Context, userID string, decisions []models.Decision) ([]models.Record, error) {
	if userID == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "user ID required")
	}
	if len(decisions) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "at least one consent decision required")
	}
	for _, d := range decisions {
		if _, ok := models.Lookup(d.Type); !ok {
			return nil, dErrors.New(dErrors.CodeValidation, "unknown consent type: "+string(d.Type))
		}
	}

	now := requestcontext.Now(ctx)
	metadata := metadataFrom(requestcontext.UserAgent(ctx), requestcontext.ClientIP(ctx))

	records := make([]models.Record, 0, len(decisions))
	for _, d := range decisions {
		policyVersion := strings.TrimSpace(d.PolicyVersion)
		if policyVersion == "" {
			policyVersion = s.ledger.PolicyVersion()
		}
		rec := models.Record{
			ID:            s.newID(now),
			UserID:        userID,
			Type:          d.Type,
			Granted:       d.Granted,
			Timestamp:     now,
			PolicyVersion: policyVersion,
			Metadata:      metadata,
		}
		if err := s.ledger.store.Append(ctx, rec); err != nil {
			code := dErrors.CodeInternal
			if dErrors.HasCode(err, dErrors.CodeIntegrity) {
				code = dErrors.CodeIntegrity
			}
			return records, dErrors.Wrap(err, code, "failed to record consent")
		}
		records = append(records, rec)

		event := audit.EventConsentGranted
		if !d.Granted {
			event = audit.EventConsentRevoked
		}
		s.logAudit(ctx, event, userID,
			"consent_type", string(d.Type),
			"decision", decisionLabel(d.Granted),
		)

		if err := s.cascade(ctx, userID, d); err != nil {
			return records, err
		}
	}
	return records, nil
}

// RevokeConsent records a refusal for t and applies its cascade.
func (s *Service) RevokeConsent(ctx context.Context, userID string, t models.Type) (*models.Record, error) {
	records, err := s.RecordConsent(ctx, userID, []models.Decision{{Type: t, Granted: false}})
	if err != nil {
		return nil, err
	}
	return &records[0], nil
}

// cascade mirrors a decision into the profile. Profiles that do not exist
// yet are left alone.
func (s *Service) cascade(ctx context.Context, userID string, d models.Decision) error {
	if s.profiles == nil {
		return nil
	}

	var (
		sections []string
		apply    func() error
	)
	switch {
	case d.Type == models.TypeAIAnalysis:
		sections = []string{profilemodels.SectionPrivacy}
		apply = func() error {
			_, err := s.profiles.UpdateAIConsent(ctx, userID, d.Granted)
			return err
		}
	case d.Type == models.TypeHealthDataStorage && !d.Granted:
		sections = []string{profilemodels.SectionConditions, profilemodels.SectionAllergies, profilemodels.SectionMedications}
		apply = func() error {
			_, err := s.profiles.SaveHealthProfile(ctx, userID, profilemodels.ClearHealthDataPatch())
			return err
		}
	case d.Type == models.TypePersonalizedRecommendations && !d.Granted:
		sections = []string{profilemodels.SectionPrivacy}
		apply = func() error {
			_, err := s.profiles.SaveHealthProfile(ctx, userID, conservativePrivacyPatch())
			return err
		}
	default:
		return nil
	}

	existing, err := s.profiles.GetHealthProfile(ctx, userID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load profile for consent cascade")
	}
	if existing == nil && !(d.Type == models.TypeAIAnalysis && d.Granted) {
		return nil
	}
	if err := apply(); err != nil {
		return err
	}

	s.logAudit(ctx, audit.EventConsentCascaded, userID,
		"consent_type", string(d.Type),
		"decision", decisionLabel(d.Granted),
		"sections", sections,
	)
	return nil
}

func conservativePrivacyPatch() profilemodels.ProfilePatch {
	p := profilemodels.ConservativePrivacy(profilemodels.PrivacySettings{})
	return profilemodels.ProfilePatch{
		PrivacySettings: &profilemodels.PrivacySettingsPatch{
			DataRetention:               profilemodels.Some(p.DataRetention),
			AnalyticsOptIn:              profilemodels.Some(p.AnalyticsOptIn),
			AIAnalysisOptIn:             profilemodels.Some(p.AIAnalysisOptIn),
			PersonalizedRecommendations: profilemodels.Some(p.PersonalizedRecommendations),
		},
	}
}

func (s *Service) newID(now time.Time) string {
	s.entropyMu.Lock()
	defer s.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), s.entropy).String()
}

func decisionLabel(granted bool) string {
	if granted {
		return "granted"
	}
	return "revoked"
}

func (s *Service) logAudit(ctx context.Context, event audit.AuditEvent, userID string, attributes ...any) {
	subject := audit.HashSubject(userID)
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	args := append(attributes, "subject", subject, "event", string(event), "log_type", "audit")
	if s.logger != nil {
		s.logger.InfoContext(ctx, string(event), args...)
	}
	if s.auditPublisher == nil {
		return
	}
	consentType := attrs.ExtractString(attributes, "consent_type")
	err := s.auditPublisher.Emit(ctx, audit.Event{
		Action:      string(event),
		SubjectHash: subject,
		DataType:    models.Type(consentType).DataType(),
		Sections:    attrs.ExtractStrings(attributes, "sections"),
		Decision:    attrs.ExtractString(attributes, "decision"),
	})
	if err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "audit emit failed", "event", string(event), "error", err)
	}
}
