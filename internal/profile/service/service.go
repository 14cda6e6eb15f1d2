// Package service is the health profile manager: the single read and write
// path for a user's profile.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	consentmodels "healthvault/internal/consent/models"
	"healthvault/internal/profile/cache"
	"healthvault/internal/profile/metrics"
	"healthvault/internal/profile/models"
	"healthvault/internal/vault"
	dErrors "healthvault/pkg/domain-errors"
	"healthvault/pkg/platform/attrs"
	"healthvault/pkg/platform/audit"
	"healthvault/pkg/requestcontext"
)

// VaultStore is the encrypted store the profile is persisted in.
type VaultStore interface {
	Put(ctx context.Context, userID, dataType string, record any, recordID string) error
	Get(ctx context.Context, userID, dataType string) ([]vault.Record, error)
	Delete(ctx context.Context, userID, dataType string) (int, error)
	DeleteUser(ctx context.Context, userID string) (int, error)
}

// ConsentReader answers consent questions without letting the profile
// service write to the ledger.
type ConsentReader interface {
	HasConsent(ctx context.Context, userID string, t consentmodels.Type) (bool, error)
	History(ctx context.Context, userID string) ([]consentmodels.Record, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Transactor runs a write and its audit event as one unit of work.
type Transactor interface {
	Run(ctx context.Context, fn func(ctx context.Context) error) error
}

// Service owns the profile cache and serializes writes per user.
type Service struct {
	store          VaultStore
	consents       ConsentReader
	cache          *cache.Cache
	locks          *userLocks
	reads          singleflight.Group
	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *metrics.Metrics
	tracer         trace.Tracer
	transactor     Transactor

	cacheTTL        time.Duration
	cacheMaxEntries int
	lockTimeout     time.Duration
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

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithConsentReader enables health-data gating and consent history in exports.
func WithConsentReader(r ConsentReader) Option {
	return func(s *Service) {
		s.consents = r
	}
}

func WithCache(ttl time.Duration, maxEntries int) Option {
	return func(s *Service) {
		s.cacheTTL = ttl
		s.cacheMaxEntries = maxEntries
	}
}

func WithLockTimeout(d time.Duration) Option {
	return func(s *Service) {
		s.lockTimeout = d
	}
}

// WithTransactor commits every write together with its audit event. A failed
// audit write then fails the operation instead of only being logged.
func WithTransactor(t Transactor) Option {
	return func(s *Service) {
		s.transactor = t
	}
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) {
		s.tracer = tp.Tracer("healthvault/profile")
	}
}

func New(store VaultStore, opts ...Option) *Service {
	s := &Service{
		store:  store,
		tracer: otel.Tracer("healthvault/profile"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cache = cache.New(s.cacheTTL, s.cacheMaxEntries)
	s.locks = newUserLocks(s.lockTimeout)
	return s
}

// GetHealthProfile returns the cached or stored profile, or nil when the user
// has none or it cannot be read. Read failures are logged, never returned.
func (s *Service) GetHealthProfile(ctx context.Context, userID string) (*models.HealthProfile, error) {
	if userID == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "user ID required")
	}
	p, err := s.LoadHealthProfile(ctx, userID)
	if err != nil {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "profile unreadable, treating as absent",
				"subject", audit.HashSubject(userID),
				"code", dErrors.CodeOf(err),
			)
		}
		return nil, nil
	}
	return p, nil
}

// LoadHealthProfile is GetHealthProfile with read errors surfaced. The
// returned profile may be shared with the cache and must not be mutated.
// Every profile handed out is recorded as profile_accessed.
func (s *Service) LoadHealthProfile(ctx context.Context, userID string) (*models.HealthProfile, error) {
	p, err := s.load(ctx, userID)
	if err != nil || p == nil {
		return p, err
	}
	s.logAudit(ctx, audit.EventProfileAccessed, userID, "version", p.Version)
	return p, nil
}

// load is the unaudited read used inside operations that emit their own event.
func (s *Service) load(ctx context.Context, userID string) (*models.HealthProfile, error) {
	ctx, span := s.tracer.Start(ctx, "profile.Load")
	defer span.End()

	if userID == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "user ID required")
	}
	if p, ok := s.cache.Get(userID); ok {
		s.metrics.IncCacheHit()
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return p, nil
	}
	s.metrics.IncCacheMiss()

	v, err, _ := s.reads.Do(userID, func() (any, error) {
		var p *models.HealthProfile
		err := s.locks.run(ctx, userID, func(ctx context.Context) error {
			var err error
			p, err = s.loadLocked(ctx, userID)
			return err
		})
		return p, err
	})
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	p, _ := v.(*models.HealthProfile)
	return p, nil
}

// loadLocked reads through the cache. Callers hold the user's lock so a
// concurrent save cannot interleave between the read and the cache fill.
func (s *Service) loadLocked(ctx context.Context, userID string) (*models.HealthProfile, error) {
	if p, ok := s.cache.Get(userID); ok {
		return p, nil
	}
	records, err := s.store.Get(ctx, userID, models.DataType)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	var p models.HealthProfile
	if err := records[0].Decode(&p); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeIntegrity, "stored profile could not be decoded")
	}
	p.Recompute()
	s.cache.Set(userID, &p)
	return &p, nil
}

// SaveHealthProfile merges patch into the stored profile and writes it
// through to the vault. The version advances by exactly one per save.
func (s *Service) SaveHealthProfile(ctx context.Context, userID string, patch models.ProfilePatch) (*models.HealthProfile, error) {
	ctx, span := s.tracer.Start(ctx, "profile.Save")
	defer span.End()

	if userID == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "user ID required")
	}

	saved, err := s.save(ctx, userID, patch, audit.EventProfileUpdated, func(p *models.HealthProfile) []any {
		return []any{"sections", patch.Sections(), "version", p.Version}
	})
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("profile.version", saved.Version))
	return saved, nil
}

func (s *Service) requireHealthDataConsent(ctx context.Context, userID string, patch models.ProfilePatch) error {
	if s.consents == nil || !patch.AddsHealthData() {
		return nil
	}
	ok, err := s.consents.HasConsent(ctx, userID, consentmodels.TypeHealthDataStorage)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check health data consent")
	}
	if !ok {
		s.metrics.IncConsentRejection()
		return dErrors.New(dErrors.CodeMissingConsent, "health data storage consent required")
	}
	return nil
}

// save runs the consent check and the read-merge-write cycle under the
// user's lock, so a revocation cascade cannot interleave between them. The
// cache is invalidated only after the vault accepted the write.
func (s *Service) save(ctx context.Context, userID string, patch models.ProfilePatch, event audit.AuditEvent, eventAttrs func(*models.HealthProfile) []any) (*models.HealthProfile, error) {
	var saved *models.HealthProfile
	err := s.locks.run(ctx, userID, func(ctx context.Context) error {
		if err := s.requireHealthDataConsent(ctx, userID, patch); err != nil {
			return err
		}
		current, err := s.loadLocked(ctx, userID)
		if err != nil {
			if !dErrors.HasCode(err, dErrors.CodeIntegrity) {
				return dErrors.Wrap(err, dErrors.CodeSaveFailed, "failed to load current profile")
			}
			current = nil
		}

		currentVersion := 0
		if current != nil {
			currentVersion = current.Version
		}
		if want, ok := patch.IfVersion.Get(); ok && want != currentVersion {
			return dErrors.New(dErrors.CodeConflict, "profile was modified concurrently")
		}

		now := requestcontext.Now(ctx)
		next := models.Merge(current, patch, now)
		if current == nil {
			next.ID = uuid.New()
			next.UserID = userID
			next.CreatedAt = now
		}
		next.Version = currentVersion + 1
		next.UpdatedAt = now

		if err := next.Validate(); err != nil {
			var verr *models.ValidationError
			if errors.As(err, &verr) {
				return dErrors.Wrap(err, dErrors.CodeValidation, "profile failed validation")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "profile validation error")
		}

		err = s.audited(ctx, userID, event, func(ctx context.Context) ([]any, error) {
			if err := s.store.Put(ctx, userID, models.DataType, next, next.ID.String()); err != nil {
				return nil, err
			}
			return eventAttrs(next), nil
		})
		if err != nil {
			s.metrics.IncSave("error")
			return dErrors.Wrap(err, dErrors.CodeSaveFailed, "failed to save profile")
		}
		s.cache.Invalidate(userID)
		s.reads.Forget(userID)
		s.metrics.IncSave("ok")
		saved = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// DeleteHealthProfile erases every record held for the user, including the
// consent ledger. It reports whether anything was removed.
func (s *Service) DeleteHealthProfile(ctx context.Context, userID string) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "profile.Delete")
	defer span.End()

	if userID == "" {
		return false, dErrors.New(dErrors.CodeBadRequest, "user ID required")
	}
	var removed int
	err := s.locks.run(ctx, userID, func(ctx context.Context) error {
		err := s.audited(ctx, userID, audit.EventProfileDeleted, func(ctx context.Context) ([]any, error) {
			n, err := s.store.DeleteUser(ctx, userID)
			if err != nil {
				return nil, err
			}
			removed = n
			return []any{"records", n}, nil
		})
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete profile")
		}
		s.cache.Invalidate(userID)
		s.reads.Forget(userID)
		return nil
	})
	if err != nil {
		recordError(span, err)
		return false, err
	}

	s.metrics.IncDelete()
	return removed > 0, nil
}

// ExportHealthProfile assembles the data-portability bundle. The profile and
// consent history are loaded concurrently. A user with consent history but no
// profile gets a bundle whose Profile is nil; CodeNotFound is returned only
// when nothing at all is held.
func (s *Service) ExportHealthProfile(ctx context.Context, userID string) (*models.ExportBundle, error) {
	ctx, span := s.tracer.Start(ctx, "profile.Export")
	defer span.End()

	if userID == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "user ID required")
	}

	var (
		profile *models.HealthProfile
		history []consentmodels.Record
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := s.load(gctx, userID)
		if err != nil {
			return err
		}
		profile = p.Clone()
		return nil
	})
	if s.consents != nil {
		g.Go(func() error {
			h, err := s.consents.History(gctx, userID)
			if err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load consent history")
			}
			history = h
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		recordError(span, err)
		return nil, err
	}
	if profile == nil && len(history) == 0 {
		return nil, dErrors.New(dErrors.CodeNotFound, "no data held for user")
	}

	bundle := &models.ExportBundle{
		ExportID:       uuid.New(),
		ExportedAt:     requestcontext.Now(ctx),
		UserID:         userID,
		Profile:        profile,
		ConsentHistory: make([]models.ConsentEntry, 0, len(history)),
	}
	for _, r := range history {
		bundle.ConsentHistory = append(bundle.ConsentHistory, models.ConsentEntry{
			ID:            r.ID,
			Type:          string(r.Type),
			Granted:       r.Granted,
			Timestamp:     r.Timestamp,
			PolicyVersion: r.PolicyVersion,
		})
	}

	s.logAudit(ctx, audit.EventProfileExported, userID, "sections", exportedSections(profile))
	return bundle, nil
}

func exportedSections(p *models.HealthProfile) []string {
	if p == nil {
		return nil
	}
	return []string{
		models.SectionDemographics,
		models.SectionConditions,
		models.SectionAllergies,
		models.SectionMedications,
		models.SectionHealthGoals,
		models.SectionPrivacy,
	}
}

// HasAIConsent reports the profile's AI opt-in. It fails closed.
func (s *Service) HasAIConsent(ctx context.Context, userID string) bool {
	p, err := s.load(ctx, userID)
	if err != nil || p == nil {
		return false
	}
	return p.PrivacySettings.AIAnalysisOptIn
}

// UpdateAIConsent sets the AI opt-in flag through the normal save path.
func (s *Service) UpdateAIConsent(ctx context.Context, userID string, granted bool) (*models.HealthProfile, error) {
	ctx, span := s.tracer.Start(ctx, "profile.UpdateAIConsent")
	defer span.End()

	if userID == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "user ID required")
	}
	patch := models.ProfilePatch{
		PrivacySettings: &models.PrivacySettingsPatch{AIAnalysisOptIn: models.Some(granted)},
	}
	saved, err := s.save(ctx, userID, patch, audit.EventAIConsentUpdated, func(p *models.HealthProfile) []any {
		return []any{"decision", decision(granted), "version", p.Version}
	})
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	return saved, nil
}

// EnforceRetention erases the stored profile when its retention window has
// elapsed since the last update. Consent ledgers are kept as evidence.
func (s *Service) EnforceRetention(ctx context.Context, userID string) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "profile.EnforceRetention")
	defer span.End()

	if userID == "" {
		return false, dErrors.New(dErrors.CodeBadRequest, "user ID required")
	}
	var expired bool
	err := s.locks.run(ctx, userID, func(ctx context.Context) error {
		p, err := s.loadLocked(ctx, userID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load profile")
		}
		if p == nil || !p.RetentionExpired(requestcontext.Now(ctx)) {
			return nil
		}
		err = s.audited(ctx, userID, audit.EventRetentionExpired, func(ctx context.Context) ([]any, error) {
			_, err := s.store.Delete(ctx, userID, models.DataType)
			return []any{"version", p.Version}, err
		})
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to purge expired profile")
		}
		s.cache.Invalidate(userID)
		s.reads.Forget(userID)
		expired = true
		return nil
	})
	if err != nil {
		recordError(span, err)
		return false, err
	}
	if expired {
		s.metrics.IncRetentionPurge()
	}
	return expired, nil
}

func decision(granted bool) string {
	if granted {
		return "granted"
	}
	return "revoked"
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
}

// audited runs write and records event for it. With a transactor both share
// one transaction and a failed audit write rolls the change back; without one
// the event is emitted after the write and a failure is only logged.
func (s *Service) audited(ctx context.Context, userID string, event audit.AuditEvent, write func(ctx context.Context) ([]any, error)) error {
	if s.transactor == nil {
		attributes, err := write(ctx)
		if err != nil {
			return err
		}
		s.logAudit(ctx, event, userID, attributes...)
		return nil
	}
	return s.transactor.Run(ctx, func(ctx context.Context) error {
		attributes, err := write(ctx)
		if err != nil {
			return err
		}
		return s.emitAudit(ctx, event, userID, attributes...)
	})
}

// logAudit writes an audit-tagged log line and emits the event. The user is
// identified by subject hash only.
func (s *Service) logAudit(ctx context.Context, event audit.AuditEvent, userID string, attributes ...any) {
	if err := s.emitAudit(ctx, event, userID, attributes...); err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "audit emit failed", "event", string(event), "error", err)
	}
}

func (s *Service) emitAudit(ctx context.Context, event audit.AuditEvent, userID string, attributes ...any) error {
	subject := audit.HashSubject(userID)
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	args := append(attributes, "subject", subject, "event", string(event), "log_type", "audit")
	if s.logger != nil {
		s.logger.InfoContext(ctx, string(event), args...)
	}
	if s.auditPublisher == nil {
		return nil
	}
	return s.auditPublisher.Emit(ctx, audit.Event{
		Action:      string(event),
		SubjectHash: subject,
		DataType:    models.DataType,
		Sections:    attrs.ExtractStrings(attributes, "sections"),
		Version:     attrs.ExtractInt(attributes, "version"),
		Decision:    attrs.ExtractString(attributes, "decision"),
	})
}
