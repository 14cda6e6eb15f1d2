package service

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	consentmodels "healthvault/internal/consent/models"
	"healthvault/internal/profile/metrics"
	"healthvault/internal/profile/models"
	"healthvault/internal/vault"
	"healthvault/internal/vault/backend/memory"
	"healthvault/internal/vault/keys"
	dErrors "healthvault/pkg/domain-errors"
	"healthvault/pkg/platform/audit"
	"healthvault/pkg/platform/audit/publisher"
	auditmemory "healthvault/pkg/platform/audit/store/memory"
	"healthvault/pkg/requestcontext"
)

// countingBackend counts reads and can be told to fail writes.
type countingBackend struct {
	*memory.Backend
	lists   atomic.Int32
	failPut atomic.Bool
}

func (b *countingBackend) List(ctx context.Context, userID, dataType string) ([]vault.Envelope, error) {
	b.lists.Add(1)
	return b.Backend.List(ctx, userID, dataType)
}

func (b *countingBackend) Put(ctx context.Context, env vault.Envelope) error {
	if b.failPut.Load() {
		return errors.New("disk full")
	}
	return b.Backend.Put(ctx, env)
}

type stubConsents struct {
	mu      sync.Mutex
	granted map[consentmodels.Type]bool
	history []consentmodels.Record
	err     error

	// When set, the next HasConsent decides, closes checked, and waits on
	// resume before answering.
	checked chan struct{}
	resume  chan struct{}
}

func (c *stubConsents) HasConsent(_ context.Context, _ string, t consentmodels.Type) (bool, error) {
	c.mu.Lock()
	granted, err := c.granted[t], c.err
	checked, resume := c.checked, c.resume
	c.checked, c.resume = nil, nil
	c.mu.Unlock()

	if resume != nil {
		close(checked)
		<-resume
	}
	return granted, err
}

func (c *stubConsents) pauseNextCheck() (checked, resume chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checked, c.resume = make(chan struct{}), make(chan struct{})
	return c.checked, c.resume
}

func (c *stubConsents) History(context.Context, string) ([]consentmodels.Record, error) {
	return c.history, c.err
}

func (c *stubConsents) set(t consentmodels.Type, granted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.granted[t] = granted
}

type ServiceSuite struct {
	suite.Suite
	backend    *countingBackend
	auditStore *auditmemory.InMemoryStore
	consents   *stubConsents
	metrics    *metrics.Metrics
	service    *Service
	ctx        context.Context
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.backend = &countingBackend{Backend: memory.New()}
	s.auditStore = auditmemory.NewInMemoryStore()
	s.consents = &stubConsents{granted: map[consentmodels.Type]bool{}}
	s.metrics = metrics.New(prometheus.NewRegistry())

	store := vault.New(s.backend, keys.StaticKey(bytes.Repeat([]byte{2}, keys.KeySize)))
	s.service = New(store,
		WithAuditPublisher(publisher.New(s.auditStore)),
		WithConsentReader(s.consents),
		WithMetrics(s.metrics),
		WithCache(5*time.Second, 16),
	)
	s.ctx = context.Background()
}

func demographics(age models.AgeRange, sex models.BiologicalSex) models.ProfilePatch {
	return models.ProfilePatch{
		Demographics: &models.DemographicsPatch{AgeRange: models.Some(age), BiologicalSex: models.Some(sex)},
	}
}

func goals(primary string) models.ProfilePatch {
	return models.ProfilePatch{
		HealthGoals: &models.HealthGoalsPatch{Primary: models.Some(models.GoalID(primary))},
	}
}

// =============================================================================
// Save and merge
// =============================================================================

func (s *ServiceSuite) TestSaveThenGoalsKeepsDemographics() {
	_, err := s.service.SaveHealthProfile(s.ctx, "user-1", demographics(models.AgeRange19To30, models.BiologicalSexFemale))
	s.Require().NoError(err)
	_, err = s.service.SaveHealthProfile(s.ctx, "user-1", goals("energy_boost"))
	s.Require().NoError(err)

	p, err := s.service.GetHealthProfile(s.ctx, "user-1")
	s.Require().NoError(err)
	s.Require().NotNil(p)
	s.Equal(models.AgeRange19To30, p.Demographics.AgeRange)
	s.Equal(models.GoalID("energy_boost"), p.HealthGoals.Primary)
	s.Equal(2, p.Version)
}

func (s *ServiceSuite) TestMergeNeverDropsSiblingSections() {
	s.consents.set(consentmodels.TypeHealthDataStorage, true)
	at := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	seed := models.ProfilePatch{
		Demographics: &models.DemographicsPatch{AgeRange: models.Some(models.AgeRange31To50), BiologicalSex: models.Some(models.BiologicalSexMale)},
		Conditions:   &models.ConditionsPatch{Items: models.Some([]models.Condition{{Name: "asthma", Severity: models.SeverityMild}})},
		Allergies:    &models.AllergiesPatch{Items: models.Some([]models.Allergy{{Substance: "peanut"}})},
		Medications:  &models.MedicationsPatch{Items: models.Some([]models.Medication{{Name: "vitamin d", IsSupplement: true}})},
		HealthGoals:  &models.HealthGoalsPatch{Primary: models.Some(models.GoalID("sleep")), Secondary: models.Some(models.GoalID("focus"))},
		PrivacySettings: &models.PrivacySettingsPatch{
			DataRetention: models.Some(models.Retention1Year),
			ConsentedAt:   models.Some(at),
		},
	}

	patches := map[string]models.ProfilePatch{
		models.SectionDemographics: {Demographics: &models.DemographicsPatch{DisplayName: models.Some("Sam")}},
		models.SectionConditions:   {Conditions: &models.ConditionsPatch{ConsentGiven: models.Some(true)}},
		models.SectionAllergies:    {Allergies: &models.AllergiesPatch{Items: models.Some([]models.Allergy{})}},
		models.SectionHealthGoals:  {HealthGoals: &models.HealthGoalsPatch{Tertiary: models.Some(models.GoalID("mood"))}},
		models.SectionPrivacy:      {PrivacySettings: &models.PrivacySettingsPatch{AnalyticsOptIn: models.Some(true)}},
	}

	for section, patch := range patches {
		s.Run(section, func() {
			userID := "merge-" + section
			ctx := requestcontext.WithTime(s.ctx, at)
			before, err := s.service.SaveHealthProfile(ctx, userID, seed)
			s.Require().NoError(err)

			_, err = s.service.SaveHealthProfile(ctx, userID, patch)
			s.Require().NoError(err)
			after, err := s.service.GetHealthProfile(ctx, userID)
			s.Require().NoError(err)
			s.Require().NotNil(after)

			if section != models.SectionDemographics {
				s.Equal(before.Demographics, after.Demographics)
			}
			if section != models.SectionConditions {
				s.Equal(before.Conditions.Items, after.Conditions.Items)
			}
			if section != models.SectionAllergies {
				s.Equal(before.Allergies.Items, after.Allergies.Items)
			}
			if section != models.SectionHealthGoals {
				s.Equal(before.HealthGoals, after.HealthGoals)
			}
			if section != models.SectionPrivacy {
				s.Equal(before.PrivacySettings, after.PrivacySettings)
			}
			s.Equal(before.Medications.Items, after.Medications.Items)
			s.Equal(before.ID, after.ID)
			s.Equal(before.CreatedAt, after.CreatedAt)
		})
	}
}

func (s *ServiceSuite) TestVersionIncrementsByOne() {
	patches := []models.ProfilePatch{
		demographics(models.AgeRange13To18, models.BiologicalSexIntersex),
		goals("hydration"),
		{PrivacySettings: &models.PrivacySettingsPatch{DataRetention: models.Some(models.Retention30Days)}},
		{},
		goals("hydration"),
	}
	for i, patch := range patches {
		p, err := s.service.SaveHealthProfile(s.ctx, "user-v", patch)
		s.Require().NoError(err)
		s.Equal(i+1, p.Version)
	}
}

func (s *ServiceSuite) TestConcurrentSavesSerialize() {
	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.service.SaveHealthProfile(s.ctx, "user-c", goals("strength"))
			s.NoError(err)
		}()
	}
	wg.Wait()

	p, err := s.service.GetHealthProfile(s.ctx, "user-c")
	s.Require().NoError(err)
	s.Equal(writers, p.Version)
}

func (s *ServiceSuite) TestSaveRejections() {
	s.Run("missing user", func() {
		_, err := s.service.SaveHealthProfile(s.ctx, "", goals("sleep"))
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	s.Run("invalid enumeration", func() {
		_, err := s.service.SaveHealthProfile(s.ctx, "user-1", demographics("12-13", models.BiologicalSexMale))
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))

		p, err := s.service.GetHealthProfile(s.ctx, "user-1")
		s.Require().NoError(err)
		s.Nil(p, "rejected save must not persist")
	})

	s.Run("stale version", func() {
		p, err := s.service.SaveHealthProfile(s.ctx, "user-2", goals("sleep"))
		s.Require().NoError(err)

		patch := goals("focus")
		patch.IfVersion = models.Some(p.Version - 1)
		_, err = s.service.SaveHealthProfile(s.ctx, "user-2", patch)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))

		patch.IfVersion = models.Some(p.Version)
		saved, err := s.service.SaveHealthProfile(s.ctx, "user-2", patch)
		s.Require().NoError(err)
		s.Equal(p.Version+1, saved.Version)
	})
}

func (s *ServiceSuite) TestHealthDataRequiresConsent() {
	conditions := models.ProfilePatch{
		Conditions: &models.ConditionsPatch{Items: models.Some([]models.Condition{{Name: "migraine"}})},
	}

	s.Run("rejected without consent", func() {
		_, err := s.service.SaveHealthProfile(s.ctx, "user-1", conditions)
		s.True(dErrors.HasCode(err, dErrors.CodeMissingConsent))
		s.Equal(1.0, testutil.ToFloat64(s.metrics.ConsentRejections))
	})

	s.Run("reviewing an empty list needs no consent", func() {
		_, err := s.service.SaveHealthProfile(s.ctx, "user-1", models.ProfilePatch{
			Conditions: &models.ConditionsPatch{Items: models.Some([]models.Condition{})},
		})
		s.NoError(err)
	})

	s.Run("accepted with consent", func() {
		s.consents.set(consentmodels.TypeHealthDataStorage, true)
		p, err := s.service.SaveHealthProfile(s.ctx, "user-1", conditions)
		s.Require().NoError(err)
		s.Len(p.Conditions.Items, 1)
	})

	s.Run("consent lookup failure", func() {
		s.consents.err = errors.New("ledger unreadable")
		defer func() { s.consents.err = nil }()
		_, err := s.service.SaveHealthProfile(s.ctx, "user-1", conditions)
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	})
}

// =============================================================================
// Cache
// =============================================================================


func (s *ServiceSuite) TestRevocationCannotSlipBetweenCheckAndWrite() {
	s.consents.set(consentmodels.TypeHealthDataStorage, true)
	checked, resume := s.consents.pauseNextCheck()

	type result struct {
		p   *models.HealthProfile
		err error
	}
	addDone := make(chan result, 1)
	go func() {
		p, err := s.service.SaveHealthProfile(s.ctx, "user-1", models.ProfilePatch{
			Conditions: &models.ConditionsPatch{Items: models.Some([]models.Condition{{Name: "asthma"}})},
		})
		addDone <- result{p, err}
	}()
	<-checked

	// Revocation lands after the check passed; its cascade clears the section.
	s.consents.set(consentmodels.TypeHealthDataStorage, false)
	clearDone := make(chan result, 1)
	go func() {
		p, err := s.service.SaveHealthProfile(s.ctx, "user-1", models.ProfilePatch{
			Conditions: &models.ConditionsPatch{Items: models.Some([]models.Condition{})},
		})
		clearDone <- result{p, err}
	}()

	select {
	case <-clearDone:
		s.Fail("cascade ran while a consented save was between its check and its write")
	case <-time.After(50 * time.Millisecond):
	}
	close(resume)

	added := <-addDone
	s.Require().NoError(added.err)
	cleared := <-clearDone
	s.Require().NoError(cleared.err)
	s.Equal(added.p.Version+1, cleared.p.Version, "cascade applies after the save")

	p, err := s.service.GetHealthProfile(s.ctx, "user-1")
	s.Require().NoError(err)
	s.Require().NotNil(p)
	s.Empty(p.Conditions.Items)
}

func (s *ServiceSuite) TestCacheServesIdenticalObject() {
	_, err := s.service.SaveHealthProfile(s.ctx, "user-1", goals("sleep"))
	s.Require().NoError(err)

	first, err := s.service.GetHealthProfile(s.ctx, "user-1")
	s.Require().NoError(err)
	readsAfterFirst := s.backend.lists.Load()

	second, err := s.service.GetHealthProfile(s.ctx, "user-1")
	s.Require().NoError(err)
	s.Same(first, second)
	s.Equal(readsAfterFirst, s.backend.lists.Load(), "second read must not touch storage")

	_, err = s.service.SaveHealthProfile(s.ctx, "user-1", goals("focus"))
	s.Require().NoError(err)
	third, err := s.service.GetHealthProfile(s.ctx, "user-1")
	s.Require().NoError(err)
	s.NotSame(first, third)
	s.Equal(models.GoalID("focus"), third.HealthGoals.Primary)
}

func (s *ServiceSuite) TestConcurrentMissesCoalesce() {
	_, err := s.service.SaveHealthProfile(s.ctx, "user-1", goals("sleep"))
	s.Require().NoError(err)
	before := s.backend.lists.Load()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := s.service.GetHealthProfile(s.ctx, "user-1")
			s.NoError(err)
			s.NotNil(p)
		}()
	}
	wg.Wait()
	s.LessOrEqual(s.backend.lists.Load()-before, int32(10))
	s.GreaterOrEqual(s.backend.lists.Load()-before, int32(1))
}

func (s *ServiceSuite) TestSaveFailureLeavesCacheUntouched() {
	_, err := s.service.SaveHealthProfile(s.ctx, "user-1", goals("sleep"))
	s.Require().NoError(err)
	cached, err := s.service.GetHealthProfile(s.ctx, "user-1")
	s.Require().NoError(err)

	s.backend.failPut.Store(true)
	_, err = s.service.SaveHealthProfile(s.ctx, "user-1", goals("focus"))
	s.True(dErrors.HasCode(err, dErrors.CodeSaveFailed))
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Saves.WithLabelValues("error")))

	s.backend.failPut.Store(false)
	after, err := s.service.GetHealthProfile(s.ctx, "user-1")
	s.Require().NoError(err)
	s.Same(cached, after)
	s.Equal(models.GoalID("sleep"), after.HealthGoals.Primary)
	s.Equal(1, after.Version)
}

// =============================================================================
// Delete, corruption, retention
// =============================================================================

func (s *ServiceSuite) TestDeleteDoesNotResurrect() {
	_, err := s.service.SaveHealthProfile(s.ctx, "user-1", goals("sleep"))
	s.Require().NoError(err)
	_, err = s.service.GetHealthProfile(s.ctx, "user-1")
	s.Require().NoError(err)

	removed, err := s.service.DeleteHealthProfile(s.ctx, "user-1")
	s.Require().NoError(err)
	s.True(removed)

	p, err := s.service.GetHealthProfile(s.ctx, "user-1")
	s.Require().NoError(err)
	s.Nil(p)
	p, err = s.service.GetHealthProfile(s.ctx, "user-1")
	s.Require().NoError(err)
	s.Nil(p)

	removed, err = s.service.DeleteHealthProfile(s.ctx, "user-1")
	s.Require().NoError(err)
	s.False(removed)
}

func (s *ServiceSuite) TestCorruptCiphertextReadsAsAbsent() {
	_, err := s.service.SaveHealthProfile(s.ctx, "user-1", goals("sleep"))
	s.Require().NoError(err)
	s.backend.Mutate("user-1", models.DataType, func(e *vault.Envelope) {
		e.Ciphertext[len(e.Ciphertext)-1] ^= 0x01
	})

	p, err := s.service.GetHealthProfile(s.ctx, "user-1")
	s.NoError(err)
	s.Nil(p)
	s.False(s.service.HasAIConsent(s.ctx, "user-1"))

	saved, err := s.service.SaveHealthProfile(s.ctx, "user-1", goals("focus"))
	s.Require().NoError(err)
	s.Equal(1, saved.Version, "an unreadable profile is replaced, not merged")
}

func (s *ServiceSuite) TestEnforceRetention() {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(s.ctx, start)
	_, err := s.service.SaveHealthProfile(ctx, "user-1", models.ProfilePatch{
		PrivacySettings: &models.PrivacySettingsPatch{DataRetention: models.Some(models.Retention30Days)},
	})
	s.Require().NoError(err)

	expired, err := s.service.EnforceRetention(requestcontext.WithTime(s.ctx, start.Add(10*24*time.Hour)), "user-1")
	s.Require().NoError(err)
	s.False(expired)

	expired, err = s.service.EnforceRetention(requestcontext.WithTime(s.ctx, start.Add(31*24*time.Hour)), "user-1")
	s.Require().NoError(err)
	s.True(expired)

	p, err := s.service.GetHealthProfile(s.ctx, "user-1")
	s.Require().NoError(err)
	s.Nil(p)
	s.Contains(s.auditStore.Actions(), string(audit.EventRetentionExpired))
}

// =============================================================================
// AI consent and export
// =============================================================================

func (s *ServiceSuite) TestAIConsent() {
	s.False(s.service.HasAIConsent(s.ctx, "user-1"), "absent profile fails closed")

	p, err := s.service.UpdateAIConsent(s.ctx, "user-1", true)
	s.Require().NoError(err)
	s.True(p.PrivacySettings.AIAnalysisOptIn)
	s.True(s.service.HasAIConsent(s.ctx, "user-1"))

	p, err = s.service.UpdateAIConsent(s.ctx, "user-1", false)
	s.Require().NoError(err)
	s.Equal(2, p.Version)
	s.False(s.service.HasAIConsent(s.ctx, "user-1"))

	events := s.auditStore.ListBySubject(audit.HashSubject("user-1"))
	s.Require().NotEmpty(events)
	last := events[len(events)-1]
	s.Equal(string(audit.EventAIConsentUpdated), last.Action)
	s.Equal("revoked", last.Decision)
}

func (s *ServiceSuite) TestExport() {
	at := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	s.consents.history = []consentmodels.Record{
		{ID: "01J", Type: consentmodels.TypePrivacyPolicy, Granted: true, Timestamp: at, PolicyVersion: "2025-01"},
	}

	s.Run("no data", func() {
		s.consents.history, s.consents.err = nil, nil
		_, err := s.service.ExportHealthProfile(s.ctx, "nobody")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("history without a profile", func() {
		s.consents.history = []consentmodels.Record{
			{ID: "01K", Type: consentmodels.TypeUsageAnalytics, Granted: false, Timestamp: at, PolicyVersion: "2025-01"},
		}
		bundle, err := s.service.ExportHealthProfile(s.ctx, "consent-only")
		s.Require().NoError(err)
		s.Nil(bundle.Profile)
		s.Len(bundle.ConsentHistory, 1)
	})

	s.Run("profile and history", func() {
		s.consents.history = []consentmodels.Record{
			{ID: "01J", Type: consentmodels.TypePrivacyPolicy, Granted: true, Timestamp: at, PolicyVersion: "2025-01"},
		}
		_, err := s.service.SaveHealthProfile(s.ctx, "user-1", goals("sleep"))
		s.Require().NoError(err)

		bundle, err := s.service.ExportHealthProfile(s.ctx, "user-1")
		s.Require().NoError(err)
		s.Equal("user-1", bundle.UserID)
		s.Require().NotNil(bundle.Profile)
		s.Equal(models.GoalID("sleep"), bundle.Profile.HealthGoals.Primary)
		s.Require().Len(bundle.ConsentHistory, 1)
		s.Equal("privacy_policy", bundle.ConsentHistory[0].Type)

		cached, _ := s.service.GetHealthProfile(s.ctx, "user-1")
		s.NotSame(cached, bundle.Profile, "export hands out a copy")
	})
}

// =============================================================================
// Audit hygiene
// =============================================================================

func (s *ServiceSuite) TestReadsAreAudited() {
	_, err := s.service.SaveHealthProfile(s.ctx, "user-1", goals("sleep"))
	s.Require().NoError(err)

	s.Run("store read", func() {
		s.auditStore.Clear()
		p, err := s.service.GetHealthProfile(s.ctx, "user-1")
		s.Require().NoError(err)
		s.Require().NotNil(p)

		events := s.auditStore.All()
		s.Require().Len(events, 1)
		s.Equal(string(audit.EventProfileAccessed), events[0].Action)
		s.Equal(audit.HashSubject("user-1"), events[0].SubjectHash)
		s.Equal(1, events[0].Version)
	})

	s.Run("cache hit", func() {
		s.auditStore.Clear()
		_, err := s.service.LoadHealthProfile(s.ctx, "user-1")
		s.Require().NoError(err)
		s.Equal([]string{string(audit.EventProfileAccessed)}, s.auditStore.Actions())
	})

	s.Run("absent profile emits nothing", func() {
		s.auditStore.Clear()
		p, err := s.service.GetHealthProfile(s.ctx, "nobody")
		s.Require().NoError(err)
		s.Nil(p)
		s.Empty(s.auditStore.Actions())
	})

	s.Run("internal reads are not double counted", func() {
		s.auditStore.Clear()
		s.False(s.service.HasAIConsent(s.ctx, "user-1"))
		_, err := s.service.ExportHealthProfile(s.ctx, "user-1")
		s.Require().NoError(err)
		s.Equal([]string{string(audit.EventProfileExported)}, s.auditStore.Actions())
	})
}

func (s *ServiceSuite) TestAuditEventsCarryNoRawUserID() {
	ctx := requestcontext.WithRequestID(s.ctx, "req-9")
	_, err := s.service.SaveHealthProfile(ctx, "alice@example.com", goals("sleep"))
	s.Require().NoError(err)

	events := s.auditStore.All()
	s.Require().Len(events, 1)
	s.Equal(string(audit.EventProfileUpdated), events[0].Action)
	s.Equal(audit.HashSubject("alice@example.com"), events[0].SubjectHash)
	s.Equal([]string{models.SectionHealthGoals}, events[0].Sections)
	s.Equal(1, events[0].Version)
	s.Equal("req-9", events[0].RequestID)
	s.NotContains(events[0].SubjectHash, "alice")
}

func TestUserLocks_Timeout(t *testing.T) {
	l := newUserLocks(20 * time.Millisecond)
	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = l.run(context.Background(), "u1", func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	err := l.run(context.Background(), "u1", func(context.Context) error { return nil })
	close(release)
	if !dErrors.HasCode(err, dErrors.CodeTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
}
