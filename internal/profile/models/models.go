package models

import (
	"time"

	"github.com/google/uuid"
)

// DataType is the vault data type the profile is stored under.
const DataType = "health_profile"

type AgeRange string

const (
	AgeRange13To18 AgeRange = "13-18"
	AgeRange19To30 AgeRange = "19-30"
	AgeRange31To50 AgeRange = "31-50"
	AgeRange51To70 AgeRange = "51-70"
	AgeRange71Plus AgeRange = "71+"
)

type BiologicalSex string

const (
	BiologicalSexFemale         BiologicalSex = "female"
	BiologicalSexMale           BiologicalSex = "male"
	BiologicalSexIntersex       BiologicalSex = "intersex"
	BiologicalSexPreferNotToSay BiologicalSex = "prefer_not_to_say"
)

type PregnancyStatus string

const (
	PregnancyNotApplicable    PregnancyStatus = "not_applicable"
	PregnancyPregnant         PregnancyStatus = "pregnant"
	PregnancyLactating        PregnancyStatus = "lactating"
	PregnancyTryingToConceive PregnancyStatus = "trying_to_conceive"
)

type Severity string

const (
	SeverityMild     Severity = "mild"
	SeverityModerate Severity = "moderate"
	SeveritySevere   Severity = "severe"
)

type DataRetention string

const (
	Retention30Days     DataRetention = "30_days"
	Retention90Days     DataRetention = "90_days"
	Retention1Year      DataRetention = "1_year"
	RetentionIndefinite DataRetention = "indefinite"
)

// Duration returns how long data is kept, or 0 for indefinite retention.
func (r DataRetention) Duration() time.Duration {
	switch r {
	case Retention30Days:
		return 30 * 24 * time.Hour
	case Retention90Days:
		return 90 * 24 * time.Hour
	case Retention1Year:
		return 365 * 24 * time.Hour
	default:
		return 0
	}
}

// GoalID names a wellness goal, e.g. "energy_boost".
type GoalID string

type Demographics struct {
	AgeRange        AgeRange        `json:"age_range,omitempty" validate:"omitempty,oneof=13-18 19-30 31-50 51-70 71+"`
	BiologicalSex   BiologicalSex   `json:"biological_sex,omitempty" validate:"omitempty,oneof=female male intersex prefer_not_to_say"`
	DisplayName     string          `json:"display_name,omitempty" validate:"max=80"`
	PregnancyStatus PregnancyStatus `json:"pregnancy_status,omitempty" validate:"omitempty,oneof=not_applicable pregnant lactating trying_to_conceive"`
}

type Condition struct {
	ID       string   `json:"id,omitempty" validate:"max=64"`
	Name     string   `json:"name" validate:"required,max=120"`
	Category string   `json:"category,omitempty" validate:"max=64"`
	Severity Severity `json:"severity,omitempty" validate:"omitempty,oneof=mild moderate severe"`
	Active   bool     `json:"active"`
	Note     string   `json:"note,omitempty" validate:"max=500"`
}

type Conditions struct {
	Items        []Condition `json:"items" validate:"max=100,dive"`
	ConsentGiven bool        `json:"consent_given"`
	LastUpdated  time.Time   `json:"last_updated,omitzero"`
}

type Allergy struct {
	ID        string   `json:"id,omitempty" validate:"max=64"`
	Substance string   `json:"substance" validate:"required,max=120"`
	Type      string   `json:"type,omitempty" validate:"max=64"`
	Severity  Severity `json:"severity,omitempty" validate:"omitempty,oneof=mild moderate severe"`
	Reaction  string   `json:"reaction,omitempty" validate:"max=200"`
	Note      string   `json:"note,omitempty" validate:"max=500"`
}

type Allergies struct {
	Items        []Allergy `json:"items" validate:"max=100,dive"`
	ConsentGiven bool      `json:"consent_given"`
	LastUpdated  time.Time `json:"last_updated,omitzero"`
}

type Medication struct {
	ID           string `json:"id,omitempty" validate:"max=64"`
	Name         string `json:"name" validate:"required,max=120"`
	Dosage       string `json:"dosage,omitempty" validate:"max=64"`
	Frequency    string `json:"frequency,omitempty" validate:"max=64"`
	IsSupplement bool   `json:"is_supplement"`
}

type Medications struct {
	Items        []Medication `json:"items" validate:"max=100,dive"`
	ConsentGiven bool         `json:"consent_given"`
	LastUpdated  time.Time    `json:"last_updated,omitzero"`
}

type HealthGoals struct {
	Primary     GoalID    `json:"primary,omitempty" validate:"max=64"`
	Secondary   GoalID    `json:"secondary,omitempty" validate:"max=64"`
	Tertiary    GoalID    `json:"tertiary,omitempty" validate:"max=64"`
	LastUpdated time.Time `json:"last_updated,omitzero"`
}

type PrivacySettings struct {
	DataRetention               DataRetention `json:"data_retention,omitempty" validate:"omitempty,oneof=30_days 90_days 1_year indefinite"`
	AnalyticsOptIn              bool          `json:"analytics_opt_in"`
	AIAnalysisOptIn             bool          `json:"ai_analysis_opt_in"`
	PersonalizedRecommendations bool          `json:"personalized_recommendations"`
	PolicyVersion               string        `json:"policy_version,omitempty" validate:"max=32"`
	ConsentedAt                 time.Time     `json:"consented_at,omitzero"`
	LastUpdated                 time.Time     `json:"last_updated,omitzero"`
}

// ConservativePrivacy is applied when the user withdraws consent to
// personalised recommendations.
func ConservativePrivacy(current PrivacySettings) PrivacySettings {
	current.PersonalizedRecommendations = false
	current.AIAnalysisOptIn = false
	current.AnalyticsOptIn = false
	current.DataRetention = Retention90Days
	return current
}

// HealthProfile is the single per-user profile record.
type HealthProfile struct {
	ID                uuid.UUID       `json:"id"`
	UserID            string          `json:"user_id"`
	Version           int             `json:"version"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	Demographics      Demographics    `json:"demographics"`
	Conditions        Conditions      `json:"conditions"`
	Allergies         Allergies       `json:"allergies"`
	Medications       Medications     `json:"medications"`
	HealthGoals       HealthGoals     `json:"health_goals"`
	PrivacySettings   PrivacySettings `json:"privacy_settings"`
	CompletenessScore int             `json:"completeness_score"`
	IsComplete        bool            `json:"is_complete"`
}

// Clone returns a deep copy. Cached profiles are shared, so writers always
// work on a clone.
func (p *HealthProfile) Clone() *HealthProfile {
	if p == nil {
		return nil
	}
	c := *p
	c.Conditions.Items = cloneSlice(p.Conditions.Items)
	c.Allergies.Items = cloneSlice(p.Allergies.Items)
	c.Medications.Items = cloneSlice(p.Medications.Items)
	return &c
}

// HasHealthData reports whether any consent-gated section holds entries.
func (p *HealthProfile) HasHealthData() bool {
	return len(p.Conditions.Items) > 0 || len(p.Allergies.Items) > 0 || len(p.Medications.Items) > 0
}

// RetentionExpired reports whether the profile outlived its retention window.
func (p *HealthProfile) RetentionExpired(now time.Time) bool {
	d := p.PrivacySettings.DataRetention.Duration()
	if d == 0 || p.UpdatedAt.IsZero() {
		return false
	}
	return now.Sub(p.UpdatedAt) > d
}

func cloneSlice[T any](in []T) []T {
	if in == nil {
		return nil
	}
	return append(make([]T, 0, len(in)), in...)
}
