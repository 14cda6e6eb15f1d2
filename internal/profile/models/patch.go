package models

import "time"

// Section names used in audit events and completeness.
const (
	SectionDemographics = "demographics"
	SectionConditions   = "conditions"
	SectionAllergies    = "allergies"
	SectionMedications  = "medications"
	SectionHealthGoals  = "health_goals"
	SectionPrivacy      = "privacy_settings"
)

type DemographicsPatch struct {
	AgeRange        Optional[AgeRange]        `json:"age_range,omitzero"`
	BiologicalSex   Optional[BiologicalSex]   `json:"biological_sex,omitzero"`
	DisplayName     Optional[string]          `json:"display_name,omitzero"`
	PregnancyStatus Optional[PregnancyStatus] `json:"pregnancy_status,omitzero"`
}

type ConditionsPatch struct {
	Items        Optional[[]Condition] `json:"items,omitzero"`
	ConsentGiven Optional[bool]        `json:"consent_given,omitzero"`
}

type AllergiesPatch struct {
	Items        Optional[[]Allergy] `json:"items,omitzero"`
	ConsentGiven Optional[bool]      `json:"consent_given,omitzero"`
}

type MedicationsPatch struct {
	Items        Optional[[]Medication] `json:"items,omitzero"`
	ConsentGiven Optional[bool]         `json:"consent_given,omitzero"`
}

type HealthGoalsPatch struct {
	Primary   Optional[GoalID] `json:"primary,omitzero"`
	Secondary Optional[GoalID] `json:"secondary,omitzero"`
	Tertiary  Optional[GoalID] `json:"tertiary,omitzero"`
}

type PrivacySettingsPatch struct {
	DataRetention               Optional[DataRetention] `json:"data_retention,omitzero"`
	AnalyticsOptIn              Optional[bool]          `json:"analytics_opt_in,omitzero"`
	AIAnalysisOptIn             Optional[bool]          `json:"ai_analysis_opt_in,omitzero"`
	PersonalizedRecommendations Optional[bool]          `json:"personalized_recommendations,omitzero"`
	PolicyVersion               Optional[string]        `json:"policy_version,omitzero"`
	ConsentedAt                 Optional[time.Time]     `json:"consented_at,omitzero"`
}

// ProfilePatch is a partial update. A nil section is left untouched; inside a
// section only set fields are written.
type ProfilePatch struct {
	Demographics    *DemographicsPatch    `json:"demographics,omitempty"`
	Conditions      *ConditionsPatch      `json:"conditions,omitempty"`
	Allergies       *AllergiesPatch       `json:"allergies,omitempty"`
	Medications     *MedicationsPatch     `json:"medications,omitempty"`
	HealthGoals     *HealthGoalsPatch     `json:"health_goals,omitempty"`
	PrivacySettings *PrivacySettingsPatch `json:"privacy_settings,omitempty"`

	// IfVersion rejects the save when the stored version differs.
	IfVersion Optional[int] `json:"if_version,omitzero"`
}

// Sections lists the sections the patch touches, in a stable order.
func (p ProfilePatch) Sections() []string {
	var out []string
	if p.Demographics != nil {
		out = append(out, SectionDemographics)
	}
	if p.Conditions != nil {
		out = append(out, SectionConditions)
	}
	if p.Allergies != nil {
		out = append(out, SectionAllergies)
	}
	if p.Medications != nil {
		out = append(out, SectionMedications)
	}
	if p.HealthGoals != nil {
		out = append(out, SectionHealthGoals)
	}
	if p.PrivacySettings != nil {
		out = append(out, SectionPrivacy)
	}
	return out
}

// AddsHealthData reports whether the patch writes a non-empty conditions,
// allergies or medications list.
func (p ProfilePatch) AddsHealthData() bool {
	if p.Conditions != nil {
		if items, ok := p.Conditions.Items.Get(); ok && len(items) > 0 {
			return true
		}
	}
	if p.Allergies != nil {
		if items, ok := p.Allergies.Items.Get(); ok && len(items) > 0 {
			return true
		}
	}
	if p.Medications != nil {
		if items, ok := p.Medications.Items.Get(); ok && len(items) > 0 {
			return true
		}
	}
	return false
}

// ClearHealthDataPatch empties every consent-gated section.
func ClearHealthDataPatch() ProfilePatch {
	return ProfilePatch{
		Conditions:  &ConditionsPatch{Items: Some([]Condition{}), ConsentGiven: Some(false)},
		Allergies:   &AllergiesPatch{Items: Some([]Allergy{}), ConsentGiven: Some(false)},
		Medications: &MedicationsPatch{Items: Some([]Medication{}), ConsentGiven: Some(false)},
	}
}

func (d Demographics) merge(p *DemographicsPatch) Demographics {
	p.AgeRange.Apply(&d.AgeRange)
	p.BiologicalSex.Apply(&d.BiologicalSex)
	p.DisplayName.Apply(&d.DisplayName)
	p.PregnancyStatus.Apply(&d.PregnancyStatus)
	return d
}

func (c Conditions) merge(p *ConditionsPatch, now time.Time) Conditions {
	if items, ok := p.Items.Get(); ok {
		c.Items = cloneSlice(items)
	}
	p.ConsentGiven.Apply(&c.ConsentGiven)
	c.LastUpdated = now
	return c
}

func (a Allergies) merge(p *AllergiesPatch, now time.Time) Allergies {
	if items, ok := p.Items.Get(); ok {
		a.Items = cloneSlice(items)
	}
	p.ConsentGiven.Apply(&a.ConsentGiven)
	a.LastUpdated = now
	return a
}

func (m Medications) merge(p *MedicationsPatch, now time.Time) Medications {
	if items, ok := p.Items.Get(); ok {
		m.Items = cloneSlice(items)
	}
	p.ConsentGiven.Apply(&m.ConsentGiven)
	m.LastUpdated = now
	return m
}

func (g HealthGoals) merge(p *HealthGoalsPatch, now time.Time) HealthGoals {
	p.Primary.Apply(&g.Primary)
	p.Secondary.Apply(&g.Secondary)
	p.Tertiary.Apply(&g.Tertiary)
	g.LastUpdated = now
	return g
}

func (s PrivacySettings) merge(p *PrivacySettingsPatch, now time.Time) PrivacySettings {
	p.DataRetention.Apply(&s.DataRetention)
	p.AnalyticsOptIn.Apply(&s.AnalyticsOptIn)
	p.AIAnalysisOptIn.Apply(&s.AIAnalysisOptIn)
	p.PersonalizedRecommendations.Apply(&s.PersonalizedRecommendations)
	p.PolicyVersion.Apply(&s.PolicyVersion)
	p.ConsentedAt.Apply(&s.ConsentedAt)
	s.LastUpdated = now
	return s
}

// Merge applies patch to a copy of current and returns it with completeness
// recomputed. Version, IDs and timestamps other than section LastUpdated are
// left to the caller. current may be nil.
func Merge(current *HealthProfile, patch ProfilePatch, now time.Time) *HealthProfile {
	next := current.Clone()
	if next == nil {
		next = &HealthProfile{}
	}
	if patch.Demographics != nil {
		next.Demographics = next.Demographics.merge(patch.Demographics)
	}
	if patch.Conditions != nil {
		next.Conditions = next.Conditions.merge(patch.Conditions, now)
	}
	if patch.Allergies != nil {
		next.Allergies = next.Allergies.merge(patch.Allergies, now)
	}
	if patch.Medications != nil {
		next.Medications = next.Medications.merge(patch.Medications, now)
	}
	if patch.HealthGoals != nil {
		next.HealthGoals = next.HealthGoals.merge(patch.HealthGoals, now)
	}
	if patch.PrivacySettings != nil {
		next.PrivacySettings = next.PrivacySettings.merge(patch.PrivacySettings, now)
	}
	next.Recompute()
	return next
}
