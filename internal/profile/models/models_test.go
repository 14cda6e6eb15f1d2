package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)

func TestOptional_JSON(t *testing.T) {
	t.Run("absent key stays unset", func(t *testing.T) {
		var p ConditionsPatch
		require.NoError(t, json.Unmarshal([]byte(`{"consent_given": true}`), &p))
		assert.False(t, p.Items.IsSet())
		assert.True(t, p.ConsentGiven.IsSet())
	})

	t.Run("empty list is set to empty", func(t *testing.T) {
		var p ConditionsPatch
		require.NoError(t, json.Unmarshal([]byte(`{"items": []}`), &p))
		items, ok := p.Items.Get()
		assert.True(t, ok)
		assert.Empty(t, items)
	})

	t.Run("null is set to empty", func(t *testing.T) {
		var p DemographicsPatch
		require.NoError(t, json.Unmarshal([]byte(`{"display_name": null}`), &p))
		name, ok := p.DisplayName.Get()
		assert.True(t, ok)
		assert.Equal(t, "", name)
	})

	t.Run("unset fields are omitted on encode", func(t *testing.T) {
		data, err := json.Marshal(HealthGoalsPatch{Primary: Some(GoalID("sleep"))})
		require.NoError(t, err)
		assert.JSONEq(t, `{"primary":"sleep"}`, string(data))
	})
}

func TestMerge(t *testing.T) {
	base := Merge(nil, ProfilePatch{
		Demographics: &DemographicsPatch{AgeRange: Some(AgeRange19To30), BiologicalSex: Some(BiologicalSexFemale)},
		Conditions:   &ConditionsPatch{Items: Some([]Condition{{Name: "asthma"}})},
	}, now)

	t.Run("untouched sections survive", func(t *testing.T) {
		next := Merge(base, ProfilePatch{
			HealthGoals: &HealthGoalsPatch{Primary: Some(GoalID("energy_boost"))},
		}, now.Add(time.Minute))

		assert.Equal(t, base.Demographics, next.Demographics)
		assert.Equal(t, base.Conditions, next.Conditions)
		assert.Equal(t, GoalID("energy_boost"), next.HealthGoals.Primary)
	})

	t.Run("fields inside a section merge key by key", func(t *testing.T) {
		next := Merge(base, ProfilePatch{
			Demographics: &DemographicsPatch{PregnancyStatus: Some(PregnancyLactating)},
		}, now)

		assert.Equal(t, AgeRange19To30, next.Demographics.AgeRange)
		assert.Equal(t, BiologicalSexFemale, next.Demographics.BiologicalSex)
		assert.Equal(t, PregnancyLactating, next.Demographics.PregnancyStatus)
	})

	t.Run("list replaced only when set", func(t *testing.T) {
		next := Merge(base, ProfilePatch{
			Conditions: &ConditionsPatch{ConsentGiven: Some(true)},
		}, now)
		assert.Len(t, next.Conditions.Items, 1)
		assert.True(t, next.Conditions.ConsentGiven)

		cleared := Merge(base, ProfilePatch{
			Conditions: &ConditionsPatch{Items: Some([]Condition{})},
		}, now)
		assert.Empty(t, cleared.Conditions.Items)
	})

	t.Run("does not mutate input", func(t *testing.T) {
		_ = Merge(base, ClearHealthDataPatch(), now)
		assert.Len(t, base.Conditions.Items, 1)
	})

	t.Run("stamps touched sections only", func(t *testing.T) {
		later := now.Add(time.Hour)
		next := Merge(base, ProfilePatch{HealthGoals: &HealthGoalsPatch{}}, later)
		assert.Equal(t, later, next.HealthGoals.LastUpdated)
		assert.Equal(t, now, next.Conditions.LastUpdated)
	})
}

func TestRecompute(t *testing.T) {
	tests := []struct {
		name     string
		patch    ProfilePatch
		score    int
		complete bool
	}{
		{
			name:  "empty profile",
			patch: ProfilePatch{},
			score: 0,
		},
		{
			name: "demographics only",
			patch: ProfilePatch{
				Demographics: &DemographicsPatch{AgeRange: Some(AgeRange31To50), BiologicalSex: Some(BiologicalSexMale)},
			},
			score: 20,
		},
		{
			name: "partial demographics do not count",
			patch: ProfilePatch{
				Demographics: &DemographicsPatch{AgeRange: Some(AgeRange31To50)},
			},
			score: 0,
		},
		{
			name: "reviewed empty lists count",
			patch: ProfilePatch{
				Conditions: &ConditionsPatch{Items: Some([]Condition{})},
				Allergies:  &AllergiesPatch{Items: Some([]Allergy{})},
			},
			score: 40,
		},
		{
			name: "medications are not scored",
			patch: ProfilePatch{
				Medications: &MedicationsPatch{Items: Some([]Medication{{Name: "ibuprofen"}})},
			},
			score: 0,
		},
		{
			name: "all sections",
			patch: ProfilePatch{
				Demographics:    &DemographicsPatch{AgeRange: Some(AgeRange31To50), BiologicalSex: Some(BiologicalSexMale)},
				Conditions:      &ConditionsPatch{Items: Some([]Condition{})},
				Allergies:       &AllergiesPatch{Items: Some([]Allergy{})},
				HealthGoals:     &HealthGoalsPatch{Primary: Some(GoalID("sleep"))},
				PrivacySettings: &PrivacySettingsPatch{DataRetention: Some(Retention1Year), ConsentedAt: Some(now)},
			},
			score:    100,
			complete: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Merge(nil, tt.patch, now)
			assert.Equal(t, tt.score, p.CompletenessScore)
			assert.Equal(t, tt.complete, p.IsComplete)
		})
	}
}

func TestValidate(t *testing.T) {
	t.Run("valid profile", func(t *testing.T) {
		p := Merge(nil, ProfilePatch{
			Demographics: &DemographicsPatch{AgeRange: Some(AgeRange71Plus), BiologicalSex: Some(BiologicalSexIntersex)},
			Allergies:    &AllergiesPatch{Items: Some([]Allergy{{Substance: "peanut", Severity: SeveritySevere}})},
		}, now)
		assert.NoError(t, p.Validate())
	})

	t.Run("reports json paths without values", func(t *testing.T) {
		p := Merge(nil, ProfilePatch{
			Demographics:    &DemographicsPatch{AgeRange: Some(AgeRange("12"))},
			Allergies:       &AllergiesPatch{Items: Some([]Allergy{{Substance: ""}})},
			PrivacySettings: &PrivacySettingsPatch{DataRetention: Some(DataRetention("forever"))},
		}, now)

		err := p.Validate()
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)

		fields := map[string]string{}
		for _, f := range verr.Fields {
			fields[f.Field] = f.Rule
		}
		assert.Equal(t, "oneof", fields["demographics.age_range"])
		assert.Equal(t, "required", fields["allergies.items[0].substance"])
		assert.Equal(t, "oneof", fields["privacy_settings.data_retention"])
		assert.NotContains(t, err.Error(), "forever")
	})
}

func TestRetentionExpired(t *testing.T) {
	p := &HealthProfile{UpdatedAt: now}

	p.PrivacySettings.DataRetention = Retention30Days
	assert.False(t, p.RetentionExpired(now.Add(29*24*time.Hour)))
	assert.True(t, p.RetentionExpired(now.Add(31*24*time.Hour)))

	p.PrivacySettings.DataRetention = RetentionIndefinite
	assert.False(t, p.RetentionExpired(now.Add(10*365*24*time.Hour)))
}
