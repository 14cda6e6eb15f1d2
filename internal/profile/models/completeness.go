package models

// pointsPerSection is the weight of each of the five scored sections.
const pointsPerSection = 20

// Recompute derives CompletenessScore and IsComplete from the current
// section contents. Stored scores are never trusted.
func (p *HealthProfile) Recompute() {
	score := 0
	for _, filled := range []bool{
		p.privacyFilled(),
		p.demographicsFilled(),
		p.goalsFilled(),
		!p.Conditions.LastUpdated.IsZero(),
		!p.Allergies.LastUpdated.IsZero(),
	} {
		if filled {
			score += pointsPerSection
		}
	}
	p.CompletenessScore = score
	p.IsComplete = p.demographicsFilled() && p.privacyFilled()
}

func (p *HealthProfile) privacyFilled() bool {
	return p.PrivacySettings.DataRetention != "" && !p.PrivacySettings.ConsentedAt.IsZero()
}

func (p *HealthProfile) demographicsFilled() bool {
	return p.Demographics.AgeRange != "" && p.Demographics.BiologicalSex != ""
}

func (p *HealthProfile) goalsFilled() bool {
	return p.HealthGoals.Primary != ""
}
