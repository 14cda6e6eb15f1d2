// Package sanitize is the only path by which profile data may leave the
// device. It is an allow-list: a Summary carries exactly the fields named
// here and nothing else from the profile.
package sanitize

import (
	"encoding/json"

	"healthvault/internal/profile/models"
	platformstrings "healthvault/pkg/platform/strings"
)

// maxNameRunes caps free-text names copied into a summary.
const maxNameRunes = 80

// Summary is the de-identified view of a profile sent for AI analysis.
type Summary struct {
	AgeRange        string
	BiologicalSex   string
	PregnancyStatus string
	Conditions      []string
	Allergens       []string
	Goals           []string
}

// AllowedKeys lists the JSON keys a Summary can produce.
var AllowedKeys = []string{
	"age_range",
	"biological_sex",
	"pregnancy_status",
	"conditions",
	"allergens",
	"goals",
}

type summaryWire struct {
	AgeRange        string   `json:"age_range,omitempty"`
	BiologicalSex   string   `json:"biological_sex,omitempty"`
	PregnancyStatus string   `json:"pregnancy_status,omitempty"`
	Conditions      []string `json:"conditions"`
	Allergens       []string `json:"allergens"`
	Goals           []string `json:"goals"`
}

// MarshalJSON is the wire encoding. Lists are always present.
func (s Summary) MarshalJSON() ([]byte, error) {
	return json.Marshal(summaryWire{
		AgeRange:        s.AgeRange,
		BiologicalSex:   s.BiologicalSex,
		PregnancyStatus: s.PregnancyStatus,
		Conditions:      nonNil(s.Conditions),
		Allergens:       nonNil(s.Allergens),
		Goals:           nonNil(s.Goals),
	})
}

// SanitizeForAI builds a Summary from p. It returns nil when p is nil or
// the user has not opted in to AI analysis.
func SanitizeForAI(p *models.HealthProfile) *Summary {
	if p == nil || !p.PrivacySettings.AIAnalysisOptIn {
		return nil
	}

	conditions := make([]string, 0, len(p.Conditions.Items))
	for _, c := range p.Conditions.Items {
		conditions = append(conditions, truncate(c.Name))
	}
	allergens := make([]string, 0, len(p.Allergies.Items))
	for _, a := range p.Allergies.Items {
		allergens = append(allergens, truncate(a.Substance))
	}
	goals := []string{truncate(string(p.HealthGoals.Primary)), truncate(string(p.HealthGoals.Secondary))}

	return &Summary{
		AgeRange:        string(p.Demographics.AgeRange),
		BiologicalSex:   string(p.Demographics.BiologicalSex),
		PregnancyStatus: string(p.Demographics.PregnancyStatus),
		Conditions:      platformstrings.DedupeFold(conditions),
		Allergens:       platformstrings.DedupeFold(allergens),
		Goals:           platformstrings.DedupeFold(goals),
	}
}

func truncate(s string) string {
	r := []rune(platformstrings.Clean(s))
	if len(r) > maxNameRunes {
		r = r[:maxNameRunes]
	}
	return string(r)
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
