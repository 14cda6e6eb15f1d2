package models

import (
	"slices"
	"time"
)

// Type identifies one consent in the catalogue.
type Type string

const (
	TypePrivacyPolicy               Type = "privacy_policy"
	TypeHealthDataStorage           Type = "health_data_storage"
	TypePersonalizedRecommendations Type = "personalized_recommendations"
	TypeAIAnalysis                  Type = "ai_analysis"
	TypeUsageAnalytics              Type = "usage_analytics"
	TypeMarketingCommunications     Type = "marketing_communications"
)

// Category groups consents for display.
type Category string

const (
	CategoryEssential  Category = "essential"
	CategoryFunctional Category = "functional"
	CategoryAnalytics  Category = "analytics"
	CategoryMarketing  Category = "marketing"
)

// Definition describes a consent the user can be asked for.
type Definition struct {
	Type        Type     `json:"type"`
	Category    Category `json:"category"`
	Required    bool     `json:"required"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
}

var catalogue = []Definition{
	{
		Type:        TypePrivacyPolicy,
		Category:    CategoryEssential,
		Required:    true,
		Title:       "Privacy policy",
		Description: "I have read and accept the privacy policy.",
	},
	{
		Type:        TypeHealthDataStorage,
		Category:    CategoryEssential,
		Required:    true,
		Title:       "Health data storage",
		Description: "Store my conditions, allergies and medications encrypted on this device.",
	},
	{
		Type:        TypePersonalizedRecommendations,
		Category:    CategoryFunctional,
		Required:    true,
		Title:       "Personalised recommendations",
		Description: "Use my profile to tailor recommendations.",
	},
	{
		Type:        TypeAIAnalysis,
		Category:    CategoryFunctional,
		Title:       "AI analysis",
		Description: "Send a de-identified summary of my profile for AI analysis.",
	},
	{
		Type:        TypeUsageAnalytics,
		Category:    CategoryAnalytics,
		Title:       "Usage analytics",
		Description: "Share anonymous usage statistics.",
	},
	{
		Type:        TypeMarketingCommunications,
		Category:    CategoryMarketing,
		Title:       "Marketing communications",
		Description: "Receive product news and offers.",
	},
}

// Catalogue returns a copy of the consent definitions.
func Catalogue() []Definition {
	return slices.Clone(catalogue)
}

// Lookup returns the definition for t.
func Lookup(t Type) (Definition, bool) {
	for _, d := range catalogue {
		if d.Type == t {
			return d, true
		}
	}
	return Definition{}, false
}

// RequiredTypes lists the consents every user must hold.
func RequiredTypes() []Type {
	var out []Type
	for _, d := range catalogue {
		if d.Required {
			out = append(out, d.Type)
		}
	}
	return out
}

// DataType is the vault data type holding the ledger for t.
func (t Type) DataType() string {
	return "consent:" + string(t)
}

// Metadata records where a decision was made. Both fields are coarsened
// before storage.
type Metadata struct {
	UserAgent string `json:"user_agent,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
}

// Record is one immutable ledger entry.
type Record struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	Type          Type      `json:"type"`
	Granted       bool      `json:"granted"`
	Timestamp     time.Time `json:"timestamp"`
	PolicyVersion string    `json:"policy_version"`
	Metadata      *Metadata `json:"metadata,omitempty"`
}

// Decision is a caller's grant or refusal for one consent type.
// PolicyVersion names the policy text the user was shown; empty means the
// ledger's current version.
type Decision struct {
	Type          Type   `json:"type"`
	Granted       bool   `json:"granted"`
	PolicyVersion string `json:"policy_version,omitempty"`
}

// Latest returns the most recent record in a ledger ordered oldest first.
func Latest(records []Record) (Record, bool) {
	if len(records) == 0 {
		return Record{}, false
	}
	return records[len(records)-1], true
}

// Status is the current state of one consent type for a user.
type Status struct {
	Definition
	Granted       bool       `json:"granted"`
	PolicyVersion string     `json:"policy_version,omitempty"`
	DecidedAt     *time.Time `json:"decided_at,omitempty"`
}
