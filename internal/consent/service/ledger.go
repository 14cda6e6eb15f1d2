package service

import (
	"context"
	"sort"

	"healthvault/internal/consent/models"
	dErrors "healthvault/pkg/domain-errors"
)

// Store persists ledger entries. List returns oldest first.
type Store interface {
	Append(ctx context.Context, rec models.Record) error
	List(ctx context.Context, userID string, t models.Type) ([]models.Record, error)
}

// Ledger answers consent questions from the stored ledger. It never writes;
// recording decisions goes through Service so cascades always run.
type Ledger struct {
	store         Store
	policyVersion string
}

func NewLedger(store Store, policyVersion string) *Ledger {
	return &Ledger{store: store, policyVersion: policyVersion}
}

// PolicyVersion is the version new decisions are recorded against.
func (l *Ledger) PolicyVersion() string {
	return l.policyVersion
}

// HasConsent reports whether the latest decision for t is a grant.
func (l *Ledger) HasConsent(ctx context.Context, userID string, t models.Type) (bool, error) {
	latest, ok, err := l.latest(ctx, userID, t)
	if err != nil || !ok {
		return false, err
	}
	return latest.Granted, nil
}

// HasRequiredConsents reports whether every required consent is granted.
func (l *Ledger) HasRequiredConsents(ctx context.Context, userID string) (bool, error) {
	for _, t := range models.RequiredTypes() {
		ok, err := l.HasConsent(ctx, userID, t)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// NeedsConsentUpdate reports whether the user must be asked again: a
// required consent is missing or refused, or any stored decision was made
// under a policy other than the current one.
func (l *Ledger) NeedsConsentUpdate(ctx context.Context, userID string) (bool, error) {
	for _, d := range models.Catalogue() {
		latest, ok, err := l.latest(ctx, userID, d.Type)
		if err != nil {
			return false, err
		}
		if !ok {
			if d.Required {
				return true, nil
			}
			continue
		}
		if latest.PolicyVersion != l.policyVersion || (d.Required && !latest.Granted) {
			return true, nil
		}
	}
	return false, nil
}

// GetConsentDefinitions returns the static catalogue.
func (l *Ledger) GetConsentDefinitions() []models.Definition {
	return models.Catalogue()
}

// History returns every decision the user made, in time order.
func (l *Ledger) History(ctx context.Context, userID string) ([]models.Record, error) {
	var all []models.Record
	for _, d := range models.Catalogue() {
		records, err := l.store.List(ctx, userID, d.Type)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read consent ledger")
		}
		all = append(all, records...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		if !all[i].Timestamp.Equal(all[j].Timestamp) {
			return all[i].Timestamp.Before(all[j].Timestamp)
		}
		return all[i].ID < all[j].ID
	})
	return all, nil
}

// Status returns the current state of every catalogue entry.
func (l *Ledger) Status(ctx context.Context, userID string) ([]models.Status, error) {
	defs := models.Catalogue()
	out := make([]models.Status, 0, len(defs))
	for _, d := range defs {
		st := models.Status{Definition: d}
		latest, ok, err := l.latest(ctx, userID, d.Type)
		if err != nil {
			return nil, err
		}
		if ok {
			decidedAt := latest.Timestamp
			st.Granted = latest.Granted
			st.PolicyVersion = latest.PolicyVersion
			st.DecidedAt = &decidedAt
		}
		out = append(out, st)
	}
	return out, nil
}

func (l *Ledger) latest(ctx context.Context, userID string, t models.Type) (models.Record, bool, error) {
	records, err := l.store.List(ctx, userID, t)
	if err != nil {
		return models.Record{}, false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read consent ledger")
	}
	latest, ok := models.Latest(records)
	return latest, ok, nil
}
