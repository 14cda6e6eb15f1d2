// Package store persists the append-only consent ledger.
package store

import (
	"context"
	"fmt"
	"sync"

	"healthvault/internal/consent/models"
	"healthvault/internal/vault"
)

// Vault is the subset of the encrypted store the ledger needs. Appends read
// through GetVerified so a ledger that fails authentication is never replaced.
type Vault interface {
	Put(ctx context.Context, userID, dataType string, record any, recordID string) error
	Get(ctx context.Context, userID, dataType string) ([]vault.Record, error)
	GetVerified(ctx context.Context, userID, dataType string) ([]vault.Record, error)
}

// VaultStore keeps each (user, consent type) ledger as one encrypted vault
// record holding the full list, oldest first.
type VaultStore struct {
	vault Vault
	mu    sync.Mutex
}

func NewVaultStore(v Vault) *VaultStore {
	return &VaultStore{vault: v}
}

// Append adds rec to the end of its ledger. It refuses to write when the
// stored ledger cannot be authenticated.
func (s *VaultStore) Append(ctx context.Context, rec models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.vault.GetVerified(ctx, rec.UserID, rec.Type.DataType())
	if err != nil {
		return fmt.Errorf("read consent ledger: %w", err)
	}
	ledger, err := decodeLedger(records)
	if err != nil {
		return err
	}
	ledger = append(ledger, rec)
	if err := s.vault.Put(ctx, rec.UserID, rec.Type.DataType(), ledger, rec.Type.DataType()); err != nil {
		return fmt.Errorf("persist consent ledger: %w", err)
	}
	return nil
}

// List returns the ledger for (userID, t), oldest first.
func (s *VaultStore) List(ctx context.Context, userID string, t models.Type) ([]models.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list(ctx, userID, t)
}

func (s *VaultStore) list(ctx context.Context, userID string, t models.Type) ([]models.Record, error) {
	records, err := s.vault.Get(ctx, userID, t.DataType())
	if err != nil {
		return nil, fmt.Errorf("read consent ledger: %w", err)
	}
	return decodeLedger(records)
}

func decodeLedger(records []vault.Record) ([]models.Record, error) {
	if len(records) == 0 {
		return nil, nil
	}
	var ledger []models.Record
	if err := records[0].Decode(&ledger); err != nil {
		return nil, fmt.Errorf("decode consent ledger: %w", err)
	}
	return ledger, nil
}

// InMemoryStore is a process-local ledger for tests.
type InMemoryStore struct {
	mu      sync.RWMutex
	ledgers map[string]map[models.Type][]models.Record
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{ledgers: make(map[string]map[models.Type][]models.Record)}
}

func (s *InMemoryStore) Append(_ context.Context, rec models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byType, ok := s.ledgers[rec.UserID]
	if !ok {
		byType = make(map[models.Type][]models.Record)
		s.ledgers[rec.UserID] = byType
	}
	byType[rec.Type] = append(byType[rec.Type], rec)
	return nil
}

func (s *InMemoryStore) List(_ context.Context, userID string, t models.Type) ([]models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Record(nil), s.ledgers[userID][t]...), nil
}
