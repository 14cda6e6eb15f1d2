// Package memory is an in-process vault backend for tests and ephemeral
// sessions.
package memory

import (
	"context"
	"sync"

	"healthvault/internal/vault"
)

type key struct {
	userID   string
	dataType string
}

// Backend keeps envelopes in a map guarded by a RWMutex.
type Backend struct {
	mu        sync.RWMutex
	envelopes map[key]vault.Envelope
}

func New() *Backend {
	return &Backend{envelopes: make(map[key]vault.Envelope)}
}

func (b *Backend) Put(_ context.Context, env vault.Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.envelopes[key{env.UserID, env.DataType}] = cloneEnvelope(env)
	return nil
}

func (b *Backend) List(_ context.Context, userID, dataType string) ([]vault.Envelope, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	env, ok := b.envelopes[key{userID, dataType}]
	if !ok {
		return nil, nil
	}
	return []vault.Envelope{cloneEnvelope(env)}, nil
}

func (b *Backend) Delete(_ context.Context, userID, dataType string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := key{userID, dataType}
	if _, ok := b.envelopes[k]; !ok {
		return 0, nil
	}
	delete(b.envelopes, k)
	return 1, nil
}

func (b *Backend) DeleteUser(_ context.Context, userID string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for k := range b.envelopes {
		if k.userID == userID {
			delete(b.envelopes, k)
			n++
		}
	}
	return n, nil
}

// Mutate applies fn to the stored envelope in place. Tests use it to simulate
// on-disk corruption.
func (b *Backend) Mutate(userID, dataType string, fn func(*vault.Envelope)) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := key{userID, dataType}
	env, ok := b.envelopes[k]
	if !ok {
		return false
	}
	fn(&env)
	b.envelopes[k] = env
	return true
}

func cloneEnvelope(env vault.Envelope) vault.Envelope {
	env.Ciphertext = append([]byte(nil), env.Ciphertext...)
	env.IV = append([]byte(nil), env.IV...)
	env.Salt = append([]byte(nil), env.Salt...)
	return env
}
