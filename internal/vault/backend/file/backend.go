// Package file is the default on-device vault backend: one JSON envelope per
// (user, data type), written with an atomic rename.
package file

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"healthvault/internal/vault"
	"healthvault/pkg/platform/sentinel"
)

const envelopeExt = ".env.json"

// Backend stores envelopes under dir/<hex(userID)>/<hex(dataType)>.env.json.
// Names are hex encoded so no user or data type string can escape dir.
type Backend struct {
	dir string
	mu  sync.RWMutex
}

// New creates dir with 0700 permissions if needed.
func New(dir string) (*Backend, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("%w: create data dir: %v", sentinel.ErrUnavailable, err)
	}
	return &Backend{dir: dir}, nil
}

func (b *Backend) userDir(userID string) string {
	return filepath.Join(b.dir, hex.EncodeToString([]byte(userID)))
}

func (b *Backend) path(userID, dataType string) string {
	return filepath.Join(b.userDir(userID), hex.EncodeToString([]byte(dataType))+envelopeExt)
}

func (b *Backend) Put(ctx context.Context, env vault.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	dir := b.userDir(env.UserID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create user dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write envelope: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync envelope: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close envelope: %w", err)
	}
	if err := os.Rename(tmpName, b.path(env.UserID, env.DataType)); err != nil {
		cleanup()
		return fmt.Errorf("commit envelope: %w", err)
	}
	return nil
}

func (b *Backend) List(ctx context.Context, userID, dataType string) ([]vault.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	data, err := os.ReadFile(b.path(userID, dataType))
	b.mu.RUnlock()
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read envelope: %w", err)
	}

	var env vault.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		// A torn or garbled file is handed up as an envelope that will fail
		// authentication, so the vault reports it like any other tampering.
		return []vault.Envelope{{UserID: userID, DataType: dataType}}, nil
	}
	return []vault.Envelope{env}, nil
}

func (b *Backend) Delete(ctx context.Context, userID, dataType string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	err := os.Remove(b.path(userID, dataType))
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("remove envelope: %w", err)
	}
	return 1, nil
}

func (b *Backend) DeleteUser(ctx context.Context, userID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	dir := b.userDir(userID)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("list user dir: %w", err)
	}
	n := 0
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), envelopeExt) {
			n++
		}
	}
	if err := os.RemoveAll(dir); err != nil {
		return 0, fmt.Errorf("remove user dir: %w", err)
	}
	return n, nil
}
