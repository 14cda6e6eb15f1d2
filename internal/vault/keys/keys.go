// Package keys supplies the vault master key.
//
// The master key never encrypts records directly. The vault derives a fresh
// data key per write from it (see vault.deriveKey).
package keys

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/argon2"
)

// KeySize is the master key length in bytes (AES-256).
const KeySize = 32

// ErrInvalidKey is returned when stored key material has the wrong length.
var ErrInvalidKey = errors.New("invalid master key material")

// Provider returns the master key. Implementations must be safe for
// concurrent use and must return the same key across calls.
type Provider interface {
	MasterKey(ctx context.Context) ([]byte, error)
	Version() int
}

// StaticKey is a fixed in-memory key for tests and ephemeral stores.
type StaticKey []byte

func (k StaticKey) MasterKey(context.Context) ([]byte, error) {
	if len(k) != KeySize {
		return nil, ErrInvalidKey
	}
	return []byte(k), nil
}

func (StaticKey) Version() int { return 1 }

// FileKeyring keeps 32 random bytes in a 0600 file, creating it on first use.
type FileKeyring struct {
	path string
	rand io.Reader

	mu  sync.Mutex
	key []byte
}

func NewFileKeyring(path string) *FileKeyring {
	return &FileKeyring{path: path, rand: rand.Reader}
}

func (k *FileKeyring) Version() int { return 1 }

func (k *FileKeyring) MasterKey(ctx context.Context) ([]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.key != nil {
		return k.key, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key, err := readOrCreate(k.path, KeySize, k.rand)
	if err != nil {
		return nil, err
	}
	k.key = key
	return key, nil
}

// Argon2id parameters for PassphraseKeyring.
const (
	argonTime    = 3
	argonMemory  = 64 * 1024
	argonThreads = 4
	saltSize     = 16
)

// PassphraseKeyring derives the master key from a user passphrase with
// argon2id. The random salt is persisted next to the data so the same
// passphrase yields the same key on the next start.
type PassphraseKeyring struct {
	passphrase []byte
	saltPath   string
	rand       io.Reader

	mu  sync.Mutex
	key []byte
}

func NewPassphraseKeyring(passphrase, saltPath string) *PassphraseKeyring {
	return &PassphraseKeyring{passphrase: []byte(passphrase), saltPath: saltPath, rand: rand.Reader}
}

func (k *PassphraseKeyring) Version() int { return 2 }

func (k *PassphraseKeyring) MasterKey(ctx context.Context) ([]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.key != nil {
		return k.key, nil
	}
	if len(k.passphrase) == 0 {
		return nil, fmt.Errorf("%w: empty passphrase", ErrInvalidKey)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	salt, err := readOrCreate(k.saltPath, saltSize, k.rand)
	if err != nil {
		return nil, err
	}
	k.key = argon2.IDKey(k.passphrase, salt, argonTime, argonMemory, argonThreads, KeySize)
	return k.key, nil
}

// readOrCreate returns size bytes stored at path. A missing file is filled
// from r and written with 0600 permissions.
func readOrCreate(path string, size int, r io.Reader) ([]byte, error) {
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if len(data) != size {
			return nil, fmt.Errorf("%w: %s has %d bytes", ErrInvalidKey, filepath.Base(path), len(data))
		}
		return data, nil
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("read key material: %w", err)
	}

	data = make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("generate key material: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create key directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			// Lost a creation race with another process; use its bytes.
			return readOrCreate(path, size, r)
		}
		return nil, fmt.Errorf("create key file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write key file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close key file: %w", err)
	}
	return data, nil
}
