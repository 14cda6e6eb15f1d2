package keys

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileKeyring(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "keys", "master.key")

	t.Run("creates key on first use", func(t *testing.T) {
		key, err := NewFileKeyring(path).MasterKey(ctx)
		require.NoError(t, err)
		assert.Len(t, key, KeySize)

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	})

	t.Run("reloads the same key", func(t *testing.T) {
		first, err := NewFileKeyring(path).MasterKey(ctx)
		require.NoError(t, err)
		second, err := NewFileKeyring(path).MasterKey(ctx)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})

	t.Run("rejects truncated key file", func(t *testing.T) {
		bad := filepath.Join(t.TempDir(), "short.key")
		require.NoError(t, os.WriteFile(bad, []byte("short"), 0o600))

		_, err := NewFileKeyring(bad).MasterKey(ctx)
		assert.ErrorIs(t, err, ErrInvalidKey)
	})
}

func TestPassphraseKeyring(t *testing.T) {
	ctx := context.Background()
	saltPath := filepath.Join(t.TempDir(), "vault.salt")

	first, err := NewPassphraseKeyring("correct horse", saltPath).MasterKey(ctx)
	require.NoError(t, err)
	assert.Len(t, first, KeySize)

	again, err := NewPassphraseKeyring("correct horse", saltPath).MasterKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, again, "persisted salt must yield a stable key")

	other, err := NewPassphraseKeyring("battery staple", saltPath).MasterKey(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first, other)

	_, err = NewPassphraseKeyring("", saltPath).MasterKey(ctx)
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestStaticKey(t *testing.T) {
	_, err := StaticKey([]byte("too short")).MasterKey(context.Background())
	assert.ErrorIs(t, err, ErrInvalidKey)

	key := make([]byte, KeySize)
	got, err := StaticKey(key).MasterKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, key, got)
}
