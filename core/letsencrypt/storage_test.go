package letsencrypt_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/unitctl/core/letsencrypt"
)

func TestChallengeStore(t *testing.T) {
	t.Parallel()

	store, err := letsencrypt.NewChallengeStore(filepath.Join(t.TempDir(), "nested", "challenges"))
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(store.Dir()))

	path, err := store.Write("abc_DEF-123", "abc_DEF-123.thumb")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(store.Dir(), "abc_DEF-123"), path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())

	content, err := store.Read("abc_DEF-123")
	require.NoError(t, err)
	assert.Equal(t, "abc_DEF-123.thumb", content)

	tokens, err := store.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"abc_DEF-123"}, tokens)

	require.NoError(t, store.Delete("abc_DEF-123"))
	require.NoError(t, store.Delete("abc_DEF-123"), "deleting twice is fine")

	tokens, err = store.List()
	require.NoError(t, err)
	assert.Empty(t, tokens)
}

func TestChallengeStoreRejectsBadTokens(t *testing.T) {
	t.Parallel()

	store, err := letsencrypt.NewChallengeStore(t.TempDir())
	require.NoError(t, err)

	for _, token := range []string{"", "../escape", "a/b", "dot.ted", "sp ace"} {
		_, err := store.Write(token, "x")
		assert.ErrorIs(t, err, letsencrypt.ErrInvalidToken, token)
	}
}

func TestChallengeStoreRequiresDir(t *testing.T) {
	t.Parallel()

	_, err := letsencrypt.NewChallengeStore("  ")
	assert.ErrorIs(t, err, letsencrypt.ErrChallengeDirRequired)
}
