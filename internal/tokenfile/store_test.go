package tokenfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestOpen_MissingFileIsEmpty(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "token.json"))
	require.NoError(t, err)
	assert.Empty(t, s.AccessToken())
	assert.Empty(t, s.RefreshToken())
	assert.Nil(t, s.Token())
}

func TestStore_SetTokensPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.SetTokens(&oauth2.Token{AccessToken: "at", RefreshToken: "rt"}))

	assert.Equal(t, "at", s.AccessToken())
	assert.Equal(t, "rt", s.RefreshToken())

	reopened, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, "at", reopened.AccessToken())
	assert.Equal(t, "rt", reopened.RefreshToken())
}

func TestStore_SetTokensKeepsRefreshToken(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "token.json"))
	require.NoError(t, err)

	require.NoError(t, s.SetTokens(&oauth2.Token{AccessToken: "at1", RefreshToken: "rt"}))
	require.NoError(t, s.SetTokens(&oauth2.Token{AccessToken: "at2"}))

	assert.Equal(t, "at2", s.AccessToken())
	assert.Equal(t, "rt", s.RefreshToken())
}

func TestStore_SetTokensRejectsEmpty(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "token.json"))
	require.NoError(t, err)

	require.Error(t, s.SetTokens(nil))
	require.Error(t, s.SetTokens(&oauth2.Token{RefreshToken: "rt"}))
}

func TestStore_MergeMeta(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.SetTokens(&oauth2.Token{AccessToken: "at"}))
	require.NoError(t, s.MergeMeta(map[string]string{MetaUserName: "Ada"}))
	require.NoError(t, s.MergeMeta(map[string]string{MetaUserEmail: "ada@example.com"}))

	reopened, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, "Ada", reopened.Meta(MetaUserName))
	assert.Equal(t, "ada@example.com", reopened.Meta(MetaUserEmail))
}

func TestStore_Clear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.SetTokens(&oauth2.Token{AccessToken: "at", RefreshToken: "rt"}))
	require.NoError(t, s.MergeMeta(map[string]string{MetaUserName: "Ada"}))

	require.NoError(t, s.Clear())
	assert.Empty(t, s.AccessToken())
	assert.Empty(t, s.Meta(MetaUserName))

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// Clearing twice is harmless.
	require.NoError(t, s.Clear())
}
