package crypto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	pbkdf2Iterations = 1000
}

func TestSealOpenRoundTrip(t *testing.T) {
	blob, err := SealToken("  a1-secret-token ", "hunter2")
	require.NoError(t, err)
	assert.NotContains(t, string(blob), "a1-secret-token")

	tok, err := OpenToken(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "a1-secret-token", tok)

	_, err = OpenToken(blob, "wrong")
	assert.Error(t, err)
}

func TestSealRejectsEmptyInputs(t *testing.T) {
	_, err := SealToken("", "pw")
	assert.Error(t, err)
	_, err = SealToken("tok", "")
	assert.Error(t, err)
}

func TestLoadToken(t *testing.T) {
	tok, err := LoadToken(TokenSource{})
	require.NoError(t, err)
	assert.Empty(t, tok)

	tok, err = LoadToken(TokenSource{Raw: "raw-token", EncryptedPath: "/does/not/exist"})
	require.NoError(t, err)
	assert.Equal(t, "raw-token", tok)

	blob, err := SealToken("sealed-token", "pw")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "token.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	tok, err = LoadToken(TokenSource{EncryptedPath: path, Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "sealed-token", tok)

	_, err = LoadToken(TokenSource{EncryptedPath: filepath.Join(t.TempDir(), "missing.json"), Password: "pw"})
	assert.Error(t, err)
}
