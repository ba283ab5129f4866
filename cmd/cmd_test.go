package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// parseFlags resets the selector flags and parses args into them
func parseFlags(t *testing.T, args ...string) {
	t.Helper()
	sourceAlbumID = ""
	sharedAlbums = ""
	earlyExit = false
	itemCount = 0
	require.NoError(t, Root.Flags().Parse(args))
}

func TestScanRequestSharedAlbumsAll(t *testing.T) {
	parseFlags(t, "--shared-albums")
	req, err := scanRequest()
	require.NoError(t, err)
	assert.True(t, req.SharedAlbums)
	assert.Equal(t, 0, req.SharedAlbumsLimit)
}

func TestScanRequestSharedAlbumsLimited(t *testing.T) {
	parseFlags(t, "--shared-albums=5")
	req, err := scanRequest()
	require.NoError(t, err)
	assert.True(t, req.SharedAlbums)
	assert.Equal(t, 5, req.SharedAlbumsLimit)
}

func TestScanRequestSharedAlbumsBadValue(t *testing.T) {
	parseFlags(t, "--shared-albums=soon")
	_, err := scanRequest()
	require.Error(t, err)
}

func TestScanRequestItems(t *testing.T) {
	parseFlags(t, "--items=25", "--early-exit")
	req, err := scanRequest()
	require.NoError(t, err)
	assert.Equal(t, 25, req.Items)
	assert.True(t, req.EarlyExit)
}

func TestAPIKeyFromFile(t *testing.T) {
	t.Setenv("API_KEY", "placeholder")
	os.Unsetenv("API_KEY")

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("API_KEY=file-key\n"), 0600))
	sinkAuthPath = path

	key, err := apiKey()
	require.NoError(t, err)
	assert.Equal(t, "file-key", key)
}

func TestAPIKeyFromEnvironment(t *testing.T) {
	t.Setenv("API_KEY", "env-key")
	sinkAuthPath = filepath.Join(t.TempDir(), "missing.env")

	key, err := apiKey()
	require.NoError(t, err)
	assert.Equal(t, "env-key", key)
}

func TestAPIKeyMissing(t *testing.T) {
	t.Setenv("API_KEY", "placeholder")
	os.Unsetenv("API_KEY")
	sinkAuthPath = filepath.Join(t.TempDir(), "missing.env")

	_, err := apiKey()
	require.Error(t, err)
}
