package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zporta/internal/config"
	"zporta/internal/observability"
	contextutils "zporta/internal/utils"
)

func newBlobStore(t *testing.T) *FileBlobStore {
	t.Helper()
	logger := observability.NewLogger(&config.OpenTelemetryConfig{})
	return NewFileBlobStore(t.TempDir(), logger)
}

func TestBlobStore_SaveAndOpenRoundTrip(t *testing.T) {
	store := newBlobStore(t)
	payload := []byte("audio bytes")

	name, err := store.Save(context.Background(), 7, "mp3", payload)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(name, filepath.Join("users", "7")+string(filepath.Separator)))
	assert.True(t, strings.HasSuffix(name, ".mp3"))

	got, err := store.Open(context.Background(), name)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestBlobStore_EachSaveGetsNewName(t *testing.T) {
	store := newBlobStore(t)

	first, err := store.Save(context.Background(), 7, "mp3", []byte("a"))
	require.NoError(t, err)
	second, err := store.Save(context.Background(), 7, "mp3", []byte("b"))
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestBlobStore_NoTempFilesLeftBehind(t *testing.T) {
	logger := observability.NewLogger(&config.OpenTelemetryConfig{})
	root := t.TempDir()
	store := NewFileBlobStore(root, logger)

	name, err := store.Save(context.Background(), 3, "mp3", []byte("x"))
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Dir(filepath.Join(root, name)))
	require.NoError(t, err)
	for _, entry := range entries {
		assert.False(t, strings.HasSuffix(entry.Name(), ".tmp"))
	}
}

func TestBlobStore_OpenMissingBlob(t *testing.T) {
	store := newBlobStore(t)

	_, err := store.Open(context.Background(), "users/1/nope.mp3")
	assert.True(t, errors.Is(err, contextutils.ErrRecordNotFound))
}
