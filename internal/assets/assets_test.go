package assets

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IshaanNene/templatescout/internal/config"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

func TestFileStorePut(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir, "", testLogger)
	require.NoError(t, err)

	loc, err := s.Put(context.Background(), "nimbus/preview.jpg", "image/jpeg", []byte("jpeg"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "nimbus", "preview.jpg"), loc)

	got, err := os.ReadFile(loc)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", string(got))

	_, err = os.Stat(loc + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file should be renamed away")
}

func TestFileStoreKeysStayInRoot(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir, "https://cdn.example.com/shots/", testLogger)
	require.NoError(t, err)

	loc, err := s.Put(context.Background(), "../../etc/passwd", "text/plain", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/shots/etc/passwd", loc)

	_, err = os.Stat(filepath.Join(dir, "etc", "passwd"))
	assert.NoError(t, err)

	_, err = s.Put(context.Background(), "  ", "text/plain", nil)
	assert.Error(t, err)
}

func TestFileStoreCancelled(t *testing.T) {
	s, err := NewFileStore(t.TempDir(), "", testLogger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Put(ctx, "a.jpg", "image/jpeg", []byte("x"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestArchiveHTML(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir, "", testLogger)
	require.NoError(t, err)

	page := "<html><body>" + strings.Repeat("<p>template</p>", 200) + "</body></html>"
	loc, err := ArchiveHTML(context.Background(), s, "nimbus/page.html.br", page)
	require.NoError(t, err)

	f, err := os.Open(loc)
	require.NoError(t, err)
	defer f.Close()

	info, err := f.Stat()
	require.NoError(t, err)
	assert.Less(t, info.Size(), int64(len(page)), "archive should be compressed")

	raw, err := io.ReadAll(brotli.NewReader(f))
	require.NoError(t, err)
	assert.Equal(t, page, string(raw))
}

func TestObjectURL(t *testing.T) {
	aws := config.S3Config{Bucket: "shots", Region: "us-east-1"}
	assert.Equal(t, "https://shots.s3.us-east-1.amazonaws.com/a/b.jpg", objectURL(aws, "a/b.jpg"))

	local := config.S3Config{Bucket: "shots", BaseEndpoint: "http://localhost:4566/", PathStyle: true}
	assert.Equal(t, "http://localhost:4566/shots/a/b.jpg", objectURL(local, "a/b.jpg"))
}

func TestNewRejectsUnknownType(t *testing.T) {
	_, err := New(context.Background(), config.StorageConfig{Type: "ftp"}, testLogger)
	assert.Error(t, err)
}
