package assets

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// FileStore writes assets under a local directory.
type FileStore struct {
	root      string
	publicURL string
	logger    *slog.Logger
}

// NewFileStore creates a file-backed store rooted at dir. When publicURL
// is set, Put returns publicURL joined with the key instead of a path.
func NewFileStore(dir, publicURL string, logger *slog.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &FileStore{
		root:      dir,
		publicURL: strings.TrimRight(publicURL, "/"),
		logger:    logger.With("component", "file_store"),
	}, nil
}

func (s *FileStore) Name() string { return "file" }

// Put writes data atomically via a temp file and rename.
func (s *FileStore) Put(ctx context.Context, key, _ string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	k, err := cleanKey(key)
	if err != nil {
		return "", err
	}

	dst := filepath.Join(s.root, filepath.FromSlash(k))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("create asset dir: %w", err)
	}

	tmp := dst + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write asset: %w", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("rename asset: %w", err)
	}

	s.logger.Debug("asset written", "key", k, "bytes", len(data))
	if s.publicURL != "" {
		return s.publicURL + "/" + k, nil
	}
	return dst, nil
}
