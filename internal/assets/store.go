// Package assets stores screenshot and HTML archive blobs.
package assets

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/IshaanNene/templatescout/internal/config"
)

// Store is the interface for blob storage backends.
type Store interface {
	// Put writes data under key and returns a URL or path for it.
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)

	// Name returns the storage backend identifier.
	Name() string
}

// New builds the Store selected by cfg.Type.
func New(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (Store, error) {
	switch cfg.Type {
	case "file":
		return NewFileStore(cfg.OutputPath, cfg.PublicURL, logger)
	case "s3":
		return NewS3Store(ctx, cfg.S3, logger)
	default:
		return nil, fmt.Errorf("unsupported storage type %q", cfg.Type)
	}
}

// cleanKey normalizes a slash-separated key and rejects ones that escape
// the store root.
func cleanKey(key string) (string, error) {
	k := path.Clean("/" + strings.TrimSpace(key))
	k = strings.TrimPrefix(k, "/")
	if k == "" || k == "." {
		return "", fmt.Errorf("invalid asset key %q", key)
	}
	return k, nil
}
