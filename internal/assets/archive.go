package assets

import (
	"bytes"
	"context"
	"fmt"

	"github.com/andybalholm/brotli"
)

// ArchiveHTML brotli-compresses rendered page HTML and stores it under key.
func ArchiveHTML(ctx context.Context, store Store, key, html string) (string, error) {
	var buf bytes.Buffer
	w := brotli.NewWriterLevel(&buf, brotli.DefaultCompression)
	if _, err := w.Write([]byte(html)); err != nil {
		return "", fmt.Errorf("compress html: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("compress html: %w", err)
	}
	return store.Put(ctx, key, "application/x-brotli", buf.Bytes())
}
