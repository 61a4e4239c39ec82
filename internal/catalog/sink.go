// Package catalog writes extracted templates to one or more catalog
// backends.
package catalog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/IshaanNene/templatescout/internal/config"
	"github.com/IshaanNene/templatescout/internal/store"
	"github.com/IshaanNene/templatescout/internal/types"
)

// Sink is a catalog backend.
type Sink interface {
	// Save inserts or replaces the template identified by its slug.
	Save(ctx context.Context, t *types.Template) error

	// Close flushes pending writes and releases resources.
	Close() error

	// Name returns the backend identifier.
	Name() string
}

// URLLister is implemented by sinks that can report which source URLs
// they already hold.
type URLLister interface {
	KnownURLs(ctx context.Context) (map[string]bool, error)
}

// New builds the sinks enabled in cfg. The relational sink writes through
// templates, which may be nil when catalog.postgres is off.
func New(ctx context.Context, cfg config.CatalogConfig, templates store.TemplateStore, logger *slog.Logger) (*MultiSink, error) {
	var sinks []Sink
	if cfg.Postgres && templates != nil {
		sinks = append(sinks, NewPostgresSink(templates, logger))
	}
	if cfg.JSONLPath != "" {
		s, err := NewJSONLSink(cfg.JSONLPath, logger)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if cfg.Mongo.URI != "" {
		s, err := NewMongoSink(ctx, cfg.Mongo, logger)
		if err != nil {
			closeAll(sinks)
			return nil, fmt.Errorf("mongo sink: %w", err)
		}
		sinks = append(sinks, s)
	}
	if len(sinks) == 0 {
		logger.Warn("no catalog sink enabled, templates will only be logged")
	}
	return NewMultiSink(sinks, logger), nil
}

func closeAll(sinks []Sink) {
	for _, s := range sinks {
		_ = s.Close()
	}
}

// MultiSink writes templates to several backends.
type MultiSink struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewMultiSink creates a sink that fans out to sinks.
func NewMultiSink(sinks []Sink, logger *slog.Logger) *MultiSink {
	return &MultiSink{
		sinks:  sinks,
		logger: logger.With("component", "catalog"),
	}
}

func (m *MultiSink) Name() string { return "multi" }

// Save writes to every backend and returns the first error. A failing
// backend does not stop the others.
func (m *MultiSink) Save(ctx context.Context, t *types.Template) error {
	var firstErr error
	for _, s := range m.sinks {
		if err := s.Save(ctx, t); err != nil {
			m.logger.Error("catalog save failed", "backend", s.Name(), "slug", t.Slug, "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", s.Name(), err)
			}
		}
	}
	if len(m.sinks) == 0 {
		m.logger.Info("template extracted", "slug", t.Slug, "name", t.Name)
	}
	return firstErr
}

// KnownURLs unions the URLs of every backend that can list them.
func (m *MultiSink) KnownURLs(ctx context.Context) (map[string]bool, error) {
	known := make(map[string]bool)
	for _, s := range m.sinks {
		l, ok := s.(URLLister)
		if !ok {
			continue
		}
		urls, err := l.KnownURLs(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.Name(), err)
		}
		for u := range urls {
			known[u] = true
		}
	}
	return known, nil
}

// Names lists the configured backends.
func (m *MultiSink) Names() []string {
	names := make([]string, len(m.sinks))
	for i, s := range m.sinks {
		names[i] = s.Name()
	}
	return names
}

func (m *MultiSink) Close() error {
	var firstErr error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
