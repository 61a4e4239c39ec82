package catalog

import (
	"context"
	"log/slog"

	"github.com/IshaanNene/templatescout/internal/store"
	"github.com/IshaanNene/templatescout/internal/types"
)

// PostgresSink upserts templates into the templates table.
type PostgresSink struct {
	templates store.TemplateStore
	logger    *slog.Logger
}

// NewPostgresSink writes through templates.
func NewPostgresSink(templates store.TemplateStore, logger *slog.Logger) *PostgresSink {
	return &PostgresSink{
		templates: templates,
		logger:    logger.With("component", "postgres_catalog"),
	}
}

func (s *PostgresSink) Name() string { return "postgres" }

func (s *PostgresSink) Save(ctx context.Context, t *types.Template) error {
	if err := s.templates.UpsertTemplate(ctx, t); err != nil {
		return err
	}
	s.logger.Debug("template saved", "slug", t.Slug)
	return nil
}

func (s *PostgresSink) KnownURLs(ctx context.Context) (map[string]bool, error) {
	return s.templates.KnownURLs(ctx)
}

// Close is a no-op; the state store owns the connection.
func (s *PostgresSink) Close() error { return nil }
