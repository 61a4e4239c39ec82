package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/IshaanNene/templatescout/internal/catalog"
	"github.com/IshaanNene/templatescout/internal/types"
)

// Middleware processes a template and returns the (possibly modified)
// template. Return nil to drop it from the catalog.
type Middleware interface {
	// Name returns the middleware's identifier.
	Name() string

	// Process transforms a template. Return nil to drop it.
	Process(t *types.Template) (*types.Template, error)
}

// StageError reports which middleware rejected a template.
type StageError struct {
	Stage string
	Slug  string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline stage %s rejected %s: %v", e.Stage, e.Slug, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Pipeline chains middleware processors together.
type Pipeline struct {
	middlewares []Middleware
	logger      *slog.Logger
}

// New creates a new Pipeline.
func New(logger *slog.Logger) *Pipeline {
	return &Pipeline{
		logger: logger.With("component", "pipeline"),
	}
}

// Default returns the pipeline every scraped template goes through
// before it is written to the catalog.
func Default(logger *slog.Logger) *Pipeline {
	p := New(logger)
	p.Use(&TrimMiddleware{})
	p.Use(NewHTMLSanitizeMiddleware())
	p.Use(&ListNormalizeMiddleware{})
	p.Use(&RequiredFieldsMiddleware{Fields: []string{"name", "source_url"}})
	return p
}

// Use adds a middleware to the pipeline chain.
func (p *Pipeline) Use(mw Middleware) {
	p.middlewares = append(p.middlewares, mw)
	p.logger.Debug("middleware added", "name", mw.Name(), "position", len(p.middlewares))
}

// Process runs the template through all middleware in order.
func (p *Pipeline) Process(t *types.Template) (*types.Template, error) {
	current := t

	for _, mw := range p.middlewares {
		result, err := mw.Process(current)
		if err != nil {
			return nil, &StageError{Stage: mw.Name(), Slug: t.Slug, Err: err}
		}
		if result == nil {
			p.logger.Debug("template dropped", "stage", mw.Name(), "slug", t.Slug)
			return nil, nil
		}
		current = result
	}

	return current, nil
}

// Len returns the number of middleware in the chain.
func (p *Pipeline) Len() int {
	return len(p.middlewares)
}

// Sink runs templates through a Pipeline before handing them to the next
// catalog sink.
type Sink struct {
	pipeline *Pipeline
	next     catalog.Sink
}

// NewSink wraps next with p.
func NewSink(p *Pipeline, next catalog.Sink) *Sink {
	return &Sink{pipeline: p, next: next}
}

func (s *Sink) Name() string { return "pipeline:" + s.next.Name() }

// Save processes t and saves the result. Dropped templates are not saved.
func (s *Sink) Save(ctx context.Context, t *types.Template) error {
	out, err := s.pipeline.Process(t)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return s.next.Save(ctx, out)
}

// Close closes the wrapped sink.
func (s *Sink) Close() error { return s.next.Close() }
