package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path"

	"github.com/go-rod/rod"

	"github.com/IshaanNene/templatescout/internal/assets"
	"github.com/IshaanNene/templatescout/internal/capture"
	"github.com/IshaanNene/templatescout/internal/catalog"
	"github.com/IshaanNene/templatescout/internal/config"
	"github.com/IshaanNene/templatescout/internal/connector"
	"github.com/IshaanNene/templatescout/internal/types"
)

// PhaseFunc reports that an item entered a new pipeline phase.
type PhaseFunc func(types.Phase)

// Outcome is what a successful item produced.
type Outcome struct {
	Name         string
	PreviewURL   string
	ThumbnailURL string
}

// Processor runs one work item on a leased browser page.
type Processor interface {
	Process(ctx context.Context, page *rod.Page, item types.WorkItem, cfg config.PerformanceConfig, phase PhaseFunc) (*Outcome, error)
}

// TemplateProcessor extracts a template page, screenshots its live
// preview and saves the result to the catalog.
type TemplateProcessor struct {
	connector *connector.Connector
	capturer  *capture.Capturer
	sink      catalog.Sink
	archive   assets.Store
	logger    *slog.Logger
}

// NewTemplateProcessor wires the pipeline. archive may be nil to skip
// storing compressed page HTML.
func NewTemplateProcessor(conn *connector.Connector, capturer *capture.Capturer, sink catalog.Sink, archive assets.Store, logger *slog.Logger) *TemplateProcessor {
	return &TemplateProcessor{
		connector: conn,
		capturer:  capturer,
		sink:      sink,
		archive:   archive,
		logger:    logger.With("component", "processor"),
	}
}

func (p *TemplateProcessor) Process(ctx context.Context, page *rod.Page, item types.WorkItem, cfg config.PerformanceConfig, phase PhaseFunc) (*Outcome, error) {
	phase(types.PhaseNavigation)
	if err := p.connector.Open(ctx, page, item.URL); err != nil {
		return nil, err
	}

	phase(types.PhaseExtraction)
	res, err := p.connector.Read(ctx, page, item)
	if err != nil {
		return nil, err
	}
	tpl := res.Template

	phase(types.PhaseScreenshotCapture)
	tpl.HomepagePath = p.openPreview(ctx, page, item, tpl.LivePreviewURL)

	opts := capture.OptionsFrom(cfg)
	raw, stable, err := p.capturer.Grab(ctx, page, opts)
	if err != nil {
		return nil, err
	}

	phase(types.PhaseScreenshotProcessing)
	shots, err := p.capturer.Finish(ctx, item.Slug, raw, opts)
	if err != nil {
		return nil, err
	}
	shots.Stable = stable
	tpl.PreviewURL = shots.PreviewURL
	tpl.ThumbnailURL = shots.ThumbnailURL

	if p.archive != nil {
		key := path.Join(item.Slug, "page.html.br")
		if _, err := assets.ArchiveHTML(ctx, p.archive, key, res.HTML); err != nil {
			p.logger.Warn("html archive failed", "slug", item.Slug, "error", err)
		}
	}

	if err := p.sink.Save(ctx, tpl); err != nil {
		return nil, fmt.Errorf("save template %s: %w", item.Slug, err)
	}

	return &Outcome{
		Name:         tpl.Name,
		PreviewURL:   shots.PreviewURL,
		ThumbnailURL: shots.ThumbnailURL,
	}, nil
}

// openPreview navigates to the template's live preview and, when the site
// has a distinct homepage, on to that page. It returns the homepage path.
// Without a usable preview the template page itself is reloaded.
func (p *TemplateProcessor) openPreview(ctx context.Context, page *rod.Page, item types.WorkItem, preview string) string {
	if preview == "" {
		return ""
	}
	if err := p.connector.Open(ctx, page, preview); err != nil {
		p.logger.Warn("live preview unavailable, capturing template page", "slug", item.Slug, "error", err)
		if err := p.connector.Open(ctx, page, item.URL); err != nil {
			p.logger.Debug("reload of template page failed", "slug", item.Slug, "error", err)
		}
		return ""
	}

	links, err := p.connector.Links(ctx, page)
	if err != nil {
		p.logger.Debug("link harvest failed", "slug", item.Slug, "error", err)
		return "/"
	}
	home := connector.DetectHomepage(links, preview)
	if home == "/" {
		return home
	}

	target, err := resolvePath(preview, home)
	if err != nil {
		return "/"
	}
	if err := p.connector.Open(ctx, page, target); err != nil {
		p.logger.Debug("homepage navigation failed, using preview root", "target", target, "error", err)
		if err := p.connector.Open(ctx, page, preview); err != nil {
			p.logger.Debug("reload of preview failed", "slug", item.Slug, "error", err)
		}
		return "/"
	}
	return home
}

func resolvePath(base, p string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(p)
	if err != nil {
		return "", err
	}
	return b.ResolveReference(ref).String(), nil
}
