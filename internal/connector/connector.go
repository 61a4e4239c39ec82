// Package connector loads marketplace template pages in a browser and
// extracts their structured metadata.
package connector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"

	"github.com/IshaanNene/templatescout/internal/config"
	"github.com/IshaanNene/templatescout/internal/types"
)

// Result is a successful extraction.
type Result struct {
	Template *types.Template
	HTML     string
	FinalURL string
}

// Connector navigates pages and extracts templates. It never retries.
type Connector struct {
	selectors  config.SelectorConfig
	navTimeout time.Duration
	readyWait  time.Duration
	logger     *slog.Logger
}

// Option configures a Connector.
type Option func(*Connector)

// WithNavigationTimeout bounds a single navigation.
func WithNavigationTimeout(d time.Duration) Option {
	return func(c *Connector) { c.navTimeout = d }
}

// WithReadyWait bounds the wait for the load event and ready selector.
func WithReadyWait(d time.Duration) Option {
	return func(c *Connector) { c.readyWait = d }
}

// New creates a Connector using the given field selectors.
func New(selectors config.SelectorConfig, logger *slog.Logger, opts ...Option) *Connector {
	c := &Connector{
		selectors:  selectors,
		navTimeout: 45 * time.Second,
		readyWait:  10 * time.Second,
		logger:     logger.With("component", "connector"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Open navigates page to rawURL and waits, bounded, for it to be usable.
// Navigation errors are returned as *types.ExtractionError.
func (c *Connector) Open(ctx context.Context, page *rod.Page, rawURL string) error {
	p := page.Context(ctx)

	if err := p.Timeout(c.navTimeout).Navigate(rawURL); err != nil {
		kind := types.NavigationFailed
		if errors.Is(err, context.DeadlineExceeded) {
			kind = types.NavigationTimeout
		}
		return &types.ExtractionError{Kind: kind, URL: rawURL, Err: err}
	}

	if err := p.Timeout(c.readyWait).WaitLoad(); err != nil {
		if ctx.Err() != nil {
			return &types.ExtractionError{Kind: types.NavigationTimeout, URL: rawURL, Err: ctx.Err()}
		}
		c.logger.Debug("load event not seen, continuing", "url", rawURL, "error", err)
	}
	return nil
}

// Extract navigates to the item's URL and parses the rendered page.
func (c *Connector) Extract(ctx context.Context, page *rod.Page, item types.WorkItem) (*Result, error) {
	if err := c.Open(ctx, page, item.URL); err != nil {
		return nil, err
	}
	return c.Read(ctx, page, item)
}

// Read parses the page already loaded for item.
func (c *Connector) Read(ctx context.Context, page *rod.Page, item types.WorkItem) (*Result, error) {
	p := page.Context(ctx)

	if c.selectors.Ready != "" {
		if _, err := p.Timeout(c.readyWait).Element(c.selectors.Ready); err != nil {
			if ctx.Err() != nil {
				return nil, &types.ExtractionError{Kind: types.NavigationTimeout, URL: item.URL, Err: ctx.Err()}
			}
			c.logger.Debug("ready selector not found", "url", item.URL, "selector", c.selectors.Ready)
		}
	}

	rawHTML, err := p.HTML()
	if err != nil {
		return nil, &types.ExtractionError{Kind: types.NavigationFailed, URL: item.URL, Err: fmt.Errorf("read html: %w", err)}
	}

	finalURL := item.URL
	if info, err := p.Info(); err == nil && info != nil && info.URL != "" {
		finalURL = info.URL
	}

	tpl, err := ParseTemplate(rawHTML, finalURL, c.selectors)
	if err != nil {
		return nil, &types.ExtractionError{Kind: types.NoMatchingFields, URL: item.URL, Err: err}
	}

	tpl.Slug = item.Slug
	if tpl.Name == "" {
		tpl.Name = item.Name
	}
	tpl.SourceURL = item.URL
	tpl.ScrapedAt = time.Now().UTC()

	c.logger.Debug("template extracted",
		"url", item.URL,
		"name", tpl.Name,
		"internal_links", len(tpl.InternalLinks),
	)
	return &Result{Template: tpl, HTML: rawHTML, FinalURL: finalURL}, nil
}

// Links returns the same-origin links of the currently loaded page.
func (c *Connector) Links(ctx context.Context, page *rod.Page) ([]string, error) {
	p := page.Context(ctx)
	rawHTML, err := p.HTML()
	if err != nil {
		return nil, fmt.Errorf("read html: %w", err)
	}
	pageURL := ""
	if info, err := p.Info(); err == nil && info != nil {
		pageURL = info.URL
	}
	return SameOriginLinks(rawHTML, pageURL)
}
