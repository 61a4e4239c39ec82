// Package discovery builds session work lists: from the marketplace
// sitemap, from explicit URL lists, and incrementally against the catalog.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"sync"

	colly "github.com/gocolly/colly/v2"

	"github.com/IshaanNene/templatescout/internal/catalog"
	"github.com/IshaanNene/templatescout/internal/config"
	"github.com/IshaanNene/templatescout/internal/types"
)

// Discoverer lists the template pages currently offered by the marketplace.
type Discoverer interface {
	Discover(ctx context.Context) ([]types.WorkItem, error)
}

// SitemapDiscoverer walks a sitemap (following sitemap indexes) and keeps
// the <loc> entries whose path matches the template pattern.
type SitemapDiscoverer struct {
	cfg     config.DiscoveryConfig
	pattern *regexp.Regexp
	logger  *slog.Logger
}

// NewSitemapDiscoverer validates cfg and compiles its template pattern.
func NewSitemapDiscoverer(cfg config.DiscoveryConfig, logger *slog.Logger) (*SitemapDiscoverer, error) {
	if cfg.SitemapURL == "" {
		return nil, errors.New("discovery: sitemap_url is required")
	}
	pattern, err := regexp.Compile(cfg.TemplatePattern)
	if err != nil {
		return nil, fmt.Errorf("discovery: template_pattern: %w", err)
	}
	return &SitemapDiscoverer{
		cfg:     cfg,
		pattern: pattern,
		logger:  logger.With("component", "discovery"),
	}, nil
}

// Discover fetches the sitemap and returns the matching template pages in
// sitemap order, deduplicated. Fetch errors on child sitemaps are logged;
// discovery fails only when nothing could be read.
func (d *SitemapDiscoverer) Discover(ctx context.Context) ([]types.WorkItem, error) {
	opts := []colly.CollectorOption{colly.StdlibContext(ctx)}
	if d.cfg.UserAgent != "" {
		opts = append(opts, colly.UserAgent(d.cfg.UserAgent))
	}
	c := colly.NewCollector(opts...)
	if d.cfg.Timeout > 0 {
		c.SetRequestTimeout(d.cfg.Timeout)
	}

	var (
		mu       sync.Mutex
		items    []types.WorkItem
		seen     = make(map[string]bool)
		fetchErr []error
		sitemaps int
		full     bool
	)

	c.OnXML("//sitemapindex/sitemap/loc", func(e *colly.XMLElement) {
		loc := strings.TrimSpace(e.Text)
		if loc == "" {
			return
		}
		if err := e.Request.Visit(loc); err != nil {
			d.logger.Debug("child sitemap skipped", "url", loc, "error", err)
		}
	})

	c.OnXML("//urlset/url/loc", func(e *colly.XMLElement) {
		loc := strings.TrimSpace(e.Text)
		u, err := url.Parse(loc)
		if err != nil || !d.pattern.MatchString(u.Path) {
			return
		}
		item, err := types.NewWorkItem(loc)
		if err != nil {
			return
		}

		mu.Lock()
		defer mu.Unlock()
		if full || seen[item.URL] {
			return
		}
		seen[item.URL] = true
		items = append(items, item)
		if d.cfg.MaxItems > 0 && len(items) >= d.cfg.MaxItems {
			full = true
		}
	})

	c.OnResponse(func(r *colly.Response) {
		mu.Lock()
		sitemaps++
		mu.Unlock()
		d.logger.Debug("sitemap fetched", "url", r.Request.URL.String(), "bytes", len(r.Body))
	})

	c.OnError(func(r *colly.Response, err error) {
		mu.Lock()
		fetchErr = append(fetchErr, fmt.Errorf("fetch %s (status %d): %w", r.Request.URL, r.StatusCode, err))
		mu.Unlock()
	})

	if err := c.Visit(d.cfg.SitemapURL); err != nil && len(fetchErr) == 0 {
		return nil, fmt.Errorf("discovery: visit %s: %w", d.cfg.SitemapURL, err)
	}
	c.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if sitemaps == 0 && len(fetchErr) > 0 {
		return nil, fmt.Errorf("discovery: %w", errors.Join(fetchErr...))
	}
	for _, err := range fetchErr {
		d.logger.Warn("sitemap fetch failed", "error", err)
	}

	d.logger.Info("sitemap discovered", "sitemaps", sitemaps, "templates", len(items))
	return items, nil
}

// ParseURLs turns raw URLs into work items, dropping duplicates and
// blank lines. An invalid URL fails the whole list.
func ParseURLs(raw []string) ([]types.WorkItem, error) {
	seen := make(map[string]bool, len(raw))
	items := make([]types.WorkItem, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" || strings.HasPrefix(r, "#") {
			continue
		}
		item, err := types.NewWorkItem(r)
		if err != nil {
			return nil, err
		}
		if seen[item.URL] {
			continue
		}
		seen[item.URL] = true
		items = append(items, item)
	}
	return items, nil
}

// FilterKnown drops items whose URL is already in known.
func FilterKnown(items []types.WorkItem, known map[string]bool) []types.WorkItem {
	if len(known) == 0 {
		return items
	}
	out := make([]types.WorkItem, 0, len(items))
	for _, item := range items {
		if !known[item.URL] {
			out = append(out, item)
		}
	}
	return out
}

// Fresh discovers the marketplace and keeps only templates the catalog
// does not hold yet.
func Fresh(ctx context.Context, d Discoverer, known catalog.URLLister) ([]types.WorkItem, error) {
	items, err := d.Discover(ctx)
	if err != nil {
		return nil, err
	}
	urls, err := known.KnownURLs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list catalog urls: %w", err)
	}
	return FilterKnown(items, urls), nil
}
