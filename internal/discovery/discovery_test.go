package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IshaanNene/templatescout/internal/config"
	"github.com/IshaanNene/templatescout/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

func sitemapServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	xmlHandler := func(body string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/xml")
			fmt.Fprint(w, body)
		}
	}

	mux.HandleFunc("/sitemap.xml", xmlHandler(fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <sitemap><loc>%[1]s/sitemap-templates.xml</loc></sitemap>
  <sitemap><loc>%[1]s/sitemap-blog.xml</loc></sitemap>
</sitemapindex>`, srv.URL)))

	mux.HandleFunc("/sitemap-templates.xml", xmlHandler(fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>%[1]s/html/nimbus-website-template</loc></url>
  <url><loc> %[1]s/html/orbit-website-template </loc></url>
  <url><loc>%[1]s/html/nimbus-website-template</loc></url>
  <url><loc>%[1]s/html/category/agency</loc></url>
  <url><loc>%[1]s/html/atlas-website-template/</loc></url>
</urlset>`, srv.URL)))

	mux.HandleFunc("/sitemap-blog.xml", xmlHandler(fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>%[1]s/blog/how-to-pick-a-template</loc></url>
</urlset>`, srv.URL)))

	return srv
}

func discoveryConfig(srv *httptest.Server) config.DiscoveryConfig {
	cfg := config.DefaultConfig().Discovery
	cfg.SitemapURL = srv.URL + "/sitemap.xml"
	cfg.Timeout = 5 * time.Second
	return cfg
}

func TestSitemapDiscovery(t *testing.T) {
	srv := sitemapServer(t)
	d, err := NewSitemapDiscoverer(discoveryConfig(srv), testLogger)
	require.NoError(t, err)

	items, err := d.Discover(context.Background())
	require.NoError(t, err)

	var slugs []string
	for _, item := range items {
		slugs = append(slugs, item.Slug)
	}
	assert.Equal(t, []string{"nimbus-website-template", "orbit-website-template", "atlas-website-template"}, slugs)
}

func TestSitemapDiscoveryMaxItems(t *testing.T) {
	srv := sitemapServer(t)
	cfg := discoveryConfig(srv)
	cfg.MaxItems = 2
	d, err := NewSitemapDiscoverer(cfg, testLogger)
	require.NoError(t, err)

	items, err := d.Discover(context.Background())
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestSitemapDiscoveryUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	d, err := NewSitemapDiscoverer(discoveryConfig(srv), testLogger)
	require.NoError(t, err)
	_, err = d.Discover(context.Background())
	assert.Error(t, err)
}

func TestNewSitemapDiscovererValidates(t *testing.T) {
	_, err := NewSitemapDiscoverer(config.DiscoveryConfig{}, testLogger)
	assert.Error(t, err)

	_, err = NewSitemapDiscoverer(config.DiscoveryConfig{SitemapURL: "https://x.io/sitemap.xml", TemplatePattern: "("}, testLogger)
	assert.Error(t, err)
}

func TestParseURLs(t *testing.T) {
	items, err := ParseURLs([]string{
		"https://templates.example.com/html/nimbus",
		"",
		"# comment",
		"https://templates.example.com/html/nimbus#top",
		"https://templates.example.com/html/orbit",
	})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "nimbus", items[0].Slug)
	assert.Equal(t, "orbit", items[1].Slug)

	_, err = ParseURLs([]string{"ftp://templates.example.com/x"})
	assert.Error(t, err)
}

type fakeDiscoverer struct {
	items []types.WorkItem
	err   error
}

func (f fakeDiscoverer) Discover(context.Context) ([]types.WorkItem, error) { return f.items, f.err }

type fakeLister map[string]bool

func (f fakeLister) KnownURLs(context.Context) (map[string]bool, error) { return f, nil }

func TestFreshDropsKnownTemplates(t *testing.T) {
	items, err := ParseURLs([]string{
		"https://templates.example.com/html/nimbus",
		"https://templates.example.com/html/orbit",
	})
	require.NoError(t, err)

	fresh, err := Fresh(context.Background(), fakeDiscoverer{items: items}, fakeLister{"https://templates.example.com/html/nimbus": true})
	require.NoError(t, err)
	require.Len(t, fresh, 1)
	assert.Equal(t, "orbit", fresh[0].Slug)

	assert.Equal(t, items, FilterKnown(items, nil))

	boom := errors.New("sitemap down")
	_, err = Fresh(context.Background(), fakeDiscoverer{err: boom}, fakeLister{})
	assert.ErrorIs(t, err, boom)
}

func TestPlanner(t *testing.T) {
	items, err := ParseURLs([]string{
		"https://templates.example.com/html/nimbus",
		"https://templates.example.com/html/orbit",
	})
	require.NoError(t, err)
	p := NewPlanner(fakeDiscoverer{items: items}, fakeLister{"https://templates.example.com/html/orbit": true})
	ctx := context.Background()

	full, err := p.Plan(ctx, types.SessionFull, nil)
	require.NoError(t, err)
	assert.Len(t, full, 2)

	fresh, err := p.Plan(ctx, types.SessionFresh, nil)
	require.NoError(t, err)
	require.Len(t, fresh, 1)
	assert.Equal(t, "nimbus", fresh[0].Slug)

	adhoc, err := p.Plan(ctx, types.SessionURLs, []string{"https://templates.example.com/html/atlas"})
	require.NoError(t, err)
	assert.Equal(t, "atlas", adhoc[0].Slug)

	_, err = p.Plan(ctx, types.SessionURLs, nil)
	assert.ErrorIs(t, err, ErrNoWork)

	_, err = p.Plan(ctx, types.SessionType("weekly"), nil)
	assert.Error(t, err)

	_, err = NewPlanner(nil, nil).Plan(ctx, types.SessionFull, nil)
	assert.Error(t, err)
}
