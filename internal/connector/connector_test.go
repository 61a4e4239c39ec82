package connector

import (
	"errors"
	"slices"
	"testing"

	"github.com/IshaanNene/templatescout/internal/config"
	"github.com/IshaanNene/templatescout/internal/types"
)

const templateHTML = `<!DOCTYPE html>
<html>
<head>
    <title>Nimbus - Agency Website Template</title>
    <meta property="og:title" content="Nimbus | Webflow Templates">
    <meta property="og:description" content="A bold agency template.">
</head>
<body>
    <header>
        <h1>  Nimbus
        Agency </h1>
        <p>Launch your studio site in minutes.</p>
    </header>
    <a class="designer-name" href="/designers/jane-studio">Jane Studio</a>
    <div class="template-price" data-price="$79 USD">$79</div>
    <article class="template-description">
        Nimbus is a multipurpose agency template with
        twelve pages and a CMS blog.
    </article>
    <a href="/templates/category/agency">Agency</a>
    <a href="/templates/category/portfolio">Portfolio</a>
    <a href="/templates/category/agency">agency</a>
    <a href="/templates/style/minimal">Minimal</a>
    <ul class="template-features"><li>CMS</li><li>Ecommerce</li><li></li></ul>
    <a class="live-preview" href="https://nimbus-template.webflow.io/#top">Preview</a>
    <a href="#pricing">Pricing</a>
    <a href="mailto:help@example.com">Mail</a>
    <a href="https://other.example.org/x">Elsewhere</a>
</body>
</html>`

func TestParseTemplate(t *testing.T) {
	sel := config.DefaultConfig().Selectors
	tpl, err := ParseTemplate(templateHTML, "https://templates.example.com/html/nimbus-website-template", sel)
	if err != nil {
		t.Fatalf("ParseTemplate: %v", err)
	}

	if tpl.Name != "Nimbus Agency" {
		t.Errorf("Name = %q, want %q", tpl.Name, "Nimbus Agency")
	}
	if tpl.AuthorName != "Jane Studio" {
		t.Errorf("AuthorName = %q", tpl.AuthorName)
	}
	if tpl.AuthorURL != "https://templates.example.com/designers/jane-studio" {
		t.Errorf("AuthorURL = %q", tpl.AuthorURL)
	}
	if tpl.Price != "$79 USD" || tpl.PriceCents != 7900 {
		t.Errorf("Price = %q (%d cents)", tpl.Price, tpl.PriceCents)
	}
	if tpl.ShortDescription != "Launch your studio site in minutes." {
		t.Errorf("ShortDescription = %q", tpl.ShortDescription)
	}
	if tpl.LongDescription != "Nimbus is a multipurpose agency template with twelve pages and a CMS blog." {
		t.Errorf("LongDescription = %q", tpl.LongDescription)
	}
	if !slices.Equal(tpl.Categories, []string{"Agency", "Portfolio"}) {
		t.Errorf("Categories = %v", tpl.Categories)
	}
	if !slices.Equal(tpl.Styles, []string{"Minimal"}) {
		t.Errorf("Styles = %v", tpl.Styles)
	}
	if !slices.Equal(tpl.Features, []string{"CMS", "Ecommerce"}) {
		t.Errorf("Features = %v", tpl.Features)
	}
	if tpl.LivePreviewURL != "https://nimbus-template.webflow.io/" {
		t.Errorf("LivePreviewURL = %q", tpl.LivePreviewURL)
	}

	for _, l := range tpl.InternalLinks {
		if l == "https://other.example.org/x" {
			t.Error("cross-origin link should not be internal")
		}
	}
	if !slices.Contains(tpl.InternalLinks, "https://templates.example.com/templates/style/minimal") {
		t.Errorf("InternalLinks missing style link: %v", tpl.InternalLinks)
	}
	if len(tpl.InternalLinks) != 4 {
		t.Errorf("InternalLinks = %v, want 4 distinct same-origin links", tpl.InternalLinks)
	}
}

func TestParseTemplateMetaFallback(t *testing.T) {
	page := `<html><head>
        <meta property="og:title" content="Orbit | Webflow">
        <meta name="description" content="Fallback description.">
    </head><body><div>no selectors match</div></body></html>`

	sel := config.SelectorConfig{Name: ".missing", ShortDescription: ".missing"}
	tpl, err := ParseTemplate(page, "https://templates.example.com/html/orbit", sel)
	if err != nil {
		t.Fatalf("ParseTemplate: %v", err)
	}
	if tpl.Name != "Orbit" {
		t.Errorf("Name = %q, want og:title fallback", tpl.Name)
	}
	if tpl.ShortDescription != "Fallback description." {
		t.Errorf("ShortDescription = %q", tpl.ShortDescription)
	}
}

func TestParseTemplateNoMatchingFields(t *testing.T) {
	page := `<html><body><p>Just a page.</p></body></html>`
	sel := config.SelectorConfig{Name: "h1", ShortDescription: ".summary", LongDescription: ".description"}

	_, err := ParseTemplate(page, "https://templates.example.com/html/empty", sel)
	if !errors.Is(err, types.ErrNoMatchingFields) {
		t.Errorf("expected ErrNoMatchingFields, got %v", err)
	}
}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		in    string
		cents int64
		ok    bool
	}{
		{"$79", 7900, true},
		{"$49.00 USD", 4900, true},
		{"€1,299.5", 129950, true},
		{"Free", 0, true},
		{"  free ", 0, true},
		{"", 0, false},
		{"Contact us", 0, false},
	}
	for _, tt := range tests {
		cents, ok := ParsePrice(tt.in)
		if cents != tt.cents || ok != tt.ok {
			t.Errorf("ParsePrice(%q) = (%d, %v), want (%d, %v)", tt.in, cents, ok, tt.cents, tt.ok)
		}
	}
}

func TestDetectHomepage(t *testing.T) {
	base := "https://nimbus-template.webflow.io/"
	tests := []struct {
		name  string
		links []string
		want  string
	}{
		{"no links", nil, "/"},
		{"only root and pages", []string{base, base + "about", base + "contact"}, "/"},
		{"home wins", []string{base + "home-2", base + "home", base + "about"}, "/home"},
		{"numbered variants", []string{base + "home-3", base + "home-1", base + "blog"}, "/home-1"},
		{"index page", []string{base + "about", "/index.html"}, "/index.html"},
		{"cross origin ignored", []string{"https://elsewhere.io/home"}, "/"},
		{"homepage beats variants", []string{base + "home-v2", base + "homepage"}, "/homepage"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectHomepage(tt.links, base); got != tt.want {
				t.Errorf("DetectHomepage() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSameOriginLinks(t *testing.T) {
	page := `<a href="/a">A</a><a href="/a#x">A again</a><a href="https://x.org/">X</a><a href="javascript:void(0)">J</a>`
	links, err := SameOriginLinks(page, "https://site.webflow.io/")
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(links, []string{"https://site.webflow.io/a"}) {
		t.Errorf("links = %v", links)
	}
}
