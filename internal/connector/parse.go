package connector

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/IshaanNene/templatescout/internal/config"
	"github.com/IshaanNene/templatescout/internal/types"
)

var (
	whitespace = regexp.MustCompile(`\s+`)
	priceRe    = regexp.MustCompile(`(\d[\d,]*)(?:\.(\d{1,2}))?`)
)

// ParseTemplate extracts a Template from rendered page HTML. It returns
// types.ErrNoMatchingFields when neither a name nor any description
// could be found.
func ParseTemplate(rawHTML, pageURL string, sel config.SelectorConfig) (*types.Template, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	// Meta fallbacks are read with XPath from a separate parse tree.
	root, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	tpl := &types.Template{
		Name:             firstText(doc, sel.Name),
		AuthorName:       firstText(doc, sel.AuthorName),
		AuthorURL:        resolve(base, firstAttr(doc, sel.AuthorURL, "href")),
		Price:            priceText(doc, sel.Price),
		ShortDescription: firstText(doc, sel.ShortDescription),
		LongDescription:  firstText(doc, sel.LongDescription),
		Categories:       allTexts(doc, sel.Categories),
		Styles:           allTexts(doc, sel.Styles),
		Features:         allTexts(doc, sel.Features),
		LivePreviewURL:   resolve(base, firstAttr(doc, sel.LivePreview, "href")),
		InternalLinks:    sameOriginLinks(doc, base),
		SourceURL:        pageURL,
	}

	if tpl.Name == "" {
		tpl.Name = trimTitle(metaContent(root, `//meta[@property='og:title']/@content`))
	}
	if tpl.ShortDescription == "" {
		tpl.ShortDescription = metaContent(root, `//meta[@property='og:description']/@content`)
	}
	if tpl.ShortDescription == "" {
		tpl.ShortDescription = metaContent(root, `//meta[@name='description']/@content`)
	}

	if tpl.Name == "" && tpl.ShortDescription == "" && tpl.LongDescription == "" {
		return nil, types.ErrNoMatchingFields
	}

	if cents, ok := ParsePrice(tpl.Price); ok {
		tpl.PriceCents = cents
	}
	return tpl, nil
}

func clean(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

func firstText(doc *goquery.Document, selector string) string {
	if selector == "" {
		return ""
	}
	var val string
	doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		val = clean(s.Text())
		return val == ""
	})
	return val
}

func firstAttr(doc *goquery.Document, selector, attr string) string {
	if selector == "" {
		return ""
	}
	var val string
	doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		v, ok := s.Attr(attr)
		val = strings.TrimSpace(v)
		return !ok || val == ""
	})
	return val
}

func allTexts(doc *goquery.Document, selector string) []string {
	if selector == "" {
		return nil
	}
	seen := make(map[string]bool)
	var values []string
	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		v := clean(s.Text())
		if v == "" || seen[strings.ToLower(v)] {
			return
		}
		seen[strings.ToLower(v)] = true
		values = append(values, v)
	})
	return values
}

// priceText prefers a machine-readable data-price attribute over the
// visible label.
func priceText(doc *goquery.Document, selector string) string {
	if v := firstAttr(doc, selector, "data-price"); v != "" {
		return v
	}
	return firstText(doc, selector)
}

func metaContent(root *html.Node, expr string) string {
	node, err := htmlquery.Query(root, expr)
	if err != nil || node == nil {
		return ""
	}
	return clean(htmlquery.InnerText(node))
}

// trimTitle drops a trailing " | Site" or " - Site" suffix from a page title.
func trimTitle(s string) string {
	for _, sep := range []string{" | ", " — ", " - "} {
		if i := strings.LastIndex(s, sep); i > 0 {
			return strings.TrimSpace(s[:i])
		}
	}
	return s
}

func resolve(base *url.URL, href string) string {
	if href == "" {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	abs := base.ResolveReference(u)
	abs.Fragment = ""
	return abs.String()
}

// ParsePrice converts a displayed price to cents. "Free" is 0.
func ParsePrice(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if strings.EqualFold(s, "free") {
		return 0, true
	}
	m := priceRe.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	whole, err := strconv.ParseInt(strings.ReplaceAll(m[1], ",", ""), 10, 64)
	if err != nil {
		return 0, false
	}
	var frac int64
	if m[2] != "" {
		f := m[2]
		if len(f) == 1 {
			f += "0"
		}
		frac, _ = strconv.ParseInt(f, 10, 64)
	}
	return whole*100 + frac, true
}

// sameOriginLinks returns the distinct absolute http(s) links on the page
// that share base's host, without fragments.
func sameOriginLinks(doc *goquery.Document, base *url.URL) []string {
	seen := make(map[string]bool)
	var links []string

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" ||
			strings.HasPrefix(href, "#") ||
			strings.HasPrefix(href, "javascript:") ||
			strings.HasPrefix(href, "mailto:") ||
			strings.HasPrefix(href, "tel:") {
			return
		}

		parsed, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := base.ResolveReference(parsed)
		if abs.Scheme != "http" && abs.Scheme != "https" {
			return
		}
		if !strings.EqualFold(abs.Hostname(), base.Hostname()) {
			return
		}
		abs.Fragment = ""

		s := abs.String()
		if !seen[s] {
			seen[s] = true
			links = append(links, s)
		}
	})

	return links
}

// SameOriginLinks parses rawHTML and returns its same-origin links.
func SameOriginLinks(rawHTML, pageURL string) ([]string, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return sameOriginLinks(doc, base), nil
}
