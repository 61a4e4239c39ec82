package pipeline

import (
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/IshaanNene/templatescout/internal/types"
)

// --- Built-in Middleware ---

// TrimMiddleware trims whitespace from every string field.
type TrimMiddleware struct{}

func (m *TrimMiddleware) Name() string { return "trim" }

func (m *TrimMiddleware) Process(t *types.Template) (*types.Template, error) {
	for _, f := range stringFields(t) {
		*f = strings.TrimSpace(*f)
	}
	return t, nil
}

// HTMLSanitizeMiddleware strips HTML tags from the description fields.
type HTMLSanitizeMiddleware struct {
	stripRe *regexp.Regexp
}

func NewHTMLSanitizeMiddleware() *HTMLSanitizeMiddleware {
	return &HTMLSanitizeMiddleware{
		stripRe: regexp.MustCompile(`<[^>]*>`),
	}
}

func (m *HTMLSanitizeMiddleware) Name() string { return "html_sanitize" }

func (m *HTMLSanitizeMiddleware) Process(t *types.Template) (*types.Template, error) {
	for _, f := range []*string{&t.Name, &t.ShortDescription, &t.LongDescription} {
		if *f == "" {
			continue
		}
		cleaned := m.stripRe.ReplaceAllString(*f, " ")
		cleaned = html.UnescapeString(cleaned)
		*f = strings.Join(strings.Fields(cleaned), " ")
	}
	return t, nil
}

// ListNormalizeMiddleware trims the tag lists and drops empty and
// case-insensitive duplicate entries, keeping first occurrences.
type ListNormalizeMiddleware struct{}

func (m *ListNormalizeMiddleware) Name() string { return "list_normalize" }

func (m *ListNormalizeMiddleware) Process(t *types.Template) (*types.Template, error) {
	t.Categories = normalizeList(t.Categories)
	t.Styles = normalizeList(t.Styles)
	t.Features = normalizeList(t.Features)
	return t, nil
}

func normalizeList(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, v := range in {
		v = strings.Join(strings.Fields(v), " ")
		key := strings.ToLower(v)
		if v == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, v)
	}
	return out
}

// RequiredFieldsMiddleware rejects templates missing required fields.
type RequiredFieldsMiddleware struct {
	Fields []string
}

func (m *RequiredFieldsMiddleware) Name() string { return "required_fields" }

func (m *RequiredFieldsMiddleware) Process(t *types.Template) (*types.Template, error) {
	for _, field := range m.Fields {
		v, ok := fieldValue(t, field)
		if !ok {
			return nil, fmt.Errorf("unknown field %q", field)
		}
		if v == "" {
			return nil, fmt.Errorf("%w: %s is empty", types.ErrNoMatchingFields, field)
		}
	}
	return t, nil
}

func stringFields(t *types.Template) []*string {
	return []*string{
		&t.Slug, &t.Name, &t.AuthorName, &t.AuthorURL, &t.Price,
		&t.ShortDescription, &t.LongDescription, &t.LivePreviewURL,
		&t.HomepagePath, &t.SourceURL,
	}
}

func fieldValue(t *types.Template, field string) (string, bool) {
	switch field {
	case "slug":
		return t.Slug, true
	case "name":
		return t.Name, true
	case "author_name":
		return t.AuthorName, true
	case "price":
		return t.Price, true
	case "short_description":
		return t.ShortDescription, true
	case "long_description":
		return t.LongDescription, true
	case "live_preview_url":
		return t.LivePreviewURL, true
	case "source_url":
		return t.SourceURL, true
	case "preview_url":
		return t.PreviewURL, true
	}
	return "", false
}
