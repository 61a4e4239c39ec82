package types

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// WorkItem is one template URL to process within a session.
type WorkItem struct {
	// ID is stable across resume: "<sessionID>:<position>".
	ID string `json:"id"`

	URL  string `json:"url"`
	Slug string `json:"slug"`

	// Name is the template name when the caller already knows it.
	Name string `json:"name,omitempty"`

	// Position is the zero-based index in the session's work list.
	Position int `json:"position"`
}

var slugUnsafe = regexp.MustCompile(`[^a-z0-9-]+`)

// NewWorkItem builds a WorkItem from a raw URL, deriving its slug.
func NewWorkItem(rawURL string) (WorkItem, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return WorkItem{}, fmt.Errorf("parse %q: %w", rawURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return WorkItem{}, fmt.Errorf("url %q: scheme must be http or https", rawURL)
	}
	if u.Host == "" {
		return WorkItem{}, fmt.Errorf("url %q: missing host", rawURL)
	}
	u.Fragment = ""
	return WorkItem{URL: u.String(), Slug: Slugify(u)}, nil
}

// Slugify derives an identifier from a URL's last non-empty path segment,
// falling back to the host for root URLs.
func Slugify(u *url.URL) string {
	segs := strings.Split(strings.Trim(u.Path, "/"), "/")
	last := segs[len(segs)-1]
	if last == "" {
		last = u.Hostname()
	}
	s := slugUnsafe.ReplaceAllString(strings.ToLower(last), "-")
	return strings.Trim(s, "-")
}

// ItemID returns the identifier of the item at position pos in a session.
func ItemID(sessionID string, pos int) string {
	return fmt.Sprintf("%s:%d", sessionID, pos)
}

// AssignIDs stamps session-scoped IDs and positions on items in order.
func AssignIDs(sessionID string, items []WorkItem) {
	for i := range items {
		items[i].Position = i
		items[i].ID = ItemID(sessionID, i)
	}
}
