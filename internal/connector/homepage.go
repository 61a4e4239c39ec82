package connector

import (
	"net/url"
	"regexp"
	"sort"
	"strings"
)

// Paths that marketing sites commonly use for their real landing page when
// "/" is a splash or a picker between several homepage variants.
var homepageRanks = []struct {
	re   *regexp.Regexp
	rank int
}{
	{regexp.MustCompile(`^/home/?$`), 0},
	{regexp.MustCompile(`^/homepage/?$`), 1},
	{regexp.MustCompile(`^/home-?(v|version)?-?\d+/?$`), 2},
	{regexp.MustCompile(`^/index(\.html?)?$`), 3},
	{regexp.MustCompile(`^/(landing|main)/?$`), 4},
}

// DetectHomepage picks the canonical entry path of a site from its
// same-origin links. It returns "/" when no better candidate exists.
func DetectHomepage(links []string, base string) string {
	b, err := url.Parse(base)
	if err != nil {
		return "/"
	}

	type candidate struct {
		path string
		rank int
	}
	var found []candidate
	seen := make(map[string]bool)

	for _, link := range links {
		u, err := url.Parse(link)
		if err != nil {
			continue
		}
		u = b.ResolveReference(u)
		if !strings.EqualFold(u.Hostname(), b.Hostname()) {
			continue
		}
		p := strings.ToLower(u.Path)
		if p == "" || p == "/" || seen[p] {
			continue
		}
		seen[p] = true
		for _, hr := range homepageRanks {
			if hr.re.MatchString(p) {
				found = append(found, candidate{path: u.Path, rank: hr.rank})
				break
			}
		}
	}

	if len(found) == 0 {
		return "/"
	}
	sort.SliceStable(found, func(i, j int) bool {
		if found[i].rank != found[j].rank {
			return found[i].rank < found[j].rank
		}
		if len(found[i].path) != len(found[j].path) {
			return len(found[i].path) < len(found[j].path)
		}
		return found[i].path < found[j].path
	})
	return found[0].path
}
