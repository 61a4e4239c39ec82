package discovery

import (
	"context"
	"errors"
	"fmt"

	"github.com/IshaanNene/templatescout/internal/catalog"
	"github.com/IshaanNene/templatescout/internal/types"
)

// ErrNoWork is returned when a session would have nothing to process.
var ErrNoWork = errors.New("no work items")

// Planner turns a session request into its work list.
type Planner struct {
	discoverer Discoverer
	known      catalog.URLLister
}

// NewPlanner creates a Planner. discoverer may be nil when only explicit
// URL sessions are used.
func NewPlanner(discoverer Discoverer, known catalog.URLLister) *Planner {
	return &Planner{discoverer: discoverer, known: known}
}

// Plan builds the work items for a session of type typ. Explicit urls
// are used for urls sessions; full and fresh sessions consult the
// marketplace sitemap.
func (p *Planner) Plan(ctx context.Context, typ types.SessionType, urls []string) ([]types.WorkItem, error) {
	var (
		items []types.WorkItem
		err   error
	)
	switch typ {
	case types.SessionURLs:
		items, err = ParseURLs(urls)
	case types.SessionFull, types.SessionFresh:
		if p.discoverer == nil {
			return nil, fmt.Errorf("%s session: no sitemap discovery configured", typ)
		}
		if typ == types.SessionFresh && p.known != nil {
			items, err = Fresh(ctx, p.discoverer, p.known)
		} else {
			items, err = p.discoverer.Discover(ctx)
		}
	default:
		return nil, fmt.Errorf("unknown session type %q", typ)
	}
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%s session: %w", typ, ErrNoWork)
	}
	return items, nil
}
