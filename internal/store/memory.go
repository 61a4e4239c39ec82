package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/IshaanNene/templatescout/internal/types"
)

// Memory is an in-process Store used for dry runs and tests. Rows are
// copied in and out so callers never share memory with the store.
type Memory struct {
	mu        sync.RWMutex
	sessions  map[string]types.Session
	batches   map[string]map[int]types.Batch
	items     map[string]types.ItemResult
	templates map[string]types.Template

	failWrites error
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		sessions:  make(map[string]types.Session),
		batches:   make(map[string]map[int]types.Batch),
		items:     make(map[string]types.ItemResult),
		templates: make(map[string]types.Template),
	}
}

func (m *Memory) CreateSession(_ context.Context, s *types.Session, batches []*types.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites != nil {
		return writeErr("create_session", m.failWrites)
	}

	m.sessions[s.ID] = *s
	bm := make(map[int]types.Batch, len(batches))
	for _, b := range batches {
		row := *b
		row.Items = nil
		bm[b.Number] = row
		for _, item := range b.Items {
			m.items[item.ID] = types.ItemResult{
				ItemID:      item.ID,
				SessionID:   s.ID,
				BatchNumber: b.Number,
				Position:    item.Position,
				URL:         item.URL,
				Slug:        item.Slug,
				Name:        item.Name,
				Status:      types.ItemPending,
				Phase:       types.PhaseQueued,
				UpdatedAt:   s.CreatedAt,
			}
		}
	}
	m.batches[s.ID] = bm
	return nil
}

func (m *Memory) UpdateSession(_ context.Context, s *types.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites != nil {
		return writeErr("update_session", m.failWrites)
	}
	m.sessions[s.ID] = *s
	return nil
}

func (m *Memory) GetSession(_ context.Context, id string) (*types.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrSessionNotFound, id)
	}
	return &s, nil
}

func (m *Memory) ListSessions(_ context.Context, limit int) ([]types.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) LatestResumable(_ context.Context) (*types.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var best *types.Session
	for _, s := range m.sessions {
		if !slices.Contains(resumableStatuses, s.Status) {
			continue
		}
		if best == nil || s.UpdatedAt.After(best.UpdatedAt) {
			c := s
			best = &c
		}
	}
	if best == nil {
		return nil, types.ErrSessionNotFound
	}
	return best, nil
}

func (m *Memory) MarkInterrupted(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites != nil {
		return 0, writeErr("mark_interrupted", m.failWrites)
	}
	n := 0
	now := time.Now().UTC()
	for id, s := range m.sessions {
		if s.Status.IsLive() {
			s.Status = types.SessionInterrupted
			s.UpdatedAt = now
			m.sessions[id] = s
			n++
		}
	}
	return n, nil
}

func (m *Memory) SaveBatch(_ context.Context, b *types.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites != nil {
		return writeErr("save_batch", m.failWrites)
	}
	bm, ok := m.batches[b.SessionID]
	if !ok {
		bm = make(map[int]types.Batch)
		m.batches[b.SessionID] = bm
	}
	row := *b
	row.Items = nil
	bm[b.Number] = row
	return nil
}

func (m *Memory) ReplaceBatches(_ context.Context, sessionID string, from int, batches []*types.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites != nil {
		return writeErr("replace_batches", m.failWrites)
	}
	bm := m.batches[sessionID]
	if bm == nil {
		bm = make(map[int]types.Batch)
		m.batches[sessionID] = bm
	}
	for n := range bm {
		if n >= from {
			delete(bm, n)
		}
	}
	for _, b := range batches {
		row := *b
		row.Items = nil
		bm[b.Number] = row
		for _, item := range b.Items {
			if r, ok := m.items[item.ID]; ok {
				r.BatchNumber = b.Number
				m.items[item.ID] = r
			}
		}
	}
	return nil
}

func (m *Memory) Batches(_ context.Context, sessionID string) ([]types.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Batch, 0, len(m.batches[sessionID]))
	for _, b := range m.batches[sessionID] {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (m *Memory) SaveItem(_ context.Context, r *types.ItemResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites != nil {
		return writeErr("save_item", m.failWrites)
	}
	m.items[r.ItemID] = *r
	return nil
}

func (m *Memory) Item(_ context.Context, itemID string) (*types.ItemResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.items[itemID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrItemNotFound, itemID)
	}
	return &r, nil
}

func (m *Memory) Items(_ context.Context, sessionID string) ([]types.ItemResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []types.ItemResult
	for _, r := range m.items {
		if r.SessionID == sessionID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (m *Memory) UpsertTemplate(_ context.Context, t *types.Template) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites != nil {
		return writeErr("upsert_template", m.failWrites)
	}
	m.templates[t.Slug] = *t
	return nil
}

func (m *Memory) KnownURLs(_ context.Context) (map[string]bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	known := make(map[string]bool, len(m.templates))
	for _, t := range m.templates {
		known[t.SourceURL] = true
	}
	return known, nil
}

// Template returns a stored template by slug.
func (m *Memory) Template(slug string) (types.Template, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.templates[slug]
	return t, ok
}

// SetFailWrites makes every later write fail with err wrapped in a
// PersistenceError. A nil err restores normal behaviour.
func (m *Memory) SetFailWrites(err error) {
	m.mu.Lock()
	m.failWrites = err
	m.mu.Unlock()
}

func (m *Memory) Close() error { return nil }
