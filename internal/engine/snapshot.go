package engine

import (
	"sort"
	"time"

	"github.com/IshaanNene/templatescout/internal/browserpool"
	"github.com/IshaanNene/templatescout/internal/config"
	"github.com/IshaanNene/templatescout/internal/types"
)

// LiveItem is an in-flight item as seen by the admin UI.
type LiveItem struct {
	ItemID        string      `json:"item_id"`
	URL           string      `json:"url"`
	Slug          string      `json:"slug"`
	BatchNumber   int         `json:"batch_number"`
	Phase         types.Phase `json:"phase"`
	StartedAt     time.Time   `json:"started_at"`
	ElapsedMS     int64       `json:"elapsed_ms"`
	SkipRequested bool        `json:"skip_requested"`
}

// Snapshot is a point-in-time view of the engine.
type Snapshot struct {
	Status              types.SessionStatus       `json:"status"`
	Stopping            bool                      `json:"stopping"`
	Session             *types.Session            `json:"session,omitempty"`
	CurrentBatch        int                       `json:"current_batch"`
	TotalBatches        int                       `json:"total_batches"`
	Items               []LiveItem                `json:"items"`
	Pool                browserpool.Stats         `json:"pool"`
	Config              config.PerformanceConfig  `json:"config"`
	PendingConfig       *config.PerformanceConfig `json:"pending_config,omitempty"`
	ConsecutiveTimeouts int                       `json:"consecutive_timeouts"`
	TimeoutThreshold    int                       `json:"timeout_threshold"`
	Error               string                    `json:"error,omitempty"`
}

// Snapshot returns the engine's current state. Live item data is
// in-memory only and never persisted.
func (e *Engine) Snapshot() Snapshot {
	pool := e.pool.Stats()
	now := time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	snap := Snapshot{
		Status:              StatusIdle,
		Stopping:            e.stopping && e.active,
		Items:               []LiveItem{},
		Pool:                pool,
		Config:              e.cfg,
		ConsecutiveTimeouts: e.timeouts,
		TimeoutThreshold:    e.cfg.TimeoutPauseThreshold,
	}
	if e.pending != nil {
		p := *e.pending
		snap.PendingConfig = &p
	}
	if e.fatal != nil {
		snap.Error = e.fatal.Error()
	}
	if e.session == nil {
		return snap
	}

	s := *e.session
	snap.Session = &s
	snap.Status = s.Status
	snap.CurrentBatch = s.CurrentBatch
	snap.TotalBatches = s.TotalBatches

	for _, st := range e.items {
		if st.status != types.ItemRunning {
			continue
		}
		snap.Items = append(snap.Items, LiveItem{
			ItemID:        st.item.ID,
			URL:           st.item.URL,
			Slug:          st.item.Slug,
			BatchNumber:   st.batch,
			Phase:         st.phase,
			StartedAt:     st.started,
			ElapsedMS:     now.Sub(st.started).Milliseconds(),
			SkipRequested: st.skip,
		})
	}
	sort.Slice(snap.Items, func(i, j int) bool { return snap.Items[i].StartedAt.Before(snap.Items[j].StartedAt) })
	return snap
}
