package engine

import (
	"context"
	"fmt"

	"github.com/IshaanNene/templatescout/internal/config"
	"github.com/IshaanNene/templatescout/internal/events"
	"github.com/IshaanNene/templatescout/internal/types"
)

// UpdatePendingConfig merges patch into the pending configuration, which
// becomes current at the next batch boundary. With no live session the
// change applies at once. The merged, clamped result is returned.
func (e *Engine) UpdatePendingConfig(patch config.PerformancePatch) (config.PerformanceConfig, error) {
	if patch.Empty() {
		return config.PerformanceConfig{}, fmt.Errorf("config update: no fields set")
	}

	e.mu.Lock()
	base := e.cfg
	if e.pending != nil {
		base = *e.pending
	}
	next := base.Merge(patch)
	active := e.active
	var resize bool
	if active {
		e.pending = &next
	} else {
		resize = e.cfg.PoolChanged(next)
		e.cfg = next
		e.pending = nil
	}
	var id string
	if e.session != nil {
		id = e.session.ID
	}
	e.mu.Unlock()

	if !active {
		if resize {
			e.pool.Resize(next.BrowserInstances, next.PagesPerBrowser)
		}
		e.logger.Info("configuration applied", "concurrency", next.Concurrency, "batch_size", next.BatchSize)
		e.publish(events.Event{Type: events.ConfigApplied, Data: map[string]any{"config": next}})
		return next, nil
	}

	e.logger.Info("configuration pending until next batch", "session_id", id)
	e.publish(events.Event{Type: events.ConfigPending, SessionID: id, Data: map[string]any{"config": next}})
	return next, nil
}

// CancelPendingConfig discards the pending configuration. It reports
// whether there was one.
func (e *Engine) CancelPendingConfig() bool {
	e.mu.Lock()
	had := e.pending != nil
	e.pending = nil
	var id string
	if e.session != nil {
		id = e.session.ID
	}
	e.mu.Unlock()

	if had {
		e.logger.Info("pending configuration cancelled", "session_id", id)
		e.publish(events.Event{Type: events.ConfigCancelled, SessionID: id})
	}
	return had
}

// Config returns the current configuration and the pending one, if any.
func (e *Engine) Config() (config.PerformanceConfig, *config.PerformanceConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending == nil {
		return e.cfg, nil
	}
	p := *e.pending
	return e.cfg, &p
}

// applyPendingLocked promotes the pending configuration. It reports
// whether the pool must be resized.
func (e *Engine) applyPendingLocked() bool {
	if e.pending == nil {
		return false
	}
	old := e.cfg
	e.cfg = *e.pending
	e.pending = nil
	return old.PoolChanged(e.cfg)
}

// applyPendingAtBoundary promotes pending configuration between batches,
// resizing the pool and re-partitioning the remaining work as needed.
func (e *Engine) applyPendingAtBoundary(ctx context.Context) {
	e.mu.Lock()
	if e.pending == nil {
		e.mu.Unlock()
		return
	}
	oldSize := e.cfg.BatchSize
	resize := e.applyPendingLocked()
	cfg := e.cfg
	var from int
	var moved []*types.Batch
	if cfg.BatchSize != oldSize {
		from, moved = e.repartitionLocked(cfg.BatchSize)
	}
	id := e.session.ID
	e.mu.Unlock()

	if resize {
		e.pool.Resize(cfg.BrowserInstances, cfg.PagesPerBrowser)
	}
	if len(moved) > 0 {
		wctx, cancel := writeContext(ctx)
		err := e.store.ReplaceBatches(wctx, id, from, moved)
		cancel()
		if err != nil {
			e.persistFailed("replace_batches", err)
		}
		e.persistSession(ctx)
	}

	e.logger.Info("configuration applied at batch boundary",
		"session_id", id,
		"concurrency", cfg.Concurrency,
		"batch_size", cfg.BatchSize,
		"browser_instances", cfg.BrowserInstances,
		"pages_per_browser", cfg.PagesPerBrowser,
		"pool_resize", resize,
	)
	e.publish(events.Event{Type: events.ConfigApplied, SessionID: id, Data: map[string]any{"config": cfg}})
}

// repartitionLocked splits the batches that have not started yet into
// batches of size, numbered on from the first of them.
func (e *Engine) repartitionLocked(size int) (int, []*types.Batch) {
	if e.batchIdx >= len(e.batches) {
		return 0, nil
	}
	rest := e.batches[e.batchIdx:]
	from := rest[0].Number

	var work []types.WorkItem
	for _, b := range rest {
		work = append(work, b.Items...)
	}
	fresh := types.Partition(e.session.ID, work, size)
	for _, b := range fresh {
		b.Number += from - 1
		for _, item := range b.Items {
			st := e.items[item.ID]
			st.batch = b.Number
			if st.status.IsDone() {
				b.Counts.Record(st.status)
			}
		}
		if e.batchFinishedLocked(b) {
			b.Status = types.BatchCompleted
		}
	}

	e.batches = append(e.batches[:e.batchIdx:e.batchIdx], fresh...)
	e.session.TotalBatches = len(e.batches)
	e.session.BatchSize = size
	return from, fresh
}
