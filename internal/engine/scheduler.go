package engine

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/IshaanNene/templatescout/internal/browserpool"
	"github.com/IshaanNene/templatescout/internal/config"
	"github.com/IshaanNene/templatescout/internal/events"
	"github.com/IshaanNene/templatescout/internal/types"
)

// run drives the active session batch by batch until every batch is
// finished, the session is stopped, a fatal pool error occurs or ctx is
// cancelled.
func (e *Engine) run(ctx context.Context) {
	stopStats := e.startPoolStats(ctx)
	defer stopStats()
	defer e.finish(ctx)

	for {
		if err := e.boundary(ctx); err != nil {
			return
		}
		b, cfg := e.nextBatch(ctx)
		if b == nil {
			return
		}
		e.runBatch(ctx, b, cfg)

		e.mu.Lock()
		fatal := e.fatal
		e.mu.Unlock()
		if fatal != nil || ctx.Err() != nil {
			return
		}
	}
}

// boundary runs between batches: it applies pending configuration and
// holds the next batch while the session is paused.
func (e *Engine) boundary(ctx context.Context) error {
	e.applyPendingAtBoundary(ctx)

	e.mu.Lock()
	g := e.gate
	paused := !g.IsOpen()
	id := e.session.ID
	e.mu.Unlock()

	if paused {
		e.logger.Info("holding next batch while paused", "session_id", id)
	}
	return g.Wait(ctx)
}

// nextBatch marks and returns the next batch that still has work. It
// returns nil when the session is out of batches.
func (e *Engine) nextBatch(ctx context.Context) (*types.Batch, config.PerformanceConfig) {
	e.mu.Lock()
	var b *types.Batch
	for e.batchIdx < len(e.batches) {
		candidate := e.batches[e.batchIdx]
		e.batchIdx++
		if e.batchFinishedLocked(candidate) {
			continue
		}
		b = candidate
		break
	}
	if b == nil {
		e.mu.Unlock()
		return nil, config.PerformanceConfig{}
	}
	now := time.Now().UTC()
	b.Status = types.BatchRunning
	if b.StartedAt == nil {
		b.StartedAt = &now
	}
	e.session.CurrentBatch = b.Number
	cfg := e.cfg
	id := e.session.ID
	total := e.session.TotalBatches
	e.mu.Unlock()

	e.persistBatch(ctx, b)
	e.persistSession(ctx)
	e.logger.Info("batch started", "session_id", id, "batch", b.Number, "of", total, "size", b.Size)
	e.publish(events.Event{Type: events.BatchStarted, SessionID: id, BatchNumber: b.Number, Data: map[string]any{
		"size":          b.Size,
		"total_batches": total,
	}})
	return b, cfg
}

func (e *Engine) batchFinishedLocked(b *types.Batch) bool {
	for _, item := range b.Items {
		if !e.items[item.ID].status.IsDone() {
			return false
		}
	}
	return true
}

// runBatch fans the batch's items out to at most cfg.Concurrency workers
// and closes the batch once every item is terminal.
func (e *Engine) runBatch(ctx context.Context, b *types.Batch, cfg config.PerformanceConfig) {
	var g errgroup.Group
	g.SetLimit(cfg.Concurrency)

	for _, item := range b.Items {
		e.mu.Lock()
		done := e.items[item.ID].status.IsDone()
		e.mu.Unlock()
		if done {
			continue
		}
		g.Go(func() error {
			return e.runItem(ctx, b, item, cfg)
		})
	}

	if err := g.Wait(); err != nil {
		e.logger.Error("browser pool failed, ending session", "batch", b.Number, "error", err)
	}

	e.closeBatch(ctx, b)
}

// closeBatch marks b completed or cancelled when none of its items is
// still pending or running.
func (e *Engine) closeBatch(ctx context.Context, b *types.Batch) {
	e.mu.Lock()
	cancelled := false
	for _, item := range b.Items {
		st := e.items[item.ID]
		if !st.status.IsTerminal() {
			e.mu.Unlock()
			e.persistSession(ctx)
			return
		}
		if st.status == types.ItemCancelled {
			cancelled = true
		}
	}
	now := time.Now().UTC()
	b.Status = types.BatchCompleted
	if cancelled {
		b.Status = types.BatchCancelled
	}
	b.CompletedAt = &now
	id := e.session.ID
	counts := b.Counts
	e.mu.Unlock()

	e.persistBatch(ctx, b)
	e.persistSession(ctx)
	e.logger.Info("batch finished",
		"session_id", id,
		"batch", b.Number,
		"status", b.Status,
		"succeeded", counts.Succeeded,
		"failed", counts.Failed,
		"skipped", counts.Skipped,
		"cancelled", counts.Cancelled,
	)
	e.publish(events.Event{Type: events.BatchCompleted, SessionID: id, BatchNumber: b.Number, Status: string(b.Status), Data: map[string]any{
		"processed": counts.Processed,
		"succeeded": counts.Succeeded,
		"failed":    counts.Failed,
		"skipped":   counts.Skipped,
		"cancelled": counts.Cancelled,
	}})
}

// admit decides whether a queued item may go on waiting for its turn.
// When exit is true the item must not run: a non-empty status is recorded
// as its outcome, an empty one leaves it pending for a later resume. An
// admitted item keeps abort so Stop and RequestSkip can wake it.
func (e *Engine) admit(itemID string, abort context.CancelFunc) (status types.ItemStatus, exit bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.items[itemID]
	switch {
	case st.status.IsTerminal(), e.fatal != nil:
		return "", true
	case st.skip:
		return types.ItemSkipped, true
	case e.stopping:
		return types.ItemCancelled, true
	}
	st.cancel = abort
	return types.ItemPending, false
}

// claim marks an item running once it holds a lease. It reports false,
// with the outcome to record, when the item must give the lease back:
// the session was stopped, the item was skipped, or the session paused
// while the item waited for a page.
func (e *Engine) claim(itemID string) (status types.ItemStatus, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.items[itemID]
	st.cancel = nil
	switch {
	case e.fatal != nil:
		return "", false
	case st.skip:
		return types.ItemSkipped, false
	case e.stopping:
		return types.ItemCancelled, false
	case !e.gate.IsOpen():
		return types.ItemPending, false
	}
	st.status = types.ItemRunning
	st.phase = types.PhaseQueued
	st.started = time.Now()
	return types.ItemRunning, true
}

// acquire waits for the pause gate and a free page, in that order, and
// returns the lease once the item is marked running. A nil lease with a
// nil result means the item stays pending. A returned error is fatal to
// the session.
func (e *Engine) acquire(ctx context.Context, itemID string) (*browserpool.Lease, *result, error) {
	for {
		waitCtx, abort := context.WithCancel(ctx)
		if status, exit := e.admit(itemID, abort); exit {
			abort()
			if status == "" {
				return nil, nil, nil
			}
			return nil, &result{status: status}, nil
		}

		e.mu.Lock()
		g := e.gate
		e.mu.Unlock()
		if err := g.Wait(waitCtx); err != nil {
			abort()
			if ctx.Err() != nil {
				return nil, nil, nil
			}
			continue
		}

		lease, err := e.pool.Acquire(waitCtx)
		aborted := waitCtx.Err() != nil
		abort()
		if err != nil {
			switch {
			case errors.Is(err, types.ErrWorkerLaunchFailed):
				e.mu.Lock()
				e.items[itemID].cancel = nil
				if e.fatal == nil {
					e.fatal = err
				}
				e.mu.Unlock()
				return nil, nil, err
			case ctx.Err() != nil, errors.Is(err, types.ErrPoolClosed):
				return nil, &result{status: types.ItemCancelled, err: err}, nil
			case aborted:
				continue
			}
			e.mu.Lock()
			e.items[itemID].cancel = nil
			e.mu.Unlock()
			return nil, &result{status: types.ItemFailed, err: err}, nil
		}

		status, ok := e.claim(itemID)
		if ok {
			return lease, nil, nil
		}
		lease.Release()
		switch status {
		case types.ItemPending:
			continue
		case "":
			return nil, nil, nil
		}
		return nil, &result{status: status}, nil
	}
}

func (e *Engine) runItem(ctx context.Context, b *types.Batch, item types.WorkItem, cfg config.PerformanceConfig) error {
	lease, early, err := e.acquire(ctx, item.ID)
	if err != nil {
		return err
	}
	if lease == nil {
		if early != nil {
			e.record(ctx, b, item, *early)
		}
		return nil
	}

	sessionID := b.SessionID
	e.publish(events.Event{Type: events.ItemStarted, SessionID: sessionID, BatchNumber: b.Number, ItemID: item.ID, Data: map[string]any{
		"url":  item.URL,
		"slug": item.Slug,
	}})
	e.saveItem(ctx, itemRow(b, item, types.ItemRunning, types.PhaseQueued))

	itemCtx, cancel := context.WithTimeout(ctx, cfg.ItemTimeout)
	e.setCancel(item.ID, cancel)
	start := time.Now()

	out, perr := e.processor.Process(itemCtx, lease.Page, item, cfg, func(p types.Phase) {
		e.setPhase(b, item.ID, p)
	})
	timedOut := errors.Is(itemCtx.Err(), context.DeadlineExceeded)
	cancel()
	lease.Release()

	r := result{out: out, err: perr, elapsed: time.Since(start)}
	switch {
	case e.skipRequested(item.ID):
		r.status, r.err = types.ItemSkipped, nil
	case perr == nil:
		r.status = types.ItemSucceeded
	case ctx.Err() != nil:
		r.status = types.ItemCancelled
	case timedOut || errors.Is(perr, types.ErrItemTimeout):
		r.status = types.ItemFailed
		r.timeout = true
		r.err = &types.TimeoutError{ItemID: item.ID, Phase: e.phaseOf(item.ID), After: cfg.ItemTimeout}
	case errors.Is(perr, types.ErrNavigationTimeout):
		r.status = types.ItemFailed
		r.timeout = true
	default:
		r.status = types.ItemFailed
	}
	e.record(ctx, b, item, r)
	return nil
}

type result struct {
	status  types.ItemStatus
	err     error
	out     *Outcome
	elapsed time.Duration
	timeout bool
}

// record applies an item's terminal outcome to the counters, persists it
// and trips the timeout auto-pause when the threshold is reached.
func (e *Engine) record(ctx context.Context, b *types.Batch, item types.WorkItem, r result) {
	e.mu.Lock()
	st := e.items[item.ID]
	st.status = r.status
	st.cancel = nil
	phase := st.phase
	if r.status == types.ItemSucceeded {
		phase = types.PhaseDone
	}
	st.phase = phase

	b.Counts.Record(r.status)
	e.session.Counts.Record(r.status)

	autoPaused := false
	switch {
	case r.status == types.ItemSucceeded:
		e.timeouts = 0
	case r.timeout:
		e.timeouts++
		if e.timeouts >= e.cfg.TimeoutPauseThreshold && e.session.Status == types.SessionRunning && !e.stopping {
			e.session.Status = types.SessionTimeoutPaused
			e.gate.Close()
			autoPaused = true
		}
	}
	timeouts := e.timeouts
	sessionID := e.session.ID
	e.mu.Unlock()

	row := itemRow(b, item, r.status, phase)
	row.DurationMS = r.elapsed.Milliseconds()
	if r.out != nil {
		if r.out.Name != "" {
			row.Name = r.out.Name
		}
		row.PreviewURL = optional(r.out.PreviewURL)
		row.ThumbnailURL = optional(r.out.ThumbnailURL)
	}
	if r.err != nil {
		row.ErrorMessage = optional(types.ErrorMessage(r.err))
	}
	e.saveItem(ctx, row)

	e.recorder.ItemFinished(r.status, r.elapsed)
	if r.timeout {
		e.recorder.ItemTimedOut()
	}

	log := e.logger.With("session_id", sessionID, "item_id", item.ID, "slug", item.Slug)
	switch r.status {
	case types.ItemSucceeded:
		log.Info("item succeeded", "duration", r.elapsed.Round(time.Millisecond))
	case types.ItemFailed:
		log.Warn("item failed", "phase", phase, "error", r.err, "consecutive_timeouts", timeouts)
	default:
		log.Info("item "+string(r.status), "phase", phase)
	}

	ev := events.Event{
		Type:        events.ItemCompleted,
		SessionID:   sessionID,
		BatchNumber: b.Number,
		ItemID:      item.ID,
		Phase:       phase,
		Status:      string(r.status),
		Data:        map[string]any{"duration_ms": row.DurationMS},
	}
	if r.err != nil {
		ev.Message = types.ErrorMessage(r.err)
	}
	e.publish(ev)

	if autoPaused {
		e.recorder.SessionAutoPaused()
		e.persistSession(ctx)
		e.logger.Warn("session paused after consecutive timeouts",
			"session_id", sessionID,
			"consecutive_timeouts", timeouts,
		)
		e.publish(events.Event{
			Type:      events.SessionTimeoutPaused,
			SessionID: sessionID,
			Status:    string(types.SessionTimeoutPaused),
			Message:   "too many consecutive timeouts",
			Data:      map[string]any{"consecutive_timeouts": timeouts},
		})
	}
}

func (e *Engine) saveItem(ctx context.Context, row types.ItemResult) {
	wctx, cancel := writeContext(ctx)
	defer cancel()
	if err := e.store.SaveItem(wctx, &row); err != nil {
		e.persistFailed("save_item", err)
	}
}

func (e *Engine) setCancel(itemID string, cancel context.CancelFunc) {
	e.mu.Lock()
	st := e.items[itemID]
	st.cancel = cancel
	skip := st.skip
	e.mu.Unlock()
	if skip {
		cancel()
	}
}

func (e *Engine) skipRequested(itemID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.items[itemID].skip
}

func (e *Engine) phaseOf(itemID string) types.Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.items[itemID].phase
}

func (e *Engine) setPhase(b *types.Batch, itemID string, p types.Phase) {
	e.mu.Lock()
	e.items[itemID].phase = p
	e.mu.Unlock()
	e.publish(events.Event{Type: events.ItemPhase, SessionID: b.SessionID, BatchNumber: b.Number, ItemID: itemID, Phase: p})
}

// finish settles the session's final status once run returns.
func (e *Engine) finish(ctx context.Context) {
	e.mu.Lock()
	now := time.Now().UTC()
	s := e.session
	var evt events.Type
	switch {
	case e.fatal != nil:
		s.Status = types.SessionInterrupted
		s.ErrorMessage = optional(types.ErrorMessage(e.fatal))
		evt = events.SessionFailed
	case e.stopping:
		s.Status = types.SessionCancelled
		s.CompletedAt = &now
		evt = events.SessionCancelled
	case ctx.Err() != nil:
		s.Status = types.SessionInterrupted
		evt = events.SessionInterrupted
	default:
		s.Status = types.SessionCompleting
		evt = events.SessionCompleted
	}
	e.mu.Unlock()

	if evt == events.SessionCompleted {
		e.persistSession(ctx)
		e.mu.Lock()
		s.Status = types.SessionCompleted
		s.CompletedAt = &now
		e.mu.Unlock()
	}
	e.persistSession(ctx)

	e.mu.Lock()
	final := *s
	for _, st := range e.items {
		st.cancel = nil
	}
	e.active = false
	e.cancel = nil
	e.mu.Unlock()

	e.logger.Info("session finished",
		"session_id", final.ID,
		"status", final.Status,
		"processed", final.Processed,
		"succeeded", final.Succeeded,
		"failed", final.Failed,
		"skipped", final.Skipped,
		"cancelled", final.Cancelled,
	)
	ev := events.Event{Type: evt, SessionID: final.ID, Status: string(final.Status), Data: map[string]any{
		"processed": final.Processed,
		"succeeded": final.Succeeded,
		"failed":    final.Failed,
		"skipped":   final.Skipped,
		"cancelled": final.Cancelled,
	}}
	if final.ErrorMessage != nil {
		ev.Message = *final.ErrorMessage
	}
	e.publish(ev)
}

func (e *Engine) startPoolStats(ctx context.Context) func() {
	if e.statsEvery <= 0 {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(e.statsEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.publishPoolStats()
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func (e *Engine) publishPoolStats() {
	stats := e.pool.Stats()
	e.recorder.PoolStats(stats)

	e.mu.Lock()
	id := ""
	if e.session != nil {
		id = e.session.ID
	}
	e.mu.Unlock()

	e.publish(events.Event{Type: events.PoolStats, SessionID: id, Data: map[string]any{
		"browsers":       stats.Browsers,
		"in_use":         stats.InUse,
		"capacity":       stats.Capacity,
		"waiting":        stats.Waiting,
		"pending_resize": stats.PendingResize,
	}})
}

func itemRow(b *types.Batch, item types.WorkItem, status types.ItemStatus, phase types.Phase) types.ItemResult {
	return types.ItemResult{
		ItemID:      item.ID,
		SessionID:   b.SessionID,
		BatchNumber: b.Number,
		Position:    item.Position,
		URL:         item.URL,
		Slug:        item.Slug,
		Name:        item.Name,
		Status:      status,
		Phase:       phase,
		UpdatedAt:   time.Now().UTC(),
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
