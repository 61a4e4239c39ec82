package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/IshaanNene/templatescout/internal/events"
	"github.com/IshaanNene/templatescout/internal/types"
)

// Recover runs at process start. Sessions a previous process left live
// are marked interrupted, and the most recent resumable session, if any,
// is returned.
func (e *Engine) Recover(ctx context.Context) (*types.Session, error) {
	if e.Active() {
		return nil, types.ErrSessionActive
	}
	n, err := e.store.MarkInterrupted(ctx)
	if err != nil {
		return nil, fmt.Errorf("mark interrupted sessions: %w", err)
	}
	if n > 0 {
		e.logger.Warn("sessions left running by a previous process marked interrupted", "count", n)
	}

	s, err := e.store.LatestResumable(ctx)
	if errors.Is(err, types.ErrSessionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find resumable session: %w", err)
	}
	e.logger.Info("resumable session found",
		"session_id", s.ID,
		"status", s.Status,
		"processed", s.Processed,
		"total_items", s.TotalItems,
	)
	return s, nil
}

// ResumeSession continues a persisted session from its first unfinished
// item. Items already succeeded, failed or skipped are never run again;
// cancelled items are queued again.
func (e *Engine) ResumeSession(ctx context.Context, sessionID string) (*types.Session, error) {
	if e.Active() {
		return nil, types.ErrSessionActive
	}

	s, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.Status == types.SessionCompleted {
		return nil, fmt.Errorf("%w: session %s is already completed", types.ErrInvalidTransition, sessionID)
	}
	rows, err := e.store.Items(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load items for %s: %w", sessionID, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: session %s has no persisted items", types.ErrSessionNotFound, sessionID)
	}

	batches, done := rebuildBatches(sessionID, rows)
	var counts types.Counts
	for _, b := range batches {
		counts.Add(b.Counts)
	}

	now := time.Now().UTC()
	s.Counts = counts
	s.Status = types.SessionRunning
	s.TotalItems = len(rows)
	s.TotalBatches = len(batches)
	s.ErrorMessage = nil
	s.CompletedAt = nil
	if s.StartedAt == nil {
		s.StartedAt = &now
	}

	e.mu.Lock()
	if e.active {
		e.mu.Unlock()
		return nil, types.ErrSessionActive
	}
	resize := e.applyPendingLocked()
	cfg := e.cfg
	e.beginLocked(s, batches, done)
	resumed := *s
	e.mu.Unlock()

	if resize {
		e.pool.Resize(cfg.BrowserInstances, cfg.PagesPerBrowser)
	}
	e.persistSession(ctx)

	remaining := resumed.TotalItems - len(done)
	e.logger.Info("session resumed",
		"session_id", sessionID,
		"remaining_items", remaining,
		"finished_items", len(done),
		"batches", len(batches),
	)
	e.publish(events.Event{Type: events.SessionResumed, SessionID: sessionID, Status: string(resumed.Status), Data: map[string]any{
		"remaining_items": remaining,
		"finished_items":  len(done),
	}})

	e.launch(ctx)
	return &resumed, nil
}

// rebuildBatches regroups persisted item rows into their batches. It
// returns the batches in order and the outcomes of items that must not
// run again.
func rebuildBatches(sessionID string, rows []types.ItemResult) ([]*types.Batch, map[string]types.ItemStatus) {
	sorted := make([]types.ItemResult, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Position < sorted[j].Position })

	byNumber := make(map[int]*types.Batch)
	var numbers []int
	done := make(map[string]types.ItemStatus)

	for _, r := range sorted {
		b, ok := byNumber[r.BatchNumber]
		if !ok {
			b = &types.Batch{SessionID: sessionID, Number: r.BatchNumber, Status: types.BatchPending}
			byNumber[r.BatchNumber] = b
			numbers = append(numbers, r.BatchNumber)
		}
		b.Items = append(b.Items, r.WorkItem())
		b.Size++
		if r.Status.IsDone() {
			done[r.ItemID] = r.Status
			b.Counts.Record(r.Status)
		}
	}

	sort.Ints(numbers)
	batches := make([]*types.Batch, 0, len(numbers))
	for _, n := range numbers {
		b := byNumber[n]
		if b.Processed == b.Size {
			b.Status = types.BatchCompleted
		}
		batches = append(batches, b)
	}
	return batches, done
}
