// Package engine orchestrates scraping sessions: it partitions work into
// batches, drives items through the browser pool, persists progress and
// reacts to pause, skip, stop and reconfiguration requests.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/IshaanNene/templatescout/internal/browserpool"
	"github.com/IshaanNene/templatescout/internal/config"
	"github.com/IshaanNene/templatescout/internal/events"
	"github.com/IshaanNene/templatescout/internal/store"
	"github.com/IshaanNene/templatescout/internal/types"
)

// StatusIdle is reported by Snapshot when no session has run yet.
const StatusIdle types.SessionStatus = "idle"

const persistTimeout = 10 * time.Second

// Pool is the part of the browser pool the engine uses.
type Pool interface {
	Acquire(ctx context.Context) (*browserpool.Lease, error)
	Resize(instances, pagesPer int)
	Stats() browserpool.Stats
}

// Recorder receives run metrics. All methods must be safe for concurrent use.
type Recorder interface {
	ItemFinished(status types.ItemStatus, d time.Duration)
	ItemTimedOut()
	SessionAutoPaused()
	PoolStats(s browserpool.Stats)
}

type nopRecorder struct{}

func (nopRecorder) ItemFinished(types.ItemStatus, time.Duration) {}
func (nopRecorder) ItemTimedOut()                                {}
func (nopRecorder) SessionAutoPaused()                           {}
func (nopRecorder) PoolStats(browserpool.Stats)                  {}

// itemState is the in-memory view of one work item. Only status changes
// that reach a terminal outcome are persisted.
type itemState struct {
	item    types.WorkItem
	batch   int
	status  types.ItemStatus
	phase   types.Phase
	started time.Time
	skip    bool
	cancel  context.CancelFunc
}

// Engine runs at most one session at a time.
type Engine struct {
	pool       Pool
	processor  Processor
	store      store.StateStore
	bus        *events.Bus
	recorder   Recorder
	logger     *slog.Logger
	newID      func() string
	statsEvery time.Duration

	// writeMu orders session and batch row writes.
	writeMu sync.Mutex

	mu       sync.Mutex
	active   bool
	session  *types.Session
	batches  []*types.Batch
	batchIdx int
	items    map[string]*itemState
	cfg      config.PerformanceConfig
	pending  *config.PerformanceConfig
	timeouts int
	stopping bool
	fatal    error
	gate     *gate
	cancel   context.CancelFunc
	done     chan struct{}
}

// Option configures an Engine.
type Option func(*Engine)

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) {
		if r != nil {
			e.recorder = r
		}
	}
}

// WithIDGenerator overrides session ID generation.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) { e.newID = fn }
}

// WithStatsInterval sets how often pool stats events are published.
func WithStatsInterval(d time.Duration) Option {
	return func(e *Engine) { e.statsEvery = d }
}

// New creates an idle Engine. bus may be nil.
func New(pool Pool, processor Processor, st store.StateStore, bus *events.Bus, perf config.PerformanceConfig, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		pool:       pool,
		processor:  processor,
		store:      st,
		bus:        bus,
		recorder:   nopRecorder{},
		logger:     logger.With("component", "engine"),
		newID:      uuid.NewString,
		statsEvery: 2 * time.Second,
		cfg:        perf.Clamp(),
		gate:       newGate(),
		items:      make(map[string]*itemState),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start creates a session over items and begins processing it in the
// background. It fails with types.ErrSessionActive while another session
// is live.
func (e *Engine) Start(ctx context.Context, typ types.SessionType, items []types.WorkItem) (*types.Session, error) {
	if !typ.Valid() {
		return nil, fmt.Errorf("start session: unknown type %q", typ)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("start session: no work items")
	}

	e.mu.Lock()
	if e.active {
		e.mu.Unlock()
		return nil, types.ErrSessionActive
	}
	resize := e.applyPendingLocked()
	cfg := e.cfg

	id := e.newID()
	work := slices.Clone(items)
	types.AssignIDs(id, work)
	batches := types.Partition(id, work, cfg.BatchSize)

	now := time.Now().UTC()
	s := &types.Session{
		ID:           id,
		Type:         typ,
		Status:       types.SessionStarting,
		TotalItems:   len(work),
		TotalBatches: len(batches),
		BatchSize:    cfg.BatchSize,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	e.beginLocked(s, batches, nil)
	created := *s
	e.mu.Unlock()

	if resize {
		e.pool.Resize(cfg.BrowserInstances, cfg.PagesPerBrowser)
	}

	wctx, cancel := writeContext(ctx)
	err := e.store.CreateSession(wctx, &created, batches)
	cancel()
	if err != nil {
		e.persistFailed("create_session", err)
	}

	e.mu.Lock()
	e.session.Status = types.SessionRunning
	e.session.StartedAt = &now
	started := *e.session
	e.mu.Unlock()
	e.persistSession(ctx)

	e.logger.Info("session started",
		"session_id", id,
		"type", typ,
		"items", len(work),
		"batches", len(batches),
		"batch_size", cfg.BatchSize,
		"concurrency", cfg.Concurrency,
	)
	e.publish(events.Event{Type: events.SessionStarted, SessionID: id, Status: string(started.Status), Data: map[string]any{
		"total_items":   started.TotalItems,
		"total_batches": started.TotalBatches,
	}})

	e.launch(ctx)
	return &started, nil
}

// beginLocked installs a session as the active one. done holds the
// outcomes of items finished in an earlier run.
func (e *Engine) beginLocked(s *types.Session, batches []*types.Batch, done map[string]types.ItemStatus) {
	e.active = true
	e.session = s
	e.batches = batches
	e.batchIdx = 0
	e.items = make(map[string]*itemState, s.TotalItems)
	for _, b := range batches {
		for _, item := range b.Items {
			st := &itemState{item: item, batch: b.Number, status: types.ItemPending, phase: types.PhaseQueued}
			if status, ok := done[item.ID]; ok {
				st.status = status
				st.phase = types.PhaseDone
			}
			e.items[item.ID] = st
		}
	}
	e.timeouts = 0
	e.stopping = false
	e.fatal = nil
	e.gate = newGate()
	e.done = make(chan struct{})
}

func (e *Engine) launch(ctx context.Context) {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.mu.Lock()
	e.cancel = cancel
	done := e.done
	e.mu.Unlock()
	go func() {
		defer close(done)
		defer cancel()
		e.run(runCtx)
	}()
}

// Pause stops new items from starting. In-flight items finish.
func (e *Engine) Pause(ctx context.Context) error {
	e.mu.Lock()
	if !e.active {
		e.mu.Unlock()
		return types.ErrNoSession
	}
	if e.stopping || e.session.Status != types.SessionRunning {
		status := e.session.Status
		e.mu.Unlock()
		return fmt.Errorf("%w: cannot pause a %s session", types.ErrInvalidTransition, status)
	}
	e.session.Status = types.SessionPaused
	e.gate.Close()
	id := e.session.ID
	e.mu.Unlock()

	e.persistSession(ctx)
	e.logger.Info("session paused", "session_id", id)
	e.publish(events.Event{Type: events.SessionPaused, SessionID: id, Status: string(types.SessionPaused)})
	return nil
}

// Resume continues a manually paused session.
func (e *Engine) Resume(ctx context.Context) error {
	return e.reopen(ctx, types.SessionPaused, events.SessionResumed)
}

// ResumeFromTimeoutPause continues a session that paused itself after
// repeated timeouts and resets the timeout counter.
func (e *Engine) ResumeFromTimeoutPause(ctx context.Context) error {
	return e.reopen(ctx, types.SessionTimeoutPaused, events.SessionResumed)
}

func (e *Engine) reopen(ctx context.Context, from types.SessionStatus, evt events.Type) error {
	e.mu.Lock()
	if !e.active {
		e.mu.Unlock()
		return types.ErrNoSession
	}
	if e.session.Status != from {
		status := e.session.Status
		e.mu.Unlock()
		return fmt.Errorf("%w: session is %s, not %s", types.ErrInvalidTransition, status, from)
	}
	e.session.Status = types.SessionRunning
	if from == types.SessionTimeoutPaused {
		e.timeouts = 0
	}
	e.gate.Open()
	id := e.session.ID
	e.mu.Unlock()

	e.persistSession(ctx)
	e.logger.Info("session resumed", "session_id", id, "from", from)
	e.publish(events.Event{Type: evt, SessionID: id, Status: string(types.SessionRunning), Message: string(from)})
	return nil
}

// RequestSkip marks an item to be skipped. A queued item is recorded as
// skipped without starting, even while the session is paused; a running
// item has its context cancelled and is recorded as skipped whatever the
// processor returns.
func (e *Engine) RequestSkip(itemID string) error {
	e.mu.Lock()
	if !e.active {
		e.mu.Unlock()
		return types.ErrNoSession
	}
	st, ok := e.items[itemID]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", types.ErrItemNotFound, itemID)
	}
	if st.status.IsTerminal() {
		status := st.status
		e.mu.Unlock()
		return fmt.Errorf("%w: item %s already %s", types.ErrInvalidTransition, itemID, status)
	}
	st.skip = true
	if st.cancel != nil {
		st.cancel()
	}
	id := e.session.ID
	running := st.status == types.ItemRunning
	// An item of the current batch still waiting for a worker is settled
	// now rather than when a worker picks it up.
	var b *types.Batch
	if !running && st.cancel == nil && st.batch == e.session.CurrentBatch {
		b = e.batchLocked(st.batch)
		if b != nil && b.Status == types.BatchRunning {
			st.status = types.ItemSkipped
		} else {
			b = nil
		}
	}
	item := st.item
	e.mu.Unlock()

	e.logger.Info("skip requested", "session_id", id, "item_id", itemID, "running", running)
	e.publish(events.Event{Type: events.ItemSkipRequested, SessionID: id, ItemID: itemID})
	if b != nil {
		e.record(context.Background(), b, item, result{status: types.ItemSkipped})
	}
	return nil
}

func (e *Engine) batchLocked(number int) *types.Batch {
	for _, b := range e.batches {
		if b.Number == number {
			return b
		}
	}
	return nil
}

// Stop cancels every item that has not started. In-flight items run to
// completion or their deadline; the session then ends as cancelled.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.active {
		e.mu.Unlock()
		return types.ErrNoSession
	}
	if e.stopping {
		e.mu.Unlock()
		return nil
	}
	e.stopping = true
	for _, st := range e.items {
		if st.status == types.ItemPending && st.cancel != nil {
			st.cancel()
		}
	}
	e.gate.Open()
	id := e.session.ID
	e.mu.Unlock()

	e.logger.Info("session stopping", "session_id", id)
	return nil
}

// Wait blocks until the current session finishes or ctx is done.
func (e *Engine) Wait(ctx context.Context) error {
	e.mu.Lock()
	done := e.done
	e.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close aborts the current session, cancelling in-flight items, and waits
// for it to wind down. The session is left interrupted and resumable.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return e.Wait(ctx)
}

// Active reports whether a session is live.
func (e *Engine) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// Session returns a copy of the current or most recent session.
func (e *Engine) Session() (types.Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return types.Session{}, false
	}
	return *e.session, true
}

// Err returns the fatal error that ended the last session, if any.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fatal
}

func (e *Engine) publish(ev events.Event) {
	if e.bus != nil {
		e.bus.Publish(ev)
	}
}

func writeContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(parent), persistTimeout)
}

// persistSession writes the latest session row. Writes are serialized so
// an older snapshot never overwrites a newer one.
func (e *Engine) persistSession(ctx context.Context) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	e.mu.Lock()
	if e.session == nil {
		e.mu.Unlock()
		return
	}
	e.session.UpdatedAt = time.Now().UTC()
	s := *e.session
	e.mu.Unlock()

	wctx, cancel := writeContext(ctx)
	defer cancel()
	if err := e.store.UpdateSession(wctx, &s); err != nil {
		e.persistFailed("update_session", err)
	}
}

func (e *Engine) persistBatch(ctx context.Context, b *types.Batch) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	e.mu.Lock()
	row := *b
	row.Items = nil
	e.mu.Unlock()

	wctx, cancel := writeContext(ctx)
	defer cancel()
	if err := e.store.SaveBatch(wctx, &row); err != nil {
		e.persistFailed("save_batch", err)
	}
}

// persistFailed reports a lost write. The run carries on.
func (e *Engine) persistFailed(op string, err error) {
	var id string
	e.mu.Lock()
	if e.session != nil {
		id = e.session.ID
	}
	e.mu.Unlock()

	e.logger.Error("state write failed", "session_id", id, "op", op, "error", err)
	e.publish(events.Event{Type: events.PersistenceError, SessionID: id, Message: types.ErrorMessage(err), Data: map[string]any{"op": op}})
}
