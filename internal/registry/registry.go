// Package registry tracks the orchestrator engine of each named work
// queue, so at most one session runs per queue.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/IshaanNene/templatescout/internal/engine"
	"github.com/IshaanNene/templatescout/internal/types"
)

// DefaultQueue is used when a caller names no queue.
const DefaultQueue = "default"

// ErrUnknownQueue is returned by Lookup for a queue that has no engine.
var ErrUnknownQueue = errors.New("unknown queue")

// Factory builds the engine for a queue on first use.
type Factory func(queue string) (*engine.Engine, error)

// Registry owns one engine per queue. Each engine runs at most one
// session, which makes the registry the single place that decides
// whether a new session may start.
type Registry struct {
	factory Factory
	logger  *slog.Logger

	mu      sync.RWMutex
	engines map[string]*engine.Engine
}

// New creates an empty registry.
func New(factory Factory, logger *slog.Logger) *Registry {
	return &Registry{
		factory: factory,
		logger:  logger.With("component", "registry"),
		engines: make(map[string]*engine.Engine),
	}
}

// Engine returns the engine for queue, creating it if needed.
func (r *Registry) Engine(queue string) (*engine.Engine, error) {
	queue = normalize(queue)

	r.mu.RLock()
	e, ok := r.engines[queue]
	r.mu.RUnlock()
	if ok {
		return e, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.engines[queue]; ok {
		return e, nil
	}
	e, err := r.factory(queue)
	if err != nil {
		return nil, fmt.Errorf("create engine for queue %q: %w", queue, err)
	}
	r.engines[queue] = e
	r.logger.Info("engine registered", "queue", queue)
	return e, nil
}

// Get returns the engine for queue if one exists.
func (r *Registry) Get(queue string) (*engine.Engine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.engines[normalize(queue)]
	return e, ok
}

// Lookup returns the engine of an existing queue without creating one.
// The default queue is always available.
func (r *Registry) Lookup(queue string) (*engine.Engine, error) {
	if e, ok := r.Get(queue); ok {
		return e, nil
	}
	if normalize(queue) == DefaultQueue {
		return r.Engine(DefaultQueue)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownQueue, queue)
}

// Start begins a session on queue. It fails with types.ErrSessionActive
// while the queue already has a live session.
func (r *Registry) Start(ctx context.Context, queue string, typ types.SessionType, items []types.WorkItem) (*types.Session, error) {
	e, err := r.Engine(queue)
	if err != nil {
		return nil, err
	}
	return e.Start(ctx, typ, items)
}

// Resume continues a persisted session on queue.
func (r *Registry) Resume(ctx context.Context, queue, sessionID string) (*types.Session, error) {
	e, err := r.Engine(queue)
	if err != nil {
		return nil, err
	}
	return e.ResumeSession(ctx, sessionID)
}

// Release drops an idle queue's engine. A queue with a live session
// cannot be released.
func (r *Registry) Release(queue string) error {
	queue = normalize(queue)
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.engines[queue]
	if !ok {
		return nil
	}
	if e.Active() {
		return fmt.Errorf("release queue %q: %w", queue, types.ErrSessionActive)
	}
	delete(r.engines, queue)
	r.logger.Info("engine released", "queue", queue)
	return nil
}

// Queues lists registered queue names in order.
func (r *Registry) Queues() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.engines))
	for name := range r.engines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close interrupts every live session and waits for the engines to wind
// down. Interrupted sessions stay resumable.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.RLock()
	engines := make(map[string]*engine.Engine, len(r.engines))
	for name, e := range r.engines {
		engines[name] = e
	}
	r.mu.RUnlock()

	var errs []error
	for name, e := range engines {
		if !e.Active() {
			continue
		}
		r.logger.Info("interrupting session", "queue", name)
		if err := e.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close queue %q: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func normalize(queue string) string {
	if queue == "" {
		return DefaultQueue
	}
	return queue
}
