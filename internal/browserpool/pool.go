// Package browserpool hands out page slots across a fixed set of headless
// browser processes, bounded by a FIFO counting semaphore.
package browserpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"golang.org/x/sync/semaphore"

	"github.com/IshaanNene/templatescout/internal/types"
)

// Browser is one browser process able to host page contexts.
type Browser interface {
	NewPage(ctx context.Context) (*rod.Page, error)
	Alive() bool
	Close() error
}

// Launcher starts browser processes.
type Launcher interface {
	Launch(ctx context.Context) (Browser, error)
}

// Stats is a point-in-time view of pool utilization.
type Stats struct {
	Browsers        int  `json:"browsers"`
	InUse           int  `json:"in_use"`
	Capacity        int  `json:"capacity"`
	Waiting         int  `json:"waiting"`
	Instances       int  `json:"instances"`
	PagesPerBrowser int  `json:"pages_per_browser"`
	PendingResize   bool `json:"pending_resize"`
	Launches        int  `json:"launches"`
	Crashes         int  `json:"crashes"`
}

type slot struct {
	id      int
	browser Browser
	inUse   int
	dead    bool
}

type size struct {
	instances int
	pagesPer  int
}

// Lease is one acquired page slot. It must be released exactly once;
// further calls to Release are no-ops.
type Lease struct {
	Page      *rod.Page
	BrowserID int

	pool     *Pool
	slot     *slot
	sem      *semaphore.Weighted
	released atomic.Bool
}

// Release returns the slot to its pool.
func (l *Lease) Release() {
	l.pool.Release(l)
}

// Pool manages browser processes and their page slots.
type Pool struct {
	launcher          Launcher
	logger            *slog.Logger
	maxLaunchFailures int
	launchBackoff     time.Duration

	mu             sync.Mutex
	sem            *semaphore.Weighted
	size           size
	pending        *size
	browsers       []*slot
	nextID         int
	cursor         int
	outstanding    int
	launchFailures int
	launching      int
	launched       chan struct{} // closed and replaced when a launch ends

	closed     atomic.Bool
	done       chan struct{}
	waiting    atomic.Int64
	inUse      atomic.Int64
	alive      atomic.Int64
	capacity   atomic.Int64
	hasPending atomic.Bool
	launches   atomic.Int64
	crashes    atomic.Int64
	instancesN atomic.Int64
	pagesPerN  atomic.Int64
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the pool logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) { p.logger = logger }
}

// WithMaxLaunchFailures sets how many consecutive launch or page-creation
// failures are tolerated before Acquire reports a fatal WorkerLaunchError.
func WithMaxLaunchFailures(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.maxLaunchFailures = n
		}
	}
}

// WithLaunchBackoff sets the base delay between relaunch attempts.
func WithLaunchBackoff(d time.Duration) Option {
	return func(p *Pool) { p.launchBackoff = d }
}

// New creates a pool of instances browsers with pagesPer page slots each.
// Browsers are launched lazily on first use.
func New(launcher Launcher, instances, pagesPer int, opts ...Option) *Pool {
	p := &Pool{
		launcher:          launcher,
		logger:            slog.Default(),
		maxLaunchFailures: 3,
		launchBackoff:     500 * time.Millisecond,
		done:              make(chan struct{}),
		launched:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "browser_pool")
	p.setSizeLocked(size{instances: max(instances, 1), pagesPer: max(pagesPer, 1)})
	return p
}

func (p *Pool) setSizeLocked(s size) {
	p.size = s
	p.sem = semaphore.NewWeighted(int64(s.instances * s.pagesPer))
	p.capacity.Store(int64(s.instances * s.pagesPer))
	p.instancesN.Store(int64(s.instances))
	p.pagesPerN.Store(int64(s.pagesPer))
}

// Acquire blocks until a page slot is free and returns a lease on it.
// Waiters are served in FIFO order. A crashed browser is discarded and
// relaunched transparently; only repeated consecutive launch failures
// surface as a *types.WorkerLaunchError.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-p.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		if p.closed.Load() {
			return nil, types.ErrPoolClosed
		}
		p.mu.Lock()
		sem := p.sem
		p.mu.Unlock()

		p.waiting.Add(1)
		err := sem.Acquire(ctx, 1)
		p.waiting.Add(-1)
		if err != nil {
			if p.closed.Load() {
				return nil, types.ErrPoolClosed
			}
			return nil, err
		}

		p.mu.Lock()
		if p.closed.Load() {
			p.mu.Unlock()
			sem.Release(1)
			return nil, types.ErrPoolClosed
		}
		if sem != p.sem {
			// Resized while we waited; queue again on the new semaphore.
			p.mu.Unlock()
			sem.Release(1)
			continue
		}
		p.outstanding++
		p.inUse.Store(int64(p.outstanding))
		p.mu.Unlock()

		lease, err := p.lease(ctx, sem)
		if err != nil {
			p.mu.Lock()
			p.outstanding--
			p.inUse.Store(int64(p.outstanding))
			p.maybeApplyResizeLocked()
			p.mu.Unlock()
			sem.Release(1)
			return nil, err
		}
		return lease, nil
	}
}

// lease binds a held semaphore permit to a page on some browser.
func (p *Pool) lease(ctx context.Context, sem *semaphore.Weighted) (*Lease, error) {
	for {
		s, err := p.slotFor(ctx, false)
		if err != nil {
			return nil, err
		}

		page, err := s.browser.NewPage(ctx)
		if err == nil {
			p.mu.Lock()
			p.launchFailures = 0
			p.mu.Unlock()
			return &Lease{Page: page, BrowserID: s.id, pool: p, slot: s, sem: sem}, nil
		}
		if ctx.Err() != nil {
			p.mu.Lock()
			s.inUse--
			p.mu.Unlock()
			return nil, ctx.Err()
		}

		p.logger.Warn("page creation failed, discarding browser", "browser", s.id, "error", err)
		p.mu.Lock()
		s.inUse--
		p.discardLocked(s)
		p.launchFailures++
		failures := p.launchFailures
		p.mu.Unlock()
		if failures >= p.maxLaunchFailures {
			return nil, &types.WorkerLaunchError{Attempts: failures, Err: err}
		}
	}
}

// slotFor reserves a page on a browser, launching one when the pool is
// short of browsers. Launches run without the pool lock so releases and
// other acquirers are never held up by a starting browser. With share
// set, no launch is attempted and a busy browser is used instead.
func (p *Pool) slotFor(ctx context.Context, share bool) (*slot, error) {
	for {
		p.mu.Lock()
		s, launch, wait := p.pickLocked(share)
		switch {
		case s != nil:
			s.inUse++
			p.mu.Unlock()
			return s, nil
		case wait != nil:
			p.mu.Unlock()
			select {
			case <-wait:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		case !launch:
			n := len(p.browsers)
			p.mu.Unlock()
			return nil, fmt.Errorf("no free page slot on %d browsers", n)
		}
		p.launching++
		p.mu.Unlock()

		b, err := p.launch(ctx)

		p.mu.Lock()
		p.launching--
		close(p.launched)
		p.launched = make(chan struct{})
		if err == nil && p.closed.Load() {
			p.mu.Unlock()
			_ = b.Close()
			return nil, types.ErrPoolClosed
		}
		if err != nil {
			p.mu.Unlock()
			var fatal *types.WorkerLaunchError
			if errors.As(err, &fatal) && !share && ctx.Err() == nil {
				if s, serr := p.slotFor(ctx, true); serr == nil {
					p.logger.Warn("launch failed, sharing an existing browser", "browser", s.id, "error", err)
					return s, nil
				}
			}
			return nil, err
		}
		s = p.installLocked(b)
		s.inUse++
		p.mu.Unlock()
		return s, nil
	}
}

// pickLocked returns the least-loaded live browser with a free page, ties
// broken round-robin. It asks for a launch when a browser is missing and
// returns a channel to wait on when every page is taken but a launch by
// another acquirer is still in progress.
func (p *Pool) pickLocked(share bool) (s *slot, launch bool, wait <-chan struct{}) {
	live := p.browsers[:0]
	for _, b := range p.browsers {
		if !b.dead && !b.browser.Alive() {
			p.logger.Warn("browser crashed, discarding", "browser", b.id)
			p.crashes.Add(1)
			b.dead = true
			_ = b.browser.Close()
		}
		if !b.dead {
			live = append(live, b)
		}
	}
	clear(p.browsers[len(live):])
	p.browsers = live
	p.alive.Store(int64(len(live)))

	var best *slot
	n := len(p.browsers)
	for i := range n {
		b := p.browsers[(p.cursor+i)%n]
		if b.inUse >= p.size.pagesPer {
			continue
		}
		if best == nil || b.inUse < best.inUse {
			best = b
		}
	}
	if n > 0 {
		p.cursor = (p.cursor + 1) % n
	}

	full := n+p.launching >= p.size.instances
	if best != nil && (best.inUse == 0 || full || share) {
		return best, false, nil
	}
	if !full && !share {
		return nil, true, nil
	}
	if p.launching > 0 {
		return nil, false, p.launched
	}
	return nil, false, nil
}

// launch starts a browser, retrying with linear backoff until the
// consecutive failure budget is spent. The budget is only restored once a
// page is successfully opened. It must be called without the pool lock.
func (p *Pool) launch(ctx context.Context) (Browser, error) {
	for {
		b, err := p.launcher.Launch(ctx)
		if err == nil {
			p.launches.Add(1)
			return b, nil
		}

		p.mu.Lock()
		p.launchFailures++
		failures := p.launchFailures
		p.mu.Unlock()
		p.logger.Warn("browser launch failed",
			"attempt", failures,
			"max", p.maxLaunchFailures,
			"error", err,
		)
		if failures >= p.maxLaunchFailures {
			return nil, &types.WorkerLaunchError{Attempts: failures, Err: err}
		}

		t := time.NewTimer(p.launchBackoff * time.Duration(failures))
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

func (p *Pool) installLocked(b Browser) *slot {
	p.nextID++
	s := &slot{id: p.nextID, browser: b}
	p.browsers = append(p.browsers, s)
	p.alive.Store(int64(len(p.browsers)))
	p.logger.Info("browser launched", "browser", s.id, "browsers", len(p.browsers))
	return s
}

func (p *Pool) discardLocked(s *slot) {
	if s.dead {
		return
	}
	s.dead = true
	p.crashes.Add(1)
	_ = s.browser.Close()
	for i, b := range p.browsers {
		if b == s {
			p.browsers = append(p.browsers[:i], p.browsers[i+1:]...)
			break
		}
	}
	p.alive.Store(int64(len(p.browsers)))
}

// Release returns a lease's slot and wakes the oldest waiter.
func (p *Pool) Release(l *Lease) {
	if l == nil || !l.released.CompareAndSwap(false, true) {
		return
	}
	if l.Page != nil && !p.closed.Load() {
		_ = l.Page.Close()
	}

	p.mu.Lock()
	l.slot.inUse--
	p.outstanding--
	p.inUse.Store(int64(p.outstanding))
	p.maybeApplyResizeLocked()
	p.mu.Unlock()

	l.sem.Release(1)
}

// Resize records a new pool shape. It takes effect once no leases are
// outstanding, so no browser is torn down mid-use.
func (p *Pool) Resize(instances, pagesPer int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	next := size{instances: max(instances, 1), pagesPer: max(pagesPer, 1)}
	if next == p.size {
		p.pending = nil
		p.hasPending.Store(false)
		return
	}
	p.pending = &next
	p.hasPending.Store(true)
	p.logger.Info("pool resize requested",
		"instances", next.instances,
		"pages_per_browser", next.pagesPer,
		"outstanding", p.outstanding,
	)
	p.maybeApplyResizeLocked()
}

func (p *Pool) maybeApplyResizeLocked() {
	if p.pending == nil || p.outstanding > 0 || p.closed.Load() {
		return
	}
	next := *p.pending
	p.pending = nil
	p.hasPending.Store(false)

	for len(p.browsers) > next.instances {
		last := p.browsers[len(p.browsers)-1]
		last.dead = true
		_ = last.browser.Close()
		p.browsers = p.browsers[:len(p.browsers)-1]
	}
	p.alive.Store(int64(len(p.browsers)))
	p.setSizeLocked(next)
	p.logger.Info("pool resized",
		"instances", next.instances,
		"pages_per_browser", next.pagesPer,
		"capacity", next.instances*next.pagesPer,
	)
}

// Stats returns current utilization without blocking on the pool lock.
func (p *Pool) Stats() Stats {
	return Stats{
		Browsers:        int(p.alive.Load()),
		InUse:           int(p.inUse.Load()),
		Capacity:        int(p.capacity.Load()),
		Waiting:         int(p.waiting.Load()),
		Instances:       int(p.instancesN.Load()),
		PagesPerBrowser: int(p.pagesPerN.Load()),
		PendingResize:   p.hasPending.Load(),
		Launches:        int(p.launches.Load()),
		Crashes:         int(p.crashes.Load()),
	}
}

// Close force-closes every browser regardless of outstanding leases.
// Subsequent and blocked Acquire calls fail with types.ErrPoolClosed.
func (p *Pool) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(p.done)

	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for _, s := range p.browsers {
		s.dead = true
		if err := s.browser.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.browsers = nil
	p.alive.Store(0)
	p.logger.Info("pool closed", "outstanding", p.outstanding)
	return firstErr
}
