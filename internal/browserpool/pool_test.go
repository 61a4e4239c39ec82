package browserpool

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-rod/rod"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IshaanNene/templatescout/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

type fakeBrowser struct {
	dead    atomic.Bool
	closed  atomic.Bool
	pageErr error
}

func (b *fakeBrowser) NewPage(context.Context) (*rod.Page, error) {
	if b.pageErr != nil {
		return nil, b.pageErr
	}
	return nil, nil
}

func (b *fakeBrowser) Alive() bool  { return !b.dead.Load() }
func (b *fakeBrowser) Close() error { b.closed.Store(true); return nil }

type fakeLauncher struct {
	mu       sync.Mutex
	failNext int
	pageErr  error
	browsers []*fakeBrowser
}

func (l *fakeLauncher) Launch(context.Context) (Browser, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failNext > 0 {
		l.failNext--
		return nil, errors.New("chromium exited")
	}
	b := &fakeBrowser{pageErr: l.pageErr}
	l.browsers = append(l.browsers, b)
	return b, nil
}

func (l *fakeLauncher) launched() []*fakeBrowser {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*fakeBrowser(nil), l.browsers...)
}

func newTestPool(l Launcher, instances, pages int) *Pool {
	return New(l, instances, pages,
		WithLogger(testLogger),
		WithLaunchBackoff(time.Millisecond),
		WithMaxLaunchFailures(3),
	)
}

func TestAcquireSpreadsAcrossBrowsers(t *testing.T) {
	fl := &fakeLauncher{}
	p := newTestPool(fl, 2, 2)
	defer p.Close()

	ctx := context.Background()
	a, err := p.Acquire(ctx)
	require.NoError(t, err)
	b, err := p.Acquire(ctx)
	require.NoError(t, err)

	assert.NotEqual(t, a.BrowserID, b.BrowserID, "second lease should go to the idle browser")
	assert.Len(t, fl.launched(), 2)

	c, err := p.Acquire(ctx)
	require.NoError(t, err)
	d, err := p.Acquire(ctx)
	require.NoError(t, err)

	perBrowser := map[int]int{}
	for _, l := range []*Lease{a, b, c, d} {
		perBrowser[l.BrowserID]++
	}
	for id, n := range perBrowser {
		assert.Equal(t, 2, n, "browser %d", id)
	}
	assert.Len(t, fl.launched(), 2, "no browsers beyond the configured instances")

	st := p.Stats()
	assert.Equal(t, 4, st.InUse)
	assert.Equal(t, 4, st.Capacity)
	assert.Equal(t, 2, st.Browsers)
}

func TestOutstandingNeverExceedsCapacity(t *testing.T) {
	p := newTestPool(&fakeLauncher{}, 2, 2)
	defer p.Close()

	var (
		current atomic.Int64
		peak    atomic.Int64
		wg      sync.WaitGroup
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l, err := p.Acquire(context.Background())
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			n := current.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			current.Add(-1)
			l.Release()
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int64(4))
	assert.Equal(t, 0, p.Stats().InUse)
}

func TestAcquireBlocksUntilRelease(t *testing.T) {
	p := newTestPool(&fakeLauncher{}, 1, 1)
	defer p.Close()

	held, err := p.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	got := make(chan *Lease, 1)
	go func() {
		l, err := p.Acquire(context.Background())
		if err == nil {
			got <- l
		}
	}()
	require.Eventually(t, func() bool { return p.Stats().Waiting == 1 }, time.Second, time.Millisecond)

	held.Release()
	select {
	case l := <-got:
		l.Release()
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken by release")
	}
}

func TestWaitersServedInOrder(t *testing.T) {
	p := newTestPool(&fakeLauncher{}, 1, 1)
	defer p.Close()

	held, err := p.Acquire(context.Background())
	require.NoError(t, err)

	order := make(chan int, 3)
	for i := range 3 {
		go func() {
			l, err := p.Acquire(context.Background())
			if err != nil {
				return
			}
			order <- i
			time.Sleep(time.Millisecond)
			l.Release()
		}()
		require.Eventually(t, func() bool { return p.Stats().Waiting == i+1 }, time.Second, time.Millisecond)
	}

	held.Release()
	for want := range 3 {
		select {
		case got := <-order:
			assert.Equal(t, want, got)
		case <-time.After(time.Second):
			t.Fatal("waiter starved")
		}
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	p := newTestPool(&fakeLauncher{}, 1, 2)
	defer p.Close()

	l, err := p.Acquire(context.Background())
	require.NoError(t, err)
	l.Release()
	l.Release()
	p.Release(nil)

	assert.Equal(t, 0, p.Stats().InUse)

	a, err := p.Acquire(context.Background())
	require.NoError(t, err)
	b, err := p.Acquire(context.Background())
	require.NoError(t, err)
	a.Release()
	b.Release()
}

func TestCrashedBrowserIsRelaunched(t *testing.T) {
	fl := &fakeLauncher{}
	p := newTestPool(fl, 1, 1)
	defer p.Close()

	l, err := p.Acquire(context.Background())
	require.NoError(t, err)
	l.Release()

	first := fl.launched()[0]
	first.dead.Store(true)

	l, err = p.Acquire(context.Background())
	require.NoError(t, err)
	defer l.Release()

	assert.True(t, first.closed.Load(), "crashed browser should be closed")
	assert.Len(t, fl.launched(), 2)
	assert.NotEqual(t, 1, l.BrowserID)
	assert.Equal(t, 1, p.Stats().Crashes)
}

func TestTransientLaunchFailuresAreHidden(t *testing.T) {
	fl := &fakeLauncher{failNext: 2}
	p := newTestPool(fl, 1, 1)
	defer p.Close()

	l, err := p.Acquire(context.Background())
	require.NoError(t, err)
	l.Release()
	assert.Equal(t, 1, p.Stats().Launches)
}

func TestRepeatedLaunchFailureIsFatal(t *testing.T) {
	fl := &fakeLauncher{failNext: 100}
	p := newTestPool(fl, 1, 1)
	defer p.Close()

	_, err := p.Acquire(context.Background())
	require.Error(t, err)

	var wle *types.WorkerLaunchError
	require.ErrorAs(t, err, &wle)
	assert.Equal(t, 3, wle.Attempts)
	assert.ErrorIs(t, err, types.ErrWorkerLaunchFailed)
	assert.Equal(t, 0, p.Stats().InUse, "failed acquire must not leak a slot")
}

func TestPageCreationFailureCountsAsCrash(t *testing.T) {
	fl := &fakeLauncher{pageErr: errors.New("target closed")}
	p := newTestPool(fl, 1, 1)
	defer p.Close()

	_, err := p.Acquire(context.Background())
	assert.ErrorIs(t, err, types.ErrWorkerLaunchFailed)
	for _, b := range fl.launched() {
		assert.True(t, b.closed.Load())
	}
}

func TestResizeDeferredUntilIdle(t *testing.T) {
	fl := &fakeLauncher{}
	p := newTestPool(fl, 2, 2)
	defer p.Close()

	a, err := p.Acquire(context.Background())
	require.NoError(t, err)
	b, err := p.Acquire(context.Background())
	require.NoError(t, err)

	p.Resize(1, 1)
	st := p.Stats()
	assert.True(t, st.PendingResize)
	assert.Equal(t, 4, st.Capacity, "resize must not apply while leases are outstanding")

	a.Release()
	assert.True(t, p.Stats().PendingResize)

	b.Release()
	st = p.Stats()
	assert.False(t, st.PendingResize)
	assert.Equal(t, 1, st.Capacity)
	assert.Equal(t, 1, st.Browsers)

	closed := 0
	for _, fb := range fl.launched() {
		if fb.closed.Load() {
			closed++
		}
	}
	assert.Equal(t, 1, closed, "excess browser should be closed")

	l, err := p.Acquire(context.Background())
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded, "new capacity of 1 should be enforced")
	l.Release()
}

func TestResizeWhenIdleAppliesImmediately(t *testing.T) {
	p := newTestPool(&fakeLauncher{}, 1, 1)
	defer p.Close()

	p.Resize(3, 2)
	st := p.Stats()
	assert.False(t, st.PendingResize)
	assert.Equal(t, 6, st.Capacity)
	assert.Equal(t, 3, st.Instances)
	assert.Equal(t, 2, st.PagesPerBrowser)
}

func TestWaiterMovesToResizedSemaphore(t *testing.T) {
	p := newTestPool(&fakeLauncher{}, 1, 1)
	defer p.Close()

	held, err := p.Acquire(context.Background())
	require.NoError(t, err)

	got := make(chan *Lease, 2)
	for range 2 {
		go func() {
			l, err := p.Acquire(context.Background())
			if err == nil {
				got <- l
			}
		}()
	}
	require.Eventually(t, func() bool { return p.Stats().Waiting == 2 }, time.Second, time.Millisecond)

	p.Resize(1, 2)
	held.Release()

	for range 2 {
		select {
		case l := <-got:
			defer l.Release()
		case <-time.After(time.Second):
			t.Fatal("waiter not served after resize")
		}
	}
	assert.Equal(t, 2, p.Stats().InUse)
}

func TestCloseFailsAcquire(t *testing.T) {
	fl := &fakeLauncher{}
	p := newTestPool(fl, 1, 1)

	held, err := p.Acquire(context.Background())
	require.NoError(t, err)

	blocked := make(chan error, 1)
	go func() {
		_, err := p.Acquire(context.Background())
		blocked <- err
	}()
	require.Eventually(t, func() bool { return p.Stats().Waiting == 1 }, time.Second, time.Millisecond)

	require.NoError(t, p.Close())
	select {
	case err := <-blocked:
		assert.ErrorIs(t, err, types.ErrPoolClosed)
	case <-time.After(time.Second):
		t.Fatal("blocked acquire not released by Close")
	}

	_, err = p.Acquire(context.Background())
	assert.ErrorIs(t, err, types.ErrPoolClosed)
	assert.True(t, fl.launched()[0].closed.Load())

	held.Release()
	assert.NoError(t, p.Close())
}

// slowLauncher blocks its second launch until release is closed.
type slowLauncher struct {
	fakeLauncher
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
}

func (l *slowLauncher) Launch(ctx context.Context) (Browser, error) {
	if l.calls.Add(1) == 2 {
		close(l.entered)
		select {
		case <-l.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return l.fakeLauncher.Launch(ctx)
}

func TestSlowLaunchDoesNotBlockRelease(t *testing.T) {
	sl := &slowLauncher{entered: make(chan struct{}), release: make(chan struct{})}
	p := newTestPool(sl, 2, 1)
	defer p.Close()

	ctx := context.Background()
	first, err := p.Acquire(ctx)
	require.NoError(t, err)

	type acquired struct {
		lease *Lease
		err   error
	}
	launching := make(chan acquired, 1)
	go func() {
		l, err := p.Acquire(ctx)
		launching <- acquired{l, err}
	}()
	select {
	case <-sl.entered:
	case <-time.After(time.Second):
		t.Fatal("second browser launch never started")
	}

	start := time.Now()
	first.Release()
	assert.Less(t, time.Since(start), 100*time.Millisecond, "Release waited on a browser launch")

	acqCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	reused, err := p.Acquire(acqCtx)
	require.NoError(t, err, "the idle browser should be handed out while another launches")
	assert.Equal(t, first.BrowserID, reused.BrowserID)

	close(sl.release)
	select {
	case got := <-launching:
		require.NoError(t, got.err)
		assert.NotEqual(t, reused.BrowserID, got.lease.BrowserID)
		got.lease.Release()
	case <-time.After(time.Second):
		t.Fatal("launching acquirer never got its browser")
	}
	reused.Release()
	assert.Equal(t, 2, p.Stats().Browsers)
	assert.Len(t, sl.launched(), 2)
}

func TestWaiterUsesBrowserLaunchedByAnother(t *testing.T) {
	sl := &slowLauncher{entered: make(chan struct{}), release: make(chan struct{})}
	sl.calls.Store(1)
	p := newTestPool(sl, 1, 2)
	defer p.Close()

	ctx := context.Background()
	results := make(chan *Lease, 2)
	for range 2 {
		go func() {
			l, err := p.Acquire(ctx)
			if err == nil {
				results <- l
			}
		}()
	}
	<-sl.entered
	close(sl.release)

	var leases []*Lease
	for range 2 {
		select {
		case l := <-results:
			leases = append(leases, l)
		case <-time.After(time.Second):
			t.Fatal("acquirer not served")
		}
	}
	assert.Equal(t, leases[0].BrowserID, leases[1].BrowserID)
	assert.Len(t, sl.launched(), 1, "only one browser for a single instance")
	for _, l := range leases {
		l.Release()
	}
}
