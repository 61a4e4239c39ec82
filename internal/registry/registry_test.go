package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/go-rod/rod"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IshaanNene/templatescout/internal/browserpool"
	"github.com/IshaanNene/templatescout/internal/config"
	"github.com/IshaanNene/templatescout/internal/engine"
	"github.com/IshaanNene/templatescout/internal/store"
	"github.com/IshaanNene/templatescout/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

type fakeBrowser struct{}

func (fakeBrowser) NewPage(context.Context) (*rod.Page, error) { return nil, nil }
func (fakeBrowser) Alive() bool                                { return true }
func (fakeBrowser) Close() error                               { return nil }

type fakeLauncher struct{}

func (fakeLauncher) Launch(context.Context) (browserpool.Browser, error) { return fakeBrowser{}, nil }

type blockingProcessor struct {
	release chan struct{}
}

func (p blockingProcessor) Process(ctx context.Context, _ *rod.Page, item types.WorkItem, _ config.PerformanceConfig, phase engine.PhaseFunc) (*engine.Outcome, error) {
	phase(types.PhaseNavigation)
	select {
	case <-p.release:
		return &engine.Outcome{Name: item.Slug}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func newTestRegistry(t *testing.T, release chan struct{}) (*Registry, *int) {
	t.Helper()
	pool := browserpool.New(fakeLauncher{}, 1, 2, browserpool.WithLogger(testLogger))
	t.Cleanup(func() { _ = pool.Close() })
	st := store.NewMemory()

	created := 0
	factory := func(queue string) (*engine.Engine, error) {
		if queue == "broken" {
			return nil, errors.New("no pool for queue")
		}
		created++
		n := created
		return engine.New(pool, blockingProcessor{release: release}, st, nil, config.DefaultPerformance(), testLogger,
			engine.WithIDGenerator(func() string { return fmt.Sprintf("%s-%d", queue, n) }),
			engine.WithStatsInterval(0),
		), nil
	}
	return New(factory, testLogger), &created
}

func items(t *testing.T, n int) []types.WorkItem {
	t.Helper()
	out := make([]types.WorkItem, n)
	for i := range out {
		item, err := types.NewWorkItem(fmt.Sprintf("https://templates.example.com/html/t-%d", i))
		require.NoError(t, err)
		out[i] = item
	}
	return out
}

func TestEngineIsCreatedOncePerQueue(t *testing.T) {
	r, created := newTestRegistry(t, make(chan struct{}))

	a, err := r.Engine("")
	require.NoError(t, err)
	b, err := r.Engine(DefaultQueue)
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, 1, *created)

	_, err = r.Engine("broken")
	assert.Error(t, err)
	_, ok := r.Get("broken")
	assert.False(t, ok)

	assert.Equal(t, []string{DefaultQueue}, r.Queues())
}

func TestLookupNeverCreatesNamedQueues(t *testing.T) {
	r, created := newTestRegistry(t, make(chan struct{}))

	_, err := r.Lookup("other")
	assert.ErrorIs(t, err, ErrUnknownQueue)
	assert.Equal(t, 0, *created)

	d, err := r.Lookup("")
	require.NoError(t, err)
	assert.Equal(t, 1, *created)

	e, err := r.Engine("other")
	require.NoError(t, err)
	got, err := r.Lookup("other")
	require.NoError(t, err)
	assert.Same(t, e, got)
	assert.NotSame(t, d, got)
	assert.Equal(t, []string{DefaultQueue, "other"}, r.Queues())
}

func TestOneSessionPerQueue(t *testing.T) {
	release := make(chan struct{})
	r, _ := newTestRegistry(t, release)
	ctx := context.Background()

	s, err := r.Start(ctx, "", types.SessionFull, items(t, 2))
	require.NoError(t, err)
	assert.Equal(t, "default-1", s.ID)

	_, err = r.Start(ctx, DefaultQueue, types.SessionFresh, items(t, 1))
	assert.ErrorIs(t, err, types.ErrSessionActive)

	other, err := r.Start(ctx, "backfill", types.SessionURLs, items(t, 1))
	require.NoError(t, err)
	assert.Equal(t, "backfill-2", other.ID)

	assert.ErrorIs(t, r.Release(DefaultQueue), types.ErrSessionActive)

	close(release)
	for _, q := range r.Queues() {
		e, ok := r.Get(q)
		require.True(t, ok)
		wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		require.NoError(t, e.Wait(wctx))
		cancel()
	}

	require.NoError(t, r.Release(DefaultQueue))
	_, ok := r.Get(DefaultQueue)
	assert.False(t, ok)
	assert.NoError(t, r.Release("never-used"))
}

func TestCloseInterruptsLiveSessions(t *testing.T) {
	r, _ := newTestRegistry(t, make(chan struct{}))
	ctx := context.Background()

	_, err := r.Start(ctx, "", types.SessionFull, items(t, 3))
	require.NoError(t, err)

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, r.Close(cctx))

	e, ok := r.Get("")
	require.True(t, ok)
	s, _ := e.Session()
	assert.Equal(t, types.SessionInterrupted, s.Status)
	assert.False(t, e.Active())
}
