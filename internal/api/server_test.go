package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/go-rod/rod"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IshaanNene/templatescout/internal/browserpool"
	"github.com/IshaanNene/templatescout/internal/config"
	"github.com/IshaanNene/templatescout/internal/discovery"
	"github.com/IshaanNene/templatescout/internal/engine"
	"github.com/IshaanNene/templatescout/internal/events"
	"github.com/IshaanNene/templatescout/internal/registry"
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

// holdProcessor blocks every item until release is closed.
type holdProcessor struct {
	release chan struct{}
}

func (p holdProcessor) Process(ctx context.Context, _ *rod.Page, item types.WorkItem, _ config.PerformanceConfig, phase engine.PhaseFunc) (*engine.Outcome, error) {
	phase(types.PhaseNavigation)
	select {
	case <-p.release:
		return &engine.Outcome{Name: item.Slug}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type testEnv struct {
	srv     *httptest.Server
	reg     *registry.Registry
	store   *store.Memory
	ring    *events.LogRing
	release chan struct{}
	once    sync.Once
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	pool := browserpool.New(fakeLauncher{}, 1, 2, browserpool.WithLogger(testLogger))
	st := store.NewMemory()
	bus := events.NewBus()
	ring := events.NewLogRing(100)
	release := make(chan struct{})

	factory := func(queue string) (*engine.Engine, error) {
		return engine.New(pool, holdProcessor{release: release}, st, bus, config.DefaultPerformance(), testLogger,
			engine.WithIDGenerator(func() string { return queue + "-session" }),
			engine.WithStatsInterval(0),
		), nil
	}
	reg := registry.New(factory, testLogger)

	s := NewServer(0, Deps{
		Registry: reg,
		Planner:  discovery.NewPlanner(nil, nil),
		Store:    st,
		Logs:     ring,
		Bus:      bus,
	}, testLogger)
	srv := httptest.NewServer(s.Handler())

	env := &testEnv{srv: srv, reg: reg, store: st, ring: ring, release: release}
	t.Cleanup(func() {
		env.unblock()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = reg.Close(ctx)
		srv.Close()
		_ = pool.Close()
	})
	return env
}

func (e *testEnv) unblock() {
	e.once.Do(func() { close(e.release) })
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rdr)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func templateURLs(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("https://templates.example.com/html/api-%d", i)
	}
	return out
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	resp, body := env.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}

func TestStatusWhenIdle(t *testing.T) {
	env := newTestEnv(t)
	resp, body := env.do(t, http.MethodGet, "/api/status", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(engine.StatusIdle), body["status"])
	assert.Equal(t, []string{registry.DefaultQueue}, env.reg.Queues())
}

func TestReadsDoNotCreateQueues(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/api/status?queue=other", "/api/config?queue=other", "/api/config/pending?queue=other"} {
		resp, body := env.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
		assert.Contains(t, body["error"], "unknown queue", path)
	}
	for _, path := range []string{"/api/pause?queue=other", "/api/stop?queue=other", "/api/items/x/skip?queue=other"} {
		resp, _ := env.do(t, http.MethodPost, path, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
	}
	resp, _ := env.do(t, http.MethodDelete, "/api/config/pending?queue=other", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Empty(t, env.reg.Queues())

	// Writing a config or starting a session registers the queue.
	resp, _ = env.do(t, http.MethodPut, "/api/config/pending?queue=other", map[string]any{"batch_size": 5})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, body := env.do(t, http.MethodGet, "/api/status?queue=other", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(engine.StatusIdle), body["status"])
	assert.Equal(t, []string{"other"}, env.reg.Queues())
}

func TestStartSessionLifecycle(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodPost, "/api/sessions", map[string]any{
		"type": "urls",
		"urls": templateURLs(3),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "default-session", body["id"])

	// A second session on the same queue is refused.
	resp, _ = env.do(t, http.MethodPost, "/api/sessions", map[string]any{"urls": templateURLs(1)})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = env.do(t, http.MethodPost, "/api/pause", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "paused", body["status"])

	resp, _ = env.do(t, http.MethodPost, "/api/resume-timeout", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "not timeout-paused")

	resp, _ = env.do(t, http.MethodPost, "/api/resume", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = env.do(t, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(types.SessionRunning), body["status"])

	resp, _ = env.do(t, http.MethodPost, "/api/stop", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	env.unblock()

	e, ok := env.reg.Get(registry.DefaultQueue)
	require.True(t, ok)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.Wait(ctx))

	resp, body = env.do(t, http.MethodGet, "/api/sessions/default-session", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sess, ok := body["session"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, string(types.SessionCancelled), sess["status"])
}

func TestStartSessionValidation(t *testing.T) {
	env := newTestEnv(t)

	req, err := http.NewRequest(http.MethodPost, env.srv.URL+"/api/sessions", bytes.NewBufferString("{nope"))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/api/sessions", map[string]any{"type": "weekly"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/api/sessions", map[string]any{"type": "urls", "urls": []string{"# comment", ""}})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	// No discoverer is configured in this environment.
	resp, _ = env.do(t, http.MethodPost, "/api/sessions", map[string]any{"type": "full"})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestControlWithoutSession(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/api/pause", "/api/resume", "/api/stop", "/api/items/nope/skip"} {
		resp, body := env.do(t, http.MethodPost, path, nil)
		assert.Equal(t, http.StatusConflict, resp.StatusCode, path)
		assert.NotEmpty(t, body["error"], path)
	}
}

func TestSkipUnknownItem(t *testing.T) {
	env := newTestEnv(t)
	resp, _ := env.do(t, http.MethodPost, "/api/sessions", map[string]any{"urls": templateURLs(2)})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/api/items/not-an-item/skip", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSessionsNotFound(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodGet, "/api/sessions/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/api/sessions/resumable", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, "/api/sessions/missing/resume", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPendingConfig(t *testing.T) {
	env := newTestEnv(t)

	// Idle engines apply changes straight away.
	resp, body := env.do(t, http.MethodPut, "/api/config/pending", map[string]any{"batch_size": 7})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "applied", body["status"])

	resp, body = env.do(t, http.MethodGet, "/api/config", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	current, ok := body["current"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 7, current["batch_size"])
	assert.Nil(t, body["pending"])

	resp, _ = env.do(t, http.MethodPost, "/api/sessions", map[string]any{"urls": templateURLs(2)})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body = env.do(t, http.MethodPut, "/api/config/pending", map[string]any{"concurrency": 2})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "pending", body["status"])

	resp, body = env.do(t, http.MethodGet, "/api/config/pending", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	pending, ok := body["pending"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 2, pending["concurrency"])

	resp, _ = env.do(t, http.MethodDelete, "/api/config/pending", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = env.do(t, http.MethodDelete, "/api/config/pending", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPendingConfigRejectsBadInput(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodPut, "/api/config/pending", map[string]any{"warp_factor": 9})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPut, "/api/config/pending", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLogs(t *testing.T) {
	env := newTestEnv(t)
	base := time.Now()
	for i := range 5 {
		env.ring.Write(events.LogLine{Time: base.Add(time.Duration(i) * time.Second), Level: "INFO", Message: fmt.Sprintf("line %d", i)})
	}

	resp, err := http.Get(env.srv.URL + "/api/logs?limit=2")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var lines []events.LogLine
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&lines))
	require.Len(t, lines, 2)
	assert.Equal(t, "line 4", lines[1].Message)

	bad, _ := env.do(t, http.MethodGet, "/api/logs?since=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{types.ErrSessionActive, http.StatusConflict},
		{fmt.Errorf("wrapped: %w", types.ErrNoSession), http.StatusConflict},
		{types.ErrInvalidTransition, http.StatusConflict},
		{types.ErrSessionNotFound, http.StatusNotFound},
		{types.ErrItemNotFound, http.StatusNotFound},
		{discovery.ErrNoWork, http.StatusUnprocessableEntity},
		{fmt.Errorf("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}
