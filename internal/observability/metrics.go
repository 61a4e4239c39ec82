// Package observability exposes orchestrator metrics in Prometheus format.
package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/IshaanNene/templatescout/internal/browserpool"
	"github.com/IshaanNene/templatescout/internal/types"
)

const namespace = "templatescout"

// Metrics records item outcomes, timeouts and pool utilization. It
// satisfies engine.Recorder.
type Metrics struct {
	registry *prometheus.Registry
	logger   *slog.Logger

	ItemsTotal      *prometheus.CounterVec
	ItemDuration    *prometheus.HistogramVec
	ItemTimeouts    prometheus.Counter
	AutoPauses      prometheus.Counter
	PoolBrowsers    prometheus.Gauge
	PoolInUse       prometheus.Gauge
	PoolCapacity    prometheus.Gauge
	PoolWaiting     prometheus.Gauge
	BrowserLaunches prometheus.Gauge
	BrowserCrashes  prometheus.Gauge
}

// NewMetrics creates metrics on a private registry that also carries the
// Go runtime and process collectors.
func NewMetrics(logger *slog.Logger) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		logger:   logger.With("component", "metrics"),

		ItemsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_total",
			Help:      "Work items finished, by outcome.",
		}, []string{"status"}),
		ItemDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "item_duration_seconds",
			Help:      "Time spent processing a work item.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~4min
		}, []string{"status"}),
		ItemTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "item_timeouts_total",
			Help:      "Work items that ended in a timeout.",
		}),
		AutoPauses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_auto_pauses_total",
			Help:      "Sessions paused after consecutive timeouts.",
		}),
		PoolBrowsers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "browsers",
			Help:      "Live browser processes.",
		}),
		PoolInUse: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "slots_in_use",
			Help:      "Page slots currently leased.",
		}),
		PoolCapacity: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "slots_capacity",
			Help:      "Page slots the pool offers.",
		}),
		PoolWaiting: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "waiting",
			Help:      "Callers queued for a page slot.",
		}),
		BrowserLaunches: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "browser_launches",
			Help:      "Browsers launched since the pool started.",
		}),
		BrowserCrashes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "browser_crashes",
			Help:      "Browsers discarded as crashed since the pool started.",
		}),
	}
}

// ItemFinished counts one terminal item outcome.
func (m *Metrics) ItemFinished(status types.ItemStatus, d time.Duration) {
	m.ItemsTotal.WithLabelValues(string(status)).Inc()
	if d > 0 {
		m.ItemDuration.WithLabelValues(string(status)).Observe(d.Seconds())
	}
}

func (m *Metrics) ItemTimedOut()      { m.ItemTimeouts.Inc() }
func (m *Metrics) SessionAutoPaused() { m.AutoPauses.Inc() }

// PoolStats mirrors a pool snapshot into the gauges.
func (m *Metrics) PoolStats(s browserpool.Stats) {
	m.PoolBrowsers.Set(float64(s.Browsers))
	m.PoolInUse.Set(float64(s.InUse))
	m.PoolCapacity.Set(float64(s.Capacity))
	m.PoolWaiting.Set(float64(s.Waiting))
	m.BrowserLaunches.Set(float64(s.Launches))
	m.BrowserCrashes.Set(float64(s.Crashes))
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve runs a metrics HTTP server until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, port int, path string) error {
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	m.logger.Info("metrics server starting", "addr", srv.Addr, "path", path)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
