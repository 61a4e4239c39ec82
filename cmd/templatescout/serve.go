package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/IshaanNene/templatescout/internal/api"
	"github.com/IshaanNene/templatescout/internal/config"
	"github.com/IshaanNene/templatescout/internal/discovery"
	"github.com/IshaanNene/templatescout/internal/events"
	"github.com/IshaanNene/templatescout/internal/registry"
	"github.com/IshaanNene/templatescout/internal/types"
)

var (
	apiPort    int
	autoResume bool
)

// serveCmd creates the "serve" subcommand.
func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator with its admin API",
		Long: `Run the orchestrator as a long-lived service.

The admin API starts, stops, pauses and reconfigures sessions. Sessions a
previous process left running are marked interrupted at startup and, with
--auto-resume, continued. When schedule.fresh_cron is set, a fresh session
is started on that schedule whenever the default queue is idle.`,
		RunE: runServe,
	}
	cmd.Flags().IntVarP(&apiPort, "port", "p", 0, "admin API port (default: api.port from config)")
	cmd.Flags().BoolVar(&autoResume, "auto-resume", false, "resume the latest interrupted session at startup")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		a.close(closeCtx)
	}()

	if err := a.recoverAtStartup(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	if a.cfg.API.Enabled {
		port := a.cfg.API.Port
		if apiPort > 0 {
			port = apiPort
		}
		srv := api.NewServer(port, api.Deps{
			Registry: a.registry,
			Planner:  a.planner,
			Store:    a.store,
			Logs:     a.logs,
			Bus:      a.bus,
		}, a.logger)
		g.Go(func() error { return srv.Serve(gctx) })
	}

	if a.metrics != nil {
		g.Go(func() error { return a.metrics.Serve(gctx, a.cfg.Metrics.Port, a.cfg.Metrics.Path) })
	}

	if a.redis != nil {
		pub := events.NewRedisPublisher(a.redis, a.cfg.Events.Redis.Stream, a.cfg.Events.Redis.MaxLen, a.logger)
		g.Go(func() error {
			pub.Run(gctx, a.bus, a.cfg.Events.BufferSize)
			return nil
		})
	}

	if spec := a.cfg.Schedule.FreshCron; spec != "" {
		c, err := a.scheduleFresh(spec)
		if err != nil {
			return err
		}
		c.Start()
		g.Go(func() error {
			<-gctx.Done()
			<-c.Stop().Done()
			return nil
		})
	}

	a.logger.Info("orchestrator ready", "version", config.Version, "api", a.cfg.API.Enabled, "metrics", a.metrics != nil)
	<-gctx.Done()
	a.logger.Info("shutting down")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// recoverAtStartup marks sessions left live by a previous process as
// interrupted and optionally resumes the newest one.
func (a *app) recoverAtStartup(ctx context.Context) error {
	e, err := a.registry.Engine(registry.DefaultQueue)
	if err != nil {
		return err
	}
	sess, err := e.Recover(ctx)
	if err != nil {
		return fmt.Errorf("recover: %w", err)
	}
	if sess == nil {
		return nil
	}
	if !autoResume {
		a.logger.Info("resumable session found", "session_id", sess.ID, "status", sess.Status)
		return nil
	}
	if _, err := a.registry.Resume(ctx, registry.DefaultQueue, sess.ID); err != nil {
		return fmt.Errorf("resume session %s: %w", sess.ID, err)
	}
	return nil
}

// scheduleFresh registers the recurring fresh session.
func (a *app) scheduleFresh(spec string) (*cron.Cron, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))

	logger := a.logger.With("component", "scheduler")
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		if e, ok := a.registry.Get(registry.DefaultQueue); ok && e.Active() {
			logger.Info("fresh run skipped, a session is active")
			return
		}
		items, err := a.planner.Plan(ctx, types.SessionFresh, nil)
		if errors.Is(err, discovery.ErrNoWork) {
			logger.Info("fresh run skipped, no new templates")
			return
		}
		if err != nil {
			logger.Error("fresh run planning failed", "error", err)
			return
		}
		sess, err := a.registry.Start(ctx, registry.DefaultQueue, types.SessionFresh, items)
		if err != nil {
			logger.Error("fresh run start failed", "error", err)
			return
		}
		logger.Info("fresh run started", "session_id", sess.ID, "items", len(items))
	})
	if err != nil {
		return nil, fmt.Errorf("invalid schedule.fresh_cron %q: %w", spec, err)
	}
	return c, nil
}
