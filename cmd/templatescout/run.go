package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/IshaanNene/templatescout/internal/engine"
	"github.com/IshaanNene/templatescout/internal/registry"
	"github.com/IshaanNene/templatescout/internal/types"
)

var (
	sessionType string
	urlsFile    string
	queueName   string
	listLimit   int
)

// runCmd creates the "run" subcommand.
func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [url...]",
		Short: "Run a scraping session to completion",
		Long: `Run a session in the foreground until it completes.

Session types:
  full    every template listed in the marketplace sitemap
  fresh   sitemap templates not yet in the catalog
  urls    the template URLs given as arguments or in --urls-file

Ctrl-C interrupts the session; it can be picked up later with "resume".`,
		RunE: runSession,
	}

	cmd.Flags().StringVarP(&sessionType, "type", "t", "", "session type: full, fresh, urls (default: urls when URLs are given, else full)")
	cmd.Flags().StringVarP(&urlsFile, "urls-file", "f", "", "file with one template URL per line")
	cmd.Flags().StringVarP(&queueName, "queue", "q", registry.DefaultQueue, "queue to run the session on")

	return cmd
}

func runSession(cmd *cobra.Command, args []string) error {
	urls := args
	if urlsFile != "" {
		fromFile, err := readLines(urlsFile)
		if err != nil {
			return fmt.Errorf("read urls file: %w", err)
		}
		urls = append(urls, fromFile...)
	}

	typ := types.SessionType(strings.ToLower(sessionType))
	if typ == "" {
		typ = types.SessionFull
		if len(urls) > 0 {
			typ = types.SessionURLs
		}
	}
	if !typ.Valid() {
		return fmt.Errorf("unknown session type %q", sessionType)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	items, err := a.planner.Plan(ctx, typ, urls)
	if err != nil {
		return fmt.Errorf("plan session: %w", err)
	}
	a.logger.Info("starting session", "type", typ, "items", len(items), "queue", queueName)

	sess, err := a.registry.Start(ctx, queueName, typ, items)
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	return a.follow(ctx, queueName, sess.ID)
}

// resumeCmd creates the "resume" subcommand.
func resumeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume [session-id]",
		Short: "Resume an interrupted or paused session",
		Long: `Resume a session, skipping every item that already finished.

Without an ID the most recent resumable session is picked up. Sessions
left running by a crashed process are marked interrupted first.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runResume,
	}
	cmd.Flags().StringVarP(&queueName, "queue", "q", registry.DefaultQueue, "queue to run the session on")
	return cmd
}

func runResume(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	e, err := a.registry.Engine(queueName)
	if err != nil {
		return err
	}

	var id string
	if len(args) == 1 {
		id = args[0]
		// Clear stale live statuses left by a crashed process.
		if _, err := e.Recover(ctx); err != nil {
			return fmt.Errorf("recover: %w", err)
		}
	} else {
		sess, err := e.Recover(ctx)
		if err != nil {
			return fmt.Errorf("recover: %w", err)
		}
		if sess == nil {
			fmt.Println("No resumable session found.")
			return nil
		}
		id = sess.ID
	}

	sess, err := a.registry.Resume(ctx, queueName, id)
	if err != nil {
		return fmt.Errorf("resume session %s: %w", id, err)
	}
	return a.follow(ctx, queueName, sess.ID)
}

// follow waits for the session on queue to end and prints a summary.
// Cancelling ctx interrupts the session.
func (a *app) follow(ctx context.Context, queue, sessionID string) error {
	e, ok := a.registry.Get(queue)
	if !ok {
		return fmt.Errorf("queue %q vanished", queue)
	}
	start := time.Now()

	progress := time.NewTicker(10 * time.Second)
	defer progress.Stop()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.Wait(context.Background())
	}()

loop:
	for {
		select {
		case <-done:
			break loop
		case <-ctx.Done():
			a.logger.Info("interrupt received, stopping session", "session_id", sessionID)
			closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			err := e.Close(closeCtx)
			cancel()
			if err != nil {
				return fmt.Errorf("interrupt session: %w", err)
			}
			break loop
		case <-progress.C:
			printProgress(e.Snapshot())
		}
	}

	sess, ok := e.Session()
	if !ok {
		return nil
	}
	printSummary(sess, time.Since(start))
	if err := e.Err(); err != nil {
		return err
	}
	if sess.Status == types.SessionInterrupted {
		fmt.Printf("\n💡 Resume with: templatescout resume %s\n", sess.ID)
	}
	return nil
}

func printProgress(s engine.Snapshot) {
	if s.Session == nil {
		return
	}
	fmt.Printf("   [%s] batch %d/%d  %d/%d processed  %d in flight\n",
		s.Status, s.CurrentBatch, s.TotalBatches, s.Session.Processed, s.Session.TotalItems, len(s.Items))
}

func printSummary(s types.Session, elapsed time.Duration) {
	icon := "✅"
	if s.Status != types.SessionCompleted {
		icon = "⚠️ "
	}
	fmt.Printf("\n%s Session %s %s in %s\n", icon, s.ID, s.Status, elapsed.Round(time.Millisecond))
	fmt.Printf("   Items:     %d total\n", s.TotalItems)
	fmt.Printf("   Succeeded: %d\n", s.Succeeded)
	fmt.Printf("   Failed:    %d\n", s.Failed)
	fmt.Printf("   Skipped:   %d\n", s.Skipped)
	fmt.Printf("   Cancelled: %d\n", s.Cancelled)
	if s.ErrorMessage != nil && *s.ErrorMessage != "" {
		fmt.Printf("   Error:     %s\n", *s.ErrorMessage)
	}
}

// sessionsCmd creates the "sessions" subcommand.
func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List recent sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close(context.Background())

			sessions, err := a.store.ListSessions(ctx, listLimit)
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Println("No sessions recorded.")
				return nil
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTYPE\tSTATUS\tPROCESSED\tFAILED\tCREATED")
			for _, s := range sessions {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%d\t%s\n",
					s.ID, s.Type, s.Status, s.Processed, s.TotalItems, s.Failed, s.CreatedAt.Format(time.DateTime))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&listLimit, "limit", "n", 20, "number of sessions to show")
	return cmd
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, errors.New("file is empty")
	}
	return lines, nil
}
