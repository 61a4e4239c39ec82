package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/IshaanNene/templatescout/internal/config"
	"github.com/IshaanNene/templatescout/internal/events"
)

var (
	cfgFile string
	verbose bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "templatescout",
		Short: "TemplateScout — website template marketplace scraper",
		Long: `TemplateScout walks a website-template marketplace, extracts every template's
metadata and captures preview screenshots of its live demo with a pool of
headless browsers.

Sessions are split into batches, persisted as they run and can be paused,
stopped, reconfigured and resumed after a crash.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(resumeCmd())
	rootCmd.AddCommand(sessionsCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(configCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// versionCmd creates the "version" subcommand.
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("TemplateScout %s\n", config.Version)
		},
	}
}

// configCmd creates the "config" subcommand for inspecting configuration.
func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			p := cfg.Performance
			fmt.Printf("Performance:\n")
			fmt.Printf("  Concurrency:        %d\n", p.Concurrency)
			fmt.Printf("  Browsers:           %d x %d pages\n", p.BrowserInstances, p.PagesPerBrowser)
			fmt.Printf("  Batch Size:         %d\n", p.BatchSize)
			fmt.Printf("  Item Timeout:       %s\n", p.ItemTimeout)
			fmt.Printf("  Timeout Pause At:   %d consecutive\n", p.TimeoutPauseThreshold)
			fmt.Printf("  Preview:            %dpx q%d\n", p.PreviewWidth, p.PreviewQuality)
			fmt.Printf("  Thumbnail:          %dx%d q%d\n", p.ThumbnailWidth, p.ThumbnailHeight, p.ThumbnailQuality)
			fmt.Printf("\nBrowser:\n")
			fmt.Printf("  Headless:           %v\n", cfg.Browser.Headless)
			fmt.Printf("  Stealth:            %v\n", cfg.Browser.Stealth)
			fmt.Printf("  Viewport:           %dx%d\n", cfg.Browser.ViewportWidth, cfg.Browser.ViewportHeight)
			fmt.Printf("\nState:\n")
			fmt.Printf("  Database:           %s\n", redact(cfg.Database.DSN))
			fmt.Printf("  Auto Migrate:       %v\n", cfg.Database.AutoMigrate)
			fmt.Printf("\nStorage:\n")
			fmt.Printf("  Type:               %s\n", cfg.Storage.Type)
			fmt.Printf("  Output Path:        %s\n", cfg.Storage.OutputPath)
			fmt.Printf("\nCatalog:\n")
			fmt.Printf("  Postgres:           %v\n", cfg.Catalog.Postgres)
			fmt.Printf("  JSONL:              %s\n", orNone(cfg.Catalog.JSONLPath))
			fmt.Printf("  MongoDB:            %s\n", redact(cfg.Catalog.Mongo.URI))
			fmt.Printf("\nDiscovery:\n")
			fmt.Printf("  Sitemap:            %s\n", cfg.Discovery.SitemapURL)
			fmt.Printf("  Fresh Schedule:     %s\n", orNone(cfg.Schedule.FreshCron))
			fmt.Printf("\nServices:\n")
			fmt.Printf("  API:                %v (port %d)\n", cfg.API.Enabled, cfg.API.Port)
			fmt.Printf("  Metrics:            %v (port %d%s)\n", cfg.Metrics.Enabled, cfg.Metrics.Port, cfg.Metrics.Path)
			fmt.Printf("  Redis Events:       %s\n", orNone(cfg.Events.Redis.Addr))
			return nil
		},
	}
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

// redact hides credentials in connection strings.
func redact(dsn string) string {
	if dsn == "" {
		return "(memory)"
	}
	at := strings.LastIndex(dsn, "@")
	scheme := strings.Index(dsn, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return dsn
	}
	return dsn[:scheme+3] + "***" + dsn[at:]
}

// setupLogger creates the structured logger. Every record is also copied
// into ring and published on bus for the admin API.
func setupLogger(cfg config.LoggingConfig, ring *events.LogRing, bus *events.Bus) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = tint.NewHandler(os.Stderr, &tint.Options{Level: level, TimeFormat: "15:04:05.000"})
	}

	logger := slog.New(events.NewLogHandler(handler, ring, bus, slog.LevelInfo))
	slog.SetDefault(logger)
	return logger
}
