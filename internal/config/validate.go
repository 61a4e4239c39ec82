package config

import (
	"fmt"
	"net/url"
	"regexp"

	"github.com/robfig/cron/v3"
)

// Validate checks the structural configuration for invalid values.
// Performance tunables are clamped rather than rejected; see PerformanceConfig.Clamp.
func Validate(cfg *Config) error {
	if cfg.Browser.MaxLaunchFailures < 1 {
		return fmt.Errorf("browser.max_launch_failures must be >= 1, got %d", cfg.Browser.MaxLaunchFailures)
	}
	if cfg.Browser.ViewportWidth < 320 || cfg.Browser.ViewportHeight < 240 {
		return fmt.Errorf("browser viewport must be at least 320x240, got %dx%d",
			cfg.Browser.ViewportWidth, cfg.Browser.ViewportHeight)
	}
	if cfg.Browser.LaunchTimeout <= 0 {
		return fmt.Errorf("browser.launch_timeout must be > 0")
	}

	if cfg.Selectors.Name == "" {
		return fmt.Errorf("selectors.name must not be empty")
	}

	if cfg.Database.DSN != "" {
		if _, err := url.Parse(cfg.Database.DSN); err != nil {
			return fmt.Errorf("invalid database.dsn: %w", err)
		}
	}
	if cfg.Database.MaxOpenConns < 1 {
		return fmt.Errorf("database.max_open_conns must be >= 1, got %d", cfg.Database.MaxOpenConns)
	}
	if cfg.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns must be >= 0, got %d", cfg.Database.MaxIdleConns)
	}

	switch cfg.Storage.Type {
	case "file":
		if cfg.Storage.OutputPath == "" {
			return fmt.Errorf("storage.output_path is required for file storage")
		}
	case "s3":
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required for s3 storage")
		}
		if cfg.Storage.S3.BaseEndpoint != "" {
			if err := ValidateURL(cfg.Storage.S3.BaseEndpoint); err != nil {
				return fmt.Errorf("storage.s3.base_endpoint: %w", err)
			}
		}
	default:
		return fmt.Errorf("storage.type %q is not supported (valid: file, s3)", cfg.Storage.Type)
	}

	if cfg.Catalog.Mongo.URI != "" && cfg.Catalog.Mongo.Database == "" {
		return fmt.Errorf("catalog.mongo.database is required when catalog.mongo.uri is set")
	}

	if cfg.Events.BufferSize < 1 {
		return fmt.Errorf("events.buffer_size must be >= 1, got %d", cfg.Events.BufferSize)
	}
	if cfg.Events.LogRingSize < 1 {
		return fmt.Errorf("events.log_ring_size must be >= 1, got %d", cfg.Events.LogRingSize)
	}
	if cfg.Events.Redis.Addr != "" && cfg.Events.Redis.Stream == "" {
		return fmt.Errorf("events.redis.stream is required when events.redis.addr is set")
	}

	if cfg.Discovery.SitemapURL != "" {
		if err := ValidateURL(cfg.Discovery.SitemapURL); err != nil {
			return fmt.Errorf("discovery.sitemap_url: %w", err)
		}
	}
	if _, err := regexp.Compile(cfg.Discovery.TemplatePattern); err != nil {
		return fmt.Errorf("discovery.template_pattern: %w", err)
	}

	if cfg.Schedule.FreshCron != "" {
		if _, err := cron.ParseStandard(cfg.Schedule.FreshCron); err != nil {
			return fmt.Errorf("schedule.fresh_cron: %w", err)
		}
	}

	if cfg.API.Enabled && (cfg.API.Port < 1 || cfg.API.Port > 65535) {
		return fmt.Errorf("api.port must be 1-65535, got %d", cfg.API.Port)
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be debug/info/warn/error, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" && cfg.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be 'text' or 'json', got %q", cfg.Logging.Format)
	}

	if cfg.Metrics.Enabled {
		if cfg.Metrics.Port < 1 || cfg.Metrics.Port > 65535 {
			return fmt.Errorf("metrics.port must be 1-65535, got %d", cfg.Metrics.Port)
		}
	}

	return nil
}

// ValidateURL checks if a URL string is an absolute http(s) URL.
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}
