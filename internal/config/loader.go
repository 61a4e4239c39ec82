package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from file, environment, and CLI flags.
// Priority (highest to lowest): CLI flags > env vars > config file > defaults.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")

	setDefaults(v, cfg)

	// TEMPLATESCOUT_DATABASE_DSN overrides database.dsn, and so on.
	v.SetEnvPrefix("TEMPLATESCOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("templatescout")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".templatescout"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || configPath != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Performance = cfg.Performance.Clamp()
	return cfg, nil
}

// setDefaults registers default values in viper so that env overrides work
// for keys absent from the config file.
func setDefaults(v *viper.Viper, cfg *Config) {
	p := cfg.Performance
	v.SetDefault("performance.concurrency", p.Concurrency)
	v.SetDefault("performance.browser_instances", p.BrowserInstances)
	v.SetDefault("performance.pages_per_browser", p.PagesPerBrowser)
	v.SetDefault("performance.batch_size", p.BatchSize)
	v.SetDefault("performance.item_timeout", p.ItemTimeout)
	v.SetDefault("performance.timeout_pause_threshold", p.TimeoutPauseThreshold)
	v.SetDefault("performance.animation_wait", p.AnimationWait)
	v.SetDefault("performance.scroll_fraction", p.ScrollFraction)
	v.SetDefault("performance.scroll_settle", p.ScrollSettle)
	v.SetDefault("performance.stability_max_wait", p.StabilityMaxWait)
	v.SetDefault("performance.stability_poll_interval", p.StabilityPollInterval)
	v.SetDefault("performance.preview_width", p.PreviewWidth)
	v.SetDefault("performance.preview_quality", p.PreviewQuality)
	v.SetDefault("performance.thumbnail_width", p.ThumbnailWidth)
	v.SetDefault("performance.thumbnail_height", p.ThumbnailHeight)
	v.SetDefault("performance.thumbnail_quality", p.ThumbnailQuality)

	v.SetDefault("browser.bin", cfg.Browser.Bin)
	v.SetDefault("browser.headless", cfg.Browser.Headless)
	v.SetDefault("browser.stealth", cfg.Browser.Stealth)
	v.SetDefault("browser.no_sandbox", cfg.Browser.NoSandbox)
	v.SetDefault("browser.user_agent", cfg.Browser.UserAgent)
	v.SetDefault("browser.viewport_width", cfg.Browser.ViewportWidth)
	v.SetDefault("browser.viewport_height", cfg.Browser.ViewportHeight)
	v.SetDefault("browser.max_launch_failures", cfg.Browser.MaxLaunchFailures)
	v.SetDefault("browser.launch_timeout", cfg.Browser.LaunchTimeout)

	v.SetDefault("selectors.ready", cfg.Selectors.Ready)
	v.SetDefault("selectors.name", cfg.Selectors.Name)
	v.SetDefault("selectors.author_name", cfg.Selectors.AuthorName)
	v.SetDefault("selectors.author_url", cfg.Selectors.AuthorURL)
	v.SetDefault("selectors.price", cfg.Selectors.Price)
	v.SetDefault("selectors.short_description", cfg.Selectors.ShortDescription)
	v.SetDefault("selectors.long_description", cfg.Selectors.LongDescription)
	v.SetDefault("selectors.categories", cfg.Selectors.Categories)
	v.SetDefault("selectors.styles", cfg.Selectors.Styles)
	v.SetDefault("selectors.features", cfg.Selectors.Features)
	v.SetDefault("selectors.live_preview", cfg.Selectors.LivePreview)

	v.SetDefault("screenshot.exclude_selectors", cfg.Screenshot.ExcludeSelectors)
	v.SetDefault("screenshot.archive_html", cfg.Screenshot.ArchiveHTML)

	v.SetDefault("database.dsn", cfg.Database.DSN)
	v.SetDefault("database.max_open_conns", cfg.Database.MaxOpenConns)
	v.SetDefault("database.max_idle_conns", cfg.Database.MaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", cfg.Database.ConnMaxLifetime)
	v.SetDefault("database.auto_migrate", cfg.Database.AutoMigrate)

	v.SetDefault("storage.type", cfg.Storage.Type)
	v.SetDefault("storage.output_path", cfg.Storage.OutputPath)
	v.SetDefault("storage.public_url", cfg.Storage.PublicURL)
	v.SetDefault("storage.s3.access_key", cfg.Storage.S3.AccessKey)
	v.SetDefault("storage.s3.secret_key", cfg.Storage.S3.SecretKey)
	v.SetDefault("storage.s3.base_endpoint", cfg.Storage.S3.BaseEndpoint)
	v.SetDefault("storage.s3.region", cfg.Storage.S3.Region)
	v.SetDefault("storage.s3.bucket", cfg.Storage.S3.Bucket)
	v.SetDefault("storage.s3.key_prefix", cfg.Storage.S3.KeyPrefix)
	v.SetDefault("storage.s3.path_style", cfg.Storage.S3.PathStyle)

	v.SetDefault("catalog.postgres", cfg.Catalog.Postgres)
	v.SetDefault("catalog.jsonl_path", cfg.Catalog.JSONLPath)
	v.SetDefault("catalog.mongo.uri", cfg.Catalog.Mongo.URI)
	v.SetDefault("catalog.mongo.database", cfg.Catalog.Mongo.Database)
	v.SetDefault("catalog.mongo.collection", cfg.Catalog.Mongo.Collection)

	v.SetDefault("events.buffer_size", cfg.Events.BufferSize)
	v.SetDefault("events.log_ring_size", cfg.Events.LogRingSize)
	v.SetDefault("events.redis.addr", cfg.Events.Redis.Addr)
	v.SetDefault("events.redis.password", cfg.Events.Redis.Password)
	v.SetDefault("events.redis.db", cfg.Events.Redis.DB)
	v.SetDefault("events.redis.stream", cfg.Events.Redis.Stream)
	v.SetDefault("events.redis.max_len", cfg.Events.Redis.MaxLen)

	v.SetDefault("discovery.sitemap_url", cfg.Discovery.SitemapURL)
	v.SetDefault("discovery.template_pattern", cfg.Discovery.TemplatePattern)
	v.SetDefault("discovery.timeout", cfg.Discovery.Timeout)
	v.SetDefault("discovery.user_agent", cfg.Discovery.UserAgent)
	v.SetDefault("discovery.max_items", cfg.Discovery.MaxItems)

	v.SetDefault("schedule.fresh_cron", cfg.Schedule.FreshCron)

	v.SetDefault("api.enabled", cfg.API.Enabled)
	v.SetDefault("api.port", cfg.API.Port)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)

	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.port", cfg.Metrics.Port)
	v.SetDefault("metrics.path", cfg.Metrics.Path)
}
