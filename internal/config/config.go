package config

import (
	"time"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Config is the root configuration for TemplateScout.
type Config struct {
	Performance PerformanceConfig `mapstructure:"performance" yaml:"performance"`
	Browser     BrowserConfig     `mapstructure:"browser"     yaml:"browser"`
	Selectors   SelectorConfig    `mapstructure:"selectors"   yaml:"selectors"`
	Screenshot  ScreenshotConfig  `mapstructure:"screenshot"  yaml:"screenshot"`
	Database    DatabaseConfig    `mapstructure:"database"    yaml:"database"`
	Storage     StorageConfig     `mapstructure:"storage"     yaml:"storage"`
	Catalog     CatalogConfig     `mapstructure:"catalog"     yaml:"catalog"`
	Events      EventsConfig      `mapstructure:"events"      yaml:"events"`
	Discovery   DiscoveryConfig   `mapstructure:"discovery"   yaml:"discovery"`
	Schedule    ScheduleConfig    `mapstructure:"schedule"    yaml:"schedule"`
	API         APIConfig         `mapstructure:"api"         yaml:"api"`
	Logging     LoggingConfig     `mapstructure:"logging"     yaml:"logging"`
	Metrics     MetricsConfig     `mapstructure:"metrics"     yaml:"metrics"`
}

// BrowserConfig controls how browser processes are launched.
type BrowserConfig struct {
	Bin               string        `mapstructure:"bin"                 yaml:"bin"`
	Headless          bool          `mapstructure:"headless"            yaml:"headless"`
	Stealth           bool          `mapstructure:"stealth"             yaml:"stealth"`
	NoSandbox         bool          `mapstructure:"no_sandbox"          yaml:"no_sandbox"`
	UserAgent         string        `mapstructure:"user_agent"          yaml:"user_agent"`
	ViewportWidth     int           `mapstructure:"viewport_width"      yaml:"viewport_width"`
	ViewportHeight    int           `mapstructure:"viewport_height"     yaml:"viewport_height"`
	MaxLaunchFailures int           `mapstructure:"max_launch_failures" yaml:"max_launch_failures"`
	LaunchTimeout     time.Duration `mapstructure:"launch_timeout"      yaml:"launch_timeout"`
}

// SelectorConfig holds the CSS selectors used to extract template fields.
type SelectorConfig struct {
	Ready            string `mapstructure:"ready"             yaml:"ready"`
	Name             string `mapstructure:"name"              yaml:"name"`
	AuthorName       string `mapstructure:"author_name"       yaml:"author_name"`
	AuthorURL        string `mapstructure:"author_url"        yaml:"author_url"`
	Price            string `mapstructure:"price"             yaml:"price"`
	ShortDescription string `mapstructure:"short_description" yaml:"short_description"`
	LongDescription  string `mapstructure:"long_description"  yaml:"long_description"`
	Categories       string `mapstructure:"categories"        yaml:"categories"`
	Styles           string `mapstructure:"styles"            yaml:"styles"`
	Features         string `mapstructure:"features"          yaml:"features"`
	LivePreview      string `mapstructure:"live_preview"      yaml:"live_preview"`
}

// ScreenshotConfig controls page preparation that is not a runtime tunable.
type ScreenshotConfig struct {
	ExcludeSelectors []string `mapstructure:"exclude_selectors" yaml:"exclude_selectors"`
	ArchiveHTML      bool     `mapstructure:"archive_html"      yaml:"archive_html"`
}

// DatabaseConfig controls the Postgres state store.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"               yaml:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"    yaml:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"    yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"      yaml:"auto_migrate"`
}

// StorageConfig controls where screenshots and HTML archives are written.
type StorageConfig struct {
	Type       string   `mapstructure:"type"        yaml:"type"`
	OutputPath string   `mapstructure:"output_path" yaml:"output_path"`
	PublicURL  string   `mapstructure:"public_url"  yaml:"public_url"`
	S3         S3Config `mapstructure:"s3"          yaml:"s3"`
}

// S3Config configures the S3 asset store.
type S3Config struct {
	AccessKey    string `mapstructure:"access_key"    yaml:"access_key"`
	SecretKey    string `mapstructure:"secret_key"    yaml:"secret_key"`
	BaseEndpoint string `mapstructure:"base_endpoint" yaml:"base_endpoint"`
	Region       string `mapstructure:"region"        yaml:"region"`
	Bucket       string `mapstructure:"bucket"        yaml:"bucket"`
	KeyPrefix    string `mapstructure:"key_prefix"    yaml:"key_prefix"`
	PathStyle    bool   `mapstructure:"path_style"    yaml:"path_style"`
}

// CatalogConfig controls where extracted templates are written.
type CatalogConfig struct {
	Postgres  bool        `mapstructure:"postgres"   yaml:"postgres"`
	JSONLPath string      `mapstructure:"jsonl_path" yaml:"jsonl_path"`
	Mongo     MongoConfig `mapstructure:"mongo"      yaml:"mongo"`
}

// MongoConfig configures the optional MongoDB catalog sink.
type MongoConfig struct {
	URI        string `mapstructure:"uri"        yaml:"uri"`
	Database   string `mapstructure:"database"   yaml:"database"`
	Collection string `mapstructure:"collection" yaml:"collection"`
}

// EventsConfig controls the event bus and its external fan-out.
type EventsConfig struct {
	BufferSize  int         `mapstructure:"buffer_size"   yaml:"buffer_size"`
	LogRingSize int         `mapstructure:"log_ring_size" yaml:"log_ring_size"`
	Redis       RedisConfig `mapstructure:"redis"         yaml:"redis"`
}

// RedisConfig configures the Redis stream publisher. Empty Addr disables it.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"     yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db"       yaml:"db"`
	Stream   string `mapstructure:"stream"   yaml:"stream"`
	MaxLen   int64  `mapstructure:"max_len"  yaml:"max_len"`
}

// DiscoveryConfig controls marketplace sitemap discovery.
type DiscoveryConfig struct {
	SitemapURL      string        `mapstructure:"sitemap_url"      yaml:"sitemap_url"`
	TemplatePattern string        `mapstructure:"template_pattern" yaml:"template_pattern"`
	Timeout         time.Duration `mapstructure:"timeout"          yaml:"timeout"`
	UserAgent       string        `mapstructure:"user_agent"       yaml:"user_agent"`
	MaxItems        int           `mapstructure:"max_items"        yaml:"max_items"`
}

// ScheduleConfig controls recurring runs in serve mode.
type ScheduleConfig struct {
	FreshCron string `mapstructure:"fresh_cron" yaml:"fresh_cron"`
}

// APIConfig controls the admin control API.
type APIConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Port    int  `mapstructure:"port"    yaml:"port"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Port    int    `mapstructure:"port"    yaml:"port"`
	Path    string `mapstructure:"path"    yaml:"path"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Performance: DefaultPerformance(),
		Browser: BrowserConfig{
			Headless:          true,
			Stealth:           false,
			NoSandbox:         true,
			ViewportWidth:     1440,
			ViewportHeight:    900,
			MaxLaunchFailures: 3,
			LaunchTimeout:     30 * time.Second,
			UserAgent:         "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		},
		Selectors: SelectorConfig{
			Ready:            "h1",
			Name:             "h1",
			AuthorName:       "[data-designer-name], .designer-name, a[href*='/designers/']",
			AuthorURL:        "a[href*='/designers/']",
			Price:            "[data-price], .template-price, .price",
			ShortDescription: ".template-summary, .template-tagline, header p",
			LongDescription:  ".template-description, .rich-text, article",
			Categories:       "a[href*='/templates/category/']",
			Styles:           "a[href*='/templates/style/']",
			Features:         ".template-features li, a[href*='/templates/feature/']",
			LivePreview:      "a[href*='.webflow.io'], a[data-preview-url], a.live-preview",
		},
		Screenshot: ScreenshotConfig{
			ExcludeSelectors: []string{
				"#onetrust-consent-sdk",
				".cookie-banner",
				"[class*='cookie']",
				"#intercom-container",
				".crisp-client",
				"iframe[src*='chat']",
			},
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			AutoMigrate:     true,
		},
		Storage: StorageConfig{
			Type:       "file",
			OutputPath: "./screenshots",
		},
		Catalog: CatalogConfig{
			Postgres: true,
			Mongo: MongoConfig{
				Database:   "templatescout",
				Collection: "templates",
			},
		},
		Events: EventsConfig{
			BufferSize:  256,
			LogRingSize: 500,
			Redis: RedisConfig{
				Stream: "templatescout:events",
				MaxLen: 10000,
			},
		},
		Discovery: DiscoveryConfig{
			SitemapURL:      "https://templates.webflow.com/sitemap.xml",
			TemplatePattern: `/html/[a-z0-9-]+-website-template/?$`,
			Timeout:         30 * time.Second,
		},
		API: APIConfig{
			Enabled: true,
			Port:    8088,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
			Path:    "/metrics",
		},
	}
}
