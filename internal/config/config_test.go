package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := Validate(cfg); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Performance != cfg.Performance.Clamp() {
		t.Error("default performance config should already be within range")
	}
}

func TestClampIsExhaustive(t *testing.T) {
	low := PerformanceConfig{
		Concurrency:           -1,
		BrowserInstances:      0,
		PagesPerBrowser:       -5,
		BatchSize:             0,
		ItemTimeout:           time.Millisecond,
		TimeoutPauseThreshold: 0,
		AnimationWait:         -time.Second,
		ScrollFraction:        -0.5,
		ScrollSettle:          -time.Second,
		StabilityMaxWait:      -time.Second,
		StabilityPollInterval: time.Millisecond,
		PreviewWidth:          1,
		PreviewQuality:        0,
		ThumbnailWidth:        1,
		ThumbnailHeight:       1,
		ThumbnailQuality:      -3,
	}.Clamp()

	if low.Concurrency != 1 || low.BrowserInstances != 1 || low.PagesPerBrowser != 1 || low.BatchSize != 1 {
		t.Errorf("integer minimums not applied: %+v", low)
	}
	if low.ItemTimeout != 5*time.Second {
		t.Errorf("ItemTimeout = %v, want 5s", low.ItemTimeout)
	}
	if low.TimeoutPauseThreshold != 1 {
		t.Errorf("TimeoutPauseThreshold = %d, want 1", low.TimeoutPauseThreshold)
	}
	if low.AnimationWait != 0 || low.ScrollSettle != 0 || low.StabilityMaxWait != 0 {
		t.Errorf("negative waits should clamp to zero: %+v", low)
	}
	if low.ScrollFraction != 0 {
		t.Errorf("ScrollFraction = %v, want 0", low.ScrollFraction)
	}
	if low.StabilityPollInterval != 50*time.Millisecond {
		t.Errorf("StabilityPollInterval = %v, want 50ms", low.StabilityPollInterval)
	}
	if low.PreviewWidth != 320 || low.PreviewQuality != 10 {
		t.Errorf("preview minimums not applied: %+v", low)
	}
	if low.ThumbnailWidth != 100 || low.ThumbnailHeight != 75 || low.ThumbnailQuality != 10 {
		t.Errorf("thumbnail minimums not applied: %+v", low)
	}

	high := PerformanceConfig{
		Concurrency:           1000,
		BrowserInstances:      100,
		PagesPerBrowser:       100,
		BatchSize:             1e6,
		ItemTimeout:           time.Hour,
		TimeoutPauseThreshold: 1e4,
		AnimationWait:         time.Hour,
		ScrollFraction:        3,
		ScrollSettle:          time.Hour,
		StabilityMaxWait:      time.Hour,
		StabilityPollInterval: time.Hour,
		PreviewWidth:          1e5,
		PreviewQuality:        101,
		ThumbnailWidth:        1e5,
		ThumbnailHeight:       1e5,
		ThumbnailQuality:      200,
	}.Clamp()

	want := PerformanceConfig{
		Concurrency:           32,
		BrowserInstances:      8,
		PagesPerBrowser:       8,
		BatchSize:             500,
		ItemTimeout:           10 * time.Minute,
		TimeoutPauseThreshold: 100,
		AnimationWait:         30 * time.Second,
		ScrollFraction:        1,
		ScrollSettle:          10 * time.Second,
		StabilityMaxWait:      30 * time.Second,
		StabilityPollInterval: 5 * time.Second,
		PreviewWidth:          3840,
		PreviewQuality:        100,
		ThumbnailWidth:        1200,
		ThumbnailHeight:       900,
		ThumbnailQuality:      100,
	}
	if high != want {
		t.Errorf("Clamp() high\n got %+v\nwant %+v", high, want)
	}
}

func TestMergeAppliesOnlySetFields(t *testing.T) {
	base := DefaultPerformance()
	conc := 8
	size := 0
	timeout := Duration(30 * time.Second)

	got := base.Merge(PerformancePatch{
		Concurrency: &conc,
		BatchSize:   &size,
		ItemTimeout: &timeout,
	})

	if got.Concurrency != 8 {
		t.Errorf("Concurrency = %d, want 8", got.Concurrency)
	}
	if got.BatchSize != 1 {
		t.Errorf("BatchSize = %d, want clamped 1", got.BatchSize)
	}
	if got.ItemTimeout != 30*time.Second {
		t.Errorf("ItemTimeout = %v, want 30s", got.ItemTimeout)
	}
	if got.BrowserInstances != base.BrowserInstances || got.PreviewQuality != base.PreviewQuality {
		t.Error("unset fields should be unchanged")
	}
	if base.Concurrency != 4 {
		t.Error("Merge must not mutate the receiver")
	}
}

func TestPatchJSON(t *testing.T) {
	var pp PerformancePatch
	body := `{"concurrency": 6, "item_timeout": "45s", "stability_max_wait": 1500, "scroll_fraction": 0.25}`
	if err := json.Unmarshal([]byte(body), &pp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if pp.Concurrency == nil || *pp.Concurrency != 6 {
		t.Errorf("Concurrency = %v", pp.Concurrency)
	}
	if pp.ItemTimeout == nil || time.Duration(*pp.ItemTimeout) != 45*time.Second {
		t.Errorf("ItemTimeout = %v", pp.ItemTimeout)
	}
	if pp.StabilityMaxWait == nil || time.Duration(*pp.StabilityMaxWait) != 1500*time.Millisecond {
		t.Errorf("StabilityMaxWait = %v", pp.StabilityMaxWait)
	}
	if pp.BatchSize != nil {
		t.Error("BatchSize should be nil when absent")
	}
	if pp.Empty() {
		t.Error("patch should not be empty")
	}
	if !(PerformancePatch{}).Empty() {
		t.Error("zero patch should be empty")
	}

	if err := json.Unmarshal([]byte(`{"item_timeout": "soon"}`), &pp); err == nil {
		t.Error("expected error for invalid duration string")
	}
}

func TestPoolChanged(t *testing.T) {
	a := DefaultPerformance()
	b := a
	b.Concurrency = 10
	if a.PoolChanged(b) {
		t.Error("concurrency change should not require a pool resize")
	}
	b.PagesPerBrowser = 3
	if !a.PoolChanged(b) {
		t.Error("pages per browser change should require a pool resize")
	}
	if b.Capacity() != b.BrowserInstances*3 {
		t.Errorf("Capacity() = %d", b.Capacity())
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"storage type", func(c *Config) { c.Storage.Type = "ftp" }, "storage.type"},
		{"s3 bucket", func(c *Config) { c.Storage.Type = "s3" }, "bucket"},
		{"log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"cron", func(c *Config) { c.Schedule.FreshCron = "every day" }, "fresh_cron"},
		{"pattern", func(c *Config) { c.Discovery.TemplatePattern = "([" }, "template_pattern"},
		{"api port", func(c *Config) { c.API.Port = 0 }, "api.port"},
		{"launch failures", func(c *Config) { c.Browser.MaxLaunchFailures = 0 }, "max_launch_failures"},
		{"redis stream", func(c *Config) {
			c.Events.Redis.Addr = "localhost:6379"
			c.Events.Redis.Stream = ""
		}, "events.redis.stream"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q should mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadFileAndClamp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "templatescout.yaml")
	content := `
performance:
  concurrency: 500
  batch_size: 10
  item_timeout: 45s
storage:
  type: file
  output_path: /tmp/shots
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Performance.Concurrency != 32 {
		t.Errorf("Concurrency = %d, want clamped 32", cfg.Performance.Concurrency)
	}
	if cfg.Performance.BatchSize != 10 {
		t.Errorf("BatchSize = %d, want 10", cfg.Performance.BatchSize)
	}
	if cfg.Performance.ItemTimeout != 45*time.Second {
		t.Errorf("ItemTimeout = %v, want 45s", cfg.Performance.ItemTimeout)
	}
	if cfg.Performance.TimeoutPauseThreshold != 5 {
		t.Errorf("TimeoutPauseThreshold = %d, want default 5", cfg.Performance.TimeoutPauseThreshold)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q", cfg.Logging.Level)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("TEMPLATESCOUT_PERFORMANCE_BATCH_SIZE", "7")
	t.Setenv("TEMPLATESCOUT_DATABASE_DSN", "postgres://u:p@localhost/scout?sslmode=disable")

	dir := t.TempDir()
	path := filepath.Join(dir, "empty.yaml")
	if err := os.WriteFile(path, []byte("{}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Performance.BatchSize != 7 {
		t.Errorf("BatchSize = %d, want 7 from env", cfg.Performance.BatchSize)
	}
	if !strings.HasPrefix(cfg.Database.DSN, "postgres://") {
		t.Errorf("DSN = %q, want env value", cfg.Database.DSN)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing explicit config file")
	}
}
