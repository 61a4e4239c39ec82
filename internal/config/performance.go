package config

import (
	"cmp"
	"encoding/json"
	"fmt"
	"time"
)

// PerformanceConfig holds the tunables an operator may change while a
// session runs. Every field has a safe range enforced by Clamp.
type PerformanceConfig struct {
	Concurrency           int           `mapstructure:"concurrency"             yaml:"concurrency"             json:"concurrency"`
	BrowserInstances      int           `mapstructure:"browser_instances"       yaml:"browser_instances"       json:"browser_instances"`
	PagesPerBrowser       int           `mapstructure:"pages_per_browser"       yaml:"pages_per_browser"       json:"pages_per_browser"`
	BatchSize             int           `mapstructure:"batch_size"              yaml:"batch_size"              json:"batch_size"`
	ItemTimeout           time.Duration `mapstructure:"item_timeout"            yaml:"item_timeout"            json:"item_timeout"`
	TimeoutPauseThreshold int           `mapstructure:"timeout_pause_threshold" yaml:"timeout_pause_threshold" json:"timeout_pause_threshold"`

	AnimationWait         time.Duration `mapstructure:"animation_wait"          yaml:"animation_wait"          json:"animation_wait"`
	ScrollFraction        float64       `mapstructure:"scroll_fraction"         yaml:"scroll_fraction"         json:"scroll_fraction"`
	ScrollSettle          time.Duration `mapstructure:"scroll_settle"           yaml:"scroll_settle"           json:"scroll_settle"`
	StabilityMaxWait      time.Duration `mapstructure:"stability_max_wait"      yaml:"stability_max_wait"      json:"stability_max_wait"`
	StabilityPollInterval time.Duration `mapstructure:"stability_poll_interval" yaml:"stability_poll_interval" json:"stability_poll_interval"`

	PreviewWidth     int `mapstructure:"preview_width"     yaml:"preview_width"     json:"preview_width"`
	PreviewQuality   int `mapstructure:"preview_quality"   yaml:"preview_quality"   json:"preview_quality"`
	ThumbnailWidth   int `mapstructure:"thumbnail_width"   yaml:"thumbnail_width"   json:"thumbnail_width"`
	ThumbnailHeight  int `mapstructure:"thumbnail_height"  yaml:"thumbnail_height"  json:"thumbnail_height"`
	ThumbnailQuality int `mapstructure:"thumbnail_quality" yaml:"thumbnail_quality" json:"thumbnail_quality"`
}

// DefaultPerformance returns the tunables used when nothing is configured.
func DefaultPerformance() PerformanceConfig {
	return PerformanceConfig{
		Concurrency:           4,
		BrowserInstances:      2,
		PagesPerBrowser:       2,
		BatchSize:             20,
		ItemTimeout:           90 * time.Second,
		TimeoutPauseThreshold: 5,

		AnimationWait:         3 * time.Second,
		ScrollFraction:        0.5,
		ScrollSettle:          time.Second,
		StabilityMaxWait:      5 * time.Second,
		StabilityPollInterval: 250 * time.Millisecond,

		PreviewWidth:     1440,
		PreviewQuality:   85,
		ThumbnailWidth:   600,
		ThumbnailHeight:  450,
		ThumbnailQuality: 70,
	}
}

func clamp[T cmp.Ordered](v, lo, hi T) T {
	return min(max(v, lo), hi)
}

// Clamp returns a copy with every field forced into its safe range.
func (p PerformanceConfig) Clamp() PerformanceConfig {
	p.Concurrency = clamp(p.Concurrency, 1, 32)
	p.BrowserInstances = clamp(p.BrowserInstances, 1, 8)
	p.PagesPerBrowser = clamp(p.PagesPerBrowser, 1, 8)
	p.BatchSize = clamp(p.BatchSize, 1, 500)
	p.ItemTimeout = clamp(p.ItemTimeout, 5*time.Second, 10*time.Minute)
	p.TimeoutPauseThreshold = clamp(p.TimeoutPauseThreshold, 1, 100)

	p.AnimationWait = clamp(p.AnimationWait, 0, 30*time.Second)
	p.ScrollFraction = clamp(p.ScrollFraction, 0, 1)
	p.ScrollSettle = clamp(p.ScrollSettle, 0, 10*time.Second)
	p.StabilityMaxWait = clamp(p.StabilityMaxWait, 0, 30*time.Second)
	p.StabilityPollInterval = clamp(p.StabilityPollInterval, 50*time.Millisecond, 5*time.Second)

	p.PreviewWidth = clamp(p.PreviewWidth, 320, 3840)
	p.PreviewQuality = clamp(p.PreviewQuality, 10, 100)
	p.ThumbnailWidth = clamp(p.ThumbnailWidth, 100, 1200)
	p.ThumbnailHeight = clamp(p.ThumbnailHeight, 75, 900)
	p.ThumbnailQuality = clamp(p.ThumbnailQuality, 10, 100)
	return p
}

// Capacity is the number of page slots the pool offers under this config.
func (p PerformanceConfig) Capacity() int {
	return p.BrowserInstances * p.PagesPerBrowser
}

// PoolChanged reports whether moving from p to o requires a pool resize.
func (p PerformanceConfig) PoolChanged(o PerformanceConfig) bool {
	return p.BrowserInstances != o.BrowserInstances || p.PagesPerBrowser != o.PagesPerBrowser
}

// Duration is a time.Duration that decodes from JSON as either a Go
// duration string ("90s") or a number of milliseconds.
type Duration time.Duration

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case string:
		parsed, err := time.ParseDuration(x)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", x, err)
		}
		*d = Duration(parsed)
	case float64:
		*d = Duration(time.Duration(x * float64(time.Millisecond)))
	default:
		return fmt.Errorf("invalid duration %s", string(b))
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// PerformancePatch is a partial PerformanceConfig. Nil fields are left
// unchanged by Merge.
type PerformancePatch struct {
	Concurrency           *int      `json:"concurrency,omitempty"`
	BrowserInstances      *int      `json:"browser_instances,omitempty"`
	PagesPerBrowser       *int      `json:"pages_per_browser,omitempty"`
	BatchSize             *int      `json:"batch_size,omitempty"`
	ItemTimeout           *Duration `json:"item_timeout,omitempty"`
	TimeoutPauseThreshold *int      `json:"timeout_pause_threshold,omitempty"`

	AnimationWait         *Duration `json:"animation_wait,omitempty"`
	ScrollFraction        *float64  `json:"scroll_fraction,omitempty"`
	ScrollSettle          *Duration `json:"scroll_settle,omitempty"`
	StabilityMaxWait      *Duration `json:"stability_max_wait,omitempty"`
	StabilityPollInterval *Duration `json:"stability_poll_interval,omitempty"`

	PreviewWidth     *int `json:"preview_width,omitempty"`
	PreviewQuality   *int `json:"preview_quality,omitempty"`
	ThumbnailWidth   *int `json:"thumbnail_width,omitempty"`
	ThumbnailHeight  *int `json:"thumbnail_height,omitempty"`
	ThumbnailQuality *int `json:"thumbnail_quality,omitempty"`
}

// Empty reports whether the patch sets no fields.
func (pp PerformancePatch) Empty() bool {
	return pp == PerformancePatch{}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src *Duration) {
	if src != nil {
		*dst = time.Duration(*src)
	}
}

// Merge applies the non-nil fields of pp on top of p and clamps the result.
func (p PerformanceConfig) Merge(pp PerformancePatch) PerformanceConfig {
	setInt(&p.Concurrency, pp.Concurrency)
	setInt(&p.BrowserInstances, pp.BrowserInstances)
	setInt(&p.PagesPerBrowser, pp.PagesPerBrowser)
	setInt(&p.BatchSize, pp.BatchSize)
	setDuration(&p.ItemTimeout, pp.ItemTimeout)
	setInt(&p.TimeoutPauseThreshold, pp.TimeoutPauseThreshold)

	setDuration(&p.AnimationWait, pp.AnimationWait)
	if pp.ScrollFraction != nil {
		p.ScrollFraction = *pp.ScrollFraction
	}
	setDuration(&p.ScrollSettle, pp.ScrollSettle)
	setDuration(&p.StabilityMaxWait, pp.StabilityMaxWait)
	setDuration(&p.StabilityPollInterval, pp.StabilityPollInterval)

	setInt(&p.PreviewWidth, pp.PreviewWidth)
	setInt(&p.PreviewQuality, pp.PreviewQuality)
	setInt(&p.ThumbnailWidth, pp.ThumbnailWidth)
	setInt(&p.ThumbnailHeight, pp.ThumbnailHeight)
	setInt(&p.ThumbnailQuality, pp.ThumbnailQuality)
	return p.Clamp()
}
