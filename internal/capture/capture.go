// Package capture prepares a rendered page for a screenshot and derives
// preview and thumbnail images from it.
package capture

import (
	"context"
	"log/slog"
	"path"
	"time"

	"github.com/go-rod/rod"

	"github.com/IshaanNene/templatescout/internal/assets"
	"github.com/IshaanNene/templatescout/internal/config"
	"github.com/IshaanNene/templatescout/internal/types"
)

// Options are the screenshot tunables for one capture.
type Options struct {
	AnimationWait         time.Duration
	ScrollFraction        float64
	ScrollSettle          time.Duration
	StabilityMaxWait      time.Duration
	StabilityPollInterval time.Duration

	PreviewWidth     int
	PreviewQuality   int
	ThumbnailWidth   int
	ThumbnailHeight  int
	ThumbnailQuality int
}

// OptionsFrom copies the screenshot fields out of a performance config.
func OptionsFrom(p config.PerformanceConfig) Options {
	return Options{
		AnimationWait:         p.AnimationWait,
		ScrollFraction:        p.ScrollFraction,
		ScrollSettle:          p.ScrollSettle,
		StabilityMaxWait:      p.StabilityMaxWait,
		StabilityPollInterval: p.StabilityPollInterval,
		PreviewWidth:          p.PreviewWidth,
		PreviewQuality:        p.PreviewQuality,
		ThumbnailWidth:        p.ThumbnailWidth,
		ThumbnailHeight:       p.ThumbnailHeight,
		ThumbnailQuality:      p.ThumbnailQuality,
	}
}

// Shots describes the stored images of one capture.
type Shots struct {
	PreviewKey   string `json:"preview_key"`
	ThumbnailKey string `json:"thumbnail_key"`
	PreviewURL   string `json:"preview_url"`
	ThumbnailURL string `json:"thumbnail_url"`
	Stable       bool   `json:"stable"`
}

// Capturer takes screenshots of rod pages and stores the derived images.
type Capturer struct {
	exclude []string
	store   assets.Store
	logger  *slog.Logger
}

// New creates a Capturer. Elements matching exclude are removed from the
// page before the screenshot is taken.
func New(store assets.Store, exclude []string, logger *slog.Logger) *Capturer {
	return &Capturer{
		exclude: exclude,
		store:   store,
		logger:  logger.With("component", "capture"),
	}
}

const layoutProbeJS = `() => {
	const d = document.documentElement;
	const imgs = Array.from(document.images);
	return [
		d.scrollWidth, d.scrollHeight,
		document.body ? document.body.childElementCount : 0,
		imgs.length, imgs.filter(i => i.complete).length,
		document.fonts ? document.fonts.status : '',
	].join(':');
}`

const removeJS = `(sels) => {
	let n = 0;
	for (const s of sels) {
		try {
			document.querySelectorAll(s).forEach(el => { el.remove(); n++; });
		} catch (e) {}
	}
	return n;
}`

// Prepare settles the page for a screenshot: it waits for idle, scrolls to
// trigger lazy content, strips excluded elements and polls for a stable
// layout. Every step is best effort; failures are logged and preparation
// continues. It reports whether the layout stabilized.
func (c *Capturer) Prepare(ctx context.Context, page *rod.Page, opts Options) bool {
	p := page.Context(ctx)

	if opts.AnimationWait > 0 {
		if err := p.Timeout(opts.AnimationWait).WaitIdle(opts.AnimationWait); err != nil {
			c.logger.Debug("page not idle within animation wait", "error", err)
		}
	}

	if opts.ScrollFraction > 0 {
		_, err := p.Eval(`(f) => window.scrollBy(0, Math.floor(window.innerHeight * f))`, opts.ScrollFraction)
		if err != nil {
			c.logger.Debug("scroll failed", "error", err)
		} else {
			sleep(ctx, opts.ScrollSettle)
			if _, err := p.Eval(`() => window.scrollTo(0, 0)`); err != nil {
				c.logger.Debug("scroll to top failed", "error", err)
			}
		}
	}

	if len(c.exclude) > 0 {
		res, err := p.Eval(removeJS, c.exclude)
		if err != nil {
			c.logger.Debug("exclusion removal failed", "error", err)
		} else if n := res.Value.Int(); n > 0 {
			c.logger.Debug("excluded elements removed", "count", n)
		}
	}

	probe := func(ctx context.Context) (string, error) {
		res, err := page.Context(ctx).Eval(layoutProbeJS)
		if err != nil {
			return "", err
		}
		return res.Value.Str(), nil
	}
	stable, err := WaitStable(ctx, probe, opts.StabilityMaxWait, opts.StabilityPollInterval)
	if err != nil {
		c.logger.Debug("stability wait interrupted", "error", err)
	}
	if !stable {
		c.logger.Debug("layout not stable, capturing anyway", "max_wait", opts.StabilityMaxWait)
	}
	return stable
}

// Grab prepares the page and takes a full-page PNG screenshot.
func (c *Capturer) Grab(ctx context.Context, page *rod.Page, opts Options) ([]byte, bool, error) {
	stable := c.Prepare(ctx, page, opts)
	raw, err := page.Context(ctx).Screenshot(true, nil)
	if err != nil {
		return nil, stable, &types.CaptureError{Stage: "screenshot", Err: err}
	}
	return raw, stable, nil
}

// Finish derives and stores the preview and thumbnail for slug.
func (c *Capturer) Finish(ctx context.Context, slug string, raw []byte, opts Options) (*Shots, error) {
	imgs, err := Process(raw, opts)
	if err != nil {
		return nil, err
	}

	shots := &Shots{
		PreviewKey:   path.Join(slug, "preview.jpg"),
		ThumbnailKey: path.Join(slug, "thumbnail.jpg"),
	}
	shots.PreviewURL, err = c.store.Put(ctx, shots.PreviewKey, "image/jpeg", imgs.Preview)
	if err != nil {
		return nil, &types.CaptureError{Stage: "store_preview", Err: err}
	}
	shots.ThumbnailURL, err = c.store.Put(ctx, shots.ThumbnailKey, "image/jpeg", imgs.Thumbnail)
	if err != nil {
		return nil, &types.CaptureError{Stage: "store_thumbnail", Err: err}
	}

	c.logger.Debug("screenshots stored",
		"slug", slug,
		"preview_bytes", len(imgs.Preview),
		"thumbnail_bytes", len(imgs.Thumbnail),
		"preview_size", [2]int{imgs.PreviewWidth, imgs.PreviewHeight},
	)
	return shots, nil
}

// Capture runs Grab and Finish back to back.
func (c *Capturer) Capture(ctx context.Context, page *rod.Page, slug string, opts Options) (*Shots, error) {
	raw, stable, err := c.Grab(ctx, page, opts)
	if err != nil {
		return nil, err
	}
	shots, err := c.Finish(ctx, slug, raw, opts)
	if err != nil {
		return nil, err
	}
	shots.Stable = stable
	return shots, nil
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
