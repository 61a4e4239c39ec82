package browserpool

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/IshaanNene/templatescout/internal/config"
)

// RodLauncher starts local Chromium processes through rod's launcher.
type RodLauncher struct {
	cfg    config.BrowserConfig
	logger *slog.Logger
}

// NewRodLauncher creates a launcher for the given browser settings.
func NewRodLauncher(cfg config.BrowserConfig, logger *slog.Logger) *RodLauncher {
	return &RodLauncher{
		cfg:    cfg,
		logger: logger.With("component", "rod_launcher"),
	}
}

type launchResult struct {
	url string
	err error
}

// Launch starts Chromium with automation-friendly flags and connects to it.
func (rl *RodLauncher) Launch(ctx context.Context) (Browser, error) {
	l := launcher.New().
		Headless(rl.cfg.Headless).
		NoSandbox(rl.cfg.NoSandbox).
		Set("disable-gpu").
		Set("disable-dev-shm-usage").
		Set("disable-setuid-sandbox").
		Set("hide-scrollbars").
		Set("mute-audio").
		Set("disable-features", "IsolateOrigins,site-per-process").
		Set("disable-blink-features", "AutomationControlled").
		Set("window-size", fmt.Sprintf("%d,%d", rl.cfg.ViewportWidth, rl.cfg.ViewportHeight))

	if rl.cfg.Bin != "" {
		l = l.Bin(rl.cfg.Bin)
	}

	timeout := rl.cfg.LaunchTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	// launcher.Launch is not context aware; race it against ctx and the
	// launch timeout and kill the process if it loses.
	done := make(chan launchResult, 1)
	go func() {
		u, err := l.Launch()
		done <- launchResult{url: u, err: err}
	}()

	var res launchResult
	select {
	case res = <-done:
	case <-ctx.Done():
		l.Kill()
		return nil, fmt.Errorf("launch browser: %w", ctx.Err())
	case <-time.After(timeout):
		l.Kill()
		return nil, fmt.Errorf("launch browser: timed out after %s", timeout)
	}
	if res.err != nil {
		return nil, fmt.Errorf("launch browser: %w", res.err)
	}

	browser := rod.New().ControlURL(res.url)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connect browser: %w", err)
	}

	rl.logger.Debug("browser connected", "control_url", res.url, "pid", l.PID())

	return &rodBrowser{
		browser:  browser,
		launcher: l,
		cfg:      rl.cfg,
	}, nil
}

// rodBrowser adapts a connected *rod.Browser to the Browser interface.
type rodBrowser struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
	cfg      config.BrowserConfig
}

// NewPage opens a blank page, optionally with stealth patches, sized to
// the configured viewport.
func (b *rodBrowser) NewPage(_ context.Context) (*rod.Page, error) {
	var (
		page *rod.Page
		err  error
	)
	if b.cfg.Stealth {
		page, err = stealth.Page(b.browser)
	} else {
		page, err = b.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	}
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}

	err = page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             b.cfg.ViewportWidth,
		Height:            b.cfg.ViewportHeight,
		DeviceScaleFactor: 1,
	})
	if err != nil {
		_ = page.Close()
		return nil, fmt.Errorf("set viewport: %w", err)
	}

	if b.cfg.UserAgent != "" {
		err = page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: b.cfg.UserAgent})
		if err != nil {
			_ = page.Close()
			return nil, fmt.Errorf("set user agent: %w", err)
		}
	}

	return page, nil
}

// Alive pings the browser over CDP.
func (b *rodBrowser) Alive() bool {
	_, err := proto.BrowserGetVersion{}.Call(b.browser.Timeout(2 * time.Second))
	return err == nil
}

// Close closes the CDP connection and kills the process.
func (b *rodBrowser) Close() error {
	err := b.browser.Close()
	b.launcher.Kill()
	return err
}
