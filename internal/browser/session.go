package browser

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"github.com/v0xg/gridfill/internal/config"
)

// Session wraps the rod browser and the page that hosts the grid.
type Session struct {
	browser  *rod.Browser
	page     *rod.Page
	launcher *launcher.Launcher
	logger   *zap.Logger
}

// Open launches a browser, or attaches to cfg.ControlURL, and navigates to url.
func Open(ctx context.Context, url string, cfg config.BrowserConfig, logger *zap.Logger) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Session{logger: logger.Named("browser")}

	controlURL := cfg.ControlURL
	if controlURL == "" {
		l := launcher.New().Headless(cfg.Headless)
		if path, ok := launcher.LookPath(); ok {
			l = l.Bin(path)
		}
		u, err := l.Context(ctx).Launch()
		if err != nil {
			return nil, fmt.Errorf("launching browser: %w", err)
		}
		s.launcher = l
		controlURL = u
	}

	s.browser = rod.New().ControlURL(controlURL).Context(ctx)
	if err := s.browser.Connect(); err != nil {
		s.Close()
		return nil, fmt.Errorf("connecting to browser: %w", err)
	}

	page, err := s.browser.Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("opening %s: %w", url, err)
	}
	s.page = page

	if cfg.Width > 0 && cfg.Height > 0 {
		if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             cfg.Width,
			Height:            cfg.Height,
			DeviceScaleFactor: 1,
		}); err != nil {
			s.Close()
			return nil, fmt.Errorf("setting viewport: %w", err)
		}
	}

	if err := page.WaitLoad(); err != nil {
		s.Close()
		return nil, fmt.Errorf("waiting for page load: %w", err)
	}
	// Don't hang on pages that keep a connection open
	page.Timeout(5*time.Second).WaitRequestIdle(500*time.Millisecond, nil, nil, nil)()
	if cfg.NavigationWait > 0 {
		time.Sleep(cfg.NavigationWait)
	}

	s.logger.Info("page ready", zap.String("url", url), zap.Bool("attached", cfg.ControlURL != ""))
	return s, nil
}

// Page returns the underlying rod page
func (s *Session) Page() *rod.Page {
	return s.page
}

// Close releases the page and the browser. An attached browser is left running.
func (s *Session) Close() {
	if s.launcher == nil {
		// we don't own the browser, only our tab
		if s.page != nil {
			_ = s.page.Close()
		}
		return
	}
	if s.browser != nil {
		_ = s.browser.Close()
	}
	s.launcher.Cleanup()
}

// WaitForGrid polls until at least one row container is rendered or timeout expires.
func (s *Session) WaitForGrid(ctx context.Context, grid config.GridConfig, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		res, err := s.page.Context(ctx).Eval(`(attr) => document.querySelectorAll('[' + attr + ']').length`, grid.RowIndexAttr)
		if err == nil && res.Value.Int() > 0 {
			s.logger.Debug("grid rendered", zap.Int("rows", res.Value.Int()))
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("no element with %q appeared within %s: %w", grid.RowIndexAttr, timeout, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Capture takes a viewport screenshot.
func (s *Session) Capture(ctx context.Context) (image.Image, error) {
	data, err := s.page.Context(ctx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("capturing screenshot: %w", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding screenshot: %w", err)
	}
	return img, nil
}
