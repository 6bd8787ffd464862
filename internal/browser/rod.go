package browser

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"github.com/JakeFAU/screencrawl/internal/crawler"
)

// Rod launches sessions through go-rod.
type Rod struct {
	cfg    Config
	logger *zap.Logger
}

// NewRod creates a go-rod-backed session factory.
func NewRod(cfg Config, logger *zap.Logger) *Rod {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Rod{cfg: cfg.withDefaults(), logger: logger}
}

func (r *Rod) launcher() *launcher.Launcher {
	l := launcher.New().
		Headless(r.cfg.Headless).
		NoSandbox(true).
		Set("disable-gpu").
		Set("disable-dev-shm-usage").
		Set("hide-scrollbars").
		Set("window-size", fmt.Sprintf("%d,%d", r.cfg.WindowWidth, r.cfg.WindowHeight))
	if bin := resolveBinary(r.cfg, r.logger); bin != "" {
		l = l.Bin(bin)
	}
	if r.cfg.UserAgent != "" {
		l = l.Set("user-agent", r.cfg.UserAgent)
	}
	return l
}

// Open launches a browser with one blank tab sized to the configured window.
func (r *Rod) Open(ctx context.Context) (crawler.Session, error) {
	l := r.launcher()
	type launched struct {
		url string
		err error
	}
	done := make(chan launched, 1)
	go func() {
		u, err := l.Launch()
		done <- launched{url: u, err: err}
	}()

	var wsURL string
	select {
	case <-ctx.Done():
		go func() {
			<-done
			l.Kill()
			l.Cleanup()
		}()
		return nil, fmt.Errorf("launch chrome: %w", ctx.Err())
	case res := <-done:
		if res.err != nil {
			return nil, fmt.Errorf("launch chrome: %w", res.err)
		}
		wsURL = res.url
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		l.Kill()
		l.Cleanup()
		return nil, fmt.Errorf("connect chrome: %w", err)
	}
	p, err := b.Page(proto.TargetCreateTarget{URL: ""})
	if err != nil {
		_ = b.Close()
		l.Kill()
		l.Cleanup()
		return nil, fmt.Errorf("create tab: %w", err)
	}
	if err := p.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             r.cfg.WindowWidth,
		Height:            r.cfg.WindowHeight,
		DeviceScaleFactor: 1,
	}); err != nil {
		r.logger.Warn("set viewport failed", zap.Error(err))
	}
	if len(r.cfg.Headers) > 0 {
		pairs := make([]string, 0, 2*len(r.cfg.Headers))
		for k, v := range r.cfg.Headers {
			pairs = append(pairs, k, v)
		}
		if _, err := p.SetExtraHeaders(pairs); err != nil {
			r.logger.Warn("set extra headers failed", zap.Error(err))
		}
	}
	r.logger.Debug("rod session opened", zap.Bool("headless", r.cfg.Headless))
	return &rodSession{browser: b, page: p, launcher: l, logger: r.logger}, nil
}

type rodSession struct {
	browser  *rod.Browser
	page     *rod.Page
	launcher *launcher.Launcher
	logger   *zap.Logger

	router   *rod.HijackRouter
	blockMu  sync.Mutex
	quitOnce sync.Once
	quitErr  error
}

// wrap classifies err, marking it session-fatal when the browser no longer
// answers.
func (s *rodSession) wrap(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %w", ctxErr, err)
	}
	if _, verr := s.browser.Version(); verr != nil {
		return fmt.Errorf("%w: %w", crawler.ErrSessionLost, err)
	}
	return err
}

func (s *rodSession) Navigate(ctx context.Context, url string) error {
	p := s.page.Context(ctx)
	if err := p.Navigate(url); err != nil {
		return s.wrap(ctx, err)
	}
	return s.wrap(ctx, p.WaitLoad())
}

func (s *rodSession) WaitReady(ctx context.Context, selector string) error {
	_, err := s.page.Context(ctx).Element(selector)
	return s.wrap(ctx, err)
}

func (s *rodSession) Eval(ctx context.Context, expr string, out any) error {
	res, err := s.page.Context(ctx).Eval("() => (" + expr + ")")
	if err != nil {
		return s.wrap(ctx, err)
	}
	if out == nil {
		return nil
	}
	if err := res.Value.Unmarshal(out); err != nil {
		return fmt.Errorf("decode %q: %w", expr, err)
	}
	return nil
}

func (s *rodSession) Screenshot(ctx context.Context, format crawler.Format) ([]byte, error) {
	req := &proto.PageCaptureScreenshot{Format: rodFormat(format)}
	if format != crawler.FormatPNG {
		q := screenshotQuality
		req.Quality = &q
	}
	buf, err := s.page.Context(ctx).Screenshot(false, req)
	if err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", s.wrap(ctx, err))
	}
	return buf, nil
}

func (s *rodSession) Anchors(ctx context.Context, loc crawler.Locator) ([]crawler.Anchor, error) {
	var anchors []crawler.Anchor
	if err := s.Eval(ctx, crawler.AnchorScript(loc), &anchors); err != nil {
		return nil, err
	}
	return anchors, nil
}

// BlockURLs fails every request whose URL matches one of patterns.
func (s *rodSession) BlockURLs(_ context.Context, patterns []string) error {
	if len(patterns) == 0 {
		return nil
	}
	s.blockMu.Lock()
	defer s.blockMu.Unlock()
	if s.router != nil {
		return nil
	}
	router := s.page.HijackRequests()
	for _, pattern := range patterns {
		err := router.Add(pattern, "", func(h *rod.Hijack) {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
		})
		if err != nil {
			_ = router.Stop()
			return fmt.Errorf("block %q: %w", pattern, err)
		}
	}
	go router.Run()
	s.router = router
	return nil
}

func (s *rodSession) Quit() error {
	s.quitOnce.Do(func() {
		s.blockMu.Lock()
		if s.router != nil {
			_ = s.router.Stop()
		}
		s.blockMu.Unlock()
		if err := s.browser.Close(); err != nil {
			s.quitErr = fmt.Errorf("close chrome: %w", err)
		}
		s.launcher.Kill()
		s.launcher.Cleanup()
	})
	return s.quitErr
}

func rodFormat(format crawler.Format) proto.PageCaptureScreenshotFormat {
	switch format {
	case crawler.FormatJPEG:
		return proto.PageCaptureScreenshotFormatJpeg
	case crawler.FormatWebP:
		return proto.PageCaptureScreenshotFormatWebp
	default:
		return proto.PageCaptureScreenshotFormatPng
	}
}
