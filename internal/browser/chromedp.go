package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/screencrawl/internal/crawler"
)

const (
	screenshotQuality = 90
	aliveTimeout      = 2 * time.Second
)

// Chromedp launches sessions through chromedp and headless Chrome.
type Chromedp struct {
	cfg    Config
	logger *zap.Logger
}

// NewChromedp creates a chromedp-backed session factory.
func NewChromedp(cfg Config, logger *zap.Logger) *Chromedp {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chromedp{cfg: cfg.withDefaults(), logger: logger}
}

func (c *Chromedp) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.NoSandbox,
		chromedp.WindowSize(c.cfg.WindowWidth, c.cfg.WindowHeight),
	)
	if c.cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if bin := resolveBinary(c.cfg, c.logger); bin != "" {
		opts = append(opts, chromedp.ExecPath(bin))
	}
	if c.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(c.cfg.UserAgent))
	}
	return opts
}

// Open launches a browser and returns a session owning it. The browser is
// not tied to ctx; callers release it with Quit.
func (c *Chromedp) Open(ctx context.Context) (crawler.Session, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), c.allocatorOptions()...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(c.logger.Sugar().Debugf),
	)

	launchCtx, launchCancel := context.WithTimeout(ctx, c.cfg.LaunchTimeout)
	defer launchCancel()
	stop := context.AfterFunc(launchCtx, browserCancel)
	// The first Run must use the context returned by NewContext; a derived
	// context would close the browser when it is cancelled.
	err := chromedp.Run(browserCtx, c.setupAction())
	stopped := stop()
	if err != nil || !stopped {
		browserCancel()
		allocCancel()
		if err == nil {
			err = launchCtx.Err()
		}
		return nil, fmt.Errorf("launch chrome: %w", err)
	}

	s := &chromedpSession{
		ctx:         browserCtx,
		cancel:      browserCancel,
		allocCancel: allocCancel,
		meta:        newResponseMeta(),
		logger:      c.logger,
	}
	chromedp.ListenTarget(browserCtx, s.meta.captureEvent)
	c.logger.Debug("chrome session opened", zap.Bool("headless", c.cfg.Headless))
	return s, nil
}

func (c *Chromedp) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if len(c.cfg.Headers) > 0 {
			headers := network.Headers{}
			for k, v := range c.cfg.Headers {
				headers[k] = v
			}
			if err := network.SetExtraHTTPHeaders(headers).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

type chromedpSession struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	meta        *responseMeta
	logger      *zap.Logger

	blockOnce sync.Once
	blockErr  error
	quitOnce  sync.Once
	quitErr   error
}

// run executes actions on the session's tab, bounded by ctx.
func (s *chromedpSession) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		var dcancel context.CancelFunc
		runCtx, dcancel = context.WithDeadline(runCtx, deadline)
		defer dcancel()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %w", ctxErr, err)
	}
	if s.lost() {
		return fmt.Errorf("%w: %w", crawler.ErrSessionLost, err)
	}
	return err
}

// lost reports whether the browser stopped answering.
func (s *chromedpSession) lost() bool {
	if s.ctx.Err() != nil {
		return true
	}
	aliveCtx, cancel := context.WithTimeout(s.ctx, aliveTimeout)
	defer cancel()
	return chromedp.Run(aliveCtx, chromedp.Evaluate("1", nil)) != nil
}

func (s *chromedpSession) Navigate(ctx context.Context, url string) error {
	s.meta.reset()
	if err := s.run(ctx, chromedp.Navigate(url)); err != nil {
		return err
	}
	if status, finalURL := s.meta.snapshot(); status != 0 {
		s.logger.Debug("document response", zap.String("url", url), zap.String("final_url", finalURL), zap.Int("status", status))
	}
	return nil
}

func (s *chromedpSession) WaitReady(ctx context.Context, selector string) error {
	return s.run(ctx, chromedp.WaitReady(selector, chromedp.ByQuery))
}

func (s *chromedpSession) Eval(ctx context.Context, expr string, out any) error {
	return s.run(ctx, chromedp.Evaluate(expr, out))
}

func (s *chromedpSession) Screenshot(ctx context.Context, format crawler.Format) ([]byte, error) {
	var buf []byte
	err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		params := page.CaptureScreenshot().WithFormat(cdpFormat(format))
		if format != crawler.FormatPNG {
			params = params.WithQuality(screenshotQuality)
		}
		var err error
		buf, err = params.Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	return buf, nil
}

func (s *chromedpSession) Anchors(ctx context.Context, loc crawler.Locator) ([]crawler.Anchor, error) {
	var anchors []crawler.Anchor
	if err := s.run(ctx, chromedp.Evaluate(crawler.AnchorScript(loc), &anchors)); err != nil {
		return nil, err
	}
	return anchors, nil
}

// BlockURLs fails every request whose URL matches one of patterns. The
// interception is installed once per session.
func (s *chromedpSession) BlockURLs(ctx context.Context, patterns []string) error {
	if len(patterns) == 0 {
		return nil
	}
	s.blockOnce.Do(func() {
		reqPatterns := make([]*fetch.RequestPattern, 0, len(patterns))
		for _, p := range patterns {
			reqPatterns = append(reqPatterns, &fetch.RequestPattern{URLPattern: p})
		}
		chromedp.ListenTarget(s.ctx, func(ev any) {
			paused, ok := ev.(*fetch.EventRequestPaused)
			if !ok {
				return
			}
			go func() {
				c := chromedp.FromContext(s.ctx)
				if c == nil || c.Target == nil {
					return
				}
				execCtx := cdp.WithExecutor(s.ctx, c.Target)
				if err := fetch.FailRequest(paused.RequestID, network.ErrorReasonBlockedByClient).Do(execCtx); err != nil {
					s.logger.Debug("failed to block request", zap.String("url", paused.Request.URL), zap.Error(err))
				}
			}()
		})
		s.blockErr = s.run(ctx, fetch.Enable().WithPatterns(reqPatterns))
	})
	return s.blockErr
}

// Quit closes the browser gracefully, then tears down the allocator.
func (s *chromedpSession) Quit() error {
	s.quitOnce.Do(func() {
		if err := chromedp.Cancel(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.quitErr = fmt.Errorf("close chrome: %w", err)
		}
		s.cancel()
		s.allocCancel()
	})
	return s.quitErr
}

func cdpFormat(format crawler.Format) page.CaptureScreenshotFormat {
	switch format {
	case crawler.FormatJPEG:
		return page.CaptureScreenshotFormatJpeg
	case crawler.FormatWebP:
		return page.CaptureScreenshotFormatWebp
	default:
		return page.CaptureScreenshotFormatPng
	}
}

// responseMeta records the main document response of the last navigation.
type responseMeta struct {
	mu     sync.RWMutex
	status int
	url    string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	m.mu.Lock()
	m.status = int(event.Response.Status)
	m.url = event.Response.URL
	m.mu.Unlock()
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) reset() {
	m.mu.Lock()
	m.status = 0
	m.url = ""
	m.mu.Unlock()
}

func (m *responseMeta) snapshot() (int, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status, m.url
}
