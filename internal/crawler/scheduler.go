package crawler

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"go.uber.org/zap"
)

const (
	defaultReadyTimeout = 10 * time.Second
	readySelector       = "body"
)

// Scheduler drives one browser session breadth-first through the frontier.
type Scheduler struct {
	Sessions SessionFactory
	Capturer *Capturer
	Links    LinkExtractor
	Hooks    []Hook
	Logger   *zap.Logger
}

// NewScheduler constructs a Scheduler.
func NewScheduler(sessions SessionFactory, capturer *Capturer, hooks []Hook, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if capturer == nil {
		capturer = &Capturer{}
	}
	return &Scheduler{
		Sessions: sessions,
		Capturer: capturer,
		Hooks:    hooks,
		Logger:   logger,
	}
}

// Crawl visits seeds and every page reachable from them in FIFO order,
// yielding each page's artifacts as soon as they are written. A URL is
// visited at most once. Per-page failures are reported on the yielded Group
// and never stop the crawl; a lost session or a canceled ctx ends the
// sequence with a final (Group{}, err) pair. The browser session is opened
// when iteration starts and released on every exit path, including the
// consumer breaking out early.
func (s *Scheduler) Crawl(ctx context.Context, seeds []string, opts Options) iter.Seq2[Group, error] {
	return func(yield func(Group, error) bool) {
		logger := s.logger()
		frontier := NewFrontier(cleanSeeds(seeds))
		if frontier.Len() == 0 {
			yield(Group{}, ErrNoSeeds)
			return
		}

		session, err := s.Sessions.Open(ctx)
		if err != nil {
			yield(Group{}, fmt.Errorf("open browser session: %w", err))
			return
		}
		defer func() {
			if qerr := session.Quit(); qerr != nil {
				logger.Warn("browser session quit failed", zap.Error(qerr))
			}
		}()

		for {
			if err := ctx.Err(); err != nil {
				yield(Group{}, fmt.Errorf("crawl canceled: %w", err))
				return
			}
			if opts.MaxPages > 0 && frontier.VisitedCount() >= opts.MaxPages {
				logger.Info("page limit reached", zap.Int("max_pages", opts.MaxPages))
				return
			}
			pageURL, ok := frontier.Pop()
			if !ok {
				return
			}
			if !frontier.MarkVisited(pageURL) {
				continue
			}

			group, fatal := s.visit(ctx, session, pageURL, opts)
			if fatal != nil {
				yield(Group{}, fatal)
				return
			}
			if !yield(group, nil) {
				return
			}
			if opts.SinglePage || group.loadFailed() {
				continue
			}
			links, fatal := s.discover(ctx, session, pageURL, opts.Scopes)
			if fatal != nil {
				yield(Group{}, fatal)
				return
			}
			added := frontier.Push(links...)
			logger.Debug("frontier expanded",
				zap.String("url", pageURL),
				zap.Int("discovered", len(links)),
				zap.Int("added", added),
				zap.Int("queued", frontier.Len()),
			)
		}
	}
}

// visit loads and captures one page. The returned error is non-nil only for
// session-fatal conditions.
func (s *Scheduler) visit(ctx context.Context, session Session, pageURL string, opts Options) (Group, error) {
	logger := s.logger().With(zap.String("url", pageURL))
	group := Group{URL: pageURL}

	for _, h := range s.Hooks {
		if err := h.BeforeNavigate(ctx, session, pageURL); err != nil {
			if isFatal(ctx, err) {
				return group, err
			}
			logger.Warn("pre-navigation hook failed", zap.Error(err))
		}
	}

	if err := s.load(ctx, session, pageURL, opts.ReadyTimeout); err != nil {
		if isFatal(ctx, err) {
			return group, err
		}
		logger.Error("page failed to load", zap.Error(err))
		group.Err = &loadError{err: err}
		return group, nil
	}

	for _, h := range s.Hooks {
		if err := h.AfterReady(ctx, session, pageURL); err != nil {
			if isFatal(ctx, err) {
				return group, err
			}
			logger.Warn("post-load hook failed", zap.Error(err))
		}
	}

	artifacts, err := s.Capturer.Capture(ctx, session, pageURL, opts.OutputDir, opts.Format)
	group.Artifacts = artifacts
	if err != nil {
		if isFatal(ctx, err) {
			return group, err
		}
		logger.Error("failed to capture page", zap.Error(err), zap.Int("captured", len(artifacts)))
		group.Err = err
	}
	logger.Info("page captured", zap.Int("slices", len(artifacts)))
	return group, nil
}

func (s *Scheduler) load(ctx context.Context, session Session, pageURL string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = defaultReadyTimeout
	}
	loadCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := session.Navigate(loadCtx, pageURL); err != nil {
		return fmt.Errorf("navigate: %w", err)
	}
	if err := session.WaitReady(loadCtx, readySelector); err != nil {
		return fmt.Errorf("wait for %s: %w", readySelector, err)
	}
	return nil
}

// discover extracts links from the whole page and each scope, in that
// order. Extraction failures are logged and skipped.
func (s *Scheduler) discover(ctx context.Context, session Session, pageURL string, scopes []Locator) ([]string, error) {
	logger := s.logger().With(zap.String("url", pageURL))
	base := s.Links.BaseURL(ctx, session, pageURL)
	locators := append([]Locator{WholePage}, scopes...)
	var links []string
	for _, loc := range locators {
		found, err := s.Links.Extract(ctx, session, base, loc)
		if err != nil {
			if isFatal(ctx, err) {
				return nil, err
			}
			logger.Warn("link extraction failed", zap.Stringer("scope", loc), zap.Error(err))
			continue
		}
		links = append(links, found...)
	}
	return links, nil
}

func (s *Scheduler) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

// isFatal reports whether err must end the whole crawl.
func isFatal(ctx context.Context, err error) bool {
	return errors.Is(err, ErrSessionLost) || ctx.Err() != nil
}

type loadError struct{ err error }

func (e *loadError) Error() string { return "load page: " + e.err.Error() }
func (e *loadError) Unwrap() error { return e.err }

func (g Group) loadFailed() bool {
	var le *loadError
	return errors.As(g.Err, &le)
}

// LoadFailed reports whether the page never became ready.
func (g Group) LoadFailed() bool { return g.loadFailed() }
