package crawler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// fakePage is one document served by fakeSession.
type fakePage struct {
	height  int
	base    string
	anchors map[Locator][]Anchor
	loadErr error
}

func linksPage(hrefs ...string) *fakePage {
	anchors := make([]Anchor, 0, len(hrefs))
	for _, h := range hrefs {
		anchors = append(anchors, Anchor{Href: h, HasHref: true})
	}
	return &fakePage{height: 800, anchors: map[Locator][]Anchor{WholePage: anchors}}
}

// fakeSession is an in-memory browser keyed by URL.
type fakeSession struct {
	mu sync.Mutex

	viewport int
	pages    map[string]*fakePage
	current  string

	navigations []string
	scrolls     []int
	shots       int
	quits       int

	// loseAfter reports ErrSessionLost once this many navigations happened.
	loseAfter int
	// screenshotErr is returned once failAfterShots screenshots succeeded.
	screenshotErr  error
	failAfterShots int
}

func newFakeSession(pages map[string]*fakePage) *fakeSession {
	return &fakeSession{viewport: 1000, pages: pages}
}

func (f *fakeSession) factory() SessionFactory {
	return SessionFactoryFunc(func(context.Context) (Session, error) { return f, nil })
}

func (f *fakeSession) Navigate(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loseAfter > 0 && len(f.navigations) >= f.loseAfter {
		return fmt.Errorf("navigate %s: %w", url, ErrSessionLost)
	}
	f.navigations = append(f.navigations, url)
	f.current = url
	p, ok := f.pages[url]
	if !ok {
		return errors.New("net::ERR_NAME_NOT_RESOLVED")
	}
	return p.loadErr
}

func (f *fakeSession) WaitReady(context.Context, string) error { return nil }

func (f *fakeSession) Eval(_ context.Context, expr string, out any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	page := f.pages[f.current]
	switch {
	case expr == zoomScript:
		return nil
	case expr == viewportHeightScript:
		*out.(*float64) = float64(f.viewport)
	case expr == totalHeightScript:
		*out.(*float64) = float64(page.height)
	case expr == "document.baseURI":
		base := f.current
		if page != nil && page.base != "" {
			base = page.base
		}
		*out.(*string) = base
	case strings.HasPrefix(expr, "window.scrollTo(0, "):
		var y int
		if _, err := fmt.Sscanf(expr, "window.scrollTo(0, %d)", &y); err != nil {
			return err
		}
		f.scrolls = append(f.scrolls, y)
	default:
		return fmt.Errorf("unexpected script %q", expr)
	}
	return nil
}

func (f *fakeSession) Screenshot(_ context.Context, format Format) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.screenshotErr != nil && f.shots >= f.failAfterShots {
		return nil, f.screenshotErr
	}
	f.shots++
	return []byte(fmt.Sprintf("%s-%d", format, f.shots)), nil
}

func (f *fakeSession) Anchors(_ context.Context, loc Locator) ([]Anchor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	page := f.pages[f.current]
	if page == nil {
		return nil, nil
	}
	return page.anchors[loc], nil
}

func (f *fakeSession) Quit() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quits++
	return nil
}

func (f *fakeSession) visited() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.navigations...)
}

type stubHasher struct{}

func (stubHasher) Hash(data []byte) (string, error) {
	return strings.Repeat("ab", 32), nil
}
