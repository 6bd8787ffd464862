package crawler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockHook is a mock implementation of the Hook interface.
type MockHook struct {
	mock.Mock
}

func (m *MockHook) BeforeNavigate(ctx context.Context, s Session, url string) error {
	args := m.Called(ctx, s, url)
	return args.Error(0)
}

func (m *MockHook) AfterReady(ctx context.Context, s Session, url string) error {
	args := m.Called(ctx, s, url)
	return args.Error(0)
}

func collect(t *testing.T, sched *Scheduler, seeds []string, opts Options) ([]Group, error) {
	t.Helper()
	var groups []Group
	for g, err := range sched.Crawl(context.Background(), seeds, opts) {
		if err != nil {
			return groups, err
		}
		groups = append(groups, g)
	}
	return groups, nil
}

func TestCrawlBreadthFirst(t *testing.T) {
	s := newFakeSession(map[string]*fakePage{
		"https://site.test/":  linksPage("/b", "/c", "mailto:x@site.test"),
		"https://site.test/b": linksPage("/d", "/"),
		"https://site.test/c": linksPage("https://site.test/d", "javascript:void(0)"),
		"https://site.test/d": linksPage(),
	})
	sched := NewScheduler(s.factory(), nil, nil, nil)

	groups, err := collect(t, sched, []string{"https://site.test/"}, Options{OutputDir: t.TempDir(), Format: FormatPNG})
	require.NoError(t, err)
	require.Equal(t, []string{
		"https://site.test/",
		"https://site.test/b",
		"https://site.test/c",
		"https://site.test/d",
	}, s.visited())
	require.Len(t, groups, 4)
	require.Equal(t, 1, s.quits)
}

func TestCrawlVisitsEachURLOnce(t *testing.T) {
	s := newFakeSession(map[string]*fakePage{
		"https://a.test/": linksPage("https://b.test/", "https://a.test/"),
		"https://b.test/": linksPage("https://a.test/", "https://b.test/"),
	})
	sched := NewScheduler(s.factory(), nil, nil, nil)

	seeds := []string{"https://a.test/", " https://a.test/ ", "https://b.test/", "https://a.test/"}
	_, err := collect(t, sched, seeds, Options{OutputDir: t.TempDir(), Format: FormatPNG})
	require.NoError(t, err)
	require.Equal(t, []string{"https://a.test/", "https://b.test/"}, s.visited())
}

func TestCrawlSinglePage(t *testing.T) {
	s := newFakeSession(map[string]*fakePage{
		"https://one.test/": linksPage("/1", "/2", "/3", "/4", "/5"),
	})
	sched := NewScheduler(s.factory(), nil, nil, nil)

	groups, err := collect(t, sched, []string{"https://one.test/"}, Options{
		OutputDir:  t.TempDir(),
		Format:     FormatPNG,
		SinglePage: true,
	})
	require.NoError(t, err)
	require.Len(t, groups, 1)
	require.Equal(t, []string{"https://one.test/"}, s.visited())
}

func TestCrawlScopedLinks(t *testing.T) {
	page := linksPage("/nav")
	page.anchors[ByID("content")] = []Anchor{{Href: "/article", HasHref: true}, {HasHref: false}}
	page.anchors[ByClass("pager")] = []Anchor{{Href: "/nav", HasHref: true}, {Href: "?page=2", HasHref: true}}
	s := newFakeSession(map[string]*fakePage{
		"https://news.test/list":        page,
		"https://news.test/nav":         linksPage(),
		"https://news.test/article":     linksPage(),
		"https://news.test/list?page=2": linksPage(),
	})
	sched := NewScheduler(s.factory(), nil, nil, nil)

	_, err := collect(t, sched, []string{"https://news.test/list"}, Options{
		OutputDir: t.TempDir(),
		Format:    FormatPNG,
		Scopes:    []Locator{ByID("content"), ByClass("pager"), ByID("missing")},
	})
	require.NoError(t, err)
	require.Equal(t, []string{
		"https://news.test/list",
		"https://news.test/nav",
		"https://news.test/article",
		"https://news.test/list?page=2",
	}, s.visited())
}

func TestCrawlContinuesAfterLoadFailure(t *testing.T) {
	s := newFakeSession(map[string]*fakePage{
		"https://ok.test/": linksPage(),
	})
	sched := NewScheduler(s.factory(), nil, nil, nil)

	groups, err := collect(t, sched, []string{"https://down.test/", "https://ok.test/"}, Options{OutputDir: t.TempDir(), Format: FormatPNG})
	require.NoError(t, err)
	require.Len(t, groups, 2)
	require.True(t, groups[0].LoadFailed())
	require.Empty(t, groups[0].Artifacts)
	require.NoError(t, groups[1].Err)
	require.Len(t, groups[1].Artifacts, 1)
}

func TestCrawlReleasesSessionWhenConsumerStops(t *testing.T) {
	s := newFakeSession(map[string]*fakePage{
		"https://a.test/": linksPage("https://b.test/"),
		"https://b.test/": linksPage(),
	})
	sched := NewScheduler(s.factory(), nil, nil, nil)

	for range sched.Crawl(context.Background(), []string{"https://a.test/"}, Options{OutputDir: t.TempDir(), Format: FormatPNG}) {
		break
	}
	require.Equal(t, 1, s.quits)
	require.Equal(t, []string{"https://a.test/"}, s.visited())
}

func TestCrawlStopsOnSessionLoss(t *testing.T) {
	s := newFakeSession(map[string]*fakePage{
		"https://a.test/": linksPage("https://b.test/"),
		"https://b.test/": linksPage(),
	})
	s.loseAfter = 1
	sched := NewScheduler(s.factory(), nil, nil, nil)

	groups, err := collect(t, sched, []string{"https://a.test/"}, Options{OutputDir: t.TempDir(), Format: FormatPNG})
	require.ErrorIs(t, err, ErrSessionLost)
	require.Len(t, groups, 1)
	require.Equal(t, 1, s.quits)
}

func TestCrawlOpenFailure(t *testing.T) {
	boom := errors.New("chrome not found")
	sched := NewScheduler(SessionFactoryFunc(func(context.Context) (Session, error) {
		return nil, boom
	}), nil, nil, nil)

	_, err := collect(t, sched, []string{"https://a.test/"}, Options{})
	require.ErrorIs(t, err, boom)
}

func TestCrawlRequiresSeeds(t *testing.T) {
	opened := false
	sched := NewScheduler(SessionFactoryFunc(func(context.Context) (Session, error) {
		opened = true
		return nil, errors.New("unexpected")
	}), nil, nil, nil)

	_, err := collect(t, sched, []string{" ", ""}, Options{})
	require.ErrorIs(t, err, ErrNoSeeds)
	require.False(t, opened)
}

func TestCrawlCanceledContext(t *testing.T) {
	s := newFakeSession(map[string]*fakePage{"https://a.test/": linksPage()})
	sched := NewScheduler(s.factory(), nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var gotErr error
	for _, err := range sched.Crawl(ctx, []string{"https://a.test/"}, Options{OutputDir: t.TempDir()}) {
		gotErr = err
	}
	require.ErrorIs(t, gotErr, context.Canceled)
	require.Empty(t, s.visited())
	require.Equal(t, 1, s.quits)
}

func TestCrawlMaxPages(t *testing.T) {
	s := newFakeSession(map[string]*fakePage{
		"https://a.test/1": linksPage("/2"),
		"https://a.test/2": linksPage("/3"),
		"https://a.test/3": linksPage(),
	})
	sched := NewScheduler(s.factory(), nil, nil, nil)

	groups, err := collect(t, sched, []string{"https://a.test/1"}, Options{OutputDir: t.TempDir(), Format: FormatPNG, MaxPages: 2})
	require.NoError(t, err)
	require.Len(t, groups, 2)
}

func TestCrawlHookFailuresAreNotFatal(t *testing.T) {
	s := newFakeSession(map[string]*fakePage{
		"https://a.test/": linksPage("https://b.test/"),
		"https://b.test/": linksPage(),
	})
	hook := new(MockHook)
	hook.On("BeforeNavigate", mock.Anything, s, "https://a.test/").Return(errors.New("blocker unavailable"))
	hook.On("BeforeNavigate", mock.Anything, s, "https://b.test/").Return(nil)
	hook.On("AfterReady", mock.Anything, s, mock.AnythingOfType("string")).Return(nil)
	sched := NewScheduler(s.factory(), nil, []Hook{hook}, nil)

	groups, err := collect(t, sched, []string{"https://a.test/"}, Options{OutputDir: t.TempDir(), Format: FormatPNG})
	require.NoError(t, err)
	require.Len(t, groups, 2)
	hook.AssertNumberOfCalls(t, "BeforeNavigate", 2)
	hook.AssertNumberOfCalls(t, "AfterReady", 2)
}
