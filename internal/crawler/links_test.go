package crawler

import (
	"context"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveHref(t *testing.T) {
	base, err := url.Parse("https://example.com/docs/guide/index.html")
	require.NoError(t, err)

	cases := []struct {
		href string
		want string
		ok   bool
	}{
		{"https://other.test/x", "https://other.test/x", true},
		{"HTTP://Upper.test/", "HTTP://Upper.test/", true},
		{"/about", "https://example.com/about", true},
		{"next.html", "https://example.com/docs/guide/next.html", true},
		{"../api/", "https://example.com/docs/api/", true},
		{"//cdn.test/lib.js", "https://cdn.test/lib.js", true},
		{"?q=1", "https://example.com/docs/guide/index.html?q=1", true},
		{"", "https://example.com/docs/guide/index.html", true},
		{"mailto:team@example.com", "", false},
		{"javascript:void(0)", "", false},
		{"ftp://files.test/", "", false},
		{"http://%zz", "http://%zz", true},
	}
	for _, tc := range cases {
		t.Run(tc.href, func(t *testing.T) {
			got, ok := ResolveHref(base, tc.href)
			require.Equal(t, tc.ok, ok)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestExtractDeduplicatesInOrder(t *testing.T) {
	const pageURL = "https://example.com/a/"
	s := newFakeSession(map[string]*fakePage{pageURL: {anchors: map[Locator][]Anchor{
		WholePage: {
			{Href: "b", HasHref: true},
			{HasHref: false},
			{Href: "/c", HasHref: true},
			{Href: "https://example.com/a/b", HasHref: true},
			{Href: "mailto:x@example.com", HasHref: true},
		},
	}}})
	s.current = pageURL

	var ex LinkExtractor
	links, err := ex.Extract(context.Background(), s, pageURL, WholePage)
	require.NoError(t, err)
	require.Equal(t, []string{"https://example.com/a/b", "https://example.com/c"}, links)

	missing, err := ex.Extract(context.Background(), s, pageURL, ByID("nope"))
	require.NoError(t, err)
	require.Empty(t, missing)
}

func TestBaseURLPrefersDocumentBase(t *testing.T) {
	const pageURL = "https://example.com/a/"
	s := newFakeSession(map[string]*fakePage{pageURL: {base: "https://static.example.com/root/"}})
	s.current = pageURL

	var ex LinkExtractor
	require.Equal(t, "https://static.example.com/root/", ex.BaseURL(context.Background(), s, pageURL))
}

func TestAnchorScript(t *testing.T) {
	require.Contains(t, AnchorScript(WholePage), "document.querySelectorAll('a')")
	require.Contains(t, AnchorScript(ByID("main")), `getElementById("main")`)
	script := AnchorScript(ByClass(`x" y`))
	require.Contains(t, script, `getElementsByClassName("x\" y")`)
	require.True(t, strings.Contains(script, "has_href"))
}
