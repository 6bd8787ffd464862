package crawler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

const anchorMapJS = `.map(a => ({href: a.getAttribute('href') || '', has_href: a.hasAttribute('href')}))`

// AnchorScript returns the expression drivers evaluate to enumerate anchors
// inside loc. It yields a JSON array of Anchor objects.
func AnchorScript(loc Locator) string {
	value, _ := json.Marshal(loc.Value)
	switch loc.Kind {
	case LocateByID:
		return fmt.Sprintf(`(() => { const root = document.getElementById(%s);
  return root ? Array.from(root.querySelectorAll('a'))%s : []; })()`, value, anchorMapJS)
	case LocateByClass:
		return fmt.Sprintf(`Array.from(document.getElementsByClassName(%s))
  .flatMap(root => Array.from(root.querySelectorAll('a')))%s`, value, anchorMapJS)
	default:
		return `Array.from(document.querySelectorAll('a'))` + anchorMapJS
	}
}

// LinkExtractor turns a rendered page's anchors into absolute URLs.
type LinkExtractor struct{}

// BaseURL returns the document base URI, falling back to pageURL when the
// page cannot report one.
func (LinkExtractor) BaseURL(ctx context.Context, s Session, pageURL string) string {
	var base string
	if err := s.Eval(ctx, "document.baseURI", &base); err != nil || base == "" {
		return pageURL
	}
	return base
}

// Extract returns the http(s) URLs referenced by anchors within loc, in
// discovery order with duplicates removed. A locator matching nothing yields
// an empty result.
func (LinkExtractor) Extract(ctx context.Context, s Session, baseURL string, loc Locator) ([]string, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	anchors, err := s.Anchors(ctx, loc)
	if err != nil {
		return nil, fmt.Errorf("enumerate anchors in %s: %w", loc, err)
	}
	seen := make(map[string]struct{}, len(anchors))
	out := make([]string, 0, len(anchors))
	for _, a := range anchors {
		if !a.HasHref {
			continue
		}
		abs, ok := ResolveHref(base, a.Href)
		if !ok {
			continue
		}
		if _, dup := seen[abs]; dup {
			continue
		}
		seen[abs] = struct{}{}
		out = append(out, abs)
	}
	return out, nil
}

// ResolveHref resolves href against base the way a browser resolves link
// targets. Absolute http(s) hrefs are returned unchanged. Results that are
// not http(s) are rejected.
func ResolveHref(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if isAbsoluteHTTP(href) {
		return href, true
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	return abs.String(), true
}

func isAbsoluteHTTP(href string) bool {
	lower := strings.ToLower(href)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
