package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/JakeFAU/screencrawl/internal/crawler"
)

// DefaultAdPatterns are the request URL globs blocked by AdBlocker when none
// are configured.
var DefaultAdPatterns = []string{
	"*doubleclick.net*",
	"*googlesyndication.com*",
	"*googleadservices.com*",
	"*google-analytics.com*",
	"*adservice.google.*",
	"*adnxs.com*",
	"*taboola.com*",
	"*outbrain.com*",
	"*criteo.com*",
	"*amazon-adsystem.com*",
}

// DefaultAdSelectors are hidden after load by AdBlocker.
var DefaultAdSelectors = []string{
	"iframe[src*='ads']",
	"iframe[id^='google_ads']",
	"ins.adsbygoogle",
	"[id^='div-gpt-ad']",
}

// AdBlocker refuses requests to ad networks and hides ad slots that slipped
// through. Request blocking needs a session implementing
// crawler.URLBlocker; it is installed once per session.
type AdBlocker struct {
	Patterns  []string
	Selectors []string

	mu        sync.Mutex
	installed map[crawler.Session]bool
}

// NewAdBlocker returns an AdBlocker using the default rules for any empty
// argument.
func NewAdBlocker(patterns, selectors []string) *AdBlocker {
	if len(patterns) == 0 {
		patterns = DefaultAdPatterns
	}
	if len(selectors) == 0 {
		selectors = DefaultAdSelectors
	}
	return &AdBlocker{Patterns: patterns, Selectors: selectors, installed: map[crawler.Session]bool{}}
}

// BeforeNavigate installs request blocking on first use of s.
func (a *AdBlocker) BeforeNavigate(ctx context.Context, s crawler.Session, _ string) error {
	blocker, ok := s.(crawler.URLBlocker)
	if !ok {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.installed == nil {
		a.installed = map[crawler.Session]bool{}
	}
	if a.installed[s] {
		return nil
	}
	if err := blocker.BlockURLs(ctx, a.Patterns); err != nil {
		return fmt.Errorf("install ad blocking: %w", err)
	}
	a.installed[s] = true
	return nil
}

// AfterReady hides ad containers so they do not appear in screenshots.
func (a *AdBlocker) AfterReady(ctx context.Context, s crawler.Session, _ string) error {
	if len(a.Selectors) == 0 {
		return nil
	}
	css := strings.Join(a.Selectors, ",\n") + " { display: none !important; }"
	if err := s.Eval(ctx, injectStyleScript(css), nil); err != nil {
		return fmt.Errorf("hide ad slots: %w", err)
	}
	return nil
}

// PopupDismisser clears cookie banners and modal overlays after load.
// Selectors in Click are clicked (e.g. "accept" buttons); selectors in Remove
// are deleted from the DOM.
type PopupDismisser struct {
	Click  []string
	Remove []string
}

// DefaultPopupSelectors are removed when no selectors are configured.
var DefaultPopupSelectors = []string{
	"#onetrust-consent-sdk",
	"#CybotCookiebotDialog",
	".fc-consent-root",
	"[aria-modal='true'][role='dialog']",
}

// BeforeNavigate is a no-op.
func (PopupDismisser) BeforeNavigate(context.Context, crawler.Session, string) error { return nil }

// AfterReady dismisses matching popups.
func (p PopupDismisser) AfterReady(ctx context.Context, s crawler.Session, _ string) error {
	if len(p.Click) == 0 && len(p.Remove) == 0 {
		return nil
	}
	var dismissed int
	if err := s.Eval(ctx, dismissScript(p.Click, p.Remove), &dismissed); err != nil {
		return fmt.Errorf("dismiss popups: %w", err)
	}
	return nil
}

func injectStyleScript(css string) string {
	encoded, _ := json.Marshal(css)
	return fmt.Sprintf(`(() => { const style = document.createElement('style');
  style.textContent = %s;
  (document.head || document.documentElement).appendChild(style);
  return true; })()`, encoded)
}

func dismissScript(click, remove []string) string {
	clickJSON, _ := json.Marshal(nonNil(click))
	removeJSON, _ := json.Marshal(nonNil(remove))
	return fmt.Sprintf(`(() => { let n = 0;
  for (const sel of %s) { for (const el of document.querySelectorAll(sel)) { el.click(); n++; } }
  for (const sel of %s) { for (const el of document.querySelectorAll(sel)) { el.remove(); n++; } }
  return n; })()`, clickJSON, removeJSON)
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

// Hooks builds the hook chain for one capture run. Popups are always
// dismissed, using DefaultPopupSelectors when none are configured.
func Hooks(blockAds bool, adPatterns, popupSelectors []string) []crawler.Hook {
	var hooks []crawler.Hook
	if blockAds {
		hooks = append(hooks, NewAdBlocker(adPatterns, nil))
	}
	if len(popupSelectors) == 0 {
		popupSelectors = DefaultPopupSelectors
	}
	hooks = append(hooks, PopupDismisser{Remove: popupSelectors})
	return hooks
}
