package crawler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	zoomScript           = "document.body.style.zoom = '100%'"
	viewportHeightScript = "window.innerHeight"
	totalHeightScript    = "document.documentElement.scrollHeight"
)

// Capturer writes a page as a sequence of viewport-sized screenshots.
//
// The total scroll height is measured once before the first slice. Content
// that grows the page after scrolling is not chased; every capture path uses
// the same snapshot rule.
//
// Distinct URLs can sanitize to the same stem ("/a?b" and "/a_b"). Within one
// Capturer the first URL keeps the plain stem and later ones get a digest
// suffix, so no page overwrites another's slices.
type Capturer struct {
	SettleDelay time.Duration
	Hasher      Hasher
	Logger      *zap.Logger

	mu    sync.Mutex
	stems map[string]string
}

// Capture scrolls through the loaded page top to bottom, one viewport per
// slice, writing each slice to outputDir. On failure it returns the
// artifacts already written together with the error.
func (c *Capturer) Capture(
	ctx context.Context,
	s Session,
	pageURL string,
	outputDir string,
	format Format,
) ([]Artifact, error) {
	logger := c.logger()
	if err := s.Eval(ctx, zoomScript, nil); err != nil {
		return nil, fmt.Errorf("set zoom: %w", err)
	}
	var viewport, total float64
	if err := s.Eval(ctx, viewportHeightScript, &viewport); err != nil {
		return nil, fmt.Errorf("read viewport height: %w", err)
	}
	if err := s.Eval(ctx, totalHeightScript, &total); err != nil {
		return nil, fmt.Errorf("read document height: %w", err)
	}
	height := int(viewport)
	if height <= 0 {
		return nil, fmt.Errorf("invalid viewport height %v", viewport)
	}
	totalHeight := int(total)

	stem := c.stemFor(outputDir, pageURL)
	var artifacts []Artifact
	for offset := 0; offset < totalHeight || len(artifacts) == 0; offset += height {
		buf, err := s.Screenshot(ctx, format)
		if err != nil {
			return artifacts, fmt.Errorf("capture slice %d: %w", len(artifacts)+1, err)
		}
		seq := len(artifacts) + 1
		path := filepath.Join(outputDir, SliceFilename(stem, seq, format))
		if err := os.WriteFile(path, buf, 0o600); err != nil {
			return artifacts, fmt.Errorf("write slice %d: %w", seq, err)
		}
		artifacts = append(artifacts, Artifact{
			SourceURL:    pageURL,
			Sequence:     seq,
			Path:         path,
			Format:       format,
			ScrollOffset: offset,
		})
		logger.Debug("slice captured", zap.String("url", pageURL), zap.String("path", path), zap.Int("offset", offset))

		next := offset + height
		if next >= totalHeight {
			break
		}
		if err := s.Eval(ctx, fmt.Sprintf("window.scrollTo(0, %d)", next), nil); err != nil {
			return artifacts, fmt.Errorf("scroll to %d: %w", next, err)
		}
		if err := sleep(ctx, c.SettleDelay); err != nil {
			return artifacts, err
		}
	}
	return artifacts, nil
}

func (c *Capturer) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

// sleep pauses for d unless ctx finishes first.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("settle wait canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// stemFor returns the filename stem for pageURL in dir, disambiguating stems
// already claimed by a different URL.
func (c *Capturer) stemFor(dir, pageURL string) string {
	stem := SafeFilename(pageURL, c.Hasher)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stems == nil {
		c.stems = make(map[string]string)
	}
	for n := 1; ; n++ {
		key := filepath.Join(dir, stem)
		owner, taken := c.stems[key]
		if !taken || owner == pageURL {
			c.stems[key] = pageURL
			return stem
		}
		stem = disambiguate(SafeFilename(pageURL, c.Hasher), pageURL, c.Hasher, n)
	}
}

// disambiguate suffixes stem with a digest of rawURL, or with attempt when no
// hasher is available. The result never exceeds maxFilenameStem.
func disambiguate(stem, rawURL string, hasher Hasher, attempt int) string {
	suffix := fmt.Sprintf("%d", attempt+1)
	if hasher != nil {
		if sum, err := hasher.Hash([]byte(rawURL)); err == nil && len(sum) >= hashSuffixLen {
			suffix = sum[:hashSuffixLen]
			if attempt > 1 {
				suffix = fmt.Sprintf("%s_%d", suffix, attempt)
			}
		}
	}
	if keep := maxFilenameStem - len(suffix) - 1; len(stem) > keep {
		stem = stem[:keep]
	}
	return stem + "_" + suffix
}
