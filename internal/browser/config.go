// Package browser provides crawler.Session implementations backed by a real
// Chrome instance, driven either through chromedp or go-rod.
package browser

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/screencrawl/internal/crawler"
)

// Supported driver names.
const (
	DriverChromedp = "chromedp"
	DriverRod      = "rod"
)

// Config controls how sessions launch the browser.
type Config struct {
	Driver       string
	Headless     bool
	ExecPath     string
	WindowWidth  int
	WindowHeight int
	UserAgent    string
	// Headers are sent with every request the page makes.
	Headers map[string]string
	// LaunchTimeout bounds browser start-up.
	LaunchTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.WindowWidth <= 0 {
		c.WindowWidth = 1920
	}
	if c.WindowHeight <= 0 {
		c.WindowHeight = 1080
	}
	if c.LaunchTimeout <= 0 {
		c.LaunchTimeout = 30 * time.Second
	}
	return c
}

// NewFactory returns the session factory for cfg.Driver. An empty driver
// selects chromedp.
func NewFactory(cfg Config, logger *zap.Logger) (crawler.SessionFactory, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", DriverChromedp:
		return NewChromedp(cfg, logger), nil
	case DriverRod:
		return NewRod(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown browser driver %q", cfg.Driver)
	}
}

// resolveBinary picks the configured executable, falling back to the
// process-wide lookup. An empty result lets the driver search on its own.
func resolveBinary(cfg Config, logger *zap.Logger) string {
	if cfg.ExecPath != "" {
		return cfg.ExecPath
	}
	path, err := ExecPath()
	if err != nil {
		logger.Debug("no browser executable found, deferring to driver lookup", zap.Error(err))
		return ""
	}
	return path
}
