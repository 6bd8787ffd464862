package worker

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/screencrawl/internal/assemble"
	"github.com/JakeFAU/screencrawl/internal/browser"
	"github.com/JakeFAU/screencrawl/internal/crawler"
)

// RunnerConfig holds the process-wide capture settings every job shares.
type RunnerConfig struct {
	Browser        browser.Config
	ReadyTimeout   time.Duration
	SettleDelay    time.Duration
	AdPatterns     []string
	PopupSelectors []string
	Hasher         crawler.Hasher
	// Pacer, when set, runs before every navigation of every job.
	Pacer crawler.Hook
	// Sessions overrides the browser factory; nil builds one from Browser.
	Sessions crawler.SessionFactory
}

// NewRunnerFactory returns a RunnerFactory wiring the real browser,
// per-request hooks and the document assembler.
func NewRunnerFactory(cfg RunnerConfig) RunnerFactory {
	return func(req crawler.Request, logger *zap.Logger) (*crawler.Runner, error) {
		return NewRunner(cfg, req, logger)
	}
}

// NewRunner builds a Runner for req. It is shared by the CLI and the worker
// pool.
func NewRunner(cfg RunnerConfig, req crawler.Request, logger *zap.Logger) (*crawler.Runner, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	sessions := cfg.Sessions
	if sessions == nil {
		factory, err := browser.NewFactory(cfg.Browser, logger)
		if err != nil {
			return nil, fmt.Errorf("browser: %w", err)
		}
		sessions = factory
	}
	capturer := &crawler.Capturer{
		SettleDelay: cfg.SettleDelay,
		Hasher:      cfg.Hasher,
		Logger:      logger,
	}
	hooks := browser.Hooks(req.BlockAds, cfg.AdPatterns, cfg.PopupSelectors)
	if cfg.Pacer != nil {
		hooks = append([]crawler.Hook{cfg.Pacer}, hooks...)
	}
	return &crawler.Runner{
		Scheduler:    crawler.NewScheduler(sessions, capturer, hooks, logger),
		Assembler:    assemble.New(logger),
		Hasher:       cfg.Hasher,
		ReadyTimeout: cfg.ReadyTimeout,
		Logger:       logger,
	}, nil
}
