// Package cmd defines the screencrawl command line.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/screencrawl/internal/config"
	"github.com/JakeFAU/screencrawl/internal/logging"
)

type rootOptions struct {
	cfgFile     string
	serve       bool
	showBrowser bool
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "screencrawl",
		Short: "Crawl a site and capture every page as full-page screenshots.",
		Long: `screencrawl drives a browser breadth-first through a site, scrolling each
page one viewport at a time and saving every viewport as an image. Images can
be assembled into a single PDF or DOCX document. With --serve the same engine
runs as an HTTP service that streams job progress as Server-Sent Events.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.cfgFile, cmd.Flags())
			if err != nil {
				return err
			}
			if opts.showBrowser {
				cfg.Browser.Headless = false
			}
			base, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			logger := logging.WithLevel(base, cfg.Logging.Debug)
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if opts.serve {
				return runServe(ctx, cfg, base)
			}
			return runCapture(ctx, cmd, cfg, logger)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.cfgFile, "config", "", "config file (YAML)")
	f.BoolVar(&opts.serve, "serve", false, "run the HTTP capture service")
	f.BoolVar(&opts.showBrowser, "show-browser", false, "run the browser with a visible window")
	f.StringSlice("urls", nil, "comma separated seed URLs")
	f.String("path", "", "output directory (default \"screenshots\")")
	f.String("type", "", "output format: png, jpeg, jpg, webp, pdf or docx (default \"png\")")
	f.Bool("single-page", false, "capture only the seed URLs")
	f.Bool("block-ads", false, "block ad networks and hide ad slots")
	f.String("scope-id", "", "also follow links inside the element with this id")
	f.StringSlice("scope-class", nil, "also follow links inside elements with this class (repeatable)")
	f.Int("max-pages", 0, "stop after visiting this many pages (0 = unlimited)")
	f.String("driver", "", "browser driver: chromedp or rod (default \"chromedp\")")
	f.Bool("debug", false, "enable debug logging")
	f.Int("port", 0, "HTTP port for --serve (default 8080)")
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		logger, lerr := logging.New(false)
		if lerr == nil {
			logger.Error("command execution failed", zap.Error(err))
			_ = logger.Sync()
		}
		os.Exit(1)
	}
}
