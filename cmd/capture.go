package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/screencrawl/internal/config"
	"github.com/JakeFAU/screencrawl/internal/crawler"
	"github.com/JakeFAU/screencrawl/internal/server"
	"github.com/JakeFAU/screencrawl/internal/worker"
)

// runCapture performs one crawl in the foreground, printing each file as it
// is written. Document runs print only the assembled file. Per-page failures
// are logged and do not fail the command.
func runCapture(ctx context.Context, cmd *cobra.Command, cfg config.Config, logger *zap.Logger) error {
	req := cfg.Request()
	if err := req.Validate(); err != nil {
		return fmt.Errorf("invalid capture request: %w", err)
	}
	runner, err := worker.NewRunner(server.RunnerConfig(cfg), req, logger)
	if err != nil {
		return err
	}
	format, _ := crawler.ParseFormat(string(req.Format))
	out := cmd.OutOrStdout()
	res, err := runner.Run(ctx, req, func(g crawler.Group) error {
		if g.Err != nil {
			logger.Warn("page capture failed", zap.String("url", g.URL), zap.Error(g.Err))
		}
		if format.IsDocument() {
			return nil
		}
		for _, a := range g.Artifacts {
			if _, err := fmt.Fprintln(out, a.Path); err != nil {
				return fmt.Errorf("write output: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	if res.Document != "" {
		if _, err := fmt.Fprintln(out, res.Document); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
	}
	logger.Info("capture finished",
		zap.Int("pages", res.Pages),
		zap.Int("failed", res.Failed),
		zap.Int("slices", len(res.Artifacts)),
	)
	return nil
}
