package cmd

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/screencrawl/internal/config"
	"github.com/JakeFAU/screencrawl/internal/server"
)

// runServe runs the HTTP capture service until ctx ends. Job loggers pick
// their own level, so the service receives the unfiltered base logger.
func runServe(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	zap.ReplaceGlobals(logger)
	app, err := server.Build(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build service: %w", err)
	}
	return app.Run(ctx)
}
