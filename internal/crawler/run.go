package crawler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// DefaultOutputDir is used when a request leaves the output path empty.
const DefaultOutputDir = "screenshots"

// RunResult summarizes a finished capture run.
type RunResult struct {
	Pages     int
	Failed    int
	Artifacts []Artifact
	// Document is the assembled file for pdf/docx runs.
	Document string
}

// Runner executes one Request end to end: crawl, write slices and, for
// document formats, assemble them once the crawl is exhausted.
type Runner struct {
	Scheduler    *Scheduler
	Assembler    Assembler
	Hasher       Hasher
	ReadyTimeout time.Duration
	Logger       *zap.Logger
}

// Run crawls req and calls onGroup for every visited page as soon as its
// slices are on disk. An error from onGroup stops the crawl. The returned
// error is non-nil only for configuration, session-fatal or assembly
// failures; per-page failures are counted in RunResult.Failed.
func (r *Runner) Run(ctx context.Context, req Request, onGroup func(Group) error) (RunResult, error) {
	var res RunResult
	if err := req.Validate(); err != nil {
		return res, err
	}
	format, _ := ParseFormat(string(req.Format))
	logger := r.logger()

	outDir := req.OutputDir
	if outDir == "" {
		outDir = DefaultOutputDir
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return res, fmt.Errorf("create output dir: %w", err)
	}

	sliceDir := outDir
	if format.IsDocument() {
		tmp, err := os.MkdirTemp(outDir, ".slices-")
		if err != nil {
			return res, fmt.Errorf("create slice dir: %w", err)
		}
		sliceDir = tmp
	}

	opts := Options{
		OutputDir:    sliceDir,
		Format:       format.ImageFormat(),
		SinglePage:   req.SinglePage,
		Scopes:       req.Locators(),
		MaxPages:     req.MaxPages,
		ReadyTimeout: r.ReadyTimeout,
	}

	for group, err := range r.Scheduler.Crawl(ctx, req.Seeds, opts) {
		if err != nil {
			return res, err
		}
		res.Pages++
		if group.Err != nil {
			res.Failed++
		}
		res.Artifacts = append(res.Artifacts, group.Artifacts...)
		if onGroup != nil {
			if err := onGroup(group); err != nil {
				return res, err
			}
		}
	}
	logger.Info("crawl finished",
		zap.Int("pages", res.Pages),
		zap.Int("failed", res.Failed),
		zap.Int("slices", len(res.Artifacts)),
	)

	if !format.IsDocument() {
		return res, nil
	}
	if r.Assembler == nil {
		return res, fmt.Errorf("no assembler configured for %s output", format)
	}
	paths := make([]string, 0, len(res.Artifacts))
	for _, a := range res.Artifacts {
		paths = append(paths, a.Path)
	}
	if len(paths) == 0 {
		_ = os.Remove(sliceDir)
	}
	seeds := cleanSeeds(req.Seeds)
	target := filepath.Join(outDir, SafeFilename(seeds[0], r.Hasher)+"."+format.Ext())
	doc, err := r.Assembler.Assemble(ctx, paths, format, target)
	if err != nil {
		return res, fmt.Errorf("assemble %s: %w", format, err)
	}
	res.Document = doc
	logger.Info("document assembled", zap.String("path", doc), zap.Int("pages", len(paths)))
	return res, nil
}

func (r *Runner) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}
