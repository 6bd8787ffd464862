// Package worker executes queued capture jobs and reports their progress.
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/JakeFAU/screencrawl/internal/crawler"
	"github.com/JakeFAU/screencrawl/internal/logging"
	"github.com/JakeFAU/screencrawl/internal/metrics"
	"github.com/JakeFAU/screencrawl/internal/progress"
	"github.com/JakeFAU/screencrawl/internal/storage"
)

var (
	tracer = otel.Tracer("github.com/JakeFAU/screencrawl/internal/worker")
	meter  = otel.Meter("github.com/JakeFAU/screencrawl/internal/worker")

	jobDuration, _ = meter.Float64Histogram("screencrawl.job.duration",
		metric.WithDescription("Wall time of capture jobs."),
		metric.WithUnit("s"),
	)
)

// Recorder appends events to a job's log.
type Recorder interface {
	Record(jobID string, evt progress.Event) error
}

// FileIndex maps files under the served root to URLs and object keys.
type FileIndex interface {
	URLFor(path string) (string, error)
	ObjectKey(path string) (string, error)
}

// RunnerFactory builds the Runner for one job.
type RunnerFactory func(req crawler.Request, logger *zap.Logger) (*crawler.Runner, error)

// Deps are the collaborators a Worker needs. Mirror is optional.
type Deps struct {
	Queue     crawler.Queue
	Recorder  Recorder
	Files     FileIndex
	Mirror    crawler.BlobStore
	Clock     crawler.Clock
	NewRunner RunnerFactory
}

// Config controls Worker behavior.
type Config struct {
	// Debug forces debug logging for every job, not only those requesting it.
	Debug bool
}

// Worker consumes queue items and runs each capture to completion.
type Worker struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New constructs a Worker.
func New(deps Deps, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{deps: deps, cfg: cfg, logger: logger}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.deps.Queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID))
		w.Process(ctx, item)
	}
}

// Process runs one job and records exactly one terminal event for it.
func (w *Worker) Process(ctx context.Context, item crawler.QueueItem) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	ctx, span := tracer.Start(ctx, "capture.job")
	defer span.End()
	span.SetAttributes(
		attribute.String("job.id", item.JobID),
		attribute.StringSlice("job.urls", item.Request.Seeds),
		attribute.String("job.format", string(item.Request.Format)),
	)

	logger := logging.WithLevel(w.logger, w.cfg.Debug || item.Request.Debug).
		With(zap.String("job_id", item.JobID))
	start := w.now()

	res, err := w.run(ctx, item, logger)

	done := progress.Event{
		TS:        w.now(),
		Stage:     progress.StageJobDone,
		Status:    progress.StatusComplete,
		Message:   "capture complete",
		Format:    string(item.Request.Format),
		Pages:     res.Pages,
		Artifacts: len(res.Artifacts),
		Dur:       w.now().Sub(start),
	}
	if res.Document != "" {
		done.ArtifactURL = w.publish(ctx, res.Document, true, logger)
	}
	if err != nil {
		done.Stage = progress.StageJobError
		done.Message = "capture failed"
		done.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("capture job failed", zap.Error(err))
	} else {
		logger.Info("capture job complete",
			zap.Int("pages", res.Pages),
			zap.Int("artifacts", len(res.Artifacts)),
			zap.Duration("dur", done.Dur),
		)
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	jobDuration.Record(ctx, done.Dur.Seconds(), metric.WithAttributes(
		attribute.String("result", result),
		attribute.String("format", string(item.Request.Format)),
	))
	w.record(item.JobID, done, logger)
}

func (w *Worker) run(ctx context.Context, item crawler.QueueItem, logger *zap.Logger) (crawler.RunResult, error) {
	if w.deps.NewRunner == nil {
		return crawler.RunResult{}, errors.New("no runner factory configured")
	}
	runner, err := w.deps.NewRunner(item.Request, logger)
	if err != nil {
		return crawler.RunResult{}, fmt.Errorf("prepare capture: %w", err)
	}
	format, _ := crawler.ParseFormat(string(item.Request.Format))

	res, err := runner.Run(ctx, item.Request, func(g crawler.Group) error {
		w.observePage(g, format)
		if g.Err != nil {
			logger.Warn("page capture failed", zap.String("url", g.URL), zap.Error(g.Err))
		}
		for _, a := range g.Artifacts {
			evt := progress.Event{
				TS:       w.now(),
				Stage:    progress.StageArtifact,
				Status:   progress.StatusProcessing,
				Message:  fmt.Sprintf("captured slice %d of %s", a.Sequence, a.SourceURL),
				URL:      a.SourceURL,
				Sequence: a.Sequence,
				Format:   string(a.Format),
			}
			// Document slices are linked while they exist but never
			// mirrored; the link stops resolving once they are assembled.
			evt.ArtifactURL = w.publish(ctx, a.Path, !format.IsDocument(), logger)
			w.record(item.JobID, evt, logger)
		}
		return nil
	})
	if format.IsDocument() {
		status := "success"
		if err != nil {
			status = "error"
		}
		metrics.ObserveDocument(string(format), status)
	}
	return res, err
}

// publish returns the public URL for a file and, when mirror is set and a
// mirror is configured, copies it there. Failures are logged; the local file
// remains authoritative.
func (w *Worker) publish(ctx context.Context, path string, mirror bool, logger *zap.Logger) string {
	if w.deps.Files == nil {
		return ""
	}
	link, err := w.deps.Files.URLFor(path)
	if err != nil {
		logger.Warn("artifact outside served root", zap.String("path", path), zap.Error(err))
		return ""
	}
	if mirror && w.deps.Mirror != nil {
		if err := w.mirror(ctx, path); err != nil {
			logger.Warn("artifact mirror failed", zap.String("path", path), zap.Error(err))
		}
	}
	return link
}

func (w *Worker) mirror(ctx context.Context, path string) error {
	key, err := w.deps.Files.ObjectKey(path)
	if err != nil {
		return err
	}
	f, err := os.Open(path) // #nosec G304 -- path was produced by this job under the served root.
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer func() { _ = f.Close() }()
	if _, err := w.deps.Mirror.PutObject(ctx, key, storage.ContentType(strings.TrimPrefix(filepath.Ext(path), ".")), f); err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

func (w *Worker) observePage(g crawler.Group, format crawler.Format) {
	status := "ok"
	switch {
	case g.LoadFailed():
		status = "load_failed"
	case g.Err != nil:
		status = "capture_failed"
	}
	metrics.ObservePage(g.URL, status, string(format.ImageFormat()), len(g.Artifacts))
}

func (w *Worker) record(jobID string, evt progress.Event, logger *zap.Logger) {
	if w.deps.Recorder == nil {
		return
	}
	if err := w.deps.Recorder.Record(jobID, evt); err != nil {
		logger.Error("record progress event", zap.String("stage", string(evt.Stage)), zap.Error(err))
	}
}

func (w *Worker) now() time.Time {
	if w.deps.Clock == nil {
		return time.Now().UTC()
	}
	return w.deps.Clock.Now()
}
