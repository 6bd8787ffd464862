// Package server assembles the capture service from configuration and runs
// it until shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/screencrawl/internal/api"
	"github.com/JakeFAU/screencrawl/internal/browser"
	"github.com/JakeFAU/screencrawl/internal/clock/system"
	"github.com/JakeFAU/screencrawl/internal/config"
	"github.com/JakeFAU/screencrawl/internal/dispatcher"
	"github.com/JakeFAU/screencrawl/internal/hash/sha256"
	"github.com/JakeFAU/screencrawl/internal/id/uuid"
	"github.com/JakeFAU/screencrawl/internal/jobs"
	"github.com/JakeFAU/screencrawl/internal/policy/ratelimit"
	"github.com/JakeFAU/screencrawl/internal/progress"
	progresssinks "github.com/JakeFAU/screencrawl/internal/progress/sinks"
	gcppublisher "github.com/JakeFAU/screencrawl/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/screencrawl/internal/queue/memory"
	gcsstorage "github.com/JakeFAU/screencrawl/internal/storage/gcs"
	"github.com/JakeFAU/screencrawl/internal/storage/local"
	memoryStorage "github.com/JakeFAU/screencrawl/internal/storage/memory"
	pgstore "github.com/JakeFAU/screencrawl/internal/storage/postgres"
	"github.com/JakeFAU/screencrawl/internal/telemetry"
	"github.com/JakeFAU/screencrawl/internal/worker"
)

// App contains the service's dependencies.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	apiServer *api.Server
	dispatch  *dispatcher.Dispatcher
	jobs      *jobs.Service
	hub       *progress.Hub
	queue     *queueMemory.Queue
	publisher *gcppublisher.Publisher
	mirror    *gcsstorage.BlobStore
	runStore  *pgstore.RunStore
	telemetry *telemetry.Providers
}

// RunnerConfig derives the per-process capture settings from cfg. The CLI and
// the service share it so both capture the same way.
func RunnerConfig(cfg config.Config) worker.RunnerConfig {
	rc := worker.RunnerConfig{
		Browser: browser.Config{
			Driver:       cfg.Browser.Driver,
			Headless:     cfg.Browser.Headless,
			ExecPath:     cfg.Browser.ExecPath,
			UserAgent:    cfg.Browser.UserAgent,
			Headers:      cfg.Browser.Headers,
			WindowWidth:  cfg.Capture.WindowWidth,
			WindowHeight: cfg.Capture.WindowHeight,
		},
		ReadyTimeout:   cfg.Capture.ReadyTimeout,
		SettleDelay:    cfg.Capture.SettleDelay,
		AdPatterns:     cfg.Capture.AdPatterns,
		PopupSelectors: cfg.Capture.PopupSelectors,
		Hasher:         sha256.New(),
	}
	if cfg.Capture.RateLimitRPS > 0 {
		rc.Pacer = ratelimit.New(ratelimit.Config{
			RPS:   cfg.Capture.RateLimitRPS,
			Burst: cfg.Capture.RateLimitBurst,
		})
	}
	return rc
}

// Build creates the service's dependencies. Optional backends (GCS mirror,
// Postgres run store, Pub/Sub notifications) are wired only when configured.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{cfg: cfg, logger: logger}
	logger.Info("building capture service",
		zap.Int("port", cfg.Server.Port),
		zap.String("public_url", cfg.Server.PublicURL),
		zap.String("output_dir", cfg.Capture.OutputDir),
		zap.Int("concurrency", cfg.Jobs.Concurrency),
	)

	var err error
	app.telemetry, err = telemetry.Init(ctx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		ProjectID:   cfg.Telemetry.ProjectID,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry init failed: %w", err)
	}

	files, err := local.New(local.Config{
		BaseDir:   cfg.Capture.OutputDir,
		PublicURL: cfg.Server.PublicURL,
	})
	if err != nil {
		return nil, fmt.Errorf("output root init failed: %w", err)
	}

	if err := app.setupMirror(ctx); err != nil {
		return nil, app.abort(ctx, err)
	}
	if err := app.setupDatabase(ctx); err != nil {
		return nil, app.abort(ctx, err)
	}
	if err := app.setupPublisher(ctx); err != nil {
		return nil, app.abort(ctx, err)
	}
	if err := app.setupProgress(ctx); err != nil {
		return nil, app.abort(ctx, err)
	}

	app.queue = queueMemory.NewQueue(cfg.Jobs.QueueDepth)
	app.dispatch = dispatcher.New(app.queue, nil)
	clock := system.New()
	svc := jobs.NewService(
		memoryStorage.NewJobStore(cfg.Jobs.TTL),
		app.dispatch,
		uuid.New(),
		clock,
		files,
		app.hub,
		jobs.Config{PollInterval: cfg.Jobs.PollInterval},
		logger.Named("jobs"),
	)
	app.jobs = svc

	deps := worker.Deps{
		Recorder:  svc,
		Files:     files,
		Clock:     clock,
		NewRunner: worker.NewRunnerFactory(RunnerConfig(cfg)),
	}
	if app.mirror != nil {
		deps.Mirror = app.mirror
	}
	app.dispatch.AddWorkers(cfg.Jobs.Concurrency, deps, worker.Config{Debug: cfg.Logging.Debug}, logger.Named("worker"))

	apiCfg := api.Config{RequestTimeout: cfg.Server.RequestTimeout}
	if cfg.Auth.Enabled {
		apiCfg.APIKey = cfg.Auth.APIKey
	}
	if app.runStore != nil {
		apiCfg.Ready = app.runStore.Ping
	}
	app.apiServer = api.NewServer(svc, files, apiCfg, logger.Named("api"))
	return app, nil
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run serves HTTP and drains the job queue until ctx ends or the listener
// fails, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", a.cfg.Server.Port))
	if err != nil {
		a.Close(context.Background())
		return fmt.Errorf("listen: %w", err)
	}
	return a.serve(ctx, ln)
}

// serve runs the service on ln. Request contexts derive from the run
// context, so open event streams end as soon as shutdown begins. Jobs still
// waiting in the queue are closed with a JOB_ERROR event.
func (a *App) serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)
	srv := &http.Server{
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return gctx },
	}

	g.Go(func() error {
		a.logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		a.logger.Info("dispatcher started", zap.Int("workers", a.dispatch.Size()))
		a.dispatch.Run(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown initiated")
		a.queue.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})
	runErr := g.Wait()
	a.abandonQueued()

	closeCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	a.Close(closeCtx)
	return runErr
}

// Close flushes progress sinks and releases every backend. It is safe to
// call on a partially built App.
func (a *App) Close(ctx context.Context) {
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.mirror != nil {
		if err := a.mirror.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.runStore != nil {
		a.runStore.Close()
	}
	if err := a.telemetry.Shutdown(ctx); err != nil {
		a.logger.Warn("telemetry shutdown failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
}

// abandonQueued closes every job that never reached a worker.
func (a *App) abandonQueued() {
	if a.queue == nil || a.jobs == nil {
		return
	}
	for _, item := range a.queue.Drain() {
		err := a.jobs.Record(item.JobID, progress.Event{
			Stage:   progress.StageJobError,
			Status:  progress.StatusComplete,
			Message: "capture not started",
			Error:   "service shutting down",
		})
		if err != nil {
			a.logger.Warn("close queued job failed", zap.String("job_id", item.JobID), zap.Error(err))
		}
	}
}

func (a *App) abort(ctx context.Context, err error) error {
	a.Close(ctx)
	return err
}

func (a *App) setupMirror(ctx context.Context) error {
	if a.cfg.Storage.GCSBucket == "" {
		a.logger.Info("no gcs bucket configured, artifacts stay local")
		return nil
	}
	mirror, err := gcsstorage.NewClient(ctx, gcsstorage.Config{
		Bucket: a.cfg.Storage.GCSBucket,
		Prefix: a.cfg.Storage.Prefix,
	})
	if err != nil {
		return fmt.Errorf("gcs mirror init failed: %w", err)
	}
	a.mirror = mirror
	a.logger.Info("mirroring artifacts to gcs",
		zap.String("bucket", a.cfg.Storage.GCSBucket),
		zap.String("prefix", a.cfg.Storage.Prefix),
	)
	return nil
}

func (a *App) setupDatabase(ctx context.Context) error {
	if a.cfg.DB.DSN == "" {
		a.logger.Info("no database dsn configured, skipping run store")
		return nil
	}
	runStore, err := pgstore.NewRunStore(ctx, pgstore.RunStoreConfig{
		DSN:      a.cfg.DB.DSN,
		MaxConns: a.cfg.DB.MaxConns,
	})
	if err != nil {
		return fmt.Errorf("run store init failed: %w", err)
	}
	a.runStore = runStore
	if err := runStore.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("run store schema: %w", err)
	}
	a.logger.Info("run store initialized")
	return nil
}

func (a *App) setupPublisher(ctx context.Context) error {
	if a.cfg.PubSub.TopicName == "" || a.cfg.PubSub.ProjectID == "" {
		a.logger.Info("no pubsub topic configured, completion notifications disabled")
		return nil
	}
	pub, err := gcppublisher.New(ctx, gcppublisher.Config{
		ProjectID: a.cfg.PubSub.ProjectID,
		TopicName: a.cfg.PubSub.TopicName,
	})
	if err != nil {
		return fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.publisher = pub
	a.logger.Info("pubsub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return nil
}

func (a *App) setupProgress(ctx context.Context) error {
	promSink, err := progresssinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("prometheus sink init failed: %w", err)
	}
	sinkList := []progress.Sink{
		progresssinks.NewLogSink(a.logger.Named("progress_log")),
		promSink,
	}
	if a.runStore != nil {
		sinkList = append(sinkList, progresssinks.NewStoreSink(a.runStore, a.logger.Named("progress_store")))
	}
	if a.publisher != nil {
		sinkList = append(sinkList, progresssinks.NewNotifySink(a.publisher, a.cfg.PubSub.TopicName, a.logger.Named("progress_notify")))
	}
	a.hub = progress.NewHub(progress.Config{
		BaseContext: context.WithoutCancel(ctx),
		Logger:      a.logger.Named("progress_hub"),
	}, sinkList...)
	a.logger.Info("progress hub initialized", zap.Int("sinks", len(sinkList)))
	return nil
}
