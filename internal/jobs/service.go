// Package jobs runs capture requests asynchronously and records each job's
// progress as an append-only event log that subscribers replay and follow.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/screencrawl/internal/crawler"
	"github.com/JakeFAU/screencrawl/internal/progress"
	"github.com/JakeFAU/screencrawl/internal/storage/memory"
)

// ErrInvalidRequest wraps every synchronous validation failure of Start.
var ErrInvalidRequest = errors.New("invalid capture request")

const defaultPollInterval = 500 * time.Millisecond

// Enqueuer hands accepted jobs to the worker pool.
type Enqueuer interface {
	Enqueue(ctx context.Context, item crawler.QueueItem) error
}

// DirResolver maps a request's output path to a directory it may write to.
type DirResolver interface {
	Dir(rel string) (string, error)
}

// Config tunes the Service.
type Config struct {
	PollInterval time.Duration
}

// Service accepts capture jobs and streams their progress.
type Service struct {
	log     *memory.JobStore
	queue   Enqueuer
	ids     crawler.IDGenerator
	clock   crawler.Clock
	dirs    DirResolver
	emitter progress.Emitter
	poll    time.Duration
	logger  *zap.Logger
}

// NewService wires a Service. emitter may be nil.
func NewService(
	log *memory.JobStore,
	queue Enqueuer,
	ids crawler.IDGenerator,
	clock crawler.Clock,
	dirs DirResolver,
	emitter progress.Emitter,
	cfg Config,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if emitter == nil {
		emitter = progress.EmitterFunc(func(progress.Event) {})
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	return &Service{
		log:     log,
		queue:   queue,
		ids:     ids,
		clock:   clock,
		dirs:    dirs,
		emitter: emitter,
		poll:    cfg.PollInterval,
		logger:  logger,
	}
}

// Start validates req, records the job with a single processing event and
// queues it. Validation failures wrap ErrInvalidRequest and create nothing.
// Once a job exists its id is always returned; a job that cannot be queued
// is closed with a JOB_ERROR event instead of failing the call.
func (s *Service) Start(ctx context.Context, req crawler.Request) (string, error) {
	if err := req.Validate(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	format, _ := crawler.ParseFormat(string(req.Format))
	req.Format = format

	jobID, err := s.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	rel := req.OutputDir
	if rel == "" {
		rel = jobID
	}
	dir, err := s.dirs.Dir(rel)
	if err != nil {
		return "", fmt.Errorf("%w: path: %w", ErrInvalidRequest, err)
	}
	req.OutputDir = dir

	first, err := s.log.Create(jobID, progress.Event{
		TS:      s.clock.Now(),
		Stage:   progress.StageJobStart,
		Status:  progress.StatusProcessing,
		Message: fmt.Sprintf("capture of %d url(s) started", len(req.Seeds)),
		Format:  string(format),
	})
	if err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	s.emitter.Emit(first)

	item := crawler.QueueItem{JobID: jobID, Request: req, Submitted: s.clock.Now().Unix()}
	if err := s.queue.Enqueue(ctx, item); err != nil {
		s.logger.Warn("capture job could not be queued", zap.String("job_id", jobID), zap.Error(err))
		_ = s.Record(jobID, progress.Event{
			TS:      s.clock.Now(),
			Stage:   progress.StageJobError,
			Status:  progress.StatusComplete,
			Message: "capture could not be queued",
			Error:   err.Error(),
		})
		return jobID, nil
	}
	s.logger.Info("capture job accepted", zap.String("job_id", jobID), zap.Strings("urls", req.Seeds))
	return jobID, nil
}

// Record appends evt to jobID's log and forwards the stored event to the
// emitter.
func (s *Service) Record(jobID string, evt progress.Event) error {
	if evt.TS.IsZero() {
		evt.TS = s.clock.Now()
	}
	stored, err := s.log.Append(jobID, evt)
	if err != nil {
		return fmt.Errorf("record %s event for job %s: %w", evt.Stage, jobID, err)
	}
	s.emitter.Emit(stored)
	return nil
}

// Status reports the job's status, or StatusNotFound for unknown jobs.
func (s *Service) Status(jobID string) progress.Status {
	status, err := s.log.Status(jobID)
	if err != nil {
		return progress.StatusNotFound
	}
	return status
}

// Subscribe streams jobID's events from the beginning until the terminal
// event, then closes the channel. Unknown jobs yield one not_found event.
// Every subscriber polls the same log, so all of them observe the same
// sequence. The channel also closes when ctx ends.
func (s *Service) Subscribe(ctx context.Context, jobID string) <-chan progress.Event {
	out := make(chan progress.Event)
	go func() {
		defer close(out)
		send := func(evt progress.Event) bool {
			select {
			case out <- evt:
				return true
			case <-ctx.Done():
				return false
			}
		}

		ticker := time.NewTicker(s.poll)
		defer ticker.Stop()
		seen := 0
		for {
			events, status, err := s.log.Events(jobID, seen)
			if err != nil {
				if seen == 0 {
					send(progress.NotFound(jobID, s.clock.Now()))
				}
				return
			}
			for _, evt := range events {
				if !send(evt) {
					return
				}
				seen++
			}
			if status == progress.StatusComplete {
				return
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
