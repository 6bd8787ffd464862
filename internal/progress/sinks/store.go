package sinks

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/screencrawl/internal/progress"
	"github.com/JakeFAU/screencrawl/internal/store"
)

// StoreSink persists the run audit trail via a store.RunRepository. Artifact
// rows are written in one call per contiguous run of artifact events.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume applies batch to the repository in order and returns the first
// repository error.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	var pending []store.ArtifactRecord
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		err := s.repo.RecordArtifacts(ctx, pending)
		pending = pending[:0]
		if err != nil {
			return fmt.Errorf("record artifacts: %w", err)
		}
		return nil
	}

	for _, evt := range batch {
		if evt.Stage == progress.StageNotFound {
			continue
		}
		jobID, err := evt.JobUUID()
		if err != nil {
			s.logger.Debug("skipping event with non-uuid job id", zap.String("job_id", evt.JobID))
			continue
		}
		if evt.Stage == progress.StageArtifact {
			// Document slices are deleted after assembly and carry no URL.
			if evt.ArtifactURL != "" {
				pending = append(pending, store.ArtifactRecord{
					JobID:       jobID,
					SourceURL:   evt.URL,
					Sequence:    evt.Sequence,
					Format:      evt.Format,
					ArtifactURL: evt.ArtifactURL,
					CreatedAt:   evt.TS,
				})
			}
			continue
		}
		if err := flush(); err != nil {
			return err
		}
		if err := s.apply(ctx, jobID, evt); err != nil {
			return err
		}
	}
	return flush()
}

func (s *StoreSink) apply(ctx context.Context, jobID uuid.UUID, evt progress.Event) error {
	switch evt.Stage {
	case progress.StageJobStart:
		if err := s.repo.StartRun(ctx, jobID, evt.TS); err != nil {
			return fmt.Errorf("start run: %w", err)
		}
	case progress.StageJobDone, progress.StageJobError:
		done := store.RunCompletion{
			FinishedAt: evt.TS,
			Status:     store.RunSuccess,
			Pages:      evt.Pages,
			Artifacts:  evt.Artifacts,
		}
		if evt.ArtifactURL != "" {
			doc := evt.ArtifactURL
			done.DocumentURL = &doc
		}
		if evt.Stage == progress.StageJobError {
			done.Status = store.RunError
			msg := evt.Error
			done.ErrorMessage = &msg
		}
		if err := s.repo.CompleteRun(ctx, jobID, done); err != nil {
			return fmt.Errorf("complete run: %w", err)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
