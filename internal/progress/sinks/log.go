package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/screencrawl/internal/progress"
)

// LogSink writes one structured log line per event.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("job_id", evt.JobID),
			zap.Int("seq", evt.Seq),
			zap.String("stage", string(evt.Stage)),
			zap.String("status", string(evt.Status)),
		}
		if evt.URL != "" {
			fields = append(fields, zap.String("url", evt.URL), zap.Int("sequence", evt.Sequence))
		}
		if evt.ArtifactURL != "" {
			fields = append(fields, zap.String("artifact_url", evt.ArtifactURL))
		}
		if evt.Stage == progress.StageJobDone || evt.Stage == progress.StageJobError {
			fields = append(fields,
				zap.Int("pages", evt.Pages),
				zap.Int("artifacts", evt.Artifacts),
				zap.Duration("dur", evt.Dur),
			)
		}
		if evt.Error != "" {
			s.logger.Warn(evt.Message, append(fields, zap.String("error", evt.Error))...)
			continue
		}
		s.logger.Info(evt.Message, fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
