package sinks

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/screencrawl/internal/progress"
)

// Publisher sends a payload to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Notification is published once per finished job.
type Notification struct {
	JobID       string    `json:"job_id"`
	Result      string    `json:"result"`
	Pages       int       `json:"pages"`
	Artifacts   int       `json:"artifacts"`
	DocumentURL string    `json:"document_url,omitempty"`
	Error       string    `json:"error,omitempty"`
	FinishedAt  time.Time `json:"finished_at"`
}

// NotifySink publishes a Notification for every terminal event.
type NotifySink struct {
	pub    Publisher
	topic  string
	logger *zap.Logger
}

// NewNotifySink returns a sink publishing to topic through pub.
func NewNotifySink(pub Publisher, topic string, logger *zap.Logger) *NotifySink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotifySink{pub: pub, topic: topic, logger: logger}
}

// Consume publishes completions found in batch.
func (s *NotifySink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.pub == nil {
		return nil
	}
	for _, evt := range batch {
		var result string
		switch evt.Stage {
		case progress.StageJobDone:
			result = "success"
		case progress.StageJobError:
			result = "error"
		default:
			continue
		}
		id, err := s.pub.Publish(ctx, s.topic, Notification{
			JobID:       evt.JobID,
			Result:      result,
			Pages:       evt.Pages,
			Artifacts:   evt.Artifacts,
			DocumentURL: evt.ArtifactURL,
			Error:       evt.Error,
			FinishedAt:  evt.TS,
		})
		if err != nil {
			return fmt.Errorf("publish completion for job %s: %w", evt.JobID, err)
		}
		s.logger.Debug("published job completion", zap.String("job_id", evt.JobID), zap.String("message_id", id))
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *NotifySink) Close(context.Context) error {
	return nil
}
