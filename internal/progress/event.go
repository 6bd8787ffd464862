// Package progress defines the events emitted while a capture job runs.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageJobStart Stage = "JOB_START"
	StageArtifact Stage = "ARTIFACT"
	StageJobDone  Stage = "JOB_DONE"
	StageJobError Stage = "JOB_ERROR"
	// StageNotFound is synthesized for subscriptions to unknown jobs and is
	// never recorded.
	StageNotFound Stage = "NOT_FOUND"
)

// Status is the job status reported to subscribers.
type Status string

// Job statuses.
const (
	StatusProcessing Status = "processing"
	StatusComplete   Status = "complete"
	StatusNotFound   Status = "not_found"
)

// Event is one entry of a job's append-only progress log.
type Event struct {
	JobID   string    `json:"job_id"`
	Seq     int       `json:"seq"`
	TS      time.Time `json:"ts"`
	Stage   Stage     `json:"stage"`
	Status  Status    `json:"status"`
	Message string    `json:"message"`
	// URL is the page an artifact was captured from.
	URL string `json:"url,omitempty"`
	// ArtifactURL is where the produced file can be fetched.
	ArtifactURL string `json:"artifact_url,omitempty"`
	// Sequence is the slice number within its page.
	Sequence int    `json:"sequence,omitempty"`
	Format   string `json:"format,omitempty"`
	Error    string `json:"error,omitempty"`
	// Pages and Artifacts summarize the run on terminal events.
	Pages     int           `json:"pages,omitempty"`
	Artifacts int           `json:"artifacts,omitempty"`
	Dur       time.Duration `json:"-"`
}

// Terminal reports whether e closes its job's stream.
func (e Event) Terminal() bool {
	return e.Status == StatusComplete || e.Status == StatusNotFound
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageJobStart:
		if e.Status != StatusProcessing {
			return errors.New("job start must be processing")
		}
	case StageArtifact:
		if e.Status != StatusProcessing {
			return errors.New("artifact events must be processing")
		}
		if e.URL == "" {
			return errors.New("artifact event requires source url")
		}
	case StageJobDone, StageJobError:
		if e.Status != StatusComplete {
			return errors.New("terminal events must be complete")
		}
	case StageNotFound:
		if e.Status != StatusNotFound {
			return errors.New("not found events must be not_found")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// JobUUID parses the job ID for repositories keyed by UUID.
func (e Event) JobUUID() (uuid.UUID, error) {
	id, err := uuid.Parse(e.JobID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse job id %q: %w", e.JobID, err)
	}
	return id, nil
}

// NotFound builds the single event streamed for an unknown job.
func NotFound(jobID string, now time.Time) Event {
	return Event{
		JobID:   jobID,
		TS:      now,
		Stage:   StageNotFound,
		Status:  StatusNotFound,
		Message: "job not found",
	}
}
