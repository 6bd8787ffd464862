package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("capture run not found")

// RunStatus mirrors the capture_runs.status column.
type RunStatus string

// Capture run statuses.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// Run models one row of capture_runs.
type Run struct {
	JobID      uuid.UUID
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     RunStatus
	// Pages and Artifacts are filled in when the run finishes.
	Pages        int
	Artifacts    int
	DocumentURL  *string
	ErrorMessage *string
}

// ArtifactRecord is one produced file belonging to a run.
type ArtifactRecord struct {
	JobID       uuid.UUID
	SourceURL   string
	Sequence    int
	Format      string
	ArtifactURL string
	CreatedAt   time.Time
}

// RunCompletion carries the terminal state of a run.
type RunCompletion struct {
	FinishedAt   time.Time
	Status       RunStatus
	Pages        int
	Artifacts    int
	DocumentURL  *string
	ErrorMessage *string
}

// RunRepository persists an audit trail of capture runs.
type RunRepository interface {
	// StartRun inserts the run row; repeated calls for the same job are no-ops.
	StartRun(ctx context.Context, jobID uuid.UUID, startedAt time.Time) error
	// RecordArtifacts appends artifact rows.
	RecordArtifacts(ctx context.Context, records []ArtifactRecord) error
	// CompleteRun marks the run finished.
	CompleteRun(ctx context.Context, jobID uuid.UUID, done RunCompletion) error
	// GetRun loads a single run or returns ErrNotFound.
	GetRun(ctx context.Context, jobID uuid.UUID) (Run, error)
}
