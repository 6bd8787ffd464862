package memory

import (
	"errors"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/JakeFAU/screencrawl/internal/progress"
)

// Job store errors.
var (
	ErrJobExists   = errors.New("job already exists")
	ErrJobNotFound = errors.New("job not found")
	ErrJobComplete = errors.New("job already complete")
)

const defaultJobTTL = time.Hour

// JobStore keeps each job's append-only event log. Running jobs never
// expire; a job becomes evictable ttl after its terminal event.
type JobStore struct {
	jobs *cache.Cache
	ttl  time.Duration
}

type jobRecord struct {
	mu     sync.RWMutex
	status progress.Status
	events []progress.Event
}

// NewJobStore constructs a JobStore whose completed jobs expire after ttl.
func NewJobStore(ttl time.Duration) *JobStore {
	if ttl <= 0 {
		ttl = defaultJobTTL
	}
	cleanup := ttl / 2
	if cleanup < time.Second {
		cleanup = time.Second
	}
	return &JobStore{
		jobs: cache.New(cache.NoExpiration, cleanup),
		ttl:  ttl,
	}
}

// Create registers jobID with its first event.
func (s *JobStore) Create(jobID string, first progress.Event) (progress.Event, error) {
	rec := &jobRecord{status: progress.StatusProcessing}
	if err := s.jobs.Add(jobID, rec, cache.NoExpiration); err != nil {
		return progress.Event{}, ErrJobExists
	}
	return s.Append(jobID, first)
}

// Append assigns the next sequence number to evt and records it. A terminal
// event completes the job and starts its expiry clock.
func (s *JobStore) Append(jobID string, evt progress.Event) (progress.Event, error) {
	rec, ok := s.record(jobID)
	if !ok {
		return progress.Event{}, ErrJobNotFound
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.status == progress.StatusComplete {
		return progress.Event{}, ErrJobComplete
	}
	evt.JobID = jobID
	evt.Seq = len(rec.events) + 1
	rec.events = append(rec.events, evt)
	if evt.Status == progress.StatusComplete {
		rec.status = progress.StatusComplete
		s.jobs.Set(jobID, rec, s.ttl)
	}
	return evt, nil
}

// Events returns the events after the first skip entries and the job status.
func (s *JobStore) Events(jobID string, skip int) ([]progress.Event, progress.Status, error) {
	rec, ok := s.record(jobID)
	if !ok {
		return nil, "", ErrJobNotFound
	}
	rec.mu.RLock()
	defer rec.mu.RUnlock()
	if skip < 0 {
		skip = 0
	}
	if skip >= len(rec.events) {
		return nil, rec.status, nil
	}
	return append([]progress.Event(nil), rec.events[skip:]...), rec.status, nil
}

// Status reports the job's status.
func (s *JobStore) Status(jobID string) (progress.Status, error) {
	rec, ok := s.record(jobID)
	if !ok {
		return "", ErrJobNotFound
	}
	rec.mu.RLock()
	defer rec.mu.RUnlock()
	return rec.status, nil
}

// Len reports the number of retained jobs.
func (s *JobStore) Len() int {
	return s.jobs.ItemCount()
}

func (s *JobStore) record(jobID string) (*jobRecord, bool) {
	v, ok := s.jobs.Get(jobID)
	if !ok {
		return nil, false
	}
	rec, ok := v.(*jobRecord)
	return rec, ok
}
