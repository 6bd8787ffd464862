package crawler

import (
	"context"
	"io"
	"time"
)

// Session is a live connection to one browser instance. A Session is owned
// by exactly one crawl and is never shared between goroutines.
type Session interface {
	// Navigate loads url in the session's page.
	Navigate(ctx context.Context, url string) error
	// WaitReady blocks until an element matching selector is present.
	WaitReady(ctx context.Context, selector string) error
	// Eval runs a JavaScript expression and decodes its JSON result into
	// out. A nil out discards the result.
	Eval(ctx context.Context, expr string, out any) error
	// Screenshot captures the current viewport.
	Screenshot(ctx context.Context, format Format) ([]byte, error)
	// Anchors enumerates the anchor elements within loc.
	Anchors(ctx context.Context, loc Locator) ([]Anchor, error)
	// Quit tears down the browser. It is safe to call more than once.
	Quit() error
}

// URLBlocker is implemented by sessions that can refuse network requests
// matching glob patterns.
type URLBlocker interface {
	BlockURLs(ctx context.Context, patterns []string) error
}

// Anchor is the raw href attribute of one anchor element.
type Anchor struct {
	Href    string `json:"href"`
	HasHref bool   `json:"has_href"`
}

// SessionFactory launches browser sessions.
type SessionFactory interface {
	Open(ctx context.Context) (Session, error)
}

// SessionFactoryFunc adapts a function to SessionFactory.
type SessionFactoryFunc func(ctx context.Context) (Session, error)

// Open implements SessionFactory.
func (f SessionFactoryFunc) Open(ctx context.Context) (Session, error) { return f(ctx) }

// Hook runs around each navigation. Hook errors are per-page failures: they
// are logged and never abort the crawl.
type Hook interface {
	BeforeNavigate(ctx context.Context, s Session, url string) error
	AfterReady(ctx context.Context, s Session, url string) error
}

// Assembler merges slice images into one document.
type Assembler interface {
	Assemble(ctx context.Context, paths []string, format Format, outPath string) (string, error)
}

// BlobStore writes artifacts to secondary storage and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Queue provides enqueue/dequeue semantics for capture jobs.
type Queue interface {
	Enqueue(ctx context.Context, job QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Hasher computes digests used to shorten file names.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID     string
	Request   Request
	Submitted int64
}
