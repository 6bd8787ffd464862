package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/screencrawl/internal/assemble"
	"github.com/JakeFAU/screencrawl/internal/crawler"
	"github.com/JakeFAU/screencrawl/internal/progress"
	"github.com/JakeFAU/screencrawl/internal/queue/memory"
	"github.com/JakeFAU/screencrawl/internal/storage/local"
	blobmem "github.com/JakeFAU/screencrawl/internal/storage/memory"
)

func TestWorkerImageJobPublishesEachSlice(t *testing.T) {
	t.Parallel()

	env := newEnv(t, map[string]stubPage{
		"https://a.test/":  {height: 1500, links: []string{"/b"}},
		"https://a.test/b": {height: 800},
	})
	env.worker.Process(context.Background(), env.item("job-1", crawler.FormatPNG))

	events := env.rec.Events()
	require.Len(t, events, 4)
	for _, evt := range events[:3] {
		require.Equal(t, progress.StageArtifact, evt.Stage)
		require.Equal(t, progress.StatusProcessing, evt.Status)
		require.True(t, strings.HasPrefix(evt.ArtifactURL, "http://shots.test/files/job-1/"), evt.ArtifactURL)
	}
	require.Equal(t, "https://a.test/", events[0].URL)
	require.Equal(t, []int{1, 2, 1}, []int{events[0].Sequence, events[1].Sequence, events[2].Sequence})
	require.Equal(t, "https://a.test/b", events[2].URL)

	done := events[3]
	require.Equal(t, progress.StageJobDone, done.Stage)
	require.Equal(t, progress.StatusComplete, done.Status)
	require.Equal(t, 2, done.Pages)
	require.Equal(t, 3, done.Artifacts)
	require.Empty(t, done.ArtifactURL)
	require.Equal(t, 3, env.mirror.Len())
}

func TestWorkerPDFJobLinksSlicesAndMirrorsOnlyTheDocument(t *testing.T) {
	t.Parallel()

	env := newEnv(t, map[string]stubPage{
		"https://a.test/": {height: 2500},
	})
	const prefix = "http://shots.test/files/"
	var fetchable []bool
	env.rec.onRecord = func(evt progress.Event) {
		if evt.Stage != progress.StageArtifact {
			return
		}
		path, err := env.files.Resolve(strings.TrimPrefix(evt.ArtifactURL, prefix))
		_, statErr := os.Stat(path)
		fetchable = append(fetchable, err == nil && statErr == nil)
	}
	item := env.item("job-pdf", crawler.FormatPDF)
	item.Request.SinglePage = true
	env.worker.Process(context.Background(), item)

	events := env.rec.Events()
	require.Len(t, events, 4)
	for i, evt := range events[:3] {
		require.Equal(t, progress.StageArtifact, evt.Stage)
		require.True(t, strings.HasPrefix(evt.ArtifactURL, prefix+"job-pdf/.slices-"), evt.ArtifactURL)
		require.True(t, strings.HasSuffix(evt.ArtifactURL, fmt.Sprintf("_part_%d.png", i+1)), evt.ArtifactURL)
	}
	require.Equal(t, []bool{true, true, true}, fetchable)
	done := events[3]
	require.Equal(t, progress.StageJobDone, done.Stage)
	require.Equal(t, "http://shots.test/files/job-pdf/https___a.test_.pdf", done.ArtifactURL)
	require.Equal(t, 1, env.mirror.Len())

	doc, ok := env.mirror.Object("job-pdf/https___a.test_.pdf")
	require.True(t, ok)
	require.True(t, bytes.HasPrefix(doc, []byte("%PDF")))

	pages, err := assemble.PageCount(env.root + "/job-pdf/https___a.test_.pdf")
	require.NoError(t, err)
	require.Equal(t, 3, pages)
}

func TestWorkerRecordsSessionFailure(t *testing.T) {
	t.Parallel()

	env := newEnv(t, nil)
	env.sessions = crawler.SessionFactoryFunc(func(context.Context) (crawler.Session, error) {
		return nil, errors.New("chrome not found")
	})
	env.worker = env.build()
	env.worker.Process(context.Background(), env.item("job-err", crawler.FormatPNG))

	events := env.rec.Events()
	require.Len(t, events, 1)
	require.Equal(t, progress.StageJobError, events[0].Stage)
	require.Equal(t, progress.StatusComplete, events[0].Status)
	require.Contains(t, events[0].Error, "chrome not found")
}

func TestWorkerRecordsFactoryFailure(t *testing.T) {
	t.Parallel()

	rec := &fakeRecorder{}
	w := New(Deps{
		Recorder: rec,
		NewRunner: func(crawler.Request, *zap.Logger) (*crawler.Runner, error) {
			return nil, errors.New(`unknown browser driver "lynx"`)
		},
	}, Config{}, nil)
	w.Process(context.Background(), crawler.QueueItem{JobID: "j", Request: crawler.Request{Seeds: []string{"https://a.test"}}})

	events := rec.Events()
	require.Len(t, events, 1)
	require.Equal(t, progress.StageJobError, events[0].Stage)
	require.Contains(t, events[0].Error, "lynx")
}

func TestWorkerRunConsumesQueue(t *testing.T) {
	t.Parallel()

	env := newEnv(t, map[string]stubPage{"https://a.test/": {height: 500}})
	q := memory.NewQueue(2)
	env.worker.deps.Queue = q
	require.NoError(t, q.Enqueue(context.Background(), env.item("job-q", crawler.FormatJPEG)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		env.worker.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		events := env.rec.Events()
		return len(events) > 0 && events[len(events)-1].Status == progress.StatusComplete
	}, 5*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
	events := env.rec.Events()
	require.Equal(t, "jpeg", events[0].Format)
	require.True(t, strings.HasSuffix(events[0].ArtifactURL, ".jpg"))
}

type env struct {
	root     string
	files    *local.FileStore
	rec      *fakeRecorder
	mirror   *blobmem.BlobStore
	sessions crawler.SessionFactory
	worker   *Worker
}

func newEnv(t *testing.T, pages map[string]stubPage) *env {
	t.Helper()
	root := t.TempDir()
	files, err := local.New(local.Config{BaseDir: root, PublicURL: "http://shots.test"})
	require.NoError(t, err)
	e := &env{
		root:   files.Root(),
		files:  files,
		rec:    &fakeRecorder{},
		mirror: blobmem.NewBlobStore(),
	}
	e.sessions = crawler.SessionFactoryFunc(func(context.Context) (crawler.Session, error) {
		return &stubSession{pages: pages}, nil
	})
	e.worker = e.build()
	return e
}

func (e *env) build() *Worker {
	return New(Deps{
		Recorder: e.rec,
		Files:    e.files,
		Mirror:   e.mirror,
		NewRunner: NewRunnerFactory(RunnerConfig{
			Sessions:     e.sessions,
			ReadyTimeout: time.Second,
		}),
	}, Config{}, zap.NewNop())
}

func (e *env) item(jobID string, format crawler.Format) crawler.QueueItem {
	return crawler.QueueItem{
		JobID: jobID,
		Request: crawler.Request{
			Seeds:     []string{"https://a.test/"},
			OutputDir: e.root + "/" + jobID,
			Format:    format,
		},
	}
}

type fakeRecorder struct {
	mu     sync.Mutex
	events []progress.Event
	// onRecord, when set, sees each event as it is recorded.
	onRecord func(progress.Event)
}

func (r *fakeRecorder) Record(jobID string, evt progress.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.onRecord != nil {
		r.onRecord(evt)
	}
	evt.JobID = jobID
	evt.Seq = len(r.events) + 1
	r.events = append(r.events, evt)
	return nil
}

func (r *fakeRecorder) Events() []progress.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]progress.Event(nil), r.events...)
}

type stubPage struct {
	height int
	links  []string
}

// stubSession renders every page as a 1000px viewport over the page height
// and returns real PNG bytes so document assembly can decode them.
type stubSession struct {
	pages   map[string]stubPage
	current string
}

func (s *stubSession) Navigate(_ context.Context, url string) error {
	if _, ok := s.pages[url]; !ok {
		return errors.New("net::ERR_NAME_NOT_RESOLVED")
	}
	s.current = url
	return nil
}

func (s *stubSession) WaitReady(context.Context, string) error { return nil }

func (s *stubSession) Eval(_ context.Context, expr string, out any) error {
	switch {
	case strings.Contains(expr, "innerHeight"):
		*out.(*float64) = 1000
	case strings.Contains(expr, "scrollHeight"):
		*out.(*float64) = float64(s.pages[s.current].height)
	case strings.Contains(expr, "baseURI"):
		*out.(*string) = s.current
	}
	return nil
}

func (s *stubSession) Screenshot(context.Context, crawler.Format) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, 8, 6))
	for x := 0; x < 8; x++ {
		img.Set(x, 0, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *stubSession) Anchors(_ context.Context, loc crawler.Locator) ([]crawler.Anchor, error) {
	if loc != crawler.WholePage {
		return nil, nil
	}
	var out []crawler.Anchor
	for _, l := range s.pages[s.current].links {
		out = append(out, crawler.Anchor{Href: l, HasHref: true})
	}
	return out, nil
}

func (s *stubSession) Quit() error { return nil }
