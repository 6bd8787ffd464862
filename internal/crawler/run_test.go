package crawler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingAssembler struct {
	paths  []string
	format Format
	out    string
	err    error
}

func (r *recordingAssembler) Assemble(_ context.Context, paths []string, format Format, outPath string) (string, error) {
	r.paths = append([]string(nil), paths...)
	r.format = format
	r.out = outPath
	if r.err != nil {
		return "", r.err
	}
	return outPath, os.WriteFile(outPath, []byte("%PDF"), 0o600)
}

func TestRunWritesImagesToOutputDir(t *testing.T) {
	dir := t.TempDir()
	s := newFakeSession(map[string]*fakePage{
		"https://a.test/": {height: 2500, anchors: map[Locator][]Anchor{WholePage: {{Href: "/b", HasHref: true}}}},
		"https://a.test/b": linksPage(),
	})
	r := &Runner{Scheduler: NewScheduler(s.factory(), nil, nil, nil)}

	var seen []string
	res, err := r.Run(context.Background(), Request{
		Seeds:     []string{"https://a.test/"},
		OutputDir: dir,
		Format:    "jpg",
	}, func(g Group) error {
		seen = append(seen, g.URL)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"https://a.test/", "https://a.test/b"}, seen)
	require.Equal(t, 2, res.Pages)
	require.Len(t, res.Artifacts, 4)
	require.Empty(t, res.Document)
	for _, a := range res.Artifacts {
		require.Equal(t, dir, filepath.Dir(a.Path))
		require.Equal(t, FormatJPEG, a.Format)
	}
}

func TestRunAssemblesDocuments(t *testing.T) {
	dir := t.TempDir()
	s := newFakeSession(map[string]*fakePage{"https://a.test/": {height: 1500}})
	asm := &recordingAssembler{}
	r := &Runner{Scheduler: NewScheduler(s.factory(), nil, nil, nil), Assembler: asm}

	res, err := r.Run(context.Background(), Request{
		Seeds:      []string{"https://a.test/"},
		OutputDir:  dir,
		Format:     FormatPDF,
		SinglePage: true,
	}, nil)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "https___a.test_.pdf"), res.Document)
	require.Equal(t, FormatPDF, asm.format)
	require.Len(t, asm.paths, 2)
	for _, p := range asm.paths {
		require.NotEqual(t, dir, filepath.Dir(p), "slices belong in a temporary sub-directory")
		require.Equal(t, dir, filepath.Dir(filepath.Dir(p)))
		require.Equal(t, ".png", filepath.Ext(p))
	}
}

func TestRunRejectsInvalidRequestBeforeLaunch(t *testing.T) {
	opened := false
	r := &Runner{Scheduler: NewScheduler(SessionFactoryFunc(func(context.Context) (Session, error) {
		opened = true
		return nil, errors.New("unexpected")
	}), nil, nil, nil)}

	_, err := r.Run(context.Background(), Request{Seeds: []string{"https://a.test/"}, Format: "gif"}, nil)
	require.ErrorIs(t, err, ErrUnsupportedFormat)
	require.False(t, opened)
}

func TestRunStopsWhenCallbackFails(t *testing.T) {
	s := newFakeSession(map[string]*fakePage{
		"https://a.test/": linksPage("/b"),
		"https://a.test/b": linksPage(),
	})
	r := &Runner{Scheduler: NewScheduler(s.factory(), nil, nil, nil)}
	stop := errors.New("subscriber gone")

	res, err := r.Run(context.Background(), Request{Seeds: []string{"https://a.test/"}, OutputDir: t.TempDir()}, func(Group) error {
		return stop
	})
	require.ErrorIs(t, err, stop)
	require.Equal(t, 1, res.Pages)
	require.Equal(t, 1, s.quits)
}

func TestRunReportsAssemblyFailure(t *testing.T) {
	s := newFakeSession(map[string]*fakePage{"https://a.test/": {height: 10}})
	asm := &recordingAssembler{err: errors.New("disk full")}
	r := &Runner{Scheduler: NewScheduler(s.factory(), nil, nil, nil), Assembler: asm}

	_, err := r.Run(context.Background(), Request{
		Seeds:     []string{"https://a.test/"},
		OutputDir: t.TempDir(),
		Format:    FormatDOCX,
	}, nil)
	require.ErrorContains(t, err, "disk full")
	require.Len(t, asm.paths, 1)
	require.FileExists(t, asm.paths[0])
}
