// Package local exposes the capture output directory over HTTP: it maps
// written files to public URLs and resolves request paths back to files.
package local

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ErrOutsideRoot is returned for paths that escape the served directory.
var ErrOutsideRoot = errors.New("path escapes file root")

// Config captures the served directory and the externally visible base URL.
type Config struct {
	// BaseDir is the root directory artifacts are written under.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
	// PublicURL is the scheme://host[:port] clients reach the server at.
	PublicURL string `mapstructure:"public_url" yaml:"public_url"`
	// Route is the URL prefix files are served under (default "/files").
	Route string `mapstructure:"route" yaml:"route"`
}

// FileStore maps between files under BaseDir and their public URLs.
type FileStore struct {
	root      string
	publicURL string
	route     string
}

// New validates cfg, creating BaseDir when missing and checking it is writable.
func New(cfg Config) (*FileStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, errors.New("base directory is required")
	}
	root, err := filepath.Abs(cfg.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve base directory: %w", err)
	}

	info, err := os.Stat(root)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(root, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat base directory: %w", err)
	case !info.IsDir():
		return nil, errors.New("base directory path is not a directory")
	}

	marker := filepath.Join(root, ".writable_test")
	if err := os.WriteFile(marker, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(marker); err != nil {
		return nil, fmt.Errorf("clean up marker file: %w", err)
	}

	route := cfg.Route
	if route == "" {
		route = "/files"
	}
	return &FileStore{
		root:      root,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
		route:     "/" + strings.Trim(route, "/"),
	}, nil
}

// Root returns the absolute served directory.
func (s *FileStore) Root() string { return s.root }

// Dir returns the directory for a request-supplied output path, which must
// stay inside the root. An empty rel maps to the root itself.
func (s *FileStore) Dir(rel string) (string, error) {
	if rel == "" {
		return s.root, nil
	}
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, rel)
	}
	return s.within(filepath.Join(s.root, rel))
}

// Resolve maps a URL path below the route (e.g. "a/b.png") to a file path.
func (s *FileStore) Resolve(rel string) (string, error) {
	rel = strings.TrimPrefix(path.Clean("/"+rel), "/")
	if rel == "" {
		return "", fmt.Errorf("%w: empty path", ErrOutsideRoot)
	}
	return s.within(filepath.Join(s.root, filepath.FromSlash(rel)))
}

// URLFor returns the public URL for a file written under the root.
func (s *FileStore) URLFor(file string) (string, error) {
	abs, err := filepath.Abs(file)
	if err != nil {
		return "", fmt.Errorf("resolve artifact path: %w", err)
	}
	abs, err = s.within(abs)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(s.root, abs)
	if err != nil {
		return "", fmt.Errorf("relativize artifact path: %w", err)
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return s.publicURL + s.route + "/" + strings.Join(parts, "/"), nil
}

// ObjectKey returns the slash-separated path of file relative to the root.
func (s *FileStore) ObjectKey(file string) (string, error) {
	abs, err := filepath.Abs(file)
	if err != nil {
		return "", fmt.Errorf("resolve artifact path: %w", err)
	}
	if abs, err = s.within(abs); err != nil {
		return "", err
	}
	rel, err := filepath.Rel(s.root, abs)
	if err != nil {
		return "", fmt.Errorf("relativize artifact path: %w", err)
	}
	return filepath.ToSlash(rel), nil
}

func (s *FileStore) within(p string) (string, error) {
	clean := filepath.Clean(p)
	if clean != s.root && !strings.HasPrefix(clean, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, p)
	}
	return clean, nil
}
