package browser

import (
	"errors"
	"os"
	"sync"

	"github.com/go-rod/rod/lib/launcher"
)

// ErrBrowserNotFound is returned when no Chrome or Chromium binary exists.
var ErrBrowserNotFound = errors.New("could not find Chrome executable")

var execPathOnce = sync.OnceValues(func() (string, error) {
	return findExecutable(os.Getenv, fileExists, launcher.LookPath)
})

// ExecPath locates the browser executable for either driver: CHROME_PATH
// when it names a file, otherwise rod's search of the platform's install
// locations and PATH. The lookup runs once per process; later calls return
// the cached result.
func ExecPath() (string, error) {
	return execPathOnce()
}

func findExecutable(
	getenv func(string) string,
	exists func(string) bool,
	lookPath func() (string, bool),
) (string, error) {
	if envPath := getenv("CHROME_PATH"); envPath != "" && exists(envPath) {
		return envPath, nil
	}
	if path, ok := lookPath(); ok {
		return path, nil
	}
	return "", ErrBrowserNotFound
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
