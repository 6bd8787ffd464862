// Package crawler implements the capture engine: the breadth-first
// scheduler, the scrolling page capturer, link extraction and the run
// orchestration shared by the CLI and the job service. Browser drivers live
// in internal/browser behind the Session interface.
package crawler
