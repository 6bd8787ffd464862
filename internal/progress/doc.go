// Package progress provides the event primitives and the non-blocking hub the
// job service uses to report capture progress. The hub batches events on a
// background goroutine and fans them out to pluggable sinks such as logs,
// Prometheus, the Postgres run store or Pub/Sub notifications.
package progress
