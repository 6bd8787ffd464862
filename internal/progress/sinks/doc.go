// Package sinks implements concrete progress consumers: structured logging,
// Prometheus job metrics, the Postgres run store and Pub/Sub completion
// notifications. Each sink satisfies progress.Sink.
package sinks
