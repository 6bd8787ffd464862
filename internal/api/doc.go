// Package api hosts the HTTP server for the capture service. Routes:
//   - POST /v1/captures submits a capture job and answers 202 with its id.
//   - GET /v1/captures/{job_id}/events streams the job's progress as
//     Server-Sent Events until the terminal event.
//   - GET /files/* serves captured artifacts from the output root.
//   - GET /healthz and /readyz for health checks, GET /metrics for Prometheus.
package api
