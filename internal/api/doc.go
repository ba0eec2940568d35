// Package api hosts the operator HTTP server. Routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET and DELETE /v1/queue to inspect or clear the work queue.
//   - POST /v1/sessions to seed a crawl session.
package api
