// Package api hosts the HTTP server, middleware, and REST handlers. Notable routes:
//   - POST / and POST /v1/crawl/profiles crawl Facebook profiles.
//   - POST /v1/crawl/posts crawls Facebook posts.
//   - GET /v1/runs/{run_id} returns a stored crawl run.
//   - GET /healthz and /readyz for probes, GET /metrics for Prometheus scraping.
package api
