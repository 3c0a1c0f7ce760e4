// Package api hosts the HTTP server for browser front-ends and operators.
// Routes:
//   - GET /api/listes runs a fresh scrape and returns the written document.
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
package api
