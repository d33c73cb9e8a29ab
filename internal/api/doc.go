// Package api hosts the operator HTTP server. Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/status for the last cycle report of every account.
//   - GET /v1/accounts/{account} for the identifiers an account has recorded.
//   - POST /v1/cycles to request an immediate collection cycle.
package api
