// Package daemon coordinates the long-running services behind stitchsentryd:
// the SQLite store, the pipeline manager, the HTTP API server, and the
// progress event publisher. A lock file enforces single-instance execution.
package daemon
