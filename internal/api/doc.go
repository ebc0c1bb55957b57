// Package api exposes the HTTP surface of the daemon: quota checks, run
// creation and inspection, credits operations, health, and Prometheus
// metrics. All business rules live in the billing, catalog, and store
// packages; handlers translate HTTP to those calls.
package api
