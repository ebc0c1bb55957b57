// Package events broadcasts QA run progress to interested clients. Events are
// published to NATS on a per-organization subject when a server is
// configured; otherwise they are written to the log so progress remains
// observable in development.
package events
