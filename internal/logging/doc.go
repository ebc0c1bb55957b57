// Package logging builds slog loggers with the output formats used across
// the daemon, CLI, and pipeline, plus helpers for context-derived fields.
package logging
